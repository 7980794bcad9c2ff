package protocol

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/andybalholm/brotli"

	"danmakuoverlay/core/backend/danmaku"
)

// Live broadcast operations.
const (
	OpHeartbeat      uint32 = 2
	OpHeartbeatReply uint32 = 3
	OpMessage        uint32 = 5
	OpAuth           uint32 = 7
	OpAuthReply      uint32 = 8
)

const (
	packetHeaderLen    = 16
	maxInflatedPayload = 8 << 20
)

// Packet is one framed message of the live broadcast stream.
type Packet struct {
	Version   uint16
	Operation uint32
	Sequence  uint32
	Payload   []byte
}

func EncodePacket(operation uint32, version uint16, sequence uint32, payload []byte) []byte {
	packetSize := packetHeaderLen + len(payload)
	buf := make([]byte, packetSize)
	binary.BigEndian.PutUint32(buf[0:4], uint32(packetSize))
	binary.BigEndian.PutUint16(buf[4:6], packetHeaderLen)
	binary.BigEndian.PutUint16(buf[6:8], version)
	binary.BigEndian.PutUint32(buf[8:12], operation)
	binary.BigEndian.PutUint32(buf[12:16], sequence)
	copy(buf[16:], payload)
	return buf
}

// DecodePackets splits a websocket frame into packets, inflating version 2
// (zlib) and version 3 (brotli) bodies recursively. Packets decoded before a
// framing error are returned with the error.
func DecodePackets(frame []byte) ([]Packet, error) {
	offset := 0
	result := make([]Packet, 0, 16)
	for offset+packetHeaderLen <= len(frame) {
		packetLen := int(binary.BigEndian.Uint32(frame[offset : offset+4]))
		if packetLen < packetHeaderLen || offset+packetLen > len(frame) {
			return result, errors.New("invalid packet length")
		}
		headerLen := int(binary.BigEndian.Uint16(frame[offset+4 : offset+6]))
		if headerLen < packetHeaderLen || headerLen > packetLen {
			return result, errors.New("invalid packet header length")
		}
		version := binary.BigEndian.Uint16(frame[offset+6 : offset+8])
		operation := binary.BigEndian.Uint32(frame[offset+8 : offset+12])
		sequence := binary.BigEndian.Uint32(frame[offset+12 : offset+16])
		payload := frame[offset+headerLen : offset+packetLen]
		switch version {
		case 2:
			if decoded, err := inflateZlib(payload); err == nil && len(decoded) > 0 {
				if nested, nestedErr := DecodePackets(decoded); len(nested) > 0 || nestedErr == nil {
					result = append(result, nested...)
				}
			}
		case 3:
			if decoded, err := inflateBrotli(payload); err == nil && len(decoded) > 0 {
				if nested, nestedErr := DecodePackets(decoded); len(nested) > 0 || nestedErr == nil {
					result = append(result, nested...)
				}
			}
		default:
			result = append(result, Packet{
				Version:   version,
				Operation: operation,
				Sequence:  sequence,
				Payload:   append([]byte(nil), payload...),
			})
		}
		offset += packetLen
	}
	return result, nil
}

func inflateZlib(payload []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(io.LimitReader(reader, maxInflatedPayload))
}

func inflateBrotli(payload []byte) ([]byte, error) {
	reader := brotli.NewReader(bytes.NewReader(payload))
	return io.ReadAll(io.LimitReader(reader, maxInflatedPayload))
}

// AuthReplyCode extracts the code of an auth reply body, -1 when unreadable.
func AuthReplyCode(payload []byte) int {
	value := struct {
		Code *int `json:"code"`
	}{}
	if err := json.Unmarshal(payload, &value); err != nil || value.Code == nil {
		return -1
	}
	return *value.Code
}

// NormalizeCommand upper-cases a broadcast cmd and strips the ":suffix"
// variant marker.
func NormalizeCommand(command string) string {
	command = strings.ToUpper(strings.TrimSpace(command))
	if idx := strings.Index(command, ":"); idx > 0 {
		command = command[:idx]
	}
	return command
}

// ParseLiveDanmaku converts a DANMU_MSG broadcast body into an item stamped
// at offsetMs on the session timeline.
func ParseLiveDanmaku(payload []byte, offsetMs int64) (danmaku.Item, bool) {
	event := struct {
		Cmd  string `json:"cmd"`
		Info []any  `json:"info"`
	}{}
	if err := json.Unmarshal(bytes.TrimSpace(payload), &event); err != nil {
		return danmaku.Item{}, false
	}
	if !strings.HasPrefix(NormalizeCommand(event.Cmd), "DANMU_MSG") || len(event.Info) < 3 {
		return danmaku.Item{}, false
	}
	content, _ := event.Info[1].(string)
	content = strings.TrimSpace(content)
	if content == "" {
		return danmaku.Item{}, false
	}
	item := danmaku.Item{
		TimestampMs: offsetMs,
		Content:     content,
		Color:       danmaku.DefaultColor,
		Type:        danmaku.TypeScroll,
		FontSize:    float32(danmaku.DefaultFontSize),
		Source:      "live",
	}
	if meta, ok := event.Info[0].([]any); ok {
		if len(meta) > 1 {
			item.Type = danmaku.TypeFromMode(int32(asInt64(meta[1])))
		}
		if len(meta) > 2 {
			if size := asInt64(meta[2]); size > 0 {
				item.FontSize = float32(size)
			}
		}
		if len(meta) > 3 {
			item.Color = uint32(asInt64(meta[3])) & 0xFFFFFF
		}
		if len(meta) > 4 {
			item.ID = strconv.FormatInt(asInt64(meta[4]), 10)
		}
	}
	if user, ok := event.Info[2].([]any); ok && len(user) > 0 {
		if uid := asInt64(user[0]); uid > 0 {
			item.UserID = strconv.FormatInt(uid, 10)
		}
	}
	return item, true
}

func asInt64(value any) int64 {
	switch v := value.(type) {
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	default:
		return 0
	}
}
