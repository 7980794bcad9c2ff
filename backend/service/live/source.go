package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"danmakuoverlay/core/backend/danmaku"
	"danmakuoverlay/core/backend/protocol"
)

const (
	protoVersionBrotli    = 3
	defaultHeartbeat      = 30 * time.Second
	defaultConnectTimeout = 10 * time.Second
	maxReconnectBackoff   = 30 * time.Second
)

var heartbeatBody = []byte("[object Object]")

type Options struct {
	URL               string
	RoomID            int64
	UID               int64
	Token             string
	Buvid             string
	HeartbeatInterval time.Duration
	ConnectTimeout    time.Duration
	Reconnect         bool
}

// Stats is a snapshot of the stream state.
type Stats struct {
	Connected   bool           `json:"connected"`
	AuthCode    int            `json:"authCode"`
	Received    int            `json:"received"`
	Emitted     int            `json:"emitted"`
	Commands    map[string]int `json:"commands"`
	Reconnects  int            `json:"reconnects"`
	LastError   string         `json:"lastError,omitempty"`
	ConnectedAt *time.Time     `json:"connectedAt,omitempty"`
}

// Source reads comments from a live room broadcast and hands them to a sink,
// stamped on a timeline that starts when Run is called.
type Source struct {
	opts Options

	mu    sync.Mutex
	stats Stats
}

func NewSource(opts Options) *Source {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	return &Source{opts: opts, stats: Stats{AuthCode: -1, Commands: map[string]int{}}}
}

func (s *Source) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stats
	out.Commands = make(map[string]int, len(s.stats.Commands))
	for k, v := range s.stats.Commands {
		out.Commands[k] = v
	}
	return out
}

// Run streams until ctx is done. With Reconnect set, dropped connections are
// retried with a capped backoff; otherwise the first disconnect ends Run.
func (s *Source) Run(ctx context.Context, sink func(danmaku.Item)) error {
	if strings.TrimSpace(s.opts.URL) == "" {
		return errors.New("live websocket url is required")
	}
	if s.opts.RoomID <= 0 {
		return errors.New("roomId is required")
	}
	start := time.Now()
	backoff := time.Second
	for {
		err := s.runOnce(ctx, start, sink)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			s.markError(err)
			log.Printf("[live][warn] room %d stream ended: %v", s.opts.RoomID, err)
		}
		if !s.opts.Reconnect {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxReconnectBackoff)
		s.mu.Lock()
		s.stats.Reconnects++
		s.mu.Unlock()
	}
}

func (s *Source) runOnce(ctx context.Context, start time.Time, sink func(danmaku.Item)) error {
	headers := make(http.Header)
	headers.Set("User-Agent", "danmakud/1.0")
	headers.Set("Origin", "https://live.bilibili.com")
	headers.Set("Referer", "https://live.bilibili.com/"+strconv.FormatInt(s.opts.RoomID, 10))
	if s.opts.Buvid != "" {
		headers.Set("Cookie", "buvid3="+s.opts.Buvid)
	}

	dialer := websocket.Dialer{HandshakeTimeout: s.opts.ConnectTimeout}
	conn, resp, err := dialer.DialContext(ctx, s.opts.URL, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("connect live ws failed: %w (http=%d)", err, resp.StatusCode)
		}
		return fmt.Errorf("connect live ws failed: %w", err)
	}
	defer conn.Close()

	authBody, err := json.Marshal(map[string]any{
		"uid":      s.opts.UID,
		"roomid":   s.opts.RoomID,
		"protover": protoVersionBrotli,
		"platform": "web",
		"type":     2,
		"key":      strings.TrimSpace(s.opts.Token),
	})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, protocol.EncodePacket(protocol.OpAuth, 1, 1, authBody)); err != nil {
		return err
	}
	_ = conn.WriteMessage(websocket.BinaryMessage, protocol.EncodePacket(protocol.OpHeartbeat, 1, 1, heartbeatBody))

	now := time.Now()
	s.mu.Lock()
	s.stats.Connected = true
	s.stats.ConnectedAt = &now
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.stats.Connected = false
		s.mu.Unlock()
	}()
	log.Printf("[live] connected to room %d", s.opts.RoomID)

	frames := make(chan []byte, 16)
	readErrs := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	idle := 2*s.opts.HeartbeatInterval + 10*time.Second
	go func() {
		for {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
			_, frame, err := conn.ReadMessage()
			if err != nil {
				readErrs <- err
				return
			}
			select {
			case frames <- frame:
			case <-done:
				return
			}
		}
	}()

	heartbeat := time.NewTicker(s.opts.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return nil
		case <-heartbeat.C:
			if err := conn.WriteMessage(websocket.BinaryMessage, protocol.EncodePacket(protocol.OpHeartbeat, 1, 1, heartbeatBody)); err != nil {
				return err
			}
		case readErr := <-readErrs:
			if websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return readErr
		case frame := <-frames:
			packets, decodeErr := protocol.DecodePackets(frame)
			if decodeErr != nil {
				log.Printf("[live][warn] decode packet failed: %v", decodeErr)
			}
			for _, packet := range packets {
				switch packet.Operation {
				case protocol.OpAuthReply:
					code := protocol.AuthReplyCode(packet.Payload)
					s.mu.Lock()
					s.stats.AuthCode = code
					s.mu.Unlock()
					if code != 0 {
						return fmt.Errorf("live auth rejected: code=%d", code)
					}
				case protocol.OpMessage:
					s.handleMessage(packet.Payload, time.Since(start).Milliseconds(), sink)
				}
			}
		}
	}
}

func (s *Source) handleMessage(payload []byte, offsetMs int64, sink func(danmaku.Item)) {
	var head struct {
		Cmd string `json:"cmd"`
	}
	if err := json.Unmarshal(payload, &head); err != nil {
		return
	}
	cmd := protocol.NormalizeCommand(head.Cmd)
	if cmd == "" {
		cmd = "UNKNOWN"
	}
	s.mu.Lock()
	s.stats.Received++
	s.stats.Commands[cmd]++
	s.mu.Unlock()

	item, ok := protocol.ParseLiveDanmaku(payload, offsetMs)
	if !ok {
		return
	}
	s.mu.Lock()
	s.stats.Emitted++
	if item.ID == "" {
		item.ID = "live_" + strconv.Itoa(s.stats.Emitted)
	}
	s.mu.Unlock()
	if sink != nil {
		sink(item)
	}
}

func (s *Source) markError(err error) {
	s.mu.Lock()
	s.stats.LastError = err.Error()
	s.mu.Unlock()
}
