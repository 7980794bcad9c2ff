package protocol

import (
	"errors"
	"log"
	"sort"
	"strconv"

	"danmakuoverlay/core/backend/danmaku"
)

const (
	// SegmentDurationMs is the span of playback covered by one segment page.
	SegmentDurationMs      int64 = 360000
	DefaultSegmentFallback       = 3
	maxSegmentCount              = 10000
)

// Elem is one comment as carried by a segment page.
type Elem struct {
	ID       int64  `json:"id"`
	Progress int32  `json:"progress"`
	Mode     int32  `json:"mode"`
	FontSize int32  `json:"fontsize"`
	Color    uint32 `json:"color"`
	MidHash  string `json:"midHash"`
	Content  string `json:"content"`
	Ctime    int64  `json:"ctime"`
	Weight   int32  `json:"weight"`
	Action   string `json:"action,omitempty"`
	Pool     int32  `json:"pool"`
	IDStr    string `json:"idStr,omitempty"`
	Attr     int32  `json:"attr,omitempty"`
}

func newElem() Elem {
	return Elem{Mode: 1, FontSize: danmaku.DefaultFontSize, Color: danmaku.DefaultColor}
}

// Item converts the wire element into a renderer item.
func (e Elem) Item() danmaku.Item {
	id := e.IDStr
	if id == "" {
		id = strconv.FormatInt(e.ID, 10)
	}
	return danmaku.Item{
		ID:          id,
		TimestampMs: int64(e.Progress),
		Content:     e.Content,
		Color:       e.Color & 0xFFFFFF,
		Type:        danmaku.TypeFromMode(e.Mode),
		UserID:      e.MidHash,
		FontSize:    float32(e.FontSize),
		Weight:      e.Weight,
		Pool:        e.Pool,
		Source:      "segment",
	}
}

// DecodeSegment parses a segment page (repeated elements at field 1).
// Elements without content or with a broken body are dropped. On a broken
// outer frame the elements decoded so far are returned along with the error.
func DecodeSegment(b []byte) ([]Elem, error) {
	elems := make([]Elem, 0, len(b)/48)
	dropped := 0
	err := walkFields(b, func(f field) {
		if f.Num != 1 || !f.IsBytes() {
			return
		}
		elem, elemErr := decodeElem(f.Bytes)
		if elemErr != nil || elem.Content == "" {
			if elemErr != nil {
				dropped++
			}
			return
		}
		elems = append(elems, elem)
	})
	if dropped > 0 {
		log.Printf("[protocol][warn] dropped %d malformed segment elements", dropped)
	}
	sort.SliceStable(elems, func(i, j int) bool {
		return elems[i].Progress < elems[j].Progress
	})
	return elems, err
}

// DecodeSegmentItems is DecodeSegment followed by Elem.Item.
func DecodeSegmentItems(b []byte) ([]danmaku.Item, error) {
	elems, err := DecodeSegment(b)
	items := make([]danmaku.Item, 0, len(elems))
	for _, elem := range elems {
		items = append(items, elem.Item())
	}
	return items, err
}

func decodeElem(b []byte) (Elem, error) {
	if len(b) == 0 {
		return Elem{}, errors.New("empty element")
	}
	elem := newElem()
	err := walkFields(b, func(f field) {
		switch f.Num {
		case 1:
			elem.ID = f.Int64()
		case 2:
			elem.Progress = f.Int32()
		case 3:
			elem.Mode = f.Int32()
		case 4:
			elem.FontSize = f.Int32()
		case 5:
			elem.Color = uint32(f.Int)
		case 6:
			elem.MidHash = f.String()
		case 7:
			elem.Content = f.String()
		case 8:
			elem.Ctime = f.Int64()
		case 9:
			elem.Weight = f.Int32()
		case 10:
			elem.Action = f.String()
		case 11:
			elem.Pool = f.Int32()
		case 12:
			elem.IDStr = f.String()
		case 13:
			elem.Attr = f.Int32()
		}
	})
	if err != nil {
		return Elem{}, err
	}
	return elem, nil
}

// SegmentCount resolves how many segment pages cover a video.
// Duration wins, then the server's page total, then a fixed fallback.
func SegmentCount(durationMs int64, metaTotal int64) int {
	if durationMs > 0 {
		count := (durationMs + SegmentDurationMs - 1) / SegmentDurationMs
		if count > maxSegmentCount {
			count = maxSegmentCount
		}
		return int(count)
	}
	if metaTotal > 0 && metaTotal <= maxSegmentCount {
		return int(metaTotal)
	}
	return DefaultSegmentFallback
}
