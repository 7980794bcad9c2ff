package danmaku

import "strings"

// Type is the on-screen geometry of a comment.
type Type int

const (
	TypeScroll Type = iota
	TypeTop
	TypeBottom
	TypeAdvanced
)

const (
	DefaultColor    uint32 = 0xFFFFFF
	DefaultFontSize int32  = 25
)

func (t Type) String() string {
	switch t {
	case TypeTop:
		return "top"
	case TypeBottom:
		return "bottom"
	case TypeAdvanced:
		return "advanced"
	default:
		return "scroll"
	}
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(text []byte) error {
	*t = ParseType(string(text))
	return nil
}

func ParseType(value string) Type {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "top", "5":
		return TypeTop
	case "bottom", "4":
		return TypeBottom
	case "advanced", "special", "7":
		return TypeAdvanced
	default:
		return TypeScroll
	}
}

// TypeFromMode maps the protocol mode number onto a geometry.
// Modes 1-3 scroll, 4 bottom, 5 top, 7 advanced; anything else scrolls.
func TypeFromMode(mode int32) Type {
	switch mode {
	case 4:
		return TypeBottom
	case 5:
		return TypeTop
	case 7:
		return TypeAdvanced
	default:
		return TypeScroll
	}
}

// Item is the unit handed to the renderer. It is never mutated after creation.
type Item struct {
	ID          string  `json:"id"`
	TimestampMs int64   `json:"timestampMs"`
	DurationMs  int64   `json:"durationMs,omitempty"`
	Content     string  `json:"content"`
	Color       uint32  `json:"color"`
	Type        Type    `json:"type"`
	UserID      string  `json:"userId"`
	FontSize    float32 `json:"fontSize,omitempty"`
	Weight      int32   `json:"weight,omitempty"`
	Pool        int32   `json:"pool,omitempty"`
	StartX      float32 `json:"startX,omitempty"`
	StartY      float32 `json:"startY,omitempty"`
	Alpha       float32 `json:"alpha,omitempty"`
	Source      string  `json:"source,omitempty"`
}

// IsColorful reports whether the comment is drawn in anything but plain white.
func (i Item) IsColorful() bool {
	return IsColorful(i.Color)
}

func IsColorful(color uint32) bool {
	return color&0xFFFFFF != DefaultColor
}

// CommandDm is a decoded interactive command message.
type CommandDm struct {
	ID       int64  `json:"id"`
	Oid      int64  `json:"oid,omitempty"`
	Mid      string `json:"mid,omitempty"`
	Command  string `json:"command"`
	Content  string `json:"content"`
	Progress int64  `json:"progress"`
	Ctime    string `json:"ctime,omitempty"`
	Mtime    string `json:"mtime,omitempty"`
	Extra    string `json:"extra"`
	IDStr    string `json:"idStr,omitempty"`
}
