package filter

import (
	"math"

	"danmakuoverlay/core/backend/danmaku"
	"danmakuoverlay/core/backend/protocol"
)

// TypeSettings holds one allow flag per comment category.
type TypeSettings struct {
	AllowScroll   bool `json:"allowScroll"`
	AllowTop      bool `json:"allowTop"`
	AllowBottom   bool `json:"allowBottom"`
	AllowColorful bool `json:"allowColorful"`
	AllowSpecial  bool `json:"allowSpecial"`
}

func DefaultTypeSettings() TypeSettings {
	return TypeSettings{
		AllowScroll:   true,
		AllowTop:      true,
		AllowBottom:   true,
		AllowColorful: true,
		AllowSpecial:  true,
	}
}

// FromDmSetting maps the server preference block onto allow flags. The
// server's block* flags carry allow semantics: true means shown.
func FromDmSetting(setting protocol.DmSetting) TypeSettings {
	return TypeSettings{
		AllowScroll:   setting.BlockScroll,
		AllowTop:      setting.BlockTop,
		AllowBottom:   setting.BlockBottom,
		AllowColorful: setting.BlockColor,
		AllowSpecial:  setting.BlockSpecial,
	}
}

// ShouldDisplayStandard gates scroll, top and bottom comments by mode number.
// White comments bypass the colorful gate.
func (s TypeSettings) ShouldDisplayStandard(mode int32, color uint32) bool {
	var allowed bool
	switch danmaku.TypeFromMode(mode) {
	case danmaku.TypeTop:
		allowed = s.AllowTop
	case danmaku.TypeBottom:
		allowed = s.AllowBottom
	case danmaku.TypeAdvanced:
		return s.AllowSpecial
	default:
		allowed = s.AllowScroll
	}
	if !allowed {
		return false
	}
	return s.AllowColorful || !danmaku.IsColorful(color)
}

// ShouldDisplayAdvanced gates positioned comments on the special flag alone.
func (s TypeSettings) ShouldDisplayAdvanced() bool {
	return s.AllowSpecial
}

// Allows applies the settings to a decoded item.
func (s TypeSettings) Allows(item danmaku.Item) bool {
	switch item.Type {
	case danmaku.TypeAdvanced:
		return s.ShouldDisplayAdvanced()
	case danmaku.TypeTop:
		return s.ShouldDisplayStandard(5, item.Color)
	case danmaku.TypeBottom:
		return s.ShouldDisplayStandard(4, item.Color)
	default:
		return s.ShouldDisplayStandard(1, item.Color)
	}
}

// CloudConfig is the form payload that pushes local preferences back to the
// server's preference endpoint.
type CloudConfig struct {
	DmSwitch     string  `json:"dm_switch"`
	BlockScroll  string  `json:"blockscroll"`
	BlockTop     string  `json:"blocktop"`
	BlockBottom  string  `json:"blockbottom"`
	BlockColor   string  `json:"blockcolor"`
	BlockSpecial string  `json:"blockspecial"`
	Opacity      float32 `json:"opacity"`
	DmArea       int     `json:"dmarea"`
	SpeedPlus    float32 `json:"speedplus"`
	FontSize     float32 `json:"fontsize"`
}

// CloudSyncSettings is the local preference set mirrored to the server.
type CloudSyncSettings struct {
	Enabled          bool         `json:"enabled"`
	Types            TypeSettings `json:"types"`
	Opacity          float32      `json:"opacity"`
	DisplayAreaRatio float32      `json:"displayAreaRatio"`
	Speed            float32      `json:"speed"`
	FontScale        float32      `json:"fontScale"`
}

func BuildCloudConfig(settings CloudSyncSettings) CloudConfig {
	return CloudConfig{
		DmSwitch:     cloudFlag(settings.Enabled),
		BlockScroll:  cloudFlag(settings.Types.AllowScroll),
		BlockTop:     cloudFlag(settings.Types.AllowTop),
		BlockBottom:  cloudFlag(settings.Types.AllowBottom),
		BlockColor:   cloudFlag(settings.Types.AllowColorful),
		BlockSpecial: cloudFlag(settings.Types.AllowSpecial),
		Opacity:      clamp32(settings.Opacity, 0, 1),
		DmArea:       DisplayAreaToCloud(settings.DisplayAreaRatio),
		SpeedPlus:    clamp32(settings.Speed, 0.4, 1.6),
		FontSize:     clamp32(settings.FontScale, 0.4, 1.6),
	}
}

// DisplayAreaToCloud snaps a display area ratio to the nearest of the
// server's 25/50/75/100 buckets. Zero or less disables the area.
func DisplayAreaToCloud(ratio float32) int {
	if ratio <= 0 {
		return 0
	}
	percent := int(clamp32(ratio, 0, 1) * 100)
	best := 25
	for _, bucket := range []int{25, 50, 75, 100} {
		if absInt(bucket-percent) < absInt(best-percent) {
			best = bucket
		}
	}
	return best
}

// CloudSyncSucceeded accepts success and the server's "nothing changed" code.
func CloudSyncSucceeded(code int) bool {
	return code == 0 || code == 23004
}

func cloudFlag(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func clamp32(v, lo, hi float32) float32 {
	if math.IsNaN(float64(v)) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
