package protocol

import (
	"strings"

	"danmakuoverlay/core/backend/danmaku"
)

// WebViewReply is the per-video comment metadata document.
type WebViewReply struct {
	State      int32               `json:"state"`
	TextSide   string              `json:"textSide,omitempty"`
	DmSge      *SegConfig          `json:"dmSge,omitempty"`
	Flag       *FlagConfig         `json:"flag,omitempty"`
	SpecialDms []string            `json:"specialDms"`
	CheckBox   bool                `json:"checkBox"`
	Count      int64               `json:"count"`
	CommandDms []danmaku.CommandDm `json:"commandDms"`
	DmSetting  *DmSetting          `json:"dmSetting,omitempty"`
}

// SegConfig describes the segment paging: page span and page total.
type SegConfig struct {
	PageSize int64 `json:"pageSize"`
	Total    int64 `json:"total"`
}

type FlagConfig struct {
	RecFlag   int32  `json:"recFlag"`
	RecText   string `json:"recText,omitempty"`
	RecSwitch int32  `json:"recSwitch"`
}

func (c SegConfig) plausible() bool {
	return c.PageSize >= 1000 && c.Total >= 1 && c.Total <= 10000
}

func (c FlagConfig) plausible() bool {
	return c.RecFlag != 0 || c.RecSwitch != 0 || c.RecText != ""
}

// DecodeWebView parses the metadata reply. Servers have shipped two field
// layouts:
//
//	old: dmSge=3 flag=4 specialDms=5 count=7 commandDms=8 dmSetting=9
//	new: dmSge=4 flag=5 count=8 commandDms=9 dmSetting=10
//
// Submessages on the shared numbers are told apart by shape, and both
// layouts land in the same reply.
func DecodeWebView(b []byte) (WebViewReply, error) {
	reply := WebViewReply{CheckBox: true, SpecialDms: []string{}, CommandDms: []danmaku.CommandDm{}}
	if len(b) == 0 {
		return reply, nil
	}
	err := walkFields(b, func(f field) {
		switch f.Num {
		case 1:
			reply.State = f.Int32()
		case 2:
			if f.IsBytes() {
				reply.TextSide = f.String()
			}
		case 3, 4:
			if !f.IsBytes() {
				return
			}
			if seg, ok := decodeSegConfig(f.Bytes); ok && seg.plausible() {
				reply.DmSge = &seg
				return
			}
			if flag, ok := decodeFlagConfig(f.Bytes); ok && flag.plausible() {
				reply.Flag = &flag
			}
		case 5:
			if !f.IsBytes() {
				return
			}
			if flag, ok := decodeFlagConfig(f.Bytes); ok && flag.plausible() {
				reply.Flag = &flag
				return
			}
			if url, ok := decodeSpecialDmURL(f.Bytes); ok {
				reply.SpecialDms = append(reply.SpecialDms, url)
			}
		case 6:
			reply.CheckBox = f.Bool()
		case 7, 8:
			switch {
			case f.IsVarint():
				reply.Count = f.Int64()
			case f.IsBytes():
				if cmd, ok := decodeCommandDm(f.Bytes); ok {
					reply.CommandDms = append(reply.CommandDms, cmd)
				}
			}
		case 9, 10:
			if !f.IsBytes() {
				return
			}
			if cmd, ok := decodeCommandDm(f.Bytes); ok {
				reply.CommandDms = append(reply.CommandDms, cmd)
				return
			}
			if setting, ok := DecodeDmSetting(f.Bytes); ok {
				reply.DmSetting = &setting
			}
		}
	})
	return reply, err
}

func decodeSegConfig(b []byte) (SegConfig, bool) {
	cfg := SegConfig{}
	err := walkFields(b, func(f field) {
		if !f.IsVarint() {
			return
		}
		switch f.Num {
		case 1:
			cfg.PageSize = f.Int64()
		case 2:
			cfg.Total = f.Int64()
		}
	})
	return cfg, err == nil
}

func decodeFlagConfig(b []byte) (FlagConfig, bool) {
	cfg := FlagConfig{}
	err := walkFields(b, func(f field) {
		switch f.Num {
		case 1:
			if f.IsVarint() {
				cfg.RecFlag = f.Int32()
			}
		case 2:
			if f.IsBytes() {
				cfg.RecText = f.String()
			}
		case 3:
			if f.IsVarint() {
				cfg.RecSwitch = f.Int32()
			}
		}
	})
	return cfg, err == nil
}

func decodeSpecialDmURL(b []byte) (string, bool) {
	text := strings.TrimSpace(string(b))
	if strings.HasPrefix(text, "http://") || strings.HasPrefix(text, "https://") || strings.HasPrefix(text, "//") {
		return text, true
	}
	return "", false
}

// decodeCommandDm accepts a submessage only when its command or content
// field is present as a string, which keeps settings blocks (all varints on
// the same numbers) from being read as commands.
func decodeCommandDm(b []byte) (danmaku.CommandDm, bool) {
	if len(b) == 0 {
		return danmaku.CommandDm{}, false
	}
	cmd := danmaku.CommandDm{}
	textual := false
	err := walkFields(b, func(f field) {
		switch f.Num {
		case 1:
			cmd.ID = f.Int64()
		case 2:
			cmd.Oid = f.Int64()
		case 3:
			if f.IsBytes() {
				cmd.Mid = f.String()
			}
		case 4:
			if f.IsBytes() {
				cmd.Command = f.String()
				textual = true
			}
		case 5:
			if f.IsBytes() {
				cmd.Content = f.String()
				textual = true
			}
		case 6:
			cmd.Progress = int64(f.Int32())
		case 7:
			if f.IsBytes() {
				cmd.Ctime = f.String()
			}
		case 8:
			if f.IsBytes() {
				cmd.Mtime = f.String()
			}
		case 9:
			if f.IsBytes() {
				cmd.Extra = f.String()
			}
		case 10:
			if f.IsBytes() {
				cmd.IDStr = f.String()
			}
		}
	})
	if err != nil || !textual {
		return danmaku.CommandDm{}, false
	}
	return cmd, true
}
