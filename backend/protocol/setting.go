package protocol

// DmSetting is the viewer's server-side comment preference block.
type DmSetting struct {
	DmSwitch     bool    `json:"dmSwitch"`
	AISwitch     bool    `json:"aiSwitch"`
	AILevel      int32   `json:"aiLevel"`
	BlockTop     bool    `json:"blockTop"`
	BlockScroll  bool    `json:"blockScroll"`
	BlockBottom  bool    `json:"blockBottom"`
	BlockColor   bool    `json:"blockColor"`
	BlockSpecial bool    `json:"blockSpecial"`
	PreventShade bool    `json:"preventShade"`
	DmMask       bool    `json:"dmMask"`
	Opacity      float32 `json:"opacity"`
	DmArea       int32   `json:"dmArea"`
	SpeedPlus    float32 `json:"speedPlus"`
	FontScale    float32 `json:"fontScale"`
	ScreenSync   bool    `json:"screenSync"`
	SpeedSync    bool    `json:"speedSync"`
	FontFamily   string  `json:"fontFamily,omitempty"`
	Bold         bool    `json:"bold"`
	FontBorder   int32   `json:"fontBorder"`
	DrawType     string  `json:"drawType,omitempty"`
}

func DefaultDmSetting() DmSetting {
	return DmSetting{DmSwitch: true, AISwitch: true, Opacity: 1, SpeedPlus: 1, FontScale: 1}
}

// DecodeDmSetting parses the preference block; ok is false when the bytes do
// not form a valid message.
func DecodeDmSetting(b []byte) (DmSetting, bool) {
	s := DefaultDmSetting()
	err := walkFields(b, func(f field) {
		switch f.Num {
		case 1:
			s.DmSwitch = f.Bool()
		case 2:
			s.AISwitch = f.Bool()
		case 3:
			s.AILevel = f.Int32()
		case 4:
			s.BlockTop = f.Bool()
		case 5:
			s.BlockScroll = f.Bool()
		case 6:
			s.BlockBottom = f.Bool()
		case 7:
			s.BlockColor = f.Bool()
		case 8:
			s.BlockSpecial = f.Bool()
		case 9:
			s.PreventShade = f.Bool()
		case 10:
			s.DmMask = f.Bool()
		case 11:
			s.Opacity = f.Float32()
		case 12:
			s.DmArea = f.Int32()
		case 13:
			s.SpeedPlus = f.Float32()
		case 14:
			s.FontScale = f.Float32()
		case 15:
			s.ScreenSync = f.Bool()
		case 16:
			s.SpeedSync = f.Bool()
		case 17:
			if f.IsBytes() {
				s.FontFamily = f.String()
			}
		case 18:
			s.Bold = f.Bool()
		case 19:
			s.FontBorder = f.Int32()
		case 20:
			if f.IsBytes() {
				s.DrawType = f.String()
			}
		}
	})
	return s, err == nil
}
