package filter

import (
	"reflect"
	"testing"

	"danmakuoverlay/core/backend/danmaku"
	"danmakuoverlay/core/backend/protocol"
	"danmakuoverlay/core/backend/rules"
)

func TestTypeSettingsGates(t *testing.T) {
	all := DefaultTypeSettings()

	noScroll := all
	noScroll.AllowScroll = false
	if noScroll.ShouldDisplayStandard(1, 0xFFFFFF) {
		t.Errorf("scroll should be hidden")
	}

	noTop := all
	noTop.AllowTop = false
	if noTop.ShouldDisplayStandard(5, 0xFFFFFF) {
		t.Errorf("top should be hidden")
	}

	noBottom := all
	noBottom.AllowBottom = false
	if noBottom.ShouldDisplayStandard(4, 0xFFFFFF) {
		t.Errorf("bottom should be hidden")
	}

	noColor := all
	noColor.AllowColorful = false
	if !noColor.ShouldDisplayStandard(1, 0xFFFFFF) {
		t.Errorf("white comment should bypass the colorful gate")
	}
	if noColor.ShouldDisplayStandard(1, 0x00FF00) {
		t.Errorf("colorful comment should be hidden")
	}
	if !noColor.Allows(danmaku.Item{Type: danmaku.TypeAdvanced, Color: 0x00FF00}) {
		t.Errorf("advanced comment is gated by the special flag only")
	}

	noSpecial := all
	noSpecial.AllowSpecial = false
	if noSpecial.ShouldDisplayAdvanced() {
		t.Errorf("advanced should be hidden")
	}
}

func TestFromDmSetting(t *testing.T) {
	setting := protocol.DefaultDmSetting()
	setting.BlockScroll = true
	setting.BlockTop = false
	setting.BlockBottom = true
	setting.BlockColor = true
	setting.BlockSpecial = false
	got := FromDmSetting(setting)
	want := TypeSettings{AllowScroll: true, AllowBottom: true, AllowColorful: true}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestBuildCloudConfig(t *testing.T) {
	payload := BuildCloudConfig(CloudSyncSettings{
		Enabled: false,
		Types: TypeSettings{
			AllowScroll:   false,
			AllowTop:      true,
			AllowBottom:   false,
			AllowColorful: true,
			AllowSpecial:  false,
		},
		Opacity:          1.2,
		DisplayAreaRatio: 0.74,
		Speed:            2.2,
		FontScale:        0.2,
	})
	want := CloudConfig{
		DmSwitch:     "false",
		BlockScroll:  "false",
		BlockTop:     "true",
		BlockBottom:  "false",
		BlockColor:   "true",
		BlockSpecial: "false",
		Opacity:      1,
		DmArea:       75,
		SpeedPlus:    1.6,
		FontSize:     0.4,
	}
	if payload != want {
		t.Fatalf("got %+v want %+v", payload, want)
	}

	areas := map[float32]int{0: 0, 0.26: 25, 0.51: 50, 0.75: 75, 1: 100}
	for ratio, bucket := range areas {
		if got := DisplayAreaToCloud(ratio); got != bucket {
			t.Errorf("DisplayAreaToCloud(%v)=%d want %d", ratio, got, bucket)
		}
	}
	if !CloudSyncSucceeded(0) || !CloudSyncSucceeded(23004) || CloudSyncSucceeded(-101) {
		t.Errorf("unexpected cloud sync codes")
	}
}

func TestParseRules(t *testing.T) {
	got := ParseRules("剧透\n前方高能,哈哈\nregex:\\d{2}年\n哈哈，  剧透 \n\n")
	want := []string{"剧透", "前方高能", "哈哈", `regex:\d{2}年`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestMatchesRule(t *testing.T) {
	cases := []struct {
		content string
		rule    string
		want    bool
	}{
		{"这段有剧透注意", "剧透", true},
		{"Spoiler alert", "spoiler", true},
		{"2026年新番", `regex:\d{4}年`, true},
		{"第12集封神", `re:第\d+集`, true},
		{"ABC", "RegEx:abc", true},
		{"哈哈哈哈", "/哈{3,}/", true},
		{"abc", "regex:[a-", false},
		{"abc", "/[a-/", false},
		{"abc", "regex:   ", false},
		{"abc", "//", false},
	}
	for _, tc := range cases {
		if got := MatchesRule(tc.content, tc.rule); got != tc.want {
			t.Errorf("MatchesRule(%q, %q)=%v want %v", tc.content, tc.rule, got, tc.want)
		}
	}
}

func TestShouldBlockByRules(t *testing.T) {
	if !ShouldBlockByRules("第24集剧透", []string{"前方高能", `re:第\d+集`, "哈哈"}) {
		t.Errorf("expected block")
	}
	if ShouldBlockByRules("纯路人弹幕", []string{"剧透", `regex:第\d+集`}) {
		t.Errorf("expected pass")
	}
	if ShouldBlockByRules("   ", []string{"剧透"}) {
		t.Errorf("blank content is never blocked")
	}
	if ShouldBlockByRules("anything", []string{"regex:(", "/)/"}) {
		t.Errorf("rules without matchers never block")
	}
}

func TestPipelineApply(t *testing.T) {
	plugin, err := rules.ParsePlugin([]byte(`{
		"id": "mute.u1",
		"name": "Mute u1",
		"type": "danmaku",
		"rules": [
			{"field": "userId", "op": "eq", "value": "u1", "action": "hide"},
			{"field": "content", "op": "contains", "value": "gold", "action": "highlight", "style": {"color": "#FFD700", "scale": 1.2}}
		]
	}`))
	if err != nil {
		t.Fatalf("parse plugin: %v", err)
	}
	set := rules.NewRuleSet()
	set.Replace([]rules.Entry{{Plugin: plugin, Enabled: true}})

	pipeline := NewPipeline(set)
	types := DefaultTypeSettings()
	types.AllowBottom = false
	pipeline.SetTypes(types)
	pipeline.SetKeywords(ParseRules("spoiler"))

	items := []danmaku.Item{
		{ID: "1", Content: "plain", UserID: "u2"},
		{ID: "2", Content: "bottom", UserID: "u2", Type: danmaku.TypeBottom},
		{ID: "3", Content: "big SPOILER", UserID: "u2"},
		{ID: "4", Content: "from u1", UserID: "u1"},
		{ID: "5", Content: "gold star", UserID: "u3"},
	}
	result := pipeline.Apply(items)
	if len(result.Items) != 2 || result.Items[0].ID != "1" || result.Items[1].ID != "5" {
		t.Fatalf("unexpected kept items: %+v", result.Items)
	}
	if result.Items[0].Style != nil {
		t.Fatalf("plain comment should carry no style")
	}
	if style := result.Items[1].Style; style == nil || style.Color != "#FFD700" || style.Scale != 1.2 {
		t.Fatalf("unexpected highlight: %+v", style)
	}
	if result.HiddenByType != 1 || result.HiddenByKeyword != 1 || result.HiddenByPlugin["mute.u1"] != 1 || result.Highlighted["mute.u1"] != 1 {
		t.Fatalf("unexpected counters: %+v", result)
	}

	decision := pipeline.Decide(items[3])
	if decision.Visible || decision.Reason != ReasonPlugin || decision.PluginID != "mute.u1" {
		t.Fatalf("unexpected decision: %+v", decision)
	}
}
