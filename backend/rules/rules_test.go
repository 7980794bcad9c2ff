package rules

import (
	"encoding/json"
	"errors"
	"testing"

	"danmakuoverlay/core/backend/danmaku"
)

func sampleItem() danmaku.Item {
	return danmaku.Item{
		ID:          "1",
		TimestampMs: 12000,
		Content:     "Hello 世界 GG",
		Color:       0xFF0000,
		Type:        danmaku.TypeTop,
		UserID:      "u42",
	}
}

func mustCondition(t *testing.T, raw string) Condition {
	t.Helper()
	var cond Condition
	if err := json.Unmarshal([]byte(raw), &cond); err != nil {
		t.Fatalf("unmarshal %s: %v", raw, err)
	}
	return cond
}

func TestEvaluateOperators(t *testing.T) {
	fields := DanmakuFields(sampleItem())
	cases := []struct {
		raw  string
		want bool
	}{
		{`{"field":"content","op":"contains","value":"hello"}`, true},
		{`{"field":"content","op":"startsWith","value":"HELLO"}`, true},
		{`{"field":"content","op":"endsWith","value":"gg"}`, true},
		{`{"field":"content","op":"eq","value":"hello 世界 gg"}`, false},
		{`{"field":"userId","op":"eq","value":"u42"}`, true},
		{`{"field":"userId","op":"ne","value":"u42"}`, false},
		{`{"field":"type","op":"eq","value":5}`, true},
		{`{"field":"type","op":"eq","value":"5"}`, true},
		{`{"field":"type","op":"in","value":[1,4]}`, false},
		{`{"field":"type","op":"in","value":[1,5]}`, true},
		{`{"field":"type","op":"in","value":5}`, false},
		{`{"field":"timeMs","op":"gt","value":10000}`, true},
		{`{"field":"timeMs","op":"le","value":"11999.5"}`, false},
		{`{"field":"content","op":"lt","value":3}`, false},
		{`{"field":"content","op":"regex","value":"世界\\s+G"}`, true},
		{`{"field":"content","op":"regex","value":"(unclosed"}`, false},
		{`{"field":"content","op":"matches","value":"x"}`, false},
		{`{"field":"nickname","op":"eq","value":"x"}`, false},
		{`{"field":"nickname","op":"ne","value":"x"}`, false},
	}
	for _, tc := range cases {
		if got := Evaluate(mustCondition(t, tc.raw), fields); got != tc.want {
			t.Errorf("%s = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestEvaluateNestedTrees(t *testing.T) {
	fields := DanmakuFields(sampleItem())
	cond := mustCondition(t, `{"and":[
		{"field":"content","op":"contains","value":"gg"},
		{"or":[
			{"field":"userId","op":"eq","value":"nobody"},
			{"field":"type","op":"eq","value":5}
		]}
	]}`)
	if !Evaluate(cond, fields) {
		t.Fatalf("expected nested tree to match")
	}

	withNull := And(Simple("missing", OpEq, "x"), Simple("content", OpContains, "gg"))
	if Evaluate(withNull, fields) {
		t.Fatalf("null field must make the AND false")
	}
	orWithNull := Or(Simple("missing", OpEq, "x"), Simple("content", OpContains, "gg"))
	if !Evaluate(orWithNull, fields) {
		t.Fatalf("null field must not poison the OR")
	}
}

func TestConditionDecodeErrors(t *testing.T) {
	bad := []string{
		`{"and":{"field":"content"}}`,
		`{"field":"content","value":"x"}`,
		`{"field":"content","op":"eq"}`,
		`{"something":"else"}`,
		`[1,2]`,
	}
	for _, raw := range bad {
		var cond Condition
		if err := json.Unmarshal([]byte(raw), &cond); !errors.Is(err, ErrInvalidCondition) {
			t.Errorf("%s: expected ErrInvalidCondition, got %v", raw, err)
		}
	}
}

func TestConditionRoundTrip(t *testing.T) {
	cond := mustCondition(t, `{"or":[{"field":"content","op":"regex","value":"^a"},{"and":[{"field":"type","op":"eq","value":1}]}]}`)
	data, err := json.Marshal(cond)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	again := mustCondition(t, string(data))
	if again.Kind != KindOr || len(again.Children) != 2 || again.Children[1].Kind != KindAnd {
		t.Fatalf("unexpected round trip: %s", data)
	}
	if !Evaluate(again, FieldMap{"content": "abc"}) {
		t.Fatalf("round-tripped regex should still match")
	}
}

func TestParsePluginLegacyAndCompound(t *testing.T) {
	doc := `{
		"id": "block.spam",
		"name": "Spam",
		"type": "danmaku",
		"homepage": "ignored",
		"rules": [
			{"field": "content", "op": "contains", "value": "gg", "action": "hide"},
			{"condition": {"field": "type", "op": "eq", "value": 5}, "action": "highlight", "style": {"color": "#FFD700", "bold": true}}
		]
	}`
	plugin, err := ParsePlugin([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if plugin.Version != "1.0.0" || plugin.Author != "Unknown" {
		t.Fatalf("defaults not applied: %+v", plugin)
	}

	fields := DanmakuFields(sampleItem())
	if plugin.ShouldShow(fields) {
		t.Fatalf("legacy hide rule should hide the sample")
	}
	style, ok := plugin.Highlight(fields)
	if !ok || !style.Bold || style.Scale != 1 {
		t.Fatalf("unexpected style: %+v ok=%v", style, ok)
	}
	if rgb, ok := style.RGB(); !ok || rgb != 0xFFD700 {
		t.Fatalf("unexpected rgb %x", rgb)
	}

	clean := sampleItem()
	clean.Content = "nice"
	if !plugin.ShouldShow(DanmakuFields(clean)) {
		t.Fatalf("non-matching comment should show")
	}
}

func TestHighlightWithoutStyle(t *testing.T) {
	doc := `{
		"id": "mark.plain",
		"name": "Plain",
		"type": "danmaku",
		"rules": [
			{"field": "content", "op": "contains", "value": "Hello", "action": "highlight"},
			{"field": "content", "op": "contains", "value": "GG", "action": "highlight", "style": {"color": "#00FF00"}}
		]
	}`
	plugin, err := ParsePlugin([]byte(doc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if style, ok := plugin.Highlight(DanmakuFields(sampleItem())); ok {
		t.Fatalf("first matching rule has no style, got %+v", style)
	}

	other := sampleItem()
	other.Content = "GG only"
	if style, ok := plugin.Highlight(DanmakuFields(other)); !ok || style.Color != "#00FF00" {
		t.Fatalf("styled rule should apply: %+v ok=%v", style, ok)
	}
}

func TestParsePluginValidation(t *testing.T) {
	bad := []string{
		`{"id":"bad id!","name":"x","type":"danmaku","rules":[]}`,
		`{"id":"ok","name":"","type":"danmaku","rules":[]}`,
		`{"id":"ok","name":"x","type":"video","rules":[]}`,
		`{"id":"ok","name":"x","type":"danmaku","rules":[{"action":"hide"}]}`,
		`{"id":"ok","name":"x","type":"danmaku","rules":[{"field":"content","op":"eq","value":"a","action":"explode"}]}`,
		`{"id":"ok","name":"x","type":"danmaku","rules":[{"condition":{"and":[]},"action":"hide"}]}`,
		`{"id":"ok","name":"x","type":"danmaku","rules":[]}`,
	}
	for _, raw := range bad {
		if _, err := ParsePlugin([]byte(raw)); !errors.Is(err, ErrInvalidPlugin) {
			t.Errorf("%s: expected ErrInvalidPlugin, got %v", raw, err)
		}
	}
}

func TestRuleSetSnapshotIsolation(t *testing.T) {
	hide, err := ParsePlugin([]byte(`{"id":"a","name":"A","type":"danmaku","rules":[{"field":"userId","op":"eq","value":"u42","action":"hide"}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	feed, err := ParsePlugin([]byte(`{"id":"b","name":"B","type":"feed","rules":[{"field":"content","op":"contains","value":"","action":"hide"}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	set := NewRuleSet()
	set.Replace([]Entry{{Plugin: feed, Enabled: true}, {Plugin: hide, Enabled: true}})
	before := set.Snapshot()

	set.Replace([]Entry{{Plugin: hide, Enabled: false}})
	after := set.Snapshot()

	fields := DanmakuFields(sampleItem())
	if ok, id := before.ShouldShow(fields); ok || id != "a" {
		t.Fatalf("old snapshot should still hide via a, got ok=%v id=%q", ok, id)
	}
	if ok, _ := after.ShouldShow(fields); !ok {
		t.Fatalf("disabled plugin must not hide")
	}
	if len(before.Entries()) != 2 || before.Entries()[0].Plugin.ID != "a" {
		t.Fatalf("entries not sorted by id: %+v", before.Entries())
	}
}
