package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	ActionHide      = "hide"
	ActionHighlight = "highlight"

	PluginTypeFeed    = "feed"
	PluginTypeDanmaku = "danmaku"
)

var (
	ErrInvalidPlugin = errors.New("invalid plugin")

	pluginIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,64}$`)
)

// HighlightStyle decorates a comment matched by a highlight rule.
type HighlightStyle struct {
	Color string  `json:"color,omitempty"`
	Bold  bool    `json:"bold"`
	Scale float32 `json:"scale"`
}

func (s *HighlightStyle) UnmarshalJSON(data []byte) error {
	type plain HighlightStyle
	value := plain{Scale: 1}
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*s = HighlightStyle(value)
	return nil
}

// RGB parses Color ("#RRGGBB", "RRGGBB" or "#AARRGGBB") into a 24-bit value.
func (s HighlightStyle) RGB() (uint32, bool) {
	text := strings.TrimPrefix(strings.TrimSpace(s.Color), "#")
	if len(text) != 6 && len(text) != 8 {
		return 0, false
	}
	value, err := strconv.ParseUint(text, 16, 32)
	if err != nil {
		return 0, false
	}
	return uint32(value) & 0xFFFFFF, true
}

// Rule pairs a condition with an action. The legacy flat form carries
// field/op/value directly; Condition wins when both are present.
type Rule struct {
	Field     string          `json:"field,omitempty"`
	Op        string          `json:"op,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
	Condition *Condition      `json:"condition,omitempty"`
	Action    string          `json:"action"`
	Style     *HighlightStyle `json:"style,omitempty"`

	resolved *Condition
}

// ResolveCondition returns the effective condition, or nil when the rule
// carries neither form.
func (r Rule) ResolveCondition() *Condition {
	if r.resolved != nil {
		return r.resolved
	}
	return r.buildCondition()
}

func (r Rule) buildCondition() *Condition {
	if r.Condition != nil {
		return r.Condition
	}
	if r.Field == "" || r.Op == "" || len(r.Value) == 0 {
		return nil
	}
	value, err := decodeValue(r.Value)
	if err != nil {
		return nil
	}
	cond := Simple(r.Field, r.Op, value)
	return &cond
}

func (r Rule) IsHide() bool {
	return strings.EqualFold(r.Action, ActionHide)
}

func (r Rule) IsHighlight() bool {
	return strings.EqualFold(r.Action, ActionHighlight)
}

// Plugin is a rule plugin document. Unknown keys are ignored on decode.
type Plugin struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`
	Author      string `json:"author"`
	Type        string `json:"type"`
	IconURL     string `json:"iconUrl,omitempty"`
	Rules       []Rule `json:"rules"`
}

// ParsePlugin decodes and validates a plugin document, filling defaults for
// version and author.
func ParsePlugin(data []byte) (Plugin, error) {
	plugin := Plugin{}
	if err := json.Unmarshal(data, &plugin); err != nil {
		return Plugin{}, fmt.Errorf("%w: %v", ErrInvalidPlugin, err)
	}
	plugin.applyDefaults()
	if err := plugin.Validate(); err != nil {
		return Plugin{}, err
	}
	plugin.prepare()
	return plugin, nil
}

func (p *Plugin) applyDefaults() {
	p.ID = strings.TrimSpace(p.ID)
	p.Type = strings.ToLower(strings.TrimSpace(p.Type))
	if strings.TrimSpace(p.Version) == "" {
		p.Version = "1.0.0"
	}
	if strings.TrimSpace(p.Author) == "" {
		p.Author = "Unknown"
	}
	if p.Rules == nil {
		p.Rules = []Rule{}
	}
}

// prepare caches the resolved condition of every rule so evaluation does not
// re-decode legacy operands.
func (p *Plugin) prepare() {
	for i := range p.Rules {
		p.Rules[i].resolved = p.Rules[i].buildCondition()
	}
}

func (p Plugin) Validate() error {
	if !pluginIDPattern.MatchString(p.ID) {
		return fmt.Errorf("%w: id %q must match %s", ErrInvalidPlugin, p.ID, pluginIDPattern.String())
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPlugin)
	}
	if p.Type != PluginTypeFeed && p.Type != PluginTypeDanmaku {
		return fmt.Errorf("%w: type must be feed or danmaku", ErrInvalidPlugin)
	}
	if len(p.Rules) == 0 {
		return fmt.Errorf("%w: at least one rule is required", ErrInvalidPlugin)
	}
	for i, rule := range p.Rules {
		if !rule.IsHide() && !rule.IsHighlight() {
			return fmt.Errorf("%w: rule %d has unknown action %q", ErrInvalidPlugin, i, rule.Action)
		}
		cond := rule.buildCondition()
		if cond == nil {
			return fmt.Errorf("%w: rule %d has no condition", ErrInvalidPlugin, i)
		}
		if err := cond.Validate(); err != nil {
			return fmt.Errorf("%w: rule %d: %v", ErrInvalidPlugin, i, err)
		}
	}
	return nil
}

// IsDanmaku reports whether the plugin applies to the comment pipeline.
func (p Plugin) IsDanmaku() bool {
	return p.Type == PluginTypeDanmaku
}

// ShouldShow is false when any hide rule matches.
func (p Plugin) ShouldShow(fields Fields) bool {
	for _, rule := range p.Rules {
		if !rule.IsHide() {
			continue
		}
		cond := rule.ResolveCondition()
		if cond != nil && Evaluate(*cond, fields) {
			return false
		}
	}
	return true
}

// Highlight returns the style of the first matching highlight rule. A
// matching rule without a style means no highlight.
func (p Plugin) Highlight(fields Fields) (HighlightStyle, bool) {
	for _, rule := range p.Rules {
		if !rule.IsHighlight() {
			continue
		}
		cond := rule.ResolveCondition()
		if cond == nil || !Evaluate(*cond, fields) {
			continue
		}
		if rule.Style == nil {
			return HighlightStyle{}, false
		}
		return *rule.Style, true
	}
	return HighlightStyle{}, false
}
