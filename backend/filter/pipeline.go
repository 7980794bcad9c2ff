package filter

import (
	"sync"
	"sync/atomic"

	"danmakuoverlay/core/backend/danmaku"
	"danmakuoverlay/core/backend/rules"
)

// Reasons reported by Decide.
const (
	ReasonType    = "type"
	ReasonKeyword = "keyword"
	ReasonPlugin  = "plugin"
)

// Decision is the verdict for one comment.
type Decision struct {
	Visible  bool
	Reason   string
	PluginID string
	Style    *rules.HighlightStyle
}

// StyledItem is a kept comment with its optional highlight.
type StyledItem struct {
	danmaku.Item
	Style *rules.HighlightStyle `json:"style,omitempty"`
}

// Result summarizes one Apply pass.
type Result struct {
	Items           []StyledItem   `json:"items"`
	HiddenByType    int            `json:"hiddenByType"`
	HiddenByKeyword int            `json:"hiddenByKeyword"`
	HiddenByPlugin  map[string]int `json:"hiddenByPlugin"`
	Highlighted     map[string]int `json:"highlighted"`
}

type pipelineState struct {
	types    TypeSettings
	keywords []string
	matchers []Matcher
}

// Pipeline runs the type filter, then the keyword filter, then plugin rules.
// Settings may be swapped concurrently with Apply; a pass always sees one
// consistent set.
type Pipeline struct {
	mu    sync.Mutex
	state atomic.Pointer[pipelineState]
	rules *rules.RuleSet
}

func NewPipeline(ruleSet *rules.RuleSet) *Pipeline {
	if ruleSet == nil {
		ruleSet = rules.NewRuleSet()
	}
	p := &Pipeline{rules: ruleSet}
	p.state.Store(&pipelineState{types: DefaultTypeSettings()})
	return p
}

func (p *Pipeline) SetTypes(types TypeSettings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := *p.state.Load()
	next.types = types
	p.state.Store(&next)
}

// SetKeywords replaces the keyword rule list and recompiles it.
func (p *Pipeline) SetKeywords(keywords []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := *p.state.Load()
	next.keywords = append([]string(nil), keywords...)
	next.matchers = Compile(next.keywords)
	p.state.Store(&next)
}

func (p *Pipeline) Types() TypeSettings {
	return p.state.Load().types
}

func (p *Pipeline) Keywords() []string {
	return append([]string(nil), p.state.Load().keywords...)
}

// Decide runs the full chain for a single comment.
func (p *Pipeline) Decide(item danmaku.Item) Decision {
	return decide(p.state.Load(), p.rules.Snapshot(), item)
}

func decide(state *pipelineState, snapshot *rules.Snapshot, item danmaku.Item) Decision {
	if !state.types.Allows(item) {
		return Decision{Reason: ReasonType}
	}
	if ShouldBlock(item.Content, state.matchers) {
		return Decision{Reason: ReasonKeyword}
	}
	fields := rules.DanmakuFields(item)
	if ok, pluginID := snapshot.ShouldShow(fields); !ok {
		return Decision{Reason: ReasonPlugin, PluginID: pluginID}
	}
	decision := Decision{Visible: true}
	if style, pluginID, ok := snapshot.StyleFrom(fields); ok {
		decision.Style = &style
		decision.PluginID = pluginID
	}
	return decision
}

// Apply filters items in order and reports per-stage hide counters.
func (p *Pipeline) Apply(items []danmaku.Item) Result {
	state := p.state.Load()
	snapshot := p.rules.Snapshot()
	result := Result{
		Items:          make([]StyledItem, 0, len(items)),
		HiddenByPlugin: map[string]int{},
		Highlighted:    map[string]int{},
	}
	for _, item := range items {
		decision := decide(state, snapshot, item)
		switch {
		case decision.Visible:
			result.Items = append(result.Items, StyledItem{Item: item, Style: decision.Style})
			if decision.Style != nil {
				result.Highlighted[decision.PluginID]++
			}
		case decision.Reason == ReasonType:
			result.HiddenByType++
		case decision.Reason == ReasonKeyword:
			result.HiddenByKeyword++
		default:
			result.HiddenByPlugin[decision.PluginID]++
		}
	}
	return result
}
