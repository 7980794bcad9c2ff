package rules

import (
	"sort"
	"sync/atomic"
)

// Entry is one installed plugin with its enabled flag.
type Entry struct {
	Plugin  Plugin
	Enabled bool
}

// Snapshot is an immutable view of the installed plugins. Evaluation passes
// hold one snapshot for their whole run.
type Snapshot struct {
	entries []Entry
}

func (s *Snapshot) Entries() []Entry {
	if s == nil {
		return nil
	}
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ShouldShow reports whether every enabled danmaku plugin lets fields pass.
// The id of the first hiding plugin is returned when one hides it.
func (s *Snapshot) ShouldShow(fields Fields) (bool, string) {
	if s == nil {
		return true, ""
	}
	for _, entry := range s.entries {
		if !entry.Enabled || !entry.Plugin.IsDanmaku() {
			continue
		}
		if !entry.Plugin.ShouldShow(fields) {
			return false, entry.Plugin.ID
		}
	}
	return true, ""
}

// Style returns the first highlight style produced by an enabled danmaku
// plugin, walking plugins in id order.
func (s *Snapshot) Style(fields Fields) (HighlightStyle, bool) {
	style, _, ok := s.StyleFrom(fields)
	return style, ok
}

// StyleFrom is Style plus the id of the plugin that produced the style.
func (s *Snapshot) StyleFrom(fields Fields) (HighlightStyle, string, bool) {
	if s == nil {
		return HighlightStyle{}, "", false
	}
	for _, entry := range s.entries {
		if !entry.Enabled || !entry.Plugin.IsDanmaku() {
			continue
		}
		if style, ok := entry.Plugin.Highlight(fields); ok {
			return style, entry.Plugin.ID, true
		}
	}
	return HighlightStyle{}, "", false
}

// RuleSet publishes copy-on-write snapshots so that a replacement is never
// observed halfway through an evaluation pass.
type RuleSet struct {
	current atomic.Pointer[Snapshot]
}

func NewRuleSet() *RuleSet {
	set := &RuleSet{}
	set.current.Store(&Snapshot{})
	return set
}

func (r *RuleSet) Snapshot() *Snapshot {
	return r.current.Load()
}

// Replace publishes a new snapshot built from entries.
func (r *RuleSet) Replace(entries []Entry) {
	next := make([]Entry, len(entries))
	copy(next, entries)
	for i := range next {
		next[i].Plugin.Rules = append([]Rule(nil), next[i].Plugin.Rules...)
		next[i].Plugin.prepare()
	}
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].Plugin.ID < next[j].Plugin.ID
	})
	r.current.Store(&Snapshot{entries: next})
}
