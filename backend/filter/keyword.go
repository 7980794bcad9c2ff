package filter

import (
	"log"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"danmakuoverlay/core/backend/textfold"
)

const (
	regexRulePrefix      = "regex:"
	shortRegexRulePrefix = "re:"
)

var (
	ruleSplitter = regexp.MustCompile(`[\n,，]+`)

	invalidRuleLog = rate.NewLimiter(rate.Every(time.Second), 3)
)

// Matcher tests one keyword rule against comment text.
type Matcher interface {
	Matches(content string) bool
}

type keywordMatcher struct {
	keyword string
}

func (m keywordMatcher) Matches(content string) bool {
	return textfold.Contains(content, m.keyword)
}

type regexMatcher struct {
	pattern *regexp.Regexp
}

func (m regexMatcher) Matches(content string) bool {
	return m.pattern.MatchString(content)
}

// ParseRules splits raw user input on newlines and commas (ASCII and
// full-width), trims each piece and drops empties and repeats.
func ParseRules(raw string) []string {
	parts := ruleSplitter.Split(raw, -1)
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := seen[part]; ok {
			continue
		}
		seen[part] = struct{}{}
		out = append(out, part)
	}
	return out
}

// ResolveMatcher builds the matcher for one rule. Rules prefixed with
// "regex:" or "re:", or wrapped in slashes, are case-insensitive regular
// expressions; anything else is a case-insensitive substring. An empty or
// invalid expression yields no matcher.
func ResolveMatcher(rule string) (Matcher, bool) {
	normalized := strings.TrimSpace(rule)
	if normalized == "" {
		return nil, false
	}
	body, isRegex := regexBody(normalized)
	if !isRegex {
		return keywordMatcher{keyword: normalized}, true
	}
	if strings.TrimSpace(body) == "" {
		return nil, false
	}
	pattern, err := regexp.Compile("(?i)" + body)
	if err != nil {
		if invalidRuleLog.Allow() {
			log.Printf("[filter][warn] ignore keyword rule %q: %v", normalized, err)
		}
		return nil, false
	}
	return regexMatcher{pattern: pattern}, true
}

func regexBody(rule string) (string, bool) {
	lower := strings.ToLower(rule)
	switch {
	case strings.HasPrefix(lower, regexRulePrefix):
		return strings.TrimSpace(rule[len(regexRulePrefix):]), true
	case strings.HasPrefix(lower, shortRegexRulePrefix):
		return strings.TrimSpace(rule[len(shortRegexRulePrefix):]), true
	case len(rule) >= 2 && strings.HasPrefix(rule, "/") && strings.HasSuffix(rule, "/"):
		return strings.TrimSpace(rule[1 : len(rule)-1]), true
	default:
		return "", false
	}
}

// Compile resolves every rule, dropping the ones without a matcher.
func Compile(rules []string) []Matcher {
	matchers := make([]Matcher, 0, len(rules))
	for _, rule := range rules {
		if matcher, ok := ResolveMatcher(rule); ok {
			matchers = append(matchers, matcher)
		}
	}
	return matchers
}

// MatchesRule reports whether a single rule matches content.
func MatchesRule(content, rule string) bool {
	matcher, ok := ResolveMatcher(rule)
	return ok && matcher.Matches(content)
}

// ShouldBlock reports whether any matcher matches. Blank content is never
// blocked.
func ShouldBlock(content string, matchers []Matcher) bool {
	if strings.TrimSpace(content) == "" || len(matchers) == 0 {
		return false
	}
	for _, matcher := range matchers {
		if matcher.Matches(content) {
			return true
		}
	}
	return false
}

// ShouldBlockByRules compiles rules and applies ShouldBlock.
func ShouldBlockByRules(content string, rules []string) bool {
	if strings.TrimSpace(content) == "" || len(rules) == 0 {
		return false
	}
	return ShouldBlock(content, Compile(rules))
}
