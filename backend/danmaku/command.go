package danmaku

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

const (
	CommandDurationMs       int64   = 5000
	CommandColor            uint32  = 0xFFD700
	CommandFontSize         float32 = 20
	CommandAlpha            float32 = 0.9
	commandStartX           float32 = 0.5
	commandStartY           float32 = 0.1
	gibberishMinLength              = 32
	gibberishMinPunctuation         = 4
)

var nonVisualCommands = map[string]struct{}{
	"UPOWER_STATE":  {},
	"UPGRADE_STATE": {},
	"PANEL_STATE":   {},
}

var commandTextKeys = []string{"text", "content", "msg", "message", "title"}

var commandTextPatterns = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(commandTextKeys))
	for _, key := range commandTextKeys {
		out = append(out, regexp.MustCompile(`"`+key+`"\s*:\s*"([^"]+)"`))
	}
	return out
}()

var whitespaceRun = regexp.MustCompile(`\s+`)

// BuildCommand turns an interactive command into a displayable overlay item.
// The second return is false for state-only commands and unreadable payloads.
func BuildCommand(cmd CommandDm) (Item, bool) {
	text, ok := ResolveCommandText(cmd)
	if !ok {
		return Item{}, false
	}
	start := cmd.Progress
	if start < 0 {
		start = 0
	}
	return Item{
		ID:          "cmd_" + strconv.FormatInt(cmd.ID, 10),
		TimestampMs: start,
		DurationMs:  CommandDurationMs,
		Content:     text,
		Color:       CommandColor,
		Type:        TypeTop,
		UserID:      cmd.Mid,
		FontSize:    CommandFontSize,
		StartX:      commandStartX,
		StartY:      commandStartY,
		Alpha:       CommandAlpha,
		Source:      "command",
	}, true
}

// BuildCommands keeps only the commands that produce readable items.
func BuildCommands(cmds []CommandDm) []Item {
	items := make([]Item, 0, len(cmds))
	for _, cmd := range cmds {
		if item, ok := BuildCommand(cmd); ok {
			items = append(items, item)
		}
	}
	return items
}

func ResolveCommandText(cmd CommandDm) (string, bool) {
	if IsNonVisualCommand(cmd.Command) {
		return "", false
	}
	if text, ok := extractReadableText(cmd.Content); ok {
		return text, true
	}
	return extractReadableText(cmd.Extra)
}

func IsNonVisualCommand(command string) bool {
	_, ok := nonVisualCommands[strings.ToUpper(strings.TrimSpace(command))]
	return ok
}

func extractReadableText(raw string) (string, bool) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", false
	}
	if looksLikeJSON(content) {
		return extractTextFromJSON(content)
	}
	return sanitizeCommandText(content)
}

func looksLikeJSON(content string) bool {
	return (strings.HasPrefix(content, "{") && strings.HasSuffix(content, "}")) ||
		(strings.HasPrefix(content, "[") && strings.HasSuffix(content, "]"))
}

func extractTextFromJSON(raw string) (string, bool) {
	for _, pattern := range commandTextPatterns {
		match := pattern.FindStringSubmatch(raw)
		if len(match) < 2 {
			continue
		}
		if text, ok := sanitizeCommandText(match[1]); ok {
			return text, true
		}
	}

	payload := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", false
	}
	if text, ok := pickTextField(payload); ok {
		return text, true
	}
	for _, key := range []string{"data", "extra"} {
		nested, ok := payload[key].(map[string]any)
		if !ok {
			continue
		}
		return pickTextField(nested)
	}
	return "", false
}

func pickTextField(payload map[string]any) (string, bool) {
	for _, key := range commandTextKeys {
		value, ok := payload[key].(string)
		if !ok {
			continue
		}
		if text, ok := sanitizeCommandText(value); ok {
			return text, true
		}
	}
	return "", false
}

// sanitizeCommandText collapses whitespace and rejects strings shaped like
// fragments of a serialized payload.
func sanitizeCommandText(raw string) (string, bool) {
	normalized := strings.TrimSpace(whitespaceRun.ReplaceAllString(raw, " "))
	if normalized == "" {
		return "", false
	}
	lower := strings.ToLower(normalized)
	for _, marker := range []string{"upower_state", `"type":`, `.png"`} {
		if strings.Contains(lower, marker) {
			return "", false
		}
	}
	punctuation := 0
	for _, r := range normalized {
		if r == ':' || r == ',' || r == '"' {
			punctuation++
		}
	}
	if len([]rune(normalized)) > gibberishMinLength && punctuation >= gibberishMinPunctuation {
		return "", false
	}
	return normalized, true
}
