package rules

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"danmakuoverlay/core/backend/danmaku"
	"danmakuoverlay/core/backend/textfold"
)

// Fields resolves a named field of the value under test. A missing field
// reports ok=false and makes every comparison on it false.
type Fields interface {
	Field(name string) (any, bool)
}

// FieldMap is a Fields backed by a plain map.
type FieldMap map[string]any

func (m FieldMap) Field(name string) (any, bool) {
	value, ok := m[name]
	if !ok || value == nil {
		return nil, false
	}
	return value, true
}

type itemFields struct {
	item danmaku.Item
}

// DanmakuFields exposes an item to conditions as content, userId, type (the
// protocol mode number), typeName, color and timeMs.
func DanmakuFields(item danmaku.Item) Fields {
	return itemFields{item: item}
}

func (f itemFields) Field(name string) (any, bool) {
	switch name {
	case "content":
		return f.item.Content, true
	case "userId":
		return f.item.UserID, true
	case "type":
		return modeOf(f.item.Type), true
	case "typeName":
		return f.item.Type.String(), true
	case "color":
		return int64(f.item.Color), true
	case "timeMs":
		return f.item.TimestampMs, true
	default:
		return nil, false
	}
}

func modeOf(t danmaku.Type) int {
	switch t {
	case danmaku.TypeBottom:
		return 4
	case danmaku.TypeTop:
		return 5
	case danmaku.TypeAdvanced:
		return 7
	default:
		return 1
	}
}

// Evaluate reports whether fields satisfy the condition tree. It never panics
// and never errors: a type mismatch, bad operand or unknown operator is false.
func Evaluate(c Condition, fields Fields) bool {
	switch c.Kind {
	case KindAnd:
		for _, child := range c.Children {
			if !Evaluate(child, fields) {
				return false
			}
		}
		return len(c.Children) > 0
	case KindOr:
		for _, child := range c.Children {
			if Evaluate(child, fields) {
				return true
			}
		}
		return false
	default:
		return evaluateSimple(c, fields)
	}
}

func evaluateSimple(c Condition, fields Fields) bool {
	value, ok := fields.Field(c.Field)
	if !ok {
		return false
	}
	switch c.Op {
	case OpEq:
		return compareEquals(value, c.Value)
	case OpNe:
		return !compareEquals(value, c.Value)
	case OpLt, OpLe, OpGt, OpGe:
		left, ok := numericField(value)
		if !ok {
			return false
		}
		right, ok := primitiveFloat(c.Value)
		if !ok {
			return false
		}
		switch c.Op {
		case OpLt:
			return left < right
		case OpLe:
			return left <= right
		case OpGt:
			return left > right
		default:
			return left >= right
		}
	case OpContains, OpStartsWith, OpEndsWith:
		needle, ok := primitiveText(c.Value)
		if !ok {
			return false
		}
		haystack := fmt.Sprint(value)
		switch c.Op {
		case OpContains:
			return textfold.Contains(haystack, needle)
		case OpStartsWith:
			return textfold.HasPrefix(haystack, needle)
		default:
			return textfold.HasSuffix(haystack, needle)
		}
	case OpRegex:
		if c.badRe {
			return false
		}
		pattern := c.pattern
		if pattern == nil {
			// Conditions built as literals skip prepare.
			prepared := c
			prepared.prepare()
			if prepared.pattern == nil {
				return false
			}
			pattern = prepared.pattern
		}
		return pattern.MatchString(fmt.Sprint(value))
	case OpIn:
		list, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, candidate := range list {
			if compareEquals(value, candidate) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// compareEquals compares a field value against a rule operand using the
// field's own type to interpret the operand.
func compareEquals(value any, operand any) bool {
	switch v := value.(type) {
	case string:
		text, ok := primitiveText(operand)
		return ok && v == text
	case bool:
		text, ok := primitiveText(operand)
		if !ok {
			return false
		}
		parsed, err := strconv.ParseBool(text)
		return err == nil && parsed == v
	case float32:
		right, ok := primitiveFloat(operand)
		return ok && float64(v) == right
	case float64:
		right, ok := primitiveFloat(operand)
		return ok && v == right
	default:
		left, ok := integerField(value)
		if !ok {
			return false
		}
		text, ok := primitiveText(operand)
		if !ok {
			return false
		}
		right, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
		return err == nil && left == right
	}
}

func integerField(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint32:
		return int64(v), true
	case uint64:
		if v > math.MaxInt64 {
			return 0, false
		}
		return int64(v), true
	default:
		return 0, false
	}
}

func numericField(value any) (float64, bool) {
	if n, ok := integerField(value); ok {
		return float64(n), true
	}
	switch v := value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// primitiveText returns the textual content of a scalar JSON operand. Arrays,
// objects and null have none.
func primitiveText(operand any) (string, bool) {
	switch v := operand.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}

func primitiveFloat(operand any) (float64, bool) {
	text, ok := primitiveText(operand)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}
