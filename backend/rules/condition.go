package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

type Kind int

const (
	KindSimple Kind = iota
	KindAnd
	KindOr
)

// Operators understood by simple conditions.
const (
	OpEq         = "eq"
	OpNe         = "ne"
	OpLt         = "lt"
	OpLe         = "le"
	OpGt         = "gt"
	OpGe         = "ge"
	OpContains   = "contains"
	OpStartsWith = "startsWith"
	OpEndsWith   = "endsWith"
	OpRegex      = "regex"
	OpIn         = "in"
)

var ErrInvalidCondition = errors.New("invalid condition")

// Condition is a tagged union: a simple field comparison, or an AND/OR over
// child conditions. Only the members for Kind are meaningful.
type Condition struct {
	Kind     Kind
	Field    string
	Op       string
	Value    any
	Children []Condition

	pattern *regexp.Regexp
	badRe   bool
}

func Simple(field, op string, value any) Condition {
	c := Condition{Kind: KindSimple, Field: field, Op: op, Value: normalizeValue(value)}
	c.prepare()
	return c
}

func And(children ...Condition) Condition {
	return Condition{Kind: KindAnd, Children: children}
}

func Or(children ...Condition) Condition {
	return Condition{Kind: KindOr, Children: children}
}

// prepare compiles a regex operand once so evaluation never compiles.
func (c *Condition) prepare() {
	if c.Kind != KindSimple || c.Op != OpRegex {
		return
	}
	text, ok := primitiveText(c.Value)
	if !ok {
		c.badRe = true
		return
	}
	re, err := regexp.Compile(text)
	if err != nil {
		c.badRe = true
		return
	}
	c.pattern = re
}

// Validate checks the structural invariants of the tree.
func (c Condition) Validate() error {
	switch c.Kind {
	case KindSimple:
		if c.Field == "" || c.Op == "" {
			return fmt.Errorf("%w: simple condition needs field and op", ErrInvalidCondition)
		}
	case KindAnd, KindOr:
		if len(c.Children) == 0 {
			return fmt.Errorf("%w: %s needs at least one child", ErrInvalidCondition, c.keyword())
		}
		for _, child := range c.Children {
			if err := child.Validate(); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidCondition, c.Kind)
	}
	return nil
}

func (c Condition) keyword() string {
	if c.Kind == KindOr {
		return "or"
	}
	return "and"
}

// UnmarshalJSON picks the variant by key: "and", then "or", then "field".
func (c *Condition) UnmarshalJSON(data []byte) error {
	obj := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: condition must be an object", ErrInvalidCondition)
	}
	if raw, ok := obj["and"]; ok {
		children := []Condition{}
		if err := json.Unmarshal(raw, &children); err != nil {
			return fmt.Errorf("%w: and must be an array: %v", ErrInvalidCondition, err)
		}
		*c = And(children...)
		return nil
	}
	if raw, ok := obj["or"]; ok {
		children := []Condition{}
		if err := json.Unmarshal(raw, &children); err != nil {
			return fmt.Errorf("%w: or must be an array: %v", ErrInvalidCondition, err)
		}
		*c = Or(children...)
		return nil
	}
	if rawField, ok := obj["field"]; ok {
		var field, op string
		if err := json.Unmarshal(rawField, &field); err != nil {
			return fmt.Errorf("%w: field must be a string", ErrInvalidCondition)
		}
		rawOp, ok := obj["op"]
		if !ok {
			return fmt.Errorf("%w: op is required", ErrInvalidCondition)
		}
		if err := json.Unmarshal(rawOp, &op); err != nil {
			return fmt.Errorf("%w: op must be a string", ErrInvalidCondition)
		}
		rawValue, ok := obj["value"]
		if !ok {
			return fmt.Errorf("%w: value is required", ErrInvalidCondition)
		}
		value, err := decodeValue(rawValue)
		if err != nil {
			return fmt.Errorf("%w: value: %v", ErrInvalidCondition, err)
		}
		*c = Simple(field, op, value)
		return nil
	}
	return fmt.Errorf("%w: unrecognized condition %s", ErrInvalidCondition, string(data))
}

func (c Condition) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case KindAnd:
		return json.Marshal(map[string][]Condition{"and": c.Children})
	case KindOr:
		return json.Marshal(map[string][]Condition{"or": c.Children})
	default:
		return json.Marshal(struct {
			Field string `json:"field"`
			Op    string `json:"op"`
			Value any    `json:"value"`
		}{c.Field, c.Op, c.Value})
	}
}

// decodeValue keeps numbers as json.Number so integer and float operands
// stay distinguishable.
func decodeValue(raw json.RawMessage) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case int:
		return json.Number(fmt.Sprint(v))
	case int32:
		return json.Number(fmt.Sprint(v))
	case int64:
		return json.Number(fmt.Sprint(v))
	case float64:
		return json.Number(fmt.Sprint(v))
	case []string:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, item)
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, normalizeValue(item))
		}
		return out
	default:
		return value
	}
}
