package core

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Value is a typed attribute value supplied at evaluation time.
type Value struct {
	Kind Kind
	Int  int64
	Text string
}

// IntValue returns an Integer value.
func IntValue(i int64) Value {
	return Value{Kind: KindInteger, Int: i}
}

// TextValue returns a Text value.
func TextValue(s string) Value {
	return Value{Kind: KindText, Text: s}
}

// String renders the value the way it would appear in a rule literal.
func (v Value) String() string {
	if v.Kind == KindInteger {
		return strconv.FormatInt(v.Int, 10)
	}
	return v.Text
}

// Interface returns the value as a plain Go scalar.
func (v Value) Interface() interface{} {
	if v.Kind == KindInteger {
		return v.Int
	}
	return v.Text
}

// MarshalJSON encodes the value as a JSON number or string.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Kind == KindInteger {
		return []byte(strconv.FormatInt(v.Int, 10)), nil
	}
	return []byte(strconv.Quote(v.Text)), nil
}

// ValueOf converts a decoded JSON or YAML scalar into a Value.
// Integral float64 values (as produced by encoding/json) become Integer values.
func ValueOf(raw interface{}) (Value, error) {
	switch x := raw.(type) {
	case Value:
		return x, nil
	case string:
		return TextValue(x), nil
	case int:
		return IntValue(int64(x)), nil
	case int32:
		return IntValue(int64(x)), nil
	case int64:
		return IntValue(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return Value{}, fmt.Errorf("integer %d overflows int64", x)
		}
		return IntValue(int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			return Value{}, fmt.Errorf("integer %d overflows int64", x)
		}
		return IntValue(int64(x)), nil
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) || x >= 1<<63 || x < math.MinInt64 {
			return Value{}, fmt.Errorf("number %v is not an integer", x)
		}
		return IntValue(int64(x)), nil
	default:
		return Value{}, fmt.Errorf("unsupported attribute value type %T", raw)
	}
}

// Attributes is the attribute map a rule is evaluated against.
type Attributes map[string]Value

// AttributesFrom converts a decoded map into Attributes.
func AttributesFrom(raw map[string]interface{}) (Attributes, error) {
	attrs := make(Attributes, len(raw))
	for name, v := range raw {
		val, err := ValueOf(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		attrs[name] = val
	}
	return attrs, nil
}

// ParseAttribute converts a command-line "value" string into a Value using the
// catalog kind of name. Names outside the catalog become Integer when the text
// parses as one and Text otherwise.
func ParseAttribute(catalog *Catalog, name, raw string) (Value, error) {
	kind, ok := catalog.Lookup(name)
	if !ok {
		if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
			return IntValue(i), nil
		}
		return TextValue(raw), nil
	}
	if kind == KindText {
		return TextValue(raw), nil
	}
	i, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("attribute %q expects an integer, got %q", name, raw)
	}
	return IntValue(i), nil
}

// LoadAttributesYAML reads a flat YAML mapping of attribute values from path.
func LoadAttributesYAML(path string) (Attributes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attribute file: %w", err)
	}
	return ParseAttributesYAML(data)
}

// ParseAttributesYAML decodes a flat YAML mapping of attribute values.
func ParseAttributesYAML(data []byte) (Attributes, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse attribute YAML: %w", err)
	}
	return AttributesFrom(raw)
}
