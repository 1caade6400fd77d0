package core

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueOf(t *testing.T) {
	tests := []struct {
		name    string
		raw     interface{}
		want    Value
		wantErr bool
	}{
		{"string", "Sales", TextValue("Sales"), false},
		{"int", 35, IntValue(35), false},
		{"int64", int64(-4), IntValue(-4), false},
		{"integral float", float64(50000), IntValue(50000), false},
		{"fractional float", 1.5, Value{}, true},
		{"float at 2^63 overflows", float64(math.MaxInt64), Value{}, true},
		{"float above 2^63", 1e19, Value{}, true},
		{"float at -2^63", float64(math.MinInt64), IntValue(math.MinInt64), false},
		{"float at 2^62", float64(1<<62), IntValue(1 << 62), false},
		{"bool", true, Value{}, true},
		{"nil", nil, Value{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValueOf(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAttributesFrom_JSONOverflow(t *testing.T) {
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(`{"salary": 9223372036854775807}`), &raw))

	_, err := AttributesFrom(raw)
	assert.Error(t, err, "2^63 must not wrap to a negative integer")
}

func TestAttributesFrom_JSON(t *testing.T) {
	var raw map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(`{"age": 35, "department": "Sales"}`), &raw))

	attrs, err := AttributesFrom(raw)
	require.NoError(t, err)
	assert.Equal(t, IntValue(35), attrs["age"])
	assert.Equal(t, TextValue("Sales"), attrs["department"])

	raw["bad"] = []string{"x"}
	_, err = AttributesFrom(raw)
	assert.ErrorContains(t, err, `attribute "bad"`)
}

func TestValue_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Attributes{"age": IntValue(30)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"age": 30}`, string(data))

	data, err = json.Marshal(TextValue(`O'Brien "x"`))
	require.NoError(t, err)
	assert.JSONEq(t, `"O'Brien \"x\""`, string(data))
}

func TestParseAttribute(t *testing.T) {
	c := DefaultCatalog()

	v, err := ParseAttribute(c, "age", "42")
	require.NoError(t, err)
	assert.Equal(t, IntValue(42), v)

	v, err = ParseAttribute(c, "department", "42")
	require.NoError(t, err)
	assert.Equal(t, TextValue("42"), v)

	_, err = ParseAttribute(c, "salary", "lots")
	assert.Error(t, err)

	v, err = ParseAttribute(c, "team", "red")
	require.NoError(t, err)
	assert.Equal(t, TextValue("red"), v)

	v, err = ParseAttribute(c, "level", "7")
	require.NoError(t, err)
	assert.Equal(t, IntValue(7), v)
}

func TestLoadAttributesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.yaml")
	require.NoError(t, os.WriteFile(path, []byte("age: 35\ndepartment: Sales\nsalary: 45000\n"), 0o600))

	attrs, err := LoadAttributesYAML(path)
	require.NoError(t, err)
	assert.Equal(t, Attributes{
		"age":        IntValue(35),
		"department": TextValue("Sales"),
		"salary":     IntValue(45000),
	}, attrs)

	_, err = LoadAttributesYAML(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = ParseAttributesYAML([]byte("age: [1, 2]"))
	assert.Error(t, err)
}
