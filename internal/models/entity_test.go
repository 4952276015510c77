package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntity_ID(t *testing.T) {
	tests := []struct {
		value    any
		name     string
		expected string
	}{
		{name: "string id", value: "order-1", expected: "order-1"},
		{name: "json number id", value: float64(42), expected: "42"},
		{name: "int id", value: 7, expected: "7"},
		{name: "int64 id", value: int64(99), expected: "99"},
		{name: "missing id", value: nil, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Entity{}
			if tt.value != nil {
				e[FieldID] = tt.value
			}
			assert.Equal(t, tt.expected, e.ID())
		})
	}
}

func TestEntity_Clone_IsDeep(t *testing.T) {
	original := Entity{
		FieldID: "p1",
		"price": float64(1000),
		"attrs": map[string]any{"color": "red"},
		"tags":  []any{"sale"},
	}

	clone := original.Clone()
	clone["price"] = float64(2000)
	clone["attrs"].(map[string]any)["color"] = "blue"
	clone["tags"].([]any)[0] = "new"

	// Оригинал не должен измениться
	assert.Equal(t, float64(1000), original["price"])
	assert.Equal(t, "red", original["attrs"].(map[string]any)["color"])
	assert.Equal(t, "sale", original["tags"].([]any)[0])
}

func TestMerge_Shallow(t *testing.T) {
	dst := Entity{FieldID: "o1", "status": "XAC_NHAN", "note": "keep"}
	src := Entity{"status": "DANG_GIAO"}

	merged := Merge(dst, src)

	assert.Equal(t, "DANG_GIAO", merged["status"])
	assert.Equal(t, "keep", merged["note"])
	// Входные значения не изменяются
	assert.Equal(t, "XAC_NHAN", dst["status"])
}

func TestValueEqual_NumericNormalization(t *testing.T) {
	assert.True(t, ValueEqual(3, float64(3)))
	assert.True(t, ValueEqual(int64(5), 5))
	assert.False(t, ValueEqual(3, 4))
	assert.True(t, ValueEqual(
		map[string]any{"qty": 2},
		map[string]any{"qty": float64(2)},
	))
	assert.False(t, ValueEqual(nil, ""))
}

func TestEntity_UpdatedAt(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	e := Entity{FieldUpdatedAt: ts.Format(time.RFC3339Nano)}
	require.Equal(t, ts, e.UpdatedAt())

	e = Entity{FieldUpdatedAt: ts}
	require.Equal(t, ts, e.UpdatedAt())

	e = Entity{}
	assert.True(t, e.UpdatedAt().IsZero())
}

func TestIsEmptyValue(t *testing.T) {
	assert.True(t, IsEmptyValue(nil))
	assert.True(t, IsEmptyValue(""))
	assert.True(t, IsEmptyValue(float64(0)))
	assert.True(t, IsEmptyValue([]any{}))
	assert.False(t, IsEmptyValue("x"))
	assert.False(t, IsEmptyValue(float64(1)))
	assert.False(t, IsEmptyValue(false), "bool is never considered empty")
}
