package convert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFloat(t *testing.T) {
	tests := []struct {
		name   string
		in     interface{}
		want   float64
		wantOK bool
	}{
		{"int", 3, 3, true},
		{"int64", int64(7), 7, true},
		{"float", 2.5, 2.5, true},
		{"numeric string", " 42 ", 42, true},
		{"text", "abc", 0, false},
		{"nil", nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Float(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "", String(nil))
	assert.Equal(t, "1.5", String(1.5))
	assert.Equal(t, "12", String(12))
	assert.Equal(t, "true", String(true))
}

func TestBool(t *testing.T) {
	assert.True(t, Bool(true))
	assert.True(t, Bool("true"))
	assert.True(t, Bool(1))
	assert.False(t, Bool(nil))
	assert.False(t, Bool("nope"))
	assert.False(t, Bool(0))
}

func TestStrings(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Strings([]interface{}{"a", "", "b"}))
	assert.Equal(t, []string{"x"}, Strings("x"))
	assert.Nil(t, Strings(""))
	assert.Nil(t, Strings(5))
}

func TestTime(t *testing.T) {
	want := time.Date(2025, 9, 24, 10, 30, 0, 0, time.UTC)

	got, err := Time("2025-09-24T10:30:00Z")
	assert.NoError(t, err)
	assert.True(t, want.Equal(got))

	got, err = Time(want.UnixMilli())
	assert.NoError(t, err)
	assert.True(t, want.Equal(got))

	got, err = Time("2025-09-24")
	assert.NoError(t, err)
	assert.Equal(t, 24, got.Day())

	_, err = Time("yesterday")
	assert.Error(t, err)
}

func TestClone(t *testing.T) {
	src := map[string]interface{}{
		"recipients": []string{"agent-1"},
		"payload":    map[string]interface{}{"tags": []interface{}{"vip"}},
		"count":      2,
	}
	cp := CloneMap(src)
	assert.Equal(t, src, cp)

	src["recipients"].([]string)[0] = "changed"
	src["payload"].(map[string]interface{})["tags"].([]interface{})[0] = "changed"
	src["count"] = 3

	assert.Equal(t, []string{"agent-1"}, cp["recipients"])
	assert.Equal(t, []interface{}{"vip"}, cp["payload"].(map[string]interface{})["tags"])
	assert.Equal(t, 2, cp["count"])
	assert.Nil(t, CloneMap(nil))
}
