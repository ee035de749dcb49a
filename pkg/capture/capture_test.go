package capture

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type account struct {
	Owner   string
	Balance int
	secret  string
}

func TestNewHit(t *testing.T) {
	hit := NewHit(KindBreakpoint)

	_, err := uuid.Parse(hit.ID)
	require.NoError(t, err)
	assert.Equal(t, KindBreakpoint, hit.Kind)
	assert.NotEmpty(t, hit.CapturedAt)
	assert.NotEqual(t, hit.ID, NewHit(KindBreakpoint).ID)
}

func TestSnapshot(t *testing.T) {
	t.Run("nil context", func(t *testing.T) {
		assert.Nil(t, Snapshot(nil, 3))
	})

	t.Run("string keyed map", func(t *testing.T) {
		type binding map[string]interface{}
		locals := Snapshot(binding{"x": 5, "name": "bob", "missing": nil}, 3)

		require.Len(t, locals, 3)
		assert.Equal(t, Variable{Name: "x", Type: "int", Value: "5"}, locals["x"])
		assert.Equal(t, "bob", locals["name"].Value)
		assert.True(t, locals["missing"].IsNull)
	})

	t.Run("other value", func(t *testing.T) {
		locals := Snapshot(42, 3)
		assert.Equal(t, "42", locals["context"].Value)
	})
}

func TestCaptureValue(t *testing.T) {
	t.Run("struct exports only public fields", func(t *testing.T) {
		v := CaptureValue("acct", &account{Owner: "ann", Balance: 10, secret: "x"}, 3)

		assert.Equal(t, "<account>", v.Value)
		assert.Len(t, v.Children, 2)
		assert.Equal(t, "10", v.Children["Balance"].Value)
	})

	t.Run("long strings are truncated", func(t *testing.T) {
		v := CaptureValue("s", strings.Repeat("a", maxStringLength+5), 1)
		assert.True(t, v.IsTruncated)
		assert.Len(t, v.Value, maxStringLength)
	})

	t.Run("truncation keeps runes whole", func(t *testing.T) {
		v := CaptureValue("s", "a"+strings.Repeat("é", maxStringLength), 1)
		assert.True(t, v.IsTruncated)
		assert.True(t, utf8.ValidString(v.Value))
		assert.Len(t, v.Value, maxStringLength-1)
	})

	t.Run("self referencing pointer stops at max depth", func(t *testing.T) {
		var x interface{}
		x = &x

		v := CaptureValue("x", x, 4)
		assert.True(t, v.IsTruncated)
		assert.Equal(t, "<max depth exceeded>", v.Value)
	})

	t.Run("pointer chain counts toward depth", func(t *testing.T) {
		n := 1
		p := &n
		pp := &p
		assert.Equal(t, "1", CaptureValue("pp", pp, 2).Value)
		assert.True(t, CaptureValue("pp", pp, 1).IsTruncated)
	})

	t.Run("large slices are truncated", func(t *testing.T) {
		v := CaptureValue("xs", make([]int, maxElements+1), 2)
		assert.True(t, v.IsTruncated)
		assert.Len(t, v.ArrayElements, maxElements)
		require.NotNil(t, v.ArrayLength)
		assert.Equal(t, maxElements+1, *v.ArrayLength)
	})

	t.Run("depth limit", func(t *testing.T) {
		nested := map[string]interface{}{"a": map[string]interface{}{"b": 1}}
		v := CaptureValue("n", nested, 0)
		assert.True(t, v.Children["a"].IsTruncated)
	})

	t.Run("nil slice", func(t *testing.T) {
		var xs []string
		assert.True(t, CaptureValue("xs", xs, 1).IsNull)
	})
}

func TestHitJSON(t *testing.T) {
	hit := NewHit(KindCatchpoint)
	hit.Exception = "fs.PathError"
	hit.HitCount = 2

	data, err := json.Marshal(hit)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, "catchpoint", fields["kind"])
	assert.Equal(t, "fs.PathError", fields["exception"])
	assert.NotContains(t, fields, "file_path")
}
