package event

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAliasesAreEquivalent(t *testing.T) {
	n := NewNormalizer(PolicyPresence)
	want := CursorEvent{
		RecordTimestamp: 1700000000.5,
		ClientTimestamp: 12.25,
		Button:          Left,
		State:           Pressed,
		X:               10,
		Y:               20,
	}

	records := []map[string]any{
		{"recordTimestamp": 1700000000.5, "clientTimestamp": 12.25, "button": "Left", "state": "Pressed", "x": 10.0, "y": 20.0},
		{"record timestamp": 1700000000.5, "client timestamp": 12.25, "button": "Left", "state": "Pressed", "x": 10.0, "y": 20.0},
		{"record_timestamp": 1700000000.5, "client_timestamp": 12.25, "button": "Left", "state": "Pressed", "x": 10.0, "y": 20.0},
	}
	for i, rec := range records {
		got, err := n.Normalize(i, rec)
		require.NoError(t, err)
		assert.Equal(t, want, got, "record %d", i)
	}
}

func TestNormalizeDefaults(t *testing.T) {
	for _, policy := range []Policy{PolicyPresence, PolicyTruthy} {
		t.Run(string(policy), func(t *testing.T) {
			got, err := NewNormalizer(policy).Normalize(0, map[string]any{})
			require.NoError(t, err)
			assert.Equal(t, CursorEvent{Button: NoButton, State: Move}, got)
		})
	}
}

func TestNormalizeAliasPriority(t *testing.T) {
	n := NewNormalizer(PolicyPresence)
	rec := map[string]any{
		"recordTimestamp":  1.0,
		"record timestamp": 2.0,
		"record_timestamp": 3.0,
	}
	l := n.Resolve(rec, RecordTimestampKeys)
	assert.True(t, l.Found())
	assert.Equal(t, 0, l.Alias)

	delete(rec, "recordTimestamp")
	l = n.Resolve(rec, RecordTimestampKeys)
	assert.Equal(t, 1, l.Alias)
	assert.Equal(t, 2.0, l.Value)

	assert.False(t, n.Resolve(map[string]any{}, RecordTimestampKeys).Found())
}

func TestNormalizeZeroTimestamp(t *testing.T) {
	rec := map[string]any{
		"recordTimestamp":  0.0,
		"record_timestamp": 5.0,
		"x":                0.0,
	}

	t.Run("presence keeps a genuine zero", func(t *testing.T) {
		got, err := NewNormalizer(PolicyPresence).Normalize(0, rec)
		require.NoError(t, err)
		assert.Equal(t, 0.0, got.RecordTimestamp)
	})

	t.Run("truthy falls through to later alias", func(t *testing.T) {
		got, err := NewNormalizer(PolicyTruthy).Normalize(0, rec)
		require.NoError(t, err)
		assert.Equal(t, 5.0, got.RecordTimestamp)
	})

	t.Run("truthy replaces lone zero with default", func(t *testing.T) {
		got, err := NewNormalizer(PolicyTruthy).Normalize(0, map[string]any{"clientTimestamp": 0.0})
		require.NoError(t, err)
		assert.Equal(t, 0.0, got.ClientTimestamp)
	})
}

func TestNormalizeNullValues(t *testing.T) {
	rec := map[string]any{"x": nil, "button": nil}

	got, err := NewNormalizer(PolicyPresence).Normalize(0, rec)
	require.NoError(t, err)
	assert.Equal(t, 0.0, got.X)
	assert.Equal(t, NoButton, got.Button)

	_, err = NewNormalizer(PolicyTruthy).Normalize(3, rec)
	var me *MalformedEventError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, 3, me.Index)
	assert.Equal(t, "x", me.Field)
}

func TestNormalizeValueConversion(t *testing.T) {
	n := NewNormalizer(PolicyPresence)
	got, err := n.Normalize(0, map[string]any{
		"recordTimestamp": " 12.5 ",
		"clientTimestamp": json.Number("7"),
		"x":               true,
		"y":               3,
		"button":          5.0,
		"state":           "Hovering",
	})
	require.NoError(t, err)
	assert.Equal(t, 12.5, got.RecordTimestamp)
	assert.Equal(t, 7.0, got.ClientTimestamp)
	assert.Equal(t, 1.0, got.X)
	assert.Equal(t, 3.0, got.Y)
	assert.Equal(t, 0, got.Button.Code())
	assert.Equal(t, 0, got.State.Code())
}

func TestNormalizeMalformed(t *testing.T) {
	n := NewNormalizer(PolicyPresence)

	t.Run("non-object record", func(t *testing.T) {
		_, err := n.NormalizeAll([]any{map[string]any{}, "oops"})
		var me *MalformedEventError
		require.True(t, errors.As(err, &me))
		assert.Equal(t, 1, me.Index)
		assert.Empty(t, me.Field)
		assert.Contains(t, err.Error(), "cursor event 1")
	})

	t.Run("unparseable number", func(t *testing.T) {
		_, err := n.NormalizeAll([]any{
			map[string]any{"x": 1.0},
			map[string]any{"x": 2.0},
			map[string]any{"client timestamp": "yesterday"},
		})
		var me *MalformedEventError
		require.True(t, errors.As(err, &me))
		assert.Equal(t, 2, me.Index)
		assert.Equal(t, "client timestamp", me.Field)
	})

	t.Run("non-finite numbers", func(t *testing.T) {
		for _, v := range []any{"NaN", "nan", "Inf", "-Inf", "+infinity", json.Number("1e999")} {
			_, err := n.Normalize(3, map[string]any{"x": 1.0, "y": v})
			var me *MalformedEventError
			require.True(t, errors.As(err, &me), "y=%v", v)
			assert.Equal(t, 3, me.Index)
			assert.Equal(t, "y", me.Field)
		}
	})

	t.Run("nested object", func(t *testing.T) {
		_, err := n.Normalize(0, map[string]any{"y": map[string]any{"v": 1}})
		require.Error(t, err)
	})
}

func TestNormalizeAllPreservesOrder(t *testing.T) {
	n := NewNormalizer(PolicyPresence)
	var records []any
	for i := 0; i < 5; i++ {
		records = append(records, map[string]any{"x": float64(i)})
	}
	events, err := n.NormalizeAll(records)
	require.NoError(t, err)
	require.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, float64(i), ev.X)
	}
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, PolicyTruthy, ParsePolicy(" Truthy "))
	assert.Equal(t, PolicyPresence, ParsePolicy("presence"))
	assert.Equal(t, PolicyPresence, ParsePolicy(""))
	assert.Equal(t, PolicyPresence, NewNormalizer(Policy("other")).Policy())
}
