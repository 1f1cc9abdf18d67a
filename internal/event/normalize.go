package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Policy decides when an alias "has" a value.
type Policy string

const (
	// PolicyPresence takes the first alias that is present and not null.
	// A genuine 0 is kept.
	PolicyPresence Policy = "presence"
	// PolicyTruthy reproduces the legacy collector backend: earlier aliases
	// only win when their value is truthy, so 0, "" and false fall through to
	// later aliases and finally to the default. The last alias is taken
	// whenever it is present, null included.
	PolicyTruthy Policy = "truthy"
)

// ParsePolicy returns the named policy, defaulting to PolicyPresence.
func ParsePolicy(s string) Policy {
	if Policy(strings.ToLower(strings.TrimSpace(s))) == PolicyTruthy {
		return PolicyTruthy
	}
	return PolicyPresence
}

// Accepted key aliases per logical field, in priority order. CSV exports use
// the space separated names, the browser collector camelCase.
var (
	RecordTimestampKeys = []string{"recordTimestamp", "record timestamp", "record_timestamp"}
	ClientTimestampKeys = []string{"clientTimestamp", "client timestamp", "client_timestamp"}
	ButtonKeys          = []string{"button"}
	StateKeys           = []string{"state"}
	XKeys               = []string{"x"}
	YKeys               = []string{"y"}
)

var errNotObject = errors.New("record is not an object")

// Lookup is the result of resolving a field against its aliases.
type Lookup struct {
	Value any
	Alias int // index into the alias list; -1 when nothing matched
}

// Found reports whether any alias supplied the value.
func (l Lookup) Found() bool { return l.Alias >= 0 }

// Normalizer converts loosely keyed records into CursorEvents. It holds no
// mutable state and may be shared between goroutines.
type Normalizer struct {
	policy Policy
}

// NewNormalizer returns a Normalizer using policy.
func NewNormalizer(policy Policy) *Normalizer {
	if policy != PolicyTruthy {
		policy = PolicyPresence
	}
	return &Normalizer{policy: policy}
}

// Policy returns the lookup policy in use.
func (n *Normalizer) Policy() Policy { return n.policy }

// Resolve looks up the first alias in keys that holds a value under the
// normalizer's policy.
func (n *Normalizer) Resolve(rec map[string]any, keys []string) Lookup {
	for i, k := range keys {
		v, ok := rec[k]
		if !ok {
			continue
		}
		switch n.policy {
		case PolicyTruthy:
			if i == len(keys)-1 || Truthy(v) {
				return Lookup{Value: v, Alias: i}
			}
		default:
			if v != nil {
				return Lookup{Value: v, Alias: i}
			}
		}
	}
	return Lookup{Alias: -1}
}

// Normalize builds the CursorEvent for the record at position index.
func (n *Normalizer) Normalize(index int, raw any) (CursorEvent, error) {
	rec, ok := raw.(map[string]any)
	if !ok {
		return CursorEvent{}, &MalformedEventError{Index: index, Err: errNotObject}
	}

	var ev CursorEvent
	numeric := []struct {
		name string
		keys []string
		dst  *float64
	}{
		{"recordTimestamp", RecordTimestampKeys, &ev.RecordTimestamp},
		{"clientTimestamp", ClientTimestampKeys, &ev.ClientTimestamp},
		{"x", XKeys, &ev.X},
		{"y", YKeys, &ev.Y},
	}
	for _, f := range numeric {
		l := n.Resolve(rec, f.keys)
		if !l.Found() {
			continue
		}
		v, err := toFloat(l.Value)
		if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
			err = fmt.Errorf("non-finite number %v", l.Value)
		}
		if err != nil {
			return CursorEvent{}, &MalformedEventError{Index: index, Field: f.keys[l.Alias], Err: err}
		}
		*f.dst = v
	}

	ev.Button = Button(n.enum(rec, ButtonKeys, string(NoButton)))
	ev.State = State(n.enum(rec, StateKeys, string(Move)))
	return ev, nil
}

// NormalizeAll normalizes records in order and stops at the first failure.
func (n *Normalizer) NormalizeAll(records []any) ([]CursorEvent, error) {
	out := make([]CursorEvent, 0, len(records))
	for i, raw := range records {
		ev, err := n.Normalize(i, raw)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

// enum returns the string under keys, def when nothing was found, and "" for
// non-string values so the codec maps them to UnknownCode.
func (n *Normalizer) enum(rec map[string]any, keys []string, def string) string {
	l := n.Resolve(rec, keys)
	if !l.Found() {
		return def
	}
	s, _ := l.Value.(string)
	return s
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", t)
		}
		return f, nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	case nil:
		return 0, errors.New("null value")
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// Truthy reports whether v would count as true in a loosely typed client:
// null, false, zero, "" and empty containers do not.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
