package event

import "fmt"

// MalformedEventError reports a cursor record that could not be turned into
// a CursorEvent. Index is the record's position in the submitted sequence.
type MalformedEventError struct {
	Index int
	Field string // empty when the record itself is not an object
	Err   error
}

func (e *MalformedEventError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("cursor event %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("cursor event %d: field %q: %v", e.Index, e.Field, e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }
