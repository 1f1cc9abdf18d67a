// Package event models pointer samples recorded by the browser collector and
// normalizes the differently named records producers send.
package event

// Button is the pointer button reported with a sample.
type Button string

const (
	NoButton Button = "NoButton"
	Left     Button = "Left"
	Right    Button = "Right"
)

// State is the interaction state of a sample.
type State string

const (
	Move     State = "Move"
	Pressed  State = "Pressed"
	Released State = "Released"
)

// CursorEvent is one observed pointer sample. Values are copied on
// construction and never mutated afterwards.
type CursorEvent struct {
	RecordTimestamp float64 `json:"recordTimestamp"` // receiver clock, seconds
	ClientTimestamp float64 `json:"clientTimestamp"` // sender clock, seconds
	Button          Button  `json:"button"`
	State           State   `json:"state"`
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
}
