package event

// Kind selects which categorical table Encode consults.
type Kind int

const (
	KindButton Kind = iota
	KindState
)

// UnknownCode is returned for any value missing from a table.
const UnknownCode = 0

var (
	buttonCodes = map[string]int{
		string(NoButton): 0,
		string(Left):     1,
		string(Right):    2,
	}
	stateCodes = map[string]int{
		string(Move):     0,
		string(Pressed):  1,
		string(Released): 2,
	}
)

// Encode maps a categorical value to its integer code. It is total: unknown
// kinds and values, including "", map to UnknownCode.
func Encode(kind Kind, value string) int {
	var table map[string]int
	switch kind {
	case KindButton:
		table = buttonCodes
	case KindState:
		table = stateCodes
	default:
		return UnknownCode
	}
	if code, ok := table[value]; ok {
		return code
	}
	return UnknownCode
}

// Code is Encode(KindButton, string(b)).
func (b Button) Code() int { return Encode(KindButton, string(b)) }

// Code is Encode(KindState, string(s)).
func (s State) Code() int { return Encode(KindState, string(s)) }
