// Package features turns cursor event sequences into the fixed-length vector
// the classifier consumes. Training ingestion and the online service both
// call Vectorize, so the column layout cannot drift between them.
package features

import "github.com/shortontech/cursorguard/internal/event"

const (
	// MaxSequenceLength is the number of rows kept per session.
	MaxSequenceLength = 100
	// FeaturesPerRow: recordTimestamp, clientTimestamp, button, state, x, y.
	FeaturesPerRow = 6
	// Length is the size of every Vector.
	Length = MaxSequenceLength * FeaturesPerRow
)

// Vector is a flattened, zero-padded session.
type Vector [Length]float64

// Row encodes a single event.
func Row(ev event.CursorEvent) [FeaturesPerRow]float64 {
	return [FeaturesPerRow]float64{
		ev.RecordTimestamp,
		ev.ClientTimestamp,
		float64(ev.Button.Code()),
		float64(ev.State.Code()),
		ev.X,
		ev.Y,
	}
}

// Vectorize keeps the first MaxSequenceLength events, encodes them row-major
// and leaves the remaining rows zero.
func Vectorize(events []event.CursorEvent) Vector {
	var v Vector
	n := min(len(events), MaxSequenceLength)
	for i := 0; i < n; i++ {
		row := Row(events[i])
		copy(v[i*FeaturesPerRow:], row[:])
	}
	return v
}

// Rows returns how many real (non-padding) rows Vectorize keeps for n events.
func Rows(n int) int {
	return max(0, min(n, MaxSequenceLength))
}

// Slice returns the vector as a slice for matrix-based APIs.
func (v *Vector) Slice() []float64 {
	return v[:]
}

// Matrix stacks vectors into the row-per-sample layout classifiers take.
func Matrix(vs ...Vector) [][]float64 {
	out := make([][]float64, len(vs))
	for i := range vs {
		out[i] = vs[i][:]
	}
	return out
}
