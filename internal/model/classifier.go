// Package model holds the classifier contract used by training and serving,
// a CART decision tree implementing it, and the on-disk model blob.
package model

import (
	"errors"
	"fmt"
)

// Labels used throughout training and serving.
const (
	LabelHuman = 0
	LabelBot   = 1
)

// LabelName returns "human", "bot" or "class_<n>".
func LabelName(label int) string {
	switch label {
	case LabelHuman:
		return "human"
	case LabelBot:
		return "bot"
	default:
		return fmt.Sprintf("class_%d", label)
	}
}

// Classifier is a trained binary (or n-ary) classifier over fixed-width rows.
// Predict and PredictProba must be safe for concurrent use after Fit.
type Classifier interface {
	Fit(X [][]float64, y []int) error
	Predict(X [][]float64) ([]int, error)
	// PredictProba returns one row per sample, columns ordered as Classes().
	PredictProba(X [][]float64) ([][]float64, error)
	Classes() []int
	NumFeatures() int
}

var (
	ErrNotFitted   = errors.New("model is not fitted")
	ErrEmptyInput  = errors.New("no training samples")
	ErrLabelLength = errors.New("labels and samples differ in length")
)

// DimensionError reports a row whose width does not match the model.
type DimensionError struct {
	Row      int
	Expected int
	Received int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("row %d has %d features, model expects %d", e.Row, e.Received, e.Expected)
}

// UnavailableError means no usable classifier could be loaded. The server
// refuses to start on it.
type UnavailableError struct {
	Path string
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("model %s unavailable: %v", e.Path, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func checkRows(X [][]float64, width int) error {
	for i, row := range X {
		if len(row) != width {
			return &DimensionError{Row: i, Expected: width, Received: len(row)}
		}
	}
	return nil
}
