package training

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shortontech/cursorguard/internal/model"
)

// ReportLabels are the classes scored by Evaluate, in matrix order.
var ReportLabels = []int{model.LabelHuman, model.LabelBot}

// ClassScore is one row of the classification report.
type ClassScore struct {
	Label     int     `json:"label"`
	Name      string  `json:"name"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Report summarises predictions against ground truth.
type Report struct {
	Samples   int          `json:"samples"`
	Accuracy  float64      `json:"accuracy"`
	Confusion [2][2]int    `json:"confusion"` // [actual][predicted]
	Classes   []ClassScore `json:"classes"`
	MacroF1   float64      `json:"macro_f1"`
}

// Evaluate scores yhat against y. Labels outside ReportLabels count towards
// accuracy but not the confusion matrix.
func Evaluate(y, yhat []int) (Report, error) {
	if len(y) != len(yhat) {
		return Report{}, fmt.Errorf("%d labels but %d predictions", len(y), len(yhat))
	}
	if len(y) == 0 {
		return Report{}, errors.New("nothing to evaluate")
	}

	r := Report{Samples: len(y)}
	correct := 0
	for i := range y {
		if y[i] == yhat[i] {
			correct++
		}
		a, p := slot(y[i]), slot(yhat[i])
		if a >= 0 && p >= 0 {
			r.Confusion[a][p]++
		}
	}
	r.Accuracy = float64(correct) / float64(len(y))

	for i, label := range ReportLabels {
		tp := r.Confusion[i][i]
		predicted, actual := 0, 0
		for j := range ReportLabels {
			predicted += r.Confusion[j][i]
			actual += r.Confusion[i][j]
		}
		c := ClassScore{
			Label:     label,
			Name:      model.LabelName(label),
			Precision: ratio(tp, predicted),
			Recall:    ratio(tp, actual),
			Support:   actual,
		}
		if c.Precision+c.Recall > 0 {
			c.F1 = 2 * c.Precision * c.Recall / (c.Precision + c.Recall)
		}
		r.MacroF1 += c.F1 / float64(len(ReportLabels))
		r.Classes = append(r.Classes, c)
	}
	return r, nil
}

func slot(label int) int {
	for i, l := range ReportLabels {
		if l == label {
			return i
		}
	}
	return -1
}

// ratio returns 0 for an empty denominator.
func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// String renders the report as a plain-text table.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "samples:  %d\n", r.Samples)
	fmt.Fprintf(&b, "accuracy: %.4f\n\n", r.Accuracy)
	fmt.Fprintf(&b, "%-14s %10s %10s\n", "actual\\pred", "human", "bot")
	for i, label := range ReportLabels {
		fmt.Fprintf(&b, "%-14s %10d %10d\n", model.LabelName(label), r.Confusion[i][0], r.Confusion[i][1])
	}
	fmt.Fprintf(&b, "\n%-8s %10s %10s %10s %10s\n", "", "precision", "recall", "f1", "support")
	for _, c := range r.Classes {
		fmt.Fprintf(&b, "%-8s %10.4f %10.4f %10.4f %10d\n", c.Name, c.Precision, c.Recall, c.F1, c.Support)
	}
	fmt.Fprintf(&b, "\nmacro f1: %.4f\n", r.MacroF1)
	return b.String()
}
