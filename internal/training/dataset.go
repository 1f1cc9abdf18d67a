// Package training builds feature matrices from recorded mouse sessions and
// scores a classifier against labelled test sessions.
package training

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/shortontech/cursorguard/internal/event"
	"github.com/shortontech/cursorguard/internal/features"
	"github.com/shortontech/cursorguard/internal/logging"
)

// SessionColumns are the CSV headers every session file must carry.
var SessionColumns = []string{"record timestamp", "client timestamp", "button", "state", "x", "y"}

// Sample is one session turned into a feature vector.
type Sample struct {
	User    string
	Session string
	Vector  features.Vector
	Label   int
}

// Dataset is a set of samples in directory order.
type Dataset struct {
	Samples []Sample
	Skipped int
}

func (d *Dataset) Len() int { return len(d.Samples) }

// X returns the feature matrix.
func (d *Dataset) X() [][]float64 {
	X := make([][]float64, len(d.Samples))
	for i := range d.Samples {
		X[i] = d.Samples[i].Vector.Slice()
	}
	return X
}

// Y returns the labels aligned with X.
func (d *Dataset) Y() []int {
	y := make([]int, len(d.Samples))
	for i, s := range d.Samples {
		y[i] = s.Label
	}
	return y
}

// Loader reads sessions laid out as <root>/<user>/<session file>.
type Loader struct {
	Normalizer   *event.Normalizer
	Labels       map[string]int // keyed by session file name
	DefaultLabel int
}

// LoadDataset reads every session under root. Files that cannot be read or
// lack a required column are logged and skipped.
func (l *Loader) LoadDataset(root string) (*Dataset, error) {
	users, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read dataset root: %w", err)
	}
	norm := l.Normalizer

	ds := &Dataset{}
	for _, u := range users {
		if !u.IsDir() {
			continue
		}
		userDir := filepath.Join(root, u.Name())
		sessions, err := os.ReadDir(userDir)
		if err != nil {
			logging.Warn().Err(err).Str("dir", userDir).Msg("training: skipping unreadable user dir")
			continue
		}
		for _, s := range sessions {
			if s.IsDir() {
				continue
			}
			path := filepath.Join(userDir, s.Name())
			events, err := readSession(path, norm)
			if err != nil {
				logging.Warn().Err(err).Str("file", path).Msg("training: skipping session")
				ds.Skipped++
				continue
			}
			label, ok := l.Labels[s.Name()]
			if !ok {
				label = l.DefaultLabel
			}
			ds.Samples = append(ds.Samples, Sample{
				User:    u.Name(),
				Session: s.Name(),
				Vector:  features.Vectorize(events),
				Label:   label,
			})
		}
	}
	logging.Info().
		Str("root", root).
		Int("samples", len(ds.Samples)).
		Int("skipped", ds.Skipped).
		Msg("training: dataset loaded")
	return ds, nil
}

// ErrMissingColumn is returned for session files without a required header.
var ErrMissingColumn = errors.New("missing column")

func readSession(path string, norm *event.Normalizer) ([]event.CursorEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseSession(f, norm)
}

// parseSession reads at most MaxSequenceLength rows; later rows never reach
// the feature vector.
func parseSession(r io.Reader, norm *event.Normalizer) ([]event.CursorEvent, error) {
	if norm == nil {
		norm = event.NewNormalizer(event.PolicyPresence)
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(h)] = i
	}
	for _, col := range SessionColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("%w %q", ErrMissingColumn, col)
		}
	}

	var events []event.CursorEvent
	for len(events) < features.MaxSequenceLength {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(events)+1, err)
		}
		rec := make(map[string]any, len(SessionColumns))
		for _, col := range SessionColumns {
			i := index[col]
			if i >= len(row) {
				continue
			}
			if v := strings.TrimSpace(row[i]); v != "" {
				rec[col] = v
			}
		}
		ev, err := norm.Normalize(len(events), rec)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}
