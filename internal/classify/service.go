// Package classify runs one request body through decode, normalize,
// vectorize and inference, and reports either a Result or a Failure.
package classify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"slices"
	"time"

	"github.com/shortontech/cursorguard/internal/event"
	"github.com/shortontech/cursorguard/internal/features"
	"github.com/shortontech/cursorguard/internal/logging"
	"github.com/shortontech/cursorguard/internal/model"
	"github.com/shortontech/cursorguard/internal/transport"
)

// MinPoints is the fewest cursor records accepted per request.
const MinPoints = 2

// Payload keys holding the cursor records; the first truthy one wins.
var CursorDataKeys = []string{"cursorData", "cursor_data"}

// State is built once at startup and shared read-only by every request.
type State struct {
	Classifier  model.Classifier
	Normalizer  *event.Normalizer
	Decoder     *transport.Decoder
	ModelLoaded bool
}

// NewState wires a loaded classifier with its request pipeline.
func NewState(clf model.Classifier, norm *event.Normalizer, dec *transport.Decoder) *State {
	if norm == nil {
		norm = event.NewNormalizer(event.PolicyPresence)
	}
	if dec == nil {
		dec = transport.NewDecoder(nil)
	}
	return &State{Classifier: clf, Normalizer: norm, Decoder: dec, ModelLoaded: clf != nil}
}

// Result is a successful classification.
type Result struct {
	Prediction      int            `json:"prediction"`
	Confidence      float64        `json:"confidence"`
	ProcessedPoints int            `json:"processed_points"`
	Probabilities   []float64      `json:"-"`
	Mode            transport.Mode `json:"-"`
	Latency         time.Duration  `json:"-"`
}

// Service classifies request bodies against a State.
type Service struct {
	state *State
	now   func() time.Time
}

func NewService(state *State) *Service {
	return &Service{state: state, now: time.Now}
}

// State returns the shared state the service was built with.
func (s *Service) State() *State { return s.state }

// Classify never panics; anything unexpected becomes a KindInternal failure.
func (s *Service) Classify(ctx context.Context, body []byte, header http.Header) (res Result, fail *Failure) {
	start := s.now()
	log := logging.Ctx(ctx)

	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("classify: recovered from panic")
			res, fail = Result{}, newFailure(KindInternal, fmt.Errorf("panic: %v", r))
		}
		if fail != nil {
			ev := log.Warn()
			if fail.Kind == KindInternal {
				ev = log.Error()
			}
			ev.Str("kind", string(fail.Kind)).Err(fail.Err).Msg("classify: request rejected")
		}
	}()

	res, fail = s.classify(body, header)
	if fail == nil {
		res.Latency = s.now().Sub(start)
	}
	return res, fail
}

func (s *Service) classify(body []byte, header http.Header) (Result, *Failure) {
	if s.state == nil || s.state.Classifier == nil {
		return Result{}, newFailure(KindInternal, model.ErrNotFitted)
	}

	decoded, err := s.state.Decoder.Decode(body, header)
	if err != nil {
		return Result{Mode: decoded.Mode}, decodeFailure(err)
	}

	records, fail := cursorData(decoded.Record)
	if fail != nil {
		return Result{Mode: decoded.Mode}, fail
	}

	events, err := s.state.Normalizer.NormalizeAll(records)
	if err != nil {
		f := newFailure(KindInvalidCursorData, err)
		var malformed *event.MalformedEventError
		if errors.As(err, &malformed) {
			f.with("index", malformed.Index)
		}
		return Result{Mode: decoded.Mode}, f
	}

	vec := features.Vectorize(events)
	row := vec.Slice()
	if want := s.state.Classifier.NumFeatures(); len(row) != want {
		err := &FeatureDimensionError{Expected: want, Received: len(row)}
		return Result{Mode: decoded.Mode}, newFailure(KindFeatureDimension, err).
			with("expected", want).
			with("received", len(row))
	}

	X := [][]float64{row}
	pred, err := s.state.Classifier.Predict(X)
	if err != nil {
		return Result{Mode: decoded.Mode}, newFailure(KindInternal, fmt.Errorf("predict: %w", err))
	}
	proba, err := s.state.Classifier.PredictProba(X)
	if err != nil {
		return Result{Mode: decoded.Mode}, newFailure(KindInternal, fmt.Errorf("predict proba: %w", err))
	}
	if len(pred) != 1 || len(proba) != 1 || len(proba[0]) == 0 {
		return Result{Mode: decoded.Mode}, newFailure(KindInternal, errors.New("classifier returned no prediction"))
	}

	return Result{
		Prediction:      pred[0],
		Confidence:      slices.Max(proba[0]),
		ProcessedPoints: features.Rows(len(records)),
		Probabilities:   proba[0],
		Mode:            decoded.Mode,
	}, nil
}

func decodeFailure(err error) *Failure {
	var (
		decErr *transport.DecryptionError
		ctErr  *transport.UnsupportedContentTypeError
	)
	switch {
	case errors.As(err, &decErr):
		return newFailure(KindDecryption, err)
	case errors.As(err, &ctErr):
		return newFailure(KindUnsupportedContentType, err)
	default:
		return newFailure(KindInvalidFormat, err)
	}
}

// cursorData extracts the record list. A falsy value under one key falls
// through to the next, so an empty cursorData still reads cursor_data.
func cursorData(rec transport.Record) ([]any, *Failure) {
	var raw any
	for _, k := range CursorDataKeys {
		if v, ok := rec[k]; ok && event.Truthy(v) {
			raw = v
			break
		}
	}
	if raw == nil {
		return nil, newFailure(KindMissingCursorData, nil)
	}
	records, ok := raw.([]any)
	if !ok {
		return nil, newFailure(KindTooFewPoints, fmt.Errorf("cursor data is %T, not a list", raw))
	}
	if len(records) < MinPoints {
		return nil, newFailure(KindTooFewPoints, fmt.Errorf("got %d points", len(records)))
	}
	return records, nil
}
