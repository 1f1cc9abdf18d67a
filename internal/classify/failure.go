package classify

import (
	"fmt"
	"net/http"
)

// Kind names the pipeline stage that rejected a request.
type Kind string

const (
	KindDecryption             Kind = "decryption"
	KindUnsupportedContentType Kind = "unsupported_content_type"
	KindInvalidFormat          Kind = "invalid_format"
	KindMissingCursorData      Kind = "missing_cursor_data"
	KindTooFewPoints           Kind = "too_few_points"
	KindInvalidCursorData      Kind = "invalid_cursor_data"
	KindFeatureDimension       Kind = "feature_dimension"
	KindInternal               Kind = "internal"
)

var messages = map[Kind]string{
	KindDecryption:             "Decryption failed",
	KindUnsupportedContentType: "Unsupported content type",
	KindInvalidFormat:          "Invalid data format",
	KindMissingCursorData:      "Missing cursor data",
	KindTooFewPoints:           "At least 2 cursor data points required",
	KindInvalidCursorData:      "Invalid cursor data format",
	KindFeatureDimension:       "Feature dimension mismatch",
	KindInternal:               "Internal server error",
}

// Failure is the outcome of a rejected classification. Message and Details
// are safe to return to the client; Err is for logs only.
type Failure struct {
	Kind    Kind
	Status  int
	Message string
	Details map[string]any
	Err     error
}

func newFailure(kind Kind, err error) *Failure {
	status := http.StatusBadRequest
	if kind == KindInternal {
		status = http.StatusInternalServerError
	}
	return &Failure{Kind: kind, Status: status, Message: messages[kind], Err: err}
}

func (f *Failure) with(key string, v any) *Failure {
	if f.Details == nil {
		f.Details = map[string]any{}
	}
	f.Details[key] = v
	return f
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	}
	return string(f.Kind)
}

func (f *Failure) Unwrap() error { return f.Err }

// Body is the JSON error response: {"error": Message, ...Details}.
func (f *Failure) Body() map[string]any {
	body := make(map[string]any, len(f.Details)+1)
	for k, v := range f.Details {
		body[k] = v
	}
	body["error"] = f.Message
	return body
}

// FeatureDimensionError reports a feature vector whose width differs from
// what the loaded classifier expects.
type FeatureDimensionError struct {
	Expected int
	Received int
}

func (e *FeatureDimensionError) Error() string {
	return fmt.Sprintf("feature dimension mismatch: expected %d, received %d", e.Expected, e.Received)
}
