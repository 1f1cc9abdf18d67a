package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/goccy/go-json"

	"github.com/shortontech/cursorguard/internal/classify"
)

// LogSink appends verdicts as NDJSON to LOG_PATH, or stdout when LOG_PATH is
// "stdout".
type LogSink struct {
	dst string
	mu  sync.Mutex
	f   *os.File
	w   io.Writer
}

func NewLogSink() *LogSink {
	return &LogSink{dst: loadEnv("LOG_").str("path", "ndjson.log")}
}

// NewLogSinkWriter writes to w; Start and Close leave w alone.
func NewLogSinkWriter(w io.Writer) *LogSink {
	return &LogSink{dst: "writer", w: w}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.w != nil:
		return nil
	case s.dst == "stdout":
		s.w = os.Stdout
		return nil
	}
	f, err := os.OpenFile(s.dst, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.dst, err)
	}
	s.f = f
	s.w = f
	return nil
}

func (s *LogSink) Enqueue(v classify.Verdict) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize verdict: %w", err)
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.w == nil {
		return fmt.Errorf("log sink not started")
	}
	_, err = s.w.Write(b)
	return err
}

func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	s.w = nil
	return err
}
