package sink

import (
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/shortontech/cursorguard/internal/classify"
	"github.com/shortontech/cursorguard/internal/logging"
)

// ErrCircuitOpen is returned by a guarded sink while its breaker is open.
var ErrCircuitOpen = errors.New("sink circuit open")

// BreakerConfig controls when a guarded sink stops accepting verdicts.
type BreakerConfig struct {
	FailureThreshold uint32        // consecutive failures before opening
	Timeout          time.Duration // open period before a trial enqueue
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Timeout: 30 * time.Second}
}

// Guarded wraps a Sink with a circuit breaker so a failing backend is
// skipped instead of retried on every verdict.
type Guarded struct {
	Sink
	cb *gobreaker.CircuitBreaker[struct{}]
}

func WithBreaker(s Sink, cfg BreakerConfig) *Guarded {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	settings := gobreaker.Settings{
		Name:        s.Name(),
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("sink", name).Str("from", from.String()).Str("to", to.String()).Msg("sink breaker state change")
		},
	}
	return &Guarded{Sink: s, cb: gobreaker.NewCircuitBreaker[struct{}](settings)}
}

func (g *Guarded) Enqueue(v classify.Verdict) error {
	_, err := g.cb.Execute(func() (struct{}, error) {
		return struct{}{}, g.Sink.Enqueue(v)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	return err
}

// State is "closed", "half-open" or "open".
func (g *Guarded) State() string { return g.cb.State().String() }
