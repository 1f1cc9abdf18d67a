package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/shortontech/cursorguard/internal/classify"
	"github.com/shortontech/cursorguard/internal/event"
	"github.com/shortontech/cursorguard/internal/features"
	"github.com/shortontech/cursorguard/internal/logging"
	"github.com/shortontech/cursorguard/internal/metrics"
	"github.com/shortontech/cursorguard/internal/model"
	"github.com/shortontech/cursorguard/internal/transport"
	"github.com/shortontech/cursorguard/pkg/config"
)

// syntheticSession is a generated cursor trace with a known label.
type syntheticSession struct {
	Name   string
	Label  int
	Points []map[string]any
}

type selfTestRequest struct {
	body   []byte
	header http.Header
}

type selfTestSummary struct {
	Requests int
	Correct  int
	Failures int
}

func newSelfTestCmd() *cobra.Command {
	var sessions int
	var seed uint64
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Classify synthetic human and bot sessions through the full pipeline",
		Long: `Generates human-like and bot-like cursor sessions, sends each one through
the decoder and classifier as plain JSON and as an encrypted body, and emits
the verdicts to the configured OUTPUTS. If MODEL_PATH cannot be loaded a
model is fitted on a separate batch of synthetic sessions.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runSelfTest(cmd.Context(), cfg, sessions, seed, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&sessions, "sessions", 10, "sessions per class")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "random seed for session generation")
	return cmd
}

func runSelfTest(ctx context.Context, cfg config.Config, perClass int, seed uint64, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x5eed))

	tree, err := model.LoadFile(cfg.ModelPath)
	if err != nil {
		logging.Warn().Err(err).Msg("selftest: fitting a model on synthetic sessions")
		if tree, err = fitSynthetic(generateSessions(rng, max(perClass, 20))); err != nil {
			return err
		}
	}

	state, err := buildState(cfg, tree)
	if err != nil {
		return err
	}
	var c *transport.Cipher
	if cfg.EncryptionEnabled {
		if c, err = transport.NewCipher([]byte(cfg.AESKey)); err != nil {
			return err
		}
	}

	m := metrics.InitMetrics()
	sinks := initializeSinks(ctx, cfg.Outputs, m)
	defer func() {
		for _, s := range sinks {
			_ = s.Close()
		}
	}()

	summary, err := classifySessions(ctx, classify.NewService(state), c, createEmitFunc(sinks, m), cfg.IPHashSecret, generateSessions(rng, perClass))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "selftest: %d requests, %d correct, %d rejected\n", summary.Requests, summary.Correct, summary.Failures)
	if summary.Failures > 0 {
		return fmt.Errorf("selftest: %d requests rejected", summary.Failures)
	}
	return nil
}

// classifySessions sends every session through svc, plain and (when c is
// set) encrypted, and emits one verdict per successful request.
func classifySessions(ctx context.Context, svc *classify.Service, c *transport.Cipher, emit func(classify.Verdict), secret string, sessions []syntheticSession) (selfTestSummary, error) {
	var summary selfTestSummary
	client := classify.Client{IP: "127.0.0.1", UserAgent: "cursorguard-selftest"}

	for _, s := range sessions {
		body, err := json.Marshal(map[string]any{"cursorData": s.Points})
		if err != nil {
			return summary, err
		}
		requests := []selfTestRequest{{body, http.Header{"Content-Type": []string{"application/json"}}}}

		if c != nil {
			armored, err := c.Encrypt(body)
			if err != nil {
				return summary, err
			}
			enc := http.Header{
				"Content-Type":            []string{"application/octet-stream"},
				transport.EncryptedHeader: []string{transport.SchemeAESCBC},
			}
			requests = append(requests, selfTestRequest{[]byte(armored), enc})
		}

		for _, req := range requests {
			summary.Requests++
			res, fail := svc.Classify(ctx, req.body, req.header)
			if fail != nil {
				summary.Failures++
				logging.Error().Str("session", s.Name).Str("kind", string(fail.Kind)).Msg("selftest: request rejected")
				continue
			}
			if res.Prediction == s.Label {
				summary.Correct++
			}
			logging.Info().
				Str("session", s.Name).
				Str("want", model.LabelName(s.Label)).
				Str("got", model.LabelName(res.Prediction)).
				Float64("confidence", res.Confidence).
				Str("mode", string(res.Mode)).
				Msg("selftest: classified")
			if emit != nil {
				emit(classify.NewVerdict(res, client, secret, time.Now()))
			}
		}
	}
	return summary, nil
}

// fitSynthetic trains a tree on generated sessions.
func fitSynthetic(sessions []syntheticSession) (*model.DecisionTree, error) {
	if len(sessions) == 0 {
		return nil, errors.New("no sessions")
	}
	norm := event.NewNormalizer(event.PolicyPresence)
	X := make([][]float64, 0, len(sessions))
	y := make([]int, 0, len(sessions))
	for _, s := range sessions {
		raw := make([]any, len(s.Points))
		for i, p := range s.Points {
			raw[i] = p
		}
		events, err := norm.NormalizeAll(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, err)
		}
		v := features.Vectorize(events)
		X = append(X, v.Slice())
		y = append(y, s.Label)
	}
	tree := model.NewDecisionTree(model.TreeOptions{})
	if err := tree.Fit(X, y); err != nil {
		return nil, err
	}
	return tree, nil
}

// generateSessions returns perClass human sessions followed by perClass bot
// sessions.
func generateSessions(rng *rand.Rand, perClass int) []syntheticSession {
	base := float64(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix())
	out := make([]syntheticSession, 0, 2*perClass)
	for i := range perClass {
		out = append(out, syntheticSession{
			Name:   fmt.Sprintf("human-%03d", i),
			Label:  model.LabelHuman,
			Points: humanPoints(rng, base+float64(i)*60),
		})
	}
	for i := range perClass {
		out = append(out, syntheticSession{
			Name:   fmt.Sprintf("bot-%03d", i),
			Label:  model.LabelBot,
			Points: botPoints(rng, base+float64(i)*60),
		})
	}
	return out
}

// humanPoints follows a curved path with uneven timing and jitter, ending in
// a click.
func humanPoints(rng *rand.Rand, start float64) []map[string]any {
	n := 60 + rng.IntN(40)
	x0, y0 := 100+rng.Float64()*300, 100+rng.Float64()*300
	x1, y1 := 600+rng.Float64()*300, 300+rng.Float64()*200
	bend := 80 + rng.Float64()*120

	points := make([]map[string]any, 0, n+2)
	clock := rng.Float64() * 5
	for i := range n {
		t := float64(i) / float64(n-1)
		ease := t * t * (3 - 2*t)
		x := x0 + (x1-x0)*ease + rng.NormFloat64()*2
		y := y0 + (y1-y0)*ease - bend*math.Sin(math.Pi*t) + rng.NormFloat64()*2
		clock += 0.008 + rng.ExpFloat64()*0.02
		points = append(points, point(start+clock, clock, "NoButton", "Move", x, y))
	}
	last := points[len(points)-1]
	x, y := last["x"].(float64), last["y"].(float64)
	clock += 0.05 + rng.Float64()*0.1
	points = append(points, point(start+clock, clock, "Left", "Pressed", x, y))
	clock += 0.06 + rng.Float64()*0.08
	points = append(points, point(start+clock, clock, "Left", "Released", x, y))
	return points
}

// botPoints moves in a straight line at a fixed rate and clicks instantly.
func botPoints(rng *rand.Rand, start float64) []map[string]any {
	n := 20 + rng.IntN(10)
	x0, y0 := float64(rng.IntN(50)), float64(rng.IntN(50))
	x1, y1 := 800+float64(rng.IntN(200)), 500+float64(rng.IntN(100))

	points := make([]map[string]any, 0, n+2)
	for i := range n {
		t := float64(i) / float64(n-1)
		clock := float64(i) * 0.001
		points = append(points, point(start+clock, clock, "NoButton", "Move", x0+(x1-x0)*t, y0+(y1-y0)*t))
	}
	clock := float64(n) * 0.001
	points = append(points, point(start+clock, clock, "Left", "Pressed", x1, y1))
	points = append(points, point(start+clock, clock, "Left", "Released", x1, y1))
	return points
}

func point(record, client float64, button, state string, x, y float64) map[string]any {
	return map[string]any{
		"recordTimestamp": record,
		"clientTimestamp": client,
		"button":          button,
		"state":           state,
		"x":               x,
		"y":               y,
	}
}
