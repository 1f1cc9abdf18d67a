package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/shortontech/cursorguard/internal/classify"
	"github.com/shortontech/cursorguard/internal/event"
	httpx "github.com/shortontech/cursorguard/internal/http"
	"github.com/shortontech/cursorguard/internal/logging"
	"github.com/shortontech/cursorguard/internal/metrics"
	"github.com/shortontech/cursorguard/internal/model"
	"github.com/shortontech/cursorguard/internal/signals"
	"github.com/shortontech/cursorguard/internal/sink"
	"github.com/shortontech/cursorguard/internal/transport"
	"github.com/shortontech/cursorguard/pkg/config"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve /predict and /health",
		Long: `Loads the model from MODEL_PATH and serves the classifier over HTTP.

Configuration is read from config.yaml (or CONFIG_PATH) and environment
variables such as SERVER_ADDR, OUTPUTS, AES_KEY and NORMALIZER_POLICY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// loadConfig reads an optional .env from the working directory before the
// koanf layers. Variables already set in the environment win.
func loadConfig() (config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return config.Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	return cfg, nil
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	clf, err := model.LoadFile(cfg.ModelPath)
	if err != nil {
		logging.Error().Err(err).Str("path", cfg.ModelPath).Msg("model unavailable")
		return err
	}
	state, err := buildState(cfg, clf)
	if err != nil {
		return err
	}
	logging.Info().
		Str("path", cfg.ModelPath).
		Int("features", clf.NumFeatures()).
		Int("nodes", clf.NodeCount()).
		Bool("encryption", state.Decoder.EncryptionEnabled()).
		Str("normalizer", string(state.Normalizer.Policy())).
		Msg("model loaded")

	sinkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	appMetrics := metrics.InitMetrics()
	metricsServer := metrics.NewServer(metrics.LoadConfig())
	if err := metricsServer.Start(sinkCtx); err != nil {
		logging.Warn().Err(err).Msg("metrics server failed to start")
	}

	sinks := initializeSinks(sinkCtx, cfg.Outputs, appMetrics)
	env := httpx.Env{
		Cfg:     cfg,
		Service: classify.NewService(state),
		Emit:    createEmitFunc(sinks, appMetrics),
		Metrics: appMetrics,
		Signals: signals.NewAnalyzer(signals.NewMemoryTracker(0, 0)),
	}
	srv := startHTTPServer(cfg, httpx.NewMux(env))

	waitForShutdown(srv, metricsServer, sinks)
	return nil
}

// buildState wires the request pipeline around clf.
func buildState(cfg config.Config, clf model.Classifier) (*classify.State, error) {
	var c *transport.Cipher
	if cfg.EncryptionEnabled {
		var err error
		c, err = transport.NewCipher([]byte(cfg.AESKey))
		if err != nil {
			return nil, fmt.Errorf("aes key: %w", err)
		}
	}
	norm := event.NewNormalizer(event.ParsePolicy(cfg.NormalizerPolicy))
	return classify.NewState(clf, norm, transport.NewDecoder(c)), nil
}

// initializeSinks starts every configured output. Outputs that fail to start
// are logged and left out.
func initializeSinks(ctx context.Context, outputs []string, m *metrics.Metrics) []sink.Sink {
	var sinks []sink.Sink
	for _, o := range outputs {
		var s sink.Sink
		switch o {
		case "log":
			s = sink.NewLogSink()
		case "kafka":
			s = sink.NewKafkaSinkFromEnv()
		case "postgres":
			s = sink.NewPGSinkFromEnv().WithMetrics(m)
		default:
			logging.Warn().Str("output", o).Msg("unknown output, skipping")
			continue
		}
		if err := s.Start(ctx); err != nil {
			logging.Error().Err(err).Str("sink", s.Name()).Msg("sink failed to start")
			continue
		}
		logging.Info().Str("sink", s.Name()).Msg("sink started")
		sinks = append(sinks, sink.WithBreaker(s, sink.DefaultBreakerConfig()))
	}
	return sinks
}

// createEmitFunc fans a verdict out to every sink. Sink errors are counted
// and logged but never surface to the caller.
func createEmitFunc(sinks []sink.Sink, m *metrics.Metrics) func(classify.Verdict) {
	return func(v classify.Verdict) {
		for _, s := range sinks {
			if err := s.Enqueue(v); err != nil {
				errType := "enqueue_error"
				if errors.Is(err, sink.ErrCircuitOpen) {
					errType = "circuit_open"
				} else {
					logging.Warn().Err(err).Str("sink", s.Name()).Str("verdict", v.ID).Msg("enqueue failed")
				}
				if m != nil {
					m.IncrementSinkErrors(s.Name(), errType)
				}
				continue
			}
			if m != nil {
				m.IncrementVerdictsEmitted(s.Name())
			}
		}
	}
}

func startHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		logging.Info().Str("addr", cfg.ServerAddr).Msg("cursorguard listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()
	return srv
}

func waitForShutdown(srv *http.Server, metricsServer *metrics.Server, sinks []sink.Sink) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	shutdown(srv, metricsServer, sinks)
}

func shutdown(srv *http.Server, metricsServer *metrics.Server, sinks []sink.Sink) {
	logging.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logging.Error().Err(err).Msg("http shutdown")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			logging.Error().Err(err).Msg("metrics shutdown")
		}
	}
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			logging.Error().Err(err).Str("sink", s.Name()).Msg("sink close")
		}
	}
}

func newHealthCheckCmd() *cobra.Command {
	var host, port string
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe /healthz of a running server (for container health checks)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return performHealthCheck(host, port)
		},
	}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "server host")
	cmd.Flags().StringVar(&port, "port", "5000", "server port")
	return cmd
}

func performHealthCheck(host, port string) error {
	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + net.JoinHostPort(host, port) + "/healthz")
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return fmt.Errorf("read health response: %w", err)
	}
	if string(body) != "ok" {
		return fmt.Errorf("unexpected health response %q", body)
	}
	return nil
}
