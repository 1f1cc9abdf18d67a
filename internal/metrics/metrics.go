package metrics

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shortontech/cursorguard/internal/logging"
)

// Metrics holds all the Prometheus metrics for cursorguard
type Metrics struct {
	// Counters
	Predictions     *prometheus.CounterVec
	Rejections      *prometheus.CounterVec
	Decodes         *prometheus.CounterVec
	VerdictsEmitted *prometheus.CounterVec
	SinkErrors      *prometheus.CounterVec
	HTTPRequests    *prometheus.CounterVec

	// Gauges
	QueueDepth *prometheus.GaugeVec

	// Histograms
	InferenceDuration prometheus.Histogram
	BatchFlushLatency *prometheus.HistogramVec
	HTTPDuration      *prometheus.HistogramVec
}

// Config holds configuration for the metrics server
type Config struct {
	Enabled    bool   `koanf:"enabled"`
	Addr       string `koanf:"addr"`
	TLSCert    string `koanf:"tls_cert"`
	TLSKey     string `koanf:"tls_key"`
	ClientCA   string `koanf:"client_ca"`
	RequireTLS bool   `koanf:"require_tls"`
}

// LoadConfig reads METRICS_* environment variables.
func LoadConfig() Config {
	cfg := Config{Addr: "127.0.0.1:9090"}

	k := koanf.New(".")
	err := k.Load(env.Provider("METRICS_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "METRICS_"))
	}), nil)
	if err == nil {
		err = k.Unmarshal("", &cfg)
	}
	if err != nil {
		logging.Warn().Err(err).Msg("metrics: ignoring invalid METRICS_* settings")
		return Config{Addr: "127.0.0.1:9090"}
	}
	return cfg
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cursorguard_predictions_total",
				Help: "Successful classifications by predicted label",
			},
			[]string{"label"},
		),

		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cursorguard_rejections_total",
				Help: "Rejected /predict requests by failure kind",
			},
			[]string{"reason"},
		),

		Decodes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cursorguard_decode_total",
				Help: "Request bodies by transport mode",
			},
			[]string{"mode"},
		),

		VerdictsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cursorguard_verdicts_emitted_total",
				Help: "Verdicts handed to each sink",
			},
			[]string{"sink"},
		),

		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cursorguard_sink_errors_total",
				Help: "Total errors writing to a sink",
			},
			[]string{"sink", "error_type"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cursorguard_http_requests_total",
				Help: "Total HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "method", "status"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cursorguard_queue_depth",
				Help: "Current depth of a sink's verdict queue",
			},
			[]string{"sink"},
		),

		InferenceDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cursorguard_inference_duration_seconds",
				Help:    "Time from body receipt to prediction",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1},
			},
		),

		BatchFlushLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cursorguard_batch_flush_latency_seconds",
				Help:    "Latency of flushing a verdict batch to a sink",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"sink"},
		),

		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cursorguard_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "method"},
		),
	}

	reg.MustRegister(
		m.Predictions,
		m.Rejections,
		m.Decodes,
		m.VerdictsEmitted,
		m.SinkErrors,
		m.HTTPRequests,
		m.QueueDepth,
		m.InferenceDuration,
		m.BatchFlushLatency,
		m.HTTPDuration,
	)
	return m
}

// Server represents the metrics HTTP server
type Server struct {
	server *http.Server
	config Config
}

// NewServer creates a new metrics server
func NewServer(config Config) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:         config.Addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if config.RequireTLS && config.TLSCert != "" && config.TLSKey != "" {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		if config.ClientCA != "" {
			clientCAs, err := loadCertPool(config.ClientCA)
			if err != nil {
				logging.Error().Err(err).Msg("metrics: failed to load client CA")
			} else {
				tlsConfig.ClientCAs = clientCAs
				tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
				logging.Info().Str("client_ca", config.ClientCA).Msg("metrics: mTLS enabled")
			}
		}

		srv.TLSConfig = tlsConfig
	}

	return &Server{
		server: srv,
		config: config,
	}
}

// Start starts the metrics server in a separate goroutine
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		logging.Info().Msg("metrics: disabled (METRICS_ENABLED=false)")
		return nil
	}

	go func() {
		var err error
		if s.server.TLSConfig != nil {
			logging.Info().Str("addr", s.config.Addr).Msg("metrics: HTTPS server listening")
			err = s.server.ListenAndServeTLS(s.config.TLSCert, s.config.TLSKey)
		} else {
			logging.Info().Str("addr", s.config.Addr).Msg("metrics: HTTP server listening")
			err = s.server.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("metrics: server error")
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the metrics server
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	logging.Info().Msg("metrics: shutting down server")
	return s.server.Shutdown(ctx)
}

func loadCertPool(certFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("read client CA: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", certFile)
	}
	return pool, nil
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// InitMetrics initializes the global metrics instance on the default registry.
func InitMetrics() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return InitMetrics()
}

func (m *Metrics) ObservePrediction(label string, latency time.Duration) {
	m.Predictions.WithLabelValues(label).Inc()
	m.InferenceDuration.Observe(latency.Seconds())
}

func (m *Metrics) IncrementRejections(reason string) {
	m.Rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementDecodes(mode string) {
	m.Decodes.WithLabelValues(mode).Inc()
}

func (m *Metrics) IncrementVerdictsEmitted(sink string) {
	m.VerdictsEmitted.WithLabelValues(sink).Inc()
}

func (m *Metrics) IncrementSinkErrors(sink, errorType string) {
	m.SinkErrors.WithLabelValues(sink, errorType).Inc()
}

func (m *Metrics) IncrementHTTPRequests(endpoint, method, status string) {
	m.HTTPRequests.WithLabelValues(endpoint, method, status).Inc()
}

func (m *Metrics) SetQueueDepth(sink string, depth float64) {
	m.QueueDepth.WithLabelValues(sink).Set(depth)
}

func (m *Metrics) ObserveBatchFlushLatency(sink string, duration time.Duration) {
	m.BatchFlushLatency.WithLabelValues(sink).Observe(duration.Seconds())
}

func (m *Metrics) ObserveHTTPDuration(endpoint, method string, duration time.Duration) {
	m.HTTPDuration.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}
