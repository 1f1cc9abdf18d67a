package httpx

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/shortontech/cursorguard/internal/assets"
	"github.com/shortontech/cursorguard/internal/classify"
	"github.com/shortontech/cursorguard/internal/features"
	"github.com/shortontech/cursorguard/internal/logging"
	"github.com/shortontech/cursorguard/internal/metrics"
	"github.com/shortontech/cursorguard/internal/model"
	"github.com/shortontech/cursorguard/internal/signals"
	cfg "github.com/shortontech/cursorguard/pkg/config"
)

type Env struct {
	Cfg     cfg.Config
	Service *classify.Service
	Emit    func(classify.Verdict) // injected sink fan-out
	Metrics *metrics.Metrics       // optional
	Signals *signals.Analyzer      // optional request evidence attached to verdicts
}

func (e Env) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (e Env) Readyz(w http.ResponseWriter, r *http.Request) {
	if !e.modelLoaded() {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (e Env) modelLoaded() bool {
	if e.Service == nil {
		return false
	}
	st := e.Service.State()
	return st != nil && st.ModelLoaded
}

// GET /health
func (e Env) Health(w http.ResponseWriter, r *http.Request) {
	encryption := "disabled"
	if e.encryptionEnabled() {
		encryption = "AES-CBC"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"model_loaded":   e.modelLoaded(),
		"model_features": features.Length,
		"encryption":     encryption,
	})
}

func (e Env) encryptionEnabled() bool {
	if e.Service == nil || e.Service.State() == nil || e.Service.State().Decoder == nil {
		return false
	}
	return e.Service.State().Decoder.EncryptionEnabled()
}

// POST /predict classifies one batch of cursor records.
func (e Env) Predict(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if e.Service == nil {
		e.reject("internal")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Internal server error"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, e.Cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			e.reject("body_too_large")
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "Request body too large"})
			return
		}
		e.reject("read_error")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid data format"})
		return
	}

	res, fail := e.Service.Classify(r.Context(), body, r.Header)
	if e.Metrics != nil && res.Mode != "" {
		e.Metrics.IncrementDecodes(string(res.Mode))
	}
	if fail != nil {
		e.reject(string(fail.Kind))
		writeJSON(w, fail.Status, fail.Body())
		return
	}

	label := model.LabelName(res.Prediction)
	if e.Metrics != nil {
		e.Metrics.ObservePrediction(label, res.Latency)
	}
	logging.Ctx(r.Context()).Debug().
		Str("label", label).
		Float64("confidence", res.Confidence).
		Int("points", res.ProcessedPoints).
		Str("mode", string(res.Mode)).
		Msg("prediction")

	if e.Emit != nil {
		ip := clientIP(r, e.Cfg.TrustProxy)
		v := classify.NewVerdict(res, classify.Client{IP: ip, UserAgent: r.UserAgent()}, e.Cfg.IPHashSecret, time.Now())
		if e.Signals != nil {
			s := e.Signals.Analyze(r, body, v.IPHash)
			v.Signals = &s
		}
		e.Emit(v)
	}
	writeJSON(w, http.StatusOK, res)
}

func (e Env) reject(reason string) {
	if e.Metrics != nil {
		e.Metrics.IncrementRejections(reason)
	}
}

// GET /cursorguard.js
func (e Env) ClientScript(w http.ResponseWriter, r *http.Request) {
	script := assets.CollectorScript("/predict", e.Cfg.AESKey, e.Cfg.EncryptionEnabled)
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Content-Length", strconv.Itoa(len(script)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(script)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// clientIP prefers proxy headers only when trustProxy is set.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			return strings.TrimSpace(xrip)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
