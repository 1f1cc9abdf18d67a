package httpx

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewMux(t *testing.T) {
	env, emitted := testEnv(t)
	mux := NewMux(env)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"healthz", http.MethodGet, "/healthz", http.StatusOK},
		{"readyz", http.MethodGet, "/readyz", http.StatusOK},
		{"health", http.MethodGet, "/health", http.StatusOK},
		{"script", http.MethodGet, "/cursorguard.js", http.StatusOK},
		{"predict wrong method", http.MethodGet, "/predict", http.StatusMethodNotAllowed},
		{"unknown route", http.MethodGet, "/collect", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			if w.Code != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, w.Code, tt.want)
			}
		})
	}

	t.Run("predict end to end", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(cursorBody(t, 4, 200)))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("status code = %d, body %s", w.Code, w.Body.String())
		}
		if w.Header().Get(RequestIDHeader) == "" {
			t.Error("response should carry a request id")
		}
		if got := decodeBody(t, w)["prediction"]; got != float64(1) {
			t.Errorf("prediction = %v, want 1", got)
		}
		if len(*emitted) != 1 {
			t.Errorf("emitted %d verdicts, want 1", len(*emitted))
		}
	})
}

func TestNewMuxCORS(t *testing.T) {
	env, _ := testEnv(t)
	env.Cfg.CORSOrigins = []string{"https://shop.example"}
	mux := NewMux(env)

	req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "X-Encrypted")
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://shop.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got Access-Control-Allow-Origin = %q", got)
	}
}

func TestNewMuxRateLimit(t *testing.T) {
	env, _ := testEnv(t)
	env.Cfg.RateLimitPerMinute = 2
	mux := NewMux(env)

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodPost, "/predict", bytes.NewReader(cursorBody(t, 2, 1)))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "198.51.100.20:4000"
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, req)
		codes[i] = w.Code
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("first two requests = %v, want 200", codes[:2])
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want %d", codes[2], http.StatusTooManyRequests)
	}

	// health checks are not limited
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "198.51.100.20:4000"
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("healthz = %d, want 200", w.Code)
	}
}
