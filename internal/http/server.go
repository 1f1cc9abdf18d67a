package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/shortontech/cursorguard/internal/transport"
)

func NewMux(env Env) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger)
	r.Use(MetricsMiddleware(env.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(corsOptions(env.Cfg.CORSOrigins)))

	r.Get("/healthz", env.Healthz)
	r.Get("/readyz", env.Readyz)
	r.Get("/health", env.Health)
	r.Get("/cursorguard.js", env.ClientScript)
	r.Head("/cursorguard.js", env.ClientScript)

	r.Group(func(r chi.Router) {
		if n := env.Cfg.RateLimitPerMinute; n > 0 {
			r.Use(httprate.Limit(n, time.Minute,
				httprate.WithKeyFuncs(rateKey(env.Cfg.TrustProxy)),
				httprate.WithLimitHandler(tooManyRequests),
			))
		}
		r.Post("/predict", env.Predict)
	})
	return r
}

func corsOptions(origins []string) cors.Options {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", transport.EncryptedHeader, RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}
}

// rateKey buckets clients by the same address used for verdict hashing.
func rateKey(trustProxy bool) httprate.KeyFunc {
	return func(r *http.Request) (string, error) {
		return clientIP(r, trustProxy), nil
	}
}

func tooManyRequests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "Too many requests"})
}
