// Package sink delivers classification verdicts to downstream stores.
package sink

import (
	"context"
	"strconv"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/shortontech/cursorguard/internal/classify"
)

type Sink interface {
	Start(ctx context.Context) error
	Enqueue(v classify.Verdict) error
	Close() error
	Name() string // Returns the sink name for metrics and logging
}

// envConfig holds the environment variables sharing a prefix, keyed by the
// lower-cased remainder (KAFKA_TOPIC → "topic").
type envConfig struct {
	k *koanf.Koanf
}

func loadEnv(prefix string) envConfig {
	k := koanf.New(".")
	_ = k.Load(env.Provider(prefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, prefix))
	}), nil)
	return envConfig{k: k}
}

func (e envConfig) str(key, def string) string {
	if v := strings.TrimSpace(e.k.String(key)); v != "" {
		return v
	}
	return def
}

func (e envConfig) integer(key string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(e.k.String(key)))
	if err != nil {
		return def
	}
	return n
}

func (e envConfig) boolean(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(e.k.String(key))) {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}

func (e envConfig) list(key, def string) []string {
	parts := strings.Split(e.str(key, def), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
