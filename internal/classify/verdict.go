package classify

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/shortontech/cursorguard/internal/model"
	"github.com/shortontech/cursorguard/internal/signals"
)

// Verdict is the record emitted to sinks for each successful classification.
type Verdict struct {
	ID              string    `json:"id"`
	TS              time.Time `json:"ts"`
	Prediction      int       `json:"prediction"`
	Label           string    `json:"label"`
	Confidence      float64   `json:"confidence"`
	ProcessedPoints int       `json:"processed_points"`
	Mode            string    `json:"mode"`
	IPHash          string    `json:"ip_hash,omitempty"`
	UserAgent       string    `json:"user_agent,omitempty"`
	LatencyMS       float64   `json:"latency_ms"`

	Signals *signals.Signals `json:"signals,omitempty"`
}

// Client describes who sent the request.
type Client struct {
	IP        string
	UserAgent string
}

// NewVerdict builds a Verdict from res. The client IP is never stored in
// clear; it is hashed with secret.
func NewVerdict(res Result, client Client, secret string, now time.Time) Verdict {
	return Verdict{
		ID:              uuid.NewString(),
		TS:              now.UTC(),
		Prediction:      res.Prediction,
		Label:           model.LabelName(res.Prediction),
		Confidence:      res.Confidence,
		ProcessedPoints: res.ProcessedPoints,
		Mode:            string(res.Mode),
		IPHash:          HashIP(client.IP, secret),
		UserAgent:       client.UserAgent,
		LatencyMS:       float64(res.Latency.Microseconds()) / 1000,
	}
}

// HashIP returns hex(sha256(secret ‖ ip)), or "" for an empty ip.
func HashIP(ip, secret string) string {
	if ip == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret + ip))
	return hex.EncodeToString(sum[:])
}
