// Package signals collects request-level automation hints that travel with a
// verdict. They are evidence for downstream review and never change the
// classifier's prediction.
package signals

import (
	"math"
	"net/http"
	"time"
)

// Signals describes the request that carried a cursor trace.
type Signals struct {
	Fingerprint       string    `json:"header_fingerprint"`
	HeaderCount       int       `json:"header_count"`
	AutomationHeaders []string  `json:"automation_headers,omitempty"`
	MissingHeaders    []string  `json:"missing_headers,omitempty"`
	Inconsistent      []string  `json:"inconsistent_values,omitempty"`
	UserAgent         UserAgent `json:"user_agent"`
	PayloadEntropy    float64   `json:"payload_entropy"`
	PayloadBytes      int       `json:"payload_bytes"`
	Timing            Timing    `json:"timing"`
}

// Suspicious reports whether any automation hint was found.
func (s Signals) Suspicious() bool {
	return len(s.AutomationHeaders) > 0 || s.UserAgent.Automation
}

// Analyzer inspects requests. The zero value skips timing analysis.
type Analyzer struct {
	Tracker Tracker
	now     func() time.Time
}

func NewAnalyzer(tracker Tracker) *Analyzer {
	return &Analyzer{Tracker: tracker, now: time.Now}
}

// Analyze inspects r and its already-read body. ip keys the timing history.
func (a *Analyzer) Analyze(r *http.Request, body []byte, ip string) Signals {
	s := Signals{
		Fingerprint:       fingerprint(r.Header),
		HeaderCount:       len(r.Header),
		AutomationHeaders: automationHeaders(r.Header),
		MissingHeaders:    missingHeaders(r.Header),
		Inconsistent:      inconsistencies(r.Header),
		UserAgent:         parseUserAgent(r.UserAgent()),
		PayloadEntropy:    entropy(body),
		PayloadBytes:      len(body),
	}
	if a != nil && a.Tracker != nil && ip != "" {
		now := time.Now
		if a.now != nil {
			now = a.now
		}
		s.Timing = interval(a.Tracker, ip, now())
	}
	return s
}

// entropy is the Shannon entropy of data in bits per byte. Encrypted bodies
// sit near 6 (base64); plain JSON is lower.
func entropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	var freq [256]int
	for _, b := range data {
		freq[b]++
	}
	n := float64(len(data))
	e := 0.0
	for _, c := range freq {
		if c > 0 {
			p := float64(c) / n
			e -= p * math.Log2(p)
		}
	}
	return e
}
