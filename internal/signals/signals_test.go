package signals

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func browserHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/126.0 Safari/537.36")
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	return h
}

func TestAnalyze(t *testing.T) {
	t.Run("ordinary browser request", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/predict", nil)
		r.Header = browserHeaders()

		s := (&Analyzer{}).Analyze(r, []byte(`{"cursorData":[]}`), "192.0.2.1")

		if s.Suspicious() {
			t.Errorf("browser request flagged: %+v", s)
		}
		if len(s.MissingHeaders) != 0 {
			t.Errorf("MissingHeaders = %v", s.MissingHeaders)
		}
		if s.HeaderCount != 4 {
			t.Errorf("HeaderCount = %d, want 4", s.HeaderCount)
		}
		if s.UserAgent.Platform != "Windows" || s.UserAgent.Browser != "Chrome" {
			t.Errorf("UserAgent = %+v", s.UserAgent)
		}
		if s.PayloadBytes != 17 || s.PayloadEntropy <= 0 {
			t.Errorf("payload = %d bytes, %.2f bits", s.PayloadBytes, s.PayloadEntropy)
		}
		if s.Timing.HasPrevious {
			t.Error("zero Analyzer should not track timing")
		}
	})

	t.Run("headless client", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/predict", nil)
		r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) HeadlessChrome/120.0")

		s := NewAnalyzer(nil).Analyze(r, nil, "")

		if !s.Suspicious() {
			t.Error("headless client should be suspicious")
		}
		if !s.UserAgent.Automation || s.UserAgent.Keywords[0] != "headless" {
			t.Errorf("UserAgent = %+v", s.UserAgent)
		}
		if len(s.MissingHeaders) != 3 {
			t.Errorf("MissingHeaders = %v, want 3 entries", s.MissingHeaders)
		}
	})
}

func TestAutomationHeaders(t *testing.T) {
	tests := []struct {
		name    string
		headers http.Header
		want    bool
	}{
		{"selenium in user agent", http.Header{"User-Agent": {"Mozilla/5.0 selenium webdriver"}}, true},
		{"puppeteer in custom header", http.Header{"X-Custom": {"automated with puppeteer"}}, true},
		{"devtools emulation header", http.Header{"X-Devtools-Emulate-Network-Conditions-Client-Id": {"abc"}}, true},
		{"chrome proxy", http.Header{"Chrome-Proxy": {"frfr"}}, true},
		{"normal browser", browserHeaders(), false},
		{"cors fetch metadata", http.Header{"Sec-Fetch-Mode": {"cors"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := automationHeaders(tt.headers)
			if (len(got) > 0) != tt.want {
				t.Errorf("automationHeaders() = %v, want detected=%v", got, tt.want)
			}
		})
	}
}

func TestInconsistencies(t *testing.T) {
	h := http.Header{}
	h.Set("User-Agent", "Mozilla/5.0 (Linux; U; Android 4.0; ja-jp; SC-02C)")
	h.Set("Accept-Language", "en-US")
	if got := inconsistencies(h); len(got) != 1 || got[0] != "language-ua-mismatch" {
		t.Errorf("inconsistencies() = %v", got)
	}

	h.Set("Accept-Language", "ja,en;q=0.5")
	if got := inconsistencies(h); got != nil {
		t.Errorf("consistent headers flagged: %v", got)
	}
}

func TestFingerprint(t *testing.T) {
	a := browserHeaders()
	b := browserHeaders()
	if fingerprint(a) != fingerprint(b) {
		t.Error("fingerprint should be deterministic")
	}
	if len(fingerprint(a)) != 16 {
		t.Errorf("fingerprint length = %d, want 16 hex chars", len(fingerprint(a)))
	}

	b.Set("User-Agent", "curl/8.0")
	if fingerprint(a) == fingerprint(b) {
		t.Error("different headers should fingerprint differently")
	}

	// values are truncated to 20 bytes
	c := browserHeaders()
	c.Set("Accept-Encoding", "gzip, deflate, br, zstd")
	d := browserHeaders()
	d.Set("Accept-Encoding", "gzip, deflate, br, zstd, identity")
	if fingerprint(c) != fingerprint(d) {
		t.Error("values beyond 20 bytes should not change the fingerprint")
	}
}

func TestParseUserAgent(t *testing.T) {
	tests := []struct {
		ua       string
		platform string
		browser  string
		bot      bool
	}{
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Version/17.0 Mobile/15E148 Safari/604.1", "iOS", "Safari", false},
		{"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_0; rv:125.0) Gecko/20100101 Firefox/125.0", "macOS", "Firefox", false},
		{"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/126.0 Safari/537.36 Edg/126.0", "Windows", "Edge", false},
		{"Mozilla/5.0 (Linux; Android 14) AppleWebKit/537.36 Chrome/126.0 Mobile Safari/537.36", "Android", "Chrome", false},
		{"python-requests/2.31", "", "", true},
		{"Googlebot/2.1 (+http://www.google.com/bot.html)", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.ua[:min(len(tt.ua), 30)], func(t *testing.T) {
			got := parseUserAgent(tt.ua)
			if got.Platform != tt.platform || got.Browser != tt.browser || got.Automation != tt.bot {
				t.Errorf("parseUserAgent() = %+v, want %s/%s automation=%v", got, tt.platform, tt.browser, tt.bot)
			}
			if got.Length != len(tt.ua) {
				t.Errorf("Length = %d", got.Length)
			}
		})
	}
}

func TestEntropy(t *testing.T) {
	if e := entropy(nil); e != 0 {
		t.Errorf("entropy(nil) = %v", e)
	}
	if e := entropy([]byte(strings.Repeat("a", 64))); e != 0 {
		t.Errorf("entropy(constant) = %v, want 0", e)
	}
	if e := entropy([]byte("abcd")); e != 2 {
		t.Errorf("entropy(abcd) = %v, want 2", e)
	}
}

func TestTiming(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	t.Run("interval and precision", func(t *testing.T) {
		tr := NewMemoryTracker(10, time.Minute)
		if got := interval(tr, "ip", base); got.HasPrevious {
			t.Errorf("first request = %+v", got)
		}

		got := interval(tr, "ip", base.Add(500*time.Millisecond))
		if !got.HasPrevious || got.IntervalMS != 500 || got.Precision != 500 {
			t.Errorf("second request = %+v", got)
		}

		got = interval(tr, "ip", base.Add(500*time.Millisecond+1234*time.Millisecond))
		if got.Precision != 0 {
			t.Errorf("irregular interval precision = %d, want 0", got.Precision)
		}
	})

	t.Run("expired entries are forgotten", func(t *testing.T) {
		tr := NewMemoryTracker(10, time.Second)
		interval(tr, "ip", base)
		if got := interval(tr, "ip", base.Add(2*time.Second)); got.HasPrevious {
			t.Errorf("stale entry reused: %+v", got)
		}
	})

	t.Run("bounded size", func(t *testing.T) {
		tr := NewMemoryTracker(3, time.Hour)
		for i, ip := range []string{"a", "b", "c", "d", "e"} {
			interval(tr, ip, base.Add(time.Duration(i)*time.Second))
		}
		if n := tr.Len(); n > 3 {
			t.Errorf("Len() = %d, want <= 3", n)
		}
	})

	t.Run("analyzer uses tracker", func(t *testing.T) {
		tr := NewMemoryTracker(0, 0)
		a := NewAnalyzer(tr)
		clock := base
		a.now = func() time.Time { return clock }

		r := httptest.NewRequest(http.MethodPost, "/predict", nil)
		a.Analyze(r, nil, "198.51.100.1")
		clock = clock.Add(100 * time.Millisecond)
		s := a.Analyze(r, nil, "198.51.100.1")

		if !s.Timing.HasPrevious || s.Timing.Precision != 100 {
			t.Errorf("Timing = %+v", s.Timing)
		}
	})
}
