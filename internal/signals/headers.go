package signals

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
)

var automationKeywords = []string{"headless", "selenium", "webdriver", "puppeteer", "playwright"}

// Headers whose presence alone marks a tooling or emulation client.
var automationOnlyHeaders = []string{"X-DevTools-Emulate-Network-Conditions-Client-Id", "Chrome-Proxy"}

// Headers every mainstream browser sends with a fetch.
var expectedHeaders = []string{"User-Agent", "Accept", "Accept-Language", "Accept-Encoding"}

// automationHeaders lists "Name: value" for headers naming an automation
// tool, sorted for stable output.
func automationHeaders(h http.Header) []string {
	var out []string
	for name, values := range h {
		for _, v := range values {
			if containsAny(strings.ToLower(v), automationKeywords) {
				out = append(out, name+": "+v)
				break
			}
		}
	}
	for _, name := range automationOnlyHeaders {
		if v := h.Get(name); v != "" {
			out = append(out, http.CanonicalHeaderKey(name)+": "+v)
		}
	}
	sort.Strings(out)
	return out
}

func missingHeaders(h http.Header) []string {
	var missing []string
	for _, name := range expectedHeaders {
		if h.Get(name) == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// inconsistencies flags a user agent locale that Accept-Language does not
// mention.
func inconsistencies(h http.Header) []string {
	ua := strings.ToLower(h.Get("User-Agent"))
	lang := strings.ToLower(h.Get("Accept-Language"))
	if ua == "" || lang == "" {
		return nil
	}
	for _, locale := range []string{"zh-cn", "ja-jp", "ko-kr"} {
		if strings.Contains(ua, locale) && !strings.Contains(lang, locale[:2]) {
			return []string{"language-ua-mismatch"}
		}
	}
	return nil
}

// fingerprint hashes sorted header names with a short prefix of each value.
func fingerprint(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, strings.ToLower(k))
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := h.Get(k)
		if len(v) > 20 {
			v = v[:20] + "..."
		}
		parts = append(parts, k+":"+v)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:8])
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
