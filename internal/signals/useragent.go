package signals

import "strings"

// UserAgent is what the User-Agent header claims.
type UserAgent struct {
	Length     int      `json:"length"`
	Automation bool     `json:"automation"`
	Keywords   []string `json:"keywords,omitempty"`
	Platform   string   `json:"platform,omitempty"`
	Browser    string   `json:"browser,omitempty"`
}

var uaAutomationKeywords = []string{
	"headless", "selenium", "webdriver", "puppeteer",
	"playwright", "phantom", "jsdom", "nightmare",
	"automated", "bot", "crawler", "python-requests", "curl/",
}

func parseUserAgent(ua string) UserAgent {
	lower := strings.ToLower(ua)
	out := UserAgent{
		Length:   len(ua),
		Platform: platform(lower),
		Browser:  browser(lower),
	}
	for _, kw := range uaAutomationKeywords {
		if strings.Contains(lower, kw) {
			out.Keywords = append(out.Keywords, kw)
		}
	}
	out.Automation = len(out.Keywords) > 0
	return out
}

// iOS user agents also mention "Mac OS X", so they are matched first.
func platform(ua string) string {
	switch {
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		return "iOS"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "mac"):
		return "macOS"
	case strings.Contains(ua, "linux"):
		return "Linux"
	}
	return ""
}

func browser(ua string) string {
	switch {
	case strings.Contains(ua, "edg"):
		return "Edge"
	case strings.Contains(ua, "firefox"):
		return "Firefox"
	case strings.Contains(ua, "chrome"):
		return "Chrome"
	case strings.Contains(ua, "safari"):
		return "Safari"
	}
	return ""
}
