package assets

import (
	_ "embed"
	"strconv"
	"strings"
)

//go:embed cursorguard.js
var collectorJS string

// CollectorScript returns the browser collector with its endpoint and key
// filled in. When encrypt is false the key is left out.
func CollectorScript(endpoint, key string, encrypt bool) []byte {
	if !encrypt {
		key = ""
	}
	r := strings.NewReplacer(
		"__CURSORGUARD_ENDPOINT__", jsString(endpoint),
		"__CURSORGUARD_KEY__", jsString(key),
		"__CURSORGUARD_ENCRYPT__", strconv.FormatBool(encrypt),
	)
	return []byte(r.Replace(collectorJS))
}

// jsString escapes s for use inside a double-quoted JS literal.
func jsString(s string) string {
	q := strconv.Quote(s)
	q = strings.ReplaceAll(q[1:len(q)-1], "</", `<\/`)
	return q
}
