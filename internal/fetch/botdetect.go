package fetch

import (
	"bytes"
)

// Bot-block pages are short. A marker inside a long page is almost always
// legitimate content (an article about captchas, a cookie banner).
const (
	blockedBodyLimit = 500
	jsShellBodyLimit = 1000
)

var botMarkers = [][]byte{
	[]byte("access denied"),
	[]byte("blocked"),
	[]byte("captcha"),
	[]byte("cloudflare security"),
	[]byte("security check"),
	[]byte("bot detection"),
	[]byte("please enable javascript"),
	[]byte("automated requests"),
	[]byte("suspicious activity"),
	[]byte("verify you are human"),
}

var jsToken = []byte("javascript")

// BotBlocked reports whether a 2xx body looks like a block page: very
// short and carrying a known bot-detection marker.
func BotBlocked(body []byte) bool {
	if len(body) == 0 || len(body) >= blockedBodyLimit {
		return false
	}
	lower := bytes.ToLower(body)
	for _, marker := range botMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// JSShell reports whether the body looks like a JavaScript shell page: a
// short document mentioning javascript. Some legitimate sites serve these,
// so callers should warn rather than fail.
func JSShell(body []byte) bool {
	if len(body) == 0 || len(body) >= jsShellBodyLimit {
		return false
	}
	return bytes.Contains(bytes.ToLower(body), jsToken)
}
