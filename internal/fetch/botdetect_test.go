package fetch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBotBlockedMatchesShortBlockPages(t *testing.T) {
	t.Parallel()
	cases := []string{
		"<html><body>Access Denied</body></html>",
		"<html>You have been BLOCKED</html>",
		"Please complete the CAPTCHA to continue",
		"Cloudflare Security challenge",
		"Performing a security check",
		"bot detection in progress",
		"Please enable JavaScript to view this page",
		"We detected automated requests from your network",
		"Suspicious activity detected",
		"Verify you are human",
	}
	for _, body := range cases {
		assert.True(t, BotBlocked([]byte(body)), "expected block page: %q", body)
	}
}

func TestBotBlockedIgnoresLongPages(t *testing.T) {
	t.Parallel()
	// A marker buried in a full-length page is legitimate content.
	long := "captcha " + strings.Repeat("happy hour menu specials ", 40)
	assert.GreaterOrEqual(t, len(long), blockedBodyLimit)
	assert.False(t, BotBlocked([]byte(long)))
}

func TestBotBlockedIgnoresCleanAndEmptyBodies(t *testing.T) {
	t.Parallel()
	assert.False(t, BotBlocked(nil))
	assert.False(t, BotBlocked([]byte("")))
	assert.False(t, BotBlocked([]byte("<html><body>Happy hour 3-6pm daily</body></html>")))
}

func TestJSShellDetection(t *testing.T) {
	t.Parallel()
	assert.True(t, JSShell([]byte("<html><noscript>This site requires JavaScript</noscript></html>")))
	assert.False(t, JSShell([]byte("<html><body>Welcome</body></html>")))

	long := "javascript " + strings.Repeat("menu content ", 100)
	assert.GreaterOrEqual(t, len(long), jsShellBodyLimit)
	assert.False(t, JSShell([]byte(long)), "full pages mentioning javascript are not shells")
}
