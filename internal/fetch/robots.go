package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// RobotsGate enforces robots.txt directives per origin. Rulesets are
// fetched once and cached for the process lifetime; target sites are
// long-lived and fixed, so no expiry is needed.
//
// The gate fails open: if robots.txt cannot be fetched or parsed, the
// origin is cached as permissive. A broken robots parser must never stop
// crawling of permitted resources.
type RobotsGate struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData // nil entry means allow everything
}

// NewRobotsGate builds a RobotsGate. The timeout bounds the robots.txt
// sub-fetch only, not the caller's request.
func NewRobotsGate(userAgent string, timeout time.Duration, logger *zap.Logger) *RobotsGate {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsGate{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		logger:    logger,
		cache:     make(map[string]*robotstxt.RobotsData),
	}
}

// Allowed reports whether the configured user agent may fetch rawURL.
// Unparseable URLs are rejected; everything else degrades to allow.
func (g *RobotsGate) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	origin := Origin(parsed)

	g.mu.Lock()
	data, cached := g.cache[origin]
	g.mu.Unlock()

	if !cached {
		data = g.load(ctx, origin)
		g.mu.Lock()
		g.cache[origin] = data
		g.mu.Unlock()
	}

	if data == nil {
		return true
	}
	group := data.FindGroup(g.userAgent)
	if group == nil {
		return true
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	return group.Test(path)
}

// load fetches and parses {origin}/robots.txt. A nil return is the
// permissive sentinel: missing, unreachable, non-200, or malformed
// robots.txt all allow everything.
func (g *RobotsGate) load(ctx context.Context, origin string) *robotstxt.RobotsData {
	robotsURL := origin + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("robots fetch failed; allowing origin",
			zap.String("origin", origin), zap.Error(err))
		return nil
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			g.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		g.logger.Debug("robots returned non-200; allowing origin",
			zap.String("origin", origin), zap.Int("status", resp.StatusCode))
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		g.logger.Warn("robots read failed; allowing origin",
			zap.String("origin", origin), zap.Error(err))
		return nil
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		g.logger.Warn("robots parse failed; allowing origin",
			zap.String("origin", origin), zap.Error(err))
		return nil
	}
	return data
}
