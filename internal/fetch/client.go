package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sips-and-steals/crawler/internal/clock"
)

const maxBodyBytes = 5 << 20

// Config controls Client behavior.
type Config struct {
	UserAgent        string
	RequestTimeout   time.Duration
	RobotsTimeout    time.Duration
	MaxRedirects     int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	FailureThreshold int
	CircuitTimeout   time.Duration
}

// DefaultConfig returns the politeness defaults used in production.
func DefaultConfig() Config {
	return Config{
		UserAgent:        "SipsAndStealsBot/1.0 (+https://github.com/sips-and-steals/crawler) - Denver Happy Hour Aggregator",
		RequestTimeout:   30 * time.Second,
		RobotsTimeout:    5 * time.Second,
		MaxRedirects:     10,
		BaseDelay:        2 * time.Second,
		MaxDelay:         60 * time.Second,
		FailureThreshold: 5,
		CircuitTimeout:   5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.RobotsTimeout <= 0 {
		c.RobotsTimeout = def.RobotsTimeout
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = def.MaxRedirects
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.CircuitTimeout <= 0 {
		c.CircuitTimeout = def.CircuitTimeout
	}
	return c
}

// Limiter is an optional per-origin request-rate floor applied under the
// adaptive pacing delay.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// pauser abstracts how the client sleeps, so tests can skip real waits.
type pauser interface {
	Pause(ctx context.Context, d time.Duration)
}

type timerPauser struct{}

func (timerPauser) Pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Client issues single HTTP GETs with politeness headers, consulting the
// per-origin circuit breakers and the robots gate before sending, pacing
// itself with an adaptive delay, and classifying every outcome as success,
// temporary failure, or permanent failure. It never returns an error; the
// classification and reason live on the Result, and the scheduler above it
// decides retry versus terminal report.
type Client struct {
	cfg      Config
	http     *http.Client
	robots   *RobotsGate
	breakers *BreakerRegistry
	delay    *AdaptiveDelay
	limiter  Limiter
	pause    pauser
	clock    clock.Clock
	logger   *zap.Logger

	mu       sync.Mutex
	failures int // consecutive failures across all targets
}

// NewClient constructs a Client. limiter may be nil.
func NewClient(cfg Config, limiter Limiter, clk clock.Clock, logger *zap.Logger) *Client {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:      cfg,
		robots:   NewRobotsGate(cfg.UserAgent, cfg.RobotsTimeout, logger),
		breakers: NewBreakerRegistry(cfg.FailureThreshold, cfg.CircuitTimeout, clk),
		delay:    NewAdaptiveDelay(cfg.BaseDelay, cfg.MaxDelay),
		limiter:  limiter,
		pause:    timerPauser{},
		clock:    clk,
		logger:   logger,
	}
	c.http = &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        64,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     30 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			ForceAttemptHTTP2:   true,
		},
		CheckRedirect: c.checkRedirect,
	}
	return c
}

// Breakers exposes the registry for observability.
func (c *Client) Breakers() *BreakerRegistry {
	return c.breakers
}

// Delay exposes the adaptive pacing state for observability.
func (c *Client) Delay() *AdaptiveDelay {
	return c.delay
}

// Fetch retrieves target.URL with one HTTP GET. The outcome is always
// expressed through the Result classification; see the package taxonomy.
func (c *Client) Fetch(ctx context.Context, target Target) Result {
	parsed, err := url.Parse(target.URL)
	if err != nil || parsed.Host == "" {
		return permanent(fmt.Sprintf("invalid url %q", target.URL))
	}
	origin := Origin(parsed)
	breaker := c.breakers.For(origin)

	if !breaker.Allow() {
		CircuitOpenSkips.Inc()
		c.logger.Warn("circuit open; skipping fetch",
			zap.String("owner", target.Owner), zap.String("origin", origin))
		return temporary(ReasonCircuitOpen)
	}

	if !c.robots.Allowed(ctx, target.URL) {
		RobotsDenials.Inc()
		c.logger.Warn("robots.txt disallows url",
			zap.String("owner", target.Owner), zap.String("url", target.URL))
		return permanent(ReasonRobotsDisallowed)
	}

	// Ambient pacing plus progressive backoff after consecutive failures.
	c.pause.Pause(ctx, c.delay.Next())
	if backoff := c.failureBackoff(); backoff > 0 {
		c.logger.Info("backing off before fetch",
			zap.String("url", target.URL), zap.Duration("backoff", backoff))
		c.pause.Pause(ctx, backoff)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, target.URL); err != nil {
			return temporary(fmt.Sprintf("rate limiter wait: %v", err))
		}
	}

	timeout := c.cfg.RequestTimeout
	if target.Timeout > 0 {
		timeout = target.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	chain := &redirectChain{}
	req, err := http.NewRequestWithContext(withRedirectChain(reqCtx, chain), http.MethodGet, target.URL, nil)
	if err != nil {
		return permanent(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Cache-Control", "max-age=300")

	start := c.clock.Now()
	resp, err := c.http.Do(req)
	duration := c.clock.Now().Sub(start)
	FetchDuration.Observe(duration.Seconds())

	if err != nil {
		return c.fail(breaker, Result{
			Status:    StatusTemporary,
			Reason:    classifyTransportError(err),
			Redirects: chain.hops(),
			Duration:  duration,
		})
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	result := Result{
		StatusCode: resp.StatusCode,
		FinalURL:   resp.Request.URL.String(),
		Redirects:  chain.hops(),
		Duration:   duration,
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		RateLimitHits.Inc()
		result.Status = StatusTemporary
		result.Reason = ReasonRateLimited
		return c.fail(breaker, result)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusRequestTimeout:
		result.Status = StatusTemporary
		result.Reason = fmt.Sprintf("http %d", resp.StatusCode)
		return c.fail(breaker, result)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		result.Status = StatusPermanent
		result.Reason = fmt.Sprintf("http %d", resp.StatusCode)
		return c.fail(breaker, result)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		result.Status = StatusTemporary
		result.Reason = fmt.Sprintf("read body: %v", err)
		return c.fail(breaker, result)
	}

	if BotBlocked(body) {
		BotDetections.Inc()
		result.Status = StatusPermanent
		result.Reason = ReasonBotDetection
		c.logger.Warn("bot detection triggered",
			zap.String("owner", target.Owner), zap.String("url", target.URL),
			zap.Int("body_bytes", len(body)))
		return c.fail(breaker, result)
	}
	if JSShell(body) {
		c.logger.Warn("possible JavaScript shell page",
			zap.String("owner", target.Owner), zap.String("url", target.URL),
			zap.Int("body_bytes", len(body)))
	}
	if result.HasPermanentRedirect() {
		c.logger.Info("permanent redirect; stored URL may be outdated",
			zap.String("owner", target.Owner),
			zap.String("url", target.URL),
			zap.String("final_url", result.FinalURL))
	}

	result.Status = StatusSuccess
	result.Body = body
	c.succeed(breaker)
	FetchesTotal.WithLabelValues(string(StatusSuccess)).Inc()
	return result
}

func (c *Client) fail(breaker *Breaker, result Result) Result {
	breaker.OnFailure()
	c.mu.Lock()
	c.failures++
	c.mu.Unlock()
	c.delay.OnFailure()
	FetchesTotal.WithLabelValues(string(result.Status)).Inc()
	return result
}

func (c *Client) succeed(breaker *Breaker) {
	breaker.OnSuccess()
	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
	c.delay.OnSuccess()
}

// failureBackoff returns min(baseDelay * 2^failures, maxDelay), or zero
// when there are no consecutive failures. This is distinct from the
// adaptive pacing delay.
func (c *Client) failureBackoff() time.Duration {
	c.mu.Lock()
	failures := c.failures
	c.mu.Unlock()
	if failures <= 0 || c.cfg.BaseDelay <= 0 {
		return 0
	}
	backoff := c.cfg.BaseDelay
	for i := 0; i < failures; i++ {
		backoff *= 2
		if backoff >= c.cfg.MaxDelay {
			return c.cfg.MaxDelay
		}
	}
	return backoff
}

func (c *Client) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= c.cfg.MaxRedirects {
		return fmt.Errorf("stopped after %d redirects", c.cfg.MaxRedirects)
	}
	if chain := redirectChainFrom(req.Context()); chain != nil && len(via) > 0 {
		status := 0
		if req.Response != nil {
			status = req.Response.StatusCode
		}
		chain.add(Redirect{
			From:       via[len(via)-1].URL.String(),
			To:         req.URL.String(),
			StatusCode: status,
			Permanent:  status == http.StatusMovedPermanently,
		})
	}
	return nil
}

func classifyTransportError(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timeout"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "request timeout"
	default:
		return fmt.Sprintf("network error: %v", err)
	}
}

// redirectChain collects hops recorded by CheckRedirect for one request.
type redirectChain struct {
	mu   sync.Mutex
	list []Redirect
}

func (rc *redirectChain) add(hop Redirect) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.list = append(rc.list, hop)
}

func (rc *redirectChain) hops() []Redirect {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if len(rc.list) == 0 {
		return nil
	}
	out := make([]Redirect, len(rc.list))
	copy(out, rc.list)
	return out
}

type redirectChainKey struct{}

func withRedirectChain(ctx context.Context, chain *redirectChain) context.Context {
	return context.WithValue(ctx, redirectChainKey{}, chain)
}

func redirectChainFrom(ctx context.Context) *redirectChain {
	chain, _ := ctx.Value(redirectChainKey{}).(*redirectChain)
	return chain
}
