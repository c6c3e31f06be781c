package fetch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// FetchesTotal counts fetch attempts by classified outcome.
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crawler_fetches_total",
		Help: "Total fetch attempts, labeled by outcome classification.",
	}, []string{"outcome"})
	// CircuitOpenSkips counts fetches skipped because the breaker was open.
	CircuitOpenSkips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_circuit_open_skips_total",
		Help: "Fetches skipped without a network call because the circuit was open.",
	})
	// RateLimitHits counts HTTP 429 responses.
	RateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_rate_limit_hits_total",
		Help: "Responses classified as rate limiting (HTTP 429).",
	})
	// BotDetections counts confident bot-block classifications.
	BotDetections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_bot_detections_total",
		Help: "Responses classified as bot-detection block pages.",
	})
	// RobotsDenials counts fetches refused by robots.txt.
	RobotsDenials = promauto.NewCounter(prometheus.CounterOpts{
		Name: "crawler_robots_denials_total",
		Help: "Fetches refused because robots.txt disallows the URL.",
	})
	// FetchDuration observes wall time of network fetches.
	FetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "crawler_fetch_duration_seconds",
		Help:    "Histogram of fetch latencies including redirects.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})
)
