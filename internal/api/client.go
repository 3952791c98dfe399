package api

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

const (
	indicesPath  = "/api/option-chain-indices"
	equitiesPath = "/api/option-chain-equities"
)

// Client fetches option chains from the upstream source.
type Client struct {
	baseURL      string
	homePath     string
	userAgent    string
	indexSymbols map[string]struct{}
	timeout      time.Duration
	hc           *http.Client
	http         *resty.Client
	jar          *sessionJar
	limiter      *rate.Limiter
	logger       *slog.Logger

	maxAttempts int
	backoff     time.Duration
	maxJitter   time.Duration

	sessionMu    sync.Mutex
	sessionReady bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new source client.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		homePath:     "/option-chain",
		userAgent:    "Mozilla/5.0",
		indexSymbols: make(map[string]struct{}),
		timeout:      10 * time.Second,
		limiter:      rate.NewLimiter(rate.Inf, 1),
		logger:       slog.Default(),
		maxAttempts:  4,
		backoff:      800 * time.Millisecond,
		maxJitter:    500 * time.Millisecond,
		jar:          newSessionJar(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.hc != nil {
		c.http = resty.NewWithClient(c.hc)
	} else {
		c.http = resty.New()
	}
	c.http.
		SetCookieJar(c.jar).
		SetBaseURL(c.baseURL).
		SetTimeout(c.timeout).
		SetHeader("User-Agent", c.userAgent).
		SetHeader("Accept", "application/json, text/plain, */*").
		SetHeader("Accept-Language", "en-US,en;q=0.9")

	return c
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetries sets the attempt ceiling, the first backoff (doubled per
// attempt) and the jitter upper bound.
func WithRetries(maxAttempts int, backoff, maxJitter time.Duration) ClientOption {
	return func(c *Client) {
		if maxAttempts < 1 {
			maxAttempts = 1
		}
		c.maxAttempts = maxAttempts
		c.backoff = backoff
		c.maxJitter = maxJitter
	}
}

// WithRateLimit caps outgoing requests. A non-positive rps disables the limit.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithHomePath sets the page requested to obtain session cookies.
func WithHomePath(path string) ClientOption {
	return func(c *Client) {
		c.homePath = path
	}
}

// WithUserAgent sets the User-Agent header sent upstream.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithIndexSymbols sets the symbols served by the indices endpoint.
func WithIndexSymbols(symbols ...string) ClientOption {
	return func(c *Client) {
		for _, s := range symbols {
			c.indexSymbols[strings.ToUpper(s)] = struct{}{}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient sets a custom HTTP client. Its cookie jar is replaced
// whenever the session is re-established.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.hc = hc
	}
}

// chainPath returns the endpoint serving symbol.
func (c *Client) chainPath(symbol string) string {
	if _, ok := c.indexSymbols[strings.ToUpper(symbol)]; ok {
		return indicesPath
	}
	return equitiesPath
}
