// Package platzi fetches public student profiles and diplomas from Platzi.
package platzi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/codeGROOVE-dev/platziprofile/pkg/auth"
	"github.com/codeGROOVE-dev/platziprofile/pkg/httpcache"
	"github.com/codeGROOVE-dev/platziprofile/pkg/profile"
)

const (
	pageBaseURL = "https://platzi.com/p/"
	apiBaseURL  = "https://api.platzi.com/students/v1/diplomas/"

	// coursePageSize is the page size the diploma API is queried with.
	coursePageSize = 9

	// DefaultTimeout bounds a single upstream request.
	DefaultTimeout = 20 * time.Second
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,80}$`)

var tracer = otel.Tracer("github.com/codeGROOVE-dev/platziprofile/pkg/platzi")

// NormalizeUsername trims surrounding whitespace and reports whether the
// result is a syntactically valid Platzi username.
func NormalizeUsername(raw string) (string, bool) {
	username := strings.TrimSpace(raw)
	return username, usernamePattern.MatchString(username)
}

// ProfileURL returns the public profile page URL for a username.
func ProfileURL(username string) string {
	return pageBaseURL + url.PathEscape(username) + "/"
}

// Client handles Platzi requests.
type Client struct {
	httpClient *http.Client
	cache      httpcache.Cacher
	logger     *slog.Logger
	limiter    *rate.Limiter
	attempts   uint
}

// Option configures a Client.
type Option func(*config)

type config struct {
	cache          httpcache.Cacher
	logger         *slog.Logger
	transport      http.RoundTripper
	cookies        map[string]string
	browserCookies bool
	cloudflare     bool
	timeout        time.Duration
	rps            float64
	attempts       uint
}

// WithHTTPCache sets the HTTP cache.
func WithHTTPCache(httpCache httpcache.Cacher) Option {
	return func(c *config) { c.cache = httpCache }
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithTransport replaces the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *config) { c.transport = rt }
}

// WithCookies sets explicit session cookie values.
func WithCookies(cookies map[string]string) Option {
	return func(c *config) { c.cookies = cookies }
}

// WithBrowserCookies enables reading cookies from browser stores.
func WithBrowserCookies() Option {
	return func(c *config) { c.browserCookies = true }
}

// WithCloudflareBypass wraps the transport with Cloudflare-friendly TLS and headers.
func WithCloudflareBypass() Option {
	return func(c *config) { c.cloudflare = true }
}

// WithTimeout sets the per-request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithRateLimit caps outgoing requests per second. Zero means unlimited.
func WithRateLimit(rps float64) Option {
	return func(c *config) { c.rps = rps }
}

// WithAttempts sets how many times a transient upstream failure is tried.
func WithAttempts(n uint) Option {
	return func(c *config) { c.attempts = n }
}

// New creates a Platzi client.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &config{logger: slog.Default(), timeout: DefaultTimeout, attempts: 1}
	for _, opt := range opts {
		opt(cfg)
	}

	transport := cfg.transport
	if transport == nil {
		transport = http.DefaultTransport.(*http.Transport).Clone() //nolint:errcheck,forcetypeassert // stdlib default
	}
	if cfg.cloudflare {
		transport = cloudflarebp.AddCloudFlareByPass(transport)
	}

	httpClient := &http.Client{Timeout: cfg.timeout, Transport: transport}

	sources := []auth.Source{auth.NewStaticSource(cfg.cookies), auth.EnvSource{}}
	if cfg.browserCookies {
		sources = append(sources, auth.NewBrowserSource(cfg.logger))
	}
	cookies, err := auth.ChainSources(ctx, sources...)
	if err != nil {
		return nil, fmt.Errorf("load cookies: %w", err)
	}
	if len(cookies) > 0 {
		jar, err := auth.NewCookieJar(auth.Domain, cookies)
		if err != nil {
			return nil, fmt.Errorf("cookie jar: %w", err)
		}
		httpClient.Jar = jar
		cfg.logger.InfoContext(ctx, "using session cookies", "count", len(cookies))
	}

	c := &Client{
		httpClient: httpClient,
		cache:      cfg.cache,
		logger:     cfg.logger,
		attempts:   cfg.attempts,
	}
	if cfg.rps > 0 {
		burst := max(1, int(cfg.rps))
		c.limiter = rate.NewLimiter(rate.Limit(cfg.rps), burst)
	}
	return c, nil
}

// FetchPage downloads the public profile page HTML.
//
// A 404 is reported as *profile.NotFoundError. Any other failure is an
// *profile.UpstreamError, with StatusCode zero when no response arrived.
func (c *Client) FetchPage(ctx context.Context, username string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "platzi.FetchPage",
		trace.WithAttributes(attribute.String("platzi.username", username)))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ProfileURL(username), http.NoBody)
	if err != nil {
		return nil, err
	}
	setPageHeaders(req)

	c.logger.InfoContext(ctx, "fetching platzi profile page", "username", username)

	body, err := httpcache.FetchURL(ctx, c.cache, c.httpClient, req, c.logger, c.fetchOptions()...)
	if err == nil {
		return body, nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "profile page fetch failed")

	var httpErr *httpcache.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusNotFound {
			return nil, &profile.NotFoundError{Username: username}
		}
		return nil, &profile.UpstreamError{StatusCode: httpErr.StatusCode, Err: err}
	}
	return nil, &profile.UpstreamError{Err: err}
}

func (c *Client) fetchOptions() []httpcache.FetchOption {
	opts := []httpcache.FetchOption{httpcache.WithAttempts(c.attempts)}
	if c.limiter != nil {
		opts = append(opts, httpcache.WithLimiter(c.limiter))
	}
	return opts
}

func setPageHeaders(req *http.Request) {
	req.Header.Set("User-Agent", httpcache.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "es-ES,es;q=0.9,en;q=0.8")
}

func setAPIHeaders(req *http.Request, username string) {
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Language", "es")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", httpcache.UserAgent)
	req.Header.Set("Origin", "https://platzi.com")
	req.Header.Set("Referer", ProfileURL(username))
	req.Header.Set("Sec-Fetch-Dest", "empty")
	req.Header.Set("Sec-Fetch-Mode", "cors")
	req.Header.Set("Sec-Fetch-Site", "same-site")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
}
