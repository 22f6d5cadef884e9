package probe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"offlinewatch/internal/models"
)

const (
	defaultTimeout   = 5 * time.Second
	defaultUserAgent = "offlinewatch-probe/1.0"
)

// ErrEmptyURL is returned when a probe is requested without a target.
var ErrEmptyURL = errors.New("probe url is empty")

// Prober performs a single HTTP connectivity probe.
type Prober interface {
	Probe(ctx context.Context, url string) (models.ProbeResult, error)
}

// Options configures an HTTPProber.
type Options struct {
	Method        string
	Timeout       time.Duration
	UserAgent     string
	RatePerSecond float64
	Burst         int
}

// HTTPProber issues probes with resty over a pooled transport. Redirects are
// never followed because a 3xx answer is itself the captive portal signal.
type HTTPProber struct {
	client  *resty.Client
	limiter *rate.Limiter
	method  string
	logger  *zap.Logger
}

// NewHTTPProber builds a prober from options.
func NewHTTPProber(opts Options, logger *zap.Logger) *HTTPProber {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("probe")

	method := strings.ToUpper(strings.TrimSpace(opts.Method))
	if method == "" {
		method = http.MethodGet
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	// Only the pooled transport is borrowed; every probe is a single attempt.
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 0
	retryClient.Logger = nil

	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", userAgent).
		SetHeader("Cache-Control", "no-cache").
		SetLogger(logger.Sugar()).
		SetTransport(retryClient.HTTPClient.Transport).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}))

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}

	return &HTTPProber{
		client:  client,
		limiter: limiter,
		method:  method,
		logger:  logger,
	}
}

// Probe requests url once and reports status code and body length.
func (p *HTTPProber) Probe(ctx context.Context, url string) (models.ProbeResult, error) {
	result := models.ProbeResult{URL: url}
	if strings.TrimSpace(url) == "" {
		return result, ErrEmptyURL
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return result, fmt.Errorf("wait for probe slot: %w", err)
	}

	started := time.Now()
	resp, err := p.client.R().SetContext(ctx).Execute(p.method, url)
	result.CheckedAt = time.Now().UTC()
	if err != nil {
		p.logger.Debug("probe failed", zap.String("url", url), zap.Error(err))
		return result, fmt.Errorf("probe %s: %w", url, err)
	}

	result.StatusCode = resp.StatusCode()
	result.LatencyMs = time.Since(started).Milliseconds()
	result.ContentLength = int64(len(resp.Body()))
	if result.ContentLength == 0 && resp.RawResponse != nil && resp.RawResponse.ContentLength > 0 {
		result.ContentLength = resp.RawResponse.ContentLength
	}

	p.logger.Debug("probe completed",
		zap.String("url", url),
		zap.Int("status", result.StatusCode),
		zap.Int64("content_length", result.ContentLength),
		zap.Int64("latency_ms", result.LatencyMs),
	)
	return result, nil
}
