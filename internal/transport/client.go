package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/SebastienMelki/causality-push/internal/batch"
	"github.com/SebastienMelki/causality-push/internal/observability"
)

// UploadPath is appended to the endpoint.
const UploadPath = "/v1/envelopes"

// ClientConfig configures the HTTP uploader. APIKey is normally taken from
// the SDK configuration rather than the environment.
type ClientConfig struct {
	Endpoint  string        `env:"ENDPOINT"   envDefault:"http://localhost:8080"`
	APIKey    string        `env:"API_KEY"`
	UserAgent string        `env:"USER_AGENT" envDefault:"causality-push/1.0"`
	Timeout   time.Duration `env:"TIMEOUT"    envDefault:"30s"`
	Backoff   Backoff

	// RequestsPerSecond throttles uploads; zero disables throttling.
	RequestsPerSecond float64 `env:"RPS"   envDefault:"0"`
	Burst             int     `env:"BURST" envDefault:"1"`
}

// Client posts envelopes as JSON. It implements batch.Uploader.
type Client struct {
	http     *http.Client
	url      string
	apiKey   string
	agent    string
	backoff  Backoff
	limiter  *rate.Limiter
	metrics  *observability.Metrics
	logger   *slog.Logger
	now      func() time.Time
	sleepFor func(ctx context.Context, d time.Duration) bool
}

// NewClient creates an HTTP uploader.
func NewClient(cfg ClientConfig, metrics *observability.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "causality-push/1.0"
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := max(cfg.Burst, 1)
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		http:     &http.Client{Timeout: cfg.Timeout},
		url:      strings.TrimRight(cfg.Endpoint, "/") + UploadPath,
		apiKey:   cfg.APIKey,
		agent:    cfg.UserAgent,
		backoff:  cfg.Backoff,
		limiter:  limiter,
		metrics:  metrics,
		logger:   logger.With("component", "http-uploader"),
		now:      time.Now,
		sleepFor: sleepWithContext,
	}
}

// Upload sends env, retrying on network errors, 429 and 5xx. A Retry-After
// header longer than the backoff delay wins.
func (c *Client) Upload(ctx context.Context, env *batch.Envelope) error {
	if env == nil {
		return ErrNilEnvelope
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if c.metrics != nil {
		c.metrics.EnvelopeSize.Record(ctx, int64(len(body)),
			otelmetric.WithAttributes(attribute.String("uploader", "http")))
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for upload slot: %w", err)
		}

		status, hint, err := c.post(ctx, body)
		switch {
		case err == nil && status < 300:
			c.logger.Debug("envelope accepted", "id", env.ID, "status", status, "bytes", len(body))
			return nil
		case err == nil && !retryable(status):
			return fmt.Errorf("%w: envelope %s: HTTP %d", ErrUploadRejected, env.ID, status)
		case err == nil:
			lastErr = fmt.Errorf("HTTP %d", status)
		default:
			lastErr = err
		}

		delay, ok := c.backoff.Delay(attempt)
		if !ok {
			return fmt.Errorf("%w: envelope %s: %w", ErrRetriesExceeded, env.ID, lastErr)
		}
		if h := retryAfter(hint, c.now()); h > delay {
			delay = h
		}

		c.logger.Warn("upload failed, retrying",
			"id", env.ID,
			"attempt", attempt+1,
			"delay", delay,
			"error", lastErr,
		)
		if !c.sleepFor(ctx, delay) {
			return fmt.Errorf("upload canceled: %w", ctx.Err())
		}
	}
}

// post returns the response status and its Retry-After header.
func (c *Client) post(ctx context.Context, body []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("User-Agent", c.agent)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, resp.Header.Get("Retry-After"), nil
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
