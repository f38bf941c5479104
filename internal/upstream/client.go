// Package upstream is the shared HTTP transport for the billing, CRM and
// membership clients: per-system rate limiting, per-call timeouts, bounded
// retries, and mapping of HTTP failures onto the apperr taxonomy.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/wolfman30/medspa-roster-sync/internal/apperr"
	"github.com/wolfman30/medspa-roster-sync/pkg/logging"
)

var upstreamTracer = otel.Tracer("medspa.internal.upstream")

const maxErrorBody = 512

// Config controls how a Client behaves.
type Config struct {
	System     string
	BaseURL    string
	Timeout    time.Duration
	RatePerSec float64
	Burst      int
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
	// Authorize decorates each outgoing request with credentials.
	Authorize func(*http.Request)
}

// Client issues JSON requests against one upstream system.
type Client struct {
	system     string
	baseURL    string
	timeout    time.Duration
	limiter    *rate.Limiter
	maxRetries int
	backoff    time.Duration
	httpClient *http.Client
	logger     *logging.Logger
	authorize  func(*http.Request)
}

// New creates a configured Client with sane defaults.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		system:     cfg.System,
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		timeout:    timeout,
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: maxRetries,
		backoff:    backoff,
		httpClient: httpClient,
		logger:     logger,
		authorize:  cfg.Authorize,
	}
}

// System returns the upstream system name used in errors and metrics.
func (c *Client) System() string { return c.system }

// Do sends body (JSON encoded when non-nil) and decodes a 2xx response into
// out (when non-nil). The whole call, retries included, is bounded by the
// configured timeout.
func (c *Client) Do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	ctx, span := upstreamTracer.Start(ctx, "upstream."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("upstream.system", c.system),
		attribute.String("http.method", method),
	)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("upstream: encode %s request: %w", op, err)
		}
	}

	data, status, err := c.send(ctx, op, method, c.buildURL(path, query), payload)
	span.SetAttributes(attribute.Int("http.status_code", status))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &apperr.ExternalServiceError{System: c.system, Op: op, StatusCode: status, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) send(ctx context.Context, op, method, target string, payload []byte) ([]byte, int, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, 0, apperr.External(c.system, op, err)
		}
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, reader)
		if err != nil {
			return nil, 0, fmt.Errorf("upstream: build %s request: %w", op, err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.authorize != nil {
			c.authorize(req)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = apperr.External(c.system, op, err)
			if ctx.Err() != nil || !shouldRetry(0, err) || attempt == c.maxRetries {
				return nil, 0, lastErr
			}
			c.logRetry(op, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, 0, apperr.External(c.system, op, sleepErr)
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, apperr.External(c.system, op, readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, resp.StatusCode, nil
		}
		statusErr := c.statusError(op, resp.StatusCode, data)
		if attempt < c.maxRetries && shouldRetry(resp.StatusCode, nil) {
			lastErr = statusErr
			c.logRetry(op, attempt, resp.StatusCode, statusErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, resp.StatusCode, apperr.External(c.system, op, sleepErr)
			}
			continue
		}
		return nil, resp.StatusCode, statusErr
	}
	if lastErr != nil {
		return nil, 0, lastErr
	}
	return nil, 0, &apperr.ExternalServiceError{System: c.system, Op: op, Err: errors.New("request failed without response")}
}

func (c *Client) statusError(op string, status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > maxErrorBody {
		detail = detail[:maxErrorBody]
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &apperr.ConfigurationError{
			System: c.system,
			Reason: fmt.Sprintf("credentials rejected (status %d)", status),
		}
	}
	var cause error
	if detail != "" {
		cause = errors.New(detail)
	}
	return &apperr.ExternalServiceError{System: c.system, Op: op, StatusCode: status, Err: cause}
}

func (c *Client) buildURL(path string, query url.Values) string {
	full := c.baseURL
	if path != "" {
		full += "/" + strings.TrimLeft(path, "/")
	}
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	return full
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.backoff * time.Duration(1<<attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(op string, attempt int, status int, err error) {
	c.logger.Warn("upstream retry",
		"system", c.system,
		"op", op,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	return status == http.StatusTooManyRequests || (status >= 500 && status <= 599)
}
