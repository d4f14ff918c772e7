package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/roach88/icm/internal/record"
)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	// BaseURL is the service root, e.g. "https://erp.example.com/api".
	BaseURL string
	// PageSize is the number of records requested per page.
	PageSize int
	// MaxRetries is the number of retries per page after the first attempt.
	MaxRetries int
	// RetryBase is the initial backoff delay.
	RetryBase time.Duration
	// RetryMax caps the backoff interval before jitter.
	RetryMax time.Duration
	// BreakerFailures is the number of consecutive failed pages that opens
	// the circuit breaker.
	BreakerFailures uint32
	// BreakerTimeout is how long the breaker stays open.
	BreakerTimeout time.Duration
}

// DefaultHTTPConfig returns settings suited to a typical ERP API.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		PageSize:        500,
		MaxRetries:      3,
		RetryBase:       200 * time.Millisecond,
		RetryMax:        5 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

var paths = map[Type]string{
	SalesOrders:  "sales-orders",
	Invoices:     "invoices",
	PaidInvoices: "paid-invoices",
}

// page is the response body for one page of records.
type page struct {
	Items    []record.Record `json:"items"`
	NextPage int             `json:"nextPage"`
}

// HTTPClient fetches records from a paged HTTP API.
//
// Each page is requested as
//
//	GET {BaseURL}/{type}?from=YYYY-MM-DD&to=YYYY-MM-DD&page=N&pageSize=M
//
// with repeated participant and salesOrg parameters and an optional
// recordId. Server errors and transport failures are retried with
// exponential backoff; every page goes through a circuit breaker.
type HTTPClient struct {
	cfg     HTTPConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client. The client's
// transport is wrapped for tracing.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		h.http = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) HTTPOption {
	return func(h *HTTPClient) {
		h.logger = l
	}
}

// NewHTTPClient creates a client for cfg.BaseURL.
func NewHTTPClient(cfg HTTPConfig, opts ...HTTPOption) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("source base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse source base URL: %w", err)
	}
	def := DefaultHTTPConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = def.BreakerTimeout
	}

	c := &HTTPClient{
		cfg:    cfg,
		http:   &http.Client{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	base := c.http.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	c.http.Transport = otelhttp.NewTransport(base)

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "transaction-source",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return c, nil
}

// Fetch pages through every record matching q.
func (c *HTTPClient) Fetch(ctx context.Context, q Query) ([]record.Record, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	out := make([]record.Record, 0)
	for pageNo := 1; pageNo > 0; {
		p, err := c.fetchPage(ctx, q, pageNo)
		if err != nil {
			return nil, err
		}
		out = append(out, p.Items...)
		c.logger.Debug("fetched page",
			zap.String("type", string(q.Type)),
			zap.Int("page", pageNo),
			zap.Int("records", len(p.Items)))

		if p.NextPage <= pageNo {
			break
		}
		pageNo = p.NextPage
	}
	return out, nil
}

func (c *HTTPClient) fetchPage(ctx context.Context, q Query, pageNo int) (page, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchPageWithRetry(ctx, q, pageNo)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return page{}, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
		}
		return page{}, err
	}
	return result.(page), nil
}

func (c *HTTPClient) fetchPageWithRetry(ctx context.Context, q Query, pageNo int) (page, error) {
	var (
		p         page
		attempts  int
		permanent bool
	)
	op := func() error {
		attempts++
		got, retry, err := c.doPage(ctx, q, pageNo)
		if err != nil {
			if !retry {
				permanent = true
				return backoff.Permanent(err)
			}
			return err
		}
		p = got
		return nil
	}
	notify := func(err error, delay time.Duration) {
		c.logger.Info("retrying source request",
			zap.Int("page", pageNo),
			zap.Int("attempt", attempts),
			zap.Duration("delay", delay),
			zap.Error(err))
	}

	err := backoff.RetryNotify(op, retryPolicy(ctx, c.cfg.RetryBase, c.cfg.RetryMax, c.cfg.MaxRetries), notify)
	switch {
	case err == nil:
		return p, nil
	case permanent || ctx.Err() != nil:
		return page{}, err
	}
	return page{}, fmt.Errorf("%w: page %d after %d attempts: %w",
		ErrSourceUnavailable, pageNo, attempts, err)
}

// doPage performs one request. retry reports whether the failure is
// transient.
func (c *HTTPClient) doPage(ctx context.Context, q Query, pageNo int) (p page, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pageURL(q, pageNo), nil)
	if err != nil {
		return page{}, false, fmt.Errorf("build source request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return page{}, false, ctx.Err()
		}
		return page{}, true, fmt.Errorf("source request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return page{}, true, fmt.Errorf("source responded %s", resp.Status)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return page{}, false, fmt.Errorf("source responded %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return page{}, false, fmt.Errorf("decode source page %d: %w", pageNo, err)
	}
	return p, false, nil
}

func (c *HTTPClient) pageURL(q Query, pageNo int) string {
	v := url.Values{}
	v.Set("from", q.From.Format(time.DateOnly))
	v.Set("to", q.To.Format(time.DateOnly))
	v.Set("page", strconv.Itoa(pageNo))
	v.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
	for _, p := range q.Participants {
		v.Add("participant", p)
	}
	for _, org := range q.SalesOrgs {
		v.Add("salesOrg", org)
	}
	if q.RecordID != "" {
		v.Set("recordId", q.RecordID)
	}
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + paths[q.Type] + "?" + v.Encode()
}
