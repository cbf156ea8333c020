// Package catalog fetches and parses pages of the x402scan public seller
// catalog (a tRPC batch endpoint answering in JSON lines).
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"x402watch/internal/jsontree"
	"x402watch/internal/observability/metrics"
	"x402watch/pkg/logx"
)

var (
	ErrFetch  = errors.New("catalog: fetch failed")
	ErrDecode = errors.New("catalog: malformed response")
)

const (
	DefaultBaseURL   = "https://www.x402scan.com"
	DefaultProcedure = "public.sellers.bazaar.list"
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

	defaultTimeout      = 20 * time.Second
	defaultMaxAttempts  = 3
	defaultRetryBase    = 500 * time.Millisecond
	defaultRetryMax     = 5 * time.Second
	defaultMaxBodyBytes = 64 << 20
)

type Config struct {
	BaseURL      string
	Procedure    string
	UserAgent    string
	Timeout      time.Duration
	MaxAttempts  int
	RetryBase    time.Duration
	RatePerSec   float64 // <= 0 disables the client-side limit
	MaxBodyBytes int64
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Procedure == "" {
		c.Procedure = DefaultProcedure
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	return c
}

// Client talks to the catalog endpoint. It is safe for concurrent use.
type Client struct {
	cfg     Config
	hc      *http.Client
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: cfg.Timeout},
		log: log.With(logx.String("comp", "catalog")),
	}
	if cfg.RatePerSec > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return c
}

// FetchPage fetches one page and extracts its entries.
func (c *Client) FetchPage(ctx context.Context, page, pageSize int) (PageResult, error) {
	tree, err := c.Fetch(ctx, page, pageSize)
	if err != nil {
		return PageResult{}, err
	}
	metrics.PagesFetched.Inc()
	return ParsePage(tree), nil
}

// Fetch requests one page and returns the leniently parsed response tree.
// Transport and decode failures are retried up to MaxAttempts; the returned
// error wraps ErrFetch or ErrDecode along with the last cause.
func (c *Client) Fetch(ctx context.Context, page, pageSize int) (jsontree.Node, error) {
	if page < 0 {
		return jsontree.Node{}, fmt.Errorf("catalog: negative page %d", page)
	}
	if pageSize <= 0 {
		return jsontree.Node{}, fmt.Errorf("catalog: page size must be positive, got %d", pageSize)
	}
	reqURL, err := c.pageURL(page, pageSize)
	if err != nil {
		return jsontree.Node{}, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryBase
	b.MaxInterval = defaultRetryMax

	attempt := 0
	op := func() (jsontree.Node, error) {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return jsontree.Node{}, backoff.Permanent(err)
			}
		}
		return c.fetchOnce(ctx, reqURL)
	}
	tree, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(c.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.log.Warn("catalog fetch failed, retrying",
				logx.Int("page", page),
				logx.Int("attempt", attempt),
				logx.Duration("backoff", next),
				logx.Err(err),
			)
		}),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return jsontree.Node{}, ctxErr
		}
		if !errors.Is(err, ErrFetch) && !errors.Is(err, ErrDecode) {
			err = fmt.Errorf("%w: %w", ErrFetch, err)
		}
		return jsontree.Node{}, fmt.Errorf("page %d after %d attempt(s): %w", page, attempt, err)
	}
	return tree, nil
}

func (c *Client) fetchOnce(ctx context.Context, reqURL string) (jsontree.Node, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return jsontree.Node{}, backoff.Permanent(fmt.Errorf("%w: %w", ErrFetch, err))
	}
	req.Header.Set("accept", "*/*")
	req.Header.Set("trpc-accept", "application/jsonl")
	req.Header.Set("user-agent", c.cfg.UserAgent)

	resp, err := c.hc.Do(req)
	if err != nil {
		metrics.RecordFetch("transport_error", time.Since(start))
		return jsontree.Node{}, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		metrics.RecordFetch("transport_error", time.Since(start))
		return jsontree.Node{}, fmt.Errorf("%w: read body: %w", ErrFetch, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.RecordFetch("http_error", time.Since(start))
		return jsontree.Node{}, fmt.Errorf("%w: status %d: %s", ErrFetch, resp.StatusCode, snippet(body))
	}

	tree, err := jsontree.ParseLenient(body)
	if err != nil {
		metrics.RecordFetch("decode_error", time.Since(start))
		return jsontree.Node{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	metrics.RecordFetch("ok", time.Since(start))
	return tree, nil
}

func (c *Client) pageURL(page, pageSize int) (string, error) {
	input, err := BuildInput(page, pageSize)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("batch", "1")
	q.Set("input", input)
	return c.cfg.BaseURL + "/api/trpc/" + c.cfg.Procedure + "?" + q.Encode(), nil
}

type pagination struct {
	PageSize int `json:"page_size"`
	Page     int `json:"page"`
}

type batchInput struct {
	Zero struct {
		JSON struct {
			Pagination pagination `json:"pagination"`
		} `json:"json"`
	} `json:"0"`
}

// BuildInput renders the tRPC batch input for one page:
// {"0":{"json":{"pagination":{"page_size":N,"page":P}}}}
func BuildInput(page, pageSize int) (string, error) {
	var in batchInput
	in.Zero.JSON.Pagination = pagination{PageSize: pageSize, Page: page}
	b, err := json.Marshal(in)
	if err != nil {
		return "", fmt.Errorf("catalog: encode input: %w", err)
	}
	return string(b), nil
}

func snippet(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
