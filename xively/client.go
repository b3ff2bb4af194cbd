// Package xively consumes the feed API of the telemetry platform the eggs
// report to.
package xively

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"eggdash/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var (
	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eggdash_upstream_requests_total",
		Help: "Requests made to the telemetry platform by endpoint and status",
	}, []string{"endpoint", "status"})

	upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eggdash_upstream_request_duration_seconds",
		Help:    "Latency of requests to the telemetry platform",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms doubling to ~25s
	}, []string{"endpoint"})
)

const (
	apiKeyHeader   = "X-ApiKey"
	defaultTimeout = 30 * time.Second
)

// StatusError is returned whenever the platform answers with anything but
// the expected status code.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsEndOfPages reports whether err is the platform's way of saying a search
// has no further pages. The feed search answers a page past the end with a
// non-200 status instead of an empty result list.
func IsEndOfPages(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode != http.StatusOK
}

// IsNotFound reports whether the platform answered 404
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound
}

type ClientConfig struct {
	BaseUrl string
	ApiKey  string

	// Zero disables rate limiting
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	// Retries of transport level faults. Status errors are never retried.
	Retries uint64
	// Initial retry interval, mostly for tests
	RetryInterval time.Duration
}

// Client talks to the platform. Reads use the process wide key, writes use
// the per feed key handed in by the caller.
type Client struct {
	http    *resty.Client
	apiKey  string
	limiter *rate.Limiter
	retries uint64
	retryIn time.Duration
}

func NewClient(config ClientConfig) *Client {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	httpClient := resty.New().
		SetBaseURL(config.BaseUrl).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	retryIn := config.RetryInterval
	if retryIn == 0 {
		retryIn = 250 * time.Millisecond
	}

	return &Client{
		http:    httpClient,
		apiKey:  config.ApiKey,
		limiter: limiter,
		retries: config.Retries,
		retryIn: retryIn,
	}
}

// SearchQuery describes a call to the feed search endpoint
type SearchQuery struct {
	Tag     string
	Content string
	PerPage int
	Page    int
	Order   string

	// Geo search, only applied when both coordinates are set
	Lat      *float64
	Lon      *float64
	Distance float64
}

func (q SearchQuery) params() map[string]string {
	params := map[string]string{
		"mapped": "true",
	}
	if q.Tag != "" {
		params["tag"] = q.Tag
	}
	if q.Content != "" {
		params["content"] = q.Content
	}
	if q.PerPage > 0 {
		params["per_page"] = strconv.Itoa(q.PerPage)
	}
	if q.Page > 0 {
		params["page"] = strconv.Itoa(q.Page)
	}
	if q.Order != "" {
		params["order"] = q.Order
	}
	if q.Lat != nil && q.Lon != nil {
		params["lat"] = strconv.FormatFloat(*q.Lat, 'f', -1, 64)
		params["lon"] = strconv.FormatFloat(*q.Lon, 'f', -1, 64)
		params["distance"] = strconv.FormatFloat(q.Distance, 'f', -1, 64)
	}
	return params
}

// SearchFeeds fetches one page of feed search results
func (c *Client) SearchFeeds(ctx context.Context, query SearchQuery) (*models.SearchResult, error) {
	resp, err := c.do(ctx, "search", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetHeader(apiKeyHeader, c.apiKey).
			SetQueryParams(query.params()).
			Get("/v2/feeds.json")
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError(resp)
	}

	var result models.SearchResult
	if err := json.Unmarshal(resp.Body(), &result); err != nil {
		return nil, fmt.Errorf("failed to decode search result: %w", err)
	}
	return &result, nil
}

// GetFeed fetches a single feed. An empty apiKey uses the read only key.
func (c *Client) GetFeed(ctx context.Context, feedId int64, apiKey string) (*models.FeedSummary, error) {
	if apiKey == "" {
		apiKey = c.apiKey
	}
	resp, err := c.do(ctx, "feed", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetHeader(apiKeyHeader, apiKey).
			SetPathParam("id", strconv.FormatInt(feedId, 10)).
			Get("/v2/feeds/{id}.json")
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError(resp)
	}

	var feed models.FeedSummary
	if err := json.Unmarshal(resp.Body(), &feed); err != nil {
		return nil, fmt.Errorf("failed to decode feed %d: %w", feedId, err)
	}
	return &feed, nil
}

// Activate activates a device of the given product by its serial number
func (c *Client) Activate(ctx context.Context, productId string, serial string) (*models.Activation, error) {
	resp, err := c.do(ctx, "activate", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetHeader(apiKeyHeader, c.apiKey).
			SetPathParams(map[string]string{
				"product": productId,
				"serial":  serial,
			}).
			Get("/v2/products/{product}/devices/{serial}/activate")
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, statusError(resp)
	}

	var activation models.Activation
	if err := json.Unmarshal(resp.Body(), &activation); err != nil {
		return nil, fmt.Errorf("failed to decode activation: %w", err)
	}
	return &activation, nil
}

// UpdateFeed replaces the metadata of a feed using its write key
func (c *Client) UpdateFeed(ctx context.Context, feed models.FeedSummary, writeKey string) error {
	resp, err := c.do(ctx, "update", func(req *resty.Request) (*resty.Response, error) {
		return req.
			SetHeader(apiKeyHeader, writeKey).
			SetPathParam("id", strconv.FormatInt(feed.Id, 10)).
			SetBody(feed).
			Put("/v2/feeds/{id}.json")
	})
	if err != nil {
		return err
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusNoContent {
		return statusError(resp)
	}
	return nil
}

// do runs a request through the rate limiter, retrying transport faults
// with exponential backoff. Any response, whatever its status, ends the
// retry loop.
func (c *Client) do(ctx context.Context, endpoint string, send func(*resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	var resp *resty.Response

	operation := func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(fmt.Errorf("rate limit wait canceled: %w", err))
			}
		}

		start := time.Now()
		r, err := send(c.http.R().SetContext(ctx))
		upstreamLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err != nil {
			upstreamRequests.WithLabelValues(endpoint, "error").Inc()
			log.WithFields(log.Fields{
				"endpoint": endpoint,
				"error":    err,
			}).Warn("Upstream request failed")
			// Only faults on the wire are worth retrying, a request that
			// could not be built fails the same way every time
			var urlErr *url.Error
			if ctx.Err() != nil || !errors.As(err, &urlErr) {
				return backoff.Permanent(err)
			}
			return err
		}

		upstreamRequests.WithLabelValues(endpoint, strconv.Itoa(r.StatusCode())).Inc()
		log.WithFields(log.Fields{
			"endpoint": endpoint,
			"method":   r.Request.Method,
			"url":      r.Request.URL,
			"status":   r.StatusCode(),
			"latency":  time.Since(start),
		}).Info("Upstream request")
		resp = r
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.retryIn
	policy.MaxInterval = 10 * time.Second

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, c.retries), ctx))
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", endpoint, err)
	}
	return resp, nil
}

func statusError(resp *resty.Response) error {
	body := string(resp.Body())
	if len(body) > 200 {
		body = body[:200]
	}
	return &StatusError{StatusCode: resp.StatusCode(), Body: body}
}
