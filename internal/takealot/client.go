package takealot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/sellerops/marketsync/internal/models"
	"github.com/sellerops/marketsync/internal/utils/httpclient"
)

const (
	maxAttempts     = 3
	initialBackoff  = time.Second
	maxBackoff      = 5 * time.Second
	offersPath      = "/v2/offers"
	salesPath       = "/v2/sales"
	dateParamFormat = "2006-01-02 15:04:05"
)

// Client fetches pages from the marketplace seller API. Requests go through
// a pooled HTTP client; when the pool is built with a proxy URL they ride
// the rotating-proxy layer, which handles its own rotation internally.
type Client struct {
	baseURL string
	pool    *httpclient.Pool
	logger  *zap.Logger
	backoff time.Duration
}

// NewClient creates a new seller API client
func NewClient(baseURL string, pool *httpclient.Pool, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		pool:    pool,
		logger:  logger,
		backoff: initialBackoff,
	}
}

// FetchPage fetches one page, retrying transient failures with exponential
// backoff before giving up. A nil error means the page was parsed; callers
// inspect Page.Records for its contents.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = salesPath
		if req.Kind == models.DataKindProducts {
			endpoint = offersPath
		}
	}

	pageURL, err := c.buildURL(endpoint, req)
	if err != nil {
		return nil, err
	}

	backoff := c.backoff
	var lastErr error
	var lastStatus int

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		page, status, err := c.fetchOnce(ctx, pageURL, req.APIKey, req.Kind)
		if err == nil {
			return page, nil
		}
		lastErr = err
		lastStatus = status

		c.logger.Warn("page fetch attempt failed",
			zap.String("kind", string(req.Kind)),
			zap.Int("page", req.Page),
			zap.Int("attempt", attempt),
			zap.Int("status", status),
			zap.Error(err))

		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, &models.UpstreamFetchError{Page: req.Page, StatusCode: lastStatus, Err: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}

	return nil, &models.UpstreamFetchError{Page: req.Page, StatusCode: lastStatus, Err: lastErr}
}

func (c *Client) buildURL(endpoint string, req PageRequest) (string, error) {
	u, err := url.Parse(c.baseURL + endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint: %w", err)
	}

	q := u.Query()
	q.Set("page_number", strconv.Itoa(req.Page))
	q.Set("page_size", strconv.Itoa(req.PageSize))
	if req.StartDate != nil {
		q.Set("created_date_start", req.StartDate.UTC().Format(dateParamFormat))
	}
	if req.EndDate != nil {
		q.Set("created_date_end", req.EndDate.UTC().Format(dateParamFormat))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) fetchOnce(ctx context.Context, pageURL, apiKey string, kind models.DataKind) (*Page, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Key "+apiKey)
	httpReq.Header.Set("Accept", "application/json")

	client := c.pool.Get()
	defer c.pool.Put(client)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var envelope pageEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to decode page: %w", err)
	}

	return &Page{
		Records:    envelope.records(kind),
		Total:      envelope.total(),
		StatusCode: resp.StatusCode,
		ProxyUsed:  resp.Header.Get("X-Proxy-Used"),
	}, resp.StatusCode, nil
}
