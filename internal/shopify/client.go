package shopify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/repository"
	"github.com/TrevorSmithey/smitheywarehouse-sub007/internal/restoration"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
)

// Client looks up storefront orders by their human-readable reference. This
// is the only outbound dependency of the record linker.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *zap.Logger
	maxAttempts int
	backoff     time.Duration
}

func NewClient(baseURL, accessToken string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		accessToken: accessToken,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
}

type orderResponse struct {
	Orders []struct {
		ID         int64  `json:"id"`
		Name       string `json:"name"`
		SourceName string `json:"source_name"`
	} `json:"orders"`
}

// LookupOrder resolves an order reference ("#2143" style) to the internal
// order id. Transient upstream failures are retried with backoff; exhausting
// the retries surfaces as an error, never a silent skip.
func (c *Client) LookupOrder(ctx context.Context, reference string) (*restoration.OrderInfo, error) {
	endpoint := fmt.Sprintf("%s/admin/api/2024-01/orders.json?name=%s&status=any&fields=id,name,source_name",
		c.baseURL, url.QueryEscape(reference))

	body, err := c.getWithRetry(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode order lookup response: %w", err)
	}
	if len(resp.Orders) == 0 {
		return nil, repository.ErrObjectNotFound
	}

	order := resp.Orders[0]
	return &restoration.OrderInfo{
		ID:            order.ID,
		IsPointOfSale: order.SourceName == "pos",
	}, nil
}

func (c *Client) getWithRetry(ctx context.Context, endpoint string) ([]byte, error) {
	var lastErr error
	delay := c.backoff

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
		}

		body, retryable, err := c.get(ctx, endpoint)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.logger.Warn("storefront request failed, retrying",
			zap.Int("attempt", attempt), zap.Error(err))
	}

	return nil, fmt.Errorf("storefront request exhausted %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("storefront responded %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("storefront responded %d", resp.StatusCode)
	}
}
