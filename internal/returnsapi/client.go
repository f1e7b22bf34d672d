package returnsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
	defaultPageSize    = 50
)

// Return is one row from the returns platform's paginated list endpoint,
// used by the batch reconciliation job.
type Return struct {
	ID             string    `json:"id"`
	RMANumber      string    `json:"rma_number"`
	OrderNumber    string    `json:"order_number"`
	TrackingNumber string    `json:"tracking_number"`
	Carrier        string    `json:"slug"`
	TrackingStatus string    `json:"tracking_status"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type listResponse struct {
	Returns []Return `json:"returns"`
	HasMore bool     `json:"has_more"`
}

type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	logger      *zap.Logger
	maxAttempts int
	backoff     time.Duration
	pageSize    int
}

func NewClient(baseURL, apiKey string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		logger:      logger,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		pageSize:    defaultPageSize,
	}
}

// ListReturns fetches one page of returns. Callers are expected to insert a
// fixed delay between pages to respect the provider rate limit.
func (c *Client) ListReturns(ctx context.Context, page int) ([]Return, bool, error) {
	endpoint := fmt.Sprintf("%s/returns?page=%d&limit=%d", c.baseURL, page, c.pageSize)

	var lastErr error
	delay := c.backoff

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
			delay *= 2
		}

		returns, hasMore, retryable, err := c.list(ctx, endpoint)
		if err == nil {
			return returns, hasMore, nil
		}
		lastErr = err
		if !retryable {
			return nil, false, err
		}
		c.logger.Warn("returns list request failed, retrying",
			zap.Int("page", page), zap.Int("attempt", attempt), zap.Error(err))
	}

	return nil, false, fmt.Errorf("returns list exhausted %d attempts: %w", c.maxAttempts, lastErr)
}

func (c *Client) list(ctx context.Context, endpoint string) ([]Return, bool, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, false, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, true, err
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, false, true, fmt.Errorf("returns platform responded %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, false, fmt.Errorf("returns platform responded %d", resp.StatusCode)
	}

	var parsed listResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, false, fmt.Errorf("failed to decode returns list: %w", err)
	}
	return parsed.Returns, parsed.HasMore, false, nil
}
