package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/apperr"
	"github.com/SugrivLodhi/gearswap-marketplace-sub000/internal/models"
	"github.com/cenkalti/backoff/v5"
)

// Client reads the catalog service over HTTP.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	maxAttempts uint
	backoff     time.Duration
}

// NewClient creates a client for the catalog service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: timeout},
		maxAttempts: 3,
		backoff:     50 * time.Millisecond,
	}
}

// GetProduct fetches a product. Transport failures and 5xx responses are
// retried a few times before surfacing as infrastructure errors.
func (c *Client) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	endpoint := c.baseURL + "/internal/products/" + url.PathEscape(productID)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoff

	product, err := backoff.Retry(ctx, func() (*models.Product, error) {
		return c.getProduct(ctx, endpoint)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.maxAttempts))
	if err != nil {
		if _, ok := apperr.As(err); ok {
			return nil, err
		}
		return nil, apperr.Infrastructure(err, "catalog unavailable")
	}
	return product, nil
}

func (c *Client) getProduct(ctx context.Context, endpoint string) (*models.Product, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build catalog request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body apperr.Error
		_ = json.NewDecoder(resp.Body).Decode(&body)
		e := apperr.FromHTTP(resp.StatusCode, body)
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, e
		}
		return nil, backoff.Permanent(e)
	}

	var product models.Product
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode catalog product: %w", err))
	}
	return &product, nil
}
