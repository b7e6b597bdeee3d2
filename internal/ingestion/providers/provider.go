package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/statline-dev/liveline/internal/models"
	"github.com/statline-dev/liveline/pkg/config"
)

// DataSource is the capability interface every external feed client
// implements. Poll returns whatever records the feed currently has;
// the pipeline validates and routes them.
type DataSource interface {
	Name() string
	Poll(ctx context.Context) ([]models.Record, error)
}

// apiClient is the shared HTTP plumbing for feed clients
type apiClient struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

func newAPIClient(cfg config.SourceConfig) apiClient {
	return apiClient{
		name:    cfg.Name,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// doGet issues an authenticated GET and decodes the JSON body into dest
func (c *apiClient) doGet(ctx context.Context, path string, params url.Values, dest interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("source %s has no base URL configured", c.name)
	}

	endpoint, err := url.Parse(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("invalid endpoint for source %s: %w", c.name, err)
	}
	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" {
		params.Set("key", c.apiKey)
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("source %s returned status %d: %s", c.name, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", c.name, err)
	}
	return nil
}
