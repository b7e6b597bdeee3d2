package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/statline-dev/liveline/internal/models"
)

// HTTPFeatureProvider calls the external ML inference endpoint for a
// margin prediction. Failures are surfaced to the caller, which falls
// back to the market baseline.
type HTTPFeatureProvider struct {
	baseURL string
	client  *http.Client
}

func NewHTTPFeatureProvider(baseURL string, timeout time.Duration) *HTTPFeatureProvider {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPFeatureProvider{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type marginPrediction struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

func (p *HTTPFeatureProvider) PredictMargin(ctx context.Context, state *models.GameState) (float64, float64, error) {
	if p.baseURL == "" {
		return 0, 0, fmt.Errorf("feature service not configured")
	}

	body, err := json.Marshal(state)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to encode game state: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/predict/margin", bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, 0, &models.UpstreamError{Source: "features", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, &models.UpstreamError{
			Source: "features",
			Err:    fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var pred marginPrediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return 0, 0, fmt.Errorf("failed to decode prediction: %w", err)
	}
	return pred.Mean, pred.StdDev, nil
}
