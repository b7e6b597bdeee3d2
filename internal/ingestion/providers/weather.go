package providers

import (
	"context"

	"github.com/statline-dev/liveline/internal/models"
	"github.com/statline-dev/liveline/pkg/config"
)

// WeatherClient polls venue conditions for outdoor events
type WeatherClient struct {
	apiClient
}

type weatherResponse struct {
	Conditions []models.WeatherRecord `json:"conditions"`
}

func NewWeatherClient(cfg config.SourceConfig) *WeatherClient {
	return &WeatherClient{apiClient: newAPIClient(cfg)}
}

func (c *WeatherClient) Name() string { return c.name }

func (c *WeatherClient) Poll(ctx context.Context) ([]models.Record, error) {
	var resp weatherResponse
	if err := c.doGet(ctx, "/v1/venues/conditions", nil, &resp); err != nil {
		return nil, err
	}

	records := make([]models.Record, 0, len(resp.Conditions))
	for _, cond := range resp.Conditions {
		cond.Source = c.name
		records = append(records, cond)
	}
	return records, nil
}
