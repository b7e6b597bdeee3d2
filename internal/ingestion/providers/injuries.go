package providers

import (
	"context"

	"github.com/statline-dev/liveline/internal/models"
	"github.com/statline-dev/liveline/pkg/config"
)

// InjuryClient polls player availability reports
type InjuryClient struct {
	apiClient
}

type injuryResponse struct {
	Reports []models.InjuryRecord `json:"reports"`
}

func NewInjuryClient(cfg config.SourceConfig) *InjuryClient {
	return &InjuryClient{apiClient: newAPIClient(cfg)}
}

func (c *InjuryClient) Name() string { return c.name }

func (c *InjuryClient) Poll(ctx context.Context) ([]models.Record, error) {
	var resp injuryResponse
	if err := c.doGet(ctx, "/v1/injuries", nil, &resp); err != nil {
		return nil, err
	}

	records := make([]models.Record, 0, len(resp.Reports))
	for _, report := range resp.Reports {
		report.Source = c.name
		records = append(records, report)
	}
	return records, nil
}
