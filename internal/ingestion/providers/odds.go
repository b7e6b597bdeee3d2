package providers

import (
	"context"
	"net/url"

	"github.com/statline-dev/liveline/internal/models"
	"github.com/statline-dev/liveline/pkg/config"
)

// OddsClient polls the betting lines feed
type OddsClient struct {
	apiClient
}

type oddsResponse struct {
	Lines []models.LineRecord `json:"lines"`
}

func NewOddsClient(cfg config.SourceConfig) *OddsClient {
	return &OddsClient{apiClient: newAPIClient(cfg)}
}

func (c *OddsClient) Name() string { return c.name }

func (c *OddsClient) Poll(ctx context.Context) ([]models.Record, error) {
	params := url.Values{}
	params.Set("markets", "spread,total,moneyline")

	var resp oddsResponse
	if err := c.doGet(ctx, "/v1/lines/live", params, &resp); err != nil {
		return nil, err
	}

	records := make([]models.Record, 0, len(resp.Lines))
	for _, line := range resp.Lines {
		line.Source = c.name
		records = append(records, line)
	}
	return records, nil
}
