package providers

import (
	"context"

	"github.com/statline-dev/liveline/internal/models"
	"github.com/statline-dev/liveline/pkg/config"
)

// ScoresClient polls the live scores feed
type ScoresClient struct {
	apiClient
}

type scoresResponse struct {
	Plays []models.ScoreRecord `json:"plays"`
}

func NewScoresClient(cfg config.SourceConfig) *ScoresClient {
	return &ScoresClient{apiClient: newAPIClient(cfg)}
}

func (c *ScoresClient) Name() string { return c.name }

func (c *ScoresClient) Poll(ctx context.Context) ([]models.Record, error) {
	var resp scoresResponse
	if err := c.doGet(ctx, "/v1/games/live", nil, &resp); err != nil {
		return nil, err
	}

	records := make([]models.Record, 0, len(resp.Plays))
	for _, play := range resp.Plays {
		play.Source = c.name
		records = append(records, play)
	}
	return records, nil
}
