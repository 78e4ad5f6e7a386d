// Package calibration derives judge calibration inputs from the decision
// store.
package calibration

import (
	"context"
	"fmt"
	"strings"

	"post-curator/internal/models"
	"post-curator/internal/repository"

	"go.uber.org/zap"
)

// Aggregator reads gold examples and author frequency. It holds no state.
type Aggregator struct {
	repo   repository.PostRepository
	logger *zap.Logger
}

func NewAggregator(repo repository.PostRepository, logger *zap.Logger) *Aggregator {
	return &Aggregator{repo: repo, logger: logger}
}

// Examples returns every gold example as a few-shot view, most recently
// updated first. Capping per type is left to the prompt composer.
func (a *Aggregator) Examples(ctx context.Context) ([]models.FewShotExample, error) {
	records, err := a.repo.GoldExamples(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load gold examples: %w", err)
	}

	examples := make([]models.FewShotExample, 0, len(records))
	for _, rec := range records {
		if ex, ok := rec.FewShot(); ok {
			examples = append(examples, ex)
		}
	}

	a.logger.Debug("Loaded calibration examples", zap.Int("count", len(examples)))
	return examples, nil
}

// AuthorFrequency reports how often username has recently been approved.
func (a *Aggregator) AuthorFrequency(ctx context.Context, username string) (*models.AuthorFrequency, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", models.ErrInvalidInput)
	}
	return a.repo.AuthorFrequency(ctx, username)
}
