package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"post-curator/internal/calibration"
	"post-curator/internal/judge"
	"post-curator/internal/metrics"
	"post-curator/internal/models"
	"post-curator/internal/repository"
	"post-curator/internal/source"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrBatchInProgress is returned when a batch or re-evaluation already
	// holds the conversation handle.
	ErrBatchInProgress = errors.New("a batch run is already in progress")

	// ErrInvalidTransition is returned when re-evaluating a rejected post.
	ErrInvalidTransition = errors.New("only unjudged or approved posts can be re-evaluated")
)

// Evaluator is the judge as seen by the curator.
type Evaluator interface {
	Evaluate(ctx context.Context, text string, opts judge.EvaluateOptions) (*judge.Result, error)
	QuickFilter(ctx context.Context, text string) (*judge.QuickResult, error)
}

// Options configures the curator.
type Options struct {
	// SelfUsername excludes the operator's own posts from judging.
	SelfUsername string
	// ChainResponses carries the judge conversation handle across calls
	// and runs.
	ChainResponses bool
}

// BatchSummary reports one batch run.
type BatchSummary struct {
	RunID            string        `json:"run_id"`
	Total            int           `json:"total"`
	Ingested         int           `json:"ingested"`
	SkippedExisting  int           `json:"skipped_existing"`
	SkippedSelf      int           `json:"skipped_self"`
	Approved         int           `json:"approved"`
	Rejected         int           `json:"rejected"`
	SkippedMalformed int           `json:"skipped_malformed"`
	Duration         time.Duration `json:"duration"`
}

// Curator runs the ingest, judge and persist pipeline.
type Curator struct {
	posts       repository.PostRepository
	config      repository.ConfigRepository
	calibration *calibration.Aggregator
	judge       Evaluator
	metrics     *metrics.Metrics
	opts        Options
	logger      *zap.Logger

	// running serializes everything that advances the conversation handle.
	running sync.Mutex
}

// NewCurator creates a new curator service
func NewCurator(
	posts repository.PostRepository,
	config repository.ConfigRepository,
	aggregator *calibration.Aggregator,
	evaluator Evaluator,
	m *metrics.Metrics,
	opts Options,
	logger *zap.Logger,
) *Curator {
	opts.SelfUsername = strings.TrimPrefix(strings.TrimSpace(opts.SelfUsername), "@")
	return &Curator{
		posts:       posts,
		config:      config,
		calibration: aggregator,
		judge:       evaluator,
		metrics:     m,
		opts:        opts,
		logger:      logger,
	}
}

// RunSources fetches from src and runs a batch over the result.
func (c *Curator) RunSources(ctx context.Context, src source.Source) (*BatchSummary, error) {
	posts, err := src.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch posts: %w", err)
	}
	return c.RunBatch(ctx, source.Normalize(posts))
}

// RunBatch ingests posts and judges the ones without a verdict, one at a
// time. Every post is stored before any judging starts. A malformed judge
// reply skips that post; any other judge or store error aborts the run and
// is returned together with the partial summary.
func (c *Curator) RunBatch(ctx context.Context, posts []models.RawPost) (*BatchSummary, error) {
	if !c.running.TryLock() {
		return nil, ErrBatchInProgress
	}
	defer c.running.Unlock()

	start := time.Now()
	summary := &BatchSummary{RunID: uuid.NewString(), Total: len(posts)}
	logger := c.logger.With(zap.String("run_id", summary.RunID))
	defer func() { summary.Duration = time.Since(start) }()

	logger.Info("Batch started", zap.Int("posts", len(posts)))

	for _, p := range posts {
		if err := c.posts.UpsertRaw(ctx, p.ID, p.Text, p.URL, p.AuthorUsername()); err != nil {
			return summary, fmt.Errorf("failed to ingest post %s: %w", p.ID, err)
		}
		summary.Ingested++
	}

	pending, err := c.pending(ctx, posts, summary)
	if err != nil {
		return summary, err
	}
	if len(pending) == 0 {
		logger.Info("Batch finished, nothing to judge",
			zap.Int("skipped_existing", summary.SkippedExisting),
			zap.Int("skipped_self", summary.SkippedSelf))
		return summary, nil
	}

	examples, err := c.calibration.Examples(ctx)
	if err != nil {
		return summary, err
	}
	handle, err := c.loadHandle(ctx)
	if err != nil {
		return summary, err
	}

	for _, p := range pending {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		result, err := c.judge.Evaluate(ctx, p.Text, judge.EvaluateOptions{
			Examples:           examples,
			PreviousCallHandle: handle,
		})

		var malformed *judge.MalformedResponseError
		if errors.As(err, &malformed) {
			if handle, err = c.advanceHandle(ctx, handle, malformed.CallHandle); err != nil {
				return summary, err
			}
			summary.SkippedMalformed++
			c.metrics.BatchPost(metrics.OutcomeMalformed)
			logger.Warn("Skipping post with malformed judge response",
				zap.String("post_id", p.ID),
				zap.String("reason", malformed.Reason))
			continue
		}
		if err != nil {
			c.metrics.BatchPost(metrics.OutcomeError)
			return summary, fmt.Errorf("failed to judge post %s: %w", p.ID, err)
		}

		if handle, err = c.advanceHandle(ctx, handle, result.CallHandle); err != nil {
			return summary, err
		}
		if err := c.posts.UpsertDecision(ctx, p.ID, p.Text, p.URL, result.Quote, result.Approved, result.Score); err != nil {
			return summary, fmt.Errorf("failed to save decision for post %s: %w", p.ID, err)
		}

		if result.Approved {
			summary.Approved++
			c.metrics.BatchPost(metrics.OutcomeApproved)
		} else {
			summary.Rejected++
			c.metrics.BatchPost(metrics.OutcomeRejected)
		}
		logger.Info("Post judged",
			zap.String("post_id", p.ID),
			zap.Bool("approved", result.Approved),
			zap.Int("score", result.Score))
	}

	logger.Info("Batch finished",
		zap.Int("approved", summary.Approved),
		zap.Int("rejected", summary.Rejected),
		zap.Int("skipped_malformed", summary.SkippedMalformed),
		zap.Int("skipped_existing", summary.SkippedExisting),
		zap.Int("skipped_self", summary.SkippedSelf),
		zap.Duration("duration", time.Since(start)))
	return summary, nil
}

// pending filters out self posts, already judged posts and repeated ids. A
// repeated id keeps its first position and its last text, which is the text
// UpsertRaw left in the store.
func (c *Curator) pending(ctx context.Context, posts []models.RawPost, summary *BatchSummary) ([]models.RawPost, error) {
	seen := make(map[string]int, len(posts))
	out := make([]models.RawPost, 0, len(posts))
	for _, p := range posts {
		if c.isSelf(p) {
			summary.SkippedSelf++
			c.metrics.BatchPost(metrics.OutcomeSkippedSelf)
			continue
		}
		if idx, ok := seen[p.ID]; ok {
			if idx >= 0 {
				out[idx] = p
			}
			summary.SkippedExisting++
			continue
		}

		judged, err := c.posts.HasModelDecision(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if judged {
			seen[p.ID] = -1
			summary.SkippedExisting++
			c.metrics.BatchPost(metrics.OutcomeSkippedExisting)
			continue
		}
		seen[p.ID] = len(out)
		out = append(out, p)
	}
	return out, nil
}

func (c *Curator) isSelf(p models.RawPost) bool {
	if c.opts.SelfUsername == "" {
		return false
	}
	author := p.AuthorUsername()
	return author != nil && strings.EqualFold(*author, c.opts.SelfUsername)
}

func (c *Curator) loadHandle(ctx context.Context) (string, error) {
	if !c.opts.ChainResponses {
		return "", nil
	}
	handle, _, err := c.config.GetConfig(ctx, repository.KeyPreviousResponseID)
	if err != nil {
		return "", err
	}
	return handle, nil
}

// advanceHandle persists next as the conversation handle right away so a
// crash mid-batch keeps calibration progress.
func (c *Curator) advanceHandle(ctx context.Context, current, next string) (string, error) {
	if !c.opts.ChainResponses || next == "" || next == current {
		return current, nil
	}
	if err := c.config.SetConfig(ctx, repository.KeyPreviousResponseID, next); err != nil {
		return current, fmt.Errorf("failed to persist conversation handle: %w", err)
	}
	return next, nil
}

// Reevaluate judges a stored post again. It returns nil, nil when the post
// does not exist. An approved post that comes back rejected yields a
// *judge.DowngradeError and nothing is persisted.
func (c *Curator) Reevaluate(ctx context.Context, id string) (*judge.Result, error) {
	if !c.running.TryLock() {
		return nil, ErrBatchInProgress
	}
	defer c.running.Unlock()

	rec, err := c.posts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	if rec.HasModelDecision() && !*rec.ModelApproved {
		return nil, ErrInvalidTransition
	}

	examples, err := c.calibration.Examples(ctx)
	if err != nil {
		return nil, err
	}
	handle, err := c.loadHandle(ctx)
	if err != nil {
		return nil, err
	}

	result, err := c.judge.Evaluate(ctx, rec.Text, judge.EvaluateOptions{
		Examples:           examples,
		PreviousCallHandle: handle,
		PreviouslyApproved: rec.HasModelDecision(),
	})

	var (
		malformed *judge.MalformedResponseError
		downgrade *judge.DowngradeError
	)
	switch {
	case errors.As(err, &malformed):
		if _, herr := c.advanceHandle(ctx, handle, malformed.CallHandle); herr != nil {
			return nil, herr
		}
		return nil, err
	case errors.As(err, &downgrade):
		if _, herr := c.advanceHandle(ctx, handle, downgrade.Result.CallHandle); herr != nil {
			return nil, herr
		}
		c.logger.Warn("Re-evaluation rejected a previously approved post",
			zap.String("post_id", id),
			zap.String("quote", downgrade.Result.Quote))
		return nil, err
	case err != nil:
		return nil, err
	}

	if _, err := c.advanceHandle(ctx, handle, result.CallHandle); err != nil {
		return nil, err
	}
	if err := c.posts.UpsertDecision(ctx, rec.ID, rec.Text, rec.URL, result.Quote, result.Approved, result.Score); err != nil {
		return nil, fmt.Errorf("failed to save decision for post %s: %w", id, err)
	}

	c.logger.Info("Post re-evaluated",
		zap.String("post_id", id),
		zap.Bool("approved", result.Approved),
		zap.Int("score", result.Score))
	return result, nil
}

// QuickFilter screens text without touching the store.
func (c *Curator) QuickFilter(ctx context.Context, text string) (*judge.QuickResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is required", models.ErrInvalidInput)
	}
	return c.judge.QuickFilter(ctx, text)
}

// Evaluate judges text without persisting anything or touching the stored
// conversation handle.
func (c *Curator) Evaluate(ctx context.Context, text string) (*judge.Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text is required", models.ErrInvalidInput)
	}
	examples, err := c.calibration.Examples(ctx)
	if err != nil {
		return nil, err
	}
	return c.judge.Evaluate(ctx, text, judge.EvaluateOptions{Examples: examples})
}
