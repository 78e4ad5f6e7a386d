// Package source fetches candidate posts from upstream feeds.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"post-curator/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Source produces a batch of raw posts.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]models.RawPost, error)
}

// decodePosts accepts a bare JSON array of posts or an object wrapping one
// under "posts" or "data".
func decodePosts(data []byte) ([]models.RawPost, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var posts []models.RawPost
		if err := json.Unmarshal(data, &posts); err != nil {
			return nil, fmt.Errorf("failed to decode posts: %w", err)
		}
		return posts, nil
	}

	var envelope struct {
		Posts []models.RawPost `json:"posts"`
		Data  []models.RawPost `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode posts: %w", err)
	}
	if len(envelope.Posts) > 0 {
		return envelope.Posts, nil
	}
	return envelope.Data, nil
}

// Normalize trims fields, derives missing ids and authors from status URLs
// and drops posts without an id or text.
func Normalize(posts []models.RawPost) []models.RawPost {
	out := make([]models.RawPost, 0, len(posts))
	for _, p := range posts {
		p.ID = strings.TrimSpace(p.ID)
		p.URL = strings.TrimSpace(p.URL)
		if p.ID == "" {
			p.ID = models.StatusIDFromURL(p.URL)
		}
		if p.ID == "" || strings.TrimSpace(p.Text) == "" {
			continue
		}
		if u := p.AuthorUsername(); u != nil {
			p.Author = &models.Author{Username: *u}
		}
		out = append(out, p)
	}
	return out
}

// Collector merges several sources. Feeds are fetched concurrently; a
// failing feed is logged and skipped. Ids are de-duplicated, first seen wins.
type Collector struct {
	sources []Source
	logger  *zap.Logger
}

func NewCollector(sources []Source, logger *zap.Logger) *Collector {
	return &Collector{sources: sources, logger: logger}
}

func (c *Collector) Name() string {
	return "collector"
}

// Fetch returns the merged posts. It fails only when every source failed.
func (c *Collector) Fetch(ctx context.Context) ([]models.RawPost, error) {
	results := make([][]models.RawPost, len(c.sources))
	errs := make([]error, len(c.sources))

	var g errgroup.Group
	g.SetLimit(4)
	for i, src := range c.sources {
		g.Go(func() error {
			posts, err := src.Fetch(ctx)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = Normalize(posts)
			return nil
		})
	}
	_ = g.Wait()

	var (
		merged []models.RawPost
		failed int
		seen   = make(map[string]bool)
	)
	for i, src := range c.sources {
		if errs[i] != nil {
			failed++
			c.logger.Error("Feed fetch failed",
				zap.String("source", src.Name()),
				zap.Error(errs[i]))
			continue
		}
		for _, p := range results[i] {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			merged = append(merged, p)
		}
		c.logger.Info("Feed fetched",
			zap.String("source", src.Name()),
			zap.Int("posts", len(results[i])))
	}

	if len(c.sources) > 0 && failed == len(c.sources) {
		return nil, fmt.Errorf("all %d feeds failed", failed)
	}
	return merged, nil
}
