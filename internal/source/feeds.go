package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"post-curator/internal/models"

	"go.uber.org/zap"
)

// FeedConfig describes one upstream feed.
type FeedConfig struct {
	Name    string        `yaml:"name"`
	Type    string        `yaml:"type"` // "http" or "file"
	URL     string        `yaml:"url"`
	Path    string        `yaml:"path"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPFeed reads posts from a JSON endpoint.
type HTTPFeed struct {
	name       string
	url        string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewHTTPFeed(cfg FeedConfig, logger *zap.Logger) *HTTPFeed {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = cfg.URL
	}
	return &HTTPFeed{
		name:       cfg.Name,
		url:        cfg.URL,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

func (f *HTTPFeed) Name() string {
	return f.name
}

func (f *HTTPFeed) Fetch(ctx context.Context) ([]models.RawPost, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed %s request failed: %w", f.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed %s: %w", f.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s returned status %d", f.name, resp.StatusCode)
	}

	posts, err := decodePosts(body)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", f.name, err)
	}
	f.logger.Debug("Feed response decoded", zap.String("source", f.name), zap.Int("posts", len(posts)))
	return posts, nil
}

// FileFeed reads posts from a JSON file.
type FileFeed struct {
	path string
}

func NewFileFeed(path string) *FileFeed {
	return &FileFeed{path: path}
}

func (f *FileFeed) Name() string {
	return f.path
}

func (f *FileFeed) Fetch(ctx context.Context) ([]models.RawPost, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	return decodePosts(data)
}

// FromConfig builds the sources for cfgs.
func FromConfig(cfgs []FeedConfig, logger *zap.Logger) ([]Source, error) {
	sources := make([]Source, 0, len(cfgs))
	for i, cfg := range cfgs {
		switch cfg.Type {
		case "", "http":
			if cfg.URL == "" {
				return nil, fmt.Errorf("feed %d: url is required", i)
			}
			sources = append(sources, NewHTTPFeed(cfg, logger))
		case "file":
			if cfg.Path == "" {
				return nil, fmt.Errorf("feed %d: path is required", i)
			}
			sources = append(sources, NewFileFeed(cfg.Path))
		default:
			return nil, fmt.Errorf("feed %d: unknown type %q", i, cfg.Type)
		}
	}
	return sources, nil
}
