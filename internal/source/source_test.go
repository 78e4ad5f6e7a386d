package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"post-curator/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type staticSource struct {
	name  string
	posts []models.RawPost
	err   error
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Fetch(ctx context.Context) ([]models.RawPost, error) {
	return s.posts, s.err
}

func TestDecodePosts(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"array", `[{"id":"1","text":"a"},{"id":"2","text":"b"}]`, 2},
		{"posts envelope", `{"posts":[{"id":"1","text":"a","author":{"username":"x"}}]}`, 1},
		{"data envelope", `{"data":[{"id":"1","text":"a"}]}`, 1},
		{"empty", ``, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posts, err := decodePosts([]byte(tt.body))
			require.NoError(t, err)
			assert.Len(t, posts, tt.want)
		})
	}

	_, err := decodePosts([]byte(`{"posts": "nope"}`))
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	posts := Normalize([]models.RawPost{
		{ID: " 1 ", Text: "hello", URL: "https://x.com/alice/status/1"},
		{ID: "", Text: "derived id", URL: "https://twitter.com/bob/status/22"},
		{ID: "3", Text: "   "},
		{ID: "", Text: "no id"},
	})

	require.Len(t, posts, 2)
	assert.Equal(t, "1", posts[0].ID)
	assert.Equal(t, "alice", posts[0].Author.Username)
	assert.Equal(t, "22", posts[1].ID)
	assert.Equal(t, "bob", posts[1].Author.Username)
}

func TestCollector_MergesAndSkipsFailures(t *testing.T) {
	c := NewCollector([]Source{
		staticSource{name: "a", posts: []models.RawPost{{ID: "1", Text: "one"}, {ID: "2", Text: "two"}}},
		staticSource{name: "broken", err: errors.New("timeout")},
		staticSource{name: "b", posts: []models.RawPost{{ID: "2", Text: "dup"}, {ID: "3", Text: "three"}}},
	}, zaptest.NewLogger(t))

	posts, err := c.Fetch(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)
	assert.Equal(t, "two", posts[1].Text, "first source wins on duplicates")
}

func TestCollector_AllFail(t *testing.T) {
	c := NewCollector([]Source{
		staticSource{name: "x", err: errors.New("down")},
	}, zaptest.NewLogger(t))

	_, err := c.Fetch(context.Background())
	assert.Error(t, err)
}

func TestHTTPFeed_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer feed-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"posts":[{"id":"9","text":"kaspa update","url":"https://x.com/kas/status/9"}]}`))
	}))
	defer server.Close()

	feed := NewHTTPFeed(FeedConfig{Name: "news", URL: server.URL, Token: "feed-token"}, zaptest.NewLogger(t))
	posts, err := feed.Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "kaspa update", posts[0].Text)
}

func TestHTTPFeed_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewHTTPFeed(FeedConfig{URL: server.URL}, zaptest.NewLogger(t)).Fetch(context.Background())
	assert.Error(t, err)
}

func TestFileFeed_Fetch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"1","text":"from disk"}]`), 0o644))

	posts, err := NewFileFeed(path).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "from disk", posts[0].Text)
}

func TestFromConfig(t *testing.T) {
	sources, err := FromConfig([]FeedConfig{
		{Name: "api", URL: "http://localhost/feed"},
		{Type: "file", Path: "posts.json"},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Len(t, sources, 2)

	_, err = FromConfig([]FeedConfig{{Type: "ftp"}}, zaptest.NewLogger(t))
	assert.Error(t, err)
	_, err = FromConfig([]FeedConfig{{Type: "http"}}, zaptest.NewLogger(t))
	assert.Error(t, err)
}
