package repository

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"post-curator/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	logger := zaptest.NewLogger(t)
	db, err := NewSQLiteDB(filepath.Join(t.TempDir(), "curator.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = MigrateDB(db, logger)
	require.NoError(t, err)
	return db
}

func newTestRepo(t *testing.T) (*postRepository, *fakeClock) {
	t.Helper()
	db := newTestDB(t)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	repo := NewPostRepository(db, zaptest.NewLogger(t)).(*postRepository)
	repo.now = clock.Now
	return repo, clock
}

func strPtr(s string) *string { return &s }

func goldPtr(t models.GoldExampleType) *models.GoldExampleType { return &t }

func decisionPtr(d models.HumanDecision) *models.HumanDecision { return &d }

func TestUpsertRaw_InsertsUnjudgedRecord(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertRaw(ctx, "1", "hello kaspa", "https://x.com/alice/status/1", strPtr("alice")))

	rec, err := repo.Get(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "hello kaspa", rec.Text)
	assert.Equal(t, "alice", *rec.AuthorUsername)
	assert.Nil(t, rec.ModelApproved)
	assert.Equal(t, 0, rec.Score)
	assert.Empty(t, rec.JudgeQuote)
	assert.Nil(t, rec.UpdatedAt)
	assert.True(t, rec.CreatedAt.Equal(clock.Now()))

	has, err := repo.HasModelDecision(ctx, "1")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestUpsertRaw_UpdatesTextButKeepsReviewFields(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertRaw(ctx, "1", "first", "https://x.com/a/status/1", nil))
	_, err := repo.SetHumanDecision(ctx, "1", decisionPtr(models.HumanApproved))
	require.NoError(t, err)
	_, err = repo.SetGoldExample(ctx, "1", goldPtr(models.GoldBad), strPtr("Rejected. Off topic."))
	require.NoError(t, err)

	clock.Advance(time.Minute)
	require.NoError(t, repo.UpsertRaw(ctx, "1", "second", "https://x.com/a/status/1", strPtr("a")))

	rec, err := repo.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "second", rec.Text)
	assert.Equal(t, "a", *rec.AuthorUsername)
	assert.Equal(t, models.HumanApproved, *rec.HumanDecision)
	assert.Equal(t, models.GoldBad, *rec.GoldExampleType)
	assert.Equal(t, "Rejected. Off topic.", *rec.GoldExampleCorrection)
	require.NotNil(t, rec.UpdatedAt)
	assert.True(t, rec.UpdatedAt.Equal(clock.Now()))
}

func TestUpsertRaw_NeverResetsModelDecision(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertRaw(ctx, "1", "original", "u", nil))
	require.NoError(t, repo.UpsertDecision(ctx, "1", "original", "u", "Approved.\nPercentile: 80", true, 80))

	require.NoError(t, repo.UpsertRaw(ctx, "1", "edited later", "u", strPtr("bob")))

	rec, err := repo.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, "original", rec.Text, "judged text must not be replaced")
	require.NotNil(t, rec.ModelApproved)
	assert.True(t, *rec.ModelApproved)
	assert.Equal(t, 80, rec.Score)
	assert.Equal(t, "Approved.\nPercentile: 80", rec.JudgeQuote)
	assert.Equal(t, "bob", *rec.AuthorUsername, "author can be backfilled")
}

func TestUpsertRaw_UnchangedDoesNotTouchUpdatedAt(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertRaw(ctx, "1", "same", "u", strPtr("a")))
	clock.Advance(time.Hour)
	require.NoError(t, repo.UpsertRaw(ctx, "1", "same", "u", nil))

	rec, err := repo.Get(ctx, "1")
	require.NoError(t, err)
	assert.Nil(t, rec.UpdatedAt)
	assert.Equal(t, "a", *rec.AuthorUsername, "missing author must not clear a known one")
}

func TestUpsertDecision_ScoreInvariants(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertDecision(ctx, "a", "t", "u", "Approved.\nPercentile: 55", true, 55))
	require.NoError(t, repo.UpsertDecision(ctx, "r", "t", "u", "Rejected. Spam.", false, 70))
	require.NoError(t, repo.UpsertRaw(ctx, "p", "t", "u", nil))

	err := repo.UpsertDecision(ctx, "bad", "t", "u", "Approved.", true, 101)
	require.Error(t, err)

	approved, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 55, approved.Score)
	require.NotNil(t, approved.UpdatedAt)

	rejected, err := repo.Get(ctx, "r")
	require.NoError(t, err)
	assert.False(t, *rejected.ModelApproved)
	assert.Equal(t, 0, rejected.Score)

	pending, err := repo.Get(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, 0, pending.Score)

	missing, err := repo.Get(ctx, "bad")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUpsertDecision_ReevaluationOverwrites(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertDecision(ctx, "1", "t", "u", "Approved.\nPercentile: 40", true, 40))
	clock.Advance(time.Minute)
	require.NoError(t, repo.UpsertDecision(ctx, "1", "t", "u", "Approved.\nPercentile: 90", true, 90))

	rec, err := repo.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, 90, rec.Score)
	assert.Equal(t, "Approved.\nPercentile: 90", rec.JudgeQuote)
	assert.True(t, rec.UpdatedAt.Equal(clock.Now()))
}

func TestGet_NotFound(t *testing.T) {
	repo, _ := newTestRepo(t)

	rec, err := repo.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)

	exists, err := repo.Exists(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSetGoldExample_CorrectionInvariant(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.UpsertDecision(ctx, "1", "t", "u", "Approved.\nPercentile: 10", true, 10))

	found, err := repo.SetGoldExample(ctx, "1", goldPtr(models.GoldBad), strPtr("Rejected. Price talk."))
	require.NoError(t, err)
	assert.True(t, found)

	rec, err := repo.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, models.GoldBad, *rec.GoldExampleType)
	assert.Equal(t, "Rejected. Price talk.", *rec.GoldExampleCorrection)

	_, err = repo.SetGoldExample(ctx, "1", goldPtr(models.GoldGood), strPtr("ignored"))
	require.NoError(t, err)
	rec, err = repo.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, models.GoldGood, *rec.GoldExampleType)
	assert.Nil(t, rec.GoldExampleCorrection)

	_, err = repo.SetGoldExample(ctx, "1", nil, nil)
	require.NoError(t, err)
	rec, err = repo.Get(ctx, "1")
	require.NoError(t, err)
	assert.Nil(t, rec.GoldExampleType)
	assert.Nil(t, rec.GoldExampleCorrection)

	found, err = repo.SetGoldExample(ctx, "missing", goldPtr(models.GoldGood), nil)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSetHumanDecision(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.UpsertRaw(ctx, "1", "t", "u", nil))

	found, err := repo.SetHumanDecision(ctx, "1", decisionPtr(models.HumanRejected))
	require.NoError(t, err)
	assert.True(t, found)

	rec, err := repo.Get(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, models.HumanRejected, *rec.HumanDecision)
	assert.Nil(t, rec.ModelApproved, "human review never writes the model verdict")

	_, err = repo.SetHumanDecision(ctx, "1", nil)
	require.NoError(t, err)
	rec, err = repo.Get(ctx, "1")
	require.NoError(t, err)
	assert.Nil(t, rec.HumanDecision)

	found, err = repo.SetHumanDecision(ctx, "missing", nil)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestList_Pagination(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 45; i++ {
		require.NoError(t, repo.UpsertRaw(ctx, fmt.Sprintf("post-%02d", i), "text", "u", nil))
		clock.Advance(time.Second)
	}

	tests := []struct {
		page     int
		wantLen  int
		wantNext bool
	}{
		{1, 20, true},
		{2, 20, true},
		{3, 5, false},
		{4, 0, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("page %d", tt.page), func(t *testing.T) {
			res, err := repo.List(ctx, models.ListFilter{}, models.Pagination{Page: tt.page, PageSize: 20}, models.Sort{})
			require.NoError(t, err)
			assert.Len(t, res.Records, tt.wantLen)
			assert.Equal(t, 45, res.Total)
			assert.Equal(t, 3, res.TotalPages)
			assert.Equal(t, tt.wantNext, res.HasNextPage)
		})
	}

	first, err := repo.List(ctx, models.ListFilter{}, models.Pagination{Page: 1}, models.Sort{})
	require.NoError(t, err)
	assert.Equal(t, "post-44", first.Records[0].ID, "default sort is most recent activity first")
	assert.Equal(t, models.DefaultPageSize, first.PageSize)

	capped, err := repo.List(ctx, models.ListFilter{}, models.Pagination{Page: 1, PageSize: 500}, models.Sort{})
	require.NoError(t, err)
	assert.Equal(t, models.MaxPageSize, capped.PageSize)
	assert.Len(t, capped.Records, 45)

	for _, huge := range []int{math.MaxInt/20 + 2, math.MaxInt} {
		far, err := repo.List(ctx, models.ListFilter{}, models.Pagination{Page: huge, PageSize: 20}, models.Sort{})
		require.NoError(t, err)
		assert.Empty(t, far.Records, "page %d is past the end", huge)
		assert.False(t, far.HasNextPage)
		assert.Equal(t, 45, far.Total)
	}
}

func TestList_ActivityUsesUpdatedAt(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertRaw(ctx, "old", "t", "u", nil))
	clock.Advance(time.Minute)
	require.NoError(t, repo.UpsertRaw(ctx, "new", "t", "u", nil))
	clock.Advance(time.Minute)
	_, err := repo.SetHumanDecision(ctx, "old", decisionPtr(models.HumanApproved))
	require.NoError(t, err)

	res, err := repo.List(ctx, models.ListFilter{}, models.Pagination{}, models.Sort{})
	require.NoError(t, err)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "old", res.Records[0].ID)
}

func TestList_Filters(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertRaw(ctx, "pending", "t", "u", nil))
	clock.Advance(time.Second)
	require.NoError(t, repo.UpsertDecision(ctx, "approved", "t", "u", "Approved.\nPercentile: 70", true, 70))
	clock.Advance(time.Second)
	require.NoError(t, repo.UpsertDecision(ctx, "rejected", "t", "u", "Rejected.", false, 0))
	clock.Advance(time.Second)
	require.NoError(t, repo.UpsertDecision(ctx, "gold", "t", "u", "Approved.\nPercentile: 95", true, 95))
	_, err := repo.SetGoldExample(ctx, "gold", goldPtr(models.GoldGood), nil)
	require.NoError(t, err)
	_, err = repo.SetHumanDecision(ctx, "rejected", decisionPtr(models.HumanApproved))
	require.NoError(t, err)

	tri := func(s models.TriState) *models.TriState { return &s }
	boolean := func(b bool) *bool { return &b }

	tests := []struct {
		name   string
		filter models.ListFilter
		want   []string
	}{
		{"model unset", models.ListFilter{ModelApproved: tri(models.TriUnset)}, []string{"pending"}},
		{"model true", models.ListFilter{ModelApproved: tri(models.TriTrue)}, []string{"approved", "gold"}},
		{"model false", models.ListFilter{ModelApproved: tri(models.TriFalse)}, []string{"rejected"}},
		{"has decision", models.ListFilter{HasModelDecision: boolean(true)}, []string{"approved", "gold", "rejected"}},
		{"human unset", models.ListFilter{HumanDecision: &models.HumanDecisionFilter{Unset: true}}, []string{"approved", "gold", "pending"}},
		{"human approved", models.ListFilter{HumanDecision: &models.HumanDecisionFilter{Decision: models.HumanApproved}}, []string{"rejected"}},
		{"gold good", models.ListFilter{GoldExampleType: goldPtr(models.GoldGood)}, []string{"gold"}},
		{"no gold", models.ListFilter{HasGoldExample: boolean(false), ModelApproved: tri(models.TriTrue)}, []string{"approved"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter, models.Pagination{}, models.Sort{Field: models.SortCreatedAt, Order: models.OrderAsc})
			require.NoError(t, err)
			var ids []string
			for _, r := range res.Records {
				ids = append(ids, r.ID)
			}
			assert.ElementsMatch(t, tt.want, ids)
			assert.Equal(t, len(tt.want), res.Total)
		})
	}
}

func TestList_SortByScore(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	for id, score := range map[string]int{"a": 30, "b": 90, "c": 60} {
		require.NoError(t, repo.UpsertDecision(ctx, id, "t", "u", "Approved.", true, score))
	}

	asc, err := repo.List(ctx, models.ListFilter{}, models.Pagination{}, models.Sort{Field: models.SortScore, Order: models.OrderAsc})
	require.NoError(t, err)
	assert.Equal(t, []int{30, 60, 90}, scores(asc.Records))

	desc, err := repo.List(ctx, models.ListFilter{}, models.Pagination{}, models.Sort{Field: models.SortScore, Order: models.OrderDesc})
	require.NoError(t, err)
	assert.Equal(t, []int{90, 60, 30}, scores(desc.Records))
}

func scores(records []*models.PostRecord) []int {
	out := make([]int, 0, len(records))
	for _, r := range records {
		out = append(out, r.Score)
	}
	return out
}

func TestGoldExamples_NewestUpdatedFirst(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"g1", "b1", "g2", "plain"} {
		require.NoError(t, repo.UpsertDecision(ctx, id, "t", "u", "Approved.", true, 50))
	}
	for _, step := range []struct {
		id string
		t  models.GoldExampleType
	}{{"g1", models.GoldGood}, {"b1", models.GoldBad}, {"g2", models.GoldGood}} {
		clock.Advance(time.Minute)
		_, err := repo.SetGoldExample(ctx, step.id, goldPtr(step.t), strPtr("Rejected. Correction."))
		require.NoError(t, err)
	}

	all, err := repo.GoldExamples(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"g2", "b1", "g1"}, ids(all))

	good, err := repo.GoldExamples(ctx, goldPtr(models.GoldGood))
	require.NoError(t, err)
	assert.Equal(t, []string{"g2", "g1"}, ids(good))
	assert.Nil(t, good[0].GoldExampleCorrection)
}

func ids(records []*models.PostRecord) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestAuthorFrequency(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()
	now := clock.Now()

	insertAt := func(id string, age time.Duration, approved bool) {
		clock.t = now.Add(-age)
		require.NoError(t, repo.UpsertRaw(ctx, id, "t", "u", strPtr("Alice")))
		require.NoError(t, repo.UpsertDecision(ctx, id, "t", "u", "quote", approved, 50))
	}
	insertAt("recent-1", 5*24*time.Hour, true)
	insertAt("recent-2", 2*24*time.Hour, true)
	insertAt("older", 20*24*time.Hour, true)
	insertAt("rejected", 1*24*time.Hour, false)
	insertAt("ancient", 45*24*time.Hour, true)
	clock.t = now

	freq, err := repo.AuthorFrequency(ctx, "@alice")
	require.NoError(t, err)
	assert.Equal(t, 2, freq.PostsLast7Days)
	assert.Equal(t, 3, freq.PostsLast30Days)
	assert.Equal(t, models.FrequencyHot, freq.FrequencyState)

	fresh, err := repo.AuthorFrequency(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, models.FrequencyFresh, fresh.FrequencyState)
}

func TestAuthorFrequency_HumanDecisionOverrides(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertRaw(ctx, "1", "t", "u", strPtr("bob")))
	require.NoError(t, repo.UpsertDecision(ctx, "1", "t", "u", "quote", true, 50))
	_, err := repo.SetHumanDecision(ctx, "1", decisionPtr(models.HumanRejected))
	require.NoError(t, err)

	require.NoError(t, repo.UpsertRaw(ctx, "2", "t", "u", strPtr("bob")))
	_, err = repo.SetHumanDecision(ctx, "2", decisionPtr(models.HumanApproved))
	require.NoError(t, err)

	freq, err := repo.AuthorFrequency(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, freq.PostsLast7Days)
	assert.Equal(t, models.FrequencyHealthy, freq.FrequencyState)
}

func TestStatsAndReset(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	cfg := NewConfigRepository(repo.db, zaptest.NewLogger(t))

	require.NoError(t, repo.UpsertRaw(ctx, "p", "t", "u", nil))
	require.NoError(t, repo.UpsertDecision(ctx, "a", "t", "u", "Approved.", true, 10))
	require.NoError(t, repo.UpsertDecision(ctx, "r", "t", "u", "Rejected.", false, 0))
	require.NoError(t, cfg.SetConfig(ctx, KeyPreviousResponseID, "resp_1"))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 3, Unjudged: 1, Approved: 1, Rejected: 1}, *stats)

	require.NoError(t, repo.Reset(ctx))

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Total)
	_, ok, err := cfg.GetConfig(ctx, KeyPreviousResponseID)
	require.NoError(t, err)
	assert.False(t, ok)
}
