package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"post-curator/internal/models"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// PostRepository is the persistent decision store.
type PostRepository interface {
	UpsertRaw(ctx context.Context, id, text, url string, authorUsername *string) error
	UpsertDecision(ctx context.Context, id, text, url, judgeQuote string, approved bool, score int) error
	Get(ctx context.Context, id string) (*models.PostRecord, error)
	Exists(ctx context.Context, id string) (bool, error)
	HasModelDecision(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, filter models.ListFilter, page models.Pagination, sort models.Sort) (*models.ListResult, error)
	SetHumanDecision(ctx context.Context, id string, decision *models.HumanDecision) (bool, error)
	SetGoldExample(ctx context.Context, id string, exampleType *models.GoldExampleType, correction *string) (bool, error)
	GoldExamples(ctx context.Context, exampleType *models.GoldExampleType) ([]*models.PostRecord, error)
	AuthorFrequency(ctx context.Context, username string) (*models.AuthorFrequency, error)
	Stats(ctx context.Context) (*Stats, error)
	Reset(ctx context.Context) error
}

// Stats counts records by state.
type Stats struct {
	Total    int `json:"total" db:"total"`
	Unjudged int `json:"unjudged" db:"unjudged"`
	Approved int `json:"approved" db:"approved"`
	Rejected int `json:"rejected" db:"rejected"`
	Gold     int `json:"gold" db:"gold"`
}

type postRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewPostRepository creates a decision store over an already migrated db.
func NewPostRepository(db *sqlx.DB, logger *zap.Logger) PostRepository {
	return &postRepository{db: db, logger: logger, now: time.Now}
}

const postColumnsSQL = `id, text, url, author_username, judge_quote, model_approved, score,
	human_decision, gold_example_type, gold_example_correction, created_at, updated_at`

type postRow struct {
	ID                    string         `db:"id"`
	Text                  string         `db:"text"`
	URL                   string         `db:"url"`
	AuthorUsername        sql.NullString `db:"author_username"`
	JudgeQuote            string         `db:"judge_quote"`
	ModelApproved         sql.NullInt64  `db:"model_approved"`
	Score                 int            `db:"score"`
	HumanDecision         sql.NullString `db:"human_decision"`
	GoldExampleType       sql.NullString `db:"gold_example_type"`
	GoldExampleCorrection sql.NullString `db:"gold_example_correction"`
	CreatedAt             int64          `db:"created_at"`
	UpdatedAt             sql.NullInt64  `db:"updated_at"`
}

func (r postRow) record() *models.PostRecord {
	rec := &models.PostRecord{
		ID:         r.ID,
		Text:       r.Text,
		URL:        r.URL,
		JudgeQuote: r.JudgeQuote,
		Score:      r.Score,
		CreatedAt:  fromMillis(r.CreatedAt),
	}
	if r.AuthorUsername.Valid {
		rec.AuthorUsername = &r.AuthorUsername.String
	}
	if r.ModelApproved.Valid {
		approved := r.ModelApproved.Int64 == 1
		rec.ModelApproved = &approved
	}
	if !rec.HasModelDecision() || !*rec.ModelApproved {
		rec.Score = 0
	}
	if r.HumanDecision.Valid {
		d := models.HumanDecision(r.HumanDecision.String)
		rec.HumanDecision = &d
	}
	if r.GoldExampleType.Valid {
		t := models.GoldExampleType(r.GoldExampleType.String)
		rec.GoldExampleType = &t
		if t == models.GoldBad && r.GoldExampleCorrection.Valid {
			rec.GoldExampleCorrection = &r.GoldExampleCorrection.String
		}
	}
	if r.UpdatedAt.Valid {
		u := fromMillis(r.UpdatedAt.Int64)
		rec.UpdatedAt = &u
	}
	return rec
}

// UpsertRaw inserts a post or refreshes its ingestion metadata. Text is only
// replaced while the post is unjudged; verdict and review fields are never
// touched. updated_at moves only when something actually changed.
func (r *postRepository) UpsertRaw(ctx context.Context, id, text, url string, authorUsername *string) error {
	now := toMillis(r.now())
	query := r.db.Rebind(`
		INSERT INTO posts (id, text, url, author_username, judge_quote, score, created_at)
		VALUES (?, ?, ?, ?, '', 0, ?)
		ON CONFLICT (id) DO UPDATE SET
			text = CASE WHEN posts.model_approved IS NULL THEN excluded.text ELSE posts.text END,
			url = CASE WHEN excluded.url <> '' THEN excluded.url ELSE posts.url END,
			author_username = COALESCE(excluded.author_username, posts.author_username),
			updated_at = ?
		WHERE (posts.model_approved IS NULL AND posts.text <> excluded.text)
			OR (excluded.url <> '' AND posts.url <> excluded.url)
			OR (excluded.author_username IS NOT NULL
				AND (posts.author_username IS NULL OR posts.author_username <> excluded.author_username))
	`)

	if _, err := r.db.ExecContext(ctx, query, id, text, url, nullString(authorUsername), now, now); err != nil {
		return fmt.Errorf("failed to upsert raw post %s: %w", id, err)
	}
	return nil
}

// UpsertDecision writes the full judged state of a post.
func (r *postRepository) UpsertDecision(ctx context.Context, id, text, url, judgeQuote string, approved bool, score int) error {
	if !approved {
		score = 0
	}
	if score < 0 || score > 100 {
		return fmt.Errorf("score %d out of range for post %s", score, id)
	}

	approvedInt := 0
	if approved {
		approvedInt = 1
	}

	now := toMillis(r.now())
	query := r.db.Rebind(`
		INSERT INTO posts (id, text, url, judge_quote, model_approved, score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			text = excluded.text,
			url = CASE WHEN excluded.url <> '' THEN excluded.url ELSE posts.url END,
			judge_quote = excluded.judge_quote,
			model_approved = excluded.model_approved,
			score = excluded.score,
			updated_at = excluded.updated_at
	`)

	if _, err := r.db.ExecContext(ctx, query, id, text, url, judgeQuote, approvedInt, score, now, now); err != nil {
		return fmt.Errorf("failed to upsert decision for post %s: %w", id, err)
	}
	return nil
}

// Get returns the record, or nil when the id is unknown.
func (r *postRepository) Get(ctx context.Context, id string) (*models.PostRecord, error) {
	var row postRow
	query := r.db.Rebind(`SELECT ` + postColumnsSQL + ` FROM posts WHERE id = ?`)
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Post not found
		}
		return nil, fmt.Errorf("failed to get post %s: %w", id, err)
	}
	return row.record(), nil
}

func (r *postRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := r.db.Rebind(`SELECT EXISTS(SELECT 1 FROM posts WHERE id = ?)`)
	if err := r.db.GetContext(ctx, &exists, query, id); err != nil {
		return false, fmt.Errorf("failed to check post %s: %w", id, err)
	}
	return exists, nil
}

func (r *postRepository) HasModelDecision(ctx context.Context, id string) (bool, error) {
	var exists bool
	query := r.db.Rebind(`SELECT EXISTS(SELECT 1 FROM posts WHERE id = ? AND model_approved IS NOT NULL)`)
	if err := r.db.GetContext(ctx, &exists, query, id); err != nil {
		return false, fmt.Errorf("failed to check decision for post %s: %w", id, err)
	}
	return exists, nil
}

func (r *postRepository) List(ctx context.Context, filter models.ListFilter, page models.Pagination, sort models.Sort) (*models.ListResult, error) {
	page = page.Normalize()
	sort = sort.Normalize()

	where, args := filterClause(filter)

	var total int
	countQuery := r.db.Rebind(`SELECT COUNT(*) FROM posts` + where)
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to count posts: %w", err)
	}

	totalPages := (total + page.PageSize - 1) / page.PageSize
	result := &models.ListResult{
		Records:     []*models.PostRecord{},
		Total:       total,
		Page:        page.Page,
		PageSize:    page.PageSize,
		TotalPages:  totalPages,
		HasNextPage: page.Page < totalPages,
	}
	if page.Page > totalPages {
		return result, nil
	}

	query := r.db.Rebind(`SELECT ` + postColumnsSQL + ` FROM posts` + where +
		` ORDER BY ` + orderClause(sort) + ` LIMIT ? OFFSET ?`)
	args = append(args, page.PageSize, page.Offset())

	var rows []postRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	for _, row := range rows {
		result.Records = append(result.Records, row.record())
	}
	return result, nil
}

func filterClause(f models.ListFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)

	if f.ModelApproved != nil {
		switch *f.ModelApproved {
		case models.TriUnset:
			conds = append(conds, "model_approved IS NULL")
		case models.TriTrue:
			conds = append(conds, "model_approved = 1")
		case models.TriFalse:
			conds = append(conds, "model_approved = 0")
		}
	}
	if f.HumanDecision != nil {
		if f.HumanDecision.Unset {
			conds = append(conds, "human_decision IS NULL")
		} else {
			conds = append(conds, "human_decision = ?")
			args = append(args, string(f.HumanDecision.Decision))
		}
	}
	if f.HasModelDecision != nil {
		if *f.HasModelDecision {
			conds = append(conds, "model_approved IS NOT NULL")
		} else {
			conds = append(conds, "model_approved IS NULL")
		}
	}
	if f.GoldExampleType != nil {
		conds = append(conds, "gold_example_type = ?")
		args = append(args, string(*f.GoldExampleType))
	}
	if f.HasGoldExample != nil {
		if *f.HasGoldExample {
			conds = append(conds, "gold_example_type IS NOT NULL")
		} else {
			conds = append(conds, "gold_example_type IS NULL")
		}
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orderClause(s models.Sort) string {
	dir := "DESC"
	if s.Order == models.OrderAsc {
		dir = "ASC"
	}

	var expr string
	switch s.Field {
	case models.SortScore:
		expr = "score"
	case models.SortCreatedAt:
		expr = "created_at"
	case models.SortUpdatedAt:
		expr = "COALESCE(updated_at, 0)"
	default:
		expr = "COALESCE(updated_at, created_at)"
	}
	return fmt.Sprintf("%s %s, created_at %s, id %s", expr, dir, dir, dir)
}

// SetHumanDecision records or clears the human override. It reports false
// when the post does not exist.
func (r *postRepository) SetHumanDecision(ctx context.Context, id string, decision *models.HumanDecision) (bool, error) {
	var value interface{}
	if decision != nil {
		value = string(*decision)
	}

	query := r.db.Rebind(`UPDATE posts SET human_decision = ?, updated_at = ? WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, query, value, toMillis(r.now()), id)
	if err != nil {
		return false, fmt.Errorf("failed to set human decision for post %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetGoldExample marks or unmarks a post as a calibration example. The
// correction is stored only for the bad type and cleared otherwise.
func (r *postRepository) SetGoldExample(ctx context.Context, id string, exampleType *models.GoldExampleType, correction *string) (bool, error) {
	var typeValue, correctionValue interface{}
	if exampleType != nil {
		typeValue = string(*exampleType)
		if *exampleType == models.GoldBad && correction != nil {
			correctionValue = *correction
		}
	}

	query := r.db.Rebind(`
		UPDATE posts
		SET gold_example_type = ?, gold_example_correction = ?, updated_at = ?
		WHERE id = ?
	`)
	res, err := r.db.ExecContext(ctx, query, typeValue, correctionValue, toMillis(r.now()), id)
	if err != nil {
		return false, fmt.Errorf("failed to set gold example for post %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GoldExamples returns gold-example records, most recently updated first.
func (r *postRepository) GoldExamples(ctx context.Context, exampleType *models.GoldExampleType) ([]*models.PostRecord, error) {
	query := `SELECT ` + postColumnsSQL + ` FROM posts WHERE gold_example_type IS NOT NULL`
	var args []interface{}
	if exampleType != nil {
		query += ` AND gold_example_type = ?`
		args = append(args, string(*exampleType))
	}
	query += ` ORDER BY COALESCE(updated_at, created_at) DESC, id DESC`

	var rows []postRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query gold examples: %w", err)
	}

	records := make([]*models.PostRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.record())
	}
	return records, nil
}

// AuthorFrequency counts the author's approved posts over the last 7 and 30
// days. A human decision overrides the model verdict.
func (r *postRepository) AuthorFrequency(ctx context.Context, username string) (*models.AuthorFrequency, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	now := r.now()
	since7 := toMillis(now.Add(-7 * 24 * time.Hour))
	since30 := toMillis(now.Add(-30 * 24 * time.Hour))

	var counts struct {
		Last7  int `db:"last7"`
		Last30 int `db:"last30"`
	}
	query := r.db.Rebind(`
		SELECT
			COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0) AS last7,
			COUNT(*) AS last30
		FROM posts
		WHERE LOWER(author_username) = LOWER(?)
			AND created_at >= ?
			AND created_at <= ?
			AND (human_decision = 'approved' OR (human_decision IS NULL AND model_approved = 1))
	`)
	if err := r.db.GetContext(ctx, &counts, query, since7, username, since30, toMillis(now)); err != nil {
		return nil, fmt.Errorf("failed to compute frequency for %s: %w", username, err)
	}

	return &models.AuthorFrequency{
		Username:        username,
		PostsLast7Days:  counts.Last7,
		PostsLast30Days: counts.Last30,
		FrequencyState:  models.DeriveFrequencyState(counts.Last7, counts.Last30),
	}, nil
}

func (r *postRepository) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	query := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN model_approved IS NULL THEN 1 ELSE 0 END), 0) AS unjudged,
			COALESCE(SUM(CASE WHEN model_approved = 1 THEN 1 ELSE 0 END), 0) AS approved,
			COALESCE(SUM(CASE WHEN model_approved = 0 THEN 1 ELSE 0 END), 0) AS rejected,
			COALESCE(SUM(CASE WHEN gold_example_type IS NOT NULL THEN 1 ELSE 0 END), 0) AS gold
		FROM posts
	`
	if err := r.db.GetContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &stats, nil
}

// Reset deletes every post and config entry. It is the only deletion path.
func (r *postRepository) Reset(ctx context.Context) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM posts`); err != nil {
		return fmt.Errorf("failed to delete posts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM app_config`); err != nil {
		return fmt.Errorf("failed to delete config: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	r.logger.Warn("Decision store reset")
	return nil
}

func nullString(s *string) interface{} {
	if s == nil {
		return nil
	}
	return *s
}
