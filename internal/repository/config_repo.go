package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// KeyPreviousResponseID carries the judge's conversation handle across runs.
const KeyPreviousResponseID = "previousResponseId"

// ConfigRepository is a small persistent key-value side table.
type ConfigRepository interface {
	GetConfig(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value string) error
	DeleteConfig(ctx context.Context, key string) error
}

type configRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewConfigRepository(db *sqlx.DB, logger *zap.Logger) ConfigRepository {
	return &configRepository{db: db, logger: logger, now: time.Now}
}

func (r *configRepository) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var value string
	query := r.db.Rebind(`SELECT value FROM app_config WHERE config_key = ?`)
	if err := r.db.GetContext(ctx, &value, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get config %s: %w", key, err)
	}
	return value, true, nil
}

func (r *configRepository) SetConfig(ctx context.Context, key, value string) error {
	query := r.db.Rebind(`
		INSERT INTO app_config (config_key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (config_key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`)
	if _, err := r.db.ExecContext(ctx, query, key, value, toMillis(r.now())); err != nil {
		return fmt.Errorf("failed to set config %s: %w", key, err)
	}
	return nil
}

func (r *configRepository) DeleteConfig(ctx context.Context, key string) error {
	query := r.db.Rebind(`DELETE FROM app_config WHERE config_key = ?`)
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete config %s: %w", key, err)
	}
	return nil
}
