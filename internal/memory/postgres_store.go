package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PgxIface is the slice of the pgx pool surface the summary store needs.
// Narrowing it keeps the store mockable in tests.
type PgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresSummaryStore persists TaskSummaries so learned history survives
// process restarts. It is optional; the in-memory long-term tier works
// without it.
type PostgresSummaryStore struct {
	db     PgxIface
	logger *zap.Logger
}

// NewPostgresSummaryStore wraps an existing pool or mock.
func NewPostgresSummaryStore(db PgxIface, logger *zap.Logger) *PostgresSummaryStore {
	return &PostgresSummaryStore{
		db:     db,
		logger: logger.Named("memory.postgres"),
	}
}

// ConnectSummaryStore opens a pool for the given URL and ensures the schema
// exists.
func ConnectSummaryStore(ctx context.Context, url string, logger *zap.Logger) (*PostgresSummaryStore, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	store := NewPostgresSummaryStore(pool, logger)
	if err := store.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// InitSchema creates the summary table if it does not exist.
func (p *PostgresSummaryStore) InitSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS task_summaries (
			id BIGSERIAL PRIMARY KEY,
			goal TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			success BOOLEAN NOT NULL,
			step_count INT NOT NULL,
			app_used TEXT NOT NULL DEFAULT '',
			action_sequence TEXT NOT NULL DEFAULT '',
			ended_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create task_summaries table: %w", err)
	}
	return nil
}

// SaveSummary inserts one finished-task summary.
func (p *PostgresSummaryStore) SaveSummary(ctx context.Context, summary TaskSummary) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO task_summaries (goal, category, success, step_count, app_used, action_sequence, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		summary.Goal,
		summary.Category,
		summary.Success,
		summary.StepCount,
		summary.AppUsed,
		strings.Join(summary.ActionSequence, ","),
		summary.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task summary: %w", err)
	}

	p.logger.Debug("Task summary persisted", zap.String("goal", summary.Goal))
	return nil
}

// RecentSummaries returns the most recent summaries, newest first.
func (p *PostgresSummaryStore) RecentSummaries(ctx context.Context, limit int) ([]TaskSummary, error) {
	rows, err := p.db.Query(ctx, `
		SELECT goal, category, success, step_count, app_used, action_sequence, ended_at
		FROM task_summaries
		ORDER BY ended_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query task summaries: %w", err)
	}
	defer rows.Close()

	var out []TaskSummary
	for rows.Next() {
		var summary TaskSummary
		var actions string
		if err := rows.Scan(&summary.Goal, &summary.Category, &summary.Success,
			&summary.StepCount, &summary.AppUsed, &actions, &summary.EndedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task summary: %w", err)
		}
		if actions != "" {
			summary.ActionSequence = strings.Split(actions, ",")
		}
		out = append(out, summary)
	}
	return out, rows.Err()
}
