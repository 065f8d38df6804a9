package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatwiki/internal/models"

	"github.com/Masterminds/squirrel"
	"go.uber.org/zap"
)

// OutcomeRepository is the per-unit ledger of terminal results. It lets a
// redelivered message be skipped without touching the analysis service.
type OutcomeRepository struct {
	db     *sql.DB
	sb     squirrel.StatementBuilderType
	logger *zap.Logger
}

func NewOutcomeRepository(db *sql.DB, dialect Dialect, logger *zap.Logger) *OutcomeRepository {
	return &OutcomeRepository{
		db:     db,
		sb:     dialect.builder(),
		logger: logger,
	}
}

func (r *OutcomeRepository) Record(ctx context.Context, o *models.UnitOutcome) error {
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now().UTC()
	}

	query := r.sb.Insert("unit_outcomes").
		Columns("unit_id", "source_id", "chat_ref", "status", "kind", "topic_key", "page_title", "reason", "updated_at").
		Values(o.UnitID, o.SourceID, o.ChatRef, o.Status, o.Kind, o.TopicKey, o.PageTitle, o.Reason, o.UpdatedAt.UnixMilli()).
		Suffix(`ON CONFLICT (unit_id) DO UPDATE SET
			status = excluded.status,
			kind = excluded.kind,
			topic_key = excluded.topic_key,
			page_title = excluded.page_title,
			reason = excluded.reason,
			updated_at = excluded.updated_at`)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// Get returns the recorded outcome for unitID, or nil if there is none.
func (r *OutcomeRepository) Get(ctx context.Context, unitID string) (*models.UnitOutcome, error) {
	query := r.sb.Select("unit_id", "source_id", "chat_ref", "status", "kind", "topic_key", "page_title", "reason", "updated_at").
		From("unit_outcomes").
		Where(squirrel.Eq{"unit_id": unitID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	var (
		o       models.UnitOutcome
		updated int64
	)
	err = r.db.QueryRowContext(ctx, sqlStr, args...).Scan(
		&o.UnitID, &o.SourceID, &o.ChatRef, &o.Status, &o.Kind, &o.TopicKey, &o.PageTitle, &o.Reason, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outcome: %w", err)
	}
	o.UpdatedAt = time.UnixMilli(updated).UTC()
	return &o, nil
}

// CountByStatus summarizes the ledger.
func (r *OutcomeRepository) CountByStatus(ctx context.Context) (map[models.OutcomeStatus]int, error) {
	query := r.sb.Select("status", "COUNT(*)").
		From("unit_outcomes").
		GroupBy("status")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count outcomes: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.OutcomeStatus]int)
	for rows.Next() {
		var (
			status models.OutcomeStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
