package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatwiki/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var deadLetterColumns = []string{
	"id", "unit_id", "source_id", "chat_ref", "kind", "stage", "reason", "attempts", "message", "created_at", "resolved_at",
}

// DeadLetterRepository keeps units that exhausted their retries or hit a
// fatal error, together with the raw message so they can be replayed.
type DeadLetterRepository struct {
	db     *sql.DB
	sb     squirrel.StatementBuilderType
	logger *zap.Logger
}

func NewDeadLetterRepository(db *sql.DB, dialect Dialect, logger *zap.Logger) *DeadLetterRepository {
	return &DeadLetterRepository{
		db:     db,
		sb:     dialect.builder(),
		logger: logger,
	}
}

func (r *DeadLetterRepository) Park(ctx context.Context, dl *models.DeadLetter) error {
	if dl.ID == uuid.Nil {
		dl.ID = uuid.New()
	}
	if dl.CreatedAt.IsZero() {
		dl.CreatedAt = time.Now().UTC()
	}

	message, err := json.Marshal(dl.Message)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	query := r.sb.Insert("dead_letters").
		Columns(deadLetterColumns[:len(deadLetterColumns)-1]...).
		Values(dl.ID.String(), dl.UnitID, dl.SourceID, dl.ChatRef, dl.Kind, dl.Stage, dl.Reason, dl.Attempts, string(message), dl.CreatedAt.UnixMilli())

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return err
	}

	if _, err := r.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("failed to park unit: %w", err)
	}

	r.logger.Warn("Unit parked in dead-letter store",
		zap.String("id", dl.ID.String()),
		zap.String("unit_id", dl.UnitID),
		zap.String("kind", dl.Kind),
		zap.String("stage", dl.Stage),
		zap.String("reason", dl.Reason),
	)
	return nil
}

// ListOpen returns unresolved dead letters, oldest first.
func (r *DeadLetterRepository) ListOpen(ctx context.Context, limit, offset int) ([]*models.DeadLetter, error) {
	query := r.sb.Select(deadLetterColumns...).
		From("dead_letters").
		Where(squirrel.Eq{"resolved_at": nil}).
		OrderBy("created_at ASC").
		Limit(uint64(limit)).
		Offset(uint64(offset))

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []*models.DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows)
		if err != nil {
			return nil, err
		}
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}

func (r *DeadLetterRepository) Get(ctx context.Context, id uuid.UUID) (*models.DeadLetter, error) {
	query := r.sb.Select(deadLetterColumns...).
		From("dead_letters").
		Where(squirrel.Eq{"id": id.String()})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	dl, err := scanDeadLetter(r.db.QueryRowContext(ctx, sqlStr, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return dl, err
}

// Resolve marks an open dead letter as handled.
func (r *DeadLetterRepository) Resolve(ctx context.Context, id uuid.UUID) error {
	query := r.sb.Update("dead_letters").
		Set("resolved_at", time.Now().UTC().UnixMilli()).
		Where(squirrel.Eq{"id": id.String(), "resolved_at": nil})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("failed to resolve dead letter: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDeadLetter(s scanner) (*models.DeadLetter, error) {
	var (
		dl       models.DeadLetter
		id       string
		message  string
		created  int64
		resolved sql.NullInt64
	)
	if err := s.Scan(&id, &dl.UnitID, &dl.SourceID, &dl.ChatRef, &dl.Kind, &dl.Stage, &dl.Reason, &dl.Attempts, &message, &created, &resolved); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("invalid dead letter id %q: %w", id, err)
	}
	dl.ID = parsed

	if err := json.Unmarshal([]byte(message), &dl.Message); err != nil {
		return nil, fmt.Errorf("failed to decode parked message: %w", err)
	}
	dl.CreatedAt = time.UnixMilli(created).UTC()
	if resolved.Valid {
		t := time.UnixMilli(resolved.Int64).UTC()
		dl.ResolvedAt = &t
	}
	return &dl, nil
}
