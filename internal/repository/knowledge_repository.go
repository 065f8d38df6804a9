package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"chatwiki/internal/failure"
	"chatwiki/internal/models"

	"github.com/Masterminds/squirrel"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("not found")

var entryColumns = []string{
	"topic_key", "page_title", "page_revision_id", "categories", "version", "created_at", "last_updated",
}

// KnowledgeRepository is the Knowledge Index: the only writer of topic to
// page mappings. Commit is a compare-and-swap on the stored revision, so two
// commits against the same prior state cannot both succeed.
type KnowledgeRepository struct {
	db      *sql.DB
	sb      squirrel.StatementBuilderType
	logger  *zap.Logger
	nowFunc func() time.Time
}

func NewKnowledgeRepository(db *sql.DB, dialect Dialect, logger *zap.Logger) *KnowledgeRepository {
	return &KnowledgeRepository{
		db:      db,
		sb:      dialect.builder(),
		logger:  logger,
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// Lookup returns the entry for topicKey, or nil when the topic is unknown.
func (r *KnowledgeRepository) Lookup(ctx context.Context, topicKey string) (*models.KnowledgeEntry, error) {
	return r.lookup(ctx, r.db, squirrel.Eq{"topic_key": topicKey})
}

// LookupByTitle finds the entry owning a page title, comparing titles the way
// MediaWiki does (see TitleKey).
func (r *KnowledgeRepository) LookupByTitle(ctx context.Context, title string) (*models.KnowledgeEntry, error) {
	return r.lookup(ctx, r.db, squirrel.Eq{"title_key": TitleKey(title)})
}

// LookupByFingerprint returns the entry that already folded in content with
// this fingerprint, whatever topic it was filed under.
func (r *KnowledgeRepository) LookupByFingerprint(ctx context.Context, fingerprint string) (*models.KnowledgeEntry, error) {
	query := r.sb.Select("topic_key").
		From("knowledge_fingerprints").
		Where(squirrel.Eq{"fingerprint": fingerprint})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	var topicKey string
	err = r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&topicKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up fingerprint: %w", err)
	}

	return r.Lookup(ctx, topicKey)
}

// Commit atomically creates or updates the entry for upd.TopicKey and records
// the folded fingerprint. It fails with failure.ErrConcurrentModification when
// the stored revision differs from upd.ExpectedRevision, when a create races
// with an existing topic or title, or when the fingerprint was already folded.
// Nothing is written in that case.
func (r *KnowledgeRepository) Commit(ctx context.Context, upd models.EntryUpdate) (*models.KnowledgeEntry, error) {
	if upd.TopicKey == "" || upd.PageTitle == "" || upd.NewRevision == "" || upd.Fingerprint == "" {
		return nil, fmt.Errorf("incomplete entry update for topic %q", upd.TopicKey)
	}

	categories, err := json.Marshal(NormalizeCategories(upd.Categories))
	if err != nil {
		return nil, fmt.Errorf("failed to encode categories: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := r.nowFunc().UnixMilli()

	var stmt squirrel.Sqlizer
	if upd.ExpectedRevision == "" {
		stmt = r.sb.Insert("knowledge_entries").
			Columns("topic_key", "page_title", "title_key", "page_revision_id", "categories", "version", "created_at", "last_updated").
			Values(upd.TopicKey, upd.PageTitle, TitleKey(upd.PageTitle), upd.NewRevision, string(categories), 1, now, now).
			Suffix("ON CONFLICT DO NOTHING")
	} else {
		stmt = r.sb.Update("knowledge_entries").
			Set("page_revision_id", upd.NewRevision).
			Set("categories", string(categories)).
			Set("version", squirrel.Expr("version + 1")).
			Set("last_updated", now).
			Where(squirrel.Eq{"topic_key": upd.TopicKey, "page_revision_id": upd.ExpectedRevision})
	}

	if err := execOne(ctx, tx, stmt); err != nil {
		if errors.Is(err, failure.ErrConcurrentModification) {
			return nil, fmt.Errorf("topic %q at revision %q: %w", upd.TopicKey, upd.ExpectedRevision, err)
		}
		return nil, fmt.Errorf("failed to write knowledge entry: %w", err)
	}

	fp := r.sb.Insert("knowledge_fingerprints").
		Columns("fingerprint", "topic_key", "unit_id", "folded_at").
		Values(upd.Fingerprint, upd.TopicKey, upd.UnitID, now).
		Suffix("ON CONFLICT DO NOTHING")
	if err := execOne(ctx, tx, fp); err != nil {
		if errors.Is(err, failure.ErrConcurrentModification) {
			return nil, fmt.Errorf("fingerprint %s already folded: %w", upd.Fingerprint, err)
		}
		return nil, fmt.Errorf("failed to record fingerprint: %w", err)
	}

	entry, err := r.lookup(ctx, tx, squirrel.Eq{"topic_key": upd.TopicKey})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit knowledge entry: %w", err)
	}

	r.logger.Debug("Knowledge entry committed",
		zap.String("topic_key", entry.TopicKey),
		zap.String("revision", entry.PageRevisionID),
		zap.Int64("version", entry.Version),
	)
	return entry, nil
}

func (r *KnowledgeRepository) lookup(ctx context.Context, q queryer, where squirrel.Sqlizer) (*models.KnowledgeEntry, error) {
	query := r.sb.Select(entryColumns...).
		From("knowledge_entries").
		Where(where)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	var (
		entry              models.KnowledgeEntry
		categories         string
		created, updatedAt int64
	)
	err = q.QueryRowContext(ctx, sqlStr, args...).Scan(
		&entry.TopicKey, &entry.PageTitle, &entry.PageRevisionID, &categories, &entry.Version, &created, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up knowledge entry: %w", err)
	}

	if err := json.Unmarshal([]byte(categories), &entry.Categories); err != nil {
		return nil, fmt.Errorf("failed to decode categories of %q: %w", entry.TopicKey, err)
	}
	entry.CreatedAt = time.UnixMilli(created).UTC()
	entry.LastUpdated = time.UnixMilli(updatedAt).UTC()

	fps, err := r.fingerprints(ctx, q, entry.TopicKey)
	if err != nil {
		return nil, err
	}
	entry.Fingerprints = fps

	return &entry, nil
}

func (r *KnowledgeRepository) fingerprints(ctx context.Context, q queryer, topicKey string) ([]string, error) {
	query := r.sb.Select("fingerprint").
		From("knowledge_fingerprints").
		Where(squirrel.Eq{"topic_key": topicKey}).
		OrderBy("folded_at ASC", "fingerprint ASC")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list fingerprints: %w", err)
	}
	defer rows.Close()

	var fps []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, err
		}
		fps = append(fps, fp)
	}
	return fps, rows.Err()
}

// execOne runs stmt and reports failure.ErrConcurrentModification when it
// touched no row.
func execOne(ctx context.Context, q queryer, stmt squirrel.Sqlizer) error {
	sqlStr, args, err := stmt.ToSql()
	if err != nil {
		return err
	}

	res, err := q.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return failure.ErrConcurrentModification
	}
	return nil
}

// TitleKey folds a page title the way MediaWiki compares titles: underscores
// are spaces, runs of spaces collapse and only the first letter ignores case.
func TitleKey(title string) string {
	title = strings.Join(strings.Fields(strings.ReplaceAll(title, "_", " ")), " ")
	first, size := utf8.DecodeRuneInString(title)
	if size == 0 {
		return ""
	}
	return string(unicode.ToUpper(first)) + title[size:]
}

// NormalizeCategories trims, de-duplicates case-insensitively and sorts.
func NormalizeCategories(categories []string) []string {
	seen := make(map[string]bool, len(categories))
	out := make([]string, 0, len(categories))
	for _, c := range categories {
		c = strings.Join(strings.Fields(c), " ")
		if c == "" || seen[strings.ToLower(c)] {
			continue
		}
		seen[strings.ToLower(c)] = true
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
