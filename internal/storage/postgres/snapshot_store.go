// Package postgres provides the Postgres-backed snapshot store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/rivalwatch/internal/monitor"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	SnapshotsTable  string
	ChangesTable    string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	AutoMigrate     bool
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Ping(context.Context) error
	Close()
}

// SnapshotStore persists snapshots and change events in Postgres.
type SnapshotStore struct {
	pool      pool
	snapshots string
	changes   string
}

// NewSnapshotStore connects to Postgres using cfg and optionally creates the schema.
func NewSnapshotStore(ctx context.Context, cfg Config) (*SnapshotStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewSnapshotStoreWithPool(p, cfg.SnapshotsTable, cfg.ChangesTable)
	if err != nil {
		p.Close()
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewSnapshotStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSnapshotStoreWithPool(p pool, snapshotsTable, changesTable string) (*SnapshotStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if snapshotsTable == "" {
		snapshotsTable = "snapshots"
	}
	if changesTable == "" {
		changesTable = "changes"
	}
	for _, table := range []string{snapshotsTable, changesTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &SnapshotStore{pool: p, snapshots: snapshotsTable, changes: changesTable}, nil
}

// Migrate creates the tables and indexes when they do not exist.
func (s *SnapshotStore) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	seq BIGSERIAL,
	competitor_name TEXT NOT NULL,
	page_url TEXT NOT NULL,
	page_type TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	content TEXT NOT NULL,
	scraped_at TIMESTAMPTZ NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb
)`, s.snapshots),
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS seq BIGSERIAL`, s.snapshots),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_page_idx ON %[1]s (competitor_name, page_url, scraped_at DESC, seq DESC)`, s.snapshots),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	competitor_name TEXT NOT NULL,
	page_url TEXT NOT NULL,
	page_type TEXT NOT NULL,
	description TEXT NOT NULL,
	old_excerpt TEXT NOT NULL DEFAULT '',
	new_excerpt TEXT NOT NULL DEFAULT '',
	detected_at TIMESTAMPTZ NOT NULL,
	notified BOOLEAN NOT NULL DEFAULT FALSE
)`, s.changes),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_detected_idx ON %[1]s (detected_at DESC)`, s.changes),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate schema: %w", err)
		}
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *SnapshotStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

// GetLatest returns the newest snapshot for the page, or nil when none exists. Snapshots
// sharing a timestamp resolve to the last one inserted.
func (s *SnapshotStore) GetLatest(ctx context.Context, competitor, url string) (*monitor.Snapshot, error) {
	query := fmt.Sprintf(`
SELECT id, competitor_name, page_url, page_type, fingerprint, content, scraped_at, metadata
FROM %s
WHERE competitor_name = $1 AND page_url = $2
ORDER BY scraped_at DESC, seq DESC
LIMIT 1`, s.snapshots)

	var (
		snap     monitor.Snapshot
		pageType string
		fp       string
		meta     []byte
	)
	err := s.pool.QueryRow(ctx, query, competitor, url).Scan(
		&snap.ID,
		&snap.CompetitorName,
		&snap.PageURL,
		&pageType,
		&fp,
		&snap.Content,
		&snap.ScrapedAt,
		&meta,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select latest snapshot: %w", err)
	}
	snap.PageType = monitor.ParsePageType(pageType)
	snap.Fingerprint = monitor.Fingerprint(fp)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &snap.Metadata); err != nil {
			return nil, fmt.Errorf("decode snapshot metadata: %w", err)
		}
	}
	return &snap, nil
}

// SaveSnapshot inserts a snapshot row and returns its ID.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snap monitor.Snapshot) (string, error) {
	id, err := ensureID(snap.ID)
	if err != nil {
		return "", err
	}
	meta := snap.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	competitor_name,
	page_url,
	page_type,
	fingerprint,
	content,
	scraped_at,
	metadata
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, s.snapshots)

	args := []any{
		id,
		snap.CompetitorName,
		snap.PageURL,
		string(snap.PageType),
		string(snap.Fingerprint),
		snap.Content,
		snap.ScrapedAt,
		metaJSON,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}
	return id, nil
}

// RecordChange inserts a change event and returns its ID.
func (s *SnapshotStore) RecordChange(ctx context.Context, change monitor.ChangeEvent) (string, error) {
	id, err := ensureID(change.ID)
	if err != nil {
		return "", err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	competitor_name,
	page_url,
	page_type,
	description,
	old_excerpt,
	new_excerpt,
	detected_at,
	notified
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.changes)

	args := []any{
		id,
		change.CompetitorName,
		change.PageURL,
		string(change.PageType),
		change.Description,
		change.OldExcerpt,
		change.NewExcerpt,
		change.DetectedAt,
		change.Notified,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return "", fmt.Errorf("insert change: %w", err)
	}
	return id, nil
}

// ListChanges returns matching change events, newest first.
func (s *SnapshotStore) ListChanges(ctx context.Context, q monitor.ChangeQuery) ([]monitor.ChangeEvent, error) {
	var (
		conds []string
		args  []any
	)
	if !q.Since.IsZero() {
		args = append(args, q.Since)
		conds = append(conds, fmt.Sprintf("detected_at >= $%d", len(args)))
	}
	if q.CompetitorName != "" {
		args = append(args, q.CompetitorName)
		conds = append(conds, fmt.Sprintf("competitor_name = $%d", len(args)))
	}
	if q.OnlyPending {
		conds = append(conds, "notified = FALSE")
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, q.EffectiveLimit())
	query := fmt.Sprintf(`
SELECT id, competitor_name, page_url, page_type, description, old_excerpt, new_excerpt, detected_at, notified
FROM %s
%s
ORDER BY detected_at DESC
LIMIT $%d`, s.changes, where, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select changes: %w", err)
	}
	defer rows.Close()

	out := make([]monitor.ChangeEvent, 0)
	for rows.Next() {
		var (
			c        monitor.ChangeEvent
			pageType string
		)
		if err := rows.Scan(
			&c.ID,
			&c.CompetitorName,
			&c.PageURL,
			&pageType,
			&c.Description,
			&c.OldExcerpt,
			&c.NewExcerpt,
			&c.DetectedAt,
			&c.Notified,
		); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.PageType = monitor.ParsePageType(pageType)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return out, nil
}

// MarkNotified flags the given change events as delivered.
func (s *SnapshotStore) MarkNotified(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(`UPDATE %s SET notified = TRUE WHERE id = ANY($1)`, s.changes)
	if _, err := s.pool.Exec(ctx, query, ids); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

// Stats summarizes stored history relative to now.
func (s *SnapshotStore) Stats(ctx context.Context, now time.Time) (monitor.StoreStats, error) {
	var stats monitor.StoreStats
	competitorsQuery := fmt.Sprintf(`SELECT COUNT(DISTINCT competitor_name) FROM %s`, s.snapshots)
	if err := s.pool.QueryRow(ctx, competitorsQuery).Scan(&stats.CompetitorsTracked); err != nil {
		return stats, fmt.Errorf("count competitors: %w", err)
	}
	changesQuery := fmt.Sprintf(
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE detected_at >= $1) FROM %s`, s.changes)
	if err := s.pool.QueryRow(ctx, changesQuery, now.Add(-7*24*time.Hour)).
		Scan(&stats.TotalChanges, &stats.ChangesLast7Days); err != nil {
		return stats, fmt.Errorf("count changes: %w", err)
	}
	activeQuery := fmt.Sprintf(`
SELECT competitor_name, COUNT(*) AS change_count
FROM %s
GROUP BY competitor_name
ORDER BY change_count DESC, competitor_name ASC
LIMIT 1`, s.changes)
	err := s.pool.QueryRow(ctx, activeQuery).Scan(&stats.MostActiveCompetitor, &stats.MostActiveChanges)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return stats, fmt.Errorf("select most active competitor: %w", err)
	}
	return stats, nil
}

func ensureID(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	v7, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return v7.String(), nil
}
