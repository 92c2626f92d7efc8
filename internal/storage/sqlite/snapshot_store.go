// Package sqlite provides a single-file SQLite snapshot store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/rivalwatch/internal/monitor"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	competitor_name TEXT NOT NULL,
	page_url TEXT NOT NULL,
	page_type TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	content TEXT NOT NULL,
	scraped_at INTEGER NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS snapshots_page_idx ON snapshots (competitor_name, page_url, scraped_at DESC);
CREATE TABLE IF NOT EXISTS changes (
	id TEXT PRIMARY KEY,
	competitor_name TEXT NOT NULL,
	page_url TEXT NOT NULL,
	page_type TEXT NOT NULL,
	description TEXT NOT NULL,
	old_excerpt TEXT NOT NULL DEFAULT '',
	new_excerpt TEXT NOT NULL DEFAULT '',
	detected_at INTEGER NOT NULL,
	notified INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS changes_detected_idx ON changes (detected_at DESC);
`

// SnapshotStore persists snapshots and change events in a SQLite database.
type SnapshotStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for an ephemeral store.
func Open(ctx context.Context, path string) (*SnapshotStore, error) {
	if path == "" {
		return nil, fmt.Errorf("storage.sqlite_path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers and keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=10000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

// Ping checks that the database handle is usable.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *SnapshotStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}

// GetLatest returns the newest snapshot for the page, or nil when none exists.
func (s *SnapshotStore) GetLatest(ctx context.Context, competitor, url string) (*monitor.Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, competitor_name, page_url, page_type, fingerprint, content, scraped_at, metadata
FROM snapshots
WHERE competitor_name = ? AND page_url = ?
ORDER BY scraped_at DESC, rowid DESC
LIMIT 1`, competitor, url)

	var (
		snap      monitor.Snapshot
		pageType  string
		fp        string
		scrapedAt int64
		meta      string
	)
	err := row.Scan(&snap.ID, &snap.CompetitorName, &snap.PageURL, &pageType, &fp, &snap.Content, &scrapedAt, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select latest snapshot: %w", err)
	}
	snap.PageType = monitor.ParsePageType(pageType)
	snap.Fingerprint = monitor.Fingerprint(fp)
	snap.ScrapedAt = fromUnix(scrapedAt)
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &snap.Metadata); err != nil {
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
	_, err = s.db.ExecContext(ctx, `
INSERT INTO snapshots (id, competitor_name, page_url, page_type, fingerprint, content, scraped_at, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, snap.CompetitorName, snap.PageURL, string(snap.PageType), string(snap.Fingerprint),
		snap.Content, toUnix(snap.ScrapedAt), string(metaJSON))
	if err != nil {
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
	_, err = s.db.ExecContext(ctx, `
INSERT INTO changes (id, competitor_name, page_url, page_type, description, old_excerpt, new_excerpt, detected_at, notified)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, change.CompetitorName, change.PageURL, string(change.PageType), change.Description,
		change.OldExcerpt, change.NewExcerpt, toUnix(change.DetectedAt), boolInt(change.Notified))
	if err != nil {
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
		conds = append(conds, "detected_at >= ?")
		args = append(args, toUnix(q.Since))
	}
	if q.CompetitorName != "" {
		conds = append(conds, "competitor_name = ?")
		args = append(args, q.CompetitorName)
	}
	if q.OnlyPending {
		conds = append(conds, "notified = 0")
	}
	query := `
SELECT id, competitor_name, page_url, page_type, description, old_excerpt, new_excerpt, detected_at, notified
FROM changes`
	if len(conds) > 0 {
		query += "\nWHERE " + strings.Join(conds, " AND ")
	}
	query += "\nORDER BY detected_at DESC, rowid DESC\nLIMIT ?"
	args = append(args, q.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select changes: %w", err)
	}
	defer rows.Close()

	out := make([]monitor.ChangeEvent, 0)
	for rows.Next() {
		var (
			c          monitor.ChangeEvent
			pageType   string
			detectedAt int64
			notified   int
		)
		if err := rows.Scan(&c.ID, &c.CompetitorName, &c.PageURL, &pageType, &c.Description,
			&c.OldExcerpt, &c.NewExcerpt, &detectedAt, &notified); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		c.PageType = monitor.ParsePageType(pageType)
		c.DetectedAt = fromUnix(detectedAt)
		c.Notified = notified != 0
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
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := "UPDATE changes SET notified = 1 WHERE id IN (" + placeholders + ")"
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark notified: %w", err)
	}
	return nil
}

// Stats summarizes stored history relative to now.
func (s *SnapshotStore) Stats(ctx context.Context, now time.Time) (monitor.StoreStats, error) {
	var stats monitor.StoreStats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT competitor_name) FROM snapshots`).
		Scan(&stats.CompetitorsTracked); err != nil {
		return stats, fmt.Errorf("count competitors: %w", err)
	}
	weekAgo := toUnix(now.Add(-7 * 24 * time.Hour))
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN detected_at >= ? THEN 1 ELSE 0 END), 0) FROM changes`, weekAgo).
		Scan(&stats.TotalChanges, &stats.ChangesLast7Days); err != nil {
		return stats, fmt.Errorf("count changes: %w", err)
	}
	err := s.db.QueryRowContext(ctx, `
SELECT competitor_name, COUNT(*) AS change_count
FROM changes
GROUP BY competitor_name
ORDER BY change_count DESC, competitor_name ASC
LIMIT 1`).Scan(&stats.MostActiveCompetitor, &stats.MostActiveChanges)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
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

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
