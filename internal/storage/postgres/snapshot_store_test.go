package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rivalwatch/internal/monitor"
)

func newMockStore(t *testing.T) (*SnapshotStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewSnapshotStoreWithPool(mock, "", "")
	require.NoError(t, err)
	return store, mock
}

func TestNewSnapshotStoreWithPoolValidation(t *testing.T) {
	t.Parallel()

	_, err := NewSnapshotStoreWithPool(nil, "", "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewSnapshotStoreWithPool(mock, "snapshots; DROP TABLE x", "")
	require.ErrorContains(t, err, "invalid table name")
}

func TestNewSnapshotStoreRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := NewSnapshotStore(context.Background(), Config{})
	require.EqualError(t, err, "db.dsn is required")
}

func TestSaveSnapshotInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	snap := monitor.Snapshot{
		ID:             "snap-1",
		CompetitorName: "Acme",
		PageURL:        "https://acme.test/pricing",
		PageType:       monitor.PageTypePricing,
		Fingerprint:    "abc123",
		Content:        `{"data":{},"type":"pricing"}`,
		ScrapedAt:      now,
		Metadata:       map[string]any{"status_code": 200},
	}

	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs(
			"snap-1",
			"Acme",
			"https://acme.test/pricing",
			"pricing",
			"abc123",
			snap.Content,
			now,
			[]byte(`{"status_code":200}`),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := store.SaveSnapshot(context.Background(), snap)
	require.NoError(t, err)
	require.Equal(t, "snap-1", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveSnapshotGeneratesIDAndWrapsErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs(pgxmock.AnyArg(), "Acme", "u", "other", "", "", pgxmock.AnyArg(), []byte(`{}`)).
		WillReturnError(errors.New("conn reset"))

	_, err := store.SaveSnapshot(context.Background(), monitor.Snapshot{CompetitorName: "Acme", PageURL: "u", PageType: monitor.PageTypeOther})
	require.ErrorContains(t, err, "insert snapshot: conn reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLatestReturnsSnapshot(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"id", "competitor_name", "page_url", "page_type", "fingerprint", "content", "scraped_at", "metadata",
	}).AddRow("snap-2", "Acme", "https://acme.test/blog", "blog", "fff", `{"data":{"posts":[]},"type":"blog"}`, now, []byte(`{"run_id":"r1"}`))
	mock.ExpectQuery(`SELECT (.+) FROM snapshots\s+WHERE (.+)\s+ORDER BY scraped_at DESC, seq DESC\s+LIMIT 1`).
		WithArgs("Acme", "https://acme.test/blog").
		WillReturnRows(rows)

	snap, err := store.GetLatest(context.Background(), "Acme", "https://acme.test/blog")
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, "snap-2", snap.ID)
	require.Equal(t, monitor.PageTypeBlog, snap.PageType)
	require.Equal(t, monitor.Fingerprint("fff"), snap.Fingerprint)
	require.Equal(t, "r1", snap.Metadata["run_id"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLatestNoRows(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT (.+) FROM snapshots").
		WithArgs("Acme", "https://acme.test").
		WillReturnError(pgx.ErrNoRows)

	snap, err := store.GetLatest(context.Background(), "Acme", "https://acme.test")
	require.NoError(t, err)
	require.Nil(t, snap)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordChangeInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	change := monitor.ChangeEvent{
		ID:             "chg-1",
		CompetitorName: "Acme",
		PageURL:        "https://acme.test/pricing",
		PageType:       monitor.PageTypePricing,
		Description:    `"Pro" price changed from $49 to $59`,
		OldExcerpt:     "old",
		NewExcerpt:     "new",
		DetectedAt:     now,
	}
	mock.ExpectExec("INSERT INTO changes").
		WithArgs("chg-1", "Acme", "https://acme.test/pricing", "pricing", change.Description, "old", "new", now, false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := store.RecordChange(context.Background(), change)
	require.NoError(t, err)
	require.Equal(t, "chg-1", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListChangesBuildsFilters(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	since := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"id", "competitor_name", "page_url", "page_type", "description", "old_excerpt", "new_excerpt", "detected_at", "notified",
	}).
		AddRow("c2", "Acme", "https://acme.test/blog", "blog", "New blog post published: \"Q3 roadmap\"", "", "", since.Add(2*time.Hour), false).
		AddRow("c1", "Acme", "https://acme.test/pricing", "pricing", "Plan removed: \"Team\"", "", "", since.Add(time.Hour), false)
	mock.ExpectQuery(`FROM changes\s+WHERE detected_at >= \$1 AND competitor_name = \$2 AND notified = FALSE\s+ORDER BY detected_at DESC\s+LIMIT \$3`).
		WithArgs(since, "Acme", monitor.MaxChangeLimit).
		WillReturnRows(rows)

	got, err := store.ListChanges(context.Background(), monitor.ChangeQuery{
		Since:          since,
		CompetitorName: "Acme",
		OnlyPending:    true,
		Limit:          5000,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "c2", got[0].ID)
	require.Equal(t, monitor.PageTypePricing, got[1].PageType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListChangesDefaultLimit(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM changes\s+ORDER BY detected_at DESC\s+LIMIT \$1`).
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "competitor_name", "page_url", "page_type", "description", "old_excerpt", "new_excerpt", "detected_at", "notified",
		}))

	got, err := store.ListChanges(context.Background(), monitor.ChangeQuery{})
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkNotified(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	require.NoError(t, store.MarkNotified(context.Background(), nil))

	mock.ExpectExec(`UPDATE changes SET notified = TRUE`).
		WithArgs([]string{"c1", "c2"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	require.NoError(t, store.MarkNotified(context.Background(), []string{"c1", "c2"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStats(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery(`SELECT COUNT\(DISTINCT competitor_name\) FROM snapshots`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery(`FROM changes`).
		WithArgs(now.Add(-7 * 24 * time.Hour)).
		WillReturnRows(pgxmock.NewRows([]string{"total", "recent"}).AddRow(10, 4))
	mock.ExpectQuery(`GROUP BY competitor_name`).
		WillReturnRows(pgxmock.NewRows([]string{"competitor_name", "change_count"}).AddRow("Globex", 6))

	stats, err := store.Stats(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, monitor.StoreStats{
		CompetitorsTracked:   3,
		TotalChanges:         10,
		ChangesLast7Days:     4,
		MostActiveCompetitor: "Globex",
		MostActiveChanges:    6,
	}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateCreatesSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS snapshots`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`ALTER TABLE snapshots ADD COLUMN IF NOT EXISTS seq BIGSERIAL`).WillReturnResult(pgxmock.NewResult("ALTER", 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS snapshots_page_idx`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS changes`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS changes_detected_idx`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPingWrapsErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewSnapshotStoreWithPool(mock, "", "")
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, store.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("conn refused"))
	require.ErrorContains(t, store.Ping(context.Background()), "ping postgres: conn refused")
	require.NoError(t, mock.ExpectationsWereMet())
}
