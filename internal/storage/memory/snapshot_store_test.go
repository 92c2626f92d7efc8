package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rivalwatch/internal/monitor"
)

func TestSnapshotStoreLatestAndAppendOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSnapshotStore()
	latest, err := store.GetLatest(ctx, "Acme", "https://acme.test/pricing")
	require.NoError(t, err)
	require.Nil(t, latest)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	id1, err := store.SaveSnapshot(ctx, monitor.Snapshot{
		CompetitorName: "Acme", PageURL: "https://acme.test/pricing", Fingerprint: "aaa", ScrapedAt: base,
		Metadata: map[string]any{"status_code": 200},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id1)
	_, err = store.SaveSnapshot(ctx, monitor.Snapshot{
		ID: "fixed", CompetitorName: "Acme", PageURL: "https://acme.test/pricing", Fingerprint: "bbb", ScrapedAt: base.Add(time.Hour),
	})
	require.NoError(t, err)

	latest, err = store.GetLatest(ctx, "Acme", "https://acme.test/pricing")
	require.NoError(t, err)
	require.Equal(t, "fixed", latest.ID)
	require.Equal(t, monitor.Fingerprint("bbb"), latest.Fingerprint)
	require.Equal(t, 2, store.SnapshotCount("Acme", "https://acme.test/pricing"))

	other, err := store.GetLatest(ctx, "Globex", "https://acme.test/pricing")
	require.NoError(t, err)
	require.Nil(t, other)
}

func TestSnapshotStoreListChangesFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSnapshotStore()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	events := []monitor.ChangeEvent{
		{CompetitorName: "Acme", Description: "old", DetectedAt: now.Add(-30 * 24 * time.Hour)},
		{CompetitorName: "Acme", Description: "recent", DetectedAt: now.Add(-2 * time.Hour)},
		{CompetitorName: "Globex", Description: "newest", DetectedAt: now.Add(-time.Hour)},
	}
	ids := make([]string, 0, len(events))
	for _, e := range events {
		id, err := store.RecordChange(ctx, e)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	got, err := store.ListChanges(ctx, monitor.ChangeQuery{Since: now.Add(-7 * 24 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "newest", got[0].Description)
	require.Equal(t, "recent", got[1].Description)

	got, err = store.ListChanges(ctx, monitor.ChangeQuery{CompetitorName: "Acme", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "recent", got[0].Description)

	require.NoError(t, store.MarkNotified(ctx, []string{ids[2], "unknown"}))
	got, err = store.ListChanges(ctx, monitor.ChangeQuery{OnlyPending: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, c := range got {
		require.False(t, c.Notified)
	}
}

func TestSnapshotStoreStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSnapshotStore()
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	for _, name := range []string{"Acme", "Globex", "Acme"} {
		_, err := store.SaveSnapshot(ctx, monitor.Snapshot{CompetitorName: name, PageURL: "https://x.test", ScrapedAt: now})
		require.NoError(t, err)
	}
	for _, c := range []monitor.ChangeEvent{
		{CompetitorName: "Globex", DetectedAt: now.Add(-time.Hour)},
		{CompetitorName: "Globex", DetectedAt: now.Add(-10 * 24 * time.Hour)},
		{CompetitorName: "Acme", DetectedAt: now.Add(-time.Hour)},
	} {
		_, err := store.RecordChange(ctx, c)
		require.NoError(t, err)
	}

	stats, err := store.Stats(ctx, now)
	require.NoError(t, err)
	require.Equal(t, monitor.StoreStats{
		CompetitorsTracked:   2,
		TotalChanges:         3,
		ChangesLast7Days:     2,
		MostActiveCompetitor: "Globex",
		MostActiveChanges:    2,
	}, stats)
}

func TestSnapshotStoreClosed(t *testing.T) {
	t.Parallel()

	store := NewSnapshotStore()
	require.NoError(t, store.Close())
	_, err := store.SaveSnapshot(context.Background(), monitor.Snapshot{})
	require.Error(t, err)
	_, err = store.GetLatest(context.Background(), "a", "b")
	require.Error(t, err)
}
