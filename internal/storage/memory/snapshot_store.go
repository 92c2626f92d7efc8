package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/rivalwatch/internal/monitor"
)

// SnapshotStore keeps snapshots and change events in process memory.
type SnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string][]monitor.Snapshot
	changes   []monitor.ChangeEvent
	closed    bool
}

// NewSnapshotStore constructs an empty SnapshotStore.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		snapshots: make(map[string][]monitor.Snapshot),
	}
}

var errStoreClosed = errors.New("snapshot store closed")

func seriesKey(competitor, url string) string {
	return competitor + "\x00" + url
}

// GetLatest returns the newest snapshot for the page, or nil when none exists.
func (s *SnapshotStore) GetLatest(_ context.Context, competitor, url string) (*monitor.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errStoreClosed
	}
	series := s.snapshots[seriesKey(competitor, url)]
	if len(series) == 0 {
		return nil, nil
	}
	latest := series[0]
	for _, snap := range series[1:] {
		if !snap.ScrapedAt.Before(latest.ScrapedAt) {
			latest = snap
		}
	}
	out := cloneSnapshot(latest)
	return &out, nil
}

// SaveSnapshot appends a snapshot and returns its ID.
func (s *SnapshotStore) SaveSnapshot(_ context.Context, snap monitor.Snapshot) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", errStoreClosed
	}
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	key := seriesKey(snap.CompetitorName, snap.PageURL)
	s.snapshots[key] = append(s.snapshots[key], cloneSnapshot(snap))
	return snap.ID, nil
}

// RecordChange stores a change event and returns its ID.
func (s *SnapshotStore) RecordChange(_ context.Context, change monitor.ChangeEvent) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", errStoreClosed
	}
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	s.changes = append(s.changes, change)
	return change.ID, nil
}

// ListChanges returns matching change events, newest first.
func (s *SnapshotStore) ListChanges(_ context.Context, q monitor.ChangeQuery) ([]monitor.ChangeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errStoreClosed
	}
	out := make([]monitor.ChangeEvent, 0)
	for i := len(s.changes) - 1; i >= 0; i-- {
		c := s.changes[i]
		if !q.Since.IsZero() && c.DetectedAt.Before(q.Since) {
			continue
		}
		if q.CompetitorName != "" && c.CompetitorName != q.CompetitorName {
			continue
		}
		if q.OnlyPending && c.Notified {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	if limit := q.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkNotified flags the given change events as delivered. Unknown IDs are ignored.
func (s *SnapshotStore) MarkNotified(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for i := range s.changes {
		if want[s.changes[i].ID] {
			s.changes[i].Notified = true
		}
	}
	return nil
}

// Stats summarizes stored history relative to now.
func (s *SnapshotStore) Stats(_ context.Context, now time.Time) (monitor.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return monitor.StoreStats{}, errStoreClosed
	}
	competitors := make(map[string]bool)
	for _, series := range s.snapshots {
		for _, snap := range series {
			competitors[snap.CompetitorName] = true
		}
	}
	stats := monitor.StoreStats{
		CompetitorsTracked: len(competitors),
		TotalChanges:       len(s.changes),
	}
	weekAgo := now.Add(-7 * 24 * time.Hour)
	perCompetitor := make(map[string]int)
	for _, c := range s.changes {
		if !c.DetectedAt.Before(weekAgo) {
			stats.ChangesLast7Days++
		}
		perCompetitor[c.CompetitorName]++
	}
	for name, count := range perCompetitor {
		if count > stats.MostActiveChanges ||
			(count == stats.MostActiveChanges && name < stats.MostActiveCompetitor) {
			stats.MostActiveCompetitor = name
			stats.MostActiveChanges = count
		}
	}
	return stats, nil
}

// Close releases the store. Further calls fail.
func (s *SnapshotStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// SnapshotCount reports how many snapshots exist for a page.
func (s *SnapshotStore) SnapshotCount(competitor, url string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots[seriesKey(competitor, url)])
}

func cloneSnapshot(in monitor.Snapshot) monitor.Snapshot {
	out := in
	if in.Metadata != nil {
		out.Metadata = make(map[string]any, len(in.Metadata))
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
