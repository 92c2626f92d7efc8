package monitor

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves raw pages.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (RawDocument, error)
}

// HeadlessDetector decides when a probe response should be re-rendered in a browser.
type HeadlessDetector interface {
	ShouldPromote(doc RawDocument) bool
}

// SnapshotStore persists snapshots and change events.
type SnapshotStore interface {
	// GetLatest returns the most recent snapshot for a page, or nil with no error when none exists.
	GetLatest(ctx context.Context, competitor, url string) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, snap Snapshot) (string, error)
	RecordChange(ctx context.Context, change ChangeEvent) (string, error)
	ListChanges(ctx context.Context, q ChangeQuery) ([]ChangeEvent, error)
	MarkNotified(ctx context.Context, ids []string) error
	Stats(ctx context.Context, now time.Time) (StoreStats, error)
	Close() error
}

// TargetProvider supplies the pages to monitor.
type TargetProvider interface {
	ListTargets(ctx context.Context) ([]PageTarget, error)
}

// Queue buffers tasks between the orchestrator and its workers.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
	Close()
}

// BlobStore archives raw page bodies.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher hands change events to downstream notifiers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
