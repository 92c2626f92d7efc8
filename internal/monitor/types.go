// Package monitor defines the shared domain types and interfaces for competitor page monitoring.
package monitor

import (
	"net/http"
	"strings"
	"time"
)

// PageType classifies a monitored page and selects its extractor.
type PageType string

// Supported page types.
const (
	PageTypePricing  PageType = "pricing"
	PageTypeFeatures PageType = "features"
	PageTypeBlog     PageType = "blog"
	PageTypeOther    PageType = "other"
)

// ParsePageType maps a free-form label onto a PageType. Unknown labels become PageTypeOther.
func ParsePageType(s string) PageType {
	switch PageType(strings.ToLower(strings.TrimSpace(s))) {
	case PageTypePricing:
		return PageTypePricing
	case PageTypeFeatures:
		return PageTypeFeatures
	case PageTypeBlog:
		return PageTypeBlog
	default:
		return PageTypeOther
	}
}

// PageTarget is one competitor page to monitor.
type PageTarget struct {
	CompetitorName string   `json:"competitor_name" yaml:"competitor_name" mapstructure:"competitor_name" validate:"required"`
	URL            string   `json:"url" yaml:"url" mapstructure:"url" validate:"required,http_url"`
	PageType       PageType `json:"page_type" yaml:"page_type" mapstructure:"page_type" validate:"omitempty,oneof=pricing features blog other"`
	Selector       string   `json:"selector,omitempty" yaml:"selector,omitempty" mapstructure:"selector" validate:"omitempty,cssselector"`
}

// Key identifies the snapshot series a target writes to.
func (t PageTarget) Key() string {
	return t.CompetitorName + "\x00" + t.URL
}

// FetchRequest describes a single page retrieval.
type FetchRequest struct {
	URL         string
	Headers     http.Header
	UseHeadless bool
	// Selector is the target's content scope; the headless renderer waits for it.
	Selector string
}

// RawDocument is the fetched, undecoded page.
type RawDocument struct {
	URL          string
	FinalURL     string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	FetchedAt    time.Time
	Duration     time.Duration
	Attempts     int
	UsedHeadless bool
}

// Fingerprint is the lowercase hex SHA-256 of a canonical record serialization.
type Fingerprint string

// Snapshot is an append-only record of one successful scrape.
type Snapshot struct {
	ID             string         `json:"id"`
	CompetitorName string         `json:"competitor_name"`
	PageURL        string         `json:"page_url"`
	PageType       PageType       `json:"page_type"`
	Fingerprint    Fingerprint    `json:"fingerprint"`
	Content        string         `json:"content"`
	ScrapedAt      time.Time      `json:"scraped_at"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// ChangeEvent records a detected difference between consecutive snapshots.
type ChangeEvent struct {
	ID             string    `json:"id"`
	CompetitorName string    `json:"competitor_name"`
	PageURL        string    `json:"page_url"`
	PageType       PageType  `json:"page_type"`
	Description    string    `json:"description"`
	OldExcerpt     string    `json:"old_excerpt"`
	NewExcerpt     string    `json:"new_excerpt"`
	DetectedAt     time.Time `json:"detected_at"`
	Notified       bool      `json:"notified"`
}

// Limits applied to ChangeQuery and report windows.
const (
	MaxChangeLimit = 1000
	MaxWindowDays  = 365
)

// ChangeQuery filters ListChanges. Zero values mean "no filter".
type ChangeQuery struct {
	Since          time.Time
	CompetitorName string
	OnlyPending    bool
	Limit          int
}

// EffectiveLimit clamps the requested limit to [1, MaxChangeLimit], defaulting to 100.
func (q ChangeQuery) EffectiveLimit() int {
	switch {
	case q.Limit <= 0:
		return 100
	case q.Limit > MaxChangeLimit:
		return MaxChangeLimit
	default:
		return q.Limit
	}
}

// ClampDays bounds a day window to [1, MaxWindowDays].
func ClampDays(days int) int {
	if days < 1 {
		return 1
	}
	if days > MaxWindowDays {
		return MaxWindowDays
	}
	return days
}

// StoreStats summarizes the monitoring history.
type StoreStats struct {
	CompetitorsTracked   int    `json:"competitors_tracked"`
	TotalChanges         int    `json:"total_changes"`
	ChangesLast7Days     int    `json:"changes_last_7_days"`
	MostActiveCompetitor string `json:"most_active_competitor,omitempty"`
	MostActiveChanges    int    `json:"most_active_changes"`
}

// Task is a queued unit of work for a single page.
type Task struct {
	RunID     string
	Target    PageTarget
	Submitted time.Time
}

// Outcome reports what processing a single page produced.
type Outcome struct {
	Target      PageTarget  `json:"target"`
	SnapshotID  string      `json:"snapshot_id,omitempty"`
	Fingerprint Fingerprint `json:"fingerprint,omitempty"`
	Changed     bool        `json:"changed"`
	FirstSeen   bool        `json:"first_seen"`
	ChangeID    string      `json:"change_id,omitempty"`
	Description string      `json:"description,omitempty"`
	Err         error       `json:"-"`
}

// RunResult aggregates one ScrapeAll invocation.
type RunResult struct {
	RunID     string    `json:"run_id"`
	Targets   int       `json:"targets"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Changes   int       `json:"changes"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
}
