// Package worker runs the per-page monitoring pipeline.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"runtime/debug"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/JakeFAU/rivalwatch/internal/describe"
	"github.com/JakeFAU/rivalwatch/internal/extract"
	"github.com/JakeFAU/rivalwatch/internal/fingerprint"
	"github.com/JakeFAU/rivalwatch/internal/metrics"
	"github.com/JakeFAU/rivalwatch/internal/monitor"
	"github.com/JakeFAU/rivalwatch/internal/normalize"
	"github.com/JakeFAU/rivalwatch/internal/record"
)

// Config controls Worker behavior.
type Config struct {
	ContentType     string
	BlobPrefix      string
	Topic           string
	MaxContentBytes int
	MaxExcerptBytes int
}

// DefaultConfig returns the standard worker limits.
func DefaultConfig() Config {
	return Config{
		ContentType:     "text/html; charset=utf-8",
		BlobPrefix:      "raw",
		MaxContentBytes: 1_000_000,
		MaxExcerptBytes: 1000,
	}
}

// Dependencies are the collaborators a Worker needs. Store, Clock and Probe are required;
// the rest are optional.
type Dependencies struct {
	Store     monitor.SnapshotStore
	Clock     monitor.Clock
	Probe     monitor.Fetcher
	Headless  monitor.Fetcher
	Detector  monitor.HeadlessDetector
	BlobStore monitor.BlobStore
	Publisher monitor.Publisher
	Extractor *extract.Extractor
	Describer *describe.Describer
}

// Worker processes page tasks.
type Worker struct {
	store           monitor.SnapshotStore
	clock           monitor.Clock
	probeFetcher    monitor.Fetcher
	headlessFetcher monitor.Fetcher
	detector        monitor.HeadlessDetector
	blobStore       monitor.BlobStore
	publisher       monitor.Publisher
	extractor       *extract.Extractor
	describer       *describe.Describer
	fingerprints    *fingerprint.Engine
	cfg             Config
	logger          *zap.Logger
}

// New constructs a Worker.
func New(deps Dependencies, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.ContentType == "" {
		cfg.ContentType = def.ContentType
	}
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = def.MaxContentBytes
	}
	if cfg.MaxExcerptBytes <= 0 {
		cfg.MaxExcerptBytes = def.MaxExcerptBytes
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.New(extract.DefaultConfig(), logger)
	}
	if deps.Describer == nil {
		deps.Describer = describe.New(describe.DefaultConfig())
	}
	return &Worker{
		store:           deps.Store,
		clock:           deps.Clock,
		probeFetcher:    deps.Probe,
		headlessFetcher: deps.Headless,
		detector:        deps.Detector,
		blobStore:       deps.BlobStore,
		publisher:       deps.Publisher,
		extractor:       deps.Extractor,
		describer:       deps.Describer,
		fingerprints:    fingerprint.New(),
		cfg:             cfg,
		logger:          logger,
	}
}

// Run consumes tasks until the queue is closed and drained or the context finishes. Every
// processed task is passed to report.
func (w *Worker) Run(ctx context.Context, queue monitor.Queue, report func(monitor.Outcome)) {
	for {
		task, err := queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, monitor.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued task",
			zap.String("run_id", task.RunID),
			zap.String("competitor", task.Target.CompetitorName),
			zap.String("url", task.Target.URL),
		)
		metrics.IncActiveWorkers()
		out := w.Process(ctx, task)
		metrics.DecActiveWorkers()
		if report != nil {
			report(out)
		}
	}
}

// Process runs the full pipeline for one page. Failures, panics included, are returned in
// Outcome.Err and never affect other pages.
func (w *Worker) Process(ctx context.Context, task monitor.Task) (out monitor.Outcome) {
	target := task.Target
	out.Target = target
	logger := w.logger.With(
		zap.String("run_id", task.RunID),
		zap.String("competitor", target.CompetitorName),
		zap.String("url", target.URL),
		zap.String("page_type", string(target.PageType)),
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("page processing panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			out = monitor.Outcome{Target: target, Err: fmt.Errorf("page processing panicked: %v", r)}
			metrics.ObservePage(target.URL, "panic", 0)
		}
	}()

	if w.probeFetcher == nil || w.store == nil || w.clock == nil {
		out.Err = errors.New("worker is not fully configured")
		return out
	}

	doc, err := w.fetchProbe(ctx, target)
	if err != nil {
		logger.Warn("page fetch failed", zap.Error(err))
		metrics.ObservePage(target.URL, "fetch_failed", 0)
		out.Err = err
		return out
	}
	if promoted, ok := w.maybePromote(ctx, target, doc, logger); ok {
		doc = promoted
	}

	rec, err := w.extractRecord(target, doc)
	if err != nil {
		logger.Error("page normalize failed", zap.Error(err))
		metrics.ObservePage(target.URL, "parse_failed", len(doc.Body))
		out.Err = err
		return out
	}
	metrics.ObserveExtraction(string(rec.PageType()), rec.Len())

	fp, canonical, err := w.fingerprints.Fingerprint(rec)
	if err != nil {
		out.Err = fmt.Errorf("fingerprint record: %w", err)
		return out
	}
	out.Fingerprint = fp
	logger = logger.With(zap.String("fingerprint", string(fp)))

	prev, err := w.store.GetLatest(ctx, target.CompetitorName, target.URL)
	if err != nil {
		out.Err = &monitor.PersistenceError{Op: "get_latest", Err: err}
		logger.Error("load previous snapshot failed", zap.Error(err))
		metrics.ObservePage(target.URL, "store_failed", len(doc.Body))
		return out
	}

	snap := w.buildSnapshot(ctx, task, doc, fp, canonical, logger)
	snapID, err := w.store.SaveSnapshot(ctx, snap)
	if err != nil {
		out.Err = &monitor.PersistenceError{Op: "save_snapshot", Err: err}
		logger.Error("save snapshot failed", zap.Error(err))
		metrics.ObservePage(target.URL, "store_failed", len(doc.Body))
		return out
	}
	out.SnapshotID = snapID

	switch {
	case prev == nil:
		out.FirstSeen = true
		logger.Info("baseline snapshot stored")
	case prev.Fingerprint == fp:
		logger.Debug("page unchanged")
	default:
		change := w.buildChange(prev, snap, rec)
		changeID, err := w.store.RecordChange(ctx, change)
		if err != nil {
			out.Err = &monitor.PersistenceError{Op: "record_change", Err: err}
			logger.Error("record change failed", zap.Error(err))
			metrics.ObservePage(target.URL, "store_failed", len(doc.Body))
			return out
		}
		change.ID = changeID
		out.Changed = true
		out.ChangeID = changeID
		out.Description = change.Description
		metrics.ObserveChange(string(change.PageType))
		logger.Info("change detected", zap.String("change_id", changeID), zap.String("description", change.Description))
		w.publishChange(ctx, change, logger)
	}

	metrics.ObservePage(target.URL, "success", len(doc.Body))
	return out
}

func (w *Worker) fetchProbe(ctx context.Context, target monitor.PageTarget) (monitor.RawDocument, error) {
	doc, err := w.probeFetcher.Fetch(ctx, monitor.FetchRequest{URL: target.URL})
	if err != nil {
		return monitor.RawDocument{}, fmt.Errorf("probe fetch: %w", err)
	}
	return doc, nil
}

func (w *Worker) maybePromote(
	ctx context.Context,
	target monitor.PageTarget,
	doc monitor.RawDocument,
	logger *zap.Logger,
) (monitor.RawDocument, bool) {
	if w.detector == nil || w.headlessFetcher == nil || !w.detector.ShouldPromote(doc) {
		return doc, false
	}
	rendered, err := w.headlessFetcher.Fetch(ctx, monitor.FetchRequest{URL: target.URL, UseHeadless: true, Selector: target.Selector})
	if err != nil {
		logger.Warn("headless promotion failed", zap.Error(err))
		metrics.ObserveHeadlessPromotion("fallback")
		return doc, false
	}
	rendered.UsedHeadless = true
	metrics.ObserveHeadlessPromotion("success")
	logger.Debug("headless promotion applied")
	return rendered, true
}

func (w *Worker) extractRecord(target monitor.PageTarget, doc monitor.RawDocument) (record.Record, error) {
	normalized, err := normalize.Normalize(doc.Body, target.Selector)
	if err != nil {
		return nil, fmt.Errorf("normalize page: %w", err)
	}
	base := doc.FinalURL
	if base == "" {
		base = target.URL
	}
	if u, err := url.Parse(base); err == nil {
		normalized.BaseURL = u
	}
	return w.extractor.Extract(target.PageType, normalized), nil
}

func (w *Worker) buildSnapshot(
	ctx context.Context,
	task monitor.Task,
	doc monitor.RawDocument,
	fp monitor.Fingerprint,
	canonical []byte,
	logger *zap.Logger,
) monitor.Snapshot {
	now := w.clock.Now().UTC()
	content := string(canonical)
	meta := map[string]any{
		"status_code":   doc.StatusCode,
		"scraped_at":    now.Format(time.RFC3339),
		"final_url":     doc.FinalURL,
		"used_headless": doc.UsedHeadless,
		"duration_ms":   doc.Duration.Milliseconds(),
		"attempts":      doc.Attempts,
		"run_id":        task.RunID,
	}
	if len(content) > w.cfg.MaxContentBytes {
		content = truncateBytes(content, w.cfg.MaxContentBytes)
		meta["content_truncated"] = true
	}
	if uri := w.archive(ctx, task.Target, doc, logger); uri != "" {
		meta["blob_uri"] = uri
	}
	return monitor.Snapshot{
		CompetitorName: task.Target.CompetitorName,
		PageURL:        task.Target.URL,
		PageType:       effectivePageType(task.Target.PageType),
		Fingerprint:    fp,
		Content:        content,
		ScrapedAt:      now,
		Metadata:       meta,
	}
}

// archive stores the raw body when a blob store is configured. Failures are logged only.
func (w *Worker) archive(ctx context.Context, target monitor.PageTarget, doc monitor.RawDocument, logger *zap.Logger) string {
	if w.blobStore == nil || len(doc.Body) == 0 {
		return ""
	}
	path := w.buildBlobPath(target.CompetitorName, string(w.fingerprints.Hash(doc.Body)))
	uri, err := w.blobStore.PutObject(ctx, path, w.cfg.ContentType, bytes.NewReader(doc.Body))
	if err != nil {
		logger.Warn("archive raw page failed", zap.String("path", path), zap.Error(err))
		return ""
	}
	return uri
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func (w *Worker) buildBlobPath(competitor, hash string) string {
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(competitor), "-"), "-")
	if slug == "" {
		slug = "unknown"
	}
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", slug, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, slug, hash)
}

func (w *Worker) buildChange(prev *monitor.Snapshot, snap monitor.Snapshot, rec record.Record) monitor.ChangeEvent {
	old, err := record.Decode([]byte(prev.Content))
	if err != nil {
		w.logger.Debug("previous snapshot content not decodable", zap.String("snapshot_id", prev.ID), zap.Error(err))
		old = nil
	}
	return monitor.ChangeEvent{
		CompetitorName: snap.CompetitorName,
		PageURL:        snap.PageURL,
		PageType:       snap.PageType,
		Description:    w.describer.Summary(old, rec),
		OldExcerpt:     truncateBytes(prev.Content, w.cfg.MaxExcerptBytes),
		NewExcerpt:     truncateBytes(snap.Content, w.cfg.MaxExcerptBytes),
		DetectedAt:     snap.ScrapedAt,
	}
}

func (w *Worker) publishChange(ctx context.Context, change monitor.ChangeEvent, logger *zap.Logger) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, ChangeMessage(change))
	if err != nil {
		logger.Warn("publish change failed", zap.Error(err))
		return
	}
	logger.Debug("change published", zap.String("message_id", id))
}

func effectivePageType(pt monitor.PageType) monitor.PageType {
	return monitor.ParsePageType(string(pt))
}

// truncateBytes cuts s to at most limit bytes without splitting a UTF-8 sequence.
func truncateBytes(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
