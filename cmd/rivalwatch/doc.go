// Package main hosts the rivalwatch entrypoint.
//
// Architecture overview:
//   - Targets: competitor pages come from a YAML file (targets.file) or the inline targets.competitors list and
//     are validated with go-playground/validator before every run.
//   - Dispatcher & queue: each scrape builds a bounded in-memory queue of page tasks, collapses duplicate
//     (competitor, url) pairs, and drains it with a fixed worker pool sized by crawler.concurrency.
//   - Fetch pipeline: workers probe pages with the Colly fetcher (per-host rate limit, retry with jittered
//     exponential backoff), optionally promote to a Chromedp render when the heuristic detector flags a
//     client-rendered page, then normalize, extract a typed record and fingerprint it.
//   - Persistence & fanout: every successful scrape appends a snapshot to the configured store (memory, sqlite or
//     postgres). A changed fingerprint records a change event with a human-readable description, which is
//     published to Pub/Sub when a topic is configured. Raw HTML can be archived to memory, local disk or GCS.
//   - HTTP API: internal/api.Server exposes health, metrics, scrape trigger, report, change listing and stats.
//
// Modes:
//   - rivalwatch -config config.yaml            serve the API (and scrape on server.scrape_interval_minutes)
//   - rivalwatch -config config.yaml -once      scrape every target once and print the run result as JSON
//   - rivalwatch -config config.yaml -report 7  print the change report for the last 7 days
//
// Environment variables override config keys with the RIVALWATCH_ prefix, for example
// RIVALWATCH_STORAGE_DRIVER=sqlite or RIVALWATCH_CRAWLER_CONCURRENCY=8. PORT overrides server.port.
package main
