package monitor

import (
	"errors"
	"fmt"
)

// ErrQueueClosed is returned by Dequeue once a queue is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// ErrRunInProgress is returned when a scrape run is requested while another is active.
var ErrRunInProgress = errors.New("scrape run already in progress")

// FetchError reports a page that could not be retrieved after all retries.
type FetchError struct {
	URL        string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s: status %d after %d attempt(s): %v", e.URL, e.StatusCode, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// PersistenceError wraps a snapshot store failure for one page.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
