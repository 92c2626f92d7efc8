// Package report renders the plain-text competitor intelligence digest.
package report

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/JakeFAU/rivalwatch/internal/monitor"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	ruleWidth  = 60
)

// ChangeLister is the store subset the report needs.
type ChangeLister interface {
	ListChanges(ctx context.Context, q monitor.ChangeQuery) ([]monitor.ChangeEvent, error)
}

// Generator builds reports from stored change events.
type Generator struct {
	store ChangeLister
	clock monitor.Clock
}

// New creates a Generator.
func New(store ChangeLister, clock monitor.Clock) *Generator {
	return &Generator{store: store, clock: clock}
}

// Generate renders every change detected in the last days days, grouped by competitor in
// first-seen order with the newest change first. days is clamped to [1, 365].
func (g *Generator) Generate(ctx context.Context, days int) (string, error) {
	days = monitor.ClampDays(days)
	now := g.clock.Now().UTC()
	changes, err := g.store.ListChanges(ctx, monitor.ChangeQuery{
		Since: now.AddDate(0, 0, -days),
		Limit: monitor.MaxChangeLimit,
	})
	if err != nil {
		return "", fmt.Errorf("list changes: %w", err)
	}
	return Render(changes, days, now), nil
}

// Render formats changes, which must already be ordered newest first.
func Render(changes []monitor.ChangeEvent, days int, generated time.Time) string {
	if len(changes) == 0 {
		return fmt.Sprintf("No changes detected in the last %d days.", days)
	}

	var order []string
	groups := make(map[string][]monitor.ChangeEvent)
	for _, c := range changes {
		if _, ok := groups[c.CompetitorName]; !ok {
			order = append(order, c.CompetitorName)
		}
		groups[c.CompetitorName] = append(groups[c.CompetitorName], c)
	}

	rule := strings.Repeat("=", ruleWidth)
	lines := []string{
		"COMPETITOR INTELLIGENCE REPORT",
		"Generated: " + generated.Format(timeLayout),
		fmt.Sprintf("Period: Last %d days", days),
		rule,
		"",
	}
	for _, name := range order {
		lines = append(lines, name, strings.Repeat("-", utf8.RuneCountInString(name)))
		for _, c := range groups[name] {
			lines = append(lines,
				fmt.Sprintf("  [%s] %s", strings.ToUpper(string(c.PageType)), c.Description),
				"  URL: "+c.PageURL,
				"  When: "+c.DetectedAt.UTC().Format(timeLayout),
				"",
			)
		}
		lines = append(lines, "")
	}
	lines = append(lines, rule, fmt.Sprintf("Total: %d changes", len(changes)))
	return strings.Join(lines, "\n")
}
