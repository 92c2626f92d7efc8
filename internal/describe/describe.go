// Package describe renders plain-language summaries of differences between two records.
package describe

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/rivalwatch/internal/record"
)

// GenericUpdate is emitted when no structured difference can be named.
const GenericUpdate = "Content updated on this page"

const (
	separator       = " | "
	ellipsis        = "..."
	maxFeatureRunes = 80
)

// Config caps the number of statements per category and the summary length.
type Config struct {
	MaxItems              int
	MaxPlanFeatureChanges int
	MaxDescriptionChars   int
}

// DefaultConfig returns the standard caps.
func DefaultConfig() Config {
	return Config{
		MaxItems:              5,
		MaxPlanFeatureChanges: 3,
		MaxDescriptionChars:   500,
	}
}

// Describer compares records. It holds no mutable state.
type Describer struct {
	cfg Config
}

// New returns a Describer. Zero config fields take their defaults.
func New(cfg Config) *Describer {
	def := DefaultConfig()
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = def.MaxItems
	}
	if cfg.MaxPlanFeatureChanges <= 0 {
		cfg.MaxPlanFeatureChanges = def.MaxPlanFeatureChanges
	}
	if cfg.MaxDescriptionChars <= len(ellipsis) {
		cfg.MaxDescriptionChars = def.MaxDescriptionChars
	}
	return &Describer{cfg: cfg}
}

// Describe lists the differences from old to new in a stable order. It always returns at
// least one statement.
func (d *Describer) Describe(old, new record.Record) []string {
	var out []string
	switch n := new.(type) {
	case record.Pricing:
		if o, ok := old.(record.Pricing); ok {
			out = d.pricing(o, n)
		}
	case record.Features:
		if o, ok := old.(record.Features); ok {
			out = d.features(o, n)
		}
	case record.Blog:
		if o, ok := old.(record.Blog); ok {
			out = d.blog(o, n)
		}
	}
	if len(out) == 0 {
		return []string{GenericUpdate}
	}
	return out
}

// Summarize joins statements and bounds the result to the configured length.
func (d *Describer) Summarize(statements []string) string {
	joined := strings.Join(statements, separator)
	limit := d.cfg.MaxDescriptionChars
	if utf8.RuneCountInString(joined) <= limit {
		return joined
	}
	return string([]rune(joined)[:limit-len(ellipsis)]) + ellipsis
}

// Summary is Describe followed by Summarize.
func (d *Describer) Summary(old, new record.Record) string {
	return d.Summarize(d.Describe(old, new))
}

func (d *Describer) pricing(old, new record.Pricing) []string {
	oldPlans := indexPlans(old.Plans)
	newPlans := indexPlans(new.Plans)

	var added, removed, changed []string
	repriced := 0
	for _, plan := range uniqueNamedPlans(new.Plans) {
		prev, ok := oldPlans[plan.Name]
		if !ok {
			price := plan.Price
			if price == "" {
				price = "unknown price"
			}
			added = append(added, fmt.Sprintf("New plan added: \"%s\" at %s", plan.Name, price))
			continue
		}
		if prev.Price != plan.Price && repriced < d.cfg.MaxItems {
			repriced++
			changed = append(changed, fmt.Sprintf("\"%s\" price changed from %s to %s", plan.Name, prev.Price, plan.Price))
		}
		changed = append(changed, d.planFeatureChanges(plan.Name, prev.Features, plan.Features)...)
	}
	for _, plan := range uniqueNamedPlans(old.Plans) {
		if _, ok := newPlans[plan.Name]; !ok {
			removed = append(removed, fmt.Sprintf("Plan removed: \"%s\"", plan.Name))
		}
	}

	out := capped(added, d.cfg.MaxItems)
	out = append(out, capped(removed, d.cfg.MaxItems)...)
	return append(out, changed...)
}

func (d *Describer) planFeatureChanges(name string, oldFeatures, newFeatures []string) []string {
	oldSet := toSet(oldFeatures)
	newSet := toSet(newFeatures)

	var added, removed []string
	for _, f := range uniqueStrings(newFeatures) {
		if !oldSet[f] {
			added = append(added, fmt.Sprintf("\"%s\" plan: added feature \"%s\"", name, truncate(f, maxFeatureRunes)))
		}
	}
	for _, f := range uniqueStrings(oldFeatures) {
		if !newSet[f] {
			removed = append(removed, fmt.Sprintf("\"%s\" plan: removed feature \"%s\"", name, truncate(f, maxFeatureRunes)))
		}
	}
	out := capped(added, d.cfg.MaxPlanFeatureChanges)
	return append(out, capped(removed, d.cfg.MaxPlanFeatureChanges)...)
}

func (d *Describer) features(old, new record.Features) []string {
	oldNames := featureNames(old.Features)
	newNames := featureNames(new.Features)

	var added, removed []string
	for _, name := range newNames {
		if !contains(oldNames, name) {
			added = append(added, fmt.Sprintf("New feature announced: \"%s\"", name))
		}
	}
	for _, name := range oldNames {
		if !contains(newNames, name) {
			removed = append(removed, fmt.Sprintf("Feature removed from page: \"%s\"", name))
		}
	}
	out := capped(added, d.cfg.MaxItems)
	return append(out, capped(removed, d.cfg.MaxItems)...)
}

func (d *Describer) blog(old, new record.Blog) []string {
	seen := make(map[string]bool, len(old.Posts))
	for _, p := range old.Posts {
		seen[p.Title] = true
	}
	var added []string
	for _, p := range new.Posts {
		if p.Title == "" || seen[p.Title] {
			continue
		}
		seen[p.Title] = true
		added = append(added, fmt.Sprintf("New blog post published: \"%s\"", p.Title))
	}
	return capped(added, d.cfg.MaxItems)
}

// indexPlans maps plan names to the first plan carrying them. Unnamed plans are ignored.
func indexPlans(plans []record.Plan) map[string]record.Plan {
	out := make(map[string]record.Plan, len(plans))
	for _, p := range plans {
		if p.Name == "" {
			continue
		}
		if _, ok := out[p.Name]; !ok {
			out[p.Name] = p
		}
	}
	return out
}

func uniqueNamedPlans(plans []record.Plan) []record.Plan {
	seen := make(map[string]bool, len(plans))
	out := make([]record.Plan, 0, len(plans))
	for _, p := range plans {
		if p.Name == "" || seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		out = append(out, p)
	}
	return out
}

func featureNames(features []record.Feature) []string {
	names := make([]string, 0, len(features))
	for _, f := range features {
		if f.Name != "" {
			names = append(names, f.Name)
		}
	}
	return uniqueStrings(names)
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func toSet(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, s := range in {
		out[s] = true
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func capped(items []string, limit int) []string {
	if len(items) > limit {
		return items[:limit]
	}
	return items
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
