// Package detector decides when a fetched page must be re-rendered in a headless browser.
package detector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/rivalwatch/internal/monitor"
)

// Config tunes the heuristic.
type Config struct {
	// BodyLengthThreshold marks bodies below this size as candidates when scripts dominate.
	BodyLengthThreshold int
	// MinTextChars is the visible text below which an SPA shell is assumed.
	MinTextChars int
	// Keywords promote a page when any appears in the body (case-insensitive).
	Keywords []string
	// RequiredSelectors promote a page when any of them matches nothing.
	RequiredSelectors []string
}

// Heuristic implements rule-based promotion.
type Heuristic struct {
	bodyLengthThreshold int
	minTextChars        int
	keywords            [][]byte
	selectors           []string
}

// NewHeuristic creates a new detector.
func NewHeuristic(cfg Config) *Heuristic {
	if cfg.BodyLengthThreshold <= 0 {
		cfg.BodyLengthThreshold = 2048
	}
	if cfg.MinTextChars <= 0 {
		cfg.MinTextChars = 200
	}
	keywords := make([][]byte, 0, len(cfg.Keywords))
	for _, kw := range cfg.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		keywords = append(keywords, bytes.ToLower([]byte(kw)))
	}
	selectors := make([]string, 0, len(cfg.RequiredSelectors))
	for _, sel := range cfg.RequiredSelectors {
		if sel = strings.TrimSpace(sel); sel != "" {
			selectors = append(selectors, sel)
		}
	}
	return &Heuristic{
		bodyLengthThreshold: cfg.BodyLengthThreshold,
		minTextChars:        cfg.MinTextChars,
		keywords:            keywords,
		selectors:           selectors,
	}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("__nuxt"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(doc monitor.RawDocument) bool {
	if doc.StatusCode != 200 {
		return false
	}
	body := doc.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.bodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	if h.containsKeywords(body) {
		return true
	}

	parsed, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return true
	}
	if h.missingSelectors(parsed) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return visibleTextLen(parsed) < h.minTextChars
		}
	}
	return false
}

func (h *Heuristic) containsKeywords(body []byte) bool {
	if len(h.keywords) == 0 {
		return false
	}
	lowerBody := bytes.ToLower(body)
	for _, kw := range h.keywords {
		if bytes.Contains(lowerBody, kw) {
			return true
		}
	}
	return false
}

func (h *Heuristic) missingSelectors(doc *goquery.Document) bool {
	for _, sel := range h.selectors {
		if doc.Find(sel).Length() == 0 {
			return true
		}
	}
	return false
}

func visibleTextLen(doc *goquery.Document) int {
	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, template").Remove()
	return len(strings.Join(strings.Fields(body.Text()), " "))
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		next := total
		if relativeEnd != -1 {
			next = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += next - start
		searchPos = next
	}

	return scriptCoverage > 0 && scriptCoverage*100/total >= 25
}
