// Package normalize strips presentation noise from fetched HTML and scopes it to the
// region a target cares about.
package normalize

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// noiseSelector lists markup removed before any extraction.
const noiseSelector = "script, style, nav, footer, header, noscript, svg, iframe, form, aside, template, cookie-banner"

// Document is a cleaned, optionally scoped HTML tree.
type Document struct {
	doc    *goquery.Document
	root   *goquery.Selection
	scoped bool

	// BaseURL resolves relative links found in the document. May be nil.
	BaseURL *url.URL
}

// Normalize parses body, removes noise elements, and when selector matches at least one
// element rebuilds the document as a synthetic <div> holding copies of the matches.
// Malformed markup never fails. A selector that matches nothing, including an
// unparseable one, keeps the whole cleaned document.
func Normalize(body []byte, selector string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc.Find(noiseSelector).Remove()

	d := &Document{doc: doc, root: doc.Selection}
	selector = strings.TrimSpace(selector)
	if selector == "" {
		return d, nil
	}

	matches := outermost(doc.Find(selector))
	if matches.Length() == 0 {
		return d, nil
	}

	scoped, err := goquery.NewDocumentFromReader(strings.NewReader("<div></div>"))
	if err != nil {
		return nil, fmt.Errorf("build scope: %w", err)
	}
	wrapper := scoped.Find("div").First()
	wrapper.AppendSelection(matches.Clone())
	d.doc = scoped
	d.root = wrapper
	d.scoped = true
	return d, nil
}

// Selection returns the root all extraction runs against.
func (d *Document) Selection() *goquery.Selection {
	return d.root
}

// Scoped reports whether a selector narrowed the document.
func (d *Document) Scoped() bool {
	return d.scoped
}

// Text returns the canonical text view: one line per text node, whitespace collapsed,
// blank lines dropped.
func (d *Document) Text() string {
	return strings.Join(Lines(d.root), "\n")
}

// Resolve turns href into an absolute URL when a base is known.
func (d *Document) Resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || d.BaseURL == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return d.BaseURL.ResolveReference(ref).String()
}

// Lines returns the trimmed, whitespace-collapsed text nodes under sel in document order.
func Lines(sel *goquery.Selection) []string {
	var lines []string
	for _, n := range sel.Nodes {
		collectText(n, &lines)
	}
	return lines
}

// Clean collapses runs of whitespace and trims the result.
func Clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func collectText(n *html.Node, lines *[]string) {
	if n.Type == html.TextNode {
		if line := Clean(n.Data); line != "" {
			*lines = append(*lines, line)
		}
		return
	}
	if n.Type == html.CommentNode {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, lines)
	}
}

// outermost drops matches nested inside another match so content is not duplicated.
func outermost(sel *goquery.Selection) *goquery.Selection {
	return sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
		for p := s.Nodes[0].Parent; p != nil; p = p.Parent {
			for _, m := range sel.Nodes {
				if m == p {
					return false
				}
			}
		}
		return true
	})
}
