// Package record defines the structured, page-type specific views extracted from competitor pages.
package record

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/rivalwatch/internal/monitor"
)

// Record is the extracted content of one page. The concrete cases are Pricing,
// Features, Blog and Generic.
type Record interface {
	PageType() monitor.PageType
	// Len is the number of extracted items (plans, features, posts, or 1 for non-empty text).
	Len() int
	canonical() Record
}

// Plan is a single pricing tier.
type Plan struct {
	Name     string   `json:"name"`
	Price    string   `json:"price"`
	Billing  string   `json:"billing,omitempty"`
	Features []string `json:"features"`
}

// Pricing is the record for pricing pages.
type Pricing struct {
	Plans       []Plan `json:"plans"`
	Currency    string `json:"currency,omitempty"`
	BillingNote string `json:"billing_note,omitempty"`
}

// Feature is a named product capability.
type Feature struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Features is the record for feature pages.
type Features struct {
	Features []Feature `json:"features"`
}

// Post is a blog or news entry.
type Post struct {
	Title string `json:"title"`
	Date  string `json:"date,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Blog is the record for blog and news pages.
type Blog struct {
	Posts []Post `json:"posts"`
}

// Generic holds the normalized text of pages without a dedicated extractor.
type Generic struct {
	Text string `json:"text"`
}

func (Pricing) PageType() monitor.PageType  { return monitor.PageTypePricing }
func (Features) PageType() monitor.PageType { return monitor.PageTypeFeatures }
func (Blog) PageType() monitor.PageType     { return monitor.PageTypeBlog }
func (Generic) PageType() monitor.PageType  { return monitor.PageTypeOther }

func (p Pricing) Len() int  { return len(p.Plans) }
func (f Features) Len() int { return len(f.Features) }
func (b Blog) Len() int     { return len(b.Posts) }

func (g Generic) Len() int {
	if g.Text == "" {
		return 0
	}
	return 1
}

func (p Pricing) canonical() Record {
	plans := make([]Plan, len(p.Plans))
	for i, plan := range p.Plans {
		if plan.Features == nil {
			plan.Features = []string{}
		}
		plans[i] = plan
	}
	p.Plans = plans
	return p
}

func (f Features) canonical() Record {
	if f.Features == nil {
		f.Features = []Feature{}
	}
	return f
}

func (b Blog) canonical() Record {
	if b.Posts == nil {
		b.Posts = []Post{}
	}
	return b
}

func (g Generic) canonical() Record { return g }

// Empty returns the zero record for a page type.
func Empty(pageType monitor.PageType) Record {
	switch pageType {
	case monitor.PageTypePricing:
		return Pricing{Plans: []Plan{}}
	case monitor.PageTypeFeatures:
		return Features{Features: []Feature{}}
	case monitor.PageTypeBlog:
		return Blog{Posts: []Post{}}
	default:
		return Generic{}
	}
}

// Envelope tags a record with its page type for serialization.
type Envelope struct {
	Type monitor.PageType `json:"type"`
	Data Record           `json:"data"`
}

// Wrap builds the serialization envelope with nil slices normalized to empty ones,
// so a record and its decoded copy serialize identically.
func Wrap(r Record) Envelope {
	return Envelope{Type: r.PageType(), Data: r.canonical()}
}

// Decode parses a serialized envelope back into its concrete record.
func Decode(data []byte) (Record, error) {
	var raw struct {
		Type monitor.PageType `json:"type"`
		Data json.RawMessage  `json:"data"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if len(raw.Data) == 0 {
		return nil, errors.New("decode envelope: missing data")
	}

	var (
		rec Record
		err error
	)
	switch raw.Type {
	case monitor.PageTypePricing:
		var p Pricing
		err = json.Unmarshal(raw.Data, &p)
		rec = p
	case monitor.PageTypeFeatures:
		var f Features
		err = json.Unmarshal(raw.Data, &f)
		rec = f
	case monitor.PageTypeBlog:
		var b Blog
		err = json.Unmarshal(raw.Data, &b)
		rec = b
	case monitor.PageTypeOther:
		var g Generic
		err = json.Unmarshal(raw.Data, &g)
		rec = g
	default:
		return nil, fmt.Errorf("decode envelope: unknown record type %q", raw.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s record: %w", raw.Type, err)
	}
	return rec.canonical(), nil
}
