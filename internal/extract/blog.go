package extract

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/rivalwatch/internal/normalize"
	"github.com/JakeFAU/rivalwatch/internal/record"
)

var blogSelectors = []string{
	"article",
	".post",
	".blog-post",
	".blog-item",
	".entry",
	"[class*=post]",
	"[class*=article]",
	"[class*=entry]",
}

const (
	maxPostTitleRunes      = 200
	maxPostDateRunes       = 20
	minFallbackHeadingRune = 10
)

func (e *Extractor) blog(doc *normalize.Document) record.Blog {
	root := doc.Selection()
	seen := make(map[string]bool)
	posts := []record.Post{}

	for _, selector := range blogSelectors {
		if len(posts) >= e.cfg.MaxPosts {
			break
		}
		matches := root.Find(selector)
		if matches.Length() > e.cfg.MaxPostsPerSelector {
			matches = matches.Slice(0, e.cfg.MaxPostsPerSelector)
		}
		matches.EachWithBreak(func(_ int, el *goquery.Selection) bool {
			post, ok := parsePost(doc, el)
			if ok && !seen[post.Title] {
				seen[post.Title] = true
				posts = append(posts, post)
			}
			return len(posts) < e.cfg.MaxPosts
		})
	}
	if len(posts) > 0 {
		return record.Blog{Posts: posts}
	}

	headings := root.Find("h2, h3")
	if headings.Length() > e.cfg.MaxFallbackHeadings {
		headings = headings.Slice(0, e.cfg.MaxFallbackHeadings)
	}
	headings.Each(func(_ int, h *goquery.Selection) {
		title := textOf(h)
		n := runeLen(title)
		if n <= minFallbackHeadingRune || n >= maxPostTitleRunes || seen[title] {
			return
		}
		seen[title] = true
		posts = append(posts, record.Post{Title: title})
	})
	return record.Blog{Posts: posts}
}

func parsePost(doc *normalize.Document, el *goquery.Selection) (record.Post, bool) {
	var heading *goquery.Selection
	el.Find("h1, h2, h3, h4").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if textOf(h) != "" {
			heading = h
			return false
		}
		return true
	})
	if heading == nil {
		return record.Post{}, false
	}
	title := textOf(heading)
	if runeLen(title) > maxPostTitleRunes {
		return record.Post{}, false
	}

	href, ok := heading.Find("a[href]").First().Attr("href")
	if !ok {
		href, ok = heading.Closest("a[href]").Attr("href")
	}
	if !ok {
		href, _ = el.Find("a[href]").First().Attr("href")
	}

	return record.Post{
		Title: title,
		Date:  truncateRunes(postDate(el), maxPostDateRunes),
		URL:   doc.Resolve(href),
	}, true
}

func postDate(el *goquery.Selection) string {
	t := el.Find("time").First()
	if dt, ok := t.Attr("datetime"); ok && dt != "" {
		return normalize.Clean(dt)
	}
	if text := textOf(t); text != "" {
		return text
	}
	return textOf(el.Find("[class*=date]").First())
}
