package extract

import (
	"regexp"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/rivalwatch/internal/record"
)

// FeatureStrategy is one tier of the feature extraction chain.
type FeatureStrategy struct {
	Name    string
	Extract func(root *goquery.Selection) []record.Feature
}

// DefaultFeatureStrategies returns class-named blocks, then definition lists, then
// section headings.
func DefaultFeatureStrategies(maxDescRunes int) []FeatureStrategy {
	return []FeatureStrategy{
		{Name: "blocks", Extract: func(root *goquery.Selection) []record.Feature { return blockFeatures(root, maxDescRunes) }},
		{Name: "definitions", Extract: func(root *goquery.Selection) []record.Feature { return definitionFeatures(root, maxDescRunes) }},
		{Name: "sections", Extract: func(root *goquery.Selection) []record.Feature { return sectionFeatures(root, maxDescRunes) }},
	}
}

var featureClassRe = regexp.MustCompile(`(?i)feature|benefit|capability|service.*(?:item|card)|product.*card`)

const maxFeatureNameRunes = 100

type featureCandidate struct {
	node    *html.Node
	feature record.Feature
}

func blockFeatures(root *goquery.Selection, maxDescRunes int) []record.Feature {
	var candidates []featureCandidate
	root.Find("div, li, article, section").Each(func(_ int, block *goquery.Selection) {
		if !classMatches(block, featureClassRe) {
			return
		}
		name := textOf(block.Find("h2, h3, h4, strong, b").First())
		if name == "" || runeLen(name) >= maxFeatureNameRunes {
			return
		}
		desc := truncateRunes(textOf(block.Find("p").First()), maxDescRunes)
		candidates = append(candidates, featureCandidate{
			node:    block.Nodes[0],
			feature: record.Feature{Name: name, Description: desc},
		})
	})
	candidates = dropNested(candidates,
		func(c featureCandidate) *html.Node { return c.node },
		func(c featureCandidate) string { return c.feature.Name },
	)
	out := make([]record.Feature, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.feature)
	}
	return out
}

func definitionFeatures(root *goquery.Selection, maxDescRunes int) []record.Feature {
	var out []record.Feature
	root.Find("dl dt").Each(func(_ int, dt *goquery.Selection) {
		name := textOf(dt)
		if name == "" || runeLen(name) >= maxFeatureNameRunes {
			return
		}
		desc := truncateRunes(textOf(dt.NextFiltered("dd")), maxDescRunes)
		out = append(out, record.Feature{Name: name, Description: desc})
	})
	return out
}

func sectionFeatures(root *goquery.Selection, maxDescRunes int) []record.Feature {
	var out []record.Feature
	root.Find("section h3").Each(func(_ int, h3 *goquery.Selection) {
		name := textOf(h3)
		if name == "" || runeLen(name) >= maxFeatureNameRunes {
			return
		}
		desc := textOf(h3.NextAllFiltered("p").First())
		if desc == "" {
			return
		}
		out = append(out, record.Feature{Name: name, Description: truncateRunes(desc, maxDescRunes)})
	})
	return out
}

func dedupFeatures(features []record.Feature) []record.Feature {
	seen := make(map[string]bool, len(features))
	out := make([]record.Feature, 0, len(features))
	for _, f := range features {
		if seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		out = append(out, f)
	}
	return out
}
