package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/rivalwatch/internal/normalize"
)

var (
	currencySymbolRe = regexp.MustCompile(`[$€£¥]`)
	currencyMarkerRe = regexp.MustCompile(`(?i)[$€£¥]|\busd\b|\beur\b`)
	digitRe          = regexp.MustCompile(`\d`)
	freeRe           = regexp.MustCompile(`(?i)\bfree\b`)
	amountRe         = regexp.MustCompile(`[$€£¥]\s*[\d,]+(?:\.\d{2})?`)
	visualPriceRe    = regexp.MustCompile(`(?i)[$€£¥]\s*\d+|\bfree\b`)
	priceLikeRe      = regexp.MustCompile(`(?i)[$€£¥]\s*\d|\d+\s*/\s*(?:mo|month|yr|year)\b`)
	billingRe        = regexp.MustCompile(`(?i)per\s*(month|year|mo|yr|user|seat)\b|/\s*(month|year|mo|yr)\b`)
	billingNoteRe    = regexp.MustCompile(`(?i)billed?\s*(annually|monthly|yearly)`)
)

// isValidPrice reports whether text reads as a price: the word "free", or a digit
// alongside a currency marker.
func isValidPrice(text string) bool {
	if freeRe.MatchString(text) {
		return true
	}
	return digitRe.MatchString(text) && currencyMarkerRe.MatchString(text)
}

// looksLikePrice is the looser test used to keep prices out of plan names.
func looksLikePrice(text string) bool {
	return priceLikeRe.MatchString(strings.TrimSpace(text))
}

// priceFrom pulls the amount out of text, normalizing the free tier to "Free".
func priceFrom(text string) (string, bool) {
	if m := amountRe.FindString(text); m != "" {
		return strings.Join(strings.Fields(m), ""), true
	}
	if freeRe.MatchString(text) {
		return "Free", true
	}
	return "", false
}

// billingPeriod maps "per month", "/mo" and friends onto monthly, yearly, user or seat.
func billingPeriod(text string) string {
	m := billingRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	unit := strings.ToLower(m[1] + m[2])
	switch unit {
	case "month", "mo":
		return "monthly"
	case "year", "yr":
		return "yearly"
	default:
		return unit
	}
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// textOf returns the whitespace-collapsed text of a selection.
func textOf(sel *goquery.Selection) string {
	return normalize.Clean(sel.Text())
}

// firstText returns the first non-empty text among the matches of selector inside sel
// that satisfies accept.
func firstText(sel *goquery.Selection, selector string, accept func(string) bool) string {
	var out string
	sel.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := textOf(s)
		if text == "" || (accept != nil && !accept(text)) {
			return true
		}
		out = text
		return false
	})
	return out
}

func classMatches(sel *goquery.Selection, re *regexp.Regexp) bool {
	class, ok := sel.Attr("class")
	return ok && re.MatchString(class)
}
