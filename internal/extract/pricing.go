package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/rivalwatch/internal/normalize"
	"github.com/JakeFAU/rivalwatch/internal/record"
)

// PlanStrategy is one tier of the pricing extraction chain. Extract returns nil when the
// tier finds nothing so the next tier runs.
type PlanStrategy struct {
	Name    string
	Extract func(root *goquery.Selection) []record.Plan
}

// DefaultPlanStrategies returns the pricing chain in priority order: tables, cards,
// then visual columns.
func DefaultPlanStrategies() []PlanStrategy {
	return []PlanStrategy{
		{Name: "table", Extract: tablePlans},
		{Name: "cards", Extract: cardPlans},
		{Name: "columns", Extract: func(root *goquery.Selection) []record.Plan {
			plans, _ := columnPlans(root)
			return plans
		}},
	}
}

var (
	planHeaderWords  = []string{"plan", "tier", "package", "bundle", "name", "title"}
	priceHeaderWords = []string{"price", "cost", "amount", "fee", "billed", "mo", "yr"}
	headerOnlyNames  = map[string]bool{"price": true, "pricing": true, "cost": true, "plan": true, "plans": true}

	cardClassRe   = regexp.MustCompile(`(?i)pric|plan|package|tier`)
	priceClassRe  = regexp.MustCompile(`(?i)price|amount|cost`)
	featureLineRe = regexp.MustCompile(`(?i)^(?:[✓✔+•]|include)`)
	nameStartRe   = regexp.MustCompile(`^\p{L}`)
)

const (
	maxPlanNameRunes     = 60
	maxFallbackNameRunes = 40
	maxPlanFeatureRunes  = 150
)

func tablePlans(root *goquery.Selection) []record.Plan {
	var plans []record.Plan
	root.Find("table").Each(func(_ int, table *goquery.Selection) {
		plans = append(plans, parseTable(table)...)
	})
	return plans
}

func parseTable(table *goquery.Selection) []record.Plan {
	rows := table.Find("tr")
	if rows.Length() == 0 {
		return nil
	}
	planIdx, priceIdx := -1, -1
	skipRow := -1

	header := rows.FilterFunction(func(_ int, row *goquery.Selection) bool {
		return row.ChildrenFiltered("th").Length() > 0 && row.ChildrenFiltered("td").Length() == 0
	}).First()
	planIdx, priceIdx = classifyColumns(cellTexts(header))

	if planIdx == -1 {
		probePlan, probePrice := classifyColumns(cellTexts(rows.First()))
		if probePlan != -1 {
			planIdx = probePlan
			if priceIdx == -1 {
				priceIdx = probePrice
			}
			skipRow = 0
		}
	}

	var plans []record.Plan
	rows.Each(func(i int, row *goquery.Selection) {
		if i == skipRow || row.ChildrenFiltered("td").Length() == 0 {
			return
		}
		cells := cellTexts(row)
		name, priceText := cellAt(cells, planIdx), cellAt(cells, priceIdx)
		for j, text := range cells {
			if j == planIdx || j == priceIdx || text == "" {
				continue
			}
			switch {
			case priceText == "" && isValidPrice(text):
				priceText = text
			case name == "" && runeLen(text) > 2 && runeLen(text) < 50 && !isValidPrice(text):
				name = text
			}
		}
		if name == "" || priceText == "" || headerOnlyNames[strings.ToLower(name)] {
			return
		}
		price := priceText
		if p, ok := priceFrom(priceText); ok {
			price = p
		}
		billing := billingPeriod(priceText)
		if billing == "" {
			billing = billingPeriod(strings.Join(cells, " "))
		}
		plans = append(plans, record.Plan{Name: name, Price: price, Billing: billing, Features: []string{}})
	})
	return plans
}

// classifyColumns fuzzy-matches header labels to the plan and price columns.
func classifyColumns(labels []string) (planIdx, priceIdx int) {
	planIdx, priceIdx = -1, -1
	for i, label := range labels {
		lower := strings.ToLower(label)
		switch {
		case planIdx == -1 && containsAny(lower, planHeaderWords):
			planIdx = i
		case priceIdx == -1 && containsAny(lower, priceHeaderWords):
			priceIdx = i
		}
	}
	return planIdx, priceIdx
}

func cellTexts(row *goquery.Selection) []string {
	cells := row.ChildrenFiltered("td, th")
	out := make([]string, 0, cells.Length())
	cells.Each(func(_ int, cell *goquery.Selection) {
		out = append(out, textOf(cell))
	})
	return out
}

func cellAt(cells []string, idx int) string {
	if idx < 0 || idx >= len(cells) {
		return ""
	}
	return cells[idx]
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

type planCandidate struct {
	node *html.Node
	plan record.Plan
}

func cardPlans(root *goquery.Selection) []record.Plan {
	var candidates []planCandidate
	root.Find("div, article, section, li").Each(func(_ int, card *goquery.Selection) {
		if !classMatches(card, cardClassRe) {
			return
		}
		nestedCards := card.ChildrenFiltered("div, article, section, li").FilterFunction(func(_ int, child *goquery.Selection) bool {
			if !classMatches(child, cardClassRe) {
				return false
			}
			inner := parsePlanCard(child)
			return inner.Name != "" && isValidPrice(inner.Price)
		})
		if nestedCards.Length() >= 2 {
			return
		}
		plan := parsePlanCard(card)
		if plan.Name == "" || (plan.Price == "" && len(plan.Features) == 0) {
			return
		}
		// Fragments such as a features list carry neither a heading nor a price.
		if plan.Price == "" && planHeading(card) == "" {
			return
		}
		candidates = append(candidates, planCandidate{node: card.Nodes[0], plan: plan})
	})

	candidates = dropNested(candidates,
		func(c planCandidate) *html.Node { return c.node },
		func(c planCandidate) string { return c.plan.Name },
	)
	if len(candidates) == 0 {
		return nil
	}
	plans := make([]record.Plan, len(candidates))
	for i, c := range candidates {
		plans[i] = c.plan
	}
	return plans
}

func planHeading(card *goquery.Selection) string {
	return firstText(card, "h1, h2, h3, h4, strong, b", func(text string) bool {
		return runeLen(text) < maxPlanNameRunes && !looksLikePrice(text)
	})
}

// parsePlanCard reads name, price, billing period and feature bullets from one card.
func parsePlanCard(card *goquery.Selection) record.Plan {
	lines := normalize.Lines(card)

	name := planHeading(card)
	if name == "" {
		for _, line := range lines {
			if runeLen(line) < maxFallbackNameRunes && nameStartRe.MatchString(line) &&
				!looksLikePrice(line) && !isValidPrice(line) && !featureLineRe.MatchString(line) {
				name = line
				break
			}
		}
	}

	price := ""
	card.Find("*").EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if !classMatches(el, priceClassRe) {
			return true
		}
		if p, ok := priceFrom(textOf(el)); ok {
			price = p
			return false
		}
		return true
	})
	if price == "" {
		price = firstAmount(lines)
	}

	features := []string{}
	card.Find("li").Each(func(_ int, li *goquery.Selection) {
		text := textOf(li)
		if text != "" && runeLen(text) < maxPlanFeatureRunes {
			features = append(features, text)
		}
	})
	if len(features) == 0 {
		for _, line := range lines {
			if featureLineRe.MatchString(line) && runeLen(line) < maxPlanFeatureRunes {
				features = append(features, line)
			}
		}
	}

	return record.Plan{
		Name:     name,
		Price:    price,
		Billing:  billingPeriod(strings.Join(lines, " ")),
		Features: features,
	}
}

// firstAmount prefers a currency amount on any line over the word "free".
func firstAmount(lines []string) string {
	for _, line := range lines {
		if m := amountRe.FindString(line); m != "" {
			return strings.Join(strings.Fields(m), "")
		}
	}
	for _, line := range lines {
		if freeRe.MatchString(line) {
			return "Free"
		}
	}
	return ""
}

// columnPlans finds a repeating grid of price-bearing blocks when the markup carries no
// helpful class names. It also reports which probe level produced the grid: 1 for the
// children of the densest parent, 2 for the children of its parent, 0 when none.
func columnPlans(root *goquery.Selection) ([]record.Plan, int) {
	if root.Length() == 0 {
		return nil, 0
	}
	top := root.Nodes[0]

	var order []*html.Node
	groups := make(map[*html.Node][]*html.Node)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode && visualPriceRe.MatchString(n.Data) {
			block := nearestBlock(n, top)
			if block != nil && block != top && block.Parent != nil {
				parent := block.Parent
				if _, seen := groups[parent]; !seen {
					order = append(order, parent)
				}
				if !containsNode(groups[parent], block) {
					groups[parent] = append(groups[parent], block)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(top)

	var winner *html.Node
	for _, parent := range order {
		if winner == nil || len(groups[parent]) > len(groups[winner]) {
			winner = parent
		}
	}
	if winner == nil {
		return nil, 0
	}

	level := 1
	columns := priceBlocks(winner)
	if len(columns) < 2 {
		if winner == top || winner.Parent == nil {
			return nil, 0
		}
		level = 2
		columns = priceBlocks(winner.Parent)
		if len(columns) < 2 {
			return nil, 0
		}
	}

	var plans []record.Plan
	for _, col := range columns {
		plan := parsePlanCard(goquery.NewDocumentFromNode(col).Selection)
		if plan.Name != "" && isValidPrice(plan.Price) {
			plans = append(plans, plan)
		}
	}
	if len(plans) == 0 {
		return nil, level
	}
	return plans, level
}

func nearestBlock(n, stop *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && isBlockTag(p.Data) {
			return p
		}
		if p == stop {
			return nil
		}
	}
	return nil
}

func isBlockTag(tag string) bool {
	switch tag {
	case "div", "section", "li", "article":
		return true
	default:
		return false
	}
}

// priceBlocks returns the direct block-level children of n whose text carries a price.
func priceBlocks(n *html.Node) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || !isBlockTag(c.Data) {
			continue
		}
		if visualPriceRe.MatchString(textOf(goquery.NewDocumentFromNode(c).Selection)) {
			out = append(out, c)
		}
	}
	return out
}

func containsNode(nodes []*html.Node, n *html.Node) bool {
	for _, candidate := range nodes {
		if candidate == n {
			return true
		}
	}
	return false
}

func dedupPlans(plans []record.Plan) []record.Plan {
	seen := make(map[[2]string]bool, len(plans))
	out := make([]record.Plan, 0, len(plans))
	for _, plan := range plans {
		key := [2]string{plan.Name, plan.Price}
		if seen[key] {
			continue
		}
		seen[key] = true
		if plan.Features == nil {
			plan.Features = []string{}
		}
		out = append(out, plan)
	}
	return out
}

// detectCurrency returns the first currency symbol found in a plan price.
func detectCurrency(plans []record.Plan) string {
	for _, plan := range plans {
		if sym := currencySymbolRe.FindString(plan.Price); sym != "" {
			return sym
		}
	}
	return ""
}

// detectBillingNote returns the first text node mentioning a billing cadence.
func detectBillingNote(root *goquery.Selection) string {
	for _, line := range normalize.Lines(root) {
		if billingNoteRe.MatchString(line) {
			return truncateRunes(line, 120)
		}
	}
	return ""
}
