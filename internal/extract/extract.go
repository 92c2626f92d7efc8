// Package extract turns normalized documents into structured records: pricing plans,
// feature blurbs, blog posts, or plain text.
package extract

import (
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/rivalwatch/internal/monitor"
	"github.com/JakeFAU/rivalwatch/internal/normalize"
	"github.com/JakeFAU/rivalwatch/internal/record"
)

// Config bounds extractor output.
type Config struct {
	MaxTextRunes        int
	MaxDescriptionRunes int
	MaxPosts            int
	MaxPostsPerSelector int
	MaxFallbackHeadings int
}

// DefaultConfig returns the standard output bounds.
func DefaultConfig() Config {
	return Config{
		MaxTextRunes:        5000,
		MaxDescriptionRunes: 300,
		MaxPosts:            20,
		MaxPostsPerSelector: 20,
		MaxFallbackHeadings: 15,
	}
}

// Extractor dispatches on page type. It is safe for concurrent use.
type Extractor struct {
	cfg               Config
	planStrategies    []PlanStrategy
	featureStrategies []FeatureStrategy
	logger            *zap.Logger
}

// New builds an Extractor with the default strategy chains. Zero config fields take
// their defaults.
func New(cfg Config, logger *zap.Logger) *Extractor {
	def := DefaultConfig()
	if cfg.MaxTextRunes <= 0 {
		cfg.MaxTextRunes = def.MaxTextRunes
	}
	if cfg.MaxDescriptionRunes <= 0 {
		cfg.MaxDescriptionRunes = def.MaxDescriptionRunes
	}
	if cfg.MaxPosts <= 0 {
		cfg.MaxPosts = def.MaxPosts
	}
	if cfg.MaxPostsPerSelector <= 0 {
		cfg.MaxPostsPerSelector = def.MaxPostsPerSelector
	}
	if cfg.MaxFallbackHeadings <= 0 {
		cfg.MaxFallbackHeadings = def.MaxFallbackHeadings
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		cfg:               cfg,
		planStrategies:    DefaultPlanStrategies(),
		featureStrategies: DefaultFeatureStrategies(cfg.MaxDescriptionRunes),
		logger:            logger,
	}
}

// Extract returns the record for pageType. It never fails: unmatched or malformed input
// yields an empty record of the right type.
func (e *Extractor) Extract(pageType monitor.PageType, doc *normalize.Document) (rec record.Record) {
	if doc == nil {
		return record.Empty(pageType)
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("extractor panic recovered", zap.String("page_type", string(pageType)), zap.Any("panic", r))
			rec = record.Empty(pageType)
		}
	}()

	switch pageType {
	case monitor.PageTypePricing:
		return e.pricing(doc.Selection())
	case monitor.PageTypeFeatures:
		return e.features(doc.Selection())
	case monitor.PageTypeBlog:
		return e.blog(doc)
	default:
		return record.Generic{Text: truncateRunes(doc.Text(), e.cfg.MaxTextRunes)}
	}
}

func (e *Extractor) pricing(root *goquery.Selection) record.Pricing {
	var plans []record.Plan
	for _, strategy := range e.planStrategies {
		plans = strategy.Extract(root)
		if len(plans) > 0 {
			e.logger.Debug("pricing tier matched", zap.String("tier", strategy.Name), zap.Int("plans", len(plans)))
			break
		}
	}
	plans = dedupPlans(plans)
	return record.Pricing{
		Plans:       plans,
		Currency:    detectCurrency(plans),
		BillingNote: detectBillingNote(root),
	}
}

func (e *Extractor) features(root *goquery.Selection) record.Features {
	var features []record.Feature
	for _, strategy := range e.featureStrategies {
		features = strategy.Extract(root)
		if len(features) > 0 {
			e.logger.Debug("features tier matched", zap.String("tier", strategy.Name), zap.Int("features", len(features)))
			break
		}
	}
	return record.Features{Features: dedupFeatures(features)}
}
