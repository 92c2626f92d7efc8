// Package targets loads and validates the competitor pages to monitor.
package targets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/rivalwatch/internal/monitor"
)

// ErrNoTargets is returned when a provider yields nothing to monitor.
var ErrNoTargets = errors.New("no targets configured")

// Page is one monitored URL in the competitors file.
type Page struct {
	URL      string `yaml:"url" mapstructure:"url"`
	Type     string `yaml:"type" mapstructure:"type"`
	Selector string `yaml:"selector,omitempty" mapstructure:"selector"`
}

// Competitor groups the pages tracked for one rival.
type Competitor struct {
	Name  string `yaml:"name" mapstructure:"name"`
	Pages []Page `yaml:"pages" mapstructure:"pages"`
}

// File is the on-disk layout of a targets file.
type File struct {
	Competitors []Competitor `yaml:"competitors"`
}

// Flatten expands competitors into page targets in file order. URLs are canonicalized when
// they parse; anything else is left for Validate to reject.
func Flatten(competitors []Competitor) []monitor.PageTarget {
	var out []monitor.PageTarget
	for _, c := range competitors {
		for _, p := range c.Pages {
			u := strings.TrimSpace(p.URL)
			if canon, err := CanonicalURL(u); err == nil {
				u = canon
			}
			out = append(out, monitor.PageTarget{
				CompetitorName: strings.TrimSpace(c.Name),
				URL:            u,
				PageType:       monitor.ParsePageType(p.Type),
				Selector:       strings.TrimSpace(p.Selector),
			})
		}
	}
	return out
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("cssselector", func(fl validator.FieldLevel) bool {
			_, err := cascadia.Compile(fl.Field().String())
			return err == nil
		})
	})
	return validate
}

// Validate checks every target and reports all failures together.
func Validate(targets []monitor.PageTarget) error {
	v := getValidator()
	var errs []error
	for i, t := range targets {
		if err := v.Struct(t); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				for _, fe := range verrs {
					errs = append(errs, fmt.Errorf("target %d (%s %s): field %s failed %q", i, t.CompetitorName, t.URL, fe.Field(), fe.Tag()))
				}
				continue
			}
			errs = append(errs, fmt.Errorf("target %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Static serves a fixed target list.
type Static struct {
	targets []monitor.PageTarget
}

// NewStatic validates and wraps targets.
func NewStatic(targets []monitor.PageTarget) (*Static, error) {
	if err := Validate(targets); err != nil {
		return nil, fmt.Errorf("validate targets: %w", err)
	}
	cp := make([]monitor.PageTarget, len(targets))
	copy(cp, targets)
	return &Static{targets: cp}, nil
}

// ListTargets returns a copy of the configured targets.
func (s *Static) ListTargets(context.Context) ([]monitor.PageTarget, error) {
	out := make([]monitor.PageTarget, len(s.targets))
	copy(out, s.targets)
	return out, nil
}

// FileProvider reads targets from a YAML file on every call so edits apply to the next run.
type FileProvider struct {
	path string
}

// NewFileProvider creates a provider for path after checking it parses.
func NewFileProvider(path string) (*FileProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("targets file path is required")
	}
	p := &FileProvider{path: path}
	if _, err := p.ListTargets(context.Background()); err != nil {
		return nil, err
	}
	return p, nil
}

// ListTargets parses and validates the file.
func (p *FileProvider) ListTargets(ctx context.Context) ([]monitor.PageTarget, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse targets file %s: %w", p.path, err)
	}
	out := Flatten(f.Competitors)
	if len(out) == 0 {
		return nil, ErrNoTargets
	}
	if err := Validate(out); err != nil {
		return nil, fmt.Errorf("validate targets file %s: %w", p.path, err)
	}
	return out, nil
}
