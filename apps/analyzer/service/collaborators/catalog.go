package collaborators

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/antinvestor/requirements/apps/analyzer/service/analysis"
	"github.com/antinvestor/requirements/internal/events"
)

// CatalogEntity is a domain entity and the terms that refer to it.
type CatalogEntity struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Synonyms    []string `yaml:"synonyms"`
}

// CatalogRule is a business rule attached to an entity or triggered by
// keywords.
type CatalogRule struct {
	ID               string             `yaml:"id"`
	Name             string             `yaml:"name"`
	Description      string             `yaml:"description"`
	Entity           string             `yaml:"entity"`
	Keywords         []string           `yaml:"keywords"`
	Category         events.GapCategory `yaml:"category"`
	Criterion        string             `yaml:"criterion"`
	SuggestedAnswers []string           `yaml:"suggested_answers"`
}

// Catalog is a file-based domain model used when no domain service is
// deployed.
type Catalog struct {
	Entities []CatalogEntity `yaml:"entities"`
	Rules    []CatalogRule   `yaml:"rules"`
}

// CatalogValidator implements analysis.DomainValidator from a Catalog.
type CatalogValidator struct {
	catalog *Catalog
	terms   map[string]string
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (*CatalogValidator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read domain catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte) (*CatalogValidator, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("parse domain catalog: %w", err)
	}

	terms := make(map[string]string)
	for _, entity := range catalog.Entities {
		if strings.TrimSpace(entity.Name) == "" {
			return nil, errors.New("domain catalog entity without a name")
		}
		for _, term := range append([]string{entity.Name}, entity.Synonyms...) {
			terms[catalogKey(term)] = entity.Name
		}
	}
	for i, rule := range catalog.Rules {
		if rule.ID == "" || rule.Name == "" {
			return nil, fmt.Errorf("domain catalog rule %d needs an id and a name", i)
		}
		if rule.Category != "" && !slices.Contains(events.GapCategories, rule.Category) {
			return nil, fmt.Errorf("domain catalog rule %s: unknown category %q", rule.ID, rule.Category)
		}
	}

	return &CatalogValidator{catalog: &catalog, terms: terms}, nil
}

// Validate implements analysis.DomainValidator.
func (v *CatalogValidator) Validate(
	ctx context.Context,
	req *analysis.DomainValidationRequest,
) (*events.DomainValidation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &events.DomainValidation{
		Status:          events.DomainValidated,
		EntityMappings:  []events.EntityMapping{},
		ApplicableRules: []events.DomainRule{},
		Warnings:        []string{},
	}

	mapped := make(map[string]bool)
	for _, term := range req.Terms {
		key := catalogKey(term)
		entity, ok := v.terms[key]
		if !ok {
			continue
		}
		confidence := 0.9
		if key == catalogKey(entity) {
			confidence = 1.0
		}
		out.EntityMappings = append(out.EntityMappings, events.EntityMapping{
			Term:        term,
			Entity:      entity,
			Confidence:  confidence,
			Description: v.describe(entity),
		})
		mapped[entity] = true
	}

	haystack := " " + strings.ToLower(strings.Join(append(slices.Clone(req.Terms), req.WorkflowHint), " ")) + " "
	for _, rule := range v.catalog.Rules {
		if !mapped[rule.Entity] && !containsKeyword(haystack, rule.Keywords) {
			continue
		}
		out.ApplicableRules = append(out.ApplicableRules, events.DomainRule{
			ID:               rule.ID,
			Name:             rule.Name,
			Description:      rule.Description,
			Entity:           rule.Entity,
			Category:         rule.Category,
			Criterion:        rule.Criterion,
			SuggestedAnswers: slices.Clone(rule.SuggestedAnswers),
		})
	}

	out.Valid = len(out.EntityMappings) > 0
	if !out.Valid {
		out.Warnings = append(out.Warnings, "No requirement term maps to a catalog entity")
	}
	return out, nil
}

func (v *CatalogValidator) describe(entity string) string {
	for _, e := range v.catalog.Entities {
		if e.Name == entity {
			return e.Description
		}
	}
	return ""
}

func containsKeyword(haystack string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(haystack, " "+strings.ToLower(kw)+" ") {
			return true
		}
	}
	return false
}

// catalogKey folds case and a trailing plural "s".
func catalogKey(term string) string {
	key := strings.ToLower(strings.TrimSpace(term))
	if len(key) > 3 && strings.HasSuffix(key, "s") && !strings.HasSuffix(key, "ss") {
		key = strings.TrimSuffix(key, "s")
	}
	return key
}
