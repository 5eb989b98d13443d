package analysis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pitabwire/util"

	"github.com/antinvestor/requirements/internal/events"
)

const (
	defaultDomainTimeout = 3 * time.Second
	salienceThreshold    = 2
)

// DomainAdapter calls the domain collaborator under a timeout and circuit
// breaker and never fails the pipeline.
type DomainAdapter struct {
	validator DomainValidator
	breaker   *events.CircuitBreaker
	timeout   time.Duration
}

// NewDomainAdapter creates an adapter. A nil validator yields skipped results.
func NewDomainAdapter(validator DomainValidator, breaker *events.CircuitBreaker, timeout time.Duration) *DomainAdapter {
	if timeout <= 0 {
		timeout = defaultDomainTimeout
	}
	return &DomainAdapter{validator: validator, breaker: breaker, timeout: timeout}
}

// Skipped is the result when validation is disabled.
func Skipped(reason string) *events.DomainValidation {
	return &events.DomainValidation{
		Status:          events.DomainSkipped,
		EntityMappings:  []events.EntityMapping{},
		ApplicableRules: []events.DomainRule{},
		Warnings:        []string{reason},
	}
}

// Validate returns a merged validation. On collaborator failure it returns a
// degraded result together with an error wrapping
// ErrDomainValidationUnavailable.
func (a *DomainAdapter) Validate(
	ctx context.Context,
	requestID events.RequestID,
	doc *events.RequirementDocument,
	s events.ExtractedStructure,
) (*events.DomainValidation, error) {
	if a == nil || a.validator == nil {
		return Skipped("No domain validator configured"), nil
	}

	if a.breaker != nil && !a.breaker.AllowRequest() {
		return unavailable(events.ErrCircuitOpen), fmt.Errorf("%w: %w", ErrDomainValidationUnavailable, events.ErrCircuitOpen)
	}

	salient := salientTerms(doc.NormalizedText, salienceThreshold)
	req := &DomainValidationRequest{
		RequestID:    requestID,
		Terms:        domainTerms(s, salient),
		WorkflowHint: strings.TrimSpace(s.Action + " " + s.Object),
		SourceKind:   doc.SourceKind,
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp, err := a.call(callCtx, req)
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		if a.breaker != nil {
			a.breaker.RecordFailure()
		}
		util.Log(ctx).WithError(err).Warn("domain validation unavailable",
			"request_id", requestID.String(),
			"terms", len(req.Terms),
		)
		return unavailable(err), fmt.Errorf("%w: %w", ErrDomainValidationUnavailable, err)
	}
	if a.breaker != nil {
		a.breaker.RecordSuccess()
	}

	return merge(resp, salient), nil
}

type validateOutcome struct {
	resp *events.DomainValidation
	err  error
}

// call bounds the collaborator by ctx even when it ignores cancellation.
func (a *DomainAdapter) call(ctx context.Context, req *DomainValidationRequest) (*events.DomainValidation, error) {
	done := make(chan validateOutcome, 1)
	go func() {
		resp, err := a.validator.Validate(ctx, req)
		done <- validateOutcome{resp: resp, err: err}
	}()

	select {
	case out := <-done:
		return out.resp, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func unavailable(cause error) *events.DomainValidation {
	return &events.DomainValidation{
		Status:          events.DomainUnavailable,
		Valid:           false,
		EntityMappings:  []events.EntityMapping{},
		ApplicableRules: []events.DomainRule{},
		Warnings:        []string{"Domain validation unavailable: " + cause.Error()},
	}
}

// merge deduplicates mappings and rules and warns on salient unmapped terms.
func merge(resp *events.DomainValidation, salient map[string]int) *events.DomainValidation {
	out := &events.DomainValidation{
		Status:          events.DomainValidated,
		Valid:           resp.Valid,
		EntityMappings:  []events.EntityMapping{},
		ApplicableRules: []events.DomainRule{},
		Warnings:        append([]string{}, resp.Warnings...),
	}

	seenTerms := make(map[string]bool)
	for _, m := range resp.EntityMappings {
		key := strings.ToLower(m.Term)
		if key == "" || seenTerms[key] {
			continue
		}
		seenTerms[key] = true
		out.EntityMappings = append(out.EntityMappings, m)
	}

	seenRules := make(map[string]bool)
	for _, r := range resp.ApplicableRules {
		key := r.ID
		if key == "" {
			key = r.Name
		}
		if seenRules[key] {
			continue
		}
		seenRules[key] = true
		out.ApplicableRules = append(out.ApplicableRules, r)
	}

	terms := make([]string, 0, len(salient))
	for term := range salient {
		terms = append(terms, term)
	}
	slices.Sort(terms)
	for _, term := range terms {
		if _, mapped := out.MappingFor(term); mapped {
			continue
		}
		out.Warnings = append(out.Warnings,
			fmt.Sprintf("Term %q appears %d times but maps to no domain entity", term, salient[term]))
	}
	return out
}

// domainTerms lists actor, object and salient terms without duplicates.
func domainTerms(s events.ExtractedStructure, salient map[string]int) []string {
	var set orderedSet
	set.add(s.Actor)
	set.add(s.Object)
	rest := make([]string, 0, len(salient))
	for term := range salient {
		rest = append(rest, term)
	}
	slices.Sort(rest)
	for _, term := range rest {
		set.add(term)
	}
	return set.items()
}
