package analysis

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/pitabwire/util"

	"github.com/antinvestor/requirements/internal/events"
)

// ReanalyzeRequirement folds answers, accepted criteria and edits into a copy
// of a stored document and analyses it as the next version of its lineage.
// The original result is never modified.
func (e *Engine) ReanalyzeRequirement(ctx context.Context, req *events.ReanalyzeRequest) (*events.AnalysisResult, error) {
	if req == nil {
		return nil, newInputError("", "request is required")
	}
	if req.OriginalRequestID.IsZero() {
		return nil, newInputError("original_request_id", "is required")
	}

	original, err := e.history.Get(ctx, req.OriginalRequestID)
	if err != nil {
		return nil, err
	}

	doc := original.Document.Clone()
	if doc == nil {
		return nil, fmt.Errorf("%w: stored result %s has no document", ErrEssentialStage, original.RequestID)
	}

	if req.UpdatedDescription != nil {
		description := normalizeWhitespace(*req.UpdatedDescription)
		if description == "" {
			return nil, newInputError("updated_description", "must not be empty")
		}
		doc.Description = description
	}
	if req.UpdatedACs != nil {
		doc.AcceptanceCriteria = cleanList(req.UpdatedACs)
	}

	clarifications, current, err := resolveAnswers(original, req.AnsweredQuestions)
	if err != nil {
		return nil, err
	}
	if len(clarifications) > 0 {
		doc.Description = doc.Description + "\n\nClarifications:\n" + strings.Join(clarifications, "\n")
	}

	accepted, err := acceptedCriteria(original, req.ACDecisions)
	if err != nil {
		return nil, err
	}
	for _, ac := range accepted {
		if !slices.Contains(doc.AcceptanceCriteria, ac.Text) {
			doc.AcceptanceCriteria = append(doc.AcceptanceCriteria, ac.Text)
		}
	}

	root := original.LineageRootID
	if root.IsZero() {
		root = original.RequestID
	}

	lineage, err := e.history.Lineage(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("load lineage: %w", err)
	}
	answers := make(map[string]string)
	for _, version := range lineage {
		for _, q := range version.AnsweredQuestions {
			answers[q.Hash] = q.Answer
		}
	}
	for hash, answer := range current {
		answers[hash] = answer
	}

	requestID := req.RequestID
	if requestID.IsZero() {
		requestID = events.NewRequestID()
	}
	doc.ID = events.NewDocumentID()
	doc.RequestID = requestID
	doc.OriginalRequestID = original.RequestID
	doc.Version = original.Version + 1
	doc.CreatedAt = e.now().UTC()
	doc.NormalizedText = normalizedText(doc)

	result, err := e.run(ctx, doc, req.Config, answers)
	if err != nil {
		return nil, err
	}
	result.LineageRootID = root
	result.GeneratedACs = markAccepted(result.GeneratedACs, accepted)

	if err = e.history.Append(ctx, result); err != nil {
		return nil, fmt.Errorf("store reanalysis: %w", err)
	}

	util.Log(ctx).Info("requirement reanalysed",
		"request_id", result.RequestID.String(),
		"original_request_id", original.RequestID.String(),
		"version", result.Version,
		"answered", len(req.AnsweredQuestions),
		"accepted_acs", len(accepted),
		"readiness", string(result.ReadinessState),
	)
	return result, nil
}

// resolveAnswers validates answers against the original's questions. It
// returns the clarification lines to fold into the description and the
// answers keyed by question hash.
func resolveAnswers(
	original *events.AnalysisResult,
	answered []events.AnsweredQuestion,
) ([]string, map[string]string, error) {
	var lines []string
	byHash := make(map[string]string, len(answered))
	for i, a := range answered {
		field := fmt.Sprintf("answered_questions[%d]", i)
		q, ok := original.FindQuestion(a.QuestionID)
		if !ok {
			return nil, nil, newInputError(field+".question_id", "unknown question %q", a.QuestionID)
		}
		answer := strings.TrimSpace(a.Answer)
		if answer == "" {
			return nil, nil, newInputError(field+".answer", "must not be empty")
		}
		byHash[q.Hash] = answer
		lines = append(lines, "Q: "+q.Question, "A: "+answer)
	}
	return lines, byHash, nil
}

// acceptedCriteria returns the generated criteria accepted so far: those
// already accepted on the original plus this request's decisions, with edits
// applied. A rejection withdraws an earlier acceptance.
func acceptedCriteria(original *events.AnalysisResult, decisions []events.ACDecision) ([]events.GeneratedAC, error) {
	decided := make(map[string]events.ACDecision, len(decisions))
	for i, d := range decisions {
		if _, ok := original.FindGeneratedAC(d.ACID); !ok {
			return nil, newInputError(fmt.Sprintf("ac_decisions[%d].ac_id", i), "unknown acceptance criterion %q", d.ACID)
		}
		decided[d.ACID] = d
	}

	var out []events.GeneratedAC
	for _, ac := range original.GeneratedACs {
		d, ok := decided[ac.ID]
		switch {
		case ok && !d.Accepted:
			continue
		case ok:
			if text := strings.TrimSpace(d.EditedText); text != "" {
				ac.Text = text
			}
		case !ac.Accepted:
			continue
		}
		ac.Accepted = true
		out = append(out, ac)
	}
	return out, nil
}

// markAccepted flags regenerated criteria that were accepted and appends
// accepted ones the new run no longer proposes.
func markAccepted(generated, accepted []events.GeneratedAC) []events.GeneratedAC {
	if len(accepted) == 0 {
		return generated
	}
	byID := make(map[string]events.GeneratedAC, len(accepted))
	for _, ac := range accepted {
		byID[ac.ID] = ac
	}

	out := make([]events.GeneratedAC, 0, len(generated)+len(accepted))
	for _, ac := range generated {
		if decided, ok := byID[ac.ID]; ok {
			ac = decided
			delete(byID, ac.ID)
		}
		out = append(out, ac)
	}
	for _, ac := range accepted {
		if _, pending := byID[ac.ID]; pending {
			out = append(out, ac)
		}
	}
	return out
}
