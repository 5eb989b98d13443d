package collaborators_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antinvestor/requirements/apps/analyzer/service/analysis"
	"github.com/antinvestor/requirements/apps/analyzer/service/collaborators"
	"github.com/antinvestor/requirements/internal/events"
)

func TestCatalogValidator_MapsTermsAndRules(t *testing.T) {
	validator, err := collaborators.LoadCatalog("testdata/catalog.yaml")
	require.NoError(t, err)

	got, err := validator.Validate(context.Background(), &analysis.DomainValidationRequest{
		RequestID:    events.NewRequestID(),
		Terms:        []string{"customers", "invoices", "card", "dashboard"},
		WorkflowHint: "pay invoices",
		SourceKind:   events.SourceTranscript,
	})
	require.NoError(t, err)

	assert.Equal(t, events.DomainValidated, got.Status)
	assert.True(t, got.Valid)

	entities := map[string]string{}
	for _, m := range got.EntityMappings {
		entities[m.Term] = m.Entity
	}
	assert.Equal(t, map[string]string{
		"customers": "Customer",
		"invoices":  "Invoice",
		"card":      "Payment",
	}, entities)

	var ruleIDs []string
	for _, r := range got.ApplicableRules {
		ruleIDs = append(ruleIDs, r.ID)
	}
	assert.Equal(t, []string{"PAY-TIMEOUT", "INV-PARTIAL"}, ruleIDs)
	assert.Equal(t, events.GapMissingErrorHandling, got.ApplicableRules[0].Category)
	assert.Len(t, got.ApplicableRules[0].SuggestedAnswers, 2)
}

func TestCatalogValidator_KeywordRule(t *testing.T) {
	validator, err := collaborators.LoadCatalog("testdata/catalog.yaml")
	require.NoError(t, err)

	got, err := validator.Validate(context.Background(), &analysis.DomainValidationRequest{
		Terms:        []string{"order"},
		WorkflowHint: "request refund",
	})
	require.NoError(t, err)

	assert.False(t, got.Valid)
	require.Len(t, got.ApplicableRules, 1)
	assert.Equal(t, "REFUND-WINDOW", got.ApplicableRules[0].ID)
	assert.NotEmpty(t, got.Warnings)
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"malformed", "entities: [:"},
		{"unnamed entity", "entities:\n  - description: x\n"},
		{"rule without id", "rules:\n  - name: x\n"},
		{"unknown category", "rules:\n  - id: R1\n    name: x\n    category: nonsense\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := collaborators.ParseCatalog([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestDomainValidatorClient_Validate(t *testing.T) {
	var received *analysis.DomainValidationRequest
	mux := http.NewServeMux()
	mux.Handle(collaborators.DomainValidateProcedure, connect.NewUnaryHandler(
		collaborators.DomainValidateProcedure,
		func(_ context.Context, req *connect.Request[analysis.DomainValidationRequest]) (*connect.Response[events.DomainValidation], error) {
			received = req.Msg
			return connect.NewResponse(&events.DomainValidation{
				Valid:          true,
				EntityMappings: []events.EntityMapping{{Term: "invoice", Entity: "Invoice", Confidence: 1}},
			}), nil
		},
		connect.WithCodec(collaborators.JSONCodec{}),
	))
	server := httptest.NewServer(mux)
	defer server.Close()

	client := collaborators.NewDomainValidatorClient(server.URL, server.Client())
	got, err := client.Validate(context.Background(), &analysis.DomainValidationRequest{
		Terms:        []string{"invoice"},
		WorkflowHint: "pay invoice",
	})
	require.NoError(t, err)

	require.NotNil(t, received)
	assert.Equal(t, []string{"invoice"}, received.Terms)
	assert.True(t, got.Valid)
	require.Len(t, got.EntityMappings, 1)
	assert.Equal(t, "Invoice", got.EntityMappings[0].Entity)
}

func TestDomainValidatorClient_Unavailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle(collaborators.DomainValidateProcedure, connect.NewUnaryHandler(
		collaborators.DomainValidateProcedure,
		func(context.Context, *connect.Request[analysis.DomainValidationRequest]) (*connect.Response[events.DomainValidation], error) {
			return nil, connect.NewError(connect.CodeUnavailable, errors.New("catalog reloading"))
		},
		connect.WithCodec(collaborators.JSONCodec{}),
	))
	server := httptest.NewServer(mux)
	defer server.Close()

	client := collaborators.NewDomainValidatorClient(server.URL, server.Client())
	_, err := client.Validate(context.Background(), &analysis.DomainValidationRequest{})
	require.Error(t, err)
	assert.Equal(t, connect.CodeUnavailable, connect.CodeOf(err))
}

func TestTestGenerationClient(t *testing.T) {
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.Handle(collaborators.TestGenerationCreateProcedure, connect.NewUnaryHandler(
		collaborators.TestGenerationCreateProcedure,
		func(_ context.Context, req *connect.Request[events.TestGenerationRequest]) (*connect.Response[events.TestGenerationResponse], error) {
			calls.Add(1)
			if req.Msg.Title == "" {
				return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("title is required"))
			}
			return connect.NewResponse(&events.TestGenerationResponse{
				ID:               "suite-1",
				TestCasesCreated: len(req.Msg.AcceptanceCriteria),
			}), nil
		},
		connect.WithCodec(collaborators.JSONCodec{}),
	))
	server := httptest.NewServer(mux)
	defer server.Close()

	client := collaborators.NewTestGenerationClient(server.URL, server.Client())

	t.Run("success", func(t *testing.T) {
		got, err := client.GenerateTestCases(context.Background(), &events.TestGenerationRequest{
			Title:              "Login",
			AcceptanceCriteria: []string{"a", "b"},
		})
		require.NoError(t, err)
		assert.Equal(t, "suite-1", got.ID)
		assert.Equal(t, 2, got.TestCasesCreated)
	})

	t.Run("rejection is not retryable", func(t *testing.T) {
		_, err := client.GenerateTestCases(context.Background(), &events.TestGenerationRequest{})
		require.Error(t, err)
		assert.ErrorIs(t, err, events.ErrNonRetryable)
	})

	assert.Equal(t, int32(2), calls.Load())
}
