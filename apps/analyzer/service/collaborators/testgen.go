package collaborators

import (
	"context"
	"fmt"
	"net/http"

	"connectrpc.com/connect"

	"github.com/antinvestor/requirements/internal/events"
)

// TestGenerationClient forwards ready requirements to the test generation
// service over Connect.
type TestGenerationClient struct {
	client *connect.Client[events.TestGenerationRequest, events.TestGenerationResponse]
}

// NewTestGenerationClient creates a client for the service at baseURL.
func NewTestGenerationClient(baseURL string, httpClient *http.Client) *TestGenerationClient {
	return &TestGenerationClient{
		client: connect.NewClient[events.TestGenerationRequest, events.TestGenerationResponse](
			defaultHTTPClient(httpClient),
			procedureURL(baseURL, TestGenerationCreateProcedure),
			connect.WithCodec(JSONCodec{}),
		),
	}
}

// GenerateTestCases implements analysis.TestGenerationService. Rejections
// that a retry cannot fix are marked non-retryable.
func (c *TestGenerationClient) GenerateTestCases(
	ctx context.Context,
	req *events.TestGenerationRequest,
) (*events.TestGenerationResponse, error) {
	resp, err := c.client.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		switch connect.CodeOf(err) {
		case connect.CodeInvalidArgument, connect.CodeFailedPrecondition,
			connect.CodeAlreadyExists, connect.CodePermissionDenied, connect.CodeUnauthenticated:
			return nil, fmt.Errorf("%w: test generation rejected request: %w", events.ErrNonRetryable, err)
		default:
			return nil, fmt.Errorf("test generation call (%s): %w", connect.CodeOf(err), err)
		}
	}
	return resp.Msg, nil
}
