package collaborators

import (
	"context"
	"fmt"
	"net/http"

	"connectrpc.com/connect"

	"github.com/antinvestor/requirements/apps/analyzer/service/analysis"
	"github.com/antinvestor/requirements/internal/events"
)

// DomainValidatorClient calls a remote domain service over Connect.
type DomainValidatorClient struct {
	client *connect.Client[analysis.DomainValidationRequest, events.DomainValidation]
}

// NewDomainValidatorClient creates a client for the service at baseURL.
func NewDomainValidatorClient(baseURL string, httpClient *http.Client) *DomainValidatorClient {
	return &DomainValidatorClient{
		client: connect.NewClient[analysis.DomainValidationRequest, events.DomainValidation](
			defaultHTTPClient(httpClient),
			procedureURL(baseURL, DomainValidateProcedure),
			connect.WithCodec(JSONCodec{}),
		),
	}
}

// Validate implements analysis.DomainValidator.
func (c *DomainValidatorClient) Validate(
	ctx context.Context,
	req *analysis.DomainValidationRequest,
) (*events.DomainValidation, error) {
	resp, err := c.client.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, fmt.Errorf("domain validation call (%s): %w", connect.CodeOf(err), err)
	}
	return resp.Msg, nil
}
