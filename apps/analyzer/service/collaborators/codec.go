// Package collaborators holds the clients for the services the analyzer
// depends on: domain validation and test case generation.
package collaborators

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Procedures served by the collaborators.
const (
	DomainValidateProcedure        = "/requirements.domain.v1.DomainService/Validate"
	TestGenerationCreateProcedure  = "/requirements.testgen.v1.TestGenerationService/GenerateTestCases"
	defaultCollaboratorHTTPTimeout = 30 * time.Second
)

// JSONCodec carries plain Go structs over Connect using encoding/json.
type JSONCodec struct{}

// Name implements connect.Codec.
func (JSONCodec) Name() string { return "json" }

// Marshal implements connect.Codec.
func (JSONCodec) Marshal(msg any) ([]byte, error) { return json.Marshal(msg) }

// Unmarshal implements connect.Codec.
func (JSONCodec) Unmarshal(data []byte, msg any) error { return json.Unmarshal(data, msg) }

func procedureURL(baseURL, procedure string) string {
	return strings.TrimRight(baseURL, "/") + procedure
}

func defaultHTTPClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: defaultCollaboratorHTTPTimeout}
}
