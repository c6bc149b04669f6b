package endpoint

import (
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hostbridge/mcp-endpoint-go/pkg/capability"
)

// Payload shapes for the methods both roles exchange. Result-side shapes
// reuse the SDK types so callers get the same structures they would see
// from any other MCP client.

type initializeParams struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    Capabilities       `json:"capabilities"`
	ClientInfo      mcp.Implementation `json:"clientInfo"`
}

type initializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    json.RawMessage    `json:"capabilities"`
	ServerInfo      mcp.Implementation `json:"serverInfo"`
}

type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

type readResourceParams struct {
	URI string `json:"uri"`
}

type getPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

type completeParams struct {
	Ref      map[string]any   `json:"ref"`
	Argument CompleteArgument `json:"argument"`
}

// Completion is the suggestion set returned by completion/complete.
type Completion struct {
	Values  []string `json:"values"`
	Total   int      `json:"total,omitempty"`
	HasMore bool     `json:"hasMore,omitempty"`
}

type completeResult struct {
	Completion Completion `json:"completion"`
}

type rootsListResult struct {
	Roots []capability.Root `json:"roots"`
}

type emptyResult struct{}
