package mcp

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/inlet-sh/inlet/internal/errors"
)

// decodeArgs reprojects a tool call's argument map onto a typed request
// struct. A payload that does not fit the struct is the client's fault,
// so failures surface as INVALID_REQUEST rather than internal errors.
func decodeArgs[T any](req mcp.CallToolRequest) (T, error) {
	var input T
	raw, err := json.Marshal(req.GetArguments())
	if err != nil {
		return input, errors.NewInvalidRequest("unreadable arguments: " + err.Error())
	}
	if err := json.Unmarshal(raw, &input); err != nil {
		return input, errors.NewInvalidRequest("arguments do not match the tool schema: " + err.Error())
	}
	return input, nil
}
