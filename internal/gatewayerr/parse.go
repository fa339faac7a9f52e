package gatewayerr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ParseStandardError reverses StandardError: given a serialized standard
// envelope it reconstructs the typed Error.
func ParseStandardError(raw []byte) (*Error, error) {
	var env StandardEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse standard envelope: %w", err)
	}
	if env.Success || env.Error == nil {
		return nil, errors.New("not an error envelope")
	}
	return &Error{
		Code:        env.Error.Code,
		Message:     env.Error.Message,
		Status:      DefaultStatus(env.Error.Code),
		Recoverable: env.Error.Recoverable,
		RetryAfter:  env.Error.RetryAfter,
		DebugReason: env.Error.DebugReason,
	}, nil
}

// ParseJSONRPCError reverses JSONRPCError, recovering the taxonomy code
// from the envelope's data block.
func ParseJSONRPCError(raw []byte) (*Error, error) {
	var env JSONRPCEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse jsonrpc envelope: %w", err)
	}
	if env.Error == nil {
		return nil, errors.New("not an error envelope")
	}

	e := &Error{Message: env.Error.Message}
	if data, ok := env.Error.Data.(map[string]any); ok {
		if code, ok := data["code"].(string); ok {
			e.Code = Code(code)
		}
		if s, ok := data["httpStatus"].(float64); ok {
			e.Status = int(s)
		}
	}
	if e.Code == "" {
		return nil, errors.New("jsonrpc envelope carries no taxonomy code")
	}
	if e.Status == 0 {
		e.Status = DefaultStatus(e.Code)
	}
	e.Recoverable = IsRecoverable(e.Code)
	return e, nil
}

// ParseMCPError reverses MCPError.
func ParseMCPError(raw []byte) (*Error, error) {
	var env MCPErrorEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse mcp envelope: %w", err)
	}
	if env.Type != "error" {
		return nil, errors.New("not an mcp error envelope")
	}
	return &Error{
		Code:        env.Code,
		Message:     env.Message,
		Status:      DefaultStatus(env.Code),
		Recoverable: IsRecoverable(env.Code),
	}, nil
}
