// Package errors provides the standardized HTTP error responses used at the
// connection edge, before a websocket upgrade succeeds. After the upgrade,
// errors travel as CONNECTION_ERROR frames instead.
package errors

import "github.com/lenslink/cloud/internal/wire"

// APIError is the standardized error response body.
type APIError struct {
	Error   string                 `json:"error"`
	Code    wire.ErrorCode         `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewAPIError creates a new APIError with the given message and wire code.
func NewAPIError(message string, code wire.ErrorCode, details map[string]interface{}) *APIError {
	return &APIError{
		Error:   message,
		Code:    code,
		Details: details,
	}
}
