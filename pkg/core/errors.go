// Package core provides the error taxonomy and shared HTTP plumbing for osm2vcf.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// ErrorCode identifies a class of export failure
type ErrorCode string

// Standard error codes
const (
	// Input validation errors
	ErrInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrInvalidParameter ErrorCode = "INVALID_PARAMETER"

	// Pipeline errors
	ErrMalformedResponse    ErrorCode = "MALFORMED_RESPONSE"
	ErrInsufficientGeometry ErrorCode = "INSUFFICIENT_GEOMETRY"
	ErrFetchFailed          ErrorCode = "FETCH_FAILED"

	// Service errors
	ErrRateLimit     ErrorCode = "RATE_LIMIT"
	ErrInternalError ErrorCode = "INTERNAL_ERROR"
)

// Pipeline stages reported in errors
const (
	StageFetch     = "fetch"
	StageParse     = "parse"
	StageResolve   = "resolve"
	StageMap       = "map"
	StageSerialize = "serialize"
)

// Error is the structured error returned by every stage of an export.
// Object and Stage tell the user which reference and which step failed;
// Request names the failing API path for FETCH_FAILED.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Object     string `json:"object,omitempty"`
	Stage      string `json:"stage,omitempty"`
	Request    string `json:"request,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Guidance   string `json:"guidance,omitempty"`

	cause error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	if e.Object != "" {
		fmt.Fprintf(&b, " [%s]", e.Object)
	}
	if e.Stage != "" {
		fmt.Fprintf(&b, " (%s)", e.Stage)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Request != "" {
		fmt.Fprintf(&b, " (request %s)", e.Request)
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	if e.Guidance != "" {
		b.WriteString(". ")
		b.WriteString(e.Guidance)
	}
	return b.String()
}

// Unwrap exposes the underlying cause
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same code, so
// errors.Is(err, core.NewError(core.ErrFetchFailed, "")) works as a class check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Error with the given code and message
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    string(code),
		Message: message,
	}
}

// WithObject records the object reference the error belongs to
func (e *Error) WithObject(ref fmt.Stringer) *Error {
	if ref != nil {
		e.Object = ref.String()
	}
	return e
}

// WithStage records the pipeline stage that failed
func (e *Error) WithStage(stage string) *Error {
	e.Stage = stage
	return e
}

// WithRequest records the request that failed
func (e *Error) WithRequest(request string) *Error {
	e.Request = request
	return e
}

// WithStatus records the HTTP status of a failed request
func (e *Error) WithStatus(status int) *Error {
	e.StatusCode = status
	return e
}

// WithGuidance adds guidance information to the error
func (e *Error) WithGuidance(guidance string) *Error {
	e.Guidance = guidance
	return e
}

// WithCause wraps an underlying error
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

// ToMCPResult converts the error to an MCP tool result
func (e *Error) ToMCPResult() *mcp.CallToolResult {
	errorJSON, err := json.Marshal(e)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("ERROR: %s - %s", e.Code, e.Message))
	}

	return mcp.NewToolResultError(string(errorJSON))
}

// CodeOf returns the ErrorCode carried by err, or ErrInternalError when err
// is not an *Error. A nil error has no code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return ErrorCode(e.Code)
	}
	return ErrInternalError
}

// IsCode reports whether err carries the given code
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// FetchError creates a FETCH_FAILED error for a request that answered with a non-2xx status
func FetchError(request string, statusCode int) *Error {
	var guidance string

	switch statusCode {
	case http.StatusNotFound:
		guidance = "The object does not exist on the OpenStreetMap server. Check the type and id."
	case http.StatusGone:
		guidance = "The object has been deleted from OpenStreetMap."
	case http.StatusTooManyRequests:
		guidance = "The OpenStreetMap API is rate-limiting requests. Export again in a few moments."
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		guidance = "The OpenStreetMap API timed out. Export again later."
	default:
		guidance = "Export again later; no vCard was produced."
	}

	return NewError(ErrFetchFailed, fmt.Sprintf("HTTP status %d", statusCode)).
		WithStage(StageFetch).
		WithRequest(request).
		WithStatus(statusCode).
		WithGuidance(guidance)
}

// NewValidationError creates an error for validation failures
func NewValidationError(code ErrorCode, message string) *Error {
	return NewError(code, message).
		WithGuidance("Please correct the parameters and try again.")
}
