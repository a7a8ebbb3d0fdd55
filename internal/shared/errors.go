package shared

import (
	"errors"
	"fmt"
)

// RequestError is used when we want a specific error message and StatusCode.
// Handlers return the exact message inside the request error to the client as
// the response detail. Errors without a RequestError in their chain fall back
// to a generic 500.
type RequestError struct {
	StatusCode int
	Err        error
}

func (r *RequestError) Error() string {
	return fmt.Sprintf("status %d: err %v", r.StatusCode, r.Err)
}

var (
	ErrForbiddenAccess = &RequestError{Err: errors.New("Protected access. Agent not allowed."), StatusCode: 403}

	ErrMissingAuth   = &RequestError{Err: errors.New("missing authorization header"), StatusCode: 401}
	ErrInvalidFormat = &RequestError{Err: errors.New("invalid authentication format"), StatusCode: 401}

	ErrMissingFields    = &RequestError{Err: errors.New("fields is required"), StatusCode: 400}
	ErrMissingAgent     = &RequestError{Err: errors.New("agent is required"), StatusCode: 400}
	ErrMissingIndexName = &RequestError{Err: errors.New("index_name is required"), StatusCode: 400}
	ErrMissingFile      = &RequestError{Err: errors.New("file is required"), StatusCode: 400}

	ErrInternalServerError = &RequestError{Err: errors.New("internal server error"), StatusCode: 500}
	ErrBadRequest          = &RequestError{Err: errors.New("bad request"), StatusCode: 400}
)

// ErrorResponse mirrors the error body shape of the original gateway.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// MessageResponse wraps every successful answer under a message key.
type MessageResponse struct {
	Message any `json:"message"`
}
