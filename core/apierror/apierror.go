// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package apierror provides the structured error payloads returned by all
generated routes. Every failure carries a stable type and code, and where a
single field caused the failure, a detail location path pointing at it.
*/
package apierror

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/lib/pq"
)

// Error is the wire format for failed requests
type Error struct {
	Status  int         `json:"-"`
	Type    string      `json:"type,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Detail  interface{} `json:"detail,omitempty"`
}

// Location pinpoints the offending field of a request, starting with
// "body", "query" or "path"
type Location struct {
	Loc []string `json:"loc"`
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

// New creates an error with an explicit status and taxonomy
func New(status int, errType, code, message string) *Error {
	return &Error{Status: status, Type: errType, Code: code, Message: message}
}

// Validation is a 400 request-validation error with an optional field location
func Validation(code string, loc ...string) *Error {
	err := &Error{Status: http.StatusBadRequest, Type: "ValidationError", Code: code}
	if len(loc) > 0 {
		err.Detail = Location{Loc: loc}
	}
	return err
}

// FieldAccess is a 403 field-level access violation pointing at the denied field
func FieldAccess(code string, loc []string) *Error {
	return &Error{
		Status: http.StatusForbidden,
		Type:   "FieldAccessError",
		Code:   code,
		Detail: Location{Loc: loc},
	}
}

// AccessDenied is a 403 row- or scope-level access violation
func AccessDenied(code string, detail interface{}) *Error {
	return &Error{Status: http.StatusForbidden, Type: "AccessError", Code: code, Detail: detail}
}

// AuthInvalid is a 401 for missing, malformed or expired credentials
func AuthInvalid(code, message string) *Error {
	return &Error{Status: http.StatusUnauthorized, Type: "AuthError", Code: code, Message: message}
}

// NotFound is a 404 for a missing resource instance
func NotFound(resource string) *Error {
	return &Error{Status: http.StatusNotFound, Type: "NotFoundError", Code: "not_found", Message: resource + " does not exist"}
}

// Constraint is a 409 carrying the machine-readable constraint code reported
// by the persistence layer
func Constraint(code, constraint string) *Error {
	return &Error{
		Status: http.StatusConflict,
		Type:   "ConstraintError",
		Code:   "constraint_violation",
		Detail: map[string]string{"pgcode": code, "constraint": constraint},
	}
}

// FromError converts any error into an *Error. Known persistence errors are
// mapped to their taxonomy entry, everything else becomes an opaque 500.
func FromError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "23503", "23514": // unique, foreign key, check
			return Constraint(string(pqErr.Code), pqErr.Constraint)
		}
	}
	return &Error{Status: http.StatusInternalServerError, Type: "InternalError", Code: "internal"}
}

// Write renders err as a structured JSON response
func Write(w http.ResponseWriter, err error) {
	apiErr := FromError(err)
	jsonData, _ := json.Marshal(apiErr)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(apiErr.Status)
	w.Write(jsonData)
}
