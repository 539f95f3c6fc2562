package service

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
)

// Error standardizes client facing errors. Err keeps the underlying cause so
// callers can match domain errors with errors.Is.
type Error struct {
	Code        string
	Description string
	Status      int
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Description, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, desc string, status int, err error) *Error {
	return &Error{Code: code, Description: desc, Status: status, Err: err}
}

// Error codes returned to clients.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeInvalidCredentials  = "invalid_credentials"
	CodeDuplicateID         = "duplicate_id"
	CodeInvalidOrganization = "invalid_organization"
	CodeNotFound            = "not_found"
	CodeAccountInactive     = "account_inactive"
	CodeForbidden           = "forbidden"
	CodeExternalService     = "external_service_error"
	CodeExternalTimeout     = "external_service_timeout"
	CodeServerError         = "server_error"
)

// msgInvalidCredentials is shared by every login failure so the response does
// not reveal whether the id exists.
const msgInvalidCredentials = "Incorrect ID or password."

func invalidCredentials(cause error) *Error {
	return newError(CodeInvalidCredentials, msgInvalidCredentials, http.StatusUnauthorized, cause)
}

func invalidRequest(desc string) *Error {
	return newError(CodeInvalidRequest, desc, http.StatusBadRequest, nil)
}

func serverError(op string, err error) *Error {
	return newError(CodeServerError, "Internal server error.", http.StatusInternalServerError, fmt.Errorf("%s: %w", op, err))
}

// AsError extracts a service error, mapping bare domain errors to their
// client representation and anything else to a server error.
func AsError(err error) *Error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return newError(CodeNotFound, "Not found.", http.StatusNotFound, err)
	case errors.Is(err, domain.ErrInvalidCredential):
		return invalidCredentials(err)
	case errors.Is(err, domain.ErrDuplicateID):
		return newError(CodeDuplicateID, "ID already exists.", http.StatusConflict, err)
	case errors.Is(err, domain.ErrInvalidOrganization):
		return newError(CodeInvalidOrganization, "Invalid organization code.", http.StatusBadRequest, err)
	case errors.Is(err, domain.ErrAccountInactive):
		return newError(CodeAccountInactive, "Account is inactive.", http.StatusForbidden, err)
	case errors.Is(err, domain.ErrForbidden):
		return newError(CodeForbidden, "Forbidden.", http.StatusForbidden, err)
	case errors.Is(err, domain.ErrExternalService):
		return newError(CodeExternalService, "External service unavailable.", http.StatusBadGateway, err)
	default:
		return serverError("unexpected", err)
	}
}
