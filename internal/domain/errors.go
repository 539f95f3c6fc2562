package domain

import "errors"

var (
	// ErrNotFound signals an unknown user id, organization code or record.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredential indicates a password that does not match the stored hash.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrDuplicateID indicates a registration or insert colliding with an existing id.
	ErrDuplicateID = errors.New("duplicate id")
	// ErrInvalidOrganization indicates an unknown organization code at registration.
	ErrInvalidOrganization = errors.New("invalid organization")
	// ErrMissingIndex indicates the query store lacks the index or schema an
	// aggregation query needs.
	ErrMissingIndex = errors.New("missing index")
	// ErrExternalService wraps failures and timeouts of the AI assistant or
	// transcription calls.
	ErrExternalService = errors.New("external service error")
	// ErrAccountInactive indicates the account's 30-day window has elapsed.
	ErrAccountInactive = errors.New("account inactive")
	// ErrForbidden indicates the session may not access the resource.
	ErrForbidden = errors.New("forbidden")
)
