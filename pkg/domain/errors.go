package domain

import "errors"

// Common engine errors.
var (
	// ErrInvalidProfile is returned when a profile lacks required fields.
	ErrInvalidProfile = errors.New("invalid profile")
	// ErrParityModeRequired is returned when a build does not state its parity policy.
	ErrParityModeRequired = errors.New("parity mode required")
	// ErrUnknownDocument is returned when a name is not one of the twenty packs.
	ErrUnknownDocument = errors.New("unknown document")
	// ErrBuildNotFound is returned when no committed build matches a lookup.
	ErrBuildNotFound = errors.New("build not found")
	// ErrInvalidRequest is returned for malformed build or archive requests.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrParityRejected marks builds refused under strict parity.
	ErrParityRejected = errors.New("parity rejected")
)
