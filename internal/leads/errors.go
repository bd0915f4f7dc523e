package leads

import "errors"

var (
	// ErrMissingClientID is returned when the owning client is unset
	ErrMissingClientID = errors.New("leads: client id is required")

	// ErrMissingEmail is returned when the sender email is missing
	ErrMissingEmail = errors.New("leads: sender email is required")

	// ErrLeadNotFound is returned when a lead is not found
	ErrLeadNotFound = errors.New("leads: lead not found")
)
