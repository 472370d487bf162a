package models

import "errors"

// Registry failures. Every entry point returns one of these (wrapped with
// context); a failed call leaves no state behind.
var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidPeriod       = errors.New("invalid subscription period")
	ErrInsufficientPayment = errors.New("insufficient payment")
	ErrNotRegistered       = errors.New("not registered")
	ErrAlreadyRegistered   = errors.New("already registered")
	ErrDuplicateEntry      = errors.New("duplicate entry")
	ErrNotFound            = errors.New("not found")
	ErrNothingToCollect    = errors.New("nothing to collect")
	ErrTransferFailed      = errors.New("transfer failed")
	ErrSystemPaused        = errors.New("system paused")
	ErrNotPaused           = errors.New("system not paused")
	ErrInvalidThresholds   = errors.New("invalid thresholds")
	ErrAlreadyInitialized  = errors.New("already initialized")
)

var codes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "unauthorized"},
	{ErrInvalidInput, "invalid_input"},
	{ErrInvalidPeriod, "invalid_period"},
	{ErrInsufficientPayment, "insufficient_payment"},
	{ErrNotRegistered, "not_registered"},
	{ErrAlreadyRegistered, "already_registered"},
	{ErrDuplicateEntry, "duplicate_entry"},
	{ErrNotFound, "not_found"},
	{ErrNothingToCollect, "nothing_to_collect"},
	{ErrTransferFailed, "transfer_failed"},
	{ErrSystemPaused, "system_paused"},
	{ErrNotPaused, "not_paused"},
	{ErrInvalidThresholds, "invalid_thresholds"},
	{ErrAlreadyInitialized, "already_initialized"},
}

// Code maps err to a stable snake_case name: "ok" for nil, "internal" for
// anything outside the registry taxonomy.
func Code(err error) string {
	if err == nil {
		return "ok"
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
