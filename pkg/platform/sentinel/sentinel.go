package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally wrapped)
// and services translate them into domain errors.
//
//   - ErrNotFound: id or key does not exist in the ledger
//   - ErrConflict: a uniqueness rule was violated on write
//   - ErrExpired: challenge, token, or cache entry passed its deadline
//   - ErrAlreadyUsed: one-shot value (auth challenge) was already consumed
//   - ErrInvalidState: record exists but is in the wrong state for the write
//   - ErrUnavailable: backing service temporarily unreachable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
