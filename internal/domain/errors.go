package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────

var (
	// Identifier errors
	ErrInvalidID        = errors.New("invalid identifier")
	ErrIDLengthMismatch = errors.New("identifier length mismatch")

	// Peer admission errors
	ErrNotProper       = errors.New("peer record is not proper")
	ErrSelfReference   = errors.New("peer record refers to the local peer")
	ErrUnqualified     = errors.New("peer class is not qualified for the connected set")
	ErrAddressFraud    = errors.New("address already claimed by another connected peer")
	ErrStale           = errors.New("peer record is stale")
	ErrStaleIndirect   = errors.New("indirect update predates recorded disconnection")
	ErrRegression      = errors.New("indirect update predates stored record")
	ErrMalformedSeed   = errors.New("malformed seed encoding")
	ErrNoSelf          = errors.New("local peer record is not initialised")
	ErrPeerNotFound    = errors.New("peer not found")
	ErrPeerUnreachable = errors.New("peer did not answer")
	ErrCorruptRecord   = errors.New("stored peer record is corrupt")

	// News errors
	ErrMalformedNews   = errors.New("malformed news record")
	ErrUnknownCategory = errors.New("unknown news category")
	ErrDeniedURL       = errors.New("news record references a denied URL")
	ErrNewsNotFound    = errors.New("news record not found")
	ErrDuplicateNews   = errors.New("news record already known")
)
