package platform

import (
	"errors"
	"fmt"
)

// ErrorCode is the numeric code surfaced verbatim to callers for a rejected transaction.
type ErrorCode uint32

const (
	CodeNotAuthorized     ErrorCode = 100
	CodeContentExists     ErrorCode = 101
	CodeInvalidPrice      ErrorCode = 102
	CodeContentNotFound   ErrorCode = 103
	CodeInvalidRating     ErrorCode = 105
	CodeAlreadySubscribed ErrorCode = 106
	CodeInvalidDuration   ErrorCode = 108
	CodeAlreadyRated      ErrorCode = 110
	CodePlaylistNotFound  ErrorCode = 111
	CodeCreatorNotFound   ErrorCode = 112
	CodePlaylistFull      ErrorCode = 113
	CodeInvalidField      ErrorCode = 114
)

// LedgerError is a domain rejection. A transaction failing with a LedgerError leaves no state behind.
type LedgerError struct {
	code ErrorCode
	name string
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("platform: %s (u%d)", e.name, e.code)
}

// Code returns the numeric error code.
func (e *LedgerError) Code() ErrorCode {
	return e.code
}

// Name returns the stable kebab-case error name.
func (e *LedgerError) Name() string {
	return e.name
}

func newLedgerError(code ErrorCode, name string) *LedgerError {
	return &LedgerError{code: code, name: name}
}

// Several codes are deliberately shared between unrelated conditions; callers match on the code.
var (
	// ErrNotAuthorized is returned when the caller is not the required identity or a level tier is unmet.
	ErrNotAuthorized = newLedgerError(CodeNotAuthorized, "not-authorized")
	// ErrContentExists is returned for a duplicate content id and for a duplicate (playlist id, owner) pair.
	ErrContentExists = newLedgerError(CodeContentExists, "content-exists")
	// ErrInvalidPrice is returned for a zero price, a fee above 100 and a zero settlement amount.
	ErrInvalidPrice = newLedgerError(CodeInvalidPrice, "invalid-price")
	// ErrContentNotFound is returned for unknown content and for content that was never rated.
	ErrContentNotFound = newLedgerError(CodeContentNotFound, "content-not-found")
	// ErrInvalidRating is returned for a rating outside [1,5].
	ErrInvalidRating = newLedgerError(CodeInvalidRating, "invalid-rating")
	// ErrAlreadySubscribed is returned when an active subscription already exists for the pair.
	ErrAlreadySubscribed = newLedgerError(CodeAlreadySubscribed, "already-subscribed")
	// ErrInvalidDuration is returned for a zero or unrepresentable subscription duration.
	ErrInvalidDuration = newLedgerError(CodeInvalidDuration, "invalid-duration")
	// ErrAlreadyRated is returned when the rater already rated the content.
	ErrAlreadyRated = newLedgerError(CodeAlreadyRated, "already-rated")
	// ErrPlaylistNotFound is returned when the caller owns no playlist with the given id.
	ErrPlaylistNotFound = newLedgerError(CodePlaylistNotFound, "playlist-not-found")
	// ErrCreatorNotFound is returned when an operation targets an identity without a creator profile.
	ErrCreatorNotFound = newLedgerError(CodeCreatorNotFound, "creator-not-found")
	// ErrPlaylistFull is returned when a playlist already holds MaxPlaylistEntries entries.
	ErrPlaylistFull = newLedgerError(CodePlaylistFull, "playlist-full")
	// ErrInvalidField is returned for malformed identities, ids and text fields.
	ErrInvalidField = newLedgerError(CodeInvalidField, "invalid-field")
)

// AsLedgerError extracts the domain rejection from err, if any.
func AsLedgerError(err error) (*LedgerError, bool) {
	var ledgerErr *LedgerError
	if errors.As(err, &ledgerErr) {
		return ledgerErr, true
	}
	return nil, false
}

// ServiceError reports an infrastructure failure (storage, clock) rather than a domain rejection.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("platform.%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
