package negotiation

import "errors"

// Kind is the stable, client-facing name of an error class.
type Kind string

const (
	KindNotFound       Kind = "NOT_FOUND"
	KindNotOpen        Kind = "NOT_OPEN"
	KindNotAuthorized  Kind = "NOT_AUTHORIZED"
	KindSelfAcceptance Kind = "SELF_ACCEPTANCE"
	KindSelfDecline    Kind = "SELF_DECLINE"
	KindValidation     Kind = "VALIDATION_ERROR"
	KindStoreTimeout   Kind = "STORE_TIMEOUT"
	KindStoreConflict  Kind = "STORE_CONFLICT"
	KindNotAccepted    Kind = "NEGOTIATION_NOT_ACCEPTED"
	KindInternal       Kind = "INTERNAL_ERROR"
)

var (
	ErrNotFound       = errors.New("negotiation not found")
	ErrNotOpen        = errors.New("negotiation is not open")
	ErrNotAuthorized  = errors.New("actor is not a party to this negotiation")
	ErrSelfAcceptance = errors.New("cannot accept your own pending offer")
	ErrSelfDecline    = errors.New("cannot decline your own pending offer")
	ErrValidation     = errors.New("validation failed")
	ErrStoreTimeout   = errors.New("negotiation store timed out")
	ErrStoreConflict  = errors.New("negotiation was modified concurrently")
	ErrNotAccepted    = errors.New("negotiation has not been accepted")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotFound, KindNotFound},
	{ErrNotOpen, KindNotOpen},
	{ErrNotAuthorized, KindNotAuthorized},
	{ErrSelfAcceptance, KindSelfAcceptance},
	{ErrSelfDecline, KindSelfDecline},
	{ErrValidation, KindValidation},
	{ErrStoreTimeout, KindStoreTimeout},
	{ErrStoreConflict, KindStoreConflict},
	{ErrNotAccepted, KindNotAccepted},
}

// KindOf maps err onto its stable kind. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// IsRetryable reports whether retrying the same call may succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreTimeout) || errors.Is(err, ErrStoreConflict)
}
