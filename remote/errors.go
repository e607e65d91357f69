package remote

import (
	"errors"
	"fmt"
)

// PartnerNotFoundError means no partner in the remote system matched the tax
// id exactly. Fuzzy or partial matches do not count.
type PartnerNotFoundError struct {
	TaxID string
}

func (e *PartnerNotFoundError) Error() string {
	return fmt.Sprintf("no partner found with tax id %s", e.TaxID)
}

// AmbiguousPartnerError means more than one partner matched the tax id
// exactly, so a receipt cannot be applied safely.
type AmbiguousPartnerError struct {
	TaxID string
	Count int
}

func (e *AmbiguousPartnerError) Error() string {
	return fmt.Sprintf("%d partners found with tax id %s, expected exactly one", e.Count, e.TaxID)
}

// TransientError wraps a remote failure that is worth retrying later:
// timeouts, connection errors, rate limiting and server-side errors. Anything
// the caller cannot classify stays permanent.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient remote error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient remote error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the error should put the item back in the
// queue with a retry deadline instead of failing it for good.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}
