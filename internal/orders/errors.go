package orders

import (
	"errors"
	"fmt"
)

// ErrDuplicate means the idempotency key already has a committed order. The
// earlier attempt won; callers treat this as success after a Get.
var ErrDuplicate = errors.New("order already committed for idempotency key")

// ErrInvalidTransition is returned by the status transition operations.
var ErrInvalidTransition = errors.New("invalid order status transition")

// ErrNotFound means no order exists for the given id.
var ErrNotFound = errors.New("order not found")

// TransactionError is a failed atomic commit: either the authoritative
// re-check rejected the order (wrapped InsufficientStockError) or the store
// could not be reached. No side effect has happened; the caller decides
// whether to queue.
type TransactionError struct {
	Unreachable bool // true when the store was unavailable rather than the write rejected
	Err         error
}

func (e *TransactionError) Error() string {
	if e.Unreachable {
		return fmt.Sprintf("authoritative store unreachable: %v", e.Err)
	}
	return fmt.Sprintf("transaction failed: %v", e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }
