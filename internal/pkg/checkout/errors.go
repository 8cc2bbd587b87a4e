package checkout

import "errors"

var (
	// ErrInvalidCart is returned when a cart references missing, unpublished or
	// out-of-stock products, or is otherwise malformed.
	ErrInvalidCart = errors.New("invalid cart")
	// ErrNoUser is returned when an order has no authenticated or resolvable guest owner.
	ErrNoUser = errors.New("no user for order")
	// ErrInvalidOrderState is returned when an operation needs a pending order.
	ErrInvalidOrderState = errors.New("invalid order state")
	// ErrOrderNotFound is returned when no order matches an id or provider reference.
	ErrOrderNotFound = errors.New("order not found")
	// ErrAmountMismatch is returned when the provider settled a different amount
	// or currency than the order quoted. The order is failed.
	ErrAmountMismatch = errors.New("payment amount mismatch")
	// ErrWriteConflict wraps datastore failures during a state transition. The
	// caller should answer with a retryable status.
	ErrWriteConflict = errors.New("order write conflict")
)

// errLostRace signals inside a DB transaction that another delivery already
// moved the order out of pending. It never leaves the package.
var errLostRace = errors.New("order already settled")
