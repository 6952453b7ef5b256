package sagastore

import (
	"fmt"

	"github.com/nathanyu/order-saga/internal/saga"
)

// unavailable wraps a backend failure so callers can match
// saga.ErrStoreUnavailable while keeping the original error text.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", saga.ErrStoreUnavailable, op, err)
}
