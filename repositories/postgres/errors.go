package postgres

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"

	"github.com/callsight/rag-control-plane/services"
)

// wrapStoreError classifies a driver error. Connection-class and timeout
// failures surface as the retryable store-unavailable error so callers can
// distinguish "retry" from "bug"; everything else stays wrapped as-is.
func wrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return services.WrapUnavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// Class 08 - connection exceptions, 57 - operator intervention
		// (shutdown), 53 - insufficient resources
		switch pqErr.Code.Class() {
		case "08", "57", "53":
			return true
		}
	}
	return false
}
