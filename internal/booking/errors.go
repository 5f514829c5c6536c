package booking

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoTariff rejects a box configured without a single billing mode.
var ErrNoTariff = errors.New("at least one billing mode must be enabled")

// BoxBookedError reports a create attempt against an occupied box.
type BoxBookedError struct {
	BoxID string
	Until time.Time
}

func (e *BoxBookedError) Error() string {
	return fmt.Sprintf("box %s is already booked until %s", e.BoxID, e.Until.Format(time.RFC3339))
}
