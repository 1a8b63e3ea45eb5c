package reliability

import (
	"context"
	"errors"
	"net"
)

// IsTimeout reports whether err came from a deadline rather than a broken
// connection.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
