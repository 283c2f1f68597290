package resilience

import (
	"errors"
	"net"
	"syscall"
)

// transient is implemented by errors that classify themselves, such as
// domain.ExternalServiceError.
type transient interface {
	Transient() bool
}

// IsTransient reports whether err is worth retrying. Errors that classify
// themselves decide; otherwise network timeouts and dropped connections are
// transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var self transient
	if errors.As(err, &self) {
		return self.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED)
}
