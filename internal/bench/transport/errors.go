package transport

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsPeerClosed reports whether err means the peer ended the session: an
// orderly shutdown (zero-byte receive), a reset, or a broken pipe.
func IsPeerClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

// IsTransient reports whether the call was interrupted and may be retried as is.
func IsTransient(err error) bool {
	return errors.Is(err, syscall.EINTR)
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
