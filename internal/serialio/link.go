// Package serialio provides the byte-stream boundary pkg/xmodem
// transfers over: a termios-configured serial port for production use,
// and an in-memory pipe for tests.
package serialio

import (
	"errors"
	"io"
)

// Link is the interface pkg/xmodem's Link is satisfied by, plus Flush
// for clearing a stale input queue before a transfer begins.
type Link interface {
	io.Reader
	io.Writer
	Flush() error
}

// ErrTimeout wraps a read that hit its configured deadline without
// data arriving. The whole-stream transfers in pkg/xmodem do not retry
// it; they return it to their caller, and cmd/piboot's receive loop
// retries silently on it.
var ErrTimeout = errors.New("serialio: read timed out")
