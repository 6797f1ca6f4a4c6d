package xmodem

import "errors"

var (
	// ErrChecksum is returned when a received packet's trailing
	// checksum byte doesn't match the payload.
	ErrChecksum = errors.New("xmodem: checksum mismatch")

	// ErrProtocol is returned for any frame that violates the wire
	// format: a bad header byte, a packet-number/complement mismatch,
	// an out-of-order sequence number, or an unexpected reply byte.
	ErrProtocol = errors.New("xmodem: protocol violation")

	// ErrCanceled is returned when the peer sends CAN.
	ErrCanceled = errors.New("xmodem: transfer canceled by peer")

	// ErrBadPacketSize is returned when a caller supplies a buffer
	// that can't hold one full packet.
	ErrBadPacketSize = errors.New("xmodem: bad packet size")

	// ErrBrokenPipe is returned once a whole-stream transfer exhausts
	// its retry budget.
	ErrBrokenPipe = errors.New("xmodem: retries exhausted")
)
