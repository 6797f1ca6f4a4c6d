// Package xmodem implements the XMODEM-1K stop-and-wait file transfer
// protocol: 1024-byte payload packets, an 8-bit wraparound checksum,
// and a single in-band cancellation signal (CAN). It provides both a
// single-packet API for callers that want to drive the handshake
// themselves and a whole-stream API that retries and reports progress.
package xmodem
