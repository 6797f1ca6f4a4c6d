package xmodem

import (
	"errors"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	"github.com/rpi-go/bootkit/internal/serialio"
)

// ReceiveWithProgress drives a full receive-side transfer: it sends
// the initial NAK handshake, accepts packets in order, writes their
// payload to w, and performs the double-EOT/NAK/ACK termination dance.
// maxSize bounds the total bytes accepted; a negative value means
// unbounded, and exceeding it aborts the transfer with CAN rather than
// leaving the sender waiting on a reply that will never come. Packet
// sequence numbers wrap modulo 256, matching the wire format.
func (s *Session) ReceiveWithProgress(w io.Writer, maxSize int) (int, error) {
	log.Debugf("[XMODEM][RX] waiting for sender")
	s.emit(EventWaiting, 0)
	if err := s.writeByte(NAK); err != nil {
		return 0, err
	}
	s.emit(EventStarted, 0)

	var (
		total    int
		retries  int
		eotNaked bool
	)
	buf := make([]byte, PacketSize)

	for {
		seq, ok, err := s.ReadPacket(buf)
		if err != nil {
			switch {
			case errors.Is(err, ErrCanceled):
				log.Warnf("[XMODEM][RX] sender canceled")
				return total, err
			case errors.Is(err, ErrChecksum):
				// The only retryable case: a well-formed packet whose
				// payload didn't check out. Anything else — a bad
				// header, an out-of-order packet number, a timed-out
				// read — is fatal here and propagates to the caller,
				// per spec.md's error taxonomy.
				retries++
				if retries > maxRetries {
					log.Errorf("[XMODEM][RX] giving up after %d checksum retries", maxRetries)
					return total, fmt.Errorf("%w: %v", ErrBrokenPipe, err)
				}
				log.Warnf("[XMODEM][RX] checksum mismatch (retry %d/%d)", retries, maxRetries)
				if werr := s.writeByte(NAK); werr != nil {
					return total, werr
				}
				continue
			default:
				log.Errorf("[XMODEM][RX] fatal packet error: %v", err)
				return total, err
			}
		}

		if !ok {
			if !eotNaked {
				eotNaked = true
				log.Debugf("[XMODEM][RX] first EOT, sending NAK")
				if err := s.writeByte(NAK); err != nil {
					return total, err
				}
				continue
			}
			log.Debugf("[XMODEM][RX] second EOT, sending ACK, transfer complete (%d bytes)", total)
			if err := s.writeByte(ACK); err != nil {
				return total, err
			}
			return total, nil
		}
		eotNaked = false

		if maxSize >= 0 && total+PacketSize > maxSize {
			log.Errorf("[XMODEM][RX] transfer would exceed maximum size of %d bytes, canceling", maxSize)
			_ = s.writeByte(CAN)
			return total, fmt.Errorf("%w: transfer exceeds maximum size of %d bytes", ErrProtocol, maxSize)
		}
		if _, err := w.Write(buf); err != nil {
			return total, err
		}
		total += PacketSize
		retries = 0
		s.emit(EventPacket, seq)
		log.Debugf("[XMODEM][RX][seq %d] accepted, sending ACK", seq)
		if err := s.writeByte(ACK); err != nil {
			return total, err
		}
	}
}

// TransmitWithProgress drives a full transmit-side transfer: it waits
// for the receiver's initial NAK, sends r's contents as a sequence of
// PacketSize packets (zero-padding the final short packet), retrying
// each up to maxRetries times on NAK, then performs the
// double-EOT/NAK/ACK termination dance.
func (s *Session) TransmitWithProgress(r io.Reader) (int, error) {
	log.Debugf("[XMODEM][TX] waiting for receiver handshake")
	s.emit(EventWaiting, 0)
	// Non-cancelling: a stray byte here is a protocol violation, not a
	// cancellation, and we don't answer it with our own CAN (spec.md
	// §9's asymmetry between the transmitter's handshake wait and
	// every other expect-or-cancel check in this package).
	if err := s.expectByte(NAK); err != nil {
		return 0, err
	}
	s.emit(EventStarted, 0)

	var total int
	seq := uint8(1)
	buf := make([]byte, PacketSize)

	for {
		// read-max (spec.md 4.4): fill buf across as many source reads
		// as it takes, so a packet only goes out short when the
		// source itself is exhausted.
		n, err := serialio.ReadMax(r, buf)
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		for i := n; i < PacketSize; i++ {
			buf[i] = 0
		}
		if err := s.sendPacketWithRetry(seq, buf); err != nil {
			return total, err
		}
		total += n
		s.emit(EventPacket, seq)
		seq++
	}

	if err := s.finish(); err != nil {
		return total, err
	}
	log.Debugf("[XMODEM][TX] transfer complete (%d bytes)", total)
	return total, nil
}

func (s *Session) sendPacketWithRetry(seq uint8, data []byte) error {
	var retries int
	for {
		if err := s.WritePacket(seq, data); err != nil {
			return err
		}
		reply, err := s.readByte(true)
		if err != nil {
			return err
		}
		switch reply {
		case ACK:
			return nil
		case NAK:
			retries++
			if retries > maxRetries {
				return fmt.Errorf("%w: no ACK for packet %d after %d retries", ErrBrokenPipe, seq, maxRetries)
			}
			log.Warnf("[XMODEM][TX][seq %d] NAK, resending (retry %d/%d)", seq, retries, maxRetries)
			continue
		default:
			return fmt.Errorf("%w: unexpected reply byte 0x%02x", ErrProtocol, reply)
		}
	}
}

// finish performs the transmitter's half of the double-EOT/NAK/ACK
// termination dance: EOT is sent twice, with the receiver expected to
// NAK the first and ACK the second.
func (s *Session) finish() error {
	if err := s.writeByte(EOT); err != nil {
		return err
	}
	b, err := s.readByte(true)
	if err != nil {
		return err
	}
	if b != NAK {
		return fmt.Errorf("%w: expected NAK after first EOT, got 0x%02x", ErrProtocol, b)
	}
	if err := s.writeByte(EOT); err != nil {
		return err
	}
	b, err = s.readByte(true)
	if err != nil {
		return err
	}
	if b != ACK {
		return fmt.Errorf("%w: expected ACK after second EOT, got 0x%02x", ErrProtocol, b)
	}
	return nil
}
