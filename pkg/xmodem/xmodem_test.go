package xmodem

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"
)

// rwLink adapts a separate reader and writer into a Link for tests
// that only care about bytes flowing one direction at a time.
type rwLink struct {
	r io.Reader
	w io.Writer
}

func (l *rwLink) Read(p []byte) (int, error) {
	if l.r == nil {
		return 0, io.EOF
	}
	return l.r.Read(p)
}

func (l *rwLink) Write(p []byte) (int, error) {
	if l.w == nil {
		return len(p), nil
	}
	return l.w.Write(p)
}

func fillPayload() []byte {
	data := make([]byte, PacketSize)
	for i := range data {
		data[i] = byte(i)
	}
	return data
}

func TestPacketRoundTrip(t *testing.T) {
	data := fillPayload()
	var wire bytes.Buffer
	tx := New(&rwLink{w: &wire})
	if err := tx.WritePacket(1, data); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}

	rx := New(&rwLink{r: bytes.NewReader(wire.Bytes())})
	buf := make([]byte, PacketSize)
	seq, ok, err := rx.ReadPacket(buf)
	if err != nil || !ok {
		t.Fatalf("ReadPacket: seq=%d ok=%v err=%v", seq, ok, err)
	}
	if seq != 1 {
		t.Errorf("seq = %d, want 1", seq)
	}
	if !bytes.Equal(buf, data) {
		t.Errorf("payload mismatch after round trip")
	}
}

func TestReadPacketDetectsChecksumError(t *testing.T) {
	data := fillPayload()
	var wire bytes.Buffer
	tx := New(&rwLink{w: &wire})
	if err := tx.WritePacket(1, data); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	corrupted := wire.Bytes()
	corrupted[len(corrupted)-1] ^= 0xFF // flip the checksum byte

	rx := New(&rwLink{r: bytes.NewReader(corrupted)})
	buf := make([]byte, PacketSize)
	if _, _, err := rx.ReadPacket(buf); !errors.Is(err, ErrChecksum) {
		t.Fatalf("ReadPacket error = %v, want ErrChecksum", err)
	}
}

func TestReadPacketDetectsEOT(t *testing.T) {
	rx := New(&rwLink{r: bytes.NewReader([]byte{EOT})})
	buf := make([]byte, PacketSize)
	seq, ok, err := rx.ReadPacket(buf)
	if err != nil || ok {
		t.Fatalf("ReadPacket on EOT: seq=%d ok=%v err=%v, want ok=false err=nil", seq, ok, err)
	}
}

func TestReadPacketDetectsCancel(t *testing.T) {
	rx := New(&rwLink{r: bytes.NewReader([]byte{CAN})})
	buf := make([]byte, PacketSize)
	if _, _, err := rx.ReadPacket(buf); !errors.Is(err, ErrCanceled) {
		t.Fatalf("ReadPacket error = %v, want ErrCanceled", err)
	}
}

func writeRawPacket(w *bytes.Buffer, seq byte, payload []byte, sum byte) {
	w.WriteByte(SOH)
	w.WriteByte(seq)
	w.WriteByte(seq ^ 0xFF)
	w.Write(payload)
	w.WriteByte(sum)
}

func TestReceiveRetriesOnChecksumError(t *testing.T) {
	payload := fillPayload()
	good := checksum(payload)

	var wire bytes.Buffer
	writeRawPacket(&wire, 1, payload, good^0xFF) // corrupted attempt
	writeRawPacket(&wire, 1, payload, good)      // correct retransmission
	wire.WriteByte(EOT)
	wire.WriteByte(EOT)

	rx := New(&rwLink{r: bytes.NewReader(wire.Bytes())})
	var out bytes.Buffer
	n, err := rx.ReceiveWithProgress(&out, -1)
	if err != nil {
		t.Fatalf("ReceiveWithProgress: %v", err)
	}
	if n != PacketSize {
		t.Fatalf("got %d bytes, want %d", n, PacketSize)
	}
	if !bytes.Equal(out.Bytes(), payload) {
		t.Errorf("payload mismatch after retry")
	}
}

func TestReceiveAbortsOnUnexpectedSequence(t *testing.T) {
	payload := fillPayload()
	sum := checksum(payload)

	var wire bytes.Buffer
	writeRawPacket(&wire, 2, payload, sum) // wrong: receiver expects 1 first
	writeRawPacket(&wire, 1, payload, sum)
	wire.WriteByte(EOT)
	wire.WriteByte(EOT)

	var sent bytes.Buffer
	rx := New(&rwLink{r: bytes.NewReader(wire.Bytes()), w: &sent})
	var out bytes.Buffer
	n, err := rx.ReceiveWithProgress(&out, -1)
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("ReceiveWithProgress error = %v, want ErrProtocol", err)
	}
	if n != 0 {
		t.Errorf("got %d bytes accepted, want 0", n)
	}
	if sent.Len() == 0 || sent.Bytes()[sent.Len()-1] != CAN {
		t.Errorf("last byte written = %v, want trailing CAN", sent.Bytes())
	}
}

func TestReceiveCancellation(t *testing.T) {
	rx := New(&rwLink{r: bytes.NewReader([]byte{CAN})})
	var out bytes.Buffer
	if _, err := rx.ReceiveWithProgress(&out, -1); !errors.Is(err, ErrCanceled) {
		t.Fatalf("ReceiveWithProgress error = %v, want ErrCanceled", err)
	}
}

func TestPacketNumberWrapsModulo256(t *testing.T) {
	payload := fillPayload()
	sum := checksum(payload)

	var wire bytes.Buffer
	const total = 257 // carries the expected sequence number past its 255->0 wrap
	seq := uint8(1)
	for i := 0; i < total; i++ {
		writeRawPacket(&wire, seq, payload, sum)
		seq++
	}
	wire.WriteByte(EOT)
	wire.WriteByte(EOT)

	rx := New(&rwLink{r: bytes.NewReader(wire.Bytes())})
	var out bytes.Buffer
	n, err := rx.ReceiveWithProgress(&out, -1)
	if err != nil {
		t.Fatalf("ReceiveWithProgress: %v", err)
	}
	if n != PacketSize*total {
		t.Fatalf("got %d bytes, want %d", n, PacketSize*total)
	}
}

func TestFullTransferRoundTrip(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	payload := make([]byte, PacketSize*3+17)
	for i := range payload {
		payload[i] = byte(i % 256)
	}

	type result struct {
		n   int
		err error
	}
	rxResult := make(chan result, 1)
	go func() {
		rx := New(serverConn)
		var out bytes.Buffer
		n, err := rx.ReceiveWithProgress(&out, -1)
		if err == nil {
			wantLen := ((len(payload) + PacketSize - 1) / PacketSize) * PacketSize
			got := out.Bytes()
			switch {
			case len(got) != wantLen:
				err = fmt.Errorf("received %d bytes, want %d (padded)", len(got), wantLen)
			case !bytes.Equal(got[:len(payload)], payload):
				err = fmt.Errorf("payload mismatch")
			}
		}
		rxResult <- result{n, err}
	}()

	tx := New(clientConn)
	txN, txErr := tx.TransmitWithProgress(bytes.NewReader(payload))
	if txErr != nil {
		t.Fatalf("TransmitWithProgress: %v", txErr)
	}

	res := <-rxResult
	if res.err != nil {
		t.Fatalf("ReceiveWithProgress: %v", res.err)
	}
	wantRx := ((len(payload) + PacketSize - 1) / PacketSize) * PacketSize
	if txN != len(payload) {
		t.Errorf("tx reported %d bytes, want %d (unpadded payload)", txN, len(payload))
	}
	if res.n != wantRx {
		t.Errorf("rx reported %d bytes, want %d (padded)", res.n, wantRx)
	}
}

func TestReceiveEnforcesMaxSize(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	payload := make([]byte, PacketSize*3)

	rxErrCh := make(chan error, 1)
	go func() {
		rx := New(serverConn)
		var out bytes.Buffer
		_, err := rx.ReceiveWithProgress(&out, PacketSize)
		rxErrCh <- err
	}()

	tx := New(clientConn)
	_, txErr := tx.TransmitWithProgress(bytes.NewReader(payload))
	if txErr == nil {
		t.Fatalf("expected TransmitWithProgress to fail once the receiver aborts")
	}
	if !errors.Is(txErr, ErrCanceled) {
		t.Errorf("tx error = %v, want ErrCanceled", txErr)
	}

	rxErr := <-rxErrCh
	if !errors.Is(rxErr, ErrProtocol) {
		t.Errorf("rx error = %v, want ErrProtocol", rxErr)
	}
}

func TestProgressEventsFire(t *testing.T) {
	payload := fillPayload()
	sum := checksum(payload)

	var wire bytes.Buffer
	writeRawPacket(&wire, 1, payload, sum)
	wire.WriteByte(EOT)
	wire.WriteByte(EOT)

	var kinds []Kind
	rx := NewWithProgress(&rwLink{r: bytes.NewReader(wire.Bytes())}, func(e Event) {
		kinds = append(kinds, e.Kind)
	})
	var out bytes.Buffer
	if _, err := rx.ReceiveWithProgress(&out, -1); err != nil {
		t.Fatalf("ReceiveWithProgress: %v", err)
	}
	want := []Kind{EventWaiting, EventStarted, EventPacket}
	if len(kinds) != len(want) {
		t.Fatalf("got %d events %v, want %v", len(kinds), kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %v, want %v", i, kinds[i], want[i])
		}
	}
}
