package serialio

import (
	"errors"
	"fmt"
	"os"
	"time"

	serial "github.com/daedaluz/goserial"
	log "github.com/sirupsen/logrus"
)

// Config describes how to open and configure a serial link.
type Config struct {
	Device      string
	Baud        int
	DataBits    int // 5-8
	StopBits    int // 1 or 2
	Timeout     time.Duration
	FlowControl FlowControl
}

// FlowControl selects how the link paces the sender.
type FlowControl int

const (
	FlowNone FlowControl = iota
	FlowHardware
	FlowSoftware
)

// ParseFlowControl maps the CLI spelling ("none", "hardware",
// "software") to a FlowControl value.
func ParseFlowControl(s string) (FlowControl, error) {
	switch s {
	case "none", "":
		return FlowNone, nil
	case "hardware":
		return FlowHardware, nil
	case "software":
		return FlowSoftware, nil
	default:
		return 0, fmt.Errorf("serialio: unknown flow control %q", s)
	}
}

// baudFlag maps a bits-per-second rate to the termios CFlag constant
// goserial expects; only the rates this repo's CLIs expose are listed.
func baudFlag(bps int) (serial.CFlag, error) {
	switch bps {
	case 9600:
		return serial.B9600, nil
	case 19200:
		return serial.B19200, nil
	case 38400:
		return serial.B38400, nil
	case 57600:
		return serial.B57600, nil
	case 115200:
		return serial.B115200, nil
	default:
		return 0, fmt.Errorf("serialio: unsupported baud rate %d", bps)
	}
}

func dataBitsFlag(bits int) (serial.CFlag, error) {
	switch bits {
	case 5:
		return serial.CS5, nil
	case 6:
		return serial.CS6, nil
	case 7:
		return serial.CS7, nil
	case 8:
		return serial.CS8, nil
	default:
		return 0, fmt.Errorf("serialio: unsupported data width %d", bits)
	}
}

// Port is a Link backed by a real termios serial device.
type Port struct {
	port *serial.Port
}

// Open opens and configures the serial device named by cfg.Device:
// raw mode, cfg.DataBits data bits, cfg.StopBits stop bits, no parity,
// and a read deadline of cfg.Timeout.
func Open(cfg Config) (*Port, error) {
	baud, err := baudFlag(cfg.Baud)
	if err != nil {
		return nil, err
	}
	dataBits, err := dataBitsFlag(cfg.DataBits)
	if err != nil {
		return nil, err
	}

	opts := serial.NewOptions().SetReadTimeout(cfg.Timeout)
	p, err := serial.Open(cfg.Device, opts)
	if err != nil {
		return nil, fmt.Errorf("serialio: open %s: %w", cfg.Device, err)
	}

	attrs, err := p.GetAttr()
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("serialio: get attrs for %s: %w", cfg.Device, err)
	}
	attrs.MakeRaw()
	attrs.SetSpeed(baud)
	attrs.Cflag = (attrs.Cflag &^ serial.CSIZE) | dataBits | serial.CREAD | serial.CLOCAL
	if cfg.StopBits == 2 {
		attrs.Cflag |= serial.CSTOPB
	} else {
		attrs.Cflag &^= serial.CSTOPB
	}
	switch cfg.FlowControl {
	case FlowHardware:
		attrs.Cflag |= serial.CRTSCTS
	case FlowSoftware:
		attrs.Iflag |= serial.IXON | serial.IXOFF
	}
	if err := p.SetAttr(serial.TCSANOW, attrs); err != nil {
		p.Close()
		return nil, fmt.Errorf("serialio: set attrs for %s: %w", cfg.Device, err)
	}

	log.Debugf("[SERIAL] opened %s at %d baud, %d data bits, %d stop bits, %s timeout",
		cfg.Device, cfg.Baud, cfg.DataBits, cfg.StopBits, cfg.Timeout)
	return &Port{port: p}, nil
}

// Read reads from the port, retrying internally if the underlying
// syscall is interrupted (EINTR) and translating an expired read
// deadline into ErrTimeout so callers can classify it without
// depending on the underlying serial library's own error type.
func (p *Port) Read(data []byte) (int, error) {
	n, err := ReadMax(p.port, data)
	if err != nil && errors.Is(err, os.ErrDeadlineExceeded) {
		return n, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return n, err
}

// Write writes to the port.
func (p *Port) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// Flush discards any unread bytes queued on the input side of the
// port, the way cmd/piboot clears stale data before its first receive
// attempt.
func (p *Port) Flush() error {
	return p.port.Flush(serial.TCIFLUSH)
}

// Close releases the underlying device.
func (p *Port) Close() error {
	return p.port.Close()
}
