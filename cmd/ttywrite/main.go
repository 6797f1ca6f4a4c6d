// Command ttywrite is the host-side counterpart to cmd/piboot: it
// opens a serial port and sends a file over it, either as a raw byte
// stream or as an XMODEM-1K transfer with progress reporting.
package main

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rpi-go/bootkit/internal/serialio"
	"github.com/rpi-go/bootkit/pkg/xmodem"
)

func main() {
	var (
		input    = flag.String("i", "", "path to the file to send, or \"-\"/omitted for stdin")
		baud     = flag.Int("b", 115200, "baud rate")
		timeout  = flag.Duration("t", 10*time.Second, "read timeout")
		dataBits = flag.Int("w", 8, "character width (data bits)")
		flowCtrl = flag.String("f", "none", "flow control: none|hardware|software")
		stopBits = flag.Int("s", 1, "stop bits")
		raw      = flag.Bool("r", false, "send raw bytes, bypassing XMODEM")
		verbose  = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	if flag.NArg() != 1 {
		fmt.Println("usage: ttywrite [flags] <tty-path>")
		os.Exit(1)
	}
	ttyPath := flag.Arg(0)

	flow, err := serialio.ParseFlowControl(*flowCtrl)
	if err != nil {
		fmt.Printf("ttywrite: %v\n", err)
		os.Exit(1)
	}

	var data []byte
	if *input == "" || *input == "-" {
		data, err = io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Printf("ttywrite: read stdin: %v\n", err)
			os.Exit(1)
		}
	} else {
		data, err = os.ReadFile(*input)
	}
	if err != nil {
		fmt.Printf("ttywrite: read %s: %v\n", *input, err)
		os.Exit(1)
	}

	link, err := serialio.Open(serialio.Config{
		Device:      ttyPath,
		Baud:        *baud,
		DataBits:    *dataBits,
		StopBits:    *stopBits,
		Timeout:     *timeout,
		FlowControl: flow,
	})
	if err != nil {
		fmt.Printf("ttywrite: %v\n", err)
		os.Exit(1)
	}
	defer link.Close()

	if *raw {
		n, err := io.Copy(link, bytes.NewReader(data))
		if err != nil {
			fmt.Printf("ttywrite: write: %v\n", err)
			os.Exit(1)
		}
		log.Infof("[TTYWRITE] sent %d raw bytes", n)
		return
	}

	sess := xmodem.NewWithProgress(link, func(e xmodem.Event) {
		switch e.Kind {
		case xmodem.EventWaiting:
			log.Debugf("[TTYWRITE] waiting for receiver")
		case xmodem.EventStarted:
			log.Debugf("[TTYWRITE] handshake complete, sending")
		case xmodem.EventPacket:
			log.Debugf("[TTYWRITE][seq %d] acknowledged", e.Packet)
		}
	})
	n, err := sess.TransmitWithProgress(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, xmodem.ErrCanceled) {
			fmt.Println("ttywrite: receiver canceled the transfer")
		} else {
			fmt.Printf("ttywrite: transmit failed: %v\n", err)
		}
		os.Exit(1)
	}
	log.Infof("[TTYWRITE] sent %d bytes", n)
}
