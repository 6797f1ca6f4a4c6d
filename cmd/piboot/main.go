// Command piboot is the hosted equivalent of the bare-metal bootloader:
// it drives the XMODEM receive engine over a serial link and, once a
// transfer completes, writes the verified image to disk in place of
// branching to it.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rpi-go/bootkit/internal/linkcfg"
	"github.com/rpi-go/bootkit/internal/serialio"
	"github.com/rpi-go/bootkit/pkg/xmodem"
)

// maxImageSize is 63.5 MiB: BOOTLOADER_START_ADDR - BINARY_START_ADDR
// on the original target, the largest image that fits below the
// bootloader itself.
const maxImageSize = 63*1024*1024 + 512*1024

// bootLinkDefaults are the boot link's own requirements (38400 baud,
// 8N1, 750ms read timeout) — distinct from linkcfg's generic
// DefaultBaud/DefaultTimeout, which suit a faster kernel link instead.
var bootLinkDefaults = serialio.Config{
	Baud:     38400,
	DataBits: 8,
	StopBits: 1,
	Timeout:  750 * time.Millisecond,
}

func main() {
	var (
		configPath = flag.String("c", "", "path to link.ini (optional)")
		section    = flag.String("section", "piboot", "section of the link config to use")
		device     = flag.String("d", "", "serial device path (overrides config)")
		output     = flag.String("o", "image.bin", "path to write the received image to")
		loadAddr   = flag.Uint64("a", 0x80000, "address the image would be loaded at")
		verbose    = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := linkcfg.Load(*configPath, *section, bootLinkDefaults)
	if err != nil {
		fmt.Printf("piboot: %v\n", err)
		os.Exit(1)
	}
	if *device != "" {
		cfg.Device = *device
	}
	if cfg.Device == "" {
		fmt.Println("piboot: no serial device given (-d or link.ini)")
		os.Exit(1)
	}

	link, err := serialio.Open(cfg)
	if err != nil {
		fmt.Printf("piboot: %v\n", err)
		os.Exit(1)
	}
	defer link.Close()

	if err := link.Flush(); err != nil {
		log.Warnf("[BOOT] flush failed: %v", err)
	}

	log.Debugf("[BOOT] waiting for an image on %s at %d baud", cfg.Device, cfg.Baud)
	for {
		var out fileBuffer
		sess := xmodem.New(link)
		n, err := sess.ReceiveWithProgress(&out, maxImageSize)
		if err != nil {
			if errors.Is(err, serialio.ErrTimeout) {
				log.Debugf("[BOOT] receive timed out, retrying")
				continue
			}
			log.Errorf("[BOOT] receive failed: %v", err)
			continue
		}

		if err := os.WriteFile(*output, out.data, 0o644); err != nil {
			fmt.Printf("piboot: write %s: %v\n", *output, err)
			os.Exit(1)
		}
		log.Infof("[BOOT] received %d bytes, wrote %s", n, *output)
		log.Infof("[BOOT] would jump to 0x%x", *loadAddr)
		return
	}
}

// fileBuffer accumulates a received image in memory before it is
// written out; a hosted process has no fixed load address to write
// into directly.
type fileBuffer struct {
	data []byte
}

func (b *fileBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}
