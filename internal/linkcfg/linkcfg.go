// Package linkcfg loads cmd/piboot's serial-link settings from a small
// .ini file (cmd/ttywrite takes its settings from flags only and does
// not use this package), the same way the donor drives its
// object-dictionary construction from a parsed external file rather
// than hardcoded constants.
package linkcfg

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"

	"github.com/rpi-go/bootkit/internal/serialio"
)

// Kernel-link defaults a caller can pass to Load as its fallback
// values when it has no more specific notion of what the link should
// default to. cmd/piboot passes its own boot-link defaults instead.
const (
	DefaultBaud     = 115200
	DefaultDataBits = 8
	DefaultStopBits = 1
	DefaultTimeout  = 10 * time.Second
)

// Load reads section from the .ini file at path and returns it as a
// serialio.Config. An empty path or a missing section is not an error
// here — the caller gets defaults back with an empty Device, since CLI flags
// are expected to supply the device path regardless. defaults supplies
// the per-link fallback values (the boot link and the kernel link
// disagree on baud rate and timeout, so there is no single package-
// wide default that fits both).
func Load(path, section string, defaults serialio.Config) (serialio.Config, error) {
	cfg := defaults
	if path == "" {
		return cfg, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("linkcfg: load %s: %w", path, err)
	}
	if !f.HasSection(section) {
		return cfg, nil
	}
	sec := f.Section(section)

	cfg.Device = sec.Key("device").String()
	if v := sec.Key("baud").MustInt(defaults.Baud); v > 0 {
		cfg.Baud = v
	}
	if v := sec.Key("databits").MustInt(defaults.DataBits); v > 0 {
		cfg.DataBits = v
	}
	if v := sec.Key("stopbits").MustInt(defaults.StopBits); v > 0 {
		cfg.StopBits = v
	}
	if ms := sec.Key("timeout_ms").MustInt(int(defaults.Timeout / time.Millisecond)); ms > 0 {
		cfg.Timeout = time.Duration(ms) * time.Millisecond
	}
	return cfg, nil
}
