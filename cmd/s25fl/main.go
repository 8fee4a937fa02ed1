// Command s25fl reads, programs and erases SPI NOR flash chips through an
// FT2232H or a Linux spidev controller.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gentam/s25fl"
)

var (
	busName      string
	csPin        string
	resetPin     string
	clockFlag    string
	logLevel     string
	logFormat    string
	timeoutScale float64
)

var rootCmd = &cobra.Command{
	Use:           "s25fl",
	Short:         "SPI NOR flash programmer",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&busName, "bus", s25fl.BusFTDI, `SPI controller: "ftdi", a spidev port such as /dev/spidev0.0, or sim:FILE (simulated chip, status register kept in FILE.sr)`)
	pf.StringVar(&csPin, "cs", "", "chip-select pin (default D4 on ftdi, controller CS on spidev)")
	pf.StringVar(&resetPin, "reset", "", "pin held low while the flash is accessed (D7 for iCE40 boards)")
	pf.StringVar(&clockFlag, "clock", "", "SPI clock, e.g. 10MHz")
	pf.StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	pf.StringVar(&logFormat, "log-format", "text", "log format: text or json")
	pf.Float64Var(&timeoutScale, "timeout-scale", 4, "multiplier applied to datasheet timings for operation deadlines (0 waits forever)")
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(logFormat) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", logFormat)
	}
}

func deviceConfig() (s25fl.Config, error) {
	cfg := s25fl.Config{Bus: busName, CS: csPin, Reset: resetPin}
	if clockFlag != "" {
		if err := cfg.Clock.Set(clockFlag); err != nil {
			return cfg, fmt.Errorf("invalid clock %q: %w", clockFlag, err)
		}
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
