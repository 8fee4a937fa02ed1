package s25fl

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"

	"github.com/gentam/s25fl/internal/simflash"
)

// testPort is a spidev stand-in wired to a simulated chip.
type testPort struct {
	chip *simflash.Chip
	// ownCS makes every Tx assert the chip's select line, like a spidev
	// controller driving its native CS.
	ownCS bool

	freq   physic.Frequency
	closed bool
}

func (p *testPort) String() string                    { return "spi-test" }
func (p *testPort) LimitSpeed(physic.Frequency) error { return nil }

func (p *testPort) Connect(f physic.Frequency, mode spi.Mode, bits int) (spi.Conn, error) {
	p.freq = f
	if p.ownCS {
		return selectingConn{p.chip}, nil
	}
	return p.chip, nil
}

func (p *testPort) Close() error {
	p.closed = true
	return nil
}

type selectingConn struct {
	*simflash.Chip
}

func (c selectingConn) Tx(w, r []byte) error {
	cs := c.CS()
	if err := cs.Out(gpio.Low); err != nil {
		return err
	}
	err := c.Chip.Tx(w, r)
	return errors.Join(err, cs.Out(gpio.High))
}

func registerPort(t *testing.T, name string, p *testPort) {
	t.Helper()
	err := spireg.Register(name, nil, -1, func() (spi.PortCloser, error) { return p, nil })
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { spireg.Unregister(name) })
}

func registerPin(t *testing.T, p gpio.PinIO) {
	t.Helper()
	if err := gpioreg.Register(p); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { gpioreg.Unregister(p.Name()) })
}

func discardLogger() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestOpenSPIDevDefaults(t *testing.T) {
	chip := simflash.New(simflash.Config{ID: testID, BusyPolls: 1})
	port := &testPort{chip: chip, ownCS: true}
	registerPort(t, "/dev/spidev0.0", port)

	d, err := open(Config{}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if port.freq != physic.MegaHertz {
		t.Errorf("clock = %s, want %s", port.freq, physic.MegaHertz)
	}
	if _, ok := d.Flash.cs.(controllerCS); !ok {
		t.Errorf("chip select = %T, want controllerCS", d.Flash.cs)
	}
	if d.FTDI != nil {
		t.Error("FTDI set for a spidev bus")
	}

	if id, err := d.Flash.ReadID(); err != nil || id != testID {
		t.Fatalf("ReadID() = %s, %v, want %X", id, err, testID)
	}
	data := randomBytes(300, 1)
	if err := d.Flash.Write(context.Background(), 0x1F0, data); err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(data))
	if err := d.Flash.Read(0x1F0, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("read back differs from written data")
	}
	checkNoViolations(t, chip)

	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if !port.closed {
		t.Error("Close did not close the SPI port")
	}
}

func TestOpenSPIDevPins(t *testing.T) {
	chip := simflash.New(simflash.Config{ID: testID})
	port := &testPort{chip: chip}
	registerPort(t, "spi-test", port)
	registerPin(t, chip.CS())
	reset := &gpiotest.Pin{N: "FLASH_RESET", L: gpio.High}
	registerPin(t, reset)

	d, err := open(Config{
		Bus:   "spi-test",
		CS:    chip.CS().Name(),
		Reset: "FLASH_RESET",
		Clock: 5 * physic.MegaHertz,
	}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if port.freq != 5*physic.MegaHertz {
		t.Errorf("clock = %s, want 5MHz", port.freq)
	}
	if reset.Read() != gpio.Low {
		t.Error("reset not asserted while open")
	}
	if _, err := d.Flash.ReadID(); err != nil {
		t.Fatal(err)
	}
	checkNoViolations(t, chip)

	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if reset.Read() != gpio.High {
		t.Error("reset still asserted after Close")
	}
	if !port.closed {
		t.Error("Close did not close the SPI port")
	}
}

func TestOpenSPIDevErrors(t *testing.T) {
	chip := simflash.New(simflash.Config{ID: testID})
	port := &testPort{chip: chip}
	registerPort(t, "spi-test", port)
	// Low means held by someone else; a failed open must leave it alone.
	reset := &gpiotest.Pin{N: "FLASH_RESET", L: gpio.Low}
	registerPin(t, reset)

	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown port", Config{Bus: "spi-missing"}},
		{"unknown CS", Config{Bus: "spi-test", CS: "NO_SUCH_PIN", Reset: "FLASH_RESET"}},
		{"unknown reset", Config{Bus: "spi-test", Reset: "NO_SUCH_PIN"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			port.closed = false
			if _, err := open(tt.cfg, discardLogger()); err == nil {
				t.Fatal("open() succeeded")
			}
			if reset.Read() != gpio.Low {
				t.Error("failed open drove the reset pin")
			}
			if tt.cfg.Bus == "spi-test" && !port.closed {
				t.Error("failed open left the SPI port open")
			}
		})
	}
}
