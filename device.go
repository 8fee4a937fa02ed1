package s25fl

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
	"periph.io/x/host/v3/ftdi"
)

// BusFTDI selects the MPSSE engine of an FT2232H as SPI controller.
const BusFTDI = "ftdi"

// Config selects the SPI controller and pins a Device talks through.
type Config struct {
	// Bus is BusFTDI or a spidev port name such as "/dev/spidev0.0".
	Bus string
	// CS is the chip-select pin name. For BusFTDI it is an ADBUS/ACBUS pin
	// ("D4", "C0", ...); otherwise a gpioreg name. Empty means D4 for
	// BusFTDI and the controller's own chip-select for spidev.
	CS string
	// Reset is an optional pin held low while the Device is open, keeping
	// another bus master (e.g. an FPGA booting from the flash) off the bus.
	Reset string
	// Clock defaults to 30MHz for BusFTDI and 1MHz otherwise.
	Clock physic.Frequency
}

// Device owns the SPI port and pins of an open flash.
type Device struct {
	Flash *Flash
	FTDI  *ftdi.FT232H // nil unless Bus is BusFTDI

	port  spi.PortCloser
	reset gpio.PinIO
}

var hostInitialized atomic.Bool

// Open initializes the host drivers, connects to the SPI controller
// selected by cfg and returns a Device whose Flash uses it.
func Open(cfg Config, opts ...Option) (*Device, error) {
	if hostInitialized.CompareAndSwap(false, true) {
		if _, err := host.Init(); err != nil {
			return nil, fmt.Errorf("host initialization failed: %w", err)
		}
	}
	return open(cfg, opts...)
}

func open(cfg Config, opts ...Option) (*Device, error) {
	d := &Device{}
	var cs gpio.PinOut
	var reset gpio.PinIO
	var err error
	if cfg.Bus == BusFTDI {
		cs, reset, err = d.openFTDI(&cfg)
	} else {
		cs, reset, err = d.openSPIDev(&cfg)
	}
	if err != nil {
		d.Close()
		return nil, err
	}

	// [FTDI AN_114|1.2]> FTDI device can only support mode 0 and mode 2 due to the limitation of MPSSE engine
	// [S25FL216K|SPI Modes] mode 0 and mode 3 are supported
	conn, err := d.port.Connect(cfg.Clock, spi.Mode0, 8)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("SPI connection failed: %w", err)
	}

	if reset != nil {
		if err := reset.Out(gpio.Low); err != nil {
			d.Close()
			return nil, fmt.Errorf("failed to assert reset: %w", err)
		}
		d.reset = reset
	}

	d.Flash, err = New(conn, cs, opts...)
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Close releases the reset pin, if Open asserted it, and closes the SPI
// port.
func (d *Device) Close() error {
	var errs []error
	if d.reset != nil {
		errs = append(errs, d.reset.Out(gpio.High))
	}
	if d.port != nil {
		errs = append(errs, d.port.Close())
	}
	return errors.Join(errs...)
}

func (d *Device) openFTDI(cfg *Config) (cs gpio.PinOut, reset gpio.PinIO, err error) {
	if err := d.findFT2232H(); err != nil {
		return nil, nil, err
	}

	if cfg.Clock == 0 {
		cfg.Clock = 30 * physic.MegaHertz // [AN_135 3.2.1 Divisors]
	}
	if cfg.CS == "" {
		cfg.CS = "D4"
	}

	// [EB82|Appendix A. Sheet 2 of 5 (USB to SPI/RS232)] / [icebreaker-sch.pdf]
	// ADBUS0 | SCK
	// ADBUS1 | MOSI
	// ADBUS2 | MISO
	// ADBUS4 | SS_B (CS)
	// ADBUS7 | iCE_CRESET on iCE40 boards
	pin := ftdiPin(d.FTDI, cfg.CS)
	if pin == nil {
		return nil, nil, fmt.Errorf("unknown FTDI pin %q", cfg.CS)
	}
	if cfg.Reset != "" {
		if reset = ftdiPin(d.FTDI, cfg.Reset); reset == nil {
			return nil, nil, fmt.Errorf("unknown FTDI pin %q", cfg.Reset)
		}
	}

	port, err := d.FTDI.SPI()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get SPI port: %w", err)
	}
	d.port = port
	return pin, reset, nil
}

func (d *Device) findFT2232H() error {
	const (
		vendorID  = 0x0403 // FTDI
		productID = 0x6010 // FT2232H
	)

	info := ftdi.Info{}
	for _, dev := range ftdi.All() {
		dev.Info(&info)
		if info.VenID != vendorID || info.DevID != productID {
			continue
		}
		if ft, ok := dev.(*ftdi.FT232H); ok {
			d.FTDI = ft
			return nil
		}
	}

	return errors.New("FT2232H device not found")
}

func ftdiPin(ft *ftdi.FT232H, name string) gpio.PinIO {
	pins := map[string]gpio.PinIO{
		"D0": ft.D0, "D1": ft.D1, "D2": ft.D2, "D3": ft.D3,
		"D4": ft.D4, "D5": ft.D5, "D6": ft.D6, "D7": ft.D7,
		"C0": ft.C0, "C1": ft.C1, "C2": ft.C2, "C3": ft.C3,
		"C4": ft.C4, "C5": ft.C5, "C6": ft.C6, "C7": ft.C7,
	}
	return pins[strings.ToUpper(name)]
}

func (d *Device) openSPIDev(cfg *Config) (cs gpio.PinOut, reset gpio.PinIO, err error) {
	if cfg.Bus == "" {
		cfg.Bus = "/dev/spidev0.0"
	}
	if cfg.Clock == 0 {
		cfg.Clock = physic.MegaHertz
	}

	port, err := spireg.Open(cfg.Bus)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open SPI port: %w", err)
	}
	d.port = port

	if cfg.Reset != "" {
		if reset = gpioreg.ByName(cfg.Reset); reset == nil {
			return nil, nil, fmt.Errorf("failed to open reset pin %s", cfg.Reset)
		}
	}
	if cfg.CS == "" {
		return controllerCS{gpio.INVALID}, reset, nil
	}
	pin := gpioreg.ByName(cfg.CS)
	if pin == nil {
		return nil, nil, fmt.Errorf("failed to open CS pin %s", cfg.CS)
	}
	return pin, reset, nil
}

// controllerCS stands in for the chip-select line when the SPI controller
// asserts it itself for the duration of each Tx.
type controllerCS struct {
	gpio.PinIO
}

func (controllerCS) String() string       { return "controller CS" }
func (controllerCS) Name() string         { return "controller CS" }
func (controllerCS) Out(gpio.Level) error { return nil }
