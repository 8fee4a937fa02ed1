package s25fl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// Flash drives one SPI NOR flash chip over a SPI connection and a
// dedicated chip-select line.
//
// Apart from the timestamp used to throttle busy diagnostics, a Flash
// keeps no chip state between calls. The methods of a Flash are safe for
// concurrent use, but other users of the same bus must be excluded by
// the caller.
type Flash struct {
	conn spi.Conn
	cs   gpio.PinOut
	log  *slog.Logger

	maxTx           int
	pollInterval    time.Duration
	busyLogInterval time.Duration
	now             func() time.Time

	mu          sync.Mutex
	lastBusyLog time.Time
}

// Option configures a Flash.
type Option func(*Flash)

// WithLogger sets the logger used for diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(f *Flash) { f.log = l }
}

// WithClock sets the time source used to throttle busy diagnostics.
func WithClock(now func() time.Time) Option {
	return func(f *Flash) { f.now = now }
}

// WithPollInterval sets the pause between status polls. The default of 0
// polls back to back.
func WithPollInterval(d time.Duration) Option {
	return func(f *Flash) { f.pollInterval = d }
}

// WithBusyLogInterval sets the minimum time between two busy diagnostics.
func WithBusyLogInterval(d time.Duration) Option {
	return func(f *Flash) { f.busyLogInterval = d }
}

// WithMaxTransfer limits the size of a single SPI transaction, opcode and
// address included. Reads larger than that are split.
func WithMaxTransfer(n int) Option {
	return func(f *Flash) { f.maxTx = n }
}

// New returns a Flash using conn for data and cs as chip-select. cs is
// driven high before New returns.
func New(c spi.Conn, cs gpio.PinOut, opts ...Option) (*Flash, error) {
	const (
		maxTx = 65536 // [FTDI-AN_108]
	)

	f := &Flash{
		conn:            c,
		cs:              cs,
		maxTx:           maxTx,
		busyLogInterval: time.Second,
		now:             time.Now,
	}
	if l, ok := c.(conn.Limits); ok && l.MaxTxSize() > 0 {
		f.maxTx = l.MaxTxSize()
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	f.log = f.log.With("component", "s25fl")

	if f.maxTx <= cmdBytes {
		return nil, fmt.Errorf("max transfer size %d too small", f.maxTx)
	}
	if err := cs.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("failed to deassert chip select: %w", err)
	}
	return f, nil
}

// Flash commands:
//   - [S25FL216K|Command Definitions]
//   - [N25Q32|Table 16: Command Set]
//   - [W25Q128|8.1.2 Instruction Set Table 1]
const (
	flashCmdWriteStatusRegister = 0x01
	flashCmdPageProgram         = 0x02
	flashCmdRead                = 0x03
	flashCmdWriteDisable        = 0x04
	flashCmdReadStatusRegister  = 0x05
	flashCmdWriteEnable         = 0x06
	flashCmdErase4KB            = 0x20 // Sector Erase (4KB)
	flashCmdReadID              = 0x9F
	flashCmdPowerUp             = 0xAB // Release Power Down
	flashCmdPowerDown           = 0xB9
	flashCmdEraseChip           = 0xC7 // Bulk Erase / Chip Erase
	flashCmdErase64KB           = 0xD8 // Block Erase (64KB)
)

const (
	cmdBytes  = 4 // opcode + 24-bit address
	maxAddr24 = 1<<24 - 1
)

// tx wraps SPI transaction with CS assertion.
func (f *Flash) tx(buf []byte) (err error) {
	if err = f.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer func() {
		if csErr := f.cs.Out(gpio.High); csErr != nil && err == nil {
			err = csErr
		}
	}()
	err = f.conn.Tx(buf, buf)
	return
}

// cmdAddr returns a buffer holding op, the big-endian 24-bit addr and room
// for n data bytes.
func cmdAddr(op byte, addr uint32, n int) []byte {
	buf := make([]byte, cmdBytes+n)
	buf[0] = op
	buf[1] = byte(addr >> 16)
	buf[2] = byte(addr >> 8)
	buf[3] = byte(addr)
	return buf
}

// checkRange verifies that n bytes starting at addr are addressable.
func checkRange(addr uint32, n int) error {
	last := uint64(addr)
	if n > 0 {
		last += uint64(n) - 1
	}
	if last > maxAddr24 {
		return fmt.Errorf("%w: 0x%X+%d", ErrAddressRange, addr, n)
	}
	return nil
}

// PowerUp releases the chip from deep power-down.
func (f *Flash) PowerUp() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := []byte{flashCmdPowerUp}
	if err := f.tx(buf); err != nil {
		return err
	}
	time.Sleep(maxParam(func(c *Chip) time.Duration { return c.TRES1 }))
	return nil
}

// PowerDown puts the chip into deep power-down. Only PowerUp is accepted
// until then.
func (f *Flash) PowerDown() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := []byte{flashCmdPowerDown}
	if err := f.tx(buf); err != nil {
		return err
	}
	time.Sleep(maxParam(func(c *Chip) time.Duration { return c.TDP }))
	return nil
}

// ReadID returns the manufacturer, memory type and capacity bytes. An ID
// with a zero capacity byte, or all ones, means nothing answered on the
// bus and is reported as ErrNoDevice.
func (f *Flash) ReadID() (JEDECID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := make([]byte, 4)
	buf[0] = flashCmdReadID
	if err := f.tx(buf); err != nil {
		return JEDECID{}, err
	}

	var id JEDECID
	copy(id[:], buf[1:])
	if id.Capacity() == 0 || id == (JEDECID{0xFF, 0xFF, 0xFF}) {
		return id, fmt.Errorf("%w: read ID %s", ErrNoDevice, id)
	}
	return id, nil
}

// Read fills buf with the contents of the flash starting at addr. Read
// does not wait for a pending program or erase to finish.
func (f *Flash) Read(addr uint32, buf []byte) error {
	if err := checkRange(addr, len(buf)); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	maxData := f.maxTx - cmdBytes
	for off := 0; off < len(buf); {
		chunk := min(len(buf)-off, maxData)
		tx := cmdAddr(flashCmdRead, addr, chunk)
		// tx[4:] dummy bytes

		if err := f.tx(tx); err != nil {
			return err
		}
		copy(buf[off:], tx[cmdBytes:])

		addr += uint32(chunk)
		off += chunk
	}
	return nil
}

// WriteEnable sets the write enable latch and waits until the chip is
// ready. The chip clears the latch after every program, erase and status
// register write.
func (f *Flash) WriteEnable(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writeEnable(ctx)
}

func (f *Flash) writeEnable(ctx context.Context) error {
	buf := []byte{flashCmdWriteEnable}
	if err := f.tx(buf); err != nil {
		return err
	}
	return f.waitReady(ctx)
}

// WriteDisable clears the write enable latch.
func (f *Flash) WriteDisable() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	buf := []byte{flashCmdWriteDisable}
	return f.tx(buf)
}

// mutate runs a write-enabled command: wait until ready, set the write
// enable latch, send buf and wait until the chip has finished.
func (f *Flash) mutate(ctx context.Context, buf []byte) error {
	if err := f.waitReady(ctx); err != nil {
		return err
	}
	if err := f.writeEnable(ctx); err != nil {
		return err
	}
	if err := f.tx(buf); err != nil {
		return err
	}
	return f.waitReady(ctx)
}

// pageProgram programs one chunk that must not cross a page boundary.
func (f *Flash) pageProgram(ctx context.Context, addr uint32, data []byte) error {
	if len(data) == 0 {
		return errors.New("empty page program")
	}
	if int(addr%PageSize)+len(data) > PageSize {
		return fmt.Errorf("page program of %d bytes at 0x%06X crosses a page boundary", len(data), addr)
	}

	buf := cmdAddr(flashCmdPageProgram, addr, len(data))
	copy(buf[cmdBytes:], data)

	f.log.Debug("page program", "addr", addr, "len", len(data))
	return f.mutate(ctx, buf)
}

// Write programs data starting at addr. The region must have been erased
// beforehand; programming can only clear bits. The write is split so that
// no page program command crosses a page boundary.
func (f *Flash) Write(ctx context.Context, addr uint32, data []byte) error {
	if err := checkRange(addr, len(data)); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	chunks := splitPages(addr, len(data))
	f.log.Debug("write", "addr", addr, "len", len(data), "pages", len(chunks))
	for _, c := range chunks {
		if err := f.pageProgram(ctx, c.addr, data[c.off:c.off+c.n]); err != nil {
			return fmt.Errorf("program 0x%06X: %w", c.addr, err)
		}
	}
	return nil
}

// EraseSector erases the 4KB sector containing addr. The chip ignores the
// low address bits.
func (f *Flash) EraseSector(ctx context.Context, addr uint32) error {
	if err := checkRange(addr, 1); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutate(ctx, cmdAddr(flashCmdErase4KB, addr, 0))
}

// EraseBlock erases the 64KB block containing addr.
func (f *Flash) EraseBlock(ctx context.Context, addr uint32) error {
	if err := checkRange(addr, 1); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutate(ctx, cmdAddr(flashCmdErase64KB, addr, 0))
}

// EraseChip bulk erase the entire chip. This takes seconds, during which
// the call blocks.
func (f *Flash) EraseChip(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutate(ctx, []byte{flashCmdEraseChip})
}

// Erase erases every sector touched by the size bytes starting from addr,
// using 64KB block erases where the range covers whole aligned blocks and
// 4KB sector erases elsewhere.
func (f *Flash) Erase(ctx context.Context, addr uint32, size int) error {
	const (
		blockSize  = 64 << 10 // 64KB
		sectorSize = 4 << 10  // 4KB
	)

	if size <= 0 {
		return nil
	}
	if err := checkRange(addr, size); err != nil {
		return err
	}

	end := uint64(addr) + uint64(size)
	a := uint64(addr) &^ (sectorSize - 1)
	for a < end {
		if a%blockSize == 0 && a+blockSize <= end {
			if err := f.EraseBlock(ctx, uint32(a)); err != nil {
				return err
			}
			a += blockSize
			continue
		}
		if err := f.EraseSector(ctx, uint32(a)); err != nil {
			return err
		}
		a += sectorSize
	}
	return nil
}

// WriteStatusRegister writes v to the status register. The meaning of the
// protection bits is chip-specific.
func (f *Flash) WriteStatusRegister(ctx context.Context, v StatusRegister) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mutate(ctx, []byte{flashCmdWriteStatusRegister, byte(v)})
}
