// Package simflash simulates a SPI NOR flash chip behind a periph.io SPI
// connection and chip-select pin.
//
// The simulation follows the datasheet behavior that matters to a driver:
// erased memory reads 0xFF, programming can only clear bits, data past the
// end of a page wraps to the start of the same page, program and erase
// commands are ignored unless the write enable latch is set, and the chip
// reports busy for a configurable number of status reads after each
// program, erase or status register write.
package simflash

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/spi"
)

// Opcodes understood by the simulated chip.
const (
	OpWriteStatus = 0x01
	OpProgram     = 0x02
	OpRead        = 0x03
	OpWriteDis    = 0x04
	OpReadStatus  = 0x05
	OpWriteEn     = 0x06
	OpErase4K     = 0x20
	OpReadID      = 0x9F
	OpPowerUp     = 0xAB
	OpPowerDown   = 0xB9
	OpEraseChip   = 0xC7
	OpErase64K    = 0xD8
)

const (
	pageSize = 256

	statusBusy = 1 << 0
	statusWEL  = 1 << 1
)

// Config describes the simulated chip.
type Config struct {
	// Size of the memory in bytes. Defaults to 2MiB.
	Size int
	// ID returned by the Read Identification command.
	ID [3]byte
	// BusyPolls is the number of status reads that report busy after each
	// program, erase or status register write.
	BusyPolls int
	// StuckBusy makes the chip report busy forever.
	StuckBusy bool
	// Status is the initial value of the non-volatile status register bits.
	Status byte
}

// Transaction is one completed chip-select cycle.
type Transaction struct {
	Op   byte
	Addr uint32 // valid for commands with an address
	Data []byte // bytes clocked in after the opcode and address
}

// Chip is a simulated flash chip. It implements spi.Conn; CS returns the
// matching chip-select pin.
type Chip struct {
	mu  sync.Mutex
	cfg Config
	mem []byte

	status     byte
	busyLeft   int
	poweredOff bool

	selected bool
	cur      []byte // bytes clocked in during the current transaction
	addr     uint32

	log        []Transaction
	violations []string
	polls      int
	cs         *Pin
}

// New returns an erased chip.
func New(cfg Config) *Chip {
	if cfg.Size == 0 {
		cfg.Size = 2 << 20
	}
	c := &Chip{cfg: cfg, mem: make([]byte, cfg.Size)}
	c.status = cfg.Status &^ (statusBusy | statusWEL)
	for i := range c.mem {
		c.mem[i] = 0xFF
	}
	c.cs = &Pin{Pin: gpiotest.Pin{N: "CS", L: gpio.High}, chip: c}
	return c
}

// Load returns a chip whose memory is initialized from img. The chip size
// is cfg.Size (or len(img) if unset); missing bytes read as erased.
func Load(cfg Config, img []byte) *Chip {
	if cfg.Size == 0 {
		cfg.Size = len(img)
	}
	c := New(cfg)
	copy(c.mem, img)
	return c
}

// CS returns the chip-select pin of the chip.
func (c *Chip) CS() *Pin { return c.cs }

// Memory returns a copy of the memory array.
func (c *Chip) Memory() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.mem...)
}

// Log returns the completed transactions, oldest first.
func (c *Chip) Log() []Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transaction(nil), c.log...)
}

// Programs returns the page program transactions, oldest first.
func (c *Chip) Programs() []Transaction {
	var out []Transaction
	for _, t := range c.Log() {
		if t.Op == OpProgram {
			out = append(out, t)
		}
	}
	return out
}

// Status returns the non-volatile bits of the status register, as set by
// the last Write Status Register command.
func (c *Chip) Status() byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status &^ (statusBusy | statusWEL)
}

// ResetLog clears the transaction log and the status poll counter.
func (c *Chip) ResetLog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = nil
	c.polls = 0
}

// Polls returns the number of status reads since the last ResetLog.
func (c *Chip) Polls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls
}

// Violations lists protocol misuse observed by the chip, such as commands
// issued while busy or data clocked without chip-select.
func (c *Chip) Violations() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.violations...)
}

// SetStuckBusy changes whether the chip reports busy forever.
func (c *Chip) SetStuckBusy(stuck bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.StuckBusy = stuck
}

func (c *Chip) busy() bool {
	return c.cfg.StuckBusy || c.busyLeft > 0
}

func (c *Chip) statusByte() byte {
	s := c.status &^ statusBusy
	if c.busy() {
		s |= statusBusy
	}
	return s
}

func (c *Chip) violate(format string, a ...any) {
	c.violations = append(c.violations, fmt.Sprintf(format, a...))
}

// String implements conn.Resource.
func (c *Chip) String() string { return "simflash" }

// Halt implements conn.Resource.
func (c *Chip) Halt() error { return nil }

// Duplex implements conn.Conn.
func (c *Chip) Duplex() conn.Duplex { return conn.Full }

// Tx clocks w into the chip one byte at a time and stores the bytes the
// chip drives back into r.
func (c *Chip) Tx(w, r []byte) error {
	if len(r) != 0 && len(r) != len(w) {
		return fmt.Errorf("simflash: r has %d bytes, w has %d", len(r), len(w))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.selected {
		c.violate("%d bytes clocked without chip select", len(w))
		return nil
	}
	for i, b := range w {
		out := c.clock(b)
		if len(r) != 0 {
			r[i] = out
		}
	}
	return nil
}

// TxPackets implements spi.Conn.
func (c *Chip) TxPackets(p []spi.Packet) error {
	for _, pkt := range p {
		w := pkt.W
		if len(w) == 0 {
			w = make([]byte, len(pkt.R))
		}
		if err := c.Tx(w, pkt.R); err != nil {
			return err
		}
	}
	return nil
}

// clock handles one byte of the current transaction and returns the byte
// driven on MISO in the same cycle.
func (c *Chip) clock(b byte) byte {
	n := len(c.cur)
	c.cur = append(c.cur, b)
	if n == 0 {
		return 0xFF
	}

	op := c.cur[0]
	if c.poweredOff && op != OpPowerUp {
		return 0xFF
	}

	switch op {
	case OpReadStatus:
		return c.statusByte()
	case OpReadID:
		if n <= 3 {
			return c.cfg.ID[n-1]
		}
		return 0
	case OpRead:
		if n < 4 {
			c.addr = c.addr<<8 | uint32(b)
			if n == 3 {
				c.addr %= uint32(len(c.mem))
			}
			return 0xFF
		}
		out := c.mem[c.addr]
		c.addr = (c.addr + 1) % uint32(len(c.mem))
		return out
	}
	return 0xFF
}

// selectChip is called on chip-select edges.
func (c *Chip) selectChip(l gpio.Level) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case l == gpio.Low && !c.selected:
		c.selected = true
		c.cur = c.cur[:0]
		c.addr = 0
	case l == gpio.High && c.selected:
		c.selected = false
		if len(c.cur) > 0 {
			c.execute()
		}
	}
}

// execute runs the command of the transaction that just ended, on the
// rising edge of chip-select.
func (c *Chip) execute() {
	op := c.cur[0]
	t := Transaction{Op: op}
	switch op {
	case OpProgram, OpErase4K, OpErase64K, OpRead:
		if len(c.cur) >= 4 {
			t.Addr = uint32(c.cur[1])<<16 | uint32(c.cur[2])<<8 | uint32(c.cur[3])
			t.Data = append([]byte(nil), c.cur[4:]...)
		}
	default:
		t.Data = append([]byte(nil), c.cur[1:]...)
	}
	c.log = append(c.log, t)

	if op == OpReadStatus {
		c.polls++
		if c.busyLeft > 0 {
			c.busyLeft--
		}
		return
	}
	if c.poweredOff {
		if op == OpPowerUp {
			c.poweredOff = false
		}
		return
	}
	if c.busy() {
		c.violate("opcode 0x%02X issued while busy", op)
		return
	}

	switch op {
	case OpWriteEn:
		c.status |= statusWEL
	case OpWriteDis:
		c.status &^= statusWEL
	case OpPowerDown:
		c.poweredOff = true
	case OpWriteStatus:
		if len(t.Data) >= 1 && c.latch(op) {
			c.status = t.Data[0]&^(statusBusy|statusWEL) | c.status&(statusBusy|statusWEL)
			c.startBusy()
		}
	case OpProgram:
		if len(c.cur) < 4 || !c.latch(op) {
			return
		}
		if len(t.Data) > pageSize {
			// only the last 256 bytes are latched
			t.Data = t.Data[len(t.Data)-pageSize:]
			c.violate("page program of %d bytes at 0x%06X", len(c.cur)-4, t.Addr)
		}
		if int(t.Addr%pageSize)+len(t.Data) > pageSize {
			c.violate("page program at 0x%06X wraps within page", t.Addr)
		}
		page := t.Addr &^ (pageSize - 1)
		for i, v := range t.Data {
			a := (page | (t.Addr+uint32(i))%pageSize) % uint32(len(c.mem))
			c.mem[a] &= v
		}
		c.startBusy()
	case OpErase4K:
		c.erase(t.Addr, 4<<10)
	case OpErase64K:
		c.erase(t.Addr, 64<<10)
	case OpEraseChip:
		if c.latch(op) {
			c.fill(0, len(c.mem))
			c.startBusy()
		}
	}
}

func (c *Chip) erase(addr uint32, size int) {
	if len(c.cur) < 4 || !c.latch(c.cur[0]) {
		return
	}
	start := int(addr) &^ (size - 1) % len(c.mem)
	c.fill(start, min(start+size, len(c.mem)))
	c.startBusy()
}

// latch consumes the write enable latch. Commands that need it are
// ignored without it, like on real hardware.
func (c *Chip) latch(op byte) bool {
	if c.status&statusWEL == 0 {
		c.violate("opcode 0x%02X without write enable", op)
		return false
	}
	c.status &^= statusWEL
	return true
}

func (c *Chip) fill(from, to int) {
	for i := from; i < to; i++ {
		c.mem[i] = 0xFF
	}
}

func (c *Chip) startBusy() {
	c.busyLeft = c.cfg.BusyPolls
}

// Pin is the chip-select input of a Chip.
type Pin struct {
	gpiotest.Pin
	chip *Chip
}

// Out drives chip-select. Low starts a transaction, high ends it.
func (p *Pin) Out(l gpio.Level) error {
	if err := p.Pin.Out(l); err != nil {
		return err
	}
	p.chip.selectChip(l)
	return nil
}
