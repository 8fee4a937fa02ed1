package s25fl

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StatusRegister represents the status register of the flash chip.
//
//	Bits| [S25FL216K|Status Register]   | [W25Q128|7.1 Status Registers]
//	----+-------------------------------+-------------------------------
//	7   | SRP: Status register protect  | SRP: Status Register Protect
//	6   | SEC: Sector/block protect     | SEC: Sector protect
//	5   | TB: Top/bottom protect        | TB: Top/Bottom protect
//	4:2 | BP2-0: Block protect          | BP2-0: Block Protect bit 2-0
//	1   | WEL: Write enable latch       | WEL: Write Enable Latch
//	0   | WIP: Write in progress        | BUSY: Erase/Write in progress
//
// Only the busy bit drives the driver's behavior. The protection bits are
// chip-specific and are passed through untouched by WriteStatusRegister.
type StatusRegister byte

func (sr StatusRegister) StatusRegisterProtect() bool { return sr&(1<<7) != 0 }
func (sr StatusRegister) SectorProtect() bool         { return sr&(1<<6) != 0 }
func (sr StatusRegister) TopBottom() bool             { return sr&(1<<5) != 0 }
func (sr StatusRegister) BlockProtect2() bool         { return sr&(1<<4) != 0 }
func (sr StatusRegister) BlockProtect1() bool         { return sr&(1<<3) != 0 }
func (sr StatusRegister) BlockProtect0() bool         { return sr&(1<<2) != 0 }
func (sr StatusRegister) WriteEnabled() bool          { return sr&(1<<1) != 0 }
func (sr StatusRegister) Busy() bool                  { return sr&(1<<0) != 0 }

func (sr StatusRegister) String() string {
	b := fmt.Sprintf("%08b", byte(sr))
	s := []string{}
	if sr.StatusRegisterProtect() {
		s = append(s, "SRP")
	}
	if sr.SectorProtect() {
		s = append(s, "SEC")
	}
	if sr.TopBottom() {
		s = append(s, "TB")
	}
	if sr.BlockProtect2() {
		s = append(s, "BP2")
	}
	if sr.BlockProtect1() {
		s = append(s, "BP1")
	}
	if sr.BlockProtect0() {
		s = append(s, "BP0")
	}
	if sr.WriteEnabled() {
		s = append(s, "WEL")
	}
	if sr.Busy() {
		s = append(s, "BUSY")
	}
	if len(s) == 0 {
		return b
	}
	return b + " " + strings.Join(s, ",")
}

// ReadStatus reads the status register.
func (f *Flash) ReadStatus() (StatusRegister, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readStatus()
}

func (f *Flash) readStatus() (StatusRegister, error) {
	buf := []byte{flashCmdReadStatusRegister, 0}
	if err := f.tx(buf); err != nil {
		return 0, err
	}
	return StatusRegister(buf[1]), nil
}

// WaitReady polls the status register until the write-in-progress bit is
// clear. It has no timeout of its own: a chip that never becomes ready
// blocks until ctx is done, in which case the returned error wraps both
// ErrBusyTimeout and the context error.
func (f *Flash) WaitReady(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitReady(ctx)
}

func (f *Flash) waitReady(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrBusyTimeout, err)
		}

		sr, err := f.readStatus()
		if err != nil {
			return err
		}
		if !sr.Busy() {
			return nil
		}

		if now := f.now(); now.Sub(f.lastBusyLog) > f.busyLogInterval {
			f.lastBusyLog = now
			f.log.Debug("flash busy", "status", sr)
		}

		if f.pollInterval > 0 {
			t := time.NewTimer(f.pollInterval)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
	}
}
