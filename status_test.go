package s25fl

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/gentam/s25fl/internal/simflash"
)

func TestStatusRegister_String(t *testing.T) {
	tests := []struct {
		sr   StatusRegister
		want string
	}{
		{0x00, "00000000"},
		{0x01, "00000001 BUSY"},
		{0x03, "00000011 WEL,BUSY"},
		{0x1C, "00011100 BP2,BP1,BP0"},
		{0xE0, "11100000 SRP,SEC,TB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.sr.String(); got != tt.want {
				t.Errorf("StatusRegister(%#x).String() = %q, want %q", byte(tt.sr), got, tt.want)
			}
		})
	}
}

// startProgram issues write enable and a one byte page program directly on
// the simulated bus, leaving the chip busy.
func startProgram(t *testing.T, chip *simflash.Chip) {
	t.Helper()
	for _, cmd := range [][]byte{
		{simflash.OpWriteEn},
		{simflash.OpProgram, 0, 0, 0, 0x55},
	} {
		cs := chip.CS()
		if err := cs.Out(gpio.Low); err != nil {
			t.Fatal(err)
		}
		if err := chip.Tx(cmd, nil); err != nil {
			t.Fatal(err)
		}
		if err := cs.Out(gpio.High); err != nil {
			t.Fatal(err)
		}
	}
}

func TestWaitReadyPollCount(t *testing.T) {
	for _, busy := range []int{0, 1, 5, 100} {
		f, chip := newTestFlash(t, simflash.Config{BusyPolls: busy})
		startProgram(t, chip)
		chip.ResetLog()

		if err := f.WaitReady(context.Background()); err != nil {
			t.Fatal(err)
		}
		if got := chip.Polls(); got != busy+1 {
			t.Errorf("BusyPolls=%d: WaitReady returned after %d polls, want %d", busy, got, busy+1)
		}
		if sr, _ := f.ReadStatus(); sr.Busy() {
			t.Errorf("BusyPolls=%d: chip still busy after WaitReady", busy)
		}
	}
}

func TestWaitReadyContext(t *testing.T) {
	f, chip := newTestFlash(t, simflash.Config{StuckBusy: true}, WithPollInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := f.WaitReady(ctx)
	if !errors.Is(err, ErrBusyTimeout) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitReady() err = %v, want %v and %v", err, ErrBusyTimeout, context.DeadlineExceeded)
	}

	chip.SetStuckBusy(false)
	if err := f.WaitReady(context.Background()); err != nil {
		t.Errorf("WaitReady() after recovery: %v", err)
	}
}

func TestEraseAbortedWhileBusy(t *testing.T) {
	f, _ := newTestFlash(t, simflash.Config{StuckBusy: true})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.EraseChip(ctx); !errors.Is(err, ErrBusyTimeout) {
		t.Errorf("EraseChip() err = %v, want %v", err, ErrBusyTimeout)
	}
}

func TestWaitReadyLogThrottle(t *testing.T) {
	var out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Unix(1700000000, 0)
	calls := 0
	clock := func() time.Time {
		calls++
		if calls == 10 {
			cancel()
		}
		now = now.Add(300 * time.Millisecond)
		return now
	}

	f, _ := newTestFlash(t, simflash.Config{StuckBusy: true}, WithLogger(logger), WithClock(clock))
	if err := f.WaitReady(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("WaitReady() err = %v, want %v", err, context.Canceled)
	}

	// emitted at 300ms, 1500ms and 2700ms
	if n := strings.Count(out.String(), "flash busy"); n != 3 {
		t.Errorf("got %d busy diagnostics, want 3:\n%s", n, out.String())
	}
	if !strings.Contains(out.String(), "BUSY") {
		t.Errorf("busy diagnostic does not include the status:\n%s", out.String())
	}
}
