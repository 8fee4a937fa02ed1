package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gentam/s25fl"
	"github.com/gentam/s25fl/internal/simflash"
)

// session is an open flash, powered up and identified.
type session struct {
	flash *s25fl.Flash
	id    s25fl.JEDECID
	chip  s25fl.Chip

	closers []func() error
}

func openSession() (*session, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, err
	}
	opts := []s25fl.Option{s25fl.WithLogger(logger)}

	s := &session{}
	if path, ok := strings.CutPrefix(busName, "sim:"); ok {
		if s.flash, err = openSim(s, path, opts); err != nil {
			return nil, err
		}
	} else {
		cfg, err := deviceConfig()
		if err != nil {
			return nil, err
		}
		d, err := s25fl.Open(cfg, opts...)
		if err != nil {
			return nil, err
		}
		s.flash = d.Flash
		s.closers = append(s.closers, d.Close)
	}

	if err := s.flash.PowerUp(); err != nil {
		s.Close()
		return nil, fmt.Errorf("flash power up failed: %w", err)
	}
	s.closers = append(s.closers, s.flash.PowerDown)

	s.id, err = s.flash.ReadID()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("read flash ID failed: %w", err)
	}
	s.chip = s25fl.ChipOrMax(s.id)
	if _, ok := s25fl.Lookup(s.id); !ok {
		fmt.Fprintf(os.Stderr, "unknown flash ID (%s)\n", s.id)
	}
	return s, nil
}

// Close powers the flash down and releases the bus, in reverse order of
// acquisition.
func (s *session) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

// deadline bounds an operation expected to take at most d according to the
// datasheet.
func (s *session) deadline(d time.Duration) (context.Context, context.CancelFunc) {
	if timeoutScale <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), time.Duration(float64(d)*timeoutScale)+time.Second)
}

// openSim opens a simulated S25FL216K backed by the image file at path.
// The status register is kept in path+".sr". Both are written back when
// the session closes.
func openSim(s *session, path string, opts []s25fl.Option) (*s25fl.Flash, error) {
	img, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	srPath := path + ".sr"
	sr, err := os.ReadFile(srPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	cfg := simflash.Config{
		Size:      max(2<<20, len(img)),
		ID:        [3]byte{0x01, 0x40, 0x15},
		BusyPolls: 1,
	}
	if len(sr) > 0 {
		cfg.Status = sr[0]
	}
	chip := simflash.Load(cfg, img)
	s.closers = append(s.closers, func() error {
		return errors.Join(
			os.WriteFile(path, chip.Memory(), 0644),
			os.WriteFile(srPath, []byte{chip.Status()}, 0644),
		)
	})

	f, err := s25fl.New(chip, chip.CS(), opts...)
	if err != nil {
		return nil, err
	}
	return f, nil
}
