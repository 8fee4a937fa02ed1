package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	eraseAddr uint32
	eraseN    int
	eraseChip bool
)

func init() {
	f := eraseCmd.Flags()
	f.Uint32VarP(&eraseAddr, "addr", "a", 0, "start address")
	f.IntVarP(&eraseN, "length", "n", 0, "number of bytes to erase, rounded out to whole sectors")
	f.BoolVar(&eraseChip, "chip", false, "bulk erase entire flash")
	eraseCmd.MarkFlagsMutuallyExclusive("chip", "length")
	rootCmd.AddCommand(eraseCmd)
}

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Erase flash sectors or the whole chip",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !eraseChip && eraseN <= 0 {
			return fmt.Errorf("either --chip or --length is required")
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		if eraseChip {
			ctx, cancel := s.deadline(s.chip.TEraseChip)
			defer cancel()
			if err := s.flash.EraseChip(ctx); err != nil {
				return fmt.Errorf("bulk erase flash failed: %w", err)
			}
			return nil
		}
		return eraseRange(s, eraseAddr, eraseN)
	},
}

func eraseRange(s *session, addr uint32, n int) error {
	const sectorSize = 4 << 10

	// bounded by the worst case of one sector erase per 4KB
	sectors := (int(addr%sectorSize) + n + sectorSize - 1) / sectorSize
	ctx, cancel := s.deadline(time.Duration(sectors) * s.chip.TErase4KB)
	defer cancel()
	if err := s.flash.Erase(ctx, addr, n); err != nil {
		return fmt.Errorf("erase flash failed: %w", err)
	}
	return nil
}
