package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/gentam/s25fl"
)

var (
	writeAddr   uint32
	writeFile   string
	writeErase  bool
	writeVerify bool
)

func init() {
	f := writeCmd.Flags()
	f.Uint32VarP(&writeAddr, "addr", "a", 0, "start address")
	f.StringVarP(&writeFile, "file", "f", "", "input file")
	f.BoolVarP(&writeErase, "erase", "e", false, "erase the sectors covered by the input first")
	f.BoolVar(&writeVerify, "verify", false, "read back and compare CRC-32 after programming")
	writeCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(writeCmd)
}

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Program flash memory from a file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(writeFile)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		if writeErase {
			if err := eraseRange(s, writeAddr, len(data)); err != nil {
				return err
			}
		}

		pages := (int(writeAddr%s25fl.PageSize) + len(data) + s25fl.PageSize - 1) / s25fl.PageSize
		ctx, cancel := s.deadline(time.Duration(pages) * s.chip.TPP)
		defer cancel()
		if err := s.flash.Write(ctx, writeAddr, data); err != nil {
			return fmt.Errorf("write flash failed: %w", err)
		}

		if writeVerify {
			got := make([]byte, len(data))
			if err := s.flash.Read(writeAddr, got); err != nil {
				return fmt.Errorf("read back failed: %w", err)
			}
			want, have := crc32(data), crc32(got)
			if want != have {
				return fmt.Errorf("verify failed: CRC-32 %08x, flash has %08x", want, have)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "verified %d bytes, CRC-32 %08x\n", len(data), have)
		}
		return nil
	},
}
