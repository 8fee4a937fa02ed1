package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gentam/s25fl"
)

func init() {
	rootCmd.AddCommand(protectCmd)
}

var protectCmd = &cobra.Command{
	Use:   "protect VALUE",
	Short: "Write the status register block protection bits",
	Long: `Write VALUE to the status register. The meaning of the block protect
bits is chip specific; on the S25FL216K 0x08 protects blocks 30 and 31.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.ParseUint(args[0], 0, 8)
		if err != nil {
			return fmt.Errorf("invalid status register value %q", args[0])
		}

		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := s.deadline(s.chip.TPP)
		defer cancel()
		if err := s.flash.WriteStatusRegister(ctx, s25fl.StatusRegister(v)); err != nil {
			return fmt.Errorf("write status register failed: %w", err)
		}

		sr, err := s.flash.ReadStatus()
		if err != nil {
			return fmt.Errorf("read flash status register failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), sr)
		return nil
	},
}
