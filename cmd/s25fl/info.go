package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(idCmd, statusCmd)
}

var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Print the JEDEC ID of the flash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "ID:              %s\n", s.id)
		fmt.Fprintf(cmd.OutOrStdout(), "Manufacturer:    %#02x\n", s.id.Manufacturer())
		fmt.Fprintf(cmd.OutOrStdout(), "Memory type:     %#02x\n", s.id.MemoryType())
		fmt.Fprintf(cmd.OutOrStdout(), "Capacity:        %#02x (%d bytes)\n", s.id.Capacity(), s.id.Size())
		fmt.Fprintf(cmd.OutOrStdout(), "Name:            %s\n", s.chip.Name)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the flash status register",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		sr, err := s.flash.ReadStatus()
		if err != nil {
			return fmt.Errorf("read flash status register failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), sr)
		return nil
	},
}
