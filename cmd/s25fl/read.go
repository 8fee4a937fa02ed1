package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	readAddr uint32
	readN    int
	readOut  string
	readCRC  bool
)

func init() {
	f := readCmd.Flags()
	f.Uint32VarP(&readAddr, "addr", "a", 0, "start address")
	f.IntVarP(&readN, "length", "n", 256, "number of bytes to read (0 reads to the end of the chip)")
	f.StringVarP(&readOut, "output", "o", "", "output file (default: hexdump)")
	f.BoolVar(&readCRC, "crc", false, "print the CRC-32 of the data instead of the data")
	rootCmd.AddCommand(readCmd)
}

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read flash memory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession()
		if err != nil {
			return err
		}
		defer s.Close()

		n := readN
		if n == 0 {
			n = s.chip.Size - int(readAddr)
		}
		if n <= 0 {
			return fmt.Errorf("nothing to read at 0x%06X", readAddr)
		}

		data := make([]byte, n)
		if err := s.flash.Read(readAddr, data); err != nil {
			return fmt.Errorf("read flash failed: %w", err)
		}

		switch {
		case readCRC:
			fmt.Fprintf(cmd.OutOrStdout(), "%08x\n", crc32(data))
		case readOut == "":
			fmt.Fprint(cmd.OutOrStdout(), hex.Dump(data))
		default:
			if err := os.WriteFile(readOut, data, 0644); err != nil {
				return fmt.Errorf("write file failed: %w", err)
			}
		}
		return nil
	},
}
