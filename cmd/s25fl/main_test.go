package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/snksoft/crc"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// resetFlags restores every flag of c and its subcommands to its default,
// so that consecutive Execute calls do not see each other's flags.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("s25fl %v: %v", args, err)
	}
	return out.String()
}

func TestSimWriteEraseCycle(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "flash.bin")
	in := filepath.Join(dir, "in.bin")

	data := make([]byte, 4000)
	for i := range data {
		data[i] = byte(i * 7)
	}
	if err := os.WriteFile(in, data, 0644); err != nil {
		t.Fatal(err)
	}

	out := run(t, "write", "--bus", "sim:"+img, "-a", "0x1234", "-f", in, "-e", "--verify")
	if !strings.HasPrefix(out, "verified 4000 bytes") {
		t.Errorf("write output = %q", out)
	}

	mem, err := os.ReadFile(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(mem) != 2<<20 {
		t.Fatalf("image is %d bytes, want %d", len(mem), 2<<20)
	}
	if !bytes.Equal(mem[0x1234:0x1234+len(data)], data) {
		t.Error("image does not hold the written data")
	}
	if mem[0x1233] != 0xFF || mem[0x1234+len(data)] != 0xFF {
		t.Error("bytes around the written range were modified")
	}

	run(t, "erase", "--bus", "sim:"+img, "-a", "0x1000", "-n", "4096")

	mem, err = os.ReadFile(img)
	if err != nil {
		t.Fatal(err)
	}
	for a := 0x1000; a < 0x2000; a++ {
		if mem[a] != 0xFF {
			t.Fatalf("byte 0x%X not erased", a)
		}
	}
	if !bytes.Equal(mem[0x2000:0x1234+len(data)], data[0x2000-0x1234:]) {
		t.Error("erase touched the next sector")
	}
}

func TestSimCommands(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "flash.bin")
	dump := filepath.Join(dir, "dump.bin")
	bus := "sim:" + img

	mem := make([]byte, 2<<20)
	for i := range mem {
		mem[i] = 0xFF
	}
	for i := 0; i < 512; i++ {
		mem[i] = byte(i*13 + 1)
	}
	if err := os.WriteFile(img, mem, 0644); err != nil {
		t.Fatal(err)
	}
	sum := uint32(crc.CalculateCRC(crc.CRC32, mem[:512]))

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"id"}, "ID:              014015\n"},
		{[]string{"id"}, "Name:            Spansion S25FL216K 16Mb\n"},
		{[]string{"status"}, "00000000\n"},
		{[]string{"protect", "0x1c"}, "00011100 BP2,BP1,BP0\n"},
		{[]string{"status"}, "00011100 BP2,BP1,BP0\n"},
		{[]string{"protect", "0"}, "00000000\n"},
		{[]string{"read", "-a", "0", "-n", "512", "--crc"}, fmt.Sprintf("%08x\n", sum)},
		{[]string{"read", "-a", "0x10", "-n", "16"}, hex.Dump(mem[0x10:0x20])},
		{[]string{"read", "-a", "0", "-n", "512", "-o", dump}, ""},
	}

	for _, tt := range tests {
		got := run(t, append(tt.args, "--bus", bus)...)
		if tt.want == "" {
			if got != "" {
				t.Errorf("s25fl %v printed %q, want nothing", tt.args, got)
			}
			continue
		}
		if !strings.Contains(got, tt.want) {
			t.Errorf("s25fl %v printed %q, want %q", tt.args, got, tt.want)
		}
	}

	out, err := os.ReadFile(dump)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, mem[:512]) {
		t.Error("read -o did not write the flash contents")
	}

	run(t, "erase", "--chip", "--bus", bus)
	erased, err := os.ReadFile(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(erased) != len(mem) {
		t.Fatalf("image is %d bytes, want %d", len(erased), len(mem))
	}
	for a, b := range erased {
		if b != 0xFF {
			t.Fatalf("byte 0x%X = %#x after erase --chip", a, b)
		}
	}
}
