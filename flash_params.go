package s25fl

import (
	"fmt"
	"time"
)

// JEDECID is the response to the Read Identification command.
type JEDECID [3]byte

func (id JEDECID) Manufacturer() byte { return id[0] }
func (id JEDECID) MemoryType() byte   { return id[1] }
func (id JEDECID) Capacity() byte     { return id[2] }

// Size returns the capacity in bytes encoded as a power of two by the
// capacity byte, or 0 if the capacity byte is not plausible.
func (id JEDECID) Size() int {
	c := id.Capacity()
	if c < 0x10 || c > 0x20 {
		return 0
	}
	return 1 << c
}

func (id JEDECID) String() string {
	return fmt.Sprintf("%02X%02X%02X", id[0], id[1], id[2])
}

// Chip describes a known flash chip. Timings are datasheet maximums.
type Chip struct {
	Name string
	Size int

	TRES1      time.Duration
	TDP        time.Duration
	TPP        time.Duration
	TErase4KB  time.Duration
	TErase64KB time.Duration
	TEraseChip time.Duration
}

var (
	flashIDSpansionS25FL216K = JEDECID{0x01, 0x40, 0x15}
	flashIDMicronN25Q32      = JEDECID{0x20, 0xBA, 0x16}
	flashIDWinbondW25Q128    = JEDECID{0xEF, 0x70, 0x18}
)

var knownFlash = map[JEDECID]Chip{
	flashIDSpansionS25FL216K: {
		Name: "Spansion S25FL216K 16Mb",
		Size: 2 << 20,

		// [S25FL216K|AC Characteristics]
		// tRES1: CS# High to Standby Mode without ID Read
		TRES1: 3 * time.Microsecond,
		// tDP: CS# High to Deep Power-down Mode
		TDP: 3 * time.Microsecond,
		// tPP: Page Program Time
		TPP: 3 * time.Millisecond,
		// tSE: Sector Erase Time (4KB)
		TErase4KB: 450 * time.Millisecond,
		// tBE: Block Erase Time (64KB)
		TErase64KB: 2 * time.Second,
		// tCE: Chip Erase Time
		TEraseChip: 30 * time.Second,
	},

	flashIDMicronN25Q32: {
		Name: "Micron N25Q 32Mb",
		Size: 4 << 20,

		// [N25Q32|Table 38: AC Characteristics and Operating Conditions]
		// tPP: PAGE PROGRAM cycle time (256 bytes)
		TPP: 5 * time.Millisecond,
		// tSSE: Subsector ERASE cycle time
		TErase4KB: 800 * time.Millisecond,
		// tSE: Sector ERASE cycle time
		TErase64KB: 3 * time.Second,
		// tBE: Bulk ERASE cycle time
		TEraseChip: 60 * time.Second,
	},

	flashIDWinbondW25Q128: {
		Name: "Winbond W25Q 128Mb",
		Size: 16 << 20,

		// [W25Q128|9.6 AC Electrical Characteristics]:
		// tRES1: /CS High to Standby Mode without ID Read
		TRES1: 3 * time.Microsecond,
		// tDP: /CS High to Power-down Mode
		TDP: 3 * time.Microsecond,
		// tPP: Page Program Time
		TPP: 3 * time.Millisecond,
		// tSE: Sector Erase Time (4KB)
		TErase4KB: 400 * time.Millisecond,
		// tBE2: Block Erase Time (64KB)
		TErase64KB: 2000 * time.Millisecond,
		// tCE: Chip Erase Time
		TEraseChip: 200 * time.Second,
	},
}

// Lookup returns the parameters of a known chip.
func Lookup(id JEDECID) (Chip, bool) {
	c, ok := knownFlash[id]
	return c, ok
}

// ChipOrMax returns the parameters of the chip with the given ID. For
// unknown chips it returns the maximum of every timing over all known
// chips and the size encoded in the ID.
func ChipOrMax(id JEDECID) Chip {
	if c, ok := knownFlash[id]; ok {
		return c
	}
	return Chip{
		Name:       "unknown",
		Size:       id.Size(),
		TRES1:      maxParam(func(c *Chip) time.Duration { return c.TRES1 }),
		TDP:        maxParam(func(c *Chip) time.Duration { return c.TDP }),
		TPP:        maxParam(func(c *Chip) time.Duration { return c.TPP }),
		TErase4KB:  maxParam(func(c *Chip) time.Duration { return c.TErase4KB }),
		TErase64KB: maxParam(func(c *Chip) time.Duration { return c.TErase64KB }),
		TEraseChip: maxParam(func(c *Chip) time.Duration { return c.TEraseChip }),
	}
}

// maxParam returns the maximum duration from all known flash parameters.
func maxParam(get func(*Chip) time.Duration) time.Duration {
	var tmax time.Duration
	for _, c := range knownFlash {
		tmax = max(tmax, get(&c))
	}
	return tmax
}
