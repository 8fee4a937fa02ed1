package s25fl

// PageSize is the program granularity. A page program command whose data
// runs past the end of a page wraps around to the start of the same page.
const PageSize = 256

// pageChunk is one page program command: n bytes from buffer offset off,
// programmed at flash address addr.
type pageChunk struct {
	addr uint32
	off  int
	n    int
}

// splitPages decomposes a write of n bytes at addr into page program
// commands. The first chunk fills the remainder of the page addr falls
// into, followed by whole pages and a final partial page. Every chunk
// satisfies addr%PageSize+n <= PageSize and n > 0.
func splitPages(addr uint32, n int) []pageChunk {
	if n <= 0 {
		return nil
	}

	chunks := make([]pageChunk, 0, n/PageSize+2)
	off := 0
	for off < n {
		room := PageSize - int(addr%PageSize)
		size := min(room, n-off)
		chunks = append(chunks, pageChunk{addr: addr, off: off, n: size})
		addr += uint32(size)
		off += size
	}
	return chunks
}
