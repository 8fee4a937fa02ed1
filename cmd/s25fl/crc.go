package main

import "github.com/snksoft/crc"

var crcTable = crc.NewTable(crc.CRC32)

func crc32(data []byte) uint32 {
	h := crc.NewHashWithTable(crcTable)
	h.Update(data)
	return h.CRC32()
}
