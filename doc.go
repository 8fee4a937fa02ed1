// Package s25fl drives SPI NOR flash chips of the Spansion S25FL family and
// compatible parts (3-byte addresses, 256-byte pages, 4KB sectors).
//
// A Flash is built from two capabilities: a periph.io spi.Conn carrying the
// data and a gpio.PinOut used as chip-select. Open builds both from an
// FT2232H or a Linux spidev controller. Every program, erase and status
// register write enables writing, issues the command and polls the status
// register until the write-in-progress bit clears. Writes are split so that
// no page program command crosses a page boundary.
//
// Busy waits have no built-in timeout; bound them with the context passed
// to the mutating operations.
//
// # References:
//
// FTDI (https://ftdichip.com/document/application-notes/)
//   - [FTDI-AN_108]: Command Processor for MPSSE and MCU Host Bus Emulation Modes (https://ftdichip.com/wp-content/uploads/2020/08/AN_108_Command_Processor_for_MPSSE_and_MCU_Host_Bus_Emulation_Modes.pdf)
//   - [FTDI-AN_114]: Interfacing FT2232H Hi-Speed Devices To SPI Bus (https://ftdichip.com/wp-content/uploads/2020/08/AN_114_FTDI_Hi_Speed_USB_To_SPI_Example.pdf)
//   - [FTDI-AN_135]: FTDI MPSSE Basics (https://ftdichip.com/wp-content/uploads/2020/08/AN_135_MPSSE_Basics.pdf)
//
// Boards
//   - [Lattice-EB82]: iCEstick User Manual (https://www.latticesemi.com/view_document?document_id=50701)
//   - [iCEBreaker]: iCEBreaker FPGA (https://github.com/icebreaker-fpga/icebreaker/blob/master/hardware/v1.0e/icebreaker-sch.pdf)
//
// SPI Flash
//   - [S25FL216K]: Spansion S25FL216K 16 Mbit Serial Flash (www.mouser.com/ds/2/380/S25FL216K_00-6756.pdf)
//   - [N25Q32]: N25Q032A Micron Serial NOR Flash Memory datasheet (could not find the official public URL)
//   - [W25Q128]: W25Q128JV-DTR Winbond Serial Flash Memory (https://www.winbond.com/resource-files/W25Q128JV_DTR%20RevD%2012232024%20Plus.pdf)
package s25fl
