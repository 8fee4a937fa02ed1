package s25fl

import "errors"

var (
	// ErrNoDevice indicates that the identification read returned an
	// implausible ID, which usually means the chip is not wired or powered.
	ErrNoDevice = errors.New("flash not responding (check wiring)")

	// ErrBusyTimeout indicates that the write-in-progress bit did not clear
	// before the caller's context was done.
	ErrBusyTimeout = errors.New("flash busy wait aborted")

	// ErrAddressRange indicates an address that cannot be encoded in the
	// 24-bit address field.
	ErrAddressRange = errors.New("address out of 24-bit range")
)
