// Copyright 2024 The SerialLab Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// DevType is the chip generation, as reported in the bcdDevice field of the
// USB device descriptor. Every capability of a device derives from it.
type DevType uint16

const (
	DevTypeFT232AM DevType = 0x0200
	DevTypeFT232BM DevType = 0x0400
	DevTypeFT2232C DevType = 0x0500
	DevTypeFT232R  DevType = 0x0600
	DevTypeFT2232H DevType = 0x0700
	DevTypeFT4232H DevType = 0x0800
	DevTypeFT232H  DevType = 0x0900
	DevTypeFTX     DevType = 0x1000
)

func (d DevType) String() string {
	switch d {
	case DevTypeFT232AM:
		return "FT232AM"
	case DevTypeFT232BM:
		return "FT232BM"
	case DevTypeFT2232C:
		return "FT2232C/D"
	case DevTypeFT232R:
		return "FT232R"
	case DevTypeFT2232H:
		return "FT2232H"
	case DevTypeFT4232H:
		return "FT4232H"
	case DevTypeFT232H:
		return "FT232H"
	case DevTypeFTX:
		return "FT230X/FT231X/FT234X"
	default:
		return fmt.Sprintf("DevType(%#04x)", uint16(d))
	}
}

func (d DevType) valid() bool {
	switch d {
	case DevTypeFT232AM, DevTypeFT232BM, DevTypeFT2232C, DevTypeFT232R,
		DevTypeFT2232H, DevTypeFT4232H, DevTypeFT232H, DevTypeFTX:
		return true
	default:
		return false
	}
}

// PortCount returns the number of independent ports of the chip.
func (d DevType) PortCount() int {
	switch d {
	case DevTypeFT2232C, DevTypeFT2232H:
		return 2
	case DevTypeFT4232H:
		return 4
	default:
		return 1
	}
}

// PortWidth returns the number of pins addressable on one port.
func (d DevType) PortWidth() int {
	switch d {
	case DevTypeFT2232H, DevTypeFT232H:
		return 16
	case DevTypeFT2232C:
		return 12
	default:
		return 8
	}
}

// FIFOSizes returns the port FIFO sizes in bytes, seen from the host: tx is
// the host-to-device FIFO, rx the device-to-host one.
func (d DevType) FIFOSizes() (tx, rx int) {
	switch d {
	case DevTypeFT232AM:
		return 128, 128
	case DevTypeFT232BM, DevTypeFT2232C:
		return 128, 384
	case DevTypeFT232R:
		return 256, 128
	case DevTypeFT2232H:
		return 4096, 4096
	case DevTypeFT4232H:
		return 2048, 2048
	case DevTypeFT232H:
		return 1024, 1024
	case DevTypeFTX:
		return 512, 512
	default:
		return 0, 0
	}
}

// HasMPSSE reports whether the chip embeds the synchronous serial engine.
func (d DevType) HasMPSSE() bool {
	switch d {
	case DevTypeFT2232C, DevTypeFT2232H, DevTypeFT4232H, DevTypeFT232H:
		return true
	default:
		return false
	}
}

// HasWidePort reports whether a port exposes a second, high byte of pins.
func (d DevType) HasWidePort() bool {
	return d.PortWidth() > 8
}

// HasCBus reports whether the chip has bit-bangable CBUS pins.
func (d DevType) HasCBus() bool {
	switch d {
	case DevTypeFT232R, DevTypeFT232H, DevTypeFTX:
		return true
	default:
		return false
	}
}

// HasDriveZero reports whether MPSSE pins can be switched to open collector
// drive.
func (d DevType) HasDriveZero() bool {
	return d == DevTypeFT232H
}

// IsLegacy reports whether the chip uses the first generation baudrate
// encoding.
func (d DevType) IsLegacy() bool {
	return d <= DevTypeFT232AM
}

// IsHSeries reports whether the chip supports the high speed clocking scheme
// (120 MHz core, 30 MHz engine clock).
func (d DevType) IsHSeries() bool {
	switch d {
	case DevTypeFT2232H, DevTypeFT4232H, DevTypeFT232H:
		return true
	default:
		return false
	}
}

// InternalEEPROMSize returns the size in bytes of the on-die configuration
// memory, or 0 when the chip uses an external EEPROM.
func (d DevType) InternalEEPROMSize() int {
	switch d {
	case DevTypeFT232R:
		return 0x80
	case DevTypeFTX:
		return 0x400
	default:
		return 0
	}
}

// MaxClock returns the highest MPSSE engine frequency of the chip.
func (d DevType) MaxClock() physic.Frequency {
	if d.IsHSeries() {
		return busClockHigh
	}
	return busClockBase
}
