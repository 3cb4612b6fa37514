// Copyright 2024 The SerialLab Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// Clock constants of the baudrate generator and the MPSSE engine.
const (
	// baudRefBase is the reference clock of the baudrate generator, one
	// sixteenth of the 48 MHz core clock.
	baudRefBase = 3000000
	// baudRefHigh is the reference clock when a H series chip switches to
	// its 120 MHz core clock.
	baudRefHigh = 12000000

	// The pin toggle rate in bit bang mode is a fixed multiple of the
	// programmed baudrate.
	bitbangRatioBase = 16
	bitbangRatioHigh = 5

	// busClockBase and busClockHigh are the MPSSE engine clocks, with the
	// divide-by-5 prescaler on and off.
	busClockBase = 6 * physic.MegaHertz
	busClockHigh = 30 * physic.MegaHertz

	// baudTolerance is the highest accepted deviation between the requested
	// and the achievable baudrate, in percent.
	baudTolerance = 3.0
)

// fracDivCode encodes the 1/8th sub-divisor in the two (three on H series)
// high bits of the divisor value.
var fracDivCode = [8]uint16{0, 3, 2, 4, 1, 5, 6, 7}

// uartDivisor converts a baudrate into the clock divisor of every chip past
// the FT232AM. It returns the effective baudrate and the value/index halves
// of the SIO_SET_BAUDRATE request. The index returned here does not include
// the port number; multi-engine chips fold it in separately.
//
// With bitbang, the divisor is scaled so that the requested rate is the pin
// toggle rate, not the UART rate.
func uartDivisor(t DevType, baud int, bitbang bool) (int, uint16, uint16, error) {
	if t.IsLegacy() {
		return uartDivisorLegacy(baud)
	}
	clock := baudRefBase
	ratio := bitbangRatioBase
	hispeed := false
	if t.IsHSeries() && baud >= 1200 {
		clock = baudRefHigh
		ratio = bitbangRatioHigh
		hispeed = true
	}
	if baud > clock {
		return 0, 0, 0, fmt.Errorf("ftdi: baudrate %d exceeds clock %d", baud, clock)
	}
	if baud < clock>>14+1 {
		return 0, 0, 0, fmt.Errorf("ftdi: baudrate %d below divider range of clock %d", baud, clock)
	}
	if bitbang {
		baud /= ratio
	}
	// Divisor in 1/8th steps, rounded to nearest.
	div8 := (8*clock + baud/2) / baud
	div := uint32(div8>>3) | uint32(fracDivCode[div8&7])<<14
	// Special cases: 0 means max speed, 1 means 2/3 of the clock.
	if div == 1 {
		div = 0
	} else if div == 0x4001 {
		div = 1
	}
	if hispeed {
		div |= 0x00020000
	}
	actual := (8*clock + div8/2) / div8
	if bitbang {
		actual *= ratio
	}
	return actual, uint16(div), uint16(div >> 16), nil
}

// uartDivisorLegacy is the FT232AM variant of uartDivisor. The fractional
// encoding differs and sub-divisor 7 is not supported.
func uartDivisorLegacy(baud int) (int, uint16, uint16, error) {
	if baud > baudRefBase {
		return 0, 0, 0, fmt.Errorf("ftdi: baudrate %d exceeds clock %d", baud, baudRefBase)
	}
	if baud < baudRefBase>>14+1 {
		return 0, 0, 0, fmt.Errorf("ftdi: baudrate %d below divider range of clock %d", baud, baudRefBase)
	}
	div8 := (8*baudRefBase + baud/2) / baud
	if div8&7 == 7 {
		div8++
	}
	div := uint16(div8 >> 3)
	switch frac := div8 & 7; {
	case frac == 1:
		div |= 0xC000
	case frac >= 4:
		div |= 0x4000
	case frac != 0:
		div |= 0x8000
	case div == 1:
		div = 0
	}
	actual := (8*baudRefBase + div8/2) / div8
	return actual, div, 0, nil
}

// engineDivisor converts a frequency into the TCK divisor command of the
// MPSSE engine and returns the effective frequency. On H series chips both
// prescaler settings are evaluated and the closer match wins.
func engineDivisor(t DevType, f physic.Frequency) (physic.Frequency, []byte, error) {
	if f <= 0 {
		return 0, nil, fmt.Errorf("ftdi: invalid frequency %s", f)
	}
	if max := t.MaxClock(); f > max {
		return 0, nil, fmt.Errorf("ftdi: frequency %s exceeds %s", f, max)
	}
	divcode := enableClkDiv5
	div, actual := closestDivisor(busClockBase, f)
	if t.IsHSeries() {
		divHS, actualHS := closestDivisor(busClockHigh, f)
		if relError(actualHS, f) < relError(actual, f) {
			divcode = disableClkDiv5
			div, actual = divHS, actualHS
		}
	}
	var cmd []byte
	if t.IsHSeries() {
		cmd = append(cmd, divcode)
	}
	cmd = append(cmd, setClkDivisor, byte(div), byte(div>>8))
	return actual, cmd, nil
}

func closestDivisor(clock, f physic.Frequency) (uint16, physic.Frequency) {
	div := int64((clock + f/2) / f)
	div--
	if div < 0 {
		div = 0
	} else if div > 0xFFFF {
		div = 0xFFFF
	}
	return uint16(div), clock / physic.Frequency(div+1)
}

func relError(actual, req physic.Frequency) float64 {
	e := float64(actual)/float64(req) - 1.
	if e < 0 {
		return -e
	}
	return e
}
