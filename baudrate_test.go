// Copyright 2024 The SerialLab Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"testing"

	"periph.io/x/conn/v3/physic"
)

func TestUARTDivisor(t *testing.T) {
	data := []struct {
		typ    DevType
		baud   int
		actual int
		value  uint16
		index  uint16
	}{
		// Max speed and the two reserved encodings.
		{DevTypeFT232R, 3000000, 3000000, 0, 0},
		{DevTypeFT232R, 2000000, 2000000, 1, 0},
		// Common rates on the 3 MHz reference.
		{DevTypeFT232R, 9600, 9600, 0x4138, 0},
		{DevTypeFT232R, 115200, 115385, 0x001A, 0},
		// H series below 1200 baud stays on the 3 MHz reference.
		{DevTypeFT232H, 300, 300, 0x2710, 0},
		// H series switches to the 12 MHz reference and flags it in the
		// index.
		{DevTypeFT232H, 115200, 115246, 0xC068, 0x0002},
		{DevTypeFT232H, 12000000, 12000000, 0, 0x0002},
	}
	for _, line := range data {
		actual, value, index, err := uartDivisor(line.typ, line.baud, false)
		if err != nil {
			t.Fatalf("%s %d: %v", line.typ, line.baud, err)
		}
		if actual != line.actual || value != line.value || index != line.index {
			t.Fatalf("%s %d: got (%d, %#04x, %#04x), want (%d, %#04x, %#04x)",
				line.typ, line.baud, actual, value, index, line.actual, line.value, line.index)
		}
	}
}

func TestUARTDivisor_Range(t *testing.T) {
	if _, _, _, err := uartDivisor(DevTypeFT232R, 3000001, false); err == nil {
		t.Fatal("above the reference clock")
	}
	if _, _, _, err := uartDivisor(DevTypeFT232R, 150, false); err == nil {
		t.Fatal("below the divider range")
	}
	if _, _, _, err := uartDivisor(DevTypeFT232H, 12000001, false); err == nil {
		t.Fatal("above the high speed reference clock")
	}
}

// The achieved rate must track the request monotonically: asking for more
// never yields less.
func TestUARTDivisor_Monotonic(t *testing.T) {
	for _, typ := range []DevType{DevTypeFT232R, DevTypeFT232H} {
		prev := 0
		for baud := 200; baud <= 3000000; baud += 1021 {
			actual, _, _, err := uartDivisor(typ, baud, false)
			if err != nil {
				continue
			}
			if actual < prev {
				t.Fatalf("%s: %d yields %d, below previous %d", typ, baud, actual, prev)
			}
			prev = actual
		}
	}
}

// Standard rates must be reachable within the 3% tolerance.
func TestUARTDivisor_Tolerance(t *testing.T) {
	rates := []int{300, 600, 1200, 2400, 4800, 9600, 19200, 38400, 57600, 115200, 230400, 460800, 921600}
	for _, typ := range []DevType{DevTypeFT232R, DevTypeFT2232H} {
		for _, baud := range rates {
			actual, _, _, err := uartDivisor(typ, baud, false)
			if err != nil {
				t.Fatalf("%s %d: %v", typ, baud, err)
			}
			delta := 100. * float64(actual-baud) / float64(baud)
			if delta < 0 {
				delta = -delta
			}
			if delta > baudTolerance {
				t.Fatalf("%s %d: achieved %d, %.2f%% off", typ, baud, actual, delta)
			}
		}
	}
}

func TestUARTDivisorLegacy(t *testing.T) {
	data := []struct {
		baud   int
		actual int
		value  uint16
	}{
		{3000000, 3000000, 0},
		{9600, 9600, 0x4138},
		{115200, 115385, 0x001A},
	}
	for _, line := range data {
		actual, value, index, err := uartDivisorLegacy(line.baud)
		if err != nil {
			t.Fatalf("%d: %v", line.baud, err)
		}
		if actual != line.actual || value != line.value || index != 0 {
			t.Fatalf("%d: got (%d, %#04x, %#04x), want (%d, %#04x, 0)",
				line.baud, actual, value, index, line.actual, line.value)
		}
	}
	if _, _, _, err := uartDivisorLegacy(4000000); err == nil {
		t.Fatal("above the reference clock")
	}
	// Sub-divisor 7 does not exist on the first generation; the divisor is
	// bumped to the next whole step instead.
	actualOld, _, _, err := uartDivisorLegacy(1043478)
	if err != nil {
		t.Fatal(err)
	}
	if actualOld != 1000000 {
		t.Fatalf("legacy actual = %d, want 1000000", actualOld)
	}
	actualNew, _, _, err := uartDivisor(DevTypeFT232R, 1043478, false)
	if err != nil {
		t.Fatal(err)
	}
	if actualNew != 1043478 {
		t.Fatalf("actual = %d, want 1043478", actualNew)
	}
}

func TestEngineDivisor(t *testing.T) {
	data := []struct {
		typ    DevType
		freq   physic.Frequency
		actual physic.Frequency
		cmd    []byte
	}{
		// Base clock chip: no prescaler command.
		{DevTypeFT2232C, 6 * physic.MegaHertz, 6 * physic.MegaHertz, []byte{setClkDivisor, 0, 0}},
		{DevTypeFT2232C, 1 * physic.MegaHertz, 1 * physic.MegaHertz, []byte{setClkDivisor, 5, 0}},
		// H series picks the prescaler with the lower error.
		{DevTypeFT232H, 30 * physic.MegaHertz, 30 * physic.MegaHertz, []byte{disableClkDiv5, setClkDivisor, 0, 0}},
		{DevTypeFT232H, 6 * physic.MegaHertz, 6 * physic.MegaHertz, []byte{enableClkDiv5, setClkDivisor, 0, 0}},
		{DevTypeFT232H, 10 * physic.MegaHertz, 10 * physic.MegaHertz, []byte{disableClkDiv5, setClkDivisor, 2, 0}},
	}
	for _, line := range data {
		actual, cmd, err := engineDivisor(line.typ, line.freq)
		if err != nil {
			t.Fatalf("%s %s: %v", line.typ, line.freq, err)
		}
		if actual != line.actual {
			t.Fatalf("%s %s: actual = %s, want %s", line.typ, line.freq, actual, line.actual)
		}
		if len(cmd) != len(line.cmd) {
			t.Fatalf("%s %s: cmd = %#x, want %#x", line.typ, line.freq, cmd, line.cmd)
		}
		for i := range cmd {
			if cmd[i] != line.cmd[i] {
				t.Fatalf("%s %s: cmd = %#x, want %#x", line.typ, line.freq, cmd, line.cmd)
			}
		}
	}
}

func TestEngineDivisor_Range(t *testing.T) {
	if _, _, err := engineDivisor(DevTypeFT2232C, 7*physic.MegaHertz); err == nil {
		t.Fatal("above the base engine clock")
	}
	if _, _, err := engineDivisor(DevTypeFT232H, 31*physic.MegaHertz); err == nil {
		t.Fatal("above the high engine clock")
	}
	if _, _, err := engineDivisor(DevTypeFT232H, 0); err == nil {
		t.Fatal("zero frequency")
	}
}
