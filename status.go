// Copyright 2024 The SerialLab Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

// Status prologue decoding. The chip prepends two status bytes to every
// packet it sends on the data IN endpoint: modem status first, line status
// second.
const (
	// txEmptyBits flags in the line status byte that the device transmit
	// holding register and FIFO drained.
	txEmptyBits = 0x60
)

// errorBits masks the bits of each status byte that indicate a receive
// error (overrun, parity, framing, break).
var errorBits = [2]byte{0x00, 0x8E}

// modemStatusBits names each bit of the two status bytes, low bit first.
// Empty entries are reserved.
var modemStatusBits = [2][8]string{
	{"", "", "", "", "cts", "dsr", "ri", "dcd"},
	{"dr", "overrun", "parity", "framing", "break", "thre", "txe", "rcve"},
}

// DecodeModemStatus expands a polled modem status value into the names of
// the asserted bits. The low byte of status is the modem status register,
// the high byte the line status register. With errorOnly, only receive
// error conditions are reported.
func DecodeModemStatus(status uint16, errorOnly bool) []string {
	b := [2]byte{byte(status), byte(status >> 8)}
	var out []string
	for i := 0; i < 2; i++ {
		mask := byte(0xFF)
		if errorOnly {
			mask = errorBits[i]
		}
		for bit := 0; bit < 8; bit++ {
			if b[i]&mask&(1<<bit) == 0 {
				continue
			}
			if name := modemStatusBits[i][bit]; name != "" {
				out = append(out, name)
			}
		}
	}
	return out
}
