// Copyright 2024 The SerialLab Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ftdi implements the host-side protocol of FTDI USB-to-serial and
// USB-to-parallel bridge chips (FT232AM/BM/R, FT2232C/H, FT4232H, FT232H,
// FT-X series).
//
// The package owns everything above the USB transfer level: clock divisor
// arithmetic, the 2-byte status prologue framing of bulk reads, the dynamic
// latency timer feedback loop, the MPSSE synchronous engine protocol and the
// EEPROM word protocol with its XOR-rotate checksum. Raw USB access is
// delegated to a Transport implementation; two are provided, ftdiusb (libusb
// via gousb) and ftd2xx (the vendor D2XX library).
//
// A Dev is not safe for concurrent use. Every operation is synchronous and
// the protocol has no internal locking; serialize externally if multiple
// goroutines share a session.
//
// Use build tag ftdi_debug to enable verbose wire tracing.
//
// # Datasheets
//
// http://www.ftdichip.com/Support/Documents/DataSheets/ICs/DS_FT232R.pdf
//
// http://www.ftdichip.com/Support/Documents/DataSheets/ICs/DS_FT232H.pdf
package ftdi
