// Copyright 2024 The SerialLab Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"errors"
	"fmt"
	"time"
)

// Mode selects the feature mode of a port.
//
// The FT232H can be in MPSSE mode or in synchronous/asynchronous bit bang
// mode, the FT232R only supports the bit bang modes and CBUS.
type Mode uint8

const (
	// ModeReset returns the port to its default UART behavior.
	ModeReset Mode = 0x00
	// ModeAsyncBitbang drives the 8 data pins directly, clocked by the
	// baudrate generator.
	ModeAsyncBitbang Mode = 0x01
	// ModeMPSSE enables the Multi-Protocol Synchronous Serial Engine.
	ModeMPSSE Mode = 0x02
	// ModeSyncBitbang samples the pins on every write, making reads
	// deterministic.
	ModeSyncBitbang Mode = 0x04
	// ModeMCUHost emulates a 8048/8051 host bus.
	ModeMCUHost Mode = 0x08
	// ModeFastSerial enables the fast opto-isolated serial interface.
	ModeFastSerial Mode = 0x10
	// ModeCBusBitbang drives the 4 CBUS pins.
	ModeCBusBitbang Mode = 0x20
	// ModeSyncFIFO enables the single channel synchronous 245 FIFO mode.
	ModeSyncFIFO Mode = 0x40
)

func (m Mode) String() string {
	switch m {
	case ModeReset:
		return "Reset"
	case ModeAsyncBitbang:
		return "AsyncBitbang"
	case ModeMPSSE:
		return "MPSSE"
	case ModeSyncBitbang:
		return "SyncBitbang"
	case ModeMCUHost:
		return "MCUHost"
	case ModeFastSerial:
		return "FastSerial"
	case ModeCBusBitbang:
		return "CBusBitbang"
	case ModeSyncFIFO:
		return "SyncFIFO"
	default:
		return fmt.Sprintf("Mode(%#02x)", uint8(m))
	}
}

// FlowCtrl is a flow control method for the UART mode.
type FlowCtrl uint16

const (
	FlowNone    FlowCtrl = 0x0000
	FlowRTSCTS  FlowCtrl = 0x0100
	FlowDTRDSR  FlowCtrl = 0x0200
	FlowXonXoff FlowCtrl = 0x0400
)

// Modem control values, SIO_SET_MODEM_CTRL_REQUEST. The high byte is the
// write mask, the low byte the level.
const (
	sioSetDTRHigh uint16 = 0x0101
	sioSetDTRLow  uint16 = 0x0100
	sioSetRTSHigh uint16 = 0x0202
	sioSetRTSLow  uint16 = 0x0200
)

// ErrNotConnected is returned by every operation on a closed session.
var ErrNotConnected = errors.New("ftdi: not connected")

// ErrNotSupported is returned by a Transport for the part of the surface its
// access library does not expose.
var ErrNotSupported = errors.New("ftdi: not supported by this transport")

// Transport is the USB access layer under a Dev.
//
// It maps one claimed port of one FTDI device: a bulk IN/OUT endpoint pair
// for data, plus vendor control requests for everything else. BulkRead must
// return raw transfers, including the 2-byte status prologue the chip
// prepends to every max-packet-size packet; the framing layer above strips
// it. A backend whose access library strips the prologue itself (D2XX) must
// synthesize one per transfer so both backends look identical from above.
//
// Implementations are not required to be goroutine safe.
type Transport interface {
	Close() error

	// BulkWrite sends one chunk on the data OUT endpoint.
	BulkWrite(p []byte) (int, error)
	// BulkRead reads one transfer from the data IN endpoint. Returning fewer
	// bytes than len(p), including a bare 2-byte status, is not an error.
	BulkRead(p []byte) (int, error)

	SetTimeouts(read, write time.Duration) error

	// Reset performs a SIO reset of the port logic. State configured via
	// control requests (baudrate, latency) survives; buffered data does not.
	Reset() error
	// CyclePort simulates an unplug/replug of the device. The Transport is
	// unusable afterwards.
	CyclePort() error
	// Purge clears the selected device-side FIFOs.
	Purge(rx, tx bool) error

	SetBitMode(mask byte, mode Mode) error
	// ReadPins samples the current pin levels, regardless of mode.
	ReadPins() (byte, error)

	SetLatencyTimer(ms uint8) error
	LatencyTimer() (uint8, error)

	// SetBaudRate programs the baudrate generator. baud is the effective
	// rate in Hz; value and index carry the encoded divisor for backends
	// that speak the wire protocol directly.
	SetBaudRate(baud int, value, index uint16) error
	// SetLineProperty programs data bits, parity, stop bits and break, in
	// SIO_SET_DATA encoding.
	SetLineProperty(value uint16) error
	SetFlowControl(f FlowCtrl) error
	// SetModemCtrl drives DTR/RTS, in SIO_SET_MODEM_CTRL encoding.
	SetModemCtrl(value uint16) error
	SetChars(eventChar byte, eventEn bool, errorChar byte, errorEn bool) error
	// ModemStatus polls the modem and line status registers. Low byte is the
	// modem status, high byte the line status.
	ModemStatus() (uint16, error)

	// QueueStatus returns the number of bytes waiting in the device RX FIFO.
	QueueStatus() (int, error)

	// ReadEEWord reads one 16-bit configuration memory word. word is a word
	// address, not a byte address.
	ReadEEWord(word int) (uint16, error)
	WriteEEWord(word int, value uint16) error

	// ChipVersion returns the bcdDevice field of the USB descriptor, which
	// identifies the chip generation.
	ChipVersion() (uint16, error)
	// PortIndex returns the 1-based port this Transport is bound to.
	PortIndex() int
	// MaxPacketSize returns the IN endpoint packet size, the interval of the
	// status prologue within a transfer.
	MaxPacketSize() int
}
