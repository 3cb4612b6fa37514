// Copyright 2024 The SerialLab Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/physic"
)

// MPSSE op-codes. Internal pin and engine control only; data shifting
// commands are composed by the protocol layers above this package.
const (
	// setBitsLow sets the value and direction of the low byte of pins.
	setBitsLow byte = 0x80
	// getBitsLow samples the low byte of pins.
	getBitsLow  byte = 0x81
	setBitsHigh byte = 0x82
	getBitsHigh byte = 0x83
	// loopbackEnable connects TDI to TDO internally.
	loopbackEnable  byte = 0x84
	loopbackDisable byte = 0x85
	// setClkDivisor programs the 16 bit TCK divisor.
	setClkDivisor byte = 0x86
	// sendImmediate flushes the device TX FIFO to the host without waiting
	// for the latency timer.
	sendImmediate byte = 0x87
	// disableClkDiv5 switches H series chips to the 60 MHz engine clock.
	disableClkDiv5 byte = 0x8A
	enableClkDiv5  byte = 0x8B
	// enableClk3Phase clocks data on both edges, for I2C.
	enableClk3Phase  byte = 0x8C
	disableClk3Phase byte = 0x8D
	// enableClkAdaptive gates TCK on RTCK, for ARM JTAG.
	enableClkAdaptive  byte = 0x96
	disableClkAdaptive byte = 0x97
	// driveZero switches the selected pins to open collector.
	driveZero byte = 0x9E

	// badCommandEcho is the first byte of the 2-byte reply the engine sends
	// back on any op-code it does not understand.
	badCommandEcho byte = 0xFA
	// bogusCommand is a reserved op-code, written on purpose to self-test
	// the command/reply channel.
	bogusCommand byte = 0xAB
)

// ErrMPSSESync is returned when the engine self test fails: the command
// channel and the engine state machine disagree and every later command
// would be misinterpreted.
var ErrMPSSESync = errors.New("ftdi: unable to synchronize MPSSE")

// ProtocolError reports an MPSSE command the device rejected. Op is the
// echoed op-code.
type ProtocolError struct {
	Op byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("ftdi: MPSSE command %#02x rejected", e.Op)
}

// IsMPSSEPort reports whether the port this session is bound to can run the
// engine. On the FT4232H only the first two ports can.
func (d *Dev) IsMPSSEPort() bool {
	if !d.typ.HasMPSSE() {
		return false
	}
	if d.typ == DevTypeFT4232H && d.index > 2 {
		return false
	}
	return true
}

// MPSSE switches the port to MPSSE mode and returns the achieved engine
// frequency.
//
// direction and initial set each pin as input (0) or output (1) and the
// initial output level; the high byte is ignored on narrow ports. latency
// is the initial latency timer in ms.
//
// The sequence ends with a self test: a reserved op-code is written and the
// engine must echo it back as a bad command. A failure here means the
// command channel is out of sync and the port is unusable until reset.
func (d *Dev) MPSSE(direction, initial uint16, freq physic.Frequency, latency uint8) (physic.Frequency, error) {
	if d.t == nil {
		return 0, ErrNotConnected
	}
	if !d.IsMPSSEPort() {
		return 0, fmt.Errorf("ftdi: no MPSSE support on %s port %d", d.typ, d.index)
	}
	if err := d.SetLatencyTimer(latency); err != nil {
		return 0, err
	}
	if err := d.SetReadChunkSize(0); err != nil {
		return 0, err
	}
	if err := d.SetWriteChunkSize(0); err != nil {
		return 0, err
	}
	if err := d.t.SetFlowControl(FlowRTSCTS); err != nil {
		return 0, err
	}
	if err := d.SetBitMode(0, ModeReset); err != nil {
		return 0, err
	}
	if err := d.PurgeBuffers(); err != nil {
		return 0, err
	}
	if err := d.t.SetChars(0, false, 0, false); err != nil {
		return 0, err
	}
	if err := d.SetBitMode(byte(direction), ModeMPSSE); err != nil {
		return 0, err
	}
	actual, err := d.SetFrequency(freq)
	if err != nil {
		return 0, err
	}
	// Self test: enable loopback, send a reserved op-code, expect the bad
	// command echo, disable loopback.
	if err := d.EnableLoopback(true); err != nil {
		return 0, err
	}
	if _, err := d.Write([]byte{bogusCommand}); err != nil {
		return 0, err
	}
	var resp [2]byte
	n, err := d.ReadRetry(resp[:], 4, nil)
	if err != nil {
		return 0, err
	}
	if n != 2 || resp[0] != badCommandEcho || resp[1] != bogusCommand {
		return 0, fmt.Errorf("%w: got %#x", ErrMPSSESync, resp[:n])
	}
	if err := d.EnableLoopback(false); err != nil {
		return 0, err
	}
	// Program the initial pin state.
	cmd := []byte{setBitsLow, byte(initial), byte(direction)}
	if d.typ.HasWidePort() {
		cmd = append(cmd, setBitsHigh, byte(initial>>8), byte(direction>>8))
	}
	if _, err := d.Write(cmd); err != nil {
		return 0, err
	}
	if err := d.ValidateMPSSE(); err != nil {
		return 0, err
	}
	return actual, nil
}

// ValidateMPSSE checks that the engine did not reject a previous command.
// Cheap to call after a command batch; the engine stays silent as long as
// everything parses.
func (d *Dev) ValidateMPSSE() error {
	if d.t == nil {
		return ErrNotConnected
	}
	n, err := d.t.QueueStatus()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	var resp [2]byte
	if _, err := d.ReadRetry(resp[:], 2, nil); err != nil {
		return err
	}
	if resp[0] == badCommandEcho {
		return &ProtocolError{Op: resp[1]}
	}
	return nil
}

// SetFrequency reprograms the engine clock and returns the achieved
// frequency. Only valid in MPSSE mode.
func (d *Dev) SetFrequency(freq physic.Frequency) (physic.Frequency, error) {
	if d.t == nil {
		return 0, ErrNotConnected
	}
	if d.mode != ModeMPSSE {
		return 0, fmt.Errorf("ftdi: frequency control requires MPSSE mode, not %s", d.mode)
	}
	actual, cmd, err := engineDivisor(d.typ, freq)
	if err != nil {
		return 0, err
	}
	if _, err := d.Write(cmd); err != nil {
		return 0, err
	}
	if err := d.ValidateMPSSE(); err != nil {
		return 0, err
	}
	if err := d.PurgeRXBuffer(); err != nil {
		return 0, err
	}
	d.frequency = actual
	return actual, nil
}

// Frequency returns the last programmed engine frequency, 0 when the engine
// was never clocked.
func (d *Dev) Frequency() physic.Frequency {
	return d.frequency
}

// EnableAdaptiveClock gates TCK on the RTCK input, as required by some ARM
// JTAG targets.
func (d *Dev) EnableAdaptiveClock(enable bool) error {
	if d.mode != ModeMPSSE {
		return fmt.Errorf("ftdi: adaptive clocking requires MPSSE mode, not %s", d.mode)
	}
	op := disableClkAdaptive
	if enable {
		op = enableClkAdaptive
	}
	if _, err := d.Write([]byte{op}); err != nil {
		return err
	}
	return d.ValidateMPSSE()
}

// Enable3PhaseClock clocks data out on both TCK edges, as required by I2C.
// H series only.
func (d *Dev) Enable3PhaseClock(enable bool) error {
	if d.mode != ModeMPSSE {
		return fmt.Errorf("ftdi: 3-phase clocking requires MPSSE mode, not %s", d.mode)
	}
	if !d.typ.IsHSeries() {
		return fmt.Errorf("ftdi: no 3-phase clocking on %s", d.typ)
	}
	op := disableClk3Phase
	if enable {
		op = enableClk3Phase
	}
	if _, err := d.Write([]byte{op}); err != nil {
		return err
	}
	return d.ValidateMPSSE()
}

// EnableDriveZero switches the selected pins to open collector drive. Each
// set bit of lines selects a pin; the high byte addresses the wide port
// pins.
func (d *Dev) EnableDriveZero(lines uint16) error {
	if d.mode != ModeMPSSE {
		return fmt.Errorf("ftdi: drive-zero requires MPSSE mode, not %s", d.mode)
	}
	if !d.typ.HasDriveZero() {
		return fmt.Errorf("ftdi: no drive-zero support on %s", d.typ)
	}
	if _, err := d.Write([]byte{driveZero, byte(lines), byte(lines >> 8)}); err != nil {
		return err
	}
	return d.ValidateMPSSE()
}

// EnableLoopback connects the engine data output to its input internally.
func (d *Dev) EnableLoopback(enable bool) error {
	if d.mode != ModeMPSSE {
		return fmt.Errorf("ftdi: loopback requires MPSSE mode, not %s", d.mode)
	}
	op := loopbackDisable
	if enable {
		op = loopbackEnable
	}
	if _, err := d.Write([]byte{op}); err != nil {
		return err
	}
	return d.ValidateMPSSE()
}
