// Copyright 2024 The SerialLab Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ftd2xx implements the ftdi.Transport over the FTDI vendor D2XX
// library, via periph.io/x/d2xx.
//
// D2XX hides most of the wire protocol behind its own API, so this backend
// covers a subset of the transport surface: the data path, bit modes, the
// latency timer, baudrate and flow control work; raw control transfers the
// library does not bind (modem status polling, word granular EEPROM access,
// line properties, DTR/RTS, port cycling) return ftdi.ErrNotSupported. Use
// the ftdiusb backend when those are needed.
//
// D2XX also strips the 2-byte status prologue from bulk reads; this backend
// synthesizes one per transfer so the framing layer above sees the same
// packets from both backends.
package ftd2xx

import (
	"errors"
	"time"

	"periph.io/x/d2xx"

	"github.com/seriallab/ftdi"
)

// NumDevices returns the number of attached FTDI devices.
func NumDevices() (int, error) {
	n, e := d2xx.CreateDeviceInfoList()
	if e != 0 {
		return 0, toErr("CreateDeviceInfoList", e)
	}
	return n, nil
}

// Port wraps one opened D2XX handle. It implements ftdi.Transport.
type Port struct {
	h       d2xx.Handle
	version uint16
	venID   uint16
	devID   uint16
	latency uint8
}

// Open opens the i-th D2XX device.
//
// D2XX enumerates each port of a multi-port device as its own index, so a
// Port always reports port 1; callers needing a specific port of an FT2232H
// or FT4232H must pick the matching index.
func Open(i int) (*Port, error) {
	if !d2xx.Available {
		return nil, errors.New("ftd2xx: d2xx library is not available")
	}
	h, e := d2xx.Open(i)
	if e != 0 {
		return nil, toErr("Open", e)
	}
	t, vid, did, e := h.GetDeviceInfo()
	if e != 0 {
		_ = h.Close()
		return nil, toErr("GetDeviceInfo", e)
	}
	ver, ok := typeToVersion[t]
	if !ok {
		_ = h.Close()
		return nil, errors.New("ftd2xx: unsupported device type")
	}
	p := &Port{h: h, version: ver, venID: vid, devID: did, latency: 16}
	// Maximum transfer size; also flushes the driver buffer.
	if e := h.SetUSBParameters(65536, 0); e != 0 {
		_ = h.Close()
		return nil, toErr("SetUSBParameters", e)
	}
	return p, nil
}

// typeToVersion maps the FT_DEVICE enumeration onto the bcdDevice style
// generation codes.
var typeToVersion = map[uint32]uint16{
	0: 0x0400, // FT232/245BM
	1: 0x0200, // FT232/245AM
	4: 0x0500, // FT2232C/D
	5: 0x0600, // FT232R
	6: 0x0700, // FT2232H
	7: 0x0800, // FT4232H
	8: 0x0900, // FT232H
	9: 0x1000, // FT-X series
}

func (p *Port) Close() error {
	return toErr("Close", p.h.Close())
}

func (p *Port) BulkWrite(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	n, e := p.h.Write(b)
	if e != 0 {
		return n, toErr("Write", e)
	}
	return n, nil
}

// BulkRead reads pending data and prepends a synthesized idle status
// prologue, since D2XX strips the real ones. The transfer never exceeds
// len(b), so the framing layer sees a single packet per call.
func (p *Port) BulkRead(b []byte) (int, error) {
	if len(b) < 2 {
		return 0, errors.New("ftd2xx: buffer too small")
	}
	b[0] = 0x01
	b[1] = 0x60
	pending, e := p.h.GetQueueStatus()
	if e != 0 {
		return 0, toErr("GetQueueStatus", e)
	}
	if pending == 0 {
		return 2, nil
	}
	want := len(b) - 2
	if int(pending) < want {
		want = int(pending)
	}
	n, e := p.h.Read(b[2 : 2+want])
	if e != 0 {
		return 2 + n, toErr("Read", e)
	}
	return 2 + n, nil
}

func (p *Port) SetTimeouts(read, write time.Duration) error {
	return toErr("SetTimeouts", p.h.SetTimeouts(int(read/time.Millisecond), int(write/time.Millisecond)))
}

func (p *Port) Reset() error {
	return toErr("ResetDevice", p.h.ResetDevice())
}

func (p *Port) CyclePort() error {
	return ftdi.ErrNotSupported
}

// Purge drains the driver receive buffer; FT_Purge is not bound, so the tx
// side is a no-op.
func (p *Port) Purge(rx, tx bool) error {
	if !rx {
		return nil
	}
	var buf [512]byte
	for {
		pending, e := p.h.GetQueueStatus()
		if e != 0 {
			return toErr("GetQueueStatus", e)
		}
		if pending == 0 {
			return nil
		}
		chunk := int(pending)
		if chunk > len(buf) {
			chunk = len(buf)
		}
		if _, e := p.h.Read(buf[:chunk]); e != 0 {
			return toErr("Read", e)
		}
	}
}

func (p *Port) SetBitMode(mask byte, mode ftdi.Mode) error {
	return toErr("SetBitMode", p.h.SetBitMode(mask, byte(mode)))
}

func (p *Port) ReadPins() (byte, error) {
	b, e := p.h.GetBitMode()
	if e != 0 {
		return 0, toErr("GetBitMode", e)
	}
	return b, nil
}

func (p *Port) SetLatencyTimer(ms uint8) error {
	if e := p.h.SetLatencyTimer(ms); e != 0 {
		return toErr("SetLatencyTimer", e)
	}
	p.latency = ms
	return nil
}

// LatencyTimer returns the last programmed value; the getter is not bound.
func (p *Port) LatencyTimer() (uint8, error) {
	return p.latency, nil
}

func (p *Port) SetBaudRate(baud int, value, index uint16) error {
	// D2XX computes the divisor itself from the effective rate.
	return toErr("SetBaudRate", p.h.SetBaudRate(uint32(baud)))
}

func (p *Port) SetLineProperty(value uint16) error {
	return ftdi.ErrNotSupported
}

// SetFlowControl only supports RTS/CTS; that is the only method the binding
// exposes.
func (p *Port) SetFlowControl(f ftdi.FlowCtrl) error {
	if f != ftdi.FlowRTSCTS {
		return ftdi.ErrNotSupported
	}
	return toErr("SetFlowControl", p.h.SetFlowControl())
}

func (p *Port) SetModemCtrl(value uint16) error {
	return ftdi.ErrNotSupported
}

func (p *Port) SetChars(eventChar byte, eventEn bool, errorChar byte, errorEn bool) error {
	return toErr("SetChars", p.h.SetChars(eventChar, eventEn, errorChar, errorEn))
}

func (p *Port) ModemStatus() (uint16, error) {
	return 0, ftdi.ErrNotSupported
}

func (p *Port) QueueStatus() (int, error) {
	n, e := p.h.GetQueueStatus()
	if e != 0 {
		return 0, toErr("GetQueueStatus", e)
	}
	return int(n), nil
}

func (p *Port) ReadEEWord(word int) (uint16, error) {
	return 0, ftdi.ErrNotSupported
}

func (p *Port) WriteEEWord(word int, value uint16) error {
	return ftdi.ErrNotSupported
}

func (p *Port) ChipVersion() (uint16, error) {
	return p.version, nil
}

func (p *Port) PortIndex() int {
	return 1
}

// MaxPacketSize is the status prologue interval. Synthesized transfers
// carry a single prologue, so report a size no transfer can exceed.
func (p *Port) MaxPacketSize() int {
	return 65536
}

func toErr(s string, e d2xx.Err) error {
	if e == 0 {
		return nil
	}
	return errors.New("ftd2xx: " + s + ": " + e.String())
}

var _ ftdi.Transport = &Port{}
