// Copyright 2024 The SerialLab Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ftdiusb implements the ftdi.Transport over libusb, via
// github.com/google/gousb.
//
// It drives the chip with the FTDI SIO vendor control requests and exposes
// the full transport surface, including word granular EEPROM access and
// modem status polling. No vendor driver is required; on Linux the kernel
// ftdi_sio driver is detached automatically.
package ftdiusb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"

	"github.com/seriallab/ftdi"
)

// VendorID is the FTDI USB vendor ID.
const VendorID = 0x0403

// FTDI SIO vendor control requests.
const (
	reqReset           = 0x00
	reqModemCtrl       = 0x01
	reqSetFlowCtrl     = 0x02
	reqSetBaudRate     = 0x03
	reqSetData         = 0x04
	reqPollModemStatus = 0x05
	reqSetEventChar    = 0x06
	reqSetErrorChar    = 0x07
	reqSetLatencyTimer = 0x09
	reqGetLatencyTimer = 0x0A
	reqSetBitMode      = 0x0B
	reqReadPins        = 0x0C
	reqReadEEPROM      = 0x90
	reqWriteEEPROM     = 0x91
	reqEraseEEPROM     = 0x92
)

// reqReset values.
const (
	resetSIO     = 0
	resetPurgeRX = 1
	resetPurgeTX = 2
)

// DeviceInfo describes one attached FTDI device.
type DeviceInfo struct {
	Bus     int
	Address int
	VID     uint16
	PID     uint16
	Type    ftdi.DevType
	Ports   int
	Serial  string
	Product string
}

func (d *DeviceInfo) String() string {
	return fmt.Sprintf("%04x:%04x %s serial=%q bus=%d addr=%d", d.VID, d.PID, d.Type, d.Serial, d.Bus, d.Address)
}

// Enumerate lists the attached FTDI devices.
func Enumerate() ([]DeviceInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(VendorID)
	})
	// OpenDevices can return the devices it could open along with an error
	// for the ones it could not.
	var out []DeviceInfo
	for _, dev := range devs {
		info := DeviceInfo{
			Bus:     dev.Desc.Bus,
			Address: dev.Desc.Address,
			VID:     uint16(dev.Desc.Vendor),
			PID:     uint16(dev.Desc.Product),
			Type:    ftdi.DevType(uint16(dev.Desc.Device)),
		}
		info.Ports = info.Type.PortCount()
		if s, err := dev.SerialNumber(); err == nil {
			info.Serial = s
		}
		if s, err := dev.Product(); err == nil {
			info.Product = s
		}
		out = append(out, info)
		dev.Close()
	}
	if len(out) == 0 && err != nil {
		return nil, err
	}
	return out, nil
}

// Port is one claimed port of an FTDI device. It implements ftdi.Transport.
type Port struct {
	ctx   *gousb.Context
	dev   *gousb.Device
	cfg   *gousb.Config
	intf  *gousb.Interface
	inEp  *gousb.InEndpoint
	outEp *gousb.OutEndpoint

	version   uint16
	index     int
	maxPacket int

	// stash holds a raw transfer consumed early by QueueStatus, served to
	// the next BulkRead.
	stash []byte

	readTimeout  time.Duration
	writeTimeout time.Duration
}

// Open claims port (1-based) of the first device matching vid, pid and
// serial. vid 0 defaults to the FTDI vendor ID; an empty serial matches any
// device.
func Open(vid, pid uint16, serial string, port int) (*Port, error) {
	if vid == 0 {
		vid = VendorID
	}
	if port < 1 {
		return nil, fmt.Errorf("ftdiusb: invalid port %d", port)
	}
	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == gousb.ID(vid) && desc.Product == gousb.ID(pid)
	})
	if err != nil && len(devs) == 0 {
		ctx.Close()
		return nil, err
	}
	var dev *gousb.Device
	for _, d := range devs {
		if dev == nil {
			if serial != "" {
				s, err := d.SerialNumber()
				if err != nil || s != serial {
					d.Close()
					continue
				}
			}
			dev = d
			continue
		}
		d.Close()
	}
	if dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("ftdiusb: no device %04x:%04x serial %q", vid, pid, serial)
	}
	p, err := claim(ctx, dev, port)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, err
	}
	return p, nil
}

func claim(ctx *gousb.Context, dev *gousb.Device, port int) (*Port, error) {
	typ := ftdi.DevType(uint16(dev.Desc.Device))
	if port > typ.PortCount() {
		return nil, fmt.Errorf("ftdiusb: %s has %d port(s), not %d", typ, typ.PortCount(), port)
	}
	_ = dev.SetAutoDetach(true)
	cfg, err := dev.Config(1)
	if err != nil {
		return nil, err
	}
	intf, err := cfg.Interface(port-1, 0)
	if err != nil {
		cfg.Close()
		return nil, err
	}
	var inEp *gousb.InEndpoint
	var outEp *gousb.OutEndpoint
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ep.Direction == gousb.EndpointDirectionIn {
			if inEp, err = intf.InEndpoint(ep.Number); err != nil {
				break
			}
		} else {
			if outEp, err = intf.OutEndpoint(ep.Number); err != nil {
				break
			}
		}
	}
	if err == nil && (inEp == nil || outEp == nil) {
		err = errors.New("ftdiusb: bulk endpoint pair not found")
	}
	if err != nil {
		intf.Close()
		cfg.Close()
		return nil, err
	}
	return &Port{
		ctx:          ctx,
		dev:          dev,
		cfg:          cfg,
		intf:         intf,
		inEp:         inEp,
		outEp:        outEp,
		version:      uint16(dev.Desc.Device),
		index:        port,
		maxPacket:    inEp.Desc.MaxPacketSize,
		readTimeout:  5 * time.Second,
		writeTimeout: 5 * time.Second,
	}, nil
}

func (p *Port) Close() error {
	if p.intf != nil {
		p.intf.Close()
		p.intf = nil
	}
	var err error
	if p.cfg != nil {
		err = p.cfg.Close()
		p.cfg = nil
	}
	if p.dev != nil {
		if cerr := p.dev.Close(); err == nil {
			err = cerr
		}
		p.dev = nil
	}
	if p.ctx != nil {
		if cerr := p.ctx.Close(); err == nil {
			err = cerr
		}
		p.ctx = nil
	}
	return err
}

// out issues a vendor control request toward the device. The port number
// rides in the low byte of wIndex.
func (p *Port) out(req uint8, value, index uint16) error {
	typ := uint8(gousb.ControlOut) | uint8(gousb.ControlVendor) | uint8(gousb.ControlDevice)
	_, err := p.dev.Control(typ, req, value, index|uint16(p.index), nil)
	return err
}

// in issues a vendor control read from the device.
func (p *Port) in(req uint8, value uint16, data []byte) error {
	typ := uint8(gousb.ControlIn) | uint8(gousb.ControlVendor) | uint8(gousb.ControlDevice)
	n, err := p.dev.Control(typ, req, value, uint16(p.index), data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("ftdiusb: control read returned %d of %d bytes", n, len(data))
	}
	return nil
}

func (p *Port) BulkWrite(b []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), p.writeTimeout)
	defer cancel()
	return p.outEp.WriteContext(ctx, b)
}

func (p *Port) BulkRead(b []byte) (int, error) {
	if len(p.stash) > 0 {
		n := copy(b, p.stash)
		p.stash = p.stash[n:]
		return n, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.readTimeout)
	defer cancel()
	n, err := p.inEp.ReadContext(ctx, b)
	if n > 0 {
		return n, nil
	}
	// A timeout with nothing read is the idle case, not a failure.
	if err != nil && isTimeout(err) {
		return 0, nil
	}
	return n, err
}

// isTimeout reports whether an endpoint transfer was cut short by its
// deadline; libusb surfaces a deadline cancellation as a cancelled
// transfer.
func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, gousb.TransferCancelled) ||
		errors.Is(err, gousb.TransferTimedOut)
}

func (p *Port) SetTimeouts(read, write time.Duration) error {
	p.readTimeout = read
	p.writeTimeout = write
	return nil
}

func (p *Port) Reset() error {
	return p.out(reqReset, resetSIO, 0)
}

func (p *Port) CyclePort() error {
	return p.dev.Reset()
}

func (p *Port) Purge(rx, tx bool) error {
	if rx {
		p.stash = nil
		if err := p.out(reqReset, resetPurgeRX, 0); err != nil {
			return err
		}
	}
	if tx {
		if err := p.out(reqReset, resetPurgeTX, 0); err != nil {
			return err
		}
	}
	return nil
}

func (p *Port) SetBitMode(mask byte, mode ftdi.Mode) error {
	return p.out(reqSetBitMode, uint16(mode)<<8|uint16(mask), 0)
}

func (p *Port) ReadPins() (byte, error) {
	var b [1]byte
	if err := p.in(reqReadPins, 0, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (p *Port) SetLatencyTimer(ms uint8) error {
	return p.out(reqSetLatencyTimer, uint16(ms), 0)
}

func (p *Port) LatencyTimer() (uint8, error) {
	var b [1]byte
	if err := p.in(reqGetLatencyTimer, 0, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (p *Port) SetBaudRate(baud int, value, index uint16) error {
	// index carries the high bits of the divisor and, on multi-engine
	// chips, the port number; the session encodes both, so no port fold
	// happens here.
	typ := uint8(gousb.ControlOut) | uint8(gousb.ControlVendor) | uint8(gousb.ControlDevice)
	_, err := p.dev.Control(typ, reqSetBaudRate, value, index, nil)
	return err
}

func (p *Port) SetLineProperty(value uint16) error {
	return p.out(reqSetData, value, 0)
}

func (p *Port) SetFlowControl(f ftdi.FlowCtrl) error {
	return p.out(reqSetFlowCtrl, 0, uint16(f))
}

func (p *Port) SetModemCtrl(value uint16) error {
	return p.out(reqModemCtrl, value, 0)
}

func (p *Port) SetChars(eventChar byte, eventEn bool, errorChar byte, errorEn bool) error {
	v := uint16(eventChar)
	if eventEn {
		v |= 0x0100
	}
	if err := p.out(reqSetEventChar, v, 0); err != nil {
		return err
	}
	v = uint16(errorChar)
	if errorEn {
		v |= 0x0100
	}
	return p.out(reqSetErrorChar, v, 0)
}

func (p *Port) ModemStatus() (uint16, error) {
	var b [2]byte
	if err := p.in(reqPollModemStatus, 0, b[:]); err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

// QueueStatus is approximated with a short poll of the IN endpoint: libusb
// has no FIFO level query. Whatever arrives is stashed and served by the
// next BulkRead.
func (p *Port) QueueStatus() (int, error) {
	if len(p.stash) > 0 {
		return stashPayload(p.stash, p.maxPacket), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	buf := make([]byte, p.maxPacket)
	n, err := p.inEp.ReadContext(ctx, buf)
	if n > 2 {
		p.stash = buf[:n]
	}
	if err != nil && !isTimeout(err) && n <= 2 {
		return 0, err
	}
	return stashPayload(p.stash, p.maxPacket), nil
}

// stashPayload counts the payload bytes of a raw transfer.
func stashPayload(raw []byte, maxPacket int) int {
	n := 0
	for off := 0; off < len(raw); off += maxPacket {
		end := off + maxPacket
		if end > len(raw) {
			end = len(raw)
		}
		if end-off > 2 {
			n += end - off - 2
		}
	}
	return n
}

func (p *Port) ReadEEWord(word int) (uint16, error) {
	var b [2]byte
	typ := uint8(gousb.ControlIn) | uint8(gousb.ControlVendor) | uint8(gousb.ControlDevice)
	n, err := p.dev.Control(typ, reqReadEEPROM, 0, uint16(word), b[:])
	if err != nil {
		return 0, err
	}
	if n != 2 {
		return 0, fmt.Errorf("ftdiusb: EEPROM read returned %d bytes", n)
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

func (p *Port) WriteEEWord(word int, value uint16) error {
	typ := uint8(gousb.ControlOut) | uint8(gousb.ControlVendor) | uint8(gousb.ControlDevice)
	_, err := p.dev.Control(typ, reqWriteEEPROM, value, uint16(word), nil)
	return err
}

// EraseEEPROM erases the whole external EEPROM. Internal EEPROM chips
// reject the request.
func (p *Port) EraseEEPROM() error {
	typ := uint8(gousb.ControlOut) | uint8(gousb.ControlVendor) | uint8(gousb.ControlDevice)
	_, err := p.dev.Control(typ, reqEraseEEPROM, 0, 0, nil)
	return err
}

func (p *Port) ChipVersion() (uint16, error) {
	return p.version, nil
}

func (p *Port) PortIndex() int {
	return p.index
}

func (p *Port) MaxPacketSize() int {
	return p.maxPacket
}

var _ ftdi.Transport = &Port{}
