// Copyright 2024 The SerialLab Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Parity of the UART frame.
type Parity uint8

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
	ParityMark
	ParitySpace
)

// StopBits of the UART frame.
type StopBits uint8

const (
	StopBits1  StopBits = 0
	StopBits15 StopBits = 1
	StopBits2  StopBits = 2
)

const (
	defaultTimeout   = 5 * time.Second
	defaultChunkSize = 4096
	maxChunkSize     = 16384
	defaultLatency   = latencyMin
	// breakBit in the SIO_SET_DATA value asserts the break condition.
	breakBit = 0x4000
)

// Dev is an open session on one port of an FTDI device.
//
// It is stateful and single threaded: one in-flight operation at a time,
// blocking, no internal locking. The read path keeps a payload cache
// between calls, so interleaving reads from multiple goroutines corrupts
// the stream.
type Dev struct {
	t     Transport
	typ   DevType
	index int

	readTimeout  time.Duration
	writeTimeout time.Duration
	readChunk    int
	writeChunk   int
	baudRate     int
	frequency    physic.Frequency
	mode         Mode
	lineProp     uint16
	eventChar    byte
	eventCharOn  bool
	errorChar    byte
	errorCharOn  bool

	maxPacket int
	rawBuf    []byte
	readBuf   []byte
	readOff   int
	lat       latencyController

	cbusMask byte
	cbusDir  byte
	cbusOut  byte
}

// Open starts a session on t and brings the port to a known state: buffers
// purged, port logic reset, UART mode, minimum latency.
func Open(t Transport) (*Dev, error) {
	ver, err := t.ChipVersion()
	if err != nil {
		return nil, err
	}
	typ := DevType(ver)
	if !typ.valid() {
		return nil, fmt.Errorf("ftdi: unknown device version %#04x", ver)
	}
	maxPacket := t.MaxPacketSize()
	if maxPacket < 3 {
		return nil, fmt.Errorf("ftdi: bogus max packet size %d", maxPacket)
	}
	d := &Dev{
		t:            t,
		typ:          typ,
		index:        t.PortIndex(),
		readTimeout:  defaultTimeout,
		writeTimeout: defaultTimeout,
		baudRate:     -1,
		maxPacket:    maxPacket,
	}
	d.lat.apply = t.SetLatencyTimer
	if err := d.SetReadChunkSize(defaultChunkSize); err != nil {
		return nil, err
	}
	if err := d.SetWriteChunkSize(defaultChunkSize); err != nil {
		return nil, err
	}
	if err := t.SetTimeouts(d.readTimeout, d.writeTimeout); err != nil {
		return nil, err
	}
	if err := d.PurgeBuffers(); err != nil {
		return nil, err
	}
	if err := t.Reset(); err != nil {
		return nil, err
	}
	if err := d.SetBitMode(0, ModeReset); err != nil {
		return nil, err
	}
	if err := d.SetLatencyTimer(defaultLatency); err != nil {
		return nil, err
	}
	return d, nil
}

// Close terminates the session and releases the transport. Any error from
// the underlying release is returned; the session is unusable either way.
func (d *Dev) Close() error {
	if d.t == nil {
		return nil
	}
	err := d.t.Close()
	d.t = nil
	d.invalidateReadCache()
	return err
}

// IsConnected reports whether the session is usable.
func (d *Dev) IsConnected() bool {
	return d.t != nil
}

// DevType returns the chip generation of the device.
func (d *Dev) DevType() DevType {
	return d.typ
}

// PortIndex returns the 1-based port of the device this session drives.
func (d *Dev) PortIndex() int {
	return d.index
}

// Mode returns the feature mode the port is currently in.
func (d *Dev) Mode() Mode {
	return d.mode
}

// IsBitbangEnabled reports whether the port is in one of the bit bang
// modes.
func (d *Dev) IsBitbangEnabled() bool {
	switch d.mode {
	case ModeReset, ModeMPSSE, ModeCBusBitbang:
		return false
	default:
		return true
	}
}

// BaudRate returns the last programmed effective baudrate, -1 when none was
// ever set.
func (d *Dev) BaudRate() int {
	return d.baudRate
}

// SetBaudRate programs the baudrate generator and returns the effective
// rate. With constrain, a deviation above 3% from the request is rejected
// before touching the device. In a bit bang mode the rate applies to the
// pin sampling clock.
func (d *Dev) SetBaudRate(baud int, constrain bool) (int, error) {
	if d.t == nil {
		return 0, ErrNotConnected
	}
	if d.mode == ModeMPSSE {
		return 0, fmt.Errorf("ftdi: baudrate is not meaningful in MPSSE mode")
	}
	actual, value, index, err := uartDivisor(d.typ, baud, d.IsBitbangEnabled())
	if err != nil {
		return 0, err
	}
	if constrain {
		delta := 100. * float64(actual-baud) / float64(baud)
		if delta < 0 {
			delta = -delta
		}
		if delta > baudTolerance {
			return 0, fmt.Errorf("ftdi: baudrate %d not achievable, closest is %d (%.1f%% off)", baud, actual, delta)
		}
	}
	// Engine capable chips fold the port number into the index.
	if d.typ.HasMPSSE() {
		index = index<<8 | uint16(d.index)
	}
	if err := d.t.SetBaudRate(actual, value, index); err != nil {
		return 0, err
	}
	d.baudRate = actual
	return actual, nil
}

// SetTimeouts sets the transfer timeouts of both directions.
func (d *Dev) SetTimeouts(read, write time.Duration) error {
	if d.t == nil {
		return ErrNotConnected
	}
	if err := d.t.SetTimeouts(read, write); err != nil {
		return err
	}
	d.readTimeout = read
	d.writeTimeout = write
	return nil
}

// Timeouts returns the current transfer timeouts.
func (d *Dev) Timeouts() (read, write time.Duration) {
	return d.readTimeout, d.writeTimeout
}

// Reset resets the port logic. With usb, the whole device is power cycled
// on the bus afterwards, which invalidates the session.
func (d *Dev) Reset(usb bool) error {
	if d.t == nil {
		return ErrNotConnected
	}
	if err := d.t.Reset(); err != nil {
		return err
	}
	d.invalidateReadCache()
	if usb {
		return d.t.CyclePort()
	}
	return nil
}

// PurgeRXBuffer clears the device receive FIFO and the local payload cache.
func (d *Dev) PurgeRXBuffer() error {
	if d.t == nil {
		return ErrNotConnected
	}
	d.invalidateReadCache()
	return d.t.Purge(true, false)
}

// PurgeTXBuffer clears the device transmit FIFO.
func (d *Dev) PurgeTXBuffer() error {
	if d.t == nil {
		return ErrNotConnected
	}
	return d.t.Purge(false, true)
}

// PurgeBuffers clears both device FIFOs and the local payload cache.
func (d *Dev) PurgeBuffers() error {
	if err := d.PurgeRXBuffer(); err != nil {
		return err
	}
	return d.PurgeTXBuffer()
}

// SetReadChunkSize sets the transfer size of the framed read path. 0 picks
// the largest size the port FIFOs and the endpoint allow. Buffered payload
// is dropped.
func (d *Dev) SetReadChunkSize(n int) error {
	if n == 0 {
		tx, rx := d.typ.FIFOSizes()
		n = tx
		if rx < n {
			n = rx
		}
		if d.maxPacket < n {
			n = d.maxPacket
		}
	}
	if n < d.maxPacket {
		n = d.maxPacket
	}
	if n > maxChunkSize {
		n = maxChunkSize
	}
	d.readChunk = n
	d.rawBuf = make([]byte, n)
	d.invalidateReadCache()
	return nil
}

// ReadChunkSize returns the current read transfer size.
func (d *Dev) ReadChunkSize() int {
	return d.readChunk
}

// SetWriteChunkSize sets the split size of bulk writes. 0 picks the
// host-to-device FIFO size.
func (d *Dev) SetWriteChunkSize(n int) error {
	if n == 0 {
		n, _ = d.typ.FIFOSizes()
	}
	if n <= 0 {
		return fmt.Errorf("ftdi: invalid write chunk size %d", n)
	}
	if n > maxChunkSize {
		n = maxChunkSize
	}
	d.writeChunk = n
	return nil
}

// WriteChunkSize returns the current write split size.
func (d *Dev) WriteChunkSize() int {
	return d.writeChunk
}

// SetBitMode switches the feature mode of the port. mask meaning depends on
// the mode; in the bit bang modes it is the pin direction byte.
func (d *Dev) SetBitMode(mask byte, mode Mode) error {
	if d.t == nil {
		return ErrNotConnected
	}
	if err := d.t.SetBitMode(mask, mode); err != nil {
		return err
	}
	d.mode = mode
	d.invalidateReadCache()
	return nil
}

// ReadPins samples the current pin levels regardless of mode.
func (d *Dev) ReadPins() (byte, error) {
	if d.t == nil {
		return 0, ErrNotConnected
	}
	return d.t.ReadPins()
}

// SetLatencyTimer programs the FIFO flush timer, in ms. The hardware bounds
// are [12, 255].
func (d *Dev) SetLatencyTimer(ms uint8) error {
	if d.t == nil {
		return ErrNotConnected
	}
	if ms < latencyMin {
		return fmt.Errorf("ftdi: latency timer %d out of range [%d, %d]", ms, latencyMin, latencyMax)
	}
	if err := d.t.SetLatencyTimer(ms); err != nil {
		return err
	}
	if d.lat.enabled() {
		d.lat.current = int(ms)
	}
	return nil
}

// LatencyTimer returns the current FIFO flush timer, in ms.
func (d *Dev) LatencyTimer() (uint8, error) {
	if d.t == nil {
		return 0, ErrNotConnected
	}
	return d.t.LatencyTimer()
}

// SetDynamicLatency enables latency adaptation on the read path: the timer
// starts at min and doubles toward max after threshold consecutive
// payload-free reads. threshold 0 disables adaptation.
func (d *Dev) SetDynamicLatency(min, max uint8, threshold int) error {
	if d.t == nil {
		return ErrNotConnected
	}
	if threshold <= 0 {
		d.lat = latencyController{apply: d.t.SetLatencyTimer}
		return nil
	}
	if min < latencyMin || max < min {
		return fmt.Errorf("ftdi: invalid latency range [%d, %d]", min, max)
	}
	d.lat = latencyController{
		apply:     d.t.SetLatencyTimer,
		min:       min,
		max:       max,
		threshold: threshold,
		current:   int(min),
	}
	return d.t.SetLatencyTimer(min)
}

// SetLineProperty sets the UART frame format: 7 or 8 data bits, stop bits
// and parity.
func (d *Dev) SetLineProperty(bits int, stop StopBits, parity Parity) error {
	if d.t == nil {
		return ErrNotConnected
	}
	if bits != 7 && bits != 8 {
		return fmt.Errorf("ftdi: unsupported data bits %d", bits)
	}
	if parity > ParitySpace {
		return fmt.Errorf("ftdi: unsupported parity %d", parity)
	}
	if stop > StopBits2 {
		return fmt.Errorf("ftdi: unsupported stop bits %d", stop)
	}
	value := uint16(bits) | uint16(parity)<<8 | uint16(stop)<<11
	if err := d.t.SetLineProperty(value); err != nil {
		return err
	}
	d.lineProp = value
	return nil
}

// SetBreak asserts or clears the break condition, preserving the current
// frame format.
func (d *Dev) SetBreak(on bool) error {
	if d.t == nil {
		return ErrNotConnected
	}
	value := d.lineProp &^ breakBit
	if on {
		value |= breakBit
	}
	if err := d.t.SetLineProperty(value); err != nil {
		return err
	}
	d.lineProp = value
	return nil
}

// SetFlowControl sets the UART flow control method.
func (d *Dev) SetFlowControl(f FlowCtrl) error {
	if d.t == nil {
		return ErrNotConnected
	}
	return d.t.SetFlowControl(f)
}

// SetDTR drives the DTR line.
func (d *Dev) SetDTR(on bool) error {
	if d.t == nil {
		return ErrNotConnected
	}
	v := sioSetDTRLow
	if on {
		v = sioSetDTRHigh
	}
	return d.t.SetModemCtrl(v)
}

// SetRTS drives the RTS line.
func (d *Dev) SetRTS(on bool) error {
	if d.t == nil {
		return ErrNotConnected
	}
	v := sioSetRTSLow
	if on {
		v = sioSetRTSHigh
	}
	return d.t.SetModemCtrl(v)
}

// SetDTRRTS drives both modem lines in one request.
func (d *Dev) SetDTRRTS(dtr, rts bool) error {
	if d.t == nil {
		return ErrNotConnected
	}
	v := sioSetDTRLow
	if dtr {
		v = sioSetDTRHigh
	}
	if rts {
		v |= sioSetRTSHigh
	} else {
		v |= sioSetRTSLow
	}
	return d.t.SetModemCtrl(v)
}

// SetEventChar sets or disables the event character, which forces a FIFO
// flush to the host when received.
func (d *Dev) SetEventChar(c byte, enable bool) error {
	if d.t == nil {
		return ErrNotConnected
	}
	d.eventChar, d.eventCharOn = c, enable
	return d.t.SetChars(d.eventChar, d.eventCharOn, d.errorChar, d.errorCharOn)
}

// SetErrorChar sets or disables the character inserted in the stream on a
// line error.
func (d *Dev) SetErrorChar(c byte, enable bool) error {
	if d.t == nil {
		return ErrNotConnected
	}
	d.errorChar, d.errorCharOn = c, enable
	return d.t.SetChars(d.eventChar, d.eventCharOn, d.errorChar, d.errorCharOn)
}

// PollModemStatus polls the modem and line status registers. Low byte is
// modem status, high byte line status.
func (d *Dev) PollModemStatus() (uint16, error) {
	if d.t == nil {
		return 0, ErrNotConnected
	}
	return d.t.ModemStatus()
}

// ModemStatus polls the status registers and returns the names of the
// asserted bits.
func (d *Dev) ModemStatus() ([]string, error) {
	s, err := d.PollModemStatus()
	if err != nil {
		return nil, err
	}
	return DecodeModemStatus(s, false), nil
}

// GetCTS samples the Clear To Send line.
func (d *Dev) GetCTS() (bool, error) {
	s, err := d.PollModemStatus()
	return s&0x10 != 0, err
}

// GetDSR samples the Data Set Ready line.
func (d *Dev) GetDSR() (bool, error) {
	s, err := d.PollModemStatus()
	return s&0x20 != 0, err
}

// GetRI samples the Ring Indicator line.
func (d *Dev) GetRI() (bool, error) {
	s, err := d.PollModemStatus()
	return s&0x40 != 0, err
}

// GetCD samples the Carrier Detect line.
func (d *Dev) GetCD() (bool, error) {
	s, err := d.PollModemStatus()
	return s&0x80 != 0, err
}

// Bitbang switches the port to a bit bang mode and returns the effective
// pin clock. direction sets each of the 8 data pins as input (0) or output
// (1). With sync, pins are sampled on every write instead of continuously.
func (d *Dev) Bitbang(direction byte, baud int, sync bool) (int, error) {
	if d.t == nil {
		return 0, ErrNotConnected
	}
	if err := d.SetLatencyTimer(16); err != nil {
		return 0, err
	}
	if err := d.SetReadChunkSize(0); err != nil {
		return 0, err
	}
	if err := d.SetWriteChunkSize(0); err != nil {
		return 0, err
	}
	if err := d.t.SetFlowControl(FlowNone); err != nil {
		return 0, err
	}
	mode := ModeAsyncBitbang
	if sync {
		mode = ModeSyncBitbang
	}
	if err := d.SetBitMode(direction, mode); err != nil {
		return 0, err
	}
	actual, err := d.SetBaudRate(baud, false)
	if err != nil {
		return 0, err
	}
	if err := d.PurgeBuffers(); err != nil {
		return 0, err
	}
	return actual, nil
}

// SetCBusDirection configures the CBUS pins usable for bit bang. mask
// selects up to 4 pins, direction sets each selected pin as input (0) or
// output (1).
func (d *Dev) SetCBusDirection(mask, direction byte) error {
	if !d.typ.HasCBus() {
		return fmt.Errorf("ftdi: no CBUS support on %s", d.typ)
	}
	if mask > 0x0F || direction > 0x0F {
		return fmt.Errorf("ftdi: invalid CBUS selection %#02x/%#02x", mask, direction)
	}
	d.cbusMask = mask
	d.cbusDir = direction & mask
	return nil
}

// CBusGPIO samples the CBUS pins configured as inputs. The port is briefly
// switched to CBUS bit bang and restored afterwards.
func (d *Dev) CBusGPIO() (byte, error) {
	if d.t == nil {
		return 0, ErrNotConnected
	}
	if d.mode != ModeReset && d.mode != ModeCBusBitbang {
		return 0, fmt.Errorf("ftdi: CBUS gpio not available in %s mode", d.mode)
	}
	if d.cbusMask&^d.cbusDir == 0 {
		return 0, fmt.Errorf("ftdi: no CBUS pin configured as input")
	}
	prev := d.mode
	if err := d.SetBitMode(d.cbusDir<<4|d.cbusOut, ModeCBusBitbang); err != nil {
		return 0, err
	}
	pins, err := d.t.ReadPins()
	if rerr := d.restoreMode(prev); err == nil {
		err = rerr
	}
	if err != nil {
		return 0, err
	}
	return pins &^ d.cbusDir & d.cbusMask, nil
}

// SetCBusGPIO drives the CBUS pins configured as outputs.
func (d *Dev) SetCBusGPIO(pins byte) error {
	if d.t == nil {
		return ErrNotConnected
	}
	if d.mode != ModeReset && d.mode != ModeCBusBitbang {
		return fmt.Errorf("ftdi: CBUS gpio not available in %s mode", d.mode)
	}
	if d.cbusMask&d.cbusDir == 0 {
		return fmt.Errorf("ftdi: no CBUS pin configured as output")
	}
	pins &= d.cbusMask & d.cbusDir
	prev := d.mode
	if err := d.SetBitMode(d.cbusDir<<4|pins, ModeCBusBitbang); err != nil {
		return err
	}
	d.cbusOut = pins
	return d.restoreMode(prev)
}

// restoreMode returns the port to prev after a transient CBUS access.
func (d *Dev) restoreMode(prev Mode) error {
	if prev == d.mode {
		return nil
	}
	return d.SetBitMode(0, prev)
}
