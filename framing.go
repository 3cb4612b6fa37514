// Copyright 2024 The SerialLab Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"errors"
	"log"
)

// RequestGen produces a continuation command for reads that are fed by an
// engine command (MPSSE reads larger than one FIFO). It is called when the
// device signals an empty transmit FIFO while pending bytes remain, and
// receives the count still missing. Returning nil stops the continuation.
type RequestGen func(pending int) []byte

// readState enumerates the phases of the framed read loop.
type readState int

const (
	// stateDrain serves the caller from the cache of an earlier transfer.
	stateDrain readState = iota
	// stateRefill issues a bulk IN transfer and strips the status bytes.
	stateRefill
	// stateExhausted gives up after consecutive payload-free transfers.
	stateExhausted
)

// Write sends p on the data OUT endpoint, split in write-chunk sized pieces.
// A zero byte completion from the transport is unrecoverable.
func (d *Dev) Write(p []byte) (int, error) {
	if d.t == nil {
		return 0, ErrNotConnected
	}
	offset := 0
	for offset < len(p) {
		chunk := p[offset:]
		if len(chunk) > d.writeChunk {
			chunk = chunk[:d.writeChunk]
		}
		n, err := d.t.BulkWrite(chunk)
		if err != nil {
			return offset, err
		}
		if n <= 0 {
			return offset, errors.New("ftdi: usb bulk write error")
		}
		logf("ftdi: write %d bytes %#x", n, chunk[:n])
		offset += n
	}
	return offset, nil
}

// Read reads up to len(p) bytes with a single transfer attempt. It returns
// whatever payload is available; 0 with a nil error means the device had
// nothing buffered.
func (d *Dev) Read(p []byte) (int, error) {
	return d.ReadRetry(p, 1, nil)
}

// ReadRetry reads up to len(p) bytes, allowing attempts consecutive
// payload-free transfers before giving up. Every device packet carries a
// 2-byte status prologue which is stripped; a transfer carrying only status
// is not an error, it is the idle heartbeat of the chip.
func (d *Dev) ReadRetry(p []byte, attempts int, gen RequestGen) (int, error) {
	if d.t == nil {
		return 0, ErrNotConnected
	}
	if d.maxPacket == 0 {
		return 0, errors.New("ftdi: max packet size is bogus")
	}
	if len(p) == 0 {
		return 0, nil
	}
	got := 0
	retry := attempts
	pending := len(p)
	for state := stateDrain; ; {
		switch state {
		case stateDrain:
			n := copy(p[got:], d.readBuf[d.readOff:])
			d.readOff += n
			got += n
			if got == len(p) {
				return got, nil
			}
			state = stateRefill

		case stateRefill:
			n, err := d.t.BulkRead(d.rawBuf)
			if err != nil {
				return got, err
			}
			if n >= 2 && gen != nil && d.rawBuf[1]&txEmptyBits != 0 {
				// The device TX FIFO drained; ask the engine for more.
				pending -= n - 2
				if pending > 0 {
					if cmd := gen(pending); len(cmd) != 0 {
						if _, err := d.Write(cmd); err != nil {
							return got, err
						}
					}
				}
			}
			if n <= 2 {
				retry--
				if retry > 0 {
					continue
				}
				d.lat.payload(false)
				state = stateExhausted
				continue
			}
			retry = attempts
			d.lat.payload(true)
			d.cachePayload(d.rawBuf[:n])
			state = stateDrain

		case stateExhausted:
			d.readBuf = d.readBuf[:0]
			d.readOff = 0
			return got, nil
		}
	}
}

// cachePayload strips the status prologue repeated every maxPacket bytes of
// a raw transfer and stores the payload for drain.
func (d *Dev) cachePayload(raw []byte) {
	d.readBuf = d.readBuf[:0]
	d.readOff = 0
	for off := 0; off < len(raw); off += d.maxPacket {
		end := off + d.maxPacket
		if end > len(raw) {
			end = len(raw)
		}
		pkt := raw[off:end]
		if len(pkt) < 2 {
			break
		}
		if pkt[1]&errorBits[1] != 0 {
			log.Printf("ftdi: communication error %02x:%02x %v", pkt[0], pkt[1],
				DecodeModemStatus(uint16(pkt[0])|uint16(pkt[1])<<8, true))
		}
		if len(pkt) > 2 {
			d.readBuf = append(d.readBuf, pkt[2:]...)
		}
	}
	logf("ftdi: read %d payload bytes %#x", len(d.readBuf), d.readBuf)
}

// invalidateReadCache drops buffered payload. Called on purge and on mode
// changes, where stale UART bytes would corrupt the new protocol.
func (d *Dev) invalidateReadCache() {
	d.readBuf = d.readBuf[:0]
	d.readOff = 0
}
