// Copyright 2024 The SerialLab Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"errors"
	"fmt"
	"log"
)

// The configuration memory is word addressed. FT-X chips reserve the byte
// range [0x24, 0x80) for factory data (the MTP sector) which is excluded
// from the checksum, and store the checksum at a fixed offset instead of at
// the end.
const (
	eeChecksumSeed = 0xAAAA
	ftxMTPStart    = 0x24
	ftxMTPEnd      = 0x80
	ftxChecksumOff = 0x7E
)

// extEEPROMSizes lists the valid capacities of external EEPROM parts
// (93C46, 93C56/66 in 16 bit mode).
var extEEPROMSizes = [...]int{128, 256}

// eepromSize resolves the configuration memory size. hint is the declared
// external part capacity, 0 to pick a default. Chips with internal memory
// reject any conflicting hint.
func (d *Dev) eepromSize(hint int) (int, error) {
	if n := d.typ.InternalEEPROMSize(); n != 0 {
		if hint != 0 && hint != n {
			return 0, fmt.Errorf("ftdi: %s has a fixed %d byte EEPROM, not %d", d.typ, n, hint)
		}
		return n, nil
	}
	if hint == 0 {
		return 256, nil
	}
	for _, s := range extEEPROMSizes {
		if hint == s {
			return hint, nil
		}
	}
	return 0, fmt.Errorf("ftdi: invalid EEPROM size %d", hint)
}

// EEPROMChecksum computes the configuration memory checksum over data: a
// 16 bit XOR-rotate over little endian words, seeded with 0xAAAA. On FT-X
// chips the MTP sector is skipped.
func (d *Dev) EEPROMChecksum(data []byte) (uint16, error) {
	if len(data) == 0 {
		return 0, errors.New("ftdi: empty EEPROM image")
	}
	if len(data)&1 != 0 {
		return 0, errors.New("ftdi: odd sized EEPROM image")
	}
	mtp := d.typ == DevTypeFTX
	ck := uint16(eeChecksumSeed)
	for i := 0; i < len(data); i += 2 {
		if mtp && i >= ftxMTPStart && i < ftxMTPEnd {
			continue
		}
		ck ^= uint16(data[i]) | uint16(data[i+1])<<8
		ck = ck<<1 | ck>>15
	}
	return ck, nil
}

// ReadEEPROM reads length bytes of configuration memory starting at byte
// offset addr. length 0 reads up to the end. size declares the external
// part capacity, 0 for the default; it is validated before any transfer.
//
// The memory is word addressed; unaligned requests are widened to whole
// words and trimmed after the fact.
func (d *Dev) ReadEEPROM(addr, length, size int) ([]byte, error) {
	if d.t == nil {
		return nil, ErrNotConnected
	}
	eeSize, err := d.eepromSize(size)
	if err != nil {
		return nil, err
	}
	if length == 0 {
		length = eeSize - addr
	}
	if addr < 0 || length < 0 || addr+length > eeSize {
		return nil, fmt.Errorf("ftdi: invalid EEPROM range [%#x, %#x)", addr, addr+length)
	}
	wordAddr := addr >> 1
	wordCount := length >> 1
	if addr&1 != 0 || length&1 != 0 {
		wordCount++
	}
	buf := make([]byte, 0, 2*wordCount)
	for ; wordCount > 0; wordCount-- {
		w, err := d.t.ReadEEWord(wordAddr)
		if err != nil {
			return nil, err
		}
		buf = append(buf, byte(w), byte(w>>8))
		wordAddr++
	}
	start := addr & 1
	return buf[start : start+length], nil
}

// WriteEEPROM patches data into the configuration memory at byte offset
// addr and rewrites the checksum. The whole image is read first, patched in
// memory, then only the touched word span and the checksum words are
// written back.
//
// With dryRun, the intended word writes are logged and nothing is issued to
// the device.
func (d *Dev) WriteEEPROM(addr int, data []byte, size int, dryRun bool) error {
	if d.t == nil {
		return ErrNotConnected
	}
	eeSize, err := d.eepromSize(size)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	if addr < 0 || addr+len(data) > eeSize {
		return fmt.Errorf("ftdi: invalid EEPROM range [%#x, %#x)", addr, addr+len(data))
	}
	img, err := d.ReadEEPROM(0, eeSize, eeSize)
	if err != nil {
		return err
	}
	copy(img[addr:], data)
	ck, err := d.EEPROMChecksum(img[:eeSize-2])
	if err != nil {
		return err
	}
	ckAddr := eeSize - 2
	if d.typ == DevTypeFTX {
		ckAddr = ftxChecksumOff
	}
	img[ckAddr] = byte(ck)
	img[ckAddr+1] = byte(ck >> 8)
	// Word align the touched span. When the checksum occupies the last
	// word it is kept out of the span; on FT-X the last word is ordinary
	// data and must be written.
	start, length := addr, len(data)
	if start&1 != 0 {
		start--
		length++
	}
	if length&1 != 0 {
		length++
	}
	if ckAddr == eeSize-2 && start+length > ckAddr {
		length = ckAddr - start
	}
	if err := d.writeEEPROMWords(start, img[start:start+length], dryRun); err != nil {
		return err
	}
	return d.writeEEPROMWords(ckAddr, img[ckAddr:ckAddr+2], dryRun)
}

// OverwriteEEPROM replaces the whole configuration memory with data, which
// must already carry a valid checksum and match the memory size exactly.
func (d *Dev) OverwriteEEPROM(data []byte, dryRun bool) error {
	if d.t == nil {
		return ErrNotConnected
	}
	if n := d.typ.InternalEEPROMSize(); n != 0 {
		if len(data) != n {
			return fmt.Errorf("ftdi: %s EEPROM image must be %d bytes, not %d", d.typ, n, len(data))
		}
	} else {
		ok := false
		for _, s := range extEEPROMSizes {
			if len(data) == s {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("ftdi: invalid EEPROM image size %d", len(data))
		}
	}
	return d.writeEEPROMWords(0, data, dryRun)
}

// writeEEPROMWords issues the word writes for a word aligned byte span. The
// FT232R requires a slow latency timer during programming; it is raised and
// restored around the span.
func (d *Dev) writeEEPROMWords(addr int, data []byte, dryRun bool) error {
	if addr&1 != 0 || len(data)&1 != 0 {
		return fmt.Errorf("ftdi: unaligned EEPROM write [%#x, %#x)", addr, addr+len(data))
	}
	if d.typ == DevTypeFT232R {
		prev, err := d.t.LatencyTimer()
		if err != nil {
			return err
		}
		if err := d.t.SetLatencyTimer(latencyEEPROMFT232R); err != nil {
			return err
		}
		defer func() {
			if err := d.t.SetLatencyTimer(prev); err != nil {
				log.Printf("ftdi: restoring latency timer: %v", err)
			}
		}()
	}
	for i := 0; i < len(data); i += 2 {
		w := uint16(data[i]) | uint16(data[i+1])<<8
		word := (addr + i) >> 1
		if dryRun {
			log.Printf("ftdi: dry run: EEPROM[%#04x] <- %#04x", word, w)
			continue
		}
		if err := d.t.WriteEEWord(word, w); err != nil {
			return err
		}
		logf("ftdi: EEPROM[%#04x] <- %#04x", word, w)
	}
	return nil
}
