// Copyright 2024 The SerialLab Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// ftdi-info lists attached FTDI devices and prints the identity,
// capabilities and optionally the EEPROM content of one of them.
//
// It never writes to the device.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/seriallab/ftdi"
	"github.com/seriallab/ftdi/ftdiusb"
)

func mainImpl() error {
	pid := flag.Uint("pid", 0, "product ID of the device to open; 0 only lists")
	serial := flag.String("serial", "", "serial number of the device to open")
	port := flag.Int("port", 1, "1-based port of multi-port devices")
	eeprom := flag.Bool("eeprom", false, "dump the EEPROM content")
	size := flag.Int("size", 0, "external EEPROM size; 0 for the default")
	verbose := flag.Bool("v", false, "verbose logs")
	flag.Parse()
	if flag.NArg() != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Arg(0))
	}
	if !*verbose {
		log.SetOutput(io.Discard)
	}

	infos, err := ftdiusb.Enumerate()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		fmt.Printf("No FTDI device found.\n")
		return nil
	}
	for _, info := range infos {
		fmt.Printf("- %s\n", info.String())
	}
	if *pid == 0 {
		return nil
	}

	t, err := ftdiusb.Open(0, uint16(*pid), *serial, *port)
	if err != nil {
		return err
	}
	d, err := ftdi.Open(t)
	if err != nil {
		_ = t.Close()
		return err
	}
	defer d.Close()

	typ := d.DevType()
	fmt.Printf("\nType:           %s\n", typ)
	fmt.Printf("Port:           %d of %d (width %d)\n", d.PortIndex(), typ.PortCount(), typ.PortWidth())
	tx, rx := typ.FIFOSizes()
	fmt.Printf("FIFO:           tx %d, rx %d\n", tx, rx)
	fmt.Printf("MPSSE:          %t (max clock %s)\n", d.IsMPSSEPort(), typ.MaxClock())
	fmt.Printf("CBUS:           %t\n", typ.HasCBus())
	if n := typ.InternalEEPROMSize(); n != 0 {
		fmt.Printf("EEPROM:         internal, %d bytes\n", n)
	} else {
		fmt.Printf("EEPROM:         external\n")
	}
	if status, err := d.ModemStatus(); err == nil {
		fmt.Printf("Modem status:   %v\n", status)
	}
	if lat, err := d.LatencyTimer(); err == nil {
		fmt.Printf("Latency timer:  %dms\n", lat)
	}

	if *eeprom {
		data, err := d.ReadEEPROM(0, 0, *size)
		if err != nil {
			return err
		}
		ck, err := d.EEPROMChecksum(data[:len(data)-2])
		if err != nil {
			return err
		}
		fmt.Printf("\nEEPROM (%d bytes, computed checksum %#04x):\n%s", len(data), ck, hex.Dump(data))
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "ftdi-info: %s.\n", err)
		os.Exit(1)
	}
}
