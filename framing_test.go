// Copyright 2024 The SerialLab Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import (
	"bytes"
	"testing"
)

// packetize frames payload the way the chip does: a 2-byte status prologue
// every maxPacket bytes of transfer.
func packetize(payload []byte, maxPacket int) []byte {
	var out []byte
	for len(payload) > 0 {
		n := maxPacket - 2
		if n > len(payload) {
			n = len(payload)
		}
		out = append(out, 0x01, 0x60)
		out = append(out, payload[:n]...)
		payload = payload[n:]
	}
	return out
}

func TestRead_MultiPacketTransfer(t *testing.T) {
	f := &fakeTransport{version: uint16(DevTypeFT232H), maxPacket: 64}
	d := openFake(t, f)
	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}
	// One transfer of 4 packets, status interleaved.
	f.rx = [][]byte{packetize(payload, 64)}
	got := make([]byte, 200)
	n, err := d.Read(got)
	if err != nil {
		t.Fatal(err)
	}
	if n != 200 || !bytes.Equal(got, payload) {
		t.Fatalf("n = %d, reassembly mismatch", n)
	}
}

func TestRead_CacheAcrossCalls(t *testing.T) {
	f := &fakeTransport{version: uint16(DevTypeFT232H), maxPacket: 64}
	d := openFake(t, f)
	f.rx = [][]byte{packetize([]byte("hello world"), 64)}
	small := make([]byte, 5)
	if n, err := d.Read(small); err != nil || n != 5 || string(small) != "hello" {
		t.Fatalf("first read: %d %v %q", n, err, small)
	}
	// The rest must come from the cache, not a new transfer.
	rest := make([]byte, 6)
	if n, err := d.Read(rest); err != nil || n != 6 || string(rest) != " world" {
		t.Fatalf("second read: %d %v %q", n, err, rest)
	}
}

func TestRead_ShortIsNotAnError(t *testing.T) {
	f := &fakeTransport{version: uint16(DevTypeFT232H), maxPacket: 64}
	d := openFake(t, f)
	// Nothing queued: only idle heartbeats come back.
	got := make([]byte, 16)
	n, err := d.Read(got)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("n = %d, want 0", n)
	}
}

func TestRead_RetryBudget(t *testing.T) {
	f := &fakeTransport{version: uint16(DevTypeFT232H), maxPacket: 64}
	d := openFake(t, f)
	// Two idle transfers, then the data.
	f.rx = [][]byte{
		{0x01, 0x60},
		{0x01, 0x60},
		packetize([]byte{0xAA, 0xBB}, 64),
	}
	got := make([]byte, 2)
	if n, err := d.ReadRetry(got, 3, nil); err != nil || n != 2 {
		t.Fatalf("with budget: %d %v", n, err)
	}
	f.rx = [][]byte{
		{0x01, 0x60},
		{0x01, 0x60},
		packetize([]byte{0xCC}, 64),
	}
	// A budget of 2 gives up before the payload arrives.
	if n, err := d.ReadRetry(got, 2, nil); err != nil || n != 0 {
		t.Fatalf("exhausted budget: %d %v", n, err)
	}
}

func TestRead_PartialThenExhausted(t *testing.T) {
	f := &fakeTransport{version: uint16(DevTypeFT232H), maxPacket: 64}
	d := openFake(t, f)
	f.rx = [][]byte{packetize([]byte{1, 2, 3}, 64)}
	got := make([]byte, 10)
	n, err := d.Read(got)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || !bytes.Equal(got[:3], []byte{1, 2, 3}) {
		t.Fatalf("n = %d, got %v", n, got[:n])
	}
}

func TestRead_Continuation(t *testing.T) {
	f := &fakeTransport{version: uint16(DevTypeFT232H), maxPacket: 64}
	d := openFake(t, f)
	// The first transfer signals a drained TX FIFO with half the data; the
	// continuation callback must be invoked for the rest.
	f.rx = [][]byte{packetize([]byte{1, 2, 3, 4}, 64)}
	var asked []int
	gen := func(pending int) []byte {
		asked = append(asked, pending)
		f.rx = append(f.rx, packetize([]byte{5, 6, 7, 8}, 64))
		return []byte{sendImmediate}
	}
	got := make([]byte, 8)
	n, err := d.ReadRetry(got, 2, gen)
	if err != nil {
		t.Fatal(err)
	}
	if n != 8 || !bytes.Equal(got, []byte{1, 2, 3, 4, 5, 6, 7, 8}) {
		t.Fatalf("n = %d, got %v", n, got[:n])
	}
	if len(asked) == 0 || asked[0] != 4 {
		t.Fatalf("continuation asked for %v", asked)
	}
	// The command produced by the callback must have hit the wire.
	found := false
	for _, w := range f.writes {
		if len(w) == 1 && w[0] == sendImmediate {
			found = true
		}
	}
	if !found {
		t.Fatal("continuation command not written")
	}
}

func TestPurge_DropsCache(t *testing.T) {
	f := &fakeTransport{version: uint16(DevTypeFT232H), maxPacket: 64}
	d := openFake(t, f)
	f.rx = [][]byte{packetize([]byte("stale"), 64)}
	small := make([]byte, 2)
	if _, err := d.Read(small); err != nil {
		t.Fatal(err)
	}
	if err := d.PurgeRXBuffer(); err != nil {
		t.Fatal(err)
	}
	n, err := d.Read(make([]byte, 3))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("read %d stale bytes after purge", n)
	}
}
