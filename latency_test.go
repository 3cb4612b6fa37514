// Copyright 2024 The SerialLab Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

import "testing"

func TestLatencyController(t *testing.T) {
	var applied []uint8
	l := latencyController{
		apply:     func(v uint8) error { applied = append(applied, v); return nil },
		min:       12,
		max:       255,
		threshold: 2,
		current:   12,
	}
	// Idle traffic doubles the timer after each threshold crossing.
	for i := 0; i < 2; i++ {
		l.payload(false)
	}
	if len(applied) != 0 {
		t.Fatalf("applied %v before crossing the threshold", applied)
	}
	l.payload(false)
	if len(applied) != 1 || applied[0] != 24 {
		t.Fatalf("applied = %v, want [24]", applied)
	}
	for i := 0; i < 3; i++ {
		l.payload(false)
	}
	if len(applied) != 2 || applied[1] != 48 {
		t.Fatalf("applied = %v, want [24 48]", applied)
	}
	// Payload snaps back to the minimum at once.
	l.payload(true)
	if len(applied) != 3 || applied[2] != 12 {
		t.Fatalf("applied = %v, want [24 48 12]", applied)
	}
	// At the minimum, payload is a no-op.
	l.payload(true)
	if len(applied) != 3 {
		t.Fatalf("applied = %v, reprogrammed while already at min", applied)
	}
}

func TestLatencyController_Clamp(t *testing.T) {
	var applied []uint8
	l := latencyController{
		apply:     func(v uint8) error { applied = append(applied, v); return nil },
		min:       12,
		max:       40,
		threshold: 1,
		current:   12,
	}
	for i := 0; i < 10; i++ {
		l.payload(false)
	}
	// 12 -> 24 -> 40, then stable.
	if len(applied) != 2 || applied[0] != 24 || applied[1] != 40 {
		t.Fatalf("applied = %v, want [24 40]", applied)
	}
	// The counter keeps resetting at the ceiling; a payload burst still
	// recovers immediately.
	l.payload(true)
	if len(applied) != 3 || applied[2] != 12 {
		t.Fatalf("applied = %v, want [24 40 12]", applied)
	}
}

func TestLatencyController_Disabled(t *testing.T) {
	l := latencyController{apply: func(v uint8) error { t.Fatal("apply on disabled controller"); return nil }}
	for i := 0; i < 5; i++ {
		l.payload(false)
		l.payload(true)
	}
}

func TestSetDynamicLatency(t *testing.T) {
	f := &fakeTransport{version: uint16(DevTypeFT232H), maxPacket: 64}
	d := openFake(t, f)
	if err := d.SetDynamicLatency(11, 255, 3); err == nil {
		t.Fatal("min below hardware floor accepted")
	}
	if err := d.SetDynamicLatency(40, 20, 3); err == nil {
		t.Fatal("inverted range accepted")
	}
	if err := d.SetDynamicLatency(12, 255, 2); err != nil {
		t.Fatal(err)
	}
	if f.latency != 12 {
		t.Fatalf("latency = %d after enabling", f.latency)
	}
	// Exhausting the budget on idle transfers bumps the timer.
	for i := 0; i < 3; i++ {
		if _, err := d.Read(make([]byte, 4)); err != nil {
			t.Fatal(err)
		}
	}
	if f.latency != 24 {
		t.Fatalf("latency = %d, want 24", f.latency)
	}
	// Payload brings it back down.
	f.rx = [][]byte{packetize([]byte{1, 2, 3, 4}, 64)}
	if _, err := d.Read(make([]byte, 4)); err != nil {
		t.Fatal(err)
	}
	if f.latency != 12 {
		t.Fatalf("latency = %d, want 12", f.latency)
	}
	// threshold 0 disables adaptation.
	if err := d.SetDynamicLatency(0, 0, 0); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if _, err := d.Read(make([]byte, 4)); err != nil {
			t.Fatal(err)
		}
	}
	if f.latency != 12 {
		t.Fatalf("latency = %d, adaptation still active", f.latency)
	}
}
