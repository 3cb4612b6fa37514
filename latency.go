// Copyright 2024 The SerialLab Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ftdi

// Hardware bounds of the latency timer, the delay after which the chip
// flushes a partially filled FIFO to the host.
const (
	latencyMin = 12
	latencyMax = 255

	// latencyEEPROMFT232R is the timer value required while writing the
	// FT232R internal EEPROM.
	latencyEEPROMFT232R = 77
)

// latencyController adapts the latency timer to the observed traffic: short
// timer while payload flows, for responsiveness, progressively longer timer
// while the line idles, to cut the USB polling overhead.
//
// It is fed by the framing layer, once per read attempt.
type latencyController struct {
	apply     func(uint8) error
	min       uint8
	max       uint8
	threshold int
	count     int
	current   int
}

func (l *latencyController) enabled() bool {
	return l.threshold > 0
}

// payload records the outcome of a read attempt and reprograms the timer
// when warranted. Apply errors are swallowed; latency adaptation is an
// optimization, not a correctness requirement.
func (l *latencyController) payload(seen bool) {
	if !l.enabled() {
		return
	}
	if seen {
		l.count = 0
		if l.current > int(l.min) {
			l.current = int(l.min)
			_ = l.apply(l.min)
		}
		return
	}
	l.count++
	if l.count <= l.threshold {
		return
	}
	l.count = 0
	if l.current < int(l.max) {
		l.current *= 2
		if l.current > int(l.max) {
			l.current = int(l.max)
		}
		_ = l.apply(uint8(l.current))
	}
}
