// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package event

// Recorder accepts assert and deassert events. It reports whether the event
// was new and got logged.
type Recorder interface {
	Record(code ErrorCode, assert bool) (bool, error)
}

// Handler is invoked for a watched register whose fault bitmap changed.
// changed holds the bits whose fault state differs from the previous cycle.
type Handler interface {
	StatusChanged(e *FaultRegister, raw uint8, changed uint8)
}

// EventHandler turns every changed bit into an assert or deassert of an
// error code made from Cause, the bit index and the register offset.
type EventHandler struct {
	Rec   Recorder
	Cause Cause
}

func (h *EventHandler) StatusChanged(e *FaultRegister, raw uint8, changed uint8) {
	for bit := uint8(0); bit < 8; bit++ {
		m := uint8(1) << bit
		if changed&m == 0 {
			continue
		}
		assert := raw&m != e.Expected&m
		code := ErrorCode{Cause: h.Cause, Bit: bit, Offset: e.Offset}
		if assert {
			log.Infof("%s[%#02x] bit %d ASSERT (raw %#02x expected %#02x)", e.Name, e.Offset, bit, raw, e.Expected)
		} else {
			log.Infof("%s[%#02x] bit %d DEASSERT", e.Name, e.Offset, bit)
		}
		if h.Rec == nil {
			continue
		}
		if _, err := h.Rec.Record(code, assert); err != nil {
			log.Warnf("Recording %v failed: %v", code, err)
		}
	}
}

// LogOnlyHandler reports transitions without recording them, for status
// registers that are informational.
type LogOnlyHandler struct{}

func (LogOnlyHandler) StatusChanged(e *FaultRegister, raw uint8, changed uint8) {
	log.Infof("%s[%#02x] changed bits %#02x, raw %#02x expected %#02x", e.Name, e.Offset, changed, raw, e.Expected)
}
