// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package power

import (
	"time"
)

// Rail is one supply switched by an enable line. An empty PowerGood means
// the rail has no feedback and is not checked.
type Rail struct {
	Name      string
	Enable    string
	PowerGood string
}

// Stage is a group of rails switched together and checked before the next
// stage starts.
type Stage struct {
	Name  string
	Rails []Rail
	// Clock stages only wait for the oscillator to settle.
	Clock bool
	// PreDelay is waited before the stage's enables are driven.
	PreDelay time.Duration
}

// Device is one accelerator and its power sequences.
type Device struct {
	ID   uint8
	Name string
	On   []Stage
	Off  []Stage
	// Resets are released (driven high) once the power-on sequence is done.
	Resets []string
}

// Board lists the accelerators sharing the card.
type Board struct {
	Devices []*Device
	// Aux lines are enabled before, and disabled after, every device.
	Aux []string
	// PowerGoodOut tells the host that every device came up.
	PowerGoodOut string
}

func (b *Board) Device(id uint8) (*Device, bool) {
	for _, d := range b.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return nil, false
}
