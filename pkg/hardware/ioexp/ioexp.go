// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ioexp drives TCA9555 16-bit IO expanders and the analog mux that
// hangs off one of them.
package ioexp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/u-root/accel-bmc/pkg/hardware/i2c"
	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/metric"
	"golang.org/x/sync/semaphore"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	muxSwitches = metric.CounterVec(metric.MetricOpts{
		Namespace: "accelbmc",
		Subsystem: "mux",
		Name:      "switches_total",
		Help:      "Mux switch attempts by target and result",
	}, []string{"target", "result"})
)

// TCA9555 register map.
const (
	InputPort0 = iota
	InputPort1
	OutputPort0
	OutputPort1
	PolarityInversion0
	PolarityInversion1
	Config0
	Config1
)

var ErrMuxBusy = errors.New("mux is busy")

type TCA9555 struct {
	Dev *i2c.Device
}

// Configure sets the direction (1 = input) and output latch of one 8-bit
// port.
func (e *TCA9555) Configure(port int, inputs, outputs uint8) error {
	if port != 0 && port != 1 {
		return fmt.Errorf("tca9555 %s: no port %d", e.Dev, port)
	}
	if err := e.Dev.WriteByte(uint8(Config0+port), inputs); err != nil {
		return err
	}
	return e.Dev.WriteByte(uint8(OutputPort0+port), outputs)
}

// Update does a read-modify-write of reg, setting the bits in set and then
// clearing the bits in clear.
func (e *TCA9555) Update(reg uint8, set, clear uint8) (uint8, error) {
	v, err := e.Dev.ReadByte(reg)
	if err != nil {
		return 0, err
	}
	nv := (v | set) &^ clear
	if nv == v {
		return v, nil
	}
	return nv, e.Dev.WriteByte(reg, nv)
}

type Target int

const (
	// Controller routes the mux to this BMC so it can read VR telemetry.
	Controller Target = iota
	// Device routes the mux to the accelerator.
	Device
)

func (t Target) String() string {
	if t == Controller {
		return "controller"
	}
	return "device"
}

// Mux is the analog/VR mux shared by every accelerator on the board. Its
// select lines are output bits of an IO expander; setting them routes the
// mux to the controller.
type Mux struct {
	ioe     *TCA9555
	reg     uint8
	bits    uint8
	sem     *semaphore.Weighted
	timeout time.Duration
}

func NewMux(ioe *TCA9555, reg, bits uint8, timeout time.Duration) *Mux {
	return &Mux{
		ioe:     ioe,
		reg:     reg,
		bits:    bits,
		sem:     semaphore.NewWeighted(1),
		timeout: timeout,
	}
}

// WithLock runs fn while holding the mux. It gives up with ErrMuxBusy if the
// mux could not be taken within the mux timeout.
func (m *Mux) WithLock(ctx context.Context, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %v", ErrMuxBusy, err)
	}
	defer m.sem.Release(1)
	return fn()
}

// Switch routes the mux to t.
func (m *Mux) Switch(ctx context.Context, t Target) error {
	err := m.WithLock(ctx, func() error {
		var err error
		if t == Controller {
			_, err = m.ioe.Update(m.reg, m.bits, 0)
		} else {
			_, err = m.ioe.Update(m.reg, 0, m.bits)
		}
		return err
	})
	result := "ok"
	if err != nil {
		result = "error"
		log.Errorf("Switching mux to %v failed: %v", t, err)
	} else {
		log.Infof("Mux switched to %v", t)
	}
	muxSwitches.WithLabelValues(t.String(), result).Inc()
	return err
}

// Current reads back where the mux points.
func (m *Mux) Current() (Target, error) {
	v, err := m.ioe.Dev.ReadByte(m.reg)
	if err != nil {
		return Device, err
	}
	if v&m.bits == m.bits {
		return Controller, nil
	}
	return Device, nil
}
