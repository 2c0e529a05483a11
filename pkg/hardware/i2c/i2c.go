// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package i2c provides register access to CPLDs, IO expanders and voltage
// regulators sitting on SMBus segments.
package i2c

import (
	"context"
	"fmt"

	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/metric"
	"github.com/u-root/accel-bmc/pkg/retry"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	failures = metric.CounterVec(metric.MetricOpts{
		Namespace: "accelbmc",
		Subsystem: "i2c",
		Name:      "failures_total",
		Help:      "Register transfers that failed after every retry",
	}, []string{"op"})
)

// RegisterIO is synchronous register access to a device at bus/addr.
// Reading n bytes starts at offset and returns exactly n bytes on success.
type RegisterIO interface {
	ReadRegister(bus, addr, offset uint8, n int) ([]byte, error)
	WriteRegister(bus, addr, offset uint8, data []byte) error
}

// Retrying retries every transfer of the wrapped RegisterIO according to a
// fixed policy.
type Retrying struct {
	io     RegisterIO
	policy *retry.Policy
}

func NewRetrying(io RegisterIO, p *retry.Policy) *Retrying {
	return &Retrying{io: io, policy: p}
}

func (r *Retrying) ReadRegister(bus, addr, offset uint8, n int) ([]byte, error) {
	var b []byte
	err := r.policy.Do(context.Background(), func(int) error {
		var err error
		b, err = r.io.ReadRegister(bus, addr, offset, n)
		return err
	})
	if err != nil {
		failures.WithLabelValues("read").Inc()
		return nil, fmt.Errorf("read bus %d addr %#02x offset %#02x: %w", bus, addr, offset, err)
	}
	return b, nil
}

func (r *Retrying) WriteRegister(bus, addr, offset uint8, data []byte) error {
	err := r.policy.Do(context.Background(), func(int) error {
		return r.io.WriteRegister(bus, addr, offset, data)
	})
	if err != nil {
		failures.WithLabelValues("write").Inc()
		return fmt.Errorf("write bus %d addr %#02x offset %#02x: %w", bus, addr, offset, err)
	}
	return nil
}

// Device binds a RegisterIO to one bus address.
type Device struct {
	IO   RegisterIO
	Bus  uint8
	Addr uint8
}

func (d *Device) String() string {
	return fmt.Sprintf("%d-%04x", d.Bus, d.Addr)
}

func (d *Device) ReadByte(offset uint8) (uint8, error) {
	b, err := d.IO.ReadRegister(d.Bus, d.Addr, offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Device) WriteByte(offset, v uint8) error {
	return d.IO.WriteRegister(d.Bus, d.Addr, offset, []byte{v})
}

// ReadWord reads a little-endian 16-bit register, e.g. a PMBus STATUS_WORD.
func (d *Device) ReadWord(offset uint8) (uint16, error) {
	b, err := d.IO.ReadRegister(d.Bus, d.Addr, offset, 2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

// Dump reads n consecutive registers starting at start.
func (d *Device) Dump(start uint8, n int) ([]byte, error) {
	return d.IO.ReadRegister(d.Bus, d.Addr, start, n)
}
