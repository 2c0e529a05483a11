// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ioexp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/u-root/accel-bmc/pkg/hardware/i2c"
)

func newMux(f *i2c.FakeBus) *Mux {
	ioe := &TCA9555{Dev: &i2c.Device{IO: f, Bus: 6, Addr: 0x21}}
	return NewMux(ioe, OutputPort0, 0x0F, 20*time.Millisecond)
}

func TestSwitchPreservesOtherBits(t *testing.T) {
	f := i2c.NewFakeBus()
	f.Set(6, 0x21, OutputPort0, 0xA0)
	m := newMux(f)

	if err := m.Switch(context.Background(), Controller); err != nil {
		t.Fatal(err)
	}
	if v := f.Get(6, 0x21, OutputPort0); v != 0xAF {
		t.Errorf("output port = %#x, want 0xaf", v)
	}
	if c, _ := m.Current(); c != Controller {
		t.Errorf("Current = %v, want controller", c)
	}

	if err := m.Switch(context.Background(), Device); err != nil {
		t.Fatal(err)
	}
	if v := f.Get(6, 0x21, OutputPort0); v != 0xA0 {
		t.Errorf("output port = %#x, want 0xa0", v)
	}
	if c, _ := m.Current(); c != Device {
		t.Errorf("Current = %v, want device", c)
	}
}

func TestSwitchBusyTimesOut(t *testing.T) {
	f := i2c.NewFakeBus()
	m := newMux(f)
	held := make(chan struct{})
	release := make(chan struct{})
	go m.WithLock(context.Background(), func() error {
		close(held)
		<-release
		return nil
	})
	<-held
	err := m.Switch(context.Background(), Controller)
	close(release)
	if !errors.Is(err, ErrMuxBusy) {
		t.Errorf("Switch while held = %v, want ErrMuxBusy", err)
	}
	if len(f.Writes()) != 0 {
		t.Errorf("mux was written while busy")
	}
}

func TestConfigure(t *testing.T) {
	f := i2c.NewFakeBus()
	ioe := &TCA9555{Dev: &i2c.Device{IO: f, Bus: 6, Addr: 0x21}}
	if err := ioe.Configure(1, 0xC0, 0x00); err != nil {
		t.Fatal(err)
	}
	if f.Get(6, 0x21, Config1) != 0xC0 {
		t.Errorf("config register not written")
	}
	if err := ioe.Configure(2, 0, 0); err == nil {
		t.Errorf("Configure of port 2 succeeded")
	}
}
