// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package i2c

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jmhodges/clock"
	"github.com/u-root/accel-bmc/pkg/retry"
)

func newRetrying(f *FakeBus) *Retrying {
	return NewRetrying(f, retry.Fixed(clock.NewFake(), 5, 10*time.Millisecond))
}

func TestRetryingRecovers(t *testing.T) {
	f := NewFakeBus()
	f.Set(1, 0x21, 0x0d, 0x02)
	f.FailNext(1, 0x21, 4)
	d := &Device{IO: newRetrying(f), Bus: 1, Addr: 0x21}
	v, err := d.ReadByte(0x0d)
	if err != nil {
		t.Fatalf("ReadByte: %v", err)
	}
	if v != 0x02 {
		t.Errorf("ReadByte = %#x, want 0x02", v)
	}
	if f.Reads() != 5 {
		t.Errorf("reads = %d, want 5", f.Reads())
	}
}

func TestRetryingExhausted(t *testing.T) {
	f := NewFakeBus()
	f.SetDown(1, 0x21, true)
	d := &Device{IO: newRetrying(f), Bus: 1, Addr: 0x21}
	if _, err := d.ReadByte(0); !errors.Is(err, ErrFakeNack) {
		t.Errorf("ReadByte error = %v, want ErrFakeNack", err)
	}
	if f.Reads() != 5 {
		t.Errorf("reads = %d, want 5", f.Reads())
	}
	if err := d.WriteByte(0, 1); err == nil {
		t.Errorf("WriteByte on a down device succeeded")
	}
}

func TestDeviceDumpAndWord(t *testing.T) {
	f := NewFakeBus()
	for i := 0; i < 4; i++ {
		f.Set(2, 0x40, uint8(0x10+i), uint8(i+1))
	}
	d := &Device{IO: f, Bus: 2, Addr: 0x40}
	b, err := d.Dump(0x10, 4)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]byte{1, 2, 3, 4}, b); diff != "" {
		t.Errorf("Dump (-want +got):\n%s", diff)
	}
	w, err := d.ReadWord(0x10)
	if err != nil || w != 0x0201 {
		t.Errorf("ReadWord = %#x, %v; want 0x0201", w, err)
	}
	if d.String() != "2-0040" {
		t.Errorf("String = %q", d.String())
	}
}
