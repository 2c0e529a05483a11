// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jmhodges/clock"
	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/hardware/i2c"
)

const (
	cpldBus  = 1
	cpldAddr = 0x21
)

type logged struct {
	Code   uint16
	Assert bool
}

// cacheRecorder logs whatever the cache accepts.
type cacheRecorder struct {
	cache *Cache
	log   []logged
}

func newCacheRecorder() *cacheRecorder {
	return &cacheRecorder{cache: NewCache(200)}
}

func (r *cacheRecorder) Record(code ErrorCode, assert bool) (bool, error) {
	ok, err := r.cache.Apply(code.Pack(), assert)
	if ok {
		r.log = append(r.log, logged{code.Pack(), assert})
	}
	return ok, err
}

func (r *cacheRecorder) ResetCause(cause Cause) int {
	n := 0
	for _, c := range r.cache.CodesOf(cause) {
		if ok, _ := r.Record(UnpackErrorCode(c), false); ok {
			n++
		}
	}
	return n
}

func TestErrorCodePackUnpack(t *testing.T) {
	c := ErrorCode{Cause: CauseCPLDUnexpectedValue, Bit: 1, Offset: 0x0D}
	if got := c.Pack(); got != 0x210D {
		t.Errorf("Pack = %#04x, want 0x210d", got)
	}
	if diff := cmp.Diff(c, UnpackErrorCode(c.Pack())); diff != "" {
		t.Errorf("UnpackErrorCode (-want +got):\n%s", diff)
	}
	hb := ErrorCode{Cause: CauseHeartbeat, Bit: 0, Offset: 1}
	if got := hb.Pack(); got != 2<<13|1 {
		t.Errorf("heartbeat code = %#04x", got)
	}
}

func TestNewErrorCodeRejectsOverflow(t *testing.T) {
	if _, err := NewErrorCode(8, 0, 0); err == nil {
		t.Errorf("cause 8 accepted")
	}
	if _, err := NewErrorCode(CauseHeartbeat, 32, 0); err == nil {
		t.Errorf("bit 32 accepted")
	}
	if _, err := NewErrorCode(0, 0, 0); err == nil {
		t.Errorf("cause 0 accepted")
	}
	c, err := NewErrorCode(CausePowerSequence, 31, 0xFF)
	if err != nil || c.Pack() != 0x7FFF {
		t.Errorf("NewErrorCode(3, 31, 0xff) = %v, %v", c, err)
	}
}

func TestCacheDuplicateAssert(t *testing.T) {
	c := NewCache(4)
	if ok, _ := c.Apply(0x210D, true); !ok {
		t.Fatalf("first assert not accepted")
	}
	if ok, _ := c.Apply(0x210D, true); ok {
		t.Errorf("duplicate assert accepted")
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestCacheAssertDeassert(t *testing.T) {
	c := NewCache(4)
	c.Apply(0x210D, true)
	if ok, _ := c.Apply(0x210D, false); !ok {
		t.Errorf("deassert of cached code not accepted")
	}
	if c.Contains(0x210D) {
		t.Errorf("code still cached after deassert")
	}
	if ok, _ := c.Apply(0x210D, false); ok {
		t.Errorf("deassert of uncached code accepted")
	}
}

func TestCacheFull(t *testing.T) {
	c := NewCache(2)
	c.Apply(1, true)
	c.Apply(2, true)
	ok, err := c.Apply(3, true)
	if ok || !errors.Is(err, ErrCacheFull) {
		t.Errorf("Apply on full cache = %v, %v; want false, ErrCacheFull", ok, err)
	}
	// A freed slot is reused.
	c.Apply(1, false)
	if ok, err := c.Apply(3, true); !ok || err != nil {
		t.Errorf("Apply after free = %v, %v", ok, err)
	}
	if diff := cmp.Diff([]uint16{3, 2}, c.Codes()); diff != "" {
		t.Errorf("Codes (-want +got):\n%s", diff)
	}
}

func newMonitor(regs []*FaultRegister) (*FaultMonitor, *i2c.FakeBus, *cacheRecorder, clock.FakeClock) {
	bus := i2c.NewFakeBus()
	rec := newCacheRecorder()
	clk := clock.NewFake()
	dev := &i2c.Device{IO: bus, Bus: cpldBus, Addr: cpldAddr}
	m := NewFaultMonitor(config.DefaultConfig.Fault, dev, regs, rec, clk, nil)
	return m, bus, rec, clk
}

func vrPowerFault1() *FaultRegister {
	return &FaultRegister{Name: "VR_POWER_FAULT_1", Offset: 0x0D, ExpectedDCOn: 0x00, ExpectedDCOff: 0x00, Mask: 0xFF}
}

func TestFaultScenario(t *testing.T) {
	m, bus, rec, _ := newMonitor([]*FaultRegister{vrPowerFault1()})
	code := uint16(1<<13 | 1<<8 | 0x0D)

	// Bit 1 faults.
	bus.Set(cpldBus, cpldAddr, 0x0D, 0x02)
	if n := m.PollOnce(); n != 1 {
		t.Errorf("PollOnce changed %d registers, want 1", n)
	}
	if bm, _ := m.FaultBitmap(0x0D); bm != 0x02 {
		t.Errorf("fault bitmap = %#x, want 0x02", bm)
	}

	// Unchanged raw value is silent.
	if n := m.PollOnce(); n != 0 {
		t.Errorf("PollOnce on unchanged register changed %d", n)
	}

	// Fault clears.
	bus.Set(cpldBus, cpldAddr, 0x0D, 0x00)
	m.PollOnce()

	want := []logged{{code, true}, {code, false}}
	if diff := cmp.Diff(want, rec.log); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if rec.cache.Contains(code) {
		t.Errorf("code still cached after deassert")
	}
}

func TestFaultBitsStayInsideMask(t *testing.T) {
	const expected, mask = 0xA5, 0x0F
	r := &FaultRegister{Name: "R", Offset: 0x24, ExpectedDCOn: expected, Mask: mask}
	m, bus, rec, _ := newMonitor([]*FaultRegister{r})
	for raw := 0; raw < 256; raw++ {
		bus.Set(cpldBus, cpldAddr, 0x24, uint8(raw))
		m.PollOnce()
		if want := uint8(raw^expected) & mask; r.Bitmap != want {
			t.Fatalf("raw %#x: bitmap %#x, want %#x", raw, r.Bitmap, want)
		}
	}
	for _, l := range rec.log {
		if b := UnpackErrorCode(l.Code).Bit; mask&(1<<b) == 0 {
			t.Errorf("event for bit %d outside mask %#x", b, mask)
		}
	}
	if len(rec.log) == 0 {
		t.Errorf("no events emitted")
	}
}

func TestAssertDependsOnExpectedBit(t *testing.T) {
	// Leak detect register idles at 0xDF; bit 5 going high is a fault.
	r := &FaultRegister{Name: "LEAK", Offset: 0x2E, ExpectedDCOn: 0xDF, ExpectedDCOff: 0xDF, Mask: 0xFF}
	m, bus, rec, _ := newMonitor([]*FaultRegister{r})
	bus.Set(cpldBus, cpldAddr, 0x2E, 0xDF)
	m.PollOnce()
	if len(rec.log) != 0 {
		t.Fatalf("idle register produced events: %v", rec.log)
	}
	bus.Set(cpldBus, cpldAddr, 0x2E, 0xFF)
	m.PollOnce()
	want := []logged{{uint16(1<<13 | 5<<8 | 0x2E), true}}
	if diff := cmp.Diff(want, rec.log); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
}

func TestExpectedFollowsDCState(t *testing.T) {
	r := &FaultRegister{Name: "PWRGD", Offset: 0x24, ExpectedDCOn: 0xFF, ExpectedDCOff: 0x00, Mask: 0xFF}
	bus := i2c.NewFakeBus()
	rec := newCacheRecorder()
	dcOn := false
	m := NewFaultMonitor(config.DefaultConfig.Fault, &i2c.Device{IO: bus, Bus: cpldBus, Addr: cpldAddr},
		[]*FaultRegister{r}, rec, clock.NewFake(), func() bool { return dcOn })
	m.PollOnce()
	if len(rec.log) != 0 {
		t.Fatalf("DC-off idle produced events")
	}
	dcOn = true
	bus.Set(cpldBus, cpldAddr, 0x24, 0xFF)
	m.PollOnce()
	if len(rec.log) != 0 {
		t.Errorf("DC-on idle produced events: %v", rec.log)
	}
	if r.Expected != 0xFF {
		t.Errorf("Expected = %#x, want 0xff", r.Expected)
	}
}

func TestAlertGatesPolling(t *testing.T) {
	m, bus, rec, _ := newMonitor([]*FaultRegister{vrPowerFault1()})
	alert := false
	m.SetAlertSource(func() bool { return alert })
	bus.Set(cpldBus, cpldAddr, 0x0D, 0x02)

	if n := m.poll(false); n != 0 || bus.Reads() != 0 {
		t.Errorf("poll without alert read %d registers", bus.Reads())
	}
	alert = true
	m.poll(false)
	if len(rec.log) != 1 {
		t.Fatalf("poll with alert logged %d events, want 1", len(rec.log))
	}

	// Alert clears: bitmaps re-arm, the same fault is seen as a change again.
	m.OnAlert(false)
	if bm, _ := m.FaultBitmap(0x0D); bm != 0 {
		t.Errorf("bitmap after alert clear = %#x", bm)
	}
	m.OnAlert(true)
	if bm, _ := m.FaultBitmap(0x0D); bm != 0x02 {
		t.Errorf("bitmap after alert = %#x, want 0x02", bm)
	}
	// The cache still holds the code, so no duplicate is logged.
	if len(rec.log) != 1 {
		t.Errorf("duplicate assert logged: %v", rec.log)
	}
}

func TestDCChangeSuppressesPolling(t *testing.T) {
	m, bus, _, clk := newMonitor([]*FaultRegister{vrPowerFault1()})
	m.OnDCChange(true)
	if !m.DCChanging() {
		t.Fatalf("DCChanging false right after DC edge")
	}
	m.PollOnce()
	if bus.Reads() != 0 {
		t.Errorf("registers read while DC changing")
	}
	clk.Add(config.DefaultConfig.Fault.DCSettleDelay + time.Millisecond)
	m.PollOnce()
	if bus.Reads() != 1 {
		t.Errorf("reads = %d after settle, want 1", bus.Reads())
	}
}

func TestDisabledPolling(t *testing.T) {
	m, bus, _, _ := newMonitor([]*FaultRegister{vrPowerFault1()})
	m.SetPollingEnabled(false)
	m.PollOnce()
	if bus.Reads() != 0 {
		t.Errorf("registers read while polling disabled")
	}
	if m.PollingEnabled() {
		t.Errorf("PollingEnabled = true")
	}
}

func TestReadFailureSkipsRegister(t *testing.T) {
	a := vrPowerFault1()
	b := &FaultRegister{Name: "B", Offset: 0x0E, Mask: 0xFF}
	m, bus, rec, _ := newMonitor([]*FaultRegister{a, b})
	bus.Set(cpldBus, cpldAddr, 0x0D, 0x01)
	bus.Set(cpldBus, cpldAddr, 0x0E, 0x01)
	bus.FailNext(cpldBus, cpldAddr, 1)
	if n := m.PollOnce(); n != 1 {
		t.Errorf("PollOnce changed %d registers, want 1", n)
	}
	if len(rec.log) != 1 || UnpackErrorCode(rec.log[0].Code).Offset != 0x0E {
		t.Errorf("events = %v, want one for offset 0x0e", rec.log)
	}
	m.PollOnce()
	if bm, _ := m.FaultBitmap(0x0D); bm != 0x01 {
		t.Errorf("skipped register not read on next cycle")
	}
}

type countingHandler struct {
	calls []uint8
}

func (h *countingHandler) StatusChanged(e *FaultRegister, raw uint8, changed uint8) {
	h.calls = append(h.calls, changed)
}

func TestCustomHandler(t *testing.T) {
	h := &countingHandler{}
	r := vrPowerFault1()
	r.Handler = h
	m, bus, rec, _ := newMonitor([]*FaultRegister{r})
	bus.Set(cpldBus, cpldAddr, 0x0D, 0x81)
	m.PollOnce()
	if diff := cmp.Diff([]uint8{0x81}, h.calls); diff != "" {
		t.Errorf("handler calls (-want +got):\n%s", diff)
	}
	if len(rec.log) != 0 {
		t.Errorf("default recorder used despite custom handler")
	}
}

func TestResetErrorLogStates(t *testing.T) {
	m, bus, rec, _ := newMonitor([]*FaultRegister{vrPowerFault1()})
	bus.Set(cpldBus, cpldAddr, 0x0D, 0x03)
	m.PollOnce()
	rec.Record(ErrorCode{Cause: CauseHeartbeat, Offset: 1}, true)

	if n := m.ResetErrorLogStates(CauseCPLDUnexpectedValue); n != 2 {
		t.Errorf("ResetErrorLogStates deasserted %d codes, want 2", n)
	}
	if bm, _ := m.FaultBitmap(0x0D); bm != 0 {
		t.Errorf("bitmap = %#x after reset", bm)
	}
	if got := rec.cache.Codes(); len(got) != 1 || UnpackErrorCode(got[0]).Cause != CauseHeartbeat {
		t.Errorf("cache after reset = %v, want only the heartbeat code", got)
	}
}

func TestRunPollsOnInjectedClock(t *testing.T) {
	m, bus, _, clk := newMonitor([]*FaultRegister{vrPowerFault1()})
	cfg := config.DefaultConfig.Fault
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// Only the fake clock moves; the first read waits for the start delay
	// and one interval.
	var elapsed time.Duration
	deadline := time.Now().Add(5 * time.Second)
	for bus.Reads() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("no poll after %v of fake time", elapsed)
		}
		clk.Add(100 * time.Millisecond)
		elapsed += 100 * time.Millisecond
		time.Sleep(time.Millisecond)
	}
	if want := cfg.PollStartDelay + cfg.PollInterval; elapsed < want {
		t.Errorf("first poll after %v, want at least %v", elapsed, want)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop")
	}
}
