// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package errlog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jmhodges/clock"
	"github.com/spf13/afero"
	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/event"
	"github.com/u-root/accel-bmc/pkg/hardware/eeprom"
	"github.com/u-root/accel-bmc/pkg/hardware/i2c"
)

const romSize = 8192

type testLog struct {
	fs    afero.Fs
	rom   eeprom.Store
	clk   clock.FakeClock
	store *Store
}

func newTestLog(t *testing.T, cfg config.ErrorLog, opts Options) *testLog {
	t.Helper()
	fs := afero.NewMemMapFs()
	rom, err := eeprom.Open(fs, "/eeprom", romSize)
	if err != nil {
		t.Fatal(err)
	}
	tl := &testLog{fs: fs, rom: rom, clk: clock.NewFake()}
	tl.store, err = New(cfg, rom, event.NewCache(200), tl.clk, opts)
	if err != nil {
		t.Fatal(err)
	}
	return tl
}

// reboot builds a fresh Store over the same EEPROM image.
func (tl *testLog) reboot(t *testing.T, cfg config.ErrorLog) *Store {
	t.Helper()
	s, err := New(cfg, tl.rom, event.NewCache(200), tl.clk, Options{})
	if err != nil {
		t.Fatal(err)
	}
	s.Recover()
	return s
}

func cpldCode(i int) event.ErrorCode {
	return event.ErrorCode{Cause: event.CauseCPLDUnexpectedValue, Bit: uint8(i % 8), Offset: uint8(i / 8)}
}

func record(t *testing.T, s *Store, code event.ErrorCode, assert bool) bool {
	t.Helper()
	ok, err := s.Record(code, assert)
	if err != nil {
		t.Fatalf("Record(%v, %v): %v", code, assert, err)
	}
	return ok
}

func TestDuplicateAssertLoggedOnce(t *testing.T) {
	tl := newTestLog(t, config.DefaultConfig.ErrorLog, Options{})
	c := cpldCode(9)
	if !record(t, tl.store, c, true) {
		t.Fatalf("first assert not logged")
	}
	if record(t, tl.store, c, true) {
		t.Errorf("duplicate assert logged")
	}
	if n := tl.store.Count(); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
	if got := tl.store.Cached(); len(got) != 1 {
		t.Errorf("cache holds %v, want one code", got)
	}
	if p := tl.store.NextPosition(); p != 2 {
		t.Errorf("NextPosition = %d, want 2", p)
	}
}

func TestAssertDeassertBothLogged(t *testing.T) {
	tl := newTestLog(t, config.DefaultConfig.ErrorLog, Options{})
	c := cpldCode(9)
	record(t, tl.store, c, true)
	if !record(t, tl.store, c, false) {
		t.Fatalf("deassert dropped")
	}
	newest, err := tl.store.Read(0)
	if err != nil {
		t.Fatal(err)
	}
	older, err := tl.store.Read(1)
	if err != nil {
		t.Fatal(err)
	}
	if newest.Code != c.Pack() || older.Code != c.Pack() {
		t.Errorf("codes %#04x %#04x, want %#04x", older.Code, newest.Code, c.Pack())
	}
	if older.Index != 1 || newest.Index != 2 {
		t.Errorf("indices %d %d, want 1 2", older.Index, newest.Index)
	}
	if len(tl.store.Cached()) != 0 {
		t.Errorf("code still cached after deassert")
	}
}

func TestDeassertOfUnknownCodeDropped(t *testing.T) {
	tl := newTestLog(t, config.DefaultConfig.ErrorLog, Options{})
	if record(t, tl.store, cpldCode(3), false) {
		t.Errorf("deassert without assert was logged")
	}
	if tl.store.Count() != 0 {
		t.Errorf("Count = %d", tl.store.Count())
	}
}

func TestRingWraps(t *testing.T) {
	cfg := config.DefaultConfig.ErrorLog
	tl := newTestLog(t, cfg, Options{})
	for i := 0; i <= cfg.Capacity; i++ {
		record(t, tl.store, cpldCode(i), true)
	}
	if p := tl.store.NextPosition(); p != 2 {
		t.Errorf("NextPosition = %d, want 2", p)
	}
	if n := tl.store.Count(); n != cfg.Capacity {
		t.Errorf("Count = %d, want %d", n, cfg.Capacity)
	}
	// Slot 1 now holds the 101st record.
	e, err := tl.store.Read(0)
	if err != nil {
		t.Fatal(err)
	}
	if e.Index != 101 || e.Code != cpldCode(cfg.Capacity).Pack() {
		t.Errorf("newest = index %d code %#04x", e.Index, e.Code)
	}
	b := make([]byte, EntrySize)
	if err := tl.rom.ReadAt(b, 0); err != nil {
		t.Fatal(err)
	}
	var first Entry
	if err := first.UnmarshalBinary(b); err != nil {
		t.Fatal(err)
	}
	if first.Index != 101 {
		t.Errorf("position 1 holds index %d, want 101", first.Index)
	}
	oldest, _ := tl.store.Read(cfg.Capacity - 1)
	if oldest.Index != 2 {
		t.Errorf("oldest surviving index %d, want 2", oldest.Index)
	}
}

func TestReadOrderRange(t *testing.T) {
	tl := newTestLog(t, config.DefaultConfig.ErrorLog, Options{})
	if _, err := tl.store.Read(100); !errors.Is(err, ErrOrderOutOfRange) {
		t.Errorf("Read(100) = %v", err)
	}
	if _, err := tl.store.Read(-1); !errors.Is(err, ErrOrderOutOfRange) {
		t.Errorf("Read(-1) = %v", err)
	}
	capacity := config.DefaultConfig.ErrorLog.Capacity
	if _, err := tl.store.Read(capacity); !errors.Is(err, ErrOrderOutOfRange) {
		t.Errorf("Read(%d) = %v", capacity, err)
	}
	// Orders past Count but inside the ring are erased slots, not errors.
	record(t, tl.store, cpldCode(1), true)
	for _, order := range []int{1, 5, capacity - 1} {
		e, err := tl.store.Read(order)
		if err != nil {
			t.Fatalf("Read(%d): %v", order, err)
		}
		if diff := cmp.Diff(Entry{}, e); diff != "" {
			t.Errorf("Read(%d) of an erased slot (-want +got):\n%s", order, diff)
		}
	}
}

func TestRecover(t *testing.T) {
	for _, tt := range []struct {
		name      string
		capacity  int
		mod       uint16
		writes    int
		wantPos   int
		wantIndex uint16
		wantCount int
	}{
		{name: "empty", capacity: 100, mod: 0x0FFF, writes: 0, wantPos: 1, wantIndex: 1, wantCount: 0},
		{name: "partial", capacity: 100, mod: 0x0FFF, writes: 5, wantPos: 6, wantIndex: 6, wantCount: 5},
		{name: "full", capacity: 100, mod: 0x0FFF, writes: 100, wantPos: 1, wantIndex: 101, wantCount: 100},
		{name: "ring wrapped", capacity: 100, mod: 0x0FFF, writes: 103, wantPos: 4, wantIndex: 104, wantCount: 100},
		{name: "index wrapped", capacity: 10, mod: 5, writes: 7, wantPos: 8, wantIndex: 3, wantCount: 7},
		{name: "both wrapped", capacity: 10, mod: 7, writes: 13, wantPos: 4, wantIndex: 7, wantCount: 10},
	} {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig.ErrorLog
			cfg.Capacity = tt.capacity
			cfg.IndexModulus = tt.mod
			tl := newTestLog(t, cfg, Options{})
			for i := 0; i < tt.writes; i++ {
				record(t, tl.store, cpldCode(i), true)
			}
			s := tl.reboot(t, cfg)
			if p := s.NextPosition(); p != tt.wantPos {
				t.Errorf("NextPosition = %d, want %d", p, tt.wantPos)
			}
			if i := s.NextIndex(); i != tt.wantIndex {
				t.Errorf("NextIndex = %d, want %d", i, tt.wantIndex)
			}
			if n := s.Count(); n != tt.wantCount {
				t.Errorf("Count = %d, want %d", n, tt.wantCount)
			}
			// Recovery must agree with the state the writer ended in.
			if s.NextPosition() != tl.store.NextPosition() || s.NextIndex() != tl.store.NextIndex() {
				t.Errorf("recovered %d/%d, writer at %d/%d", s.NextPosition(), s.NextIndex(), tl.store.NextPosition(), tl.store.NextIndex())
			}
		})
	}
}

func TestRecoverSkipsGarbage(t *testing.T) {
	cfg := config.DefaultConfig.ErrorLog
	tl := newTestLog(t, cfg, Options{})
	for i := 0; i < 3; i++ {
		record(t, tl.store, cpldCode(i), true)
	}
	// An index above the modulus is not a record.
	junk := Entry{Index: 0x7000, Code: 1}
	b, _ := junk.MarshalBinary()
	if err := tl.rom.WriteAt(b, 10*EntrySize); err != nil {
		t.Fatal(err)
	}
	s := tl.reboot(t, cfg)
	if s.NextPosition() != 4 || s.NextIndex() != 4 {
		t.Errorf("recovered %d/%d, want 4/4", s.NextPosition(), s.NextIndex())
	}
}

func TestClear(t *testing.T) {
	tl := newTestLog(t, config.DefaultConfig.ErrorLog, Options{})
	for i := 0; i < 3; i++ {
		record(t, tl.store, cpldCode(i), true)
	}
	before := tl.clk.Now()
	if err := tl.store.Clear(); err != nil {
		t.Fatal(err)
	}
	if d := tl.clk.Now().Sub(before); d != 100*config.DefaultConfig.ErrorLog.SettleDelay {
		t.Errorf("Clear waited %v", d)
	}
	if tl.store.NextPosition() != 1 || tl.store.NextIndex() != 1 || tl.store.Count() != 0 {
		t.Errorf("counters not reset")
	}
	if len(tl.store.Cached()) != 0 {
		t.Errorf("cache not emptied")
	}
	for order := 0; order < 3; order++ {
		if e, _ := tl.store.Read(order); e.Index != 0 {
			t.Errorf("Read(%d) after clear = %+v", order, e)
		}
	}
	// A code asserted before the clear can be logged again.
	if !record(t, tl.store, cpldCode(0), true) {
		t.Errorf("assert after clear not logged")
	}
}

type flakyROM struct {
	eeprom.Store
	fail bool
}

func (f *flakyROM) WriteAt(p []byte, off int64) error {
	if f.fail {
		return errors.New("eeprom nak")
	}
	return f.Store.WriteAt(p, off)
}

func TestWriteFailureNotFatal(t *testing.T) {
	fs := afero.NewMemMapFs()
	rom, _ := eeprom.Open(fs, "/eeprom", romSize)
	flaky := &flakyROM{Store: rom, fail: true}
	s, err := New(config.DefaultConfig.ErrorLog, flaky, event.NewCache(200), clock.NewFake(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	ok, err := s.Record(cpldCode(1), true)
	if !ok || err != nil {
		t.Fatalf("Record = %v, %v", ok, err)
	}
	if s.NextPosition() != 2 {
		t.Errorf("position not advanced past failed write")
	}
}

func TestCacheFull(t *testing.T) {
	fs := afero.NewMemMapFs()
	rom, _ := eeprom.Open(fs, "/eeprom", romSize)
	s, _ := New(config.DefaultConfig.ErrorLog, rom, event.NewCache(1), clock.NewFake(), Options{})
	record(t, s, cpldCode(1), true)
	ok, err := s.Record(cpldCode(2), true)
	if ok || !errors.Is(err, event.ErrCacheFull) {
		t.Errorf("Record = %v, %v; want ErrCacheFull", ok, err)
	}
	if s.Count() != 1 {
		t.Errorf("Count = %d", s.Count())
	}
}

func TestEEPROMTooSmall(t *testing.T) {
	fs := afero.NewMemMapFs()
	rom, _ := eeprom.Open(fs, "/eeprom", 100)
	if _, err := New(config.DefaultConfig.ErrorLog, rom, event.NewCache(1), clock.NewFake(), Options{}); err == nil {
		t.Errorf("New accepted a 100 byte EEPROM")
	}
}

type countingLock struct {
	n int
}

func (l *countingLock) WithLock(ctx context.Context, fn func() error) error {
	l.n++
	return fn()
}

type collector struct {
	events []Event
}

func (c *collector) Forward(ev Event) {
	c.events = append(c.events, ev)
}

func TestRecordSnapshot(t *testing.T) {
	const (
		cpldBus, cpldAddr = 1, 0x21
		vrBus, vrAddr     = 5, 0x40
	)
	bus := i2c.NewFakeBus()
	bus.Set(cpldBus, cpldAddr, 0x0D, 0x02)
	bus.Set(cpldBus, cpldAddr, 0x3C, 0xA5)
	bus.Set(vrBus, vrAddr, PMBusStatusWord, 0x34)
	bus.Set(vrBus, vrAddr, PMBusStatusWord+1, 0x12)
	lock := &countingLock{}
	fwd := &collector{}
	aux := &VRStatus{
		IO:    bus,
		Lock:  lock,
		Table: map[uint8][8]*VR{0x0D: {1: {Name: "P0V8", Bus: vrBus, Addr: vrAddr}}},
	}
	tl := newTestLog(t, config.DefaultConfig.ErrorLog, Options{
		Dumper:    &i2c.Device{IO: bus, Bus: cpldBus, Addr: cpldAddr},
		Aux:       aux,
		Forwarder: fwd,
	})
	tl.clk.Add(1500 * time.Millisecond)

	c := event.ErrorCode{Cause: event.CauseCPLDUnexpectedValue, Bit: 1, Offset: 0x0D}
	record(t, tl.store, c, true)
	e, err := tl.store.Read(0)
	if err != nil {
		t.Fatal(err)
	}
	if e.Code != 0x210D {
		t.Errorf("code %#04x, want 0x210d", e.Code)
	}
	if e.Uptime != 1500 {
		t.Errorf("uptime %d ms, want 1500", e.Uptime)
	}
	if e.Status != [StatusSize]byte{0x34, 0x12} {
		t.Errorf("status % x", e.Status)
	}
	if e.Dump[0x0D] != 0x02 || e.Dump[0x3C] != 0xA5 {
		t.Errorf("dump % x", e.Dump)
	}
	if lock.n != 1 {
		t.Errorf("VR read took the lock %d times", lock.n)
	}
	if len(fwd.events) != 1 || !fwd.events[0].Assert || fwd.events[0].Index != 1 {
		t.Errorf("forwarded %+v", fwd.events)
	}

	// Codes without a regulator carry no status.
	hb := event.ErrorCode{Cause: event.CauseHeartbeat, Offset: 1}
	record(t, tl.store, hb, true)
	e, _ = tl.store.Read(0)
	if e.Status != [StatusSize]byte{} {
		t.Errorf("heartbeat status % x", e.Status)
	}
	if lock.n != 1 {
		t.Errorf("lock taken for a code without a regulator")
	}
}

// slowAux holds the first snapshot until release is closed.
type slowAux struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (a *slowAux) AuxData(ctx context.Context, code event.ErrorCode) ([StatusSize]byte, error) {
	first := false
	a.once.Do(func() { first = true })
	if first {
		close(a.entered)
		<-a.release
	}
	return [StatusSize]byte{}, ErrNoAuxData
}

func TestConcurrentResetKeepsOrder(t *testing.T) {
	aux := &slowAux{entered: make(chan struct{}), release: make(chan struct{})}
	fwd := &collector{}
	tl := newTestLog(t, config.DefaultConfig.ErrorLog, Options{Aux: aux, Forwarder: fwd})
	c := event.ErrorCode{Cause: event.CauseHeartbeat, Offset: 1}

	asserted := make(chan bool)
	go func() {
		ok, _ := tl.store.Record(c, true)
		asserted <- ok
	}()
	<-aux.entered
	reset := make(chan int)
	go func() { reset <- tl.store.ResetCause(event.CauseHeartbeat) }()
	time.Sleep(50 * time.Millisecond)
	close(aux.release)

	if ok := <-asserted; !ok {
		t.Fatalf("assert not logged")
	}
	n := <-reset
	var got []bool
	for _, ev := range fwd.events {
		got = append(got, ev.Assert)
	}
	// The reset either saw the assert and logged its deassert after it,
	// or ran first and found nothing to deassert.
	want := []bool{true}
	if n == 1 {
		want = append(want, false)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("forwarded order (-want +got):\n%s", diff)
	}
	if len(fwd.events) == 2 && fwd.events[1].Index != fwd.events[0].Index+1 {
		t.Errorf("deassert index %d, assert index %d", fwd.events[1].Index, fwd.events[0].Index)
	}
	if tl.store.Count() != len(want) {
		t.Errorf("Count = %d, want %d", tl.store.Count(), len(want))
	}
}

func TestVRStatusFailure(t *testing.T) {
	bus := i2c.NewFakeBus()
	bus.SetDown(5, 0x40, true)
	aux := &VRStatus{IO: bus, Table: map[uint8][8]*VR{0x0D: {1: {Name: "P0V8", Bus: 5, Addr: 0x40}}}}
	_, err := aux.AuxData(context.Background(), event.ErrorCode{Cause: event.CauseCPLDUnexpectedValue, Bit: 1, Offset: 0x0D})
	if !errors.Is(err, i2c.ErrFakeNack) {
		t.Errorf("AuxData = %v", err)
	}
	_, err = aux.AuxData(context.Background(), event.ErrorCode{Cause: event.CauseCPLDUnexpectedValue, Bit: 2, Offset: 0x0D})
	if !errors.Is(err, ErrNoAuxData) {
		t.Errorf("AuxData for unmapped bit = %v", err)
	}
}

func TestResetCause(t *testing.T) {
	tl := newTestLog(t, config.DefaultConfig.ErrorLog, Options{})
	record(t, tl.store, event.ErrorCode{Cause: event.CauseHeartbeat, Offset: 1}, true)
	record(t, tl.store, event.ErrorCode{Cause: event.CauseHeartbeat, Offset: 2}, true)
	record(t, tl.store, cpldCode(4), true)
	if n := tl.store.ResetCause(event.CauseHeartbeat); n != 2 {
		t.Errorf("ResetCause = %d, want 2", n)
	}
	if diff := cmp.Diff([]uint16{cpldCode(4).Pack()}, tl.store.Cached()); diff != "" {
		t.Errorf("cache (-want +got):\n%s", diff)
	}
	if tl.store.Count() != 5 {
		t.Errorf("Count = %d, want 5", tl.store.Count())
	}
}

func TestEntryLayout(t *testing.T) {
	e := Entry{Index: 0x0102, Code: 0x210D, Uptime: 0x0807060504030201}
	e.Status[0] = 0xAA
	e.Dump[DumpSize-1] = 0xBB
	b, err := e.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 77 {
		t.Fatalf("entry is %d bytes", len(b))
	}
	want := []byte{0x02, 0x01, 0x0D, 0x21, 1, 2, 3, 4, 5, 6, 7, 8, 0xAA}
	if diff := cmp.Diff(want, b[:len(want)]); diff != "" {
		t.Errorf("header (-want +got):\n%s", diff)
	}
	if b[76] != 0xBB {
		t.Errorf("last dump byte %#x", b[76])
	}
}
