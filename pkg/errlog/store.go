// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package errlog keeps a fixed-size ring of error records in EEPROM.
package errlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/event"
	"github.com/u-root/accel-bmc/pkg/hardware/eeprom"
	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/metric"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	recorded = metric.CounterVec(metric.MetricOpts{
		Namespace: "accelbmc",
		Subsystem: "errlog",
		Name:      "records_total",
		Help:      "Events written to the error log",
	}, []string{"cause", "kind"})
	dropped = metric.CounterVec(metric.MetricOpts{
		Namespace: "accelbmc",
		Subsystem: "errlog",
		Name:      "dropped_total",
		Help:      "Events not logged",
	}, []string{"reason"})
	position = metric.GaugeVec(metric.MetricOpts{
		Namespace: "accelbmc",
		Subsystem: "errlog",
		Name:      "next_position",
		Help:      "Ring slot the next record is written to, 1-based",
	}, []string{"store"})
)

var ErrOrderOutOfRange = errors.New("log order out of range")

// Dumper snapshots a window of registers.
type Dumper interface {
	Dump(start uint8, n int) ([]byte, error)
}

// Event is a logged record together with its direction.
type Event struct {
	Entry
	Assert bool
}

// Forwarder receives every record after it has been logged. Forward must
// not block.
type Forwarder interface {
	Forward(ev Event)
}

type Options struct {
	// Base is the EEPROM offset of slot 1.
	Base      int64
	Dumper    Dumper
	Aux       AuxSource
	Forwarder Forwarder
}

// Store de-duplicates events through the cache and persists accepted ones
// into a ring of cfg.Capacity slots.
type Store struct {
	cfg   config.ErrorLog
	rom   eeprom.Store
	cache *event.Cache
	clk   clock.Clock
	boot  time.Time
	opts  Options
	name  string

	mu        sync.Mutex
	nextPos   int
	nextIndex uint16
	count     int
}

func New(cfg config.ErrorLog, rom eeprom.Store, cache *event.Cache, clk clock.Clock, opts Options) (*Store, error) {
	need := opts.Base + int64(cfg.Capacity)*EntrySize
	if rom.Size() < need {
		return nil, fmt.Errorf("eeprom holds %d bytes, log needs %d", rom.Size(), need)
	}
	s := &Store{
		cfg:       cfg,
		rom:       rom,
		cache:     cache,
		clk:       clk,
		boot:      clk.Now(),
		opts:      opts,
		name:      strconv.FormatInt(opts.Base, 16),
		nextPos:   1,
		nextIndex: 1,
	}
	position.WithLabelValues(s.name).Set(1)
	return s, nil
}

func (s *Store) addr(pos int) int64 {
	return s.opts.Base + int64(pos-1)*EntrySize
}

func (s *Store) readSlot(pos int) (Entry, error) {
	var e Entry
	b := make([]byte, EntrySize)
	if err := s.rom.ReadAt(b, s.addr(pos)); err != nil {
		return e, err
	}
	return e, e.UnmarshalBinary(b)
}

func (s *Store) snapshot(code event.ErrorCode) ([StatusSize]byte, [DumpSize]byte) {
	var status [StatusSize]byte
	var dump [DumpSize]byte
	if s.opts.Aux != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.VRLockTimeout)
		st, err := s.opts.Aux.AuxData(ctx, code)
		cancel()
		if err == nil {
			status = st
		} else if !errors.Is(err, ErrNoAuxData) {
			log.Warnf("No status data for %v: %v", code, err)
		}
	}
	if s.opts.Dumper != nil {
		d, err := s.opts.Dumper.Dump(DumpStart, DumpSize)
		if err != nil {
			log.Errorf("Failed to dump CPLD registers for %v: %v", code, err)
		} else {
			copy(dump[:], d)
		}
	}
	return status, dump
}

// Record logs an assert or deassert of code unless the cache suppresses it.
// It reports whether the event was logged. A failed EEPROM write is logged
// and does not fail the call. Accepted events reach the ring and the
// forwarder in the order the cache accepted them.
func (s *Store) Record(code event.ErrorCode, assert bool) (bool, error) {
	kind := "deassert"
	if assert {
		kind = "assert"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ok, err := s.cache.Apply(code.Pack(), assert)
	if err != nil {
		log.Warnf("Dropping %s of %v: %v", kind, code, err)
		dropped.WithLabelValues("cache_full").Inc()
		return false, err
	}
	if !ok {
		log.Debugf("Duplicate or no log needed for %s of %v", kind, code)
		dropped.WithLabelValues("duplicate").Inc()
		return false, nil
	}

	status, dump := s.snapshot(code)

	pos := s.nextPos
	e := Entry{
		Index:  s.nextIndex,
		Code:   code.Pack(),
		Uptime: uint64(s.clk.Now().Sub(s.boot).Milliseconds()),
		Status: status,
		Dump:   dump,
	}
	s.nextIndex = s.nextIndex%s.cfg.IndexModulus + 1
	s.write(pos, &e)
	s.nextPos = pos%s.cfg.Capacity + 1
	if s.count < s.cfg.Capacity {
		s.count++
	}
	position.WithLabelValues(s.name).Set(float64(s.nextPos))

	log.Infof("Logged %s of %v at position %d index %d", kind, code, pos, e.Index)
	recorded.WithLabelValues(code.Cause.String(), kind).Inc()
	if s.opts.Forwarder != nil {
		s.opts.Forwarder.Forward(Event{Entry: e, Assert: assert})
	}
	return true, nil
}

// write persists e into slot pos and waits out the EEPROM write cycle.
// Called with s.mu held.
func (s *Store) write(pos int, e *Entry) {
	b, err := e.MarshalBinary()
	if err == nil {
		err = s.rom.WriteAt(b, s.addr(pos))
	}
	if err != nil {
		log.Errorf("Writing log position %d (code %#04x) failed: %v", pos, e.Code, err)
		dropped.WithLabelValues("eeprom").Inc()
		return
	}
	s.clk.Sleep(s.cfg.SettleDelay)
}

// ResetCause deasserts every cached code of cause and returns how many were
// logged.
func (s *Store) ResetCause(cause event.Cause) int {
	n := 0
	for _, c := range s.cache.CodesOf(cause) {
		if ok, _ := s.Record(event.UnpackErrorCode(c), false); ok {
			n++
		}
	}
	return n
}

// Read returns the record order places back from the newest; order 0 is the
// most recent. Erased slots are returned as a zero Entry.
func (s *Store) Read(order int) (Entry, error) {
	if order < 0 || order >= s.cfg.Capacity {
		return Entry{}, fmt.Errorf("%w: %d", ErrOrderOutOfRange, order)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cfg.Capacity
	pos := ((s.nextPos-2-order)%c+c)%c + 1
	e, err := s.readSlot(pos)
	if err != nil {
		return Entry{}, fmt.Errorf("read log position %d: %w", pos, err)
	}
	if e.Index == ErasedIndex {
		return Entry{}, nil
	}
	return e, nil
}

// Clear erases every slot, empties the cache and restarts numbering.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	erased := bytes.Repeat([]byte{eeprom.Erased}, EntrySize)
	var failed int
	for pos := 1; pos <= s.cfg.Capacity; pos++ {
		if err := s.rom.WriteAt(erased, s.addr(pos)); err != nil {
			log.Errorf("Clearing log position %d failed: %v", pos, err)
			failed++
		}
		s.clk.Sleep(s.cfg.SettleDelay)
	}
	s.cache.Clear()
	s.nextPos, s.nextIndex, s.count = 1, 1, 0
	position.WithLabelValues(s.name).Set(1)
	if failed > 0 {
		return fmt.Errorf("%d of %d log positions could not be erased", failed, s.cfg.Capacity)
	}
	log.Infof("Error log cleared")
	return nil
}

// Recover scans the ring to find where the next record goes. The newest
// record is the one whose successor slot does not continue its index
// sequence; if the ring is inconsistent the highest index wins.
func (s *Store) Recover() {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.cfg.Capacity
	mod := s.cfg.IndexModulus
	entries := make([]Entry, c+1)
	valid := make([]bool, c+1)
	s.count = 0
	for pos := 1; pos <= c; pos++ {
		e, err := s.readSlot(pos)
		if err != nil {
			log.Errorf("Failed to read log at position %d: %v", pos, err)
			continue
		}
		if e.Valid(mod) {
			entries[pos], valid[pos] = e, true
			s.count++
		}
	}
	if s.count == 0 {
		log.Infof("All log entries are empty, starting at position 1 index 1")
		s.nextPos, s.nextIndex = 1, 1
		position.WithLabelValues(s.name).Set(1)
		return
	}

	var breaks []int
	for pos := 1; pos <= c; pos++ {
		if !valid[pos] {
			continue
		}
		succ := pos%c + 1
		if !valid[succ] || entries[succ].Index != entries[pos].Index%mod+1 {
			breaks = append(breaks, pos)
		}
	}
	candidates := breaks
	if len(breaks) != 1 {
		if len(breaks) > 1 {
			log.Warnf("Error log ring has %d sequence breaks, using highest index", len(breaks))
		}
		candidates = nil
		for pos := 1; pos <= c; pos++ {
			if valid[pos] {
				candidates = append(candidates, pos)
			}
		}
	}
	last := candidates[0]
	for _, pos := range candidates[1:] {
		if entries[pos].Index > entries[last].Index {
			last = pos
		}
	}
	s.nextPos = last%c + 1
	s.nextIndex = entries[last].Index%mod + 1
	position.WithLabelValues(s.name).Set(float64(s.nextPos))
	log.Infof("Recovered %d log entries, next position %d next index %d", s.count, s.nextPos, s.nextIndex)
}

// NextPosition returns the 1-based slot of the next record.
func (s *Store) NextPosition() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextPos
}

func (s *Store) NextIndex() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextIndex
}

// Count returns how many slots hold a record.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *Store) Capacity() int {
	return s.cfg.Capacity
}

// Cached returns the codes currently asserted.
func (s *Store) Cached() []uint16 {
	return s.cache.Codes()
}
