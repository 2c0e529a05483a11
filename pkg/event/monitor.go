// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package event detects fault bit transitions in CPLD status registers and
// turns them into de-duplicated assert and deassert events.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/metric"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	pollCycles = metric.CounterVec(metric.MetricOpts{
		Namespace: "accelbmc",
		Subsystem: "fault",
		Name:      "poll_cycles_total",
		Help:      "Fault register poll cycles by outcome",
	}, []string{"outcome"})
	readFailures = metric.CounterVec(metric.MetricOpts{
		Namespace: "accelbmc",
		Subsystem: "fault",
		Name:      "read_failures_total",
		Help:      "Fault register reads that failed",
	}, []string{"register"})
)

// FaultRegister is one watched CPLD register. Offset, the expected values,
// Mask and Handler are static; the remaining fields are updated every cycle.
type FaultRegister struct {
	Name          string
	Offset        uint8
	ExpectedDCOn  uint8
	ExpectedDCOff uint8
	Mask          uint8
	Handler       Handler

	// Expected is the value the last cycle compared against.
	Expected uint8
	LastRaw  uint8
	Bitmap   uint8
}

// FaultBits returns (raw ^ expected) & mask.
func FaultBits(raw, expected, mask uint8) uint8 {
	return (raw ^ expected) & mask
}

// RegisterReader reads one byte register of the CPLD.
type RegisterReader interface {
	ReadByte(offset uint8) (uint8, error)
}

type FaultMonitor struct {
	cfg   config.Fault
	dev   RegisterReader
	clk   clock.Clock
	rec   Recorder
	dcOn  func() bool
	alert func() bool

	mu              sync.Mutex
	regs            []*FaultRegister
	enabled         bool
	dcChangingUntil time.Time
	defaultHandler  Handler
}

// NewFaultMonitor watches regs on dev. Registers without a Handler report
// through rec with CauseCPLDUnexpectedValue. dcOn selects which expected
// value applies; nil means the board is always DC-on.
func NewFaultMonitor(cfg config.Fault, dev RegisterReader, regs []*FaultRegister, rec Recorder, clk clock.Clock, dcOn func() bool) *FaultMonitor {
	if dcOn == nil {
		dcOn = func() bool { return true }
	}
	return &FaultMonitor{
		cfg:            cfg,
		dev:            dev,
		clk:            clk,
		rec:            rec,
		dcOn:           dcOn,
		regs:           regs,
		enabled:        true,
		defaultHandler: &EventHandler{Rec: rec, Cause: CauseCPLDUnexpectedValue},
	}
}

// SetAlertSource gates the periodic poll: registers are only read while
// asserted reports true. Boards with a CPLD alert line wire it; yv4-wf polls
// unconditionally.
func (m *FaultMonitor) SetAlertSource(asserted func() bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alert = asserted
}

func (m *FaultMonitor) SetPollingEnabled(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled != v {
		log.Infof("CPLD polling enabled: %v", v)
	}
	m.enabled = v
}

func (m *FaultMonitor) PollingEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// FaultBitmap returns the current fault bitmap of the register at offset.
func (m *FaultMonitor) FaultBitmap(offset uint8) (uint8, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.regs {
		if r.Offset == offset {
			return r.Bitmap, true
		}
	}
	return 0, false
}

// ResetBitmaps forgets every fault bitmap so the next cycle reports all
// faults as new.
func (m *FaultMonitor) ResetBitmaps() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.regs {
		r.Bitmap = 0
		r.LastRaw = 0
	}
}

// CauseResetter is implemented by recorders that can deassert every cached
// code of a cause at once.
type CauseResetter interface {
	ResetCause(cause Cause) int
}

// ResetErrorLogStates deasserts the cached codes of cause and, for CPLD
// faults, re-arms every register.
func (m *FaultMonitor) ResetErrorLogStates(cause Cause) int {
	if cause == CauseCPLDUnexpectedValue {
		m.ResetBitmaps()
	}
	r, ok := m.rec.(CauseResetter)
	if !ok {
		return 0
	}
	return r.ResetCause(cause)
}

// OnAlert handles an edge of the alert line. Deassertion re-arms detection
// for the next alert window; assertion triggers an immediate read. Only
// boards with a CPLD alert line call it.
func (m *FaultMonitor) OnAlert(asserted bool) {
	if !asserted {
		log.Infof("Fault alert cleared, resetting fault bitmaps")
		m.ResetBitmaps()
		return
	}
	m.PollOnce()
}

// OnDCChange suppresses polling while the board's DC state settles.
func (m *FaultMonitor) OnDCChange(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dcChangingUntil = m.clk.Now().Add(m.cfg.DCSettleDelay)
	state := "off"
	if on {
		state = "on"
	}
	log.Infof("DC %s, fault polling suspended for %v", state, m.cfg.DCSettleDelay)
}

// DCChanging reports whether polling is suppressed after a DC transition.
func (m *FaultMonitor) DCChanging() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clk.Now().Before(m.dcChangingUntil)
}

type change struct {
	reg     FaultRegister
	handler Handler
	raw     uint8
	changed uint8
}

// PollOnce reads every register once, regardless of the alert line, and
// returns how many registers changed.
func (m *FaultMonitor) PollOnce() int {
	return m.poll(true)
}

func (m *FaultMonitor) poll(force bool) int {
	m.mu.Lock()
	if !m.enabled {
		m.mu.Unlock()
		pollCycles.WithLabelValues("disabled").Inc()
		return 0
	}
	if m.clk.Now().Before(m.dcChangingUntil) {
		m.mu.Unlock()
		pollCycles.WithLabelValues("dc_changing").Inc()
		return 0
	}
	alert := m.alert
	m.mu.Unlock()
	if !force && alert != nil && !alert() {
		pollCycles.WithLabelValues("idle").Inc()
		return 0
	}

	dcOn := m.dcOn()
	var changes []change
	for _, r := range m.regs {
		raw, err := m.dev.ReadByte(r.Offset)
		if err != nil {
			log.Errorf("Reading %s[%#02x] failed: %v", r.Name, r.Offset, err)
			readFailures.WithLabelValues(r.Name).Inc()
			continue
		}
		m.mu.Lock()
		expected := r.ExpectedDCOff
		if dcOn {
			expected = r.ExpectedDCOn
		}
		cur := FaultBits(raw, expected, r.Mask)
		changed := cur ^ r.Bitmap
		r.Expected = expected
		r.LastRaw = raw
		r.Bitmap = cur
		h := r.Handler
		snapshot := *r
		m.mu.Unlock()
		if changed == 0 {
			continue
		}
		if h == nil {
			h = m.defaultHandler
		}
		changes = append(changes, change{snapshot, h, raw, changed})
	}
	for i := range changes {
		c := &changes[i]
		c.handler.StatusChanged(&c.reg, c.raw, c.changed)
	}
	pollCycles.WithLabelValues("read").Inc()
	return len(changes)
}

// Run polls on the configured interval, starting after the configured
// start delay, until ctx is done.
func (m *FaultMonitor) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.clk.After(m.cfg.PollStartDelay):
	}
	log.Infof("Fault polling started on %d registers", len(m.regs))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clk.After(m.cfg.PollInterval):
			m.poll(false)
		}
	}
}
