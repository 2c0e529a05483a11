// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package readiness tracks when a powered accelerator is alive and when the
// controller may talk to its regulators.
package readiness

import (
	"context"
	"sync"

	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/event"
	"github.com/u-root/accel-bmc/pkg/hardware/ioexp"
	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/metric"
	"github.com/u-root/accel-bmc/pkg/workqueue"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	readyGauge = metric.GaugeVec(metric.MetricOpts{
		Namespace: "accelbmc",
		Subsystem: "readiness",
		Name:      "ready",
		Help:      "1 when the device answered its heartbeat after power-on",
	}, []string{"device"})
	heartbeatGauge = metric.GaugeVec(metric.MetricOpts{
		Namespace: "accelbmc",
		Subsystem: "readiness",
		Name:      "heartbeat_state",
		Help:      "0 unknown, 1 ok, 2 low",
	}, []string{"device"})
)

type HeartbeatState int

const (
	HeartbeatUnknown HeartbeatState = iota
	HeartbeatOK
	HeartbeatLow
)

func (h HeartbeatState) String() string {
	switch h {
	case HeartbeatOK:
		return "ok"
	case HeartbeatLow:
		return "low"
	}
	return "unknown"
}

// Device names the lines readiness samples for one accelerator.
type Device struct {
	ID   uint8
	Name string
	// HeartbeatLine toggles while the device firmware is alive. Its level
	// alone means nothing.
	HeartbeatLine string
	// Perst reads true while the device is held in PCIe reset.
	Perst string
}

// Pins reads the readiness lines. Edges is a running count of level changes
// seen on a line.
type Pins interface {
	Get(line string) (bool, error)
	Edges(line string) (uint64, error)
}

type Switcher interface {
	Switch(ctx context.Context, t ioexp.Target) error
}

// State is a snapshot of one device's readiness.
type State struct {
	PowerOn   bool
	Ready     bool
	VRAccess  bool
	Heartbeat HeartbeatState
}

type device struct {
	Device
	State
	attempts int
	// lowLogged is set while a heartbeat-lost event is asserted.
	lowLogged bool

	// Last heartbeat reading; seen is false until the first one.
	seen  bool
	edges uint64
	level bool

	check     *workqueue.Work
	vrAccess  *workqueue.Work
	heartbeat *workqueue.Work
}

// Supervisor runs the readiness check and heartbeat monitor of every
// device on the board's work queue.
type Supervisor struct {
	cfg     config.Readiness
	pins    Pins
	mux     Switcher
	rec     event.Recorder
	q       *workqueue.Queue
	powered func(id uint8) bool

	mu   sync.Mutex
	devs map[uint8]*device
}

// New returns a Supervisor. powered reports whether a device's rails are up;
// nothing is sampled while it is false.
func New(cfg config.Readiness, devs []Device, pins Pins, mux Switcher, rec event.Recorder, q *workqueue.Queue, powered func(id uint8) bool) *Supervisor {
	s := &Supervisor{
		cfg:     cfg,
		pins:    pins,
		mux:     mux,
		rec:     rec,
		q:       q,
		powered: powered,
		devs:    make(map[uint8]*device),
	}
	for _, d := range devs {
		dev := &device{Device: d}
		dev.check = workqueue.NewWork(d.Name+"/ready", func() { s.runCheck(dev) })
		dev.vrAccess = workqueue.NewWork(d.Name+"/vr-access", func() { s.enableVRAccess(dev) })
		dev.heartbeat = workqueue.NewWork(d.Name+"/heartbeat", func() { s.runHeartbeat(dev) })
		s.devs[d.ID] = dev
		readyGauge.WithLabelValues(d.Name).Set(0)
		heartbeatGauge.WithLabelValues(d.Name).Set(0)
	}
	return s
}

func (s *Supervisor) heartbeatCode(d *device) event.ErrorCode {
	return event.ErrorCode{Cause: event.CauseHeartbeat, Bit: 0, Offset: d.ID}
}

// Start begins the readiness check of a freshly powered device.
func (s *Supervisor) Start(id uint8) {
	s.mu.Lock()
	d, ok := s.devs[id]
	if !ok {
		s.mu.Unlock()
		log.Warnf("Readiness start for unknown device %d", id)
		return
	}
	d.State = State{PowerOn: true}
	d.attempts = 0
	d.seen = false
	s.q.Schedule(d.check, s.cfg.SettleDelay)
	s.mu.Unlock()

	log.Infof("%s: checking readiness in %v", d.Name, s.cfg.SettleDelay)
	if _, err := s.beat(d); err != nil {
		log.Warnf("%s: reading %s failed: %v", d.Name, d.HeartbeatLine, err)
	}
}

// Stop cancels every pending task of the device and forgets its state.
func (s *Supervisor) Stop(id uint8) {
	s.mu.Lock()
	d, ok := s.devs[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.q.Cancel(d.check)
	s.q.Cancel(d.vrAccess)
	s.q.Cancel(d.heartbeat)
	wasLow := d.lowLogged
	d.lowLogged = false
	d.State = State{}
	s.mu.Unlock()

	readyGauge.WithLabelValues(d.Name).Set(0)
	heartbeatGauge.WithLabelValues(d.Name).Set(float64(HeartbeatUnknown))
	if wasLow {
		s.record(d, false)
	}
	log.Infof("%s: readiness stopped", d.Name)
}

func (s *Supervisor) active(d *device) bool {
	s.mu.Lock()
	on := d.PowerOn
	s.mu.Unlock()
	return on && s.powered(d.ID)
}

func (s *Supervisor) record(d *device, assert bool) {
	if s.rec == nil {
		return
	}
	if _, err := s.rec.Record(s.heartbeatCode(d), assert); err != nil {
		log.Warnf("%s: logging heartbeat event failed: %v", d.Name, err)
	}
}

func (s *Supervisor) switchToController(d *device) {
	if err := s.mux.Switch(context.Background(), ioexp.Controller); err != nil {
		log.Errorf("%s: skipping mux switch: %v", d.Name, err)
	}
}

func (s *Supervisor) runCheck(d *device) {
	if !s.active(d) {
		return
	}
	alive, err := s.beat(d)
	if err != nil {
		log.Warnf("%s: reading %s failed: %v", d.Name, d.HeartbeatLine, err)
	}

	s.mu.Lock()
	d.attempts++
	attempts := d.attempts
	switch {
	case alive:
		d.Ready = true
		d.Heartbeat = HeartbeatOK
		s.q.Schedule(d.vrAccess, s.cfg.VRAccessDelay)
		s.q.Schedule(d.heartbeat, s.cfg.HeartbeatInterval)
	case attempts < s.cfg.Retries:
		s.q.Schedule(d.check, s.cfg.RetryInterval)
		s.mu.Unlock()
		return
	default:
		d.Ready = false
		d.VRAccess = true
	}
	s.mu.Unlock()

	s.switchToController(d)
	if alive {
		readyGauge.WithLabelValues(d.Name).Set(1)
		heartbeatGauge.WithLabelValues(d.Name).Set(float64(HeartbeatOK))
		log.Infof("%s: ready after %d heartbeat checks", d.Name, attempts)
	} else {
		log.Errorf("%s: no heartbeat after %d checks, enabling VR access", d.Name, attempts)
	}
}

func (s *Supervisor) enableVRAccess(d *device) {
	if !s.active(d) {
		return
	}
	s.mu.Lock()
	d.VRAccess = true
	s.mu.Unlock()
	log.Infof("%s: VR access enabled", d.Name)
}

// beat reports whether the heartbeat line moved since the previous reading.
// The first reading after Start only sets the reference. Edges catch blinks
// faster than the sampling interval; the level catches a monitor that has
// not started yet.
func (s *Supervisor) beat(d *device) (bool, error) {
	n, err := s.pins.Edges(d.HeartbeatLine)
	if err != nil {
		return false, err
	}
	v, err := s.pins.Get(d.HeartbeatLine)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	moved := d.seen && (n != d.edges || v != d.level)
	d.seen, d.edges, d.level = true, n, v
	return moved, nil
}

// sample reads the heartbeat state. A device in PCIe reset has no
// heartbeat to speak of.
func (s *Supervisor) sample(d *device) HeartbeatState {
	if d.Perst != "" {
		inReset, err := s.pins.Get(d.Perst)
		if err != nil {
			log.Warnf("%s: reading %s failed: %v", d.Name, d.Perst, err)
			return HeartbeatUnknown
		}
		if inReset {
			return HeartbeatUnknown
		}
	}
	alive, err := s.beat(d)
	if err != nil {
		log.Warnf("%s: reading %s failed: %v", d.Name, d.HeartbeatLine, err)
		return HeartbeatUnknown
	}
	if alive {
		return HeartbeatOK
	}
	return HeartbeatLow
}

func (s *Supervisor) runHeartbeat(d *device) {
	if !s.active(d) {
		return
	}
	cur := s.sample(d)

	s.mu.Lock()
	if !d.PowerOn {
		s.mu.Unlock()
		return
	}
	d.Heartbeat = cur
	var assert, deassert bool
	switch {
	case cur == HeartbeatLow && !d.lowLogged:
		assert, d.lowLogged = true, true
	case cur == HeartbeatOK && d.lowLogged:
		deassert, d.lowLogged = true, false
	}
	s.q.Schedule(d.heartbeat, s.cfg.HeartbeatInterval)
	s.mu.Unlock()

	heartbeatGauge.WithLabelValues(d.Name).Set(float64(cur))
	if assert {
		log.Errorf("%s: heartbeat lost", d.Name)
		s.record(d, true)
	}
	if deassert {
		log.Infof("%s: heartbeat restored", d.Name)
		s.record(d, false)
	}
}

func (s *Supervisor) state(id uint8) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devs[id]
	if !ok {
		return State{}, false
	}
	return d.State, true
}

// State returns a snapshot of the device's readiness.
func (s *Supervisor) State(id uint8) State {
	st, _ := s.state(id)
	return st
}

func (s *Supervisor) IsReady(id uint8) bool {
	return s.State(id).Ready
}

func (s *Supervisor) IsVRAccessEnabled(id uint8) bool {
	return s.State(id).VRAccess
}

// SensorAccessible reports whether the device's regulators may be polled:
// it is powered and VR access has been granted.
func (s *Supervisor) SensorAccessible(id uint8) bool {
	st := s.State(id)
	return st.PowerOn && st.VRAccess && s.powered(id)
}
