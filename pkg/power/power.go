// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package power runs the staged rail sequences of the accelerators.
package power

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/event"
	"github.com/u-root/accel-bmc/pkg/hardware/ioexp"
	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/metric"
	"github.com/u-root/accel-bmc/pkg/retry"
	"github.com/u-root/accel-bmc/pkg/workqueue"
	"go.uber.org/multierr"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	sequences = metric.CounterVec(metric.MetricOpts{
		Namespace: "accelbmc",
		Subsystem: "power",
		Name:      "sequences_total",
		Help:      "Power sequences by device, direction and result",
	}, []string{"device", "direction", "result"})
	sequenceSeconds = metric.Histogram(metric.MetricOpts{
		Namespace: "accelbmc",
		Subsystem: "power",
		Name:      "sequence_seconds",
		Help:      "Duration of successful power sequences",
	}, []string{"direction"}, []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2})
	devicePowered = metric.GaugeVec(metric.MetricOpts{
		Namespace: "accelbmc",
		Subsystem: "power",
		Name:      "device_powered",
		Help:      "1 when the device completed power-on",
	}, []string{"device"})
)

var (
	ErrStageFailed   = errors.New("power stage failed")
	ErrUnknownDevice = errors.New("unknown device")
)

// StageError describes which rail of which stage failed.
type StageError struct {
	Device string
	Stage  string
	Rail   string
	On     bool
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: stage %s rail %s: %v", e.Device, direction(e.On), e.Stage, e.Rail, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func (e *StageError) Is(target error) bool {
	return target == ErrStageFailed
}

func direction(on bool) string {
	if on {
		return "on"
	}
	return "off"
}

// Pins drives and samples logical GPIO levels.
type Pins interface {
	Get(line string) (bool, error)
	Set(line string, v bool) error
}

type Switcher interface {
	Switch(ctx context.Context, t ioexp.Target) error
}

// Supervisor is told when a device has powered up or is going down.
type Supervisor interface {
	Start(id uint8)
	Stop(id uint8)
}

type railState int

const (
	stateOff railState = iota
	stateOn
	// A sequence failed or is running; rails may be in any state.
	stateUnknown
)

type deviceState struct {
	seq sync.Mutex

	state    railState
	settled  bool
	failures []event.ErrorCode

	markPowered  *workqueue.Work
	releaseReset *workqueue.Work
}

// Engine sequences the rails of every device on a Board. Sequences of the
// same device are serialized.
type Engine struct {
	cfg   config.Power
	board *Board
	pins  Pins
	q     *workqueue.Queue
	mux   Switcher
	rec   event.Recorder
	sup   Supervisor

	boardMu sync.Mutex
	mu      sync.Mutex
	devs    map[uint8]*deviceState
}

func NewEngine(cfg config.Power, board *Board, pins Pins, q *workqueue.Queue, mux Switcher, rec event.Recorder) *Engine {
	e := &Engine{
		cfg:   cfg,
		board: board,
		pins:  pins,
		q:     q,
		mux:   mux,
		rec:   rec,
		devs:  make(map[uint8]*deviceState),
	}
	for _, d := range board.Devices {
		d := d
		st := &deviceState{}
		st.markPowered = workqueue.NewWork(d.Name+"/mark-powered", func() { e.markPowered(d, st) })
		st.releaseReset = workqueue.NewWork(d.Name+"/release-reset", func() { e.releaseReset(d, st) })
		e.devs[d.ID] = st
		devicePowered.WithLabelValues(d.Name).Set(0)
	}
	return e
}

// SetSupervisor installs the readiness supervisor. It must be called before
// the first sequence runs.
func (e *Engine) SetSupervisor(s Supervisor) {
	e.sup = s
}

func (e *Engine) device(id uint8) (*Device, *deviceState, error) {
	d, ok := e.board.Device(id)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}
	return d, e.devs[id], nil
}

func (e *Engine) markPowered(d *Device, st *deviceState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st.state != stateOn {
		return
	}
	st.settled = true
	log.Infof("%s power settled", d.Name)
}

func (e *Engine) releaseReset(d *Device, st *deviceState) {
	e.mu.Lock()
	on := st.state == stateOn
	e.mu.Unlock()
	if !on {
		return
	}
	for _, r := range d.Resets {
		if err := e.pins.Set(r, true); err != nil {
			log.Errorf("%s: releasing %s failed: %v", d.Name, r, err)
		}
	}
	log.Infof("%s reset released", d.Name)
}

func (e *Engine) setState(st *deviceState, s railState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st.state = s
	if s != stateOn {
		st.settled = false
	}
}

// runStage drives the enables of s and waits for its power-good pins to
// follow.
func (e *Engine) runStage(ctx context.Context, d *Device, idx int, s Stage, on bool) error {
	clk := e.q.Clock()
	if s.PreDelay > 0 {
		clk.Sleep(s.PreDelay)
	}
	for ri, r := range s.Rails {
		if r.Enable == "" {
			continue
		}
		if err := e.pins.Set(r.Enable, on); err != nil {
			return e.stageFailed(d, idx, ri, s, on, fmt.Errorf("set %s: %w", r.Enable, err))
		}
	}
	if s.Clock {
		clk.Sleep(e.cfg.ClockStableDelay)
		return nil
	}
	checked := false
	for ri, r := range s.Rails {
		if r.PowerGood == "" {
			continue
		}
		if !checked {
			clk.Sleep(e.cfg.CheckPowerDelay)
			checked = true
		}
		var readErr error
		p := retry.Fixed(clk, e.cfg.PowerGoodRetries, e.cfg.PowerGoodInterval)
		_, err := p.Until(ctx, func() bool {
			v, err := e.pins.Get(r.PowerGood)
			if err != nil {
				readErr = err
				return false
			}
			return v == on
		})
		if err != nil {
			if readErr != nil {
				err = fmt.Errorf("%v, last read error: %w", err, readErr)
			}
			return e.stageFailed(d, idx, ri, s, on, err)
		}
	}
	log.Debugf("%s %s stage %s done", d.Name, direction(on), s.Name)
	return nil
}

// stageFailed emits the power-sequence event for a failed rail.
func (e *Engine) stageFailed(d *Device, idx, rail int, s Stage, on bool, err error) error {
	se := &StageError{Device: d.Name, Stage: s.Name, Rail: s.Rails[rail].Name, On: on, Err: err}
	log.Errorf("Power sequence failed: %v", se)
	offset := d.ID<<4 | uint8(rail)&0x0F
	if !on {
		offset |= 0x80
	}
	code := event.ErrorCode{Cause: event.CausePowerSequence, Bit: uint8(idx), Offset: offset}
	if e.rec != nil {
		ok, rerr := e.rec.Record(code, true)
		if rerr != nil {
			log.Warnf("Could not log %v: %v", code, rerr)
		}
		if ok {
			st := e.devs[d.ID]
			e.mu.Lock()
			st.failures = append(st.failures, code)
			e.mu.Unlock()
		}
	}
	return se
}

// clearFailures deasserts the events of earlier failed sequences.
func (e *Engine) clearFailures(st *deviceState) {
	if e.rec == nil {
		return
	}
	e.mu.Lock()
	codes := st.failures
	st.failures = nil
	e.mu.Unlock()
	for _, c := range codes {
		if _, err := e.rec.Record(c, false); err != nil {
			log.Warnf("Could not log deassert of %v: %v", c, err)
		}
	}
}

// PowerOn runs the power-on stages of device id. A failed stage aborts the
// sequence and routes the mux to the controller.
func (e *Engine) PowerOn(ctx context.Context, id uint8) error {
	d, st, err := e.device(id)
	if err != nil {
		return err
	}
	st.seq.Lock()
	defer st.seq.Unlock()
	if e.IsDevicePowered(id) {
		log.Infof("%s is already powered on", d.Name)
		return nil
	}
	clk := e.q.Clock()
	start := clk.Now()
	log.Infof("Powering on %s", d.Name)
	e.setState(st, stateUnknown)
	for i, s := range d.On {
		if err := e.runStage(ctx, d, i, s, true); err != nil {
			sequences.WithLabelValues(d.Name, "on", "failed").Inc()
			if merr := e.mux.Switch(ctx, ioexp.Controller); merr != nil {
				log.Errorf("Could not fall back to controller mux: %v", merr)
			}
			return err
		}
	}
	e.setState(st, stateOn)
	e.clearFailures(st)
	devicePowered.WithLabelValues(d.Name).Set(1)
	sequences.WithLabelValues(d.Name, "on", "ok").Inc()
	sequenceSeconds.WithLabelValues("on").Observe(clk.Now().Sub(start).Seconds())
	e.q.Schedule(st.releaseReset, e.cfg.ResetReleaseDelay)
	e.q.Schedule(st.markPowered, e.cfg.MarkPoweredDelay)
	if e.sup != nil {
		e.sup.Start(id)
	}
	log.Infof("%s powered on in %v", d.Name, clk.Now().Sub(start))
	return nil
}

// PowerOff cancels the device's delayed work and runs its power-off stages.
func (e *Engine) PowerOff(ctx context.Context, id uint8) error {
	d, st, err := e.device(id)
	if err != nil {
		return err
	}
	st.seq.Lock()
	defer st.seq.Unlock()
	e.mu.Lock()
	off := st.state == stateOff
	e.mu.Unlock()
	if off {
		log.Infof("%s is already powered off", d.Name)
		return nil
	}
	clk := e.q.Clock()
	start := clk.Now()
	log.Infof("Powering off %s", d.Name)
	e.setState(st, stateUnknown)
	devicePowered.WithLabelValues(d.Name).Set(0)
	e.q.Cancel(st.markPowered)
	e.q.Cancel(st.releaseReset)
	if e.sup != nil {
		e.sup.Stop(id)
	}
	for i, s := range d.Off {
		if err := e.runStage(ctx, d, i, s, false); err != nil {
			sequences.WithLabelValues(d.Name, "off", "failed").Inc()
			return err
		}
	}
	e.setState(st, stateOff)
	e.clearFailures(st)
	sequences.WithLabelValues(d.Name, "off", "ok").Inc()
	sequenceSeconds.WithLabelValues("off").Observe(clk.Now().Sub(start).Seconds())
	log.Infof("%s powered off", d.Name)
	return nil
}

func (e *Engine) setAux(on bool) error {
	var err error
	for _, l := range e.board.Aux {
		err = multierr.Append(err, e.pins.Set(l, on))
	}
	return err
}

// PowerOnAll powers every device. The card power-good output is only raised
// when all of them came up.
func (e *Engine) PowerOnAll(ctx context.Context) error {
	e.boardMu.Lock()
	defer e.boardMu.Unlock()
	if e.IsPowerOn() {
		log.Infof("Board is already powered on")
		return nil
	}
	if err := e.setAux(true); err != nil {
		return fmt.Errorf("enable aux rails: %w", err)
	}
	var err error
	for _, d := range e.board.Devices {
		err = multierr.Append(err, e.PowerOn(ctx, d.ID))
	}
	if err != nil {
		return err
	}
	if e.board.PowerGoodOut != "" {
		if err := e.pins.Set(e.board.PowerGoodOut, true); err != nil {
			return fmt.Errorf("set %s: %w", e.board.PowerGoodOut, err)
		}
	}
	log.Infof("Board powered on")
	return nil
}

// PowerOffAll powers down every device and hands the mux to the devices.
func (e *Engine) PowerOffAll(ctx context.Context) error {
	e.boardMu.Lock()
	defer e.boardMu.Unlock()
	if e.isPowerOff() {
		log.Infof("Board is already powered off")
		return nil
	}
	var err error
	if e.board.PowerGoodOut != "" {
		err = multierr.Append(err, e.pins.Set(e.board.PowerGoodOut, false))
	}
	for _, d := range e.board.Devices {
		err = multierr.Append(err, e.PowerOff(ctx, d.ID))
	}
	err = multierr.Append(err, e.setAux(false))
	if merr := e.mux.Switch(ctx, ioexp.Device); merr != nil {
		err = multierr.Append(err, merr)
	}
	if err != nil {
		return err
	}
	log.Infof("Board powered off")
	return nil
}

// IsPowerOn reports the board DC state: every device completed power-on.
func (e *Engine) IsPowerOn() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.devs) == 0 {
		return false
	}
	for _, st := range e.devs {
		if st.state != stateOn {
			return false
		}
	}
	return true
}

func (e *Engine) isPowerOff() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.devs {
		if st.state != stateOff {
			return false
		}
	}
	return true
}

func (e *Engine) IsDevicePowered(id uint8) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.devs[id]
	return ok && st.state == stateOn
}

// IsSettled reports whether the device has been powered for the settle
// delay. Sensors behind it are not trusted before that.
func (e *Engine) IsSettled(id uint8) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.devs[id]
	return ok && st.settled
}

// Devices returns the IDs of the board's devices in board order.
func (e *Engine) Devices() []uint8 {
	ids := make([]uint8, 0, len(e.board.Devices))
	for _, d := range e.board.Devices {
		ids = append(ids, d.ID)
	}
	return ids
}

func (e *Engine) DeviceName(id uint8) string {
	if d, ok := e.board.Device(id); ok {
		return d.Name
	}
	return strconv.Itoa(int(id))
}
