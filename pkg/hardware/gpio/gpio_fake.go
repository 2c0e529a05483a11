// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpio

import (
	"sync"
)

// FakeOp is one access the system made to a fake line.
type FakeOp struct {
	Line  string
	Write bool
	Value bool
}

// FakeGpio is an in-memory gpioImpl for tests. Values are raw levels, before
// polarity is applied.
type FakeGpio struct {
	p       GpioPlatform
	lock    sync.Mutex
	ports   map[uint32]chan bool
	v       map[uint32]bool
	follow  map[uint32][]uint32
	journal []FakeOp
}

type fakeGpioEvent struct {
	g    *FakeGpio
	line uint32
}

type fakeGpioLine struct {
	g     *FakeGpio
	lines []uint32
}

func (g *FakeGpio) name(port uint32) string {
	n, _ := g.p.GpioPortToName(port)
	return n
}

func (g *FakeGpio) store(port uint32, v bool) {
	old, seen := g.v[port]
	g.v[port] = v
	if seen && old == v {
		return
	}
	select {
	case g.chanFor(port) <- v:
	default:
	}
}

func (g *FakeGpio) chanFor(port uint32) chan bool {
	c, ok := g.ports[port]
	if !ok {
		c = make(chan bool, 16)
		g.ports[port] = c
	}
	return c
}

func (l *fakeGpioLine) setValues(vals []bool) error {
	l.g.lock.Lock()
	defer l.g.lock.Unlock()
	for i, v := range vals {
		p := l.lines[i]
		l.g.journal = append(l.g.journal, FakeOp{Line: l.g.name(p), Write: true, Value: v})
		l.g.store(p, v)
		for _, f := range l.g.follow[p] {
			l.g.store(f, v)
		}
	}
	return nil
}

func (l *fakeGpioLine) getValues() ([]bool, error) {
	l.g.lock.Lock()
	defer l.g.lock.Unlock()
	out := make([]bool, len(l.lines))
	for i, p := range l.lines {
		out[i] = l.g.v[p]
		l.g.journal = append(l.g.journal, FakeOp{Line: l.g.name(p), Value: out[i]})
	}
	return out, nil
}

// Set changes a raw line level from the test harness and delivers an edge
// to any monitor of the line.
func (g *FakeGpio) Set(port uint32, v bool) {
	g.lock.Lock()
	defer g.lock.Unlock()
	log.Infof("FakeGpio: Test harness set port %v to %v", g.name(port), v)
	g.store(port, v)
}

// SetLine is Set by line name.
func (g *FakeGpio) SetLine(line string, v bool) {
	port, ok := g.p.GpioNameToPort(line)
	if !ok {
		panic("unknown fake GPIO line " + line)
	}
	g.Set(port, v)
}

func (g *FakeGpio) Current(port uint32) bool {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.v[port]
}

// CurrentLine is Current by line name.
func (g *FakeGpio) CurrentLine(line string) bool {
	port, _ := g.p.GpioNameToPort(line)
	return g.Current(port)
}

// Follow makes the line dst take the value of src whenever the system
// writes src. It models a power-good pin tracking its enable.
func (g *FakeGpio) Follow(src, dst string) {
	s, _ := g.p.GpioNameToPort(src)
	d, _ := g.p.GpioNameToPort(dst)
	g.lock.Lock()
	defer g.lock.Unlock()
	g.follow[s] = append(g.follow[s], d)
}

// Journal returns every system access in order.
func (g *FakeGpio) Journal() []FakeOp {
	g.lock.Lock()
	defer g.lock.Unlock()
	return append([]FakeOp(nil), g.journal...)
}

func (g *FakeGpio) ResetJournal() {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.journal = nil
}

func (g *FakeGpio) requestLineHandle(lines []uint32, out []bool) (gpioLineImpl, error) {
	l := &fakeGpioLine{g, lines}
	if len(out) > 0 {
		if err := l.setValues(out); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (g *FakeGpio) getLineEvent(line uint32) (gpioEventImpl, error) {
	return &fakeGpioEvent{g, line}, nil
}

func (e *fakeGpioEvent) getValue() (bool, error) {
	e.g.lock.Lock()
	defer e.g.lock.Unlock()
	return e.g.v[e.line], nil
}

func (e *fakeGpioEvent) read() (*int, error) {
	e.g.lock.Lock()
	c := e.g.chanFor(e.line)
	e.g.lock.Unlock()
	nv, ok := <-c
	if !ok {
		return nil, nil
	}
	v := GPIO_EVENT_FALLING_EDGE
	if nv {
		v = GPIO_EVENT_RISING_EDGE
	}
	return &v, nil
}

// Close ends every monitor running on the fake.
func (g *FakeGpio) Close() {
	g.lock.Lock()
	defer g.lock.Unlock()
	for p, c := range g.ports {
		close(c)
		delete(g.ports, p)
	}
}

func FakeGpioImpl(p GpioPlatform, startupState map[uint32]bool) *FakeGpio {
	g := &FakeGpio{
		p:      p,
		ports:  make(map[uint32]chan bool),
		v:      make(map[uint32]bool),
		follow: make(map[uint32][]uint32),
	}
	for p, v := range startupState {
		g.v[p] = v
	}
	return g
}

// NewFakeGpioSystem returns a GpioSystem backed by a FakeGpio.
func NewFakeGpioSystem(p GpioPlatform, startupState map[uint32]bool) (*GpioSystem, *FakeGpio) {
	f := FakeGpioImpl(p, startupState)
	return NewGpioSystem(p, f), f
}
