// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/metric"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	lineLevel = metric.GaugeVec(metric.MetricOpts{
		Namespace: "accelbmc",
		Subsystem: "gpio",
		Name:      "line",
		Help:      "Last observed logical level of a monitored GPIO line",
	}, []string{"line"})
)

const (
	GPIO_INVERTED = 0x1

	GPIO_EVENT_UNKNOWN      = 0
	GPIO_EVENT_RISING_EDGE  = 1
	GPIO_EVENT_FALLING_EDGE = 2
)

// GpioPlatform maps board line names to controller ports.
type GpioPlatform interface {
	GpioNameToPort(string) (uint32, bool)
	GpioPortToName(uint32) (string, bool)
	// GpioFlags returns GPIO_* flags for a line, e.g. GPIO_INVERTED for
	// active-low signals.
	GpioFlags(string) int
	InitializeGpio(g *GpioSystem) error
}

type gpioLineImpl interface {
	setValues(out []bool) error
	getValues() ([]bool, error)
}

type gpioEventImpl interface {
	read() (*int, error)
	getValue() (bool, error)
}

type gpioImpl interface {
	requestLineHandle(lines []uint32, out []bool) (gpioLineImpl, error)
	getLineEvent(line uint32) (gpioEventImpl, error)
}

// GpioSystem gives polarity-aware access to named lines. Get and Set take
// and return logical levels: true means the signal is asserted.
type GpioSystem struct {
	p    GpioPlatform
	impl gpioImpl

	m      sync.Mutex
	out    map[uint32]gpioLineImpl
	in     map[uint32]gpioLineImpl
	events map[uint32]gpioEventImpl
	edges  map[string]*uint64
}

type GpioCallback func(line string, c chan bool, initial bool)

// LogGpio is a GpioCallback that logs every edge and exports the level.
func LogGpio(line string, c chan bool, d bool) {
	log.Infof("Monitoring GPIO line %-30s [initial value %v]", line, d)
	g := lineLevel.WithLabelValues(line)
	set := func(v bool) {
		if v {
			g.Set(1)
		} else {
			g.Set(0)
		}
	}
	set(d)
	for v := range c {
		if v {
			log.Infof("%s: rising edge", line)
		} else {
			log.Infof("%s: falling edge", line)
		}
		set(v)
	}
}

func (g *GpioSystem) resolve(line string) (uint32, bool, error) {
	port, ok := g.p.GpioNameToPort(line)
	if !ok {
		return 0, false, fmt.Errorf("could not resolve GPIO %s", line)
	}
	return port, g.p.GpioFlags(line)&GPIO_INVERTED != 0, nil
}

func (g *GpioSystem) monitorOne(line string, cb GpioCallback) error {
	port, inv, err := g.resolve(line)
	if err != nil {
		return err
	}
	e, err := g.impl.getLineEvent(port)
	if err != nil {
		return err
	}
	g.m.Lock()
	g.events[port] = e
	g.m.Unlock()
	d, err := e.getValue()
	if err != nil {
		return err
	}

	c := make(chan bool)
	go cb(line, c, d != inv)

	for {
		ev, err := e.read()
		if ev == nil && err != nil {
			close(c)
			return err
		}
		if ev == nil {
			break
		}

		switch *ev {
		case GPIO_EVENT_FALLING_EDGE:
			c <- inv
		case GPIO_EVENT_RISING_EDGE:
			c <- !inv
		default:
			log.Errorf("Received unknown event on GPIO line %s: %v", line, err)
		}
	}
	close(c)
	log.Infof("Monitoring stopped for GPIO line %s", line)
	return nil
}

// Monitor delivers logical level changes of each line to its callback.
func (g *GpioSystem) Monitor(lines map[string]GpioCallback) {
	log.Infof("Setting up %v GPIO monitors", len(lines))
	for line, cb := range lines {
		go func(l string, cb GpioCallback) {
			err := g.monitorOne(l, cb)
			if err != nil {
				log.Errorf("Monitor %s failed: %v", l, err)
			}
		}(line, cb)
	}
}

// Edges returns the number of level changes seen on line. Counting starts
// with the first call for the line, which returns 0.
func (g *GpioSystem) Edges(line string) (uint64, error) {
	if _, _, err := g.resolve(line); err != nil {
		return 0, err
	}
	g.m.Lock()
	n, ok := g.edges[line]
	if !ok {
		n = new(uint64)
		g.edges[line] = n
	}
	g.m.Unlock()
	if !ok {
		go func() {
			err := g.monitorOne(line, func(_ string, c chan bool, _ bool) {
				for range c {
					atomic.AddUint64(n, 1)
				}
			})
			if err != nil {
				log.Errorf("Counting edges on %s failed: %v", line, err)
			}
		}()
	}
	return atomic.LoadUint64(n), nil
}

// Hog claims the given lines as outputs and drives them to the logical
// levels given.
func (g *GpioSystem) Hog(lines map[string]bool) {
	for l, v := range lines {
		log.Infof("Hogging GPIO line %-30s = %v", l, v)
		if err := g.Set(l, v); err != nil {
			log.Errorf("Hog %s failed: %v", l, err)
		}
	}
}

// Set drives line to the logical level v.
func (g *GpioSystem) Set(line string, v bool) error {
	port, inv, err := g.resolve(line)
	if err != nil {
		return err
	}
	raw := v != inv
	g.m.Lock()
	defer g.m.Unlock()
	if h, ok := g.out[port]; ok {
		return h.setValues([]bool{raw})
	}
	if h, ok := g.in[port]; ok {
		// Input handles cannot be driven; release and reclaim as output.
		if c, ok := h.(interface{ close() error }); ok {
			c.close()
		}
		delete(g.in, port)
	}
	h, err := g.impl.requestLineHandle([]uint32{port}, []bool{raw})
	if err != nil {
		return fmt.Errorf("request %s: %w", line, err)
	}
	g.out[port] = h
	return nil
}

// Get returns the logical level of line.
func (g *GpioSystem) Get(line string) (bool, error) {
	port, inv, err := g.resolve(line)
	if err != nil {
		return false, err
	}
	g.m.Lock()
	if e, ok := g.events[port]; ok {
		g.m.Unlock()
		v, err := e.getValue()
		if err != nil {
			return false, fmt.Errorf("read %s: %w", line, err)
		}
		return v != inv, nil
	}
	h, ok := g.out[port]
	if !ok {
		h, ok = g.in[port]
	}
	if !ok {
		h, err = g.impl.requestLineHandle([]uint32{port}, nil)
		if err != nil {
			g.m.Unlock()
			return false, fmt.Errorf("request %s: %w", line, err)
		}
		g.in[port] = h
	}
	g.m.Unlock()
	vals, err := h.getValues()
	if err != nil {
		return false, fmt.Errorf("read %s: %w", line, err)
	}
	return vals[0] != inv, nil
}

func NewGpioSystem(p GpioPlatform, impl gpioImpl) *GpioSystem {
	g := GpioSystem{
		p:      p,
		impl:   impl,
		out:    map[uint32]gpioLineImpl{},
		in:     map[uint32]gpioLineImpl{},
		events: map[uint32]gpioEventImpl{},
		edges:  map[string]*uint64{},
	}
	return &g
}
