// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package platform describes the Yosemite V4 Wailua Falls accelerator card:
// its GPIO lines, rail sequences, CPLD fault table and I2C topology.
package platform

import (
	"sync"
	"time"

	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/hardware/gpio"
	"github.com/u-root/accel-bmc/pkg/hardware/i2c"
	"github.com/u-root/accel-bmc/pkg/hardware/ioexp"
	"github.com/u-root/accel-bmc/pkg/logger"
)

var log = logger.LogContainer.GetSimpleLogger()

// I2C topology.
const (
	CPLDBus  = 5
	CPLDAddr = 0x26
	VRBus    = 1
	IOEBus   = 6
	IOE2Addr = 0x21

	// Bits 0-3 of IOE2 port 0 route the DIMM and PMIC muxes to the
	// controller when set.
	MuxBits = 0x0F
)

type platform struct {
	*gpio.LineMap

	mu sync.Mutex
	g  *gpio.GpioSystem
	dc func(on bool)
}

func Platform() *platform {
	return &platform{LineMap: gpio.NewLineMap(linePortMap, lineFlags)}
}

// OnPowerEnable installs the handler for the host's DC enable. It is called
// with the initial level once monitoring starts and on every edge after.
func (p *platform) OnPowerEnable(f func(on bool)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dc = f
}

func (p *platform) InitializeGpio(g *gpio.GpioSystem) error {
	p.mu.Lock()
	p.g = g
	p.mu.Unlock()

	g.Hog(map[string]bool{
		"BIC_READY_R": true,
	})
	g.Monitor(map[string]gpio.GpioCallback{
		"FM_POWER_EN_R":         p.powerEnableHandler,
		"PWRGD_AUX_R":           gpio.LogGpio,
		"PWRGD_P3V3_E1S_0_R":    gpio.LogGpio,
		"PWRGD_P12V_E1S_0_R":    gpio.LogGpio,
		"FM_PWRBRK_PRIMARY_R_N": gpio.LogGpio,
	})
	return nil
}

// safeState drives every rail enable, reset and the card power-good low.
// It runs once at startup when the host has DC off.
func (p *platform) safeState() {
	lines := map[string]bool{}
	b := p.Board(config.Power{})
	for _, d := range b.Devices {
		for _, s := range d.On {
			for _, r := range s.Rails {
				lines[r.Enable] = false
			}
		}
		for _, r := range d.Resets {
			lines[r] = false
		}
	}
	for _, l := range b.Aux {
		lines[l] = false
	}
	lines[b.PowerGoodOut] = false
	p.g.Hog(lines)
}

func (p *platform) powerEnableHandler(line string, c chan bool, initial bool) {
	log.Infof("Monitoring %s [initial value %v]", line, initial)
	if !initial {
		p.safeState()
	}
	p.notify(initial)
	for v := range c {
		log.Infof("Host DC enable %v", v)
		p.notify(v)
	}
}

func (p *platform) notify(on bool) {
	p.mu.Lock()
	f := p.dc
	p.mu.Unlock()
	if f != nil {
		f(on)
	}
}

// CPLD returns the register window of the card CPLD.
func (p *platform) CPLD(io i2c.RegisterIO) *i2c.Device {
	return &i2c.Device{IO: io, Bus: CPLDBus, Addr: CPLDAddr}
}

// Mux configures IOE2 and returns the DIMM/PMIC mux behind it. The mux
// starts routed to the devices.
func (p *platform) Mux(io i2c.RegisterIO, timeout time.Duration) (*ioexp.Mux, error) {
	ioe := &ioexp.TCA9555{Dev: &i2c.Device{IO: io, Bus: IOEBus, Addr: IOE2Addr}}
	if err := ioe.Configure(0, 0xF0, 0x00); err != nil {
		return nil, err
	}
	if err := ioe.Configure(1, 0xC0, 0x00); err != nil {
		return nil, err
	}
	return ioexp.NewMux(ioe, ioexp.OutputPort0, MuxBits, timeout), nil
}
