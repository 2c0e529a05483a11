// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bmc assembles the card management daemon from a board
// description and the hardware it runs on.
package bmc

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/jmhodges/clock"
	"github.com/spf13/afero"
	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/bmclink"
	"github.com/u-root/accel-bmc/pkg/errlog"
	"github.com/u-root/accel-bmc/pkg/event"
	"github.com/u-root/accel-bmc/pkg/hardware/eeprom"
	"github.com/u-root/accel-bmc/pkg/hardware/gpio"
	"github.com/u-root/accel-bmc/pkg/hardware/i2c"
	"github.com/u-root/accel-bmc/pkg/hardware/ioexp"
	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/metric"
	"github.com/u-root/accel-bmc/pkg/network/web"
	"github.com/u-root/accel-bmc/pkg/power"
	"github.com/u-root/accel-bmc/pkg/readiness"
	"github.com/u-root/accel-bmc/pkg/retry"
	rpc "github.com/u-root/accel-bmc/pkg/service/grpc"
	"github.com/u-root/accel-bmc/pkg/workqueue"
	"golang.org/x/sync/errgroup"
)

const banner = `
  __ _  ___ ___ ___| |      | |__  _ __ ___   ___
 / _' |/ __/ __/ _ \ |_____ | '_ \| '_ ' _ \ / __|
| (_| | (_| (_|  __/ |_____|| |_) | | | | | | (__
 \__,_|\___\___\___|_|      |_.__/|_| |_| |_|\___|
 `

var (
	log = logger.LogContainer.GetSimpleLogger()

	systemVersion = metric.GaugeVec(metric.MetricOpts{
		Namespace: "accelbmc",
		Subsystem: "system",
		Name:      "version",
		Help:      "Running daemon version",
	}, []string{"version", "git_hash"})
	dcTransitions = metric.CounterVec(metric.MetricOpts{
		Namespace: "accelbmc",
		Subsystem: "system",
		Name:      "dc_transitions_total",
		Help:      "Host DC enable transitions by direction and result",
	}, []string{"direction", "result"})
)

// Platform describes one card: its GPIO lines, power sequences, fault
// registers and I2C topology.
type Platform interface {
	gpio.GpioPlatform
	// OnPowerEnable must be installed before GPIO monitoring starts.
	OnPowerEnable(func(on bool))
	Board(cfg config.Power) *power.Board
	ReadinessDevices() []readiness.Device
	FaultRegisters() []*event.FaultRegister
	VRTable() map[uint8][8]*errlog.VR
	CPLD(io i2c.RegisterIO) *i2c.Device
	Mux(io i2c.RegisterIO, timeout time.Duration) (*ioexp.Mux, error)
}

// Hardware is what a System runs on.
type Hardware struct {
	// StartGpio opens the GPIO controller and initializes the platform on it.
	StartGpio func(p gpio.GpioPlatform) (*gpio.GpioSystem, error)
	I2C       i2c.RegisterIO
	Fs        afero.Fs
	Sender    bmclink.EventSender
	Clock     clock.Clock
}

// System is a running card manager.
type System struct {
	conf *config.Config
	dc   chan bool

	Gpio   *gpio.GpioSystem
	Queue  *workqueue.Queue
	Mux    *ioexp.Mux
	Power  *power.Engine
	Ready  *readiness.Supervisor
	Faults *event.FaultMonitor
	Log    *errlog.Store
	Link   *bmclink.Async
}

func NewSystem(conf *config.Config, plat Platform, hw Hardware) (*System, error) {
	s := &System{
		conf: conf,
		dc:   make(chan bool, 8),
	}
	plat.OnPowerEnable(func(on bool) { s.dc <- on })

	io := i2c.NewRetrying(hw.I2C, retry.Fixed(hw.Clock, conf.Register.Retries, conf.Register.RetryInterval))

	log.Infof("Starting GPIO drivers")
	g, err := hw.StartGpio(plat)
	if err != nil {
		return nil, fmt.Errorf("start gpio: %w", err)
	}
	s.Gpio = g

	log.Infof("Configuring VR mux")
	s.Mux, err = plat.Mux(io, conf.Readiness.MuxTimeout)
	if err != nil {
		return nil, fmt.Errorf("configure mux: %w", err)
	}

	log.Infof("Opening error log EEPROM %s", conf.ErrorLog.EEPROMPath)
	rom, err := eeprom.Open(hw.Fs, conf.ErrorLog.EEPROMPath, int64(conf.ErrorLog.Capacity)*errlog.EntrySize)
	if err != nil {
		return nil, fmt.Errorf("open eeprom: %w", err)
	}
	cpld := plat.CPLD(io)
	s.Link = bmclink.NewAsync(conf.BMCLink, hw.Sender, hw.Clock)
	s.Log, err = errlog.New(conf.ErrorLog, rom, event.NewCache(conf.Fault.CacheSize), hw.Clock, errlog.Options{
		Dumper:    cpld,
		Aux:       &errlog.VRStatus{IO: io, Lock: s.Mux, Table: plat.VRTable()},
		Forwarder: s.Link,
	})
	if err != nil {
		return nil, fmt.Errorf("error log: %w", err)
	}
	s.Log.Recover()

	s.Queue = workqueue.New("card", hw.Clock)
	s.Power = power.NewEngine(conf.Power, plat.Board(conf.Power), g, s.Queue, s.Mux, s.Log)
	s.Ready = readiness.New(conf.Readiness, plat.ReadinessDevices(), g, s.Mux, s.Log, s.Queue, s.Power.IsDevicePowered)
	s.Power.SetSupervisor(s.Ready)
	s.Faults = event.NewFaultMonitor(conf.Fault, cpld, plat.FaultRegisters(), s.Log, hw.Clock, s.Power.IsPowerOn)

	systemVersion.WithLabelValues(conf.Version.Version, conf.Version.GitHash).Set(1)
	return s, nil
}

func (s *System) handleDC(ctx context.Context, on bool) {
	s.Faults.OnDCChange(on)
	dir := "off"
	var err error
	if on {
		dir = "on"
		err = s.Power.PowerOnAll(ctx)
	} else {
		err = s.Power.PowerOffAll(ctx)
	}
	if err != nil {
		log.Errorf("DC %s handling failed: %v", dir, err)
		dcTransitions.WithLabelValues(dir, "error").Inc()
		return
	}
	dcTransitions.WithLabelValues(dir, "ok").Inc()
}

// Run drives the system until ctx is done. grpcLis and httpServ are
// optional.
func (s *System) Run(ctx context.Context, grpcLis net.Listener, httpServ *web.WebServer) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Queue.Run(ctx) })
	g.Go(func() error { return s.Faults.Run(ctx) })
	g.Go(func() error { return s.Link.Run(ctx) })
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case on := <-s.dc:
				s.handleDC(ctx, on)
			}
		}
	})
	if grpcLis != nil {
		log.Infof("Starting gRPC interface on %v", grpcLis.Addr())
		srv := rpc.StartGRPC(grpcLis, s.Power, s.Ready, s.Log, s.Faults, &s.conf.Version)
		g.Go(func() error {
			<-ctx.Done()
			srv.GracefulStop()
			return nil
		})
	}
	if httpServ != nil {
		log.Infof("Starting OpenMetrics interface")
		metric.StartMetrics(httpServ.Mux)
		g.Go(func() error { return httpServ.Serve(ctx) })
	}
	return g.Wait()
}
