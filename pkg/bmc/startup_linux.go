// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bmc

import (
	"context"
	"fmt"
	"net"

	"github.com/jmhodges/clock"
	"github.com/spf13/afero"
	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/bmclink"
	"github.com/u-root/accel-bmc/pkg/hardware/gpio"
	"github.com/u-root/accel-bmc/pkg/hardware/i2c"
	"github.com/u-root/accel-bmc/pkg/network/web"
)

func Startup(ctx context.Context, plat Platform) error {
	return StartupWithConfig(ctx, plat, config.DefaultConfig)
}

// StartupWithConfig brings the card up on the real GPIO controller, I2C
// adapters and EEPROM and runs it until ctx is done.
func StartupWithConfig(ctx context.Context, plat Platform, conf *config.Config) error {
	fmt.Print("\n" + banner)
	fmt.Printf("Welcome to accel-bmc version %s\n\n", conf.Version.Version)

	var sender bmclink.EventSender = bmclink.Discard{}
	if conf.BMCLink.Address != "" {
		log.Infof("Connecting to host BMC at %s", conf.BMCLink.Address)
		s, err := bmclink.Dial(ctx, conf.BMCLink.Address)
		if err != nil {
			log.Errorf("bmclink.Dial failed: %v", err)
			return err
		}
		defer s.Close()
		sender = s
	}

	s, err := NewSystem(conf, plat, Hardware{
		StartGpio: func(p gpio.GpioPlatform) (*gpio.GpioSystem, error) {
			return gpio.StartGpio(conf.GpioChip, p)
		},
		I2C:    i2c.SMBus{},
		Fs:     afero.NewOsFs(),
		Sender: sender,
		Clock:  clock.New(),
	})
	if err != nil {
		log.Errorf("NewSystem failed: %v", err)
		return err
	}

	lis, err := net.Listen("tcp", conf.GRPCAddr)
	if err != nil {
		log.Errorf("Listening for gRPC on %s failed: %v", conf.GRPCAddr, err)
		return err
	}

	log.Info("Allocating HTTP server")
	httpServ := web.NewWebserver()
	if err := httpServ.SetServer(conf.MetricsAddr); err != nil {
		log.Errorf("Setting HTTP server failed: %v", err)
		lis.Close()
		return err
	}
	return s.Run(ctx, lis, httpServ)
}
