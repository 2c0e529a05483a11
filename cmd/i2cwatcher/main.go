// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

// i2cwatcher polls a window of registers on one I2C device and prints every
// byte that changes, e.g. the card CPLD's fault registers.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/u-root/accel-bmc/pkg/hardware/i2c"
	"github.com/u-root/accel-bmc/pkg/logger"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	bus      = flag.Uint("bus", 5, "Which I2C bus to watch")
	addr     = flag.Uint("addr", 0x26, "7-bit device address")
	start    = flag.Uint("start", 0x00, "First register")
	count    = flag.Int("count", 0x3D, "Number of registers")
	interval = flag.Duration("interval", 100*time.Millisecond, "Polling interval")
)

func main() {
	flag.Parse()
	dev := &i2c.Device{IO: i2c.SMBus{}, Bus: uint8(*bus), Addr: uint8(*addr)}

	prev, err := dev.Dump(uint8(*start), *count)
	if err != nil {
		log.Fatalf("Reading %s: %v", dev, err)
	}
	for i, v := range prev {
		fmt.Printf("%02x: %02x\n", int(*start)+i, v)
	}
	for range time.Tick(*interval) {
		cur, err := dev.Dump(uint8(*start), *count)
		if err != nil {
			log.Warnf("Reading %s: %v", dev, err)
			continue
		}
		now := time.Now().Format("15:04:05.000")
		for i := range cur {
			if cur[i] != prev[i] {
				fmt.Printf("%s %02x: %02x -> %02x\n", now, int(*start)+i, prev[i], cur[i])
			}
		}
		prev = cur
	}
}
