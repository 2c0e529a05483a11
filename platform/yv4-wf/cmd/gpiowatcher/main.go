// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/u-root/accel-bmc/pkg/gpiowatcher"
	"github.com/u-root/accel-bmc/pkg/hardware/gpio"
	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/platform/yv4-wf/pkg/platform"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	chip        = flag.String("chip", "/dev/gpiochip0", "GPIO controller to sample")
	doBinaryLog = flag.Bool("binary", false, "Record a binary log of all events instead of text")
	doPlayback  = flag.Bool("playback", false, "Play a binary log from stdin of events instead of capturing")
	interval    = flag.Duration("interval", 10*time.Millisecond, "Sampling interval")
	ignoreLines = flag.String("ignore", "LED_ASIC1_LS_HB,LED_ASIC2_LS_HB", "Ignore events on the specified comma separated lines when printing (the heartbeat LEDs toggle constantly)")
)

func main() {
	flag.Parse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	p := platform.Platform()
	opts := gpiowatcher.Options{
		Binary:   *doBinaryLog,
		Out:      os.Stdout,
		Ignore:   strings.Split(*ignoreLines, ","),
		Interval: *interval,
	}
	var g *gpio.GpioSystem
	if *doPlayback {
		opts.Playback = os.Stdin
	} else {
		var err error
		g, err = gpio.StartGpio(*chip, gpiowatcher.Passive{GpioPlatform: p})
		if err != nil {
			log.Fatalf("Opening %s: %v", *chip, err)
		}
	}
	if err := gpiowatcher.Gpiowatcher(ctx, g, p, opts); err != nil && err != context.Canceled {
		log.Fatalf("gpiowatcher: %v", err)
	}
}
