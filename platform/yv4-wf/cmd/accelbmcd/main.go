// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux
// +build linux

// accelbmcd manages a Yosemite V4 Wailua Falls accelerator card.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/bmc"
	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/platform/yv4-wf/pkg/platform"
	"go.uber.org/zap/zapcore"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	configPath = flag.String("config", "/etc/accel-bmc.yaml", "YAML file overriding the built-in configuration")
	debug      = flag.Bool("debug", false, "Log at debug level")
)

func main() {
	flag.Parse()
	if *debug {
		logger.LogContainer.SetLevel(zapcore.DebugLevel)
	}

	conf, err := config.Load(afero.NewOsFs(), *configPath)
	if err != nil {
		log.Fatalf("Loading configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := bmc.StartupWithConfig(ctx, platform.Platform(), conf); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("accelbmcd: %v", err)
	}
	log.Infof("Shut down")
}
