// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package gpiowatcher samples board GPIO lines and reports level changes,
// either as text or as a binary log that can be played back later.
package gpiowatcher

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/jmhodges/clock"
	"github.com/u-root/accel-bmc/pkg/hardware/gpio"
	"github.com/u-root/accel-bmc/pkg/logger"
)

var log = logger.LogContainer.GetSimpleLogger()

// Platform names the lines that can be watched.
type Platform interface {
	GpioPortToName(p uint32) (string, bool)
	Ports() map[string]uint32
}

// Sample holds the logical level of every watched port at one instant.
type Sample struct {
	Time  time.Time
	Lines map[uint32]bool
}

func (s *Sample) ports() []uint32 {
	out := make([]uint32, 0, len(s.Lines))
	for p := range s.Lines {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// A snapshoter returns nil when it has no more samples.
type snapshoter interface {
	Close()
	Snapshot() (*Sample, error)
}

type outputer interface {
	Close()
	Log(s *Sample) error
}

// Passive wraps a platform so that opening the GPIO controller claims no
// lines. The watcher must not disturb a running board.
type Passive struct {
	gpio.GpioPlatform
}

func (Passive) InitializeGpio(*gpio.GpioSystem) error { return nil }

type live struct {
	g     *gpio.GpioSystem
	clk   clock.Clock
	names map[uint32]string
}

func (l *live) Close() {}

func (l *live) Snapshot() (*Sample, error) {
	s := &Sample{Time: l.clk.Now(), Lines: make(map[uint32]bool, len(l.names))}
	for p, n := range l.names {
		v, err := l.g.Get(n)
		if err != nil {
			log.Debugf("Skipping %s: %v", n, err)
			continue
		}
		s.Lines[p] = v
	}
	return s, nil
}

// Options select the sample source and output format. Playback, when set,
// replaces the controller as the source. Binary writes a binary log instead
// of text. Ignore names lines left out of the text output.
type Options struct {
	Binary   bool
	Playback io.Reader
	Out      io.Writer
	Ignore   []string
	Interval time.Duration
	Clock    clock.Clock
}

// Gpiowatcher samples lines until ctx is done or the playback log ends.
// g may be nil when playing back.
func Gpiowatcher(ctx context.Context, g *gpio.GpioSystem, plt Platform, opts Options) error {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	var a snapshoter
	if opts.Playback != nil {
		a = &playback{opts.Playback}
	} else {
		names := map[uint32]string{}
		for n, p := range plt.Ports() {
			names[p] = n
		}
		a = &live{g: g, clk: clk, names: names}
	}
	defer a.Close()

	p, err := a.Snapshot()
	if err != nil || p == nil {
		return err
	}

	var o outputer
	if opts.Binary {
		o, err = newBinaryLog(opts.Out, p)
		if err != nil {
			return err
		}
	} else {
		o = newStdoutLog(opts.Out, p, opts.Ignore, plt)
	}
	defer o.Close()

	for {
		if opts.Playback == nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			clk.Sleep(opts.Interval)
		}
		s, err := a.Snapshot()
		if err != nil {
			return err
		}
		if s == nil {
			return nil
		}
		if err := o.Log(s); err != nil {
			return err
		}
	}
}
