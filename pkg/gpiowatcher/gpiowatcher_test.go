// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpiowatcher

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jmhodges/clock"
	"github.com/u-root/accel-bmc/pkg/hardware/gpio"
)

type testPlatform struct {
	*gpio.LineMap
}

func (p *testPlatform) InitializeGpio(g *gpio.GpioSystem) error {
	g.Hog(map[string]bool{"PWR_EN": true})
	return nil
}

func newTestPlatform() *testPlatform {
	return &testPlatform{gpio.NewLineMap(map[string]uint32{
		"PWR_EN": 1,
		"PG":     2,
		"NOISE":  3,
	}, map[string]int{
		"PG": gpio.GPIO_INVERTED,
	})}
}

func TestPlaybackToText(t *testing.T) {
	plt := newTestPlatform()
	t0 := time.Unix(1700000000, 0)
	samples := []*Sample{
		{Time: t0, Lines: map[uint32]bool{1: false, 2: false, 3: false}},
		{Time: t0.Add(time.Second), Lines: map[uint32]bool{1: true, 2: false, 3: true}},
		{Time: t0.Add(2 * time.Second), Lines: map[uint32]bool{1: true, 2: true, 3: false}},
	}
	var rec bytes.Buffer
	b, err := newBinaryLog(&rec, samples[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range samples[1:] {
		if err := b.Log(s); err != nil {
			t.Fatal(err)
		}
	}

	var out bytes.Buffer
	err = Gpiowatcher(context.Background(), nil, plt, Options{
		Playback: &rec,
		Out:      &out,
		Ignore:   []string{"NOISE"},
	})
	if err != nil {
		t.Fatalf("Gpiowatcher: %v", err)
	}
	want := fmt.Sprintf("%-30s low\n%-30s low\n%-30s low\n", "PWR_EN", "PG", "NOISE") +
		fmt.Sprintf("%s %-30s rising\n", samples[1].Time.Format("15:04:05.000"), "PWR_EN") +
		fmt.Sprintf("%s %-30s rising\n", samples[2].Time.Format("15:04:05.000"), "PG")
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestTruncatedPlayback(t *testing.T) {
	var rec bytes.Buffer
	b, err := newBinaryLog(&rec, &Sample{Time: time.Unix(0, 0), Lines: map[uint32]bool{1: true, 2: true}})
	if err != nil {
		t.Fatal(err)
	}
	b.Close()
	rec.Truncate(rec.Len() - 2)
	p := &playback{&rec}
	if _, err := p.Snapshot(); err == nil {
		t.Errorf("truncated record accepted")
	}
}

func TestLiveSnapshot(t *testing.T) {
	plt := newTestPlatform()
	g, f := gpio.NewFakeGpioSystem(Passive{plt}, map[uint32]bool{2: false, 3: true})
	if err := (Passive{plt}).InitializeGpio(g); err != nil {
		t.Fatal(err)
	}
	clk := clock.NewFake()
	l := &live{g: g, clk: clk, names: map[uint32]string{1: "PWR_EN", 2: "PG", 3: "NOISE"}}
	s, err := l.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	want := map[uint32]bool{1: false, 2: true, 3: true}
	if diff := cmp.Diff(want, s.Lines); diff != "" {
		t.Errorf("levels mismatch (-want +got):\n%s", diff)
	}
	for _, op := range f.Journal() {
		if op.Write {
			t.Errorf("watcher drove %s", op.Line)
		}
	}
}
