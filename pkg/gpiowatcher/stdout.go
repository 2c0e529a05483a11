// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpiowatcher

import (
	"fmt"
	"io"
)

type stdoutLog struct {
	w      io.Writer
	p      *Sample
	ignore map[uint32]bool
	plt    Platform
}

func portName(plt Platform, p uint32) string {
	if n, ok := plt.GpioPortToName(p); ok {
		return n
	}
	return fmt.Sprintf("GPIO%d", p)
}

func level(v bool) string {
	if v {
		return "high"
	}
	return "low"
}

func newStdoutLog(w io.Writer, p *Sample, ignoreLines []string, plt Platform) *stdoutLog {
	ports := plt.Ports()
	ignored := make(map[uint32]bool)
	for _, n := range ignoreLines {
		if port, ok := ports[n]; ok {
			ignored[port] = true
		}
	}
	l := &stdoutLog{w, p, ignored, plt}
	for _, port := range p.ports() {
		fmt.Fprintf(w, "%-30s %s\n", portName(plt, port), level(p.Lines[port]))
	}
	return l
}

func (l *stdoutLog) Log(s *Sample) error {
	for _, port := range s.ports() {
		v := s.Lines[port]
		old, seen := l.p.Lines[port]
		if l.ignore[port] || (seen && old == v) {
			continue
		}
		edge := "falling"
		if v {
			edge = "rising"
		}
		fmt.Fprintf(l.w, "%s %-30s %s\n", s.Time.Format("15:04:05.000"), portName(l.plt, port), edge)
	}
	l.p = s
	return nil
}

func (l *stdoutLog) Close() {
}
