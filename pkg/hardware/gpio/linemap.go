// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpio

// LineMap is a table-driven GpioPlatform. Boards embed it and provide their
// own InitializeGpio.
type LineMap struct {
	linePort map[string]uint32
	portLine map[uint32]string
	flags    map[string]int
}

func NewLineMap(lines map[string]uint32, flags map[string]int) *LineMap {
	m := &LineMap{
		linePort: lines,
		portLine: make(map[uint32]string, len(lines)),
		flags:    flags,
	}
	for k, v := range lines {
		m.portLine[v] = k
	}
	return m
}

func (m *LineMap) GpioNameToPort(l string) (uint32, bool) {
	s, ok := m.linePort[l]
	return s, ok
}

func (m *LineMap) GpioPortToName(i uint32) (string, bool) {
	s, ok := m.portLine[i]
	return s, ok
}

func (m *LineMap) GpioFlags(l string) int {
	return m.flags[l]
}

// Ports returns the port of every line, for seeding fakes.
func (m *LineMap) Ports() map[string]uint32 {
	out := make(map[string]uint32, len(m.linePort))
	for k, v := range m.linePort {
		out[k] = v
	}
	return out
}
