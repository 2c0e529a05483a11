// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package i2c

import (
	"errors"
	"sync"
)

var ErrFakeNack = errors.New("fake i2c: no ack")

type fakeKey struct {
	bus, addr, offset uint8
}

type fakeDev struct {
	bus, addr uint8
}

// FakeBus is an in-memory register map used by tests. Unset registers read
// as zero.
type FakeBus struct {
	m      sync.Mutex
	regs   map[fakeKey]byte
	fail   map[fakeDev]int
	down   map[fakeDev]bool
	reads  int
	writes []FakeWrite
}

type FakeWrite struct {
	Bus, Addr, Offset uint8
	Data              []byte
}

func NewFakeBus() *FakeBus {
	return &FakeBus{
		regs: map[fakeKey]byte{},
		fail: map[fakeDev]int{},
		down: map[fakeDev]bool{},
	}
}

func (f *FakeBus) Set(bus, addr, offset, v uint8) {
	f.m.Lock()
	defer f.m.Unlock()
	f.regs[fakeKey{bus, addr, offset}] = v
}

func (f *FakeBus) Get(bus, addr, offset uint8) uint8 {
	f.m.Lock()
	defer f.m.Unlock()
	return f.regs[fakeKey{bus, addr, offset}]
}

// FailNext makes the next n transfers to bus/addr fail.
func (f *FakeBus) FailNext(bus, addr uint8, n int) {
	f.m.Lock()
	defer f.m.Unlock()
	f.fail[fakeDev{bus, addr}] = n
}

// SetDown makes every transfer to bus/addr fail until cleared.
func (f *FakeBus) SetDown(bus, addr uint8, down bool) {
	f.m.Lock()
	defer f.m.Unlock()
	f.down[fakeDev{bus, addr}] = down
}

func (f *FakeBus) Reads() int {
	f.m.Lock()
	defer f.m.Unlock()
	return f.reads
}

func (f *FakeBus) Writes() []FakeWrite {
	f.m.Lock()
	defer f.m.Unlock()
	return append([]FakeWrite(nil), f.writes...)
}

func (f *FakeBus) failing(bus, addr uint8) bool {
	d := fakeDev{bus, addr}
	if f.down[d] {
		return true
	}
	if f.fail[d] > 0 {
		f.fail[d]--
		return true
	}
	return false
}

func (f *FakeBus) ReadRegister(bus, addr, offset uint8, n int) ([]byte, error) {
	f.m.Lock()
	defer f.m.Unlock()
	f.reads++
	if f.failing(bus, addr) {
		return nil, ErrFakeNack
	}
	out := make([]byte, n)
	for i := range out {
		out[i] = f.regs[fakeKey{bus, addr, offset + uint8(i)}]
	}
	return out, nil
}

func (f *FakeBus) WriteRegister(bus, addr, offset uint8, data []byte) error {
	f.m.Lock()
	defer f.m.Unlock()
	if f.failing(bus, addr) {
		return ErrFakeNack
	}
	for i, v := range data {
		f.regs[fakeKey{bus, addr, offset + uint8(i)}] = v
	}
	f.writes = append(f.writes, FakeWrite{bus, addr, offset, append([]byte(nil), data...)})
	return nil
}
