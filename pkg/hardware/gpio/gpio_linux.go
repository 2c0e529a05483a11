// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpio

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

type gpioHandleRequest struct {
	lineOffsets   [64]uint32
	flags         uint32
	defaultValues [64]uint8
	consumerLabel [32]byte
	lines         uint32
	fd            int32
}

type gpioHandleData struct {
	values [64]uint8
}

type gpioEventRequest struct {
	lineOffset    uint32
	handleFlags   uint32
	eventFlags    uint32
	consumerLabel [32]byte
	fd            int32
}

type gpioEventData struct {
	Timestamp uint64
	Id        uint32
	// Linux wants this structure to be aligned with 16 bytes
	_ uint32
}

const (
	GPIO_GET_LINEHANDLE_IOCTL        = 0xc16cb403
	GPIO_GET_LINEEVENT_IOCTL         = 0xc030b404
	GPIOHANDLE_GET_LINE_VALUES_IOCTL = 0xc040b408
	GPIOHANDLE_SET_LINE_VALUES_IOCTL = 0xc040b409

	GPIOHANDLE_REQUEST_INPUT  = (1 << 0)
	GPIOHANDLE_REQUEST_OUTPUT = (1 << 1)

	GPIOEVENT_REQUEST_RISING_EDGE  = (1 << 0)
	GPIOEVENT_REQUEST_FALLING_EDGE = (1 << 1)
	GPIOEVENT_REQUEST_BOTH_EDGES   = GPIOEVENT_REQUEST_RISING_EDGE | GPIOEVENT_REQUEST_FALLING_EDGE

	GPIOEVENT_EVENT_RISING_EDGE  = 1
	GPIOEVENT_EVENT_FALLING_EDGE = 2

	consumer = "accel-bmc"
)

type gpioLnx struct {
	f *os.File
}

type gpioLnxLine struct {
	f *os.File
}

type gpioLnxEvent struct {
	f *os.File
}

func ioctl(f *os.File, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (g *gpioLnx) requestLineHandle(lines []uint32, out []bool) (gpioLineImpl, error) {
	r := gpioHandleRequest{}
	for i, l := range lines {
		r.lineOffsets[i] = l
	}
	r.lines = uint32(len(lines))
	for i, l := range out {
		if l {
			r.defaultValues[i] = 1
		}
	}
	r.flags = GPIOHANDLE_REQUEST_INPUT
	copy(r.consumerLabel[:], consumer)
	if len(out) > 0 {
		r.flags = GPIOHANDLE_REQUEST_OUTPUT
	}
	if err := ioctl(g.f, GPIO_GET_LINEHANDLE_IOCTL, unsafe.Pointer(&r)); err != nil {
		return nil, fmt.Errorf("GPIO_GET_LINEHANDLE_IOCTL: %w", err)
	}
	return &gpioLnxLine{os.NewFile(uintptr(r.fd), "gpio")}, nil
}

func getLineValues(f *os.File) ([]bool, error) {
	d := gpioHandleData{}
	if err := ioctl(f, GPIOHANDLE_GET_LINE_VALUES_IOCTL, unsafe.Pointer(&d)); err != nil {
		return nil, fmt.Errorf("GPIOHANDLE_GET_LINE_VALUES_IOCTL: %w", err)
	}
	b := make([]bool, len(d.values))
	for i, v := range d.values {
		b[i] = v != 0
	}
	return b, nil
}

func (l *gpioLnxLine) setValues(out []bool) error {
	d := gpioHandleData{}
	for i, v := range out {
		if v {
			d.values[i] = 1
		}
	}
	if err := ioctl(l.f, GPIOHANDLE_SET_LINE_VALUES_IOCTL, unsafe.Pointer(&d)); err != nil {
		return fmt.Errorf("GPIOHANDLE_SET_LINE_VALUES_IOCTL: %w", err)
	}
	return nil
}

func (l *gpioLnxLine) getValues() ([]bool, error) {
	return getLineValues(l.f)
}

func (l *gpioLnxLine) close() error {
	return l.f.Close()
}

func (g *gpioLnx) getLineEvent(line uint32) (gpioEventImpl, error) {
	r := gpioEventRequest{}
	r.lineOffset = line
	r.handleFlags = GPIOHANDLE_REQUEST_INPUT
	r.eventFlags = GPIOEVENT_REQUEST_BOTH_EDGES
	copy(r.consumerLabel[:], consumer)
	if err := ioctl(g.f, GPIO_GET_LINEEVENT_IOCTL, unsafe.Pointer(&r)); err != nil {
		return nil, fmt.Errorf("GPIO_GET_LINEEVENT_IOCTL: %w", err)
	}
	return &gpioLnxEvent{os.NewFile(uintptr(r.fd), "gpio-line-event")}, nil
}

func (l *gpioLnxEvent) getValue() (bool, error) {
	b, err := getLineValues(l.f)
	if err != nil {
		return false, err
	}
	return b[0], nil
}

func (l *gpioLnxEvent) read() (*int, error) {
	e := gpioEventData{}
	err := binary.Read(l.f, binary.LittleEndian, &e)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("readEvent: %v", err)
	}

	v := GPIO_EVENT_UNKNOWN
	switch e.Id {
	case GPIOEVENT_EVENT_FALLING_EDGE:
		v = GPIO_EVENT_FALLING_EDGE
	case GPIOEVENT_EVENT_RISING_EDGE:
		v = GPIO_EVENT_RISING_EDGE
	default:
		return &v, fmt.Errorf("unknown event: %v", e)
	}
	return &v, nil
}

// StartGpio opens the GPIO character device and lets the platform claim its
// initial line states.
func StartGpio(chip string, p GpioPlatform) (*GpioSystem, error) {
	f, err := os.OpenFile(chip, os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}

	g := NewGpioSystem(p, &gpioLnx{f})

	err = p.InitializeGpio(g)
	if err != nil {
		return nil, fmt.Errorf("platform.InitializeGpio: %v", err)
	}
	return g, nil
}
