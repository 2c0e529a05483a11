// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package errlog

import (
	"context"
	"errors"

	"github.com/u-root/accel-bmc/pkg/event"
	"github.com/u-root/accel-bmc/pkg/hardware/i2c"
)

// PMBus STATUS_WORD command code.
const PMBusStatusWord = 0x79

var ErrNoAuxData = errors.New("no auxiliary data for code")

// AuxSource provides the status snapshot stored with a record.
type AuxSource interface {
	AuxData(ctx context.Context, code event.ErrorCode) ([StatusSize]byte, error)
}

// Locker serializes access to the VR segment, which is shared with the
// accelerators through the mux.
type Locker interface {
	WithLock(ctx context.Context, fn func() error) error
}

type VR struct {
	Name string
	Bus  uint8
	Addr uint8
}

// VRStatus reads the STATUS_WORD of the regulator behind a CPLD fault bit.
type VRStatus struct {
	IO   i2c.RegisterIO
	Lock Locker
	// Regulators indexed by CPLD register offset and bit.
	Table map[uint8][8]*VR
}

func (v *VRStatus) lookup(code event.ErrorCode) *VR {
	if code.Cause != event.CauseCPLDUnexpectedValue || code.Bit > 7 {
		return nil
	}
	bits, ok := v.Table[code.Offset]
	if !ok {
		return nil
	}
	return bits[code.Bit]
}

func (v *VRStatus) AuxData(ctx context.Context, code event.ErrorCode) ([StatusSize]byte, error) {
	var out [StatusSize]byte
	vr := v.lookup(code)
	if vr == nil {
		return out, ErrNoAuxData
	}
	dev := &i2c.Device{IO: v.IO, Bus: vr.Bus, Addr: vr.Addr}
	read := func() error {
		w, err := dev.ReadWord(PMBusStatusWord)
		if err != nil {
			return err
		}
		out[0], out[1] = uint8(w), uint8(w>>8)
		return nil
	}
	var err error
	if v.Lock != nil {
		err = v.Lock.WithLock(ctx, read)
	} else {
		err = read()
	}
	if err != nil {
		log.Errorf("Reading STATUS_WORD of %s (%s) failed: %v", vr.Name, dev, err)
		return [StatusSize]byte{}, err
	}
	log.Debugf("%s STATUS_WORD %#02x%02x", vr.Name, out[1], out[0])
	return out, nil
}
