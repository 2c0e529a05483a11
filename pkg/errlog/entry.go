// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package errlog

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/u-root/accel-bmc/pkg/event"
)

const (
	StatusSize = 4
	// The register dump covers CPLD offsets 0x00 through 0x3C.
	DumpStart = 0x00
	DumpSize  = 0x3C - DumpStart + 1
	EntrySize = 2 + 2 + 8 + StatusSize + DumpSize

	ErasedIndex = 0xFFFF
)

// Entry is one persisted log record. It is stored little endian in exactly
// EntrySize bytes.
type Entry struct {
	Index  uint16
	Code   uint16
	Uptime uint64
	Status [StatusSize]byte
	Dump   [DumpSize]byte
}

func (e *Entry) MarshalBinary() ([]byte, error) {
	var b bytes.Buffer
	b.Grow(EntrySize)
	if err := binary.Write(&b, binary.LittleEndian, e); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func (e *Entry) UnmarshalBinary(b []byte) error {
	if len(b) != EntrySize {
		return fmt.Errorf("log entry is %d bytes, want %d", len(b), EntrySize)
	}
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, e)
}

// Valid reports whether e holds a record written with the given index
// modulus. Erased slots read back with ErasedIndex.
func (e *Entry) Valid(mod uint16) bool {
	return e.Index != ErasedIndex && e.Index != 0 && e.Index <= mod
}

func (e *Entry) ErrorCode() event.ErrorCode {
	return event.UnpackErrorCode(e.Code)
}
