// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package event

import (
	"fmt"
)

// Cause is the trigger class stored in the top three bits of an error code.
type Cause uint8

const (
	CauseCPLDUnexpectedValue Cause = 1
	CauseHeartbeat           Cause = 2
	CausePowerSequence       Cause = 3

	maxCause   = 0x7
	maxBit     = 0x1F
	causeShift = 13
	bitShift   = 8
)

func (c Cause) String() string {
	switch c {
	case CauseCPLDUnexpectedValue:
		return "cpld"
	case CauseHeartbeat:
		return "heartbeat"
	case CausePowerSequence:
		return "power_sequence"
	}
	return fmt.Sprintf("cause_%d", uint8(c))
}

// ErrorCode identifies one fault source. It packs into 16 bits as
// cause[15:13] bit[12:8] offset[7:0].
type ErrorCode struct {
	Cause  Cause
	Bit    uint8
	Offset uint8
}

// NewErrorCode returns an ErrorCode, refusing fields that do not fit the
// packed layout.
func NewErrorCode(cause Cause, bit, offset uint8) (ErrorCode, error) {
	if cause == 0 || cause > maxCause {
		return ErrorCode{}, fmt.Errorf("cause %d does not fit in 3 bits", cause)
	}
	if bit > maxBit {
		return ErrorCode{}, fmt.Errorf("bit %d does not fit in 5 bits", bit)
	}
	return ErrorCode{Cause: cause, Bit: bit, Offset: offset}, nil
}

func (c ErrorCode) Pack() uint16 {
	return uint16(c.Cause&maxCause)<<causeShift | uint16(c.Bit&maxBit)<<bitShift | uint16(c.Offset)
}

func UnpackErrorCode(v uint16) ErrorCode {
	return ErrorCode{
		Cause:  Cause(v >> causeShift),
		Bit:    uint8(v>>bitShift) & maxBit,
		Offset: uint8(v),
	}
}

func (c ErrorCode) String() string {
	return fmt.Sprintf("%#04x (%v bit %d offset %#02x)", c.Pack(), c.Cause, c.Bit, c.Offset)
}
