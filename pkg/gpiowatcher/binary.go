// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpiowatcher

import (
	"encoding/binary"
	"io"
)

// A binary log record is a little endian int64 Unix time in nanoseconds,
// a uint32 line count and that many (uint32 port, uint8 level) pairs.
type binaryLog struct {
	w io.Writer
}

func newBinaryLog(w io.Writer, p *Sample) (*binaryLog, error) {
	l := &binaryLog{w}
	return l, l.Log(p)
}

type binaryLine struct {
	Port  uint32
	Value uint8
}

func (l *binaryLog) Log(s *Sample) error {
	if err := binary.Write(l.w, binary.LittleEndian, s.Time.UnixNano()); err != nil {
		return err
	}
	if err := binary.Write(l.w, binary.LittleEndian, uint32(len(s.Lines))); err != nil {
		return err
	}
	for _, p := range s.ports() {
		var v uint8
		if s.Lines[p] {
			v = 1
		}
		if err := binary.Write(l.w, binary.LittleEndian, binaryLine{p, v}); err != nil {
			return err
		}
	}
	return nil
}

func (l *binaryLog) Close() {
	if c, ok := l.w.(io.Closer); ok {
		c.Close()
	}
}
