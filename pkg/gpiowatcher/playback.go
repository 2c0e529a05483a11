// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package gpiowatcher

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

type playback struct {
	r io.Reader
}

func (p *playback) Close() {
}

func (p *playback) Snapshot() (*Sample, error) {
	var unix int64
	var n uint32
	err := binary.Read(p.r, binary.LittleEndian, &unix)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read timestamp: %w", err)
	}
	if err := binary.Read(p.r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("read line count: %w", err)
	}
	lines := make([]binaryLine, n)
	if err := binary.Read(p.r, binary.LittleEndian, lines); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read lines: %w", err)
	}
	s := &Sample{Time: time.Unix(0, unix), Lines: make(map[uint32]bool, n)}
	for _, l := range lines {
		s.Lines[l.Port] = l.Value != 0
	}
	return s, nil
}
