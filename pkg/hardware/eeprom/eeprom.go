// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package eeprom gives offset-addressed access to a persistent EEPROM, as
// exposed by the at24 driver's sysfs node.
package eeprom

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
)

// Erased is the value of a byte that was never written.
const Erased = 0xFF

// Store is durable storage addressed by offset. Callers are responsible for
// honoring the device's write cycle time between writes.
type Store interface {
	ReadAt(p []byte, off int64) error
	WriteAt(p []byte, off int64) error
	Size() int64
}

type File struct {
	fs   afero.Fs
	path string
	size int64
}

// Open returns the EEPROM backed by path. If path does not exist it is
// created as an erased image of size bytes.
func Open(fs afero.Fs, path string, size int64) (*File, error) {
	ok, err := afero.Exists(fs, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		if err := afero.WriteFile(fs, path, bytes.Repeat([]byte{Erased}, int(size)), 0600); err != nil {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
	}
	return &File{fs: fs, path: path, size: size}, nil
}

func (e *File) Size() int64 {
	return e.size
}

func (e *File) check(n int, off int64) error {
	if off < 0 || off+int64(n) > e.size {
		return fmt.Errorf("eeprom %s: access of %d bytes at %#x out of range", e.path, n, off)
	}
	return nil
}

// ReadAt fills p from off. Bytes beyond the end of a short backing file read
// as erased.
func (e *File) ReadAt(p []byte, off int64) error {
	if err := e.check(len(p), off); err != nil {
		return err
	}
	f, err := e.fs.Open(e.path)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := f.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return fmt.Errorf("eeprom %s: read at %#x: %w", e.path, off, err)
	}
	for i := n; i < len(p); i++ {
		p[i] = Erased
	}
	return nil
}

func (e *File) WriteAt(p []byte, off int64) error {
	if err := e.check(len(p), off); err != nil {
		return err
	}
	f, err := e.fs.OpenFile(e.path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(p, off); err != nil {
		f.Close()
		return fmt.Errorf("eeprom %s: write at %#x: %w", e.path, off, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
