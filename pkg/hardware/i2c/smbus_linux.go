// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package i2c

import (
	"fmt"
	"sync"

	smbus "github.com/platinasystems/i2c"
)

// busLock serializes transfers from this process across all adapters.
var busLock sync.Mutex

// SMBus talks to /dev/i2c-N through SMBus byte and word transfers.
type SMBus struct{}

func (SMBus) do(bus, addr uint8, f func(b *smbus.Bus) error) error {
	busLock.Lock()
	defer busLock.Unlock()
	return smbus.Do(int(bus), int(addr), f)
}

func (s SMBus) ReadRegister(bus, addr, offset uint8, n int) ([]byte, error) {
	if n < 1 || int(offset)+n > 0x100 {
		return nil, fmt.Errorf("invalid read of %d bytes at %#02x", n, offset)
	}
	out := make([]byte, n)
	err := s.do(bus, addr, func(b *smbus.Bus) error {
		var d smbus.SMBusData
		if n == 2 {
			if err := b.Do(smbus.Read, offset, smbus.WordData, &d); err != nil {
				return err
			}
			out[0], out[1] = d[0], d[1]
			return nil
		}
		for i := 0; i < n; i++ {
			if err := b.Do(smbus.Read, offset+uint8(i), smbus.ByteData, &d); err != nil {
				return err
			}
			out[i] = d[0]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s SMBus) WriteRegister(bus, addr, offset uint8, data []byte) error {
	if int(offset)+len(data) > 0x100 {
		return fmt.Errorf("invalid write of %d bytes at %#02x", len(data), offset)
	}
	return s.do(bus, addr, func(b *smbus.Bus) error {
		var d smbus.SMBusData
		for i, v := range data {
			d[0] = v
			if err := b.Do(smbus.Write, offset+uint8(i), smbus.ByteData, &d); err != nil {
				return err
			}
		}
		return nil
	})
}
