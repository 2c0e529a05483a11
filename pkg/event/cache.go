// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package event

import (
	"errors"
	"sync"
)

var ErrCacheFull = errors.New("event cache full")

// Cache remembers which error codes are currently asserted. It suppresses
// repeated asserts and matches deasserts to an earlier assert.
type Cache struct {
	mu    sync.Mutex
	slots []uint16
}

const freeSlot = 0

func NewCache(size int) *Cache {
	return &Cache{slots: make([]uint16, size)}
}

// Apply updates the cache for one event and reports whether the event is new
// information that should be logged. An assert with no free slot returns
// ErrCacheFull.
func (c *Cache) Apply(code uint16, assert bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	free := -1
	for i, v := range c.slots {
		if v == code {
			if assert {
				return false, nil
			}
			c.slots[i] = freeSlot
			return true, nil
		}
		if v == freeSlot && free < 0 {
			free = i
		}
	}
	if !assert {
		return false, nil
	}
	if free < 0 {
		return false, ErrCacheFull
	}
	c.slots[free] = code
	return true, nil
}

func (c *Cache) Contains(code uint16) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.slots {
		if v == code {
			return true
		}
	}
	return false
}

// Codes returns the asserted codes in slot order.
func (c *Cache) Codes() []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []uint16
	for _, v := range c.slots {
		if v != freeSlot {
			out = append(out, v)
		}
	}
	return out
}

// CodesOf returns the asserted codes with the given cause.
func (c *Cache) CodesOf(cause Cause) []uint16 {
	var out []uint16
	for _, v := range c.Codes() {
		if UnpackErrorCode(v).Cause == cause {
			out = append(out, v)
		}
	}
	return out
}

func (c *Cache) Len() int {
	return len(c.Codes())
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.slots {
		c.slots[i] = freeSlot
	}
}
