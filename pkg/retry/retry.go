// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package retry runs an operation a bounded number of times with a delay
// between attempts. Delays are taken from a clock.Clock so tests can run
// without wall-clock sleeps.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmhodges/clock"
	"github.com/jpillora/backoff"
)

var ErrConditionNotMet = errors.New("condition not met")

type Policy struct {
	Attempts int
	Min      time.Duration
	Max      time.Duration
	Factor   float64
	Jitter   bool
	Clock    clock.Clock
}

// Fixed returns a policy that waits the same delay between every attempt.
func Fixed(clk clock.Clock, attempts int, delay time.Duration) *Policy {
	return &Policy{
		Attempts: attempts,
		Min:      delay,
		Max:      delay,
		Factor:   1,
		Clock:    clk,
	}
}

// Exponential returns a policy whose delay grows from min to max.
func Exponential(clk clock.Clock, attempts int, min, max time.Duration) *Policy {
	return &Policy{
		Attempts: attempts,
		Min:      min,
		Max:      max,
		Factor:   2,
		Jitter:   true,
		Clock:    clk,
	}
}

func (p *Policy) clock() clock.Clock {
	if p.Clock == nil {
		return clock.New()
	}
	return p.Clock
}

func (p *Policy) delays() func() time.Duration {
	if p.Max <= 0 {
		return func() time.Duration { return 0 }
	}
	b := &backoff.Backoff{
		Min:    p.Min,
		Max:    p.Max,
		Factor: p.Factor,
		Jitter: p.Jitter,
	}
	return b.Duration
}

// Do calls fn until it returns nil, the attempts are used up or ctx is done.
// The error of the final attempt is wrapped in the returned error.
func (p *Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	clk := p.clock()
	next := p.delays()
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(i); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("%w (last error: %v)", cerr, err)
		}
		if d := next(); d > 0 {
			clk.Sleep(d)
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}

// Until polls cond until it reports true. It returns the number of polls it
// took, or ErrConditionNotMet when every attempt failed.
func (p *Policy) Until(ctx context.Context, cond func() bool) (int, error) {
	n := 0
	err := p.Do(ctx, func(attempt int) error {
		n = attempt + 1
		if cond() {
			return nil
		}
		return ErrConditionNotMet
	})
	return n, err
}
