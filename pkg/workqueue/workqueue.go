// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package workqueue implements a single-threaded delayed work queue. Items
// run one at a time in deadline order; items with the same deadline run in
// the order they were scheduled.
package workqueue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/jmhodges/clock"
	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/metric"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	executed = metric.CounterVec(metric.MetricOpts{
		Namespace: "accelbmc",
		Subsystem: "workqueue",
		Name:      "executed_total",
		Help:      "Work items run to completion",
	}, []string{"queue"})
	cancelled = metric.CounterVec(metric.MetricOpts{
		Namespace: "accelbmc",
		Subsystem: "workqueue",
		Name:      "cancelled_total",
		Help:      "Pending work items removed before they ran",
	}, []string{"queue"})
)

// Work is a reusable unit of delayed work. A Work is pending on at most one
// queue at a time.
type Work struct {
	Name string
	fn   func()

	deadline time.Time
	seq      uint64
	index    int
	q        *Queue
}

func NewWork(name string, fn func()) *Work {
	return &Work{Name: name, fn: fn, index: -1}
}

type Queue struct {
	name string
	clk  clock.Clock

	mu    sync.Mutex
	items workHeap
	seq   uint64
	wake  chan struct{}

	// exec serializes handler execution between Run and RunPending.
	exec sync.Mutex
}

func New(name string, clk clock.Clock) *Queue {
	return &Queue{
		name: name,
		clk:  clk,
		wake: make(chan struct{}, 1),
	}
}

func (q *Queue) Clock() clock.Clock {
	return q.clk
}

// Schedule queues w to run after delay. A pending w is rescheduled to the new
// deadline.
func (q *Queue) Schedule(w *Work, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	q.mu.Lock()
	if w.q != nil && w.q != q {
		w.q.Cancel(w)
	}
	q.seq++
	w.deadline = q.clk.Now().Add(delay)
	w.seq = q.seq
	w.q = q
	if w.index >= 0 {
		heap.Fix(&q.items, w.index)
	} else {
		heap.Push(&q.items, w)
	}
	q.mu.Unlock()
	q.kick()
}

// Submit queues w to run as soon as possible.
func (q *Queue) Submit(w *Work) {
	q.Schedule(w, 0)
}

// Cancel removes w if it is still pending. It reports whether w was removed.
// A handler that is already executing is not interrupted.
func (q *Queue) Cancel(w *Work) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if w.q != q || w.index < 0 {
		return false
	}
	heap.Remove(&q.items, w.index)
	w.q = nil
	cancelled.WithLabelValues(q.name).Inc()
	return true
}

func (q *Queue) Pending(w *Work) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return w.q == q && w.index >= 0
}

// Len returns the number of pending items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) popDue() *Work {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].deadline.After(q.clk.Now()) {
		return nil
	}
	w := heap.Pop(&q.items).(*Work)
	w.q = nil
	return w
}

// RunPending runs every item whose deadline has passed and returns how many
// ran. Items scheduled by a handler are run in the same call if they are
// already due.
func (q *Queue) RunPending() int {
	q.exec.Lock()
	defer q.exec.Unlock()
	n := 0
	for {
		w := q.popDue()
		if w == nil {
			return n
		}
		q.run(w)
		n++
	}
}

func (q *Queue) run(w *Work) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Work %s on queue %s panicked: %v", w.Name, q.name, r)
		}
	}()
	w.fn()
	executed.WithLabelValues(q.name).Inc()
}

// next returns how long until the earliest deadline, or false if the queue
// is empty.
func (q *Queue) next() (time.Duration, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0, false
	}
	return q.items[0].deadline.Sub(q.clk.Now()), true
}

func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Run executes items as they become due until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	log.Infof("Work queue %s started", q.name)
	t := time.NewTimer(time.Hour)
	defer t.Stop()
	for {
		q.RunPending()
		d, ok := q.next()
		if !ok {
			d = time.Hour
		}
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
		t.Reset(d)
		select {
		case <-ctx.Done():
			log.Infof("Work queue %s stopped", q.name)
			return ctx.Err()
		case <-q.wake:
		case <-t.C:
		}
	}
}

type workHeap []*Work

func (h workHeap) Len() int { return len(h) }

func (h workHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h workHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *workHeap) Push(x interface{}) {
	w := x.(*Work)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *workHeap) Pop() interface{} {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}
