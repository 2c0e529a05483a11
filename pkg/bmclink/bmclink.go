// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package bmclink forwards error log records to the host BMC.
package bmclink

import (
	"context"
	"fmt"

	"github.com/jmhodges/clock"
	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/errlog"
	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/metric"
	"github.com/u-root/accel-bmc/pkg/retry"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	forwarded = metric.CounterVec(metric.MetricOpts{
		Namespace: "accelbmc",
		Subsystem: "bmclink",
		Name:      "events_total",
		Help:      "Records handed to the BMC link by result",
	}, []string{"result"})
)

// EventSender delivers one record to the BMC.
type EventSender interface {
	SendEventLog(ctx context.Context, ev errlog.Event) error
}

// Async queues records and sends them from Run. A full queue drops the
// record rather than block the caller.
type Async struct {
	sender EventSender
	policy *retry.Policy
	ch     chan errlog.Event
}

func NewAsync(cfg config.BMCLink, sender EventSender, clk clock.Clock) *Async {
	depth := cfg.QueueDepth
	if depth < 1 {
		depth = 1
	}
	return &Async{
		sender: sender,
		policy: retry.Exponential(clk, cfg.Attempts, cfg.MinBackoff, cfg.MaxBackoff),
		ch:     make(chan errlog.Event, depth),
	}
}

func (a *Async) Forward(ev errlog.Event) {
	select {
	case a.ch <- ev:
	default:
		log.Warnf("BMC link queue full, dropping record %d (code %#04x)", ev.Index, ev.Code)
		forwarded.WithLabelValues("dropped").Inc()
	}
}

func (a *Async) send(ctx context.Context, ev errlog.Event) {
	err := a.policy.Do(ctx, func(attempt int) error {
		err := a.sender.SendEventLog(ctx, ev)
		if err != nil {
			log.Debugf("Sending record %d to BMC failed (attempt %d): %v", ev.Index, attempt+1, err)
		}
		return err
	})
	if err != nil {
		log.Errorf("Could not send record %d (code %#04x) to BMC: %v", ev.Index, ev.Code, err)
		forwarded.WithLabelValues("failed").Inc()
		return
	}
	forwarded.WithLabelValues("sent").Inc()
}

// Run sends queued records until ctx is done.
func (a *Async) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-a.ch:
			a.send(ctx, ev)
		}
	}
}

// Discard is an EventSender for boards without a BMC link.
type Discard struct{}

func (Discard) SendEventLog(ctx context.Context, ev errlog.Event) error {
	log.Debugf("No BMC link, record %d not sent", ev.Index)
	return nil
}

func eventFields(ev errlog.Event) map[string]interface{} {
	c := ev.ErrorCode()
	return map[string]interface{}{
		"index":     int(ev.Index),
		"code":      int(ev.Code),
		"cause":     c.Cause.String(),
		"bit":       int(c.Bit),
		"offset":    int(c.Offset),
		"assert":    ev.Assert,
		"uptime_ms": float64(ev.Uptime),
		"status":    fmt.Sprintf("%x", ev.Status[:]),
		"dump":      fmt.Sprintf("%x", ev.Dump[:]),
	}
}
