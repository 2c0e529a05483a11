// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package grpc serves the diagnostic interface of the daemon.
package grpc

import (
	"context"
	"encoding/hex"
	"errors"
	"net"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/u-root/accel-bmc/config"
	"github.com/u-root/accel-bmc/pkg/errlog"
	"github.com/u-root/accel-bmc/pkg/event"
	"github.com/u-root/accel-bmc/pkg/logger"
	"github.com/u-root/accel-bmc/pkg/power"
	"github.com/u-root/accel-bmc/pkg/readiness"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type rpcPowerSystem interface {
	PowerOn(context.Context, uint8) error
	PowerOff(context.Context, uint8) error
	IsPowerOn() bool
	IsDevicePowered(uint8) bool
	IsSettled(uint8) bool
	Devices() []uint8
	DeviceName(uint8) string
}

type rpcReadiness interface {
	State(uint8) readiness.State
}

type rpcLogStore interface {
	Read(order int) (errlog.Entry, error)
	Clear() error
	NextPosition() int
	NextIndex() uint16
	Count() int
	Capacity() int
	Cached() []uint16
}

type rpcFaultMonitor interface {
	SetPollingEnabled(bool)
	PollingEnabled() bool
	ResetErrorLogStates(event.Cause) int
	FaultBitmap(offset uint8) (uint8, bool)
}

type diagServer struct {
	power   rpcPowerSystem
	ready   rpcReadiness
	store   rpcLogStore
	fault   rpcFaultMonitor
	version *config.Version
}

var (
	log = logger.LogContainer.GetSimpleLogger()
)

func deviceID(r *wrapperspb.UInt32Value) (uint8, error) {
	if r.GetValue() > 0xFF {
		return 0, status.Errorf(codes.InvalidArgument, "device %d out of range", r.GetValue())
	}
	return uint8(r.GetValue()), nil
}

func powerError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, power.ErrUnknownDevice):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, power.ErrStageFailed):
		return status.Error(codes.Aborted, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

func (m *diagServer) PowerOn(ctx context.Context, r *wrapperspb.UInt32Value) (*emptypb.Empty, error) {
	id, err := deviceID(r)
	if err != nil {
		return nil, err
	}
	log.Infof("Diagnostics: power on %s", m.power.DeviceName(id))
	if err := m.power.PowerOn(ctx, id); err != nil {
		return nil, powerError(err)
	}
	return &emptypb.Empty{}, nil
}

func (m *diagServer) PowerOff(ctx context.Context, r *wrapperspb.UInt32Value) (*emptypb.Empty, error) {
	id, err := deviceID(r)
	if err != nil {
		return nil, err
	}
	log.Infof("Diagnostics: power off %s", m.power.DeviceName(id))
	if err := m.power.PowerOff(ctx, id); err != nil {
		return nil, powerError(err)
	}
	return &emptypb.Empty{}, nil
}

func (m *diagServer) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	var devices []interface{}
	for _, id := range m.power.Devices() {
		st := m.ready.State(id)
		devices = append(devices, map[string]interface{}{
			"id":        int(id),
			"name":      m.power.DeviceName(id),
			"powered":   m.power.IsDevicePowered(id),
			"settled":   m.power.IsSettled(id),
			"ready":     st.Ready,
			"vr_access": st.VRAccess,
			"heartbeat": st.Heartbeat.String(),
		})
	}
	var cached []interface{}
	for _, c := range m.store.Cached() {
		cached = append(cached, event.UnpackErrorCode(c).String())
	}
	return structpb.NewStruct(map[string]interface{}{
		"dc_on":           m.power.IsPowerOn(),
		"polling":         m.fault.PollingEnabled(),
		"devices":         devices,
		"log_count":       m.store.Count(),
		"log_capacity":    m.store.Capacity(),
		"log_next":        m.store.NextPosition(),
		"log_next_index":  int(m.store.NextIndex()),
		"asserted_events": cached,
	})
}

func (m *diagServer) ReadLog(ctx context.Context, r *wrapperspb.UInt32Value) (*structpb.Struct, error) {
	if r.GetValue() >= uint32(m.store.Capacity()) {
		return nil, status.Errorf(codes.OutOfRange, "order %d beyond log capacity %d", r.GetValue(), m.store.Capacity())
	}
	e, err := m.store.Read(int(r.GetValue()))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if e.Index == 0 {
		return structpb.NewStruct(map[string]interface{}{"empty": true})
	}
	c := e.ErrorCode()
	return structpb.NewStruct(map[string]interface{}{
		"index":     int(e.Index),
		"code":      int(e.Code),
		"event":     c.String(),
		"uptime_ms": float64(e.Uptime),
		"status":    hex.EncodeToString(e.Status[:]),
		"dump":      hex.EncodeToString(e.Dump[:]),
	})
}

func (m *diagServer) ClearLog(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	if err := m.store.Clear(); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &emptypb.Empty{}, nil
}

func (m *diagServer) SetPolling(ctx context.Context, r *wrapperspb.BoolValue) (*emptypb.Empty, error) {
	m.fault.SetPollingEnabled(r.GetValue())
	return &emptypb.Empty{}, nil
}

func (m *diagServer) ResetErrorLogStates(ctx context.Context, r *wrapperspb.UInt32Value) (*wrapperspb.UInt32Value, error) {
	if _, err := event.NewErrorCode(event.Cause(r.GetValue()), 0, 0); err != nil || r.GetValue() > 7 {
		return nil, status.Errorf(codes.InvalidArgument, "invalid cause %d", r.GetValue())
	}
	n := m.fault.ResetErrorLogStates(event.Cause(r.GetValue()))
	return wrapperspb.UInt32(uint32(n)), nil
}

func (m *diagServer) GetFaultBitmap(ctx context.Context, r *wrapperspb.UInt32Value) (*wrapperspb.UInt32Value, error) {
	if r.GetValue() > 0xFF {
		return nil, status.Errorf(codes.InvalidArgument, "offset %#x out of range", r.GetValue())
	}
	b, ok := m.fault.FaultBitmap(uint8(r.GetValue()))
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no fault register at %#02x", r.GetValue())
	}
	return wrapperspb.UInt32(uint32(b)), nil
}

func (m *diagServer) GetVersion(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"version":  m.version.Version,
		"git_hash": m.version.GitHash,
	})
}

func (m *diagServer) newServer(l net.Listener) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.StreamInterceptor(grpc_prometheus.StreamServerInterceptor),
		grpc.UnaryInterceptor(grpc_prometheus.UnaryServerInterceptor),
	}
	g := grpc.NewServer(opts...)
	RegisterDiagnosticsServer(g, m)
	grpc_prometheus.Register(g)
	reflection.Register(g)
	go func() {
		err := g.Serve(l)
		if err != nil {
			log.Error(err)
		}
	}()
	return g
}

// StartGRPC serves the Diagnostics service on l until the returned server is
// stopped.
func StartGRPC(l net.Listener, p rpcPowerSystem, r rpcReadiness, s rpcLogStore, f rpcFaultMonitor, v *config.Version) *grpc.Server {
	m := &diagServer{power: p, ready: r, store: s, fault: f, version: v}
	return m.newServer(l)
}
