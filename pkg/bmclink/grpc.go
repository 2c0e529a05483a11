// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bmclink

import (
	"context"
	"fmt"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/u-root/accel-bmc/pkg/errlog"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const sendEventLogMethod = "/bmc.EventLog/SendEventLog"

// EventLogServer is the BMC side of the link.
type EventLogServer interface {
	SendEventLog(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

func sendEventLogHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(EventLogServer).SendEventLog(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: sendEventLogMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(EventLogServer).SendEventLog(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var eventLogServiceDesc = grpc.ServiceDesc{
	ServiceName: "bmc.EventLog",
	HandlerType: (*EventLogServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "SendEventLog",
			Handler:    sendEventLogHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bmc/eventlog.proto",
}

func RegisterEventLogServer(s *grpc.Server, srv EventLogServer) {
	s.RegisterService(&eventLogServiceDesc, srv)
}

// GRPCSender sends records to the BMC's EventLog service.
type GRPCSender struct {
	conn *grpc.ClientConn
}

func Dial(ctx context.Context, addr string) (*GRPCSender, error) {
	c, err := grpc.DialContext(ctx, addr,
		grpc.WithInsecure(),
		grpc.WithUnaryInterceptor(grpc_prometheus.UnaryClientInterceptor),
	)
	if err != nil {
		return nil, fmt.Errorf("dial BMC at %s: %w", addr, err)
	}
	return &GRPCSender{conn: c}, nil
}

func (s *GRPCSender) SendEventLog(ctx context.Context, ev errlog.Event) error {
	req, err := structpb.NewStruct(eventFields(ev))
	if err != nil {
		return err
	}
	return s.conn.Invoke(ctx, sendEventLogMethod, req, &emptypb.Empty{})
}

func (s *GRPCSender) Close() error {
	return s.conn.Close()
}
