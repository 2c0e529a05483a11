// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const serviceName = "accelbmc.Diagnostics"

// DiagnosticsServer is the service exposed to the diagnostic shell.
type DiagnosticsServer interface {
	PowerOn(context.Context, *wrapperspb.UInt32Value) (*emptypb.Empty, error)
	PowerOff(context.Context, *wrapperspb.UInt32Value) (*emptypb.Empty, error)
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ReadLog(context.Context, *wrapperspb.UInt32Value) (*structpb.Struct, error)
	ClearLog(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	SetPolling(context.Context, *wrapperspb.BoolValue) (*emptypb.Empty, error)
	ResetErrorLogStates(context.Context, *wrapperspb.UInt32Value) (*wrapperspb.UInt32Value, error)
	GetFaultBitmap(context.Context, *wrapperspb.UInt32Value) (*wrapperspb.UInt32Value, error)
	GetVersion(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

type unaryCall func(DiagnosticsServer, context.Context, proto.Message) (proto.Message, error)

func method(name string, newReq func() proto.Message, call unaryCall) grpc.MethodDesc {
	full := "/" + serviceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			h := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(DiagnosticsServer), ctx, req.(proto.Message))
			}
			if interceptor == nil {
				return h(ctx, in)
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: full}, h)
		},
	}
}

func newUInt32() proto.Message { return new(wrapperspb.UInt32Value) }
func newBool() proto.Message   { return new(wrapperspb.BoolValue) }
func newEmpty() proto.Message  { return new(emptypb.Empty) }

var diagnosticsServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DiagnosticsServer)(nil),
	Methods: []grpc.MethodDesc{
		method("PowerOn", newUInt32, func(s DiagnosticsServer, ctx context.Context, r proto.Message) (proto.Message, error) {
			return s.PowerOn(ctx, r.(*wrapperspb.UInt32Value))
		}),
		method("PowerOff", newUInt32, func(s DiagnosticsServer, ctx context.Context, r proto.Message) (proto.Message, error) {
			return s.PowerOff(ctx, r.(*wrapperspb.UInt32Value))
		}),
		method("GetStatus", newEmpty, func(s DiagnosticsServer, ctx context.Context, r proto.Message) (proto.Message, error) {
			return s.GetStatus(ctx, r.(*emptypb.Empty))
		}),
		method("ReadLog", newUInt32, func(s DiagnosticsServer, ctx context.Context, r proto.Message) (proto.Message, error) {
			return s.ReadLog(ctx, r.(*wrapperspb.UInt32Value))
		}),
		method("ClearLog", newEmpty, func(s DiagnosticsServer, ctx context.Context, r proto.Message) (proto.Message, error) {
			return s.ClearLog(ctx, r.(*emptypb.Empty))
		}),
		method("SetPolling", newBool, func(s DiagnosticsServer, ctx context.Context, r proto.Message) (proto.Message, error) {
			return s.SetPolling(ctx, r.(*wrapperspb.BoolValue))
		}),
		method("ResetErrorLogStates", newUInt32, func(s DiagnosticsServer, ctx context.Context, r proto.Message) (proto.Message, error) {
			return s.ResetErrorLogStates(ctx, r.(*wrapperspb.UInt32Value))
		}),
		method("GetFaultBitmap", newUInt32, func(s DiagnosticsServer, ctx context.Context, r proto.Message) (proto.Message, error) {
			return s.GetFaultBitmap(ctx, r.(*wrapperspb.UInt32Value))
		}),
		method("GetVersion", newEmpty, func(s DiagnosticsServer, ctx context.Context, r proto.Message) (proto.Message, error) {
			return s.GetVersion(ctx, r.(*emptypb.Empty))
		}),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "accelbmc/diagnostics.proto",
}

func RegisterDiagnosticsServer(s *grpc.Server, srv DiagnosticsServer) {
	s.RegisterService(&diagnosticsServiceDesc, srv)
}

// DiagnosticsClient calls the Diagnostics service over conn.
type DiagnosticsClient struct {
	conn grpc.ClientConnInterface
}

func NewDiagnosticsClient(conn grpc.ClientConnInterface) *DiagnosticsClient {
	return &DiagnosticsClient{conn}
}

func (c *DiagnosticsClient) invoke(ctx context.Context, name string, in, out proto.Message) error {
	return c.conn.Invoke(ctx, "/"+serviceName+"/"+name, in, out)
}

func (c *DiagnosticsClient) PowerOn(ctx context.Context, id uint32) error {
	return c.invoke(ctx, "PowerOn", wrapperspb.UInt32(id), &emptypb.Empty{})
}

func (c *DiagnosticsClient) PowerOff(ctx context.Context, id uint32) error {
	return c.invoke(ctx, "PowerOff", wrapperspb.UInt32(id), &emptypb.Empty{})
}

func (c *DiagnosticsClient) GetStatus(ctx context.Context) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "GetStatus", &emptypb.Empty{}, out)
}

func (c *DiagnosticsClient) ReadLog(ctx context.Context, order uint32) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "ReadLog", wrapperspb.UInt32(order), out)
}

func (c *DiagnosticsClient) ClearLog(ctx context.Context) error {
	return c.invoke(ctx, "ClearLog", &emptypb.Empty{}, &emptypb.Empty{})
}

func (c *DiagnosticsClient) SetPolling(ctx context.Context, enabled bool) error {
	return c.invoke(ctx, "SetPolling", wrapperspb.Bool(enabled), &emptypb.Empty{})
}

func (c *DiagnosticsClient) ResetErrorLogStates(ctx context.Context, cause uint32) (uint32, error) {
	out := new(wrapperspb.UInt32Value)
	err := c.invoke(ctx, "ResetErrorLogStates", wrapperspb.UInt32(cause), out)
	return out.GetValue(), err
}

func (c *DiagnosticsClient) GetFaultBitmap(ctx context.Context, offset uint32) (uint32, error) {
	out := new(wrapperspb.UInt32Value)
	err := c.invoke(ctx, "GetFaultBitmap", wrapperspb.UInt32(offset), out)
	return out.GetValue(), err
}

func (c *DiagnosticsClient) GetVersion(ctx context.Context) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.invoke(ctx, "GetVersion", &emptypb.Empty{}, out)
}
