// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/golang/protobuf/proto"
	rpc "github.com/u-root/accel-bmc/pkg/service/grpc"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func newConnection(ctx context.Context, addr string) *grpc.ClientConn {
	opts := []grpc.DialOption{
		grpc.WithBlock(),
		grpc.WithInsecure(),
	}
	conn, err := grpc.DialContext(ctx, addr, opts...)
	if err != nil {
		log.Fatalf("Could not open connection: %v", err)
	}
	return conn
}

func uintArg(args []string, name string, bits int) (uint32, error) {
	if len(args) < 2 {
		return 0, fmt.Errorf("missing %s", name)
	}
	v, err := strconv.ParseUint(args[1], 0, bits)
	if err != nil {
		return 0, fmt.Errorf("bad %s %q: %w", name, args[1], err)
	}
	return uint32(v), nil
}

func printMessage(m proto.Message) {
	fmt.Print(proto.MarshalTextString(m))
}

func callRPC(ctx context.Context, c *rpc.DiagnosticsClient, args []string) error {
	switch args[0] {
	case "status":
		s, err := c.GetStatus(ctx)
		if err != nil {
			return err
		}
		printMessage(s)
	case "version":
		s, err := c.GetVersion(ctx)
		if err != nil {
			return err
		}
		printMessage(s)
	case "on", "off":
		id, err := uintArg(args, "device", 8)
		if err != nil {
			return err
		}
		if args[0] == "on" {
			return c.PowerOn(ctx, id)
		}
		return c.PowerOff(ctx, id)
	case "log":
		n, err := uintArg(args, "record", 16)
		if err != nil {
			return err
		}
		s, err := c.ReadLog(ctx, n)
		if err != nil {
			return err
		}
		printMessage(s)
	case "clear":
		return c.ClearLog(ctx)
	case "polling":
		if len(args) < 2 {
			return fmt.Errorf("missing true|false")
		}
		v, err := strconv.ParseBool(args[1])
		if err != nil {
			return err
		}
		return c.SetPolling(ctx, v)
	case "reset-states":
		cause, err := uintArg(args, "cause", 8)
		if err != nil {
			return err
		}
		n, err := c.ResetErrorLogStates(ctx, cause)
		if err != nil {
			return err
		}
		printMessage(wrapperspb.UInt32(n))
	case "bitmap":
		off, err := uintArg(args, "offset", 8)
		if err != nil {
			return err
		}
		v, err := c.GetFaultBitmap(ctx, off)
		if err != nil {
			return err
		}
		printMessage(wrapperspb.UInt32(v))
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}
