// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// accelctl talks to the diagnostic service of a running accelbmcd.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/u-root/accel-bmc/pkg/logger"
	rpc "github.com/u-root/accel-bmc/pkg/service/grpc"
)

var (
	log = logger.LogContainer.GetSimpleLogger()

	addr    = flag.String("addr", "[::1]:9371", "Address of the accelbmcd diagnostic service")
	timeout = flag.Duration("timeout", 10*time.Second, "Deadline for the call")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: %s [flags] <command> [args]

Commands:
  status                    card power, readiness and log state
  version                   daemon version
  on <device>               power a device on
  off <device>              power a device off
  log <n>                   read the n-th newest error log record
  clear                     clear the error log
  polling <true|false>      enable or disable CPLD polling
  reset-states <cause>      deassert every cached code of cause
  bitmap <offset>           current fault bitmap of a CPLD register

Flags:
`, os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn := newConnection(ctx, *addr)
	defer conn.Close()

	if err := callRPC(ctx, rpc.NewDiagnosticsClient(conn), flag.Args()); err != nil {
		log.Fatalf("%s failed: %v", flag.Arg(0), err)
	}
}
