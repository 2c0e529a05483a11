// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package web

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/u-root/accel-bmc/pkg/logger"
)

var log = logger.LogContainer.GetSimpleLogger()

const shutdownTimeout = 5 * time.Second

// WebServer is the struct that holds all necessary information
// for a single port on which web services are served on
type WebServer struct {
	Mux      *http.ServeMux
	Serv     *http.Server
	Listener net.Listener
}

// NewWebserver returns a pointer to a new WebServer struct and
// initialises it with a new http.ServeMux
func NewWebserver() *WebServer {
	return &WebServer{
		Mux: http.NewServeMux(),
	}
}

// SetServer starts listening on addr. An addr with port 0 picks a free port.
func (w *WebServer) SetServer(addr string) error {
	w.Serv = &http.Server{
		Addr:    addr,
		Handler: w.Mux,
	}
	var err error
	w.Listener, err = net.Listen("tcp", addr)
	return err
}

// Serve serves the mux until ctx is done, then shuts the server down.
func (w *WebServer) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		errc <- w.Serv.Serve(w.Listener)
	}()
	log.Infof("Serving HTTP on %v", w.Listener.Addr())
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := w.Serv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return ctx.Err()
}
