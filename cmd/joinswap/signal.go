// Copyright (c) 2013-2016 The btcsuite developers
// Copyright (c) 2018-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// shutdownSignaled is closed whenever shutdown is invoked through an
// interrupt signal.  Any contexts created using withShutdownCancel are
// cancelled when this is closed.
var shutdownSignaled = make(chan struct{})

// interruptSignals defines the signals that trigger a shutdown.
var interruptSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// withShutdownCancel creates a copy of a context that is cancelled whenever
// shutdown is invoked through an interrupt signal.
func withShutdownCancel(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		<-shutdownSignaled
		cancel()
	}()
	return ctx
}

// shutdownListener listens for shutdown requests and cancels all contexts
// created from withShutdownCancel.  This function never returns and is
// intended to be spawned in a new goroutine.
func shutdownListener() {
	interruptChannel := make(chan os.Signal, 1)
	signal.Notify(interruptChannel, interruptSignals...)

	// Listen for the initial shutdown signal.
	sig := <-interruptChannel
	log.Infof("Received signal (%s).  Shutting down...", sig)
	close(shutdownSignaled)

	// Listen for any more shutdown signals and log that shutdown has
	// already been signaled.
	for sig := range interruptChannel {
		log.Infof("Received signal (%s).  Already shutting down...", sig)
	}
}
