// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"os"

	"github.com/decred/joinswap/peer"
	"github.com/decred/joinswap/swaptx"
	"github.com/decred/joinswap/user"
	"github.com/decred/joinswap/wallet"
	"github.com/decred/slog"
)

var (
	backendLog = slog.NewBackend(os.Stdout)

	log     = backendLog.Logger("JSWP")
	userLog = backendLog.Logger("USER")
	peerLog = backendLog.Logger("PEER")
	stxLog  = backendLog.Logger("STX")
	wlltLog = backendLog.Logger("WLLT")
)

func init() {
	user.UseLogger(userLog)
	peer.UseLogger(peerLog)
	swaptx.UseLogger(stxLog)
	wallet.UseLogger(wlltLog)
}

// setLogLevels sets the level of every subsystem logger.
func setLogLevels(level slog.Level) {
	for _, l := range []slog.Logger{log, userLog, peerLog, stxLog, wlltLog} {
		l.SetLevel(level)
	}
}
