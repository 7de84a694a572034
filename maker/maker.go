// Copyright (c) 2018-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// The maker package implements the coordinating side of a JoinSwap: it
// gathers the phase one users into a shared contract, pays fresh phase
// two identities out of its own wallet and releases the commitment
// preimage only after the users handed over their hashlock keys.
package maker

import (
	"context"
	"crypto/rand"
	"io"
	"net"
	"time"

	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrutil/v3"
	"github.com/decred/joinswap/peer"
	"github.com/decred/joinswap/swaptx"
	"golang.org/x/sync/errgroup"
)

// Maker describes an instance of a JoinSwap coordinator.
type Maker struct {
	chainParams *chaincfg.Params
	wallet      swaptx.SourceWallet
	payout      int64
	feeRate     dcrutil.Amount
	idleTimeout time.Duration
	publish     bool
	random      io.Reader
}

// Config represents configuration options needed to initialize a maker.
type Config struct {
	ChainParams *chaincfg.Params
	Wallet      swaptx.SourceWallet

	// Payout is the value of every maker-to-user contract.  Zero
	// selects DefaultPayout.
	Payout int64

	// FeeRate is used for the phase one funding transaction.  Zero
	// selects swaptx.DefaultFeeRate.
	FeeRate dcrutil.Amount

	// IdleTimeout bounds the wait for every user message.  Zero selects
	// peer.DefaultIdleTimeout.
	IdleTimeout time.Duration

	// Publish makes the maker relay the finalized phase one funding and
	// its own phase two funding transactions through the wallet.
	Publish bool

	// Random is the source used to shuffle transaction inputs and
	// outputs.  It defaults to crypto/rand.
	Random io.Reader
}

// New creates a new configured maker associated with a wallet providing
// the phase two funds.
func New(cfg *Config) *Maker {
	m := &Maker{
		chainParams: cfg.ChainParams,
		wallet:      cfg.Wallet,
		payout:      cfg.Payout,
		feeRate:     cfg.FeeRate,
		idleTimeout: cfg.IdleTimeout,
		publish:     cfg.Publish,
		random:      cfg.Random,
	}
	if m.payout == 0 {
		m.payout = DefaultPayout
	}
	if m.feeRate == 0 {
		m.feeRate = swaptx.DefaultFeeRate
	}
	if m.idleTimeout == 0 {
		m.idleTimeout = peer.DefaultIdleTimeout
	}
	if m.random == nil {
		m.random = rand.Reader
	}
	return m
}

// ChainParams returns the network the maker operates on.
func (m *Maker) ChainParams() *chaincfg.Params {
	return m.chainParams
}

// Run coordinates a single swap with the users connecting to ln.  The
// session is returned even when the swap fails so that its state can be
// inspected.  Cancelling ctx closes ln and every user connection.
func (m *Maker) Run(ctx context.Context, ln net.Listener) (*Session, error) {
	s, err := m.NewSession()
	if err != nil {
		return nil, err
	}

	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		return s.Run(ctx, ln.Accept)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			log.Info("Maker shutting down")
			ln.Close()
			s.closeConns()
		case <-done:
		}
		return nil
	})
	return s, g.Wait()
}
