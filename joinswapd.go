// Copyright (c) 2018-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/hex"
	"os"
	"runtime"

	"github.com/decred/dcrd/dcrutil/v3"
	"github.com/decred/joinswap/maker"
	"github.com/decred/joinswap/netparams"
	"github.com/decred/joinswap/swaptx"
	"github.com/decred/joinswap/version"
	"github.com/decred/joinswap/wallet"
)

// memWalletFunds is the value minted into the in-memory wallet.
const memWalletFunds = 10 * dcrutil.AtomsPerCoin

var (
	cfg       *config
	activeNet = &netparams.MainNetParams
)

func main() {
	// Create a context that is cancelled when a shutdown request is received
	// through an interrupt signal.
	ctx := withShutdownCancel(context.Background())
	go shutdownListener()

	// Run a swap until completion, permanent failure or shutdown.
	if err := run(ctx); err != nil && err != context.Canceled {
		os.Exit(1)
	}
}

// done returns whether the context's Done channel was closed due to
// cancellation or exceeded deadline.
func done(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// connectWallet returns the wallet paying the phase two contracts along
// with a function releasing its resources.
func connectWallet(ctx context.Context) (swaptx.SourceWallet, func(), error) {
	if cfg.MemWallet {
		w := wallet.NewMemWallet(activeNet.Params, wallet.NewChain(), 0)
		if err := w.Mint(int64(memWalletFunds)); err != nil {
			return nil, nil, err
		}
		log.Infof("Using an in-memory wallet holding %v",
			dcrutil.Amount(w.Balance()))
		return w, func() {}, nil
	}

	// Connect to the wallet RPC service
	walletClient, err := startRPCClient(ctx)
	if err != nil {
		log.Errorf("Unable to connect to the wallet service: %v", err)
		return nil, nil, err
	}

	walletCfg := wallet.Config{
		Account:          cfg.Account,
		AccountName:      cfg.AccountName,
		ChainParams:      activeNet.Params,
		WalletConnection: walletClient,
		WalletPassword:   cfg.WalletPassword,
	}
	w, err := wallet.New(ctx, &walletCfg)
	if err != nil {
		walletClient.Close()
		log.Errorf("Failed to communicate with the wallet: %v", err)
		return nil, nil, err
	}
	return w, func() { walletClient.Close() }, nil
}

// run is the main startup and teardown logic performed by the main package.
func run(ctx context.Context) error {
	// Load configuration and parse command line.  This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	cfg = tcfg
	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	// Show version at startup.
	log.Infof("Version %s (Go version %s)", version.String(), runtime.Version())

	if done(ctx) {
		return ctx.Err()
	}

	w, closeWallet, err := connectWallet(ctx)
	if err != nil {
		return err
	}
	defer closeWallet()

	if done(ctx) {
		return ctx.Err()
	}

	ln, err := listen()
	if err != nil {
		log.Errorf("Unable to listen on %s: %v", cfg.Listen, err)
		return err
	}
	defer ln.Close()
	log.Infof("Waiting for %d users on %s", maker.Phase1Users, ln.Addr())

	m := maker.New(&maker.Config{
		ChainParams: activeNet.Params,
		Wallet:      w,
		Payout:      int64(cfg.payout),
		FeeRate:     cfg.feeRate,
		IdleTimeout: cfg.IdleTimeout,
		Publish:     cfg.Publish,
	})

	s, err := m.Run(ctx, ln)
	if err != nil {
		if done(ctx) {
			log.Warn("Swap cancelled")
			return ctx.Err()
		}
		log.Errorf("Swap failed: %v", err)
		return err
	}

	profit, err := s.Profit()
	if err != nil {
		log.Errorf("Unable to compute the swap profit: %v", err)
		return err
	}
	log.Infof("Swap %v complete with a profit of %v", s,
		dcrutil.Amount(profit))

	return redeem(ctx, s, w)
}

// redeem sweeps the phase one contract to the maker's wallet.  The
// transaction is published when the maker publishes its funding and
// logged otherwise.
func redeem(ctx context.Context, s *maker.Session, w swaptx.SourceWallet) error {
	tx, err := s.RedeemTx(ctx)
	if err != nil {
		log.Errorf("Unable to build the contract redemption: %v", err)
		return err
	}
	if cfg.Publish {
		if err := w.PublishTransaction(ctx, tx); err != nil {
			log.Errorf("Unable to publish redemption %v: %v",
				tx.TxHash(), err)
			return err
		}
		log.Infof("Published contract redemption %v", tx.TxHash())
		return nil
	}

	b, err := tx.Bytes()
	if err != nil {
		return err
	}
	log.Infof("Contract redemption %v: %s", tx.TxHash(),
		hex.EncodeToString(b))
	return nil
}
