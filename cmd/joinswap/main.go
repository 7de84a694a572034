// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2015-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"io/ioutil"
	"net"
	"os"

	"github.com/decred/dcrd/wire"
	"github.com/decred/joinswap/contract"
	"github.com/decred/joinswap/netparams"
	"github.com/decred/joinswap/swaptx"
	"github.com/decred/joinswap/user"
	"github.com/decred/joinswap/wallet"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
)

var activeNet = &netparams.MainNetParams

// userWallet provides the collateral and receives the payout.
type userWallet interface {
	swaptx.CollateralWallet
	PublishTransaction(ctx context.Context, tx *wire.MsgTx) error
}

func main() {
	// Create a context that is cancelled when a shutdown request is received
	// through an interrupt signal.
	ctx := withShutdownCancel(context.Background())
	go shutdownListener()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	w, chain, closeWallet, err := connectWallet(ctx, cfg)
	if err != nil {
		log.Error(err)
		return err
	}
	defer closeWallet()

	dial, err := makerDialer(cfg)
	if err != nil {
		log.Error(err)
		return err
	}

	c, err := user.New(&user.Config{
		ChainParams:      activeNet.Params,
		Wallet:           w,
		Dial:             dial,
		Chain:            chain,
		MinConfirmations: cfg.MinConfirmations,
		MinPayout:        int64(cfg.minPayout),
		IdleTimeout:      cfg.IdleTimeout,
	})
	if err != nil {
		log.Error(err)
		return err
	}

	if err := c.Run(ctx); err != nil {
		log.Errorf("Swap failed in state %s: %v", c.State(), err)
		showRefund(c)
		return err
	}

	preimage, err := c.Preimage()
	if err != nil {
		return err
	}
	log.Infof("Swap complete, contract secret %x", preimage[:])

	if chain == nil {
		log.Info("Maker funding unknown without a wallet connection, " +
			"not redeeming")
		return nil
	}
	tx, err := c.RedeemTx(ctx, nil)
	if err != nil {
		log.Errorf("Unable to build the payout redemption: %v", err)
		return err
	}
	if err := w.PublishTransaction(ctx, tx); err != nil {
		log.Errorf("Unable to publish the payout redemption: %v", err)
		return err
	}
	log.Infof("Published payout redemption %v", tx.TxHash())
	return nil
}

// showRefund prints the finalized refund of a failed swap.  It can be
// published once the contract timelock expired.
func showRefund(c *user.Client) {
	tx, err := c.RefundTx()
	if err != nil {
		return
	}
	b, err := tx.Bytes()
	if err != nil {
		log.Error(err)
		return
	}
	log.Infof("Refund %v spendable %d blocks after the contract funding "+
		"was mined: %s", tx.TxHash(), contract.UsersToMakerLock,
		hex.EncodeToString(b))
}

// connectWallet returns the wallet providing the collateral and, when
// talking to dcrwallet, the chain source used to verify the maker funding.
func connectWallet(ctx context.Context, cfg *config) (userWallet, swaptx.ChainSource, func(), error) {
	if cfg.MemWallet {
		w := wallet.NewMemWallet(activeNet.Params, wallet.NewChain(),
			int64(cfg.collateral))
		funds := 2 * cfg.collateral
		if err := w.Mint(int64(funds)); err != nil {
			return nil, nil, nil, err
		}
		log.Infof("Using an in-memory wallet holding %v", funds)
		return w, nil, func() {}, nil
	}

	conn, err := startRPCClient(ctx, cfg.WalletRPCServer,
		cfg.WalletRPCCert, !cfg.NoWalletTLS)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("Unable to connect to the "+
			"wallet RPC server: %v", err)
	}

	walletCfg := wallet.Config{
		Account:          cfg.Account,
		AccountName:      cfg.AccountName,
		ChainParams:      activeNet.Params,
		WalletConnection: conn,
		WalletPassword:   cfg.WalletPassword,
		CollateralAmount: int64(cfg.collateral),
	}
	w, err := wallet.New(ctx, &walletCfg)
	if err != nil {
		conn.Close()
		return nil, nil, nil, fmt.Errorf("Unable to setup a wallet "+
			"session: %v", err)
	}
	return w, w, func() { conn.Close() }, nil
}

func startRPCClient(ctx context.Context, remote, ca string, useTLS bool) (*grpc.ClientConn, error) {
	var opts []grpc.DialOption

	if useTLS {
		host, _, err := net.SplitHostPort(remote)
		if err != nil {
			return nil, err
		}
		creds, err := credentials.NewClientTLSFromFile(ca, host)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	} else {
		opts = append(opts, grpc.WithInsecure())
	}

	opts = append(opts, grpc.WithBlock())

	return grpc.DialContext(ctx, remote, opts...)
}

// makerDialer returns the function opening connections to the maker.
// The maker certificate is pinned as the only trusted root.
func makerDialer(cfg *config) (user.Dialer, error) {
	netDialer := new(net.Dialer)
	if cfg.NoMakerTLS {
		return func(ctx context.Context) (net.Conn, error) {
			return netDialer.DialContext(ctx, "tcp", cfg.MakerAddress)
		}, nil
	}

	pem, err := ioutil.ReadFile(cfg.MakerCert)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", cfg.MakerCert)
	}
	host, _, err := net.SplitHostPort(cfg.MakerAddress)
	if err != nil {
		return nil, err
	}
	tlsDialer := &tls.Dialer{
		NetDialer: netDialer,
		Config: &tls.Config{
			RootCAs:    pool,
			ServerName: host,
			MinVersion: tls.VersionTLS12,
		},
	}
	return func(ctx context.Context) (net.Conn, error) {
		return tlsDialer.DialContext(ctx, "tcp", cfg.MakerAddress)
	}, nil
}
