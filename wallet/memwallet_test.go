// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/joinswap/contract"
	"github.com/decred/joinswap/swaptx"
)

func TestMemWalletFundScript(t *testing.T) {
	ctx := context.Background()
	params := chaincfg.SimNetParams()
	chain := NewChain()
	w := NewMemWallet(params, chain, 1e5)
	if err := w.Mint(1e6); err != nil {
		t.Fatal(err)
	}

	kp, err := contract.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	script, err := contract.P2PKHScript(params, kp.Pub)
	if err != nil {
		t.Fatal(err)
	}
	tx, fee, err := w.FundScript(ctx, script, 45000)
	if err != nil {
		t.Fatal(err)
	}
	if fee <= 0 {
		t.Fatalf("unexpected fee %d", fee)
	}
	if w.Balance() != 0 {
		t.Fatalf("spent coin still counted: %d", w.Balance())
	}
	if err := w.PublishTransaction(ctx, tx); err != nil {
		t.Fatal(err)
	}
	if got := w.Balance(); got != 1e6-45000-fee {
		t.Fatalf("balance %d after paying 45000 with fee %d", got, fee)
	}

	txHash := tx.TxHash()
	got, confs, err := w.Transaction(ctx, &txHash)
	if err != nil {
		t.Fatal(err)
	}
	if got.TxHash() != txHash || confs != 1 {
		t.Fatalf("unexpected lookup result %v (%d confirmations)",
			got.TxHash(), confs)
	}

	// Publishing the same spend twice must fail.
	if err := chain.Publish(tx); err == nil {
		t.Fatal("double publication accepted")
	}

	if _, _, err := w.FundScript(ctx, script, 1e7); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("overspend accepted: %v", err)
	}
}

func TestMemWalletCollateral(t *testing.T) {
	ctx := context.Background()
	params := chaincfg.SimNetParams()
	w := NewMemWallet(params, NewChain(), 1e5)
	if err := w.Mint(1e6); err != nil {
		t.Fatal(err)
	}

	c, err := w.Collateral(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Verify(params); err != nil {
		t.Fatal(err)
	}
	if c.Value() != 1e5 {
		t.Fatalf("collateral of %d", c.Value())
	}
	if w.Balance() >= 1e6-1e5 {
		t.Fatalf("collateral not reserved, balance %d", w.Balance())
	}

	kp, err := contract.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	con, err := contract.NewMakerToUser(params, kp.Pub, mustKey(t),
		mustKey(t), mustKey(t), contract.Hash{1})
	if err != nil {
		t.Fatal(err)
	}
	funding, err := swaptx.BuildFunding([]*swaptx.Collateral{c}, con,
		swaptx.DefaultFeeRate, rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.SignInput(ctx, funding, 0); err != nil {
		t.Fatal(err)
	}
	if err := funding.FinalizeP2PKH(params); err != nil {
		t.Fatal(err)
	}
	if err := w.PublishTransaction(ctx, funding.Tx); err != nil {
		t.Fatal(err)
	}
}

func mustKey(t *testing.T) *secp256k1.PublicKey {
	t.Helper()
	kp, err := contract.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return kp.Pub
}
