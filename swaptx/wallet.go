// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package swaptx

import (
	"context"
	"errors"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrutil/v3"
	"github.com/decred/dcrd/wire"
)

// ErrTxNotFound is returned by a ChainSource that does not know about a
// transaction.
var ErrTxNotFound = errors.New("transaction not found")

// SourceWallet provides the maker with the funds paid into the
// maker-to-user contracts.
type SourceWallet interface {
	// FundScript returns a signed transaction paying amount atoms to
	// pkScript together with the fee it pays.
	FundScript(ctx context.Context, pkScript []byte, amount int64) (*wire.MsgTx, int64, error)

	// NewAddress returns an unused wallet address.
	NewAddress(ctx context.Context) (dcrutil.Address, error)

	// PublishTransaction relays a fully signed transaction.
	PublishTransaction(ctx context.Context, tx *wire.MsgTx) error
}

// CollateralWallet provides a user with the output brought into the swap
// and signs for it.
type CollateralWallet interface {
	// Collateral returns an unspent output owned by the wallet together
	// with its proof.
	Collateral(ctx context.Context) (*Collateral, error)

	// NewAddress returns an unused wallet address.
	NewAddress(ctx context.Context) (dcrutil.Address, error)

	// SignInput adds the wallet's signature for input idx of t.
	SignInput(ctx context.Context, t *Template, idx int) error
}

// ChainSource looks up transactions known to the network.
type ChainSource interface {
	// Transaction returns the transaction identified by hash and its
	// number of confirmations.  ErrTxNotFound is returned for unknown
	// transactions.
	Transaction(ctx context.Context, hash *chainhash.Hash) (*wire.MsgTx, int32, error)
}
