// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"decred.org/dcrwallet/wallet/txrules"
	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/dcrd/dcrutil/v3"
	"github.com/decred/dcrd/txscript/v3"
	"github.com/decred/dcrd/wire"
	"github.com/decred/joinswap/contract"
	"github.com/decred/joinswap/swaptx"
)

// ErrInsufficientFunds is returned when a memory wallet cannot cover a
// payment.
var ErrInsufficientFunds = errors.New("insufficient funds")

// scriptFlags are the script verification rules applied by Chain.
const scriptFlags = txscript.ScriptVerifyCheckSequenceVerify |
	txscript.ScriptVerifySHA256

type chainTx struct {
	tx     *wire.MsgTx
	height int32
}

// Chain is an in-memory ledger shared by memory wallets.  Every published
// transaction is mined in its own block after its scripts are verified.
type Chain struct {
	mu     sync.Mutex
	txs    map[chainhash.Hash]*chainTx
	spent  map[wire.OutPoint]chainhash.Hash
	height int32
}

// NewChain returns an empty ledger.
func NewChain() *Chain {
	return &Chain{
		txs:   make(map[chainhash.Hash]*chainTx),
		spent: make(map[wire.OutPoint]chainhash.Hash),
	}
}

func isMint(tx *wire.MsgTx) bool {
	return len(tx.TxIn) == 1 &&
		tx.TxIn[0].PreviousOutPoint.Index == wire.MaxPrevOutIndex &&
		tx.TxIn[0].PreviousOutPoint.Hash == chainhash.Hash{}
}

// Publish verifies tx against the ledger and mines it.
func (c *Chain) Publish(tx *wire.MsgTx) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	txHash := tx.TxHash()
	if _, ok := c.txs[txHash]; ok {
		return fmt.Errorf("transaction %v already published", txHash)
	}
	if !isMint(tx) {
		for i, in := range tx.TxIn {
			op := in.PreviousOutPoint
			if by, ok := c.spent[op]; ok {
				return fmt.Errorf("input %d: %s already spent by %v", i,
					swaptx.FormatOutPoint(&op), by)
			}
			prev, ok := c.txs[op.Hash]
			if !ok || int(op.Index) >= len(prev.tx.TxOut) {
				return fmt.Errorf("input %d: %s does not exist", i,
					swaptx.FormatOutPoint(&op))
			}
			pkScript := prev.tx.TxOut[op.Index].PkScript
			vm, err := txscript.NewEngine(pkScript, tx, i, scriptFlags,
				0, nil)
			if err != nil {
				return fmt.Errorf("input %d: %v", i, err)
			}
			if err := vm.Execute(); err != nil {
				return fmt.Errorf("input %d: %v", i, err)
			}
		}
		for _, in := range tx.TxIn {
			c.spent[in.PreviousOutPoint] = txHash
		}
	}
	c.height++
	c.txs[txHash] = &chainTx{tx: tx, height: c.height}
	log.Debugf("Mined %v at height %d", txHash, c.height)
	return nil
}

// Transaction returns a published transaction and its number of
// confirmations.
func (c *Chain) Transaction(ctx context.Context, hash *chainhash.Hash) (*wire.MsgTx, int32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ct, ok := c.txs[*hash]
	if !ok {
		return nil, 0, swaptx.ErrTxNotFound
	}
	return ct.tx, c.height - ct.height + 1, nil
}

// Spender returns the hash of the transaction spending op, if any.
func (c *Chain) Spender(op wire.OutPoint) (chainhash.Hash, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.spent[op]
	return h, ok
}

type memCoin struct {
	op  wire.OutPoint
	out *wire.TxOut
}

// MemWallet is a wallet holding its keys and coins in memory and
// publishing to a Chain.  It is meant for simulation networks and tests.
type MemWallet struct {
	params           *chaincfg.Params
	chain            *Chain
	feeRate          dcrutil.Amount
	collateralAmount int64

	mu    sync.Mutex
	keys  map[string]*secp256k1.PrivateKey
	coins []*memCoin
}

var (
	_ swaptx.SourceWallet     = (*MemWallet)(nil)
	_ swaptx.CollateralWallet = (*MemWallet)(nil)
	_ swaptx.ChainSource      = (*MemWallet)(nil)
)

// NewMemWallet returns an empty memory wallet publishing to chain.
// Collateral creates outputs of collateralAmount atoms.
func NewMemWallet(params *chaincfg.Params, chain *Chain, collateralAmount int64) *MemWallet {
	return &MemWallet{
		params:           params,
		chain:            chain,
		feeRate:          swaptx.DefaultFeeRate,
		collateralAmount: collateralAmount,
		keys:             make(map[string]*secp256k1.PrivateKey),
	}
}

func (w *MemWallet) newKey() (dcrutil.Address, []byte, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, nil, err
	}
	addr, err := contract.P2PKHAddress(w.params, priv.PubKey())
	if err != nil {
		return nil, nil, err
	}
	script, err := contract.P2PKHScript(w.params, priv.PubKey())
	if err != nil {
		return nil, nil, err
	}
	w.mu.Lock()
	w.keys[hex.EncodeToString(script)] = priv
	w.mu.Unlock()
	return addr, script, nil
}

func (w *MemWallet) key(pkScript []byte) *secp256k1.PrivateKey {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.keys[hex.EncodeToString(pkScript)]
}

// Mint credits the wallet with a new coin of value atoms that does not
// spend any existing output.
func (w *MemWallet) Mint(value int64) error {
	_, script, err := w.newKey()
	if err != nil {
		return err
	}
	tx := wire.NewMsgTx()
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex},
		Sequence:         wire.MaxTxInSequenceNum,
		ValueIn:          value,
		BlockHeight:      wire.NullBlockHeight,
		BlockIndex:       wire.NullBlockIndex,
	})
	tx.AddTxOut(wire.NewTxOut(value, script))
	return w.PublishTransaction(context.Background(), tx)
}

// Balance returns the total value of the spendable coins.
func (w *MemWallet) Balance() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var total int64
	for _, c := range w.coins {
		total += c.out.Value
	}
	return total
}

// NewAddress returns a fresh P2PKH address.
func (w *MemWallet) NewAddress(ctx context.Context) (dcrutil.Address, error) {
	addr, _, err := w.newKey()
	return addr, err
}

// FundScript spends wallet coins to pay amount atoms to pkScript.  Spent
// coins are removed from the wallet immediately; change is credited once
// the transaction is published.
func (w *MemWallet) FundScript(ctx context.Context, pkScript []byte, amount int64) (*wire.MsgTx, int64, error) {
	_, changeScript, err := w.newKey()
	if err != nil {
		return nil, 0, err
	}

	w.mu.Lock()
	tx := wire.NewMsgTx()
	tx.AddTxOut(wire.NewTxOut(amount, pkScript))
	change := wire.NewTxOut(0, changeScript)
	var selected []*memCoin
	var total, fee int64
	for len(w.coins) > 0 {
		c := w.coins[0]
		w.coins = w.coins[1:]
		selected = append(selected, c)
		total += c.out.Value

		size := contract.EstimateP2PKHSpendSize(len(selected),
			[]*wire.TxOut{tx.TxOut[0], change})
		fee = int64(txrules.FeeForSerializeSize(w.feeRate, size))
		if total >= amount+fee {
			break
		}
	}
	if total < amount+fee {
		w.coins = append(w.coins, selected...)
		w.mu.Unlock()
		return nil, 0, contract.MakeError(contract.ErrWallet, fmt.Sprintf(
			"cannot pay %v with a balance of %v", dcrutil.Amount(amount),
			dcrutil.Amount(total)), ErrInsufficientFunds)
	}
	w.mu.Unlock()

	change.Value = total - amount - fee
	if !txrules.IsDustOutput(change, w.feeRate) {
		tx.AddTxOut(change)
	} else {
		fee += change.Value
	}

	t := &swaptx.Template{Tx: tx, Fee: fee}
	for _, c := range selected {
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: c.op,
			Sequence:         wire.MaxTxInSequenceNum,
			ValueIn:          c.out.Value,
			BlockHeight:      wire.NullBlockHeight,
			BlockIndex:       wire.NullBlockIndex,
		})
		t.Inputs = append(t.Inputs, &swaptx.Input{
			Value:    c.out.Value,
			PkScript: c.out.PkScript,
		})
	}
	for i, in := range t.Inputs {
		if err := t.SignInput(i, w.key(in.PkScript)); err != nil {
			return nil, 0, err
		}
	}
	if err := t.FinalizeP2PKH(w.params); err != nil {
		return nil, 0, err
	}
	return tx, fee, nil
}

// PublishTransaction mines tx and credits the wallet with the outputs
// paying to its keys.
func (w *MemWallet) PublishTransaction(ctx context.Context, tx *wire.MsgTx) error {
	if err := w.chain.Publish(tx); err != nil {
		return contract.MakeError(contract.ErrWallet,
			"failed to publish transaction", err)
	}
	txHash := tx.TxHash()
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, out := range tx.TxOut {
		if _, ok := w.keys[hex.EncodeToString(out.PkScript)]; !ok {
			continue
		}
		w.coins = append(w.coins, &memCoin{
			op:  *wire.NewOutPoint(&txHash, uint32(i), wire.TxTreeRegular),
			out: out,
		})
	}
	return nil
}

// Collateral pays the collateral amount to a fresh key and reserves the
// new output.
func (w *MemWallet) Collateral(ctx context.Context) (*swaptx.Collateral, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	script, err := contract.P2PKHScript(w.params, priv.PubKey())
	if err != nil {
		return nil, err
	}
	tx, _, err := w.FundScript(ctx, script, w.collateralAmount)
	if err != nil {
		return nil, err
	}
	if err := w.chain.Publish(tx); err != nil {
		return nil, contract.MakeError(contract.ErrWallet,
			"failed to publish collateral", err)
	}
	idx, err := swaptx.FindOutput(tx, script)
	if err != nil {
		return nil, err
	}

	txHash := tx.TxHash()
	w.mu.Lock()
	w.keys[hex.EncodeToString(script)] = priv
	for i, out := range tx.TxOut {
		if i == idx {
			continue
		}
		if _, ok := w.keys[hex.EncodeToString(out.PkScript)]; ok {
			w.coins = append(w.coins, &memCoin{
				op: *wire.NewOutPoint(&txHash, uint32(i),
					wire.TxTreeRegular),
				out: out,
			})
		}
	}
	w.mu.Unlock()

	return &swaptx.Collateral{
		Descriptor: contract.CollateralDescriptor(priv.PubKey()),
		OutPoint:   *wire.NewOutPoint(&txHash, uint32(idx), wire.TxTreeRegular),
		PrevTx:     tx,
	}, nil
}

// SignInput signs input idx of t with the key owning its previous output.
func (w *MemWallet) SignInput(ctx context.Context, t *swaptx.Template, idx int) error {
	if idx < 0 || idx >= len(t.Inputs) {
		return fmt.Errorf("input %d does not exist", idx)
	}
	priv := w.key(t.Inputs[idx].PkScript)
	if priv == nil {
		return fmt.Errorf("input %d is not owned by the wallet", idx)
	}
	return t.SignInput(idx, priv)
}

// Transaction looks up tx on the wallet's chain.
func (w *MemWallet) Transaction(ctx context.Context, hash *chainhash.Hash) (*wire.MsgTx, int32, error) {
	return w.chain.Transaction(ctx, hash)
}
