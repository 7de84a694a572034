// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/dcrd/dcrutil/v3"
	"github.com/decred/dcrd/wire"
	"github.com/decred/joinswap/contract"
	"github.com/decred/joinswap/swaptx"
)

// Reconnect opens the phase two connection under the second identity.
func (c *Client) Reconnect(ctx context.Context) error {
	if ok, err := c.ready(StateReconnected); !ok {
		return err
	}
	conn, err := c.dial(ctx, "phase2")
	if err != nil {
		return err
	}
	c.connMu.Lock()
	c.conn2 = conn
	c.connMu.Unlock()
	return c.advance(StateReconnected)
}

// SendSecondKeys sends the multisig and hashlock keys of the second
// identity.
func (c *Client) SendSecondKeys(ctx context.Context) error {
	if ok, err := c.ready(StateSecondContractSent); !ok {
		return err
	}
	err := c.conn2.WriteTokens(contract.FormatPubKeys(c.multisig.Pub,
		c.hashlock.Pub)...)
	if err != nil {
		return err
	}
	return c.advance(StateSecondContractSent)
}

// verifyPayout looks the maker's funding up and makes sure it pays the
// maker-to-user contract.
func (c *Client) verifyPayout(ctx context.Context) error {
	tx, confs, err := c.cfg.Chain.Transaction(ctx, &c.payoutHash)
	if errors.Is(err, swaptx.ErrTxNotFound) {
		return contract.MakeError(contract.ErrProtocol, fmt.Sprintf(
			"maker funding %v is unknown", c.payoutHash), err)
	}
	if err != nil {
		return err
	}
	if confs < c.cfg.MinConfirmations {
		return contract.MakeError(contract.ErrProtocol, fmt.Sprintf(
			"maker funding %v has %d confirmations, need %d",
			c.payoutHash, confs, c.cfg.MinConfirmations), nil)
	}
	idx, err := swaptx.FindOutput(tx, c.payout.PayScript)
	if err != nil {
		return err
	}
	if v := tx.TxOut[idx].Value; v <= 0 || v < c.cfg.MinPayout {
		return contract.MakeError(contract.ErrProtocol, fmt.Sprintf(
			"maker funded %v, expected at least %v", dcrutil.Amount(v),
			dcrutil.Amount(c.cfg.MinPayout)), nil)
	}
	c.payoutTx = tx
	return nil
}

// ReleaseHashlockKey reads the maker's keys and funding transaction
// identifier, derives the maker-to-user contract and, once the funding
// checks out, hands the phase one hashlock key over.
func (c *Client) ReleaseHashlockKey(ctx context.Context) error {
	if err := c.advance(StateAwaitingMakerFunding); err != nil {
		return err
	}
	if ok, err := c.ready(StateHashlockKeyReleased); !ok {
		return err
	}

	tokens, err := c.conn2.ReadTokens(2)
	if err != nil {
		return err
	}
	keys, err := contract.ParsePubKeys(tokens, 2)
	if err != nil {
		return err
	}
	line, err := c.conn2.ReadLine()
	if err != nil {
		return err
	}
	hash, err := chainhash.NewHashFromStr(line)
	if err != nil {
		return contract.MakeError(contract.ErrParse,
			fmt.Sprintf("malformed funding txid %q", line), err)
	}
	c.payoutHash = *hash

	c.payout, err = contract.NewMakerToUser(c.cfg.ChainParams,
		c.multisig.Pub, keys[0], keys[1], c.hashlock.Pub,
		c.secret.Hash())
	if err != nil {
		return err
	}
	log.Infof("Paid through %s in %v", c.payout.Descriptor(), c.payoutHash)

	if c.cfg.Chain != nil {
		if err := c.verifyPayout(ctx); err != nil {
			return err
		}
	}

	priv := c.keys[contract.PathHashlock].Priv
	if err := c.conn1.WriteLine(contract.FormatPrivKey(priv)); err != nil {
		return err
	}
	return c.advance(StateHashlockKeyReleased)
}

// ReceiveSecret reads the commitment preimage and the maker's multisig
// key.  The preimage is checked against the committed hash before the
// key is trusted.
func (c *Client) ReceiveSecret(ctx context.Context) error {
	if ok, err := c.ready(StateSecretReceived); !ok {
		return err
	}
	var p contract.Preimage
	if err := c.conn2.ReadJSON(&p); err != nil {
		return err
	}
	if err := c.secret.Reveal(p); err != nil {
		return err
	}
	line, err := c.conn2.ReadLine()
	if err != nil {
		return err
	}
	priv, err := contract.ParsePrivKey(line)
	if err != nil {
		return err
	}
	makerKey := c.payout.Key(contract.PartyMaker, contract.PathCooperative)
	if err := contract.MatchPrivKey(priv, makerKey); err != nil {
		return err
	}
	c.makerMultisig = priv
	return c.advance(StateSecretReceived)
}

// ReleaseFinalKey hands the phase one cooperative key over, completing the
// swap.
func (c *Client) ReleaseFinalKey(ctx context.Context) error {
	if ok, err := c.ready(StateFinalKeyReleased); !ok {
		return err
	}
	priv := c.keys[contract.PathCooperative].Priv
	if err := c.conn1.WriteLine(contract.FormatPrivKey(priv)); err != nil {
		return err
	}
	if err := c.advance(StateFinalKeyReleased); err != nil {
		return err
	}
	return c.advance(StateComplete)
}

// Preimage returns the revealed commitment preimage.
func (c *Client) Preimage() (contract.Preimage, error) {
	if c.secret == nil {
		return contract.Preimage{}, contract.ErrNotRevealed
	}
	return c.secret.Preimage()
}

// RedeemTx builds the transaction moving the maker-to-user contract to a
// fresh wallet address through the cooperative path.  The maker's funding
// must be known, either through the configured chain source or through
// prev.
func (c *Client) RedeemTx(ctx context.Context, prev *wire.MsgTx) (*wire.MsgTx, error) {
	if c.makerMultisig == nil {
		return nil, fmt.Errorf("cannot redeem in state %s",
			stateNames[c.state])
	}
	if prev == nil {
		prev = c.payoutTx
	}
	if prev == nil {
		return nil, fmt.Errorf("maker funding %v is unknown", c.payoutHash)
	}
	if prev.TxHash() != c.payoutHash {
		return nil, fmt.Errorf("transaction %v is not the maker funding %v",
			prev.TxHash(), c.payoutHash)
	}
	addr, err := c.cfg.Wallet.NewAddress(ctx)
	if err != nil {
		return nil, err
	}
	pkScript, err := contract.AddressScript(c.cfg.ChainParams, addr.Address())
	if err != nil {
		return nil, err
	}
	privs := []*secp256k1.PrivateKey{c.multisig.Priv, c.makerMultisig}
	return swaptx.SpendContract(prev, c.payout, contract.PathCooperative,
		privs, nil, pkScript, swaptx.DefaultFeeRate)
}
