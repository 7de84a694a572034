// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package user

import (
	"context"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/dcrd/wire"
	"github.com/decred/joinswap/contract"
	"github.com/decred/joinswap/swaptx"
)

func (c *Client) ownKeys() []*secp256k1.PublicKey {
	keys := make([]*secp256k1.PublicKey, len(c.keys))
	for i, kp := range c.keys {
		keys[i] = kp.Pub
	}
	return keys
}

// Connect opens the phase one connection.
func (c *Client) Connect(ctx context.Context) error {
	if ok, err := c.ready(StateConnected); !ok {
		return err
	}
	conn, err := c.dial(ctx, "phase1")
	if err != nil {
		return err
	}
	c.connMu.Lock()
	c.conn1 = conn
	c.connMu.Unlock()
	return c.advance(StateConnected)
}

// SendData sends the phase one keys, the collateral with its proof and the
// refund address.
func (c *Client) SendData(ctx context.Context) error {
	if ok, err := c.ready(StateDataSent); !ok {
		return err
	}

	var err error
	c.collateral, err = c.cfg.Wallet.Collateral(ctx)
	if err != nil {
		return err
	}
	if _, err := c.collateral.Verify(c.cfg.ChainParams); err != nil {
		return fmt.Errorf("wallet provided a bad collateral: %w", err)
	}
	c.refundAddr, err = c.cfg.Wallet.NewAddress(ctx)
	if err != nil {
		return err
	}

	if err := c.conn1.WriteTokens(contract.FormatPubKeys(c.ownKeys()...)...); err != nil {
		return err
	}
	if err := c.conn1.WriteLine(c.collateral.Descriptor); err != nil {
		return err
	}
	if err := c.conn1.WriteLine(swaptx.FormatOutPoint(&c.collateral.OutPoint)); err != nil {
		return err
	}
	if err := c.conn1.WriteJSON(&swaptx.Proof{Tx: c.collateral.PrevTx}); err != nil {
		return err
	}
	if err := c.conn1.WriteLine(c.refundAddr.Address()); err != nil {
		return err
	}
	return c.advance(StateDataSent)
}

// ReceiveContract reads the contract keys, the commitment hash and the
// templates.  The contract is derived independently and must place the
// client's keys in their own paths.
func (c *Client) ReceiveContract(ctx context.Context) error {
	if ok, err := c.ready(StateContractReceived); !ok {
		return err
	}

	tokens, err := c.conn1.ReadTokens(9)
	if err != nil {
		return err
	}
	keys, err := contract.ParsePubKeys(tokens, 9)
	if err != nil {
		return err
	}
	line, err := c.conn1.ReadLine()
	if err != nil {
		return err
	}
	hash, err := contract.ParseHash(line)
	if err != nil {
		return err
	}
	c.secret = contract.Committed(hash)

	c.con, err = contract.NewUsersToMaker(c.cfg.ChainParams, keys, hash)
	if err != nil {
		return err
	}
	c.party, err = c.con.LocateParty(c.ownKeys())
	if err != nil {
		return err
	}

	var funding, refund swaptx.Template
	if err := c.conn1.ReadJSON(&funding); err != nil {
		return err
	}
	if err := c.conn1.ReadJSON(&refund); err != nil {
		return err
	}
	c.funding, c.refund = &funding, &refund

	log.Infof("Joined %s as %s", c.con.Descriptor(), c.party)
	return c.advance(StateContractReceived)
}

// Validate checks the funding and refund templates before anything is
// signed.
func (c *Client) Validate(ctx context.Context) error {
	if ok, err := c.ready(StateValidated); !ok {
		return err
	}
	refundScript, err := contract.AddressScript(c.cfg.ChainParams,
		c.refundAddr.Address())
	if err != nil {
		return err
	}
	err = swaptx.Validate(c.funding, c.refund, &swaptx.Expectation{
		Contract:        c.con,
		Collateral:      c.collateral.OutPoint,
		CollateralValue: c.collateral.Value(),
		RefundScript:    refundScript,
		Participants:    contract.Users,
	})
	if err != nil {
		return err
	}
	return c.advance(StateValidated)
}

// SignRefund signs the refund with the timelock key and sends it back.
func (c *Client) SignRefund(ctx context.Context) error {
	if ok, err := c.ready(StateRefundSigned); !ok {
		return err
	}
	if err := c.refund.SignInput(0, c.keys[contract.PathTimelock].Priv); err != nil {
		return err
	}
	if err := c.conn1.WriteJSON(c.refund); err != nil {
		return err
	}
	return c.advance(StateRefundSigned)
}

// receiveFinal reads the finalized version of t.  Its signatures are
// verified against the validated template before t is finalized locally.
func (c *Client) receiveFinal(t *swaptx.Template, what string) error {
	var final swaptx.Template
	if err := c.conn1.ReadJSON(&final); err != nil {
		return err
	}
	if final.TxHash() != t.TxHash() {
		return contract.MakeError(contract.ErrProtocol, fmt.Sprintf(
			"expected the finalized %s %v, got %v", what, t.TxHash(),
			final.TxHash()), nil)
	}
	return t.Combine(&final)
}

// ReceiveRefund waits for the refund carrying every timelock signature.
// Once it returns the client can recover its collateral on its own.
func (c *Client) ReceiveRefund(ctx context.Context) error {
	if ok, err := c.ready(StateRefundFinalized); !ok {
		return err
	}
	if err := c.receiveFinal(c.refund, "refund"); err != nil {
		return err
	}
	err := c.refund.FinalizeContract(0, c.con, contract.PathTimelock, nil)
	if err != nil {
		return err
	}
	log.Infof("Refund %v finalized", c.refund.TxHash())
	return c.advance(StateRefundFinalized)
}

// SignFunding signs the client's own funding input.  It is only possible
// once the finalized refund has been received.
func (c *Client) SignFunding(ctx context.Context) error {
	if ok, err := c.ready(StateFundingSigned); !ok {
		return err
	}
	if !c.refund.Complete() {
		return fmt.Errorf("refund %v is not finalized", c.refund.TxHash())
	}
	idx, err := c.funding.FindInput(c.collateral.OutPoint)
	if err != nil {
		return err
	}
	if err := c.cfg.Wallet.SignInput(ctx, c.funding, idx); err != nil {
		return err
	}
	if err := c.conn1.WriteJSON(c.funding); err != nil {
		return err
	}
	return c.advance(StateFundingSigned)
}

// ReceiveFunding waits for the funding transaction signed by all users.
func (c *Client) ReceiveFunding(ctx context.Context) error {
	if ok, err := c.ready(StateFundingFinalized); !ok {
		return err
	}
	if err := c.receiveFinal(c.funding, "funding"); err != nil {
		return err
	}
	if err := c.funding.FinalizeP2PKH(c.cfg.ChainParams); err != nil {
		return err
	}
	log.Infof("Funding %v finalized", c.funding.TxHash())
	return c.advance(StateFundingFinalized)
}

// RefundTx returns the fully signed refund.  It becomes spendable once
// the funding transaction has UsersToMakerLock confirmations.
func (c *Client) RefundTx() (*wire.MsgTx, error) {
	if c.refund == nil || !c.refund.Complete() {
		return nil, fmt.Errorf("no finalized refund in state %s",
			stateNames[c.state])
	}
	return c.refund.Tx, nil
}

// FundingTx returns the fully signed phase one funding transaction.
func (c *Client) FundingTx() (*wire.MsgTx, error) {
	if c.funding == nil || !c.funding.Complete() {
		return nil, fmt.Errorf("no finalized funding in state %s",
			stateNames[c.state])
	}
	return c.funding.Tx, nil
}
