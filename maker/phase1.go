// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package maker

import (
	"context"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/dcrd/dcrutil/v3"
	"github.com/decred/joinswap/contract"
	"github.com/decred/joinswap/peer"
	"github.com/decred/joinswap/swaptx"
)

// acceptUsers waits for n connections.
func (s *Session) acceptUsers(n int, prefix string) ([]*peer.Conn, error) {
	conns := make([]*peer.Conn, 0, n)
	for len(conns) < n {
		c, err := s.accept()
		if err != nil {
			return nil, fmt.Errorf("failed to accept a user: %w", err)
		}
		p := peer.New(c, s.m.idleTimeout)
		p.SetName(fmt.Sprintf("%s%d(%s)", prefix, len(conns),
			c.RemoteAddr()))
		s.addConn(p)
		conns = append(conns, p)
		log.Infof("Accepted user %s", p)
	}
	return conns, nil
}

// AcceptParticipants waits for the phase one users.  The first user to
// connect becomes user A and the second one user B.
func (s *Session) AcceptParticipants(ctx context.Context) error {
	if ok, err := s.ready(StateAwaitingUserData); !ok {
		return err
	}
	conns, err := s.acceptUsers(Phase1Users, "user")
	if err != nil {
		return err
	}
	for _, c := range conns {
		s.participants = append(s.participants, &participant{conn: c})
	}
	return s.advance(StateAwaitingUserData)
}

// readUserData reads the keys, the collateral and the refund address of
// a participant.
func (s *Session) readUserData(p *participant) error {
	params := s.m.chainParams

	tokens, err := p.conn.ReadTokens(3)
	if err != nil {
		return err
	}
	p.keys, err = contract.ParsePubKeys(tokens, 3)
	if err != nil {
		return fmt.Errorf("%s: %w", p.conn, err)
	}

	desc, err := p.conn.ReadLine()
	if err != nil {
		return err
	}
	opStr, err := p.conn.ReadLine()
	if err != nil {
		return err
	}
	op, err := swaptx.ParseOutPoint(opStr)
	if err != nil {
		return fmt.Errorf("%s: %w", p.conn, err)
	}
	var proof swaptx.Proof
	if err := p.conn.ReadJSON(&proof); err != nil {
		return err
	}
	p.collateral = &swaptx.Collateral{
		Descriptor: desc,
		OutPoint:   *op,
		PrevTx:     proof.Tx,
	}
	if _, err := p.collateral.Verify(params); err != nil {
		return fmt.Errorf("%s: %w", p.conn, err)
	}

	addr, err := p.conn.ReadLine()
	if err != nil {
		return err
	}
	p.refundScript, err = contract.AddressScript(params, addr)
	if err != nil {
		return fmt.Errorf("%s: %w", p.conn, err)
	}

	log.Debugf("%s brings %v in %s, refund to %s", p.conn,
		dcrutil.Amount(p.collateral.Value()),
		swaptx.FormatOutPoint(op), addr)
	return nil
}

// BuildContract collects the data of every participant and creates the
// users-to-maker contract.
func (s *Session) BuildContract(ctx context.Context) error {
	if ok, err := s.ready(StateContractBuilt); !ok {
		return err
	}

	for _, p := range s.participants {
		if err := s.readUserData(p); err != nil {
			return err
		}
	}
	for i, p := range s.participants {
		for _, q := range s.participants[:i] {
			if p.collateral.OutPoint == q.collateral.OutPoint {
				return contract.MakeError(contract.ErrProtocol,
					fmt.Sprintf("%s and %s bring the same collateral",
						q.conn, p.conn), nil)
			}
		}
	}

	a, b := s.participants[0], s.participants[1]
	keys := make([]*secp256k1.PublicKey, 0, 9)
	for path := range s.keys {
		keys = append(keys, a.keys[path], b.keys[path], s.keys[path].Pub)
	}
	con, err := contract.NewUsersToMaker(s.m.chainParams, keys,
		s.secret.Hash())
	if err != nil {
		return err
	}
	s.con = con
	log.Infof("Users-to-maker contract %s", con.Descriptor())

	return s.advance(StateContractBuilt)
}

// SendTemplates builds the funding and refund templates and sends them to
// every participant together with the contract keys and the commitment
// hash.
func (s *Session) SendTemplates(ctx context.Context) error {
	if ok, err := s.ready(StateFundingRefundSent); !ok {
		return err
	}

	collaterals := make([]*swaptx.Collateral, len(s.participants))
	dests := make([]swaptx.RefundDest, len(s.participants))
	for i, p := range s.participants {
		collaterals[i] = p.collateral
		dests[i] = swaptx.RefundDest{
			PkScript: p.refundScript,
			Value:    p.collateral.Value(),
		}
	}

	funding, err := swaptx.BuildFunding(collaterals, s.con, s.m.feeRate,
		s.m.random)
	if err != nil {
		return err
	}
	if funding.Fee > swaptx.MaxFundingFee {
		return contract.MakeError(contract.ErrWallet, fmt.Sprintf(
			"funding fee %d exceeds %d, lower the fee rate",
			funding.Fee, swaptx.MaxFundingFee), nil)
	}
	refund, err := swaptx.BuildRefund(funding, s.con, dests, s.m.random)
	if err != nil {
		return err
	}
	s.funding, s.refund = funding, refund

	keys := contract.FormatPubKeys(s.con.Keys()...)
	hash := s.secret.Hash().String()
	for _, p := range s.participants {
		if err := p.conn.WriteTokens(keys...); err != nil {
			return err
		}
		if err := p.conn.WriteLine(hash); err != nil {
			return err
		}
		if err := p.conn.WriteJSON(funding); err != nil {
			return err
		}
		if err := p.conn.WriteJSON(refund); err != nil {
			return err
		}
	}

	return s.advance(StateFundingRefundSent)
}

// readTemplate reads a template from p and merges its signatures into
// dst.  The template must describe the same transaction.
func readTemplate(p *participant, dst *swaptx.Template) error {
	var t swaptx.Template
	if err := p.conn.ReadJSON(&t); err != nil {
		return err
	}
	if err := dst.Combine(&t); err != nil {
		return fmt.Errorf("%s: %w", p.conn, err)
	}
	return nil
}

// CollectRefund gathers the timelock path signatures of the participants
// on the refund.
func (s *Session) CollectRefund(ctx context.Context) error {
	if ok, err := s.ready(StateRefundCollected); !ok {
		return err
	}
	for _, p := range s.participants {
		if err := readTemplate(p, s.refund); err != nil {
			return err
		}
		if s.refund.Inputs[0].Signature(p.keys[contract.PathTimelock]) == nil {
			return contract.MakeError(contract.ErrProtocol, fmt.Sprintf(
				"%s did not sign the refund", p.conn), nil)
		}
	}
	return s.advance(StateRefundCollected)
}

// FinalizeRefund adds the maker's timelock signature to the refund and
// hands the spendable refund to every participant.
func (s *Session) FinalizeRefund(ctx context.Context) error {
	if ok, err := s.ready(StateRefundFinalized); !ok {
		return err
	}
	err := s.refund.SignInput(0, s.keys[contract.PathTimelock].Priv)
	if err != nil {
		return err
	}
	err = s.refund.FinalizeContract(0, s.con, contract.PathTimelock, nil)
	if err != nil {
		return err
	}
	for _, p := range s.participants {
		if err := p.conn.WriteJSON(s.refund); err != nil {
			return err
		}
	}
	log.Infof("Refund %v finalized", s.refund.TxHash())
	return s.advance(StateRefundFinalized)
}

// CollectFunding gathers the signatures of the participants on their own
// funding inputs.
func (s *Session) CollectFunding(ctx context.Context) error {
	if ok, err := s.ready(StateFundingCollected); !ok {
		return err
	}
	for _, p := range s.participants {
		if err := readTemplate(p, s.funding); err != nil {
			return err
		}
	}
	return s.advance(StateFundingCollected)
}

// FinalizeFunding creates the funding signature scripts and hands the
// complete funding transaction to every participant.
func (s *Session) FinalizeFunding(ctx context.Context) error {
	if ok, err := s.ready(StateFundingFinalized); !ok {
		return err
	}
	if err := s.funding.FinalizeP2PKH(s.m.chainParams); err != nil {
		return err
	}
	for _, p := range s.participants {
		if err := p.conn.WriteJSON(s.funding); err != nil {
			return err
		}
	}
	log.Infof("Funding %v finalized", s.funding.TxHash())

	if s.m.publish {
		if err := s.m.wallet.PublishTransaction(ctx, s.funding.Tx); err != nil {
			return err
		}
	}
	return s.advance(StateFundingFinalized)
}
