// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package maker

import (
	"context"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/dcrd/dcrutil/v3"
	"github.com/decred/dcrd/wire"
	"github.com/decred/joinswap/contract"
	"github.com/decred/joinswap/swaptx"
)

// scriptImporter is implemented by wallets able to watch contract
// addresses.
type scriptImporter interface {
	ImportScript(ctx context.Context, script []byte) (string, error)
}

// AcceptRecipients waits for the phase two identities, reads their keys
// and creates a maker-to-user contract for each of them.
func (s *Session) AcceptRecipients(ctx context.Context) error {
	if err := s.advance(StateAwaitingPhase2Connections); err != nil {
		return err
	}
	if ok, err := s.ready(StatePhase2ContractBuilt); !ok {
		return err
	}

	conns, err := s.acceptUsers(Phase2Users, "recipient")
	if err != nil {
		return err
	}
	for _, c := range conns {
		tokens, err := c.ReadTokens(2)
		if err != nil {
			return err
		}
		keys, err := contract.ParsePubKeys(tokens, 2)
		if err != nil {
			return fmt.Errorf("%s: %w", c, err)
		}
		pairs, err := contract.GenerateKeyPairs(2)
		if err != nil {
			return err
		}
		r := &recipient{
			conn:          c,
			multisig:      keys[0],
			hashlock:      keys[1],
			makerMultisig: pairs[0],
			makerTimelock: pairs[1],
		}
		r.con, err = contract.NewMakerToUser(s.m.chainParams, r.multisig,
			r.makerMultisig.Pub, r.makerTimelock.Pub, r.hashlock,
			s.secret.Hash())
		if err != nil {
			return fmt.Errorf("%s: %w", c, err)
		}
		log.Infof("Maker-to-user contract for %s: %s", c,
			r.con.Descriptor())
		s.recipients = append(s.recipients, r)
	}

	return s.advance(StatePhase2ContractBuilt)
}

// FundRecipients pays the configured amount into every maker-to-user
// contract from the maker's wallet.
func (s *Session) FundRecipients(ctx context.Context) error {
	if ok, err := s.ready(StatePhase2Funded); !ok {
		return err
	}
	for _, r := range s.recipients {
		tx, fee, err := s.m.wallet.FundScript(ctx, r.con.PayScript,
			s.m.payout)
		if err != nil {
			return err
		}
		if _, err := swaptx.FindOutput(tx, r.con.PayScript); err != nil {
			return contract.MakeError(contract.ErrWallet,
				"wallet did not fund the contract", err)
		}
		r.funding, r.fee = tx, fee
		if imp, ok := s.m.wallet.(scriptImporter); ok {
			if _, err := imp.ImportScript(ctx, r.con.RedeemScript); err != nil {
				return err
			}
		}
		if s.m.publish {
			if err := s.m.wallet.PublishTransaction(ctx, tx); err != nil {
				return err
			}
		}
		log.Infof("Funded %s with %v (fee %v) in %v", r.con.Addr,
			dcrutil.Amount(s.m.payout), dcrutil.Amount(fee), tx.TxHash())
	}
	return s.advance(StatePhase2Funded)
}

// NotifyRecipients sends every recipient the maker keys of its contract
// and the funding transaction identifier.
func (s *Session) NotifyRecipients(ctx context.Context) error {
	if ok, err := s.ready(StatePhase2Notified); !ok {
		return err
	}
	for _, r := range s.recipients {
		err := r.conn.WriteTokens(contract.FormatPubKeys(
			r.makerMultisig.Pub, r.makerTimelock.Pub)...)
		if err != nil {
			return err
		}
		if err := r.conn.WriteLine(r.funding.TxHash().String()); err != nil {
			return err
		}
	}
	return s.advance(StatePhase2Notified)
}

// readPrivKeys reads a private key from every participant and checks it
// against the participant's key in path.
func (s *Session) readPrivKeys(path contract.Path) error {
	privs := make([]*secp256k1.PrivateKey, 0, len(s.participants))
	for _, p := range s.participants {
		line, err := p.conn.ReadLine()
		if err != nil {
			return err
		}
		priv, err := contract.ParsePrivKey(line)
		if err != nil {
			return fmt.Errorf("%s: %w", p.conn, err)
		}
		if err := contract.MatchPrivKey(priv, p.keys[path]); err != nil {
			return fmt.Errorf("%s: %s key: %w", p.conn, path, err)
		}
		privs = append(privs, priv)
	}
	s.privs[path] = privs
	return nil
}

// RevealSecret waits for the hashlock keys of the participants and, once
// every one of them is valid, hands the commitment preimage and the
// maker's multisig keys over to the recipients.
func (s *Session) RevealSecret(ctx context.Context) error {
	if err := s.advance(StateAwaitingHashlockKeys); err != nil {
		return err
	}
	if ok, err := s.ready(StateSecretRevealed); !ok {
		return err
	}
	if err := s.readPrivKeys(contract.PathHashlock); err != nil {
		return err
	}

	preimage, err := s.secret.Preimage()
	if err != nil {
		return err
	}
	for _, r := range s.recipients {
		if err := r.conn.WriteJSON(preimage); err != nil {
			return err
		}
		err := r.conn.WriteLine(contract.FormatPrivKey(r.makerMultisig.Priv))
		if err != nil {
			return err
		}
	}
	log.Infof("Revealed the preimage of %s", s.secret.Hash())
	return s.advance(StateSecretRevealed)
}

// CollectFinalKeys waits for the cooperative keys of the participants
// which give the maker sole control of the users-to-maker contract.
func (s *Session) CollectFinalKeys(ctx context.Context) error {
	if err := s.advance(StateAwaitingFinalKeys); err != nil {
		return err
	}
	if ok, err := s.ready(StateSwapComplete); !ok {
		return err
	}
	if err := s.readPrivKeys(contract.PathCooperative); err != nil {
		return err
	}
	return s.advance(StateSwapComplete)
}

// Profit returns the value kept by the maker: the users-to-maker contract
// minus everything spent on the maker-to-user contracts.
func (s *Session) Profit() (int64, error) {
	if s.funding == nil || len(s.recipients) == 0 {
		return 0, fmt.Errorf("swap in state %s has no profit",
			stateNames[s.state])
	}
	idx, err := swaptx.FindOutput(s.funding.Tx, s.con.PayScript)
	if err != nil {
		return 0, err
	}
	profit := s.funding.Tx.TxOut[idx].Value
	for _, r := range s.recipients {
		if r.funding == nil {
			return 0, fmt.Errorf("%s is not funded", r.conn)
		}
		out, err := swaptx.FindOutput(r.funding, r.con.PayScript)
		if err != nil {
			return 0, err
		}
		profit -= r.funding.TxOut[out].Value + r.fee
	}
	return profit, nil
}

// RedeemTx builds the transaction moving the users-to-maker contract to
// a fresh maker address through the cooperative path.  It is only
// available once the swap is complete.
func (s *Session) RedeemTx(ctx context.Context) (*wire.MsgTx, error) {
	if s.state != StateSwapComplete {
		return nil, fmt.Errorf("cannot redeem in state %s",
			stateNames[s.state])
	}
	addr, err := s.m.wallet.NewAddress(ctx)
	if err != nil {
		return nil, err
	}
	pkScript, err := contract.AddressScript(s.m.chainParams, addr.Address())
	if err != nil {
		return nil, err
	}
	privs := make([]*secp256k1.PrivateKey, 0, Phase1Users+1)
	privs = append(privs, s.privs[contract.PathCooperative]...)
	privs = append(privs, s.keys[contract.PathCooperative].Priv)
	return swaptx.SpendContract(s.funding.Tx, s.con,
		contract.PathCooperative, privs, nil, pkScript, s.m.feeRate)
}
