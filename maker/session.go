// Copyright (c) 2018-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package maker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/dcrd/dcrutil/v3"
	"github.com/decred/dcrd/wire"
	"github.com/decred/joinswap/contract"
	"github.com/decred/joinswap/peer"
	"github.com/decred/joinswap/swaptx"
)

const (
	// Phase one states
	StateAwaitingPhase1Connections = iota
	StateAwaitingUserData
	StateContractBuilt
	StateFundingRefundSent
	StateRefundCollected
	StateRefundFinalized
	StateFundingCollected
	StateFundingFinalized
	// Phase two states
	StateAwaitingPhase2Connections
	StatePhase2ContractBuilt
	StatePhase2Funded
	StatePhase2Notified
	// Key handover states
	StateAwaitingHashlockKeys
	StateSecretRevealed
	StateAwaitingFinalKeys
	StateSwapComplete
	// Terminal failure
	StateAborted
)

var stateNames = [...]string{
	StateAwaitingPhase1Connections: "AwaitingPhase1Connections",
	StateAwaitingUserData:          "AwaitingUserData",
	StateContractBuilt:             "ContractBuilt",
	StateFundingRefundSent:         "FundingRefundSent",
	StateRefundCollected:           "RefundCollected",
	StateRefundFinalized:           "RefundFinalized",
	StateFundingCollected:          "FundingCollected",
	StateFundingFinalized:          "FundingFinalized",
	StateAwaitingPhase2Connections: "AwaitingPhase2Connections",
	StatePhase2ContractBuilt:       "Phase2ContractBuilt",
	StatePhase2Funded:              "Phase2Funded",
	StatePhase2Notified:            "Phase2Notified",
	StateAwaitingHashlockKeys:      "AwaitingHashlockKeys",
	StateSecretRevealed:            "SecretRevealed",
	StateAwaitingFinalKeys:         "AwaitingFinalKeys",
	StateSwapComplete:              "SwapComplete",
	StateAborted:                   "Aborted",
}

// transitions lists the states reachable from every state other than by
// aborting.  Funding signatures are only collected once the refund has
// been finalized and handed out.
var transitions = [...][]int{
	StateAwaitingPhase1Connections: {StateAwaitingUserData},
	StateAwaitingUserData:          {StateContractBuilt},
	StateContractBuilt:             {StateFundingRefundSent},
	StateFundingRefundSent:         {StateRefundCollected},
	StateRefundCollected:           {StateRefundFinalized},
	StateRefundFinalized:           {StateFundingCollected},
	StateFundingCollected:          {StateFundingFinalized},
	StateFundingFinalized:          {StateAwaitingPhase2Connections},
	StateAwaitingPhase2Connections: {StatePhase2ContractBuilt},
	StatePhase2ContractBuilt:       {StatePhase2Funded},
	StatePhase2Funded:              {StatePhase2Notified},
	StatePhase2Notified:            {StateAwaitingHashlockKeys},
	StateAwaitingHashlockKeys:      {StateSecretRevealed},
	StateSecretRevealed:            {StateAwaitingFinalKeys},
	StateAwaitingFinalKeys:         {StateSwapComplete},
	StateSwapComplete:              nil,
	StateAborted:                   nil,
}

const (
	// Exchange has completed successfully
	ReasonSuccess = iota
	// Aborting due to a silent peer
	ReasonTimeout
	// Aborting due to a issue during exchange
	ReasonFailedExchange
	// Aborting due to an internal error (i.e. broken RPC connection)
	ReasonInternalError
)

var reasonNames = [...]string{
	ReasonSuccess:        "exchange was completed",
	ReasonTimeout:        "idle timeout",
	ReasonFailedExchange: "exchange error",
	ReasonInternalError:  "internal error",
}

// participant is a phase one user funding the users-to-maker contract.
type participant struct {
	conn *peer.Conn
	// keys are the cooperative, timelock and hashlock keys.
	keys         []*secp256k1.PublicKey
	collateral   *swaptx.Collateral
	refundScript []byte
}

// recipient is a phase two identity paid through its own maker-to-user
// contract.
type recipient struct {
	conn          *peer.Conn
	multisig      *secp256k1.PublicKey
	hashlock      *secp256k1.PublicKey
	makerMultisig *contract.KeyPair
	makerTimelock *contract.KeyPair
	con           *contract.Contract
	funding       *wire.MsgTx
	fee           int64
}

// Session keeps the state of a single swap between the maker and its
// users.
type Session struct {
	finsema int32 // Finalization semaphore

	m      *Maker
	accept func() (net.Conn, error)
	state  int // Current state of the exchange
	err    error

	// secret is the commitment shared by both phases.
	secret *contract.Commitment
	// keys are the maker's cooperative, timelock and hashlock keys in
	// the users-to-maker contract.
	keys []*contract.KeyPair

	participants []*participant
	con          *contract.Contract
	funding      *swaptx.Template
	refund       *swaptx.Template

	recipients []*recipient

	// privs are the private keys handed over by the participants, by
	// path and then by participant.
	privs [3][]*secp256k1.PrivateKey

	connMu sync.Mutex
	conns  []*peer.Conn
}

// NewSession creates a new swap session with a fresh commitment secret.
func (m *Maker) NewSession() (*Session, error) {
	secret, err := contract.NewCommitment()
	if err != nil {
		return nil, err
	}
	keys, err := contract.GenerateKeyPairs(3)
	if err != nil {
		return nil, err
	}
	s := &Session{
		m:      m,
		secret: secret,
		keys:   keys,
	}
	log.Infof("New session %s", s)
	return s, nil
}

// State returns the name of the current state.
func (s *Session) State() string {
	return stateNames[s.state]
}

func (s *Session) ready(next int) (bool, error) {
	for _, st := range transitions[s.state] {
		if st == next {
			return true, nil
		}
	}
	if transitions[s.state] == nil {
		return false, fmt.Errorf("cannot advance past the final stage: "+
			"requested %s", stateNames[next])
	}
	return false, fmt.Errorf("not ready to advance to %s from %s",
		stateNames[next], stateNames[s.state])
}

// advance moves the session to the next state.
func (s *Session) advance(next int) error {
	if ok, err := s.ready(next); !ok {
		return err
	}
	s.state = next
	log.Debugf("Session %s", s)
	return nil
}

func (s *Session) addConn(c *peer.Conn) {
	s.connMu.Lock()
	s.conns = append(s.conns, c)
	s.connMu.Unlock()
}

func (s *Session) closeConns() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	for _, c := range s.conns {
		c.Close()
	}
}

// reasonFor classifies the error that ended a session.
func reasonFor(err error) int {
	switch {
	case errors.Is(err, peer.ErrTimeout):
		return ReasonTimeout
	case errors.Is(err, contract.ErrProtocol),
		errors.Is(err, contract.ErrParse):
		return ReasonFailedExchange
	default:
		return ReasonInternalError
	}
}

// FinalizeExchange terminates the session, closing all connections.  Any
// reason other than ReasonSuccess aborts the swap.
func (s *Session) FinalizeExchange(ctx context.Context, reason int, details error) {
	if reason == ReasonSuccess && s.state != StateSwapComplete {
		panic("no reason for success")
	}

	// Make sure only one finalization process is running
	if !atomic.CompareAndSwapInt32(&s.finsema, 0, 1) {
		return
	}

	s.closeConns()

	logf := log.Info
	message := fmt.Sprintf("Finalizing exchange for %s", s)
	if reason != ReasonSuccess {
		logf = log.Warn
		message += fmt.Sprintf(" due to %s", reasonNames[reason])
		s.state = StateAborted
		s.err = details
	}
	if details != nil {
		message += fmt.Sprintf(": %v", details)
	}
	logf(message)
}

// Err returns the error that aborted the session.
func (s *Session) Err() error {
	return s.err
}

func (s *Session) String() string {
	str := fmt.Sprintf("hash %s state %s", s.secret.Hash(),
		stateNames[s.state])
	if s.con != nil {
		str += fmt.Sprintf(" contract %s", s.con.Addr)
	}
	return str
}

// Run drives the session from the first connection to the final key
// handover.  accept provides the user connections of both phases.  Any
// failure aborts the session.
func (s *Session) Run(ctx context.Context, accept func() (net.Conn, error)) error {
	s.accept = accept
	steps := []func(context.Context) error{
		s.AcceptParticipants,
		s.BuildContract,
		s.SendTemplates,
		s.CollectRefund,
		s.FinalizeRefund,
		s.CollectFunding,
		s.FinalizeFunding,
		s.AcceptRecipients,
		s.FundRecipients,
		s.NotifyRecipients,
		s.RevealSecret,
		s.CollectFinalKeys,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			if ctx.Err() != nil {
				err = fmt.Errorf("%v: %w", err, ctx.Err())
			}
			s.FinalizeExchange(ctx, reasonFor(err), err)
			return err
		}
	}

	profit, err := s.Profit()
	if err != nil {
		s.FinalizeExchange(ctx, ReasonInternalError, err)
		return err
	}
	log.Infof("Swap complete, profit %v", dcrutil.Amount(profit))
	s.FinalizeExchange(ctx, ReasonSuccess, nil)
	return nil
}
