// Copyright (c) 2018-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// The user package implements the participant side of a JoinSwap.  A
// client funds the users-to-maker contract under one identity and is
// paid through a maker-to-user contract under a second, unrelated one.
package user

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/dcrd/dcrutil/v3"
	"github.com/decred/dcrd/wire"
	"github.com/decred/joinswap/contract"
	"github.com/decred/joinswap/peer"
	"github.com/decred/joinswap/swaptx"
	"golang.org/x/sync/errgroup"
)

const (
	StateInitial = iota
	// Phase one states
	StateConnected
	StateDataSent
	StateContractReceived
	StateValidated
	StateRefundSigned
	StateRefundFinalized
	StateFundingSigned
	StateFundingFinalized
	// Phase two states
	StateReconnected
	StateSecondContractSent
	StateAwaitingMakerFunding
	StateHashlockKeyReleased
	StateSecretReceived
	StateFinalKeyReleased
	StateComplete
	// Terminal failure
	StateAborted
)

var stateNames = [...]string{
	StateInitial:              "Initial",
	StateConnected:            "Connected",
	StateDataSent:             "DataSent",
	StateContractReceived:     "ContractReceived",
	StateValidated:            "Validated",
	StateRefundSigned:         "RefundSigned",
	StateRefundFinalized:      "RefundFinalized",
	StateFundingSigned:        "FundingSigned",
	StateFundingFinalized:     "FundingFinalized",
	StateReconnected:          "Reconnected",
	StateSecondContractSent:   "SecondContractSent",
	StateAwaitingMakerFunding: "AwaitingMakerFunding",
	StateHashlockKeyReleased:  "HashlockKeyReleased",
	StateSecretReceived:       "SecretReceived",
	StateFinalKeyReleased:     "FinalKeyReleased",
	StateComplete:             "Complete",
	StateAborted:              "Aborted",
}

const (
	// Exchange has completed successfully
	ReasonSuccess = iota
	// Aborting due to a silent maker
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

// DefaultCollateral is the value in atoms of the output a user locks
// into the phase one contract.
const DefaultCollateral = 1e5

// Dialer opens a new connection to the maker.
type Dialer func(ctx context.Context) (net.Conn, error)

// Config represents configuration options needed to initialize a client.
type Config struct {
	ChainParams *chaincfg.Params
	Wallet      swaptx.CollateralWallet
	Dial        Dialer

	// Chain optionally verifies the maker's phase two funding.
	Chain swaptx.ChainSource

	// MinConfirmations is the number of confirmations the phase two
	// funding needs when Chain is set.
	MinConfirmations int32

	// MinPayout is the lowest acceptable value of the maker-to-user
	// contract when Chain is set.
	MinPayout int64

	// IdleTimeout bounds the wait for every maker message.  Zero
	// selects peer.DefaultIdleTimeout.
	IdleTimeout time.Duration
}

// Client keeps the state of a user taking part in a swap.
type Client struct {
	finsema int32 // Finalization semaphore

	cfg   Config
	state int
	err   error

	// keys are the phase one cooperative, timelock and hashlock keys.
	keys []*contract.KeyPair
	// multisig and hashlock are the phase two identity.
	multisig *contract.KeyPair
	hashlock *contract.KeyPair

	conn1 *peer.Conn // phase one connection
	conn2 *peer.Conn // phase two connection

	collateral *swaptx.Collateral
	refundAddr dcrutil.Address
	party      contract.Party

	secret  *contract.Commitment
	con     *contract.Contract
	funding *swaptx.Template
	refund  *swaptx.Template

	payout        *contract.Contract
	payoutHash    chainhash.Hash
	payoutTx      *wire.MsgTx
	makerMultisig *secp256k1.PrivateKey

	connMu sync.Mutex
}

// New creates a client with fresh identities for both phases.
func New(cfg *Config) (*Client, error) {
	keys, err := contract.GenerateKeyPairs(5)
	if err != nil {
		return nil, err
	}
	c := &Client{
		cfg:      *cfg,
		keys:     keys[:3],
		multisig: keys[3],
		hashlock: keys[4],
	}
	if c.cfg.IdleTimeout == 0 {
		c.cfg.IdleTimeout = peer.DefaultIdleTimeout
	}
	return c, nil
}

// State returns the name of the current state.
func (c *Client) State() string {
	return stateNames[c.state]
}

func (c *Client) ready(next int) (bool, error) {
	switch c.state {
	case StateComplete, StateAborted:
		return false, fmt.Errorf("cannot advance past the final stage: "+
			"requested %s", stateNames[next])
	default:
		if next == c.state+1 {
			return true, nil
		}
	}
	return false, fmt.Errorf("not ready to advance to %s from %s",
		stateNames[next], stateNames[c.state])
}

func (c *Client) advance(next int) error {
	if ok, err := c.ready(next); !ok {
		return err
	}
	c.state = next
	log.Debugf("Client %s", c)
	return nil
}

func (c *Client) dial(ctx context.Context, name string) (*peer.Conn, error) {
	conn, err := c.cfg.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the maker: %w", err)
	}
	p := peer.New(conn, c.cfg.IdleTimeout)
	p.SetName(fmt.Sprintf("maker(%s)", name))
	return p, nil
}

func (c *Client) closeConns() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn1 != nil {
		c.conn1.Close()
	}
	if c.conn2 != nil {
		c.conn2.Close()
	}
}

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

// FinalizeExchange terminates the client, closing its connections.  Any
// reason other than ReasonSuccess aborts the swap.
func (c *Client) FinalizeExchange(ctx context.Context, reason int, details error) {
	if reason == ReasonSuccess && c.state != StateComplete {
		panic("no reason for success")
	}

	// Make sure only one finalization process is running
	if !atomic.CompareAndSwapInt32(&c.finsema, 0, 1) {
		return
	}

	c.closeConns()

	logf := log.Info
	message := fmt.Sprintf("Finalizing exchange for %s", c)
	if reason != ReasonSuccess {
		logf = log.Warn
		message += fmt.Sprintf(" due to %s", reasonNames[reason])
		c.state = StateAborted
		c.err = details
	}
	if details != nil {
		message += fmt.Sprintf(": %v", details)
	}
	logf(message)
}

// Err returns the error that aborted the client.
func (c *Client) Err() error {
	return c.err
}

func (c *Client) String() string {
	str := fmt.Sprintf("state %s", stateNames[c.state])
	if c.con != nil {
		str = fmt.Sprintf("%s %s contract %s", c.party, str, c.con.Addr)
	}
	return str
}

// Run takes part in a complete swap.  Cancelling ctx closes the maker
// connections.
func (c *Client) Run(ctx context.Context) error {
	steps := []func(context.Context) error{
		c.Connect,
		c.SendData,
		c.ReceiveContract,
		c.Validate,
		c.SignRefund,
		c.ReceiveRefund,
		c.SignFunding,
		c.ReceiveFunding,
		c.Reconnect,
		c.SendSecondKeys,
		c.ReleaseHashlockKey,
		c.ReceiveSecret,
		c.ReleaseFinalKey,
	}

	g, ctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		for _, step := range steps {
			if err := step(ctx); err != nil {
				if ctx.Err() != nil {
					err = fmt.Errorf("%v: %w", err, ctx.Err())
				}
				c.FinalizeExchange(ctx, reasonFor(err), err)
				return err
			}
		}
		c.FinalizeExchange(ctx, ReasonSuccess, nil)
		return nil
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			c.closeConns()
		case <-done:
		}
		return nil
	})
	return g.Wait()
}
