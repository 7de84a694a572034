// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package user

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/joinswap/contract"
	"github.com/decred/joinswap/peer"
	"github.com/decred/joinswap/swaptx"
	"github.com/decred/joinswap/wallet"
	"github.com/stretchr/testify/require"
)

// fakeMaker scripts the maker side of phase one for a client that
// becomes user A.  The second user is simulated.
type fakeMaker struct {
	t      *testing.T
	params *chaincfg.Params
	conn   *peer.Conn

	other     *swaptx.Collateral
	otherKeys []*contract.KeyPair
	keys      []*contract.KeyPair
	secret    *contract.Commitment

	con     *contract.Contract
	funding *swaptx.Template
	refund  *swaptx.Template
}

func newClient(t *testing.T) (*Client, *fakeMaker) {
	params := chaincfg.SimNetParams()
	chain := wallet.NewChain()

	w := wallet.NewMemWallet(params, chain, 1e5)
	require.NoError(t, w.Mint(1e6))
	ow := wallet.NewMemWallet(params, chain, 1e5)
	require.NoError(t, ow.Mint(1e6))
	other, err := ow.Collateral(context.Background())
	require.NoError(t, err)

	ours, theirs := net.Pipe()
	c, err := New(&Config{
		ChainParams: params,
		Wallet:      w,
		Dial: func(ctx context.Context) (net.Conn, error) {
			return ours, nil
		},
		IdleTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	secret, err := contract.NewCommitment()
	require.NoError(t, err)
	otherKeys, err := contract.GenerateKeyPairs(3)
	require.NoError(t, err)
	keys, err := contract.GenerateKeyPairs(3)
	require.NoError(t, err)
	return c, &fakeMaker{
		t:         t,
		params:    params,
		conn:      peer.New(theirs, 5*time.Second),
		other:     other,
		otherKeys: otherKeys,
		keys:      keys,
		secret:    secret,
	}
}

// sendTemplates reads the client's data and answers with the contract and
// the templates.  swap exchanges two of the contract keys.
func (f *fakeMaker) sendTemplates(swap [2]int) error {
	tokens, err := f.conn.ReadTokens(3)
	if err != nil {
		return err
	}
	userKeys, err := contract.ParsePubKeys(tokens, 3)
	if err != nil {
		return err
	}
	desc, err := f.conn.ReadLine()
	if err != nil {
		return err
	}
	opStr, err := f.conn.ReadLine()
	if err != nil {
		return err
	}
	op, err := swaptx.ParseOutPoint(opStr)
	if err != nil {
		return err
	}
	var proof swaptx.Proof
	if err := f.conn.ReadJSON(&proof); err != nil {
		return err
	}
	addr, err := f.conn.ReadLine()
	if err != nil {
		return err
	}
	refundScript, err := contract.AddressScript(f.params, addr)
	if err != nil {
		return err
	}
	own := &swaptx.Collateral{Descriptor: desc, OutPoint: *op, PrevTx: proof.Tx}

	var keys []*secp256k1.PublicKey
	for path := 0; path < 3; path++ {
		keys = append(keys, userKeys[path], f.otherKeys[path].Pub,
			f.keys[path].Pub)
	}
	keys[swap[0]], keys[swap[1]] = keys[swap[1]], keys[swap[0]]
	f.con, err = contract.NewUsersToMaker(f.params, keys, f.secret.Hash())
	if err != nil {
		return err
	}

	otherScript, err := contract.AddressScript(f.params,
		mustAddress(f.t, f.params))
	if err != nil {
		return err
	}
	f.funding, err = swaptx.BuildFunding([]*swaptx.Collateral{own, f.other},
		f.con, swaptx.DefaultFeeRate, rand.Reader)
	if err != nil {
		return err
	}
	f.refund, err = swaptx.BuildRefund(f.funding, f.con, []swaptx.RefundDest{
		{PkScript: refundScript, Value: own.Value()},
		{PkScript: otherScript, Value: f.other.Value()},
	}, rand.Reader)
	if err != nil {
		return err
	}

	if err := f.conn.WriteTokens(contract.FormatPubKeys(keys...)...); err != nil {
		return err
	}
	if err := f.conn.WriteLine(f.secret.Hash().String()); err != nil {
		return err
	}
	if err := f.conn.WriteJSON(f.funding); err != nil {
		return err
	}
	return f.conn.WriteJSON(f.refund)
}

func mustAddress(t *testing.T, params *chaincfg.Params) string {
	kp, err := contract.GenerateKeyPair()
	require.NoError(t, err)
	addr, err := contract.P2PKHAddress(params, kp.Pub)
	require.NoError(t, err)
	return addr.Address()
}

func TestFundingBeforeRefund(t *testing.T) {
	c, f := newClient(t)
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()

	require.NoError(t, f.sendTemplates([2]int{0, 0}))
	var signed swaptx.Template
	require.NoError(t, f.conn.ReadJSON(&signed))
	require.Equal(t, f.refund.TxHash(), signed.TxHash())
	require.NoError(t, f.refund.Combine(&signed))

	// Hand out the funding for signing instead of the finalized refund.
	require.NoError(t, f.conn.WriteJSON(f.funding))

	err := <-errc
	require.True(t, errors.Is(err, contract.ErrProtocol), "%v", err)
	require.Equal(t, "Aborted", c.State())

	// The client hangs up without signing its funding input.
	_, err = f.conn.ReadLine()
	require.Error(t, err)
	_, err = c.FundingTx()
	require.Error(t, err)
}

func TestMisplacedKeys(t *testing.T) {
	c, f := newClient(t)
	errc := make(chan error, 1)
	go func() { errc <- c.Run(context.Background()) }()

	// Put user A's timelock key into the hashlock path.  The client
	// hangs up before reading the templates.
	f.sendTemplates([2]int{3, 6})

	err := <-errc
	require.True(t, errors.Is(err, contract.ErrProtocol), "%v", err)
	require.Equal(t, "Aborted", c.State())
	_, err = f.conn.ReadLine()
	require.Error(t, err)
}

func TestSignFundingOrder(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()
	for _, st := range []int{StateValidated, StateRefundSigned} {
		c.state = st
		require.Error(t, c.SignFunding(ctx), stateNames[st])
		require.Equal(t, st, c.state)
	}
	_, err := c.RefundTx()
	require.Error(t, err)
	_, err = c.RedeemTx(ctx, nil)
	require.Error(t, err)
}

func TestReceiveSecret(t *testing.T) {
	params := chaincfg.SimNetParams()
	secret, err := contract.NewCommitment()
	require.NoError(t, err)
	preimage, err := secret.Preimage()
	require.NoError(t, err)
	makerKeys, err := contract.GenerateKeyPairs(2)
	require.NoError(t, err)
	wrong, err := contract.GenerateKeyPair()
	require.NoError(t, err)

	tests := []struct {
		name     string
		preimage contract.Preimage
		key      *secp256k1.PrivateKey
		ok       bool
	}{
		{"valid", preimage, makerKeys[0].Priv, true},
		{"wrong preimage", contract.Preimage{1}, makerKeys[0].Priv, false},
		{"wrong key", preimage, wrong.Priv, false},
		{"timelock key", preimage, makerKeys[1].Priv, false},
	}
	for _, test := range tests {
		test := test
		c, _ := newClient(t)
		ours, theirs := net.Pipe()
		c.conn2 = peer.New(ours, time.Second)
		maker := peer.New(theirs, time.Second)
		c.secret = contract.Committed(secret.Hash())
		c.payout, err = contract.NewMakerToUser(params, c.multisig.Pub,
			makerKeys[0].Pub, makerKeys[1].Pub, c.hashlock.Pub,
			secret.Hash())
		require.NoError(t, err)
		c.state = StateHashlockKeyReleased

		go func() {
			if maker.WriteJSON(test.preimage) != nil {
				return
			}
			maker.WriteLine(contract.FormatPrivKey(test.key))
		}()
		err = c.ReceiveSecret(context.Background())
		ours.Close()
		theirs.Close()
		if !test.ok {
			require.True(t, errors.Is(err, contract.ErrProtocol),
				"%s: %v", test.name, err)
			require.Nil(t, c.makerMultisig, test.name)
			continue
		}
		require.NoError(t, err, test.name)
		require.Equal(t, "SecretReceived", c.State())
		p, err := c.Preimage()
		require.NoError(t, err)
		require.Equal(t, preimage, p)
	}
}
