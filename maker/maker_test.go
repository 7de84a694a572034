// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package maker

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/dcrd/txscript/v3"
	"github.com/decred/dcrd/wire"
	"github.com/decred/joinswap/contract"
	"github.com/decred/joinswap/peer"
	"github.com/decred/joinswap/swaptx"
	"github.com/decred/joinswap/user"
	"github.com/decred/joinswap/wallet"
	"github.com/stretchr/testify/require"
)

const (
	collateralValue = 100000
	makerFunds      = 1000000
)

type harness struct {
	t       *testing.T
	params  *chaincfg.Params
	chain   *wallet.Chain
	mw      *wallet.MemWallet
	maker   *Maker
	ln      net.Listener
	wallets []*wallet.MemWallet
	clients []*user.Client
}

func newHarness(t *testing.T, idle time.Duration) *harness {
	params := chaincfg.SimNetParams()
	chain := wallet.NewChain()
	mw := wallet.NewMemWallet(params, chain, 0)
	require.NoError(t, mw.Mint(makerFunds))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	return &harness{
		t:      t,
		params: params,
		chain:  chain,
		mw:     mw,
		ln:     ln,
		maker: New(&Config{
			ChainParams: params,
			Wallet:      mw,
			IdleTimeout: idle,
			Publish:     true,
		}),
	}
}

// addUser creates a funded client.  wrap optionally intercepts the
// connections the client opens.
func (h *harness) addUser(wrap func(n int, c net.Conn) net.Conn) *user.Client {
	w := wallet.NewMemWallet(h.params, h.chain, collateralValue)
	require.NoError(h.t, w.Mint(1000000))

	var mu sync.Mutex
	dials := 0
	c, err := user.New(&user.Config{
		ChainParams: h.params,
		Wallet:      w,
		Chain:       w,
		Dial: func(ctx context.Context) (net.Conn, error) {
			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", h.ln.Addr().String())
			if err != nil || wrap == nil {
				return conn, err
			}
			mu.Lock()
			n := dials
			dials++
			mu.Unlock()
			return wrap(n, conn), nil
		},
		MinConfirmations: 1,
		MinPayout:        DefaultPayout,
		IdleTimeout:      10 * time.Second,
	})
	require.NoError(h.t, err)
	h.wallets = append(h.wallets, w)
	h.clients = append(h.clients, c)
	return c
}

// run executes the maker and every client and returns the session, the
// errors of the clients and the error of the maker.
func (h *harness) run() (*Session, []error, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	userErrs := make([]error, len(h.clients))
	var wg sync.WaitGroup
	for i, c := range h.clients {
		wg.Add(1)
		go func(i int, c *user.Client) {
			defer wg.Done()
			userErrs[i] = c.Run(ctx)
		}(i, c)
	}
	s, err := h.maker.Run(ctx, h.ln)
	wg.Wait()
	return s, userErrs, err
}

// verifyInput executes the scripts of input idx of tx.
func verifyInput(t *testing.T, tx *wire.MsgTx, idx int, pkScript []byte) {
	t.Helper()
	flags := txscript.ScriptVerifyCheckSequenceVerify |
		txscript.ScriptVerifySHA256
	vm, err := txscript.NewEngine(pkScript, tx, idx, flags, 0, nil)
	require.NoError(t, err)
	require.NoError(t, vm.Execute())
}

func TestSwap(t *testing.T) {
	h := newHarness(t, 10*time.Second)
	h.addUser(nil)
	h.addUser(nil)

	s, userErrs, err := h.run()
	require.NoError(t, err)
	for _, err := range userErrs {
		require.NoError(t, err)
	}
	require.Equal(t, "SwapComplete", s.State())
	for _, c := range h.clients {
		require.Equal(t, "Complete", c.State())
	}

	// Both collaterals are in the contract minus the funding fee.
	funding := s.funding.Tx
	require.Len(t, funding.TxOut, 1)
	contractValue := funding.TxOut[0].Value
	fundingFee := 2*collateralValue - contractValue
	require.True(t, fundingFee > 0 && fundingFee <= swaptx.MaxFundingFee,
		"funding fee %d", fundingFee)
	fundingHash := funding.TxHash()
	_, confs, err := h.chain.Transaction(context.Background(), &fundingHash)
	require.NoError(t, err)
	require.EqualValues(t, 1, confs)

	// Every user recovers its collateral minus half of both fees through
	// the refund.
	for _, c := range h.clients {
		refund, err := c.RefundTx()
		require.NoError(t, err)
		require.Equal(t, s.refund.TxHash(), refund.TxHash())
		require.Len(t, refund.TxOut, 2)
		for _, out := range refund.TxOut {
			require.EqualValues(t,
				collateralValue-(fundingFee+swaptx.RefundFee)/2,
				out.Value)
		}
		verifyInput(t, refund, 0, s.con.PayScript)
	}

	// The maker keeps the contract minus everything it paid.
	profit, err := s.Profit()
	require.NoError(t, err)
	spent := makerFunds - h.mw.Balance()
	require.Equal(t, contractValue-spent, profit)
	require.True(t, spent > 2*DefaultPayout)

	// Every recipient knows the preimage and can move its payout alone.
	for i, c := range h.clients {
		p, err := c.Preimage()
		require.NoError(t, err)
		require.True(t, p.Matches(s.secret.Hash()))

		redeem, err := c.RedeemTx(context.Background(), nil)
		require.NoError(t, err)
		require.NoError(t, h.wallets[i].PublishTransaction(
			context.Background(), redeem))
	}

	// The maker controls the users-to-maker contract on its own.
	redeem, err := s.RedeemTx(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.mw.PublishTransaction(context.Background(), redeem))
	require.Equal(t, makerFunds-spent+redeem.TxOut[0].Value, h.mw.Balance())
}

// lineRewriter replaces the n-th line written to a connection.  The line
// must be written with a single call.
type lineRewriter struct {
	net.Conn
	mu      sync.Mutex
	lines   int
	n       int
	replace string
}

func (c *lineRewriter) Write(b []byte) (int, error) {
	c.mu.Lock()
	nl := bytes.Count(b, []byte{'\n'})
	hit := c.lines == c.n-1 && nl == 1 && b[len(b)-1] == '\n'
	c.lines += nl
	c.mu.Unlock()
	if hit {
		if _, err := c.Conn.Write([]byte(c.replace + "\n")); err != nil {
			return 0, err
		}
		return len(b), nil
	}
	return c.Conn.Write(b)
}

func TestFraudulentHashlockKey(t *testing.T) {
	h := newHarness(t, 10*time.Second)
	kp, err := contract.GenerateKeyPair()
	require.NoError(t, err)
	h.addUser(nil)
	// The eighth message of the phase one connection is the hashlock
	// key.
	h.addUser(func(n int, c net.Conn) net.Conn {
		if n != 0 {
			return c
		}
		return &lineRewriter{
			Conn:    c,
			n:       8,
			replace: hex.EncodeToString(kp.Priv.Serialize()),
		}
	})

	s, userErrs, err := h.run()
	require.Error(t, err)
	require.True(t, errors.Is(err, contract.ErrProtocol), "%v", err)
	require.Equal(t, "Aborted", s.State())
	for _, err := range userErrs {
		require.Error(t, err)
	}
	for _, c := range h.clients {
		_, err := c.Preimage()
		require.True(t, errors.Is(err, contract.ErrNotRevealed), "%v", err)
		_, err = c.RefundTx()
		require.NoError(t, err)
	}
}

func TestIdleUser(t *testing.T) {
	h := newHarness(t, 100*time.Millisecond)
	for i := 0; i < Phase1Users; i++ {
		c, err := net.Dial("tcp", h.ln.Addr().String())
		require.NoError(t, err)
		defer c.Close()
	}

	s, err := h.maker.Run(context.Background(), h.ln)
	require.True(t, errors.Is(err, peer.ErrTimeout), "%v", err)
	require.Equal(t, "Aborted", s.State())
}

func TestCancel(t *testing.T) {
	h := newHarness(t, 10*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	s, err := h.maker.Run(ctx, h.ln)
	require.Error(t, err)
	require.Equal(t, "Aborted", s.State())
}

func TestStateOrder(t *testing.T) {
	h := newHarness(t, time.Second)
	s, err := h.maker.NewSession()
	require.NoError(t, err)

	// Funding signatures are not collected before the refund is final.
	s.state = StateFundingRefundSent
	require.Error(t, s.CollectFunding(context.Background()))
	s.state = StateRefundCollected
	require.Error(t, s.CollectFunding(context.Background()))
	require.Equal(t, "RefundCollected", s.State())

	// The preimage is not revealed before the recipients are paid.
	s.state = StatePhase2ContractBuilt
	require.Error(t, s.RevealSecret(context.Background()))

	_, err = s.Profit()
	require.Error(t, err)
	_, err = s.RedeemTx(context.Background())
	require.Error(t, err)

	for st, next := range transitions {
		if st == StateSwapComplete || st == StateAborted {
			require.Empty(t, next)
			continue
		}
		require.Equal(t, []int{st + 1}, next, stateNames[st])
	}
}

func TestProfitPaidValue(t *testing.T) {
	h := newHarness(t, time.Second)
	s, err := h.maker.NewSession()
	require.NoError(t, err)

	kps, err := contract.GenerateKeyPairs(9)
	require.NoError(t, err)
	pubs := make([]*secp256k1.PublicKey, len(kps))
	for i, kp := range kps {
		pubs[i] = kp.Pub
	}
	s.con, err = contract.NewUsersToMaker(h.params, pubs, s.secret.Hash())
	require.NoError(t, err)
	fundingTx := wire.NewMsgTx()
	fundingTx.AddTxOut(wire.NewTxOut(199000, s.con.PayScript))
	s.funding = &swaptx.Template{Tx: fundingTx}

	// The recipients are paid less than the configured payout and the
	// funding carries change, so only the contract outputs count.
	paid := []int64{40000, 41000}
	for _, value := range paid {
		rk, err := contract.GenerateKeyPairs(4)
		require.NoError(t, err)
		con, err := contract.NewMakerToUser(h.params, rk[0].Pub, rk[1].Pub,
			rk[2].Pub, rk[3].Pub, s.secret.Hash())
		require.NoError(t, err)
		change, err := contract.P2PKHScript(h.params, rk[1].Pub)
		require.NoError(t, err)
		tx := wire.NewMsgTx()
		tx.AddTxOut(wire.NewTxOut(500000, change))
		tx.AddTxOut(wire.NewTxOut(value, con.PayScript))
		s.recipients = append(s.recipients, &recipient{
			con:     con,
			funding: tx,
			fee:     300,
		})
	}

	profit, err := s.Profit()
	require.NoError(t, err)
	require.Equal(t, int64(199000-40000-41000-2*300), profit)
}
