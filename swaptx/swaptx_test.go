// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package swaptx

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/dcrd/wire"
	"github.com/decred/joinswap/contract"
)

var testParams = chaincfg.SimNetParams()

const testValue = 100000

type testUser struct {
	owner        *contract.KeyPair
	coll         *Collateral
	refundScript []byte
}

type testSwap struct {
	users   []*testUser
	keys    []*contract.KeyPair // contract keys in slot order
	con     *contract.Contract
	secret  *contract.Commitment
	funding *Template
	refund  *Template
}

// fakeCoin creates a transaction paying value atoms to the P2PKH address
// of pub.
func fakeCoin(t *testing.T, pub *secp256k1.PublicKey, value int64) *wire.MsgTx {
	t.Helper()
	var prevHash chainhash.Hash
	if _, err := rand.Read(prevHash[:]); err != nil {
		t.Fatal(err)
	}
	script, err := contract.P2PKHScript(testParams, pub)
	if err != nil {
		t.Fatal(err)
	}
	tx := wire.NewMsgTx()
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(&prevHash, 0, wire.TxTreeRegular),
		Sequence:         wire.MaxTxInSequenceNum,
		ValueIn:          value + 1000,
		BlockHeight:      wire.NullBlockHeight,
		BlockIndex:       wire.NullBlockIndex,
	})
	tx.AddTxOut(wire.NewTxOut(value, script))
	return tx
}

func newTestUser(t *testing.T, value int64) *testUser {
	t.Helper()
	owner, err := contract.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	refundKey, err := contract.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	refundScript, err := contract.P2PKHScript(testParams, refundKey.Pub)
	if err != nil {
		t.Fatal(err)
	}
	prev := fakeCoin(t, owner.Pub, value)
	prevHash := prev.TxHash()
	return &testUser{
		owner: owner,
		coll: &Collateral{
			Descriptor: contract.CollateralDescriptor(owner.Pub),
			OutPoint:   *wire.NewOutPoint(&prevHash, 0, wire.TxTreeRegular),
			PrevTx:     prev,
		},
		refundScript: refundScript,
	}
}

func newTestSwap(t *testing.T) *testSwap {
	t.Helper()
	s := &testSwap{
		users: []*testUser{newTestUser(t, testValue), newTestUser(t, testValue)},
	}
	var err error
	s.keys, err = contract.GenerateKeyPairs(9)
	if err != nil {
		t.Fatal(err)
	}
	pubs := make([]*secp256k1.PublicKey, len(s.keys))
	for i, kp := range s.keys {
		pubs[i] = kp.Pub
	}
	s.secret, err = contract.NewCommitment()
	if err != nil {
		t.Fatal(err)
	}
	s.con, err = contract.NewUsersToMaker(testParams, pubs, s.secret.Hash())
	if err != nil {
		t.Fatal(err)
	}

	colls := []*Collateral{s.users[0].coll, s.users[1].coll}
	s.funding, err = BuildFunding(colls, s.con, DefaultFeeRate, rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	dests := []RefundDest{
		{PkScript: s.users[0].refundScript, Value: testValue},
		{PkScript: s.users[1].refundScript, Value: testValue},
	}
	s.refund, err = BuildRefund(s.funding, s.con, dests, rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func (s *testSwap) expectation(i int) *Expectation {
	return &Expectation{
		Contract:        s.con,
		Collateral:      s.users[i].coll.OutPoint,
		CollateralValue: testValue,
		RefundScript:    s.users[i].refundScript,
		Participants:    len(s.users),
	}
}

func TestValidateAccepts(t *testing.T) {
	s := newTestSwap(t)
	for i := range s.users {
		if err := Validate(s.funding, s.refund, s.expectation(i)); err != nil {
			t.Fatalf("user %d rejected valid templates: %v", i, err)
		}
	}

	// No value is created or destroyed.
	contractValue := s.funding.Tx.TxOut[0].Value
	if s.funding.InputValue()-s.funding.Fee != contractValue {
		t.Fatal("funding does not balance")
	}
	if s.refund.OutputValue()+s.refund.Fee != contractValue {
		t.Fatal("refund does not balance")
	}
	want := testValue - (s.funding.Fee+RefundFee)/2
	for _, out := range s.refund.Tx.TxOut {
		if out.Value != want {
			t.Fatalf("refund output of %d, expected %d", out.Value, want)
		}
	}
	if s.refund.Fee <= 0 {
		t.Fatalf("refund pays a fee of %d", s.refund.Fee)
	}
}

// withFundingFee rebuilds the templates of s so that the funding
// transaction pays exactly fee.
func (s *testSwap) withFundingFee(t *testing.T, fee int64) {
	t.Helper()
	s.funding.Tx.TxOut[0].Value = s.funding.InputValue() - fee
	s.funding.Fee = fee
	dests := []RefundDest{
		{PkScript: s.users[0].refundScript, Value: testValue},
		{PkScript: s.users[1].refundScript, Value: testValue},
	}
	var err error
	s.refund, err = BuildRefund(s.funding, s.con, dests, rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
}

func TestFundingFeeBoundary(t *testing.T) {
	s := newTestSwap(t)
	s.withFundingFee(t, MaxFundingFee)
	if err := Validate(s.funding, s.refund, s.expectation(0)); err != nil {
		t.Fatalf("fee of %d rejected: %v", MaxFundingFee, err)
	}

	s.withFundingFee(t, MaxFundingFee+1)
	err := Validate(s.funding, s.refund, s.expectation(0))
	if !errors.Is(err, contract.ErrProtocol) || !strings.Contains(err.Error(), "rule 2") {
		t.Fatalf("fee of %d accepted: %v", MaxFundingFee+1, err)
	}
}

func TestValidateRejects(t *testing.T) {
	otherScript := newTestUser(t, 1).refundScript

	tests := []struct {
		name   string
		rule   string
		mutate func(s *testSwap, e *Expectation)
	}{
		{"funding pays elsewhere", "rule 1", func(s *testSwap, e *Expectation) {
			s.funding.Tx.TxOut[0].PkScript = otherScript
		}},
		{"funding has change", "rule 1", func(s *testSwap, e *Expectation) {
			s.funding.Tx.AddTxOut(wire.NewTxOut(0, otherScript))
		}},
		{"declared fee lies", "rule 2", func(s *testSwap, e *Expectation) {
			s.funding.Fee--
		}},
		{"collateral missing", "rule 3", func(s *testSwap, e *Expectation) {
			e.Collateral = newTestUser(t, 1).coll.OutPoint
		}},
		{"collateral undervalued", "rule 3", func(s *testSwap, e *Expectation) {
			e.CollateralValue++
		}},
		{"input value differs", "rule 4", func(s *testSwap, e *Expectation) {
			s.funding.Tx.TxIn[0].ValueIn++
		}},
		{"input proof forged", "rule 4", func(s *testSwap, e *Expectation) {
			s.funding.Inputs[1].PrevTx = newTestUser(t, 1).coll.PrevTx
		}},
		{"input proof missing", "rule 4", func(s *testSwap, e *Expectation) {
			s.funding.Inputs[1].PrevTx = nil
		}},
		{"refund spends elsewhere", "rule 5", func(s *testSwap, e *Expectation) {
			s.refund.Tx.TxIn[0].PreviousOutPoint.Index = 1
		}},
		{"refund has two inputs", "rule 5", func(s *testSwap, e *Expectation) {
			s.refund.Tx.AddTxIn(&wire.TxIn{PreviousOutPoint: e.Collateral})
			s.refund.Inputs = append(s.refund.Inputs, &Input{})
		}},
		{"refund not timelocked", "rule 6", func(s *testSwap, e *Expectation) {
			s.refund.Tx.TxIn[0].Sequence = 0
		}},
		{"refund version", "rule 6", func(s *testSwap, e *Expectation) {
			s.refund.Tx.Version = 1
		}},
		{"refund skips us", "rule 7", func(s *testSwap, e *Expectation) {
			e.RefundScript = otherScript
		}},
		{"refund pays twice", "rule 7", func(s *testSwap, e *Expectation) {
			for _, out := range s.refund.Tx.TxOut {
				out.PkScript = e.RefundScript
			}
		}},
		{"refund short", "rule 8", func(s *testSwap, e *Expectation) {
			for _, out := range s.refund.Tx.TxOut {
				out.Value--
			}
		}},
	}

	for _, test := range tests {
		s := newTestSwap(t)
		e := s.expectation(0)
		test.mutate(s, e)
		err := Validate(s.funding, s.refund, e)
		if !errors.Is(err, contract.ErrProtocol) {
			t.Errorf("%s: expected a protocol error, got %v", test.name, err)
			continue
		}
		if !strings.Contains(err.Error(), test.rule) {
			t.Errorf("%s: expected %s violation, got %v", test.name,
				test.rule, err)
		}
	}
}

// An input without a proof could understate its value and hide the real
// funding fee, since input values are not part of the txid.
func TestValidateRequiresProofs(t *testing.T) {
	const realFee, declaredFee = 10000, 400

	s := newTestSwap(t)
	s.withFundingFee(t, realFee)
	txid := s.funding.TxHash()

	idx, err := s.funding.FindInput(s.users[1].coll.OutPoint)
	if err != nil {
		t.Fatal(err)
	}
	in := s.funding.Inputs[idx]
	in.PrevTx = nil
	in.Value -= realFee - declaredFee
	s.funding.Tx.TxIn[idx].ValueIn = in.Value
	s.funding.Fee = declaredFee
	if s.funding.ComputeFee() != declaredFee {
		t.Fatalf("declared fee %d, computed %d", declaredFee,
			s.funding.ComputeFee())
	}
	if s.funding.TxHash() != txid {
		t.Fatal("input values changed the txid")
	}
	dests := []RefundDest{
		{PkScript: s.users[0].refundScript, Value: testValue},
		{PkScript: s.users[1].refundScript, Value: testValue},
	}
	s.refund, err = BuildRefund(s.funding, s.con, dests, rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	err = Validate(s.funding, s.refund, s.expectation(0))
	if !errors.Is(err, contract.ErrProtocol) || !strings.Contains(err.Error(), "rule 4") {
		t.Fatalf("unproven input accepted: %v", err)
	}
}

// wireCopy sends a template through its JSON encoding.
func wireCopy(t *testing.T, tmpl *Template) *Template {
	t.Helper()
	b, err := json.Marshal(tmpl)
	if err != nil {
		t.Fatal(err)
	}
	var c Template
	if err := json.Unmarshal(b, &c); err != nil {
		t.Fatal(err)
	}
	return &c
}

func TestSignCombineFinalize(t *testing.T) {
	s := newTestSwap(t)
	refundTxID := s.refund.TxHash()

	// Both users sign the refund with their timelock keys.
	userA, userB := wireCopy(t, s.refund), wireCopy(t, s.refund)
	if err := userA.SignInput(0, s.keys[3].Priv); err != nil {
		t.Fatal(err)
	}
	if err := userB.SignInput(0, s.keys[4].Priv); err != nil {
		t.Fatal(err)
	}
	userA, userB = wireCopy(t, userA), wireCopy(t, userB)

	if err := s.refund.FinalizeContract(0, s.con, contract.PathTimelock, nil); err == nil {
		t.Fatal("refund finalized without signatures")
	}
	for _, u := range []*Template{userA, userB} {
		if err := s.refund.Combine(u); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.refund.SignInput(0, s.keys[5].Priv); err != nil {
		t.Fatal(err)
	}
	err := s.refund.FinalizeContract(0, s.con, contract.PathTimelock, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !s.refund.Complete() {
		t.Fatal("refund is not complete")
	}
	if s.refund.TxHash() != refundTxID {
		t.Fatal("refund txid changed by signing")
	}

	// A signature by the wrong key or over another transaction is
	// rejected.
	forged := wireCopy(t, s.funding)
	forged.Inputs[0].addSig(s.keys[3].Pub, userA.Inputs[0].Sigs[contract.FormatPubKey(s.keys[3].Pub)])
	if err := s.funding.Combine(forged); !errors.Is(err, contract.ErrProtocol) {
		t.Fatalf("forged signature accepted: %v", err)
	}
	if err := s.funding.Combine(s.refund); !errors.Is(err, contract.ErrProtocol) {
		t.Fatalf("foreign transaction combined: %v", err)
	}

	// Users sign their own funding inputs.
	fundingTxID := s.funding.TxHash()
	for _, u := range s.users {
		c := wireCopy(t, s.funding)
		idx, err := c.FindInput(u.coll.OutPoint)
		if err != nil {
			t.Fatal(err)
		}
		if err := c.SignInput(idx, u.owner.Priv); err != nil {
			t.Fatal(err)
		}
		if err := s.funding.Combine(wireCopy(t, c)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.funding.FinalizeP2PKH(testParams); err != nil {
		t.Fatal(err)
	}
	if !s.funding.Complete() {
		t.Fatal("funding is not complete")
	}
	if s.funding.TxHash() != fundingTxID {
		t.Fatal("funding txid changed by signing")
	}
}

func TestTemplateRoundTrip(t *testing.T) {
	s := newTestSwap(t)
	if err := s.refund.SignInput(0, s.keys[5].Priv); err != nil {
		t.Fatal(err)
	}
	for _, tmpl := range []*Template{s.funding, s.refund} {
		c := wireCopy(t, tmpl)
		want, _ := tmpl.Bytes()
		got, _ := c.Bytes()
		if !bytes.Equal(got, want) || c.Fee != tmpl.Fee {
			t.Fatal("transaction changed by encoding")
		}
		for i, in := range tmpl.Inputs {
			ci := c.Inputs[i]
			if ci.Value != in.Value || !bytes.Equal(ci.PkScript, in.PkScript) ||
				!bytes.Equal(ci.RedeemScript, in.RedeemScript) ||
				len(ci.Sigs) != len(in.Sigs) {
				t.Fatalf("input %d changed by encoding", i)
			}
			if (in.PrevTx == nil) != (ci.PrevTx == nil) ||
				(in.PrevTx != nil && in.PrevTx.TxHash() != ci.PrevTx.TxHash()) {
				t.Fatalf("input %d proof changed by encoding", i)
			}
			for k, sig := range in.Sigs {
				if !bytes.Equal(ci.Sigs[k], sig) {
					t.Fatalf("input %d signature changed by encoding", i)
				}
			}
		}
	}

	b, err := json.Marshal(s.funding)
	if err != nil {
		t.Fatal(err)
	}
	other := s.refund.TxHash().String()
	b = bytes.Replace(b, []byte(s.funding.TxHash().String()), []byte(other), 1)
	var c Template
	if err := json.Unmarshal(b, &c); !errors.Is(err, contract.ErrParse) {
		t.Fatalf("mismatching txid accepted: %v", err)
	}
	if err := json.Unmarshal([]byte(`{"tx":"zz"}`), &c); !errors.Is(err, contract.ErrParse) {
		t.Fatalf("malformed template accepted: %v", err)
	}
}

func TestSpendContract(t *testing.T) {
	s := newTestSwap(t)
	dest := s.users[0].refundScript
	privs := []*secp256k1.PrivateKey{s.keys[0].Priv, s.keys[1].Priv,
		s.keys[2].Priv}
	tx, err := SpendContract(s.funding.Tx, s.con, contract.PathCooperative,
		privs, nil, dest, DefaultFeeRate)
	if err != nil {
		t.Fatal(err)
	}
	if len(tx.TxIn[0].SignatureScript) == 0 {
		t.Fatal("spend is not signed")
	}
	if tx.TxIn[0].PreviousOutPoint.Hash != s.funding.TxHash() {
		t.Fatal("spend does not spend the funding tx")
	}
	if tx.TxOut[0].Value >= s.funding.Tx.TxOut[0].Value {
		t.Fatal("spend pays no fee")
	}

	// Two of three keys are not enough.
	_, err = SpendContract(s.funding.Tx, s.con, contract.PathCooperative,
		privs[:2], nil, dest, DefaultFeeRate)
	if !errors.Is(err, contract.ErrProtocol) {
		t.Fatalf("incomplete spend finalized: %v", err)
	}

	p, err := s.secret.Preimage()
	if err != nil {
		t.Fatal(err)
	}
	hashlock := []*secp256k1.PrivateKey{s.keys[6].Priv, s.keys[7].Priv,
		s.keys[8].Priv}
	tx, err = SpendContract(s.funding.Tx, s.con, contract.PathHashlock,
		hashlock, &p, dest, DefaultFeeRate)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(tx.TxIn[0].SignatureScript, p[:]) {
		t.Fatal("hashlock spend does not reveal the preimage")
	}
}

func TestCollateral(t *testing.T) {
	u := newTestUser(t, testValue)
	pub, err := u.coll.Verify(testParams)
	if err != nil {
		t.Fatal(err)
	}
	if !pub.IsEqual(u.owner.Pub) {
		t.Fatal("wrong owner")
	}
	if u.coll.Value() != testValue {
		t.Fatalf("collateral value %d", u.coll.Value())
	}

	other := newTestUser(t, testValue)
	forged := *u.coll
	forged.Descriptor = other.coll.Descriptor
	if _, err := forged.Verify(testParams); !errors.Is(err, contract.ErrProtocol) {
		t.Fatalf("foreign descriptor accepted: %v", err)
	}
	forged = *u.coll
	forged.PrevTx = other.coll.PrevTx
	if _, err := forged.Verify(testParams); !errors.Is(err, contract.ErrProtocol) {
		t.Fatalf("foreign proof accepted: %v", err)
	}

	s := FormatOutPoint(&u.coll.OutPoint)
	op, err := ParseOutPoint(s)
	if err != nil {
		t.Fatal(err)
	}
	if *op != u.coll.OutPoint {
		t.Fatal("outpoint changed by encoding")
	}
	for _, bad := range []string{"", "abc", s + "x", "zz:1"} {
		if _, err := ParseOutPoint(bad); !errors.Is(err, contract.ErrParse) {
			t.Errorf("%q: expected a parse error, got %v", bad, err)
		}
	}

	b, err := json.Marshal(&Proof{Tx: u.coll.PrevTx})
	if err != nil {
		t.Fatal(err)
	}
	var proof Proof
	if err := json.Unmarshal(b, &proof); err != nil {
		t.Fatal(err)
	}
	if proof.Tx.TxHash() != u.coll.OutPoint.Hash {
		t.Fatal("proof changed by encoding")
	}
}
