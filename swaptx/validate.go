// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package swaptx

import (
	"bytes"
	"fmt"

	"github.com/decred/dcrd/wire"
	"github.com/decred/joinswap/contract"
)

// Expectation describes what a participant expects the funding and refund
// templates to look like.
type Expectation struct {
	// Contract is the users-to-maker contract derived independently by
	// the participant.
	Contract *contract.Contract

	// Collateral and CollateralValue are the participant's own input.
	Collateral      wire.OutPoint
	CollateralValue int64

	// RefundScript is the output script of the participant's refund
	// address.
	RefundScript []byte

	// Participants is the number of users sharing the contract.
	Participants int
}

func violation(rule int, format string, args ...interface{}) error {
	return contract.MakeError(contract.ErrProtocol,
		fmt.Sprintf("rule %d: ", rule)+fmt.Sprintf(format, args...), nil)
}

// Validate checks a funding template and its refund against the
// expectations of a participant.  It must succeed before either template
// is signed.  Every failure is a fatal protocol error.
func Validate(funding, refund *Template, e *Expectation) error {
	con := e.Contract
	if e.Participants <= 0 {
		return violation(0, "invalid participant count %d", e.Participants)
	}
	if len(funding.Inputs) != len(funding.Tx.TxIn) ||
		len(refund.Inputs) != len(refund.Tx.TxIn) {
		return violation(0, "templates do not describe every input")
	}

	// 1. The funding transaction has a single output, paying the
	// contract.
	if len(funding.Tx.TxOut) != 1 ||
		!bytes.Equal(funding.Tx.TxOut[0].PkScript, con.PayScript) {
		return violation(1, "funding does not pay solely to %v", con.Addr)
	}
	contractOut := funding.Tx.TxOut[0]

	// 2. The funding fee stays within the policy bound.  The declared
	// fee must be the fee implied by the input and output values.
	fee := funding.ComputeFee()
	if funding.Fee != fee {
		return violation(2, "declared funding fee %d differs from "+
			"actual fee %d", funding.Fee, fee)
	}
	if fee < 0 || fee > MaxFundingFee {
		return violation(2, "funding fee %d exceeds %d", fee,
			MaxFundingFee)
	}

	// 3. Our own collateral is spent exactly once.
	own := 0
	for i, in := range funding.Tx.TxIn {
		if in.PreviousOutPoint != e.Collateral {
			continue
		}
		own++
		if funding.Inputs[i].Value != e.CollateralValue {
			return violation(3, "own collateral valued at %d, expected "+
				"%d", funding.Inputs[i].Value, e.CollateralValue)
		}
	}
	if own != 1 {
		return violation(3, "own collateral spent %d times", own)
	}

	// 4. Value is neither created nor destroyed.  Input values are not
	// committed to by the txid or the signatures, so every one of them
	// must be backed by its proof.
	for i, in := range funding.Tx.TxIn {
		data := funding.Inputs[i]
		if in.ValueIn != data.Value {
			return violation(4, "input %d value %d differs from "+
				"described value %d", i, in.ValueIn, data.Value)
		}
		if data.PrevTx == nil {
			return violation(4, "input %d spends %s without a proof", i,
				FormatOutPoint(&in.PreviousOutPoint))
		}
		if data.PrevTx.TxHash() != in.PreviousOutPoint.Hash ||
			int(in.PreviousOutPoint.Index) >= len(data.PrevTx.TxOut) {
			return violation(4, "input %d proof does not create %s", i,
				FormatOutPoint(&in.PreviousOutPoint))
		}
		prevOut := data.PrevTx.TxOut[in.PreviousOutPoint.Index]
		if prevOut.Value != data.Value ||
			!bytes.Equal(prevOut.PkScript, data.PkScript) {
			return violation(4, "input %d proof does not match the "+
				"described output", i)
		}
	}
	if funding.InputValue()-fee != contractOut.Value {
		return violation(4, "inputs of %d minus fee %d do not equal "+
			"contract value %d", funding.InputValue(), fee,
			contractOut.Value)
	}

	// 5. The refund spends the contract output and nothing else.
	if len(refund.Tx.TxIn) != 1 {
		return violation(5, "refund has %d inputs", len(refund.Tx.TxIn))
	}
	rin := refund.Tx.TxIn[0]
	fundingHash := funding.TxHash()
	if rin.PreviousOutPoint.Hash != fundingHash ||
		rin.PreviousOutPoint.Index != 0 {
		return violation(5, "refund spends %s instead of %v:0",
			FormatOutPoint(&rin.PreviousOutPoint), fundingHash)
	}
	if rin.ValueIn != contractOut.Value ||
		refund.Inputs[0].Value != contractOut.Value ||
		!bytes.Equal(refund.Inputs[0].RedeemScript, con.RedeemScript) {
		return violation(5, "refund input does not describe the contract")
	}

	// 6. The refund is timelocked.
	if rin.Sequence != con.LockTime {
		return violation(6, "refund sequence %d, expected %d",
			rin.Sequence, con.LockTime)
	}
	if refund.Tx.Version != RefundTxVersion {
		return violation(6, "refund version %d does not enforce relative "+
			"locktimes", refund.Tx.Version)
	}

	// 7. Exactly one refund output pays us.
	ours := -1
	for i, out := range refund.Tx.TxOut {
		if !bytes.Equal(out.PkScript, e.RefundScript) {
			continue
		}
		if ours != -1 {
			return violation(7, "refund pays own address more than once")
		}
		ours = i
	}
	if ours == -1 {
		return violation(7, "refund does not pay own address")
	}

	// 8. Our refund carries our share of both fees.
	want := RefundValue(e.CollateralValue, fee, e.Participants)
	if got := refund.Tx.TxOut[ours].Value; got != want {
		return violation(8, "refund of %d, expected %d", got, want)
	}
	if refund.ComputeFee() < 0 {
		return violation(8, "refund outputs exceed the contract value")
	}

	return nil
}
