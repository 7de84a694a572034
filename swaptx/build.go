// Copyright (c) 2018-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package swaptx

import (
	"bytes"
	"fmt"
	"io"

	"decred.org/dcrwallet/wallet/txrules"
	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/dcrd/dcrutil/v3"
	"github.com/decred/dcrd/wire"
	"github.com/decred/joinswap/contract"
	"github.com/decred/joinswap/shuffle"
)

const (
	// MaxFundingFee is the highest fee in atoms accepted for the funding
	// transaction of the users-to-maker contract.  It is a policy bound
	// against griefing, not a protocol constant.
	MaxFundingFee = 420

	// RefundFee is the fee in atoms of the refund transaction.  It is
	// shared equally among the refunded users.
	RefundFee = 1000

	// RefundTxVersion is the lowest transaction version enforcing
	// relative locktimes.
	RefundTxVersion = 2

	// DefaultFeeRate is the default relay fee in atoms per kB used for
	// the transactions built by the maker.
	DefaultFeeRate dcrutil.Amount = 1e3
)

// RefundDest is a refund recipient: the user that brought a collateral of
// Value atoms and wants it back at PkScript.
type RefundDest struct {
	PkScript []byte
	Value    int64
}

// BuildFunding creates the transaction moving all collaterals into the
// users-to-maker contract.  Input order is randomized with random.
func BuildFunding(collaterals []*Collateral, con *contract.Contract, feeRate dcrutil.Amount, random io.Reader) (*Template, error) {
	tx := wire.NewMsgTx()
	t := &Template{Tx: tx}
	for _, c := range collaterals {
		out, err := c.Output()
		if err != nil {
			return nil, err
		}
		tx.AddTxIn(&wire.TxIn{
			PreviousOutPoint: c.OutPoint,
			Sequence:         wire.MaxTxInSequenceNum,
			ValueIn:          out.Value,
			BlockHeight:      wire.NullBlockHeight,
			BlockIndex:       wire.NullBlockIndex,
		})
		t.Inputs = append(t.Inputs, &Input{
			Value:    out.Value,
			PkScript: out.PkScript,
			PrevTx:   c.PrevTx,
		})
	}
	_, err := shuffle.Shuffle(random, len(tx.TxIn), func(i, j int) {
		tx.TxIn[i], tx.TxIn[j] = tx.TxIn[j], tx.TxIn[i]
		t.Inputs[i], t.Inputs[j] = t.Inputs[j], t.Inputs[i]
	})
	if err != nil {
		return nil, err
	}

	tx.AddTxOut(wire.NewTxOut(0, con.PayScript)) // amount set below
	size := contract.EstimateP2PKHSpendSize(len(tx.TxIn), tx.TxOut)
	fee := int64(txrules.FeeForSerializeSize(feeRate, size))
	tx.TxOut[0].Value = t.InputValue() - fee
	if txrules.IsDustOutput(tx.TxOut[0], feeRate) {
		return nil, contract.MakeError(contract.ErrWallet, fmt.Sprintf(
			"contract output value of %v is dust",
			dcrutil.Amount(tx.TxOut[0].Value)), nil)
	}
	t.Fee = fee

	log.Debugf("Funding tx %v: %d inputs, contract value %v, fee %v",
		tx.TxHash(), len(tx.TxIn), dcrutil.Amount(tx.TxOut[0].Value),
		dcrutil.Amount(fee))
	return t, nil
}

// RefundValue returns the refund owed to a user that brought value atoms
// into a funding transaction paying fundingFee and shared by n users.
func RefundValue(value, fundingFee int64, n int) int64 {
	return value - (fundingFee+RefundFee)/int64(n)
}

// BuildRefund creates the transaction returning the funded contract to
// the users through the timelock path.  Output order is randomized with
// random.
func BuildRefund(funding *Template, con *contract.Contract, dests []RefundDest, random io.Reader) (*Template, error) {
	idx, err := FindOutput(funding.Tx, con.PayScript)
	if err != nil {
		return nil, err
	}
	contractOut := funding.Tx.TxOut[idx]

	fundingHash := funding.TxHash()
	tx := wire.NewMsgTx()
	tx.Version = RefundTxVersion
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(&fundingHash, uint32(idx),
			wire.TxTreeRegular),
		Sequence:    con.LockTime,
		ValueIn:     contractOut.Value,
		BlockHeight: wire.NullBlockHeight,
		BlockIndex:  wire.NullBlockIndex,
	})
	for _, d := range dests {
		value := RefundValue(d.Value, funding.Fee, len(dests))
		out := wire.NewTxOut(value, d.PkScript)
		if txrules.IsDustOutput(out, DefaultFeeRate) {
			return nil, contract.MakeError(contract.ErrWallet, fmt.Sprintf(
				"refund output value of %v is dust",
				dcrutil.Amount(value)), nil)
		}
		tx.AddTxOut(out)
	}
	_, err = shuffle.Shuffle(random, len(tx.TxOut), func(i, j int) {
		tx.TxOut[i], tx.TxOut[j] = tx.TxOut[j], tx.TxOut[i]
	})
	if err != nil {
		return nil, err
	}

	t := &Template{
		Tx: tx,
		Inputs: []*Input{{
			Value:        contractOut.Value,
			PkScript:     con.PayScript,
			RedeemScript: con.RedeemScript,
		}},
	}
	t.Fee = t.ComputeFee()
	if t.Fee < 0 {
		return nil, contract.MakeError(contract.ErrProtocol,
			"refund outputs exceed the contract value", nil)
	}
	return t, nil
}

// BuildSpend creates a transaction spending the contract output of prev
// through path to pkScript.  Timelock spends carry the contract locktime
// as their relative lock.
func BuildSpend(prev *wire.MsgTx, con *contract.Contract, path contract.Path, pkScript []byte, feeRate dcrutil.Amount) (*Template, error) {
	idx, err := FindOutput(prev, con.PayScript)
	if err != nil {
		return nil, err
	}
	value := prev.TxOut[idx].Value
	prevHash := prev.TxHash()

	tx := wire.NewMsgTx()
	in := &wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(&prevHash, uint32(idx),
			wire.TxTreeRegular),
		Sequence:    wire.MaxTxInSequenceNum,
		ValueIn:     value,
		BlockHeight: wire.NullBlockHeight,
		BlockIndex:  wire.NullBlockIndex,
	}
	if path == contract.PathTimelock {
		tx.Version = RefundTxVersion
		in.Sequence = con.LockTime
	}
	tx.AddTxIn(in)
	tx.AddTxOut(wire.NewTxOut(0, pkScript)) // amount set below

	size := con.EstimateSpendSize(path, tx.TxOut)
	fee := int64(txrules.FeeForSerializeSize(feeRate, size))
	tx.TxOut[0].Value = value - fee
	if txrules.IsDustOutput(tx.TxOut[0], feeRate) {
		return nil, contract.MakeError(contract.ErrWallet, fmt.Sprintf(
			"spend output value of %v is dust",
			dcrutil.Amount(tx.TxOut[0].Value)), nil)
	}

	return &Template{
		Tx: tx,
		Inputs: []*Input{{
			Value:        value,
			PkScript:     con.PayScript,
			RedeemScript: con.RedeemScript,
		}},
		Fee: fee,
	}, nil
}

// SpendContract builds, signs and finalizes a spend of the contract output
// of prev through path with the provided path keys.
func SpendContract(prev *wire.MsgTx, con *contract.Contract, path contract.Path, privs []*secp256k1.PrivateKey, preimage *contract.Preimage, pkScript []byte, feeRate dcrutil.Amount) (*wire.MsgTx, error) {
	t, err := BuildSpend(prev, con, path, pkScript, feeRate)
	if err != nil {
		return nil, err
	}
	for _, priv := range privs {
		if err := t.SignInput(0, priv); err != nil {
			return nil, err
		}
	}
	if err := t.FinalizeContract(0, con, path, preimage); err != nil {
		return nil, err
	}
	return t.Tx, nil
}

// FindOutput returns the index of the only output of tx paying to
// pkScript.
func FindOutput(tx *wire.MsgTx, pkScript []byte) (int, error) {
	idx := -1
	for i, out := range tx.TxOut {
		if !bytes.Equal(out.PkScript, pkScript) {
			continue
		}
		if idx != -1 {
			return -1, contract.MakeError(contract.ErrProtocol,
				"transaction pays the contract more than once", nil)
		}
		idx = i
	}
	if idx == -1 {
		return -1, contract.MakeError(contract.ErrProtocol,
			"transaction does not contain a contract output", nil)
	}
	return idx, nil
}
