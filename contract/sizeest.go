// Copyright (c) 2016 The btcsuite developers
// Copyright (c) 2016-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package contract

import (
	"github.com/decred/dcrd/txscript/v3"
	"github.com/decred/dcrd/wire"
)

// Input/output size estimates.
const (
	// maxSigSize is the size of a DER signature with the sighash byte.
	//
	//   - 72 bytes DER signature + 1 byte sighash
	maxSigSize = 72 + 1

	// P2PKHSigScriptSize is the worst case size of a signature script
	// spending a P2PKH output with a compressed public key.
	//
	//   - OP_DATA_73
	//   - 72 bytes DER signature + 1 byte sighash
	//   - OP_DATA_33
	//   - 33 bytes serialized compressed pubkey
	P2PKHSigScriptSize = 1 + maxSigSize + 1 + 33
)

func pushSize(data []byte) int {
	push, err := txscript.NewScriptBuilder().AddData(data).Script()
	if err != nil {
		// Should never be hit since contract scripts do not exceed
		// the limits.
		panic(err)
	}
	return len(push)
}

func sumOutputSerializeSizes(outputs []*wire.TxOut) (serializeSize int) {
	for _, txOut := range outputs {
		serializeSize += txOut.SerializeSize()
	}
	return serializeSize
}

// inputSize returns the size of the transaction input needed to include a
// signature script with size sigScriptSize.  It is calculated as:
//
//   - 32 bytes previous tx
//   - 4 bytes output index
//   - 1 byte tree
//   - 8 bytes amount
//   - 4 bytes block height
//   - 4 bytes block index
//   - Compact int encoding sigScriptSize
//   - sigScriptSize bytes signature script
//   - 4 bytes sequence
func inputSize(sigScriptSize int) int {
	return 32 + 4 + 1 + 8 + 4 + 4 + wire.VarIntSerializeSize(uint64(sigScriptSize)) + sigScriptSize + 4
}

// EstimateSerializeSize returns a worst case serialize size estimate for a
// transaction with inputs redeemed by signature scripts of the given sizes
// and the provided outputs.
func EstimateSerializeSize(sigScriptSizes []int, txOuts []*wire.TxOut) int {
	size := 0
	for _, s := range sigScriptSizes {
		size += inputSize(s)
	}

	// 12 additional bytes are for version, locktime and expiry.
	return 12 + (2 * wire.VarIntSerializeSize(uint64(len(sigScriptSizes)))) +
		wire.VarIntSerializeSize(uint64(len(txOuts))) +
		size + sumOutputSerializeSizes(txOuts)
}

// EstimateP2PKHSpendSize returns a worst case serialize size estimate for
// a transaction spending n P2PKH outputs into txOuts.
func EstimateP2PKHSpendSize(n int, txOuts []*wire.TxOut) int {
	sizes := make([]int, n)
	for i := range sizes {
		sizes[i] = P2PKHSigScriptSize
	}
	return EstimateSerializeSize(sizes, txOuts)
}

// EstimateSpendSize returns a worst case serialize size estimate for a
// transaction that spends the contract output through path into txOuts.
func (c *Contract) EstimateSpendSize(path Path, txOuts []*wire.TxOut) int {
	return EstimateSerializeSize([]int{c.SigScriptSize(path)}, txOuts)
}
