// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package swaptx

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/dcrd/wire"
	"github.com/decred/joinswap/contract"
)

// Collateral is an unspent output a user brings into the swap together
// with the proof of its existence and ownership.
type Collateral struct {
	// Descriptor is the policy of the output, pkh(<pubkey>).
	Descriptor string
	OutPoint   wire.OutPoint
	// PrevTx is the transaction that created the output.
	PrevTx *wire.MsgTx
}

// Proof is the JSON form of the transaction proving a collateral output.
type Proof struct {
	Tx *wire.MsgTx
}

type proofJSON struct {
	Tx string `json:"tx"`
}

// MarshalJSON encodes the proof transaction as hex.
func (p *Proof) MarshalJSON() ([]byte, error) {
	b, err := serializeTx(p.Tx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&proofJSON{Tx: hex.EncodeToString(b)})
}

// UnmarshalJSON decodes a hex encoded proof transaction.
func (p *Proof) UnmarshalJSON(b []byte) error {
	var j proofJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return contract.MakeError(contract.ErrParse,
			"malformed collateral proof", err)
	}
	tx, err := deserializeTx(j.Tx)
	if err != nil {
		return err
	}
	p.Tx = tx
	return nil
}

// Output returns the proven output.
func (c *Collateral) Output() (*wire.TxOut, error) {
	if c.PrevTx == nil {
		return nil, contract.MakeError(contract.ErrProtocol,
			"collateral has no proof", nil)
	}
	if int(c.OutPoint.Index) >= len(c.PrevTx.TxOut) {
		return nil, contract.MakeError(contract.ErrProtocol, fmt.Sprintf(
			"collateral proof has no output %d", c.OutPoint.Index), nil)
	}
	return c.PrevTx.TxOut[c.OutPoint.Index], nil
}

// Value returns the value of the collateral output.
func (c *Collateral) Value() int64 {
	out, err := c.Output()
	if err != nil {
		return 0
	}
	return out.Value
}

// Verify checks that the proof transaction created the referenced output
// and that the output pays to the key of the descriptor.  It returns the
// owner key.
func (c *Collateral) Verify(params *chaincfg.Params) (*secp256k1.PublicKey, error) {
	pub, err := contract.ParseCollateralDescriptor(c.Descriptor)
	if err != nil {
		return nil, err
	}
	if c.PrevTx == nil || c.PrevTx.TxHash() != c.OutPoint.Hash {
		return nil, contract.MakeError(contract.ErrProtocol, fmt.Sprintf(
			"collateral proof does not create %s",
			FormatOutPoint(&c.OutPoint)), nil)
	}
	out, err := c.Output()
	if err != nil {
		return nil, err
	}
	script, err := contract.P2PKHScript(params, pub)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(script, out.PkScript) {
		return nil, contract.MakeError(contract.ErrProtocol,
			"collateral output does not pay to the descriptor key", nil)
	}
	if out.Value <= 0 {
		return nil, contract.MakeError(contract.ErrProtocol,
			"collateral output has no value", nil)
	}
	return pub, nil
}

// ParseOutPoint decodes a txid:index output reference.
func ParseOutPoint(s string) (*wire.OutPoint, error) {
	i := strings.LastIndexByte(s, ':')
	if i == -1 {
		return nil, contract.MakeError(contract.ErrParse,
			fmt.Sprintf("malformed outpoint %q", s), nil)
	}
	hash, err := chainhash.NewHashFromStr(s[:i])
	if err != nil {
		return nil, contract.MakeError(contract.ErrParse,
			fmt.Sprintf("malformed outpoint hash %q", s[:i]), err)
	}
	index, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return nil, contract.MakeError(contract.ErrParse,
			fmt.Sprintf("malformed outpoint index %q", s[i+1:]), err)
	}
	return wire.NewOutPoint(hash, uint32(index), wire.TxTreeRegular), nil
}

// FormatOutPoint encodes an output reference as txid:index.
func FormatOutPoint(op *wire.OutPoint) string {
	return op.Hash.String() + ":" + strconv.FormatUint(uint64(op.Index), 10)
}
