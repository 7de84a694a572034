// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package swaptx builds, signs, combines and validates the transaction
// templates exchanged between the maker and the users.
package swaptx

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/decred/dcrd/chaincfg/chainhash"
	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/dcrd/dcrec/secp256k1/v3/ecdsa"
	"github.com/decred/dcrd/txscript/v3"
	"github.com/decred/dcrd/wire"
	"github.com/decred/joinswap/contract"
)

// Input carries the data required to sign and verify a single input of a
// template.
type Input struct {
	// Value and PkScript describe the spent output.
	Value    int64
	PkScript []byte

	// RedeemScript is set when the spent output is a P2SH contract.
	RedeemScript []byte

	// PrevTx optionally proves the spent output.
	PrevTx *wire.MsgTx

	// Sigs holds the partial signatures keyed by the hex encoded
	// compressed public key of the signer.
	Sigs map[string][]byte
}

// Template is an unsigned transaction together with the previous output
// data of its inputs, the partial signatures collected so far and the fee
// declared by its builder.
type Template struct {
	Tx     *wire.MsgTx
	Inputs []*Input
	Fee    int64
}

// TxHash returns the transaction identifier.  It does not commit to the
// signature scripts and therefore remains stable while signatures are
// being collected.
func (t *Template) TxHash() chainhash.Hash {
	return t.Tx.TxHash()
}

// InputValue returns the total value of the spent outputs.
func (t *Template) InputValue() int64 {
	var v int64
	for _, in := range t.Inputs {
		v += in.Value
	}
	return v
}

// OutputValue returns the total value of the transaction outputs.
func (t *Template) OutputValue() int64 {
	var v int64
	for _, out := range t.Tx.TxOut {
		v += out.Value
	}
	return v
}

// ComputeFee returns the fee implied by the input and output values.
func (t *Template) ComputeFee() int64 {
	return t.InputValue() - t.OutputValue()
}

func (t *Template) sigHash(idx int) ([]byte, error) {
	if idx < 0 || idx >= len(t.Inputs) || idx >= len(t.Tx.TxIn) {
		return nil, contract.MakeError(contract.ErrProtocol,
			fmt.Sprintf("input %d does not exist", idx), nil)
	}
	in := t.Inputs[idx]
	script := in.RedeemScript
	if len(script) == 0 {
		script = in.PkScript
	}
	return txscript.CalcSignatureHash(script, txscript.SigHashAll, t.Tx,
		idx, nil)
}

// SignInput adds a signature of input idx created with priv.
func (t *Template) SignInput(idx int, priv *secp256k1.PrivateKey) error {
	hash, err := t.sigHash(idx)
	if err != nil {
		return err
	}
	sig := ecdsa.Sign(priv, hash).Serialize()
	sig = append(sig, byte(txscript.SigHashAll))
	t.Inputs[idx].addSig(priv.PubKey(), sig)
	return nil
}

// AddSignature verifies sig against pub and adds it to input idx.
func (t *Template) AddSignature(idx int, pub *secp256k1.PublicKey, sig []byte) error {
	hash, err := t.sigHash(idx)
	if err != nil {
		return err
	}
	if err := verifySig(hash, pub, sig); err != nil {
		return err
	}
	t.Inputs[idx].addSig(pub, sig)
	return nil
}

func verifySig(hash []byte, pub *secp256k1.PublicKey, sig []byte) error {
	if len(sig) == 0 || sig[len(sig)-1] != byte(txscript.SigHashAll) {
		return contract.MakeError(contract.ErrProtocol,
			"signature hash type is not SIGHASH_ALL", nil)
	}
	s, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
	if err != nil {
		return contract.MakeError(contract.ErrParse,
			"malformed signature", err)
	}
	if !s.Verify(hash, pub) {
		return contract.MakeError(contract.ErrProtocol, fmt.Sprintf(
			"invalid signature by %s", contract.FormatPubKey(pub)), nil)
	}
	return nil
}

func (in *Input) addSig(pub *secp256k1.PublicKey, sig []byte) {
	if in.Sigs == nil {
		in.Sigs = make(map[string][]byte)
	}
	in.Sigs[contract.FormatPubKey(pub)] = sig
}

// Signature returns the partial signature of pub or nil.
func (in *Input) Signature(pub *secp256k1.PublicKey) []byte {
	return in.Sigs[contract.FormatPubKey(pub)]
}

// Combine merges the signatures of another copy of the same transaction
// into t.  Every imported signature is verified.
func (t *Template) Combine(other *Template) error {
	if other.TxHash() != t.TxHash() {
		return contract.MakeError(contract.ErrProtocol, fmt.Sprintf(
			"transaction %v does not match %v", other.TxHash(),
			t.TxHash()), nil)
	}
	if len(other.Inputs) != len(t.Inputs) {
		return contract.MakeError(contract.ErrProtocol,
			"input count mismatch", nil)
	}
	for i, in := range other.Inputs {
		for k, sig := range in.Sigs {
			pub, err := contract.ParsePubKey(k)
			if err != nil {
				return err
			}
			if bytes.Equal(t.Inputs[i].Signature(pub), sig) {
				continue
			}
			if err := t.AddSignature(i, pub, sig); err != nil {
				return fmt.Errorf("input %d: %w", i, err)
			}
		}
	}
	return nil
}

// FinalizeP2PKH creates the signature scripts of all P2PKH inputs from the
// collected signatures.
func (t *Template) FinalizeP2PKH(params *chaincfg.Params) error {
	for i, in := range t.Inputs {
		if len(in.RedeemScript) != 0 {
			continue
		}
		var sigScript []byte
		for k, sig := range in.Sigs {
			pub, err := contract.ParsePubKey(k)
			if err != nil {
				return err
			}
			script, err := contract.P2PKHScript(params, pub)
			if err != nil {
				return err
			}
			if !bytes.Equal(script, in.PkScript) {
				continue
			}
			sigScript, err = contract.P2PKHSigScript(sig, pub)
			if err != nil {
				return err
			}
			break
		}
		if sigScript == nil {
			return contract.MakeError(contract.ErrProtocol, fmt.Sprintf(
				"input %d is missing the owner's signature", i), nil)
		}
		t.Tx.TxIn[i].SignatureScript = sigScript
	}
	return nil
}

// FinalizeContract creates the signature script of input idx spending con
// through path.  All path keys must have signed.
func (t *Template) FinalizeContract(idx int, con *contract.Contract, path contract.Path, preimage *contract.Preimage) error {
	if idx < 0 || idx >= len(t.Inputs) {
		return contract.MakeError(contract.ErrProtocol,
			fmt.Sprintf("input %d does not exist", idx), nil)
	}
	in := t.Inputs[idx]
	if !bytes.Equal(in.RedeemScript, con.RedeemScript) {
		return contract.MakeError(contract.ErrProtocol, fmt.Sprintf(
			"input %d does not spend %v", idx, con.Addr), nil)
	}
	keys := con.PathKeys(path)
	sigs := make([][]byte, 0, len(keys))
	for _, k := range keys {
		sig := in.Signature(k)
		if sig == nil {
			return contract.MakeError(contract.ErrProtocol, fmt.Sprintf(
				"input %d is missing a %s signature by %s", idx,
				path, contract.FormatPubKey(k)), nil)
		}
		sigs = append(sigs, sig)
	}
	script, err := con.SigScript(path, sigs, preimage)
	if err != nil {
		return err
	}
	t.Tx.TxIn[idx].SignatureScript = script
	return nil
}

// FindInput returns the index of the only input spending op.
func (t *Template) FindInput(op wire.OutPoint) (int, error) {
	idx := -1
	for i, in := range t.Tx.TxIn {
		if in.PreviousOutPoint != op {
			continue
		}
		if idx != -1 {
			return -1, contract.MakeError(contract.ErrProtocol, fmt.Sprintf(
				"%s is spent more than once", FormatOutPoint(&op)), nil)
		}
		idx = i
	}
	if idx == -1 {
		return -1, contract.MakeError(contract.ErrProtocol, fmt.Sprintf(
			"%s is not spent", FormatOutPoint(&op)), nil)
	}
	return idx, nil
}

// Complete reports whether every input has a signature script.
func (t *Template) Complete() bool {
	for _, in := range t.Tx.TxIn {
		if len(in.SignatureScript) == 0 {
			return false
		}
	}
	return true
}

// Bytes returns the serialized transaction.
func (t *Template) Bytes() ([]byte, error) {
	return serializeTx(t.Tx)
}

// Copy returns a deep copy of the template.
func (t *Template) Copy() *Template {
	c := &Template{
		Tx:     t.Tx.Copy(),
		Inputs: make([]*Input, len(t.Inputs)),
		Fee:    t.Fee,
	}
	for i, in := range t.Inputs {
		ci := *in
		ci.Sigs = make(map[string][]byte, len(in.Sigs))
		for k, v := range in.Sigs {
			ci.Sigs[k] = v
		}
		c.Inputs[i] = &ci
	}
	return c
}

func serializeTx(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(tx.SerializeSize())
	if err := tx.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize tx: %w", err)
	}
	return buf.Bytes(), nil
}

func deserializeTx(s string) (*wire.MsgTx, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, contract.MakeError(contract.ErrParse,
			"malformed transaction hex", err)
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(b)); err != nil {
		return nil, contract.MakeError(contract.ErrParse,
			"failed to deserialize tx", err)
	}
	return &tx, nil
}

type inputJSON struct {
	Value        int64             `json:"value"`
	PkScript     string            `json:"pkscript"`
	RedeemScript string            `json:"redeemscript,omitempty"`
	PrevTx       string            `json:"prevtx,omitempty"`
	Sigs         map[string]string `json:"sigs,omitempty"`
}

type templateJSON struct {
	Tx     string      `json:"tx"`
	TxID   string      `json:"txid"`
	Inputs []inputJSON `json:"inputs"`
	Fee    int64       `json:"fee"`
}

// MarshalJSON encodes the template with hex encoded transactions, scripts
// and signatures.
func (t *Template) MarshalJSON() ([]byte, error) {
	b, err := serializeTx(t.Tx)
	if err != nil {
		return nil, err
	}
	j := templateJSON{
		Tx:     hex.EncodeToString(b),
		TxID:   t.Tx.TxHash().String(),
		Inputs: make([]inputJSON, len(t.Inputs)),
		Fee:    t.Fee,
	}
	for i, in := range t.Inputs {
		ij := inputJSON{
			Value:        in.Value,
			PkScript:     hex.EncodeToString(in.PkScript),
			RedeemScript: hex.EncodeToString(in.RedeemScript),
		}
		if in.PrevTx != nil {
			pb, err := serializeTx(in.PrevTx)
			if err != nil {
				return nil, err
			}
			ij.PrevTx = hex.EncodeToString(pb)
		}
		if len(in.Sigs) > 0 {
			ij.Sigs = make(map[string]string, len(in.Sigs))
			for k, sig := range in.Sigs {
				ij.Sigs[k] = hex.EncodeToString(sig)
			}
		}
		j.Inputs[i] = ij
	}
	return json.Marshal(&j)
}

// UnmarshalJSON decodes a template.  The transaction identifier carried
// alongside the transaction must match the decoded transaction and every
// transaction input must be described.
func (t *Template) UnmarshalJSON(b []byte) error {
	var j templateJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return contract.MakeError(contract.ErrParse,
			"malformed transaction template", err)
	}
	tx, err := deserializeTx(j.Tx)
	if err != nil {
		return err
	}
	if j.TxID != tx.TxHash().String() {
		return contract.MakeError(contract.ErrParse, fmt.Sprintf(
			"template txid %s does not match transaction %v", j.TxID,
			tx.TxHash()), nil)
	}
	if len(j.Inputs) != len(tx.TxIn) {
		return contract.MakeError(contract.ErrParse, fmt.Sprintf(
			"template describes %d inputs of a transaction with %d",
			len(j.Inputs), len(tx.TxIn)), nil)
	}
	inputs := make([]*Input, len(j.Inputs))
	for i, ij := range j.Inputs {
		in := &Input{Value: ij.Value}
		if in.PkScript, err = decodeHex("pkscript", ij.PkScript); err != nil {
			return err
		}
		if in.RedeemScript, err = decodeHex("redeemscript", ij.RedeemScript); err != nil {
			return err
		}
		if len(in.RedeemScript) == 0 {
			in.RedeemScript = nil
		}
		if ij.PrevTx != "" {
			if in.PrevTx, err = deserializeTx(ij.PrevTx); err != nil {
				return err
			}
		}
		for k, s := range ij.Sigs {
			sig, err := decodeHex("signature", s)
			if err != nil {
				return err
			}
			pub, err := contract.ParsePubKey(k)
			if err != nil {
				return err
			}
			in.addSig(pub, sig)
		}
		inputs[i] = in
	}
	t.Tx = tx
	t.Inputs = inputs
	t.Fee = j.Fee
	return nil
}

func decodeHex(what, s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, contract.MakeError(contract.ErrParse,
			fmt.Sprintf("malformed %s", what), err)
	}
	return b, nil
}
