// Copyright (c) 2015-2016 The btcsuite developers
// Copyright (c) 2016-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package contract

import (
	"fmt"
	"strings"

	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrec"
	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/dcrd/dcrutil/v3"
	"github.com/decred/dcrd/txscript/v3"
)

// buildUsersToMakerScript returns an output script that may be redeemed
// by one of three signature scripts:
//
//   <sig A> <sig B> <sig M> 1
//
//   <sig A> <sig B> <sig M> 1 0
//
//   <sig A> <sig B> <sig M> <preimage> 0 0
//
// The first one is the cooperative path, the second one is the refund
// path usable once the relative locktime has passed, and the third one
// redeems the contract by revealing the commitment preimage.
func buildUsersToMakerScript(coop, timelock, hashlock []*secp256k1.PublicKey, hash Hash, locktime int64) ([]byte, error) {
	b := txscript.NewScriptBuilder()

	b.AddOp(txscript.OP_IF) // Cooperative path
	{
		addMultisig(b, coop)
	}
	b.AddOp(txscript.OP_ELSE)
	{
		b.AddOp(txscript.OP_IF) // Refund path
		{
			// Verify relative locktime and drop it off the stack
			// (which is not done by CSV).
			b.AddInt64(locktime)
			b.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
			b.AddOp(txscript.OP_DROP)
			addMultisig(b, timelock)
		}
		b.AddOp(txscript.OP_ELSE) // Hashlock path
		{
			b.AddOp(txscript.OP_SHA256)
			b.AddData(hash[:])
			b.AddOp(txscript.OP_EQUALVERIFY)
			addMultisig(b, hashlock)
		}
		b.AddOp(txscript.OP_ENDIF)
	}
	b.AddOp(txscript.OP_ENDIF)

	return b.Script()
}

// buildMakerToUserScript returns an output script that may be redeemed
// by one of three signature scripts:
//
//   <sig U> <sig M> 1
//
//   <sig M> 1 0
//
//   <sig U> <preimage> 0 0
//
// The first one is the cooperative path available once the maker hands
// over its multisig key, the second one is the maker's refund after the
// relative locktime and the third one lets the user redeem with the
// commitment preimage.
func buildMakerToUserScript(coop []*secp256k1.PublicKey, timelock, hashlock *secp256k1.PublicKey, hash Hash, locktime int64) ([]byte, error) {
	b := txscript.NewScriptBuilder()

	b.AddOp(txscript.OP_IF) // Cooperative path
	{
		addMultisig(b, coop)
	}
	b.AddOp(txscript.OP_ELSE)
	{
		b.AddOp(txscript.OP_IF) // Refund path
		{
			b.AddInt64(locktime)
			b.AddOp(txscript.OP_CHECKSEQUENCEVERIFY)
			b.AddOp(txscript.OP_DROP)
			b.AddData(timelock.SerializeCompressed())
			b.AddOp(txscript.OP_CHECKSIG)
		}
		b.AddOp(txscript.OP_ELSE) // Hashlock path
		{
			b.AddOp(txscript.OP_SHA256)
			b.AddData(hash[:])
			b.AddOp(txscript.OP_EQUALVERIFY)
			b.AddData(hashlock.SerializeCompressed())
			b.AddOp(txscript.OP_CHECKSIG)
		}
		b.AddOp(txscript.OP_ENDIF)
	}
	b.AddOp(txscript.OP_ENDIF)

	return b.Script()
}

// addMultisig appends an n-of-n CHECKMULTISIG over keys.
func addMultisig(b *txscript.ScriptBuilder, keys []*secp256k1.PublicKey) {
	b.AddInt64(int64(len(keys)))
	for _, k := range keys {
		b.AddData(k.SerializeCompressed())
	}
	b.AddInt64(int64(len(keys)))
	b.AddOp(txscript.OP_CHECKMULTISIG)
}

// SigScript returns the signature script spending the contract through
// path.  Signatures must be ordered as the path keys.  The preimage is
// only used by the hashlock path.  This function assumes P2SH and appends
// the contract as the final data push.
func (c *Contract) SigScript(path Path, sigs [][]byte, preimage *Preimage) ([]byte, error) {
	if n := len(c.PathKeys(path)); len(sigs) != n {
		return nil, protocolError(fmt.Sprintf("%s path requires %d "+
			"signatures, got %d", path, n, len(sigs)))
	}

	b := txscript.NewScriptBuilder()
	for _, sig := range sigs {
		b.AddData(sig)
	}
	switch path {
	case PathCooperative:
		b.AddInt64(1)
	case PathTimelock:
		b.AddInt64(1)
		b.AddInt64(0)
	case PathHashlock:
		if preimage == nil {
			return nil, ErrNotRevealed
		}
		b.AddData(preimage[:])
		b.AddInt64(0)
		b.AddInt64(0)
	}
	b.AddData(c.RedeemScript)
	return b.Script()
}

// SigScriptSize returns the worst case size of a signature script
// spending the contract through path.
func (c *Contract) SigScriptSize(path Path) int {
	size := len(c.PathKeys(path)) * (1 + maxSigSize)
	switch path {
	case PathCooperative:
		size++
	case PathTimelock:
		size += 2
	case PathHashlock:
		size += 1 + HashSize + 2
	}
	return size + pushSize(c.RedeemScript)
}

// CollateralDescriptor returns the descriptor of a pay-to-pubkey-hash
// output owned by pub.
func CollateralDescriptor(pub *secp256k1.PublicKey) string {
	return fmt.Sprintf("pkh(%s)", FormatPubKey(pub))
}

// ParseCollateralDescriptor extracts the owner key from a collateral
// descriptor.
func ParseCollateralDescriptor(desc string) (*secp256k1.PublicKey, error) {
	if !strings.HasPrefix(desc, "pkh(") || !strings.HasSuffix(desc, ")") {
		return nil, parseError(fmt.Sprintf("unsupported collateral "+
			"descriptor %q", desc), nil)
	}
	return ParsePubKey(desc[len("pkh(") : len(desc)-1])
}

// P2PKHAddress returns the pay-to-pubkey-hash address of pub.
func P2PKHAddress(params *chaincfg.Params, pub *secp256k1.PublicKey) (dcrutil.Address, error) {
	pkh := dcrutil.Hash160(pub.SerializeCompressed())
	addr, err := dcrutil.NewAddressPubKeyHash(pkh, params,
		dcrec.STEcdsaSecp256k1)
	if err != nil {
		return nil, fmt.Errorf("failed to create a P2PKH address: %w", err)
	}
	return addr, nil
}

// P2PKHScript returns the output script paying to the P2PKH address of
// pub.
func P2PKHScript(params *chaincfg.Params, pub *secp256k1.PublicKey) ([]byte, error) {
	addr, err := P2PKHAddress(params, pub)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

// P2PKHSigScript returns the signature script spending a P2PKH output.
func P2PKHSigScript(sig []byte, pub *secp256k1.PublicKey) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddData(sig)
	b.AddData(pub.SerializeCompressed())
	return b.Script()
}

// AddressScript decodes a Decred address and returns the output script
// paying to it.
func AddressScript(params *chaincfg.Params, s string) ([]byte, error) {
	addr, err := dcrutil.DecodeAddress(s, params)
	if err != nil {
		return nil, parseError(fmt.Sprintf("invalid address %q", s), err)
	}
	if !checkAddressType(addr, PayToPubKeyHash|PayToScriptHash) {
		return nil, protocolError(fmt.Sprintf("address %v is neither "+
			"a secp256k1 P2PKH nor a P2SH", s))
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to create a script for %v: %w",
			s, err)
	}
	return script, nil
}

type addressType int

const (
	PayToPubKeyHash addressType = 1 << iota
	PayToScriptHash
)

func checkAddressType(addr dcrutil.Address, allowed addressType) bool {
	var found addressType
	switch a := addr.(type) {
	case *dcrutil.AddressPubKeyHash:
		if a.DSA() == dcrec.STEcdsaSecp256k1 {
			found = PayToPubKeyHash
		}
	case *dcrutil.AddressScriptHash:
		found = PayToScriptHash
	default:
		return false
	}
	return found&allowed != 0
}
