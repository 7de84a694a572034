// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package contract

import (
	"encoding/hex"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v3"
)

// privKeySize is the length of a serialized secp256k1 private key.
const privKeySize = 32

// KeyPair is an ephemeral identity generated for a single role in a
// contract.
type KeyPair struct {
	Priv *secp256k1.PrivateKey
	Pub  *secp256k1.PublicKey
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, MakeError(ErrWallet, "failed to generate a key", err)
	}
	return &KeyPair{Priv: priv, Pub: priv.PubKey()}, nil
}

// GenerateKeyPairs creates n new random key pairs.
func GenerateKeyPairs(n int) ([]*KeyPair, error) {
	pairs := make([]*KeyPair, n)
	for i := range pairs {
		kp, err := GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		pairs[i] = kp
	}
	return pairs, nil
}

// ParsePubKey decodes a hex encoded compressed public key.
func ParsePubKey(s string) (*secp256k1.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, parseError(fmt.Sprintf("malformed public key %q", s), err)
	}
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, parseError(fmt.Sprintf("invalid public key %q", s), err)
	}
	return pub, nil
}

// ParsePubKeys decodes a list of hex encoded public keys.  It fails unless
// exactly n keys are provided.
func ParsePubKeys(tokens []string, n int) ([]*secp256k1.PublicKey, error) {
	if len(tokens) != n {
		return nil, protocolError(fmt.Sprintf("expected %d public keys, "+
			"got %d", n, len(tokens)))
	}
	keys := make([]*secp256k1.PublicKey, 0, n)
	for _, t := range tokens {
		pub, err := ParsePubKey(t)
		if err != nil {
			return nil, err
		}
		keys = append(keys, pub)
	}
	return keys, nil
}

// FormatPubKey returns the hex encoding of a compressed public key.
func FormatPubKey(pub *secp256k1.PublicKey) string {
	return hex.EncodeToString(pub.SerializeCompressed())
}

// FormatPubKeys encodes public keys for a comma separated token line.
func FormatPubKeys(keys ...*secp256k1.PublicKey) []string {
	tokens := make([]string, len(keys))
	for i, k := range keys {
		tokens[i] = FormatPubKey(k)
	}
	return tokens
}

// ParsePrivKey decodes a hex encoded private key handed over by a peer.
func ParsePrivKey(s string) (*secp256k1.PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, parseError("malformed private key", err)
	}
	if len(b) != privKeySize {
		return nil, parseError(fmt.Sprintf("private key must be %d "+
			"bytes, got %d", privKeySize, len(b)), nil)
	}
	return secp256k1.PrivKeyFromBytes(b), nil
}

// FormatPrivKey returns the hex encoding of a private key.
func FormatPrivKey(priv *secp256k1.PrivateKey) string {
	return hex.EncodeToString(priv.Serialize())
}

// MatchPrivKey makes sure priv is the private key of pub.
func MatchPrivKey(priv *secp256k1.PrivateKey, pub *secp256k1.PublicKey) error {
	if !priv.PubKey().IsEqual(pub) {
		return protocolError(fmt.Sprintf("private key does not match "+
			"public key %s", FormatPubKey(pub)))
	}
	return nil
}

// MatchPrivKeys verifies that every handed over private key corresponds
// to exactly one of the expected public keys and that no expected key is
// claimed twice.
func MatchPrivKeys(privs []*secp256k1.PrivateKey, expected []*secp256k1.PublicKey) error {
	if len(privs) != len(expected) {
		return protocolError(fmt.Sprintf("expected %d private keys, got %d",
			len(expected), len(privs)))
	}
	claimed := make([]bool, len(expected))
	for i, priv := range privs {
		pub := priv.PubKey()
		match := -1
		for j, e := range expected {
			if !pub.IsEqual(e) {
				continue
			}
			if match != -1 {
				return protocolError("duplicate expected public key")
			}
			match = j
		}
		if match == -1 {
			return protocolError(fmt.Sprintf("private key %d does not "+
				"match any expected public key", i))
		}
		if claimed[match] {
			return protocolError(fmt.Sprintf("private key %d was already "+
				"handed over", i))
		}
		claimed[match] = true
	}
	return nil
}
