// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package contract

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v3"
)

func TestCommitmentReveal(t *testing.T) {
	secret, err := NewCommitment()
	if err != nil {
		t.Fatal(err)
	}
	p, err := secret.Preimage()
	if err != nil {
		t.Fatalf("creator cannot read its own preimage: %v", err)
	}
	if sha256.Sum256(p[:]) != secret.Hash() {
		t.Fatal("preimage does not hash to the commitment")
	}

	c := Committed(secret.Hash())
	if c.Revealed() {
		t.Fatal("fresh commitment is revealed")
	}
	if _, err := c.Preimage(); !errors.Is(err, ErrNotRevealed) {
		t.Fatalf("unexpected error %v", err)
	}

	bad := p
	bad[0] ^= 1
	if err := c.Reveal(bad); !errors.Is(err, ErrProtocol) {
		t.Fatalf("mismatching preimage accepted: %v", err)
	}
	if c.Revealed() {
		t.Fatal("commitment revealed by a wrong preimage")
	}

	b, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Preimage
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatal(err)
	}
	if err := c.Reveal(decoded); err != nil {
		t.Fatalf("valid preimage rejected: %v", err)
	}
	if got, _ := c.Preimage(); got != p {
		t.Fatal("revealed preimage differs")
	}
}

func TestParseHash(t *testing.T) {
	c, err := NewCommitment()
	if err != nil {
		t.Fatal(err)
	}
	h, err := ParseHash(c.Hash().String())
	if err != nil {
		t.Fatal(err)
	}
	if h != c.Hash() {
		t.Fatal("hash mismatch")
	}
	for _, bad := range []string{"", "00", "xyz"} {
		if _, err := ParseHash(bad); !errors.Is(err, ErrParse) {
			t.Errorf("%q: expected a parse error, got %v", bad, err)
		}
	}
}

func TestMatchPrivKeys(t *testing.T) {
	pairs, err := GenerateKeyPairs(3)
	if err != nil {
		t.Fatal(err)
	}
	expected := []*secp256k1.PublicKey{pairs[0].Pub, pairs[1].Pub}

	// Hand over order does not matter.
	err = MatchPrivKeys([]*secp256k1.PrivateKey{pairs[1].Priv, pairs[0].Priv},
		expected)
	if err != nil {
		t.Fatalf("valid keys rejected: %v", err)
	}

	tests := []struct {
		name  string
		privs []*secp256k1.PrivateKey
	}{
		{"foreign key", []*secp256k1.PrivateKey{pairs[0].Priv, pairs[2].Priv}},
		{"same key twice", []*secp256k1.PrivateKey{pairs[0].Priv, pairs[0].Priv}},
		{"missing key", []*secp256k1.PrivateKey{pairs[0].Priv}},
	}
	for _, test := range tests {
		if err := MatchPrivKeys(test.privs, expected); !errors.Is(err, ErrProtocol) {
			t.Errorf("%s: expected a protocol error, got %v", test.name, err)
		}
	}

	s := FormatPrivKey(pairs[2].Priv)
	priv, err := ParsePrivKey(s)
	if err != nil {
		t.Fatal(err)
	}
	if err := MatchPrivKey(priv, pairs[2].Pub); err != nil {
		t.Fatal(err)
	}
	if err := MatchPrivKey(priv, pairs[1].Pub); !errors.Is(err, ErrProtocol) {
		t.Fatalf("mismatching key accepted: %v", err)
	}
	if _, err := ParsePrivKey(s[:10]); !errors.Is(err, ErrParse) {
		t.Fatalf("short key accepted: %v", err)
	}
}
