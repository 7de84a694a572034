// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package contract

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// HashSize is the size of a commitment hash and of its preimage.
const HashSize = sha256.Size

// ErrNotRevealed is returned when the preimage of a commitment is
// requested before it was revealed.
var ErrNotRevealed = errors.New("commitment has not been revealed")

// Hash is the SHA-256 hash locking the hashlock paths of both contracts.
type Hash [HashSize]byte

// String returns the hash as a hex string.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseHash decodes a hex encoded commitment hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, parseError("malformed commitment hash", err)
	}
	if len(b) != HashSize {
		return h, parseError(fmt.Sprintf("commitment hash must be %d "+
			"bytes, got %d", HashSize, len(b)), nil)
	}
	copy(h[:], b)
	return h, nil
}

// Preimage is the secret value of a commitment.
type Preimage [HashSize]byte

// Hash returns the SHA-256 hash of the preimage.
func (p *Preimage) Hash() Hash {
	return Hash(sha256.Sum256(p[:]))
}

// Matches reports whether the preimage hashes to h.
func (p *Preimage) Matches(h Hash) bool {
	return p.Hash() == h
}

// String returns the preimage as a hex string.
func (p Preimage) String() string {
	return hex.EncodeToString(p[:])
}

// MarshalJSON encodes the preimage as a JSON hex string.
func (p Preimage) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a preimage from a JSON hex string.
func (p *Preimage) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return parseError("malformed preimage", err)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return parseError("malformed preimage", err)
	}
	if len(raw) != HashSize {
		return parseError(fmt.Sprintf("preimage must be %d bytes, got %d",
			HashSize, len(raw)), nil)
	}
	copy(p[:], raw)
	return nil
}

// Commitment is the shared hash lock of a swap.  It is either committed,
// when only the hash is known, or revealed, once a preimage matching the
// hash has been provided.  The preimage can only be obtained through a
// revealed commitment.
type Commitment struct {
	hash     Hash
	preimage *Preimage
}

// NewCommitment generates a random secret.  The returned commitment is
// revealed to its creator.
func NewCommitment() (*Commitment, error) {
	var p Preimage
	if _, err := rand.Read(p[:]); err != nil {
		return nil, MakeError(ErrWallet, "failed to generate a secret", err)
	}
	return &Commitment{hash: p.Hash(), preimage: &p}, nil
}

// Committed returns a commitment to hash with an unknown preimage.
func Committed(hash Hash) *Commitment {
	return &Commitment{hash: hash}
}

// Hash returns the committed hash.
func (c *Commitment) Hash() Hash {
	return c.hash
}

// Revealed reports whether the preimage is known.
func (c *Commitment) Revealed() bool {
	return c.preimage != nil
}

// Reveal verifies that p is the preimage of the committed hash and moves
// the commitment to the revealed state.  A mismatching preimage is a fatal
// protocol error.
func (c *Commitment) Reveal(p Preimage) error {
	if !p.Matches(c.hash) {
		return protocolError(fmt.Sprintf("preimage does not hash to "+
			"commitment %s", c.hash))
	}
	c.preimage = &p
	return nil
}

// Preimage returns the secret of a revealed commitment.
func (c *Commitment) Preimage() (Preimage, error) {
	if c.preimage == nil {
		return Preimage{}, ErrNotRevealed
	}
	return *c.preimage, nil
}
