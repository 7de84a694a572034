// Copyright (c) 2018-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package contract builds the two fixed contract shapes used by the
// JoinSwap protocol, the descriptors that describe them and the scripts
// that enforce them.
package contract

import (
	"fmt"
	"strings"

	"github.com/decred/dcrd/chaincfg/v3"
	"github.com/decred/dcrd/dcrec/secp256k1/v3"
	"github.com/decred/dcrd/dcrutil/v3"
	"github.com/decred/dcrd/txscript/v3"
)

const (
	// UsersToMakerLock is the relative timelock in blocks guarding the
	// refund path of the contract funded by the users.
	UsersToMakerLock = 48

	// MakerToUserLock is the relative timelock in blocks guarding the
	// maker's refund path of a contract funded by the maker.
	MakerToUserLock = 69

	// Users is the number of users funding a users-to-maker
	// contract.  The script shape holds exactly two of them.
	Users = 2

	// Add more information when printing out the contract.
	verbosePrintout = true
)

// Kind selects one of the two contract shapes.
type Kind int

const (
	UsersToMaker Kind = iota
	MakerToUser
)

var kindNames = [...]string{
	UsersToMaker: "users-to-maker",
	MakerToUser:  "maker-to-user",
}

func (k Kind) String() string {
	return kindNames[k]
}

// Party identifies the owner of a contract key.
type Party int

const (
	PartyUserA Party = iota
	PartyUserB
	PartyMaker
	PartyUser
)

var partyNames = [...]string{
	PartyUserA: "user A",
	PartyUserB: "user B",
	PartyMaker: "maker",
	PartyUser:  "user",
}

func (p Party) String() string {
	return partyNames[p]
}

// Path identifies one of the alternative spending conditions of a
// contract.
type Path int

const (
	// PathCooperative is spendable immediately with all path keys.
	PathCooperative Path = iota
	// PathTimelock is spendable with the path keys once the relative
	// timelock has expired.
	PathTimelock
	// PathHashlock is spendable with the path keys and the commitment
	// preimage.
	PathHashlock
	numPaths
)

var pathNames = [...]string{
	PathCooperative: "cooperative",
	PathTimelock:    "timelock",
	PathHashlock:    "hashlock",
}

func (p Path) String() string {
	return pathNames[p]
}

// Participant is a single key slot of a contract.
type Participant struct {
	Party Party
	Path  Path
	Key   *secp256k1.PublicKey
}

// layouts lists the key slots of every contract shape in script order.
var layouts = [...][]struct {
	party Party
	path  Path
}{
	UsersToMaker: {
		{PartyUserA, PathCooperative},
		{PartyUserB, PathCooperative},
		{PartyMaker, PathCooperative},
		{PartyUserA, PathTimelock},
		{PartyUserB, PathTimelock},
		{PartyMaker, PathTimelock},
		{PartyUserA, PathHashlock},
		{PartyUserB, PathHashlock},
		{PartyMaker, PathHashlock},
	},
	MakerToUser: {
		{PartyUser, PathCooperative},
		{PartyMaker, PathCooperative},
		{PartyMaker, PathTimelock},
		{PartyUser, PathHashlock},
	},
}

// Contract represents one of the two contract shapes instantiated with
// concrete keys and a commitment hash.
type Contract struct {
	Kind         Kind
	Participants []Participant
	Hash         Hash
	LockTime     uint32

	RedeemScript []byte          // compiled contract
	Addr         dcrutil.Address // P2SH address
	PayScript    []byte          // output script paying to Addr

	ChainParams *chaincfg.Params
}

// NewUsersToMaker creates the contract funded by the phase one users.
// The nine keys are grouped in cooperative, timelock and hashlock
// triplets, each ordered as user A, user B and maker.
func NewUsersToMaker(params *chaincfg.Params, keys []*secp256k1.PublicKey, hash Hash) (*Contract, error) {
	return newContract(params, UsersToMaker, keys, hash, UsersToMakerLock)
}

// NewMakerToUser creates a contract funded by the maker for a single phase
// two user.
func NewMakerToUser(params *chaincfg.Params, userMultisig, makerMultisig, makerTimelock, userHashlock *secp256k1.PublicKey, hash Hash) (*Contract, error) {
	keys := []*secp256k1.PublicKey{userMultisig, makerMultisig,
		makerTimelock, userHashlock}
	return newContract(params, MakerToUser, keys, hash, MakerToUserLock)
}

func newContract(params *chaincfg.Params, kind Kind, keys []*secp256k1.PublicKey, hash Hash, lockTime uint32) (*Contract, error) {
	layout := layouts[kind]
	if len(keys) != len(layout) {
		return nil, protocolError(fmt.Sprintf("%s contract requires %d "+
			"keys, got %d", kind, len(layout), len(keys)))
	}
	c := &Contract{
		Kind:         kind,
		Participants: make([]Participant, len(keys)),
		Hash:         hash,
		LockTime:     lockTime,
		ChainParams:  params,
	}
	for i, slot := range layout {
		c.Participants[i] = Participant{
			Party: slot.party,
			Path:  slot.path,
			Key:   keys[i],
		}
	}
	if err := c.CheckKeyLayout(); err != nil {
		return nil, err
	}
	if err := c.compile(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Contract) compile() error {
	var err error
	switch c.Kind {
	case UsersToMaker:
		c.RedeemScript, err = buildUsersToMakerScript(
			c.PathKeys(PathCooperative), c.PathKeys(PathTimelock),
			c.PathKeys(PathHashlock), c.Hash, int64(c.LockTime))
	case MakerToUser:
		c.RedeemScript, err = buildMakerToUserScript(
			c.PathKeys(PathCooperative), c.PathKeys(PathTimelock)[0],
			c.PathKeys(PathHashlock)[0], c.Hash, int64(c.LockTime))
	}
	if err != nil {
		return fmt.Errorf("failed to compose %s contract: %w", c.Kind, err)
	}
	c.Addr, err = dcrutil.NewAddressScriptHash(c.RedeemScript, c.ChainParams)
	if err != nil {
		return fmt.Errorf("failed to generate a new script hash: %w", err)
	}
	c.PayScript, err = txscript.PayToAddrScript(c.Addr)
	if err != nil {
		return fmt.Errorf("failed to create a new script address: %w", err)
	}
	return nil
}

// CheckKeyLayout asserts the structural invariant of the contract: all
// keys are pairwise distinct and every party holds exactly one key in
// each path it participates in.  It is run by every role on every
// contract it builds or receives.
func (c *Contract) CheckKeyLayout() error {
	layout := layouts[c.Kind]
	if len(c.Participants) != len(layout) {
		return protocolError(fmt.Sprintf("%s contract has %d keys, "+
			"expected %d", c.Kind, len(c.Participants), len(layout)))
	}

	seen := make(map[string]int, len(c.Participants))
	slots := make(map[Participant]int)
	for i, p := range c.Participants {
		if p.Key == nil {
			return protocolError(fmt.Sprintf("missing key for %s %s "+
				"path", p.Party, p.Path))
		}
		k := string(p.Key.SerializeCompressed())
		if j, ok := seen[k]; ok {
			return protocolError(fmt.Sprintf("key %s is used by both "+
				"slot %d and slot %d", FormatPubKey(p.Key), j, i))
		}
		seen[k] = i
		slots[Participant{Party: p.Party, Path: p.Path}]++
	}
	for _, slot := range layout {
		n := slots[Participant{Party: slot.party, Path: slot.path}]
		if n != 1 {
			return protocolError(fmt.Sprintf("%s holds %d keys in the "+
				"%s path", slot.party, n, slot.path))
		}
	}
	return nil
}

// LocateParty finds the party owning the provided cooperative, timelock
// and hashlock keys.  Each key must appear exactly once in the contract,
// in its own path, and all of them must belong to the same party.
func (c *Contract) LocateParty(own []*secp256k1.PublicKey) (Party, error) {
	if len(own) != int(numPaths) {
		return 0, protocolError(fmt.Sprintf("expected %d own keys, got %d",
			numPaths, len(own)))
	}
	party := Party(-1)
	for path, key := range own {
		found := 0
		for _, p := range c.Participants {
			if !p.Key.IsEqual(key) {
				continue
			}
			found++
			if p.Path != Path(path) {
				return 0, protocolError(fmt.Sprintf("own %s key "+
					"placed in the %s path", Path(path), p.Path))
			}
			if party != -1 && party != p.Party {
				return 0, protocolError("own keys are assigned to " +
					"different parties")
			}
			party = p.Party
		}
		if found != 1 {
			return 0, protocolError(fmt.Sprintf("own %s key appears %d "+
				"times", Path(path), found))
		}
	}
	if party == PartyMaker {
		return 0, protocolError("own keys are assigned to the maker")
	}
	return party, nil
}

// PathKeys returns the keys of a path in script order.
func (c *Contract) PathKeys(path Path) []*secp256k1.PublicKey {
	var keys []*secp256k1.PublicKey
	for _, p := range c.Participants {
		if p.Path == path {
			keys = append(keys, p.Key)
		}
	}
	return keys
}

// Key returns the key held by party in path or nil.
func (c *Contract) Key(party Party, path Path) *secp256k1.PublicKey {
	for _, p := range c.Participants {
		if p.Party == party && p.Path == path {
			return p.Key
		}
	}
	return nil
}

// Keys returns all contract keys in slot order.
func (c *Contract) Keys() []*secp256k1.PublicKey {
	keys := make([]*secp256k1.PublicKey, len(c.Participants))
	for i, p := range c.Participants {
		keys[i] = p.Key
	}
	return keys
}

// Descriptor returns the policy descriptor of the contract.
func (c *Contract) Descriptor() string {
	switch c.Kind {
	case UsersToMaker:
		return UsersToMakerDescriptor(c.Keys(), c.Hash)
	default:
		return MakerToUserDescriptor(c.PathKeys(PathCooperative),
			c.PathKeys(PathTimelock)[0], c.PathKeys(PathHashlock)[0],
			c.Hash)
	}
}

// UsersToMakerDescriptor returns the policy descriptor of the contract
// funded by the phase one users.  Keys are ordered as in NewUsersToMaker.
func UsersToMakerDescriptor(keys []*secp256k1.PublicKey, hash Hash) string {
	k := FormatPubKeys(keys...)
	return fmt.Sprintf("sh(thresh(1,multi(3,%s),"+
		"anj:and_v(v:multi(3,%s),older(%d)),"+
		"aj:and_v(v:multi(3,%s),sha256(%s))))",
		strings.Join(k[0:3], ","), strings.Join(k[3:6], ","),
		UsersToMakerLock, strings.Join(k[6:9], ","), hash)
}

// MakerToUserDescriptor returns the policy descriptor of a contract funded
// by the maker for a phase two user.
func MakerToUserDescriptor(multisig []*secp256k1.PublicKey, timelock, hashlock *secp256k1.PublicKey, hash Hash) string {
	return fmt.Sprintf("sh(thresh(1,multi(2,%s),"+
		"snj:and_v(v:pk(%s),older(%d)),"+
		"aj:and_v(v:pk(%s),sha256(%s))))",
		strings.Join(FormatPubKeys(multisig...), ","),
		FormatPubKey(timelock), MakerToUserLock,
		FormatPubKey(hashlock), hash)
}

func (c *Contract) String() string {
	str := fmt.Sprintf("Contract{ %s ", c.Kind)
	if c.Addr != nil {
		str += fmt.Sprintf("p2sh=%s ", c.Addr)
	}
	str += fmt.Sprintf("hash=%s locktime=%d ", c.Hash, c.LockTime)
	if verbosePrintout {
		str += fmt.Sprintf("keys=%d scriptlen=%d ", len(c.Participants),
			len(c.RedeemScript))
	}
	str += "}"
	return str
}
