// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2016-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"fmt"

	"github.com/decred/dcrd/chaincfg/v3"
)

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	*chaincfg.Params
	WalletClientPort string
	MakerServerPort  string
}

// MainNetParams contains parameters specific to running the maker and
// dcrwallet on the main network.
var MainNetParams = Params{
	Params:           chaincfg.MainNetParams(),
	WalletClientPort: "9111",
	MakerServerPort:  "9171",
}

// TestNet3Params contains parameters specific to running the maker and
// dcrwallet on the test network.
var TestNet3Params = Params{
	Params:           chaincfg.TestNet3Params(),
	WalletClientPort: "19111",
	MakerServerPort:  "19171",
}

// SimNetParams contains parameters specific to the simulation test network
// (wire.SimNet).
var SimNetParams = Params{
	Params:           chaincfg.SimNetParams(),
	WalletClientPort: "19558",
	MakerServerPort:  "19571",
}

// Lookup returns the parameters of the named network.  The names match
// the chaincfg network names.
func Lookup(name string) (*Params, error) {
	for _, p := range []*Params{&MainNetParams, &TestNet3Params, &SimNetParams} {
		if p.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("unknown network %q", name)
}
