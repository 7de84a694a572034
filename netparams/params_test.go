// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import "testing"

func TestLookup(t *testing.T) {
	for _, p := range []*Params{&MainNetParams, &TestNet3Params, &SimNetParams} {
		got, err := Lookup(p.Name)
		if err != nil {
			t.Fatal(err)
		}
		if got != p {
			t.Fatalf("lookup of %s returned %s", p.Name, got.Name)
		}
		if got.MakerServerPort == got.WalletClientPort {
			t.Fatalf("%s: maker and wallet share port %s", p.Name,
				got.MakerServerPort)
		}
	}
	if _, err := Lookup("regnet"); err == nil {
		t.Fatal("unknown network accepted")
	}
}
