// Copyright (c) 2018-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package maker

import "github.com/decred/joinswap/contract"

const (
	// Phase1Users is the number of users funding the users-to-maker
	// contract.
	Phase1Users = contract.Users

	// Phase2Users is the number of fresh identities paid by the maker
	// in the second phase.
	Phase2Users = 2

	// DefaultPayout is the value in atoms of every maker-to-user
	// contract.
	DefaultPayout = 45000
)
