// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package version

import "testing"

func TestString(t *testing.T) {
	defer func(pre, build string) {
		PreRelease, BuildMetadata = pre, build
	}(PreRelease, BuildMetadata)

	tests := []struct {
		pre, build, want string
	}{
		{"", "", "0.1.0"},
		{"beta", "", "0.1.0-beta"},
		{"rc.1", "abc$%^def", "0.1.0-rc.1+abcdef"},
	}
	for _, test := range tests {
		PreRelease, BuildMetadata = test.pre, test.build
		if got := String(); got != test.want {
			t.Fatalf("String() = %q, want %q", got, test.want)
		}
	}
}
