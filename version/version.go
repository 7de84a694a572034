// Copyright (c) 2013-2015 The btcsuite developers
// Copyright (c) 2015-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package version provides the semantic version shared by the joinswapd
// daemon and the joinswap client.
package version

import (
	"bytes"
	"fmt"
	"strings"
)

// semanticAlphabet lists the characters allowed in the pre-release and
// build metadata parts of a semantic version.
const semanticAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-."

// These constants define the application version and follow the semantic
// versioning 2.0.0 spec (http://semver.org/).
const (
	Major uint = 0
	Minor uint = 1
	Patch uint = 0
)

var (
	// PreRelease is defined as a variable so it can be overridden during
	// the build process with '-ldflags "-X
	// github.com/decred/joinswap/version.PreRelease=foo"' if needed.
	PreRelease = "pre"

	// BuildMetadata is defined as a variable so it can be overridden
	// during the build process.
	BuildMetadata = ""
)

// String returns the application version as a properly formed string per
// the semantic versioning 2.0.0 spec.
func String() string {
	version := fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)

	pre := normalizeVerString(PreRelease)
	if pre != "" {
		version = version + "-" + pre
	}
	build := normalizeVerString(BuildMetadata)
	if build != "" {
		version = version + "+" + build
	}
	return version
}

// normalizeVerString returns the passed string stripped of all characters
// which are not valid according to the semantic versioning guidelines for
// pre-release and build metadata strings.
func normalizeVerString(str string) string {
	var result bytes.Buffer
	for _, r := range str {
		if strings.ContainsRune(semanticAlphabet, r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}
