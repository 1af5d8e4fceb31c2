// Copyright (c) 2013-2014 The btcsuite developers
// Copyright (c) 2015-2018 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package version holds the version of msutil and the libraries shipped
// with it.
package version

import (
	"fmt"
	"strings"
)

const (
	// preReleaseAlphabet lists the characters semver allows in the
	// pre-release part of a version.
	preReleaseAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-"

	// buildAlphabet lists the characters semver allows in the build
	// metadata part of a version.
	buildAlphabet = preReleaseAlphabet + "."
)

// Semantic version of the release.
const (
	Major uint = 0
	Minor uint = 3
	Patch uint = 0
)

var (
	// PreRelease can be set at link time with
	// '-ldflags "-X github.com/btcsuite/miniscript/internal/version.PreRelease=rc1"'.
	PreRelease = "beta"

	// BuildMetadata can be set at link time with
	// '-ldflags "-X github.com/btcsuite/miniscript/internal/version.BuildMetadata=abc"'.
	BuildMetadata = ""
)

// String returns the version formatted per semantic versioning 2.0.0.
// Invalid characters in the pre-release and build parts are dropped.
func String() string {
	v := fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
	if pre := filterAlphabet(PreRelease, preReleaseAlphabet); pre != "" {
		v += "-" + pre
	}
	if build := filterAlphabet(BuildMetadata, buildAlphabet); build != "" {
		v += "+" + build
	}
	return v
}

func filterAlphabet(s, alphabet string) string {
	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(alphabet, r) {
			return r
		}
		return -1
	}, s)
}
