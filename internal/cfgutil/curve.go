// Copyright (c) 2016-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"crypto/elliptic"
	"fmt"
)

// CurveID specifies a recognized elliptic curve through an enum.
type CurveID uint16

const (
	CurveP256 CurveID = iota + 1
	CurveP384
	CurveP521
)

var curveNames = map[CurveID]string{
	CurveP256: "P-256",
	CurveP384: "P-384",
	CurveP521: "P-521",
}

// CurveFlag describes a curve and implements the flags.Marshaler and
// Unmarshaler interfaces so it can be used as a config struct field.
type CurveFlag struct {
	curveID CurveID
}

// NewCurveFlag creates a CurveFlag with a default curve.
func NewCurveFlag(defaultValue CurveID) *CurveFlag {
	return &CurveFlag{defaultValue}
}

// ECDSACurve returns the elliptic curve described by f.
func (f *CurveFlag) ECDSACurve() elliptic.Curve {
	switch f.curveID {
	case CurveP256:
		return elliptic.P256()
	case CurveP384:
		return elliptic.P384()
	default:
		return elliptic.P521()
	}
}

// MarshalFlag satisfies the flags.Marshaler interface.
func (f *CurveFlag) MarshalFlag() (name string, err error) {
	name, ok := curveNames[f.curveID]
	if !ok {
		return "", fmt.Errorf("unknown curve ID %v", int(f.curveID))
	}
	return name, nil
}

// UnmarshalFlag satisfies the flags.Unmarshaler interface.
func (f *CurveFlag) UnmarshalFlag(value string) error {
	for id, name := range curveNames {
		if name == value {
			f.curveID = id
			return nil
		}
	}
	return fmt.Errorf("unrecognized curve %v", value)
}
