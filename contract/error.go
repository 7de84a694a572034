// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package contract

// ErrorKind identifies a class of fatal swap errors.  All kinds terminate
// the session that produced them.
type ErrorKind string

const (
	// ErrParse indicates malformed key, address, hash, descriptor or
	// JSON text received from a peer.
	ErrParse = ErrorKind("ErrParse")

	// ErrProtocol indicates a violated protocol invariant: a failed
	// validation rule, a key layout or count mismatch, or a preimage
	// that does not match the commitment.
	ErrProtocol = ErrorKind("ErrProtocol")

	// ErrWallet indicates that a wallet or transaction building
	// collaborator failed.
	ErrWallet = ErrorKind("ErrWallet")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies a swap error.  It has full support for errors.Is and
// errors.As, so the caller can ascertain the specific reason for the error
// by checking the underlying error kind.
type Error struct {
	Kind        ErrorKind
	Description string
	Err         error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind of this error.
func (e Error) Is(target error) bool {
	kind, ok := target.(ErrorKind)
	return ok && kind == e.Kind
}

// MakeError creates an Error given a set of arguments.
func MakeError(kind ErrorKind, desc string, err error) Error {
	return Error{Kind: kind, Description: desc, Err: err}
}

func parseError(desc string, err error) Error {
	return MakeError(ErrParse, desc, err)
}

func protocolError(desc string) Error {
	return MakeError(ErrProtocol, desc, nil)
}
