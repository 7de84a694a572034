// Copyright 2009 The Go Authors. All rights reserved.
// Copyright (c) 2018-2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package shuffle randomizes the order of transaction inputs and outputs
// with a caller provided source of randomness.
package shuffle

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Permutation records where every element ended up after a shuffle.
type Permutation struct {
	perm []int // permutation map
}

// Shuffle pseudo-randomizes the order of elements.
// n is the number of elements. Shuffle fails if n is negative or too large
// or when random cannot be read.
// swap swaps the elements with indexes i and j.
func Shuffle(random io.Reader, n int, swap func(i, j int)) (*Permutation, error) {
	if n < 0 || n > (1<<31-1-1) {
		return nil, fmt.Errorf("invalid number of elements %d", n)
	}

	idx := make([]int, n)
	perm := make([]int, n)
	for i := range idx {
		idx[i] = i
		perm[i] = i
	}

	// Fisher-Yates shuffle: https://en.wikipedia.org/wiki/Fisher%E2%80%93Yates_shuffle
	for i := n - 1; i > 0; i-- {
		j, err := uniformRandom31(random, int32(i+1))
		if err != nil {
			return nil, err
		}
		swap(i, int(j))
		idx[i], idx[j] = idx[j], idx[i]
		perm[idx[i]] = i
		perm[idx[j]] = int(j)
	}
	return &Permutation{perm}, nil
}

// Get returns the new position of the element originally at index.
func (p *Permutation) Get(index int) int {
	return p.perm[index]
}

func uniformRandom31(random io.Reader, n int32) (int32, error) {
	var v uint32
	if err := binary.Read(random, binary.LittleEndian, &v); err != nil {
		return 0, fmt.Errorf("failed to read randomness: %w", err)
	}
	prod := uint64(v) * uint64(n)
	low := uint32(prod)
	if low < uint32(n) {
		thresh := uint32(-n) % uint32(n)
		for low < thresh {
			err := binary.Read(random, binary.LittleEndian, &v)
			if err != nil {
				return 0, fmt.Errorf("failed to read randomness: %w",
					err)
			}
			prod = uint64(v) * uint64(n)
			low = uint32(prod)
		}
	}
	return int32(prod >> 32), nil
}
