// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package peer

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/decred/joinswap/contract"
)

func pipe(idle time.Duration) (*Conn, *Conn) {
	a, b := net.Pipe()
	return New(a, idle), New(b, idle)
}

// send writes from a separate goroutine since pipes are unbuffered.
func send(t *testing.T, fn func() error) <-chan error {
	t.Helper()
	errc := make(chan error, 1)
	go func() { errc <- fn() }()
	return errc
}

func TestTokens(t *testing.T) {
	a, b := pipe(time.Second)
	defer a.Close()
	defer b.Close()

	errc := send(t, func() error {
		if err := a.WriteTokens("k1", "k2", "k3"); err != nil {
			return err
		}
		return a.WriteLine("single")
	})
	tokens, err := b.ReadTokens(3)
	if err != nil {
		t.Fatal(err)
	}
	if tokens[0] != "k1" || tokens[1] != "k2" || tokens[2] != "k3" {
		t.Fatalf("unexpected tokens %v", tokens)
	}
	line, err := b.ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	if line != "single" {
		t.Fatalf("unexpected line %q", line)
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	errc = send(t, func() error { return a.WriteTokens("k1", "k2") })
	if _, err := b.ReadTokens(3); !errors.Is(err, contract.ErrParse) {
		t.Fatalf("short token list accepted: %v", err)
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	if err := a.WriteLine("two\nlines"); err == nil {
		t.Fatal("embedded newline accepted")
	}
}

func TestJSON(t *testing.T) {
	a, b := pipe(time.Second)
	defer a.Close()
	defer b.Close()

	secret, err := contract.NewCommitment()
	if err != nil {
		t.Fatal(err)
	}
	p, err := secret.Preimage()
	if err != nil {
		t.Fatal(err)
	}

	errc := send(t, func() error { return a.WriteJSON(p) })
	var got contract.Preimage
	if err := b.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got != p {
		t.Fatal("preimage changed in transit")
	}
	if err := <-errc; err != nil {
		t.Fatal(err)
	}

	errc = send(t, func() error { return a.WriteLine("{not json") })
	if err := b.ReadJSON(&got); !errors.Is(err, contract.ErrParse) {
		t.Fatalf("malformed JSON accepted: %v", err)
	}
	<-errc

	errc = send(t, func() error { return a.WriteLine(`"00"`) })
	if err := b.ReadJSON(&got); !errors.Is(err, contract.ErrParse) {
		t.Fatalf("short preimage accepted: %v", err)
	}
	<-errc
}

func TestIdleTimeout(t *testing.T) {
	a, b := pipe(50 * time.Millisecond)
	defer a.Close()
	defer b.Close()

	start := time.Now()
	_, err := b.ReadLine()
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected a timeout, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("timeout took too long")
	}
}

func TestClosedPeer(t *testing.T) {
	a, b := pipe(time.Second)
	a.Close()
	if _, err := b.ReadLine(); err == nil || errors.Is(err, ErrTimeout) {
		t.Fatalf("unexpected error %v", err)
	}
	b.Close()
}
