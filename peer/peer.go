// Copyright (c) 2020 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package peer implements the line oriented message framing used between
// the maker and the users.  Every message is a single newline terminated
// UTF-8 line carrying either comma separated tokens or a JSON document.
package peer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/davecgh/go-spew/spew"
	"github.com/decred/joinswap/contract"
)

const (
	// DefaultIdleTimeout bounds the time spent waiting for a single
	// message from a peer.
	DefaultIdleTimeout = 10 * time.Minute

	// MaxLineSize is the longest message accepted from a peer.
	MaxLineSize = 1 << 20
)

var (
	// ErrTimeout is returned when a peer stays silent longer than the
	// idle timeout.
	ErrTimeout = errors.New("peer idle timeout")

	// ErrLineTooLong is returned when a peer sends a message exceeding
	// MaxLineSize.
	ErrLineTooLong = errors.New("message too long")
)

// Conn is a framed connection to a peer.  It is not safe for concurrent
// use.
type Conn struct {
	c    net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	idle time.Duration
	name string
}

// New wraps c.  A zero idle timeout disables the liveness bound.
func New(c net.Conn, idle time.Duration) *Conn {
	return &Conn{
		c:    c,
		r:    bufio.NewReaderSize(c, 4096),
		w:    bufio.NewWriter(c),
		idle: idle,
		name: c.RemoteAddr().String(),
	}
}

// SetName changes the name used for the peer in log messages and errors.
func (p *Conn) SetName(name string) {
	p.name = name
}

func (p *Conn) String() string {
	return p.name
}

// Close closes the underlying connection.
func (p *Conn) Close() error {
	return p.c.Close()
}

func (p *Conn) timeoutErr(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%s: %w", p.name, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", p.name, err)
}

// ReadLine reads a single message and strips its line terminator.
func (p *Conn) ReadLine() (string, error) {
	if p.idle > 0 {
		if err := p.c.SetReadDeadline(time.Now().Add(p.idle)); err != nil {
			return "", p.timeoutErr(err)
		}
	}
	var line []byte
	for {
		frag, isPrefix, err := p.r.ReadLine()
		if err != nil {
			return "", p.timeoutErr(err)
		}
		line = append(line, frag...)
		if len(line) > MaxLineSize {
			return "", fmt.Errorf("%s: %w", p.name, ErrLineTooLong)
		}
		if !isPrefix {
			break
		}
	}
	if !utf8.Valid(line) {
		return "", contract.MakeError(contract.ErrParse,
			fmt.Sprintf("%s: message is not valid UTF-8", p.name), nil)
	}
	s := string(line)
	log.Tracef("%s -> %s", p.name, s)
	return s, nil
}

// WriteLine sends a single message.
func (p *Conn) WriteLine(s string) error {
	if strings.ContainsAny(s, "\r\n") {
		return fmt.Errorf("%s: message contains a line terminator", p.name)
	}
	log.Tracef("%s <- %s", p.name, s)
	if p.idle > 0 {
		if err := p.c.SetWriteDeadline(time.Now().Add(p.idle)); err != nil {
			return p.timeoutErr(err)
		}
	}
	if _, err := p.w.WriteString(s); err != nil {
		return p.timeoutErr(err)
	}
	if err := p.w.WriteByte('\n'); err != nil {
		return p.timeoutErr(err)
	}
	if err := p.w.Flush(); err != nil {
		return p.timeoutErr(err)
	}
	return nil
}

// ReadTokens reads a comma separated token list.  It fails unless exactly
// n tokens are received.
func (p *Conn) ReadTokens(n int) ([]string, error) {
	line, err := p.ReadLine()
	if err != nil {
		return nil, err
	}
	tokens := strings.Split(line, ",")
	if len(tokens) != n {
		return nil, contract.MakeError(contract.ErrParse, fmt.Sprintf(
			"%s: expected %d tokens, got %d", p.name, n, len(tokens)), nil)
	}
	for i := range tokens {
		tokens[i] = strings.TrimSpace(tokens[i])
	}
	return tokens, nil
}

// WriteTokens sends a comma separated token list.
func (p *Conn) WriteTokens(tokens ...string) error {
	return p.WriteLine(strings.Join(tokens, ","))
}

// ReadJSON reads a JSON document into v.
func (p *Conn) ReadJSON(v interface{}) error {
	line, err := p.ReadLine()
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(line), v); err != nil {
		var cerr contract.Error
		if errors.As(err, &cerr) {
			return fmt.Errorf("%s: %w", p.name, err)
		}
		return contract.MakeError(contract.ErrParse, fmt.Sprintf(
			"%s: malformed JSON message", p.name), err)
	}
	log.Tracef("%s decoded %v", p.name, newLogClosure(func() string {
		return spew.Sdump(v)
	}))
	return nil
}

// WriteJSON sends v as a single line JSON document.
func (p *Conn) WriteJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: failed to encode message: %w", p.name, err)
	}
	return p.WriteLine(string(b))
}
