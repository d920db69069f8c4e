// Copyright 2017 Manuel Iwansky.
// This source code may be used according to a BSD-style license
// that is stated in the LICENSE file.

// Package prompt is the interactive channel of the tool: yes/no questions
// bounded by a timeout and passphrase entry. All prompts share one
// buffered reader, so answers typed ahead are never lost between prompts.
package prompt

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"
)

var (
	// ErrTimeout is returned when no line arrived before the deadline.
	ErrTimeout = errors.New("timed out waiting for input")
	// ErrEmptyPassword is returned for an empty passphrase.
	ErrEmptyPassword = errors.New("empty passphrase is not allowed")
	// ErrPasswordMismatch is returned when the verification differs.
	ErrPasswordMismatch = errors.New("passphrases don't match")
)

// Answer is the outcome of a yes/no question.
type Answer int

const (
	No Answer = iota
	Yes
	TimedOut
)

func (a Answer) String() string {
	switch a {
	case Yes:
		return "yes"
	case TimedOut:
		return "timed out"
	}
	return "no"
}

type lineResult struct {
	line string
	err  error
}

// Prompter reads answers from an input and writes questions to out.
type Prompter struct {
	// After is the clock used for timeouts. It defaults to time.After and
	// is replaced in tests.
	After func(time.Duration) <-chan time.Time

	in  *bufio.Reader
	out io.Writer
	fd  int // terminal file descriptor, -1 if in is not a terminal

	// pending is a read that outlived its deadline. Only one goroutine
	// ever reads from in; the next ReadLine picks its result up.
	pending chan lineResult
}

// New returns a Prompter over in. Passphrases are read without echo when
// in is a terminal.
func New(in io.Reader, out io.Writer) *Prompter {
	p := &Prompter{
		After: time.After,
		in:    bufio.NewReader(in),
		out:   out,
		fd:    -1,
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.fd = int(f.Fd())
	}
	return p
}

// ReadLine returns the next line without its line ending. A timeout of
// zero waits forever. On timeout the read is abandoned, not cancelled.
func (p *Prompter) ReadLine(ctx context.Context, timeout time.Duration) (string, error) {
	ch := p.pending
	if ch == nil {
		ch = make(chan lineResult, 1)
		go func() {
			line, err := p.in.ReadString('\n')
			ch <- lineResult{line: strings.TrimRight(line, "\r\n"), err: err}
		}()
	}

	var expired <-chan time.Time
	if timeout > 0 {
		expired = p.After(timeout)
	}
	select {
	case res := <-ch:
		p.pending = nil
		if res.err == io.EOF && res.line != "" {
			return res.line, nil
		}
		return res.line, res.err
	case <-expired:
		p.pending = ch
		return "", ErrTimeout
	case <-ctx.Done():
		p.pending = ch
		return "", ctx.Err()
	}
}

// Confirm asks a yes/no question. Only "y" and "yes" (any case) count as
// yes; an empty line or end of input is no.
func (p *Prompter) Confirm(ctx context.Context, question string, timeout time.Duration) (Answer, error) {
	fmt.Fprint(p.out, question)
	line, err := p.ReadLine(ctx, timeout)
	switch {
	case errors.Is(err, ErrTimeout):
		fmt.Fprintln(p.out)
		return TimedOut, nil
	case err == io.EOF:
		fmt.Fprintln(p.out)
		return No, nil
	case err != nil:
		return No, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return Yes, nil
	}
	return No, nil
}

// Password asks for a passphrase. On a terminal it is read without echo
// and, when verify is set, asked for twice. Otherwise one line is read
// from the shared input.
func (p *Prompter) Password(ctx context.Context, verify bool) ([]byte, error) {
	if p.fd < 0 {
		fmt.Fprint(p.out, "Enter passphrase: ")
		line, err := p.ReadLine(ctx, 0)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("reading passphrase: %w", err)
		}
		if line == "" {
			return nil, ErrEmptyPassword
		}
		return []byte(line), nil
	}

	pw, err := p.readTerminal("Enter passphrase: ")
	if err != nil {
		return nil, err
	}
	if len(pw) == 0 {
		return nil, ErrEmptyPassword
	}
	if !verify {
		return pw, nil
	}
	again, err := p.readTerminal("Please verify the passphrase: ")
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(pw, again) {
		return nil, ErrPasswordMismatch
	}
	return pw, nil
}

func (p *Prompter) readTerminal(msg string) ([]byte, error) {
	fmt.Fprint(p.out, msg)
	pw, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	return pw, nil
}
