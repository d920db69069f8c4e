// Copyright 2017 Manuel Iwansky.
// This source code may be used according to a BSD-style license
// that is stated in the LICENSE file.

// Package guard decides whether an output path may be created or replaced.
package guard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/w33zl3p00tch/sesame/prompt"
)

// DefaultTimeout is how long Check waits for an answer.
const DefaultTimeout = 5 * time.Second

// Decision is the outcome of Check.
type Decision int

const (
	Proceed Decision = iota
	Declined
	TimedOut
)

func (d Decision) String() string {
	switch d {
	case Declined:
		return "declined"
	case TimedOut:
		return "timed out"
	}
	return "proceed"
}

// Guard asks before an existing path is replaced. It never touches the
// path itself.
type Guard struct {
	Prompter *prompt.Prompter
	Stdout   io.Writer // receives the abort notices
	Stderr   io.Writer // receives the "File exists at" notice
	Timeout  time.Duration
	Force    bool
}

var warn = color.New(color.FgYellow)

// Check returns Proceed when force is set or path does not exist.
// Otherwise it asks for confirmation and waits at most Timeout.
func (g *Guard) Check(ctx context.Context, path string) (Decision, error) {
	if g.Force {
		return Proceed, nil
	}
	// Lstat, so a dangling symlink still counts as existing.
	if _, err := os.Lstat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Proceed, nil
		}
		return Declined, err
	}
	if g.Prompter == nil {
		return Declined, errors.New("no input available to confirm overwrite")
	}

	warn.Fprintf(g.Stderr, "File exists at %s\n", path)
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ans, err := g.Prompter.Confirm(ctx, "Overwrite? (yes/No): ", timeout)
	if err != nil {
		return Declined, err
	}
	switch ans {
	case prompt.Yes:
		return Proceed, nil
	case prompt.TimedOut:
		fmt.Fprintln(g.Stdout, "Aborted on timeout")
		return TimedOut, nil
	}
	fmt.Fprintln(g.Stdout, "Aborted.")
	return Declined, nil
}
