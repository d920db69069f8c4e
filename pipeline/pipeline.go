// Copyright 2017 Manuel Iwansky.
// This source code may be used according to a BSD-style license
// that is stated in the LICENSE file.

/*
Package pipeline runs one encrypt or decrypt invocation end to end.

All paths handed to a Pipeline must be absolute. Everything that can fail
is checked before the first write, and outputs are always produced next to
their final location and renamed into place, so an existing target is
either left untouched or replaced as a whole.
*/
package pipeline

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/w33zl3p00tch/sesame/guard"
)

// Credentials supplies the password. verify asks for it twice when the
// password is typed interactively.
type Credentials func(ctx context.Context, verify bool) ([]byte, error)

// StaticPassword returns Credentials for a password given up front.
func StaticPassword(pw []byte) Credentials {
	return func(context.Context, bool) ([]byte, error) {
		return append([]byte(nil), pw...), nil
	}
}

// Pipeline holds what is shared by both operations.
type Pipeline struct {
	Guard       *guard.Guard
	Credentials Credentials
	Stdout      io.Writer
	Stderr      io.Writer
	Quiet       bool
}

// logf prints progress messages unless quiet.
func (p *Pipeline) logf(format string, args ...any) {
	if p.Quiet || p.Stdout == nil {
		return
	}
	fmt.Fprintf(p.Stdout, format, args...)
}

// progress returns a byte counter drawn on stderr.
func (p *Pipeline) progress(size int64, desc string) *progressbar.ProgressBar {
	w := p.Stderr
	if p.Quiet || w == nil {
		w = io.Discard
	}
	if size < 1 {
		size = 1
	}
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// check runs the overwrite guard for path.
func (p *Pipeline) check(ctx context.Context, path string) error {
	d, err := p.Guard.Check(ctx, path)
	if err != nil {
		return fmt.Errorf("checking %s: %w", path, err)
	}
	if d != guard.Proceed {
		return &Error{Kind: ErrOverwriteAborted, Path: path, Err: fmt.Errorf("overwrite %s", d)}
	}
	return nil
}

func (p *Pipeline) password(ctx context.Context, verify bool) ([]byte, error) {
	if p.Credentials == nil {
		return nil, Usagef("no password given")
	}
	pw, err := p.Credentials(ctx, verify)
	if err != nil {
		return nil, classify("", err)
	}
	if len(pw) == 0 {
		return nil, Usagef("empty password is not allowed")
	}
	return pw, nil
}

func (p *Pipeline) report(op string, n int64, start time.Time) {
	p.logf("%s %s in %s\n", humanize.Bytes(uint64(n)), op, time.Since(start).Round(time.Millisecond))
}
