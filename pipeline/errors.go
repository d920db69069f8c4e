// Copyright 2017 Manuel Iwansky.
// This source code may be used according to a BSD-style license
// that is stated in the LICENSE file.

package pipeline

import (
	"errors"
	"fmt"

	"github.com/w33zl3p00tch/sesame/container"
	"github.com/w33zl3p00tch/sesame/prompt"
	"github.com/w33zl3p00tch/sesame/tarball"
)

// Error kinds. Every error returned by this package matches at most one of
// them with errors.Is; anything else is an I/O failure.
var (
	ErrUsage            = errors.New("usage error")
	ErrMissingInput     = errors.New("missing input")
	ErrOverwriteAborted = errors.New("overwrite aborted")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrArchiveCorrupt   = errors.New("archive corrupt")
)

// Exit codes surfaced by the command.
const (
	ExitOK               = 0
	ExitFailure          = 1
	ExitUsage            = 2
	ExitMissingInput     = 3
	ExitOverwriteAborted = 4
	ExitDecryptionFailed = 5
	ExitArchiveCorrupt   = 6
)

// Error ties a failure to the path it concerns.
type Error struct {
	Kind error // one of the Err* kinds above
	Path string
	Err  error // cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Usagef returns an ErrUsage error with a formatted cause.
func Usagef(format string, args ...any) error {
	return &Error{Kind: ErrUsage, Err: fmt.Errorf(format, args...)}
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrOverwriteAborted):
		return ExitOverwriteAborted
	case errors.Is(err, ErrUsage):
		return ExitUsage
	case errors.Is(err, ErrMissingInput):
		return ExitMissingInput
	case errors.Is(err, ErrDecryptionFailed):
		return ExitDecryptionFailed
	case errors.Is(err, ErrArchiveCorrupt):
		return ExitArchiveCorrupt
	}
	return ExitFailure
}

// classify attaches a kind to errors coming from the lower layers.
func classify(path string, err error) error {
	var pe *Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &pe):
		return err
	case errors.Is(err, container.ErrDecrypt),
		errors.Is(err, container.ErrNotContainer),
		errors.Is(err, container.ErrUnsupportedVersion),
		errors.Is(err, container.ErrCorrupt):
		return &Error{Kind: ErrDecryptionFailed, Path: path, Err: err}
	case errors.Is(err, tarball.ErrCorrupt):
		return &Error{Kind: ErrArchiveCorrupt, Path: path, Err: err}
	case errors.Is(err, tarball.ErrDuplicateName),
		errors.Is(err, container.ErrEmptyPassword),
		errors.Is(err, prompt.ErrEmptyPassword),
		errors.Is(err, prompt.ErrPasswordMismatch):
		return &Error{Kind: ErrUsage, Path: path, Err: err}
	}
	return err
}
