// Copyright 2017 Manuel Iwansky.
// This source code may be used according to a BSD-style license
// that is stated in the LICENSE file.

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/w33zl3p00tch/sesame/container"
	"github.com/w33zl3p00tch/sesame/tarball"
)

// EncryptRequest describes one encrypt run.
type EncryptRequest struct {
	Inputs []string
	Output string // optional for a single input
	Params container.Params
}

// Encrypt packs the inputs, encrypts them and writes the container. It
// returns the path that was written.
func (p *Pipeline) Encrypt(ctx context.Context, req EncryptRequest) (string, error) {
	output, err := p.encryptTarget(req)
	if err != nil {
		return "", err
	}
	if err := p.check(ctx, output); err != nil {
		return "", err
	}

	pw, err := p.password(ctx, true)
	if err != nil {
		return "", err
	}
	defer clear(pw)

	start := time.Now()
	var packed bytes.Buffer
	if err := tarball.Pack(&packed, req.Inputs); err != nil {
		return "", classify("", fmt.Errorf("packing inputs: %w", err))
	}
	archive := packed.Bytes()
	defer clear(archive)

	p.logf("Calculating the encryption key. This may take a while...\n")
	bar := p.progress(int64(len(archive)), "Encrypting")
	n, err := writeAtomic(output, func(w io.Writer) (int64, error) {
		return container.Encrypt(w, io.TeeReader(bytes.NewReader(archive), bar), pw, req.Params)
	})
	bar.Finish()
	if err != nil {
		return "", classify(output, err)
	}

	p.report("written", n, start)
	p.logf("Encrypted file: %s\n", output)
	return output, nil
}

// encryptTarget validates the request and returns the output path. An
// existing directory given as output receives <input>.sesame, as long as
// there is one input to name it after.
func (p *Pipeline) encryptTarget(req EncryptRequest) (string, error) {
	if len(req.Inputs) == 0 {
		return "", Usagef("nothing to encrypt")
	}
	for _, in := range req.Inputs {
		if _, err := os.Lstat(in); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", &Error{Kind: ErrMissingInput, Path: in}
			}
			return "", err
		}
	}
	if err := tarball.CheckNames(req.Inputs); err != nil {
		return "", classify("", err)
	}
	output, err := DeriveOutput(Encrypt, req.Inputs, req.Output)
	if err != nil {
		return "", err
	}

	if fi, err := os.Stat(output); err == nil && fi.IsDir() {
		if len(req.Inputs) > 1 {
			return "", &Error{Kind: ErrUsage, Path: output, Err: errors.New("output is a directory")}
		}
		output = filepath.Join(output, filepath.Base(req.Inputs[0])+Suffix)
	}
	for _, in := range req.Inputs {
		if filepath.Clean(in) == output {
			return "", &Error{Kind: ErrUsage, Path: output, Err: errors.New("output would replace an input")}
		}
	}
	if fi, err := os.Stat(filepath.Dir(output)); err != nil || !fi.IsDir() {
		return "", &Error{Kind: ErrMissingInput, Path: filepath.Dir(output), Err: errors.New("output directory does not exist")}
	}
	return output, nil
}
