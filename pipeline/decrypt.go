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

// DecryptRequest describes one decrypt run.
type DecryptRequest struct {
	Container string
	Output    string // optional file or directory
}

// placement maps a top-level archive entry to its destination.
type placement struct {
	name string // entry name inside the archive
	dest string
}

// Decrypt decrypts a container and restores its content. It returns the
// paths that were written.
func (p *Pipeline) Decrypt(ctx context.Context, req DecryptRequest) ([]string, error) {
	if fi, err := os.Stat(req.Container); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Kind: ErrMissingInput, Path: req.Container}
		}
		return nil, err
	} else if fi.IsDir() {
		return nil, &Error{Kind: ErrUsage, Path: req.Container, Err: errors.New("is a directory, not a container")}
	}
	target, err := DeriveOutput(Decrypt, []string{req.Container}, req.Output)
	if err != nil {
		return nil, err
	}

	pw, err := p.password(ctx, false)
	if err != nil {
		return nil, err
	}
	defer clear(pw)

	start := time.Now()
	sealed, err := os.ReadFile(req.Container)
	if err != nil {
		return nil, err
	}
	p.logf("Calculating the decryption key. This may take a while...\n")
	bar := p.progress(int64(len(sealed)), "Decrypting")
	// The plaintext stays in memory until it authenticated completely.
	var plain bytes.Buffer
	n, err := container.Decrypt(&plain, io.TeeReader(bytes.NewReader(sealed), bar), pw)
	bar.Finish()
	defer clear(plain.Bytes())
	if err != nil {
		return nil, classify(req.Container, err)
	}

	idx, err := tarball.Inspect(bytes.NewReader(plain.Bytes()))
	if err != nil {
		return nil, classify(req.Container, err)
	}
	dir, places, err := place(idx, req.Container, target, req.Output != "")
	if err != nil {
		return nil, err
	}

	for _, pl := range places {
		if err := p.check(ctx, pl.dest); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	written, err := unpackInto(dir, plain.Bytes(), places)
	if err != nil {
		return written, classify(req.Container, err)
	}

	p.report("decrypted", n, start)
	for _, path := range written {
		p.logf("Destination: %s\n", path)
	}
	return written, nil
}

// place decides where each top-level entry goes and returns the common
// parent directory. A single entry becomes target itself, or lands inside
// target when it is an explicit, existing directory. Several entries go
// into the explicit target directory, or next to the container.
func place(idx *tarball.Index, containerPath, target string, explicit bool) (string, []placement, error) {
	targetIsDir := false
	if fi, err := os.Stat(target); err == nil && fi.IsDir() {
		targetIsDir = true
	}

	if len(idx.Top) == 1 {
		top := idx.Top[0]
		dest := target
		if explicit && targetIsDir {
			dest = filepath.Join(target, top.Name)
		}
		return filepath.Dir(dest), []placement{{name: top.Name, dest: dest}}, nil
	}

	dir := filepath.Dir(containerPath)
	if explicit {
		if _, err := os.Lstat(target); err == nil && !targetIsDir {
			return "", nil, &Error{Kind: ErrUsage, Path: target,
				Err: fmt.Errorf("container holds %d entries, output must be a directory", len(idx.Top))}
		}
		dir = target
	}
	places := make([]placement, 0, len(idx.Top))
	for _, top := range idx.Top {
		places = append(places, placement{name: top.Name, dest: filepath.Join(dir, top.Name)})
	}
	return dir, places, nil
}

// unpackInto extracts the archive into a scratch directory inside dir and
// renames each top-level entry to its destination.
func unpackInto(dir string, archive []byte, places []placement) ([]string, error) {
	scratch, err := os.MkdirTemp(dir, ".sesame-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(scratch)
	if err := tarball.Unpack(bytes.NewReader(archive), scratch); err != nil {
		return nil, err
	}

	trash, err := os.MkdirTemp(dir, ".sesame-old-*")
	if err != nil {
		return nil, err
	}
	var written []string
	for _, pl := range places {
		if err := replace(filepath.Join(scratch, pl.name), pl.dest, trash); err != nil {
			// Only removed when empty; it may hold what could not be
			// restored.
			os.Remove(trash)
			return written, fmt.Errorf("writing %s: %w", pl.dest, err)
		}
		written = append(written, pl.dest)
	}
	return written, os.RemoveAll(trash)
}
