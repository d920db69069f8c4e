// Copyright 2017 Manuel Iwansky.
// This source code may be used according to a BSD-style license
// that is stated in the LICENSE file.

package container

import (
	"fmt"
	"io"

	"filippo.io/age"
)

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func encryptAge(w io.Writer, r io.Reader, password []byte, logN int) (int64, error) {
	rcp, err := age.NewScryptRecipient(string(password))
	if err != nil {
		return 0, fmt.Errorf("creating age recipient: %w", err)
	}
	rcp.SetWorkFactor(logN)

	cw := &countingWriter{w: w}
	wc, err := age.Encrypt(cw, rcp)
	if err != nil {
		return cw.n, fmt.Errorf("initializing age writer: %w", err)
	}
	if _, err := io.Copy(wc, r); err != nil {
		return cw.n, fmt.Errorf("writing age payload: %w", err)
	}
	if err := wc.Close(); err != nil {
		return cw.n, fmt.Errorf("finalizing age payload: %w", err)
	}
	return cw.n, nil
}

// decryptAge maps every age failure to ErrDecrypt: a wrong password and a
// damaged stanza or payload are indistinguishable to the caller.
func decryptAge(w io.Writer, r io.Reader, password []byte) (int64, error) {
	id, err := age.NewScryptIdentity(string(password))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	id.SetMaxWorkFactor(maxAgeLogN)

	ar, err := age.Decrypt(r, id)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	n, err := io.Copy(w, ar)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return n, nil
}
