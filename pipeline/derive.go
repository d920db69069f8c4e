// Copyright 2017 Manuel Iwansky.
// This source code may be used according to a BSD-style license
// that is stated in the LICENSE file.

package pipeline

import (
	"path/filepath"
	"strings"
)

// Suffix is appended to encrypted outputs and stripped when decrypting.
const Suffix = ".sesame"

// Op is the operation of one invocation.
type Op int

const (
	Encrypt Op = iota
	Decrypt
)

func (o Op) String() string {
	if o == Decrypt {
		return "decrypt"
	}
	return "encrypt"
}

// DeriveOutput returns the output path for op. An explicit path is used as
// given. Otherwise encrypting a sole input appends Suffix verbatim and
// decrypting strips it; every other case is a usage error.
func DeriveOutput(op Op, inputs []string, explicit string) (string, error) {
	switch op {
	case Encrypt:
		if len(inputs) == 0 {
			return "", Usagef("nothing to encrypt")
		}
		if explicit != "" {
			return explicit, nil
		}
		if len(inputs) > 1 {
			return "", Usagef("an output name is required when encrypting %d inputs", len(inputs))
		}
		return filepath.Clean(inputs[0]) + Suffix, nil

	case Decrypt:
		if len(inputs) != 1 {
			return "", Usagef("decrypt takes exactly one container, got %d", len(inputs))
		}
		if explicit != "" {
			return explicit, nil
		}
		in := filepath.Clean(inputs[0])
		base := filepath.Base(in)
		if !strings.HasSuffix(base, Suffix) || base == Suffix {
			return "", Usagef("cannot derive an output name: %s does not end in %s", in, Suffix)
		}
		return strings.TrimSuffix(in, Suffix), nil
	}
	return "", Usagef("unknown operation %d", op)
}
