// Copyright 2017 Manuel Iwansky.
// This source code may be used according to a BSD-style license
// that is stated in the LICENSE file.

package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// The magic number. Do not change this unless you need to break
// compatibility with other builds.
var magic = []byte{'S', 'E', 'S', 'A'}

const fileVersion = 0x01

// header is the public part of a container. Its encoded bytes are
// authenticated as additional data of every frame.
//
// Layout, big endian:
//
//	[4]magic [1]version [1]mode [1]kdf [1]saltLen [saltLen]salt [kdf params]
//
// kdf params are [8]N [1]r [1]p for scrypt, [4]time [4]memKiB [1]threads
// for argon2id and absent for KDFNone.
type header struct {
	mode   Mode
	kdf    KDF
	salt   []byte
	scrypt ScryptParams
	argon2 Argon2Params
}

func newHeader(p Params) (*header, error) {
	h := &header{mode: p.Mode, kdf: p.KDF, scrypt: p.Scrypt, argon2: p.Argon2}
	if p.Mode == ModeAge {
		h.kdf = KDFNone
		return h, nil
	}
	salt, err := getRandomBytes(saltLength)
	if err != nil {
		return nil, err
	}
	h.salt = salt
	return h, nil
}

func (h *header) MarshalBinary() ([]byte, error) {
	if len(h.salt) > 255 {
		return nil, fmt.Errorf("salt too long: %d bytes", len(h.salt))
	}
	var buf bytes.Buffer
	buf.Write(magic)
	buf.WriteByte(fileVersion)
	buf.WriteByte(byte(h.mode))
	buf.WriteByte(byte(h.kdf))
	buf.WriteByte(byte(len(h.salt)))
	buf.Write(h.salt)
	switch h.kdf {
	case KDFScrypt:
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(h.scrypt.N))
		buf.Write(n[:])
		buf.WriteByte(byte(h.scrypt.R))
		buf.WriteByte(byte(h.scrypt.P))
	case KDFArgon2id:
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], h.argon2.Time)
		buf.Write(v[:])
		binary.BigEndian.PutUint32(v[:], h.argon2.MemoryKiB)
		buf.Write(v[:])
		buf.WriteByte(h.argon2.Threads)
	}
	return buf.Bytes(), nil
}

// readHeader reads and validates a header. It returns the header together
// with the exact bytes it was decoded from.
func readHeader(r io.Reader) (*header, []byte, error) {
	var raw bytes.Buffer
	tr := io.TeeReader(r, &raw)
	read := func(n int) ([]byte, error) {
		b := make([]byte, n)
		if _, err := io.ReadFull(tr, b); err != nil {
			return nil, fmt.Errorf("%w: header truncated", ErrNotContainer)
		}
		return b, nil
	}

	fixed, err := read(len(magic) + 4)
	if err != nil {
		return nil, nil, err
	}
	if !bytes.Equal(fixed[:len(magic)], magic) {
		return nil, nil, ErrNotContainer
	}
	fixed = fixed[len(magic):]
	if fixed[0] != fileVersion {
		return nil, nil, fmt.Errorf("%w: version %d", ErrUnsupportedVersion, fixed[0])
	}
	h := &header{mode: Mode(fixed[1]), kdf: KDF(fixed[2])}
	if !h.mode.valid() {
		return nil, nil, fmt.Errorf("%w: unknown cipher mode %d", ErrNotContainer, fixed[1])
	}
	if h.salt, err = read(int(fixed[3])); err != nil {
		return nil, nil, err
	}

	switch h.kdf {
	case KDFNone:
		if h.mode != ModeAge {
			return nil, nil, fmt.Errorf("%w: mode %s needs a key derivation function", ErrNotContainer, h.mode)
		}
	case KDFScrypt:
		b, err := read(10)
		if err != nil {
			return nil, nil, err
		}
		n := binary.BigEndian.Uint64(b[:8])
		if n > maxScryptN {
			return nil, nil, fmt.Errorf("%w: scrypt N=%d too large", ErrNotContainer, n)
		}
		h.scrypt = ScryptParams{N: int(n), R: int(b[8]), P: int(b[9])}
		if err := validateScrypt(h.scrypt); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrNotContainer, err)
		}
	case KDFArgon2id:
		b, err := read(9)
		if err != nil {
			return nil, nil, err
		}
		h.argon2 = Argon2Params{
			Time:      binary.BigEndian.Uint32(b[0:4]),
			MemoryKiB: binary.BigEndian.Uint32(b[4:8]),
			Threads:   b[8],
		}
		if err := validateArgon2(h.argon2); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrNotContainer, err)
		}
	default:
		return nil, nil, fmt.Errorf("%w: unknown key derivation function %d", ErrNotContainer, fixed[2])
	}
	if h.mode == ModeAge && h.kdf != KDFNone {
		return nil, nil, fmt.Errorf("%w: age mode carries its own key derivation", ErrNotContainer)
	}
	if h.kdf != KDFNone && len(h.salt) == 0 {
		return nil, nil, fmt.Errorf("%w: empty salt", ErrNotContainer)
	}
	return h, raw.Bytes(), nil
}
