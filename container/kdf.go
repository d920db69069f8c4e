// Copyright 2017 Manuel Iwansky.
// This source code may be used according to a BSD-style license
// that is stated in the LICENSE file.

package container

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/scrypt"
)

// Limits for parameters read from a header. A crafted file must not be able
// to make us allocate gigabytes before the password is even checked.
const (
	minScryptN     = 1 << 10
	maxScryptN     = 1 << 20
	maxScryptR     = 32
	maxScryptP     = 16
	minArgonMemKiB = 8 * 1024
	maxArgonMemKiB = 1024 * 1024
	maxArgonTime   = 10
	maxArgonThread = 16
	maxAgeLogN     = 20
)

func validateScrypt(p ScryptParams) error {
	if p.N < minScryptN || p.N > maxScryptN || p.N&(p.N-1) != 0 {
		return fmt.Errorf("scrypt N=%d must be a power of two in %d..%d", p.N, minScryptN, maxScryptN)
	}
	if p.R < 1 || p.R > maxScryptR {
		return fmt.Errorf("scrypt r=%d out of range (1..%d)", p.R, maxScryptR)
	}
	if p.P < 1 || p.P > maxScryptP {
		return fmt.Errorf("scrypt p=%d out of range (1..%d)", p.P, maxScryptP)
	}
	return nil
}

func validateArgon2(p Argon2Params) error {
	if p.Time < 1 || p.Time > maxArgonTime {
		return fmt.Errorf("argon2 time=%d out of range (1..%d)", p.Time, maxArgonTime)
	}
	if p.MemoryKiB < minArgonMemKiB || p.MemoryKiB > maxArgonMemKiB {
		return fmt.Errorf("argon2 memory=%dKiB out of range (%d..%d)", p.MemoryKiB, minArgonMemKiB, maxArgonMemKiB)
	}
	if p.Threads < 1 || p.Threads > maxArgonThread {
		return fmt.Errorf("argon2 threads=%d out of range (1..%d)", p.Threads, maxArgonThread)
	}
	return nil
}

// deriveKeys returns the AES256 and ChaCha20 keys for the mode. A key the
// mode does not use is nil. Cascades split one 64 byte derived key, in the
// order the ciphers are applied.
func deriveKeys(h *header, password []byte) (aesKey, chachaKey []byte, err error) {
	length := keyLength
	if h.mode.cascade() {
		length = keyLength * 2
	}

	var dk []byte
	switch h.kdf {
	case KDFScrypt:
		dk, err = scrypt.Key(password, h.salt, h.scrypt.N, h.scrypt.R, h.scrypt.P, length)
		if err != nil {
			return nil, nil, fmt.Errorf("deriving key: %w", err)
		}
	case KDFArgon2id:
		dk = argon2.IDKey(password, h.salt, h.argon2.Time, h.argon2.MemoryKiB, h.argon2.Threads, uint32(length))
	default:
		return nil, nil, fmt.Errorf("unsupported key derivation function %s", h.kdf)
	}

	switch h.mode {
	case ModeAES:
		aesKey = dk
	case ModeChaCha20:
		chachaKey = dk
	case ModeAESChaCha20:
		aesKey, chachaKey = dk[:keyLength], dk[keyLength:]
	case ModeChaCha20AES:
		chachaKey, aesKey = dk[:keyLength], dk[keyLength:]
	}
	return aesKey, chachaKey, nil
}

// eraseSlice overwrites a byte slice with zeros. Copies the garbage
// collector may have made are out of reach.
func eraseSlice(s []byte) {
	for i := range s {
		s[i] = 0
	}
}

// getRandomBytes returns n bytes from crypto/rand.
func getRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}
