// Copyright 2017 Manuel Iwansky.
// This source code may be used according to a BSD-style license
// that is stated in the LICENSE file.

package container

import (
	"fmt"
	"strings"
)

// Mode selects the cipher (or cipher cascade) used for the payload.
type Mode uint8

const (
	ModeAES         Mode = 1 // AES256 with GCM
	ModeChaCha20    Mode = 2 // ChaCha20 with Poly1305
	ModeAESChaCha20 Mode = 3 // Cascade: AES256 -> ChaCha20
	ModeChaCha20AES Mode = 4 // Cascade: ChaCha20 -> AES256
	ModeAge         Mode = 5 // age v1 stream with a scrypt recipient
)

var modeNames = map[Mode]string{
	ModeAES:         "aes",
	ModeChaCha20:    "chacha20",
	ModeAESChaCha20: "aes-chacha20",
	ModeChaCha20AES: "chacha20-aes",
	ModeAge:         "age",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

func (m Mode) valid() bool {
	_, ok := modeNames[m]
	return ok
}

// cascade reports whether the mode needs two keys.
func (m Mode) cascade() bool {
	return m == ModeAESChaCha20 || m == ModeChaCha20AES
}

// ParseMode accepts the names printed by Mode.String.
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown cipher mode %q", s)
}

// KDF identifies the password based key derivation function.
type KDF uint8

const (
	KDFNone     KDF = 0 // only valid for ModeAge, which derives its own key
	KDFScrypt   KDF = 1
	KDFArgon2id KDF = 2
)

func (k KDF) String() string {
	switch k {
	case KDFNone:
		return "none"
	case KDFScrypt:
		return "scrypt"
	case KDFArgon2id:
		return "argon2id"
	}
	return fmt.Sprintf("kdf(%d)", uint8(k))
}

// ParseKDF accepts "scrypt" or "argon2id".
func ParseKDF(s string) (KDF, error) {
	switch strings.ToLower(s) {
	case "scrypt":
		return KDFScrypt, nil
	case "argon2id", "argon2":
		return KDFArgon2id, nil
	}
	return 0, fmt.Errorf("unknown key derivation function %q", s)
}

// Strength is the complexity level for key derivation.
type Strength string

const (
	StrengthLow     Strength = "low"
	StrengthDefault Strength = "default"
	StrengthMedium  Strength = "medium"
	StrengthHigh    Strength = "high"
)

// ScryptParams are the cost parameters passed to scrypt.
type ScryptParams struct {
	N int
	R int
	P int
}

// Argon2Params are the cost parameters passed to argon2id.
type Argon2Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// Params describe how a container is written. Decryption reads everything
// it needs from the header, so Params are only used when encrypting.
type Params struct {
	Mode      Mode
	KDF       KDF
	Scrypt    ScryptParams
	Argon2    Argon2Params
	AgeLogN   int // work factor for ModeAge
	ChunkSize int // maximum plaintext bytes per frame
}

// Default values. The higher levels slow down key derivation considerably.
const (
	DefaultChunkSize = 4096 * 1024
	MaxChunkSize     = 64 * 1024 * 1024
	keyLength        = 32
	saltLength       = 32
)

var scryptLevels = map[Strength]ScryptParams{
	StrengthLow:     {N: 1 << 14, R: 8, P: 1},
	StrengthDefault: {N: 1 << 16, R: 16, P: 4},
	StrengthMedium:  {N: 1 << 17, R: 16, P: 4},
	StrengthHigh:    {N: 1 << 18, R: 16, P: 4},
}

var argon2Levels = map[Strength]Argon2Params{
	StrengthLow:     {Time: 1, MemoryKiB: 64 * 1024, Threads: 4},
	StrengthDefault: {Time: 3, MemoryKiB: 64 * 1024, Threads: 4},
	StrengthMedium:  {Time: 4, MemoryKiB: 256 * 1024, Threads: 4},
	StrengthHigh:    {Time: 4, MemoryKiB: 1024 * 1024, Threads: 4},
}

var ageLevels = map[Strength]int{
	StrengthLow:     14,
	StrengthDefault: 18,
	StrengthMedium:  19,
	StrengthHigh:    20,
}

// NewParams builds encryption parameters for a mode, kdf and strength.
// ModeAge ignores kdf.
func NewParams(mode Mode, kdf KDF, strength Strength) (Params, error) {
	if !mode.valid() {
		return Params{}, fmt.Errorf("unknown cipher mode %d", mode)
	}
	if _, ok := scryptLevels[strength]; !ok {
		return Params{}, fmt.Errorf("unknown strength %q (want low, default, medium or high)", strength)
	}
	p := Params{Mode: mode, KDF: kdf, ChunkSize: DefaultChunkSize}
	if mode == ModeAge {
		p.KDF = KDFNone
		p.AgeLogN = ageLevels[strength]
		return p, nil
	}
	switch kdf {
	case KDFScrypt:
		p.Scrypt = scryptLevels[strength]
	case KDFArgon2id:
		p.Argon2 = argon2Levels[strength]
	default:
		return Params{}, fmt.Errorf("unsupported key derivation function %s", kdf)
	}
	return p, nil
}

// DefaultParams is AES256-GCM with scrypt at default strength.
func DefaultParams() Params {
	p, _ := NewParams(ModeAES, KDFScrypt, StrengthDefault)
	return p
}

func (p Params) validate() error {
	if !p.Mode.valid() {
		return fmt.Errorf("unknown cipher mode %d", p.Mode)
	}
	if p.ChunkSize <= 0 || p.ChunkSize > MaxChunkSize {
		return fmt.Errorf("chunk size %d out of range (1..%d)", p.ChunkSize, MaxChunkSize)
	}
	if p.Mode == ModeAge {
		if p.AgeLogN < 1 || p.AgeLogN > maxAgeLogN {
			return fmt.Errorf("age work factor %d out of range (1..%d)", p.AgeLogN, maxAgeLogN)
		}
		return nil
	}
	switch p.KDF {
	case KDFScrypt:
		return validateScrypt(p.Scrypt)
	case KDFArgon2id:
		return validateArgon2(p.Argon2)
	}
	return fmt.Errorf("unsupported key derivation function %s", p.KDF)
}
