// Copyright 2017 Manuel Iwansky.
// This source code may be used according to a BSD-style license
// that is stated in the LICENSE file.

/*
Package container reads and writes .sesame containers.

A container is a public header followed by the encrypted payload. Keys are
derived from a password with scrypt or argon2id; the salt and cost
parameters live in the header, so the same password always yields the same
key for a given container.

For the AEAD modes the payload is split into chunks. Every chunk is sealed
with a fresh random nonce and written as a frame:

	[8]length [length]nonce||ciphertext||tag

The most significant bit of length marks the final frame. The header
bytes, the frame index and the final flag are authenticated with every
chunk, so reordered, dropped or appended frames fail to decrypt just like a
wrong password does.

ModeAge hands the payload to an age v1 stream with a scrypt recipient
instead.
*/
package container

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/w33zl3p00tch/sesame/aes"
	"github.com/w33zl3p00tch/sesame/chacha20"
)

var (
	// ErrDecrypt is returned when a frame does not authenticate: the
	// password is wrong or the ciphertext was modified.
	ErrDecrypt = errors.New("decryption failed: wrong password or corrupted data")
	// ErrNotContainer is returned when the header cannot be parsed.
	ErrNotContainer = errors.New("not a sesame container")
	// ErrUnsupportedVersion is returned for containers written by a newer
	// format version.
	ErrUnsupportedVersion = errors.New("unsupported container version")
	// ErrCorrupt is returned when the framing is broken, e.g. truncated
	// files or trailing garbage.
	ErrCorrupt = errors.New("container is corrupt")
	// ErrEmptyPassword is returned when encrypting with an empty password.
	ErrEmptyPassword = errors.New("empty password is not allowed")
)

const (
	finalBit = uint64(1) << 63
	maxFrame = MaxChunkSize + 2*(aes.NonceSize+16)
)

type keys struct {
	aes    []byte
	chacha []byte
}

func (k keys) erase() {
	eraseSlice(k.aes)
	eraseSlice(k.chacha)
}

// Encrypt reads plaintext from r until EOF and writes a container to w.
// It returns the number of bytes written to w.
func Encrypt(w io.Writer, r io.Reader, password []byte, p Params) (int64, error) {
	if len(password) == 0 {
		return 0, ErrEmptyPassword
	}
	if err := p.validate(); err != nil {
		return 0, err
	}
	h, err := newHeader(p)
	if err != nil {
		return 0, err
	}
	hb, err := h.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(hb)
	written := int64(n)
	if err != nil {
		return written, fmt.Errorf("writing header: %w", err)
	}

	if p.Mode == ModeAge {
		m, err := encryptAge(w, r, password, p.AgeLogN)
		return written + m, err
	}

	aesKey, chachaKey, err := deriveKeys(h, password)
	if err != nil {
		return written, err
	}
	k := keys{aes: aesKey, chacha: chachaKey}
	defer k.erase()

	br := bufio.NewReader(r)
	buf := make([]byte, p.ChunkSize)
	defer eraseSlice(buf)
	nonces := newNonceSource()

	for idx := uint64(0); ; idx++ {
		n, err := io.ReadFull(br, buf)
		final := false
		switch {
		case err == io.EOF || err == io.ErrUnexpectedEOF:
			final = true
		case err != nil:
			return written, fmt.Errorf("reading plaintext: %w", err)
		default:
			// A full buffer may still be the last one.
			if _, err := br.Peek(1); err == io.EOF {
				final = true
			} else if err != nil {
				return written, fmt.Errorf("reading plaintext: %w", err)
			}
		}

		sealed, err := k.seal(h.mode, nonces, buf[:n], frameAD(hb, idx, final))
		if err != nil {
			return written, err
		}
		length := uint64(len(sealed))
		if final {
			length |= finalBit
		}
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], length)
		m, err := w.Write(lenBuf[:])
		written += int64(m)
		if err != nil {
			return written, fmt.Errorf("writing frame: %w", err)
		}
		m, err = w.Write(sealed)
		written += int64(m)
		if err != nil {
			return written, fmt.Errorf("writing frame: %w", err)
		}
		if final {
			return written, nil
		}
	}
}

// Decrypt reads a container from r and writes the plaintext to w. Output is
// written frame by frame; callers that must not observe partial plaintext
// on failure should pass a buffer. It returns the number of plaintext
// bytes written.
func Decrypt(w io.Writer, r io.Reader, password []byte) (int64, error) {
	h, hb, err := readHeader(r)
	if err != nil {
		return 0, err
	}
	if h.mode == ModeAge {
		return decryptAge(w, r, password)
	}

	aesKey, chachaKey, err := deriveKeys(h, password)
	if err != nil {
		return 0, err
	}
	k := keys{aes: aesKey, chacha: chachaKey}
	defer k.erase()

	var written int64
	var lenBuf [8]byte
	for idx := uint64(0); ; idx++ {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return written, fmt.Errorf("%w: missing final frame", ErrCorrupt)
			}
			return written, fmt.Errorf("reading container: %w", err)
		}
		length := binary.BigEndian.Uint64(lenBuf[:])
		final := length&finalBit != 0
		length &^= finalBit
		if length > maxFrame {
			return written, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrCorrupt, length)
		}

		frame := make([]byte, length)
		if _, err := io.ReadFull(r, frame); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return written, fmt.Errorf("%w: truncated frame %d", ErrCorrupt, idx)
			}
			return written, fmt.Errorf("reading container: %w", err)
		}

		plain, err := k.open(h.mode, frame, frameAD(hb, idx, final))
		if err != nil {
			return written, ErrDecrypt
		}
		m, err := w.Write(plain)
		written += int64(m)
		eraseSlice(plain)
		if err != nil {
			return written, fmt.Errorf("writing plaintext: %w", err)
		}

		if final {
			var extra [1]byte
			if n, _ := io.ReadFull(r, extra[:]); n > 0 {
				return written, fmt.Errorf("%w: data after final frame", ErrCorrupt)
			}
			return written, nil
		}
	}
}

// frameAD binds a frame to its container and position.
func frameAD(headerBytes []byte, idx uint64, final bool) []byte {
	ad := make([]byte, 0, len(headerBytes)+9)
	ad = append(ad, headerBytes...)
	ad = binary.BigEndian.AppendUint64(ad, idx)
	if final {
		return append(ad, 1)
	}
	return append(ad, 0)
}

func (k keys) seal(mode Mode, nonces *nonceSource, msg, ad []byte) ([]byte, error) {
	sealAES := func(b []byte) ([]byte, error) {
		iv, err := nonces.next(aes.NonceSize)
		if err != nil {
			return nil, err
		}
		return aes.Seal(k.aes, iv, b, ad)
	}
	sealChaCha := func(b []byte) ([]byte, error) {
		nonce, err := nonces.next(chacha20.NonceSize)
		if err != nil {
			return nil, err
		}
		return chacha20.Seal(k.chacha, nonce, b, ad)
	}

	switch mode {
	case ModeAES:
		return sealAES(msg)
	case ModeChaCha20:
		return sealChaCha(msg)
	case ModeAESChaCha20:
		inner, err := sealAES(msg)
		if err != nil {
			return nil, err
		}
		return sealChaCha(inner)
	case ModeChaCha20AES:
		inner, err := sealChaCha(msg)
		if err != nil {
			return nil, err
		}
		return sealAES(inner)
	}
	return nil, fmt.Errorf("cannot seal with mode %s", mode)
}

func (k keys) open(mode Mode, msg, ad []byte) ([]byte, error) {
	switch mode {
	case ModeAES:
		return aes.Open(k.aes, msg, ad)
	case ModeChaCha20:
		return chacha20.Open(k.chacha, msg, ad)
	case ModeAESChaCha20:
		inner, err := chacha20.Open(k.chacha, msg, ad)
		if err != nil {
			return nil, err
		}
		return aes.Open(k.aes, inner, ad)
	case ModeChaCha20AES:
		inner, err := aes.Open(k.aes, msg, ad)
		if err != nil {
			return nil, err
		}
		return chacha20.Open(k.chacha, inner, ad)
	}
	return nil, fmt.Errorf("cannot open mode %s", mode)
}

// nonceSource hands out random nonces and never the same one twice per
// key.
type nonceSource struct {
	seen map[string]bool
}

func newNonceSource() *nonceSource {
	return &nonceSource{seen: make(map[string]bool)}
}

func (s *nonceSource) next(size int) ([]byte, error) {
	for {
		b, err := getRandomBytes(size)
		if err != nil {
			return nil, err
		}
		if !s.seen[string(b)] {
			s.seen[string(b)] = true
			return b, nil
		}
	}
}
