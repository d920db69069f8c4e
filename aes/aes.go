// Copyright 2017 Manuel Iwansky.
// This source code may be used according to a BSD-style license
// that is stated in the LICENSE file.

// Package aes provides simple wrappers for encrypting and decrypting with
// AES256 with Galois Counter Mode (GCM) as AEAD.
package aes

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

// NonceSize is the length of the IV that prefixes every sealed message.
const NonceSize = 12

// ErrOpen is returned when a message fails authentication.
var ErrOpen = errors.New("aes: message authentication failed")

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts msg with the given 256bit key and 12 byte IV.
// The IV is prepended to the ciphertext; ad is authenticated but not
// encrypted.
func Seal(key, iv, msg, ad []byte) ([]byte, error) {
	if len(iv) != NonceSize {
		return nil, fmt.Errorf("aes: IV must be %d bytes, got %d", NonceSize, len(iv))
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, NonceSize+len(msg)+aead.Overhead())
	out = append(out, iv...)
	return aead.Seal(out, iv, msg, ad), nil
}

// Open decrypts a message that has been sealed with Seal.
func Open(key, msg, ad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(msg) < NonceSize+aead.Overhead() {
		return nil, ErrOpen
	}
	plaintext, err := aead.Open(nil, msg[:NonceSize], msg[NonceSize:], ad)
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}
