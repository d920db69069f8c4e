// Copyright 2017 Manuel Iwansky.
// This source code may be used according to a BSD-style license
// that is stated in the LICENSE file.

// Package chacha20 provides handy wrappers to encrypt with chacha20poly1305.
package chacha20

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the length of the nonce that prefixes every sealed message.
const NonceSize = chacha20poly1305.NonceSize

// ErrOpen is returned when a message fails authentication.
var ErrOpen = errors.New("chacha20: message authentication failed")

// Seal encrypts msg using the given 256bit key and 12 byte nonce.
// The nonce is prepended to the ciphertext.
func Seal(key, nonce, msg, ad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("chacha20: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("chacha20: %w", err)
	}
	out := make([]byte, 0, NonceSize+len(msg)+aead.Overhead())
	out = append(out, nonce...)
	return aead.Seal(out, nonce, msg, ad), nil
}

// Open decrypts a message that has been sealed with Seal.
func Open(key, msg, ad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("chacha20: %w", err)
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
