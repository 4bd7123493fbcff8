// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
)

// AES256GCMEncryptor implements EncryptorDecryptor using AES-256-GCM.
type AES256GCMEncryptor struct {
	aead         cipher.AEAD
	nonceCounter uint64
}

var _ EncryptorDecryptor = (*AES256GCMEncryptor)(nil)

// NewAES256GCMEncryptor creates a new AES-256-GCM encryptor with the given 32 byte key.
func NewAES256GCMEncryptor(key []byte) (*AES256GCMEncryptor, error) {
	if len(key) != KeyLen {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AES256GCMEncryptor{aead: aead}, nil
}

func (e *AES256GCMEncryptor) Encrypt(plaintext []byte) ([]byte, []byte, error) {
	nonce := make([]byte, e.aead.NonceSize())

	// counter in the first 8 bytes, randomness in the rest
	counter := atomic.AddUint64(&e.nonceCounter, 1)
	binary.BigEndian.PutUint64(nonce[:8], counter)
	if _, err := io.ReadFull(rand.Reader, nonce[8:]); err != nil {
		return nil, nil, err
	}

	out := make([]byte, 0, len(nonce)+len(plaintext)+e.aead.Overhead())
	out = append(out, nonce...)
	out = e.aead.Seal(out, nonce, plaintext, nil)
	return out, nonce, nil
}

func (e *AES256GCMEncryptor) Decrypt(ciphertext, nonce, preAllocatedBuf []byte) ([]byte, error) {
	if len(nonce) != e.aead.NonceSize() {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", e.aead.NonceSize(), len(nonce))
	}
	return e.aead.Open(preAllocatedBuf, nonce, ciphertext, nil)
}
