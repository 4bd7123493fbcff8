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
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync"
)

// Sealer turns a whole plaintext blob into a self describing encrypted blob:
//
//	magic | salt | iterations | nonce | ciphertext
//
// Keys are derived with PBKDF2 and cached per salt so blobs written in
// earlier sessions can still be opened.
type Sealer struct {
	passphraseGetter PassphraseGetter
	iterations       int

	mtx            sync.Mutex
	sessionSalt    []byte
	encryptorCache map[string]*AES256GCMEncryptor
}

func NewSealer(passphraseGetter PassphraseGetter, iterations int) *Sealer {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return &Sealer{
		passphraseGetter: passphraseGetter,
		iterations:       iterations,
		encryptorCache:   make(map[string]*AES256GCMEncryptor),
	}
}

func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if s.sessionSalt == nil {
		salt, err := GenerateSalt(SaltLen)
		if err != nil {
			return nil, err
		}
		s.sessionSalt = salt
	}
	enc, err := s.encryptorLocked(s.sessionSalt, uint64(s.iterations))
	if err != nil {
		return nil, err
	}

	sealed, _, err := enc.Encrypt(plaintext)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, HeaderLen+len(sealed))
	out = append(out, FileMagic...)
	out = append(out, s.sessionSalt...)
	var iterBuf [IterLen]byte
	binary.BigEndian.PutUint64(iterBuf[:], uint64(s.iterations))
	out = append(out, iterBuf[:]...)
	return append(out, sealed...), nil
}

func (s *Sealer) Open(blob []byte) ([]byte, error) {
	if len(blob) < HeaderLen+NonceLen {
		return nil, fmt.Errorf("%w: blob too small: %d bytes", ErrorEncryptionFormatUnrecog, len(blob))
	}
	if !bytes.Equal(blob[:len(FileMagic)], FileMagic) {
		return nil, ErrorEncryptionFormatUnrecog
	}
	saltStart := len(FileMagic)
	salt := blob[saltStart : saltStart+SaltLen]
	iteration := binary.BigEndian.Uint64(blob[saltStart+SaltLen : HeaderLen])
	if iteration == 0 {
		return nil, fmt.Errorf("%w: invalid iteration count 0", ErrorEncryptionFormatUnrecog)
	}

	s.mtx.Lock()
	enc, err := s.encryptorLocked(salt, iteration)
	s.mtx.Unlock()
	if err != nil {
		return nil, err
	}

	nonce := blob[HeaderLen : HeaderLen+NonceLen]
	return enc.Decrypt(blob[HeaderLen+NonceLen:], nonce, nil)
}

func (s *Sealer) encryptorLocked(salt []byte, iteration uint64) (*AES256GCMEncryptor, error) {
	saltHex := hex.EncodeToString(salt)
	if enc, ok := s.encryptorCache[saltHex]; ok {
		return enc, nil
	}
	if s.passphraseGetter == nil {
		return nil, ErrorNoPassphrase
	}

	passphrase, zeroBytes, err := s.passphraseGetter()
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	if zeroBytes != nil {
		defer zeroBytes()
	}

	key := DeriveKeyPBKDF2(passphrase, salt, int(iteration), KeyLen)
	enc, err := NewAES256GCMEncryptor(key)
	ZeroBytes(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create encryptor: %w", err)
	}
	s.encryptorCache[saltHex] = enc
	return enc, nil
}

// StaticPassphrase returns a getter handing out copies of passphrase.
func StaticPassphrase(passphrase []byte) PassphraseGetter {
	return func() ([]byte, func(), error) {
		p := append([]byte(nil), passphrase...)
		return p, func() { ZeroBytes(p) }, nil
	}
}
