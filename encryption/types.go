// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package encryption

// Encryptor defines the interface for encrypting data.
type Encryptor interface {
	// Encrypt takes plaintext and returns the nonce followed by the ciphertext, and the nonce.
	Encrypt(plaintext []byte) ([]byte, []byte, error)
}

// Decryptor defines the interface for decrypting data.
type Decryptor interface {
	Decrypt(ciphertext, nonce, preAllocatedBuf []byte) ([]byte, error)
}

type EncryptorDecryptor interface {
	Encryptor
	Decryptor
}

// PassphraseGetter returns a passphrase and a callback that zeroes it.
type PassphraseGetter func() ([]byte, func(), error)
