package security

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size in bytes of the master key and every derived key.
const KeySize = 32

// blobVersion is prepended to every sealed blob and authenticated as AAD.
const blobVersion byte = 0x01

// blobOverhead is version + XChaCha20 nonce + Poly1305 tag.
const blobOverhead = 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead

// Key derivation labels. Changing one invalidates every blob sealed under it.
const (
	PurposeStreams = "meshtel.streams.v1"
	PurposeExport  = "meshtel.export.v1"
)

// ErrDecrypt is returned (wrapped) whenever ciphertext cannot be opened:
// truncated input, unknown version, wrong key or tampered data.
var ErrDecrypt = errors.New("decryption failed")

// Cipher encrypts and decrypts opaque byte blobs.
type Cipher interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// BoxCipher seals blobs with XChaCha20-Poly1305 in the format
//
//	[version 1][nonce 24][ciphertext+tag]
//
// The version byte and the key purpose are bound as additional data, so a
// blob sealed for one purpose does not open under another.
type BoxCipher struct {
	key     []byte
	purpose []byte
}

// NewBoxCipher derives a purpose-specific key from master and returns a
// cipher using it.
func NewBoxCipher(master []byte, purpose string) (*BoxCipher, error) {
	if len(master) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(master))
	}
	key, err := deriveKey(master, purpose)
	if err != nil {
		return nil, err
	}
	return &BoxCipher{key: key, purpose: []byte(purpose)}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *BoxCipher) Encrypt(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	out := make([]byte, 1+chacha20poly1305.NonceSizeX, blobOverhead+len(plaintext))
	out[0] = blobVersion
	nonce := out[1 : 1+chacha20poly1305.NonceSizeX]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return aead.Seal(out, nonce, plaintext, c.aad(blobVersion)), nil
}

// Decrypt opens a blob produced by Encrypt. All failures wrap ErrDecrypt.
func (c *BoxCipher) Decrypt(data []byte) ([]byte, error) {
	if len(data) < blobOverhead {
		return nil, fmt.Errorf("%w: blob is %d bytes, minimum is %d", ErrDecrypt, len(data), blobOverhead)
	}
	if data[0] != blobVersion {
		return nil, fmt.Errorf("%w: unsupported blob version %d", ErrDecrypt, data[0])
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return nil, fmt.Errorf("creating XChaCha20-Poly1305 cipher: %w", err)
	}

	nonce := data[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, data[1+chacha20poly1305.NonceSizeX:], c.aad(data[0]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

func (c *BoxCipher) aad(version byte) []byte {
	aad := make([]byte, 0, 1+len(c.purpose))
	aad = append(aad, version)
	return append(aad, c.purpose...)
}

func deriveKey(master []byte, purpose string) ([]byte, error) {
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, master, nil, []byte(purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving %s key: %w", purpose, err)
	}
	return key, nil
}
