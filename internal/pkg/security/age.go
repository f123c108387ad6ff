package security

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
)

// ErrNoIdentity is returned by AgeCipher.Decrypt when the cipher was built
// without a private identity (encrypt-only, e.g. maintainer recipients).
var ErrNoIdentity = errors.New("no age identity configured")

// AgeCipher encrypts to one or more age X25519 recipients. It can only
// decrypt when at least one matching identity is configured, so a device
// exporting to maintainer keys cannot read its own exports back.
type AgeCipher struct {
	recipients []age.Recipient
	identities []age.Identity
}

// NewAgeCipher parses recipient public keys (age1...) and optional
// identities (AGE-SECRET-KEY-1...).
func NewAgeCipher(recipientKeys []string, identities []age.Identity) (*AgeCipher, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}
	return &AgeCipher{recipients: recipients, identities: identities}, nil
}

// LoadAgeIdentities reads an age identity file (one AGE-SECRET-KEY per line,
// comments allowed).
func LoadAgeIdentities(path string) ([]age.Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening identity file: %w", err)
	}
	defer f.Close()

	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parsing identity file %s: %w", path, err)
	}
	return ids, nil
}

// GenerateAgeKeypair returns a new identity and its public recipient string.
func GenerateAgeKeypair() (identity string, recipient string, err error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("generating age keypair: %w", err)
	}
	return id.String(), id.Recipient().String(), nil
}

// Encrypt implements Cipher.
func (c *AgeCipher) Encrypt(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, c.recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return buf.Bytes(), nil
}

// Decrypt implements Cipher. All failures except a missing identity wrap
// ErrDecrypt.
func (c *AgeCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(c.identities) == 0 {
		return nil, ErrNoIdentity
	}
	r, err := age.Decrypt(bytes.NewReader(ciphertext), c.identities...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading plaintext: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}
