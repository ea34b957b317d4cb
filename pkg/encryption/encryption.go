// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package encryption provides optional payload transforms applied after
// compression and before upload. The transform name is recorded in object
// metadata so a reader knows which transform to reverse.
package encryption

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"filippo.io/age"
)

// AgeName is the metadata value recorded for age-encrypted payloads.
const AgeName = "age"

// ErrNoIdentity is returned when decrypting without a configured private key.
var ErrNoIdentity = errors.New("no decryption identity configured")

// Transform is a reversible payload transform.
type Transform interface {
	Name() string
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Age encrypts to a set of age recipients and decrypts with a set of
// identities. Either side may be empty for write-only or read-only use.
type Age struct {
	recipients []age.Recipient
	identities []age.Identity
}

// NewAge builds an age transform from parsed keys.
func NewAge(recipients []age.Recipient, identities []age.Identity) *Age {
	return &Age{recipients: recipients, identities: identities}
}

// Config selects age keys by their text encodings.
type Config struct {
	// Recipients are age1... public keys payloads are encrypted to.
	Recipients []string `mapstructure:"recipients"`
	// Identities holds AGE-SECRET-KEY-1... lines, as found in an identity file.
	Identities string `mapstructure:"identities"`
	// Passphrase enables scrypt recipient and identity when set.
	Passphrase string `mapstructure:"passphrase"`
}

// Enabled reports whether any key material is configured.
func (c Config) Enabled() bool {
	return len(c.Recipients) > 0 || strings.TrimSpace(c.Identities) != "" || c.Passphrase != ""
}

// FromConfig parses the configured keys into an Age transform.
func FromConfig(cfg Config) (*Age, error) {
	a := &Age{}
	for _, key := range cfg.Recipients {
		r, err := age.ParseX25519Recipient(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		a.recipients = append(a.recipients, r)
	}
	if strings.TrimSpace(cfg.Identities) != "" {
		ids, err := age.ParseIdentities(strings.NewReader(cfg.Identities))
		if err != nil {
			return nil, fmt.Errorf("parsing identities: %w", err)
		}
		a.identities = append(a.identities, ids...)
	}
	if cfg.Passphrase != "" {
		r, err := age.NewScryptRecipient(cfg.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("scrypt recipient: %w", err)
		}
		// scrypt recipients must be the only recipient of a file
		if len(a.recipients) > 0 {
			return nil, fmt.Errorf("passphrase cannot be combined with recipient keys")
		}
		a.recipients = append(a.recipients, r)

		id, err := age.NewScryptIdentity(cfg.Passphrase)
		if err != nil {
			return nil, fmt.Errorf("scrypt identity: %w", err)
		}
		a.identities = append(a.identities, id)
	}
	return a, nil
}

func (a *Age) Name() string { return AgeName }

func (a *Age) Encrypt(plaintext []byte) ([]byte, error) {
	if len(a.recipients) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, a.recipients...)
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

func (a *Age) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(a.identities) == 0 {
		return nil, ErrNoIdentity
	}

	r, err := age.Decrypt(bytes.NewReader(ciphertext), a.identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	return plaintext, nil
}

// Keypair is a freshly generated age X25519 key pair in text form.
type Keypair struct {
	PrivateKey string
	PublicKey  string
}

// GenerateKeypair creates a new age X25519 identity.
func GenerateKeypair() (Keypair, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return Keypair{}, fmt.Errorf("generating age keypair: %w", err)
	}
	return Keypair{PrivateKey: id.String(), PublicKey: id.Recipient().String()}, nil
}

// Resolve returns the transform able to reverse the named encryption, or an
// error when the payload needs a transform that is not configured.
func Resolve(name string, available Transform) (Transform, error) {
	switch {
	case name == "":
		return nil, nil
	case available == nil:
		return nil, fmt.Errorf("payload is %s-encrypted: %w", name, ErrNoIdentity)
	case available.Name() != name:
		return nil, fmt.Errorf("payload is %s-encrypted but %s is configured", name, available.Name())
	}
	return available, nil
}
