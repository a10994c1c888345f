// Package identity owns the two key directories that bind usernames to
// RSA key pairs: a private key directory that stays on the local host
// and a public key directory that is shared through the repository.
package identity

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

// keyBits is the RSA modulus size for generated key pairs.
const keyBits = 2048

// Store manages per-user key pairs on disk. A username is considered
// registered exactly when its public key file exists; the file name
// convention <username>.pub guarantees two usernames never share a key
// path.
type Store struct {
	keysDir   string // private keys, local only, never synchronized
	publicDir string // public keys, shared in the repository
}

// NewStore creates a Store and lazily creates both key directories.
func NewStore(keysDir, publicDir string) (*Store, error) {
	if err := os.MkdirAll(keysDir, 0700); err != nil {
		return nil, fmt.Errorf("creating private key directory: %w", err)
	}
	if err := os.MkdirAll(publicDir, 0755); err != nil {
		return nil, fmt.Errorf("creating public key directory: %w", err)
	}
	return &Store{keysDir: keysDir, publicDir: publicDir}, nil
}

// HasKeyPair reports whether a public key file exists for username.
func (s *Store) HasKeyPair(username string) bool {
	_, err := os.Stat(s.PublicKeyPath(username))
	return err == nil
}

// PublicKey returns the PEM-encoded public key for username, or
// (nil, nil) when the user has no key on file.
func (s *Store) PublicKey(username string) ([]byte, error) {
	data, err := os.ReadFile(s.PublicKeyPath(username))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading public key for %s: %w", username, err)
	}
	return data, nil
}

// PublicKeyPath returns the path of the shared public key file.
func (s *Store) PublicKeyPath(username string) string {
	return filepath.Join(s.publicDir, username+".pub")
}

// PrivateKeyPath returns the path of the local private key file.
func (s *Store) PrivateKeyPath(username string) string {
	return filepath.Join(s.keysDir, username+".pem")
}

// GenerateKeyPair creates a fresh RSA key pair for username, writing
// the private key (unencrypted PEM) to the local directory and the
// public key to the shared directory. Any pre-existing pair for the
// username is overwritten; callers that must not overwrite check
// HasKeyPair first.
func (s *Store) GenerateKeyPair(username string) error {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return fmt.Errorf("generating key pair for %s: %w", username, err)
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	if err := os.WriteFile(s.PrivateKeyPath(username), privPEM, 0600); err != nil {
		return fmt.Errorf("writing private key for %s: %w", username, err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return fmt.Errorf("encoding public key for %s: %w", username, err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(s.PublicKeyPath(username), pubPEM, 0644); err != nil {
		return fmt.Errorf("writing public key for %s: %w", username, err)
	}

	return nil
}

// Retire deletes both key files for username. Used when a rename
// supersedes an identity; missing files are not an error.
func (s *Store) Retire(username string) error {
	for _, path := range []string{s.PublicKeyPath(username), s.PrivateKeyPath(username)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("retiring key %s: %w", path, err)
		}
	}
	return nil
}
