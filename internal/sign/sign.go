// Package sign produces and verifies message signatures using RSA-PSS
// over SHA-256. Signatures are written hex-encoded; verification also
// accepts base64 for records produced by earlier iterations of the
// format.
package sign

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"

	"gitchat/internal/chat"
	"gitchat/internal/identity"
)

// pssOpts uses the maximum salt length, matching the scheme the
// existing message history was signed with.
var pssOpts = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}

// Engine signs message bodies with a user's private key and verifies
// signatures against a PEM public key.
type Engine struct {
	ids *identity.Store
}

func NewEngine(ids *identity.Store) *Engine {
	return &Engine{ids: ids}
}

// Sign signs content with username's private key and returns the
// hex-encoded signature. Returns chat.ErrNoKey when no private key
// exists for the user.
func (e *Engine) Sign(content, username string) (string, error) {
	path := e.ids.PrivateKeyPath(username)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", chat.ErrNoKey, username)
		}
		return "", fmt.Errorf("reading private key for %s: %w", username, err)
	}

	key, err := parsePrivateKey(data)
	if err != nil {
		return "", fmt.Errorf("parsing private key for %s: %w", username, err)
	}

	digest := sha256.Sum256([]byte(content))
	sig, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], pssOpts)
	if err != nil {
		return "", fmt.Errorf("signing content for %s: %w", username, err)
	}
	return hex.EncodeToString(sig), nil
}

// Verify reports whether signature is a valid signature of content
// under the given PEM public key. It is deterministic, side-effect
// free, and returns false for any malformed key, encoding or signature
// rather than erroring on untrusted input.
func (e *Engine) Verify(content, signature string, publicKeyPEM []byte) bool {
	sig, ok := decodeSignature(signature)
	if !ok {
		return false
	}

	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return false
	}
	pub, err := parsePublicKey(block.Bytes)
	if err != nil {
		return false
	}

	digest := sha256.Sum256([]byte(content))
	return rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, pssOpts) == nil
}

// decodeSignature accepts hex (the written format) or base64 (older
// records) encodings.
func decodeSignature(signature string) ([]byte, bool) {
	if sig, err := hex.DecodeString(signature); err == nil {
		return sig, true
	}
	if sig, err := base64.StdEncoding.DecodeString(signature); err == nil {
		return sig, true
	}
	return nil, false
}

func parsePrivateKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return key, nil
}

func parsePublicKey(der []byte) (*rsa.PublicKey, error) {
	if parsed, err := x509.ParsePKIXPublicKey(der); err == nil {
		if pub, ok := parsed.(*rsa.PublicKey); ok {
			return pub, nil
		}
		return nil, fmt.Errorf("not an RSA public key")
	}
	return x509.ParsePKCS1PublicKey(der)
}
