// Package crypto provides the hashing and signing primitives used by the bridge
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

const (
	// HashSize is the length of a Keccak-256 digest
	HashSize = 32
	// SignatureSize is the length of an ed25519 signature
	SignatureSize = ed25519.SignatureSize
)

var (
	ErrInvalidPublicKey  = errors.New("invalid public key")
	ErrInvalidPrivateKey = errors.New("invalid private key")
	ErrInvalidSignature  = errors.New("invalid signature encoding")
	ErrInvalidHash       = errors.New("invalid hash encoding")
)

// Keccak256 returns the legacy Keccak-256 digest of the concatenated inputs
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// EncodeHex renders bytes as a 0x-prefixed lowercase hex string
func EncodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// DecodeHex accepts hex with or without a 0x prefix
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	return hex.DecodeString(s)
}

// DecodeHash decodes a 0x-prefixed verification hash into its 32 bytes
func DecodeHash(s string) ([]byte, error) {
	b, err := DecodeHex(s)
	if err != nil || len(b) != HashSize {
		return nil, ErrInvalidHash
	}
	return b, nil
}

// Signer holds one validator's ed25519 key pair
type Signer struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// GenerateSigner creates a signer with a fresh random key
func GenerateSigner() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return &Signer{privateKey: priv, publicKey: pub}, nil
}

// NewSigner builds a signer from a hex encoded 32 byte seed or 64 byte private key
func NewSigner(privateKeyHex string) (*Signer, error) {
	raw, err := DecodeHex(privateKeyHex)
	if err != nil {
		return nil, ErrInvalidPrivateKey
	}
	var priv ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(raw)
	default:
		return nil, ErrInvalidPrivateKey
	}
	return &Signer{privateKey: priv, publicKey: priv.Public().(ed25519.PublicKey)}, nil
}

// Sign signs the raw message bytes and returns the hex encoded signature
func (s *Signer) Sign(message []byte) string {
	return EncodeHex(ed25519.Sign(s.privateKey, message))
}

// PublicKeyHex returns the 0x-prefixed public key
func (s *Signer) PublicKeyHex() string {
	return EncodeHex(s.publicKey)
}

// DecodePublicKey parses a hex encoded ed25519 public key
func DecodePublicKey(publicKeyHex string) (ed25519.PublicKey, error) {
	raw, err := DecodeHex(publicKeyHex)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	return ed25519.PublicKey(raw), nil
}

// Verify checks a hex encoded signature over message. Malformed encodings
// are reported as errors; a well-formed but wrong signature returns false.
func Verify(publicKey ed25519.PublicKey, message []byte, signatureHex string) (bool, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return false, ErrInvalidPublicKey
	}
	sig, err := DecodeHex(signatureHex)
	if err != nil || len(sig) != SignatureSize {
		return false, ErrInvalidSignature
	}
	return ed25519.Verify(publicKey, message, sig), nil
}
