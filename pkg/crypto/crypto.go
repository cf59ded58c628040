// Package crypto implements the cryptographic primitives of spec §4.1: node
// keypair lifecycle, content hashing, and detached RSA-PSS signatures over
// canonicalized maps.
//
// The spec pins exact algorithms (RSA-4096, SHA-256, PSS with salt length
// equal to the digest length), so this package is built directly on the
// standard library rather than an ecosystem signing library — there is no
// third-party package in the pack that implements this specific combination
// better than crypto/rsa does. Persistence follows the PEM-file idiom the
// teacher uses for its own identity keys (identity.SaveToFile/LoadFromFile).
package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/5yncr/syncr/pkg/canon"
	"github.com/5yncr/syncr/pkg/syncerr"
)

// KeyBits is the RSA modulus size mandated by spec §4.1.
const KeyBits = 4096

// NodeID is the 32-byte hash of a node's serialized public key (spec §3).
type NodeID [32]byte

// String renders a NodeID as hex, for logs and file names.
func (n NodeID) String() string {
	return fmt.Sprintf("%x", n[:])
}

// Equal performs a constant-time comparison of two node IDs, per the
// preserved ambiguity in spec §9 ("verify_node_id... needs constant-time
// comparison").
func (n NodeID) Equal(other NodeID) bool {
	return subtle.ConstantTimeCompare(n[:], other[:]) == 1
}

// PrivateKey wraps a node's long-lived RSA keypair.
type PrivateKey struct {
	key *rsa.PrivateKey
}

// PublicKey wraps the public half of a node's keypair.
type PublicKey struct {
	key *rsa.PublicKey
}

// GenerateKeypair creates a fresh RSA-4096 keypair (spec §4.1).
func GenerateKeypair() (*PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return nil, fmt.Errorf("crypto: generate RSA key: %w", err)
	}
	return &PrivateKey{key: key}, nil
}

// Public returns the public half of priv.
func (priv *PrivateKey) Public() *PublicKey {
	return &PublicKey{key: &priv.key.PublicKey}
}

// DumpPublic serializes pub as DER bytes (the canonical "dump" operation
// node IDs are derived from, spec §4.1).
func (pub *PublicKey) DumpPublic() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: marshal public key: %w", err)
	}
	return der, nil
}

// LoadPublic parses DER bytes produced by DumpPublic.
func LoadPublic(der []byte) (*PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse public key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("crypto: public key is not RSA")
	}
	return &PublicKey{key: rsaKey}, nil
}

// NodeID computes the node ID of pub: hash(dump_public(key)), per spec §3.
func (pub *PublicKey) NodeID() (NodeID, error) {
	der, err := pub.DumpPublic()
	if err != nil {
		return NodeID{}, err
	}
	return Hash(der), nil
}

// SavePrivateToFile PEM-encodes priv and writes it with owner-only permissions,
// mirroring identity.SaveToFile's directory-creation-plus-0600-write idiom.
func (priv *PrivateKey) SavePrivateToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("crypto: create key directory: %w", err)
	}

	der := x509.MarshalPKCS1PrivateKey(priv.key)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: der}

	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return fmt.Errorf("crypto: write private key: %w", err)
	}
	return nil
}

// LoadPrivateFromFile reads a PEM-encoded private key written by SavePrivateToFile.
func LoadPrivateFromFile(path string) (*PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: read private key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block found in %s", path)
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parse private key: %w", err)
	}

	return &PrivateKey{key: key}, nil
}

// SavePublicToFile PEM-encodes pub's DER form to path.
func (pub *PublicKey) SavePublicToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("crypto: create public key directory: %w", err)
	}

	der, err := pub.DumpPublic()
	if err != nil {
		return err
	}
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}

	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0644); err != nil {
		return fmt.Errorf("crypto: write public key: %w", err)
	}
	return nil
}

// LoadPublicFromFile reads a PEM-encoded public key written by SavePublicToFile.
func LoadPublicFromFile(path string) (*PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: read public key: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("crypto: no PEM block found in %s", path)
	}
	return LoadPublic(block.Bytes)
}

// Hash computes the SHA-256 digest of b (spec §4.1 "hash(bytes) -> 32 bytes").
func Hash(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// HashMap computes hash(encode(m)) for a canonically-encodable value (spec §4.1).
func HashMap(m interface{}) ([32]byte, error) {
	data, err := canon.Encode(m)
	if err != nil {
		return [32]byte{}, fmt.Errorf("crypto: encode for hashing: %w", err)
	}
	return Hash(data), nil
}

// Sign produces an RSA-PSS(SHA-256) detached signature of hash(encode(m)),
// salt length equal to the digest length, per spec §4.1.
func (priv *PrivateKey) Sign(m interface{}) ([]byte, error) {
	digest, err := HashMap(m)
	if err != nil {
		return nil, err
	}
	sig, err := rsa.SignPSS(rand.Reader, priv.key, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	})
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w", err)
	}
	return sig, nil
}

// Verify checks sig against m using pub; returns a syncerr-flavored error on
// mismatch (spec §4.1: "verify(...) fails with InvalidSignature on mismatch").
func (pub *PublicKey) Verify(sig []byte, m interface{}) error {
	digest, err := HashMap(m)
	if err != nil {
		return err
	}
	if err := rsa.VerifyPSS(pub.key, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthEqualsHash,
		Hash:       crypto.SHA256,
	}); err != nil {
		return syncerr.Verification("invalid signature", err)
	}
	return nil
}
