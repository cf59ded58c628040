package dropmeta

import (
	"fmt"

	"github.com/5yncr/syncr/pkg/canon"
	"github.com/5yncr/syncr/pkg/crypto"
)

// blankedFields names the fields zeroed before computing or verifying the
// header signature (spec §6.1: "header_signature replaced by the empty
// byte string and files replaced by the empty map").
var blankedFields = map[string]interface{}{
	"header_signature": []byte{},
	"files":            map[string]interface{}{},
}

// computeFilesHash recomputes hash(encode(files)) for m's files map
// (spec §3 invariant 1).
func computeFilesHash(files map[string]FileID) ([32]byte, error) {
	encodable := make(map[string][]byte, len(files))
	for path, id := range files {
		idCopy := id
		encodable[path] = idCopy[:]
	}
	return crypto.HashMap(encodable)
}

// sealHeaderForSigning returns the canonical bytes that header_signature
// covers: the whole record with header_signature and files blanked.
func sealHeaderForSigning(m *DropMetadata) ([]byte, error) {
	return canon.EncodeBlanked(m, blankedFields)
}

// Sign fills in FilesHash, SignedBy, and HeaderSignature on m using priv.
// Callers must have already populated every other field.
func Sign(m *DropMetadata, priv *crypto.PrivateKey, signer crypto.NodeID) error {
	filesHash, err := computeFilesHash(m.Files)
	if err != nil {
		return fmt.Errorf("dropmeta: compute files_hash: %w", err)
	}
	m.FilesHash = filesHash
	m.SignedBy = signer

	header, err := sealHeaderForSigning(m)
	if err != nil {
		return fmt.Errorf("dropmeta: seal header: %w", err)
	}
	sig, err := priv.Sign(header)
	if err != nil {
		return fmt.Errorf("dropmeta: sign header: %w", err)
	}
	m.HeaderSignature = sig
	return nil
}

// VerifyHeaderSignature checks m's header_signature against pub, over the
// blanked header (spec §3 invariant 2).
func VerifyHeaderSignature(m *DropMetadata, pub *crypto.PublicKey) error {
	header, err := sealHeaderForSigning(m)
	if err != nil {
		return fmt.Errorf("dropmeta: seal header: %w", err)
	}
	return pub.Verify(m.HeaderSignature, header)
}

// VerifyFilesHash recomputes m's files_hash and compares it against the
// stored value (spec §3 invariant 1).
func VerifyFilesHash(m *DropMetadata) error {
	want, err := computeFilesHash(m.Files)
	if err != nil {
		return fmt.Errorf("dropmeta: compute files_hash: %w", err)
	}
	if want != m.FilesHash {
		return fmt.Errorf("dropmeta: files_hash mismatch")
	}
	return nil
}
