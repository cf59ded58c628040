// Package dropmeta implements the drop and file metadata entities of spec
// §3/§4.3/§6.1-6.2: their canonical on-disk encoding, signature/lineage
// verification, and the file-per-entry store that backs them.
package dropmeta

import (
	"encoding/base64"
	"fmt"

	"github.com/5yncr/syncr/pkg/constants"
	"github.com/5yncr/syncr/pkg/crypto"
)

// ProtocolVersion is the wire/storage format version this build speaks.
const ProtocolVersion = constants.ProtocolVersion

// DropID is (primary-owner node ID, 32 bytes) ++ (random nonce, 32 bytes),
// per spec §3 "Drop ID: 64 bytes".
type DropID [64]byte

// PrimaryOwner returns the node ID embedded in the first half of id.
func (id DropID) PrimaryOwner() crypto.NodeID {
	var n crypto.NodeID
	copy(n[:], id[:32])
	return n
}

// Base64 renders id the way the on-disk layout and registry key on it
// (spec §4.3 "<base64(drop_id)>_<ver>_<nonce>").
func (id DropID) Base64() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// base64DecodeDropID parses the registry-entry filename form of a drop ID.
func base64DecodeDropID(s string) (DropID, error) {
	return ParseDropID(s)
}

// ParseDropID parses the base64 form Base64 produces, the form CLI callers
// pass as a drop_id argument (spec §2 "drop_id" CLI arguments).
func ParseDropID(s string) (DropID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return DropID{}, err
	}
	if len(raw) != 64 {
		return DropID{}, fmt.Errorf("dropmeta: decoded drop ID has wrong length %d", len(raw))
	}
	var id DropID
	copy(id[:], raw)
	return id, nil
}

// FileID is the content-addressed hash of a file's full byte stream.
type FileID [32]byte

// Base64 renders a file ID the way it is stored under files/ (spec §4.3).
func (id FileID) Base64() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// Version is a (version_number, nonce) pair as it appears in a
// previous_versions list entry (spec §6.1: "list of {version, nonce}
// maps"). A DropMetadata's own version is instead two flattened scalar
// fields; see DropMetadata.Version.
type Version struct {
	Number uint64 `cbor:"version"`
	Nonce  uint64 `cbor:"nonce"`
}

// String renders the version the way filenames are built: "<ver>_<nonce>".
func (v Version) String() string {
	return fmt.Sprintf("%d_%d", v.Number, v.Nonce)
}

// DropMetadata is one version record of a drop (spec §3 "Drop Metadata").
// version and version_nonce are sibling top-level keys on the canonical map
// (spec §6.1), not a nested sub-map, hence the two flattened scalar fields
// rather than an embedded Version.
type DropMetadata struct {
	ProtocolVersion  int               `cbor:"protocol_version"`
	DropID           DropID            `cbor:"drop_id"`
	Name             string            `cbor:"name"`
	VersionNumber    uint64            `cbor:"version"`
	VersionNonce     uint64            `cbor:"version_nonce"`
	PreviousVersions []Version         `cbor:"previous_versions"`
	PrimaryOwner     crypto.NodeID     `cbor:"primary_owner"`
	OtherOwners      map[string]int    `cbor:"other_owners"`
	SignedBy         crypto.NodeID     `cbor:"signed_by"`
	Files            map[string]FileID `cbor:"files"`
	FilesHash        [32]byte          `cbor:"files_hash"`
	HeaderSignature  []byte            `cbor:"header_signature"`
}

// Version returns m's own (version_number, nonce) pair as a Version value,
// the shape previous_versions entries use.
func (m *DropMetadata) Version() Version {
	return Version{Number: m.VersionNumber, Nonce: m.VersionNonce}
}

// FileMetadata is one per-file record of a drop (spec §3 "File Metadata").
type FileMetadata struct {
	ProtocolVersion int        `cbor:"protocol_version"`
	DropID          DropID     `cbor:"drop_id"`
	FileID          FileID     `cbor:"file_id"`
	FileLength      int64      `cbor:"file_length"`
	ChunkSize       int64      `cbor:"chunk_size"`
	Chunks          [][32]byte `cbor:"chunks"`
}

// NumChunks returns ceil(file_length / chunk_size), the value invariant 3
// (spec §8) requires len(Chunks) to equal.
func (fm *FileMetadata) NumChunks() int {
	if fm.ChunkSize <= 0 {
		return 0
	}
	return int((fm.FileLength + fm.ChunkSize - 1) / fm.ChunkSize)
}

// IsOwner reports whether node is the primary owner or appears in
// other_owners (spec §3 invariant 3: signed_by must be one of these).
func (m *DropMetadata) IsOwner(node crypto.NodeID) bool {
	if m.PrimaryOwner.Equal(node) {
		return true
	}
	_, ok := m.OtherOwners[node.String()]
	return ok
}

// HasWriteCapability reports whether node may sign new versions of this
// drop: the primary owner always can, and an entry in other_owners can iff
// its opaque capability value is nonzero.
func (m *DropMetadata) HasWriteCapability(node crypto.NodeID) bool {
	if m.PrimaryOwner.Equal(node) {
		return true
	}
	return m.OtherOwners[node.String()] != 0
}
