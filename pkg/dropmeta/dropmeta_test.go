package dropmeta

import (
	"path/filepath"
	"testing"

	"github.com/5yncr/syncr/pkg/crypto"
)

func newOwnerKey(t *testing.T) (*crypto.PrivateKey, crypto.NodeID) {
	t.Helper()
	priv, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	id, err := priv.Public().NodeID()
	if err != nil {
		t.Fatalf("NodeID: %v", err)
	}
	return priv, id
}

func newSignedDrop(t *testing.T, priv *crypto.PrivateKey, owner crypto.NodeID) *DropMetadata {
	t.Helper()
	var dropID DropID
	copy(dropID[:32], owner[:])

	m := &DropMetadata{
		ProtocolVersion: ProtocolVersion,
		DropID:          dropID,
		Name:            "my-drop",
		VersionNumber:   1,
		VersionNonce:    42,
		PrimaryOwner:    owner,
		OtherOwners:     map[string]int{},
		Files: map[string]FileID{
			"a.txt": {1, 2, 3},
		},
	}
	if err := Sign(m, priv, owner); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return m
}

func TestSignThenVerifyHeaderSignature(t *testing.T) {
	priv, owner := newOwnerKey(t)
	m := newSignedDrop(t, priv, owner)

	if err := VerifyHeaderSignature(m, priv.Public()); err != nil {
		t.Fatalf("VerifyHeaderSignature: %v", err)
	}
	if err := VerifyFilesHash(m); err != nil {
		t.Fatalf("VerifyFilesHash: %v", err)
	}
}

func TestVerifyHeaderSignatureFailsAfterTamper(t *testing.T) {
	priv, owner := newOwnerKey(t)
	m := newSignedDrop(t, priv, owner)

	m.Name = "tampered-name"
	if err := VerifyHeaderSignature(m, priv.Public()); err == nil {
		t.Fatalf("expected signature verification to fail after tampering")
	}
}

func TestWriteReadDropMetadataRoundTrip(t *testing.T) {
	priv, owner := newOwnerKey(t)
	m := newSignedDrop(t, priv, owner)

	root := t.TempDir()
	store, err := NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	if err := store.WriteDropMetadata(m, root, true); err != nil {
		t.Fatalf("WriteDropMetadata: %v", err)
	}

	read, err := store.ReadDropMetadata(m.DropID, root, nil)
	if err != nil {
		t.Fatalf("ReadDropMetadata: %v", err)
	}
	if read == nil {
		t.Fatalf("expected LATEST to resolve to the written record")
	}
	if read.Name != m.Name {
		t.Fatalf("round-tripped name = %q, want %q", read.Name, m.Name)
	}
}

func TestReadDropMetadataMissingReturnsNil(t *testing.T) {
	store, err := NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	root := t.TempDir()

	var id DropID
	read, err := store.ReadDropMetadata(id, root, nil)
	if err != nil {
		t.Fatalf("ReadDropMetadata: %v", err)
	}
	if read != nil {
		t.Fatalf("expected nil record for unknown drop, got %+v", read)
	}
}

func TestFileMetadataRoundTripAndChunkCountInvariant(t *testing.T) {
	store, err := NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	root := t.TempDir()

	fm := &FileMetadata{
		ProtocolVersion: ProtocolVersion,
		FileID:          FileID{9, 9, 9},
		FileLength:      20,
		ChunkSize:       8,
		Chunks:          [][32]byte{{1}, {2}, {3}},
	}
	if fm.NumChunks() != 3 {
		t.Fatalf("NumChunks() = %d, want 3", fm.NumChunks())
	}

	if err := store.WriteFileMetadata(fm, root); err != nil {
		t.Fatalf("WriteFileMetadata: %v", err)
	}

	read, err := store.ReadFileMetadata(fm.FileID, root)
	if err != nil {
		t.Fatalf("ReadFileMetadata: %v", err)
	}
	if read == nil || read.FileLength != fm.FileLength {
		t.Fatalf("round-tripped file metadata mismatch: %+v", read)
	}
}

func TestVerifyVersionRootRequiresPrimaryOwnerSignature(t *testing.T) {
	priv, owner := newOwnerKey(t)
	m := newSignedDrop(t, priv, owner)

	noop := func(*DropMetadata) error { return nil }
	err := VerifyVersion(m, func(Version) (*DropMetadata, bool, error) {
		t.Fatalf("lookup should not be called for a root version")
		return nil, false, nil
	}, noop)
	if err != nil {
		t.Fatalf("VerifyVersion on root: %v", err)
	}
}

func TestVerifyVersionChainWithOwnershipUnchanged(t *testing.T) {
	priv, owner := newOwnerKey(t)
	parent := newSignedDrop(t, priv, owner)

	child := newSignedDrop(t, priv, owner)
	child.VersionNumber = 2
	child.VersionNonce = 7
	child.PreviousVersions = []Version{parent.Version()}
	if err := Sign(child, priv, owner); err != nil {
		t.Fatalf("Sign child: %v", err)
	}

	lookup := func(v Version) (*DropMetadata, bool, error) {
		if v == parent.Version() {
			return parent, true, nil
		}
		return nil, false, nil
	}
	noop := func(*DropMetadata) error { return nil }

	if err := VerifyVersion(child, lookup, noop); err != nil {
		t.Fatalf("VerifyVersion on linear child: %v", err)
	}
}

func TestVerifyVersionRejectsUnauthorizedOwnerChange(t *testing.T) {
	priv, owner := newOwnerKey(t)
	parent := newSignedDrop(t, priv, owner)

	otherPriv, otherOwner := newOwnerKey(t)

	child := &DropMetadata{
		ProtocolVersion:  ProtocolVersion,
		DropID:           parent.DropID,
		Name:             parent.Name,
		VersionNumber:    2,
		VersionNonce:     7,
		PreviousVersions: []Version{parent.Version()},
		PrimaryOwner:     parent.PrimaryOwner,
		OtherOwners:      map[string]int{otherOwner.String(): 1},
		Files:            parent.Files,
	}
	if err := Sign(child, otherPriv, otherOwner); err != nil {
		t.Fatalf("Sign child: %v", err)
	}

	lookup := func(v Version) (*DropMetadata, bool, error) {
		if v == parent.Version() {
			return parent, true, nil
		}
		return nil, false, nil
	}
	noop := func(*DropMetadata) error { return nil }

	if err := VerifyVersion(child, lookup, noop); err == nil {
		t.Fatalf("expected VerifyVersion to reject a signer outside the parent's owner set")
	}
}

func TestRegistryPutGetDelete(t *testing.T) {
	dir := t.TempDir()
	reg, err := NewRegistry(filepath.Join(dir, "drops"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	var id DropID
	id[0] = 7
	savePath := filepath.Join(dir, "drop-root")

	if err := reg.Put(id, savePath); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := reg.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("expected registry entry to be found")
	}
	want, _ := filepath.Abs(savePath)
	if got != want {
		t.Fatalf("Get() = %q, want %q", got, want)
	}

	if err := reg.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	_, ok, err = reg.Get(id)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if ok {
		t.Fatalf("expected registry entry to be gone after Delete")
	}
}
