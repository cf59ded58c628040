package sync

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/text/unicode/norm"

	"github.com/5yncr/syncr/internal/logging"
	"github.com/5yncr/syncr/pkg/constants"
	"github.com/5yncr/syncr/pkg/crypto"
	"github.com/5yncr/syncr/pkg/dropmeta"
	"github.com/5yncr/syncr/pkg/fileio"
	"github.com/5yncr/syncr/pkg/syncerr"
	"github.com/5yncr/syncr/pkg/wire"
)

// ChangeSet classifies a drop's on-disk files against its local LATEST
// record (spec §4.7.4 check_for_changes).
type ChangeSet struct {
	Added     []string
	Removed   []string
	Changed   []string
	Unchanged []string
}

// buildFileMetadata chunks path into DefaultChunkSize pieces, hashing each
// one and the file as a whole, and returns the resulting record (spec §3
// "chunk_size is fixed per file, default 8 MiB").
func buildFileMetadata(dropID dropmeta.DropID, path string) (*dropmeta.FileMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("sync: stat %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sync: open %s: %w", path, err)
	}
	defer f.Close()

	fm := &dropmeta.FileMetadata{
		ProtocolVersion: dropmeta.ProtocolVersion,
		DropID:          dropID,
		FileLength:      info.Size(),
		ChunkSize:       constants.DefaultChunkSize,
	}

	buf := make([]byte, constants.DefaultChunkSize)
	var full []byte
	for {
		n, err := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			fm.Chunks = append(fm.Chunks, crypto.Hash(chunk))
			full = append(full, chunk...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sync: read %s: %w", path, err)
		}
	}
	fm.FileID = dropmeta.FileID(crypto.Hash(full))

	return fm, nil
}

// rebuildFiles walks root under the drop's ignore patterns, building fresh
// FileMetadata for every file present (spec §4.7.4's "rebuilding file
// metadata for all files currently on disk").
func rebuildFiles(dropID dropmeta.DropID, root string, ignorePatterns []string) (map[string]*dropmeta.FileMetadata, error) {
	entries, err := fileio.WalkWithIgnore(root, ignorePatterns)
	if err != nil {
		return nil, fmt.Errorf("sync: walk %s: %w", root, err)
	}

	out := make(map[string]*dropmeta.FileMetadata, len(entries))
	for _, e := range entries {
		rel := filepath.Join(e.RelDir, e.Filename)
		fm, err := buildFileMetadata(dropID, filepath.Join(root, rel))
		if err != nil {
			return nil, err
		}
		out[rel] = fm
	}
	return out, nil
}

// CheckForChanges walks root under patterns and classifies every file
// against the drop's local LATEST record (spec §4.7.4).
func (o *Orchestrator) CheckForChanges(dropID dropmeta.DropID, root string, ignorePatterns []string) (*ChangeSet, error) {
	latest, err := o.store.ReadDropMetadata(dropID, root, nil)
	if err != nil {
		return nil, err
	}
	if latest == nil {
		return nil, syncerr.NotExist("drop has no local LATEST record")
	}

	fresh, err := rebuildFiles(dropID, root, ignorePatterns)
	if err != nil {
		return nil, err
	}

	cs := &ChangeSet{}
	for rel, fm := range fresh {
		oldID, existed := latest.Files[rel]
		switch {
		case !existed:
			cs.Added = append(cs.Added, rel)
		case oldID != fm.FileID:
			cs.Changed = append(cs.Changed, rel)
		default:
			cs.Unchanged = append(cs.Unchanged, rel)
		}
	}
	for rel := range latest.Files {
		if _, stillPresent := fresh[rel]; !stillPresent {
			cs.Removed = append(cs.Removed, rel)
		}
	}
	return cs, nil
}

// CheckForUpdate asks peers for dropID's current latest drop metadata and
// compares it against the local LATEST (spec §4.7.4). same version number
// and nonce: no update. Strictly newer version number: update available.
// Same version number, different nonce: a lineage conflict, surfaced as
// ErrVerification rather than silently picked.
func (o *Orchestrator) CheckForUpdate(ctx context.Context, dropID dropmeta.DropID, root string) (*dropmeta.DropMetadata, bool, error) {
	local, err := o.store.ReadDropMetadata(dropID, root, nil)
	if err != nil {
		return nil, false, err
	}

	peers, err := o.resolvePeers(ctx, dropID)
	if err != nil {
		return nil, false, err
	}

	remote, err := wire.DoRequest(peers, func(p wire.Peer) (*dropmeta.DropMetadata, error) {
		resp, err := wire.Send(p, &wire.Request{RequestType: wire.DropMetadataRequest, DropID: dropID})
		if err != nil {
			return nil, err
		}
		var payload wire.DropMetadataPayload
		if err := wire.DecodePayload(resp, &payload); err != nil {
			return nil, err
		}
		return dropmeta.DecodeDropMetadata(payload.Record)
	})
	if err != nil {
		return nil, false, err
	}

	pub, err := o.publicKeyFor(ctx, remote.SignedBy)
	if err != nil {
		return nil, false, err
	}
	if err := dropmeta.VerifyHeaderSignature(remote, pub); err != nil {
		return nil, false, syncerr.Verification("remote drop metadata failed signature verification", err)
	}

	if local == nil {
		return remote, true, nil
	}
	switch {
	case remote.VersionNumber > local.VersionNumber:
		return remote, true, nil
	case remote.VersionNumber == local.VersionNumber && remote.VersionNonce == local.VersionNonce:
		return remote, false, nil
	case remote.VersionNumber == local.VersionNumber:
		return nil, false, syncerr.Verification("same version, different nonce", nil)
	default:
		return remote, false, nil
	}
}

// randomNonce64 draws a fresh random version nonce (spec §3 "nonce is
// chosen fresh per version, purely to disambiguate concurrent writers").
func randomNonce64() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return nonce64(b[:]), nil
}

// InitDrop creates the first version (number 0) of a brand-new drop rooted
// at root: a fresh drop ID (primary owner ++ random nonce), file metadata
// for every file on disk, a signed drop-metadata record, and a registry
// entry pointing at root (spec §2 "drop_init <directory>"). Grounded on
// MakeNewVersion's build-sign-write sequence, specialized to a record with
// no previous version to read.
func (o *Orchestrator) InitDrop(root string, priv *crypto.PrivateKey, self crypto.NodeID, name string, ignorePatterns []string) (*dropmeta.DropMetadata, error) {
	var dropID dropmeta.DropID
	copy(dropID[:32], self[:])
	nonce, err := randomNonce64()
	if err != nil {
		return nil, fmt.Errorf("sync: draw drop id nonce: %w", err)
	}
	var nonceBytes [32]byte
	if _, err := rand.Read(nonceBytes[:]); err != nil {
		return nil, fmt.Errorf("sync: draw drop id salt: %w", err)
	}
	copy(dropID[32:], nonceBytes[:])

	fresh, err := rebuildFiles(dropID, root, ignorePatterns)
	if err != nil {
		return nil, err
	}
	files := make(map[string]dropmeta.FileID, len(fresh))
	for rel, fm := range fresh {
		files[rel] = fm.FileID
	}

	record := &dropmeta.DropMetadata{
		ProtocolVersion: dropmeta.ProtocolVersion,
		DropID:          dropID,
		Name:            norm.NFKC.String(name),
		VersionNumber:   0,
		VersionNonce:    nonce,
		PrimaryOwner:    self,
		OtherOwners:     map[string]int{},
		Files:           files,
	}
	if err := dropmeta.Sign(record, priv, self); err != nil {
		return nil, fmt.Errorf("sync: sign new drop: %w", err)
	}

	for _, fm := range fresh {
		if err := o.store.WriteFileMetadata(fm, root); err != nil {
			return nil, err
		}
	}
	if err := o.store.WriteDropMetadata(record, root, true); err != nil {
		return nil, err
	}
	if err := o.registry.Put(dropID, root); err != nil {
		return nil, err
	}

	logging.Named("sync.orchestrator").Info("drop initialized",
		"drop_id", dropID.Base64(), "root", root)

	return record, nil
}

// MakeNewVersion rebuilds file metadata for every file on disk, signs and
// writes a new drop version with an incremented version number and a
// fresh nonce, replacing the file-metadata directory with the freshly
// computed records (spec §4.7.4).
func (o *Orchestrator) MakeNewVersion(dropID dropmeta.DropID, root string, priv *crypto.PrivateKey, self crypto.NodeID, ignorePatterns []string, addOwner, removeOwner *crypto.NodeID) (*dropmeta.DropMetadata, error) {
	current, err := o.store.ReadDropMetadata(dropID, root, nil)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, syncerr.NotExist("drop has no local LATEST record")
	}
	if !current.HasWriteCapability(self) {
		return nil, syncerr.Permission("node is not an owner of this drop")
	}

	fresh, err := rebuildFiles(dropID, root, ignorePatterns)
	if err != nil {
		return nil, err
	}

	nonce, err := randomNonce64()
	if err != nil {
		return nil, fmt.Errorf("sync: draw version nonce: %w", err)
	}

	otherOwners := make(map[string]int, len(current.OtherOwners))
	for k, v := range current.OtherOwners {
		otherOwners[k] = v
	}
	if addOwner != nil {
		otherOwners[addOwner.String()] = 1
	}
	if removeOwner != nil {
		delete(otherOwners, removeOwner.String())
	}

	files := make(map[string]dropmeta.FileID, len(fresh))
	for rel, fm := range fresh {
		files[rel] = fm.FileID
	}

	next := &dropmeta.DropMetadata{
		ProtocolVersion:  dropmeta.ProtocolVersion,
		DropID:           dropID,
		Name:             norm.NFKC.String(current.Name),
		VersionNumber:    current.VersionNumber + 1,
		VersionNonce:     nonce,
		PreviousVersions: []dropmeta.Version{current.Version()},
		PrimaryOwner:     current.PrimaryOwner,
		OtherOwners:      otherOwners,
		Files:            files,
	}
	if err := dropmeta.Sign(next, priv, self); err != nil {
		return nil, fmt.Errorf("sync: sign new drop version: %w", err)
	}

	if err := os.RemoveAll(filepath.Join(root, dropmeta.MetadataDirName, "files")); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("sync: clear stale file metadata: %w", err)
	}
	for _, fm := range fresh {
		if err := o.store.WriteFileMetadata(fm, root); err != nil {
			return nil, err
		}
	}
	if err := o.store.WriteDropMetadata(next, root, true); err != nil {
		return nil, err
	}

	logging.Named("sync.orchestrator").Info("new drop version created",
		"drop_id", dropID.Base64(), "version", next.VersionNumber, "nonce", next.VersionNonce)

	return next, nil
}
