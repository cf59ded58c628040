// Package sync implements the sync orchestrator of spec §4.7: the
// component that drives a drop from "known locally" to "matches the
// latest version any peer has," via the discovery layer and the wire
// protocol.
//
// Grounded on content.ContentFetcher's semaphore-backpressure worker
// pattern (pkg/content/fetcher.go) and agent.Supervisor's
// retry-with-backoff loop (pkg/agent/supervisor.go), retargeted from
// frame-based content fetching to the drop/file/chunk request triad of
// pkg/wire.
package sync

import (
	"context"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/5yncr/syncr/internal/logging"
	"github.com/5yncr/syncr/pkg/constants"
	"github.com/5yncr/syncr/pkg/crypto"
	"github.com/5yncr/syncr/pkg/discovery"
	"github.com/5yncr/syncr/pkg/dropmeta"
	"github.com/5yncr/syncr/pkg/syncerr"
	"github.com/5yncr/syncr/pkg/wire"
)

// Orchestrator drives sync for every drop known to one node.
type Orchestrator struct {
	registry *dropmeta.Registry
	store    *dropmeta.Store
	pks      discovery.PublicKeyStore
	dps      discovery.DropPeerStore
	self     crypto.NodeID

	dropLocksMu sync.Mutex
	dropLocks   map[dropmeta.DropID]*sync.Mutex

	chunkListCache *chunkListCache

	queue chan syncJob
}

// New builds an Orchestrator backed by registry/store for persistence and
// pks/dps for peer and key discovery. self is this node's own ID, used to
// avoid announcing or trusting ourselves as a remote peer.
func New(registry *dropmeta.Registry, store *dropmeta.Store, pks discovery.PublicKeyStore, dps discovery.DropPeerStore, self crypto.NodeID) *Orchestrator {
	return &Orchestrator{
		registry:       registry,
		store:          store,
		pks:            pks,
		dps:            dps,
		self:           self,
		dropLocks:      make(map[dropmeta.DropID]*sync.Mutex),
		chunkListCache: newChunkListCache(constants.PeerAvailabilityTTL),
		queue:          make(chan syncJob, constants.SyncQueueCapacity),
	}
}

// lockFor returns the per-drop mutex serializing concurrent SyncDrop calls
// for the same drop (spec §4.7 "a per-drop lock prevents concurrent sync of
// the same drop").
func (o *Orchestrator) lockFor(dropID dropmeta.DropID) *sync.Mutex {
	o.dropLocksMu.Lock()
	defer o.dropLocksMu.Unlock()
	mu, ok := o.dropLocks[dropID]
	if !ok {
		mu = &sync.Mutex{}
		o.dropLocks[dropID] = mu
	}
	return mu
}

// resolvePeers asks the DPS for candidates serving dropID and converts them
// to wire.Peer, dropping ourselves from the list.
func (o *Orchestrator) resolvePeers(ctx context.Context, dropID dropmeta.DropID) ([]wire.Peer, error) {
	entries, err := o.dps.RequestPeers(ctx, dropID)
	if err != nil {
		return nil, syncerr.PeerStoreFailure("request peers", err)
	}
	peers := make([]wire.Peer, 0, len(entries))
	for _, e := range entries {
		if e.NodeID.Equal(o.self) {
			continue
		}
		peers = append(peers, wire.Peer{NodeID: e.NodeID.String(), IP: e.IP, Port: e.Port})
	}
	return peers, nil
}

// publicKeyFor resolves node's public key via the PKS.
func (o *Orchestrator) publicKeyFor(ctx context.Context, node crypto.NodeID) (*crypto.PublicKey, error) {
	pub, ok, err := o.pks.RequestKey(ctx, node)
	if err != nil {
		return nil, syncerr.PeerStoreFailure("request public key", err)
	}
	if !ok {
		return nil, syncerr.NotExist("public key unknown for node " + node.String())
	}
	return pub, nil
}

// GetDropMetadata resolves a drop's metadata: the requested version (or
// LATEST when version is nil) read locally if present, otherwise fetched
// from a peer, verified, and cached to disk (spec §4.7.1).
func (o *Orchestrator) GetDropMetadata(ctx context.Context, dropID dropmeta.DropID, root string, version *dropmeta.Version) (*dropmeta.DropMetadata, error) {
	local, err := o.store.ReadDropMetadata(dropID, root, version)
	if err != nil {
		return nil, err
	}
	if local != nil {
		return local, nil
	}

	peers, err := o.resolvePeers(ctx, dropID)
	if err != nil {
		return nil, err
	}

	record, err := wire.DoRequest(peers, func(p wire.Peer) (*dropmeta.DropMetadata, error) {
		resp, err := wire.Send(p, &wire.Request{RequestType: wire.DropMetadataRequest, DropID: dropID, Version: version})
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
		return nil, err
	}

	verifySig := func(m *dropmeta.DropMetadata) error {
		pub, err := o.publicKeyFor(ctx, m.SignedBy)
		if err != nil {
			return err
		}
		if err := dropmeta.VerifyHeaderSignature(m, pub); err != nil {
			return syncerr.Verification("drop metadata failed signature verification", err)
		}
		return nil
	}
	lookup := func(v dropmeta.Version) (*dropmeta.DropMetadata, bool, error) {
		parent, err := o.store.ReadDropMetadata(dropID, root, &v)
		if err != nil {
			return nil, false, err
		}
		if parent != nil {
			return parent, true, nil
		}
		parent, err = o.GetDropMetadata(ctx, dropID, root, &v)
		if err != nil {
			return nil, false, err
		}
		return parent, true, nil
	}
	if err := dropmeta.VerifyVersion(record, lookup, verifySig); err != nil {
		return nil, syncerr.Verification("remote drop metadata failed lineage verification", err)
	}

	markLatest := version == nil
	if err := o.store.WriteDropMetadata(record, root, markLatest); err != nil {
		return nil, err
	}
	return record, nil
}

// GetFileMetadata resolves one file's metadata, local-else-remote, the same
// way GetDropMetadata does (spec §4.7.1). File metadata carries no
// independent signature; its authenticity is anchored by the owning drop
// version's files_hash, which the caller is expected to have already
// checked against dropID's current metadata.
func (o *Orchestrator) GetFileMetadata(ctx context.Context, dropID dropmeta.DropID, root string, fileID dropmeta.FileID) (*dropmeta.FileMetadata, error) {
	local, err := o.store.ReadFileMetadata(fileID, root)
	if err != nil {
		return nil, err
	}
	if local != nil {
		return local, nil
	}

	peers, err := o.resolvePeers(ctx, dropID)
	if err != nil {
		return nil, err
	}

	record, err := wire.DoRequest(peers, func(p wire.Peer) (*dropmeta.FileMetadata, error) {
		resp, err := wire.Send(p, &wire.Request{RequestType: wire.FileMetadataRequest, DropID: dropID, FileID: fileID})
		if err != nil {
			return nil, err
		}
		var payload wire.FileMetadataPayload
		if err := wire.DecodePayload(resp, &payload); err != nil {
			return nil, err
		}
		return dropmeta.DecodeFileMetadata(payload.Record)
	})
	if err != nil {
		return nil, err
	}

	if err := o.store.WriteFileMetadata(record, root); err != nil {
		return nil, err
	}
	return record, nil
}

// SyncDrop brings root's copy of dropID up to the requested version (or the
// latest any peer reports, when version is nil): fetch drop metadata, fetch
// and materialize every file's contents, register the drop. Returns done
// == true only once every file is fully present on disk (spec §4.7.1 "return
// (all files complete, drop_id)"); false means some chunk could not be
// obtained from the given peers and a later reinvocation should retry.
func (o *Orchestrator) SyncDrop(ctx context.Context, dropID dropmeta.DropID, root string, version *dropmeta.Version) (bool, error) {
	mu := o.lockFor(dropID)
	mu.Lock()
	defer mu.Unlock()

	log := logging.Named("sync.orchestrator")

	if err := os.MkdirAll(root, 0755); err != nil {
		return false, fmt.Errorf("sync: create save directory: %w", err)
	}
	if err := o.registry.Put(dropID, root); err != nil {
		return false, err
	}

	drop, err := o.GetDropMetadata(ctx, dropID, root, version)
	if err != nil {
		return false, err
	}

	peers, err := o.resolvePeers(ctx, dropID)
	if err != nil {
		return false, err
	}

	sem := semaphore.NewWeighted(int64(constants.MaxConcurrentFileDownloads))
	var wg sync.WaitGroup
	errs := make([]error, len(drop.Files))
	results := make([]bool, len(drop.Files))

	paths := make([]string, 0, len(drop.Files))
	fileIDs := make([]dropmeta.FileID, 0, len(drop.Files))
	for path, fileID := range drop.Files {
		paths = append(paths, path)
		fileIDs = append(fileIDs, fileID)
	}

	for idx := range paths {
		if err := sem.Acquire(ctx, 1); err != nil {
			return false, err
		}
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer sem.Release(1)

			relPath := paths[idx]
			fileID := fileIDs[idx]

			fm, err := o.GetFileMetadata(ctx, dropID, root, fileID)
			if err != nil {
				errs[idx] = fmt.Errorf("sync: file metadata for %s: %w", relPath, err)
				return
			}
			done, err := o.SyncFileContents(ctx, dropID, root, relPath, fm, peers)
			if err != nil {
				errs[idx] = fmt.Errorf("sync: contents for %s: %w", relPath, err)
				return
			}
			results[idx] = done
		}(idx)
	}
	wg.Wait()

	for idx, err := range errs {
		if err != nil {
			log.Warn("file sync failed", "path", paths[idx], "error", err)
			return false, err
		}
	}

	done := true
	for _, r := range results {
		if !r {
			done = false
			break
		}
	}
	return done, nil
}

// ListDrops returns every drop this node currently knows about, owned or
// synced, in no particular order (spec §4.8 "get the set of drops known
// locally").
func (o *Orchestrator) ListDrops() ([]dropmeta.DropID, error) {
	return o.registry.List()
}

// DeleteDrop removes dropID's registry entry and its save directory,
// leaving other nodes' copies of the lineage untouched (spec §3
// "Destroyed locally by delete").
func (o *Orchestrator) DeleteDrop(dropID dropmeta.DropID) error {
	root, ok, err := o.registry.Get(dropID)
	if err != nil {
		return err
	}
	if err := o.registry.Delete(dropID); err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("sync: remove drop directory: %w", err)
	}
	return nil
}
