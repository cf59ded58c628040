package sync

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"lukechampine.com/blake3"

	"github.com/5yncr/syncr/internal/logging"
	"github.com/5yncr/syncr/pkg/constants"
	"github.com/5yncr/syncr/pkg/crypto"
	"github.com/5yncr/syncr/pkg/dropmeta"
	"github.com/5yncr/syncr/pkg/fileio"
	"github.com/5yncr/syncr/pkg/syncerr"
	"github.com/5yncr/syncr/pkg/wire"
)

// chunkListCache fronts repeated CHUNK_LIST requests to the same peer for
// the same file with a short-lived cache, keyed by a BLAKE3 digest of
// (peer, drop_id, file_id). This is a performance cache, not a
// spec-governed hash: a cache miss just re-asks the peer.
type chunkListCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[[32]byte]chunkListEntry
}

type chunkListEntry struct {
	indices []int
	at      time.Time
}

func newChunkListCache(ttl time.Duration) *chunkListCache {
	return &chunkListCache{ttl: ttl, entries: make(map[[32]byte]chunkListEntry)}
}

func chunkListCacheKey(peer wire.Peer, dropID dropmeta.DropID, fileID dropmeta.FileID) [32]byte {
	h := blake3.New(32, nil)
	h.Write([]byte(peer.NodeID))
	h.Write(dropID[:])
	h.Write(fileID[:])
	return [32]byte(h.Sum(nil))
}

func (c *chunkListCache) get(key [32]byte) ([]int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Since(entry.at) > c.ttl {
		return nil, false
	}
	return entry.indices, true
}

func (c *chunkListCache) put(key [32]byte, indices []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = chunkListEntry{indices: indices, at: time.Now()}
}

// needsFetch reports whether the chunk at index currently stored at path
// is missing, has the wrong length, or does not match fm's recorded hash.
func needsFetch(path string, index int, fm *dropmeta.FileMetadata) bool {
	data, hash, err := fileio.ReadChunk(path, index, fm.ChunkSize)
	if err != nil {
		return true
	}
	expectedLen := fm.ChunkSize
	if int64(index) == int64(fm.NumChunks()-1) {
		if rem := fm.FileLength % fm.ChunkSize; rem != 0 {
			expectedLen = rem
		}
	}
	if int64(len(data)) != expectedLen {
		return true
	}
	return hash != fm.Chunks[index]
}

// neededChunks returns the indices of path's chunks that don't yet match
// fm's recorded hashes (spec §4.7.2's needed_chunks computation, also
// reused by CheckDrop).
func neededChunks(path string, fm *dropmeta.FileMetadata) []int {
	var needed []int
	for i := 0; i < fm.NumChunks(); i++ {
		if needsFetch(path, i, fm) {
			needed = append(needed, i)
		}
	}
	return needed
}

// fetchChunkList asks peer which of fm's chunks it currently holds,
// fronted by chunkListCache.
func (o *Orchestrator) fetchChunkList(ctx context.Context, peer wire.Peer, dropID dropmeta.DropID, fm *dropmeta.FileMetadata) ([]int, error) {
	key := chunkListCacheKey(peer, dropID, fm.FileID)
	if cached, ok := o.chunkListCache.get(key); ok {
		return cached, nil
	}

	resp, err := wire.Send(peer, &wire.Request{RequestType: wire.ChunkListRequest, DropID: dropID, FileID: fm.FileID})
	if err != nil {
		return nil, err
	}
	var payload wire.ChunkListPayload
	if err := wire.DecodePayload(resp, &payload); err != nil {
		return nil, err
	}

	o.chunkListCache.put(key, payload.Indices)
	return payload.Indices, nil
}

// SyncFileContents materializes the on-disk contents of the file named by
// relPath within dropID, re-hashing existing chunks and fetching only
// what's missing or mismatched from peers (spec §4.7.3). Returns done ==
// true once every needed chunk has been obtained and the file marked
// complete; false if the scheduler loop exhausted its retries with chunks
// still missing — the caller is expected to reinvoke later.
func (o *Orchestrator) SyncFileContents(ctx context.Context, dropID dropmeta.DropID, root, relPath string, fm *dropmeta.FileMetadata, peers []wire.Peer) (bool, error) {
	path := filepath.Join(root, relPath)
	log := logging.Named("sync.chunks")

	needed := neededChunks(path, fm)
	if len(needed) == 0 {
		if complete, err := fileio.IsComplete(path); err == nil && complete {
			return true, nil
		}
		// No chunk is needed but nothing is on disk yet: a zero-length
		// file. Materialize it directly rather than fetching anything.
		if err := fileio.CreateFile(path, fm.FileLength); err != nil {
			return false, err
		}
		if err := fileio.MarkComplete(path); err != nil {
			return false, err
		}
		return true, nil
	}

	if err := fileio.CreateFile(path, fm.FileLength); err != nil {
		return false, err
	}

	if len(peers) == 0 {
		return false, syncerr.NoPeers("no peers available to fetch file contents")
	}

	remaining := make(map[int]bool, len(needed))
	for _, idx := range needed {
		remaining[idx] = true
	}

	// Scheduler loop (spec §4.7.3 step 4): keep passing over the working
	// set until it's empty or a pass makes no progress. A stalled pass
	// gets one retry against a freshly re-fetched peer list before the
	// loop gives up and reports done=false for this invocation.
	retriedPeerList := false
	for len(remaining) > 0 {
		before := len(remaining)

		assignments := o.assignChunks(ctx, peers, dropID, fm, remaining)
		if len(assignments) > 0 {
			if err := o.downloadAssignedChunks(ctx, log, assignments, dropID, fm, path, remaining); err != nil {
				return false, err
			}
		}

		if len(remaining) == before {
			if retriedPeerList {
				break
			}
			retriedPeerList = true
			if refreshed, err := o.resolvePeers(ctx, dropID); err == nil && len(refreshed) > 0 {
				peers = refreshed
			}
			continue
		}
		retriedPeerList = false
	}

	if len(remaining) > 0 {
		log.Warn("file sync made no further progress this pass",
			"file", relPath, "missing_chunks", len(remaining))
		return false, nil
	}

	if err := fileio.MarkComplete(path); err != nil {
		return false, err
	}
	return true, nil
}

// assignChunks reserves up to MaxChunksPerPeer chunks of remaining per
// peer, by intersecting remaining with each peer's CHUNK_LIST response, so
// that no two peers are reserved the same chunk within one pass (spec
// §4.7.3 "subtracting reserved chunks from the working set"). A peer whose
// chunk list comes back empty or fails is skipped, not blacklisted.
func (o *Orchestrator) assignChunks(ctx context.Context, peers []wire.Peer, dropID dropmeta.DropID, fm *dropmeta.FileMetadata, remaining map[int]bool) map[wire.Peer][]int {
	assignments := make(map[wire.Peer][]int)
	unassigned := make(map[int]bool, len(remaining))
	for idx := range remaining {
		unassigned[idx] = true
	}

	for _, peer := range peers {
		if len(unassigned) == 0 {
			break
		}
		available, err := o.fetchChunkList(ctx, peer, dropID, fm)
		if err != nil {
			continue
		}
		have := make(map[int]bool, len(available))
		for _, i := range available {
			have[i] = true
		}

		var assigned []int
		for idx := range unassigned {
			if len(assigned) >= constants.MaxChunksPerPeer {
				break
			}
			if have[idx] {
				assigned = append(assigned, idx)
			}
		}
		for _, idx := range assigned {
			delete(unassigned, idx)
		}
		if len(assigned) > 0 {
			assignments[peer] = assigned
		}
	}
	return assignments
}

// downloadAssignedChunks runs one pass of assignments concurrently, bounded
// by MaxConcurrentChunkDownloads, deleting from remaining only the chunks
// that actually land on disk. Per-chunk failures (a bad connection, a
// NEXIST reply, a hash mismatch) are logged and leave their chunk in
// remaining for the next pass (spec §4.7.3/§4.7.5); only a local disk/IO
// error aborts the sync.
func (o *Orchestrator) downloadAssignedChunks(ctx context.Context, log *slog.Logger, assignments map[wire.Peer][]int, dropID dropmeta.DropID, fm *dropmeta.FileMetadata, path string, remaining map[int]bool) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(constants.MaxConcurrentChunkDownloads)

	for peer, indices := range assignments {
		peer := peer
		for _, index := range indices {
			index := index
			g.Go(func() error {
				ok, err := o.fetchAndWriteChunk(gctx, log, peer, dropID, fm, path, index)
				if err != nil {
					return err
				}
				if ok {
					mu.Lock()
					delete(remaining, index)
					mu.Unlock()
				}
				return nil
			})
		}
	}
	return g.Wait()
}

// fetchAndWriteChunk fetches one chunk from peer and writes it at index.
// ok reports whether the chunk was obtained and written; a non-nil err is
// reserved for a local disk/IO failure, which the caller propagates as a
// hard failure. A wire failure or a chunk hash mismatch returns ok=false,
// err=nil after logging, per spec §4.7.3's "a VerificationException on a
// chunk is logged and that chunk is not removed from needed_chunks."
func (o *Orchestrator) fetchAndWriteChunk(ctx context.Context, log *slog.Logger, peer wire.Peer, dropID dropmeta.DropID, fm *dropmeta.FileMetadata, path string, index int) (ok bool, err error) {
	resp, err := wire.Send(peer, &wire.Request{
		RequestType: wire.ChunkRequest,
		DropID:      dropID,
		FileID:      fm.FileID,
		Index:       &index,
	})
	if err != nil {
		log.Warn("chunk fetch failed, will retry from another peer",
			"index", index, "peer", peer.NodeID, "error", err)
		return false, nil
	}
	var payload wire.ChunkPayload
	if err := wire.DecodePayload(resp, &payload); err != nil {
		log.Warn("chunk response decode failed, will retry from another peer",
			"index", index, "peer", peer.NodeID, "error", err)
		return false, nil
	}

	if crypto.Hash(payload.Bytes) != fm.Chunks[index] {
		log.Warn("chunk hash mismatch, will retry from another peer",
			"index", index, "peer", peer.NodeID)
		return false, nil
	}

	if err := fileio.WriteChunk(path, index, payload.Bytes, fm.Chunks[index], fm.ChunkSize); err != nil {
		return false, fmt.Errorf("sync: write chunk %d: %w", index, err)
	}
	return true, nil
}

// CheckDrop reports whether every file in dropID's current local metadata
// already has every chunk it needs (spec §6.7/§8 invariant 6's
// check_drop exit-code semantics).
func (o *Orchestrator) CheckDrop(ctx context.Context, dropID dropmeta.DropID, root string) (bool, error) {
	drop, err := o.store.ReadDropMetadata(dropID, root, nil)
	if err != nil {
		return false, err
	}
	if drop == nil {
		return false, syncerr.NotExist("drop not known locally")
	}

	for relPath, fileID := range drop.Files {
		fm, err := o.store.ReadFileMetadata(fileID, root)
		if err != nil {
			return false, err
		}
		if fm == nil {
			return false, nil
		}
		path := filepath.Join(root, relPath)
		if len(neededChunks(path, fm)) > 0 {
			return false, nil
		}
	}
	return true, nil
}

// nonce64 reads a random 8-byte nonce as a uint64, used by MakeNewVersion.
func nonce64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
