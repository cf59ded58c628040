package sync

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/5yncr/syncr/pkg/crypto"
	"github.com/5yncr/syncr/pkg/discovery"
	"github.com/5yncr/syncr/pkg/dropmeta"
	"github.com/5yncr/syncr/pkg/fileio"
	"github.com/5yncr/syncr/pkg/server"
	"github.com/5yncr/syncr/pkg/syncerr"
	"github.com/5yncr/syncr/pkg/wire"
)

type fakePKS struct {
	keys map[crypto.NodeID]*crypto.PublicKey
}

func newFakePKS() *fakePKS { return &fakePKS{keys: make(map[crypto.NodeID]*crypto.PublicKey)} }

func (f *fakePKS) SetKey(_ context.Context, _ *crypto.PublicKey) error { return nil }

func (f *fakePKS) RequestKey(_ context.Context, node crypto.NodeID) (*crypto.PublicKey, bool, error) {
	pub, ok := f.keys[node]
	return pub, ok, nil
}

type fakeDPS struct {
	peers []discovery.PeerEntry
}

func (f *fakeDPS) Announce(_ context.Context, _ dropmeta.DropID, _ discovery.PeerEntry) error {
	return nil
}

func (f *fakeDPS) RequestPeers(_ context.Context, _ dropmeta.DropID) ([]discovery.PeerEntry, error) {
	return f.peers, nil
}

// testDrop builds a signed, single-file drop served from a fresh server on
// loopback TCP, returning the remote node's peer entry plus the drop/file
// identifiers and the serving content for assertions.
type testDrop struct {
	dropID  dropmeta.DropID
	fileID  dropmeta.FileID
	relPath string
	owner   crypto.NodeID
	priv    *crypto.PrivateKey
	peer    discovery.PeerEntry
}

func startRemoteDrop(t *testing.T, content []byte, chunkSize int64) *testDrop {
	t.Helper()

	priv, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	owner, _ := priv.Public().NodeID()

	var dropID dropmeta.DropID
	copy(dropID[:32], owner[:])

	root := t.TempDir()
	relPath := "greeting.txt"
	absPath := filepath.Join(root, relPath)

	if err := writeChunkedFile(absPath, content, chunkSize); err != nil {
		t.Fatalf("writeChunkedFile: %v", err)
	}

	fileID := dropmeta.FileID(crypto.Hash(content))

	numChunks := int((int64(len(content)) + chunkSize - 1) / chunkSize)
	hashes := make([][32]byte, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		hashes = append(hashes, crypto.Hash(content[start:end]))
	}

	store, err := dropmeta.NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	reg, err := dropmeta.NewRegistry(filepath.Join(t.TempDir(), "registry"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	fm := &dropmeta.FileMetadata{
		ProtocolVersion: dropmeta.ProtocolVersion,
		DropID:          dropID,
		FileID:          fileID,
		FileLength:      int64(len(content)),
		ChunkSize:       chunkSize,
		Chunks:          hashes,
	}
	if err := store.WriteFileMetadata(fm, root); err != nil {
		t.Fatalf("WriteFileMetadata: %v", err)
	}

	m := &dropmeta.DropMetadata{
		ProtocolVersion: dropmeta.ProtocolVersion,
		DropID:          dropID,
		Name:            "greeting drop",
		VersionNumber:   1,
		VersionNonce:    1,
		PrimaryOwner:    owner,
		OtherOwners:     map[string]int{},
		Files:           map[string]dropmeta.FileID{relPath: fileID},
	}
	if err := dropmeta.Sign(m, priv, owner); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := store.WriteDropMetadata(m, root, true); err != nil {
		t.Fatalf("WriteDropMetadata: %v", err)
	}
	if err := reg.Put(dropID, root); err != nil {
		t.Fatalf("registry Put: %v", err)
	}

	srv := server.New(reg, store)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		ln.Close()
	})
	go srv.Serve(ctx, ln)

	addr := ln.Addr().(*net.TCPAddr)
	peerEntry := discovery.PeerEntry{NodeID: owner, IP: "127.0.0.1", Port: addr.Port}

	return &testDrop{
		dropID:  dropID,
		fileID:  fileID,
		relPath: relPath,
		owner:   owner,
		priv:    priv,
		peer:    peerEntry,
	}
}

// writeChunkedFile stages and completes a full chunked file on disk, the
// way a real peer serving its own content would have it.
func writeChunkedFile(path string, content []byte, chunkSize int64) error {
	if err := fileio.CreateFile(path, int64(len(content))); err != nil {
		return err
	}
	numChunks := int((int64(len(content)) + chunkSize - 1) / chunkSize)
	for i := 0; i < numChunks; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize
		if end > int64(len(content)) {
			end = int64(len(content))
		}
		chunk := content[start:end]
		if err := fileio.WriteChunk(path, i, chunk, crypto.Hash(chunk), chunkSize); err != nil {
			return err
		}
	}
	return fileio.MarkComplete(path)
}

func newTestOrchestrator(t *testing.T, td *testDrop, self crypto.NodeID) (*Orchestrator, string) {
	t.Helper()
	store, err := dropmeta.NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	reg, err := dropmeta.NewRegistry(filepath.Join(t.TempDir(), "registry"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	pks := newFakePKS()
	pks.keys[td.owner] = td.priv.Public()
	dps := &fakeDPS{peers: []discovery.PeerEntry{td.peer}}

	root := t.TempDir()
	return New(reg, store, pks, dps, self), root
}

func differentNodeID(t *testing.T) crypto.NodeID {
	t.Helper()
	priv, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	n, _ := priv.Public().NodeID()
	return n
}

func TestGetDropMetadataFetchesAndCachesRemote(t *testing.T) {
	td := startRemoteDrop(t, []byte("hello, world! this is the drop content."), 16)
	self := differentNodeID(t)
	orch, root := newTestOrchestrator(t, td, self)

	ctx := context.Background()
	record, err := orch.GetDropMetadata(ctx, td.dropID, root, nil)
	if err != nil {
		t.Fatalf("GetDropMetadata: %v", err)
	}
	if record.VersionNumber != 1 {
		t.Fatalf("VersionNumber = %d, want 1", record.VersionNumber)
	}

	// A second call must be served from the local cache without contacting
	// the peer: shut down remote availability by clearing the DPS and
	// confirm GetDropMetadata still succeeds.
	orch.dps = &fakeDPS{}
	if _, err := orch.GetDropMetadata(ctx, td.dropID, root, nil); err != nil {
		t.Fatalf("expected cached GetDropMetadata to succeed without peers, got %v", err)
	}
}

func TestSyncDropFetchesFileContents(t *testing.T) {
	content := []byte("The quick brown fox jumps over the lazy dog, repeated for chunking purposes.")
	td := startRemoteDrop(t, content, 16)
	self := differentNodeID(t)
	orch, root := newTestOrchestrator(t, td, self)

	ctx := context.Background()
	done, err := orch.SyncDrop(ctx, td.dropID, root, nil)
	if err != nil {
		t.Fatalf("SyncDrop: %v", err)
	}
	if !done {
		t.Fatalf("expected SyncDrop to report done=true")
	}

	got, err := os.ReadFile(filepath.Join(root, td.relPath))
	if err != nil {
		t.Fatalf("read synced file: %v", err)
	}
	if string(got) != string(content) {
		t.Fatalf("synced content = %q, want %q", got, content)
	}

	complete, err := orch.CheckDrop(ctx, td.dropID, root)
	if err != nil {
		t.Fatalf("CheckDrop: %v", err)
	}
	if !complete {
		t.Fatalf("expected CheckDrop to report complete after a full sync")
	}
}

func TestSyncDropNoPeersFails(t *testing.T) {
	td := startRemoteDrop(t, []byte("content"), 8)
	self := differentNodeID(t)
	orch, root := newTestOrchestrator(t, td, self)
	orch.dps = &fakeDPS{}

	_, err := orch.SyncDrop(context.Background(), td.dropID, root, nil)
	if err == nil {
		t.Fatalf("expected SyncDrop to fail with no peers and nothing local")
	}
}

func TestCheckForChangesClassifiesFiles(t *testing.T) {
	content := []byte("version one content")
	td := startRemoteDrop(t, content, 8)
	self := differentNodeID(t)
	orch, root := newTestOrchestrator(t, td, self)

	ctx := context.Background()
	if _, err := orch.SyncDrop(ctx, td.dropID, root, nil); err != nil {
		t.Fatalf("SyncDrop: %v", err)
	}

	// No local changes yet: the synced file should be unchanged.
	cs, err := orch.CheckForChanges(td.dropID, root, nil)
	if err != nil {
		t.Fatalf("CheckForChanges: %v", err)
	}
	if len(cs.Unchanged) != 1 || len(cs.Added) != 0 || len(cs.Changed) != 0 || len(cs.Removed) != 0 {
		t.Fatalf("unexpected change set: %+v", cs)
	}

	// Modify the file and add a new one.
	if err := os.WriteFile(filepath.Join(root, td.relPath), []byte("modified content"), 0644); err != nil {
		t.Fatalf("modify file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "new.txt"), []byte("new file"), 0644); err != nil {
		t.Fatalf("write new file: %v", err)
	}

	cs, err = orch.CheckForChanges(td.dropID, root, nil)
	if err != nil {
		t.Fatalf("CheckForChanges after modification: %v", err)
	}
	if len(cs.Changed) != 1 || cs.Changed[0] != td.relPath {
		t.Fatalf("expected %s to be Changed, got %+v", td.relPath, cs)
	}
	if len(cs.Added) != 1 || cs.Added[0] != "new.txt" {
		t.Fatalf("expected new.txt to be Added, got %+v", cs)
	}
}

func TestMakeNewVersionRejectsNonOwner(t *testing.T) {
	content := []byte("owned content")
	td := startRemoteDrop(t, content, 8)
	self := differentNodeID(t)
	orch, root := newTestOrchestrator(t, td, self)

	ctx := context.Background()
	if _, err := orch.SyncDrop(ctx, td.dropID, root, nil); err != nil {
		t.Fatalf("SyncDrop: %v", err)
	}

	priv, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	_, err = orch.MakeNewVersion(td.dropID, root, priv, self, nil, nil, nil)
	if !syncerr.Is(err, syncerr.KindPermission) {
		t.Fatalf("expected PermissionError for a non-owner, got %v", err)
	}
}

func TestMakeNewVersionByOwnerIncrementsVersion(t *testing.T) {
	content := []byte("owner content")
	td := startRemoteDrop(t, content, 8)
	self := differentNodeID(t)
	orch, root := newTestOrchestrator(t, td, self)

	ctx := context.Background()
	if _, err := orch.SyncDrop(ctx, td.dropID, root, nil); err != nil {
		t.Fatalf("SyncDrop: %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, td.relPath), []byte("changed by owner"), 0644); err != nil {
		t.Fatalf("modify file: %v", err)
	}

	next, err := orch.MakeNewVersion(td.dropID, root, td.priv, td.owner, nil, nil, nil)
	if err != nil {
		t.Fatalf("MakeNewVersion: %v", err)
	}
	if next.VersionNumber != 2 {
		t.Fatalf("VersionNumber = %d, want 2", next.VersionNumber)
	}
	if len(next.PreviousVersions) != 1 || next.PreviousVersions[0].Number != 1 {
		t.Fatalf("unexpected previous_versions: %+v", next.PreviousVersions)
	}

	if err := dropmeta.VerifyHeaderSignature(next, td.priv.Public()); err != nil {
		t.Fatalf("new version header signature invalid: %v", err)
	}
}

func TestQueueSyncAndProcessSyncQueue(t *testing.T) {
	content := []byte("queued sync content")
	td := startRemoteDrop(t, content, 8)
	self := differentNodeID(t)
	orch, root := newTestOrchestrator(t, td, self)

	if err := orch.QueueSync(td.dropID, root, nil); err != nil {
		t.Fatalf("QueueSync: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		orch.ProcessSyncQueue(ctx)
		close(done)
	}()

	deadline := time.After(1 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for queued sync to materialize the file")
		default:
		}
		if _, err := os.Stat(filepath.Join(root, td.relPath)); err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done
}

func TestDeleteDropRemovesSaveDirectory(t *testing.T) {
	td := startRemoteDrop(t, []byte("to be deleted"), 8)
	self := differentNodeID(t)
	orch, root := newTestOrchestrator(t, td, self)

	if err := orch.registry.Put(td.dropID, root); err != nil {
		t.Fatalf("registry Put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "marker.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	if err := orch.DeleteDrop(td.dropID); err != nil {
		t.Fatalf("DeleteDrop: %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("expected save directory to be removed, stat err = %v", err)
	}
}

func TestInitDropCreatesSignedRootVersionAndRegistersIt(t *testing.T) {
	priv, err := crypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	self, err := priv.Public().NodeID()
	if err != nil {
		t.Fatalf("NodeID: %v", err)
	}

	store, err := dropmeta.NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	reg, err := dropmeta.NewRegistry(filepath.Join(t.TempDir(), "registry"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	orch := New(reg, store, newFakePKS(), &fakeDPS{}, self)

	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	record, err := orch.InitDrop(root, priv, self, "my-drop", nil)
	if err != nil {
		t.Fatalf("InitDrop: %v", err)
	}
	if record.VersionNumber != 0 || len(record.PreviousVersions) != 0 {
		t.Fatalf("expected root version with no previous versions, got %+v", record)
	}
	if !record.PrimaryOwner.Equal(self) {
		t.Fatalf("PrimaryOwner = %v, want %v", record.PrimaryOwner, self)
	}
	if err := dropmeta.VerifyHeaderSignature(record, priv.Public()); err != nil {
		t.Fatalf("signature invalid: %v", err)
	}

	savePath, ok, err := reg.Get(record.DropID)
	if err != nil || !ok {
		t.Fatalf("registry Get: ok=%v err=%v", ok, err)
	}
	if savePath != root {
		t.Fatalf("registry save path = %q, want %q", savePath, root)
	}
}

// TestSyncFileContentsRetriesHashMismatchWithoutAborting exercises
// spec §4.7.3's requirement that a corrupt chunk from a peer is logged and
// retried, never aborting the whole file sync outright. The only peer here
// always claims to have the chunk but always serves the wrong bytes, so
// the scheduler loop should exhaust its one peer-list retry and report
// done=false with a nil error, not a VerificationException.
func TestSyncFileContentsRetriesHashMismatchWithoutAborting(t *testing.T) {
	content := []byte("exactly one chunk of content")
	chunkSize := int64(len(content))
	fm := &dropmeta.FileMetadata{
		ProtocolVersion: dropmeta.ProtocolVersion,
		FileID:          dropmeta.FileID(crypto.Hash(content)),
		FileLength:      int64(len(content)),
		ChunkSize:       chunkSize,
		Chunks:          [][32]byte{crypto.Hash(content)},
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go wire.Serve(conn, func(req *wire.Request) (interface{}, error) {
				switch req.RequestType {
				case wire.ChunkListRequest:
					return wire.ChunkListPayload{Indices: []int{0}}, nil
				case wire.ChunkRequest:
					return wire.ChunkPayload{Bytes: []byte("this does not match the expected hash")}, nil
				default:
					return nil, syncerr.NotExist("unsupported by this fake peer")
				}
			})
		}
	}()

	self := differentNodeID(t)
	store, err := dropmeta.NewStore()
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	reg, err := dropmeta.NewRegistry(filepath.Join(t.TempDir(), "registry"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	orch := New(reg, store, newFakePKS(), &fakeDPS{}, self)

	var dropID dropmeta.DropID
	addr := ln.Addr().(*net.TCPAddr)
	peer := wire.Peer{NodeID: "malicious", IP: "127.0.0.1", Port: addr.Port}

	done, err := orch.SyncFileContents(context.Background(), dropID, t.TempDir(), "f.bin", fm, []wire.Peer{peer})
	if err != nil {
		t.Fatalf("expected a corrupt chunk to be retried, not returned as an error: %v", err)
	}
	if done {
		t.Fatal("expected done=false when the only peer keeps serving a corrupt chunk")
	}
}
