package dropmeta

import (
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/5yncr/syncr/pkg/canon"
	"github.com/5yncr/syncr/pkg/crypto"
	"github.com/5yncr/syncr/pkg/syncerr"
)

// MetadataDirName is the per-drop metadata subdirectory (spec §4.3).
const MetadataDirName = ".5yncr"

// cacheSize matches "a tiny LRU cache fronts on-disk reads" (spec §4.7.2).
const cacheSize = 32

// Store is the drop/file metadata store for one node: on-disk
// read/write with the spec §4.3 layout, fronted by a small LRU cache.
type Store struct {
	dropCache *lru.Cache[string, *DropMetadata]
	fileCache *lru.Cache[string, *FileMetadata]
}

// NewStore builds a Store with the standard cache sizing.
func NewStore() (*Store, error) {
	dropCache, err := lru.New[string, *DropMetadata](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("dropmeta: create drop cache: %w", err)
	}
	fileCache, err := lru.New[string, *FileMetadata](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("dropmeta: create file cache: %w", err)
	}
	return &Store{dropCache: dropCache, fileCache: fileCache}, nil
}

func dropDir(root string) string  { return filepath.Join(root, MetadataDirName, "drop") }
func filesDir(root string) string { return filepath.Join(root, MetadataDirName, "files") }

func dropVersionPath(root string, id DropID, v Version) string {
	return filepath.Join(dropDir(root), fmt.Sprintf("%s_%d_%d", id.Base64(), v.Number, v.Nonce))
}

func dropLatestPath(root string, id DropID) string {
	return filepath.Join(dropDir(root), id.Base64()+"_LATEST")
}

func filePath(root string, id FileID) string {
	return filepath.Join(filesDir(root), id.Base64())
}

// WriteDropMetadata canonically encodes and writes record under root. If
// markLatest, the LATEST pointer is rewritten to name this version
// (spec §4.3).
func (s *Store) WriteDropMetadata(record *DropMetadata, root string, markLatest bool) error {
	if err := os.MkdirAll(dropDir(root), 0755); err != nil {
		return fmt.Errorf("dropmeta: create drop metadata directory: %w", err)
	}

	data, err := canon.Encode(record)
	if err != nil {
		return fmt.Errorf("dropmeta: encode drop metadata: %w", err)
	}

	path := dropVersionPath(root, record.DropID, record.Version())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("dropmeta: write drop metadata: %w", err)
	}

	if markLatest {
		latestPath := dropLatestPath(root, record.DropID)
		name := filepath.Base(path)
		if err := os.WriteFile(latestPath, []byte(name), 0644); err != nil {
			return fmt.Errorf("dropmeta: write LATEST pointer: %w", err)
		}
	}

	s.dropCache.Add(path, record)
	return nil
}

// ReadDropMetadata reads the named version of dropID under root, or LATEST
// if version is nil. Returns (nil, nil) if missing, mirroring the spec's
// "return None if missing".
func (s *Store) ReadDropMetadata(dropID DropID, root string, version *Version) (*DropMetadata, error) {
	var path string
	if version != nil {
		path = dropVersionPath(root, dropID, *version)
	} else {
		latestPath := dropLatestPath(root, dropID)
		nameBytes, err := os.ReadFile(latestPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("dropmeta: read LATEST pointer: %w", err)
		}
		path = filepath.Join(dropDir(root), string(nameBytes))
	}

	if cached, ok := s.dropCache.Get(path); ok {
		return cached, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("dropmeta: read drop metadata: %w", err)
	}

	record, err := DecodeDropMetadata(data)
	if err != nil {
		return nil, err
	}
	s.dropCache.Add(path, record)
	return record, nil
}

// WriteFileMetadata canonically encodes and writes a file metadata record
// under root, keyed by file ID (spec §4.3).
func (s *Store) WriteFileMetadata(record *FileMetadata, root string) error {
	if err := os.MkdirAll(filesDir(root), 0755); err != nil {
		return fmt.Errorf("dropmeta: create file metadata directory: %w", err)
	}

	data, err := canon.Encode(record)
	if err != nil {
		return fmt.Errorf("dropmeta: encode file metadata: %w", err)
	}

	path := filePath(root, record.FileID)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("dropmeta: write file metadata: %w", err)
	}
	s.fileCache.Add(path, record)
	return nil
}

// ReadFileMetadata reads the metadata record for fileID under root.
// Returns (nil, nil) if missing.
func (s *Store) ReadFileMetadata(fileID FileID, root string) (*FileMetadata, error) {
	path := filePath(root, fileID)

	if cached, ok := s.fileCache.Get(path); ok {
		return cached, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("dropmeta: read file metadata: %w", err)
	}

	record, err := DecodeFileMetadata(data)
	if err != nil {
		return nil, err
	}
	s.fileCache.Add(path, record)
	return record, nil
}

// DecodeDropMetadata runs the decode-and-verify-internal-consistency
// pipeline of spec §4.3: decode canonical form, recompute files_hash.
// It does not check the header signature; callers with a public-key
// resolver should follow up with VerifyHeaderSignature or call
// DecodeAndVerify directly.
func DecodeDropMetadata(data []byte) (*DropMetadata, error) {
	var record DropMetadata
	if err := canon.Decode(data, &record); err != nil {
		return nil, fmt.Errorf("dropmeta: decode drop metadata: %w", err)
	}
	if err := VerifyFilesHash(&record); err != nil {
		return nil, syncerr.Verification("files_hash mismatch on decode", err)
	}
	return &record, nil
}

// DecodeFileMetadata decodes canonical bytes into a FileMetadata and checks
// the chunk-count invariant (spec §8 invariant 3).
func DecodeFileMetadata(data []byte) (*FileMetadata, error) {
	var record FileMetadata
	if err := canon.Decode(data, &record); err != nil {
		return nil, fmt.Errorf("dropmeta: decode file metadata: %w", err)
	}
	if want := record.NumChunks(); want != len(record.Chunks) {
		return nil, syncerr.Verification(
			fmt.Sprintf("chunk count mismatch: have %d, want %d", len(record.Chunks), want), nil)
	}
	return &record, nil
}

// DecodeAndVerify runs the full decode pipeline including header-signature
// verification against pub, the third decode-pipeline step of spec §4.3.
func DecodeAndVerify(data []byte, pub *crypto.PublicKey) (*DropMetadata, error) {
	record, err := DecodeDropMetadata(data)
	if err != nil {
		return nil, err
	}
	if err := VerifyHeaderSignature(record, pub); err != nil {
		return nil, syncerr.Verification("header signature mismatch on decode", err)
	}
	return record, nil
}
