// Package fileio implements the chunked, random-access file I/O layer of
// spec §4.2: files under construction carry a ".part" suffix, writes are
// hash-verified per chunk, and completion is an atomic rename.
//
// Grounded on the teacher's transport Conn/Listener scoped-resource idiom
// (acquire, defer release) and on content.ChunkFile/ReconstructFile,
// generalized here to random-access rather than sequential chunking.
package fileio

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gofrs/flock"

	"github.com/5yncr/syncr/pkg/crypto"
	"github.com/5yncr/syncr/pkg/syncerr"
)

// PartSuffix is the suffix carried by files under construction (spec §4.2).
const PartSuffix = ".part"

// MetadataDirName is the built-in ignore entry unioned into every walk
// (spec §4.2 "built-in ignore set (the metadata directory)").
const MetadataDirName = ".5yncr"

// pathLock is one path's write lock: a sync.Mutex serializing goroutines
// within this process, guarding a gofrs/flock file lock that does the same
// across processes. flock.Lock on an already-held handle returns
// immediately rather than blocking, so the in-process mutex is load-bearing
// on its own, not redundant with the file lock.
type pathLock struct {
	mu *sync.Mutex
	fl *flock.Flock
}

// Unlock releases the file lock, then the in-process mutex.
func (p *pathLock) Unlock() {
	p.fl.Unlock()
	p.mu.Unlock()
}

// lockRegistry serializes concurrent writers to the same path (spec §4.2
// "a per-path lock serializes concurrent writers"), caching one pathLock
// per path so repeated callers share the same mutex and file-lock handle.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*pathLock
}

var locks = &lockRegistry{locks: make(map[string]*pathLock)}

func (r *lockRegistry) acquire(path string) (*pathLock, error) {
	r.mu.Lock()
	pl, ok := r.locks[path]
	if !ok {
		// The lock file lives in the metadata directory beside path, which
		// WalkWithIgnore always skips, so it is never listed as a drop file.
		lockPath := filepath.Join(filepath.Dir(path), MetadataDirName, filepath.Base(path)+".lock")
		pl = &pathLock{mu: &sync.Mutex{}, fl: flock.New(lockPath)}
		r.locks[path] = pl
	}
	r.mu.Unlock()

	pl.mu.Lock()
	if err := os.MkdirAll(filepath.Dir(pl.fl.Path()), 0755); err != nil {
		pl.mu.Unlock()
		return nil, fmt.Errorf("fileio: create lock directory for %s: %w", path, err)
	}
	if err := pl.fl.Lock(); err != nil {
		pl.mu.Unlock()
		return nil, fmt.Errorf("fileio: acquire lock for %s: %w", path, err)
	}
	return pl, nil
}

// CreateFile prepares path for a write: if a completed file already exists
// it is demoted to path+.part (an update is starting); otherwise a fresh
// sparse .part file of exactly length bytes is created (spec §4.2).
func CreateFile(path string, length int64) error {
	fl, err := locks.acquire(path)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("fileio: create parent directory: %w", err)
	}

	partPath := path + PartSuffix

	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, partPath); err != nil {
			return fmt.Errorf("fileio: demote completed file to part: %w", err)
		}
		return truncateTo(partPath, length)
	}

	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("fileio: create part file: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(length); err != nil {
		return fmt.Errorf("fileio: allocate part file: %w", err)
	}
	return nil
}

func truncateTo(path string, length int64) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return fmt.Errorf("fileio: open part file: %w", err)
	}
	defer f.Close()
	if err := f.Truncate(length); err != nil {
		return fmt.Errorf("fileio: truncate part file: %w", err)
	}
	return nil
}

// WriteChunk verifies hash(bytes) == expectedHash and, on success, writes
// bytes at index*chunkSize into path's .part file. Fails with a
// syncerr.Verification error (VerificationException in spec terms) without
// touching the file if the hash does not match.
func WriteChunk(path string, index int, data []byte, expectedHash [32]byte, chunkSize int64) error {
	actual := crypto.Hash(data)
	if actual != expectedHash {
		return syncerr.Verification(fmt.Sprintf("chunk %d hash mismatch for %s", index, path), nil)
	}

	fl, err := locks.acquire(path)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	partPath := path + PartSuffix
	f, err := os.OpenFile(partPath, os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("fileio: open part file for write: %w", err)
	}
	defer f.Close()

	offset := int64(index) * chunkSize
	if _, err := f.WriteAt(data, offset); err != nil {
		return fmt.Errorf("fileio: write chunk %d: %w", index, err)
	}
	return nil
}

// ReadChunk reads at most chunkSize bytes at index from the completed file
// if one exists, otherwise from its .part file, and returns the bytes
// together with their hash.
func ReadChunk(path string, index int, chunkSize int64) ([]byte, [32]byte, error) {
	readPath := path
	if _, err := os.Stat(path); err != nil {
		readPath = path + PartSuffix
		if _, err := os.Stat(readPath); err != nil {
			return nil, [32]byte{}, syncerr.NotExist(fmt.Sprintf("no file or part file at %s", path))
		}
	}

	f, err := os.Open(readPath)
	if err != nil {
		return nil, [32]byte{}, fmt.Errorf("fileio: open for read: %w", err)
	}
	defer f.Close()

	buf := make([]byte, chunkSize)
	n, err := f.ReadAt(buf, int64(index)*chunkSize)
	if err != nil && err != io.EOF {
		return nil, [32]byte{}, fmt.Errorf("fileio: read chunk %d: %w", index, err)
	}
	buf = buf[:n]
	return buf, crypto.Hash(buf), nil
}

// MarkComplete atomically renames path.part to path. Idempotent: if path is
// already complete and no .part file remains, it is a no-op.
func MarkComplete(path string) error {
	fl, err := locks.acquire(path)
	if err != nil {
		return err
	}
	defer fl.Unlock()

	partPath := path + PartSuffix
	if _, err := os.Stat(partPath); err != nil {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		return syncerr.NotExist(fmt.Sprintf("neither %s nor its part file exists", path))
	}
	if err := os.Rename(partPath, path); err != nil {
		return fmt.Errorf("fileio: mark complete: %w", err)
	}
	return nil
}

// IsComplete reports true if path exists, false if only path.part exists,
// and fails with syncerr.NotExist otherwise.
func IsComplete(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return true, nil
	}
	if _, err := os.Stat(path + PartSuffix); err == nil {
		return false, nil
	}
	return false, syncerr.NotExist(fmt.Sprintf("neither %s nor its part file exists", path))
}

// Entry is one file discovered by WalkWithIgnore.
type Entry struct {
	RelDir   string
	Filename string
}

// WalkWithIgnore walks root, yielding (relative_dir, filename) for every
// regular file whose path does not match any glob in patterns or the
// built-in metadata-directory ignore (spec §4.2).
func WalkWithIgnore(root string, patterns []string) ([]Entry, error) {
	all := append([]string{filepath.Join("**", MetadataDirName, "**"), MetadataDirName + "/**"}, patterns...)

	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if ignored(rel+"/", all) {
				return filepath.SkipDir
			}
			return nil
		}
		if ignored(rel, all) {
			return nil
		}

		relDir := filepath.ToSlash(filepath.Dir(rel))
		if relDir == "." {
			relDir = ""
		}
		entries = append(entries, Entry{RelDir: relDir, Filename: filepath.Base(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fileio: walk %s: %w", root, err)
	}
	return entries, nil
}

func ignored(rel string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, filepath.Base(rel)); ok {
			return true
		}
	}
	return false
}
