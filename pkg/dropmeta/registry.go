package dropmeta

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Registry is the central drop_id -> save_path mapping kept under the
// node-init directory (spec §4.3, §6.6), one file per entry.
type Registry struct {
	dir string
}

// NewRegistry opens the registry rooted at dir (typically
// "<node-init-dir>/drops").
func NewRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("dropmeta: create registry directory: %w", err)
	}
	return &Registry{dir: dir}, nil
}

func (r *Registry) entryPath(id DropID) string {
	return filepath.Join(r.dir, id.Base64())
}

// Put records savePath as the on-disk root for id, guarded by a flock on
// the entry file so concurrent registrations of the same drop serialize.
func (r *Registry) Put(id DropID, savePath string) error {
	path := r.entryPath(id)
	fl := flock.New(path + ".lock")
	if err := fl.Lock(); err != nil {
		return fmt.Errorf("dropmeta: lock registry entry: %w", err)
	}
	defer fl.Unlock()

	abs, err := filepath.Abs(savePath)
	if err != nil {
		return fmt.Errorf("dropmeta: resolve save path: %w", err)
	}
	if err := os.WriteFile(path, []byte(abs), 0644); err != nil {
		return fmt.Errorf("dropmeta: write registry entry: %w", err)
	}
	return nil
}

// Get resolves id's save path, returning ("", false, nil) if unregistered.
func (r *Registry) Get(id DropID) (string, bool, error) {
	data, err := os.ReadFile(r.entryPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("dropmeta: read registry entry: %w", err)
	}
	return string(data), true, nil
}

// Delete removes id's registry entry (spec §3 "Destroyed locally by
// delete: removes bookkeeping entry plus directory").
func (r *Registry) Delete(id DropID) error {
	path := r.entryPath(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("dropmeta: remove registry entry: %w", err)
	}
	_ = os.Remove(path + ".lock")
	return nil
}

// List returns the drop IDs currently registered.
func (r *Registry) List() ([]DropID, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("dropmeta: list registry: %w", err)
	}

	var ids []DropID
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) == ".lock" {
			continue
		}
		raw, err := base64DecodeDropID(e.Name())
		if err != nil {
			continue
		}
		ids = append(ids, raw)
	}
	return ids, nil
}
