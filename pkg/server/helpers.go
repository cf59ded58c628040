package server

import (
	"path/filepath"

	"github.com/5yncr/syncr/pkg/canon"
	"github.com/5yncr/syncr/pkg/dropmeta"
	"github.com/5yncr/syncr/pkg/wire"
)

func encodeDropMetadata(record *dropmeta.DropMetadata) ([]byte, error) {
	return canon.Encode(record)
}

func encodeFileMetadata(record *dropmeta.FileMetadata) ([]byte, error) {
	return canon.Encode(record)
}

// filePathFor resolves the on-disk path of the file named by req.FileID
// within root's current drop metadata. Any path returned to peers is the
// completed name; fileio resolves .part internally (spec §4.2). Falls back
// to the file ID itself if the drop's current metadata can't name a path,
// which simply yields a not-found read downstream.
func (s *Server) filePathFor(root string, req *wire.Request) string {
	drop, err := s.store.ReadDropMetadata(req.DropID, root, nil)
	if err != nil || drop == nil {
		return filepath.Join(root, req.FileID.Base64())
	}
	for path, id := range drop.Files {
		if id == req.FileID {
			return filepath.Join(root, path)
		}
	}
	return filepath.Join(root, req.FileID.Base64())
}
