// Package server implements the request handler of spec §4.6: a TCP
// listener that dispatches incoming peer requests against the local drop
// store and file I/O layer.
//
// Grounded on control.Server's Serve accept-loop (pkg/control/api.go),
// adapted from a JSON-over-net.Conn control channel to the one-request-
// per-connection wire.Serve discipline of spec §6.3.
package server

import (
	"context"
	"fmt"
	"net"

	"github.com/5yncr/syncr/internal/logging"
	"github.com/5yncr/syncr/pkg/constants"
	"github.com/5yncr/syncr/pkg/dropmeta"
	"github.com/5yncr/syncr/pkg/fileio"
	"github.com/5yncr/syncr/pkg/syncerr"
	"github.com/5yncr/syncr/pkg/wire"
)

// Server answers inbound peer requests against the local registry and
// metadata store (spec §4.6). It performs no signature verification on
// outgoing metadata; the client verifies on decode.
type Server struct {
	registry *dropmeta.Registry
	store    *dropmeta.Store
}

// New builds a Server backed by registry and store.
func New(registry *dropmeta.Registry, store *dropmeta.Store) *Server {
	return &Server{registry: registry, store: store}
}

// Serve accepts connections on ln until ctx is cancelled, handling each on
// its own goroutine (spec §4.6, grounded on control.Server.Serve).
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	log := logging.Named("server")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				log.Warn("accept failed", "error", err)
				continue
			}
		}
		go func() {
			if err := wire.Serve(conn, s.handle); err != nil {
				log.Warn("request handling failed", "error", err)
			}
		}()
	}
}

func (s *Server) handle(req *wire.Request) (interface{}, error) {
	switch req.RequestType {
	case wire.DropMetadataRequest:
		return s.handleDropMetadata(req)
	case wire.FileMetadataRequest:
		return s.handleFileMetadata(req)
	case wire.ChunkListRequest:
		return s.handleChunkList(req)
	case wire.ChunkRequest:
		return s.handleChunk(req)
	case wire.NewDropMetadataRequest:
		return s.handleNewDropMetadata(req)
	default:
		return nil, syncerr.New(syncerr.KindVerification, "unknown request type", nil)
	}
}

func (s *Server) saveDir(dropID dropmeta.DropID) (string, error) {
	root, ok, err := s.registry.Get(dropID)
	if err != nil {
		return "", fmt.Errorf("server: look up drop: %w", err)
	}
	if !ok {
		return "", syncerr.NotExist("drop unknown locally")
	}
	return root, nil
}

func (s *Server) handleDropMetadata(req *wire.Request) (interface{}, error) {
	root, err := s.saveDir(req.DropID)
	if err != nil {
		return nil, err
	}

	record, err := s.store.ReadDropMetadata(req.DropID, root, req.Version)
	if err != nil {
		return nil, fmt.Errorf("server: read drop metadata: %w", err)
	}
	if record == nil {
		return nil, syncerr.NotExist("drop version not found")
	}
	if record.ProtocolVersion != constants.ProtocolVersion {
		return nil, syncerr.IncompatibleProtocol(
			fmt.Sprintf("protocol version %d unsupported", record.ProtocolVersion))
	}

	encoded, err := encodeDropMetadata(record)
	if err != nil {
		return nil, err
	}
	return wire.DropMetadataPayload{Record: encoded}, nil
}

func (s *Server) handleFileMetadata(req *wire.Request) (interface{}, error) {
	root, err := s.saveDir(req.DropID)
	if err != nil {
		return nil, err
	}

	record, err := s.store.ReadFileMetadata(req.FileID, root)
	if err != nil {
		return nil, fmt.Errorf("server: read file metadata: %w", err)
	}
	if record == nil {
		return nil, syncerr.NotExist("file not found in drop")
	}

	encoded, err := encodeFileMetadata(record)
	if err != nil {
		return nil, err
	}
	return wire.FileMetadataPayload{Record: encoded}, nil
}

func (s *Server) handleChunkList(req *wire.Request) (interface{}, error) {
	root, err := s.saveDir(req.DropID)
	if err != nil {
		return nil, err
	}

	fm, err := s.store.ReadFileMetadata(req.FileID, root)
	if err != nil {
		return nil, fmt.Errorf("server: read file metadata: %w", err)
	}
	if fm == nil {
		return nil, syncerr.NotExist("file not found in drop")
	}

	path := s.filePathFor(root, req)
	var indices []int
	for i := 0; i < fm.NumChunks(); i++ {
		_, hash, err := fileio.ReadChunk(path, i, fm.ChunkSize)
		if err != nil {
			continue
		}
		if hash == fm.Chunks[i] {
			indices = append(indices, i)
		}
	}
	return wire.ChunkListPayload{Indices: indices}, nil
}

func (s *Server) handleChunk(req *wire.Request) (interface{}, error) {
	root, err := s.saveDir(req.DropID)
	if err != nil {
		return nil, err
	}
	if req.Index == nil {
		return nil, syncerr.New(syncerr.KindVerification, "chunk request missing index", nil)
	}

	fm, err := s.store.ReadFileMetadata(req.FileID, root)
	if err != nil {
		return nil, fmt.Errorf("server: read file metadata: %w", err)
	}
	if fm == nil {
		return nil, syncerr.NotExist("file not found in drop")
	}
	if *req.Index < 0 || *req.Index >= fm.NumChunks() {
		return nil, syncerr.NotExist("chunk index out of range")
	}

	path := s.filePathFor(root, req)
	data, hash, err := fileio.ReadChunk(path, *req.Index, fm.ChunkSize)
	if err != nil {
		return nil, syncerr.NotExist("chunk not yet downloaded")
	}
	if hash != fm.Chunks[*req.Index] {
		return nil, syncerr.NotExist("chunk not yet downloaded")
	}
	return wire.ChunkPayload{Bytes: data}, nil
}

// handleNewDropMetadata is reserved but not implemented (spec §4.5,
// entry 5): log and report NEXIST rather than silently ignore.
func (s *Server) handleNewDropMetadata(req *wire.Request) (interface{}, error) {
	logging.Named("server").Info("received reserved NEW_DROP_METADATA request, ignoring",
		"drop_id", req.DropID.Base64())
	return nil, syncerr.NotExist("NEW_DROP_METADATA is reserved and not implemented")
}
