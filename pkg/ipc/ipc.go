// Package ipc implements the local frontend/control boundary of spec
// §4.8/§6.6: a local-only request/response server accepting
// canonical-encoded maps with an "action" key, dispatching to
// pkg/sync.Orchestrator calls. Holds no state of its own.
//
// Grounded on pkg/wire.Serve's one-request-per-connection discipline
// (read to EOF, dispatch, write, close) and its per-connection-goroutine
// accept loop, generalized from the wire protocol's {status, response,
// error} shape to the {status, result, message} shape spec §4.8 names
// for local callers.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"

	"github.com/5yncr/syncr/internal/logging"
	"github.com/5yncr/syncr/pkg/canon"
	"github.com/5yncr/syncr/pkg/crypto"
	"github.com/5yncr/syncr/pkg/dropmeta"
	syncpkg "github.com/5yncr/syncr/pkg/sync"
	"github.com/5yncr/syncr/pkg/syncerr"
)

// Request is the canonical-encoded envelope every IPC call sends.
type Request struct {
	Action      string                 `cbor:"action"`
	DropID      dropmeta.DropID        `cbor:"drop_id"`
	Root        string                 `cbor:"root,omitempty"`
	Version     *dropmeta.Version      `cbor:"version,omitempty"`
	AddOwner    *crypto.NodeID         `cbor:"add_owner,omitempty"`
	RemoveOwner *crypto.NodeID         `cbor:"remove_owner,omitempty"`
	Params      map[string]interface{} `cbor:"params,omitempty"`
}

// Response is the canonical-encoded envelope every IPC call receives back
// (spec §4.8 "{status, result, message, ...}").
type Response struct {
	Status  string      `cbor:"status"`
	Result  interface{} `cbor:"result,omitempty"`
	Message string      `cbor:"message,omitempty"`
}

// Server dispatches IPC actions to an Orchestrator. It carries no state of
// its own beyond the reference needed to reach one and the local node's
// own identity, needed to sign new drop versions (spec §4.8).
type Server struct {
	orch *syncpkg.Orchestrator
	self crypto.NodeID
	priv *crypto.PrivateKey
}

// New builds an IPC server fronting orch. priv/self are this node's own
// keypair, used only to sign new_version calls on the caller's behalf.
func New(orch *syncpkg.Orchestrator, priv *crypto.PrivateKey, self crypto.NodeID) *Server {
	return &Server{orch: orch, priv: priv, self: self}
}

// Serve accepts connections on ln until ctx is cancelled, handling each one
// in its own goroutine (spec §4.8 "one request/response per connection").
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
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
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn runs the one-request-per-connection discipline of spec §6.3,
// retargeted to the local action/result shape: read the request to EOF,
// dispatch, write the response, close.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := logging.Named("ipc.server")

	reqData, err := io.ReadAll(conn)
	if err != nil {
		log.Warn("failed to read IPC request", "error", err)
		return
	}

	var req Request
	var resp *Response
	if err := canon.Decode(reqData, &req); err != nil {
		resp = &Response{Status: "error", Message: "malformed request: " + err.Error()}
	} else {
		resp = s.dispatch(ctx, &req)
	}

	respData, err := canon.Encode(resp)
	if err != nil {
		log.Warn("failed to encode IPC response", "error", err)
		return
	}
	if _, err := conn.Write(respData); err != nil {
		log.Warn("failed to write IPC response", "error", err)
	}
}

func (s *Server) dispatch(ctx context.Context, req *Request) *Response {
	switch req.Action {
	case "list_drops":
		return s.handleListDrops()
	case "init_drop":
		return s.handleInitDrop(req)
	case "sync_drop":
		return s.handleSyncDrop(ctx, req)
	case "queue_sync":
		return s.handleQueueSync(req)
	case "check_for_changes":
		return s.handleCheckForChanges(req)
	case "check_for_update":
		return s.handleCheckForUpdate(ctx, req)
	case "check_drop":
		return s.handleCheckDrop(ctx, req)
	case "new_version":
		return s.handleNewVersion(req)
	case "delete_drop":
		return s.handleDeleteDrop(req)
	default:
		return errorResponse(syncerr.New(syncerr.KindUnsupportedOption, "unknown action "+req.Action, nil))
	}
}

func (s *Server) handleListDrops() *Response {
	ids, err := s.orch.ListDrops()
	if err != nil {
		return errorResponse(err)
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, id.Base64())
	}
	return &Response{Status: "ok", Result: names}
}

func (s *Server) handleInitDrop(req *Request) *Response {
	var patterns []string
	if raw, ok := req.Params["ignore_patterns"].([]interface{}); ok {
		for _, p := range raw {
			if str, ok := p.(string); ok {
				patterns = append(patterns, str)
			}
		}
	}
	name, _ := req.Params["name"].(string)
	if name == "" {
		name = filepath.Base(req.Root)
	}
	record, err := s.orch.InitDrop(req.Root, s.priv, s.self, name, patterns)
	if err != nil {
		return errorResponse(err)
	}
	return &Response{Status: "ok", Result: map[string]interface{}{
		"drop_id": record.DropID.Base64(),
	}}
}

func (s *Server) handleSyncDrop(ctx context.Context, req *Request) *Response {
	done, err := s.orch.SyncDrop(ctx, req.DropID, req.Root, req.Version)
	if err != nil {
		return errorResponse(err)
	}
	return &Response{Status: "ok", Result: map[string]interface{}{"done": done}}
}

func (s *Server) handleQueueSync(req *Request) *Response {
	if err := s.orch.QueueSync(req.DropID, req.Root, req.Version); err != nil {
		return errorResponse(err)
	}
	return &Response{Status: "ok"}
}

func (s *Server) handleCheckForChanges(req *Request) *Response {
	var patterns []string
	if raw, ok := req.Params["ignore_patterns"].([]interface{}); ok {
		for _, p := range raw {
			if str, ok := p.(string); ok {
				patterns = append(patterns, str)
			}
		}
	}
	cs, err := s.orch.CheckForChanges(req.DropID, req.Root, patterns)
	if err != nil {
		return errorResponse(err)
	}
	return &Response{Status: "ok", Result: cs}
}

func (s *Server) handleCheckForUpdate(ctx context.Context, req *Request) *Response {
	metadata, isNewer, err := s.orch.CheckForUpdate(ctx, req.DropID, req.Root)
	if err != nil {
		return errorResponse(err)
	}
	return &Response{Status: "ok", Result: map[string]interface{}{
		"is_newer": isNewer,
		"metadata": metadata,
	}}
}

func (s *Server) handleCheckDrop(ctx context.Context, req *Request) *Response {
	complete, err := s.orch.CheckDrop(ctx, req.DropID, req.Root)
	if err != nil {
		return errorResponse(err)
	}
	return &Response{Status: "ok", Result: map[string]interface{}{"complete": complete}}
}

func (s *Server) handleNewVersion(req *Request) *Response {
	var patterns []string
	if raw, ok := req.Params["ignore_patterns"].([]interface{}); ok {
		for _, p := range raw {
			if str, ok := p.(string); ok {
				patterns = append(patterns, str)
			}
		}
	}
	next, err := s.orch.MakeNewVersion(req.DropID, req.Root, s.priv, s.self, patterns, req.AddOwner, req.RemoveOwner)
	if err != nil {
		return errorResponse(err)
	}
	return &Response{Status: "ok", Result: next}
}

func (s *Server) handleDeleteDrop(req *Request) *Response {
	if err := s.orch.DeleteDrop(req.DropID); err != nil {
		return errorResponse(err)
	}
	return &Response{Status: "ok"}
}

// errorResponse maps an orchestrator error to a {status: "error"} response,
// carrying the syncerr.Kind when available so local callers can branch on
// it the way wire callers branch on a response's error code.
func errorResponse(err error) *Response {
	kind := "EXCEPTION"
	var se *syncerr.Error
	if errors.As(err, &se) {
		kind = string(se.Kind)
	}
	return &Response{Status: "error", Message: fmt.Sprintf("%s: %v", kind, err)}
}
