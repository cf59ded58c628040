// Package wire implements the peer-to-peer request/response protocol of
// spec §4.5/§6.3: the canonical codec framed over a TCP connection, one
// request per connection, followed by half-close-write, then the response,
// then close.
//
// Grounded on the teacher's BaseFrame envelope (pkg/wire/frame.go),
// generalized from a signed gossip envelope to the spec's five request
// kinds, and on its Error type (pkg/wire/errors.go), generalized from
// Beenet's numeric error-code table to the spec's NEXIST/INCOMPAT/INVINPUT/
// EXCEPTION codes.
package wire

import (
	"github.com/5yncr/syncr/pkg/dropmeta"
)

// RequestType identifies one of the five peer-to-peer request kinds
// (spec §4.5).
type RequestType int

const (
	DropMetadataRequest    RequestType = 1
	FileMetadataRequest    RequestType = 2
	ChunkListRequest       RequestType = 3
	ChunkRequest           RequestType = 4
	NewDropMetadataRequest RequestType = 5
)

// Request is the canonical-encoded envelope sent for every request type;
// only the fields relevant to RequestType are populated by the caller.
type Request struct {
	RequestType RequestType       `cbor:"request_type"`
	DropID      dropmeta.DropID   `cbor:"drop_id"`
	FileID      dropmeta.FileID   `cbor:"file_id,omitempty"`
	Version     *dropmeta.Version `cbor:"version,omitempty"`
	Nonce       *uint64           `cbor:"nonce,omitempty"`
	Index       *int              `cbor:"index,omitempty"`
}

// Response is the canonical-encoded envelope every request receives back
// (spec §4.5 "{status: 'ok', response: ...} or {status: 'error', error: <code>}").
type Response struct {
	Status   string      `cbor:"status"`
	Response interface{} `cbor:"response,omitempty"`
	Error    string      `cbor:"error,omitempty"`
}

// DropMetadataPayload is the decoded response.Response for a
// DropMetadataRequest.
type DropMetadataPayload struct {
	Record []byte `cbor:"record"`
}

// FileMetadataPayload is the decoded response.Response for a
// FileMetadataRequest.
type FileMetadataPayload struct {
	Record []byte `cbor:"record"`
}

// ChunkListPayload is the decoded response.Response for a
// ChunkListRequest: the indices the server currently has locally.
type ChunkListPayload struct {
	Indices []int `cbor:"indices"`
}

// ChunkPayload is the decoded response.Response for a ChunkRequest.
type ChunkPayload struct {
	Bytes []byte `cbor:"bytes"`
}
