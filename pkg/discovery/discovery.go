// Package discovery implements the pluggable peer/key discovery
// abstraction of spec §4.4: a Public Key Store (PKS) and Drop Peer Store
// (DPS), each with tracker and DHT backend implementations.
package discovery

import (
	"context"

	"github.com/5yncr/syncr/pkg/crypto"
	"github.com/5yncr/syncr/pkg/dropmeta"
)

// PublicKeyStore resolves and publishes node public keys (spec §4.4).
type PublicKeyStore interface {
	// SetKey publishes the current node's public key.
	SetKey(ctx context.Context, pub *crypto.PublicKey) error

	// RequestKey resolves a peer's public key, or (nil, false) if unknown.
	RequestKey(ctx context.Context, node crypto.NodeID) (*crypto.PublicKey, bool, error)
}

// PeerEntry is one candidate serving a drop (spec §4.4 "request_peers(drop_id)
// -> [(node_id, ip, port)]").
type PeerEntry struct {
	NodeID crypto.NodeID `cbor:"node_id"`
	IP     string        `cbor:"ip"`
	Port   int           `cbor:"port"`
}

// DropPeerStore advertises and resolves which nodes currently serve a drop
// (spec §4.4).
type DropPeerStore interface {
	// Announce advertises that this node currently serves dropID.
	Announce(ctx context.Context, dropID dropmeta.DropID, self PeerEntry) error

	// RequestPeers returns the current candidates serving dropID.
	RequestPeers(ctx context.Context, dropID dropmeta.DropID) ([]PeerEntry, error)
}
