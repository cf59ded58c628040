package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/5yncr/syncr/pkg/canon"
	"github.com/5yncr/syncr/pkg/constants"
	"github.com/5yncr/syncr/pkg/crypto"
	"github.com/5yncr/syncr/pkg/dropmeta"
)

// DHT is the black-box Kademlia-style key/value store the bootstrap DHT
// implementation provides (spec §2 "used as a black-box key/value store").
// Grounded on content.DHTInterface in the teacher.
type DHT interface {
	Put(ctx context.Context, key []byte, value []byte) error
	Get(ctx context.Context, key []byte) ([]byte, error)
}

// peerListTag prefixes DHT values that hold a canonical-encoded peer list
// (spec §6.5 "type:peerlist ‖ canonical-encoded list").
const peerListTag = "type:peerlist"

// announcement is one timestamped entry in a peer list record. Concurrent
// writers under the same drop-ID key union their announcements rather
// than overwrite each other (spec §4.4, §6.5), the same union-not-replace
// discipline as content.ContentProvider's provide records.
type announcement struct {
	Entry     PeerEntry `cbor:"entry"`
	Timestamp int64     `cbor:"timestamp"`
}

type dhtStore struct {
	dht DHT
	ttl time.Duration
}

// NewDHTStore builds a PublicKeyStore+DropPeerStore backed by dht, using
// the default availability TTL of spec §4.4 (300s).
func NewDHTStore(dht DHT) *dhtStore {
	return &dhtStore{dht: dht, ttl: constants.PeerAvailabilityTTL}
}

func keyDHTPublicKey(node crypto.NodeID) []byte {
	return append([]byte("pubkey:"), node[:]...)
}

func keyDHTPeerList(dropID dropmeta.DropID) []byte {
	return append([]byte("peers:"), dropID[:]...)
}

// SetKey stores pub's DER bytes under the node's own key (spec §6.5 "value
// = raw public key bytes").
func (s *dhtStore) SetKey(ctx context.Context, pub *crypto.PublicKey) error {
	der, err := pub.DumpPublic()
	if err != nil {
		return err
	}
	node, err := pub.NodeID()
	if err != nil {
		return err
	}
	if err := s.dht.Put(ctx, keyDHTPublicKey(node), der); err != nil {
		return fmt.Errorf("discovery: publish public key: %w", err)
	}
	return nil
}

func (s *dhtStore) RequestKey(ctx context.Context, node crypto.NodeID) (*crypto.PublicKey, bool, error) {
	data, err := s.dht.Get(ctx, keyDHTPublicKey(node))
	if err != nil {
		return nil, false, fmt.Errorf("discovery: look up public key: %w", err)
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	pub, err := crypto.LoadPublic(data)
	if err != nil {
		return nil, false, fmt.Errorf("discovery: parse public key: %w", err)
	}
	return pub, true, nil
}

// Announce unions self's announcement into dropID's peer list (spec §6.5
// "concurrent writes under the same drop-ID key are unioned by the
// storage layer, not overwritten").
func (s *dhtStore) Announce(ctx context.Context, dropID dropmeta.DropID, self PeerEntry) error {
	key := keyDHTPeerList(dropID)

	existing, err := s.readAnnouncements(ctx, key)
	if err != nil {
		return err
	}

	merged := make([]announcement, 0, len(existing)+1)
	now := nowFunc()
	for _, a := range existing {
		if a.Entry.NodeID.Equal(self.NodeID) {
			continue
		}
		merged = append(merged, a)
	}
	merged = append(merged, announcement{Entry: self, Timestamp: now})

	return s.writeAnnouncements(ctx, key, merged)
}

// RequestPeers returns the union of announcements for dropID that have not
// expired under the availability TTL (spec §4.4, §8 invariant 8).
func (s *dhtStore) RequestPeers(ctx context.Context, dropID dropmeta.DropID) ([]PeerEntry, error) {
	announcements, err := s.readAnnouncements(ctx, keyDHTPeerList(dropID))
	if err != nil {
		return nil, err
	}

	now := nowFunc()
	var peers []PeerEntry
	for _, a := range announcements {
		if now-a.Timestamp < int64(s.ttl/time.Second) {
			peers = append(peers, a.Entry)
		}
	}
	return peers, nil
}

func (s *dhtStore) readAnnouncements(ctx context.Context, key []byte) ([]announcement, error) {
	data, err := s.dht.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("discovery: read peer list: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < len(peerListTag) || string(data[:len(peerListTag)]) != peerListTag {
		return nil, fmt.Errorf("discovery: peer list value missing %q tag", peerListTag)
	}

	var announcements []announcement
	if err := canon.Decode(data[len(peerListTag):], &announcements); err != nil {
		return nil, fmt.Errorf("discovery: decode peer list: %w", err)
	}
	return announcements, nil
}

func (s *dhtStore) writeAnnouncements(ctx context.Context, key []byte, announcements []announcement) error {
	encoded, err := canon.Encode(announcements)
	if err != nil {
		return fmt.Errorf("discovery: encode peer list: %w", err)
	}
	value := append([]byte(peerListTag), encoded...)
	if err := s.dht.Put(ctx, key, value); err != nil {
		return fmt.Errorf("discovery: write peer list: %w", err)
	}
	return nil
}

// nowFunc is a seam for tests; production code always uses wall-clock time.
var nowFunc = func() int64 { return time.Now().Unix() }
