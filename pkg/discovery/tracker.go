package discovery

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/5yncr/syncr/pkg/canon"
	"github.com/5yncr/syncr/pkg/crypto"
	"github.com/5yncr/syncr/pkg/dropmeta"
	"github.com/5yncr/syncr/pkg/syncerr"
)

// Tracker request types (spec §4.4/§6.4).
const (
	trackerGetKey   = 1
	trackerPostKey  = 2
	trackerGetPeers = 3
	trackerPostPeer = 4
)

// trackerRequest is the canonical map sent to the tracker (spec §6.4
// "request_type (int), node_id or drop_id, data").
type trackerRequest struct {
	RequestType int    `cbor:"request_type"`
	NodeID      []byte `cbor:"node_id,omitempty"`
	DropID      []byte `cbor:"drop_id,omitempty"`
	Data        []byte `cbor:"data,omitempty"`
}

// trackerResponse is the tracker's reply (spec §6.4 "{result, message, data}").
type trackerResponse struct {
	Result  string `cbor:"result"`
	Message string `cbor:"message"`
	Data    []byte `cbor:"data,omitempty"`
}

// trackerStore implements PublicKeyStore and DropPeerStore against a
// single long-lived tracker server, grounded on the teacher's TCP dial
// idiom (pkg/transport/tcp) simplified to plain TCP, since the tracker
// wire contract carries no transport-level encryption of its own.
type trackerStore struct {
	addr    string
	timeout time.Duration
}

// NewTrackerStore builds a discovery backend addressed at host:port.
func NewTrackerStore(host string, port int) *trackerStore {
	return &trackerStore{addr: net.JoinHostPort(host, fmt.Sprintf("%d", port)), timeout: 10 * time.Second}
}

func (t *trackerStore) roundTrip(req *trackerRequest) (*trackerResponse, error) {
	conn, err := net.DialTimeout("tcp", t.addr, t.timeout)
	if err != nil {
		return nil, syncerr.NetworkTimeout(fmt.Sprintf("dial tracker %s", t.addr), err)
	}
	defer conn.Close()

	data, err := canon.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("discovery: encode tracker request: %w", err)
	}
	if _, err := conn.Write(data); err != nil {
		return nil, syncerr.NetworkTimeout(fmt.Sprintf("write to tracker %s", t.addr), err)
	}
	if halfCloser, ok := conn.(interface{ CloseWrite() error }); ok {
		_ = halfCloser.CloseWrite()
	}

	respData, err := io.ReadAll(conn)
	if err != nil {
		return nil, syncerr.NetworkTimeout(fmt.Sprintf("read from tracker %s", t.addr), err)
	}

	var resp trackerResponse
	if err := canon.Decode(respData, &resp); err != nil {
		return nil, fmt.Errorf("discovery: decode tracker response: %w", err)
	}
	if resp.Result != "OK" {
		return &resp, syncerr.PeerStoreFailure(resp.Message, nil)
	}
	return &resp, nil
}

func (t *trackerStore) SetKey(_ context.Context, pub *crypto.PublicKey) error {
	der, err := pub.DumpPublic()
	if err != nil {
		return err
	}
	node, err := pub.NodeID()
	if err != nil {
		return err
	}
	_, err = t.roundTrip(&trackerRequest{RequestType: trackerPostKey, NodeID: node[:], Data: der})
	return err
}

func (t *trackerStore) RequestKey(_ context.Context, node crypto.NodeID) (*crypto.PublicKey, bool, error) {
	resp, err := t.roundTrip(&trackerRequest{RequestType: trackerGetKey, NodeID: node[:]})
	if err != nil {
		if syncerr.Is(err, syncerr.KindPeerStore) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if len(resp.Data) == 0 {
		return nil, false, nil
	}
	pub, err := crypto.LoadPublic(resp.Data)
	if err != nil {
		return nil, false, fmt.Errorf("discovery: parse tracker public key: %w", err)
	}
	return pub, true, nil
}

func (t *trackerStore) Announce(_ context.Context, dropID dropmeta.DropID, self PeerEntry) error {
	data, err := canon.Encode(self)
	if err != nil {
		return fmt.Errorf("discovery: encode peer entry: %w", err)
	}
	_, err = t.roundTrip(&trackerRequest{RequestType: trackerPostPeer, DropID: dropID[:], Data: data})
	return err
}

func (t *trackerStore) RequestPeers(_ context.Context, dropID dropmeta.DropID) ([]PeerEntry, error) {
	resp, err := t.roundTrip(&trackerRequest{RequestType: trackerGetPeers, DropID: dropID[:]})
	if err != nil {
		if syncerr.Is(err, syncerr.KindPeerStore) {
			return nil, nil
		}
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	var peers []PeerEntry
	if err := canon.Decode(resp.Data, &peers); err != nil {
		return nil, fmt.Errorf("discovery: decode tracker peer list: %w", err)
	}
	return peers, nil
}
