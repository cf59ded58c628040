package wire

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/5yncr/syncr/pkg/canon"
	"github.com/5yncr/syncr/pkg/syncerr"
)

// DialTimeout bounds a single peer connection attempt.
const DialTimeout = 10 * time.Second

// Peer identifies one candidate to try a request against.
type Peer struct {
	NodeID string
	IP     string
	Port   int
}

func (p Peer) addr() string {
	return net.JoinHostPort(p.IP, fmt.Sprintf("%d", p.Port))
}

// Send performs the full client-side connection discipline of spec §6.3:
// dial, write the canonical-encoded request, half-close the write side,
// read the canonical-encoded response to EOF, close. Returns an error
// mapped from response.Error on a {status: "error"} reply.
func Send(peer Peer, req *Request) (*Response, error) {
	conn, err := net.DialTimeout("tcp", peer.addr(), DialTimeout)
	if err != nil {
		return nil, syncerr.NetworkTimeout(fmt.Sprintf("dial %s", peer.addr()), err)
	}
	defer conn.Close()

	data, err := canon.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("wire: encode request: %w", err)
	}

	if _, err := conn.Write(data); err != nil {
		return nil, syncerr.NetworkTimeout(fmt.Sprintf("write to %s", peer.addr()), err)
	}

	if halfCloser, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := halfCloser.CloseWrite(); err != nil {
			return nil, fmt.Errorf("wire: half-close write: %w", err)
		}
	}

	respData, err := io.ReadAll(conn)
	if err != nil {
		return nil, syncerr.NetworkTimeout(fmt.Sprintf("read from %s", peer.addr()), err)
	}

	var resp Response
	if err := canon.Decode(respData, &resp); err != nil {
		return nil, fmt.Errorf("wire: decode response: %w", err)
	}

	if resp.Status == "error" {
		return &resp, ErrorFromCode(resp.Error, resp.Error)
	}
	return &resp, nil
}

// DoRequest calls fn(peer) against each peer in order, returning the first
// successful result. It fails with syncerr.NoPeers if peers is empty, and
// re-raises the last error if every peer fails (spec §4.5 do_request).
func DoRequest[T any](peers []Peer, fn func(Peer) (T, error)) (T, error) {
	var zero T
	if len(peers) == 0 {
		return zero, syncerr.NoPeers("no peers available for request")
	}

	var lastErr error
	for _, peer := range peers {
		result, err := fn(peer)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return zero, lastErr
}
