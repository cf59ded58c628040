package discovery

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/5yncr/syncr/pkg/crypto"
	"github.com/5yncr/syncr/pkg/dropmeta"
)

type recordingDPS struct {
	mu    sync.Mutex
	calls []dropmeta.DropID
}

func (r *recordingDPS) Announce(_ context.Context, dropID dropmeta.DropID, _ PeerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, dropID)
	return nil
}

func (r *recordingDPS) RequestPeers(context.Context, dropmeta.DropID) ([]PeerEntry, error) {
	return nil, nil
}

func (r *recordingDPS) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestAnnouncerAnnouncesOnStart(t *testing.T) {
	dps := &recordingDPS{}
	var dropID dropmeta.DropID
	dropID[0] = 5

	var node crypto.NodeID
	a := NewAnnouncer(dps, PeerEntry{NodeID: node, IP: "127.0.0.1", Port: 9000}, func() []dropmeta.DropID {
		return []dropmeta.DropID{dropID}
	})

	a.Start(context.Background())
	defer a.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for dps.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if dps.count() == 0 {
		t.Fatalf("expected announcer to announce at least once on start")
	}
}

func TestAnnouncerStopEndsLoop(t *testing.T) {
	dps := &recordingDPS{}
	a := NewAnnouncer(dps, PeerEntry{}, func() []dropmeta.DropID { return nil })

	a.Start(context.Background())
	a.Stop()

	countAfterStop := dps.count()
	time.Sleep(50 * time.Millisecond)
	if dps.count() != countAfterStop {
		t.Fatalf("expected no further announcements after Stop")
	}
}
