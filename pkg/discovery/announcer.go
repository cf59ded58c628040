package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/5yncr/syncr/internal/logging"
	"github.com/5yncr/syncr/pkg/constants"
	"github.com/5yncr/syncr/pkg/dropmeta"
)

// Announcer republishes this node's peer entry for every locally-served
// drop every TTL/2 - 1 seconds until stopped (spec §4.4 "An announcer
// background task writes the current node's peer entry for every local
// drop every TTL/2 - 1 seconds until shutdown").
type Announcer struct {
	mu     sync.RWMutex
	dps    DropPeerStore
	self   PeerEntry
	drops  func() []dropmeta.DropID
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAnnouncer builds an announcer that advertises self as a server for
// every drop ID returned by localDrops, via dps.
func NewAnnouncer(dps DropPeerStore, self PeerEntry, localDrops func() []dropmeta.DropID) *Announcer {
	return &Announcer{dps: dps, self: self, drops: localDrops}
}

// Start begins the refresh loop. It is an error to call Start twice
// without an intervening Stop.
func (a *Announcer) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	go a.loop(runCtx)
}

// Stop signals the refresh loop to exit and waits briefly for it to do so.
func (a *Announcer) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	done := a.done
	a.cancel = nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
	}
}

func (a *Announcer) loop(ctx context.Context) {
	defer close(a.done)

	log := logging.Named("discovery.announcer")
	interval := constants.PeerAvailabilityTTL/2 - time.Second
	if interval <= 0 {
		interval = time.Second
	}

	a.announceAll(ctx, log)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.announceAll(ctx, log)
		}
	}
}

func (a *Announcer) announceAll(ctx context.Context, log *slog.Logger) {
	for _, dropID := range a.drops() {
		if err := a.dps.Announce(ctx, dropID, a.self); err != nil {
			log.Warn("announce failed", "drop_id", dropID.Base64(), "error", err)
		}
	}
}
