package sync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/5yncr/syncr/internal/logging"
	"github.com/5yncr/syncr/pkg/constants"
	"github.com/5yncr/syncr/pkg/dropmeta"
	"github.com/5yncr/syncr/pkg/syncerr"
)

// syncJob is one pending SyncDrop call sitting in the orchestrator's
// bounded work queue.
type syncJob struct {
	dropID  dropmeta.DropID
	root    string
	version *dropmeta.Version
}

// QueueSync places a SyncDrop call into the bounded work queue, drained by
// ProcessSyncQueue's worker pool. Returns an error if the queue is full:
// a full queue means this node cannot currently keep up with the sync
// demand placed on it.
func (o *Orchestrator) QueueSync(dropID dropmeta.DropID, root string, version *dropmeta.Version) error {
	select {
	case o.queue <- syncJob{dropID: dropID, root: root, version: version}:
		return nil
	default:
		return syncerr.New(syncerr.KindPeerStore, "sync queue is full", nil)
	}
}

// ProcessSyncQueue drains the work queue with SyncQueueConcurrency workers
// until ctx is cancelled, re-enqueueing failed syncs after
// SyncQueueCooldown (spec §4.7.4 process_sync_queue). Grounded on
// agent.Supervisor's restart-with-backoff loop, retargeted from agent
// health checks to failed sync_drop calls.
func (o *Orchestrator) ProcessSyncQueue(ctx context.Context) {
	log := logging.Named("sync.queue")

	var wg sync.WaitGroup
	for i := 0; i < constants.SyncQueueConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-o.queue:
					o.runQueuedJob(ctx, log, job)
				}
			}
		}()
	}
	wg.Wait()
}

func (o *Orchestrator) runQueuedJob(ctx context.Context, log *slog.Logger, job syncJob) {
	done, err := o.SyncDrop(ctx, job.dropID, job.root, job.version)
	if err == nil && done {
		return
	}
	if err != nil {
		log.Warn("queued sync failed, re-enqueueing after cooldown",
			"drop_id", job.dropID.Base64(), "error", err)
	} else {
		log.Info("queued sync left chunks outstanding, re-enqueueing after cooldown",
			"drop_id", job.dropID.Base64())
	}

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(constants.SyncQueueCooldown):
		}
		select {
		case o.queue <- job:
		default:
		}
	}()
}
