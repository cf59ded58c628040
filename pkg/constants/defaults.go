// Package constants defines the cross-cutting default values of spec §3-5:
// chunk sizing, discovery TTLs, and the concurrency bounds of the sync
// orchestrator.
package constants

import "time"

// Protocol configuration.
const (
	// ProtocolVersion is the wire/storage format version this build speaks.
	ProtocolVersion = 1

	// DefaultPort is the default TCP port for the peer wire protocol and
	// tracker backend.
	DefaultPort = 27845

	// TextEncoding is the encoding of on-disk path and drop-name strings.
	TextEncoding = "utf-8"
)

// Chunking (spec §3 "chunk_size is fixed per file (default 8 MiB)").
const (
	DefaultChunkSize = 8 * 1024 * 1024
)

// Discovery (spec §4.4 "reads filter out entries older than the
// availability TTL (default 300 s)").
const (
	PeerAvailabilityTTL = 300 * time.Second
)

// Sync orchestrator concurrency bounds (spec §4.7.1/§4.7.3/§5).
const (
	MaxConcurrentFileDownloads  = 4
	MaxConcurrentChunkDownloads = 8
	MaxChunksPerPeer            = 8
	SyncQueueConcurrency        = 4
	SyncQueueCapacity           = 64
)

// SyncQueueCooldown is how long process_sync_queue waits before
// re-enqueueing a failed sync_drop (spec §4.7.4 "re-enqueues failed syncs
// after a cooldown").
const SyncQueueCooldown = 30 * time.Second
