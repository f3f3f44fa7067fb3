// Package core wires the store, WAL, segment engine, and placement router
// into one library-level instance with a single-writer/many-reader
// discipline: every mutation and every read needing a consistent view
// acquires one exclusive lock, per spec.md §5. Four independent timers
// (WAL flush, segment maintenance, placement reload, follower pull) take
// the same lock on their own schedules, generalizing the teacher's
// internal/ratelimit.Bucket refill-timer idiom to four loops.
package core

import (
	"sync"
	"time"

	"github.com/dashlabs/dash/internal/domain"
	"github.com/dashlabs/dash/internal/graph"
	"github.com/dashlabs/dash/internal/placement"
	"github.com/dashlabs/dash/internal/retrieval"
	"github.com/dashlabs/dash/internal/segment"
	"github.com/dashlabs/dash/internal/store"
	"github.com/dashlabs/dash/internal/store/ann"
	"github.com/dashlabs/dash/internal/wal"
)

// Config carries every knob needed to open or create a Core instance. It
// mirrors pkg/config.Config's wal/segment/ann/router sections; callers at
// the edges (CLI, HTTP shell) build this from the loaded Config.
type Config struct {
	WalPath          string
	SegmentRoot      string
	PlacementCSVPath string

	WritePolicy      wal.WritePolicy
	CheckpointPolicy wal.CheckpointPolicy
	ANNTuning        ann.TuningConfig

	SegmentEngine     segment.Engine
	RingConfig        placement.RingConfig
	InitialPlacements []placement.ShardPlacement

	MaintenanceInterval     time.Duration
	PlacementReloadInterval time.Duration
	FollowerPullInterval    time.Duration
}

// FollowerPullFunc is invoked on the follower-pull timer; wiring it is the
// transport's responsibility (pulling a ReplicationDelta/ExportResponse
// from a remote leader is out of this core's scope per spec.md §1).
type FollowerPullFunc func(core *Core) error

// Core is the single-instance, lock-guarded library surface: one store,
// one WAL, one segment engine, one placement router.
type Core struct {
	mu sync.Mutex

	store     *store.Store
	walog     *wal.FileWal
	segEngine *segment.Engine
	router    *placement.Router

	checkpointPolicy wal.CheckpointPolicy

	stop         chan struct{}
	stopOnce     sync.Once
	followerPull FollowerPullFunc
}

// Open opens (or creates) the WAL at cfg.WalPath, replays it to rebuild the
// store, and wires a segment engine and placement router around the
// configured roots/CSV. The placement CSV, if cfg.PlacementCSVPath is
// non-empty, is loaded eagerly; an empty path starts the router with the
// placements passed in cfg.InitialPlacements.
func Open(cfg Config) (*Core, error) {
	w, err := wal.Open(cfg.WalPath)
	if err != nil {
		return nil, err
	}
	w.SetWritePolicy(cfg.WritePolicy)

	s, err := wal.LoadFromWAL(w, cfg.ANNTuning)
	if err != nil {
		return nil, err
	}

	segEngine := cfg.SegmentEngine
	if segEngine.Root == "" {
		segEngine = *segment.DefaultEngine(cfg.SegmentRoot)
	}

	placements := cfg.InitialPlacements
	if cfg.PlacementCSVPath != "" {
		loaded, err := placement.LoadPlacementsCSV(cfg.PlacementCSVPath)
		if err != nil {
			return nil, err
		}
		placements = loaded
	}
	ring := cfg.RingConfig
	if ring.VirtualNodesPerShard == 0 {
		ring = placement.DefaultRingConfig()
	}
	router := placement.NewRouter(cfg.PlacementCSVPath, ring, placements)

	return &Core{
		store:            s,
		walog:            w,
		segEngine:        &segEngine,
		router:           router,
		checkpointPolicy: cfg.CheckpointPolicy,
		stop:             make(chan struct{}),
	}, nil
}

// Ingest validates the bundle against the current store state, appends the
// claim/evidence/edges to the WAL, mutates the in-memory store, and fires a
// checkpoint if the configured policy's thresholds are exceeded. Every
// check — field validation and referential integrity both — runs before the
// first append, so a rejected bundle never reaches the WAL; the append then
// happens-before the in-memory mutation, per spec.md §5's crash-recovery
// ordering guarantee.
func (c *Core) Ingest(claim *domain.Claim, evidences []*domain.Evidence, edges []*domain.ClaimEdge) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.ValidateBundle(claim, evidences, edges); err != nil {
		return err
	}

	if err := c.walog.AppendClaim(claim); err != nil {
		return err
	}
	for _, e := range evidences {
		if err := c.walog.AppendEvidence(e); err != nil {
			return err
		}
	}
	for _, edge := range edges {
		if err := c.walog.AppendEdge(edge); err != nil {
			return err
		}
	}

	if err := c.store.IngestBundle(claim, evidences, edges); err != nil {
		return err
	}

	_, err := c.walog.Checkpoint(c.store, c.checkpointPolicy)
	return err
}

// UpsertVector validates the vector against the current store and index
// state, appends a vector record to the WAL, then upserts it into the
// store's ANN index. As with Ingest, a rejected vector never reaches the
// WAL.
func (c *Core) UpsertVector(claimID string, vector []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.ValidateClaimVector(claimID, vector); err != nil {
		return err
	}
	if err := c.walog.AppendVector(claimID, vector); err != nil {
		return err
	}
	return c.store.UpsertClaimVector(claimID, vector)
}

// Checkpoint forces a snapshot + WAL truncate regardless of policy.
func (c *Core) Checkpoint() (*wal.CheckpointStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.walog.ForceCheckpoint(c.store)
}

// TraverseGraph walks outbound claim edges breadth-first from the seed
// claim ids, bounded by maxHops, and summarizes the edges reached.
func (c *Core) TraverseGraph(seedClaimIDs []string, maxHops int) ([]*domain.ClaimEdge, graph.EdgeSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	edges := graph.TraverseEdgesMultiHop(seedClaimIDs, c.store.OutgoingEdges, maxHops)
	return edges, graph.SummarizeEdges(edges)
}

// IndexStats reports the store's current index sizes and ANN tuning.
func (c *Core) IndexStats() (store.IndexStats, ann.TuningConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.IndexStats(), c.store.AnnTuning()
}

// WALRecordCount reports the number of records currently in the WAL.
func (c *Core) WALRecordCount() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.walog.WalRecordCount()
}

// ReplicationDelta serves the pull-based follower shipping contract: WAL
// records from fromOffset, bounded by maxRecords.
func (c *Core) ReplicationDelta(fromOffset, maxRecords int) (*wal.DeltaResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.walog.ReplicationDelta(fromOffset, maxRecords)
}

// ExportForFollowers serves the full-state follower bootstrap: the current
// snapshot plus the current WAL.
func (c *Core) ExportForFollowers() (*wal.ExportResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.walog.ExportForFollowers()
}

// Retrieve runs the ranked retrieval planner against the current store and
// segment engine state.
func (c *Core) Retrieve(req retrieval.Request) (*retrieval.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return retrieval.Plan(c.store, c.segEngine, req)
}

// PublishSegments builds and atomically persists segments for tenantID
// from the store's current claim snapshot, then GCs any unreferenced
// segment files left over from the prior manifest.
func (c *Core) PublishSegments(tenantID string) (*segment.SegmentManifest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	claims := c.store.ClaimsForTenant(tenantID)
	current, previous, err := c.segEngine.Publish(tenantID, claims)
	if err != nil {
		return nil, err
	}
	if previous != nil {
		if _, err := c.segEngine.GC(tenantID, previous); err != nil {
			return current, err
		}
	}
	return current, nil
}

// CompactSegments runs one compaction round for tenantID.
func (c *Core) CompactSegments(tenantID string) (*segment.SegmentManifest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.segEngine.Compact(tenantID)
}

// SegmentHealth reports the segment engine's tenant/tier/segment counts,
// the supplemented health endpoint from SPEC_FULL.md §12.
func (c *Core) SegmentHealth() (*segment.HealthSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.segEngine.HealthSnapshot()
}

// RouteWrite resolves the write leader for (tenantID, entityKey).
func (c *Core) RouteWrite(tenantID, entityKey string) (*placement.RoutedReplica, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.router.RouteWrite(tenantID, entityKey)
}

// RouteRead resolves a readable replica for (tenantID, entityKey).
func (c *Core) RouteRead(tenantID, entityKey string, pref placement.ReadPreference) (*placement.RoutedReplica, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.router.RouteRead(tenantID, entityKey, pref)
}

// PromoteReplica promotes a replica to leader for (tenantID, shardID).
func (c *Core) PromoteReplica(tenantID string, shardID uint32, nodeID string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.router.Promote(tenantID, shardID, nodeID)
}

// PlacementReloadStats reports the placement router's live-reload counters.
func (c *Core) PlacementReloadStats() placement.ReloadStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.router.ReloadStats()
}

// StartBackgroundLoops starts the four independent ticker-driven loops:
// WAL flush, segment maintenance, placement reload, and (if pull is
// non-nil) follower pull. Each acquires Core's exclusive lock for the
// duration of its own tick's work, never overlapping with another timer's
// tick or with a foreground Ingest/Retrieve call.
func (c *Core) StartBackgroundLoops(walFlushInterval, maintenanceInterval, placementReloadInterval, followerPullInterval time.Duration, pull FollowerPullFunc) {
	c.followerPull = pull

	go c.tick(walFlushInterval, func() { _ = c.walog.Flush() })
	go c.tick(maintenanceInterval, func() { _, _ = c.segEngine.Maintain() })
	go c.tick(placementReloadInterval, func() { _ = c.router.Reload() })
	if pull != nil {
		go c.tick(followerPullInterval, func() { _ = c.followerPull(c) })
	}
}

func (c *Core) tick(interval time.Duration, work func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			work()
			c.mu.Unlock()
		}
	}
}

// Stop signals every background loop to exit. Safe to call more than once.
func (c *Core) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Close stops the background loops and closes the WAL, flushing any
// coalesced appends to disk first. Safe to call more than once.
func (c *Core) Close() error {
	c.Stop()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.walog.Close()
}

// Store exposes the underlying store for read-mostly callers (such as
// tests inspecting state after an operation) that do not need the full
// Core lock discipline applied to a single read. Callers mutating
// through the returned *store.Store bypass WAL durability and must not do
// so; it is exported for read access only.
func (c *Core) Store() *store.Store { return c.store }
