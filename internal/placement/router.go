package placement

import (
	"sync"
	"time"
)

// Snapshot is the router's immutable, atomically-swapped view of the
// current placement table plus the ring configuration it was built with.
type Snapshot struct {
	Ring       RingConfig
	Placements []ShardPlacement
}

// ReloadStats tracks the live-reload loop's outcomes for observability.
type ReloadStats struct {
	AttemptTotal int64
	SuccessTotal int64
	FailureTotal int64
	LastError    string
}

// Router owns an immutable placement snapshot, swapped atomically on
// reload, and a source path it periodically re-reads.
type Router struct {
	mu    sync.RWMutex
	path  string
	snap  *Snapshot
	stats ReloadStats

	stop chan struct{}
}

// NewRouter constructs a router around an initial ring config and
// placement table. path is the CSV file reload re-reads; it may be empty
// if live reload is never started.
func NewRouter(path string, ring RingConfig, placements []ShardPlacement) *Router {
	return &Router{path: path, snap: &Snapshot{Ring: ring, Placements: placements}}
}

// Snapshot returns the router's current immutable view.
func (r *Router) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// RouteWrite resolves the write leader for (tenantID, entityKey) against
// the current snapshot.
func (r *Router) RouteWrite(tenantID, entityKey string) (*RoutedReplica, error) {
	snap := r.Snapshot()
	return RouteWriteWithPlacement(tenantID, entityKey, snap.Ring, snap.Placements)
}

// RouteRead resolves a readable replica for (tenantID, entityKey) against
// the current snapshot.
func (r *Router) RouteRead(tenantID, entityKey string, pref ReadPreference) (*RoutedReplica, error) {
	snap := r.Snapshot()
	return RouteReadWithPlacement(tenantID, entityKey, snap.Ring, snap.Placements, pref)
}

// Promote promotes a replica to leader for the named (tenant, shard) within
// the current snapshot, then atomically swaps in the mutated table.
func (r *Router) Promote(tenantID string, shardID uint32, nodeID string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	placements := make([]ShardPlacement, len(r.snap.Placements))
	for i, p := range r.snap.Placements {
		placements[i] = p
		placements[i].Replicas = make([]ReplicaPlacement, len(p.Replicas))
		copy(placements[i].Replicas, p.Replicas)
	}

	placement := findPlacement(placements, tenantID, shardID)
	if placement == nil {
		return 0, &RouteError{Kind: ErrPlacementNotFound, TenantID: tenantID, ShardID: shardID}
	}
	epoch, err := PromoteReplicaToLeader(placement, nodeID)
	if err != nil {
		return 0, err
	}
	r.snap = &Snapshot{Ring: r.snap.Ring, Placements: placements}
	return epoch, nil
}

// Reload re-parses the placement CSV at path and atomically swaps the
// snapshot in on success, leaving the prior snapshot in place on failure.
func (r *Router) Reload() error {
	placements, err := LoadPlacementsCSV(r.path)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.AttemptTotal++
	if err != nil {
		r.stats.FailureTotal++
		r.stats.LastError = err.Error()
		return err
	}
	r.snap = &Snapshot{Ring: r.snap.Ring, Placements: placements}
	r.stats.SuccessTotal++
	return nil
}

// ReloadStats returns a copy of the live-reload counters.
func (r *Router) ReloadStats() ReloadStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stats
}

// StartReloadTimer runs a background loop that calls Reload at interval
// until stop is closed, mirroring the WAL's flush-timer idiom.
func (r *Router) StartReloadTimer(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = r.Reload()
			}
		}
	}()
}
