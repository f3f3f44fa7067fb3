// Package placement implements the deterministic placement router: a
// consistent-hash shard ring with virtual nodes, CSV-sourced replica
// placements, write/read routing, leader promotion, and live reload of the
// placement snapshot.
package placement

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// ReplicaRole is a replica's role within a shard placement.
type ReplicaRole string

const (
	RoleLeader   ReplicaRole = "leader"
	RoleFollower ReplicaRole = "follower"
)

// ReplicaHealth is a replica's observed health.
type ReplicaHealth string

const (
	HealthHealthy     ReplicaHealth = "healthy"
	HealthDegraded    ReplicaHealth = "degraded"
	HealthUnavailable ReplicaHealth = "unavailable"
)

func isReadableHealth(h ReplicaHealth) bool {
	return h == HealthHealthy || h == HealthDegraded
}

// ReadPreference controls which replica role route_read_with_placement
// prefers.
type ReadPreference string

const (
	ReadLeaderOnly     ReadPreference = "leader_only"
	ReadPreferFollower ReadPreference = "prefer_follower"
	ReadAnyHealthy     ReadPreference = "any_healthy"
)

// ReplicaPlacement is one replica row within a ShardPlacement.
type ReplicaPlacement struct {
	NodeID string
	Role   ReplicaRole
	Health ReplicaHealth
}

// ShardPlacement is every replica assignment for one (tenant, shard) at one
// epoch.
type ShardPlacement struct {
	TenantID string
	ShardID  uint32
	Epoch    uint64
	Replicas []ReplicaPlacement
}

// ShardAssignment names the shard a (tenant, entity_key) hashes to.
type ShardAssignment struct {
	TenantID  string
	EntityKey string
	ShardID   uint32
}

// RoutingPlan is the primary shard plus ordered replica shards a key routes
// to on the consistent-hash ring.
type RoutingPlan struct {
	Primary  ShardAssignment
	Replicas []ShardAssignment
}

// RoutedReplica is the resolved node a write or read should target.
type RoutedReplica struct {
	TenantID  string
	EntityKey string
	ShardID   uint32
	Epoch     uint64
	NodeID    string
	Role      ReplicaRole
}

// RouteErrorKind enumerates PlacementRouteError's failure modes.
type RouteErrorKind int

const (
	ErrPlacementNotFound RouteErrorKind = iota
	ErrNoWritableLeader
	ErrNoReadableReplica
	ErrReplicaNotFound
	ErrReplicaUnhealthy
)

// RouteError is the control-plane-fault error taxonomy for routing
// operations.
type RouteError struct {
	Kind     RouteErrorKind
	TenantID string
	ShardID  uint32
	NodeID   string
}

func (e *RouteError) Error() string {
	switch e.Kind {
	case ErrPlacementNotFound:
		return fmt.Sprintf("placement not found: tenant=%s shard=%d", e.TenantID, e.ShardID)
	case ErrNoWritableLeader:
		return fmt.Sprintf("no writable leader: tenant=%s shard=%d", e.TenantID, e.ShardID)
	case ErrNoReadableReplica:
		return fmt.Sprintf("no readable replica: tenant=%s shard=%d", e.TenantID, e.ShardID)
	case ErrReplicaNotFound:
		return fmt.Sprintf("replica not found: node=%s", e.NodeID)
	default:
		return fmt.Sprintf("replica unhealthy: node=%s", e.NodeID)
	}
}

const (
	fnvOffset64 = 0xcbf29ce484222325
	fnvPrime64  = 0x100000001b3
)

func fnv1a(s string) uint64 {
	hash := uint64(fnvOffset64)
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= fnvPrime64
	}
	return hash
}

// RouteToShard deterministically assigns a (tenant, entity_key) pair to a
// shard in [0, shardCount).
func RouteToShard(tenantID, entityKey string, shardCount uint32) ShardAssignment {
	if shardCount == 0 {
		shardCount = 1
	}
	hash := fnv1a(tenantID + entityKey)
	return ShardAssignment{TenantID: tenantID, EntityKey: entityKey, ShardID: uint32(hash % uint64(shardCount))}
}

// RingConfig names the shard set a ring is built over, plus the ring's
// virtual-node density and the replica fan-out route_with_replicas returns.
type RingConfig struct {
	ShardIDs             []uint32
	VirtualNodesPerShard uint32
	ReplicaCount         int
}

// DefaultRingConfig matches the single-shard, single-replica degenerate
// case the original implementation defaults to.
func DefaultRingConfig() RingConfig {
	return RingConfig{ShardIDs: []uint32{0}, VirtualNodesPerShard: 64, ReplicaCount: 1}
}

type ringPoint struct {
	hash    uint64
	shardID uint32
}

// buildRing places VirtualNodesPerShard points per shard at
// fnv1a("shard:{id}:vn:{n}"), sorted by hash for the wrap-around walk
// RouteWithReplicas performs.
func buildRing(cfg RingConfig) []ringPoint {
	vnodes := cfg.VirtualNodesPerShard
	if vnodes == 0 {
		vnodes = 1
	}
	shardIDs := cfg.ShardIDs
	if len(shardIDs) == 0 {
		shardIDs = []uint32{0}
	}
	ring := make([]ringPoint, 0, len(shardIDs)*int(vnodes))
	for _, shardID := range shardIDs {
		for vn := uint32(0); vn < vnodes; vn++ {
			key := fmt.Sprintf("shard:%d:vn:%d", shardID, vn)
			ring = append(ring, ringPoint{hash: fnv1a(key), shardID: shardID})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })
	return ring
}

// RouteWithReplicas hashes "{tenant}|{key}", walks the ring from that point
// (wrapping around), dedupes by shard id, and returns the primary plus up
// to ReplicaCount-1 distinct replica shards.
func RouteWithReplicas(tenantID, entityKey string, cfg RingConfig) RoutingPlan {
	ring := buildRing(cfg)
	if len(ring) == 0 {
		return RoutingPlan{Primary: RouteToShard(tenantID, entityKey, 1)}
	}

	target := fnv1a(tenantID + "|" + entityKey)
	start := sort.Search(len(ring), func(i int) bool { return ring[i].hash >= target })

	var ordered []uint32
	seen := make(map[uint32]struct{})
	appendShard := func(shardID uint32) {
		if _, ok := seen[shardID]; ok {
			return
		}
		seen[shardID] = struct{}{}
		ordered = append(ordered, shardID)
	}
	for i := start; i < len(ring); i++ {
		appendShard(ring[i].shardID)
	}
	for i := 0; i < start; i++ {
		appendShard(ring[i].shardID)
	}

	primaryShard := ordered[0]
	primary := ShardAssignment{TenantID: tenantID, EntityKey: entityKey, ShardID: primaryShard}

	replicaCount := cfg.ReplicaCount - 1
	var replicas []ShardAssignment
	for _, shardID := range ordered[1:] {
		if replicaCount <= 0 {
			break
		}
		replicas = append(replicas, ShardAssignment{TenantID: tenantID, EntityKey: entityKey, ShardID: shardID})
		replicaCount--
	}
	return RoutingPlan{Primary: primary, Replicas: replicas}
}

func findPlacement(placements []ShardPlacement, tenantID string, shardID uint32) *ShardPlacement {
	for i := range placements {
		if placements[i].TenantID == tenantID && placements[i].ShardID == shardID {
			return &placements[i]
		}
	}
	return nil
}

// RouteWriteWithPlacement resolves the unique healthy leader for a
// (tenant, entityKey) write.
func RouteWriteWithPlacement(tenantID, entityKey string, ring RingConfig, placements []ShardPlacement) (*RoutedReplica, error) {
	shardID := RouteWithReplicas(tenantID, entityKey, ring).Primary.ShardID
	placement := findPlacement(placements, tenantID, shardID)
	if placement == nil {
		return nil, &RouteError{Kind: ErrPlacementNotFound, TenantID: tenantID, ShardID: shardID}
	}
	for _, r := range placement.Replicas {
		if r.Role == RoleLeader && r.Health == HealthHealthy {
			return &RoutedReplica{TenantID: tenantID, EntityKey: entityKey, ShardID: shardID, Epoch: placement.Epoch, NodeID: r.NodeID, Role: RoleLeader}, nil
		}
	}
	return nil, &RouteError{Kind: ErrNoWritableLeader, TenantID: tenantID, ShardID: shardID}
}

// RouteReadWithPlacement resolves a readable replica per pref.
func RouteReadWithPlacement(tenantID, entityKey string, ring RingConfig, placements []ShardPlacement, pref ReadPreference) (*RoutedReplica, error) {
	shardID := RouteWithReplicas(tenantID, entityKey, ring).Primary.ShardID
	placement := findPlacement(placements, tenantID, shardID)
	if placement == nil {
		return nil, &RouteError{Kind: ErrPlacementNotFound, TenantID: tenantID, ShardID: shardID}
	}

	var chosen *ReplicaPlacement
	switch pref {
	case ReadLeaderOnly:
		for i, r := range placement.Replicas {
			if r.Role == RoleLeader && isReadableHealth(r.Health) {
				chosen = &placement.Replicas[i]
				break
			}
		}
	case ReadPreferFollower:
		for i, r := range placement.Replicas {
			if r.Role == RoleFollower && isReadableHealth(r.Health) {
				chosen = &placement.Replicas[i]
				break
			}
		}
		if chosen == nil {
			for i, r := range placement.Replicas {
				if r.Role == RoleLeader && isReadableHealth(r.Health) {
					chosen = &placement.Replicas[i]
					break
				}
			}
		}
	default: // ReadAnyHealthy
		for i, r := range placement.Replicas {
			if isReadableHealth(r.Health) {
				chosen = &placement.Replicas[i]
				break
			}
		}
	}
	if chosen == nil {
		return nil, &RouteError{Kind: ErrNoReadableReplica, TenantID: tenantID, ShardID: shardID}
	}
	return &RoutedReplica{TenantID: tenantID, EntityKey: entityKey, ShardID: shardID, Epoch: placement.Epoch, NodeID: chosen.NodeID, Role: chosen.Role}, nil
}

// SetReplicaHealth updates a named replica's health in place.
func SetReplicaHealth(placement *ShardPlacement, nodeID string, health ReplicaHealth) error {
	for i := range placement.Replicas {
		if placement.Replicas[i].NodeID == nodeID {
			placement.Replicas[i].Health = health
			return nil
		}
	}
	return &RouteError{Kind: ErrReplicaNotFound, NodeID: nodeID}
}

// PromoteReplicaToLeader demotes the current leader to follower, promotes
// nodeID to leader, and strictly increases epoch (saturating on overflow).
// Idempotent when nodeID is already leader.
func PromoteReplicaToLeader(placement *ShardPlacement, nodeID string) (uint64, error) {
	idx := -1
	for i, r := range placement.Replicas {
		if r.NodeID == nodeID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return 0, &RouteError{Kind: ErrReplicaNotFound, NodeID: nodeID}
	}
	if !isReadableHealth(placement.Replicas[idx].Health) {
		return 0, &RouteError{Kind: ErrReplicaUnhealthy, NodeID: nodeID}
	}
	if placement.Replicas[idx].Role == RoleLeader {
		return placement.Epoch, nil
	}
	for i := range placement.Replicas {
		if placement.Replicas[i].Role == RoleLeader {
			placement.Replicas[i].Role = RoleFollower
		}
	}
	placement.Replicas[idx].Role = RoleLeader
	if placement.Epoch < ^uint64(0) {
		placement.Epoch++
	}
	return placement.Epoch, nil
}

func parseRole(raw string) (ReplicaRole, error) {
	switch strings.ToLower(raw) {
	case "leader":
		return RoleLeader, nil
	case "follower":
		return RoleFollower, nil
	default:
		return "", fmt.Errorf("must be one of: leader, follower")
	}
}

func parseHealth(raw string) (ReplicaHealth, error) {
	switch strings.ToLower(raw) {
	case "healthy":
		return HealthHealthy, nil
	case "degraded":
		return HealthDegraded, nil
	case "unavailable":
		return HealthUnavailable, nil
	default:
		return "", fmt.Errorf("must be one of: healthy, degraded, unavailable")
	}
}

// ParsePlacementsCSV parses the "tenant_id,shard_id,epoch,node_id,role,health"
// placement CSV grammar. Comments ('#') and blank lines are skipped.
// Duplicate node_id within a (tenant, shard), a mismatched epoch across rows
// of the same (tenant, shard), and empty ids are parse errors.
func ParsePlacementsCSV(input string) ([]ShardPlacement, error) {
	type key struct {
		tenant string
		shard  uint32
	}
	order := make([]key, 0)
	grouped := make(map[key]*ShardPlacement)

	scanner := bufio.NewScanner(strings.NewReader(input))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		cols := strings.Split(line, ",")
		if len(cols) != 6 {
			return nil, fmt.Errorf("invalid placement CSV line %d: expected 6 columns (tenant_id,shard_id,epoch,node_id,role,health)", lineNo)
		}
		for i := range cols {
			cols[i] = strings.TrimSpace(cols[i])
		}
		tenantID := cols[0]
		if tenantID == "" {
			return nil, fmt.Errorf("invalid placement CSV line %d: tenant_id must not be empty", lineNo)
		}
		shardID64, err := strconv.ParseUint(cols[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid placement CSV line %d: shard_id must be a uint32", lineNo)
		}
		epoch, err := strconv.ParseUint(cols[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid placement CSV line %d: epoch must be a uint64", lineNo)
		}
		nodeID := cols[3]
		if nodeID == "" {
			return nil, fmt.Errorf("invalid placement CSV line %d: node_id must not be empty", lineNo)
		}
		role, err := parseRole(cols[4])
		if err != nil {
			return nil, fmt.Errorf("invalid placement CSV line %d: role %v", lineNo, err)
		}
		health, err := parseHealth(cols[5])
		if err != nil {
			return nil, fmt.Errorf("invalid placement CSV line %d: health %v", lineNo, err)
		}

		k := key{tenant: tenantID, shard: uint32(shardID64)}
		entry, ok := grouped[k]
		if !ok {
			entry = &ShardPlacement{TenantID: tenantID, ShardID: uint32(shardID64), Epoch: epoch}
			grouped[k] = entry
			order = append(order, k)
		}
		if entry.Epoch != epoch {
			return nil, fmt.Errorf("invalid placement CSV line %d: epoch mismatch for tenant %q shard %d", lineNo, tenantID, shardID64)
		}
		for _, r := range entry.Replicas {
			if r.NodeID == nodeID {
				return nil, fmt.Errorf("invalid placement CSV line %d: duplicate node_id %q for tenant %q shard %d", lineNo, nodeID, tenantID, shardID64)
			}
		}
		entry.Replicas = append(entry.Replicas, ReplicaPlacement{NodeID: nodeID, Role: role, Health: health})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].tenant != order[j].tenant {
			return order[i].tenant < order[j].tenant
		}
		return order[i].shard < order[j].shard
	})
	placements := make([]ShardPlacement, 0, len(order))
	for _, k := range order {
		placements = append(placements, *grouped[k])
	}
	return placements, nil
}

// LoadPlacementsCSV reads and parses a placement CSV file from disk.
func LoadPlacementsCSV(path string) ([]ShardPlacement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read placement file %q: %w", path, err)
	}
	return ParsePlacementsCSV(string(data))
}

// ShardIDsFromPlacements returns the deduplicated, sorted shard ids named
// by a placement set.
func ShardIDsFromPlacements(placements []ShardPlacement) []uint32 {
	set := make(map[uint32]struct{})
	for _, p := range placements {
		set[p.ShardID] = struct{}{}
	}
	ids := make([]uint32, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
