package core

import (
	"path/filepath"
	"testing"

	"github.com/dashlabs/dash/internal/domain"
	"github.com/dashlabs/dash/internal/placement"
	"github.com/dashlabs/dash/internal/retrieval"
	"github.com/dashlabs/dash/internal/segment"
	"github.com/dashlabs/dash/internal/store/ann"
	"github.com/dashlabs/dash/internal/wal"
)

func newTestCore(t *testing.T) *Core {
	t.Helper()
	dir := t.TempDir()

	c, err := Open(Config{
		WalPath:     filepath.Join(dir, "wal.log"),
		SegmentRoot: filepath.Join(dir, "segments"),
		ANNTuning:   ann.DefaultTuningConfig(),
		SegmentEngine: segment.Engine{
			Root:                      filepath.Join(dir, "segments"),
			MaxSegmentSize:            100,
			CompactionSchedulerConfig: segment.DefaultCompactionSchedulerConfig(),
		},
		RingConfig:        placement.DefaultRingConfig(),
		InitialPlacements: []placement.ShardPlacement{},
		CheckpointPolicy:  wal.CheckpointPolicy{},
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return c
}

func TestOpenThenIngestThenRetrieveRoundTrips(t *testing.T) {
	c := newTestCore(t)

	claim := &domain.Claim{
		ClaimID:       "c1",
		TenantID:      "tenant-a",
		CanonicalText: "Company X acquired Company Y",
		Confidence:    0.9,
	}
	evidence := []*domain.Evidence{{
		EvidenceID:    "e1",
		ClaimID:       "c1",
		SourceID:      "doc-1",
		Stance:        domain.StanceSupports,
		SourceQuality: 0.8,
	}}
	if err := c.Ingest(claim, evidence, nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	resp, err := c.Retrieve(retrieval.Request{
		TenantID:   "tenant-a",
		QueryText:  "Company X acquired Company Y",
		TopK:       5,
		StanceMode: domain.StanceModeBalanced,
	})
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].ClaimID != "c1" {
		t.Fatalf("expected c1 in results, got %+v", resp.Results)
	}
}

func TestIngestRejectsInvalidClaim(t *testing.T) {
	c := newTestCore(t)
	err := c.Ingest(&domain.Claim{ClaimID: "", TenantID: "tenant-a", CanonicalText: "x", Confidence: 0.5}, nil, nil)
	if err == nil {
		t.Fatal("expected validation error for missing claim id")
	}
}

func TestCheckpointAndReloadSurviveRestart(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "wal.log")

	c1, err := Open(Config{WalPath: walPath, SegmentRoot: filepath.Join(dir, "segments"), ANNTuning: ann.DefaultTuningConfig()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	claim := &domain.Claim{ClaimID: "c1", TenantID: "tenant-a", CanonicalText: "durable claim", Confidence: 0.7}
	if err := c1.Ingest(claim, nil, nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := c1.Checkpoint(); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	c2, err := Open(Config{WalPath: walPath, SegmentRoot: filepath.Join(dir, "segments"), ANNTuning: ann.DefaultTuningConfig()})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if c2.Store().ClaimsLen() != 1 {
		t.Fatalf("expected claim to survive reopen, got %d claims", c2.Store().ClaimsLen())
	}
}

func TestRejectedBundlesNeverReachWAL(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "wal.log")

	c1, err := Open(Config{WalPath: walPath, SegmentRoot: filepath.Join(dir, "segments"), ANNTuning: ann.DefaultTuningConfig()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	good := &domain.Claim{ClaimID: "c1", TenantID: "tenant-a", CanonicalText: "good claim", Confidence: 0.8}
	if err := c1.Ingest(good, nil, nil); err != nil {
		t.Fatalf("ingest good claim: %v", err)
	}
	if err := c1.UpsertVector("c1", []float32{1, 0, 0}); err != nil {
		t.Fatalf("upsert vector: %v", err)
	}

	bad := &domain.Claim{ClaimID: "c2", TenantID: "tenant-a", CanonicalText: "bad bundle claim", Confidence: 0.8}
	badEvidence := []*domain.Evidence{{
		EvidenceID:    "e1",
		ClaimID:       "c-unknown",
		SourceID:      "doc-1",
		Stance:        domain.StanceSupports,
		SourceQuality: 0.9,
	}}
	if err := c1.Ingest(bad, badEvidence, nil); err == nil {
		t.Fatal("expected MissingClaim for evidence naming another claim id")
	}

	badEdge := []*domain.ClaimEdge{{
		EdgeID:      "g1",
		FromClaimID: "c-unknown",
		ToClaimID:   "c1",
		Relation:    domain.RelationSupports,
		Strength:    0.5,
		ReasonCodes: []string{"cites"},
	}}
	if err := c1.Ingest(bad, nil, badEdge); err == nil {
		t.Fatal("expected MissingClaim for edge with unknown origin")
	}

	if err := c1.UpsertVector("c1", []float32{1, 0}); err == nil {
		t.Fatal("expected InvalidVector for dimension mismatch")
	}
	if err := c1.UpsertVector("c-unknown", []float32{1, 0, 0}); err == nil {
		t.Fatal("expected MissingClaim for vector on unknown claim")
	}

	count, err := c1.WALRecordCount()
	if err != nil {
		t.Fatalf("wal record count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected only the good claim and its vector in the WAL, got %d records", count)
	}
	if err := c1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	c2, err := Open(Config{WalPath: walPath, SegmentRoot: filepath.Join(dir, "segments"), ANNTuning: ann.DefaultTuningConfig()})
	if err != nil {
		t.Fatalf("reopen after rejected bundles must succeed: %v", err)
	}
	if c2.Store().ClaimsLen() != 1 {
		t.Fatalf("expected only the good claim after replay, got %d", c2.Store().ClaimsLen())
	}
}

func TestCheckpointPolicyFiresDuringIngest(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "wal.log")
	maxRecords := 2

	c1, err := Open(Config{
		WalPath:          walPath,
		SegmentRoot:      filepath.Join(dir, "segments"),
		ANNTuning:        ann.DefaultTuningConfig(),
		CheckpointPolicy: wal.CheckpointPolicy{MaxWalRecords: &maxRecords},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	for _, id := range []string{"c1", "c2", "c3"} {
		claim := &domain.Claim{ClaimID: id, TenantID: "tenant-a", CanonicalText: "claim " + id, Confidence: 0.7}
		if err := c1.Ingest(claim, nil, nil); err != nil {
			t.Fatalf("ingest %s: %v", id, err)
		}
	}

	count, err := c1.WALRecordCount()
	if err != nil {
		t.Fatalf("wal record count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected checkpoint to truncate the WAL, got %d records", count)
	}

	c2, err := Open(Config{WalPath: walPath, SegmentRoot: filepath.Join(dir, "segments"), ANNTuning: ann.DefaultTuningConfig()})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if c2.Store().ClaimsLen() != 3 {
		t.Fatalf("expected 3 claims after reopen, got %d", c2.Store().ClaimsLen())
	}
}

func TestReplicationDeltaAndExportShipWALRecords(t *testing.T) {
	c := newTestCore(t)
	claim := &domain.Claim{ClaimID: "c1", TenantID: "tenant-a", CanonicalText: "shipped claim", Confidence: 0.7}
	if err := c.Ingest(claim, nil, nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	delta, err := c.ReplicationDelta(0, 100)
	if err != nil {
		t.Fatalf("delta: %v", err)
	}
	if delta.NeedsResync || len(delta.WalLines) != 1 || delta.NextOffset != 1 {
		t.Fatalf("unexpected delta: %+v", delta)
	}

	export, err := c.ExportForFollowers()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(export.WalLines) != 1 {
		t.Fatalf("expected 1 WAL line in export, got %d", len(export.WalLines))
	}
}

func TestPublishSegmentsThenHealthSnapshotReportsTier(t *testing.T) {
	c := newTestCore(t)
	claim := &domain.Claim{ClaimID: "c1", TenantID: "tenant-a", CanonicalText: "hot claim", Confidence: 0.95}
	if err := c.Ingest(claim, nil, nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if _, err := c.PublishSegments("tenant-a"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	health, err := c.SegmentHealth()
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.TierCounts[domain.TierHot] != 1 {
		t.Fatalf("expected 1 hot-tier segment, got %+v", health.TierCounts)
	}
}

func TestTraverseGraphFollowsOutboundEdges(t *testing.T) {
	c := newTestCore(t)
	for _, id := range []string{"c1", "c2", "c3"} {
		claim := &domain.Claim{ClaimID: id, TenantID: "tenant-a", CanonicalText: "claim " + id, Confidence: 0.8}
		if err := c.Ingest(claim, nil, nil); err != nil {
			t.Fatalf("ingest %s: %v", id, err)
		}
	}
	edges := []*domain.ClaimEdge{
		{EdgeID: "g1", FromClaimID: "c1", ToClaimID: "c2", Relation: domain.RelationSupports, Strength: 0.9, ReasonCodes: []string{"cites"}},
		{EdgeID: "g2", FromClaimID: "c2", ToClaimID: "c3", Relation: domain.RelationContradicts, Strength: 0.4, ReasonCodes: []string{"counter"}},
	}
	c1, _ := c.Store().ClaimByID("c1")
	if err := c.Ingest(c1, nil, edges[:1]); err != nil {
		t.Fatalf("ingest edge g1: %v", err)
	}
	c2, _ := c.Store().ClaimByID("c2")
	if err := c.Ingest(c2, nil, edges[1:]); err != nil {
		t.Fatalf("ingest edge g2: %v", err)
	}

	reached, summary := c.TraverseGraph([]string{"c1"}, 2)
	if len(reached) != 2 {
		t.Fatalf("expected both edges reached in 2 hops, got %d", len(reached))
	}
	if summary.SupportsCount != 1 || summary.ContradictsCount != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	oneHop, _ := c.TraverseGraph([]string{"c1"}, 1)
	if len(oneHop) != 1 || oneHop[0].EdgeID != "g1" {
		t.Fatalf("expected only g1 within 1 hop, got %+v", oneHop)
	}
}

func TestRouteWriteWithoutPlacementFailsClosed(t *testing.T) {
	c := newTestCore(t)
	_, err := c.RouteWrite("tenant-a", "entity-x")
	if err == nil {
		t.Fatal("expected routing error with no placement configured")
	}
}

func TestPromoteReplicaThenRouteWriteSeesNewLeader(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(Config{
		WalPath:     filepath.Join(dir, "wal.log"),
		SegmentRoot: filepath.Join(dir, "segments"),
		ANNTuning:   ann.DefaultTuningConfig(),
		RingConfig:  placement.RingConfig{ShardIDs: []uint32{0}, VirtualNodesPerShard: 8, ReplicaCount: 2},
		InitialPlacements: []placement.ShardPlacement{{
			TenantID: "tenant-a",
			ShardID:  0,
			Epoch:    1,
			Replicas: []placement.ReplicaPlacement{
				{NodeID: "node-a", Role: placement.RoleLeader, Health: placement.HealthHealthy},
				{NodeID: "node-b", Role: placement.RoleFollower, Health: placement.HealthHealthy},
			},
		}},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := c.PromoteReplica("tenant-a", 0, "node-b"); err != nil {
		t.Fatalf("promote: %v", err)
	}

	routed, err := c.RouteWrite("tenant-a", "entity-x")
	if err != nil {
		t.Fatalf("route write: %v", err)
	}
	if routed.NodeID != "node-b" {
		t.Fatalf("expected node-b as new leader, got %s", routed.NodeID)
	}
}
