package segment

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dashlabs/dash/internal/domain"
)

func claimWithConfidence(id string, confidence float32) *domain.Claim {
	return &domain.Claim{
		ClaimID:       id,
		TenantID:      "tenant-a",
		CanonicalText: "claim " + id,
		Confidence:    confidence,
	}
}

func TestBuildSegmentsBucketsByTierAndChunks(t *testing.T) {
	claims := []*domain.Claim{
		claimWithConfidence("h1", 0.95),
		claimWithConfidence("h2", 0.9),
		claimWithConfidence("h3", 0.85),
		claimWithConfidence("w1", 0.7),
		claimWithConfidence("c1", 0.2),
	}

	segments := BuildSegments(claims, 2)

	var hot, warm, cold []*Segment
	for _, s := range segments {
		switch s.Tier {
		case domain.TierHot:
			hot = append(hot, s)
		case domain.TierWarm:
			warm = append(warm, s)
		case domain.TierCold:
			cold = append(cold, s)
		}
	}
	if len(hot) != 2 || len(warm) != 1 || len(cold) != 1 {
		t.Fatalf("expected 2 hot / 1 warm / 1 cold segments, got %d/%d/%d", len(hot), len(warm), len(cold))
	}
	if hot[0].SegmentID != "hot-0" || hot[1].SegmentID != "hot-1" {
		t.Fatalf("expected deterministic hot segment ids, got %q %q", hot[0].SegmentID, hot[1].SegmentID)
	}
	if len(hot[0].ClaimIDs) != 2 || len(hot[1].ClaimIDs) != 1 {
		t.Fatalf("expected hot chunks of 2 and 1 claims, got %d and %d", len(hot[0].ClaimIDs), len(hot[1].ClaimIDs))
	}
}

func TestPlanCompactionRoundMergesOverfullTier(t *testing.T) {
	segments := []*Segment{
		{SegmentID: "hot-0", Tier: domain.TierHot, ClaimIDs: []string{"c1"}},
		{SegmentID: "hot-1", Tier: domain.TierHot, ClaimIDs: []string{"c2"}},
		{SegmentID: "hot-2", Tier: domain.TierHot, ClaimIDs: []string{"c3"}},
		{SegmentID: "hot-3", Tier: domain.TierHot, ClaimIDs: []string{"c4"}},
	}
	cfg := CompactionSchedulerConfig{MaxSegmentsPerTier: 2, MaxCompactionInputSegments: 3}

	plans := PlanCompactionRound(segments, cfg)
	if len(plans) != 1 {
		t.Fatalf("expected exactly one plan, got %d", len(plans))
	}
	plan := plans[0]
	if plan.Tier != domain.TierHot || len(plan.InputSegmentIDs) != 3 {
		t.Fatalf("expected a hot merge of 3 inputs, got %+v", plan)
	}
	if plan.MergedSegmentID != "hot-merged" {
		t.Fatalf("expected merged id hot-merged, got %q", plan.MergedSegmentID)
	}

	after := ApplyCompactionPlan(segments, plan)
	if len(after) != 2 {
		t.Fatalf("expected 2 hot segments after apply, got %d", len(after))
	}
	if after[0].SegmentID != "hot-3" {
		t.Fatalf("expected surviving segment hot-3 first, got %q", after[0].SegmentID)
	}
	merged := after[1]
	if merged.SegmentID != "hot-merged" || len(merged.ClaimIDs) != 3 {
		t.Fatalf("expected merged segment of 3 claims appended, got %+v", merged)
	}
	if merged.ClaimIDs[0] != "c1" || merged.ClaimIDs[1] != "c2" || merged.ClaimIDs[2] != "c3" {
		t.Fatalf("expected merge to preserve input order, got %v", merged.ClaimIDs)
	}
}

func TestPlanTierCompactionNeedsTwoSegments(t *testing.T) {
	segments := []*Segment{
		{SegmentID: "warm-0", Tier: domain.TierWarm, ClaimIDs: []string{"c1"}},
	}
	if plan := PlanTierCompaction(segments, domain.TierWarm, 4); plan != nil {
		t.Fatalf("expected no plan for a single segment, got %+v", plan)
	}
}

func TestPersistAndLoadSegmentsRoundTrips(t *testing.T) {
	root := t.TempDir()
	segments := []*Segment{
		{SegmentID: "hot-0", Tier: domain.TierHot, ClaimIDs: []string{"c1", "c2"}},
		{SegmentID: "cold-0", Tier: domain.TierCold, ClaimIDs: []string{"c3"}},
	}

	manifest, err := PersistSegmentsAtomic(root, segments)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	if len(manifest.Entries) != 2 {
		t.Fatalf("expected 2 manifest entries, got %d", len(manifest.Entries))
	}

	reloaded, err := LoadManifest(root)
	if err != nil {
		t.Fatalf("load manifest: %v", err)
	}
	loaded, err := LoadSegmentsFromManifest(root, reloaded)
	if err != nil {
		t.Fatalf("load segments: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(loaded))
	}
	if loaded[0].SegmentID != "hot-0" || len(loaded[0].ClaimIDs) != 2 {
		t.Fatalf("unexpected first segment: %+v", loaded[0])
	}
}

func TestLoadSegmentsDetectsCorruptedChecksum(t *testing.T) {
	root := t.TempDir()
	segments := []*Segment{
		{SegmentID: "hot-0", Tier: domain.TierHot, ClaimIDs: []string{"c1", "c2"}},
	}
	manifest, err := PersistSegmentsAtomic(root, segments)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	path := filepath.Join(root, manifest.Entries[0].FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read segment file: %v", err)
	}
	lines := strings.SplitN(string(data), "\n", 2)
	cols := strings.Split(lines[0], "\t")
	cols[5] = "0"
	corrupted := strings.Join(cols, "\t") + "\n" + lines[1]
	if err := os.WriteFile(path, []byte(corrupted), 0644); err != nil {
		t.Fatalf("rewrite segment file: %v", err)
	}

	_, err = LoadSegmentsFromManifest(root, manifest)
	if err == nil {
		t.Fatal("expected integrity error for corrupted checksum")
	}
	if _, ok := err.(*ErrIntegrity); !ok {
		t.Fatalf("expected *ErrIntegrity, got %T: %v", err, err)
	}
}

func TestLoadSegmentsDetectsMutatedBody(t *testing.T) {
	root := t.TempDir()
	segments := []*Segment{
		{SegmentID: "warm-0", Tier: domain.TierWarm, ClaimIDs: []string{"c1", "c2"}},
	}
	manifest, err := PersistSegmentsAtomic(root, segments)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}

	path := filepath.Join(root, manifest.Entries[0].FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read segment file: %v", err)
	}
	mutated := strings.Replace(string(data), "c2", "cX", 1)
	if err := os.WriteFile(path, []byte(mutated), 0644); err != nil {
		t.Fatalf("rewrite segment file: %v", err)
	}

	if _, err := LoadSegmentsFromManifest(root, manifest); err == nil {
		t.Fatal("expected integrity error for mutated body")
	}
}

func TestManifestRotationSurvivesLeftoverTmp(t *testing.T) {
	root := t.TempDir()
	segments := []*Segment{
		{SegmentID: "hot-0", Tier: domain.TierHot, ClaimIDs: []string{"c1"}},
	}
	if _, err := PersistSegmentsAtomic(root, segments); err != nil {
		t.Fatalf("persist: %v", err)
	}

	// A crash between tmp write and rename leaves a partial tmp file
	// behind; the current manifest must stay intact and loadable.
	tmp := filepath.Join(root, ManifestFileName+".tmp")
	if err := os.WriteFile(tmp, []byte("DASHSEG-MANIFEST\t1\npartial"), 0644); err != nil {
		t.Fatalf("write tmp: %v", err)
	}

	manifest, err := LoadManifest(root)
	if err != nil {
		t.Fatalf("load manifest with leftover tmp: %v", err)
	}
	if len(manifest.Entries) != 1 || manifest.Entries[0].SegmentID != "hot-0" {
		t.Fatalf("expected previous manifest intact, got %+v", manifest.Entries)
	}
}

func TestPruneKeepsFilesReferencedByEitherManifest(t *testing.T) {
	root := t.TempDir()
	current, err := PersistSegmentsAtomic(root, []*Segment{
		{SegmentID: "hot-0", Tier: domain.TierHot, ClaimIDs: []string{"c1"}},
	})
	if err != nil {
		t.Fatalf("persist current: %v", err)
	}

	previousFile := "previous-0000000000000000.seg"
	if err := os.WriteFile(filepath.Join(root, previousFile), []byte("stale"), 0644); err != nil {
		t.Fatalf("write previous file: %v", err)
	}
	previous := &SegmentManifest{Entries: []SegmentManifestEntry{
		{SegmentID: "previous", Tier: domain.TierHot, FileName: previousFile, ClaimCount: 1},
	}}

	unreferenced := "orphan-0000000000000000.seg"
	if err := os.WriteFile(filepath.Join(root, unreferenced), []byte("orphan"), 0644); err != nil {
		t.Fatalf("write orphan file: %v", err)
	}

	pruned, err := PruneUnreferencedSegmentFiles(root, current, previous)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected exactly 1 pruned file, got %d", pruned)
	}
	if _, err := os.Stat(filepath.Join(root, previousFile)); err != nil {
		t.Fatalf("previous-manifest file must survive GC: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, current.Entries[0].FileName)); err != nil {
		t.Fatalf("current-manifest file must survive GC: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, unreferenced)); !os.IsNotExist(err) {
		t.Fatalf("expected orphan file removed, stat err=%v", err)
	}
}

func TestMaintainSegmentRootPrunesOnlyStaleUnreferencedFiles(t *testing.T) {
	root := t.TempDir()
	tenantRoot := filepath.Join(root, "tenant-a")
	if _, err := PersistSegmentsAtomic(tenantRoot, []*Segment{
		{SegmentID: "hot-0", Tier: domain.TierHot, ClaimIDs: []string{"c1"}},
	}); err != nil {
		t.Fatalf("persist: %v", err)
	}

	stale := filepath.Join(tenantRoot, "stale-0000000000000000.seg")
	if err := os.WriteFile(stale, []byte("stale"), 0644); err != nil {
		t.Fatalf("write stale file: %v", err)
	}
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	fresh := filepath.Join(tenantRoot, "fresh-0000000000000000.seg")
	if err := os.WriteFile(fresh, []byte("fresh"), 0644); err != nil {
		t.Fatalf("write fresh file: %v", err)
	}

	stats, err := MaintainSegmentRoot(root, 24*time.Hour)
	if err != nil {
		t.Fatalf("maintain: %v", err)
	}
	if stats.TenantDirsScanned != 1 || stats.TenantManifestsFound != 1 {
		t.Fatalf("unexpected scan stats: %+v", stats)
	}
	if stats.PrunedFileCount != 1 {
		t.Fatalf("expected 1 pruned file, got %d", stats.PrunedFileCount)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh unreferenced file must survive min_stale_age, stat err=%v", err)
	}
}

func TestEngineCompactRepublishesMergedSegments(t *testing.T) {
	engine := &Engine{
		Root:           t.TempDir(),
		MaxSegmentSize: 1,
		CompactionSchedulerConfig: CompactionSchedulerConfig{
			MaxSegmentsPerTier:         2,
			MaxCompactionInputSegments: 3,
		},
		MinStaleAge: time.Hour,
	}

	claims := []*domain.Claim{
		claimWithConfidence("c1", 0.9),
		claimWithConfidence("c2", 0.9),
		claimWithConfidence("c3", 0.9),
		claimWithConfidence("c4", 0.9),
	}
	if _, _, err := engine.Publish("tenant-a", claims); err != nil {
		t.Fatalf("publish: %v", err)
	}

	manifest, err := engine.Compact("tenant-a")
	if err != nil {
		t.Fatalf("compact: %v", err)
	}
	if len(manifest.Entries) != 2 {
		t.Fatalf("expected 2 segments after compaction, got %d", len(manifest.Entries))
	}

	ids, ok := engine.ClaimIDSetForTenant("tenant-a")
	if !ok || len(ids) != 4 {
		t.Fatalf("expected all 4 claims still visible after compaction, got %v (ok=%v)", ids, ok)
	}
}

func TestIndexerHealthSnapshotCountsTenantsAndTiers(t *testing.T) {
	root := t.TempDir()
	for _, tenant := range []string{"tenant-a", "tenant-b"} {
		if _, err := PersistSegmentsAtomic(filepath.Join(root, tenant), []*Segment{
			{SegmentID: "hot-0", Tier: domain.TierHot, ClaimIDs: []string{"c1"}},
			{SegmentID: "cold-0", Tier: domain.TierCold, ClaimIDs: []string{"c2"}},
		}); err != nil {
			t.Fatalf("persist %s: %v", tenant, err)
		}
	}

	snap, err := IndexerHealthSnapshot(root)
	if err != nil {
		t.Fatalf("health snapshot: %v", err)
	}
	if snap.TenantCount != 2 || snap.TotalSegments != 4 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.TierCounts[domain.TierHot] != 2 || snap.TierCounts[domain.TierCold] != 2 {
		t.Fatalf("unexpected tier counts: %+v", snap.TierCounts)
	}
}

func TestSegmentChecksumMatchesFNV1a(t *testing.T) {
	// Independent fold of tier|claim\n... with the FNV-1a-64 parameters the
	// file grammar fixes, so the wire checksum can never silently drift.
	want := uint64(0xcbf29ce484222325)
	update := func(data string) {
		for i := 0; i < len(data); i++ {
			want ^= uint64(data[i])
			want *= 0x100000001b3
		}
	}
	update("hot")
	update("|")
	update("c1")
	update("\n")

	got := segmentChecksum(domain.TierHot, []string{"c1"})
	if got != want {
		t.Fatalf("checksum mismatch: got %s want %s",
			strconv.FormatUint(got, 10), strconv.FormatUint(want, 10))
	}
}
