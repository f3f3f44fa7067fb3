package graph

import (
	"testing"

	"github.com/dashlabs/dash/internal/domain"
)

func TestSummarizeEdges(t *testing.T) {
	edges := []*domain.ClaimEdge{
		{EdgeID: "e1", Relation: domain.RelationSupports, Strength: 0.5},
		{EdgeID: "e2", Relation: domain.RelationSupports, Strength: 0.3},
		{EdgeID: "e3", Relation: domain.RelationContradicts, Strength: 0.9},
	}
	summary := SummarizeEdges(edges)
	if summary.SupportsCount != 2 || summary.ContradictsCount != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.TotalStrength != 1.7 {
		t.Fatalf("unexpected total strength: %v", summary.TotalStrength)
	}
}

func TestTraverseEdgesMultiHopDedupsAndBoundsHops(t *testing.T) {
	edgesByNode := map[string][]*domain.ClaimEdge{
		"c1": {
			{EdgeID: "e1", FromClaimID: "c1", ToClaimID: "c2", Relation: domain.RelationSupports, Strength: 1},
			{EdgeID: "e2", FromClaimID: "c1", ToClaimID: "c3", Relation: domain.RelationContradicts, Strength: 1},
		},
		"c2": {
			{EdgeID: "e3", FromClaimID: "c2", ToClaimID: "c1", Relation: domain.RelationRefines, Strength: 1},
			{EdgeID: "e4", FromClaimID: "c2", ToClaimID: "c4", Relation: domain.RelationSupports, Strength: 1},
		},
		"c3": {},
		"c4": {},
	}
	outgoing := func(id string) []*domain.ClaimEdge { return edgesByNode[id] }

	oneHop := TraverseEdgesMultiHop([]string{"c1"}, outgoing, 1)
	if len(oneHop) != 2 {
		t.Fatalf("expected 2 edges at hop 1, got %d", len(oneHop))
	}

	twoHops := TraverseEdgesMultiHop([]string{"c1"}, outgoing, 2)
	if len(twoHops) != 4 {
		t.Fatalf("expected 4 edges at hop 2, got %d", len(twoHops))
	}

	seen := map[string]bool{}
	for _, e := range twoHops {
		if seen[e.EdgeID] {
			t.Fatalf("edge %s visited twice", e.EdgeID)
		}
		seen[e.EdgeID] = true
	}
}
