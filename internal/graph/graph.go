// Package graph summarizes and traverses the directed, possibly cyclic
// graph of claim-to-claim edges.
package graph

import "github.com/dashlabs/dash/internal/domain"

// EdgeSummary aggregates a set of edges into their stance-relevant counts.
type EdgeSummary struct {
	SupportsCount    int
	ContradictsCount int
	TotalStrength    float32
}

// SummarizeEdges folds a slice of edges into an EdgeSummary.
func SummarizeEdges(edges []*domain.ClaimEdge) EdgeSummary {
	var s EdgeSummary
	for _, e := range edges {
		switch e.Relation {
		case domain.RelationSupports:
			s.SupportsCount++
		case domain.RelationContradicts:
			s.ContradictsCount++
		}
		s.TotalStrength += e.Strength
	}
	return s
}

// OutgoingEdgesFunc looks up the outgoing edges for a claim id, as owned by
// the store's claim_outgoing_edges index.
type OutgoingEdgesFunc func(claimID string) []*domain.ClaimEdge

// TraverseEdgesMultiHop runs a breadth-first search from a seed set of claim
// ids, following outbound edges only, bounded by maxHops. It returns the
// edges reached, deduplicated by edge id, in discovery order. Cycles are
// handled via a visited-node set rather than pointer identity, so the walk
// always terminates.
func TraverseEdgesMultiHop(seeds []string, outgoing OutgoingEdgesFunc, maxHops int) []*domain.ClaimEdge {
	visitedNodes := make(map[string]struct{}, len(seeds))
	seenEdges := make(map[string]struct{})
	var result []*domain.ClaimEdge

	frontier := make([]string, 0, len(seeds))
	for _, s := range seeds {
		if _, ok := visitedNodes[s]; !ok {
			visitedNodes[s] = struct{}{}
			frontier = append(frontier, s)
		}
	}

	for hop := 0; hop < maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, claimID := range frontier {
			for _, edge := range outgoing(claimID) {
				if _, ok := seenEdges[edge.EdgeID]; ok {
					continue
				}
				seenEdges[edge.EdgeID] = struct{}{}
				result = append(result, edge)

				if _, ok := visitedNodes[edge.ToClaimID]; !ok {
					visitedNodes[edge.ToClaimID] = struct{}{}
					next = append(next, edge.ToClaimID)
				}
			}
		}
		frontier = next
	}

	return result
}
