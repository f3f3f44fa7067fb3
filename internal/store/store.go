// Package store holds the in-memory claim/evidence/edge index: primary
// maps, every secondary index spec.md's store component names, and the
// vector ANN index. It has no knowledge of durability; internal/wal and
// internal/core layer persistence and locking on top of it.
package store

import (
	"fmt"
	"sort"

	"github.com/dashlabs/dash/internal/domain"
	"github.com/dashlabs/dash/internal/store/ann"
)

// IndexStats summarizes the store's current size, used for health
// reporting and corpus statistics.
type IndexStats struct {
	ClaimCount    int
	EvidenceCount int
	EdgeCount     int
	TenantCount   int
	VectorCount   int
}

// Store is the in-memory index. Not safe for concurrent use; internal/core
// serializes all access behind one exclusive lock.
type Store struct {
	claims   map[string]*domain.Claim
	evidence map[string]*domain.Evidence
	edges    map[string]*domain.ClaimEdge

	byTenant      map[string]map[string]struct{}
	byEntity      map[string]map[string]struct{}
	byEmbeddingID map[string]map[string]struct{}

	claimEvidence      map[string][]string
	claimOutgoingEdges map[string][]string

	inverted  map[string]map[string]struct{}
	docLen    map[string]int
	sumDocLen int64
	docCount  int

	vectorIndex *ann.Index
}

// New constructs an empty store with the given ANN tuning.
func New(tuning ann.TuningConfig) *Store {
	return &Store{
		claims:             make(map[string]*domain.Claim),
		evidence:           make(map[string]*domain.Evidence),
		edges:              make(map[string]*domain.ClaimEdge),
		byTenant:           make(map[string]map[string]struct{}),
		byEntity:           make(map[string]map[string]struct{}),
		byEmbeddingID:      make(map[string]map[string]struct{}),
		claimEvidence:      make(map[string][]string),
		claimOutgoingEdges: make(map[string][]string),
		inverted:           make(map[string]map[string]struct{}),
		docLen:             make(map[string]int),
		vectorIndex:        ann.New(tuning),
	}
}

func entityKey(tenantID, entity string) string { return tenantID + "\x00" + entity }

// ValidateBundle runs every check IngestBundle applies, without mutating
// anything: field validation, the evidence claim-id equality rule, and edge
// origin existence. Callers that must order a durable append strictly after
// validation (internal/core's WAL-first ingest) call this on its own.
func (s *Store) ValidateBundle(claim *domain.Claim, evidences []*domain.Evidence, edges []*domain.ClaimEdge) error {
	if err := domain.ValidateClaim(claim); err != nil {
		return validationErr(err)
	}
	for _, e := range evidences {
		if err := domain.ValidateEvidence(e); err != nil {
			return validationErr(err)
		}
		if e.ClaimID != claim.ClaimID {
			return missingClaimErr(e.ClaimID)
		}
	}
	for _, e := range edges {
		if err := domain.ValidateEdge(e); err != nil {
			return validationErr(err)
		}
		// Only the edge's origin must resolve at ingest time; ToClaimID may
		// name a claim that arrives in a later bundle (see DESIGN.md).
		if _, ok := s.claims[e.FromClaimID]; !ok && e.FromClaimID != claim.ClaimID {
			return missingClaimErr(e.FromClaimID)
		}
	}
	return nil
}

// IngestBundle validates and inserts/updates a claim plus its evidence and
// edges, maintaining every secondary index atomically with the primary
// mutation. Evidence must reference the bundle's own claim id exactly (see
// DESIGN.md's Open Question (a) resolution); any row naming a different
// claim id is rejected with MissingClaim even if that other claim exists.
func (s *Store) IngestBundle(claim *domain.Claim, evidences []*domain.Evidence, edges []*domain.ClaimEdge) error {
	if err := s.ValidateBundle(claim, evidences, edges); err != nil {
		return err
	}

	s.upsertClaim(claim)
	for _, e := range evidences {
		s.upsertEvidence(e)
	}
	for _, e := range edges {
		s.upsertEdge(e)
	}
	return nil
}

func (s *Store) upsertClaim(claim *domain.Claim) {
	if _, existed := s.claims[claim.ClaimID]; existed {
		s.removeFromTextIndices(claim.ClaimID)
	}
	c := *claim
	s.claims[claim.ClaimID] = &c

	if s.byTenant[c.TenantID] == nil {
		s.byTenant[c.TenantID] = make(map[string]struct{})
	}
	s.byTenant[c.TenantID][c.ClaimID] = struct{}{}

	for _, entity := range c.Entities {
		key := entityKey(c.TenantID, entity)
		if s.byEntity[key] == nil {
			s.byEntity[key] = make(map[string]struct{})
		}
		s.byEntity[key][c.ClaimID] = struct{}{}
	}

	for _, embID := range c.EmbeddingIDs {
		if s.byEmbeddingID[embID] == nil {
			s.byEmbeddingID[embID] = make(map[string]struct{})
		}
		s.byEmbeddingID[embID][c.ClaimID] = struct{}{}
	}

	tokens := domain.Tokenize(c.CanonicalText)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if s.inverted[t] == nil {
			s.inverted[t] = make(map[string]struct{})
		}
		s.inverted[t][c.ClaimID] = struct{}{}
	}
	s.docLen[c.ClaimID] = len(tokens)
	s.sumDocLen += int64(len(tokens))
	s.docCount++
}

// removeFromTextIndices clears a claim's prior inverted-index and doc-len
// contribution before it is re-inserted, keeping corpus stats accurate
// across upserts.
func (s *Store) removeFromTextIndices(claimID string) {
	if n, ok := s.docLen[claimID]; ok {
		s.sumDocLen -= int64(n)
		s.docCount--
		delete(s.docLen, claimID)
	}
	for token, ids := range s.inverted {
		if _, ok := ids[claimID]; ok {
			delete(ids, claimID)
			if len(ids) == 0 {
				delete(s.inverted, token)
			}
		}
	}
}

func (s *Store) upsertEvidence(e *domain.Evidence) {
	ev := *e
	if _, existed := s.evidence[e.EvidenceID]; !existed {
		s.claimEvidence[e.ClaimID] = append(s.claimEvidence[e.ClaimID], e.EvidenceID)
	}
	s.evidence[e.EvidenceID] = &ev
}

func (s *Store) upsertEdge(e *domain.ClaimEdge) {
	edge := *e
	if _, existed := s.edges[e.EdgeID]; !existed {
		s.claimOutgoingEdges[e.FromClaimID] = append(s.claimOutgoingEdges[e.FromClaimID], e.EdgeID)
	}
	s.edges[e.EdgeID] = &edge
}

// ValidateClaimVector runs UpsertClaimVector's checks (claim existence,
// finite components, dimensionality) without mutating the index.
func (s *Store) ValidateClaimVector(claimID string, vec []float32) error {
	if _, ok := s.claims[claimID]; !ok {
		return missingClaimErr(claimID)
	}
	for _, x := range vec {
		if isNonFinite(x) {
			return invalidVectorErr("vector contains a non-finite component")
		}
	}
	if dim := s.vectorIndex.Dimension(); dim != 0 && len(vec) != dim {
		return invalidVectorErr(fmt.Sprintf("vector dimension %d does not match index dimension %d", len(vec), dim))
	}
	return nil
}

// UpsertClaimVector inserts or replaces a claim's embedding. The claim must
// already exist; the vector's dimensionality must match the index's
// established dimensionality.
func (s *Store) UpsertClaimVector(claimID string, vec []float32) error {
	if err := s.ValidateClaimVector(claimID, vec); err != nil {
		return err
	}
	if err := s.vectorIndex.Upsert(claimID, vec); err != nil {
		return invalidVectorErr(err.Error())
	}
	return nil
}

func isNonFinite(f float32) bool { return f != f || f > maxFloat32 || f < -maxFloat32 }

const maxFloat32 = 3.4028235e+38

// ClaimsLen returns the number of claims currently stored.
func (s *Store) ClaimsLen() int { return len(s.claims) }

// ClaimByID returns a copy of the claim for id, if present.
func (s *Store) ClaimByID(id string) (*domain.Claim, bool) {
	c, ok := s.claims[id]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

// ClaimIDsForTenant returns the claim ids owned by a tenant, unordered.
func (s *Store) ClaimIDsForTenant(tenantID string) []string {
	set := s.byTenant[tenantID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// AllClaims returns every claim in the store, ordered by claim id for
// deterministic snapshot output.
func (s *Store) AllClaims() []*domain.Claim {
	ids := make([]string, 0, len(s.claims))
	for id := range s.claims {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	claims := make([]*domain.Claim, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.ClaimByID(id); ok {
			claims = append(claims, c)
		}
	}
	return claims
}

// ClaimsForTenant returns the claims owned by a tenant, unordered.
func (s *Store) ClaimsForTenant(tenantID string) []*domain.Claim {
	ids := s.ClaimIDsForTenant(tenantID)
	claims := make([]*domain.Claim, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.ClaimByID(id); ok {
			claims = append(claims, c)
		}
	}
	return claims
}

// EntityClaimIDs returns the claim ids tagged with entity within a tenant.
func (s *Store) EntityClaimIDs(tenantID, entity string) map[string]struct{} {
	return s.byEntity[entityKey(tenantID, entity)]
}

// EmbeddingClaimIDs returns the claim ids tagged with an embedding id.
func (s *Store) EmbeddingClaimIDs(embeddingID string) map[string]struct{} {
	return s.byEmbeddingID[embeddingID]
}

// InvertedPostings returns the claim ids whose canonical text contains
// token.
func (s *Store) InvertedPostings(token string) map[string]struct{} {
	return s.inverted[token]
}

// DocFreq returns the number of claims whose text contains token.
func (s *Store) DocFreq(token string) int { return len(s.inverted[token]) }

// AvgDocLen returns the store-wide average tokenized claim length.
func (s *Store) AvgDocLen() float32 {
	if s.docCount == 0 {
		return 0
	}
	return float32(s.sumDocLen) / float32(s.docCount)
}

// TotalDocs returns the number of claims contributing to corpus stats.
func (s *Store) TotalDocs() int { return s.docCount }

// DocTokens returns the tokenized canonical text for a claim.
func (s *Store) DocTokens(claimID string) []string {
	c, ok := s.claims[claimID]
	if !ok {
		return nil
	}
	return domain.Tokenize(c.CanonicalText)
}

// EvidenceForClaim returns a claim's evidence rows in ingestion order.
func (s *Store) EvidenceForClaim(claimID string) []*domain.Evidence {
	ids := s.claimEvidence[claimID]
	out := make([]*domain.Evidence, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.evidence[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// OutgoingEdges returns a claim's outgoing edges.
func (s *Store) OutgoingEdges(claimID string) []*domain.ClaimEdge {
	ids := s.claimOutgoingEdges[claimID]
	out := make([]*domain.ClaimEdge, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.edges[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// VectorIndex exposes the ANN index for retrieval's candidate shortlist.
func (s *Store) VectorIndex() *ann.Index { return s.vectorIndex }

// AnnTuning reports the tuning the vector index was constructed with.
func (s *Store) AnnTuning() ann.TuningConfig { return s.vectorIndex.Tuning() }

// IndexStats reports current index sizes.
func (s *Store) IndexStats() IndexStats {
	return IndexStats{
		ClaimCount:    len(s.claims),
		EvidenceCount: len(s.evidence),
		EdgeCount:     len(s.edges),
		TenantCount:   len(s.byTenant),
		VectorCount:   s.vectorIndex.Len(),
	}
}
