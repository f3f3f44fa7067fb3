// Package retrieval implements the ranked retrieval planner: candidate
// construction over the metadata/storage-visibility/vector-or-lexical
// funnel described in spec.md §4.8, weighted feature-fusion scoring via
// internal/ranking, stance-mode filtering, and temporal annotation grounded
// on the original implementation's result-projection logic.
package retrieval

import (
	"sort"

	"github.com/dashlabs/dash/internal/domain"
	"github.com/dashlabs/dash/internal/ranking"
	"github.com/dashlabs/dash/internal/segment"
	"github.com/dashlabs/dash/internal/store"
	"github.com/dashlabs/dash/internal/store/ann"
)

// TemporalMatchMode classifies how a result relates to a query's time
// window, mirroring original_source/services/retrieval/src/api/result_projection.rs.
type TemporalMatchMode string

const (
	TemporalEventTime              TemporalMatchMode = "event_time"
	TemporalValidityWindow         TemporalMatchMode = "validity_window"
	TemporalEventAndValidityWindow TemporalMatchMode = "event_and_validity_window"
	TemporalNoData                 TemporalMatchMode = "no_temporal_data"
	TemporalMissingClaim           TemporalMatchMode = "missing_claim"
)

// ConfidenceBand buckets a claim's confidence for display, a supplemented
// enrichment from result_projection.rs's confidence_band_for_claim_confidence.
type ConfidenceBand string

const (
	ConfidenceHigh   ConfidenceBand = "high"
	ConfidenceMedium ConfidenceBand = "medium"
	ConfidenceLow    ConfidenceBand = "low"
)

// Request is the retrieval planner's input, per spec.md §4.8.
// ReadConsistency names the caller's replica preference. It is carried
// through unchanged: neither this planner nor its callers resolve it against
// the placement table, and the planner always serves from the local store.
type Request struct {
	TenantID           string
	QueryText          string
	TopK               int
	StanceMode         domain.StanceMode
	FromUnix           *int64
	ToUnix             *int64
	EntityFilters      []string
	EmbeddingIDFilters []string
	QueryVector        []float32
	ReadConsistency    string
}

// Citation projects one evidence row onto a result, per spec.md §4.8's
// "evidence rows projected as Citation".
type Citation struct {
	EvidenceID    string
	SourceID      string
	Stance        domain.Stance
	SourceQuality float32
}

// Result is one ranked claim, annotated with stance counts, temporal match
// state, and the enrichment fields carried over from result_projection.rs.
type Result struct {
	ClaimID           string
	CanonicalText     string
	Score             float32
	Supports          int
	Contradicts       int
	Citations         []Citation
	ClaimConfidence   float32
	ConfidenceBand    ConfidenceBand
	DominantStance    *domain.Stance
	ContradictionRisk *float32
	ClaimType         *domain.ClaimType
	ValidFrom         *int64
	ValidTo           *int64
	CreatedAt         *int64
	UpdatedAt         *int64
	TemporalMatchMode *TemporalMatchMode
	TemporalInRange   *bool

	// Graph-weighted ranking is not computed by this planner; these stay
	// nil until a graph enrichment pass owns them.
	GraphScore              *float32
	SupportPathCount        *int
	ContradictionChainDepth *int
}

// Response is the planner's output.
type Response struct {
	Results []Result
}

// Plan runs the candidate-construction → scoring → stance-filter →
// temporal-filter → top-k pipeline described in spec.md §4.8.
//
// engine may be nil when no segment directory is configured for this store;
// in that case storage_visible imposes no constraint (step 2 is skipped).
func Plan(s *store.Store, engine *segment.Engine, req Request) (*Response, error) {
	allowed, empty := buildAllowedSet(s, engine, req)
	if empty {
		return &Response{Results: []Result{}}, nil
	}

	shortlist := buildShortlist(s, req, allowed)
	if len(shortlist) == 0 {
		return &Response{Results: []Result{}}, nil
	}

	results := make([]Result, 0, len(shortlist))
	for claimID := range shortlist {
		claim, ok := s.ClaimByID(claimID)
		if !ok {
			continue
		}
		result := scoreClaim(s, req, claim)

		if req.StanceMode == domain.StanceModeSupportOnly && isDominantContradicts(result.Supports, result.Contradicts) {
			continue
		}

		if req.FromUnix != nil || req.ToUnix != nil {
			mode, inRange := temporalAnnotationForClaim(claim, req.FromUnix, req.ToUnix)
			result.TemporalMatchMode = &mode
			result.TemporalInRange = &inRange
			if !inRange {
				continue
			}
		}

		results = append(results, result)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ClaimID < results[j].ClaimID
	})

	if req.TopK > 0 && len(results) > req.TopK {
		results = results[:req.TopK]
	}
	return &Response{Results: results}, nil
}

// buildAllowedSet implements spec.md §4.8 steps 1-3: metadata prefilter
// intersected with segment-base/WAL-delta storage visibility. A nil set
// with empty=false means "no constraint from this side"; empty=true means
// the intersection is provably empty and retrieval should short-circuit.
func buildAllowedSet(s *store.Store, engine *segment.Engine, req Request) (allowed map[string]struct{}, empty bool) {
	tenantIDs := s.ClaimIDsForTenant(req.TenantID)
	if len(tenantIDs) == 0 {
		return nil, true
	}
	byTenant := make(map[string]struct{}, len(tenantIDs))
	for _, id := range tenantIDs {
		byTenant[id] = struct{}{}
	}

	metadataPrefilter := byTenant
	if len(req.EntityFilters) > 0 {
		union := make(map[string]struct{})
		for _, entity := range req.EntityFilters {
			for id := range s.EntityClaimIDs(req.TenantID, entity) {
				union[id] = struct{}{}
			}
		}
		metadataPrefilter = intersect(metadataPrefilter, union)
	}
	if len(req.EmbeddingIDFilters) > 0 {
		union := make(map[string]struct{})
		for _, embID := range req.EmbeddingIDFilters {
			for id := range s.EmbeddingClaimIDs(embID) {
				union[id] = struct{}{}
			}
		}
		metadataPrefilter = intersect(metadataPrefilter, union)
	}
	if len(metadataPrefilter) == 0 {
		return nil, true
	}

	storageVisible := mergeSegmentBaseWithWALDelta(engine, req.TenantID, byTenant)

	allowed = metadataPrefilter
	if storageVisible != nil {
		allowed = intersect(allowed, storageVisible)
	}
	if len(allowed) == 0 {
		return nil, true
	}
	return allowed, false
}

// mergeSegmentBaseWithWALDelta mirrors
// segment_storage.rs's merge_segment_base_with_wal_delta_claim_ids: returns
// nil (no constraint) when no segment directory is configured.
func mergeSegmentBaseWithWALDelta(engine *segment.Engine, tenantID string, byTenant map[string]struct{}) map[string]struct{} {
	if engine == nil {
		return nil
	}
	segmentBase, ok := engine.ClaimIDSetForTenant(tenantID)
	if !ok {
		return nil
	}
	walDelta := make(map[string]struct{})
	for id := range byTenant {
		if _, inSegment := segmentBase[id]; !inSegment {
			walDelta[id] = struct{}{}
		}
	}
	visible := make(map[string]struct{}, len(segmentBase)+len(walDelta))
	for id := range segmentBase {
		visible[id] = struct{}{}
	}
	for id := range walDelta {
		visible[id] = struct{}{}
	}
	return visible
}

// buildShortlist implements spec.md §4.8 step 4: ANN search when a query
// vector is supplied and the index is non-empty, else an inverted-index
// posting union over the tokenized query, both intersected with allowed.
func buildShortlist(s *store.Store, req Request, allowed map[string]struct{}) map[string]struct{} {
	idx := s.VectorIndex()
	if len(req.QueryVector) > 0 && idx != nil && idx.Len() > 0 {
		ef := idx.SearchExpansion(req.TopK)
		hits := idx.Search(req.QueryVector, req.TopK, ef, allowed)
		shortlist := make(map[string]struct{}, len(hits))
		for _, h := range hits {
			shortlist[h.ID] = struct{}{}
		}
		return shortlist
	}

	tokens := domain.Tokenize(req.QueryText)
	shortlist := make(map[string]struct{})
	for _, token := range tokens {
		for id := range s.InvertedPostings(token) {
			if _, ok := allowed[id]; ok {
				shortlist[id] = struct{}{}
			}
		}
	}
	return shortlist
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	if len(a) > len(b) {
		a, b = b, a
	}
	out := make(map[string]struct{}, len(a))
	for id := range a {
		if _, ok := b[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func isDominantContradicts(supports, contradicts int) bool {
	return contradicts > supports
}

// scoreClaim computes stance counts, average source quality, BM25, the
// fused claim score, and the enrichment fields from result_projection.rs.
func scoreClaim(s *store.Store, req Request, claim *domain.Claim) Result {
	evidence := s.EvidenceForClaim(claim.ClaimID)
	citations := make([]Citation, 0, len(evidence))
	var supports, contradicts int
	var qualitySum float32
	for _, e := range evidence {
		switch e.Stance {
		case domain.StanceSupports:
			supports++
		case domain.StanceContradicts:
			contradicts++
		}
		qualitySum += e.SourceQuality
		citations = append(citations, Citation{
			EvidenceID:    e.EvidenceID,
			SourceID:      e.SourceID,
			Stance:        e.Stance,
			SourceQuality: e.SourceQuality,
		})
	}
	var avgQuality float32
	if len(evidence) > 0 {
		avgQuality = qualitySum / float32(len(evidence))
	}

	docTokens := s.DocTokens(claim.ClaimID)
	bm25 := ranking.BM25Score(req.QueryText, docTokens, queryDocFreq(s, req.QueryText), s.TotalDocs(), s.AvgDocLen())
	score := ranking.ScoreClaimWithBM25(req.QueryText, claim, avgQuality, ranking.Signals{Supports: supports, Contradicts: contradicts}, bm25)

	if len(req.QueryVector) > 0 {
		if sim, ok := cosineSimilarityFor(s.VectorIndex(), claim.ClaimID, req.QueryVector); ok {
			score += cosineFeatureWeight * sim
		}
	}

	result := Result{
		ClaimID:         claim.ClaimID,
		CanonicalText:   claim.CanonicalText,
		Score:           score,
		Supports:        supports,
		Contradicts:     contradicts,
		Citations:       citations,
		ClaimConfidence: claim.Confidence,
		ConfidenceBand:  confidenceBandFor(claim.Confidence),
		ClaimType:       claim.ClaimType,
		ValidFrom:       claim.ValidFrom,
		ValidTo:         claim.ValidTo,
		CreatedAt:       claim.CreatedAt,
		UpdatedAt:       claim.UpdatedAt,
	}
	if stance, ok := dominantStanceFor(supports, contradicts); ok {
		result.DominantStance = &stance
	}
	if total := supports + contradicts; total > 0 {
		risk := float32(contradicts) / float32(total)
		result.ContradictionRisk = &risk
	}
	return result
}

// cosineFeatureWeight is the additional weighted feature applied when a
// query vector is supplied, per spec.md §4.8's "add a cosine-similarity
// term as an additional weighted feature".
const cosineFeatureWeight = 0.2

// cosineSimilarityFor looks up claimID's indexed vector and returns its
// cosine similarity to query (both normalized internally). ok is false if
// the index is nil or claimID was never upserted with a vector.
func cosineSimilarityFor(idx *ann.Index, claimID string, query []float32) (float32, bool) {
	if idx == nil {
		return 0, false
	}
	vec, ok := idx.VectorFor(claimID)
	if !ok {
		return 0, false
	}
	return 1 - ann.CosineDistance(query, vec), true
}

// queryDocFreq builds the document-frequency map ranking.BM25Score needs,
// scoped to just the query's own tokens rather than materializing one entry
// per corpus term.
func queryDocFreq(s *store.Store, queryText string) map[string]int {
	tokens := domain.Tokenize(queryText)
	freq := make(map[string]int, len(tokens))
	for _, t := range tokens {
		if _, ok := freq[t]; !ok {
			freq[t] = s.DocFreq(t)
		}
	}
	return freq
}

func confidenceBandFor(confidence float32) ConfidenceBand {
	switch {
	case confidence >= 0.8:
		return ConfidenceHigh
	case confidence >= 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

func dominantStanceFor(supports, contradicts int) (domain.Stance, bool) {
	switch {
	case supports == 0 && contradicts == 0:
		return "", false
	case supports > contradicts:
		return domain.StanceSupports, true
	case contradicts > supports:
		return domain.StanceContradicts, true
	default:
		return "balanced", true
	}
}

// temporalAnnotationForClaim mirrors result_projection.rs's
// temporal_annotation_for_claim.
func temporalAnnotationForClaim(claim *domain.Claim, from, to *int64) (TemporalMatchMode, bool) {
	hasEvent := claim.EventTimeUnix != nil
	hasValidity := claim.ValidFrom != nil || claim.ValidTo != nil

	eventMatch := hasEvent && valueInTimeRange(*claim.EventTimeUnix, from, to)
	validityMatch := hasValidity && timeWindowsOverlap(claim.ValidFrom, claim.ValidTo, from, to)

	switch {
	case hasEvent && hasValidity:
		return TemporalEventAndValidityWindow, eventMatch && validityMatch
	case hasEvent:
		return TemporalEventTime, eventMatch
	case hasValidity:
		return TemporalValidityWindow, validityMatch
	default:
		return TemporalNoData, false
	}
}

func valueInTimeRange(value int64, from, to *int64) bool {
	if from != nil && value < *from {
		return false
	}
	if to != nil && value > *to {
		return false
	}
	return true
}

func timeWindowsOverlap(aFrom, aTo, bFrom, bTo *int64) bool {
	lo := int64(-1 << 62)
	hi := int64(1 << 62)
	aLo, aHi, bLo, bHi := lo, hi, lo, hi
	if aFrom != nil {
		aLo = *aFrom
	}
	if aTo != nil {
		aHi = *aTo
	}
	if bFrom != nil {
		bLo = *bFrom
	}
	if bTo != nil {
		bHi = *bTo
	}
	return aLo <= bHi && bLo <= aHi
}
