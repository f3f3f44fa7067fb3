// Package ranking scores claims against a query: lexical overlap, BM25 over
// the store's corpus statistics, and the weighted feature-fusion claim
// score that blends confidence, source quality, and stance counts.
package ranking

import (
	"math"

	"github.com/dashlabs/dash/internal/domain"
)

// Signals carries the support/contradiction counts used by ScoreClaim.
type Signals struct {
	Supports    int
	Contradicts int
}

// LexicalOverlapScore is the fraction of query tokens present (by presence,
// not frequency) in the document's token multiset.
func LexicalOverlapScore(query, text string) float32 {
	queryTokens := domain.Tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}
	textTokens := domain.Tokenize(text)
	textSet := make(map[string]struct{}, len(textTokens))
	for _, t := range textTokens {
		textSet[t] = struct{}{}
	}

	hits := 0
	for _, t := range queryTokens {
		if _, ok := textSet[t]; ok {
			hits++
		}
	}
	return float32(hits) / float32(len(queryTokens))
}

// BM25Score scores a document's already-tokenized text against a query
// using k1=1.2, b=0.75 and the classic idf formula. Returns 0 when the
// corpus is empty, the query has no tokens, or avg_doc_len is effectively
// zero. Never returns a negative score.
func BM25Score(query string, docTokens []string, docFreq map[string]int, totalDocs int, avgDocLen float32) float32 {
	if totalDocs == 0 || len(docTokens) == 0 || avgDocLen <= epsilon32 {
		return 0
	}
	queryTokens := domain.Tokenize(query)
	if len(queryTokens) == 0 {
		return 0
	}

	tf := make(map[string]int, len(docTokens))
	for _, t := range docTokens {
		tf[t]++
	}

	const k1 = float32(1.2)
	const b = float32(0.75)
	docLen := float32(len(docTokens))

	var score float32
	for _, token := range queryTokens {
		termTF := float32(tf[token])
		if termTF <= 0 {
			continue
		}
		df := float32(docFreq[token])
		idf := float32(math.Log(float64(((float32(totalDocs) - df + 0.5) / (df + 0.5)) + 1.0)))
		denom := termTF + k1*(1.0-b+b*(docLen/avgDocLen))
		if denom < epsilon32 {
			denom = epsilon32
		}
		score += idf * ((termTF * (k1 + 1.0)) / denom)
	}
	if score < 0 {
		return 0
	}
	return score
}

const epsilon32 = float32(1.1920929e-7) // float32 machine epsilon (2^-23), matching f32::EPSILON

// ScoreClaim computes the weighted feature-fusion claim score:
// 0.6*overlap + 0.08*supports - 0.10*contradicts + 0.15*avg_source_quality + 0.25*confidence.
func ScoreClaim(query string, claim *domain.Claim, avgSourceQuality float32, signals Signals) float32 {
	semantic := LexicalOverlapScore(query, claim.CanonicalText)
	supportScore := float32(signals.Supports) * 0.08
	contradictionPenalty := float32(signals.Contradicts) * 0.1
	quality := avgSourceQuality * 0.15
	confidence := claim.Confidence * 0.25

	return (semantic * 0.6) + supportScore - contradictionPenalty + quality + confidence
}

// ScoreClaimWithBM25 blends ScoreClaim with a BM25 signal: 0.72*base + 0.28*bm25.
func ScoreClaimWithBM25(query string, claim *domain.Claim, avgSourceQuality float32, signals Signals, bm25 float32) float32 {
	base := ScoreClaim(query, claim, avgSourceQuality, signals)
	return (base * 0.72) + (bm25 * 0.28)
}
