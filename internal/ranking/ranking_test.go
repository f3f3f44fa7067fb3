package ranking

import (
	"testing"

	"github.com/dashlabs/dash/internal/domain"
)

func TestOverlapScoreHigherForMoreMatchingTerms(t *testing.T) {
	strong := LexicalOverlapScore("company x acquired y", "Company X acquired Company Y")
	weak := LexicalOverlapScore("company x acquired y", "Company Z opened a store")
	if !(strong > weak) {
		t.Fatalf("expected strong (%v) > weak (%v)", strong, weak)
	}
}

func TestScoringPenalizesContradictions(t *testing.T) {
	claim := &domain.Claim{
		ClaimID:       "c1",
		TenantID:      "t1",
		CanonicalText: "Company X acquired Company Y",
		Confidence:    0.9,
	}

	withSupport := ScoreClaim("did company x acquire company y", claim, 0.9, Signals{Supports: 2, Contradicts: 0})
	withContradiction := ScoreClaim("did company x acquire company y", claim, 0.9, Signals{Supports: 2, Contradicts: 2})
	if !(withSupport > withContradiction) {
		t.Fatalf("expected support score (%v) > contradiction score (%v)", withSupport, withContradiction)
	}
}

func TestBM25ScoresRelevantDocHigher(t *testing.T) {
	docA := domain.Tokenize("company x acquired company y")
	docB := domain.Tokenize("weather forecast for tomorrow")
	df := map[string]int{"company": 1, "acquired": 1, "y": 1}
	query := "did company acquire y"

	a := BM25Score(query, docA, df, 2, 4.5)
	b := BM25Score(query, docB, df, 2, 4.5)
	if !(a > b) {
		t.Fatalf("expected doc A score (%v) > doc B score (%v)", a, b)
	}
}

func TestBM25ScoreZeroWhenCorpusEmpty(t *testing.T) {
	if got := BM25Score("query", []string{"a"}, map[string]int{}, 0, 4.5); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}
