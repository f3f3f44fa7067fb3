package wal

import (
	"strconv"
	"strings"

	"github.com/dashlabs/dash/internal/domain"
)

// Record kinds: one-letter tag in column 0 of every WAL/snapshot line.
const (
	KindClaim    = "C"
	KindEvidence = "E"
	KindEdge     = "G"
	KindVector   = "V"
	KindBarrier  = "B"
)

const listSep = "\x1f" // unit separator: joins list-valued fields within one column

func escapeField(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\t':
			b.WriteString(`\t`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func unescapeField(s string) string {
	var b strings.Builder
	escaped := false
	for _, r := range s {
		if escaped {
			switch r {
			case '\\':
				b.WriteRune('\\')
			case 't':
				b.WriteRune('\t')
			case 'n':
				b.WriteRune('\n')
			case 'r':
				b.WriteRune('\r')
			default:
				b.WriteRune(r)
			}
			escaped = false
			continue
		}
		if r == '\\' {
			escaped = true
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func optInt64(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}

func parseOptInt64(s string) *int64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func optString(p *string) string {
	if p == nil {
		return ""
	}
	return escapeField(*p)
}

func parseOptString(s string) *string {
	if s == "" {
		return nil
	}
	v := unescapeField(s)
	return &v
}

func optClaimType(p *domain.ClaimType) string {
	if p == nil {
		return ""
	}
	return string(*p)
}

func parseOptClaimType(s string) *domain.ClaimType {
	if s == "" {
		return nil
	}
	v := domain.ClaimType(s)
	return &v
}

func joinList(items []string) string {
	escaped := make([]string, len(items))
	for i, it := range items {
		escaped[i] = escapeField(it)
	}
	return strings.Join(escaped, listSep)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, listSep)
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = unescapeField(p)
	}
	return out
}

// EncodeClaim serializes a claim as a 'C' record.
func EncodeClaim(c *domain.Claim) string {
	fields := []string{
		KindClaim,
		escapeField(c.ClaimID),
		escapeField(c.TenantID),
		escapeField(c.CanonicalText),
		strconv.FormatFloat(float64(c.Confidence), 'g', -1, 32),
		optInt64(c.EventTimeUnix),
		joinList(c.Entities),
		joinList(c.EmbeddingIDs),
		optClaimType(c.ClaimType),
		optInt64(c.ValidFrom),
		optInt64(c.ValidTo),
		optInt64(c.CreatedAt),
		optInt64(c.UpdatedAt),
	}
	return strings.Join(fields, "\t")
}

// DecodeClaim parses the tab-separated columns of a 'C' record (excluding
// the kind column).
func DecodeClaim(cols []string) (*domain.Claim, error) {
	if len(cols) < 12 {
		return nil, ParseError("truncated claim record")
	}
	confidence, err := strconv.ParseFloat(cols[3], 32)
	if err != nil {
		return nil, ParseError("invalid confidence field")
	}
	c := &domain.Claim{
		ClaimID:       unescapeField(cols[0]),
		TenantID:      unescapeField(cols[1]),
		CanonicalText: unescapeField(cols[2]),
		Confidence:    float32(confidence),
		EventTimeUnix: parseOptInt64(cols[4]),
		Entities:      splitList(cols[5]),
		EmbeddingIDs:  splitList(cols[6]),
		ClaimType:     parseOptClaimType(cols[7]),
		ValidFrom:     parseOptInt64(cols[8]),
		ValidTo:       parseOptInt64(cols[9]),
		CreatedAt:     parseOptInt64(cols[10]),
		UpdatedAt:     parseOptInt64(cols[11]),
	}
	return c, nil
}

// EncodeEvidence serializes an evidence row as an 'E' record.
func EncodeEvidence(e *domain.Evidence) string {
	fields := []string{
		KindEvidence,
		escapeField(e.EvidenceID),
		escapeField(e.ClaimID),
		escapeField(e.SourceID),
		string(e.Stance),
		strconv.FormatFloat(float64(e.SourceQuality), 'g', -1, 32),
		optString(e.ChunkID),
		optInt64(e.SpanStart),
		optInt64(e.SpanEnd),
		optString(e.DocID),
		optString(e.ExtractionModel),
		optInt64(e.IngestedAt),
	}
	return strings.Join(fields, "\t")
}

// DecodeEvidence parses the columns of an 'E' record.
func DecodeEvidence(cols []string) (*domain.Evidence, error) {
	if len(cols) < 11 {
		return nil, ParseError("truncated evidence record")
	}
	quality, err := strconv.ParseFloat(cols[4], 32)
	if err != nil {
		return nil, ParseError("invalid source_quality field")
	}
	e := &domain.Evidence{
		EvidenceID:      unescapeField(cols[0]),
		ClaimID:         unescapeField(cols[1]),
		SourceID:        unescapeField(cols[2]),
		Stance:          domain.Stance(cols[3]),
		SourceQuality:   float32(quality),
		ChunkID:         parseOptString(cols[5]),
		SpanStart:       parseOptInt64(cols[6]),
		SpanEnd:         parseOptInt64(cols[7]),
		DocID:           parseOptString(cols[8]),
		ExtractionModel: parseOptString(cols[9]),
		IngestedAt:      parseOptInt64(cols[10]),
	}
	return e, nil
}

// EncodeEdge serializes a claim edge as a 'G' record.
func EncodeEdge(edge *domain.ClaimEdge) string {
	fields := []string{
		KindEdge,
		escapeField(edge.EdgeID),
		escapeField(edge.FromClaimID),
		escapeField(edge.ToClaimID),
		string(edge.Relation),
		strconv.FormatFloat(float64(edge.Strength), 'g', -1, 32),
		joinList(edge.ReasonCodes),
	}
	return strings.Join(fields, "\t")
}

// DecodeEdge parses the columns of a 'G' record.
func DecodeEdge(cols []string) (*domain.ClaimEdge, error) {
	if len(cols) < 6 {
		return nil, ParseError("truncated edge record")
	}
	strength, err := strconv.ParseFloat(cols[4], 32)
	if err != nil {
		return nil, ParseError("invalid strength field")
	}
	edge := &domain.ClaimEdge{
		EdgeID:      unescapeField(cols[0]),
		FromClaimID: unescapeField(cols[1]),
		ToClaimID:   unescapeField(cols[2]),
		Relation:    domain.Relation(cols[3]),
		Strength:    float32(strength),
		ReasonCodes: splitList(cols[5]),
	}
	return edge, nil
}

// VectorRecord is the decoded form of a 'V' record.
type VectorRecord struct {
	ClaimID string
	Vector  []float32
}

// EncodeVector serializes a claim's embedding as a 'V' record. Floats are
// written as fixed-point decimal with six fractional digits, so replay
// reproduces each component to that precision on every platform.
func EncodeVector(claimID string, vec []float32) string {
	parts := make([]string, len(vec))
	for i, f := range vec {
		parts[i] = strconv.FormatFloat(float64(f), 'f', 6, 32)
	}
	fields := []string{KindVector, escapeField(claimID), strings.Join(parts, listSep)}
	return strings.Join(fields, "\t")
}

// DecodeVector parses the columns of a 'V' record.
func DecodeVector(cols []string) (*VectorRecord, error) {
	if len(cols) < 2 {
		return nil, ParseError("truncated vector record")
	}
	claimID := unescapeField(cols[0])
	var vec []float32
	if cols[1] != "" {
		parts := strings.Split(cols[1], listSep)
		vec = make([]float32, len(parts))
		for i, p := range parts {
			f, err := strconv.ParseFloat(p, 32)
			if err != nil {
				return nil, ParseError("invalid vector component")
			}
			vec[i] = float32(f)
		}
	}
	return &VectorRecord{ClaimID: claimID, Vector: vec}, nil
}

// BarrierRecord marks a commit boundary: a batch of claim ids committed
// together, with a timestamp.
type BarrierRecord struct {
	CommitID  string
	ItemCount int
	TsUnixMs  int64
	ClaimIDs  []string
}

// EncodeBarrier serializes a commit-barrier as a 'B' record.
func EncodeBarrier(b *BarrierRecord) string {
	fields := []string{
		KindBarrier,
		escapeField(b.CommitID),
		strconv.Itoa(b.ItemCount),
		strconv.FormatInt(b.TsUnixMs, 10),
		joinList(b.ClaimIDs),
	}
	return strings.Join(fields, "\t")
}

// DecodeBarrier parses the columns of a 'B' record.
func DecodeBarrier(cols []string) (*BarrierRecord, error) {
	if len(cols) < 4 {
		return nil, ParseError("truncated barrier record")
	}
	itemCount, err := strconv.Atoi(cols[1])
	if err != nil {
		return nil, ParseError("invalid item_count field")
	}
	ts, err := strconv.ParseInt(cols[2], 10, 64)
	if err != nil {
		return nil, ParseError("invalid ts_unix_ms field")
	}
	return &BarrierRecord{
		CommitID:  unescapeField(cols[0]),
		ItemCount: itemCount,
		TsUnixMs:  ts,
		ClaimIDs:  splitList(cols[3]),
	}, nil
}
