package wal

import (
	"fmt"
	"strconv"
	"strings"
)

// Follower wire frames: the line-oriented rendering of DeltaResponse and
// ExportResponse a leader ships to pulling followers. Frames carry raw WAL
// lines verbatim; only the header lines are framing.

const (
	frameStatusOK       = "status=ok"
	exportSnapshotLabel = "SNAPSHOT"
	exportWalLabel      = "WAL"
)

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// EncodeDeltaFrame renders a delta response as its wire frame:
// status, needs_resync, offsets, record count, then the raw WAL lines.
func EncodeDeltaFrame(d *DeltaResponse) []string {
	lines := make([]string, 0, 6+len(d.WalLines))
	lines = append(lines,
		frameStatusOK,
		"needs_resync="+boolFlag(d.NeedsResync),
		"from_offset="+strconv.Itoa(d.FromOffset),
		"next_offset="+strconv.Itoa(d.NextOffset),
		"total_records="+strconv.Itoa(d.TotalRecords),
		"records="+strconv.Itoa(len(d.WalLines)),
	)
	return append(lines, d.WalLines...)
}

// DecodeDeltaFrame parses a delta wire frame back into a DeltaResponse.
func DecodeDeltaFrame(lines []string) (*DeltaResponse, error) {
	if len(lines) < 6 || lines[0] != frameStatusOK {
		return nil, ParseError("malformed delta frame header")
	}
	needsResync, err := frameFlag(lines[1], "needs_resync")
	if err != nil {
		return nil, err
	}
	fromOffset, err := frameInt(lines[2], "from_offset")
	if err != nil {
		return nil, err
	}
	nextOffset, err := frameInt(lines[3], "next_offset")
	if err != nil {
		return nil, err
	}
	totalRecords, err := frameInt(lines[4], "total_records")
	if err != nil {
		return nil, err
	}
	records, err := frameInt(lines[5], "records")
	if err != nil {
		return nil, err
	}
	if records < 0 || len(lines)-6 < records {
		return nil, ParseError("delta frame truncated before its WAL lines")
	}
	return &DeltaResponse{
		FromOffset:   fromOffset,
		NextOffset:   nextOffset,
		TotalRecords: totalRecords,
		NeedsResync:  needsResync,
		WalLines:     append([]string(nil), lines[6:6+records]...),
	}, nil
}

// EncodeExportFrame renders a full-state export as its wire frame:
// status, record counts, then labeled snapshot and WAL sections.
func EncodeExportFrame(e *ExportResponse) []string {
	lines := make([]string, 0, 5+len(e.SnapshotLines)+len(e.WalLines))
	lines = append(lines,
		frameStatusOK,
		"snapshot_records="+strconv.Itoa(len(e.SnapshotLines)),
		"wal_records="+strconv.Itoa(len(e.WalLines)),
		exportSnapshotLabel,
	)
	lines = append(lines, e.SnapshotLines...)
	lines = append(lines, exportWalLabel)
	return append(lines, e.WalLines...)
}

// DecodeExportFrame parses an export wire frame back into an
// ExportResponse.
func DecodeExportFrame(lines []string) (*ExportResponse, error) {
	if len(lines) < 5 || lines[0] != frameStatusOK {
		return nil, ParseError("malformed export frame header")
	}
	snapshotRecords, err := frameInt(lines[1], "snapshot_records")
	if err != nil {
		return nil, err
	}
	walRecords, err := frameInt(lines[2], "wal_records")
	if err != nil {
		return nil, err
	}
	if lines[3] != exportSnapshotLabel {
		return nil, ParseError("export frame missing SNAPSHOT section")
	}
	walLabelIdx := 4 + snapshotRecords
	if snapshotRecords < 0 || walRecords < 0 || walLabelIdx >= len(lines) || lines[walLabelIdx] != exportWalLabel {
		return nil, ParseError("export frame missing WAL section")
	}
	if len(lines)-walLabelIdx-1 < walRecords {
		return nil, ParseError("export frame truncated before its WAL lines")
	}
	return &ExportResponse{
		SnapshotLines: append([]string(nil), lines[4:walLabelIdx]...),
		WalLines:      append([]string(nil), lines[walLabelIdx+1:walLabelIdx+1+walRecords]...),
	}, nil
}

func frameInt(line, key string) (int, error) {
	raw, ok := strings.CutPrefix(line, key+"=")
	if !ok {
		return 0, ParseError(fmt.Sprintf("expected %s= line, got %q", key, line))
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ParseError(fmt.Sprintf("invalid %s value %q", key, raw))
	}
	return v, nil
}

func frameFlag(line, key string) (bool, error) {
	v, err := frameInt(line, key)
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, ParseError(fmt.Sprintf("invalid %s flag %d", key, v))
	}
}
