package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dashlabs/dash/internal/api"
	"github.com/dashlabs/dash/internal/domain"
	"github.com/dashlabs/dash/internal/testutil"
	"github.com/dashlabs/dash/internal/wal"
	"github.com/dashlabs/dash/pkg/config"
)

func newTestServer(t *testing.T) *api.Server {
	t.Helper()
	c := testutil.NewTempCore(t, nil)
	cfg := config.DefaultConfig()
	cfg.Logging.Level = "error" // keep gin quiet under test
	return api.NewServer(c, cfg)
}

func doJSON(t *testing.T, srv *api.Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpointReportsOK(t *testing.T) {
	srv := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestIngestClaimThenRetrieveRoundTrips(t *testing.T) {
	srv := newTestServer(t)

	ingestBody := map[string]interface{}{
		"claim": domain.Claim{
			ClaimID:       "c1",
			TenantID:      "tenant-a",
			CanonicalText: "the api ingest handler accepts a claim bundle",
			Confidence:    0.9,
		},
	}
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/claims", ingestBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	retrieveBody := map[string]interface{}{
		"tenant_id":  "tenant-a",
		"query_text": "ingest handler claim bundle",
		"top_k":      5,
	}
	rec = doJSON(t, srv, http.MethodPost, "/api/v1/retrieve", retrieveBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var envelope struct {
		Data struct {
			Results []struct {
				ClaimID string `json:"ClaimID"`
			} `json:"Results"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(envelope.Data.Results) != 1 || envelope.Data.Results[0].ClaimID != "c1" {
		t.Fatalf("expected claim c1 in results, got %+v", envelope.Data.Results)
	}
}

func TestIngestClaimRejectsOversizedCanonicalText(t *testing.T) {
	srv := newTestServer(t)

	oversized := make([]byte, api.MaxCanonicalTextLength+1)
	for i := range oversized {
		oversized[i] = 'a'
	}

	ingestBody := map[string]interface{}{
		"claim": domain.Claim{
			ClaimID:       "c2",
			TenantID:      "tenant-a",
			CanonicalText: string(oversized),
			Confidence:    0.9,
		},
	}
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/claims", ingestBody)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestReplicationDeltaEndpointShipsWireFrame(t *testing.T) {
	srv := newTestServer(t)

	ingestBody := map[string]interface{}{
		"claim": domain.Claim{
			ClaimID:       "c-rep",
			TenantID:      "tenant-a",
			CanonicalText: "replicated claim",
			Confidence:    0.9,
		},
	}
	rec := doJSON(t, srv, http.MethodPost, "/api/v1/claims", ingestBody)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, srv, http.MethodGet, "/api/v1/replication/delta?from_offset=0&max_records=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	lines := strings.Split(strings.TrimRight(rec.Body.String(), "\n"), "\n")
	delta, err := wal.DecodeDeltaFrame(lines)
	if err != nil {
		t.Fatalf("decode delta frame: %v", err)
	}
	if delta.NeedsResync || len(delta.WalLines) != 1 {
		t.Fatalf("unexpected delta frame: %+v", delta)
	}
	if !strings.HasPrefix(delta.WalLines[0], "C\t") {
		t.Fatalf("expected a claim record in the delta, got %q", delta.WalLines[0])
	}
}

func TestAPIKeyAuthMiddlewareRejectsMissingKey(t *testing.T) {
	c := testutil.NewTempCore(t, nil)
	cfg := config.DefaultConfig()
	cfg.RestAPI.APIKey = "secret"
	srv := api.NewServer(c, cfg)

	rec := doJSON(t, srv, http.MethodGet, "/api/v1/segments/health", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", rec.Code, rec.Body.String())
	}
}
