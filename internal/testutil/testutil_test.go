package testutil

import (
	"os"
	"testing"

	"github.com/dashlabs/dash/internal/domain"
)

func TestNewTempCoreIngestsAndRetrieves(t *testing.T) {
	c := NewTempCore(t, nil)

	claim := &domain.Claim{
		ClaimID:       "c1",
		TenantID:      "tenant-a",
		CanonicalText: "temp core smoke test claim",
		Confidence:    0.8,
	}
	if err := c.Ingest(claim, nil, nil); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if c.Store().ClaimsLen() != 1 {
		t.Fatalf("expected 1 claim, got %d", c.Store().ClaimsLen())
	}
}

func TestNewTempCoreUsesDefaultConfigWhenNil(t *testing.T) {
	c := NewTempCore(t, nil)
	if c.Store() == nil {
		t.Fatal("expected a non-nil store")
	}
}

func TestTempDir(t *testing.T) {
	dir := TempDir(t)

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Temp directory doesn't exist: %v", err)
	}
	if !info.IsDir() {
		t.Error("Path is not a directory")
	}
}

func TestTempFile(t *testing.T) {
	content := []byte("test content")
	path := TempFile(t, "test.txt", content)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read temp file: %v", err)
	}

	if string(data) != string(content) {
		t.Errorf("Expected content %q, got %q", string(content), string(data))
	}
}

func TestAssertNoError(t *testing.T) {
	AssertNoError(t, nil)
}

func TestAssertEqual(t *testing.T) {
	AssertEqual(t, 1, 1)
	AssertEqual(t, "test", "test")
	AssertEqual(t, true, true)
}

func TestAssertStringContains(t *testing.T) {
	AssertStringContains(t, "hello world", "world")
	AssertStringContains(t, "hello world", "hello")
	AssertStringContains(t, "hello world", "o w")
}
