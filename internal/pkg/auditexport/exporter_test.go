package auditexport

import (
	"testing"
	"time"
)

func TestObjectKey(t *testing.T) {
	since := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	got := objectKey(since, until)
	want := "audit/2025/06/01/audit-20250601T000000Z-20250602T000000Z.jsonl"
	if got != want {
		t.Fatalf("objectKey = %q, want %q", got, want)
	}
}

func TestLoadConfigDisabledWithoutBucket(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.IsEnabled() {
		t.Fatalf("export must be disabled without AUDIT_EXPORT_S3_BUCKET")
	}
}
