package main

import (
	"strings"
	"testing"
	"time"

	"github.com/partnerledger/internal/service"
)

func TestApplyOverrides(t *testing.T) {
	export, err := service.DecodeLegacyExport(strings.NewReader(`{"since":"2024-01-01T00:00:00Z","cutover_month":"2024-06"}`))
	if err != nil {
		t.Fatalf("decode export failed: %v", err)
	}
	if err := applyOverrides(export, "", ""); err != nil {
		t.Fatalf("empty overrides failed: %v", err)
	}
	if export.CutoverMonth != "2024-06" {
		t.Fatalf("cutover should be untouched, got %s", export.CutoverMonth)
	}

	if err := applyOverrides(export, "2023-05-01T08:00:00+08:00", "2024-09"); err != nil {
		t.Fatalf("apply overrides failed: %v", err)
	}
	if !export.Since.Equal(time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("since want 2023-05-01T00:00Z got %s", export.Since)
	}
	if export.CutoverMonth != "2024-09" {
		t.Fatalf("cutover want 2024-09 got %s", export.CutoverMonth)
	}

	if err := applyOverrides(export, "yesterday", ""); err == nil {
		t.Fatalf("expected error for invalid since")
	}
	if err := applyOverrides(export, "", "2024/09"); err == nil {
		t.Fatalf("expected error for invalid cutover")
	}
}

func TestTriggeredByPrefix(t *testing.T) {
	if got := triggeredBy(" alice "); got != "cli:alice" {
		t.Fatalf("want cli:alice got %s", got)
	}
	if got := triggeredBy(""); !strings.HasPrefix(got, "cli:") || got == "cli:" {
		t.Fatalf("unexpected fallback %q", got)
	}
}
