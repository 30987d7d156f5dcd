package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/partnerledger/internal/service"
)

func applyOverrides(export *service.LegacyExport, since, cutover string) error {
	if export == nil {
		return fmt.Errorf("export is nil")
	}
	if raw := strings.TrimSpace(since); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("since must be RFC3339: %w", err)
		}
		export.Since = parsed.UTC()
	}
	if raw := strings.TrimSpace(cutover); raw != "" {
		if _, err := time.Parse("2006-01", raw); err != nil {
			return fmt.Errorf("cutover must be YYYY-MM: %w", err)
		}
		export.CutoverMonth = raw
	}
	return nil
}
