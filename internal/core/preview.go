package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
)

// DefaultPreviewSamples is the number of enriched rows a preview returns
// when the caller does not ask for a specific count.
const DefaultPreviewSamples = 10

// PreviewResult describes what storing a CSV would do, without storing it.
type PreviewResult struct {
	Total            int           `json:"total"`
	Samples          []EnrichedRow `json:"samples"`
	Warnings         []CellWarning `json:"warnings,omitempty"`
	Invalid          []FieldError  `json:"invalid,omitempty"`
	ProcessingTimeMs int64         `json:"processing_time_ms"`
}

// Valid reports whether every previewed row would pass validation.
func (p *PreviewResult) Valid() bool { return len(p.Invalid) == 0 }

// Preview loads, validates and enriches the CSV at path but opens no
// database connection. Validation failures are reported in the result
// rather than returned and invalid rows are left out of the samples;
// samples <= 0 selects DefaultPreviewSamples.
func (s *Service) Preview(ctx context.Context, path string, samples int) (*PreviewResult, error) {
	start := time.Now()
	if samples <= 0 {
		samples = DefaultPreviewSamples
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	rows, warnings, err := LoadCSV(f, s.opts.MaxRows)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := &PreviewResult{Total: len(rows), Warnings: warnings}

	var verr *ValidationError
	if err := ValidateRows(rows); errors.As(err, &verr) {
		result.Invalid = verr.Fields
	} else if err != nil {
		return nil, err
	}

	// Enrich only what ProcessCSV would store.
	accepted, _, err := partitionRows(rows)
	if err != nil {
		return nil, err
	}
	batch := make([]Row, len(accepted))
	for i, pos := range accepted {
		batch[i] = rows[pos]
	}
	enriched, err := Enrich(s.pipeline, batch)
	if err != nil {
		return nil, fmt.Errorf("enrich: %w", err)
	}
	result.Samples = enriched[:min(samples, len(enriched))]
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	return result, nil
}
