// Package core runs conversion batches end to end: it turns request bodies
// and CSV files into rows, enriches them, and stores each row through the
// persistence gateway. This package has no HTTP dependencies and is shared
// by the API server and the batch CLI.
package core

import (
	"github.com/JonMunkholm/convpipe/internal/enrich"
)

// Row is one input observation as received from a request body or a CSV file.
type Row struct {
	IPAddress        string   `json:"ip_address" validate:"required,max=15"`
	MarketingChannel string   `json:"marketing_channel" validate:"required,max=50"`
	Purchase         *float64 `json:"purchase,omitempty" validate:"omitempty,gte=0"`
	State            string   `json:"state" validate:"required,max=50"`
	TimeSpentSeconds *int64   `json:"time_spent_seconds,omitempty" validate:"omitempty,gte=0,lte=2147483647"`

	// Line is the CSV line the row was read from; zero for request bodies.
	Line int `json:"-"`
}

// Batch is the POST /process_data/ request body.
type Batch struct {
	Data []Row `json:"data" validate:"required,dive"`
}

// EnrichedRow is a Row plus the columns added by the pipeline.
type EnrichedRow struct {
	Row
	Converted            int64    `json:"converted"`
	StateAbbreviation    *string  `json:"state_abbreviation"`
	PurchaseNormalized   *float64 `json:"purchase_normalized"`
	Percentile85State    int64    `json:"percentile_85_state"`
	Percentile85National int64    `json:"percentile_85_national"`
}

// Fields returns the row as an insert map. Missing values are untyped nil so
// the gateway writes NULL.
func (r EnrichedRow) Fields() map[string]any {
	return map[string]any{
		enrich.ColIPAddress:            r.IPAddress,
		enrich.ColMarketingChannel:     r.MarketingChannel,
		enrich.ColPurchase:             deref(r.Purchase),
		enrich.ColState:                r.State,
		enrich.ColTimeSpentSeconds:     deref(r.TimeSpentSeconds),
		enrich.ColConverted:            r.Converted,
		enrich.ColStateAbbreviation:    deref(r.StateAbbreviation),
		enrich.ColPurchaseNormalized:   deref(r.PurchaseNormalized),
		enrich.ColPercentile85State:    r.Percentile85State,
		enrich.ColPercentile85National: r.Percentile85National,
	}
}

func deref[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// RowFailure records a row that was rejected or whose insert failed.
type RowFailure struct {
	Row   int    `json:"row"`            // zero-based position in the batch
	Line  int    `json:"line,omitempty"` // CSV line, when read from a file
	Code  string `json:"code"`
	Error string `json:"error"`
}

// BatchResult summarizes one processed batch.
type BatchResult struct {
	BatchID  string       `json:"batch_id"`
	Source   string       `json:"source"`
	Total    int          `json:"total"`
	Inserted int          `json:"inserted"`
	IDs      []int64      `json:"ids"`
	Failures []RowFailure `json:"failures,omitempty"`

	// Aborted is set when the abort policy stopped the batch early.
	Aborted bool `json:"aborted,omitempty"`
}

// OK reports whether every row was stored.
func (b *BatchResult) OK() bool {
	return len(b.Failures) == 0 && b.Inserted == b.Total
}

// Batch sources, used as metric labels.
const (
	SourceAPI = "api"
	SourceCSV = "csv"
)

// SuccessMessage reports a batch whose rows were all stored.
const SuccessMessage = "Data processed and stored successfully"
