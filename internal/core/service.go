package core

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JonMunkholm/convpipe/internal/config"
	"github.com/JonMunkholm/convpipe/internal/database"
	"github.com/JonMunkholm/convpipe/internal/enrich"
	"github.com/JonMunkholm/convpipe/internal/frame"
	"github.com/JonMunkholm/convpipe/internal/logging"
)

// Store is the part of *database.Gateway the service uses.
type Store interface {
	Insert(ctx context.Context, table string, fields map[string]any) (int64, error)
	Delete(ctx context.Context, table string, id int64) error
	ListRecords(ctx context.Context, table string) ([]database.ProcessedRecord, error)
	EnsureSchema(ctx context.Context, table string) error
	Close(ctx context.Context) error
}

// Connector opens a Store for one unit of work.
type Connector func(ctx context.Context) (Store, error)

// GatewayConnector returns a Connector that opens a fresh database
// connection per call.
func GatewayConnector(opts database.Options) Connector {
	return func(ctx context.Context) (Store, error) {
		gw, err := database.Connect(ctx, opts)
		if err != nil {
			return nil, err
		}
		return gw, nil
	}
}

// Options configures a Service.
type Options struct {
	Table string

	// AbortOnRowError stops a batch at the first failed insert. By default
	// the remaining rows are still attempted.
	AbortOnRowError bool

	// MaxRows limits rows per batch; 0 means no limit.
	MaxRows int

	// MaxConcurrent bounds batches inserting at once and MaxWait how long a
	// batch waits for a slot. Zero selects the BatchLimiter defaults.
	MaxConcurrent int
	MaxWait       time.Duration

	// States overrides the state abbreviation table.
	States *enrich.StateTable
}

// Service enriches and stores batches.
type Service struct {
	connect  Connector
	pipeline *enrich.Pipeline
	opts     Options
	limiter  *BatchLimiter
	registry *prometheus.Registry
	metrics  *Metrics
}

// NewService creates a Service. Each operation opens its own store
// connection through connect and closes it before returning.
func NewService(connect Connector, opts Options) *Service {
	if opts.Table == "" {
		opts.Table = "processed_data"
	}
	states := enrich.USStates()
	if opts.States != nil {
		states = *opts.States
	}
	registry := prometheus.NewRegistry()
	return &Service{
		connect:  connect,
		pipeline: enrich.Default(states),
		opts:     opts,
		limiter:  NewBatchLimiter(opts.MaxConcurrent, opts.MaxWait),
		registry: registry,
		metrics:  NewMetrics(registry),
	}
}

// NewServiceFromConfig wires a Service to PostgreSQL using cfg.
func NewServiceFromConfig(cfg *config.Config) *Service {
	return NewService(GatewayConnector(database.Options{
		URL:            cfg.Database.URL,
		ConnectTimeout: cfg.Database.ConnectTimeout,
		QueryTimeout:   cfg.Database.QueryTimeout,
		ConnectRetries: uint64(cfg.Database.ConnectRetries),
		RetryBackoff:   cfg.Database.RetryBackoff,
	}), Options{
		Table:           cfg.Database.Table,
		AbortOnRowError: cfg.Ingest.AbortOnRowError(),
		MaxRows:         cfg.Ingest.MaxRows,
		MaxConcurrent:   cfg.Ingest.MaxConcurrent,
		MaxWait:         cfg.Ingest.MaxWait,
	})
}

// WaitForBatches blocks until no batch is inserting or ctx is done.
func (s *Service) WaitForBatches(ctx context.Context) error {
	if active := s.limiter.Active(); active > 0 {
		logging.FromContext(ctx).Info("waiting for batches", "active", active, "capacity", s.limiter.Capacity())
	}
	return s.limiter.WaitForDrain(ctx)
}

// Gatherer exposes the service metrics.
func (s *Service) Gatherer() prometheus.Gatherer { return s.registry }

// Table returns the table rows are stored in.
func (s *Service) Table() string { return s.opts.Table }

// Steps lists the enrichment steps in the order they run.
func (s *Service) Steps() []string { return s.pipeline.Steps() }

// Process validates and enriches rows, then inserts them one by one.
//
// A validation failure rejects the batch before anything is stored. An
// insert failure is recorded in the result; whether the remaining rows are
// attempted depends on Options.AbortOnRowError. The returned error is
// non-nil only when the batch could not be attempted at all.
func (s *Service) Process(ctx context.Context, source string, rows []Row) (*BatchResult, error) {
	if s.opts.MaxRows > 0 && len(rows) > s.opts.MaxRows {
		return nil, fmt.Errorf("%w: %d rows, limit is %d", ErrTooManyRows, len(rows), s.opts.MaxRows)
	}
	if err := ValidateRows(rows); err != nil {
		return nil, err
	}

	accepted := make([]int, len(rows))
	for i := range accepted {
		accepted[i] = i
	}
	return s.storeBatch(ctx, source, rows, accepted, nil)
}

// ProcessCSV loads the CSV file at path and processes its rows. Cell
// warnings are returned alongside the result.
//
// Unlike Process, a row that fails validation does not reject the file: it
// is reported as a failure with its CSV line and the other rows are
// enriched and stored.
func (s *Service) ProcessCSV(ctx context.Context, path string) (*BatchResult, []CellWarning, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	rows, warnings, err := LoadCSV(f, s.opts.MaxRows)
	if err != nil {
		return nil, nil, fmt.Errorf("load %s: %w", path, err)
	}
	logger := logging.FromContext(ctx)
	for _, w := range warnings {
		logger.Warn("csv cell loaded as missing", "line", w.Line, "column", w.Column, "value", w.Value, "reason", w.Reason)
	}

	accepted, rejected, err := partitionRows(rows)
	if err != nil {
		return nil, nil, err
	}
	result, err := s.storeBatch(ctx, SourceCSV, rows, accepted, rejected)
	return result, warnings, err
}

// storeBatch enriches the rows at the accepted positions and inserts them
// one by one. rejected rows count towards the total and are reported as
// failures. Under the abort policy a rejected row stops the batch just as a
// failed insert does.
func (s *Service) storeBatch(ctx context.Context, source string, rows []Row, accepted []int, rejected []RowFailure) (*BatchResult, error) {
	start := time.Now()
	batchID := uuid.NewString()
	ctx = logging.WithBatchID(ctx, batchID)
	logger := logging.FromContext(ctx)

	result := &BatchResult{
		BatchID:  batchID,
		Source:   source,
		Total:    len(rows),
		IDs:      make([]int64, 0, len(accepted)),
		Failures: rejected,
	}

	stopAt := len(rows)
	for _, f := range rejected {
		s.metrics.RowsFailed.Inc()
		logger.Warn("row rejected", "row", f.Row, "line", f.Line, "error", f.Error)
	}
	if s.opts.AbortOnRowError && len(rejected) > 0 {
		stopAt = rejected[0].Row
	}

	if len(accepted) > 0 && accepted[0] < stopAt {
		if err := s.insertRows(ctx, result, rows, accepted, stopAt); err != nil {
			return nil, err
		}
	}
	if stopAt < len(rows) {
		result.Aborted = true
	}
	slices.SortFunc(result.Failures, func(a, b RowFailure) int { return cmp.Compare(a.Row, b.Row) })

	elapsed := time.Since(start)
	s.metrics.Batches.WithLabelValues(source).Inc()
	s.metrics.BatchDuration.WithLabelValues(source).Observe(elapsed.Seconds())

	logger.Info("batch processed",
		"source", source,
		"total", result.Total,
		"inserted", result.Inserted,
		"failed", len(result.Failures),
		"aborted", result.Aborted,
		"duration_ms", elapsed.Milliseconds(),
	)
	return result, nil
}

// insertRows enriches rows[accepted] as one frame and inserts them in order,
// skipping positions after stopAt. Under the abort policy the first failed
// insert ends the batch.
func (s *Service) insertRows(ctx context.Context, result *BatchResult, rows []Row, accepted []int, stopAt int) error {
	logger := logging.FromContext(ctx)

	batch := make([]Row, len(accepted))
	for i, pos := range accepted {
		batch[i] = rows[pos]
	}
	enriched, err := Enrich(s.pipeline, batch)
	if err != nil {
		return fmt.Errorf("enrich: %w", err)
	}
	s.metrics.RowsProcessed.Add(float64(len(enriched)))

	if err := s.limiter.Acquire(ctx); err != nil {
		return err
	}
	defer s.limiter.Release()

	store, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer closeStore(ctx, store)

	for i, row := range enriched {
		pos := accepted[i]
		if pos > stopAt {
			break
		}
		id, err := store.Insert(ctx, s.opts.Table, row.Fields())
		if err != nil {
			s.metrics.RowsFailed.Inc()
			result.Failures = append(result.Failures, RowFailure{
				Row:   pos,
				Line:  rows[pos].Line,
				Code:  ErrorCode(err),
				Error: err.Error(),
			})
			logger.Warn("row insert failed", "row", pos, "line", rows[pos].Line, "error", err)
			if s.opts.AbortOnRowError {
				result.Aborted = true
				break
			}
			continue
		}
		s.metrics.RowsInserted.Inc()
		result.Inserted++
		result.IDs = append(result.IDs, id)
	}
	return nil
}

// Records returns every stored record ordered by id.
func (s *Service) Records(ctx context.Context) ([]database.ProcessedRecord, error) {
	store, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer closeStore(ctx, store)

	return store.ListRecords(ctx, s.opts.Table)
}

// DeleteRecord removes one stored record.
func (s *Service) DeleteRecord(ctx context.Context, id int64) error {
	store, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer closeStore(ctx, store)

	return store.Delete(ctx, s.opts.Table, id)
}

// EnsureSchema creates the records table when it is missing.
func (s *Service) EnsureSchema(ctx context.Context) error {
	store, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer closeStore(ctx, store)

	return store.EnsureSchema(ctx, s.opts.Table)
}

// summaryColumns are the numeric columns reported by Summary.
var summaryColumns = []string{
	enrich.ColPurchase,
	enrich.ColTimeSpentSeconds,
	enrich.ColConverted,
	enrich.ColPurchaseNormalized,
	enrich.ColPercentile85State,
	enrich.ColPercentile85National,
}

// Summary describes the numeric columns of every stored record.
func (s *Service) Summary(ctx context.Context) ([]enrich.ColumnSummary, error) {
	records, err := s.Records(ctx)
	if err != nil {
		return nil, err
	}
	return enrich.Describe(recordFrame(records), summaryColumns...)
}

func recordFrame(records []database.ProcessedRecord) *frame.Frame {
	f := frame.New(summaryColumns...)
	for _, r := range records {
		f.Append(frame.Record{
			enrich.ColPurchase:             deref(r.Purchase),
			enrich.ColTimeSpentSeconds:     deref(r.TimeSpentSeconds),
			enrich.ColConverted:            deref(r.Converted),
			enrich.ColPurchaseNormalized:   deref(r.PurchaseNormalized),
			enrich.ColPercentile85State:    deref(r.Percentile85State),
			enrich.ColPercentile85National: deref(r.Percentile85National),
		})
	}
	return f
}

func closeStore(ctx context.Context, store Store) {
	if err := store.Close(context.WithoutCancel(ctx)); err != nil {
		logging.FromContext(ctx).Warn("closing store", "error", err)
	}
}
