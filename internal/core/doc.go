// Package core provides the business logic of the conversion pipeline.
//
// It is independent of any transport: the HTTP server and the ingest CLI
// both drive the same [Service].
//
// # Flow
//
// A batch of [Row] values arrives from a JSON request or from [LoadCSV]:
//
//  1. The row count is checked against [Options.MaxRows]
//  2. Every row is validated. A failure rejects a request batch with a
//     [ValidationError]; a CSV row that fails is recorded as a [RowFailure]
//     with its line and left out of the batch
//  3. The remaining rows are enriched by the default enrich.Pipeline
//  4. A [BatchLimiter] slot and a fresh database connection are taken
//  5. Rows are inserted one at a time; failures are collected per row
//
// Whether an insert failure stops the batch depends on
// [Options.AbortOnRowError]. The connection is closed before Process returns.
//
// # Error Handling
//
// Technical errors are mapped to user-facing messages with [MapError].
// Each category has a code for support reference:
//
//   - DB001-DB005: database errors (constraints, connections, not found)
//   - VAL001-VAL003: validation errors (fields, columns, numbers)
//   - FILE001-FILE003: CSV errors (format, empty, size)
//   - REQ001-REQ004: request errors (body, cancellation, load)
package core
