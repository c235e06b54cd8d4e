package database

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/georgysavva/scany/v2/pgxscan"
)

//go:embed schema.sql
var schemaSQL string

// RecordColumns lists the persisted columns of a processed record in table
// order, identity first.
var RecordColumns = []string{
	IDColumn,
	"ip_address",
	"marketing_channel",
	"purchase",
	"state",
	"time_spent_seconds",
	"converted",
	"state_abbreviation",
	"purchase_normalized",
	"percentile_85_state",
	"percentile_85_national",
}

// ProcessedRecord is one stored enriched row. Nullable columns are pointers
// so they serialize as JSON null.
type ProcessedRecord struct {
	ID                   int64    `db:"id" json:"id"`
	IPAddress            string   `db:"ip_address" json:"ip_address"`
	MarketingChannel     string   `db:"marketing_channel" json:"marketing_channel"`
	Purchase             *float64 `db:"purchase" json:"purchase"`
	State                string   `db:"state" json:"state"`
	TimeSpentSeconds     *int64   `db:"time_spent_seconds" json:"time_spent_seconds"`
	Converted            *int64   `db:"converted" json:"converted"`
	StateAbbreviation    *string  `db:"state_abbreviation" json:"state_abbreviation"`
	PurchaseNormalized   *float64 `db:"purchase_normalized" json:"purchase_normalized"`
	Percentile85State    *int64   `db:"percentile_85_state" json:"percentile_85_state"`
	Percentile85National *int64   `db:"percentile_85_national" json:"percentile_85_national"`
}

// SchemaDDL returns the CREATE TABLE statement for table.
func SchemaDDL(table string) (string, error) {
	qt, err := QuoteIdentifier(table)
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(schemaSQL, "{{table}}", qt), nil
}

// EnsureSchema creates table when it does not exist yet.
func (g *Gateway) EnsureSchema(ctx context.Context, table string) (err error) {
	defer func() { g.logFailure(ctx, "ensure_schema", table, err) }()

	if g.conn == nil {
		return ErrNotConnected
	}
	ddl, err := SchemaDDL(table)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, g.queryTimeout)
	defer cancel()

	if _, err := g.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// ListRecords returns every record in table ordered by id.
func (g *Gateway) ListRecords(ctx context.Context, table string) (records []ProcessedRecord, err error) {
	defer func() { g.logFailure(ctx, "list", table, err) }()

	if g.conn == nil {
		return nil, ErrNotConnected
	}
	qt, err := QuoteIdentifier(table)
	if err != nil {
		return nil, err
	}
	query, args, err := psql.Select(RecordColumns...).
		From(qt).
		OrderBy(IDColumn).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.queryTimeout)
	defer cancel()

	if err := pgxscan.Select(ctx, g.conn, &records, query, args...); err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	if records == nil {
		records = []ProcessedRecord{}
	}
	return records, nil
}
