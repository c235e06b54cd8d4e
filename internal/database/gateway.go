// Package database is the persistence gateway: it turns enriched rows into
// parameterized statements against PostgreSQL and reads them back.
//
// A Gateway wraps exactly one connection for one unit of work (a request or
// a batch). Callers Connect, use it, and Close it on every exit path. Every
// operation returns (value, error); failures are logged once here with the
// operation and table and then returned to the caller.
package database

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sethvargo/go-retry"

	"github.com/JonMunkholm/convpipe/internal/logging"
)

var (
	// ErrNotConnected is returned by operations on a closed gateway.
	ErrNotConnected = errors.New("database: not connected")

	// ErrInvalidIdentifier is returned for table or column names that are not
	// plain SQL identifiers.
	ErrInvalidIdentifier = errors.New("database: invalid identifier")

	// ErrNotFound is returned by Delete when no row has the given id.
	ErrNotFound = errors.New("database: row not found")

	// ErrConstraint wraps integrity violations reported by the server.
	ErrConstraint = errors.New("database: constraint violation")

	// ErrMissingURL is returned by Connect without a connection string.
	ErrMissingURL = errors.New("database: connection string is empty")

	errNoFields = errors.New("database: insert needs at least one field")
)

var (
	identifierRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	psql         = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
)

const (
	defaultQueryTimeout   = 10 * time.Second
	defaultConnectTimeout = 5 * time.Second
	defaultRetryBackoff   = 200 * time.Millisecond
)

// IDColumn is the store-generated identity column.
const IDColumn = "id"

// Conn is the subset of *pgx.Conn the gateway uses.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close(ctx context.Context) error
}

// Options configures Connect.
type Options struct {
	URL            string
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration

	// ConnectRetries is the number of extra dial attempts after a failed
	// one, spaced by exponential backoff starting at RetryBackoff.
	ConnectRetries uint64
	RetryBackoff   time.Duration
}

// Gateway executes statements over a single connection.
type Gateway struct {
	conn         Conn
	queryTimeout time.Duration
}

// Connect opens one connection to the store described by opts.URL.
func Connect(ctx context.Context, opts Options) (*Gateway, error) {
	if opts.URL == "" {
		return nil, ErrMissingURL
	}
	cfg, err := pgx.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	base := opts.RetryBackoff
	if base <= 0 {
		base = defaultRetryBackoff
	}
	logger := logging.FromContext(ctx)

	var conn *pgx.Conn
	attempt := 0
	backoff := retry.WithMaxRetries(opts.ConnectRetries, retry.NewExponential(base))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		connectCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		c, err := pgx.ConnectConfig(connectCtx, cfg)
		if err != nil {
			var connErr *pgconn.ConnectError
			if errors.As(err, &connErr) && ctx.Err() == nil {
				logger.Warn("database connect attempt failed", "attempt", attempt, "host", cfg.Host, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		conn = c
		return nil
	})
	if err != nil {
		logger.Error("database connect failed", "host", cfg.Host, "database", cfg.Database, "attempts", attempt, "error", err)
		return nil, fmt.Errorf("connect: %w", err)
	}
	return New(conn, opts.QueryTimeout), nil
}

// New wraps an open connection. A non-positive queryTimeout uses 10s.
func New(conn Conn, queryTimeout time.Duration) *Gateway {
	if queryTimeout <= 0 {
		queryTimeout = defaultQueryTimeout
	}
	return &Gateway{conn: conn, queryTimeout: queryTimeout}
}

// Close releases the connection. Closing twice is a no-op.
func (g *Gateway) Close(ctx context.Context) error {
	if g == nil || g.conn == nil {
		return nil
	}
	err := g.conn.Close(ctx)
	g.conn = nil
	if err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// Insert writes one row into table and returns its assigned id. fields maps
// column names to scalar values; nil becomes NULL. The statement runs in its
// own transaction, committed on success and rolled back otherwise.
func (g *Gateway) Insert(ctx context.Context, table string, fields map[string]any) (id int64, err error) {
	defer func() { g.logFailure(ctx, "insert", table, err) }()

	if g.conn == nil {
		return 0, ErrNotConnected
	}
	if len(fields) == 0 {
		return 0, errNoFields
	}
	qt, err := QuoteIdentifier(table)
	if err != nil {
		return 0, err
	}
	values := make(map[string]any, len(fields))
	for col, v := range fields {
		qc, err := QuoteIdentifier(col)
		if err != nil {
			return 0, err
		}
		values[qc] = v
	}
	query, args, err := psql.Insert(qt).
		SetMap(values).
		Suffix("RETURNING " + pgx.Identifier{IDColumn}.Sanitize()).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.queryTimeout)
	defer cancel()

	err = g.inTx(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, query, args...).Scan(&id)
	})
	if err != nil {
		return 0, classify(err)
	}
	return id, nil
}

// Delete removes the row with the given id from table. ErrNotFound is
// returned, and the transaction rolled back, when no row matched.
func (g *Gateway) Delete(ctx context.Context, table string, id int64) (err error) {
	defer func() { g.logFailure(ctx, "delete", table, err) }()

	if g.conn == nil {
		return ErrNotConnected
	}
	qt, err := QuoteIdentifier(table)
	if err != nil {
		return err
	}
	query, args, err := psql.Delete(qt).
		Where(sq.Eq{pgx.Identifier{IDColumn}.Sanitize(): id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.queryTimeout)
	defer cancel()

	err = g.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s id=%d", ErrNotFound, table, id)
		}
		return nil
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// Fetch runs an arbitrary read query and returns every row as a column→value
// map in result order.
func (g *Gateway) Fetch(ctx context.Context, query string, args ...any) (rows []map[string]any, err error) {
	defer func() { g.logFailure(ctx, "fetch", "", err) }()

	if g.conn == nil {
		return nil, ErrNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, g.queryTimeout)
	defer cancel()

	if err := pgxscan.Select(ctx, g.conn, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return rows, nil
}

// inTx runs fn inside a transaction.
func (g *Gateway) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := g.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (g *Gateway) logFailure(ctx context.Context, op, table string, err error) {
	if err == nil {
		return
	}
	args := []any{"op", op, "error", err}
	if table != "" {
		args = append(args, "table", table)
	}
	if errors.Is(err, ErrNotFound) {
		logging.FromContext(ctx).Warn("database operation found nothing", args...)
		return
	}
	logging.FromContext(ctx).Error("database operation failed", args...)
}

// classify marks integrity violations (SQLSTATE class 23) with ErrConstraint.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 && pgErr.Code[:2] == "23" {
		return fmt.Errorf("%w: %w", ErrConstraint, err)
	}
	return err
}

// QuoteIdentifier validates name as a plain SQL identifier and returns it
// double-quoted.
func QuoteIdentifier(name string) (string, error) {
	if !identifierRe.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return pgx.Identifier{name}.Sanitize(), nil
}
