package warehouse

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNoRows is returned by QueryValue when the query yields no row.
var ErrNoRows = errors.New("query returned no rows")

// StatementError reports a query the warehouse refused to compile, such as
// a syntax error or a reference to a missing table. Retrying cannot fix it.
type StatementError struct {
	Query string
	Err   error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("invalid statement %q: %v", e.Query, e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

// Session is one borrowed connection. It is not safe for concurrent use.
type Session struct {
	id      string
	conn    *sql.Conn
	dialect Dialect

	closeOnce sync.Once
	closeErr  error
}

// ID is the connection id the session was opened for.
func (s *Session) ID() string { return s.id }

// Dialect of the underlying connection.
func (s *Session) Dialect() Dialect { return s.dialect }

// Close returns the connection to its pool. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Exec runs a statement outside of any explicit transaction.
func (s *Session) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// QueryValue runs a query and returns the first column of the first row.
// Byte slices are returned as strings. A query that fails to prepare on a
// healthy connection yields a *StatementError.
func (s *Session) QueryValue(ctx context.Context, query string, args ...any) (any, error) {
	stmt, err := s.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, s.prepareErr(ctx, query, err)
	}
	defer stmt.Close()

	row := stmt.QueryRowContext(ctx, args...)
	var v any
	if err := row.Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, err
	}
	if b, ok := v.([]byte); ok {
		return string(b), nil
	}
	return v, nil
}

// prepareErr separates statement errors from connection trouble: only a
// connection that still answers a ping blames the statement.
func (s *Session) prepareErr(ctx context.Context, query string, err error) error {
	if ctx.Err() != nil || errors.Is(err, driver.ErrBadConn) {
		return err
	}
	if pingErr := s.conn.PingContext(ctx); pingErr != nil {
		return err
	}
	return &StatementError{Query: query, Err: err}
}

// Columns lists a table's column names in declaration order.
func (s *Session) Columns(ctx context.Context, table string) ([]string, error) {
	quoted, err := QuoteIdent(table)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn.QueryContext(ctx, "SELECT * FROM "+quoted+" LIMIT 0")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	return cols, rows.Err()
}

// InTx runs fn inside a transaction, committing on nil and rolling back
// otherwise.
func (s *Session) InTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
			return
		}
		if cErr := sqlTx.Commit(); cErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cErr)
		}
	}()
	return fn(&Tx{tx: sqlTx, dialect: s.dialect})
}

// Tx is a transaction scoped to one Session.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

// Exec runs a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// InsertRows inserts rows into table using a prepared statement. Every row
// must have len(columns) values.
func (t *Tx) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("insert into %s: no columns", table)
	}
	qt, err := QuoteIdent(table)
	if err != nil {
		return 0, err
	}
	qcols := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, c := range columns {
		if qcols[i], err = QuoteIdent(c); err != nil {
			return 0, err
		}
		marks[i] = t.dialect.Placeholder(i + 1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", qt, strings.Join(qcols, ", "), strings.Join(marks, ", "))

	stmt, err := t.tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert into %s: %w", table, err)
	}
	defer stmt.Close()

	var n int64
	for i, row := range rows {
		if len(row) != len(columns) {
			return n, fmt.Errorf("row %d has %d values, want %d", i, len(row), len(columns))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return n, fmt.Errorf("insert row %d into %s: %w", i, table, err)
		}
		n++
	}
	return n, nil
}
