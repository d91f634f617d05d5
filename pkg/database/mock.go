package database

import (
	"context"
	"database/sql"
	"errors"
)

type MockDB struct {
	ExecContextFunc     func(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContextFunc    func(ctx context.Context, query string, args ...any) (Rows, error)
	QueryRowContextFunc func(ctx context.Context, query string, args ...any) Row
}

func (m *MockDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if m.ExecContextFunc == nil {
		return nil, errors.New("mock: ExecContext not configured")
	}
	return m.ExecContextFunc(ctx, query, args...)
}

func (m *MockDB) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if m.QueryContextFunc == nil {
		return nil, errors.New("mock: QueryContext not configured")
	}
	return m.QueryContextFunc(ctx, query, args...)
}

func (m *MockDB) QueryRowContext(ctx context.Context, query string, args ...any) Row {
	if m.QueryRowContextFunc == nil {
		return &MockRow{ScanFunc: func(dest ...any) error { return errors.New("mock: QueryRowContext not configured") }}
	}
	return m.QueryRowContextFunc(ctx, query, args...)
}

type MockRow struct {
	ScanFunc func(dest ...any) error
}

func (m *MockRow) Scan(dest ...any) error {
	return m.ScanFunc(dest...)
}

// MockRows replays one ScanFunc call per row.
type MockRows struct {
	Rows    []func(dest ...any) error
	ErrFunc func() error
	pos     int
	Closed  bool
}

func (m *MockRows) Next() bool {
	if m.pos >= len(m.Rows) {
		return false
	}
	m.pos++
	return true
}

func (m *MockRows) Scan(dest ...any) error {
	return m.Rows[m.pos-1](dest...)
}

func (m *MockRows) Close() error {
	m.Closed = true
	return nil
}

func (m *MockRows) Err() error {
	if m.ErrFunc == nil {
		return nil
	}
	return m.ErrFunc()
}

// MockResult is a fixed sql.Result.
type MockResult struct {
	Affected int64
}

func (r MockResult) LastInsertId() (int64, error) { return 0, errors.New("mock: LastInsertId unsupported") }
func (r MockResult) RowsAffected() (int64, error) { return r.Affected, nil }
