// Package dbtest provides testify mocks for the pgx query surface.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"
)

// MockDB implements database.DBTX. Expectations match on (ctx, sql, args).
type MockDB struct {
	mock.Mock
}

func (m *MockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	callArgs := m.Called(ctx, sql, args)
	return callArgs.Get(0).(pgconn.CommandTag), callArgs.Error(1)
}

func (m *MockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	callArgs := m.Called(ctx, sql, args)
	if callArgs.Get(0) == nil {
		return nil, callArgs.Error(1)
	}
	return callArgs.Get(0).(pgx.Rows), callArgs.Error(1)
}

func (m *MockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	callArgs := m.Called(ctx, sql, args)
	return callArgs.Get(0).(pgx.Row)
}

// Tag builds a command tag such as "INSERT 0 1" or "DELETE 3"
func Tag(s string) pgconn.CommandTag {
	return pgconn.NewCommandTag(s)
}

// MockRow implements pgx.Row over a fixed set of values
type MockRow struct {
	values []any
	err    error
}

// NewMockRow returns a row that scans values in order
func NewMockRow(values ...any) *MockRow {
	return &MockRow{values: values}
}

// NewErrRow returns a row whose Scan fails with err, e.g. pgx.ErrNoRows
func NewErrRow(err error) *MockRow {
	return &MockRow{err: err}
}

func (r *MockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(r.values, dest)
}

// MockRows implements pgx.Rows for testing
type MockRows struct {
	data         [][]any
	currentIndex int
	closed       bool
	err          error
}

// NewMockRows returns rows over data
func NewMockRows(data [][]any) *MockRows {
	return &MockRows{data: data, currentIndex: -1}
}

// WithErr makes Err report err after iteration
func (m *MockRows) WithErr(err error) *MockRows {
	m.err = err
	return m
}

func (m *MockRows) Close()                                       { m.closed = true }
func (m *MockRows) Err() error                                   { return m.err }
func (m *MockRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (m *MockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *MockRows) RawValues() [][]byte                          { return nil }
func (m *MockRows) Conn() *pgx.Conn                              { return nil }

// Closed reports whether the caller closed the rows
func (m *MockRows) Closed() bool { return m.closed }

func (m *MockRows) Next() bool {
	m.currentIndex++
	return m.currentIndex < len(m.data)
}

func (m *MockRows) Scan(dest ...any) error {
	if m.currentIndex < 0 || m.currentIndex >= len(m.data) {
		return errors.New("no row to scan")
	}
	return scanInto(m.data[m.currentIndex], dest)
}

func (m *MockRows) Values() ([]any, error) {
	if m.currentIndex < 0 || m.currentIndex >= len(m.data) {
		return nil, errors.New("no row")
	}
	return m.data[m.currentIndex], nil
}

func scanInto(row []any, dest []any) error {
	if len(dest) != len(row) {
		return fmt.Errorf("column count mismatch: %d values, %d destinations", len(row), len(dest))
	}
	for i, v := range row {
		destVal := reflect.ValueOf(dest[i])
		if destVal.Kind() != reflect.Ptr || destVal.IsNil() {
			return errors.New("destination must be a non-nil pointer")
		}
		target := destVal.Elem()

		if v == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}

		srcVal := reflect.ValueOf(v)
		switch {
		case srcVal.Type().AssignableTo(target.Type()):
			target.Set(srcVal)
		case target.Kind() == reflect.Ptr && srcVal.Type().AssignableTo(target.Type().Elem()):
			ptr := reflect.New(target.Type().Elem())
			ptr.Elem().Set(srcVal)
			target.Set(ptr)
		case srcVal.Type().ConvertibleTo(target.Type()):
			target.Set(srcVal.Convert(target.Type()))
		default:
			return fmt.Errorf("cannot scan %T into %s", v, target.Type())
		}
	}
	return nil
}
