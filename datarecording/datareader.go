package datarecording

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
)

// QueryParams encapsulates all query parameters
type QueryParams struct {
	// Where holds the WHERE clause without the "WHERE" keyword
	// Example: "Component = ?"
	Where string

	// Args holds the arguments for the placeholders in Where
	Args []any

	// Limit is the maximum number of records to return. 0 means no limit.
	Limit int

	// OrderBy specifies sorting, without the "ORDER BY" keywords
	OrderBy string
}

// DataReader can read the data written by a DataRecorder.
type DataReader interface {
	// MapTable establishes a mapping between a database table and a Go struct
	// type. This mapping is required before querying a table.
	MapTable(tableName string, sampleEntry any)

	// ListTables returns a list of all tables that have been mapped.
	ListTables() []string

	// Query returns the entries as pointers to the mapped struct type.
	Query(ctx context.Context, tableName string, params QueryParams) (
		[]any,
		error,
	)

	// Close closes the reader
	Close() error
}

// ErrTableNotMapped is returned when a table is queried before MapTable.
var ErrTableNotMapped = errors.New("datarecording: table not mapped")

// QueryAs runs the query and converts the entries to T, which must be the
// type mapped to the table.
func QueryAs[T any](
	ctx context.Context,
	r DataReader,
	tableName string,
	params QueryParams,
) ([]*T, error) {
	rows, err := r.Query(ctx, tableName, params)
	if err != nil {
		return nil, err
	}

	entries := make([]*T, 0, len(rows))

	for _, row := range rows {
		entry, ok := row.(*T)
		if !ok {
			return nil, fmt.Errorf("datarecording: table %s holds %T",
				tableName, row)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

type sqliteReader struct {
	*sql.DB

	types map[string]reflect.Type
}

// NewReader opens a database file for reading.
func NewReader(dbFilename string) (DataReader, error) {
	db, err := sql.Open("sqlite3", dbFilename)
	if err != nil {
		return nil, fmt.Errorf("datarecording: opening %s: %w", dbFilename, err)
	}

	return NewReaderWithDB(db), nil
}

// NewReaderWithDB creates a reader on an opened database.
func NewReaderWithDB(db *sql.DB) DataReader {
	return &sqliteReader{
		DB:    db,
		types: make(map[string]reflect.Type),
	}
}

func (r *sqliteReader) MapTable(tableName string, sampleEntry any) {
	r.types[tableName] = reflect.TypeOf(sampleEntry)
}

func (r *sqliteReader) ListTables() []string {
	return slices.Sorted(maps.Keys(r.types))
}

func selectQuery(tableName string, params QueryParams) string {
	var b strings.Builder

	b.WriteString("SELECT * FROM ")
	b.WriteString(tableName)

	if params.Where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(params.Where)
	}

	if params.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(params.OrderBy)
	}

	if params.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", params.Limit)
	}

	return b.String()
}

func (r *sqliteReader) Query(
	ctx context.Context,
	tableName string,
	params QueryParams,
) ([]any, error) {
	structType, ok := r.types[tableName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotMapped, tableName)
	}

	rows, err := r.QueryContext(ctx, selectQuery(tableName, params),
		params.Args...)
	if err != nil {
		return nil, fmt.Errorf("datarecording: querying %s: %w", tableName, err)
	}
	defer rows.Close()

	return scanRows(rows, structType)
}

// scanRows fills one struct per row. Columns without a field of the same
// name are skipped.
func scanRows(rows *sql.Rows, structType reflect.Type) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var (
		results []any
		skipped any
	)

	for rows.Next() {
		entry := reflect.New(structType)
		targets := make([]any, len(columns))

		for i, col := range columns {
			field := entry.Elem().FieldByName(col)
			if field.IsValid() {
				targets[i] = field.Addr().Interface()
			} else {
				targets[i] = &skipped
			}
		}

		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}

		results = append(results, entry.Interface())
	}

	return results, rows.Err()
}

func (r *sqliteReader) Close() error {
	return r.DB.Close()
}
