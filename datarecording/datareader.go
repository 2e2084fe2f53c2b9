package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// QueryParams narrows a query.
type QueryParams struct {
	// Where is the condition without the WHERE keyword, with ? placeholders
	// filled from Args. For example "Class = ? AND Hits > 0".
	Where string
	Args  []any

	// OrderBy is the ordering without the ORDER BY keywords, for example
	// "Hits DESC".
	OrderBy string

	// Limit caps the rows returned. Zero returns every row. Offset is only
	// used with a limit.
	Limit  int
	Offset int
}

// DataReader reads the tables written by a DataRecorder.
type DataReader interface {
	// MapTable tells which struct the rows of a table decode into. A table
	// must be mapped before it is queried.
	MapTable(tableName string, sampleEntry any)

	// ListTables returns the mapped tables, sorted.
	ListTables() []string

	// Query returns pointers to the decoded rows matching params, and the
	// number of matching rows before the limit applies.
	Query(ctx context.Context, tableName string, params QueryParams) (
		results []any,
		totalCount int,
		err error,
	)

	// Close closes the database.
	Close() error
}

type sqliteReader struct {
	db      *sql.DB
	rowType map[string]reflect.Type
}

// NewReader opens a recorded database read-only.
func NewReader(dbFilename string) (DataReader, error) {
	db, err := sql.Open("sqlite3", "file:"+dbFilename+"?mode=ro")
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening %s: %w", dbFilename, err)
	}

	return NewReaderWithDB(db), nil
}

// NewReaderWithDB creates a DataReader on an open database.
func NewReaderWithDB(db *sql.DB) DataReader {
	return &sqliteReader{
		db:      db,
		rowType: make(map[string]reflect.Type),
	}
}

func (r *sqliteReader) MapTable(tableName string, sampleEntry any) {
	if _, err := columns(sampleEntry); err != nil {
		panic(err)
	}

	r.rowType[tableName] = reflect.TypeOf(sampleEntry)
}

func (r *sqliteReader) ListTables() []string {
	names := make([]string, 0, len(r.rowType))
	for name := range r.rowType {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func (r *sqliteReader) Query(
	ctx context.Context,
	tableName string,
	params QueryParams,
) ([]any, int, error) {
	t, ok := r.rowType[tableName]
	if !ok {
		return nil, 0, fmt.Errorf("table %s is not mapped", tableName)
	}

	var where string
	if params.Where != "" {
		where = " WHERE " + params.Where
	}

	var total int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+tableName+where, params.Args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	var q strings.Builder
	q.WriteString("SELECT * FROM " + tableName + where)

	if params.OrderBy != "" {
		q.WriteString(" ORDER BY " + params.OrderBy)
	}

	if params.Limit > 0 {
		fmt.Fprintf(&q, " LIMIT %d OFFSET %d", params.Limit, params.Offset)
	}

	rows, err := r.db.QueryContext(ctx, q.String(), params.Args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	results, err := decodeRows(rows, t)
	if err != nil {
		return nil, 0, err
	}

	return results, total, nil
}

// decodeRows decodes each row into a new value of t, matching columns to
// fields by name. Columns without a field are dropped.
func decodeRows(rows *sql.Rows, t reflect.Type) ([]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []any

	for rows.Next() {
		row := reflect.New(t)
		dest := make([]any, len(cols))

		for i, c := range cols {
			if f := row.Elem().FieldByName(c); f.IsValid() {
				dest[i] = f.Addr().Interface()
			} else {
				dest[i] = new(any)
			}
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		results = append(results, row.Interface())
	}

	return results, rows.Err()
}

func (r *sqliteReader) Close() error {
	return r.db.Close()
}
