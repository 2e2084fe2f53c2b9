// Package datarecording stores run data in SQLite databases.
package datarecording

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/structs"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// DataRecorder writes rows of flat structs into tables.
type DataRecorder interface {
	// CreateTable creates a table whose columns are the fields of
	// sampleEntry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers a row for a table that already exists. The row
	// must have the type of the table's sample entry.
	InsertData(tableName string, entry any)

	// ListTables returns the names of the tables, sorted.
	ListTables() []string

	// Flush writes the buffered rows.
	Flush()

	// Close flushes and closes the database.
	Close() error
}

const defaultBatchSize = 10000

// New creates a DataRecorder that writes to path.sqlite3. A name is
// generated when path is empty. It panics if the file exists. Buffered rows
// are flushed when the program exits through atexit.
func New(path string) DataRecorder {
	if path == "" {
		path = "firmhook_run_" + xid.New().String()
	}

	filename := path + ".sqlite3"
	if _, err := os.Stat(filename); err == nil {
		panic(fmt.Sprintf("file %s already exists", filename))
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		panic(err)
	}

	slog.Info("recording to database", "file", filename)

	w := NewWithDB(db).(*sqliteWriter)
	atexit.Register(w.Flush)

	return w
}

// NewWithDB creates a DataRecorder that writes to an open database.
func NewWithDB(db *sql.DB) DataRecorder {
	return &sqliteWriter{
		db:        db,
		batchSize: defaultBatchSize,
		tables:    make(map[string]*table),
	}
}

// table is the schema and the pending rows of one table.
type table struct {
	rowType reflect.Type
	insert  string
	pending [][]any
}

type sqliteWriter struct {
	db *sql.DB

	lock      sync.Mutex
	tables    map[string]*table
	batchSize int
	pending   int
	closed    bool
}

// columnType maps a field kind to an SQLite column type. Unsupported kinds
// return an empty string.
func columnType(k reflect.Kind) string {
	switch k {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "INTEGER"
	case reflect.Float32, reflect.Float64:
		return "REAL"
	case reflect.String:
		return "TEXT"
	}

	return ""
}

// columns returns the column definitions of a flat struct.
func columns(entry any) ([]string, error) {
	t := reflect.TypeOf(entry)
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entry must be a struct, got %T", entry)
	}

	cols := make([]string, 0, t.NumField())
	for _, f := range reflect.VisibleFields(t) {
		if !f.IsExported() {
			return nil, fmt.Errorf("field %s is not exported", f.Name)
		}

		ct := columnType(f.Type.Kind())
		if ct == "" {
			return nil, fmt.Errorf("field %s has unsupported type %s",
				f.Name, f.Type)
		}

		cols = append(cols, f.Name+" "+ct)
	}

	return cols, nil
}

func (w *sqliteWriter) CreateTable(tableName string, sampleEntry any) {
	cols, err := columns(sampleEntry)
	if err != nil {
		panic(err)
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	if _, ok := w.tables[tableName]; ok {
		panic(fmt.Sprintf("table %s already exists", tableName))
	}

	w.mustExec(fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)",
		tableName, strings.Join(cols, ",\n\t")))

	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	w.tables[tableName] = &table{
		rowType: reflect.TypeOf(sampleEntry),
		insert: fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			tableName, strings.Join(structs.Names(sampleEntry), ", "), marks),
	}
}

func (w *sqliteWriter) InsertData(tableName string, entry any) {
	w.lock.Lock()

	t, ok := w.tables[tableName]
	if !ok {
		w.lock.Unlock()
		panic(fmt.Sprintf("table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != t.rowType {
		w.lock.Unlock()
		panic(fmt.Sprintf("table %s stores %s, got %T",
			tableName, t.rowType, entry))
	}

	t.pending = append(t.pending, structs.Values(entry))
	w.pending++
	full := w.pending >= w.batchSize

	w.lock.Unlock()

	if full {
		w.Flush()
	}
}

func (w *sqliteWriter) ListTables() []string {
	w.lock.Lock()
	defer w.lock.Unlock()

	names := make([]string, 0, len(w.tables))
	for name := range w.tables {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Flush writes the pending rows of all tables in one transaction.
func (w *sqliteWriter) Flush() {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.pending == 0 || w.closed {
		return
	}

	tx, err := w.db.Begin()
	if err != nil {
		panic(err)
	}

	for name, t := range w.tables {
		if len(t.pending) == 0 {
			continue
		}

		if err := insertRows(tx, t); err != nil {
			_ = tx.Rollback()
			panic(fmt.Errorf("flushing table %s: %w", name, err))
		}

		t.pending = nil
	}

	if err := tx.Commit(); err != nil {
		panic(err)
	}

	w.pending = 0
}

func insertRows(tx *sql.Tx, t *table) error {
	stmt, err := tx.Prepare(t.insert)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range t.pending {
		if _, err := stmt.Exec(row...); err != nil {
			return err
		}
	}

	return nil
}

func (w *sqliteWriter) Close() error {
	w.Flush()

	w.lock.Lock()
	defer w.lock.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true

	return w.db.Close()
}

func (w *sqliteWriter) mustExec(query string) {
	if _, err := w.db.Exec(query); err != nil {
		panic(fmt.Errorf("executing %q: %w", query, err))
	}
}
