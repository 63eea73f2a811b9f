// Package datarecording stores simulation records in a SQLite database.
package datarecording

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/fatih/structs"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// DataRecorder writes rows of flat structs into tables. Rows are buffered and
// written in batches.
type DataRecorder interface {
	// CreateTable creates a table with one column per field of sampleEntry.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers a row. It must have the type the table was created
	// with.
	InsertData(tableName string, entry any)

	// ListTables returns the names of the tables created.
	ListTables() []string

	// Flush writes the buffered rows.
	Flush()

	// Close writes the buffered rows and closes the database.
	Close() error
}

// New opens a recorder on the new file path + ".sqlite3". The buffered rows
// are written when the program exits through atexit.
func New(path string) DataRecorder {
	w := NewSQLiteWriter(path)
	w.Init()

	atexit.Register(w.Flush)

	return w
}

// NewWithDB opens a recorder on a database that is already open.
func NewWithDB(db *sql.DB) DataRecorder {
	w := NewSQLiteWriter("")
	w.DB = db

	atexit.Register(w.Flush)

	return w
}

const defaultBatchSize = 100000

// columnKinds are the field kinds that map onto a SQLite column.
var columnKinds = map[reflect.Kind]bool{
	reflect.Bool:    true,
	reflect.Int:     true,
	reflect.Int8:    true,
	reflect.Int16:   true,
	reflect.Int32:   true,
	reflect.Int64:   true,
	reflect.Uint:    true,
	reflect.Uint8:   true,
	reflect.Uint16:  true,
	reflect.Uint32:  true,
	reflect.Uint64:  true,
	reflect.Float32: true,
	reflect.Float64: true,
	reflect.String:  true,
}

type table struct {
	rowType reflect.Type
	pending []any
}

// SQLiteWriter is the DataRecorder backed by SQLite.
type SQLiteWriter struct {
	*sql.DB

	path      string
	batchSize int

	mu      sync.Mutex
	tables  map[string]*table
	pending int
}

// NewSQLiteWriter returns a writer for path + ".sqlite3". Init opens the
// database.
func NewSQLiteWriter(path string) *SQLiteWriter {
	return &SQLiteWriter{
		path:      path,
		batchSize: defaultBatchSize,
		tables:    make(map[string]*table),
	}
}

// Init creates the database file. A random name is picked when the writer has
// no path. An existing file is never overwritten.
func (w *SQLiteWriter) Init() {
	if w.path == "" {
		w.path = "nachos_recording_" + xid.New().String()
	}

	filename := w.path + ".sqlite3"
	if _, err := os.Stat(filename); err == nil {
		log.Panicf("file %s already exists", filename)
	}

	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		log.Panic(err)
	}

	fmt.Fprintf(os.Stderr, "Database created for recording: %s\n", filename)

	w.DB = db
}

// CreateTable creates a table whose columns are the fields of sampleEntry.
func (w *SQLiteWriter) CreateTable(tableName string, sampleEntry any) {
	rowType := reflect.TypeOf(sampleEntry)
	if rowType.Kind() != reflect.Struct {
		log.Panicf("rows of %s must be structs, got %s", tableName, rowType)
	}

	for i := 0; i < rowType.NumField(); i++ {
		f := rowType.Field(i)
		if !columnKinds[f.Type.Kind()] {
			log.Panicf("field %s of %s cannot be a column", f.Name, rowType)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	columns := strings.Join(structs.Names(sampleEntry), ", ")
	w.mustExec(fmt.Sprintf("CREATE TABLE %s (%s);", tableName, columns))

	w.tables[tableName] = &table{rowType: rowType}
}

// InsertData buffers a row. The buffer is written once it holds a batch.
func (w *SQLiteWriter) InsertData(tableName string, entry any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.tables[tableName]
	if !ok {
		log.Panicf("table %s does not exist", tableName)
	}

	if got := reflect.TypeOf(entry); got != t.rowType {
		log.Panicf("table %s holds %s rows, got %s", tableName, t.rowType, got)
	}

	t.pending = append(t.pending, entry)

	w.pending++
	if w.pending >= w.batchSize {
		w.flush()
	}
}

// ListTables returns the names of the tables created by the writer.
func (w *SQLiteWriter) ListTables() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	names := make([]string, 0, len(w.tables))
	for name := range w.tables {
		names = append(names, name)
	}

	return names
}

// Flush writes the buffered rows in one transaction.
func (w *SQLiteWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.flush()
}

// Close writes the buffered rows and closes the database.
func (w *SQLiteWriter) Close() error {
	w.Flush()

	return w.DB.Close()
}

func (w *SQLiteWriter) flush() {
	if w.pending == 0 {
		return
	}

	w.mustExec("BEGIN TRANSACTION")

	for name, t := range w.tables {
		if len(t.pending) > 0 {
			w.insertRows(name, t.pending)
			t.pending = nil
		}
	}

	w.mustExec("COMMIT TRANSACTION")

	w.pending = 0
}

func (w *SQLiteWriter) insertRows(tableName string, rows []any) {
	marks := strings.TrimSuffix(
		strings.Repeat("?, ", len(structs.Names(rows[0]))), ", ")

	stmt, err := w.Prepare(
		fmt.Sprintf("INSERT INTO %s VALUES (%s)", tableName, marks))
	if err != nil {
		log.Panic(err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.Exec(structs.Values(row)...); err != nil {
			log.Panicf("insert into %s: %v", tableName, err)
		}
	}
}

func (w *SQLiteWriter) mustExec(query string) {
	if _, err := w.Exec(query); err != nil {
		log.Panicf("execute %q: %v", query, err)
	}
}
