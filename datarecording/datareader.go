package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
)

// QueryParams selects the rows returned by a query.
type QueryParams struct {
	// Where is a condition without the WHERE keyword, such as "Kind = ?".
	Where string

	// Args fill the placeholders of Where.
	Args []any

	// Limit caps the number of rows. Zero means no limit.
	Limit int

	// Offset skips rows. It only applies when Limit is set.
	Offset int

	// OrderBy is a sort clause without the ORDER BY keywords.
	OrderBy string
}

// DataReader reads the tables written by a DataRecorder.
type DataReader interface {
	// MapTable tells the reader which struct the rows of a table are
	// decoded into.
	MapTable(tableName string, sampleEntry any)

	// ListTables returns the mapped tables.
	ListTables() []string

	// Query returns the matching rows as pointers to the mapped struct,
	// together with the number of matching rows before Limit applies.
	Query(ctx context.Context, tableName string, params QueryParams) (
		results []any,
		totalCount int,
		err error,
	)

	// Close closes the database.
	Close() error
}

// sqliteReader decodes rows into the struct types registered with MapTable.
type sqliteReader struct {
	db    *sql.DB
	types map[string]reflect.Type
}

// NewReader opens the database written into path + ".sqlite3" for reading.
func NewReader(path string) (DataReader, error) {
	db, err := sql.Open("sqlite3", "file:"+path+".sqlite3?mode=ro")
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s.sqlite3: %w", path, err)
	}

	return NewReaderWithDB(db), nil
}

// NewReaderWithDB reads from a database that is already open.
func NewReaderWithDB(db *sql.DB) DataReader {
	return &sqliteReader{
		db:    db,
		types: make(map[string]reflect.Type),
	}
}

func (r *sqliteReader) MapTable(tableName string, sampleEntry any) {
	r.types[tableName] = reflect.TypeOf(sampleEntry)
}

func (r *sqliteReader) ListTables() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}

	return names
}

func (r *sqliteReader) Query(
	ctx context.Context,
	tableName string,
	params QueryParams,
) ([]any, int, error) {
	rowType, ok := r.types[tableName]
	if !ok {
		return nil, 0, fmt.Errorf("table %s is not mapped", tableName)
	}

	from := " FROM " + tableName
	if params.Where != "" {
		from += " WHERE " + params.Where
	}

	var total int

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*)"+from, params.Args...).
		Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", tableName, err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT *"+from+page(params), params.Args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query %s: %w", tableName, err)
	}
	defer rows.Close()

	results, err := decodeRows(rows, rowType)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s: %w", tableName, err)
	}

	return results, total, nil
}

// page renders the ordering and the window of a query.
func page(params QueryParams) string {
	var clause string

	if params.OrderBy != "" {
		clause += " ORDER BY " + params.OrderBy
	}

	if params.Limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", params.Limit)

		if params.Offset > 0 {
			clause += fmt.Sprintf(" OFFSET %d", params.Offset)
		}
	}

	return clause
}

// decodeRows turns each row into a pointer to a new rowType. Columns that
// match no field are read and dropped.
func decodeRows(rows *sql.Rows, rowType reflect.Type) ([]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []any

	for rows.Next() {
		row := reflect.New(rowType)
		dest := make([]any, len(columns))

		for i, column := range columns {
			field := row.Elem().FieldByName(column)
			if field.IsValid() {
				dest[i] = field.Addr().Interface()
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
