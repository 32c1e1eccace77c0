package crud

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"github.com/tordrt/datasink/internal/db"
	"github.com/tordrt/datasink/internal/dberr"
	"github.com/tordrt/datasink/internal/value"
)

// AffectedRowsColumn is the single column of the row reported for a
// data-modifying statement run through Execute.
const AffectedRowsColumn = "affected_rows"

// Column is the metadata of a result column. Declared is false when the
// engine reported no recognised type; Type is then TEXT and values are
// inferred from the driver's representation.
type Column struct {
	Name         string
	Type         value.Type
	DatabaseType string
	Declared     bool
}

// Executor runs ad-hoc SQL with named parameters.
type Executor struct {
	registry *db.Registry
	logger   *slog.Logger
}

// NewExecutor creates an executor resolving databases through registry.
func NewExecutor(registry *db.Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, logger: logger}
}

// Execute binds params into query and starts it. Column metadata is
// available from the returned stream before the first row is read. A named
// parameter without a value fails with MissingParameter before the database
// is contacted. INSERT, UPDATE, DELETE and DDL statements without a RETURNING
// clause are executed directly and produce a single affected_rows row.
func (e *Executor) Execute(ctx context.Context, database, query string, params value.Map) (*RowStream, error) {
	if strings.TrimSpace(query) == "" {
		return nil, dberr.New(dberr.InvalidRequest, "query must not be empty")
	}
	h, err := e.registry.Resolve(database)
	if err != nil {
		return nil, err
	}
	b := h.Backend

	bound, args, err := db.BindNamed(b.Dialect(), query, params)
	if err != nil {
		return nil, err
	}

	if modifiesData(bound) {
		res, err := b.Exec(ctx, bound, args...)
		if err != nil {
			return nil, err
		}
		return affectedRowsStream(res.RowsAffected), nil
	}

	cursor, err := b.Query(ctx, bound, args...)
	if err != nil {
		return nil, err
	}
	infos := cursor.Columns()
	cols := make([]Column, len(infos))
	for i, ci := range infos {
		cols[i] = Column{Name: ci.Name, Type: value.TypeText, DatabaseType: ci.DatabaseType}
		if t, ok := value.TypeFromDeclared(ci.DatabaseType); ok {
			cols[i].Type, cols[i].Declared = t, true
		}
	}
	return &RowStream{cursor: cursor, columns: cols}, nil
}

// RowStream yields one row at a time from an open cursor. It must be closed;
// closing early releases the cursor's connection.
type RowStream struct {
	cursor  db.Cursor
	columns []Column
	row     []value.Value
	err     error
	done    bool

	pending [][]value.Value
}

func affectedRowsStream(n int64) *RowStream {
	return &RowStream{
		columns: []Column{{Name: AffectedRowsColumn, Type: value.TypeInteger, Declared: true}},
		pending: [][]value.Value{{value.Int(n)}},
	}
}

// Columns returns the result's column metadata.
func (s *RowStream) Columns() []Column { return s.columns }

// Next advances to the next row. It returns false at the end of the result
// or on error; Err distinguishes the two.
func (s *RowStream) Next() bool {
	if s.done {
		return false
	}
	if s.cursor == nil {
		if len(s.pending) == 0 {
			s.finish(nil)
			return false
		}
		s.row, s.pending = s.pending[0], s.pending[1:]
		return true
	}

	if !s.cursor.Next() {
		s.finish(s.cursor.Err())
		return false
	}
	natives, err := s.cursor.Values()
	if err != nil {
		s.finish(err)
		return false
	}
	row := make([]value.Value, len(natives))
	for i, native := range natives {
		col := s.columns[i]
		if !col.Declared {
			row[i] = value.InferNative(native)
			continue
		}
		v, err := value.FromNative(native, col.Type)
		if err != nil {
			s.finish(dberr.Wrap(dberr.TypeMismatch, err, "column %s", col.Name))
			return false
		}
		row[i] = v
	}
	s.row = row
	return true
}

// Row returns the current row. It is valid until the next call to Next.
func (s *RowStream) Row() []value.Value { return s.row }

// Err returns the error that ended the stream, if any.
func (s *RowStream) Err() error { return s.err }

// Close releases the cursor. It is safe to call more than once.
func (s *RowStream) Close() error {
	if s.done {
		return nil
	}
	s.finish(nil)
	return nil
}

func (s *RowStream) finish(err error) {
	s.done = true
	s.row = nil
	if err != nil && s.err == nil {
		s.err = err
	}
	if s.cursor != nil {
		if cerr := s.cursor.Close(); cerr != nil && s.err == nil {
			s.err = cerr
		}
		s.cursor = nil
	}
}

var modifyingKeywords = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "REPLACE": true, "MERGE": true,
	"CREATE": true, "DROP": true, "ALTER": true, "TRUNCATE": true,
}

// modifiesData reports whether query starts with a data-modifying or DDL
// keyword and has no RETURNING/OUTPUT clause that would produce rows.
func modifiesData(query string) bool {
	keyword := strings.ToUpper(firstKeyword(query))
	if !modifyingKeywords[keyword] {
		return false
	}
	fields := strings.FieldsFunc(strings.ToUpper(query), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '_'
	})
	for _, f := range fields {
		if f == "RETURNING" || f == "OUTPUT" {
			return false
		}
	}
	return true
}

func firstKeyword(query string) string {
	q := query
skip:
	for {
		q = strings.TrimLeftFunc(q, unicode.IsSpace)
		switch {
		case strings.HasPrefix(q, "--"):
			i := strings.IndexByte(q, '\n')
			if i < 0 {
				return ""
			}
			q = q[i+1:]
		case strings.HasPrefix(q, "/*"):
			i := strings.Index(q, "*/")
			if i < 0 {
				return ""
			}
			q = q[i+2:]
		default:
			break skip
		}
	}
	end := strings.IndexFunc(q, func(r rune) bool { return !unicode.IsLetter(r) })
	if end < 0 {
		return q
	}
	return q[:end]
}
