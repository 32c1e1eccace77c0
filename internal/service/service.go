// Package service implements the datasink RPC surface on top of the
// registry, the CRUD translator and the query executor. Business failures are
// reported in the response acknowledgement; only connectivity failures are
// returned as errors.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tordrt/datasink/internal/crud"
	"github.com/tordrt/datasink/internal/db"
	"github.com/tordrt/datasink/internal/dberr"
	"github.com/tordrt/datasink/internal/metrics"
	"github.com/tordrt/datasink/internal/schema"
	"github.com/tordrt/datasink/internal/value"
)

const defaultBatchSize = 100

// Options configures a Service. Zero values select defaults.
type Options struct {
	Logger  *slog.Logger
	Metrics metrics.Recorder
	// StreamBatchSize is the maximum number of rows per Query element.
	StreamBatchSize int
}

// Service serves requests against the databases of a registry.
type Service struct {
	registry   *db.Registry
	translator *crud.Translator
	executor   *crud.Executor
	metrics    metrics.Recorder
	logger     *slog.Logger
	batchSize  int
	started    time.Time
}

// New creates a service over registry.
func New(registry *db.Registry, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.StreamBatchSize <= 0 {
		opts.StreamBatchSize = defaultBatchSize
	}
	s := &Service{
		registry:   registry,
		translator: crud.NewTranslator(registry, opts.Logger),
		executor:   crud.NewExecutor(registry, opts.Logger),
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		batchSize:  opts.StreamBatchSize,
		started:    time.Now(),
	}
	s.metrics.SetDatabases(registry.Len())
	return s
}

// observe records the call and decides whether err belongs in the ack or on
// the error channel.
func (s *Service) observe(method, database string, start time.Time, err error) error {
	code := "OK"
	if err != nil {
		code = dberr.KindOf(err).String()
	}
	if database == "" {
		database = db.DefaultName
	}
	s.metrics.ObserveRequest(method, database, code, time.Since(start))
	if err == nil {
		return nil
	}
	s.logger.Debug("request failed", "method", method, "database", database, "code", code, "error", err)
	if isTransportError(err) {
		return err
	}
	return nil
}

func isTransportError(err error) bool {
	return dberr.Is(err, dberr.BackendUnavailable) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func ack(err error, okMsg string) Ack {
	if err != nil {
		return Ack{Success: false, Message: err.Error(), ErrorCode: dberr.KindOf(err).String()}
	}
	return Ack{Success: true, Message: okMsg}
}

func (s *Service) CreateTable(ctx context.Context, req *CreateTableRequest) (*CreateTableResponse, error) {
	start := time.Now()
	def, err := tableFromRequest(req)
	if err == nil {
		err = s.translator.CreateTable(ctx, req.Database, def)
	}
	if terr := s.observe("CreateTable", req.Database, start, err); terr != nil {
		return nil, terr
	}
	return &CreateTableResponse{Ack: ack(err, fmt.Sprintf("Table '%s' created successfully", req.TableName))}, nil
}

func tableFromRequest(req *CreateTableRequest) (schema.Table, error) {
	def := schema.Table{Name: req.TableName, Columns: make([]schema.Column, 0, len(req.Columns))}
	for _, c := range req.Columns {
		typ, err := value.ParseType(c.Type)
		if err != nil {
			return schema.Table{}, dberr.Wrap(dberr.InvalidRequest, err, "column %s", c.Name)
		}
		col := schema.Column{
			Name:          c.Name,
			Type:          typ,
			Nullable:      c.Nullable && !c.PrimaryKey,
			PrimaryKey:    c.PrimaryKey,
			Unique:        c.Unique,
			AutoIncrement: c.AutoIncrement,
			Default:       c.DefaultValue,
		}
		if c.ForeignKey != nil {
			col.ForeignKey = &schema.ForeignKey{Table: c.ForeignKey.Table, Column: c.ForeignKey.Column}
		}
		def.Columns = append(def.Columns, col)
	}
	return def, nil
}

func (s *Service) DropTable(ctx context.Context, req *DropTableRequest) (*DropTableResponse, error) {
	start := time.Now()
	err := s.translator.DropTable(ctx, req.Database, req.TableName)
	if terr := s.observe("DropTable", req.Database, start, err); terr != nil {
		return nil, terr
	}
	return &DropTableResponse{Ack: ack(err, fmt.Sprintf("Table '%s' dropped successfully", req.TableName))}, nil
}

func (s *Service) Insert(ctx context.Context, req *InsertRequest) (*InsertResponse, error) {
	start := time.Now()
	id, err := s.translator.Insert(ctx, req.Database, req.TableName, req.Values)
	if terr := s.observe("Insert", req.Database, start, err); terr != nil {
		return nil, terr
	}
	if err != nil {
		id = db.NoInsertID
	}
	return &InsertResponse{Ack: ack(err, "Data inserted successfully"), InsertedID: id}, nil
}

func (s *Service) Update(ctx context.Context, req *UpdateRequest) (*UpdateResponse, error) {
	start := time.Now()
	n, err := s.translator.Update(ctx, req.Database, req.TableName, req.Values, req.WhereClause)
	if terr := s.observe("Update", req.Database, start, err); terr != nil {
		return nil, terr
	}
	return &UpdateResponse{Ack: ack(err, fmt.Sprintf("%d row(s) updated", n)), AffectedRows: n}, nil
}

func (s *Service) Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error) {
	start := time.Now()
	n, err := s.translator.Delete(ctx, req.Database, req.TableName, req.WhereClause)
	if terr := s.observe("Delete", req.Database, start, err); terr != nil {
		return nil, terr
	}
	return &DeleteResponse{Ack: ack(err, fmt.Sprintf("%d row(s) deleted", n)), AffectedRows: n}, nil
}

func (s *Service) BatchInsert(ctx context.Context, req *BatchInsertRequest) (*BatchInsertResponse, error) {
	start := time.Now()
	rows := make([]value.Map, len(req.Rows))
	for i, r := range req.Rows {
		rows[i] = r.Values
	}
	n, err := s.translator.BatchInsert(ctx, req.Database, req.TableName, rows)
	if terr := s.observe("BatchInsert", req.Database, start, err); terr != nil {
		return nil, terr
	}
	return &BatchInsertResponse{Ack: ack(err, fmt.Sprintf("%d row(s) inserted", n)), InsertedCount: n}, nil
}

// Query streams the result of req.SQL through send: one columns element,
// then rows in batches, then an error element if the query failed. A
// failure before the first element, such as an unknown database or a
// missing parameter, is sent as a single error element unless the backend is
// unreachable, which is returned. An error from send stops the stream and
// releases the cursor.
func (s *Service) Query(ctx context.Context, req *QueryRequest, send func(*QueryResponse) error) error {
	start := time.Now()
	q := &queryStream{send: send}
	err := s.query(ctx, req, q)
	database := req.Database
	if database == "" {
		database = db.DefaultName
	}
	s.metrics.AddRows(database, q.rows)

	var sendErr *sendError
	if errors.As(err, &sendErr) {
		s.observe("Query", req.Database, start, sendErr.err)
		return sendErr.err
	}
	terr := s.observe("Query", req.Database, start, err)
	if terr != nil && !q.started {
		return terr
	}
	if err != nil {
		return q.emit(&QueryResponse{Error: streamError(err)})
	}
	return nil
}

// queryStream tracks what has been sent on one Query stream.
type queryStream struct {
	send    func(*QueryResponse) error
	started bool
	rows    int
}

func (q *queryStream) emit(resp *QueryResponse) error {
	q.started = true
	if err := q.send(resp); err != nil {
		return &sendError{err: fmt.Errorf("failed to send query response: %w", err)}
	}
	return nil
}

type sendError struct{ err error }

func (e *sendError) Error() string { return e.err.Error() }

func (s *Service) query(ctx context.Context, req *QueryRequest, q *queryStream) error {
	stream, err := s.executor.Execute(ctx, req.Database, req.SQL, req.Parameters)
	if err != nil {
		return err
	}
	defer stream.Close()

	cols := stream.Columns()
	meta := make([]ColumnMeta, len(cols))
	for i, c := range cols {
		meta[i] = ColumnMeta{Name: c.Name, Type: c.Type.String(), DatabaseType: c.DatabaseType}
	}
	if err := q.emit(&QueryResponse{Columns: meta}); err != nil {
		return err
	}

	batch := make([]Row, 0, s.batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := q.emit(&QueryResponse{Rows: batch}); err != nil {
			return err
		}
		q.rows += len(batch)
		batch = make([]Row, 0, s.batchSize)
		return nil
	}
	for stream.Next() {
		row := stream.Row()
		for i, v := range row {
			if err := v.Encodable(); err != nil {
				// rows before the bad one still reach the caller
				if ferr := flush(); ferr != nil {
					return ferr
				}
				return fmt.Errorf("column %s: %w", cols[i].Name, err)
			}
		}
		batch = append(batch, Row{Values: row})
		if len(batch) == s.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	return stream.Err()
}

func streamError(err error) *StreamError {
	return &StreamError{Code: dberr.KindOf(err).String(), Message: err.Error()}
}

func (s *Service) AddDatabase(ctx context.Context, req *AddDatabaseRequest) (*AddDatabaseResponse, error) {
	start := time.Now()
	name := strings.TrimSpace(req.Name)
	var err error
	if name == "" {
		err = dberr.New(dberr.InvalidRequest, "database name cannot be empty")
	} else {
		err = s.registry.Register(ctx, name, withCreateMode(req.URL))
	}
	s.observe("AddDatabase", name, start, err)
	if err != nil {
		return &AddDatabaseResponse{Ack: Ack{
			Message:   fmt.Sprintf("Failed to add database '%s': %v", name, err),
			ErrorCode: dberr.KindOf(err).String(),
		}}, nil
	}
	s.metrics.SetDatabases(s.registry.Len())
	return &AddDatabaseResponse{Ack: Ack{Success: true, Message: fmt.Sprintf("Database '%s' added successfully", name)}}, nil
}

// withCreateMode makes SQLite create the file when the locator carries no
// options of its own.
func withCreateMode(locator string) string {
	if strings.HasPrefix(locator, "sqlite:") && !strings.Contains(locator, "?") &&
		!strings.HasSuffix(locator, db.MemoryPath) {
		return locator + "?mode=rwc"
	}
	return locator
}

func (s *Service) GetServerStatus(ctx context.Context) (*ServerStatusResponse, error) {
	statuses := s.registry.Status(ctx)
	out := &ServerStatusResponse{
		ServerRunning: true,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Databases:     make([]DatabaseStatus, len(statuses)),
	}
	for i, st := range statuses {
		out.Databases[i] = DatabaseStatus{
			Name:           st.Name,
			URL:            st.Locator,
			Connected:      st.Connected,
			ConnectionTime: st.ConnectedAt.Unix(),
		}
	}
	return out, nil
}
