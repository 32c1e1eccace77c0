package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tordrt/datasink/internal/db"
	"github.com/tordrt/datasink/internal/metrics"
	"github.com/tordrt/datasink/internal/service"
	"github.com/tordrt/datasink/internal/value"
)

func newTestServer(t *testing.T) (*httptest.Server, *Client) {
	t.Helper()
	ctx := context.Background()
	reg, err := db.NewRegistry(ctx, "sqlite://"+filepath.Join(t.TempDir(), "transport.db"), db.OpenerWith(db.Options{}), nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	t.Cleanup(func() { reg.Close() })

	prom, err := metrics.NewPrometheus()
	if err != nil {
		t.Fatalf("NewPrometheus() error = %v", err)
	}
	svc := service.New(reg, service.Options{Metrics: prom, StreamBatchSize: 3})
	srv := httptest.NewServer(NewServer(svc, Config{RequestTimeout: 5 * time.Second, Metrics: prom.Handler()}, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, NewClient(srv.URL, srv.Client())
}

func seedUsers(t *testing.T, c *Client, n int) {
	t.Helper()
	ctx := context.Background()
	created, err := c.CreateTable(ctx, &service.CreateTableRequest{
		TableName: "users",
		Columns: []service.ColumnDef{
			{Name: "id", Type: "INTEGER", PrimaryKey: true, AutoIncrement: true},
			{Name: "name", Type: "TEXT"},
			{Name: "active", Type: "BOOLEAN", Nullable: true},
		},
	})
	if err != nil || !created.Success {
		t.Fatalf("CreateTable() = %+v, %v", created, err)
	}

	req := &service.BatchInsertRequest{TableName: "users"}
	for i := 0; i < n; i++ {
		req.Rows = append(req.Rows, service.BatchRow{Values: value.Map{
			"name":   value.Text("user"),
			"active": value.Bool(i%2 == 0),
		}})
	}
	resp, err := c.BatchInsert(ctx, req)
	if err != nil || !resp.Success || resp.InsertedCount != int64(n) {
		t.Fatalf("BatchInsert() = %+v, %v", resp, err)
	}
}

func TestUnaryRoundTrip(t *testing.T) {
	_, c := newTestServer(t)
	ctx := context.Background()
	seedUsers(t, c, 0)

	ins, err := c.Insert(ctx, &service.InsertRequest{TableName: "users", Values: value.Map{"name": value.Text("ann")}})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if !ins.Success || ins.InsertedID != 1 {
		t.Errorf("Insert() = %+v, want id 1", ins)
	}

	up, err := c.Update(ctx, &service.UpdateRequest{TableName: "users", Values: value.Map{"name": value.Text("bo")}, WhereClause: "id = 1"})
	if err != nil || up.AffectedRows != 1 {
		t.Errorf("Update() = %+v, %v", up, err)
	}

	bad, err := c.Insert(ctx, &service.InsertRequest{TableName: "users", Values: value.Map{"name": value.Null()}})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if bad.Success || bad.ErrorCode != "CONSTRAINT_VIOLATION" {
		t.Errorf("Insert(null name) = %+v, want CONSTRAINT_VIOLATION ack", bad)
	}

	drop, err := c.DropTable(ctx, &service.DropTableRequest{TableName: "users"})
	if err != nil || !drop.Success {
		t.Errorf("DropTable() = %+v, %v", drop, err)
	}
}

func TestQueryStream(t *testing.T) {
	_, c := newTestServer(t)
	seedUsers(t, c, 10)

	s, err := c.Query(context.Background(), &service.QueryRequest{SQL: "SELECT id, active FROM users ORDER BY id"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer s.Close()

	cols := s.Columns()
	if len(cols) != 2 || cols[1].Type != "BOOLEAN" {
		t.Fatalf("columns = %+v", cols)
	}
	n := 0
	for s.Next() {
		n++
		row := s.Row()
		if !row[0].Equal(value.Int(int64(n))) {
			t.Errorf("row %d id = %v", n, row[0])
		}
		if want := value.Bool(n%2 == 1); !row[1].Equal(want) {
			t.Errorf("row %d active = %v, want %v", n, row[1], want)
		}
	}
	if err := s.Err(); err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if n != 10 {
		t.Errorf("read %d rows, want 10", n)
	}
}

func TestQueryStreamErrors(t *testing.T) {
	_, c := newTestServer(t)
	seedUsers(t, c, 1)

	_, err := c.Query(context.Background(), &service.QueryRequest{SQL: "SELECT * FROM users WHERE id = @id"})
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Code != "MISSING_PARAMETER" {
		t.Fatalf("Query() error = %v, want MISSING_PARAMETER", err)
	}

	_, err = c.Query(context.Background(), &service.QueryRequest{SQL: "SELECT 1", Database: "other"})
	if !errors.As(err, &remote) || remote.Code != "NOT_FOUND" {
		t.Fatalf("Query() error = %v, want NOT_FOUND", err)
	}
}

func TestQueryStreamNonFiniteReal(t *testing.T) {
	_, c := newTestServer(t)

	s, err := c.Query(context.Background(), &service.QueryRequest{SQL: `WITH RECURSIVE n(i) AS (
		SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < 10)
		SELECT CASE WHEN i = 5 THEN 1e999 ELSE i * 1.0 END FROM n`})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer s.Close()
	n := 0
	for s.Next() {
		n++
	}
	var remote *RemoteError
	if !errors.As(s.Err(), &remote) || remote.Code != "TYPE_MISMATCH" {
		t.Fatalf("stream error = %v, want TYPE_MISMATCH", s.Err())
	}
	if n != 4 {
		t.Errorf("read %d rows before the error, want 4", n)
	}
}

func TestQueryStreamTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", ndjsonType)
		_, _ = io.WriteString(w, `{"columns":[{"name":"id","type":"INTEGER"}]}`+"\n")
		_, _ = io.WriteString(w, `{"rows":[{"values":[{"int_value":1}]}]}`+"\n")
	}))
	defer srv.Close()

	s, err := NewClient(srv.URL, srv.Client()).Query(context.Background(), &service.QueryRequest{SQL: "SELECT id FROM t"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	defer s.Close()
	n := 0
	for s.Next() {
		n++
	}
	if n != 1 {
		t.Errorf("read %d rows, want 1", n)
	}
	if !errors.Is(s.Err(), io.ErrUnexpectedEOF) {
		t.Errorf("stream error = %v, want unexpected EOF", s.Err())
	}
}

func TestQueryEarlyClose(t *testing.T) {
	_, c := newTestServer(t)
	seedUsers(t, c, 50)

	s, err := c.Query(context.Background(), &service.QueryRequest{SQL: "SELECT * FROM users"})
	if err != nil {
		t.Fatal(err)
	}
	if !s.Next() {
		t.Fatalf("no first row: %v", s.Err())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if s.Next() {
		t.Error("Next() after Close() = true")
	}
}

func TestMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := srv.Client().Post(srv.URL+"/rpc/Insert", "application/json", strings.NewReader(`{"table_name": 5}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Error("response has no request id")
	}

	unknown, err := srv.Client().Post(srv.URL+"/rpc/Delete", "application/json", strings.NewReader(`{"table": "users"}`))
	if err != nil {
		t.Fatal(err)
	}
	unknown.Body.Close()
	if unknown.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, want 400", unknown.StatusCode)
	}
}

func TestStatusHealthAndMetrics(t *testing.T) {
	srv, c := newTestServer(t)
	ctx := context.Background()

	if !c.Healthy(ctx, time.Second) {
		t.Fatal("server not healthy")
	}

	st, err := c.GetServerStatus(ctx)
	if err != nil {
		t.Fatalf("GetServerStatus() error = %v", err)
	}
	if !st.ServerRunning || len(st.Databases) != 1 || !st.Databases[0].Connected {
		t.Errorf("status = %+v", st)
	}

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "datasink_databases 1") {
		t.Errorf("metrics missing database gauge:\n%s", body)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ctx := context.Background()
	reg, err := db.NewRegistry(ctx, "sqlite://:memory:", db.OpenerWith(db.Options{}), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reg.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(service.New(reg, service.Options{}), Config{}, nil)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(runCtx, ln) }()

	c := NewClient("http://"+ln.Addr().String(), nil)
	deadline := time.Now().Add(2 * time.Second)
	for !c.Healthy(ctx, 100*time.Millisecond) {
		if time.Now().After(deadline) {
			t.Fatal("server did not come up")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestStatusErrorFromServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", "database is down")
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, srv.Client()).Insert(context.Background(), &service.InsertRequest{TableName: "x"})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want *StatusError", err)
	}
	if se.Status != http.StatusServiceUnavailable || se.Code != "BACKEND_UNAVAILABLE" {
		t.Errorf("StatusError = %+v", se)
	}
}
