package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tordrt/datasink/internal/service"
	"github.com/tordrt/datasink/internal/value"
)

// StatusError is a non-2xx response from the server.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
}

// RemoteError is the terminal error element of a Query stream.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string { return e.Code + ": " + e.Message }

// Client calls a datasink server.
type Client struct {
	base       string
	httpClient *http.Client
}

// NewClient creates a client for baseURL such as http://127.0.0.1:50051. A
// nil httpClient selects one without an overall timeout, which streaming
// queries need; unary calls are bounded by their context.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (c *Client) post(ctx context.Context, method string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/rpc/"+method, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(RequestIDHeader, uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		return nil, readStatusError(resp)
	}
	return resp, nil
}

func readStatusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return &StatusError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode), Message: strings.TrimSpace(string(data))}
	}
	return &StatusError{Status: resp.StatusCode, Code: body.Code, Message: body.Message}
}

func call[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	resp, err := c.post(ctx, method, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out Resp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return &out, nil
}

func (c *Client) CreateTable(ctx context.Context, req *service.CreateTableRequest) (*service.CreateTableResponse, error) {
	return call[service.CreateTableResponse](ctx, c, "CreateTable", req)
}

func (c *Client) DropTable(ctx context.Context, req *service.DropTableRequest) (*service.DropTableResponse, error) {
	return call[service.DropTableResponse](ctx, c, "DropTable", req)
}

func (c *Client) Insert(ctx context.Context, req *service.InsertRequest) (*service.InsertResponse, error) {
	return call[service.InsertResponse](ctx, c, "Insert", req)
}

func (c *Client) Update(ctx context.Context, req *service.UpdateRequest) (*service.UpdateResponse, error) {
	return call[service.UpdateResponse](ctx, c, "Update", req)
}

func (c *Client) Delete(ctx context.Context, req *service.DeleteRequest) (*service.DeleteResponse, error) {
	return call[service.DeleteResponse](ctx, c, "Delete", req)
}

func (c *Client) BatchInsert(ctx context.Context, req *service.BatchInsertRequest) (*service.BatchInsertResponse, error) {
	return call[service.BatchInsertResponse](ctx, c, "BatchInsert", req)
}

func (c *Client) AddDatabase(ctx context.Context, req *service.AddDatabaseRequest) (*service.AddDatabaseResponse, error) {
	return call[service.AddDatabaseResponse](ctx, c, "AddDatabase", req)
}

func (c *Client) GetServerStatus(ctx context.Context) (*service.ServerStatusResponse, error) {
	return call[service.ServerStatusResponse](ctx, c, "GetServerStatus", struct{}{})
}

// Healthy reports whether the server answers /healthz within timeout.
func (c *Client) Healthy(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Query starts a query and reads its column metadata. Rows are decoded
// lazily as the caller iterates; closing the stream early closes the
// connection, which releases the server-side cursor. A failure reported
// before the columns element is returned as a *RemoteError.
func (c *Client) Query(ctx context.Context, req *service.QueryRequest) (*QueryStream, error) {
	resp, err := c.post(ctx, "Query", req)
	if err != nil {
		return nil, err
	}
	s := &QueryStream{body: resp.Body, dec: json.NewDecoder(resp.Body)}
	first, err := s.read()
	if err != nil {
		s.Close()
		return nil, err
	}
	if first.Error != nil {
		s.Close()
		return nil, &RemoteError{Code: first.Error.Code, Message: first.Error.Message}
	}
	s.columns = first.Columns
	return s, nil
}

// QueryStream iterates the rows of a Query response.
type QueryStream struct {
	body    io.ReadCloser
	dec     *json.Decoder
	columns []service.ColumnMeta
	batch   []service.Row
	row     []value.Value
	err     error
	done    bool
}

func (s *QueryStream) read() (*streamElement, error) {
	var elem streamElement
	if err := s.dec.Decode(&elem); err != nil {
		return nil, err
	}
	return &elem, nil
}

// Columns returns the column metadata sent before any row.
func (s *QueryStream) Columns() []service.ColumnMeta { return s.columns }

// Next advances to the next row. It returns false at the end of the stream
// or on error; Err tells them apart. A stream that stops before the server's
// completion marker ends with an error.
func (s *QueryStream) Next() bool {
	for len(s.batch) == 0 {
		if s.done {
			return false
		}
		elem, err := s.read()
		switch {
		case errors.Is(err, io.EOF):
			s.finish(fmt.Errorf("query stream ended without a completion marker: %w", io.ErrUnexpectedEOF))
			return false
		case err != nil:
			s.finish(fmt.Errorf("failed to read query stream: %w", err))
			return false
		case elem.Error != nil:
			s.finish(&RemoteError{Code: elem.Error.Code, Message: elem.Error.Message})
			return false
		case elem.Done:
			s.finish(nil)
			return false
		}
		s.batch = elem.Rows
	}
	s.row = s.batch[0].Values
	s.batch = s.batch[1:]
	return true
}

// Row returns the current row.
func (s *QueryStream) Row() []value.Value { return s.row }

// Err returns the error that ended the stream, if any.
func (s *QueryStream) Err() error { return s.err }

// Close releases the connection. It is safe to call more than once.
func (s *QueryStream) Close() error {
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	s.done = true
	return err
}

func (s *QueryStream) finish(err error) {
	s.err = err
	s.row = nil
	s.batch = nil
	s.Close()
}
