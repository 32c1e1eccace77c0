package service

import (
	"github.com/tordrt/datasink/internal/value"
)

// Ack is the outcome part of every unary response. Business failures set
// Success to false and carry the error kind in ErrorCode; callers must
// always check Success.
type Ack struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
}

// ColumnDef describes a column in a CreateTable request.
type ColumnDef struct {
	Name          string      `json:"name"`
	Type          string      `json:"type"`
	Nullable      bool        `json:"nullable"`
	PrimaryKey    bool        `json:"primary_key"`
	Unique        bool        `json:"unique"`
	AutoIncrement bool        `json:"auto_increment,omitempty"`
	DefaultValue  *string     `json:"default_value,omitempty"`
	ForeignKey    *ForeignKey `json:"foreign_key,omitempty"`
}

type ForeignKey struct {
	Table  string `json:"table"`
	Column string `json:"column"`
}

type CreateTableRequest struct {
	TableName string      `json:"table_name"`
	Columns   []ColumnDef `json:"columns"`
	Database  string      `json:"database,omitempty"`
}

type CreateTableResponse struct {
	Ack
}

type DropTableRequest struct {
	TableName string `json:"table_name"`
	Database  string `json:"database,omitempty"`
}

type DropTableResponse struct {
	Ack
}

type InsertRequest struct {
	TableName string    `json:"table_name"`
	Values    value.Map `json:"values"`
	Database  string    `json:"database,omitempty"`
}

// InsertResponse carries the generated row id, or -1 when the engine does
// not report one or the insert failed.
type InsertResponse struct {
	Ack
	InsertedID int64 `json:"inserted_id"`
}

type UpdateRequest struct {
	TableName   string    `json:"table_name"`
	Values      value.Map `json:"values"`
	WhereClause string    `json:"where_clause"`
	Database    string    `json:"database,omitempty"`
}

type UpdateResponse struct {
	Ack
	AffectedRows int64 `json:"affected_rows"`
}

type DeleteRequest struct {
	TableName   string `json:"table_name"`
	WhereClause string `json:"where_clause"`
	Database    string `json:"database,omitempty"`
}

type DeleteResponse struct {
	Ack
	AffectedRows int64 `json:"affected_rows"`
}

type BatchRow struct {
	Values value.Map `json:"values"`
}

type BatchInsertRequest struct {
	TableName string     `json:"table_name"`
	Rows      []BatchRow `json:"rows"`
	Database  string     `json:"database,omitempty"`
}

type BatchInsertResponse struct {
	Ack
	InsertedCount int64 `json:"inserted_count"`
}

type QueryRequest struct {
	SQL        string    `json:"sql"`
	Parameters value.Map `json:"parameters,omitempty"`
	Database   string    `json:"database,omitempty"`
}

// ColumnMeta is the metadata sent once, in the first Query element.
type ColumnMeta struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	DatabaseType string `json:"database_type,omitempty"`
}

type Row struct {
	Values []value.Value `json:"values"`
}

// StreamError terminates a Query stream.
type StreamError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// QueryResponse is one element of a Query stream. Exactly one field is set:
// the first element carries Columns, later elements carry Rows, and a
// failed stream ends with an Error element.
type QueryResponse struct {
	Columns []ColumnMeta `json:"columns,omitempty"`
	Rows    []Row        `json:"rows,omitempty"`
	Error   *StreamError `json:"error,omitempty"`
}

type AddDatabaseRequest struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type AddDatabaseResponse struct {
	Ack
}

// DatabaseStatus reports one registered database. URL has credentials
// redacted; ConnectionTime is the registration time in Unix seconds.
type DatabaseStatus struct {
	Name           string `json:"name"`
	URL            string `json:"url"`
	Connected      bool   `json:"connected"`
	ConnectionTime int64  `json:"connection_time"`
}

type ServerStatusResponse struct {
	ServerRunning bool             `json:"server_running"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Databases     []DatabaseStatus `json:"databases"`
}
