package db

import (
	"context"
	"database/sql"
	"errors"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/tordrt/datasink/internal/dberr"
)

// NewSQLServerBackend connects to SQL Server using a sqlserver:// URL.
func NewSQLServerBackend(ctx context.Context, dsn string) (Backend, error) {
	connector, err := mssql.NewConnector(dsn)
	if err != nil {
		return nil, dberr.Wrap(dberr.InvalidRequest, err, "failed to parse connection string")
	}
	db := sql.OpenDB(connector)

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, dberr.Wrap(dberr.BackendUnavailable, err, "failed to ping database")
	}

	return &sqlBackend{
		db:       db,
		dialect:  sqlServerDialect,
		bind:     bindDateTime,
		classify: classifySQLServer,
		catalog:  NewSQLServerExtractor(db),
	}, nil
}

func classifySQLServer(err error) error {
	if out, ok := classifyCommon(err); ok {
		return out
	}
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		switch msErr.Number {
		case 2627, 2601, 547, 515:
			return &dberr.Error{Kind: dberr.ConstraintViolation, Err: err}
		case 208, 207, 911:
			return &dberr.Error{Kind: dberr.NotFound, Err: err}
		case 2714, 1801, 1913:
			return &dberr.Error{Kind: dberr.AlreadyExists, Err: err}
		case 102, 156, 105:
			return &dberr.Error{Kind: dberr.SyntaxError, Err: err}
		case 245, 8114, 206, 257:
			return &dberr.Error{Kind: dberr.TypeMismatch, Err: err}
		case 4060, 18456:
			return &dberr.Error{Kind: dberr.BackendUnavailable, Err: err}
		}
		return &dberr.Error{Kind: dberr.Internal, Err: err}
	}
	return classifyMessage(err)
}
