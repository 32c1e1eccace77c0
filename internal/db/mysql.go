package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/tordrt/datasink/internal/dberr"
	"github.com/tordrt/datasink/internal/value"
)

// NewMySQLBackend connects to MySQL. DATETIME columns are decoded as
// time.Time, and the schema used for catalog queries is the DSN's database.
func NewMySQLBackend(ctx context.Context, dsn string) (Backend, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, dberr.Wrap(dberr.InvalidRequest, err, "failed to parse connection string")
	}
	cfg.ParseTime = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, dberr.Wrap(dberr.InvalidRequest, err, "failed to configure connector")
	}
	db := sql.OpenDB(connector)

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, dberr.Wrap(dberr.BackendUnavailable, err, "failed to ping database")
	}

	schemaName := cfg.DBName
	if schemaName == "" {
		var current sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT DATABASE()").Scan(&current); err != nil {
			_ = db.Close()
			return nil, classifyMySQL(fmt.Errorf("failed to read current database: %w", err))
		}
		schemaName = current.String
	}

	return &sqlBackend{
		db:       db,
		dialect:  mysqlDialect,
		bind:     bindDateTime,
		classify: classifyMySQL,
		catalog:  NewMySQLExtractor(db, schemaName),
	}, nil
}

// bindDateTime encodes timestamps as time.Time for engines whose dialect
// stores them in a DATETIME column.
func bindDateTime(v value.Value) (any, error) {
	if v.Kind() == value.KindTimestamp {
		epoch, _ := v.AsInt()
		return time.Unix(epoch, 0).UTC(), nil
	}
	return v.Native(), nil
}

func classifyMySQL(err error) error {
	if out, ok := classifyCommon(err); ok {
		return out
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return &dberr.Error{Kind: dberr.BackendUnavailable, Err: err}
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062, 1451, 1452, 1048, 1364, 3819:
			return &dberr.Error{Kind: dberr.ConstraintViolation, Err: err}
		case 1146, 1054, 1049, 1051:
			return &dberr.Error{Kind: dberr.NotFound, Err: err}
		case 1050, 1007, 1061:
			return &dberr.Error{Kind: dberr.AlreadyExists, Err: err}
		case 1064, 1149:
			return &dberr.Error{Kind: dberr.SyntaxError, Err: err}
		case 1366, 1292, 1264, 1406:
			return &dberr.Error{Kind: dberr.TypeMismatch, Err: err}
		case 1040, 1045, 1044, 1205:
			return &dberr.Error{Kind: dberr.BackendUnavailable, Err: err}
		}
		return &dberr.Error{Kind: dberr.Internal, Err: err}
	}
	return classifyMessage(err)
}
