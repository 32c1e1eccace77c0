package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	moderncsqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/tordrt/datasink/internal/dberr"
	"github.com/tordrt/datasink/internal/value"
)

// SQLite driver selections for Options.SQLiteDriver.
const (
	SQLiteDriverMattn   = "mattn"
	SQLiteDriverModernc = "modernc"
)

// NewSQLiteBackend opens a SQLite database with foreign keys enforced. An
// in-memory locator gets a uniquely named shared-cache database so every
// pooled connection sees the same data.
func NewSQLiteBackend(ctx context.Context, loc Locator, driver string) (Backend, error) {
	driverName, dsn, err := sqliteDSN(loc, driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if loc.Memory() {
		// the shared-cache database lives as long as one connection does
		db.SetConnMaxIdleTime(0)
		db.SetConnMaxLifetime(0)
		db.SetMaxIdleConns(4)
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, dberr.Wrap(dberr.BackendUnavailable, err, "failed to ping database")
	}

	classify, bind := classifyMattn, bindMattn
	if driverName == "sqlite" {
		classify, bind = classifyModernc, bindNative
	}
	return &sqlBackend{
		db:       db,
		dialect:  sqliteDialect,
		bind:     bind,
		classify: classify,
		catalog:  NewSQLiteExtractor(db),
	}, nil
}

// MaxSQLiteEpoch bounds the timestamps the mattn driver can store. It reads
// larger integers in TIMESTAMP columns back as milliseconds.
const MaxSQLiteEpoch int64 = 1e12

func bindNative(v value.Value) (any, error) { return v.Native(), nil }

func bindMattn(v value.Value) (any, error) {
	if v.Kind() == value.KindTimestamp {
		if epoch, _ := v.AsInt(); epoch > MaxSQLiteEpoch || epoch < -MaxSQLiteEpoch {
			return nil, dberr.New(dberr.TypeMismatch,
				"timestamp %d is outside the range the sqlite driver reads back (±%d seconds)", epoch, MaxSQLiteEpoch)
		}
	}
	return v.Native(), nil
}

func sqliteDSN(loc Locator, driver string) (string, string, error) {
	path := loc.DSN
	opts := url.Values{}
	for k, vs := range loc.Options {
		opts[k] = append([]string(nil), vs...)
	}
	if loc.Memory() {
		path = "memdb_" + uuid.NewString()
		opts.Set("mode", "memory")
		opts.Set("cache", "shared")
	}

	switch driver {
	case "", SQLiteDriverMattn:
		opts.Set("_foreign_keys", "1")
		opts.Set("_busy_timeout", "5000")
		return "sqlite3", "file:" + escapeSQLitePath(path) + "?" + opts.Encode(), nil
	case SQLiteDriverModernc:
		opts.Add("_pragma", "foreign_keys(1)")
		opts.Add("_pragma", "busy_timeout(5000)")
		return "sqlite", "file:" + escapeSQLitePath(path) + "?" + opts.Encode(), nil
	}
	return "", "", dberr.New(dberr.InvalidRequest, "unknown sqlite driver %q", driver)
}

// escapeSQLitePath escapes the characters that would otherwise end the path
// part of a file: URI.
func escapeSQLitePath(path string) string {
	return strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23").Replace(path)
}

func classifyMattn(err error) error {
	if out, ok := classifyCommon(err); ok {
		return out
	}
	if violatesStoredType(err) {
		return &dberr.Error{Kind: dberr.TypeMismatch, Err: err}
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrConstraint:
			return &dberr.Error{Kind: dberr.ConstraintViolation, Err: err}
		case sqlite3.ErrMismatch:
			return &dberr.Error{Kind: dberr.TypeMismatch, Err: err}
		case sqlite3.ErrCantOpen, sqlite3.ErrNotADB, sqlite3.ErrBusy, sqlite3.ErrLocked:
			return &dberr.Error{Kind: dberr.BackendUnavailable, Err: err}
		}
	}
	return classifyMessage(err)
}

func classifyModernc(err error) error {
	if out, ok := classifyCommon(err); ok {
		return out
	}
	if violatesStoredType(err) {
		return &dberr.Error{Kind: dberr.TypeMismatch, Err: err}
	}
	var se *moderncsqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3lib.SQLITE_CONSTRAINT:
			return &dberr.Error{Kind: dberr.ConstraintViolation, Err: err}
		case sqlite3lib.SQLITE_MISMATCH:
			return &dberr.Error{Kind: dberr.TypeMismatch, Err: err}
		case sqlite3lib.SQLITE_CANTOPEN, sqlite3lib.SQLITE_NOTADB, sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return &dberr.Error{Kind: dberr.BackendUnavailable, Err: err}
		}
	}
	return classifyMessage(err)
}

// violatesStoredType reports whether err names one of the storage class
// checks the SQLite dialect attaches to created columns.
func violatesStoredType(err error) bool {
	const marker = "CHECK constraint failed: "
	msg := err.Error()
	i := strings.Index(msg, marker)
	if i < 0 {
		return false
	}
	name, _, _ := strings.Cut(msg[i+len(marker):], " ")
	return strings.HasSuffix(name, storedTypeSuffix)
}
