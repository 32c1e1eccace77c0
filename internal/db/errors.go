package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/tordrt/datasink/internal/dberr"
)

// classifyCommon handles failures that look the same on every engine:
// cancellation is passed through untouched and broken connections become
// BackendUnavailable.
func classifyCommon(err error) (error, bool) {
	var classified *dberr.Error
	switch {
	case err == nil:
		return nil, true
	case errors.As(err, &classified):
		return err, true
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err, true
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return dberr.Wrap(dberr.BackendUnavailable, err, "connection lost"), true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return dberr.Wrap(dberr.BackendUnavailable, err, "network failure"), true
	}
	return nil, false
}

var messageKinds = []struct {
	kind    dberr.Kind
	needles []string
}{
	{dberr.NotFound, []string{"no such table", "does not exist", "doesn't exist", "invalid object name", "unknown table", "no such column", "unknown column"}},
	{dberr.AlreadyExists, []string{"already exists", "there is already an object"}},
	{dberr.ConstraintViolation, []string{"constraint failed", "unique constraint", "duplicate", "foreign key", "not null", "violates"}},
	{dberr.SyntaxError, []string{"syntax error", "incomplete input", "unrecognized token"}},
	{dberr.TypeMismatch, []string{"datatype mismatch", "invalid input syntax", "cannot convert", "unable to encode", "type mismatch", "conversion failed"}},
	{dberr.BackendUnavailable, []string{"connection refused", "unable to open database", "bad connection", "database is closed"}},
}

// classifyMessage derives a kind from the driver message when no typed error
// is available.
func classifyMessage(err error) error {
	msg := strings.ToLower(err.Error())
	for _, mk := range messageKinds {
		for _, n := range mk.needles {
			if strings.Contains(msg, n) {
				return &dberr.Error{Kind: mk.kind, Err: err}
			}
		}
	}
	return &dberr.Error{Kind: dberr.Internal, Err: err}
}
