package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
)

var knownSchemes = []string{"sqlite://", "postgres://", "postgresql://", "mysql://", "sqlserver://"}

// ValidateDatabaseURL normalises a database URL. A value without a scheme is
// a SQLite file path. A SQLite path without an extension that does not exist
// yet gets ".db" appended.
func ValidateDatabaseURL(raw string) (string, error) {
	for _, scheme := range knownSchemes {
		if !strings.HasPrefix(raw, scheme) {
			continue
		}
		if scheme != "sqlite://" {
			return raw, nil
		}
		path := strings.TrimPrefix(raw, scheme)
		if path == "" {
			return "", fmt.Errorf("sqlite URL must specify a database file path")
		}
		return "sqlite://" + withDBExtension(path), nil
	}
	if strings.Contains(raw, "://") {
		return "", fmt.Errorf("unsupported database URL scheme: %s", raw)
	}
	if raw == "" {
		return "", fmt.Errorf("database URL must not be empty")
	}
	return "sqlite://" + withDBExtension(raw), nil
}

func withDBExtension(path string) string {
	file, query, hasQuery := strings.Cut(path, "?")
	if file == ":memory:" || strings.Contains(filepath.Base(file), ".") {
		return path
	}
	if _, err := os.Stat(file); err == nil {
		return path
	}
	if hasQuery {
		return file + ".db?" + query
	}
	return file + ".db"
}

// ResolveDatabaseURL combines an explicit URL and a database name into the
// default database locator. A name alone matches an existing <name>.db in dir
// regardless of case, or names a new sqlite://<name>.db. When both are given
// they must agree.
func ResolveDatabaseURL(url, name, dir string) (string, error) {
	switch {
	case url != "" && name != "":
		inferred, err := findDatabaseFile(name, dir)
		if err != nil {
			return "", err
		}
		fold := cases.Fold()
		u := fold.String(url)
		if u != fold.String(inferred) && !strings.HasSuffix(u, "/"+fold.String(name)+".db") {
			return "", fmt.Errorf("inconsistent database configuration: URL %q doesn't match name %q", url, name)
		}
		return url, nil
	case url != "":
		return url, nil
	case name != "":
		return findDatabaseFile(name, dir)
	default:
		return DefaultDatabaseURL, nil
	}
}

func findDatabaseFile(name, dir string) (string, error) {
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("database name %q must not contain a path separator", name)
	}
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	fold := cases.Fold()
	want := fold.String(name + ".db")
	for _, e := range entries {
		if !e.IsDir() && fold.String(e.Name()) == want {
			return "sqlite://" + joinDir(dir, e.Name()), nil
		}
	}
	return "sqlite://" + joinDir(dir, name+".db"), nil
}

func joinDir(dir, file string) string {
	if dir == "" || dir == "." {
		return file
	}
	return filepath.Join(dir, file)
}
