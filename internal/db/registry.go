package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tordrt/datasink/internal/dberr"
)

// DefaultName is the name of the database opened at startup. Requests that
// do not name a database are routed to it.
const DefaultName = "default"

const statusPingTimeout = 2 * time.Second

// Handle is a registered database.
type Handle struct {
	Name      string
	Locator   string
	Backend   Backend
	CreatedAt time.Time
}

// Status describes a handle for reporting. Locator has credentials redacted.
type Status struct {
	Name        string
	Locator     string
	Connected   bool
	ConnectedAt time.Time
}

// Opener connects to a locator.
type Opener func(ctx context.Context, locator string) (Backend, error)

// OpenerWith returns an Opener that uses Open with opts.
func OpenerWith(opts Options) Opener {
	return func(ctx context.Context, locator string) (Backend, error) {
		return Open(ctx, locator, opts)
	}
}

// Registry owns the named database handles of a process. Lookups take a
// read lock only. Registrations are serialized among themselves, and the
// connection is opened before the map is locked for writing, so a slow
// connect never blocks lookups of existing names.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]*Handle
	order   []string

	regMu sync.Mutex

	open   Opener
	logger *slog.Logger
}

// NewRegistry creates a registry and registers the default database.
func NewRegistry(ctx context.Context, defaultLocator string, open Opener, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		handles: make(map[string]*Handle),
		open:    open,
		logger:  logger,
	}
	if err := r.Register(ctx, DefaultName, defaultLocator); err != nil {
		return nil, fmt.Errorf("failed to open default database: %w", err)
	}
	return r, nil
}

// Resolve returns the handle for name; an empty name selects the default
// database.
func (r *Registry) Resolve(name string) (*Handle, error) {
	if name == "" {
		name = DefaultName
	}
	r.mu.RLock()
	h, ok := r.handles[name]
	r.mu.RUnlock()
	if !ok {
		return nil, dberr.New(dberr.NotFound, "database %q is not registered", name)
	}
	return h, nil
}

// Register opens locator and adds it under name. The connection is verified
// first; an unreachable database is not registered.
func (r *Registry) Register(ctx context.Context, name, locator string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return dberr.New(dberr.InvalidRequest, "database name must not be empty")
	}
	if strings.TrimSpace(locator) == "" {
		return dberr.New(dberr.InvalidRequest, "database locator must not be empty")
	}

	r.regMu.Lock()
	defer r.regMu.Unlock()

	r.mu.RLock()
	_, exists := r.handles[name]
	r.mu.RUnlock()
	if exists {
		return dberr.New(dberr.AlreadyExists, "database %q is already registered", name)
	}

	backend, err := r.open(ctx, locator)
	if err != nil {
		return err
	}

	h := &Handle{Name: name, Locator: locator, Backend: backend, CreatedAt: time.Now()}
	r.mu.Lock()
	r.handles[name] = h
	r.order = append(r.order, name)
	r.mu.Unlock()

	r.logger.Info("database registered", "name", name, "engine", backend.Dialect().Engine, "locator", Redact(locator))
	return nil
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered databases.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) snapshot() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, len(r.order))
	for i, name := range r.order {
		out[i] = r.handles[name]
	}
	return out
}

// Status pings every database concurrently, without holding the registry
// lock, and reports them in registration order.
func (r *Registry) Status(ctx context.Context) []Status {
	handles := r.snapshot()
	out := make([]Status, len(handles))

	var g errgroup.Group
	for i, h := range handles {
		out[i] = Status{Name: h.Name, Locator: Redact(h.Locator), ConnectedAt: h.CreatedAt}
		g.Go(func() error {
			pingCtx, cancel := context.WithTimeout(ctx, statusPingTimeout)
			defer cancel()
			if err := h.Backend.Ping(pingCtx); err != nil {
				r.logger.Warn("database ping failed", "name", h.Name, "error", err)
				return nil
			}
			out[i].Connected = true
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// Close closes every backend.
func (r *Registry) Close() error {
	var errs []error
	for _, h := range r.snapshot() {
		if err := h.Backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close %s: %w", h.Name, err))
		}
	}
	return errors.Join(errs...)
}
