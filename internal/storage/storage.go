package storage

import (
	"context"
	"fmt"
	"strings"

	"coldwatch/internal/logger"
	"coldwatch/internal/state"
)

// Backend names accepted by Open
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendMySQL    = "mysql"
)

// kvTable holds every namespaced key in the SQL backends
const kvTable = "coldwatch_kv"

// Options selects and configures a persistence backend
type Options struct {
	Backend string
	Path    string // file backend
	DSN     string // postgres and mysql backends
}

// Open returns the state.Store for the configured backend
func Open(ctx context.Context, opts Options) (state.Store, error) {
	log := logger.WithComponent("storage")
	backend := strings.ToLower(strings.TrimSpace(opts.Backend))

	var (
		store state.Store
		err   error
	)
	switch backend {
	case BackendMemory, "":
		store = state.NewMemoryStore()
	case BackendFile:
		store, err = state.NewFileStore(opts.Path)
	case BackendPostgres, "postgresql":
		store, err = NewPostgres(ctx, opts.DSN)
	case BackendMySQL:
		store, err = NewMySQL(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", opts.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", backend, err)
	}

	log.Info().Str("backend", backend).Msg("storage opened")
	return store, nil
}
