package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/elonfeng/socialpulse/pkg/record"
	"github.com/elonfeng/socialpulse/pkg/source"
)

// Backend names accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
	BackendNone   = "none"
)

// Filter selects records on Query. Zero fields match everything.
type Filter struct {
	Source   string
	Platform source.Platform
	Since    time.Time
	Limit    int
}

func (f Filter) match(r record.Record) bool {
	if f.Source != "" && r.Source != f.Source {
		return false
	}
	if f.Platform != "" && r.Platform != f.Platform {
		return false
	}
	if !f.Since.IsZero() && r.CollectedAt.Before(f.Since) {
		return false
	}
	return true
}

// Store is the persistence interface.
//
// Upsert keys records by (ID, Source) when ID is set; records without an ID
// are always inserted. Each record is written on its own: the returned count
// covers only the records actually written and the error joins the failures.
type Store interface {
	Upsert(ctx context.Context, set record.Set) (int, error)
	Query(ctx context.Context, filter Filter) (record.Set, error)
	Sources(ctx context.Context) (map[string]int, error)
	Close() error
}

// StoreUnavailableError reports that the sink could not be reached.
type StoreUnavailableError struct {
	Backend string
	Err     error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("%s store unavailable: %v", e.Backend, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is or wraps a StoreUnavailableError.
func IsUnavailable(err error) bool {
	var u *StoreUnavailableError
	return errors.As(err, &u)
}

// Options selects and configures a backend.
type Options struct {
	Backend string

	// json
	Dir string

	// sqlite
	Path string

	// mongo
	URI        string
	Database   string
	Collection string

	Timeout time.Duration
}

// Open connects to the configured backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case BackendJSON, "":
		return NewJSON(opts.Dir)
	case BackendSQLite:
		return NewSQLite(opts.Path)
	case BackendMongo:
		return NewMongo(ctx, opts.URI, opts.Database, opts.Collection, opts.Timeout)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", opts.Backend)
	}
}

// upsertEach applies write to every record in order. It stops early only when
// the sink becomes unreachable or ctx is done.
func upsertEach(ctx context.Context, records []record.Record, write func(context.Context, record.Record) error) (int, error) {
	var (
		written int
		errs    []error
	)
	for i, r := range records {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := write(ctx, r); err != nil {
			if IsUnavailable(err) {
				errs = append(errs, err)
				break
			}
			errs = append(errs, fmt.Errorf("record %d (%s/%s): %w", i, r.Source, r.ID, err))
			continue
		}
		written++
	}
	return written, errors.Join(errs...)
}

func limit(records []record.Record, n int) []record.Record {
	if n > 0 && len(records) > n {
		return records[:n]
	}
	return records
}
