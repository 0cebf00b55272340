package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/elonfeng/socialpulse/pkg/record"
	"github.com/elonfeng/socialpulse/pkg/source"
)

const (
	recordsSuffix = "_records.json"
	combinedFile  = "all_records.json"
)

// JSONStore keeps one array file per source plus a combined source -> records
// file, all in one directory.
type JSONStore struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// NewJSON creates the directory if needed.
func NewJSON(dir string) (*JSONStore, error) {
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &StoreUnavailableError{Backend: BackendJSON, Err: err}
	}
	return &JSONStore{dir: dir, now: time.Now}, nil
}

// SourceFile returns the per-source file path for a source tag.
func (s *JSONStore) SourceFile(src string) string {
	return filepath.Join(s.dir, source.SafeKey(src)+recordsSuffix)
}

// CombinedFile returns the path of the source -> records file.
func (s *JSONStore) CombinedFile() string {
	return filepath.Join(s.dir, combinedFile)
}

func (s *JSONStore) Upsert(ctx context.Context, set record.Set) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		written int
		errs    []error
	)
	bySource := set.BySource()
	for _, src := range set.Sources() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		n, err := s.upsertSource(src, bySource[src])
		if err != nil {
			errs = append(errs, err)
			if IsUnavailable(err) {
				break
			}
			continue
		}
		written += n
	}
	if written > 0 {
		if err := s.writeCombined(); err != nil {
			errs = append(errs, err)
		}
	}
	return written, errors.Join(errs...)
}

// upsertSource merges records into the source's file. The file is replaced
// atomically, so either all of this source's records land or none do.
func (s *JSONStore) upsertSource(src string, records []record.Record) (int, error) {
	path := s.SourceFile(src)
	existing, err := readRecords(path)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}

	index := make(map[string]int, len(existing))
	for i, r := range existing {
		if r.HasID() {
			index[r.ID] = i
		}
	}

	now := s.now().UTC()
	for _, r := range records {
		r.StoredAt = now
		if i, ok := index[r.ID]; ok && r.HasID() {
			existing[i] = r
			continue
		}
		if r.HasID() {
			index[r.ID] = len(existing)
		}
		existing = append(existing, r)
	}

	if err := writeJSON(path, existing); err != nil {
		return 0, err
	}
	return len(records), nil
}

func (s *JSONStore) writeCombined() error {
	all, err := s.load("")
	if err != nil {
		return err
	}
	combined := make(map[string][]record.Record)
	for _, r := range all {
		combined[r.Source] = append(combined[r.Source], r)
	}
	return writeJSON(s.CombinedFile(), combined)
}

func (s *JSONStore) Query(ctx context.Context, filter Filter) (record.Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load(filter.Source)
	if err != nil {
		return record.Set{}, err
	}
	var out []record.Record
	for _, r := range records {
		if filter.match(r) {
			out = append(out, r)
		}
	}
	return record.Set{Records: limit(out, filter.Limit)}, nil
}

func (s *JSONStore) Sources(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load("")
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int)
	for _, r := range records {
		counts[r.Source]++
	}
	return counts, nil
}

func (s *JSONStore) Close() error { return nil }

// load reads one source's file, or every per-source file in name order when
// src is empty.
func (s *JSONStore) load(src string) ([]record.Record, error) {
	if src != "" {
		path := s.SourceFile(src)
		records, err := readRecords(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return records, nil
	}

	paths, err := filepath.Glob(filepath.Join(s.dir, "*"+recordsSuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var all []record.Record
	for _, path := range paths {
		if strings.HasSuffix(path, string(filepath.Separator)+combinedFile) {
			continue
		}
		records, err := readRecords(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		all = append(all, records...)
	}
	return all, nil
}

func readRecords(path string) ([]record.Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var records []record.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// writeJSON replaces path via a temp file and rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return &StoreUnavailableError{Backend: BackendJSON, Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
