package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/elonfeng/socialpulse/pkg/record"
	"github.com/elonfeng/socialpulse/pkg/source"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

// recordRow is the records table layout.
type recordRow struct {
	RowID       int64        `db:"id"`
	ExternalID  string       `db:"external_id"`
	Source      string       `db:"source"`
	Platform    string       `db:"platform"`
	Text        string       `db:"text"`
	URL         string       `db:"url"`
	CreatedAt   sql.NullTime `db:"created_at"`
	CollectedAt time.Time    `db:"collected_at"`
	StoredAt    time.Time    `db:"stored_at"`
	MetricsJSON string       `db:"metrics"`
	ImputedJSON string       `db:"imputed"`
}

func (row recordRow) record() record.Record {
	r := record.Record{
		ID:          row.ExternalID,
		Source:      row.Source,
		Platform:    source.Platform(row.Platform),
		Text:        row.Text,
		URL:         row.URL,
		CollectedAt: row.CollectedAt.UTC(),
		StoredAt:    row.StoredAt.UTC(),
		Metrics:     record.Metrics{},
	}
	if row.CreatedAt.Valid {
		t := row.CreatedAt.Time.UTC()
		r.CreatedAt = &t
	}
	if err := json.Unmarshal([]byte(row.MetricsJSON), &r.Metrics); err != nil || r.Metrics == nil {
		r.Metrics = record.Metrics{}
	}
	if err := json.Unmarshal([]byte(row.ImputedJSON), &r.Imputed); err != nil {
		r.Imputed = nil
	}
	// Unreadable or partial metrics come back as imputed zeros.
	for _, name := range record.MetricNames() {
		if _, ok := r.Metrics[name]; ok {
			continue
		}
		r.Metrics[name] = 0
		if !slices.Contains(r.Imputed, name) {
			r.Imputed = append(r.Imputed, name)
		}
	}
	return r
}

// NewSQLite opens a SQLite database and runs migrations.
func NewSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "socialpulse.db"
	}
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, &StoreUnavailableError{Backend: BackendSQLite, Err: fmt.Errorf("open sqlite %s: %w", path, err)}
	}
	// One shared handle per run.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &StoreUnavailableError{Backend: BackendSQLite, Err: fmt.Errorf("run migrations: %w", err)}
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Upsert(ctx context.Context, set record.Set) (int, error) {
	stored := s.now().UTC()
	return upsertEach(ctx, set.Records, func(ctx context.Context, r record.Record) error {
		return s.upsertRecord(ctx, r, stored)
	})
}

func (s *SQLiteStore) upsertRecord(ctx context.Context, r record.Record, stored time.Time) error {
	metricsJSON, _ := json.Marshal(r.Metrics)
	imputedJSON, _ := json.Marshal(r.Imputed)
	if r.Imputed == nil {
		imputedJSON = []byte("[]")
	}

	var createdAt any
	if r.HasTimestamp() {
		createdAt = r.CreatedAt.UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO records (external_id, source, platform, text, url, created_at, collected_at, stored_at, metrics, imputed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, external_id) WHERE external_id <> '' DO UPDATE SET
			platform = excluded.platform,
			text = excluded.text,
			url = excluded.url,
			created_at = excluded.created_at,
			collected_at = excluded.collected_at,
			stored_at = excluded.stored_at,
			metrics = excluded.metrics,
			imputed = excluded.imputed
	`, r.ID, r.Source, string(r.Platform), r.Text, r.URL,
		createdAt, r.CollectedAt.UTC(), stored, string(metricsJSON), string(imputedJSON))
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Query(ctx context.Context, filter Filter) (record.Set, error) {
	query := "SELECT * FROM records WHERE 1=1"
	var args []any

	if filter.Source != "" {
		query += " AND source = ?"
		args = append(args, filter.Source)
	}
	if filter.Platform != "" {
		query += " AND platform = ?"
		args = append(args, string(filter.Platform))
	}
	if !filter.Since.IsZero() {
		query += " AND collected_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY id"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return record.Set{}, fmt.Errorf("query records: %w", err)
	}

	set := record.Set{Records: make([]record.Record, 0, len(rows))}
	for _, row := range rows {
		set.Records = append(set.Records, row.record())
	}
	return set, nil
}

func (s *SQLiteStore) Sources(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryxContext(ctx, "SELECT source, COUNT(*) as cnt FROM records GROUP BY source")
	if err != nil {
		return nil, fmt.Errorf("count records by source: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var src string
		var cnt int
		if err := rows.Scan(&src, &cnt); err != nil {
			return nil, err
		}
		counts[src] = cnt
	}
	return counts, rows.Err()
}
