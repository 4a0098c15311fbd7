package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/rangeatlas/occurrence-cli/internal/db"
	"github.com/rangeatlas/occurrence-cli/internal/occurrence"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sources (
	id       BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	name     TEXT NOT NULL UNIQUE,
	priority INTEGER NOT NULL DEFAULT 100
);

CREATE TABLE IF NOT EXISTS datasets (
	id            UUID PRIMARY KEY,
	source_id     BIGINT NOT NULL REFERENCES sources(id),
	date_received TIMESTAMPTZ NOT NULL DEFAULT now(),
	restrictions  TEXT
);

CREATE TABLE IF NOT EXISTS species (
	id              BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	scientific_name TEXT NOT NULL UNIQUE,
	common_name     TEXT
);

CREATE TABLE IF NOT EXISTS occurrences (
	id               BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	source_id        BIGINT NOT NULL REFERENCES sources(id),
	dataset_id       UUID NOT NULL REFERENCES datasets(id),
	species_id       BIGINT NOT NULL REFERENCES species(id),
	unique_key       TEXT NOT NULL,
	geom             BYTEA NOT NULL,
	longitude        DOUBLE PRECISION NOT NULL,
	latitude         DOUBLE PRECISION NOT NULL,
	min_date         TIMESTAMPTZ,
	max_date         TIMESTAMPTZ,
	accuracy         DOUBLE PRECISION,
	obscured         BOOLEAN NOT NULL DEFAULT false,
	quality_grade    TEXT NOT NULL DEFAULT 'research',
	basis_of_record  TEXT,
	uri              TEXT,
	individual_count INTEGER,
	institution_code TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (source_id, unique_key)
);

CREATE TABLE IF NOT EXISTS exclusions (
	id            BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	occurrence_id BIGINT NOT NULL REFERENCES occurrences(id),
	reason        TEXT NOT NULL,
	justification TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (occurrence_id, reason)
);

CREATE TABLE IF NOT EXISTS ingest_log (
	id           BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	dataset_id   UUID NOT NULL REFERENCES datasets(id),
	source_id    BIGINT NOT NULL REFERENCES sources(id),
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	summary      JSONB
);

CREATE INDEX IF NOT EXISTS idx_occurrences_source_species ON occurrences(source_id, species_id);
CREATE INDEX IF NOT EXISTS idx_occurrences_species ON occurrences(species_id);
CREATE INDEX IF NOT EXISTS idx_exclusions_occurrence ON exclusions(occurrence_id);
CREATE INDEX IF NOT EXISTS idx_ingest_log_dataset ON ingest_log(dataset_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Sources

func (s *PostgresStore) UpsertSource(ctx context.Context, name string, priority int) (*occurrence.Source, error) {
	var src occurrence.Source
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sources (name, priority) VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET priority = EXCLUDED.priority
		 RETURNING id, name, priority`,
		name, priority,
	).Scan(&src.ID, &src.Name, &src.Priority)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert source %s", name)
	}
	return &src, nil
}

// SeedSources bulk-upserts the configured provider list in one round trip.
func (s *PostgresStore) SeedSources(ctx context.Context, sources []occurrence.Source) (int64, error) {
	rows := make([][]any, len(sources))
	for i, src := range sources {
		rows[i] = []any{src.Name, src.Priority}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "sources",
		Columns:      []string{"name", "priority"},
		ConflictKeys: []string{"name"},
	}, rows)
	return n, eris.Wrap(err, "postgres: seed sources")
}

func (s *PostgresStore) GetSource(ctx context.Context, name string) (*occurrence.Source, error) {
	var src occurrence.Source
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, priority FROM sources WHERE name = $1`, name,
	).Scan(&src.ID, &src.Name, &src.Priority)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: unknown source %q", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get source %s", name)
	}
	return &src, nil
}

func (s *PostgresStore) ListSources(ctx context.Context) ([]occurrence.Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, priority FROM sources ORDER BY priority, name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources")
	}
	defer rows.Close()

	var out []occurrence.Source
	for rows.Next() {
		var src occurrence.Source
		if err := rows.Scan(&src.ID, &src.Name, &src.Priority); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source")
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate sources")
}

// Datasets

func (s *PostgresStore) CreateDataset(ctx context.Context, sourceID int64, restrictions string) (*occurrence.Dataset, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO datasets (id, source_id, date_received, restrictions) VALUES ($1, $2, $3, $4)`,
		id, sourceID, now, nullString(restrictions),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert dataset")
	}

	return &occurrence.Dataset{
		ID:           id,
		SourceID:     sourceID,
		DateReceived: now,
		Restrictions: restrictions,
	}, nil
}

// Species

func (s *PostgresStore) GetOrCreateSpecies(ctx context.Context, scientificName string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM species WHERE scientific_name = $1`, scientificName,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, eris.Wrapf(err, "postgres: get species %s", scientificName)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO species (scientific_name) VALUES ($1)
		 ON CONFLICT (scientific_name) DO UPDATE SET scientific_name = EXCLUDED.scientific_name
		 RETURNING id`,
		scientificName,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: insert species %s", scientificName)
	}
	return id, nil
}

// Occurrences

func (s *PostgresStore) InsertOccurrence(ctx context.Context, o *occurrence.Occurrence) (int64, error) {
	now := time.Now().UTC()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO occurrences (source_id, dataset_id, species_id, unique_key, geom,
		 longitude, latitude, min_date, max_date, accuracy, obscured, quality_grade,
		 basis_of_record, uri, individual_count, institution_code, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 RETURNING id`,
		o.SourceID, o.DatasetID, o.SpeciesID, o.UniqueKey, o.Geom,
		o.Longitude, o.Latitude, nullTime(o.MinDate), nullTime(o.MaxDate),
		nullFloat(o.Accuracy), o.Obscured, string(o.QualityGrade),
		nullString(o.BasisOfRecord), nullString(o.URI), nullInt(o.IndividualCount),
		nullString(o.InstitutionCode), now, now,
	).Scan(&o.ID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: insert occurrence %s/%s", o.DatasetID, o.UniqueKey)
	}
	o.CreatedAt, o.UpdatedAt = now, now
	return o.ID, nil
}

func (s *PostgresStore) UpdateOccurrence(ctx context.Context, id int64, upd occurrence.Update) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE occurrences
		 SET geom = $1, longitude = $2, latitude = $3, accuracy = $4, obscured = $5,
		     min_date = $6, max_date = $7, updated_at = $8
		 WHERE id = $9`,
		upd.Geom, upd.Longitude, upd.Latitude, nullFloat(upd.Accuracy), upd.Obscured,
		nullTime(upd.MinDate), nullTime(upd.MaxDate), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update occurrence %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("occurrence not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) DeleteOccurrence(ctx context.Context, id int64) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM exclusions WHERE occurrence_id = $1`, id); err != nil {
		return eris.Wrapf(err, "postgres: delete exclusions of %d", id)
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM occurrences WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete occurrence %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("occurrence not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) GetOccurrence(ctx context.Context, id int64) (*occurrence.Occurrence, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+occurrenceCols+` FROM occurrences WHERE id = $1`, id)
	o, err := scanOccurrencePG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("postgres: occurrence not found: %d", id)
	}
	return o, err
}

func (s *PostgresStore) ListOccurrences(ctx context.Context, f OccurrenceFilter) ([]occurrence.Occurrence, error) {
	var where []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.SourceID != 0 {
		where = append(where, "source_id = "+arg(f.SourceID))
	}
	if f.SpeciesID != 0 {
		where = append(where, "species_id = "+arg(f.SpeciesID))
	}
	if f.UniqueKey != "" {
		where = append(where, "unique_key = "+arg(f.UniqueKey))
	}
	if f.RequireDate {
		where = append(where, "min_date IS NOT NULL")
	}
	if !f.IncludeExcluded {
		where = append(where, "NOT EXISTS (SELECT 1 FROM exclusions e WHERE e.occurrence_id = occurrences.id)")
	}

	query := `SELECT ` + occurrenceCols + ` FROM occurrences`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT " + arg(f.Limit)
		if f.Offset > 0 {
			query += " OFFSET " + arg(f.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list occurrences")
	}
	defer rows.Close()

	var out []occurrence.Occurrence
	for rows.Next() {
		o, err := scanOccurrencePG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate occurrences")
}

func (s *PostgresStore) IdentityIndex(ctx context.Context, sourceID int64) (map[string]int64, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT unique_key, id FROM occurrences WHERE source_id = $1`, sourceID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: identity index for source %d", sourceID)
	}
	defer rows.Close()

	idx := make(map[string]int64)
	for rows.Next() {
		var key string
		var id int64
		if err := rows.Scan(&key, &id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan identity index row")
		}
		idx[key] = id
	}
	return idx, eris.Wrap(rows.Err(), "postgres: iterate identity index")
}

func (s *PostgresStore) DistinctSpecies(ctx context.Context, sourceIDs []int64) ([]int64, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT species_id FROM occurrences
		 WHERE source_id = ANY($1)
		   AND NOT EXISTS (SELECT 1 FROM exclusions e WHERE e.occurrence_id = occurrences.id)
		 ORDER BY species_id`,
		sourceIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: distinct species")
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan species id")
		}
		out = append(out, id)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate species ids")
}

// Exclusions

func (s *PostgresStore) AddExclusion(ctx context.Context, occurrenceID int64, reason occurrence.ExclusionReason, justification string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO exclusions (occurrence_id, reason, justification, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (occurrence_id, reason) DO NOTHING`,
		occurrenceID, string(reason), nullString(justification), time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: add exclusion %d/%s", occurrenceID, reason)
}

func (s *PostgresStore) RemoveExclusion(ctx context.Context, occurrenceID int64, reason occurrence.ExclusionReason) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM exclusions WHERE occurrence_id = $1 AND reason = $2`,
		occurrenceID, string(reason),
	)
	return eris.Wrapf(err, "postgres: remove exclusion %d/%s", occurrenceID, reason)
}

func (s *PostgresStore) IsExcluded(ctx context.Context, occurrenceID int64) (bool, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM exclusions WHERE occurrence_id = $1`, occurrenceID,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: is excluded %d", occurrenceID)
	}
	return n > 0, nil
}

func (s *PostgresStore) ListExclusions(ctx context.Context, occurrenceID int64) ([]occurrence.Exclusion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, occurrence_id, reason, justification, created_at
		 FROM exclusions WHERE occurrence_id = $1 ORDER BY id`,
		occurrenceID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list exclusions %d", occurrenceID)
	}
	defer rows.Close()

	var out []occurrence.Exclusion
	for rows.Next() {
		var e occurrence.Exclusion
		var just sql.NullString
		if err := rows.Scan(&e.ID, &e.OccurrenceID, &e.Reason, &just, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan exclusion")
		}
		e.Justification = just.String
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate exclusions")
}

// Ingest log

func (s *PostgresStore) RecordIngest(ctx context.Context, entry *IngestEntry) error {
	var summary any
	if len(entry.Summary) > 0 {
		summary = []byte(entry.Summary)
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO ingest_log (dataset_id, source_id, started_at, completed_at, summary)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		entry.DatasetID, entry.SourceID, entry.StartedAt, nullTime(entry.CompletedAt), summary,
	).Scan(&entry.ID)
	return eris.Wrap(err, "postgres: record ingest")
}

func (s *PostgresStore) ListIngests(ctx context.Context, limit int) ([]IngestEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, dataset_id, source_id, started_at, completed_at, summary
		 FROM ingest_log ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ingests")
	}
	defer rows.Close()

	var out []IngestEntry
	for rows.Next() {
		var e IngestEntry
		var completed sql.NullTime
		var summary []byte
		if err := rows.Scan(&e.ID, &e.DatasetID, &e.SourceID, &e.StartedAt, &completed, &summary); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ingest entry")
		}
		if completed.Valid {
			t := completed.Time
			e.CompletedAt = &t
		}
		e.Summary = summary
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate ingests")
}

func (s *PostgresStore) CountBySource(ctx context.Context) ([]SourceCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT s.name, COUNT(o.id)
		 FROM sources s
		 LEFT JOIN occurrences o ON o.source_id = s.id
		   AND NOT EXISTS (SELECT 1 FROM exclusions e WHERE e.occurrence_id = o.id)
		 GROUP BY s.id, s.name, s.priority ORDER BY s.priority, s.name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count by source")
	}
	defer rows.Close()

	var out []SourceCount
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.Source, &sc.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source count")
		}
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate source counts")
}

func scanOccurrencePG(row pgx.Row) (*occurrence.Occurrence, error) {
	var o occurrence.Occurrence
	var minDate, maxDate sql.NullTime
	var accuracy sql.NullFloat64
	var basis, uri, inst sql.NullString
	var count sql.NullInt64
	var grade string

	err := row.Scan(
		&o.ID, &o.SourceID, &o.DatasetID, &o.SpeciesID, &o.UniqueKey, &o.Geom,
		&o.Longitude, &o.Latitude, &minDate, &maxDate, &accuracy, &o.Obscured,
		&grade, &basis, &uri, &count, &inst, &o.CreatedAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan occurrence")
	}

	o.QualityGrade = occurrence.QualityGrade(grade)
	if minDate.Valid {
		t := minDate.Time
		o.MinDate = &t
	}
	if maxDate.Valid {
		t := maxDate.Time
		o.MaxDate = &t
	}
	if accuracy.Valid {
		v := accuracy.Float64
		o.Accuracy = &v
	}
	o.BasisOfRecord = basis.String
	o.URI = uri.String
	o.InstitutionCode = inst.String
	if count.Valid {
		v := int(count.Int64)
		o.IndividualCount = &v
	}
	return &o, nil
}
