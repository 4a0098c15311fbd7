package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/rangeatlas/occurrence-cli/internal/occurrence"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sources (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	name     TEXT NOT NULL UNIQUE,
	priority INTEGER NOT NULL DEFAULT 100
);

CREATE TABLE IF NOT EXISTS datasets (
	id            TEXT PRIMARY KEY,
	source_id     INTEGER NOT NULL REFERENCES sources(id),
	date_received DATETIME NOT NULL DEFAULT (datetime('now')),
	restrictions  TEXT
);

CREATE TABLE IF NOT EXISTS species (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	scientific_name TEXT NOT NULL UNIQUE,
	common_name     TEXT
);

CREATE TABLE IF NOT EXISTS occurrences (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	source_id        INTEGER NOT NULL REFERENCES sources(id),
	dataset_id       TEXT NOT NULL REFERENCES datasets(id),
	species_id       INTEGER NOT NULL REFERENCES species(id),
	unique_key       TEXT NOT NULL,
	geom             BLOB NOT NULL,
	longitude        REAL NOT NULL,
	latitude         REAL NOT NULL,
	min_date         DATETIME,
	max_date         DATETIME,
	accuracy         REAL,
	obscured         INTEGER NOT NULL DEFAULT 0,
	quality_grade    TEXT NOT NULL DEFAULT 'research',
	basis_of_record  TEXT,
	uri              TEXT,
	individual_count INTEGER,
	institution_code TEXT,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (source_id, unique_key)
);

CREATE TABLE IF NOT EXISTS exclusions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	occurrence_id INTEGER NOT NULL REFERENCES occurrences(id),
	reason        TEXT NOT NULL,
	justification TEXT,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (occurrence_id, reason)
);

CREATE TABLE IF NOT EXISTS ingest_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	dataset_id   TEXT NOT NULL REFERENCES datasets(id),
	source_id    INTEGER NOT NULL REFERENCES sources(id),
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	summary      TEXT
);

CREATE INDEX IF NOT EXISTS idx_occurrences_source_species ON occurrences(source_id, species_id);
CREATE INDEX IF NOT EXISTS idx_occurrences_species ON occurrences(species_id);
CREATE INDEX IF NOT EXISTS idx_exclusions_occurrence ON exclusions(occurrence_id);
CREATE INDEX IF NOT EXISTS idx_ingest_log_dataset ON ingest_log(dataset_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Sources

func (s *SQLiteStore) UpsertSource(ctx context.Context, name string, priority int) (*occurrence.Source, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (name, priority) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET priority = excluded.priority`,
		name, priority,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert source %s", name)
	}
	return s.GetSource(ctx, name)
}

func (s *SQLiteStore) GetSource(ctx context.Context, name string) (*occurrence.Source, error) {
	var src occurrence.Source
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, priority FROM sources WHERE name = ?`, name,
	).Scan(&src.ID, &src.Name, &src.Priority)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("sqlite: unknown source %q", name)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get source %s", name)
	}
	return &src, nil
}

func (s *SQLiteStore) ListSources(ctx context.Context) ([]occurrence.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, priority FROM sources ORDER BY priority, name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sources")
	}
	defer rows.Close()

	var out []occurrence.Source
	for rows.Next() {
		var src occurrence.Source
		if err := rows.Scan(&src.ID, &src.Name, &src.Priority); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source")
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate sources")
}

// Datasets

func (s *SQLiteStore) CreateDataset(ctx context.Context, sourceID int64, restrictions string) (*occurrence.Dataset, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO datasets (id, source_id, date_received, restrictions) VALUES (?, ?, ?, ?)`,
		id, sourceID, now, nullString(restrictions),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert dataset")
	}

	return &occurrence.Dataset{
		ID:           id,
		SourceID:     sourceID,
		DateReceived: now,
		Restrictions: restrictions,
	}, nil
}

// Species

func (s *SQLiteStore) GetOrCreateSpecies(ctx context.Context, scientificName string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM species WHERE scientific_name = ?`, scientificName,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, eris.Wrapf(err, "sqlite: get species %s", scientificName)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO species (scientific_name) VALUES (?)`, scientificName,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert species %s", scientificName)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: species last insert id")
	}
	return id, nil
}

// Occurrences

const occurrenceCols = `id, source_id, dataset_id, species_id, unique_key, geom,
	longitude, latitude, min_date, max_date, accuracy, obscured, quality_grade,
	basis_of_record, uri, individual_count, institution_code, created_at, updated_at`

func (s *SQLiteStore) InsertOccurrence(ctx context.Context, o *occurrence.Occurrence) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO occurrences (source_id, dataset_id, species_id, unique_key, geom,
		 longitude, latitude, min_date, max_date, accuracy, obscured, quality_grade,
		 basis_of_record, uri, individual_count, institution_code, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.SourceID, o.DatasetID, o.SpeciesID, o.UniqueKey, o.Geom,
		o.Longitude, o.Latitude, nullTime(o.MinDate), nullTime(o.MaxDate),
		nullFloat(o.Accuracy), o.Obscured, string(o.QualityGrade),
		nullString(o.BasisOfRecord), nullString(o.URI), nullInt(o.IndividualCount),
		nullString(o.InstitutionCode), now, now,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert occurrence %s/%s", o.DatasetID, o.UniqueKey)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: occurrence last insert id")
	}
	o.ID = id
	o.CreatedAt, o.UpdatedAt = now, now
	return id, nil
}

func (s *SQLiteStore) UpdateOccurrence(ctx context.Context, id int64, upd occurrence.Update) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE occurrences
		 SET geom = ?, longitude = ?, latitude = ?, accuracy = ?, obscured = ?,
		     min_date = ?, max_date = ?, updated_at = ?
		 WHERE id = ?`,
		upd.Geom, upd.Longitude, upd.Latitude, nullFloat(upd.Accuracy), upd.Obscured,
		nullTime(upd.MinDate), nullTime(upd.MaxDate), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update occurrence %d", id)
	}
	return checkRowsAffected(res, "occurrence", id)
}

func (s *SQLiteStore) DeleteOccurrence(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM exclusions WHERE occurrence_id = ?`, id); err != nil {
		return eris.Wrapf(err, "sqlite: delete exclusions of %d", id)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM occurrences WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete occurrence %d", id)
	}
	return checkRowsAffected(res, "occurrence", id)
}

func (s *SQLiteStore) GetOccurrence(ctx context.Context, id int64) (*occurrence.Occurrence, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+occurrenceCols+` FROM occurrences WHERE id = ?`, id)
	o, err := scanOccurrence(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("sqlite: occurrence not found: %d", id)
	}
	return o, err
}

func (s *SQLiteStore) ListOccurrences(ctx context.Context, f OccurrenceFilter) ([]occurrence.Occurrence, error) {
	var where []string
	var args []any

	if f.SourceID != 0 {
		where = append(where, "source_id = ?")
		args = append(args, f.SourceID)
	}
	if f.SpeciesID != 0 {
		where = append(where, "species_id = ?")
		args = append(args, f.SpeciesID)
	}
	if f.UniqueKey != "" {
		where = append(where, "unique_key = ?")
		args = append(args, f.UniqueKey)
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
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list occurrences")
	}
	defer rows.Close()

	var out []occurrence.Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate occurrences")
}

func (s *SQLiteStore) IdentityIndex(ctx context.Context, sourceID int64) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT unique_key, id FROM occurrences WHERE source_id = ?`, sourceID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: identity index for source %d", sourceID)
	}
	defer rows.Close()

	idx := make(map[string]int64)
	for rows.Next() {
		var key string
		var id int64
		if err := rows.Scan(&key, &id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan identity index row")
		}
		idx[key] = id
	}
	return idx, eris.Wrap(rows.Err(), "sqlite: iterate identity index")
}

func (s *SQLiteStore) DistinctSpecies(ctx context.Context, sourceIDs []int64) ([]int64, error) {
	if len(sourceIDs) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(sourceIDs))
	args := make([]any, len(sourceIDs))
	for i, id := range sourceIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT species_id FROM occurrences
		 WHERE source_id IN (`+strings.Join(placeholders, ", ")+`)
		   AND NOT EXISTS (SELECT 1 FROM exclusions e WHERE e.occurrence_id = occurrences.id)
		 ORDER BY species_id`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: distinct species")
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan species id")
		}
		out = append(out, id)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate species ids")
}

// Exclusions

func (s *SQLiteStore) AddExclusion(ctx context.Context, occurrenceID int64, reason occurrence.ExclusionReason, justification string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO exclusions (occurrence_id, reason, justification, created_at)
		 VALUES (?, ?, ?, ?)`,
		occurrenceID, string(reason), nullString(justification), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: add exclusion %d/%s", occurrenceID, reason)
}

func (s *SQLiteStore) RemoveExclusion(ctx context.Context, occurrenceID int64, reason occurrence.ExclusionReason) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM exclusions WHERE occurrence_id = ? AND reason = ?`,
		occurrenceID, string(reason),
	)
	return eris.Wrapf(err, "sqlite: remove exclusion %d/%s", occurrenceID, reason)
}

func (s *SQLiteStore) IsExcluded(ctx context.Context, occurrenceID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM exclusions WHERE occurrence_id = ?`, occurrenceID,
	).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: is excluded %d", occurrenceID)
	}
	return n > 0, nil
}

func (s *SQLiteStore) ListExclusions(ctx context.Context, occurrenceID int64) ([]occurrence.Exclusion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, occurrence_id, reason, justification, created_at
		 FROM exclusions WHERE occurrence_id = ? ORDER BY id`,
		occurrenceID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list exclusions %d", occurrenceID)
	}
	defer rows.Close()

	var out []occurrence.Exclusion
	for rows.Next() {
		var e occurrence.Exclusion
		var just sql.NullString
		if err := rows.Scan(&e.ID, &e.OccurrenceID, &e.Reason, &just, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan exclusion")
		}
		e.Justification = just.String
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate exclusions")
}

// Ingest log

func (s *SQLiteStore) RecordIngest(ctx context.Context, entry *IngestEntry) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_log (dataset_id, source_id, started_at, completed_at, summary)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.DatasetID, entry.SourceID, entry.StartedAt, nullTime(entry.CompletedAt),
		nullString(string(entry.Summary)),
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: record ingest")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: ingest last insert id")
	}
	entry.ID = id
	return nil
}

func (s *SQLiteStore) ListIngests(ctx context.Context, limit int) ([]IngestEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dataset_id, source_id, started_at, completed_at, summary
		 FROM ingest_log ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ingests")
	}
	defer rows.Close()

	var out []IngestEntry
	for rows.Next() {
		var e IngestEntry
		var completed sql.NullTime
		var summary sql.NullString
		if err := rows.Scan(&e.ID, &e.DatasetID, &e.SourceID, &e.StartedAt, &completed, &summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ingest entry")
		}
		if completed.Valid {
			t := completed.Time
			e.CompletedAt = &t
		}
		if summary.Valid {
			e.Summary = []byte(summary.String)
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate ingests")
}

func (s *SQLiteStore) CountBySource(ctx context.Context) ([]SourceCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.name, COUNT(o.id)
		 FROM sources s
		 LEFT JOIN occurrences o ON o.source_id = s.id
		   AND NOT EXISTS (SELECT 1 FROM exclusions e WHERE e.occurrence_id = o.id)
		 GROUP BY s.id ORDER BY s.priority, s.name`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count by source")
	}
	defer rows.Close()

	var out []SourceCount
	for rows.Next() {
		var sc SourceCount
		if err := rows.Scan(&sc.Source, &sc.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source count")
		}
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate source counts")
}

// helpers

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %d", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanOccurrence(row scannable) (*occurrence.Occurrence, error) {
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
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan occurrence")
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

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}

func nullInt(i *int) any {
	if i == nil {
		return nil
	}
	return *i
}
