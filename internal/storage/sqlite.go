package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/matsen/litsearch/internal/errs"
	"github.com/matsen/litsearch/internal/record"
	_ "modernc.org/sqlite"
)

// DefaultPageSize is the number of records fetched per query by ListRecords.
const DefaultPageSize = 500

// DB wraps a SQLite database holding normalized articles.
type DB struct {
	db       *sql.DB
	pageSize int
	now      func() time.Time
}

// selectArticleFields contains the standard field list for SELECT queries.
const selectArticleFields = `id, doi, title, abstract, keywords, subject_areas,
	year, source_title, citation_count, authors_json`

// OpenDB opens or creates a SQLite database at the given path.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db: db, pageSize: DefaultPageSize, now: time.Now}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// createSchema creates the database schema if it doesn't exist.
func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS articles (
			id TEXT PRIMARY KEY,
			doi TEXT,
			title TEXT NOT NULL,
			abstract TEXT,
			keywords TEXT,
			subject_areas TEXT,
			year INTEGER NOT NULL DEFAULT 0,
			source_title TEXT,
			citation_count INTEGER NOT NULL DEFAULT 0,
			authors_json TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_articles_year ON articles(year);
		CREATE INDEX IF NOT EXISTS idx_articles_updated ON articles(updated_at);
		CREATE INDEX IF NOT EXISTS idx_articles_doi ON articles(doi);

		-- Deleted articles, kept so incremental index builds can see removals
		CREATE TABLE IF NOT EXISTS article_tombstones (
			id TEXT PRIMARY KEY,
			deleted_at INTEGER NOT NULL
		);
	`

	_, err := db.Exec(schema)
	return err
}

// UpsertRecord inserts or replaces an article. This is the write path used by
// the ingestion side; the indexer only reads.
func (d *DB) UpsertRecord(ctx context.Context, rec record.Record) error {
	if rec.ID == "" {
		return fmt.Errorf("record has no id")
	}
	if rec.CitationCount < 0 {
		return fmt.Errorf("record %s: negative citation count %d", rec.ID, rec.CitationCount)
	}

	authorsJSON, err := json.Marshal(rec.Authors)
	if err != nil {
		return fmt.Errorf("marshaling authors for %s: %w", rec.ID, err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO articles (
			id, doi, title, abstract, keywords, subject_areas,
			year, source_title, citation_count, authors_json, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, nullableStringValue(record.NormalizeDOI(rec.DOI)), rec.Title,
		nullableStringValue(rec.Abstract), nullableStringValue(rec.Keywords),
		nullableStringValue(rec.SubjectAreas), rec.Year,
		nullableStringValue(rec.SourceTitle), rec.CitationCount,
		string(authorsJSON), d.now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("inserting article %s: %w", rec.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM article_tombstones WHERE id = ?`, rec.ID); err != nil {
		return fmt.Errorf("clearing tombstone for %s: %w", rec.ID, err)
	}

	return tx.Commit()
}

// SetCitationCount refreshes the citation count of an article.
func (d *DB) SetCitationCount(ctx context.Context, id string, count int) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE articles SET citation_count = ?, updated_at = ? WHERE id = ?`,
		count, d.now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("updating citation count for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("article %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

// DeleteRecord removes an article and leaves a tombstone behind.
// Deleting an absent article is not an error.
func (d *DB) DeleteRecord(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM articles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting article %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO article_tombstones (id, deleted_at) VALUES (?, ?)`,
		id, d.now().UnixNano())
	if err != nil {
		return fmt.Errorf("writing tombstone for %s: %w", id, err)
	}

	return tx.Commit()
}

// GetRecord retrieves an article by its ID.
// Returns an error matching errs.ErrNotFound when the article does not exist.
func (d *DB) GetRecord(ctx context.Context, id string) (record.Record, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+selectArticleFields+` FROM articles WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return record.Record{}, fmt.Errorf("article %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return record.Record{}, fmt.Errorf("reading article %s: %w", id, err)
	}
	return rec, nil
}

// ListRecords lazily yields articles in ID order, one page at a time.
// Iteration stops at the first error, which is yielded with a zero record.
func (d *DB) ListRecords(ctx context.Context, opts record.ListOptions) iter.Seq2[record.Record, error] {
	return func(yield func(record.Record, error) bool) {
		after := opts.AfterID
		var since int64
		if !opts.Since.IsZero() {
			since = opts.Since.UnixNano()
		}

		for {
			page, err := d.listPage(ctx, after, since)
			if err != nil {
				yield(record.Record{}, err)
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
			if len(page) < d.pageSize {
				return
			}
			after = page[len(page)-1].ID
		}
	}
}

func (d *DB) listPage(ctx context.Context, after string, since int64) ([]record.Record, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+selectArticleFields+`
		FROM articles
		WHERE id > ? AND updated_at > ?
		ORDER BY id
		LIMIT ?`, after, since, d.pageSize)
	if err != nil {
		return nil, fmt.Errorf("listing articles: %w", errs.Cancelled(err))
	}
	defer rows.Close()

	var recs []record.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Changes returns the ids of articles upserted or deleted after since.
func (d *DB) Changes(ctx context.Context, since time.Time) (record.Changeset, error) {
	var cs record.Changeset
	var ts int64
	if !since.IsZero() {
		ts = since.UnixNano()
	}

	upserted, err := d.queryIDs(ctx, `SELECT id FROM articles WHERE updated_at > ? ORDER BY id`, ts)
	if err != nil {
		return cs, fmt.Errorf("listing upserted articles: %w", err)
	}
	removed, err := d.queryIDs(ctx, `SELECT id FROM article_tombstones WHERE deleted_at > ? ORDER BY id`, ts)
	if err != nil {
		return cs, fmt.Errorf("listing deleted articles: %w", err)
	}

	cs.Upserted = upserted
	cs.Removed = removed
	return cs, nil
}

func (d *DB) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the total number of articles.
func (d *DB) Count(ctx context.Context) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM articles").Scan(&count)
	return count, err
}

// scanner interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (record.Record, error) {
	var rec record.Record
	var doi, abstract, keywords, subjects, sourceTitle sql.NullString
	var authorsJSON string

	err := s.Scan(
		&rec.ID, &doi, &rec.Title, &abstract, &keywords, &subjects,
		&rec.Year, &sourceTitle, &rec.CitationCount, &authorsJSON,
	)
	if err != nil {
		return record.Record{}, err
	}

	rec.DOI = doi.String
	rec.Abstract = abstract.String
	rec.Keywords = keywords.String
	rec.SubjectAreas = subjects.String
	rec.SourceTitle = sourceTitle.String

	if err := json.Unmarshal([]byte(authorsJSON), &rec.Authors); err != nil {
		return record.Record{}, fmt.Errorf("parsing authors JSON for %s: %w", rec.ID, err)
	}

	return rec, nil
}

// nullableStringValue converts a string to sql.NullString, treating empty as NULL.
func nullableStringValue(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
