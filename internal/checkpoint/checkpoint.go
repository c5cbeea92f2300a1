// Package checkpoint records the progress of a full index build in SQLite so
// that an interrupted build can resume without re-embedding.
package checkpoint

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/matsen/litsearch/internal/errs"
	_ "modernc.org/sqlite"
)

// FileName is the checkpoint database name inside the artifact directory.
const FileName = "build.db"

const (
	keyModel     = "model_version"
	keyDims      = "dimensions"
	keyLastID    = "last_record_id"
	keyWatermark = "watermark"
)

// DB is a build checkpoint database.
type DB struct {
	db *sql.DB
}

// Vector is an embedding staged for a record, valid while the record's text
// hash is unchanged.
type Vector struct {
	RecordID string
	TextHash string
	Vector   []float32
}

// State describes the build a checkpoint belongs to.
type State struct {
	ModelVersion string
	Dimensions   int
	LastRecordID string
	Watermark    time.Time
	Staged       int

	// Resumed is true when Begin found a matching earlier build.
	Resumed bool
}

// Open opens or creates the checkpoint database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE IF NOT EXISTS build_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS staged_vectors (
			record_id TEXT PRIMARY KEY,
			text_hash TEXT NOT NULL,
			vector BLOB NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating checkpoint schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (c *DB) Close() error {
	return c.db.Close()
}

// Begin starts or resumes a build. Staged vectors survive only when the
// earlier build used the same model and dimension; otherwise they are
// discarded and a fresh checkpoint is written.
func (c *DB) Begin(ctx context.Context, model string, dims int, watermark time.Time) (State, error) {
	prev, err := c.state(ctx)
	if err != nil {
		return State{}, err
	}
	if prev.ModelVersion == model && prev.Dimensions == dims && prev.Staged > 0 {
		prev.Resumed = true
		return prev, nil
	}

	if err := c.Clear(ctx); err != nil {
		return State{}, err
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return State{}, fmt.Errorf("beginning transaction: %w", errs.Cancelled(err))
	}
	defer tx.Rollback()

	for k, v := range map[string]string{
		keyModel:     model,
		keyDims:      strconv.Itoa(dims),
		keyWatermark: strconv.FormatInt(watermark.UnixNano(), 10),
	} {
		if err := putState(ctx, tx, k, v); err != nil {
			return State{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return State{}, fmt.Errorf("committing checkpoint: %w", err)
	}
	return State{ModelVersion: model, Dimensions: dims, Watermark: watermark}, nil
}

func (c *DB) state(ctx context.Context) (State, error) {
	var st State
	rows, err := c.db.QueryContext(ctx, `SELECT key, value FROM build_state`)
	if err != nil {
		return st, fmt.Errorf("reading checkpoint: %w", errs.Cancelled(err))
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return st, err
		}
		switch k {
		case keyModel:
			st.ModelVersion = v
		case keyDims:
			st.Dimensions, _ = strconv.Atoi(v)
		case keyLastID:
			st.LastRecordID = v
		case keyWatermark:
			if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
				st.Watermark = time.Unix(0, ns)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return st, err
	}

	err = c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM staged_vectors`).Scan(&st.Staged)
	return st, err
}

func putState(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO build_state (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("writing checkpoint %s: %w", key, err)
	}
	return nil
}

// CommitBatch stages vecs and advances the last processed record id in one
// transaction.
func (c *DB) CommitBatch(ctx context.Context, lastRecordID string, vecs []Vector) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", errs.Cancelled(err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO staged_vectors (record_id, text_hash, vector) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, v := range vecs {
		if _, err := stmt.ExecContext(ctx, v.RecordID, v.TextHash, encodeVector(v.Vector)); err != nil {
			return fmt.Errorf("staging %s: %w", v.RecordID, errs.Cancelled(err))
		}
	}
	if lastRecordID != "" {
		if err := putState(ctx, tx, keyLastID, lastRecordID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Load returns all staged vectors keyed by record id.
func (c *DB) Load(ctx context.Context) (map[string]Vector, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT record_id, text_hash, vector FROM staged_vectors`)
	if err != nil {
		return nil, fmt.Errorf("reading staged vectors: %w", errs.Cancelled(err))
	}
	defer rows.Close()

	out := make(map[string]Vector)
	for rows.Next() {
		var v Vector
		var blob []byte
		if err := rows.Scan(&v.RecordID, &v.TextHash, &blob); err != nil {
			return nil, err
		}
		if v.Vector, err = decodeVector(blob); err != nil {
			return nil, fmt.Errorf("staged vector %s: %w", v.RecordID, err)
		}
		out[v.RecordID] = v
	}
	return out, rows.Err()
}

// Clear forgets the checkpoint.
func (c *DB) Clear(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM staged_vectors; DELETE FROM build_state;`)
	if err != nil {
		return fmt.Errorf("clearing checkpoint: %w", errs.Cancelled(err))
	}
	return nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errors.New("vector blob length is not a multiple of 4")
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}
