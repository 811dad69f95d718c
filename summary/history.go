package summary

import (
	"context"
	"database/sql"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	started_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS scalars (
	run_id TEXT NOT NULL REFERENCES runs(id),
	mode   TEXT NOT NULL,
	step   INTEGER NOT NULL,
	tag    TEXT NOT NULL,
	value  REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scalars_run_tag ON scalars(run_id, tag);
`

// Point is one recorded scalar.
type Point struct {
	Step  int
	Mode  string
	Value float64
}

// HistoryStore keeps every scalar of a run in a SQLite database so runs
// can be compared after the fact. Images and histograms are not stored.
type HistoryStore struct {
	mu   sync.Mutex
	db   *sql.DB
	run  string
	step int
	mode string
}

// OpenHistory opens (or creates) the database at path and registers a
// new run under name.
func OpenHistory(path, name string) (*HistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("summary: create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("summary: open history: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("summary: ping history: %w", err)
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("summary: create history schema: %w", err)
	}
	h := &HistoryStore{db: db, run: uuid.New().String()}
	_, err = db.Exec(`INSERT INTO runs (id, name, started_at) VALUES (?, ?, ?)`,
		h.run, name, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("summary: register run: %w", err)
	}
	return h, nil
}

func (h *HistoryStore) RunID() string {
	return h.run
}

func (h *HistoryStore) SetStep(step int, mode string) {
	h.mu.Lock()
	h.step, h.mode = step, mode
	h.mu.Unlock()
}

func (h *HistoryStore) AddScalar(tag string, value float64) error {
	h.mu.Lock()
	step, mode := h.step, h.mode
	h.mu.Unlock()
	_, err := h.db.Exec(`INSERT INTO scalars (run_id, mode, step, tag, value) VALUES (?, ?, ?, ?, ?)`,
		h.run, mode, step, tag, value)
	if err != nil {
		return fmt.Errorf("summary: insert %s: %w", tag, err)
	}
	return nil
}

func (h *HistoryStore) AddImage(string, image.Image) error { return nil }

func (h *HistoryStore) AddHistogram(string, []float64) error { return nil }

// Scalars returns every value recorded for tag in this run, ordered by
// step.
func (h *HistoryStore) Scalars(ctx context.Context, tag string) ([]Point, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT step, mode, value FROM scalars WHERE run_id = ? AND tag = ? ORDER BY step, rowid`,
		h.run, tag)
	if err != nil {
		return nil, fmt.Errorf("summary: query %s: %w", tag, err)
	}
	defer rows.Close()
	var out []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Step, &p.Mode, &p.Value); err != nil {
			return nil, fmt.Errorf("summary: scan %s: %w", tag, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Runs lists the ids of all runs recorded under name, oldest first.
func (h *HistoryStore) Runs(ctx context.Context, name string) ([]string, error) {
	rows, err := h.db.QueryContext(ctx, `SELECT id FROM runs WHERE name = ? ORDER BY started_at, rowid`, name)
	if err != nil {
		return nil, fmt.Errorf("summary: query runs: %w", err)
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

func (h *HistoryStore) Close() error {
	return h.db.Close()
}
