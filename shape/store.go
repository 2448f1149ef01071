package shape

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const hitStoreSchema = `
	CREATE TABLE IF NOT EXISTS screening_runs (
		run_id TEXT PRIMARY KEY,
		created_at_ns INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS screening_hits (
		hit_id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		candidate TEXT NOT NULL,
		conformer_index INTEGER NOT NULL,
		reference_index INTEGER NOT NULL,
		reference TEXT NOT NULL,
		score DOUBLE NOT NULL,
		result_json TEXT NOT NULL,
		transform_json TEXT NOT NULL,
		FOREIGN KEY(run_id) REFERENCES screening_runs(run_id)
	);
	CREATE INDEX IF NOT EXISTS idx_screening_hits_run_score
		ON screening_hits (run_id, score DESC);
`

// RunInfo summarizes one stored screening run
type RunInfo struct {
	RunID     string    `json:"runId"`
	CreatedAt time.Time `json:"createdAt"`
	NumHits   int       `json:"numHits"`
}

// HitStore persists screening hits in a SQLite database
type HitStore struct {
	db *sql.DB
}

// NewRunID returns a fresh screening run identifier
func NewRunID() string {
	return uuid.New().String()
}

// NewHitStore opens (creating if needed) the hit database at path
func NewHitStore(path string) (*HitStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open hit database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(hitStoreSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create hit schema: %w", err)
	}
	return &HitStore{db: db}, nil
}

// Close closes the database
func (s *HitStore) Close() error {
	return s.db.Close()
}

// SaveHits stores hits under runID, registering the run on first use
func (s *HitStore) SaveHits(runID string, hits []Hit) error {
	if runID == "" {
		return fmt.Errorf("save hits: empty run id")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT OR IGNORE INTO screening_runs (run_id, created_at_ns) VALUES (?, ?)`,
		runID, time.Now().UnixNano(),
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO screening_hits (
			run_id, candidate, conformer_index, reference_index, reference,
			score, result_json, transform_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare hit insert: %w", err)
	}
	defer stmt.Close()

	for _, h := range hits {
		resultJSON, err := json.Marshal(h.Result)
		if err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
		transformJSON, err := json.Marshal(h.Transform)
		if err != nil {
			return fmt.Errorf("marshal transform: %w", err)
		}
		if _, err := stmt.Exec(
			runID,
			h.CandidateName,
			h.ConformerIndex,
			h.ReferenceIndex,
			h.ReferenceName,
			h.Score,
			string(resultJSON),
			string(transformJSON),
		); err != nil {
			return fmt.Errorf("insert hit: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit hits: %w", err)
	}
	return nil
}

// ListHits returns the hits of a run by descending score.
// limit <= 0 returns all of them.
func (s *HitStore) ListHits(runID string, limit int) ([]Hit, error) {
	query := `
		SELECT candidate, conformer_index, reference_index, reference,
		       score, result_json, transform_json
		FROM screening_hits
		WHERE run_id = ?
		ORDER BY score DESC, hit_id ASC
	`
	args := []interface{}{runID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list hits: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var resultJSON, transformJSON string
		if err := rows.Scan(
			&h.CandidateName,
			&h.ConformerIndex,
			&h.ReferenceIndex,
			&h.ReferenceName,
			&h.Score,
			&resultJSON,
			&transformJSON,
		); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		if err := json.Unmarshal([]byte(resultJSON), &h.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		if err := json.Unmarshal([]byte(transformJSON), &h.Transform); err != nil {
			return nil, fmt.Errorf("unmarshal transform: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hits: %w", err)
	}
	return hits, nil
}

// Runs lists stored runs, newest first
func (s *HitStore) Runs() ([]RunInfo, error) {
	rows, err := s.db.Query(`
		SELECT r.run_id, r.created_at_ns, COUNT(h.hit_id)
		FROM screening_runs r
		LEFT JOIN screening_hits h ON h.run_id = r.run_id
		GROUP BY r.run_id, r.created_at_ns
		ORDER BY r.created_at_ns DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []RunInfo
	for rows.Next() {
		var info RunInfo
		var createdAtNs int64
		if err := rows.Scan(&info.RunID, &createdAtNs, &info.NumHits); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		info.CreatedAt = time.Unix(0, createdAtNs)
		runs = append(runs, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
