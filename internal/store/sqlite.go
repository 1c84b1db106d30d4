package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite keeps call results in a call_results table, one row per record.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_results (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			call_id TEXT NOT NULL,
			mc_number TEXT,
			carrier_name TEXT,
			load_id TEXT,
			outcome TEXT NOT NULL,
			sentiment TEXT NOT NULL,
			initial_rate REAL,
			carrier_offer REAL,
			agreed_rate REAL,
			negotiation_rounds INTEGER NOT NULL DEFAULT 0,
			transcript TEXT,
			extracted_json TEXT,
			created_at TEXT NOT NULL
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_call_results_id ON call_results(call_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context) ([]CallResult, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT call_id, mc_number, carrier_name, load_id, outcome, sentiment,
		initial_rate, carrier_offer, agreed_rate, negotiation_rounds, transcript, extracted_json, created_at
		FROM call_results ORDER BY seq ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallResult
	for rows.Next() {
		var (
			rec                    CallResult
			mc, name, load, script sql.NullString
			extracted              sql.NullString
			initial, offer, agreed sql.NullFloat64
			outcome, sentiment, ts string
		)
		if err := rows.Scan(&rec.CallID, &mc, &name, &load, &outcome, &sentiment,
			&initial, &offer, &agreed, &rec.NegotiationRounds, &script, &extracted, &ts); err != nil {
			return nil, err
		}
		rec.MCNumber, rec.CarrierName, rec.LoadID, rec.Transcript = mc.String, name.String, load.String, script.String
		rec.Outcome, rec.Sentiment = Outcome(outcome), Sentiment(sentiment)
		rec.InitialRate = nullFloat(initial)
		rec.CarrierOffer = nullFloat(offer)
		rec.AgreedRate = nullFloat(agreed)
		if extracted.Valid && extracted.String != "" {
			if err := json.Unmarshal([]byte(extracted.String), &rec.ExtractedData); err != nil {
				return nil, fmt.Errorf("decode extracted data for %s: %w", rec.CallID, err)
			}
		}
		if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("decode created_at for %s: %w", rec.CallID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) Append(ctx context.Context, rec CallResult, _ []CallResult) error {
	var extracted *string
	if len(rec.ExtractedData) > 0 {
		data, err := json.Marshal(rec.ExtractedData)
		if err != nil {
			return err
		}
		v := string(data)
		extracted = &v
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO call_results(call_id, mc_number, carrier_name, load_id, outcome, sentiment,
		initial_rate, carrier_offer, agreed_rate, negotiation_rounds, transcript, extracted_json, created_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.CallID, rec.MCNumber, rec.CarrierName, rec.LoadID, string(rec.Outcome), string(rec.Sentiment),
		rec.InitialRate, rec.CarrierOffer, rec.AgreedRate, rec.NegotiationRounds, rec.Transcript, extracted,
		rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// Ping runs a trivial query.
func (s *SQLite) Ping(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "SELECT 1")
	return err
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
