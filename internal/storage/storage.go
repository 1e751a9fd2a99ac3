// Package storage provides a SQLite-backed audit journal of round settlements.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/roundoracle/internal/logger"
	"github.com/rewired-gh/roundoracle/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db             *sql.DB
	maxSettlements int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/roundoracle/data.db.
func New(maxSettlements int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "roundoracle", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxSettlements: maxSettlements}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS settlements (
			id            TEXT PRIMARY KEY,
			round_id      INTEGER NOT NULL,
			symbol        TEXT NOT NULL,
			quote_price   TEXT NOT NULL,
			fixed_point   INTEGER NOT NULL,
			tx_hash       TEXT,
			status        TEXT NOT NULL,
			error         TEXT,
			submitted_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settlements_submitted_at ON settlements(submitted_at)`,
		`CREATE INDEX IF NOT EXISTS idx_settlements_round ON settlements(round_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// RecordSettlement appends a settlement and trims the journal to the
// newest maxSettlements rows.
func (s *Storage) RecordSettlement(st *models.Settlement) error {
	if err := st.Validate(); err != nil {
		return fmt.Errorf("invalid settlement: %w", err)
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO settlements
			(id, round_id, symbol, quote_price, fixed_point, tx_hash, status, error, submitted_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		st.ID, int64(st.RoundID), st.Symbol, st.QuotePrice, st.FixedPoint,
		st.TxHash, string(st.Status), st.Error, st.SubmittedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}

	if s.maxSettlements > 0 {
		if _, err = tx.Exec(`
			DELETE FROM settlements WHERE id NOT IN (
				SELECT id FROM settlements ORDER BY submitted_at DESC LIMIT ?
			)`, s.maxSettlements); err != nil {
			return fmt.Errorf("failed to enforce settlement cap: %w", err)
		}
	}

	return tx.Commit()
}

// ListSettlements returns up to limit settlements, newest first.
func (s *Storage) ListSettlements(limit int) ([]models.Settlement, error) {
	rows, err := s.db.Query(`SELECT `+settlementCols+`
		FROM settlements ORDER BY submitted_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	settlements := []models.Settlement{}
	for rows.Next() {
		st, err := scanSettlement(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		settlements = append(settlements, *st)
	}
	return settlements, rows.Err()
}

// LastSettlement returns the newest settlement, or nil when the journal is empty.
func (s *Storage) LastSettlement() (*models.Settlement, error) {
	row := s.db.QueryRow(`SELECT ` + settlementCols + `
		FROM settlements ORDER BY submitted_at DESC, rowid DESC LIMIT 1`)
	st, err := scanSettlement(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last settlement: %w", err)
	}
	return st, nil
}

// SettlementsForRound returns every submission recorded for roundID, oldest first.
func (s *Storage) SettlementsForRound(roundID uint64) ([]models.Settlement, error) {
	rows, err := s.db.Query(`SELECT `+settlementCols+`
		FROM settlements WHERE round_id = ? ORDER BY submitted_at ASC, rowid ASC`, int64(roundID))
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	var settlements []models.Settlement
	for rows.Next() {
		st, err := scanSettlement(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		settlements = append(settlements, *st)
	}
	return settlements, rows.Err()
}

// OnRound is a no-op; only settlements are journaled.
func (s *Storage) OnRound(uint64, time.Duration) {}

// OnFetchAttempt is a no-op; only settlements are journaled.
func (s *Storage) OnFetchAttempt(string, int, error) {}

// OnSettlement journals the settlement. Write failures are logged, never
// propagated, so the journal cannot stop the oracle loop.
func (s *Storage) OnSettlement(st *models.Settlement) {
	if err := s.RecordSettlement(st); err != nil {
		logger.Warn("Failed to journal settlement for round %d: %v", st.RoundID, err)
	}
}

const settlementCols = `id, round_id, symbol, quote_price, fixed_point, tx_hash, status, error, submitted_at`

func scanSettlement(scan func(...any) error) (*models.Settlement, error) {
	var st models.Settlement
	var roundID, submittedAtNano int64
	var txHash, errMsg sql.NullString
	var status string
	err := scan(
		&st.ID, &roundID, &st.Symbol, &st.QuotePrice, &st.FixedPoint,
		&txHash, &status, &errMsg, &submittedAtNano,
	)
	if err != nil {
		return nil, err
	}
	st.RoundID = uint64(roundID)
	st.TxHash = txHash.String
	st.Status = models.SettlementStatus(status)
	st.Error = errMsg.String
	st.SubmittedAt = time.Unix(0, submittedAtNano)
	return &st, nil
}
