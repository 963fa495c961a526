package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Storage handles all database operations
type Storage struct {
	db *sql.DB
}

// New creates a new Storage instance and initializes the database
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	s := &Storage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			wallet TEXT NOT NULL UNIQUE,
			api_key TEXT,
			created_at INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL REFERENCES users(id),
			type TEXT NOT NULL,
			fiat_amount TEXT NOT NULL,
			currency TEXT NOT NULL DEFAULT '',
			payout_method TEXT NOT NULL DEFAULT '',
			token TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,

		`CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL UNIQUE REFERENCES sessions(id),
			tx_hash TEXT NOT NULL DEFAULT '',
			storage_cid TEXT NOT NULL,
			amount TEXT NOT NULL,
			status TEXT NOT NULL,
			type TEXT NOT NULL,
			wallet TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_wallet ON transactions(wallet)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// --- Users ---

// ResolveUser returns the user for a wallet, creating the record if absent.
// The wallet must already be normalized (lower-cased) by the caller.
func (s *Storage) ResolveUser(wallet string) (*User, error) {
	now := time.Now().Unix()
	_, err := s.db.Exec(
		`INSERT INTO users (wallet, created_at) VALUES (?, ?)
		 ON CONFLICT(wallet) DO NOTHING`,
		wallet, now,
	)
	if err != nil {
		return nil, err
	}

	return s.GetUserByWallet(wallet)
}

// GetUserByWallet returns the user for a wallet
func (s *Storage) GetUserByWallet(wallet string) (*User, error) {
	var u User
	var createdAt int64
	var apiKey sql.NullString

	err := s.db.QueryRow(
		`SELECT id, wallet, api_key, created_at FROM users WHERE wallet = ?`,
		wallet,
	).Scan(&u.ID, &u.Wallet, &apiKey, &createdAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	u.CreatedAt = time.Unix(createdAt, 0)
	if apiKey.Valid {
		u.APIKey = &apiKey.String
	}

	return &u, nil
}

// SetAPIKey upserts the developer API key for a wallet, creating the user
// if absent.
func (s *Storage) SetAPIKey(wallet, key string) (*User, error) {
	now := time.Now().Unix()
	_, err := s.db.Exec(
		`INSERT INTO users (wallet, api_key, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(wallet) DO UPDATE SET api_key = excluded.api_key`,
		wallet, key, now,
	)
	if err != nil {
		return nil, err
	}

	return s.GetUserByWallet(wallet)
}

// --- Sessions ---

// CreateSession persists a new pending session
func (s *Storage) CreateSession(userID int64, sessionType string, fiatAmount decimal.Decimal, currency, payoutMethod, token string) (*Session, error) {
	now := time.Now().Unix()
	result, err := s.db.Exec(
		`INSERT INTO sessions (user_id, type, fiat_amount, currency, payout_method, token, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, sessionType, fiatAmount.String(), currency, payoutMethod, token, StatusPending, now, now,
	)
	if err != nil {
		return nil, err
	}

	id, _ := result.LastInsertId()
	return &Session{
		ID:           id,
		UserID:       userID,
		Type:         sessionType,
		FiatAmount:   fiatAmount,
		Currency:     currency,
		PayoutMethod: payoutMethod,
		Token:        token,
		Status:       StatusPending,
		CreatedAt:    time.Unix(now, 0),
		UpdatedAt:    time.Unix(now, 0),
	}, nil
}

// GetSession returns a session by ID
func (s *Storage) GetSession(sessionID int64) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, user_id, type, fiat_amount, currency, payout_method, token, status, created_at, updated_at
		 FROM sessions WHERE id = ?`,
		sessionID,
	)
	return scanSession(row)
}

// GetSessionWithUser returns a session and its owning user in one query
func (s *Storage) GetSessionWithUser(sessionID int64) (*Session, *User, error) {
	var sess Session
	var u User
	var amount string
	var sessCreated, sessUpdated, userCreated int64
	var apiKey sql.NullString

	err := s.db.QueryRow(
		`SELECT s.id, s.user_id, s.type, s.fiat_amount, s.currency, s.payout_method, s.token, s.status, s.created_at, s.updated_at,
		        u.id, u.wallet, u.api_key, u.created_at
		 FROM sessions s JOIN users u ON u.id = s.user_id
		 WHERE s.id = ?`,
		sessionID,
	).Scan(
		&sess.ID, &sess.UserID, &sess.Type, &amount, &sess.Currency, &sess.PayoutMethod, &sess.Token, &sess.Status, &sessCreated, &sessUpdated,
		&u.ID, &u.Wallet, &apiKey, &userCreated,
	)

	if err == sql.ErrNoRows {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}

	sess.FiatAmount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, nil, fmt.Errorf("parse fiat amount: %w", err)
	}
	sess.CreatedAt = time.Unix(sessCreated, 0)
	sess.UpdatedAt = time.Unix(sessUpdated, 0)
	u.CreatedAt = time.Unix(userCreated, 0)
	if apiKey.Valid {
		u.APIKey = &apiKey.String
	}

	return &sess, &u, nil
}

// TransitionSession moves a session from one status to another, returning
// true only if this call performed the transition. The conditional UPDATE is
// the serialization point for concurrent webhook deliveries: only one caller
// can win a given from->to edge.
func (s *Storage) TransitionSession(sessionID int64, from, to string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, time.Now().Unix(), sessionID, from,
	)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// ListSessionsByStatusOlderThan returns sessions stuck in a status since
// before the cutoff. Used by the reconciliation sweeper.
func (s *Storage) ListSessionsByStatusOlderThan(status string, cutoff time.Time) ([]Session, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, type, fiat_amount, currency, payout_method, token, status, created_at, updated_at
		 FROM sessions WHERE status = ? AND updated_at < ? ORDER BY id`,
		status, cutoff.Unix(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}

	return sessions, rows.Err()
}

// --- Transactions ---

// CreateTransaction writes the ledger row for a settled session. The unique
// index on session_id guarantees at most one row per session; a second
// insert returns ErrAlreadyExists.
func (s *Storage) CreateTransaction(tx *Transaction) error {
	now := time.Now().Unix()
	result, err := s.db.Exec(
		`INSERT OR IGNORE INTO transactions (session_id, tx_hash, storage_cid, amount, status, type, wallet, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.SessionID, tx.TxHash, tx.StorageCID, tx.Amount.String(), tx.Status, tx.Type, tx.Wallet, now,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAlreadyExists
	}

	id, _ := result.LastInsertId()
	tx.ID = id
	tx.CreatedAt = time.Unix(now, 0)
	return nil
}

// ListTransactionsByWallet returns ledger rows for a wallet, newest first
func (s *Storage) ListTransactionsByWallet(wallet string) ([]Transaction, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, tx_hash, storage_cid, amount, status, type, wallet, created_at
		 FROM transactions WHERE wallet = ? ORDER BY created_at DESC, id DESC`,
		wallet,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var tx Transaction
		var amount string
		var createdAt int64

		err := rows.Scan(&tx.ID, &tx.SessionID, &tx.TxHash, &tx.StorageCID, &amount, &tx.Status, &tx.Type, &tx.Wallet, &createdAt)
		if err != nil {
			return nil, err
		}

		tx.Amount, err = decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("parse amount: %w", err)
		}
		tx.CreatedAt = time.Unix(createdAt, 0)
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

// CountTransactionsBySession returns the number of ledger rows for a session
func (s *Storage) CountTransactionsBySession(sessionID int64) (int, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM transactions WHERE session_id = ?`,
		sessionID,
	).Scan(&count)
	return count, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var amount string
	var createdAt, updatedAt int64

	err := row.Scan(&sess.ID, &sess.UserID, &sess.Type, &amount, &sess.Currency, &sess.PayoutMethod, &sess.Token, &sess.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	sess.FiatAmount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse fiat amount: %w", err)
	}
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.UpdatedAt = time.Unix(updatedAt, 0)
	return &sess, nil
}
