package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/distwiki/internal/apperr"
	"github.com/starford/distwiki/internal/models"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS transactions (
	account     TEXT NOT NULL,
	hash        TEXT NOT NULL,
	description TEXT NOT NULL,
	nonce       INTEGER NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (account, hash)
);

CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(account, status);
CREATE INDEX IF NOT EXISTS idx_transactions_nonce ON transactions(account, nonce);
`

// SQLite is the default Store backed by a single SQLite file.
type SQLite struct {
	conn    *sql.DB
	account string
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the SQLite ledger and applies the schema.
func OpenSQLite(dsn, account string) (*SQLite, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL")
	if err != nil {
		return nil, unavailable("open db", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, unavailable("ping", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, unavailable("apply schema", err)
	}
	return &SQLite{conn: conn, account: account}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

func (s *SQLite) Append(ctx context.Context, hash, description string, nonce uint64) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO transactions (hash, account, description, nonce, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, hash, s.account, description, int64(nonce), string(models.StatusPending), time.Now().UTC())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) &&
			(sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique) {
			return fmt.Errorf("ledger: append %s: %w", hash, apperr.ErrDuplicateHash)
		}
		return unavailable("append", err)
	}
	return nil
}

func (s *SQLite) MarkResolved(ctx context.Context, hash string, succeeded bool) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE transactions SET status = ?
		WHERE hash = ? AND account = ? AND status = ?
	`, string(resolvedStatus(succeeded)), hash, s.account, string(models.StatusPending))
	if err != nil {
		return unavailable("mark resolved", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("mark resolved", err)
	}
	if n == 1 {
		return nil
	}

	// Nothing updated: either the hash is unknown or it is already terminal.
	rec, err := s.Get(ctx, hash)
	if err != nil {
		return err
	}
	return fmt.Errorf("ledger: mark resolved %s (status %s): %w", hash, rec.Status, apperr.ErrAlreadyResolved)
}

func (s *SQLite) CountPending(ctx context.Context) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM transactions WHERE account = ? AND status = ?`,
		s.account, string(models.StatusPending)).Scan(&n)
	if err != nil {
		return 0, unavailable("count pending", err)
	}
	return n, nil
}

func (s *SQLite) ListPendingHashes(ctx context.Context) ([]string, error) {
	recs, err := s.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Hash
	}
	return out, nil
}

func (s *SQLite) ListPending(ctx context.Context) ([]models.TransactionRecord, error) {
	return s.query(ctx, "list pending records", `
		SELECT hash, description, nonce, status, created_at FROM transactions
		WHERE account = ? AND status = ? ORDER BY nonce
	`, s.account, string(models.StatusPending))
}

func (s *SQLite) ListRecent(ctx context.Context, n int) ([]models.Action, error) {
	if n <= 0 {
		return []models.Action{}, nil
	}
	recs, err := s.query(ctx, "list recent", `
		SELECT hash, description, nonce, status, created_at FROM transactions
		WHERE account = ? ORDER BY nonce DESC LIMIT ?
	`, s.account, n)
	if err != nil {
		return nil, err
	}
	out := make([]models.Action, len(recs))
	for i, r := range recs {
		out[i] = models.Action{Description: r.Description, Status: r.Status}
	}
	return out, nil
}

func (s *SQLite) Get(ctx context.Context, hash string) (*models.TransactionRecord, error) {
	recs, err := s.query(ctx, "get", `
		SELECT hash, description, nonce, status, created_at FROM transactions
		WHERE account = ? AND hash = ?
	`, s.account, hash)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("ledger: get %s: %w", hash, apperr.ErrUnknownHash)
	}
	return &recs[0], nil
}

func (s *SQLite) query(ctx context.Context, op, q string, args ...any) ([]models.TransactionRecord, error) {
	rows, err := s.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	var out []models.TransactionRecord
	for rows.Next() {
		var (
			r      models.TransactionRecord
			nonce  int64
			status string
		)
		if err := rows.Scan(&r.Hash, &r.Description, &nonce, &status, &r.CreatedAt); err != nil {
			return nil, unavailable(op, err)
		}
		r.Nonce = uint64(nonce)
		r.Status = models.Status(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return out, nil
}
