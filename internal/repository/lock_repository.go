package repository

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DateLockRecord represents the persistence model for a date lock. One
// lock token covers every night of a stay; a row exists per (villa,
// date) pair under that token. The unique key on (villa_id, date)
// closes the double-booking race: of two concurrent lock attempts for
// the same night, exactly one insert succeeds.
type DateLockRecord struct {
	ID        uint64    // primary key of the date_locks row
	VillaID   uint64    // villa the night belongs to
	Date      string    // night being claimed, YYYY-MM-DD
	SessionID string    // payment session the claim belongs to
	LockToken string    // opaque token returned to the client
	ExpiresAt time.Time // expiration timestamp, UTC
	CreatedAt time.Time // creation timestamp
}

// LockRepo provides data access to the date_locks table. All methods
// compare expirations against UTC timestamps computed by the database
// so clock skew between app instances cannot revive a dead lock.
type LockRepo struct {
	db *sql.DB
}

// NewLockRepo returns a new LockRepo bound to the provided database.
func NewLockRepo(db *sql.DB) *LockRepo { return &LockRepo{db: db} }

// NewLockToken generates a random hexadecimal lock token. The
// underlying call to crypto/rand ensures the token cannot be guessed
// from the session id or timing.
func NewLockToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// ExpireLocksTx removes all locks for a villa whose expires_at has
// passed and returns the dates that were freed. The caller must supply
// an existing transaction and is responsible for committing or rolling
// back. Running the sweep inside the same transaction as a new lock or
// a commit means an abandoned payment flow never starves inventory for
// longer than the lock TTL.
func (r *LockRepo) ExpireLocksTx(ctx context.Context, tx *sql.Tx, villaID uint64) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT date FROM date_locks WHERE villa_id = ? AND expires_at <= UTC_TIMESTAMP()`,
		villaID,
	)
	if err != nil {
		return nil, err
	}
	var expired []string
	for rows.Next() {
		var d time.Time
		if scanErr := rows.Scan(&d); scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		expired = append(expired, d.UTC().Format("2006-01-02"))
	}
	if err = rows.Close(); err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return []string{}, nil
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM date_locks WHERE villa_id = ? AND expires_at <= UTC_TIMESTAMP()`,
		villaID,
	)
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// CreateMultipleTx inserts one date_locks row per night under a shared
// token within the provided transaction. A duplicate-key error means
// another session holds at least one of the nights; it is reported as
// ErrUnavailable so callers need not inspect driver error codes.
func (r *LockRepo) CreateMultipleTx(ctx context.Context, tx *sql.Tx, locks []DateLockRecord) error {
	if len(locks) == 0 {
		return nil
	}
	query := `INSERT INTO date_locks (villa_id, date, session_id, lock_token, expires_at) VALUES `
	args := make([]interface{}, 0, len(locks)*5)
	for i, l := range locks {
		if i > 0 {
			query += ","
		}
		query += "(?, ?, ?, ?, ?)"
		args = append(args, l.VillaID, l.Date, l.SessionID, l.LockToken, l.ExpiresAt.UTC().Format("2006-01-02 15:04:05"))
	}
	_, err := tx.ExecContext(ctx, query, args...)
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
		return ErrUnavailable
	}
	return err
}

// ByTokenForUpdateTx loads every lock row under the token, pinned with
// FOR UPDATE so a concurrent commit or release of the same token
// blocks until this transaction finishes. Expired rows are included;
// the caller decides whether expiry is fatal.
func (r *LockRepo) ByTokenForUpdateTx(ctx context.Context, tx *sql.Tx, token string) ([]DateLockRecord, error) {
	const q = `SELECT id, villa_id, date, session_id, lock_token, expires_at, created_at
	           FROM date_locks
	           WHERE lock_token = ?
	           FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, token)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var locks []DateLockRecord
	for rows.Next() {
		var l DateLockRecord
		var d time.Time
		if err := rows.Scan(&l.ID, &l.VillaID, &d, &l.SessionID, &l.LockToken, &l.ExpiresAt, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Date = d.UTC().Format("2006-01-02")
		locks = append(locks, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return locks, nil
}

// DeleteByTokenTx removes all lock rows under the token and returns
// how many were deleted. Deleting an already-released token is not an
// error, which makes release idempotent.
func (r *LockRepo) DeleteByTokenTx(ctx context.Context, tx *sql.Tx, token string) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM date_locks WHERE lock_token = ?`, token)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GenerateLockRecords builds lock records for the given session, villa
// and nights under a single fresh token. The expiration is set to the
// provided timestamp. Use before calling CreateMultipleTx.
func GenerateLockRecords(sessionID string, villaID uint64, dates []string, expiresAt time.Time) (string, []DateLockRecord, error) {
	token, err := NewLockToken()
	if err != nil {
		return "", nil, err
	}
	locks := make([]DateLockRecord, 0, len(dates))
	for _, d := range dates {
		locks = append(locks, DateLockRecord{
			VillaID:   villaID,
			Date:      d,
			SessionID: sessionID,
			LockToken: token,
			ExpiresAt: expiresAt,
		})
	}
	return token, locks, nil
}
