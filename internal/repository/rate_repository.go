package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Andrewske/masakali-retreat/internal/model"
)

// RateRepo provides data access to the exchange_rates table. There is
// at most one row per currency; the refresh job overwrites rates in
// place, one transaction per provider batch, so a partial refresh can
// never corrupt rates fetched by an earlier batch.
type RateRepo struct {
	db *sql.DB
}

// NewRateRepo returns a new RateRepo bound to the provided database.
func NewRateRepo(db *sql.DB) *RateRepo { return &RateRepo{db: db} }

// UpsertBatch persists one provider batch atomically. Either every
// rate in the batch lands with the same fetched_at or none do.
func (r *RateRepo) UpsertBatch(ctx context.Context, rates map[string]float64, fetchedAt time.Time) error {
	if len(rates) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	const q = `INSERT INTO exchange_rates (currency_code, rate, fetched_at)
	           VALUES (?, ?, ?)
	           ON DUPLICATE KEY UPDATE rate = VALUES(rate), fetched_at = VALUES(fetched_at)`
	at := fetchedAt.UTC().Format("2006-01-02 15:04:05")
	for code, rate := range rates {
		if _, err := tx.ExecContext(ctx, q, code, rate, at); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Get returns the current rate row for a currency. When the currency
// has never been fetched it returns ErrUnknownCurrency.
func (r *RateRepo) Get(ctx context.Context, code string) (model.ExchangeRate, error) {
	const q = `SELECT currency_code, rate, fetched_at FROM exchange_rates WHERE currency_code = ?`
	var rec model.ExchangeRate
	err := r.db.QueryRowContext(ctx, q, code).Scan(&rec.CurrencyCode, &rec.Rate, &rec.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ExchangeRate{}, ErrUnknownCurrency
	}
	if err != nil {
		return model.ExchangeRate{}, err
	}
	return rec, nil
}
