package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/Andrewske/masakali-retreat/internal/model"
)

// InventoryRepo provides data access to the villa_inventory table.
// Each row describes one night of one villa: its price in the base
// currency, whether it can still be booked, and the capacity class.
// The unique key on (villa_id, date) is what serializes concurrent
// mutations of a single night. All timestamps are stored in UTC.
type InventoryRepo struct {
	db *sql.DB
}

// NewInventoryRepo returns a new InventoryRepo bound to the provided database.
func NewInventoryRepo(db *sql.DB) *InventoryRepo { return &InventoryRepo{db: db} }

// DB exposes the underlying handle so callers can open transactions
// that span multiple repositories.
func (r *InventoryRepo) DB() *sql.DB { return r.db }

// GetRange returns the inventory rows for villaID covering the nights
// [from, to), ordered by date. Dates with no published row are simply
// absent from the result; callers decide whether a gap means the night
// is outside the villa's calendar.
func (r *InventoryRepo) GetRange(ctx context.Context, villaID uint64, from, to string) ([]model.VillaDateInventory, error) {
	const q = `SELECT id, villa_id, date, base_price, currency, available, capacity_class, created_at, updated_at
	           FROM villa_inventory
	           WHERE villa_id = ? AND date >= ? AND date < ?
	           ORDER BY date`
	rows, err := r.db.QueryContext(ctx, q, villaID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInventoryRows(rows)
}

// GetRangeForUpdateTx is GetRange executed inside a transaction with
// SELECT ... FOR UPDATE so the rows stay pinned while a lock is being
// created against them.
func (r *InventoryRepo) GetRangeForUpdateTx(ctx context.Context, tx *sql.Tx, villaID uint64, from, to string) ([]model.VillaDateInventory, error) {
	const q = `SELECT id, villa_id, date, base_price, currency, available, capacity_class, created_at, updated_at
	           FROM villa_inventory
	           WHERE villa_id = ? AND date >= ? AND date < ?
	           ORDER BY date
	           FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, villaID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInventoryRows(rows)
}

func scanInventoryRows(rows *sql.Rows) ([]model.VillaDateInventory, error) {
	var out []model.VillaDateInventory
	for rows.Next() {
		var rec model.VillaDateInventory
		var date time.Time
		if err := rows.Scan(&rec.ID, &rec.VillaID, &date, &rec.BasePrice, &rec.Currency,
			&rec.Available, &rec.CapacityClass, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.Date = date.UTC().Format("2006-01-02")
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// BulkSetAvailabilityTx flips the available flag for the given villa
// nights inside the provided transaction. The caller must commit or
// roll back. Passing an empty slice has no effect and returns nil.
func (r *InventoryRepo) BulkSetAvailabilityTx(ctx context.Context, tx *sql.Tx, villaID uint64, dates []string, available bool) error {
	if len(dates) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(dates))
	args := make([]interface{}, 0, len(dates)+2)
	args = append(args, available, villaID)
	for _, d := range dates {
		placeholders = append(placeholders, "?")
		args = append(args, d)
	}
	query := `UPDATE villa_inventory SET available = ? WHERE villa_id = ? AND date IN (` +
		strings.Join(placeholders, ",") + `)`
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertNightTx inserts or updates a single night. It is used by the
// webhook reconciler when the PMS pushes rate or availability changes,
// including for dates the local calendar has never seen.
func (r *InventoryRepo) UpsertNightTx(ctx context.Context, tx *sql.Tx, rec model.VillaDateInventory) error {
	// A zero incoming price means the event carried none; keep the
	// stored price in that case instead of clobbering it.
	const q = `INSERT INTO villa_inventory (villa_id, date, base_price, currency, available, capacity_class)
	           VALUES (?, ?, ?, ?, ?, ?)
	           ON DUPLICATE KEY UPDATE
	               base_price = IF(VALUES(base_price) > 0, VALUES(base_price), base_price),
	               available = VALUES(available)`
	capacity := rec.CapacityClass
	if capacity == "" {
		capacity = model.CapacityFamily
	}
	currency := rec.Currency
	if currency == "" {
		currency = model.BaseCurrency
	}
	_, err := tx.ExecContext(ctx, q, rec.VillaID, rec.Date, rec.BasePrice, currency, rec.Available, capacity)
	return err
}

// BlockRangeTx marks every night in [from, to) unavailable, creating
// rows for unseen dates. Used when the PMS reports an external channel
// booking that the local ledger has no reservation for.
func (r *InventoryRepo) BlockRangeTx(ctx context.Context, tx *sql.Tx, villaID uint64, from, to string, price float64) error {
	dates, err := NightsBetween(from, to)
	if err != nil {
		return err
	}
	for _, d := range dates {
		rec := model.VillaDateInventory{VillaID: villaID, Date: d, BasePrice: price, Available: false}
		if err := r.UpsertNightTx(ctx, tx, rec); err != nil {
			return err
		}
	}
	return nil
}

// NightsBetween expands a [from, to) date range into its individual
// nights. Both bounds must be YYYY-MM-DD; to must be after from.
func NightsBetween(from, to string) ([]string, error) {
	start, err := time.Parse("2006-01-02", from)
	if err != nil {
		return nil, err
	}
	end, err := time.Parse("2006-01-02", to)
	if err != nil {
		return nil, err
	}
	var nights []string
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		nights = append(nights, d.Format("2006-01-02"))
	}
	return nights, nil
}
