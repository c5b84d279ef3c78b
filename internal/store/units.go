package store

import (
	"context"
	"fmt"

	"booking-service/internal/models"
)

// GetUnit retrieves a rentable unit by ID
func (s *Store) GetUnit(ctx context.Context, id int64) (*models.RentableUnit, error) {
	var unit models.RentableUnit
	err := s.db.GetContext(ctx, &unit, "SELECT id, code, status, updated_at FROM units WHERE id = $1", id)
	if err != nil {
		return nil, notFound(err, "unit", id)
	}
	return &unit, nil
}

// LockUnit reads a unit and locks its row until the transaction ends
func (t *txStore) LockUnit(ctx context.Context, unitID int64) (*models.RentableUnit, error) {
	var unit models.RentableUnit
	err := t.tx.GetContext(ctx, &unit,
		"SELECT id, code, status, updated_at FROM units WHERE id = $1 FOR UPDATE", unitID)
	if err != nil {
		return nil, notFound(err, "unit", unitID)
	}
	return &unit, nil
}

// SetUnitStatus updates the availability of a unit
func (t *txStore) SetUnitStatus(ctx context.Context, unitID int64, status models.UnitStatus) error {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE units SET status = $1, updated_at = NOW() WHERE id = $2",
		status, unitID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: unit %d", models.ErrNotFound, unitID)
	}
	return nil
}

// GetPriceList retrieves a price list belonging to a unit
func (t *txStore) GetPriceList(ctx context.Context, unitID, priceListID int64) (*models.PriceList, error) {
	var pl models.PriceList
	err := t.tx.GetContext(ctx, &pl, `
		SELECT id, unit_id, label, duration_minutes, main_value_per_unit, others_value_per_unit, active
		FROM price_lists
		WHERE id = $1 AND unit_id = $2`, priceListID, unitID)
	if err != nil {
		return nil, notFound(err, "price list", priceListID)
	}
	return &pl, nil
}

// GetVoucherByName retrieves a voucher from the catalog
func (s *Store) GetVoucherByName(ctx context.Context, name string) (*models.Voucher, error) {
	var v models.Voucher
	err := s.db.GetContext(ctx, &v, `
		SELECT id, name, type, percentage, nominal, max_discount, date_start, date_end, is_valid, is_visible
		FROM vouchers
		WHERE name = $1`, name)
	if err != nil {
		return nil, notFound(err, "voucher", name)
	}
	return &v, nil
}
