package repository

import (
	"context"
	"errors"
	"fmt"

	"tariffdesk-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRateNotFound is returned when no rate row exists for an HS code
var ErrRateNotFound = errors.New("tariff rate not found")

// TariffRateRepository handles database operations for authoritative rate rows
type TariffRateRepository struct {
	db *pgxpool.Pool
}

// NewTariffRateRepository creates a new tariff rate repository
func NewTariffRateRepository(db *pgxpool.Pool) *TariffRateRepository {
	return &TariffRateRepository{db: db}
}

// UpsertMany writes all rate rows for a version in a single transaction.
// Rates are clamped before storage to prevent overflow from parser noise.
func (r *TariffRateRepository) UpsertMany(ctx context.Context, rows []models.TariffRow) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO tariff_rates (
			hs_code, version, description, cd, sd, vat, ait, rd, at, tti
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (hs_code, version) DO UPDATE SET
			description = EXCLUDED.description,
			cd = EXCLUDED.cd,
			sd = EXCLUDED.sd,
			vat = EXCLUDED.vat,
			ait = EXCLUDED.ait,
			rd = EXCLUDED.rd,
			at = EXCLUDED.at,
			tti = EXCLUDED.tti`

	for _, row := range rows {
		row.ClampRates()
		_, err = tx.Exec(ctx, query,
			row.HSCode, row.Version, row.Description,
			row.CustomsDuty, row.SupplementaryDuty, row.VAT,
			row.AdvanceIncomeTax, row.RegulatoryDuty, row.AdvanceTax,
			row.TotalTaxIncidence,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert rate row %s: %w", row.HSCode, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetRates returns the rate row for an HS code from the active rate-table
// version. Returns ErrRateNotFound when the code has no match.
func (r *TariffRateRepository) GetRates(ctx context.Context, hsCode string) (*models.TariffRow, error) {
	query := `
		SELECT t.hs_code, t.version, t.description,
			t.cd, t.sd, t.vat, t.ait, t.rd, t.at, t.tti
		FROM tariff_rates t
		WHERE t.hs_code = $1
			AND EXISTS (
				SELECT 1 FROM document_versions v
				WHERE v.document_kind = 'rate_table'
					AND v.version = t.version
					AND v.is_active
			)
		LIMIT 1`

	row := &models.TariffRow{}
	err := r.db.QueryRow(ctx, query, hsCode).Scan(
		&row.HSCode, &row.Version, &row.Description,
		&row.CustomsDuty, &row.SupplementaryDuty, &row.VAT,
		&row.AdvanceIncomeTax, &row.RegulatoryDuty, &row.AdvanceTax,
		&row.TotalTaxIncidence,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRateNotFound
		}
		return nil, fmt.Errorf("failed to query tariff rate: %w", err)
	}
	return row, nil
}

// DeleteByCodes removes the rate rows a failed commit wrote, scoped to that
// commit's own HS codes so rows from co-versioned documents stay put
func (r *TariffRateRepository) DeleteByCodes(ctx context.Context, version string, codes []string) error {
	if len(codes) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx,
		"DELETE FROM tariff_rates WHERE version = $1 AND hs_code = ANY($2)",
		version, codes)
	if err != nil {
		return fmt.Errorf("failed to delete rates for version %s: %w", version, err)
	}
	return nil
}

// DeleteSuperseded removes rate rows belonging to any version other than
// keepVersion
func (r *TariffRateRepository) DeleteSuperseded(ctx context.Context, keepVersion string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM tariff_rates WHERE version != $1", keepVersion)
	if err != nil {
		return fmt.Errorf("failed to delete superseded rates: %w", err)
	}
	return nil
}
