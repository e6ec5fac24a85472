// Package repository provee implementaciones de persistencia para Arbiter.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // Driver PostgreSQL

	"github.com/xKoRx/arbiter/sdk/domain"
)

// PostgresInstrumentSpecRepo implementa domain.InstrumentSpecRepository
// sobre PostgreSQL.
//
// Uso:
//
//	db, err := sql.Open("postgres", connStr)
//	repo := repository.NewPostgresInstrumentSpecRepo(db)
type PostgresInstrumentSpecRepo struct {
	db *sql.DB
}

var _ domain.InstrumentSpecRepository = (*PostgresInstrumentSpecRepo)(nil)

// NewPostgresInstrumentSpecRepo crea el repositorio de specs.
func NewPostgresInstrumentSpecRepo(db *sql.DB) *PostgresInstrumentSpecRepo {
	return &PostgresInstrumentSpecRepo{db: db}
}

// GetSpec retorna el spec de un instrumento, o nil si no existe.
func (r *PostgresInstrumentSpecRepo) GetSpec(ctx context.Context, instrument string) (*domain.InstrumentSpec, error) {
	query := `
		SELECT instrument, tick_size, amount_step, min_amount, contract_multiplier
		FROM arbiter.instrument_specs
		WHERE instrument = $1
	`
	var spec domain.InstrumentSpec
	err := r.db.QueryRowContext(ctx, query, instrument).Scan(
		&spec.Instrument,
		&spec.TickSize,
		&spec.AmountStep,
		&spec.MinAmount,
		&spec.ContractMultiplier,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instrument spec: %w", err)
	}
	return &spec, nil
}

// UpsertSpecs actualiza specs reportados por el feed de metadata. Reportes
// stale (reported_at_ms anterior al persistido) no sobreescriben.
func (r *PostgresInstrumentSpecRepo) UpsertSpecs(ctx context.Context, specs []*domain.InstrumentSpec, reportedAtMs int64) error {
	query := `
		INSERT INTO arbiter.instrument_specs (
			instrument, tick_size, amount_step, min_amount, contract_multiplier, reported_at_ms
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		ON CONFLICT (instrument) DO UPDATE
		SET tick_size = EXCLUDED.tick_size,
		    amount_step = EXCLUDED.amount_step,
		    min_amount = EXCLUDED.min_amount,
		    contract_multiplier = EXCLUDED.contract_multiplier,
		    reported_at_ms = EXCLUDED.reported_at_ms,
		    updated_at = NOW()
		WHERE arbiter.instrument_specs.reported_at_ms <= EXCLUDED.reported_at_ms
	`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, spec := range specs {
		if spec == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx, query,
			spec.Instrument,
			spec.TickSize,
			spec.AmountStep,
			spec.MinAmount,
			spec.ContractMultiplier,
			reportedAtMs,
		); err != nil {
			return fmt.Errorf("failed to upsert instrument spec %s: %w", spec.Instrument, err)
		}
	}

	// NOTIFY para que otros procesos invaliden su caché.
	for _, spec := range specs {
		if spec == nil {
			continue
		}
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, "arbiter_instrument_specs", spec.Instrument); err != nil {
			return fmt.Errorf("failed to notify spec change: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit specs: %w", err)
	}
	return nil
}

// ListInstruments retorna los nombres de instrumentos conocidos.
func (r *PostgresInstrumentSpecRepo) ListInstruments(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT instrument FROM arbiter.instrument_specs ORDER BY instrument`)
	if err != nil {
		return nil, fmt.Errorf("failed to list instruments: %w", err)
	}
	defer rows.Close()

	var instruments []string
	for rows.Next() {
		var inst string
		if err := rows.Scan(&inst); err != nil {
			return nil, fmt.Errorf("failed to scan instrument: %w", err)
		}
		instruments = append(instruments, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return instruments, nil
}
