// Package postgres implements the storage interfaces backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/AquaGrid-Network/allocation_layer/internal/app/domain/allocation"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/domain/farmer"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/faults"
	"github.com/AquaGrid-Network/allocation_layer/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.AllocationStore = (*Store)(nil)
var _ storage.TopUpStore = (*Store)(nil)
var _ storage.FarmerStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open dials the database and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the tables when they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS farmers (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	phone         TEXT NOT NULL UNIQUE,
	email         TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	zone          TEXT NOT NULL,
	land_size     DOUBLE PRECISION NOT NULL,
	crop_type     TEXT NOT NULL,
	ph            DOUBLE PRECISION NOT NULL,
	soil_type     TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS allocations (
	id                  TEXT PRIMARY KEY,
	farmer_id           TEXT NOT NULL,
	zone                TEXT NOT NULL,
	fertility_score     DOUBLE PRECISION NOT NULL,
	allocation_index    DOUBLE PRECISION NOT NULL,
	land_size           DOUBLE PRECISION NOT NULL,
	allocated_volume    DOUBLE PRECISION NOT NULL,
	additional_volume   DOUBLE PRECISION NOT NULL DEFAULT 0,
	total_volume        DOUBLE PRECISION NOT NULL DEFAULT 0,
	period              TEXT NOT NULL,
	status              TEXT NOT NULL,
	tx_ref              TEXT NOT NULL DEFAULT '',
	decision_at         TIMESTAMPTZ NOT NULL,
	approved_by         TEXT NOT NULL DEFAULT '',
	approved_at         TIMESTAMPTZ,
	rejected_by         TEXT NOT NULL DEFAULT '',
	rejected_at         TIMESTAMPTZ,
	created_at          TIMESTAMPTZ NOT NULL,
	updated_at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS allocations_status_idx ON allocations (status);
CREATE INDEX IF NOT EXISTS allocations_farmer_idx ON allocations (farmer_id);

CREATE TABLE IF NOT EXISTS top_ups (
	id                 TEXT PRIMARY KEY,
	base_allocation_id TEXT NOT NULL REFERENCES allocations (id),
	farmer_id          TEXT NOT NULL,
	zone               TEXT NOT NULL,
	base_volume        DOUBLE PRECISION NOT NULL,
	requested_volume   DOUBLE PRECISION NOT NULL,
	status             TEXT NOT NULL,
	tx_ref             TEXT NOT NULL DEFAULT '',
	requested_at       TIMESTAMPTZ NOT NULL,
	approved_by        TEXT NOT NULL DEFAULT '',
	approved_at        TIMESTAMPTZ,
	rejected_by        TEXT NOT NULL DEFAULT '',
	rejected_at        TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS top_ups_status_idx ON top_ups (status);
`

// --- AllocationStore --------------------------------------------------------

const allocationColumns = `id, farmer_id, zone, fertility_score, allocation_index, land_size,
	allocated_volume, additional_volume, total_volume, period, status, tx_ref,
	decision_at, approved_by, approved_at, rejected_by, rejected_at, created_at, updated_at`

func (s *Store) CreateAllocation(ctx context.Context, rec allocation.Record) (allocation.Record, error) {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO allocations (`+allocationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, rec.ID, rec.FarmerID, rec.Zone, rec.FertilityScore, rec.AllocationIndex, rec.LandSize,
		rec.AllocatedVolume, rec.AdditionalApprovedVolume, rec.TotalAllocatedVolume, rec.Period,
		rec.Status, rec.TxRef, rec.DecisionAt, rec.ApprovedBy, nullTime(rec.ApprovedAt),
		rec.RejectedBy, nullTime(rec.RejectedAt), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return allocation.Record{}, err
	}
	return rec, nil
}

func (s *Store) GetAllocation(ctx context.Context, id string) (allocation.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+allocationColumns+` FROM allocations WHERE id = $1
	`, id)
	rec, err := scanAllocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return allocation.Record{}, faults.NotFound("allocation", id)
	}
	return rec, err
}

func (s *Store) ListAllocationsByStatus(ctx context.Context, status allocation.Status) ([]allocation.Record, error) {
	query := `SELECT ` + allocationColumns + ` FROM allocations`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAllocations(rows)
}

func (s *Store) ListAllocationsByFarmer(ctx context.Context, farmerID string) ([]allocation.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+allocationColumns+` FROM allocations WHERE farmer_id = $1 ORDER BY created_at
	`, farmerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAllocations(rows)
}

func (s *Store) TransitionAllocation(ctx context.Context, id string, from, to allocation.Status, mutate func(*allocation.Record) error) (allocation.Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return allocation.Record{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+allocationColumns+` FROM allocations WHERE id = $1 FOR UPDATE
	`, id)
	rec, err := scanAllocation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return allocation.Record{}, faults.NotFound("allocation", id)
	}
	if err != nil {
		return allocation.Record{}, err
	}

	if rec.Status != from {
		return allocation.Record{}, faults.Conflict("allocation", id)
	}
	if rec.Status.Terminal() && rec.Status != to {
		return allocation.Record{}, faults.InvalidState("allocation", id, string(rec.Status))
	}

	updated := rec
	if mutate != nil {
		if err := mutate(&updated); err != nil {
			return allocation.Record{}, err
		}
	}
	updated.ID = rec.ID
	updated.FarmerID = rec.FarmerID
	updated.CreatedAt = rec.CreatedAt
	updated.Status = to
	updated.UpdatedAt = time.Now().UTC()

	result, err := tx.ExecContext(ctx, `
		UPDATE allocations SET
			zone = $2, fertility_score = $3, allocation_index = $4, land_size = $5,
			allocated_volume = $6, additional_volume = $7, total_volume = $8, period = $9,
			status = $10, tx_ref = $11, decision_at = $12, approved_by = $13, approved_at = $14,
			rejected_by = $15, rejected_at = $16, updated_at = $17
		WHERE id = $1 AND status = $18
	`, updated.ID, updated.Zone, updated.FertilityScore, updated.AllocationIndex, updated.LandSize,
		updated.AllocatedVolume, updated.AdditionalApprovedVolume, updated.TotalAllocatedVolume,
		updated.Period, updated.Status, updated.TxRef, updated.DecisionAt, updated.ApprovedBy,
		nullTime(updated.ApprovedAt), updated.RejectedBy, nullTime(updated.RejectedAt),
		updated.UpdatedAt, from)
	if err != nil {
		return allocation.Record{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return allocation.Record{}, faults.Conflict("allocation", id)
	}
	if err := tx.Commit(); err != nil {
		return allocation.Record{}, err
	}
	return updated, nil
}

// --- TopUpStore -------------------------------------------------------------

const topUpColumns = `id, base_allocation_id, farmer_id, zone, base_volume, requested_volume,
	status, tx_ref, requested_at, approved_by, approved_at, rejected_by, rejected_at,
	created_at, updated_at`

func (s *Store) CreateTopUp(ctx context.Context, req allocation.TopUp) (allocation.TopUp, error) {
	now := time.Now().UTC()
	req.CreatedAt = now
	req.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO top_ups (`+topUpColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, req.ID, req.BaseAllocationID, req.FarmerID, req.Zone, req.BaseVolume, req.RequestedVolume,
		req.Status, req.TxRef, req.RequestedAt, req.ApprovedBy, nullTime(req.ApprovedAt),
		req.RejectedBy, nullTime(req.RejectedAt), req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return allocation.TopUp{}, err
	}
	return req, nil
}

func (s *Store) GetTopUp(ctx context.Context, id string) (allocation.TopUp, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+topUpColumns+` FROM top_ups WHERE id = $1
	`, id)
	req, err := scanTopUp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return allocation.TopUp{}, faults.NotFound("top-up", id)
	}
	return req, err
}

func (s *Store) ListTopUpsByStatus(ctx context.Context, status allocation.Status) ([]allocation.TopUp, error) {
	query := `SELECT ` + topUpColumns + ` FROM top_ups`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []allocation.TopUp
	for rows.Next() {
		req, err := scanTopUp(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

func (s *Store) TransitionTopUp(ctx context.Context, id string, from, to allocation.Status, mutate func(*allocation.TopUp) error) (allocation.TopUp, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return allocation.TopUp{}, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+topUpColumns+` FROM top_ups WHERE id = $1 FOR UPDATE
	`, id)
	req, err := scanTopUp(row)
	if errors.Is(err, sql.ErrNoRows) {
		return allocation.TopUp{}, faults.NotFound("top-up", id)
	}
	if err != nil {
		return allocation.TopUp{}, err
	}

	if req.Status != from {
		return allocation.TopUp{}, faults.Conflict("top-up", id)
	}
	if req.Status.Terminal() && req.Status != to {
		return allocation.TopUp{}, faults.InvalidState("top-up", id, string(req.Status))
	}

	updated := req
	if mutate != nil {
		if err := mutate(&updated); err != nil {
			return allocation.TopUp{}, err
		}
	}
	updated.ID = req.ID
	updated.FarmerID = req.FarmerID
	updated.CreatedAt = req.CreatedAt
	updated.Status = to
	updated.UpdatedAt = time.Now().UTC()

	result, err := tx.ExecContext(ctx, `
		UPDATE top_ups SET
			base_allocation_id = $2, zone = $3, base_volume = $4, requested_volume = $5,
			status = $6, tx_ref = $7, requested_at = $8, approved_by = $9, approved_at = $10,
			rejected_by = $11, rejected_at = $12, updated_at = $13
		WHERE id = $1 AND status = $14
	`, updated.ID, updated.BaseAllocationID, updated.Zone, updated.BaseVolume,
		updated.RequestedVolume, updated.Status, updated.TxRef, updated.RequestedAt,
		updated.ApprovedBy, nullTime(updated.ApprovedAt), updated.RejectedBy,
		nullTime(updated.RejectedAt), updated.UpdatedAt, from)
	if err != nil {
		return allocation.TopUp{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return allocation.TopUp{}, faults.Conflict("top-up", id)
	}
	if err := tx.Commit(); err != nil {
		return allocation.TopUp{}, err
	}
	return updated, nil
}

// --- FarmerStore ------------------------------------------------------------

const farmerColumns = `id, name, phone, email, password_hash, zone, land_size, crop_type,
	ph, soil_type, created_at, updated_at`

func (s *Store) CreateFarmer(ctx context.Context, profile farmer.Profile) (farmer.Profile, error) {
	now := time.Now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO farmers (`+farmerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, profile.ID, profile.Name, profile.Phone, profile.Email, profile.PasswordHash,
		profile.Zone, profile.LandSize, profile.CropType, profile.PH, profile.SoilType,
		profile.CreatedAt, profile.UpdatedAt)
	if err != nil {
		return farmer.Profile{}, err
	}
	return profile, nil
}

func (s *Store) GetFarmer(ctx context.Context, id string) (farmer.Profile, error) {
	return s.scanFarmerRow(s.db.QueryRowContext(ctx, `
		SELECT `+farmerColumns+` FROM farmers WHERE id = $1
	`, id), id)
}

func (s *Store) GetFarmerByPhone(ctx context.Context, phone string) (farmer.Profile, error) {
	return s.scanFarmerRow(s.db.QueryRowContext(ctx, `
		SELECT `+farmerColumns+` FROM farmers WHERE phone = $1
	`, phone), phone)
}

func (s *Store) ListFarmers(ctx context.Context) ([]farmer.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+farmerColumns+` FROM farmers ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []farmer.Profile
	for rows.Next() {
		var p farmer.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Phone, &p.Email, &p.PasswordHash, &p.Zone,
			&p.LandSize, &p.CropType, &p.PH, &p.SoilType, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Store) scanFarmerRow(row *sql.Row, key string) (farmer.Profile, error) {
	var p farmer.Profile
	err := row.Scan(&p.ID, &p.Name, &p.Phone, &p.Email, &p.PasswordHash, &p.Zone,
		&p.LandSize, &p.CropType, &p.PH, &p.SoilType, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return farmer.Profile{}, faults.NotFound("farmer", key)
	}
	if err != nil {
		return farmer.Profile{}, err
	}
	return p, nil
}

// --- scan helpers -----------------------------------------------------------

type scanner interface {
	Scan(dest ...any) error
}

func scanAllocation(row scanner) (allocation.Record, error) {
	var (
		rec        allocation.Record
		approvedAt sql.NullTime
		rejectedAt sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.FarmerID, &rec.Zone, &rec.FertilityScore, &rec.AllocationIndex,
		&rec.LandSize, &rec.AllocatedVolume, &rec.AdditionalApprovedVolume, &rec.TotalAllocatedVolume,
		&rec.Period, &rec.Status, &rec.TxRef, &rec.DecisionAt, &rec.ApprovedBy, &approvedAt,
		&rec.RejectedBy, &rejectedAt, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return allocation.Record{}, err
	}
	rec.ApprovedAt = approvedAt.Time
	rec.RejectedAt = rejectedAt.Time
	return rec, nil
}

func collectAllocations(rows *sql.Rows) ([]allocation.Record, error) {
	var result []allocation.Record
	for rows.Next() {
		rec, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func scanTopUp(row scanner) (allocation.TopUp, error) {
	var (
		req        allocation.TopUp
		approvedAt sql.NullTime
		rejectedAt sql.NullTime
	)
	err := row.Scan(&req.ID, &req.BaseAllocationID, &req.FarmerID, &req.Zone, &req.BaseVolume,
		&req.RequestedVolume, &req.Status, &req.TxRef, &req.RequestedAt, &req.ApprovedBy,
		&approvedAt, &req.RejectedBy, &rejectedAt, &req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		return allocation.TopUp{}, err
	}
	req.ApprovedAt = approvedAt.Time
	req.RejectedAt = rejectedAt.Time
	return req, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
