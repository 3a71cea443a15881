package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LocationRow is one computed location of a playback run
type LocationRow struct {
	Address   uint32
	NetworkID int64
	Latitude  float64
	Longitude float64
	Altitude  float64
	Data      []byte // node JSON as written to computed_locations.json
}

// RunData summarises a stored playback run
type RunData struct {
	RunID         string
	NetworkID     int64
	LocationCount int
	CreatedAt     time.Time
}

// SaveLocations stores the locations of one run in a single transaction.
// A node located several times has one row per location.
// Saving the same run id twice replaces the previous rows.
func (db *DB) SaveLocations(ctx context.Context, runID string, networkID int64, rows []LocationRow) error {
	if runID == "" {
		return fmt.Errorf("run_id cannot be empty")
	}
	if networkID <= 0 {
		return fmt.Errorf("network_id must be positive, got %d", networkID)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO wpe_playback_runs (run_id, network_id, location_count, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id) DO UPDATE
		SET network_id = $2, location_count = $3
	`, runID, networkID, len(rows), time.Now())
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM wpe_computed_locations WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("failed to clear previous locations: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO wpe_computed_locations (run_id, address, network_id, latitude, longitude, altitude, seq, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare location insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		data := row.Data
		if data == nil {
			data = []byte("{}")
		}
		_, err := stmt.ExecContext(ctx, runID, int64(row.Address), row.NetworkID,
			row.Latitude, row.Longitude, row.Altitude, i, string(data))
		if err != nil {
			return fmt.Errorf("failed to save location of node %d: %w", row.Address, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit locations: %w", err)
	}
	return nil
}

// LoadLocations returns the locations of a run in the order they were saved
func (db *DB) LoadLocations(ctx context.Context, runID string) ([]LocationRow, error) {
	if runID == "" {
		return nil, fmt.Errorf("run_id cannot be empty")
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT address, network_id, latitude, longitude, altitude, data
		FROM wpe_computed_locations
		WHERE run_id = $1
		ORDER BY seq
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load locations: %w", err)
	}
	defer rows.Close()

	var result []LocationRow
	for rows.Next() {
		var row LocationRow
		var address int64
		if err := rows.Scan(&address, &row.NetworkID, &row.Latitude, &row.Longitude, &row.Altitude, &row.Data); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row.Address = uint32(address)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return result, nil
}

// GetRun returns the summary of a stored run
func (db *DB) GetRun(ctx context.Context, runID string) (*RunData, error) {
	if runID == "" {
		return nil, fmt.Errorf("run_id cannot be empty")
	}

	var run RunData
	err := db.conn.QueryRowContext(ctx, `
		SELECT run_id, network_id, location_count, created_at
		FROM wpe_playback_runs
		WHERE run_id = $1
	`, runID).Scan(&run.RunID, &run.NetworkID, &run.LocationCount, &run.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	return &run, nil
}

// ListRuns returns the runs stored for a network, newest first
func (db *DB) ListRuns(ctx context.Context, networkID int64) ([]*RunData, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT run_id, network_id, location_count, created_at
		FROM wpe_playback_runs
		WHERE network_id = $1
		ORDER BY created_at DESC
	`, networkID)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*RunData
	for rows.Next() {
		var run RunData
		if err := rows.Scan(&run.RunID, &run.NetworkID, &run.LocationCount, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		runs = append(runs, &run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return runs, nil
}

// DeleteRun removes a run and its locations
func (db *DB) DeleteRun(ctx context.Context, runID string) error {
	if runID == "" {
		return fmt.Errorf("run_id cannot be empty")
	}

	result, err := db.conn.ExecContext(ctx, `DELETE FROM wpe_playback_runs WHERE run_id = $1`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}
