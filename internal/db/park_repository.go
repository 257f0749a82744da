package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/unklstewy/mountcore/pkg/config"
)

// ParkPosition is a stored park position in app axes degrees.
type ParkPosition struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	MountMode string    `json:"mountMode"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ParkRepository stores park positions for one mount mode.
type ParkRepository struct {
	db   *DB
	mode string
}

// NewParkRepository creates a park repository scoped to mode, for example
// "german" or "altaz".
func NewParkRepository(db *DB, mode string) *ParkRepository {
	return &ParkRepository{db: db, mode: mode}
}

// Get returns the park named name, or nil when it does not exist.
func (r *ParkRepository) Get(ctx context.Context, name string) (*ParkPosition, error) {
	query := `
		SELECT id, name, axis_x, axis_y, mount_mode, created_at, updated_at
		FROM park_positions
		WHERE name = $1 AND mount_mode = $2
	`

	var p ParkPosition
	err := r.db.QueryRowContext(ctx, query, name, r.mode).Scan(
		&p.ID,
		&p.Name,
		&p.X,
		&p.Y,
		&p.MountMode,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get park position: %w", err)
	}

	return &p, nil
}

// List returns every park of the repository mode ordered by name.
func (r *ParkRepository) List(ctx context.Context) ([]ParkPosition, error) {
	query := `
		SELECT id, name, axis_x, axis_y, mount_mode, created_at, updated_at
		FROM park_positions
		WHERE mount_mode = $1
		ORDER BY name ASC
	`

	rows, err := r.db.QueryContext(ctx, query, r.mode)
	if err != nil {
		return nil, fmt.Errorf("failed to query park positions: %w", err)
	}
	defer rows.Close()

	var parks []ParkPosition
	for rows.Next() {
		var p ParkPosition
		if err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.X,
			&p.Y,
			&p.MountMode,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan park position: %w", err)
		}
		parks = append(parks, p)
	}

	return parks, rows.Err()
}

// Save inserts the park or overwrites the position of an existing one.
func (r *ParkRepository) Save(ctx context.Context, p *ParkPosition) error {
	if p.Name == "" {
		return fmt.Errorf("park position name is required")
	}
	query := `
		INSERT INTO park_positions (name, axis_x, axis_y, mount_mode)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name, mount_mode) DO UPDATE SET
			axis_x = EXCLUDED.axis_x,
			axis_y = EXCLUDED.axis_y,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(ctx, query, p.Name, p.X, p.Y, r.mode).Scan(
		&p.ID,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save park position: %w", err)
	}
	p.MountMode = r.mode

	return nil
}

// Delete removes the park named name.
func (r *ParkRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM park_positions WHERE name = $1 AND mount_mode = $2`,
		name, r.mode,
	)
	if err != nil {
		return fmt.Errorf("failed to delete park position: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("park position %q not found", name)
	}

	return nil
}

// Seed inserts the configured parks that are not stored yet. Stored parks
// keep their saved position.
func (r *ParkRepository) Seed(ctx context.Context, parks []config.ParkPosition) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO park_positions (name, axis_x, axis_y, mount_mode)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name, mount_mode) DO NOTHING
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare seed statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, p := range parks {
		if p.Name == "" {
			continue
		}
		result, err := stmt.ExecContext(ctx, p.Name, p.X, p.Y, r.mode)
		if err != nil {
			return 0, fmt.Errorf("failed to seed park %q: %w", p.Name, err)
		}
		if n, err := result.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit park seed: %w", err)
	}
	return inserted, nil
}
