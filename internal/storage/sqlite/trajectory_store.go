// Package sqlite persists smoothed trajectories: each smoothing session
// gets a row keyed by uuid, and every completed cycle appends the smoothed
// pose of each live variable. The schema lives under migrations/ and is
// applied with golang-migrate.
package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/fixedlag/internal/factor"
)

// TrajectoryStore defines the persistence operations for smoothed output.
type TrajectoryStore interface {
	CreateSession(lag float64, description string) (string, error)
	RecordPose(rec *SmoothedPose) error
	GetTrajectory(sessionID string, key factor.Key) ([]*SmoothedPose, error)
	GetLatestPoses(sessionID string) ([]*SmoothedPose, error)
	Close() error
}

// SmoothedPose is one smoothed estimate of one variable after one cycle.
type SmoothedPose struct {
	SessionID string
	Key       factor.Key
	Stamp     float64
	Cycle     int
	X         float64
	Y         float64
	Theta     float64

	// Per-cycle optimizer stats, denormalised for easy charting.
	GraphError float64
	Iterations int
}

// DB wraps the sqlite handle and implements TrajectoryStore.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the trajectory database at path and applies
// pending migrations from migrationsDir.
func Open(path, migrationsDir string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open trajectory db: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	db := &DB{sqlDB}
	if err := db.MigrateUp(migrationsDir); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// CreateSession records a new smoothing session and returns its id.
func (db *DB) CreateSession(lag float64, description string) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(`
		INSERT INTO smoothing_sessions (session_id, lag, description, created_unix_nanos)
		VALUES (?, ?, ?, strftime('%s','now') * 1000000000)
	`, id, lag, description)
	if err != nil {
		return "", fmt.Errorf("insert session: %w", err)
	}
	return id, nil
}

// RecordPose appends one smoothed pose. The same (session, key, cycle)
// triple is written at most once; later cycles re-record live variables at
// their refined values.
func (db *DB) RecordPose(rec *SmoothedPose) error {
	_, err := db.Exec(`
		INSERT INTO smoothed_poses (
			session_id, variable_key, stamp, cycle,
			x, y, theta, graph_error, iterations
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, variable_key, cycle) DO UPDATE SET
			x = excluded.x,
			y = excluded.y,
			theta = excluded.theta,
			graph_error = excluded.graph_error,
			iterations = excluded.iterations
	`, rec.SessionID, int64(rec.Key), rec.Stamp, rec.Cycle,
		rec.X, rec.Y, rec.Theta, rec.GraphError, rec.Iterations)
	if err != nil {
		return fmt.Errorf("insert smoothed pose: %w", err)
	}
	return nil
}

// GetTrajectory returns every recorded estimate of one variable across
// cycles, oldest cycle first.
func (db *DB) GetTrajectory(sessionID string, key factor.Key) ([]*SmoothedPose, error) {
	rows, err := db.Query(`
		SELECT session_id, variable_key, stamp, cycle, x, y, theta, graph_error, iterations
		FROM smoothed_poses
		WHERE session_id = ? AND variable_key = ?
		ORDER BY cycle ASC
	`, sessionID, int64(key))
	if err != nil {
		return nil, fmt.Errorf("query trajectory: %w", err)
	}
	defer rows.Close()
	return scanPoses(rows)
}

// GetLatestPoses returns, per variable, the most recently recorded
// estimate in the session, ordered by variable key.
func (db *DB) GetLatestPoses(sessionID string) ([]*SmoothedPose, error) {
	rows, err := db.Query(`
		SELECT session_id, variable_key, stamp, cycle, x, y, theta, graph_error, iterations
		FROM smoothed_poses p
		WHERE session_id = ?
		  AND cycle = (
			SELECT MAX(cycle) FROM smoothed_poses
			WHERE session_id = p.session_id AND variable_key = p.variable_key
		  )
		ORDER BY variable_key ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query latest poses: %w", err)
	}
	defer rows.Close()
	return scanPoses(rows)
}

func scanPoses(rows *sql.Rows) ([]*SmoothedPose, error) {
	var out []*SmoothedPose
	for rows.Next() {
		var rec SmoothedPose
		var rawKey int64
		if err := rows.Scan(&rec.SessionID, &rawKey, &rec.Stamp, &rec.Cycle,
			&rec.X, &rec.Y, &rec.Theta, &rec.GraphError, &rec.Iterations); err != nil {
			return nil, fmt.Errorf("scan smoothed pose: %w", err)
		}
		rec.Key = factor.Key(rawKey)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate smoothed poses: %w", err)
	}
	return out, nil
}
