// Package scandb records assembled lidar scans to a local SQLite database
// for offline analysis and replay.
package scandb

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/tmini/internal/monitoring"
	"github.com/banshee-data/tmini/internal/tmini"
)

type ScanDB struct {
	*sql.DB
}

// schema.sql defines tables for recording sessions, per-scan summaries, and
// optionally the individual points of each scan.
//
//go:embed schema.sql
var schemaSQL string

func NewScanDB(path string) (*ScanDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize scan schema: %w", err)
	}

	monitoring.Logf("scandb: initialized schema at %s", path)
	return &ScanDB{db}, nil
}

// StartSession creates a new recording session for the given serial port.
func (sdb *ScanDB) StartSession(port, notes string) (int64, error) {
	result, err := sdb.Exec(
		`INSERT INTO scan_sessions (port, session_notes) VALUES (?, ?)`,
		port, notes,
	)
	if err != nil {
		return 0, fmt.Errorf("start session: %w", err)
	}
	return result.LastInsertId()
}

// EndSession stamps the session end time and rolls up its scan and point
// totals.
func (sdb *ScanDB) EndSession(sessionID int64) error {
	_, err := sdb.Exec(`
		UPDATE scan_sessions
		SET
			end_timestamp = UNIXEPOCH('subsec'),
			scan_count = (SELECT COUNT(*) FROM scans WHERE session_id = ?),
			point_count = (SELECT COALESCE(SUM(point_count), 0) FROM scans WHERE session_id = ?)
		WHERE id = ?
	`, sessionID, sessionID, sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// RecordScan stores one scan's summary row and, when storePoints is set, its
// individual points. Points go in a single transaction so a scan is either
// fully recorded or absent.
func (sdb *ScanDB) RecordScan(sessionID int64, scan *tmini.LaserScan, storePoints bool) (int64, error) {
	rs := tmini.ScanRangeStats(scan)

	tx, err := sdb.Begin()
	if err != nil {
		return 0, fmt.Errorf("record scan: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO scans (session_id, timestamp_ns, frequency_hz, point_count, valid_points, min_range_m, max_range_m, mean_range_m)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, sessionID, scan.Timestamp.UnixNano(), scan.ScanFrequency, rs.Total, rs.Valid, rs.Min, rs.Max, rs.Mean)
	if err != nil {
		return 0, fmt.Errorf("insert scan: %w", err)
	}
	scanID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	if storePoints {
		stmt, err := tx.Prepare(`INSERT INTO scan_points (scan_id, angle_deg, distance_m, intensity) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return 0, fmt.Errorf("prepare point insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range scan.Points {
			if _, err := stmt.Exec(scanID, p.Angle, p.Distance, p.Intensity); err != nil {
				return 0, fmt.Errorf("insert point: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("record scan: %w", err)
	}
	return scanID, nil
}

// ScanSummary is one recorded scan's summary row.
type ScanSummary struct {
	ID          int64   `json:"id"`
	SessionID   int64   `json:"session_id"`
	TimestampNs int64   `json:"timestamp_ns"`
	FrequencyHz float64 `json:"frequency_hz"`
	PointCount  int     `json:"point_count"`
	ValidPoints int     `json:"valid_points"`
	MinRangeM   float64 `json:"min_range_m"`
	MaxRangeM   float64 `json:"max_range_m"`
	MeanRangeM  float64 `json:"mean_range_m"`
}

// RecentScans returns the most recently recorded scan summaries, newest
// first.
func (sdb *ScanDB) RecentScans(limit int) ([]ScanSummary, error) {
	rows, err := sdb.Query(`
		SELECT id, session_id, timestamp_ns, frequency_hz, point_count, valid_points, min_range_m, max_range_m, mean_range_m
		FROM scans
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent scans: %w", err)
	}
	defer rows.Close()

	var scans []ScanSummary
	for rows.Next() {
		var s ScanSummary
		if err := rows.Scan(&s.ID, &s.SessionID, &s.TimestampNs, &s.FrequencyHz,
			&s.PointCount, &s.ValidPoints, &s.MinRangeM, &s.MaxRangeM, &s.MeanRangeM); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		scans = append(scans, s)
	}
	return scans, rows.Err()
}

// ScanPoints loads the recorded points of one scan in insertion order.
func (sdb *ScanDB) ScanPoints(scanID int64) ([]tmini.LaserPoint, error) {
	rows, err := sdb.Query(`
		SELECT angle_deg, distance_m, intensity
		FROM scan_points
		WHERE scan_id = ?
		ORDER BY rowid
	`, scanID)
	if err != nil {
		return nil, fmt.Errorf("query scan points: %w", err)
	}
	defer rows.Close()

	var points []tmini.LaserPoint
	for rows.Next() {
		var p tmini.LaserPoint
		if err := rows.Scan(&p.Angle, &p.Distance, &p.Intensity); err != nil {
			return nil, fmt.Errorf("point row: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Session is a recorded session row.
type Session struct {
	ID             int64    `json:"id"`
	StartTimestamp float64  `json:"start_timestamp"`
	EndTimestamp   *float64 `json:"end_timestamp,omitempty"`
	Port           string   `json:"port"`
	ScanCount      int      `json:"scan_count"`
	PointCount     int      `json:"point_count"`
	SessionNotes   string   `json:"session_notes"`
}

// GetSession loads one session row.
func (sdb *ScanDB) GetSession(sessionID int64) (*Session, error) {
	var s Session
	err := sdb.QueryRow(`
		SELECT id, start_timestamp, end_timestamp, port, scan_count, point_count, session_notes
		FROM scan_sessions
		WHERE id = ?
	`, sessionID).Scan(&s.ID, &s.StartTimestamp, &s.EndTimestamp, &s.Port,
		&s.ScanCount, &s.PointCount, &s.SessionNotes)
	if err != nil {
		return nil, fmt.Errorf("load session %d: %w", sessionID, err)
	}
	return &s, nil
}
