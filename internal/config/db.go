// internal/config/db.go
package config

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "modernc.org/sqlite"
)

// LoadFromDB overlays the point map and camera table stored in an SQLite
// database onto cfg. Tables:
//
//	plc_points(name TEXT PRIMARY KEY, address INTEGER)
//	camera_mapping(ip TEXT PRIMARY KEY, name TEXT)
//
// Rows override file values. A missing table is skipped.
// Call before Validate.
func LoadFromDB(ctx context.Context, path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config: db %s: %w", path, err)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("config: open db %s: %w", path, err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("config: ping db %s: %w", path, err)
	}

	if err := loadPoints(ctx, db, &cfg.Station.Points); err != nil {
		return err
	}
	return loadCameras(ctx, db, &cfg.Station.Cameras)
}

func loadPoints(ctx context.Context, db *sql.DB, p *Points) error {
	ok, err := tableExists(ctx, db, "plc_points")
	if err != nil || !ok {
		return err
	}

	rows, err := db.QueryContext(ctx, `SELECT name, address FROM plc_points`)
	if err != nil {
		return fmt.Errorf("config: query plc_points: %w", err)
	}
	defer rows.Close()

	slots := map[string]*int{
		"up_in":         &p.UpIn,
		"up_out":        &p.UpOut,
		"dn_in":         &p.DnIn,
		"dn_out":        &p.DnOut,
		"start":         &p.Start,
		"write_trigger": &p.WriteTrigger,
		"write_result":  &p.WriteResult,
	}

	for rows.Next() {
		var name string
		var addr int
		if err := rows.Scan(&name, &addr); err != nil {
			return fmt.Errorf("config: scan plc_points: %w", err)
		}
		slot, known := slots[name]
		if !known {
			return fmt.Errorf("config: plc_points: unknown point %q", name)
		}
		*slot = addr
	}
	return rows.Err()
}

func loadCameras(ctx context.Context, db *sql.DB, c *CamerasConfig) error {
	ok, err := tableExists(ctx, db, "camera_mapping")
	if err != nil || !ok {
		return err
	}

	rows, err := db.QueryContext(ctx, `SELECT ip, name FROM camera_mapping`)
	if err != nil {
		return fmt.Errorf("config: query camera_mapping: %w", err)
	}
	defer rows.Close()

	if c.Mapping == nil {
		c.Mapping = make(map[string]string)
	}
	for rows.Next() {
		var ip, name string
		if err := rows.Scan(&ip, &name); err != nil {
			return fmt.Errorf("config: scan camera_mapping: %w", err)
		}
		c.Mapping[ip] = name
	}
	return rows.Err()
}

func tableExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var got string
	err := db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, name,
	).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("config: lookup table %s: %w", name, err)
	}
	return true, nil
}
