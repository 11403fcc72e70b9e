// Package state keeps per-service bookkeeping: the sync state tracker with
// its run lease and history, plus a small key/value table for long-running
// components.
package state

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// Get reads one key/value entry for owner.
func Get(db *sql.DB, owner string, key string) (string, bool, error) {
	var v string
	err := db.QueryRow(`SELECT value FROM adapter_state WHERE adapter = ? AND key = ?`, owner, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get state %s/%s: %w", owner, key, err)
	}
	return v, true, nil
}

// Set upserts one key/value entry for owner.
func Set(db *sql.DB, owner string, key string, value string) error {
	_, err := db.Exec(`
		INSERT INTO adapter_state (adapter, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(adapter, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, owner, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set state %s/%s: %w", owner, key, err)
	}
	return nil
}

// GetInt reads an integer entry; missing or malformed values read as 0.
func GetInt(db *sql.DB, owner string, key string) (int64, error) {
	v, ok, err := Get(db, owner, key)
	if err != nil || !ok || v == "" {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func SetInt(db *sql.DB, owner string, key string, n int64) error {
	return Set(db, owner, key, strconv.FormatInt(n, 10))
}

// Increment adds one to an integer entry inside a single statement.
func Increment(db *sql.DB, owner string, key string) error {
	_, err := db.Exec(`
		INSERT INTO adapter_state (adapter, key, value, updated_at)
		VALUES (?, ?, '1', ?)
		ON CONFLICT(adapter, key) DO UPDATE SET
			value = CAST(CAST(adapter_state.value AS INTEGER) + 1 AS TEXT),
			updated_at = excluded.updated_at
	`, owner, key, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to increment state %s/%s: %w", owner, key, err)
	}
	return nil
}
