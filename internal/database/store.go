// Package database provides persisted client state for picstream.
package database

import "errors"

// ErrNotFound is returned when a setting has never been stored.
var ErrNotFound = errors.New("setting not found")

// Store defines the interface for persisted settings.
// Both SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the database backend ("SQLite" or "PostgreSQL").
	DatabaseType() string

	// Settings operations
	GetSetting(key string) (string, error)
	SetSetting(key, value string) error
	DeleteSetting(key string) error
}
