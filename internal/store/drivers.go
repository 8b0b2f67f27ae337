// ABOUTME: Registers the cgo SQLite driver as an alternative to modernc.org/sqlite
// ABOUTME: Selected with WithDriver(DriverSQLite3) or database.driver: sqlite3

package store

import (
	_ "github.com/mattn/go-sqlite3"
)
