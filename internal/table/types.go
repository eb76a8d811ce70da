// Package table re-exports the generic table API and opens a driver from
// configuration.
package table

import (
	"scrubnotes/internal/table/core"
)

type (
	Driver = core.Driver
	Row    = core.Row
	Filter = core.Filter
	Order  = core.Order
	Query  = core.Query
	Store  = core.Store
)

const (
	DriverMemory   = core.DriverMemory
	DriverSQLite   = core.DriverSQLite
	DriverPostgres = core.DriverPostgres
)

var (
	ErrUnscoped      = core.ErrUnscoped
	ErrUnknownTable  = core.ErrUnknownTable
	ErrUnknownColumn = core.ErrUnknownColumn
)

// Eq builds an equality filter.
func Eq(column string, value any) Filter { return core.Eq(column, value) }

// NextTimestamp returns a strictly increasing Unix-nanosecond timestamp, the
// same clock the drivers use for created_at.
func NextTimestamp() int64 { return core.NextTimestamp() }
