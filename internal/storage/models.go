package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// CarRecord is one historical sale as stored in the car_records table.
type CarRecord struct {
	Name      string
	Company   string
	Year      int
	KmsDriven int
	FuelType  string
	Price     float64
}

// Import describes one catalog import run.
type Import struct {
	ID         string
	Source     string
	RowCount   int
	ImportedAt time.Time
}
