package catalog

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/carprice/internal/storage"
)

// ImportCSV validates the CSV dataset at csvPath and replaces the contents of
// the SQLite catalog at dbPath with it. It returns the number of rows stored.
func ImportCSV(csvPath, dbPath string) (int, error) {
	f, err := os.Open(csvPath)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}
	defer f.Close()

	records, err := ReadCSV(f)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", csvPath, err)
	}
	// Enforce the same invariants the server will check on load.
	if _, err := New(records); err != nil {
		return 0, err
	}

	store, err := storage.Open(dbPath)
	if err != nil {
		return 0, fmt.Errorf("opening catalog database: %w", err)
	}
	defer store.Close()

	rows := make([]storage.CarRecord, len(records))
	for i, r := range records {
		rows[i] = storage.CarRecord{
			Name:      r.Name,
			Company:   r.Company,
			Year:      r.Year,
			KmsDriven: r.KmsDriven,
			FuelType:  r.FuelType,
			Price:     r.Price,
		}
	}

	imp := storage.Import{
		ID:         uuid.New().String(),
		Source:     csvPath,
		ImportedAt: time.Now().UTC(),
	}
	if err := store.ReplaceCarRecords(imp, rows); err != nil {
		return 0, fmt.Errorf("storing records: %w", err)
	}
	return store.CountCarRecords()
}
