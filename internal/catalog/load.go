package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kalambet/carprice/internal/storage"
)

// Columns every dataset must provide.
var requiredColumns = []string{"name", "company", "year", "kms_driven", "fuel_type", "price"}

// Load reads the dataset at path. Files ending in .db, .sqlite or .sqlite3 are
// opened as a SQLite store produced by ImportCSV; anything else is parsed as
// CSV. All failures wrap ErrDataUnavailable.
func Load(path string) (*Catalog, error) {
	if IsDatabase(path) {
		return loadDatabase(path)
	}
	return loadCSVFile(path)
}

// IsDatabase reports whether path names a SQLite catalog rather than a CSV file.
func IsDatabase(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	}
	return false
}

func loadCSVFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}
	defer f.Close()

	records, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return New(records)
}

func loadDatabase(path string) (*Catalog, error) {
	// Opening would create an empty database; a missing file is a missing dataset.
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}

	store, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
	}
	defer store.Close()

	imp, err := store.LatestImport()
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s holds no imported catalog", ErrDataUnavailable, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading import history: %w", ErrDataUnavailable, err)
	}
	slog.Debug("opened catalog database", "path", path, "source", imp.Source, "imported_at", imp.ImportedAt, "rows", imp.RowCount)

	rows, err := store.ListCarRecords()
	if err != nil {
		return nil, fmt.Errorf("%w: listing records: %w", ErrDataUnavailable, err)
	}

	records := make([]Record, len(rows))
	for i, r := range rows {
		records[i] = Record{
			Name:      r.Name,
			Company:   r.Company,
			Year:      r.Year,
			KmsDriven: r.KmsDriven,
			FuelType:  r.FuelType,
			Price:     r.Price,
		}
	}
	return New(records)
}

// ReadCSV parses dataset rows from r. The header row is matched
// case-insensitively; extra columns (such as a leading unnamed index) are
// ignored.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", ErrDataUnavailable)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ErrDataUnavailable, err)
	}

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	var missing []string
	for _, col := range requiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required columns: %s", ErrDataUnavailable, strings.Join(missing, ", "))
	}

	var records []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDataUnavailable, err)
		}
		line, _ := cr.FieldPos(0)

		rec, err := parseRow(row, idx)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrDataUnavailable, line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRow(row []string, idx map[string]int) (Record, error) {
	field := func(col string) (string, error) {
		i := idx[col]
		if i >= len(row) {
			return "", fmt.Errorf("missing value for %s", col)
		}
		return strings.TrimSpace(row[i]), nil
	}

	var rec Record
	var err error
	var raw string

	if rec.Name, err = field("name"); err != nil {
		return Record{}, err
	}
	if rec.Company, err = field("company"); err != nil {
		return Record{}, err
	}
	if rec.FuelType, err = field("fuel_type"); err != nil {
		return Record{}, err
	}

	if raw, err = field("year"); err != nil {
		return Record{}, err
	}
	if rec.Year, err = strconv.Atoi(raw); err != nil {
		return Record{}, fmt.Errorf("invalid year %q", raw)
	}

	if raw, err = field("kms_driven"); err != nil {
		return Record{}, err
	}
	if rec.KmsDriven, err = strconv.Atoi(raw); err != nil {
		return Record{}, fmt.Errorf("invalid kms_driven %q", raw)
	}

	if raw, err = field("price"); err != nil {
		return Record{}, err
	}
	if rec.Price, err = strconv.ParseFloat(raw, 64); err != nil {
		return Record{}, fmt.Errorf("invalid price %q", raw)
	}

	if err := rec.validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}
