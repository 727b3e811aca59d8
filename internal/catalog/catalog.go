// Package catalog holds the static dataset of historical car sales used to
// populate the form's selectable values.
package catalog

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
)

// ErrDataUnavailable is returned when the dataset is missing or malformed.
var ErrDataUnavailable = errors.New("catalog data unavailable")

// Record is one historical sale.
type Record struct {
	Name      string  `json:"name"`
	Company   string  `json:"company"`
	Year      int     `json:"year"`
	KmsDriven int     `json:"kms_driven"`
	FuelType  string  `json:"fuel_type"`
	Price     float64 `json:"price"`
}

// Catalog is an immutable, indexed view over the loaded records. It is safe
// for concurrent use; every query returns a fresh slice.
type Catalog struct {
	records   []Record
	companies []string
	fuelTypes []string
	years     []int
	models    map[string][]string
}

// New builds a Catalog from records. The input slice is copied.
func New(records []Record) (*Catalog, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no records", ErrDataUnavailable)
	}

	c := &Catalog{
		records: slices.Clone(records),
		models:  make(map[string][]string),
	}

	companies := make(map[string]struct{})
	fuelTypes := make(map[string]struct{})
	years := make(map[int]struct{})
	models := make(map[string]map[string]struct{})

	for i, r := range c.records {
		if err := r.validate(); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrDataUnavailable, i, err)
		}
		companies[r.Company] = struct{}{}
		fuelTypes[r.FuelType] = struct{}{}
		years[r.Year] = struct{}{}
		if models[r.Company] == nil {
			models[r.Company] = make(map[string]struct{})
		}
		models[r.Company][r.Name] = struct{}{}
	}

	c.companies = sortedKeys(companies, cmp.Compare[string])
	c.fuelTypes = sortedKeys(fuelTypes, cmp.Compare[string])
	// Most recent first.
	c.years = sortedKeys(years, func(a, b int) int { return cmp.Compare(b, a) })
	for company, names := range models {
		c.models[company] = sortedKeys(names, cmp.Compare[string])
	}

	return c, nil
}

func (r Record) validate() error {
	switch {
	case r.Name == "":
		return errors.New("name is empty")
	case r.Company == "":
		return errors.New("company is empty")
	case r.FuelType == "":
		return errors.New("fuel_type is empty")
	case r.KmsDriven < 0:
		return fmt.Errorf("kms_driven %d is negative", r.KmsDriven)
	}
	return nil
}

func sortedKeys[K comparable](set map[K]struct{}, compare func(a, b K) int) []K {
	keys := make([]K, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compare)
	return keys
}

// Len returns the number of records.
func (c *Catalog) Len() int {
	return len(c.records)
}

// Companies returns every distinct company, ascending.
func (c *Catalog) Companies() []string {
	return slices.Clone(c.companies)
}

// FuelTypes returns every distinct fuel type, ascending.
func (c *Catalog) FuelTypes() []string {
	return slices.Clone(c.fuelTypes)
}

// Years returns every distinct year, strictly descending.
func (c *Catalog) Years() []int {
	return slices.Clone(c.years)
}

// ModelsForCompany returns the distinct model names sold under company,
// ascending. An unknown company yields an empty, non-nil slice.
func (c *Catalog) ModelsForCompany(company string) []string {
	names, ok := c.models[company]
	if !ok {
		return []string{}
	}
	return slices.Clone(names)
}

func (c *Catalog) HasCompany(company string) bool {
	_, ok := c.models[company]
	return ok
}

// HasModel reports whether name was sold under company.
func (c *Catalog) HasModel(company, name string) bool {
	_, found := slices.BinarySearch(c.models[company], name)
	return found
}

func (c *Catalog) HasFuelType(fuelType string) bool {
	_, found := slices.BinarySearch(c.fuelTypes, fuelType)
	return found
}

func (c *Catalog) HasYear(year int) bool {
	return slices.Contains(c.years, year)
}

// Head returns up to n records in dataset order.
func (c *Catalog) Head(n int) []Record {
	if n < 0 {
		n = 0
	}
	if n > len(c.records) {
		n = len(c.records)
	}
	return slices.Clone(c.records[:n])
}
