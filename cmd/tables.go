package cmd

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/regionsim/regionsim/sim"
)

// csvTable is a CSV file read into rows addressed by header name.
type csvTable struct {
	path    string
	columns map[string]int
	header  []string
	rows    [][]string
}

func readCSV(path string) (*csvTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening table")
	}
	defer func() { _ = file.Close() }()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrapf(err, "reading CSV header of %s", path)
	}
	t := &csvTable{path: path, header: header, columns: make(map[string]int, len(header))}
	for i, name := range header {
		t.columns[strings.TrimSpace(name)] = i
	}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", path)
		}
		t.rows = append(t.rows, row)
	}
	return t, nil
}

func (t *csvTable) require(names ...string) error {
	for _, name := range names {
		if _, ok := t.columns[name]; !ok {
			return errors.Errorf("%s: missing column %q", t.path, name)
		}
	}
	return nil
}

// field returns the named cell, or "" when the column is absent.
func (t *csvTable) field(row []string, name string) string {
	i, ok := t.columns[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func (t *csvTable) float(line int, row []string, name string) (float64, error) {
	s := t.field(row, name)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "%s line %d: column %s", t.path, line, name)
	}
	return v, nil
}

func (t *csvTable) int(line int, row []string, name string) (int, error) {
	v, err := t.float(line, row, name)
	return int(v), err
}

var parcelColumns = map[string]bool{
	"parcel_id": true, "jurisdiction": true, "zone_id": true, "category": true,
	"ave_sqft_per_unit": true, "residential_units": true, "non_residential_sqft": true,
	"building_sqft": true, "parcel_sqft": true, "land_value": true, "retail_allowed": true,
}

// LoadParcels reads a parcel CSV. Columns beyond the known ones become
// formula attributes when numeric and tags otherwise.
func LoadParcels(path string) ([]*sim.Parcel, error) {
	t, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if err := t.require("parcel_id"); err != nil {
		return nil, err
	}
	parcels := make([]*sim.Parcel, 0, len(t.rows))
	for i, row := range t.rows {
		line := i + 2
		id, err := strconv.ParseInt(t.field(row, "parcel_id"), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%s line %d: parcel_id", path, line)
		}
		p := &sim.Parcel{
			ID:            id,
			Jurisdiction:  t.field(row, "jurisdiction"),
			ZoneID:        t.field(row, "zone_id"),
			Category:      t.field(row, "category"),
			RetailAllowed: parseBool(t.field(row, "retail_allowed")),
			Attributes:    map[string]float64{},
			Tags:          map[string]string{},
		}
		for _, f := range []struct {
			name string
			dst  *float64
		}{
			{"ave_sqft_per_unit", &p.AverageSqftPerUnit},
			{"non_residential_sqft", &p.NonResidentialSqft},
			{"building_sqft", &p.BuildingSqft},
			{"parcel_sqft", &p.ParcelSqft},
			{"land_value", &p.LandValue},
		} {
			if *f.dst, err = t.float(line, row, f.name); err != nil {
				return nil, err
			}
		}
		if p.ResidentialUnits, err = t.int(line, row, "residential_units"); err != nil {
			return nil, err
		}
		for _, name := range t.header {
			if parcelColumns[name] {
				continue
			}
			raw := t.field(row, name)
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				p.Attributes[name] = v
			} else {
				p.Tags[name] = raw
			}
		}
		parcels = append(parcels, p)
	}
	return parcels, nil
}

// LoadCandidates reads the pro-forma feasibility table. max_profit may be
// inf or -inf for forms the pro-forma could not evaluate.
func LoadCandidates(path string) (sim.Table, error) {
	t, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if err := t.require("parcel_id", "form", "max_profit"); err != nil {
		return nil, err
	}
	table := make(sim.Table, 0, len(t.rows))
	for i, row := range t.rows {
		line := i + 2
		id, err := strconv.ParseInt(t.field(row, "parcel_id"), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "%s line %d: parcel_id", path, line)
		}
		form := t.field(row, "form")
		if !sim.IsValidForm(form) {
			return nil, errors.Errorf("%s line %d: unknown form %q", path, line, form)
		}
		c := sim.Candidate{ParcelID: id, Form: sim.Form(form)}
		for _, f := range []struct {
			name string
			dst  *float64
		}{
			{"max_profit", &c.MaxProfit},
			{"building_revenue", &c.BuildingRevenue},
			{"residential_sqft", &c.ResidentialSqft},
			{"non_residential_sqft", &c.NonResidentialSqft},
			{"building_sqft", &c.BuildingSqft},
		} {
			if *f.dst, err = t.float(line, row, f.name); err != nil {
				return nil, err
			}
		}
		if c.Stories, err = t.int(line, row, "stories"); err != nil {
			return nil, err
		}
		table = append(table, c)
	}
	return table, nil
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}

// DemandFile is the YAML form of the external demographic model's output.
type DemandFile struct {
	ResidentialUnits   float64              `yaml:"residential_units"`
	NonResidentialSqft float64              `yaml:"non_residential_sqft"`
	NeedByZone         map[string]float64   `yaml:"need_by_zone"`
	UnderservedByZone  map[string]float64   `yaml:"underserved_by_zone"`
	HouseholdIncomes   map[string][]float64 `yaml:"household_incomes"`
}

// LoadDemand reads yearly demand totals and spatial signals.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadDemand(path string) (*DemandFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading demand")
	}
	var d DemandFile
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&d); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "parsing demand")
	}
	return &d, nil
}

// ForYear returns a fresh Demand for one simulated year. Placement draws the
// totals down, so each year needs its own copy.
func (d *DemandFile) ForYear() *sim.Demand {
	return &sim.Demand{
		ResidentialUnits:   d.ResidentialUnits,
		NonResidentialSqft: d.NonResidentialSqft,
		NeedByZone:         d.NeedByZone,
		UnderservedByZone:  d.UnderservedByZone,
		HouseholdIncomes:   d.HouseholdIncomes,
	}
}
