// Package inventory holds the shared building table.
//
// Inventory is implemented on top of https://github.com/hashicorp/go-memdb.
// Objects stored in the db are never modified in place: every read returns a
// copy and every change goes through Update, which replaces the stored row.
package inventory

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
)

const (
	buildingsTable = "buildings"
	idIndex        = "id"     // index for looking up buildings by id
	sourceIndex    = "source" // index for looking up buildings by the program that created them
)

// Building is a constructed development.
type Building struct {
	ID                  uint64
	ParcelID            int64
	Form                string
	ResidentialUnits    int
	ResidentialSqft     float64
	NonResidentialSqft  float64
	BuildingSqft        float64
	Stories             int
	DeedRestrictedUnits int
	InclusionaryUnits   int
	Source              string
	PolicyName          string
	Subsidized          bool
	YearBuilt           int
	RealizedProfit      float64
	BuildingRevenue     float64
	Surcharge           float64
	GroundFloorRetail   bool
}

// UnusedSqft is floor area assigned to neither residential nor non-residential use.
func (b *Building) UnusedSqft() float64 {
	unused := b.BuildingSqft - b.ResidentialSqft - b.NonResidentialSqft
	if unused < 0 {
		return 0
	}
	return unused
}

// DeepCopy returns an independent copy.
func (b *Building) DeepCopy() *Building {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

// ErrDeedRestriction reports a building with more deed-restricted units than units.
type ErrDeedRestriction struct {
	BuildingID     uint64
	DeedRestricted int
	Residential    int
}

func (err *ErrDeedRestriction) Error() string {
	return fmt.Sprintf("building %d has %d deed-restricted units but only %d residential units",
		err.BuildingID, err.DeedRestricted, err.Residential)
}

// Inventory is the process-wide building table.
type Inventory struct {
	db     *memdb.MemDB
	nextID uint64
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			buildingsTable: {
				Name: buildingsTable,
				Indexes: map[string]*memdb.IndexSchema{
					idIndex: {
						Name:    idIndex,
						Unique:  true,
						Indexer: &memdb.UintFieldIndex{Field: "ID"},
					},
					sourceIndex: {
						Name:         sourceIndex,
						AllowMissing: true,
						Indexer:      &memdb.StringFieldIndex{Field: "Source"},
					},
				},
			},
		},
	}
}

// New returns an empty inventory.
func New() (*Inventory, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Inventory{db: db, nextID: 1}, nil
}

// Add assigns the next building id to a copy of b, stores it, and returns the stored copy.
func (inv *Inventory) Add(b *Building) (*Building, error) {
	stored := b.DeepCopy()
	stored.ID = inv.nextID
	txn := inv.db.Txn(true)
	if err := txn.Insert(buildingsTable, stored); err != nil {
		txn.Abort()
		return nil, errors.WithStack(err)
	}
	txn.Commit()
	inv.nextID++
	return stored.DeepCopy(), nil
}

// Update replaces an existing building.
func (inv *Inventory) Update(b *Building) error {
	txn := inv.db.Txn(true)
	existing, err := txn.First(buildingsTable, idIndex, b.ID)
	if err != nil {
		txn.Abort()
		return errors.WithStack(err)
	}
	if existing == nil {
		txn.Abort()
		return errors.Errorf("building %d does not exist", b.ID)
	}
	if err := txn.Insert(buildingsTable, b.DeepCopy()); err != nil {
		txn.Abort()
		return errors.WithStack(err)
	}
	txn.Commit()
	return nil
}

// Get returns a copy of the building with the given id, or nil if there is none.
func (inv *Inventory) Get(id uint64) (*Building, error) {
	txn := inv.db.Txn(false)
	obj, err := txn.First(buildingsTable, idIndex, id)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if obj == nil {
		return nil, nil
	}
	return obj.(*Building).DeepCopy(), nil
}

// All returns copies of every building in id order.
func (inv *Inventory) All() ([]*Building, error) {
	return inv.collect(idIndex)
}

// BySource returns copies of the buildings created by source, in id order.
func (inv *Inventory) BySource(source string) ([]*Building, error) {
	return inv.collect(sourceIndex, source)
}

func (inv *Inventory) collect(index string, args ...any) ([]*Building, error) {
	txn := inv.db.Txn(false)
	it, err := txn.Get(buildingsTable, index, args...)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	result := make([]*Building, 0)
	for obj := it.Next(); obj != nil; obj = it.Next() {
		result = append(result, obj.(*Building).DeepCopy())
	}
	// Uint keys are varint-encoded, so index order is not numeric order.
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Len returns the number of stored buildings.
func (inv *Inventory) Len() int {
	return int(inv.nextID - 1)
}

// CheckDeedRestrictions verifies deed_restricted_units <= residential_units for
// every building and returns the first violation found.
func (inv *Inventory) CheckDeedRestrictions() error {
	all, err := inv.All()
	if err != nil {
		return err
	}
	for _, b := range all {
		if b.DeedRestrictedUnits > b.ResidentialUnits || b.DeedRestrictedUnits < 0 {
			return &ErrDeedRestriction{
				BuildingID:     b.ID,
				DeedRestricted: b.DeedRestrictedUnits,
				Residential:    b.ResidentialUnits,
			}
		}
	}
	return nil
}
