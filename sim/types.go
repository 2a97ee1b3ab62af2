package sim

import (
	"fmt"
	"math"

	"github.com/regionsim/regionsim/sim/formula"
)

// Form is a development form a parcel can be built as.
type Form string

// Development forms produced by the pro-forma model.
const (
	FormResidential      Form = "residential"
	FormMixedResidential Form = "mixedresidential"
	FormOffice           Form = "office"
	FormRetail           Form = "retail"
	FormIndustrial       Form = "industrial"
	FormMixedOffice      Form = "mixedoffice"
)

var validForms = map[Form]bool{
	FormResidential:      true,
	FormMixedResidential: true,
	FormOffice:           true,
	FormRetail:           true,
	FormIndustrial:       true,
	FormMixedOffice:      true,
}

// IsValidForm reports whether name is a recognized development form.
func IsValidForm(name string) bool { return validForms[Form(name)] }

// IsResidential reports whether the form's primary use is housing.
func (f Form) IsResidential() bool {
	return f == FormResidential || f == FormMixedResidential
}

// Parcel is a piece of land with its current improvements.
type Parcel struct {
	ID                 int64
	Jurisdiction       string
	ZoneID             string
	Category           string // location category used by scenario surcharges
	AverageSqftPerUnit float64
	ResidentialUnits   int
	NonResidentialSqft float64
	BuildingSqft       float64
	ParcelSqft         float64
	LandValue          float64
	RetailAllowed      bool
	Attributes         map[string]float64
	Tags               map[string]string
}

// Env exposes the parcel to configuration formulas.
func (p *Parcel) Env() formula.Env {
	return formula.Env{
		ParcelID:           p.ID,
		Jurisdiction:       p.Jurisdiction,
		ZoneID:             p.ZoneID,
		Category:           p.Category,
		AverageSqftPerUnit: p.AverageSqftPerUnit,
		ResidentialUnits:   p.ResidentialUnits,
		NonResidentialSqft: p.NonResidentialSqft,
		BuildingSqft:       p.BuildingSqft,
		ParcelSqft:         p.ParcelSqft,
		LandValue:          p.LandValue,
		RetailAllowed:      p.RetailAllowed,
		Attrs:              p.Attributes,
		Tags:               p.Tags,
	}
}

// ParcelSet indexes parcels by id.
type ParcelSet map[int64]*Parcel

// NewParcelSet builds a ParcelSet from a slice.
func NewParcelSet(parcels []*Parcel) ParcelSet {
	ps := make(ParcelSet, len(parcels))
	for _, p := range parcels {
		ps[p.ID] = p
	}
	return ps
}

// CandidateKey identifies a (parcel, form) candidate.
type CandidateKey struct {
	ParcelID int64
	Form     Form
}

func (k CandidateKey) String() string {
	return fmt.Sprintf("%d/%s", k.ParcelID, k.Form)
}

// Adjustment records one policy step's effect on a candidate's profit.
type Adjustment struct {
	Step   string
	Name   string
	Before float64
	After  float64
}

// Candidate is one row of the feasibility table. Pipeline stages treat
// candidates as values: each stage returns new rows and never edits its input.
type Candidate struct {
	ParcelID           int64
	Form               Form
	MaxProfit          float64
	BuildingRevenue    float64
	ResidentialSqft    float64
	NonResidentialSqft float64
	BuildingSqft       float64
	Stories            int

	// Derived by the profit modifier and feasibility filter.
	ResidentialUnits    float64
	UnitsBuildable      int
	SubsidyPerUnit      float64
	SubFund             string
	DeedRestrictedUnits int
	InclusionaryUnits   int
	Surcharge           float64
	Adjustments         []Adjustment
}

// Key returns the candidate's (parcel, form) key.
func (c *Candidate) Key() CandidateKey {
	return CandidateKey{ParcelID: c.ParcelID, Form: c.Form}
}

// TotalSubsidy is the subsidy needed to make the candidate break even.
func (c *Candidate) TotalSubsidy() float64 {
	return c.SubsidyPerUnit * float64(c.UnitsBuildable)
}

// clone returns a copy whose Adjustments slice is independent.
func (c Candidate) clone() Candidate {
	if c.Adjustments != nil {
		adj := make([]Adjustment, len(c.Adjustments))
		copy(adj, c.Adjustments)
		c.Adjustments = adj
	}
	return c
}

// adjust sets a new profit and appends the audit entry.
func (c *Candidate) adjust(step, name string, profit float64) {
	c.Adjustments = append(c.Adjustments, Adjustment{Step: step, Name: name, Before: c.MaxProfit, After: profit})
	c.MaxProfit = profit
}

// Table is a feasibility table: one candidate per (parcel, form).
type Table []Candidate

// Clone returns a deep copy of the table.
func (t Table) Clone() Table {
	out := make(Table, len(t))
	for i, c := range t {
		out[i] = c.clone()
	}
	return out
}

// finite reports whether v is neither NaN nor infinite.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Demand carries the demand totals and spatial signals produced by the
// demographic simulation for the current year.
type Demand struct {
	// Remaining build-out targets; placement draws these down.
	ResidentialUnits   float64
	NonResidentialSqft float64

	NeedByZone        map[string]float64   // demand-to-supply ratio per zone
	UnderservedByZone map[string]float64   // households per retail sqft, or similar
	HouseholdIncomes  map[string][]float64 // household incomes by jurisdiction
}

// AllIncomes returns every household income across jurisdictions.
func (d *Demand) AllIncomes() []float64 {
	var all []float64
	for _, incomes := range d.HouseholdIncomes {
		all = append(all, incomes...)
	}
	return all
}
