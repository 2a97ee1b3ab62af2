package sim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/regionsim/regionsim/sim/inventory"
	"github.com/regionsim/regionsim/sim/ledger"
	"github.com/regionsim/regionsim/sim/policy"
)

func float64Ptr(v float64) *float64 { return &v }

// fakePlacer realizes every offered candidate except those in skip, and
// records each request it receives.
type fakePlacer struct {
	skip     map[CandidateKey]bool
	requests []PlacementRequest
}

func (f *fakePlacer) Place(ctx *YearContext, req PlacementRequest) ([]*inventory.Building, error) {
	f.requests = append(f.requests, req)
	var out []*inventory.Building
	for _, c := range req.Candidates {
		if f.skip[c.Key()] {
			continue
		}
		units := c.UnitsBuildable
		if units == 0 {
			units = int(c.ResidentialUnits)
		}
		b, err := ctx.Inventory.Add(&inventory.Building{
			ParcelID:            c.ParcelID,
			Form:                string(c.Form),
			ResidentialUnits:    units,
			ResidentialSqft:     c.ResidentialSqft,
			NonResidentialSqft:  c.NonResidentialSqft,
			BuildingSqft:        c.BuildingSqft,
			Stories:             c.Stories,
			DeedRestrictedUnits: c.InclusionaryUnits,
			InclusionaryUnits:   c.InclusionaryUnits,
			Source:              req.Source,
			PolicyName:          req.PolicyName,
			Subsidized:          req.Subsidized,
			YearBuilt:           req.Year,
			RealizedProfit:      c.MaxProfit,
			BuildingRevenue:     c.BuildingRevenue,
		})
		if err != nil {
			return out, err
		}
		out = append(out, b)
		if p := ctx.Parcels[c.ParcelID]; p != nil {
			p.ResidentialUnits = units
		}
	}
	return out, nil
}

// newTestContext builds a 2025 context with seed 42 and a fakePlacer.
func newTestContext(t *testing.T, settings *policy.Settings, parcels ...*Parcel) (*YearContext, *fakePlacer) {
	t.Helper()
	if settings == nil {
		settings = &policy.Settings{}
	}
	inv, err := inventory.New()
	require.NoError(t, err)
	placer := &fakePlacer{}
	ctx, err := NewYearContext(2025, settings, NewParcelSet(parcels), inv, ledger.New(), placer,
		&Demand{}, NewPartitionedRNG(NewSimulationKey(42)))
	require.NoError(t, err)
	return ctx, placer
}

// residentialParcel has 1000 sqft units and no current development.
func residentialParcel(id int64, jurisdiction string) *Parcel {
	return &Parcel{ID: id, Jurisdiction: jurisdiction, ZoneID: "z1", AverageSqftPerUnit: 1000}
}

// lossCandidate is a 10-unit residential candidate losing loss dollars.
func lossCandidate(parcelID int64, loss float64) Candidate {
	return Candidate{
		ParcelID:        parcelID,
		Form:            FormResidential,
		MaxProfit:       -loss,
		BuildingRevenue: 5_000_000,
		ResidentialSqft: 10_000,
		BuildingSqft:    12_000,
		Stories:         4,
	}
}
