// Package placement provides a demand-capped sim.Placer. It realizes offered
// candidates in order while the year's remaining demand for their kind of
// space lasts, inserts the buildings into the inventory and redevelops the
// parcel in place.
package placement

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/regionsim/regionsim/sim"
	"github.com/regionsim/regionsim/sim/inventory"
)

// DemandCapped places candidates until demand is exhausted.
type DemandCapped struct {
	// FailureRate is the probability that an offered candidate is not built
	// even though demand remains. Drawn from the placement RNG stream.
	FailureRate float64
}

// New returns a DemandCapped placer that fails no candidate.
func New() *DemandCapped { return &DemandCapped{} }

var _ sim.Placer = (*DemandCapped)(nil)

// Place implements sim.Placer.
func (d *DemandCapped) Place(ctx *sim.YearContext, req sim.PlacementRequest) ([]*inventory.Building, error) {
	if d.FailureRate < 0 || d.FailureRate >= 1 {
		return nil, errors.Errorf("placement failure rate %v outside [0, 1)", d.FailureRate)
	}
	rng := ctx.RNG.ForSubsystem(sim.SubsystemPlacement)

	var out []*inventory.Building
	for _, c := range req.Candidates {
		p, ok := ctx.Parcels[c.ParcelID]
		if !ok {
			return out, errors.Errorf("placement: unknown parcel %d", c.ParcelID)
		}
		units := unitsFor(c, p)
		residential := c.Form.IsResidential()
		var net float64
		if residential {
			net = float64(units - p.ResidentialUnits)
			if ctx.Demand.ResidentialUnits <= 0 || net <= 0 {
				continue
			}
		} else {
			net = c.NonResidentialSqft - p.NonResidentialSqft
			if ctx.Demand.NonResidentialSqft <= 0 || net <= 0 {
				continue
			}
		}
		if d.FailureRate > 0 && rng.Float64() < d.FailureRate {
			logrus.Debugf("[year %d] placement: %s not built", req.Year, c.Key())
			continue
		}

		b, err := ctx.Inventory.Add(&inventory.Building{
			ParcelID:            c.ParcelID,
			Form:                string(c.Form),
			ResidentialUnits:    units,
			ResidentialSqft:     c.ResidentialSqft,
			NonResidentialSqft:  c.NonResidentialSqft,
			BuildingSqft:        c.BuildingSqft,
			Stories:             c.Stories,
			DeedRestrictedUnits: min(c.InclusionaryUnits, units),
			InclusionaryUnits:   min(c.InclusionaryUnits, units),
			Source:              req.Source,
			PolicyName:          req.PolicyName,
			Subsidized:          req.Subsidized,
			YearBuilt:           req.Year,
			RealizedProfit:      c.MaxProfit,
			BuildingRevenue:     c.BuildingRevenue,
			Surcharge:           c.Surcharge,
		})
		if err != nil {
			return out, err
		}
		out = append(out, b)

		if residential {
			ctx.Demand.ResidentialUnits -= net
		} else {
			ctx.Demand.NonResidentialSqft -= net
		}
		p.ResidentialUnits = units
		p.NonResidentialSqft = c.NonResidentialSqft
		p.BuildingSqft = c.BuildingSqft
	}
	return out, nil
}

// unitsFor prefers the feasibility filter's count and otherwise derives one
// from the parcel's average unit size.
func unitsFor(c sim.Candidate, p *sim.Parcel) int {
	if c.UnitsBuildable > 0 {
		return c.UnitsBuildable
	}
	if p.AverageSqftPerUnit <= 0 {
		return 0
	}
	return int(math.Floor(c.ResidentialSqft / p.AverageSqftPerUnit))
}
