package sim

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/regionsim/regionsim/sim/inventory"
)

// ReconcileResult reports the corrections made by one reconciliation pass.
type ReconcileResult struct {
	JobSqftAdded    float64
	ToppedUp        []uint64 // building ids given job space
	RetailSqftAdded float64
	RetailInserted  []uint64 // building ids given ground-floor retail
	JobSpaceRatio   float64  // job spaces per residential unit after the pass
}

// Reconcile makes the year's deterministic corrections to the building mix.
// It first tops up job space inside residential buildings toward the target
// ratio by converting unused area in a size-weighted random sample of
// buildings, then inserts ground-floor retail into this year's tall
// buildings on underserved parcels that allow retail. Running it twice with
// no new buildings in between changes nothing the second time.
func Reconcile(ctx *YearContext) (*ReconcileResult, error) {
	result := &ReconcileResult{}
	buildings, err := ctx.Inventory.All()
	if err != nil {
		return nil, err
	}
	if err := topUpJobSpace(ctx, buildings, result); err != nil {
		return nil, err
	}
	if err := insertRetail(ctx, buildings, result); err != nil {
		return nil, err
	}
	if len(result.ToppedUp)+len(result.RetailInserted) > 0 {
		logrus.Infof("[year %d] reconcile: +%.0f job sqft in %d buildings, +%.0f retail sqft in %d buildings (ratio %.3f)",
			ctx.Year, result.JobSqftAdded, len(result.ToppedUp), result.RetailSqftAdded, len(result.RetailInserted), result.JobSpaceRatio)
	}
	return result, nil
}

func jobSpaceRatio(buildings []*inventory.Building, sqftPerJob float64) (units, jobs float64) {
	for _, b := range buildings {
		if b.ResidentialUnits > 0 {
			units += float64(b.ResidentialUnits)
			jobs += b.NonResidentialSqft / sqftPerJob
		}
	}
	return units, jobs
}

// jobSqftTolerance absorbs float residue when the deficit is recomputed
// after a top-up; smaller deficits count as met.
const jobSqftTolerance = 1e-3

func topUpJobSpace(ctx *YearContext, buildings []*inventory.Building, result *ReconcileResult) error {
	cfg := ctx.Settings.Reconcile
	sqftPerJob := cfg.JobSqft()
	units, jobs := jobSpaceRatio(buildings, sqftPerJob)
	defer func() {
		units, jobs := jobSpaceRatio(buildings, sqftPerJob)
		if units > 0 {
			result.JobSpaceRatio = jobs / units
		}
	}()
	if cfg.TargetJobSpacesPerUnit <= 0 || units == 0 {
		return nil
	}
	deficit := (cfg.TargetJobSpacesPerUnit*units - jobs) * sqftPerJob
	if deficit <= jobSqftTolerance {
		return nil
	}

	var pool []*inventory.Building
	var weights []float64
	for _, b := range buildings {
		if b.ResidentialUnits > 0 && b.UnusedSqft() > 0 {
			pool = append(pool, b)
			weights = append(weights, b.BuildingSqft)
		}
	}
	if len(pool) == 0 {
		logrus.Warnf("[year %d] reconcile: job-space target short by %.0f sqft; no unused area left", ctx.Year, deficit)
		return nil
	}
	sampler := sampleuv.NewWeighted(weights, ctx.RNG.ForSubsystem(SubsystemReconcile))
	for n := 0; n < len(pool) && deficit > jobSqftTolerance; n++ {
		i, ok := sampler.Take()
		if !ok {
			break
		}
		b := pool[i]
		converted := min(b.UnusedSqft(), deficit)
		b.NonResidentialSqft += converted
		if err := ctx.Inventory.Update(b); err != nil {
			return err
		}
		deficit -= converted
		result.JobSqftAdded += converted
		result.ToppedUp = append(result.ToppedUp, b.ID)
	}
	if deficit > jobSqftTolerance {
		logrus.Warnf("[year %d] reconcile: job-space target short by %.0f sqft; no unused area left", ctx.Year, deficit)
	}
	return nil
}

func insertRetail(ctx *YearContext, buildings []*inventory.Building, result *ReconcileResult) error {
	minStories := ctx.Settings.Reconcile.RetailMinStories
	underserved := ctx.Demand.UnderservedByZone
	if minStories <= 0 || len(underserved) == 0 {
		return nil
	}
	values := maps.Values(underserved)
	slices.Sort(values)
	median := stat.Quantile(0.5, stat.Empirical, values, nil)

	for _, b := range buildings {
		if b.YearBuilt != ctx.Year || b.Stories <= minStories || b.GroundFloorRetail {
			continue
		}
		p, ok := ctx.Parcels[b.ParcelID]
		if !ok || !p.RetailAllowed || underserved[p.ZoneID] <= median {
			continue
		}
		story := b.BuildingSqft / float64(b.Stories)
		fromUnused := min(b.UnusedSqft(), story)
		fromResidential := min(b.ResidentialSqft, story-fromUnused)
		b.ResidentialSqft -= fromResidential
		b.NonResidentialSqft += fromUnused + fromResidential
		b.GroundFloorRetail = true
		if err := ctx.Inventory.Update(b); err != nil {
			return err
		}
		result.RetailSqftAdded += fromUnused + fromResidential
		result.RetailInserted = append(result.RetailInserted, b.ID)
	}
	return nil
}
