package sim

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/regionsim/regionsim/sim/inventory"
)

// MarketSource tags buildings realized by the lottery.
const MarketSource = "market"

// YearResult collects the outputs of one simulated year.
type YearResult struct {
	Year                int
	Funded              decimal.Decimal
	Adjusted            Table
	Allocations         []*AllocationResult // settings order
	Lotteries           []*LotteryResult
	MarketBuildings     []*inventory.Building
	SurchargesCollected decimal.Decimal
	Reconcile           *ReconcileResult
}

// RunYear runs the core pipeline for ctx.Year over the raw feasibility table:
//
//  1. FundPrograms
//  2. ApplyPolicyModifications
//  3. for each subsidy program in settings order: FilterSubsidyCandidates, AllocateSubsidies
//  4. SelectByLottery for the residential then non-residential demand left
//     after subsidized placement, each selection handed to the Placer
//  5. CollectSurcharges on market-rate buildings
//  6. Reconcile
//  7. deed-restriction invariant check
//
// Parcels developed earlier in the year are not offered again. Fatal errors
// (see IsFatal) are returned with the partial result; nothing already
// posted to the ledger is undone.
func RunYear(ctx *YearContext, raw Table) (*YearResult, error) {
	result := &YearResult{Year: ctx.Year}
	result.Funded = FundPrograms(ctx)

	adjusted, err := ApplyPolicyModifications(ctx, raw)
	if err != nil {
		return result, err
	}
	result.Adjusted = adjusted

	developed := make(map[int64]bool)
	for i := range ctx.Settings.SubsidyPrograms {
		program := &ctx.Settings.SubsidyPrograms[i]
		candidates, err := FilterSubsidyCandidates(ctx, program, withoutDeveloped(adjusted, developed))
		if err != nil {
			return result, err
		}
		alloc, err := AllocateSubsidies(ctx, program, candidates)
		if alloc != nil {
			result.Allocations = append(result.Allocations, alloc)
			markDeveloped(developed, alloc.Buildings())
		}
		if err != nil {
			return result, err
		}
	}

	for _, target := range []LotteryTarget{
		{Kind: TargetResidentialUnits, Amount: ctx.Demand.ResidentialUnits},
		{Kind: TargetNonResidentialSqft, Amount: ctx.Demand.NonResidentialSqft},
	} {
		lottery, err := SelectByLottery(ctx, withoutDeveloped(adjusted, developed), target)
		if err != nil {
			return result, err
		}
		result.Lotteries = append(result.Lotteries, lottery)
		if len(lottery.Selected) == 0 {
			continue
		}
		buildings, err := ctx.Placer.Place(ctx, PlacementRequest{
			Year:       ctx.Year,
			Source:     MarketSource,
			Candidates: lottery.Selected.Clone(),
		})
		if err != nil {
			return result, errors.Wrapf(err, "placing %s lottery selection", target.Kind)
		}
		if _, err := matchBuildings(ctx, lottery.Selected, buildings); err != nil {
			return result, err
		}
		recordDevelopments(ctx, buildings)
		markDeveloped(developed, buildings)
		result.MarketBuildings = append(result.MarketBuildings, buildings...)
	}
	result.SurchargesCollected = CollectSurcharges(ctx, result.MarketBuildings)

	reconciled, err := Reconcile(ctx)
	if err != nil {
		return result, err
	}
	result.Reconcile = reconciled

	if err := checkDeedRestrictions(ctx.Inventory); err != nil {
		return result, err
	}
	logrus.Infof("[year %d] %d market-rate buildings, %d parcels developed", ctx.Year, len(result.MarketBuildings), len(developed))
	return result, nil
}

func markDeveloped(developed map[int64]bool, buildings []*inventory.Building) {
	for _, b := range buildings {
		developed[b.ParcelID] = true
	}
}

func withoutDeveloped(t Table, developed map[int64]bool) Table {
	if len(developed) == 0 {
		return t
	}
	out := make(Table, 0, len(t))
	for _, c := range t {
		if !developed[c.ParcelID] {
			out = append(out, c)
		}
	}
	return out
}
