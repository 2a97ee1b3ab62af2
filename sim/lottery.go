package sim

import (
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/sampleuv"
)

// TargetKind is the physical quantity a lottery target is measured in.
type TargetKind string

const (
	TargetResidentialUnits   TargetKind = "residential_units"
	TargetNonResidentialSqft TargetKind = "non_residential_sqft"
)

// LotteryTarget is a market-rate build-out target for one kind of space.
type LotteryTarget struct {
	Kind   TargetKind
	Amount float64
}

// LotteryResult is the outcome of one lottery draw.
type LotteryResult struct {
	Target      LotteryTarget
	Eligible    int
	Selected    Table     // draw order
	Scores      []float64 // parallel to Selected
	Contributed float64
	Shortfall   float64 // unmet part of the target, zero when met
}

// SelectByLottery fills target from profitable candidates by weighted random
// draw without replacement. Each parcel competes with its most profitable
// eligible form. Scores blend min-max normalized zone need and profit using
// the configured weights, floored at the configured minimum so no candidate
// is starved. Contributions are net of what each parcel already holds.
// An unmet target is logged at Warn and reported as Shortfall.
func SelectByLottery(ctx *YearContext, t Table, target LotteryTarget) (*LotteryResult, error) {
	result := &LotteryResult{Target: target}
	if target.Amount <= 0 {
		return result, nil
	}

	pool, contributions, err := lotteryPool(ctx, t, target.Kind)
	if err != nil {
		return nil, err
	}
	result.Eligible = len(pool)
	if len(pool) == 0 {
		result.Shortfall = target.Amount
		logrus.Warnf("[year %d] lottery %s: no eligible candidates for target %.0f", ctx.Year, target.Kind, target.Amount)
		ctx.Metrics.setLotteryShortfall(string(target.Kind), result.Shortfall)
		return result, nil
	}

	scores := lotteryScores(ctx, pool)
	sampler := sampleuv.NewWeighted(scores, ctx.RNG.ForSubsystem(SubsystemLottery))
	remaining := target.Amount
	for n := 0; n < len(pool) && remaining > 0; n++ {
		i, ok := sampler.Take()
		if !ok {
			break
		}
		result.Selected = append(result.Selected, pool[i].clone())
		result.Scores = append(result.Scores, scores[i])
		result.Contributed += contributions[i]
		remaining -= contributions[i]
	}

	if remaining > 0 {
		result.Shortfall = remaining
		logrus.Warnf("[year %d] lottery %s: target %.0f not met, short by %.0f after %d candidates",
			ctx.Year, target.Kind, target.Amount, remaining, len(result.Selected))
	}
	ctx.Metrics.setLotteryShortfall(string(target.Kind), result.Shortfall)
	logrus.Debugf("[year %d] lottery %s: selected %d of %d, contributed %.0f",
		ctx.Year, target.Kind, len(result.Selected), len(pool), result.Contributed)
	return result, nil
}

// lotteryPool returns each parcel's best profitable candidate of the target
// kind that adds space, in parcel order, with its net contribution.
func lotteryPool(ctx *YearContext, t Table, kind TargetKind) (Table, []float64, error) {
	best := make(map[int64]int) // parcel -> index into pool
	var pool Table
	var contributions []float64
	for _, c := range t {
		if !finite(c.MaxProfit) || c.MaxProfit <= 0 {
			continue
		}
		if c.Form.IsResidential() != (kind == TargetResidentialUnits) {
			continue
		}
		p, err := ctx.parcel(c.ParcelID)
		if err != nil {
			return nil, nil, err
		}
		contribution := netContribution(c, p, kind)
		if contribution <= 0 {
			continue
		}
		if i, ok := best[c.ParcelID]; ok {
			prev := pool[i]
			if c.MaxProfit > prev.MaxProfit || (c.MaxProfit == prev.MaxProfit && c.Form < prev.Form) {
				pool[i], contributions[i] = c, contribution
			}
			continue
		}
		best[c.ParcelID] = len(pool)
		pool = append(pool, c)
		contributions = append(contributions, contribution)
	}
	return pool, contributions, nil
}

func netContribution(c Candidate, p *Parcel, kind TargetKind) float64 {
	if kind == TargetResidentialUnits {
		units := math.Floor(residentialUnits(c.ResidentialSqft, p.AverageSqftPerUnit))
		return units - float64(p.ResidentialUnits)
	}
	return c.NonResidentialSqft - p.NonResidentialSqft
}

func lotteryScores(ctx *YearContext, pool Table) []float64 {
	needWeight, profitWeight, minScore := ctx.Settings.Lottery.Resolved()
	if total := needWeight + profitWeight; total > 0 {
		needWeight, profitWeight = needWeight/total, profitWeight/total
	} else {
		needWeight, profitWeight = 0.5, 0.5
	}

	need := make([]float64, len(pool))
	profit := make([]float64, len(pool))
	for i, c := range pool {
		need[i] = ctx.Demand.NeedByZone[ctx.Parcels[c.ParcelID].ZoneID]
		profit[i] = c.MaxProfit
	}
	normalizeMinMax(need)
	normalizeMinMax(profit)

	scores := make([]float64, len(pool))
	for i := range pool {
		scores[i] = max(minScore, needWeight*need[i]+profitWeight*profit[i])
	}
	return scores
}

// normalizeMinMax rescales xs in place onto [0, 1]. All-equal values map to 1.0.
func normalizeMinMax(xs []float64) {
	if len(xs) == 0 {
		return
	}
	lo, hi := floats.Min(xs), floats.Max(xs)
	for i, x := range xs {
		if hi == lo {
			xs[i] = 1.0
		} else {
			xs[i] = (x - lo) / (hi - lo)
		}
	}
}
