package sim

import (
	"math"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/stat"

	"github.com/regionsim/regionsim/sim/policy"
)

// affordableValue returns the price a household at the configured income
// percentile can pay for one unit: the present value of its monthly housing
// budget over the mortgage term, discounted for taxes and interest load.
// incomes need not be sorted. ok is false when there are no incomes.
func affordableValue(incomes []float64, a policy.AffordabilitySettings) (value float64, ok bool) {
	if len(incomes) == 0 {
		return 0, false
	}
	percentile, share, fee, rate, termYears, load := a.Resolved()

	sorted := slices.Clone(incomes)
	slices.Sort(sorted)
	income := stat.Quantile(percentile, stat.Empirical, sorted, nil)

	payment := income/12*share - fee
	if payment <= 0 {
		return 0, true
	}
	return presentValue(payment, rate/12, termYears*12) / (1 + load), true
}

// presentValue of n equal payments discounted at the per-period rate r.
func presentValue(payment, r float64, n int) float64 {
	if n <= 0 {
		return 0
	}
	if r == 0 {
		return payment * float64(n)
	}
	return payment * (1 - math.Pow(1+r, -float64(n))) / r
}

// affordableUnits is the whole number of set-aside units for pct of units.
func affordableUnits(units, pct float64) int {
	if units <= 0 || pct <= 0 {
		return 0
	}
	// tolerate float noise such as 0.29*100 = 28.999999999999996
	return int(math.Floor(units*pct + 1e-9))
}
