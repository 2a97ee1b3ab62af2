package sim

import (
	"math/rand/v2"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regionsim/regionsim/sim/inventory"
	"github.com/regionsim/regionsim/sim/ledger"
	"github.com/regionsim/regionsim/sim/policy"
)

func deposit(ctx *YearContext, account, subFund string, amount int64) {
	ctx.Ledger.Account(account).AddTransaction(decimal.NewFromInt(amount), subFund, ledger.Metadata{Year: ctx.Year})
}

func filtered(t *testing.T, ctx *YearContext, program *policy.SubsidyProgram, table Table) Table {
	t.Helper()
	out, err := FilterSubsidyCandidates(ctx, program, table)
	require.NoError(t, err)
	return out
}

func TestAllocateSubsidies_MillionDollarScenario(t *testing.T) {
	// GIVEN $1,000,000 and candidates needing $900k, $200k and $500k
	program := regionalProgram()
	ctx, placer := newTestContext(t, nil, residentialParcel(1, "a"), residentialParcel(2, "a"), residentialParcel(3, "a"))
	deposit(ctx, "lump_sum", "regional", 1_000_000)
	table := filtered(t, ctx, program, Table{lossCandidate(1, 900_000), lossCandidate(2, 200_000), lossCandidate(3, 500_000)})

	// WHEN allocated
	result, err := AllocateSubsidies(ctx, program, table)
	require.NoError(t, err)

	// THEN exactly the $200k and $500k candidates are admitted, cheapest first
	require.Len(t, result.SubFunds, 1)
	sf := result.SubFunds[0]
	assert.Equal(t, []int64{2, 3}, parcelIDs(sf.Admitted))
	require.Len(t, placer.requests, 1)
	assert.Equal(t, []int64{2, 3}, parcelIDs(placer.requests[0].Candidates))
	assert.True(t, placer.requests[0].Subsidized)
	assert.Equal(t, "lump_sum", placer.requests[0].PolicyName)

	// AND the balance drops by the realized $700k
	assert.True(t, decimal.NewFromInt(700_000).Equal(sf.Spent), "spent %s", sf.Spent)
	assert.True(t, decimal.NewFromInt(300_000).Equal(ctx.Ledger.Account("lump_sum").TotalBySubFund("regional")))
	assert.False(t, result.NoneRealized)
}

func TestAllocateSubsidies_ChargesOnlyRealizedBuildings(t *testing.T) {
	// GIVEN the same budget but placement realizes only the $200k candidate
	program := regionalProgram()
	ctx, placer := newTestContext(t, nil, residentialParcel(1, "a"), residentialParcel(2, "a"), residentialParcel(3, "a"))
	placer.skip = map[CandidateKey]bool{{ParcelID: 3, Form: FormResidential}: true}
	deposit(ctx, "lump_sum", "regional", 1_000_000)
	table := filtered(t, ctx, program, Table{lossCandidate(1, 900_000), lossCandidate(2, 200_000), lossCandidate(3, 500_000)})

	// WHEN allocated
	result, err := AllocateSubsidies(ctx, program, table)
	require.NoError(t, err)

	// THEN two were admitted but only one transaction was posted
	sf := result.SubFunds[0]
	assert.Len(t, sf.Admitted, 2)
	require.Len(t, sf.Buildings, 1)
	assert.True(t, decimal.NewFromInt(800_000).Equal(ctx.Ledger.Account("lump_sum").TotalBySubFund("regional")))

	txs := ctx.Ledger.Account("lump_sum").TransactionsForYear(2025)
	require.Len(t, txs, 2)
	charge := txs[1]
	assert.True(t, decimal.NewFromInt(-200_000).Equal(charge.Amount))
	id, ok := charge.Field("building_id")
	require.True(t, ok)
	assert.Equal(t, "1", id)
	units, _ := charge.Field("residential_units")
	assert.Equal(t, "10", units)
}

func TestAdmitPrefix_GreedyPrefix(t *testing.T) {
	sorted := Table{
		{SubsidyPerUnit: 10, UnitsBuildable: 10},
		{SubsidyPerUnit: 20, UnitsBuildable: 10},
		{SubsidyPerUnit: 30, UnitsBuildable: 10},
		{SubsidyPerUnit: 40, UnitsBuildable: 10},
	}
	// cumulative subsidy: 100, 300, 600, 1000
	tests := []struct {
		balance int64
		want    int
	}{
		{0, 0},
		{99, 0},
		{100, 1},
		{599, 2},
		{600, 3},
		{1000, 4},
		{5000, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, admitPrefix(sorted, decimal.NewFromInt(tt.balance)), "balance %d", tt.balance)
	}
}

func TestAllocateSubsidies_NeverOverdrawn(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for trial := 0; trial < 50; trial++ {
		// GIVEN random losses across two sub-funds and random balances
		program := &policy.SubsidyProgram{Name: "p", SubFund: policy.SubFundRule{Formula: "jurisdiction"}}
		var parcels []*Parcel
		var table Table
		for i := int64(1); i <= 12; i++ {
			j := "east"
			if i%2 == 0 {
				j = "west"
			}
			parcels = append(parcels, residentialParcel(i, j))
			table = append(table, lossCandidate(i, float64(rng.IntN(400_000)+1)))
		}
		ctx, placer := newTestContext(t, nil, parcels...)
		if trial%3 == 0 {
			placer.skip = map[CandidateKey]bool{{ParcelID: int64(rng.IntN(12) + 1), Form: FormResidential}: true}
		}
		start := map[string]int64{"east": rng.Int64N(1_500_000), "west": rng.Int64N(1_500_000)}
		for k, v := range start {
			deposit(ctx, "p", k, v)
		}

		// WHEN allocated
		result, err := AllocateSubsidies(ctx, program, filtered(t, ctx, program, table))
		require.NoError(t, err)

		// THEN no sub-fund spent more than it held at pass start
		for _, sf := range result.SubFunds {
			assert.True(t, sf.Spent.LessThanOrEqual(decimal.NewFromInt(start[sf.SubFund])),
				"trial %d: %s spent %s of %d", trial, sf.SubFund, sf.Spent, start[sf.SubFund])
			assert.False(t, ctx.Ledger.Account("p").TotalBySubFund(sf.SubFund).IsNegative())
		}
	}
}

func TestAllocateSubsidies_BalanceExactlyCoversPrefix_NotOverdrawn(t *testing.T) {
	// GIVEN a 3-unit candidate losing $100,000.01 with no subsidy floor,
	// and a sub-fund holding exactly the admitted subsidy
	program := &policy.SubsidyProgram{
		Name:                "lump_sum",
		SubFund:             policy.SubFundRule{Key: "regional"},
		SubsidyFloorPerUnit: float64Ptr(0),
	}
	ctx, _ := newTestContext(t, nil, residentialParcel(1, "a"))
	c := lossCandidate(1, 100_000.01)
	c.ResidentialSqft = 3000
	table := filtered(t, ctx, program, Table{c})
	require.Len(t, table, 1)
	start := decimal.NewFromFloat(table[0].TotalSubsidy())
	ctx.Ledger.Account("lump_sum").AddTransaction(start, "regional", ledger.Metadata{Year: ctx.Year})

	// WHEN allocated
	result, err := AllocateSubsidies(ctx, program, table)
	require.NoError(t, err)

	// THEN the building is charged no more than it was admitted against
	sf := result.SubFunds[0]
	require.Len(t, sf.Buildings, 1)
	assert.True(t, sf.Spent.LessThanOrEqual(start), "spent %s of %s", sf.Spent, start)
	assert.False(t, ctx.Ledger.Account("lump_sum").TotalBySubFund("regional").IsNegative())
}

func TestAllocateSubsidies_SubFundsInKeyOrder(t *testing.T) {
	// GIVEN candidates in two jurisdictions, listed west first
	program := &policy.SubsidyProgram{Name: "p", SubFund: policy.SubFundRule{Formula: "jurisdiction"}}
	ctx, placer := newTestContext(t, nil, residentialParcel(1, "west"), residentialParcel(2, "east"))
	deposit(ctx, "p", "west", 1_000_000)
	deposit(ctx, "p", "east", 1_000_000)

	result, err := AllocateSubsidies(ctx, program, filtered(t, ctx, program, Table{lossCandidate(1, 1e5), lossCandidate(2, 1e5)}))

	require.NoError(t, err)
	require.Len(t, placer.requests, 2)
	assert.Equal(t, "east", placer.requests[0].SubFund)
	assert.Equal(t, "west", placer.requests[1].SubFund)
	assert.Equal(t, "east", result.SubFunds[0].SubFund)
}

func TestAllocateSubsidies_InsufficientBalance_Skipped(t *testing.T) {
	// GIVEN a funded sub-fund too small for its only candidate and an unfunded one
	program := &policy.SubsidyProgram{Name: "p", SubFund: policy.SubFundRule{Formula: "jurisdiction"}}
	ctx, placer := newTestContext(t, nil, residentialParcel(1, "east"), residentialParcel(2, "west"))
	deposit(ctx, "p", "east", 50_000)

	// WHEN allocated
	result, err := AllocateSubsidies(ctx, program, filtered(t, ctx, program, Table{lossCandidate(1, 1e5), lossCandidate(2, 1e5)}))

	// THEN both sub-funds are skipped without error and nothing is placed
	require.NoError(t, err)
	require.Len(t, result.SubFunds, 2)
	for _, sf := range result.SubFunds {
		assert.True(t, sf.Skipped)
		assert.Equal(t, SkipNoBudget, sf.Reason)
	}
	assert.Empty(t, placer.requests)
	assert.True(t, result.NoneRealized)
	assert.Len(t, ctx.Log.Allocations, 2)
}

func TestAllocateSubsidies_FundedSubFundWithoutCandidates_Reported(t *testing.T) {
	program := regionalProgram()
	ctx, _ := newTestContext(t, nil)
	deposit(ctx, "lump_sum", "regional", 10)

	result, err := AllocateSubsidies(ctx, program, nil)

	require.NoError(t, err)
	require.Len(t, result.SubFunds, 1)
	assert.Equal(t, SkipNoCandidates, result.SubFunds[0].Reason)
	assert.True(t, result.NoneRealized)
}

func TestAllocateSubsidies_DeedRestrictsUnits(t *testing.T) {
	// GIVEN a deed-restricting program and two buildings at $500k revenue per unit
	program := regionalProgram()
	program.DeedRestrict = true
	ctx, _ := newTestContext(t, nil, residentialParcel(1, "a"), residentialParcel(2, "a"))
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)
	ctx.Metrics = metrics
	deposit(ctx, "lump_sum", "regional", 10_000_000)
	a := lossCandidate(1, 1_200_000) // 2.4 units
	b := lossCandidate(2, 1_400_000) // 2.8 units
	table := filtered(t, ctx, program, Table{a, b})

	// WHEN allocated
	result, err := AllocateSubsidies(ctx, program, table)
	require.NoError(t, err)

	// THEN the fractional carry moves from the first building to the second
	buildings := result.Buildings()
	require.Len(t, buildings, 2)
	assert.Equal(t, 2, buildings[0].DeedRestrictedUnits)
	assert.Equal(t, 3, buildings[1].DeedRestrictedUnits) // 2.8 + 0.4
	stored, err := ctx.Inventory.Get(buildings[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.DeedRestrictedUnits)

	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.deedRestricted.WithLabelValues("lump_sum")))
	assert.Equal(t, 2_600_000.0, testutil.ToFloat64(metrics.subsidyDisbursed.WithLabelValues("lump_sum", "regional")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.buildingsRealized.WithLabelValues("subsidized")))
	assert.Len(t, ctx.Log.Developments, 2)
}

// rogue placer realizes a building nobody asked for.
type roguePlacer struct{}

func (roguePlacer) Place(ctx *YearContext, req PlacementRequest) ([]*inventory.Building, error) {
	b, err := ctx.Inventory.Add(&inventory.Building{ParcelID: 999, Form: string(FormResidential), ResidentialUnits: 1})
	return []*inventory.Building{b}, err
}

func TestAllocateSubsidies_PlacerMismatch_InvariantError(t *testing.T) {
	program := regionalProgram()
	ctx, _ := newTestContext(t, nil, residentialParcel(1, "a"))
	ctx.Placer = roguePlacer{}
	deposit(ctx, "lump_sum", "regional", 1_000_000)

	_, err := AllocateSubsidies(ctx, program, filtered(t, ctx, program, Table{lossCandidate(1, 1e5)}))

	var inv *InvariantError
	require.True(t, errors.As(err, &inv))
	assert.True(t, IsFatal(err))
	assert.True(t, ctx.Ledger.Account("lump_sum").TotalBySubFund("regional").Equal(decimal.NewFromInt(1_000_000)))
}

func TestAllocateSubsidies_RedevelopedParcelNotOfferedAgain(t *testing.T) {
	// GIVEN one parcel offered by two programs
	p1 := regionalProgram()
	p2 := &policy.SubsidyProgram{Name: "second", SubFund: policy.SubFundRule{Key: "regional"}}
	ctx, placer := newTestContext(t, nil, residentialParcel(1, "a"))
	deposit(ctx, "lump_sum", "regional", 1_000_000)
	deposit(ctx, "second", "regional", 1_000_000)
	table := Table{lossCandidate(1, 1e5)}
	first := filtered(t, ctx, p1, table)
	second := filtered(t, ctx, p2, table)

	// WHEN the first program builds it
	_, err := AllocateSubsidies(ctx, p1, first)
	require.NoError(t, err)
	result, err := AllocateSubsidies(ctx, p2, second)
	require.NoError(t, err)

	// THEN the second program finds no candidate that still adds units
	assert.Len(t, placer.requests, 1)
	assert.Equal(t, SkipNoCandidates, result.SubFunds[0].Reason)
}
