package policy

import (
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/regionsim/regionsim/sim/internal/testutil"
)

func float64Ptr(v float64) *float64 { return &v }

const fullSettings = `
scenario: "4"
fees:
  default: {per_unit: 1000, per_sqft: 1}
  jurisdictions:
    oakland: {per_unit: 5000, per_sqft: 3}
inclusionary:
  default_pct: 0
  jurisdictions: {oakland: 0.10}
  affordability: {income_percentile: 0.5, monthly_fee: 400, term_years: 30}
surcharges:
  - name: vmt_res
    enable_in_scenarios: ["4"]
    per_unit: {M: 1000, H: 5000}
    deposit_account: vmt_fund
land_value_tax:
  enable_in_scenarios: ["4"]
  metric: "building_sqft / parcel_sqft"
  bins: [0, 0.25, 1.0]
  pcts: [-0.1, 0.05]
jurisdiction_adjustments:
  - {name: sb743, formula: "jurisdiction == 'oakland'", pct: -0.05, enable_in_scenarios: ["4"]}
subsidy_programs:
  - name: lump_sum
    forms: [residential]
    receiving_filter: "zone_id != 'rural'"
    scenario_filters: {"4": "attrs.pda > 0"}
    sub_fund: {formula: "jurisdiction"}
    max_total_subsidy: 5000000
    deed_restrict: true
    funding: {oakland: 1000000}
lottery: {need_weight: 2, profit_weight: 1}
reconcile: {target_job_spaces_per_unit: 0.05, sqft_per_job: 250, retail_min_stories: 4}
`

func TestLoad_FullSettings(t *testing.T) {
	s, err := Load(testutil.WriteTempFile(t, "settings.yaml", fullSettings))
	require.NoError(t, err)
	require.NoError(t, s.Validate())

	assert.Equal(t, "4", s.Scenario)
	assert.Equal(t, 5000.0, s.Fees.For("oakland").PerUnit)
	assert.Equal(t, 1000.0, s.Fees.For("berkeley").PerUnit)
	assert.Equal(t, 0.10, s.Inclusionary.PctFor("oakland"))
	assert.Equal(t, 0.0, s.Inclusionary.PctFor("berkeley"))
	require.Len(t, s.Surcharges, 1)
	assert.Equal(t, "vmt_fund", s.Surcharges[0].DepositAccount)

	prog := s.SubsidyPrograms[0]
	assert.Equal(t, "lump_sum", prog.AccountName())
	assert.Equal(t, DefaultSubsidyFloorPerUnit, prog.Floor())
	assert.Equal(t, 5e6, prog.Cap())
	assert.Equal(t, "subsidized", prog.SourceTag())
	assert.Equal(t, "attrs.pda > 0", prog.FilterFor("4"))
	assert.Equal(t, "zone_id != 'rural'", prog.FilterFor("1"))
	assert.True(t, prog.AllowsForm("residential"))
	assert.False(t, prog.AllowsForm("office"))

	need, profit, minScore := s.Lottery.Resolved()
	assert.Equal(t, 2.0, need)
	assert.Equal(t, 1.0, profit)
	assert.Equal(t, DefaultMinScore, minScore)
}

func TestParse_UnknownField_Rejected(t *testing.T) {
	_, err := Parse([]byte("scenario: x\nfess: {}\n"))
	assert.Error(t, err)
}

func TestParse_EmptySettings_AreValid(t *testing.T) {
	s, err := Parse([]byte("scenario: baseline\n"))
	require.NoError(t, err)
	assert.NoError(t, s.Validate())
	assert.Nil(t, s.Fees)
	assert.Nil(t, s.Inclusionary)
	assert.Empty(t, s.SubsidyPrograms)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	// GIVEN settings with several independent defects
	s := &Settings{
		LandValueTax: &LandValueTaxSettings{Metric: "building_sqft /", Bins: []float64{0, 1}, Pcts: []float64{0.1, 0.2}},
		JurisdictionAdjustments: []JurisdictionAdjustment{
			{Name: "bad", Formula: "county == 'x'"},
		},
		SubsidyPrograms: []SubsidyProgram{
			{Name: "p", ReceivingFilter: "zone_id +", SubFund: SubFundRule{}},
			{Name: "p", SubFund: SubFundRule{Key: "k"}, MaxTotalSubsidy: float64Ptr(0)},
		},
		Lottery: LotterySettings{MinScore: float64Ptr(0)},
	}

	// WHEN validated
	err := s.Validate()

	// THEN all of them are reported together
	require.Error(t, err)
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))
	assert.GreaterOrEqual(t, len(merr.Errors), 7)
}

func TestValidate_SubFundRuleNeedsExactlyOne(t *testing.T) {
	both := &Settings{SubsidyPrograms: []SubsidyProgram{{Name: "p", SubFund: SubFundRule{Key: "a", Formula: "jurisdiction"}}}}
	assert.Error(t, both.Validate())

	key := &Settings{SubsidyPrograms: []SubsidyProgram{{Name: "p", SubFund: SubFundRule{Key: "regional"}}}}
	assert.NoError(t, key.Validate())
}

func TestLandValueTax_PctFor_HalfOpenBins(t *testing.T) {
	l := &LandValueTaxSettings{Bins: []float64{0, 0.25, 1.0}, Pcts: []float64{-0.1, 0.05}}
	tests := []struct {
		metric float64
		pct    float64
		inBin  bool
	}{
		{0, -0.1, true},
		{0.2, -0.1, true},
		{0.25, 0.05, true},
		{0.99, 0.05, true},
		{1.0, 0, false},
		{-0.5, 0, false},
	}
	for _, tt := range tests {
		pct, ok := l.PctFor(tt.metric)
		assert.Equal(t, tt.inBin, ok, "metric %v", tt.metric)
		assert.Equal(t, tt.pct, pct, "metric %v", tt.metric)
	}
}

func TestAffordability_Resolved_Defaults(t *testing.T) {
	percentile, share, fee, rate, term, load := AffordabilitySettings{}.Resolved()
	assert.Equal(t, DefaultIncomePercentile, percentile)
	assert.Equal(t, DefaultHousingCostShare, share)
	assert.Equal(t, DefaultMonthlyFee, fee)
	assert.Equal(t, DefaultAnnualInterestRate, rate)
	assert.Equal(t, DefaultTermYears, term)
	assert.Equal(t, DefaultTaxInterestLoad, load)
}

func TestEnabled(t *testing.T) {
	assert.True(t, Enabled([]string{"1", "4"}, "4"))
	assert.False(t, Enabled(nil, "4"))
}

func TestReconcile_JobSqftDefault(t *testing.T) {
	assert.Equal(t, DefaultSqftPerJob, ReconcileSettings{}.JobSqft())
	assert.Equal(t, 300.0, ReconcileSettings{SqftPerJob: 300}.JobSqft())
}

func TestLandValueTax_ShortPcts_NeverIndexedPastEnd(t *testing.T) {
	l := &LandValueTaxSettings{Bins: []float64{0, 1, 2, 3}, Pcts: []float64{0.1}}
	assert.Error(t, l.CheckShape())

	pct, ok := l.PctFor(0.5)
	assert.True(t, ok)
	assert.Equal(t, 0.1, pct)
	assert.NotPanics(t, func() {
		_, ok = l.PctFor(2.5)
	})
	assert.False(t, ok)
}
