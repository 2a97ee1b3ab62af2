// Package policy holds the read-only policy settings that drive profit
// adjustments and subsidy programs. Settings are loaded from YAML with strict
// field checking and validated before a run starts.
package policy

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/regionsim/regionsim/sim/formula"
)

// Settings is the top-level policy configuration.
// Nil sections mean "no adjustment" for that step.
type Settings struct {
	Scenario                string                   `yaml:"scenario"`
	Fees                    *FeeSettings             `yaml:"fees,omitempty"`
	Inclusionary            *InclusionarySettings    `yaml:"inclusionary,omitempty"`
	Surcharges              []SurchargeSettings      `yaml:"surcharges,omitempty"`
	LandValueTax            *LandValueTaxSettings    `yaml:"land_value_tax,omitempty"`
	JurisdictionAdjustments []JurisdictionAdjustment `yaml:"jurisdiction_adjustments,omitempty"`
	SubsidyPrograms         []SubsidyProgram         `yaml:"subsidy_programs,omitempty"`
	Lottery                 LotterySettings          `yaml:"lottery"`
	Reconcile               ReconcileSettings        `yaml:"reconcile"`
}

// Fee is a per-unit (residential) and per-sqft (non-residential) impact fee.
type Fee struct {
	PerUnit float64 `yaml:"per_unit"`
	PerSqft float64 `yaml:"per_sqft"`
}

// FeeSettings holds impact fees by jurisdiction.
type FeeSettings struct {
	Default       Fee            `yaml:"default"`
	Jurisdictions map[string]Fee `yaml:"jurisdictions,omitempty"`
}

// For returns the fee schedule for a jurisdiction, falling back to Default.
func (f *FeeSettings) For(jurisdiction string) Fee {
	if fee, ok := f.Jurisdictions[jurisdiction]; ok {
		return fee
	}
	return f.Default
}

// InclusionarySettings configures the inclusionary-housing revenue reduction.
type InclusionarySettings struct {
	DefaultPct    float64               `yaml:"default_pct"`
	Jurisdictions map[string]float64    `yaml:"jurisdictions,omitempty"`
	Affordability AffordabilitySettings `yaml:"affordability"`
}

// PctFor returns the set-aside fraction for a jurisdiction.
func (s *InclusionarySettings) PctFor(jurisdiction string) float64 {
	if pct, ok := s.Jurisdictions[jurisdiction]; ok {
		return pct
	}
	return s.DefaultPct
}

// AffordabilitySettings derives what a qualifying household can pay for a unit.
// Nil fields take the Default* values.
type AffordabilitySettings struct {
	IncomePercentile   *float64 `yaml:"income_percentile,omitempty"`
	HousingCostShare   *float64 `yaml:"housing_cost_share,omitempty"`
	MonthlyFee         *float64 `yaml:"monthly_fee,omitempty"`
	AnnualInterestRate *float64 `yaml:"annual_interest_rate,omitempty"`
	TermYears          *int     `yaml:"term_years,omitempty"`
	TaxInterestLoad    *float64 `yaml:"tax_interest_load,omitempty"`
}

// Affordability defaults.
const (
	DefaultIncomePercentile   = 0.5
	DefaultHousingCostShare   = 0.33
	DefaultMonthlyFee         = 400.0
	DefaultAnnualInterestRate = 0.055
	DefaultTermYears          = 30
	DefaultTaxInterestLoad    = 0.2
)

// Resolved returns the affordability parameters with defaults applied.
func (a AffordabilitySettings) Resolved() (percentile, share, fee, rate float64, termYears int, load float64) {
	percentile, share, fee, rate, termYears, load = DefaultIncomePercentile, DefaultHousingCostShare,
		DefaultMonthlyFee, DefaultAnnualInterestRate, DefaultTermYears, DefaultTaxInterestLoad
	if a.IncomePercentile != nil {
		percentile = *a.IncomePercentile
	}
	if a.HousingCostShare != nil {
		share = *a.HousingCostShare
	}
	if a.MonthlyFee != nil {
		fee = *a.MonthlyFee
	}
	if a.AnnualInterestRate != nil {
		rate = *a.AnnualInterestRate
	}
	if a.TermYears != nil {
		termYears = *a.TermYears
	}
	if a.TaxInterestLoad != nil {
		load = *a.TaxInterestLoad
	}
	return
}

// SurchargeSettings is a scenario-gated fee keyed by parcel location category.
type SurchargeSettings struct {
	Name              string             `yaml:"name"`
	EnableInScenarios []string           `yaml:"enable_in_scenarios"`
	PerUnit           map[string]float64 `yaml:"per_unit,omitempty"`
	PerSqft           map[string]float64 `yaml:"per_sqft,omitempty"`
	DepositAccount    string             `yaml:"deposit_account,omitempty"`
}

// LandValueTaxSettings buckets a build-ratio metric into bins, each with a
// percentage profit multiplier. Bins are half-open [bins[i], bins[i+1]).
type LandValueTaxSettings struct {
	EnableInScenarios []string  `yaml:"enable_in_scenarios"`
	Metric            string    `yaml:"metric"`
	Bins              []float64 `yaml:"bins"`
	Pcts              []float64 `yaml:"pcts"`
}

// CheckShape reports bin edges and percentages that do not line up.
func (l *LandValueTaxSettings) CheckShape() error {
	if len(l.Bins) < 2 {
		return fmt.Errorf("land_value_tax: at least two bin edges required, got %d", len(l.Bins))
	}
	if len(l.Pcts) != len(l.Bins)-1 {
		return fmt.Errorf("land_value_tax: %d bins need %d pcts, got %d", len(l.Bins), len(l.Bins)-1, len(l.Pcts))
	}
	return nil
}

// PctFor returns the percentage for a metric value and whether it fell in a
// bin. Bins without a matching percentage never match.
func (l *LandValueTaxSettings) PctFor(metric float64) (float64, bool) {
	for i := 0; i+1 < len(l.Bins) && i < len(l.Pcts); i++ {
		if metric >= l.Bins[i] && metric < l.Bins[i+1] {
			return l.Pcts[i], true
		}
	}
	return 0, false
}

// JurisdictionAdjustment multiplies profit by 1 + value(Formula) * Pct.
type JurisdictionAdjustment struct {
	Name              string   `yaml:"name"`
	Formula           string   `yaml:"formula"`
	Pct               float64  `yaml:"pct"`
	EnableInScenarios []string `yaml:"enable_in_scenarios"`
}

// SubFundRule assigns candidates to sub-funds: either a fixed key or a key formula.
type SubFundRule struct {
	Key     string `yaml:"key,omitempty"`
	Formula string `yaml:"formula,omitempty"`
}

// SubsidyProgram is one budget-constrained subsidy account.
type SubsidyProgram struct {
	Name                string             `yaml:"name"`
	Account             string             `yaml:"account"`
	Forms               []string           `yaml:"forms"`
	ReceivingFilter     string             `yaml:"receiving_filter,omitempty"`
	ScenarioFilters     map[string]string  `yaml:"scenario_filters,omitempty"`
	SubFund             SubFundRule        `yaml:"sub_fund"`
	SubsidyFloorPerUnit *float64           `yaml:"subsidy_floor_per_unit,omitempty"`
	MaxTotalSubsidy     *float64           `yaml:"max_total_subsidy,omitempty"`
	DeedRestrict        bool               `yaml:"deed_restrict"`
	Source              string             `yaml:"source,omitempty"`
	Funding             map[string]float64 `yaml:"funding,omitempty"`
}

// Program defaults.
const (
	DefaultSubsidyFloorPerUnit = 1000.0
	DefaultMaxTotalSubsidy     = 20e6
	DefaultProgramSource       = "subsidized"
)

// Floor returns the per-unit subsidy floor.
func (p *SubsidyProgram) Floor() float64 {
	if p.SubsidyFloorPerUnit != nil {
		return *p.SubsidyFloorPerUnit
	}
	return DefaultSubsidyFloorPerUnit
}

// Cap returns the absolute per-project subsidy cap.
func (p *SubsidyProgram) Cap() float64 {
	if p.MaxTotalSubsidy != nil {
		return *p.MaxTotalSubsidy
	}
	return DefaultMaxTotalSubsidy
}

// SourceTag returns the building source tag for the program.
func (p *SubsidyProgram) SourceTag() string {
	if p.Source != "" {
		return p.Source
	}
	return DefaultProgramSource
}

// AccountName returns the ledger account the program draws on.
func (p *SubsidyProgram) AccountName() string {
	if p.Account != "" {
		return p.Account
	}
	return p.Name
}

// FilterFor returns the receiving-zone filter for a scenario, preferring a
// scenario-specific alternate. Empty means every parcel qualifies.
func (p *SubsidyProgram) FilterFor(scenario string) string {
	if f, ok := p.ScenarioFilters[scenario]; ok {
		return f
	}
	return p.ReceivingFilter
}

// AllowsForm reports whether the program subsidizes a development form.
// An empty list allows every form.
func (p *SubsidyProgram) AllowsForm(form string) bool {
	if len(p.Forms) == 0 {
		return true
	}
	for _, f := range p.Forms {
		if f == form {
			return true
		}
	}
	return false
}

// LotterySettings weights the need and profit signals of the lottery selector.
type LotterySettings struct {
	NeedWeight   *float64 `yaml:"need_weight,omitempty"`
	ProfitWeight *float64 `yaml:"profit_weight,omitempty"`
	MinScore     *float64 `yaml:"min_score,omitempty"`
}

// Lottery defaults.
const (
	DefaultNeedWeight   = 1.0
	DefaultProfitWeight = 1.0
	DefaultMinScore     = 0.01
)

// Resolved returns the lottery parameters with defaults applied.
func (l LotterySettings) Resolved() (needWeight, profitWeight, minScore float64) {
	needWeight, profitWeight, minScore = DefaultNeedWeight, DefaultProfitWeight, DefaultMinScore
	if l.NeedWeight != nil {
		needWeight = *l.NeedWeight
	}
	if l.ProfitWeight != nil {
		profitWeight = *l.ProfitWeight
	}
	if l.MinScore != nil {
		minScore = *l.MinScore
	}
	return
}

// ReconcileSettings configures the yearly reconciliation pass. A zero
// TargetJobSpacesPerUnit disables the job-space top-up; a zero
// RetailMinStories disables ground-floor retail insertion.
type ReconcileSettings struct {
	TargetJobSpacesPerUnit float64 `yaml:"target_job_spaces_per_unit"`
	SqftPerJob             float64 `yaml:"sqft_per_job"`
	RetailMinStories       int     `yaml:"retail_min_stories"`
}

// DefaultSqftPerJob is used when SqftPerJob is unset.
const DefaultSqftPerJob = 250.0

// JobSqft returns the floor area per job space.
func (r ReconcileSettings) JobSqft() float64 {
	if r.SqftPerJob > 0 {
		return r.SqftPerJob
	}
	return DefaultSqftPerJob
}

// Enabled reports whether scenario is in the list.
func Enabled(scenarios []string, scenario string) bool {
	for _, s := range scenarios {
		if s == scenario {
			return true
		}
	}
	return false
}

// Load reads and parses a YAML settings file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading policy settings")
	}
	return Parse(data)
}

// Parse decodes YAML settings.
func Parse(data []byte) (*Settings, error) {
	var s Settings
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, errors.Wrap(err, "parsing policy settings")
	}
	return &s, nil
}

// Validate checks every section and returns all problems found.
// Formulas are compiled so that malformed expressions fail before the run.
func (s *Settings) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}
	checkFormula := func(where, src string, kind formula.Kind) {
		if _, err := formula.Compile(src, kind); err != nil {
			result = multierror.Append(result, errors.Wrap(err, where))
		}
	}

	if s.Fees != nil {
		checkFee := func(where string, f Fee) {
			if !finiteNonNegative(f.PerUnit) || !finiteNonNegative(f.PerSqft) {
				add("%s: fees must be finite and non-negative, got per_unit=%v per_sqft=%v", where, f.PerUnit, f.PerSqft)
			}
		}
		checkFee("fees.default", s.Fees.Default)
		for j, f := range s.Fees.Jurisdictions {
			checkFee("fees.jurisdictions."+j, f)
		}
	}

	if s.Inclusionary != nil {
		checkPct := func(where string, v float64) {
			if math.IsNaN(v) || v < 0 || v > 1 {
				add("%s: inclusionary pct must be in [0,1], got %v", where, v)
			}
		}
		checkPct("inclusionary.default_pct", s.Inclusionary.DefaultPct)
		for j, v := range s.Inclusionary.Jurisdictions {
			checkPct("inclusionary.jurisdictions."+j, v)
		}
		percentile, share, _, rate, term, load := s.Inclusionary.Affordability.Resolved()
		if percentile < 0 || percentile > 1 {
			add("inclusionary.affordability.income_percentile must be in [0,1], got %v", percentile)
		}
		if share <= 0 || share > 1 {
			add("inclusionary.affordability.housing_cost_share must be in (0,1], got %v", share)
		}
		if rate < 0 || term <= 0 {
			add("inclusionary.affordability: interest rate must be >= 0 and term positive, got rate=%v term=%d", rate, term)
		}
		if load <= -1 {
			add("inclusionary.affordability.tax_interest_load must be > -1, got %v", load)
		}
	}

	for i, sc := range s.Surcharges {
		if sc.Name == "" {
			add("surcharges[%d]: name is required", i)
		}
	}

	if l := s.LandValueTax; l != nil {
		checkFormula("land_value_tax.metric", l.Metric, formula.Value)
		if err := l.CheckShape(); err != nil {
			result = multierror.Append(result, err)
		}
		for i := 1; i < len(l.Bins); i++ {
			if !(l.Bins[i] > l.Bins[i-1]) {
				add("land_value_tax: bins must be strictly increasing at index %d", i)
			}
		}
	}

	for i, adj := range s.JurisdictionAdjustments {
		where := fmt.Sprintf("jurisdiction_adjustments[%d]", i)
		if adj.Name == "" {
			add("%s: name is required", where)
		}
		checkFormula(where+".formula", adj.Formula, formula.Value)
	}

	seen := make(map[string]bool)
	for i, p := range s.SubsidyPrograms {
		where := fmt.Sprintf("subsidy_programs[%d]", i)
		if p.Name == "" {
			add("%s: name is required", where)
		}
		if seen[p.Name] {
			add("%s: duplicate program name %q", where, p.Name)
		}
		seen[p.Name] = true
		if p.ReceivingFilter != "" {
			checkFormula(where+".receiving_filter", p.ReceivingFilter, formula.Predicate)
		}
		for sc, f := range p.ScenarioFilters {
			checkFormula(fmt.Sprintf("%s.scenario_filters[%s]", where, sc), f, formula.Predicate)
		}
		switch {
		case p.SubFund.Key != "" && p.SubFund.Formula != "":
			add("%s.sub_fund: set either key or formula, not both", where)
		case p.SubFund.Formula != "":
			checkFormula(where+".sub_fund.formula", p.SubFund.Formula, formula.Key)
		case p.SubFund.Key == "":
			add("%s.sub_fund: key or formula is required", where)
		}
		if floor := p.Floor(); !finiteNonNegative(floor) {
			add("%s: subsidy_floor_per_unit must be finite and non-negative, got %v", where, floor)
		}
		if limit := p.Cap(); !(limit > 0) || math.IsInf(limit, 0) {
			add("%s: max_total_subsidy must be finite and positive, got %v", where, limit)
		}
		for k, v := range p.Funding {
			if !finiteNonNegative(v) {
				add("%s.funding.%s must be finite and non-negative, got %v", where, k, v)
			}
		}
	}

	need, profit, minScore := s.Lottery.Resolved()
	if !finiteNonNegative(need) || !finiteNonNegative(profit) || need+profit <= 0 {
		add("lottery: weights must be non-negative with a positive sum, got need=%v profit=%v", need, profit)
	}
	if !(minScore > 0) || minScore > 1 {
		add("lottery.min_score must be in (0,1], got %v", minScore)
	}

	if !finiteNonNegative(s.Reconcile.TargetJobSpacesPerUnit) || s.Reconcile.SqftPerJob < 0 || s.Reconcile.RetailMinStories < 0 {
		add("reconcile: values must be non-negative")
	}

	return result.ErrorOrNil()
}

func finiteNonNegative(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
