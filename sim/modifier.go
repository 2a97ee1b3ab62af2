package sim

import (
	"github.com/sirupsen/logrus"

	"github.com/regionsim/regionsim/sim/formula"
	"github.com/regionsim/regionsim/sim/policy"
)

// Policy adjustment steps, in application order.
const (
	StepFees                   = "fees"
	StepInclusionary           = "inclusionary"
	StepSurcharge              = "surcharge"
	StepLandValueTax           = "land-value-tax"
	StepJurisdictionAdjustment = "jurisdiction-formula"
)

// modifierSteps is the fixed application order. Each step subtracts from or
// scales the running MaxProfit left by the previous one.
var modifierSteps = []struct {
	name  string
	apply func(m *modifier, c *Candidate, p *Parcel) error
}{
	{StepFees, (*modifier).applyFees},
	{StepInclusionary, (*modifier).applyInclusionary},
	{StepSurcharge, (*modifier).applySurcharges},
	{StepLandValueTax, (*modifier).applyLandValueTax},
	{StepJurisdictionAdjustment, (*modifier).applyJurisdictionFormulas},
}

// ApplyPolicyModifications returns a copy of t with every configured policy
// adjustment applied to each candidate's MaxProfit. The input table is never
// modified. Candidates also receive their derived ResidentialUnits and any
// inclusionary set-aside. A malformed formula aborts with a *ConfigError.
func ApplyPolicyModifications(ctx *YearContext, t Table) (Table, error) {
	m := &modifier{ctx: ctx, settings: ctx.Settings, affordable: make(map[string]affordableEntry)}
	out := t.Clone()
	for i := range out {
		c := &out[i]
		p, err := ctx.parcel(c.ParcelID)
		if err != nil {
			return nil, err
		}
		c.ResidentialUnits = residentialUnits(c.ResidentialSqft, p.AverageSqftPerUnit)
		for _, step := range modifierSteps {
			if err := step.apply(m, c, p); err != nil {
				return nil, err
			}
		}
	}
	logrus.Debugf("[year %d] policy modifications applied to %d candidates", ctx.Year, len(out))
	return out, nil
}

func residentialUnits(sqft, avgSqftPerUnit float64) float64 {
	if avgSqftPerUnit <= 0 || sqft <= 0 {
		return 0
	}
	return sqft / avgSqftPerUnit
}

type affordableEntry struct {
	value float64
	ok    bool
}

type modifier struct {
	ctx        *YearContext
	settings   *policy.Settings
	affordable map[string]affordableEntry // by jurisdiction
}

func (m *modifier) applyFees(c *Candidate, p *Parcel) error {
	if m.settings.Fees == nil {
		return nil
	}
	fee := m.settings.Fees.For(p.Jurisdiction)
	amount := c.ResidentialUnits*fee.PerUnit + c.NonResidentialSqft*fee.PerSqft
	if amount != 0 {
		c.adjust(StepFees, p.Jurisdiction, c.MaxProfit-amount)
	}
	return nil
}

func (m *modifier) applyInclusionary(c *Candidate, p *Parcel) error {
	incl := m.settings.Inclusionary
	if incl == nil || !c.Form.IsResidential() || c.ResidentialUnits <= 0 {
		return nil
	}
	units := affordableUnits(c.ResidentialUnits, incl.PctFor(p.Jurisdiction))
	if units == 0 {
		return nil
	}
	value, ok := m.affordableValue(p.Jurisdiction)
	if !ok {
		return nil
	}
	revenuePerUnit := c.BuildingRevenue / c.ResidentialUnits
	reduction := max(0, revenuePerUnit-value) * float64(units)
	c.adjust(StepInclusionary, p.Jurisdiction, c.MaxProfit-reduction)
	c.InclusionaryUnits = units
	c.DeedRestrictedUnits = units
	return nil
}

func (m *modifier) affordableValue(jurisdiction string) (float64, bool) {
	if e, ok := m.affordable[jurisdiction]; ok {
		return e.value, e.ok
	}
	incomes := m.ctx.Demand.HouseholdIncomes[jurisdiction]
	if len(incomes) == 0 {
		incomes = m.ctx.Demand.AllIncomes()
	}
	value, ok := affordableValue(incomes, m.settings.Inclusionary.Affordability)
	if !ok {
		logrus.Warnf("[year %d] no household incomes for %q; inclusionary reduction skipped", m.ctx.Year, jurisdiction)
	}
	m.affordable[jurisdiction] = affordableEntry{value: value, ok: ok}
	return value, ok
}

func (m *modifier) applySurcharges(c *Candidate, p *Parcel) error {
	for _, s := range m.settings.Surcharges {
		if !policy.Enabled(s.EnableInScenarios, m.ctx.Scenario) {
			continue
		}
		amount := c.ResidentialUnits*s.PerUnit[p.Category] + c.NonResidentialSqft*s.PerSqft[p.Category]
		if amount == 0 {
			continue
		}
		c.adjust(StepSurcharge, s.Name, c.MaxProfit-amount)
		c.Surcharge += amount
	}
	return nil
}

func (m *modifier) applyLandValueTax(c *Candidate, p *Parcel) error {
	lvt := m.settings.LandValueTax
	if lvt == nil || !policy.Enabled(lvt.EnableInScenarios, m.ctx.Scenario) {
		return nil
	}
	if err := lvt.CheckShape(); err != nil {
		return configError(StepLandValueTax, "bins", err)
	}
	f, err := m.ctx.formula(StepLandValueTax, "metric", lvt.Metric, formula.Value)
	if err != nil {
		return err
	}
	metric, err := f.Value(p.Env())
	if err != nil {
		return configError(StepLandValueTax, "metric", err)
	}
	pct, ok := lvt.PctFor(metric)
	if !ok || pct == 0 {
		return nil
	}
	c.adjust(StepLandValueTax, "", c.MaxProfit*(1+pct))
	return nil
}

func (m *modifier) applyJurisdictionFormulas(c *Candidate, p *Parcel) error {
	for _, adj := range m.settings.JurisdictionAdjustments {
		if !policy.Enabled(adj.EnableInScenarios, m.ctx.Scenario) {
			continue
		}
		f, err := m.ctx.formula(StepJurisdictionAdjustment, adj.Name, adj.Formula, formula.Value)
		if err != nil {
			return err
		}
		v, err := f.Value(p.Env())
		if err != nil {
			return configError(StepJurisdictionAdjustment, adj.Name, err)
		}
		if v == 0 || adj.Pct == 0 {
			continue
		}
		c.adjust(StepJurisdictionAdjustment, adj.Name, c.MaxProfit*(1+v*adj.Pct))
	}
	return nil
}
