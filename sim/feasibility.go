package sim

import (
	"math"

	"github.com/sirupsen/logrus"

	"github.com/regionsim/regionsim/sim/formula"
	"github.com/regionsim/regionsim/sim/policy"
)

// Feasibility filter steps, used in ConfigError.Step.
const (
	StepReceivingFilter = "receiving-filter"
	StepSubFund         = "sub-fund"
)

// FilterSubsidyCandidates narrows an adjusted table to the candidates the
// program could subsidize: unprofitable, of an allowed form, adding units to
// the parcel, within the subsidy cap and inside the receiving zone. Survivors
// carry UnitsBuildable, SubsidyPerUnit and SubFund. The input is not
// modified. A malformed filter or sub-fund formula returns a *ConfigError;
// an empty result is not an error.
func FilterSubsidyCandidates(ctx *YearContext, program *policy.SubsidyProgram, t Table) (Table, error) {
	filter, err := receivingFilter(ctx, program)
	if err != nil {
		return nil, err
	}
	assign, err := subFundAssigner(ctx, program)
	if err != nil {
		return nil, err
	}

	var out Table
	var dropped struct{ profitable, form, growth, capped, zone int }
	for _, c := range t {
		if !finite(c.MaxProfit) || c.MaxProfit >= 0 {
			dropped.profitable++
			continue
		}
		if !program.AllowsForm(string(c.Form)) {
			dropped.form++
			continue
		}
		p, err := ctx.parcel(c.ParcelID)
		if err != nil {
			return nil, err
		}
		units := int(math.Floor(residentialUnits(c.ResidentialSqft, p.AverageSqftPerUnit)))
		if units <= p.ResidentialUnits {
			dropped.growth++
			continue
		}
		spu := max(program.Floor(), -c.MaxProfit/float64(units))
		if spu*float64(units) > program.Cap() {
			dropped.capped++
			continue
		}
		env := p.Env()
		if filter != nil {
			ok, err := filter.Test(env)
			if err != nil {
				return nil, configError(StepReceivingFilter, program.Name, err)
			}
			if !ok {
				dropped.zone++
				continue
			}
		}
		subFund, err := assign(env)
		if err != nil {
			return nil, err
		}

		next := c.clone()
		next.UnitsBuildable = units
		next.SubsidyPerUnit = spu
		next.SubFund = subFund
		out = append(out, next)
	}

	logrus.Debugf("[year %d] %s: %d subsidy candidates (dropped profitable/na=%d form=%d no-growth=%d over-cap=%d outside-zone=%d)",
		ctx.Year, program.Name, len(out), dropped.profitable, dropped.form, dropped.growth, dropped.capped, dropped.zone)
	if len(out) == 0 {
		logrus.Infof("[year %d] %s: no candidates need subsidy", ctx.Year, program.Name)
	}
	return out, nil
}

// receivingFilter returns nil when the program has no filter for the scenario.
func receivingFilter(ctx *YearContext, program *policy.SubsidyProgram) (*formula.Formula, error) {
	src := program.FilterFor(ctx.Scenario)
	if src == "" {
		return nil, nil
	}
	return ctx.formula(StepReceivingFilter, program.Name, src, formula.Predicate)
}

func subFundAssigner(ctx *YearContext, program *policy.SubsidyProgram) (func(formula.Env) (string, error), error) {
	rule := program.SubFund
	switch {
	case rule.Key != "" && rule.Formula == "":
		return func(formula.Env) (string, error) { return rule.Key, nil }, nil
	case rule.Formula != "" && rule.Key == "":
		f, err := ctx.formula(StepSubFund, program.Name, rule.Formula, formula.Key)
		if err != nil {
			return nil, err
		}
		return func(env formula.Env) (string, error) {
			key, err := f.Key(env)
			if err != nil {
				return "", configError(StepSubFund, program.Name, err)
			}
			return key, nil
		}, nil
	default:
		return nil, configError(StepSubFund, program.Name, errSubFundRule)
	}
}
