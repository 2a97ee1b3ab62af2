package sim

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/regionsim/regionsim/sim/devlog"
	"github.com/regionsim/regionsim/sim/inventory"
	"github.com/regionsim/regionsim/sim/ledger"
	"github.com/regionsim/regionsim/sim/policy"
)

// Skip reasons reported on SubFundResult.
const (
	SkipNoCandidates = "no candidates"
	SkipNoBudget     = "balance below cheapest candidate"
	SkipNoneRealized = "placement realized nothing"
)

// SubFundResult is the outcome of one sub-fund's allocation pass.
type SubFundResult struct {
	SubFund      string
	StartBalance decimal.Decimal
	Candidates   int
	Admitted     Table
	Buildings    []*inventory.Building // realized, in placer output order
	Spent        decimal.Decimal       // positive dollars disbursed
	Skipped      bool
	Reason       string
}

// AllocationResult is the outcome of one program's allocation.
type AllocationResult struct {
	Program      string
	Account      string
	SubFunds     []SubFundResult // processing order
	NoneRealized bool
}

// Buildings returns every realized building across sub-funds.
func (r *AllocationResult) Buildings() []*inventory.Building {
	var out []*inventory.Building
	for _, sf := range r.SubFunds {
		out = append(out, sf.Buildings...)
	}
	return out
}

// Spent returns total dollars disbursed across sub-funds.
func (r *AllocationResult) Spent() decimal.Decimal {
	total := decimal.Zero
	for _, sf := range r.SubFunds {
		total = total.Add(sf.Spent)
	}
	return total
}

// AllocateSubsidies spends the program's account on the filtered candidates.
//
// Sub-funds are processed one at a time to completion in lexicographic key
// order. Within a sub-fund, candidates are sorted by subsidy per unit and the
// longest prefix whose cumulative subsidy fits the balance at pass start is
// handed to the Placer. Only buildings actually realized are charged, one
// negative transaction each. Transactions already posted stay posted if a
// later sub-fund fails; the partial result is returned alongside the error.
func AllocateSubsidies(ctx *YearContext, program *policy.SubsidyProgram, t Table) (*AllocationResult, error) {
	account := ctx.Ledger.Account(program.AccountName())
	result := &AllocationResult{Program: program.Name, Account: account.Name()}

	bySubFund := make(map[string]Table)
	for _, c := range t {
		bySubFund[c.SubFund] = append(bySubFund[c.SubFund], c)
	}
	keys := maps.Keys(bySubFund)
	for _, k := range account.SubFundKeys() {
		if _, ok := bySubFund[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	var tracker DeedRestrictionTracker
	realized := 0
	for _, key := range keys {
		sf, err := allocateSubFund(ctx, program, account, &tracker, key, bySubFund[key])
		result.SubFunds = append(result.SubFunds, sf)
		if err != nil {
			return result, err
		}
		realized += len(sf.Buildings)
	}

	if realized == 0 {
		result.NoneRealized = true
		logrus.Warnf("[year %d] %s: no subsidized buildings", ctx.Year, program.Name)
	} else {
		logrus.Infof("[year %d] %s: %d subsidized buildings, $%s disbursed",
			ctx.Year, program.Name, realized, ledger.FormatAmount(result.Spent()))
	}
	return result, checkDeedRestrictions(ctx.Inventory)
}

func allocateSubFund(ctx *YearContext, program *policy.SubsidyProgram, account *ledger.Account,
	tracker *DeedRestrictionTracker, key string, candidates Table) (SubFundResult, error) {
	balance := account.TotalBySubFund(key)
	sf := SubFundResult{SubFund: key, StartBalance: balance, Spent: decimal.Zero}
	defer recordAllocation(ctx, account.Name(), &sf)

	candidates = stillGrowing(ctx, candidates)
	sf.Candidates = len(candidates)
	if len(candidates) == 0 {
		sf.Skipped, sf.Reason = true, SkipNoCandidates
		return sf, nil
	}

	sorted := sortBySubsidy(candidates)
	n := admitPrefix(sorted, balance)
	if n == 0 {
		sf.Skipped, sf.Reason = true, SkipNoBudget
		logrus.Warnf("[year %d] %s/%s: balance $%s covers no candidate (cheapest needs $%.2f)",
			ctx.Year, program.Name, key, ledger.FormatAmount(balance), sorted[0].TotalSubsidy())
		return sf, nil
	}
	sf.Admitted = sorted[:n]

	buildings, err := ctx.Placer.Place(ctx, PlacementRequest{
		Year:       ctx.Year,
		Source:     program.SourceTag(),
		PolicyName: program.Name,
		SubFund:    key,
		Subsidized: true,
		Candidates: sf.Admitted.Clone(),
	})
	if err != nil {
		return sf, err
	}
	matched, err := matchBuildings(ctx, sf.Admitted, buildings)
	if err != nil {
		return sf, err
	}
	if len(buildings) == 0 {
		sf.Skipped, sf.Reason = true, SkipNoneRealized
		logrus.Warnf("[year %d] %s/%s: placement realized none of %d admitted candidates", ctx.Year, program.Name, key, n)
		return sf, nil
	}

	tracker.Reset()
	for i, b := range buildings {
		loss := max(0, -b.RealizedProfit)
		if loss > matched[i].TotalSubsidy()+1e-6 {
			return sf, invariantError(b.ID, "realized loss %.2f exceeds admitted subsidy %.2f", loss, matched[i].TotalSubsidy())
		}
		// Charge at most the admitted amount; the admitted prefix fits the balance.
		amount := decimal.Min(decimal.NewFromFloat(loss), admittedSubsidy(matched[i]))
		if amount.IsPositive() {
			account.AddTransaction(amount.Neg(), key, ledger.Metadata{
				Year:        ctx.Year,
				Description: fmt.Sprintf("%s subsidy for building %d", program.Name, b.ID),
				Fields: map[string]string{
					"residential_units":    ledger.IntField(b.ResidentialUnits),
					"non_residential_sqft": fmt.Sprintf("%.0f", b.NonResidentialSqft),
					"building_id":          fmt.Sprint(b.ID),
					"parcel_id":            fmt.Sprint(b.ParcelID),
				},
			})
			sf.Spent = sf.Spent.Add(amount)
			ctx.Metrics.recordDisbursement(account.Name(), key, amount.InexactFloat64())
		}
		if program.DeedRestrict {
			tracker.Apply(b)
			if err := ctx.Inventory.Update(b); err != nil {
				return sf, err
			}
			ctx.Metrics.recordDeedRestricted(account.Name(), max(0, b.DeedRestrictedUnits-b.InclusionaryUnits))
		}
	}
	sf.Buildings = buildings
	recordDevelopments(ctx, buildings)
	logrus.Debugf("[year %d] %s/%s: admitted %d of %d, realized %d, spent $%s of $%s",
		ctx.Year, program.Name, key, n, len(sorted), len(buildings), ledger.FormatAmount(sf.Spent), ledger.FormatAmount(balance))
	return sf, nil
}

// stillGrowing re-applies the monotonic-growth rule against current parcel
// state, since an earlier pass may already have redeveloped a parcel.
func stillGrowing(ctx *YearContext, t Table) Table {
	var out Table
	for _, c := range t {
		p, ok := ctx.Parcels[c.ParcelID]
		if ok && c.UnitsBuildable > p.ResidentialUnits {
			out = append(out, c)
		}
	}
	return out
}

// sortBySubsidy returns a copy sorted ascending by subsidy per unit, ties
// broken by parcel id then form.
func sortBySubsidy(t Table) Table {
	out := t.Clone()
	slices.SortStableFunc(out, func(a, b Candidate) bool {
		if a.SubsidyPerUnit != b.SubsidyPerUnit {
			return a.SubsidyPerUnit < b.SubsidyPerUnit
		}
		if a.ParcelID != b.ParcelID {
			return a.ParcelID < b.ParcelID
		}
		return a.Form < b.Form
	})
	return out
}

// admitPrefix returns the length of the longest prefix of sorted whose
// cumulative total subsidy stays within balance.
func admitPrefix(sorted Table, balance decimal.Decimal) int {
	cumulative := decimal.Zero
	for i, c := range sorted {
		cumulative = cumulative.Add(admittedSubsidy(c))
		if cumulative.GreaterThan(balance) {
			return i
		}
	}
	return len(sorted)
}

// admittedSubsidy is the decimal amount a candidate is admitted against and
// the most its building can be charged.
func admittedSubsidy(c Candidate) decimal.Decimal {
	return decimal.NewFromFloat(c.TotalSubsidy())
}

// matchBuildings pairs each realized building with its admitted candidate.
// Every building must be in the inventory and map to a distinct candidate.
func matchBuildings(ctx *YearContext, admitted Table, buildings []*inventory.Building) ([]Candidate, error) {
	byKey := make(map[CandidateKey]Candidate, len(admitted))
	for _, c := range admitted {
		byKey[c.Key()] = c
	}
	seen := make(map[CandidateKey]bool, len(buildings))
	out := make([]Candidate, len(buildings))
	for i, b := range buildings {
		if b == nil {
			return nil, invariantError(0, "placer returned a nil building")
		}
		key := CandidateKey{ParcelID: b.ParcelID, Form: Form(b.Form)}
		c, ok := byKey[key]
		if !ok {
			return nil, invariantError(b.ID, "placer realized %s which was not admitted", key)
		}
		if seen[key] {
			return nil, invariantError(b.ID, "placer realized %s more than once", key)
		}
		seen[key] = true
		stored, err := ctx.Inventory.Get(b.ID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, invariantError(b.ID, "placer did not insert the building into the inventory")
		}
		out[i] = c
	}
	return out, nil
}

func recordAllocation(ctx *YearContext, account string, sf *SubFundResult) {
	if ctx.Log == nil {
		return
	}
	ctx.Log.RecordAllocation(devlog.AllocationRecord{
		Year:         ctx.Year,
		Account:      account,
		SubFund:      sf.SubFund,
		StartBalance: sf.StartBalance.InexactFloat64(),
		Candidates:   sf.Candidates,
		Admitted:     len(sf.Admitted),
		Realized:     len(sf.Buildings),
		Spent:        sf.Spent.InexactFloat64(),
		Skipped:      sf.Skipped,
		Reason:       sf.Reason,
	})
}

// recordDevelopments appends realized buildings to the development log and
// counts them by source.
func recordDevelopments(ctx *YearContext, buildings []*inventory.Building) {
	for _, b := range buildings {
		ctx.Metrics.recordBuildings(b.Source, 1)
		if ctx.Log == nil {
			continue
		}
		ctx.Log.RecordDevelopment(devlog.DevelopmentRecord{
			Year:                ctx.Year,
			ParcelID:            b.ParcelID,
			BuildingID:          b.ID,
			Form:                b.Form,
			ResidentialUnits:    b.ResidentialUnits,
			NonResidentialSqft:  b.NonResidentialSqft,
			BuildingSqft:        b.BuildingSqft,
			DeedRestrictedUnits: b.DeedRestrictedUnits,
			Source:              b.Source,
			Subsidized:          b.Subsidized,
			PolicyName:          b.PolicyName,
		})
	}
}
