package sim

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/regionsim/regionsim/sim/inventory"
	"github.com/regionsim/regionsim/sim/ledger"
	"github.com/regionsim/regionsim/sim/policy"
)

// FundPrograms deposits each subsidy program's yearly funding into its
// account, one positive transaction per sub-fund in key order.
func FundPrograms(ctx *YearContext) decimal.Decimal {
	total := decimal.Zero
	for i := range ctx.Settings.SubsidyPrograms {
		program := &ctx.Settings.SubsidyPrograms[i]
		if len(program.Funding) == 0 {
			continue
		}
		account := ctx.Ledger.Account(program.AccountName())
		keys := maps.Keys(program.Funding)
		slices.Sort(keys)
		for _, key := range keys {
			amount := decimal.NewFromFloat(program.Funding[key])
			if amount.IsZero() {
				continue
			}
			account.AddTransaction(amount, key, ledger.Metadata{
				Year:        ctx.Year,
				Description: fmt.Sprintf("%d funding for %s", ctx.Year, program.Name),
			})
			total = total.Add(amount)
		}
	}
	if total.IsPositive() {
		logrus.Infof("[year %d] deposited $%s of program funding", ctx.Year, ledger.FormatAmount(total))
	}
	return total
}

// CollectSurcharges credits the surcharges paid by realized buildings to
// each surcharge's deposit account, sub-fund = the parcel's jurisdiction.
// Surcharges without a deposit account, or disabled for the scenario, are
// not collected.
func CollectSurcharges(ctx *YearContext, buildings []*inventory.Building) decimal.Decimal {
	total := decimal.Zero
	for _, s := range ctx.Settings.Surcharges {
		if s.DepositAccount == "" || !policy.Enabled(s.EnableInScenarios, ctx.Scenario) {
			continue
		}
		account := ctx.Ledger.Account(s.DepositAccount)
		for _, b := range buildings {
			p, ok := ctx.Parcels[b.ParcelID]
			if !ok {
				continue
			}
			paid := float64(b.ResidentialUnits)*s.PerUnit[p.Category] + b.NonResidentialSqft*s.PerSqft[p.Category]
			if paid <= 0 {
				continue
			}
			amount := decimal.NewFromFloat(paid)
			account.AddTransaction(amount, p.Jurisdiction, ledger.Metadata{
				Year:        ctx.Year,
				Description: fmt.Sprintf("%s surcharge on building %d", s.Name, b.ID),
				Fields: map[string]string{
					"building_id": fmt.Sprint(b.ID),
					"category":    p.Category,
				},
			})
			total = total.Add(amount)
		}
	}
	return total
}
