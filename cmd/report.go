package cmd

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/regionsim/regionsim/sim/devlog"
	"github.com/regionsim/regionsim/sim/inventory"
	"github.com/regionsim/regionsim/sim/ledger"
)

// writeReport prints ledger balances, allocation passes and the inventory's
// build-out by source as tables.
func writeReport(w io.Writer, led *ledger.Ledger, inv *inventory.Inventory, log *devlog.Log) error {
	fmt.Fprintln(w, "=== Ledger ===")
	balances := tablewriter.NewWriter(w)
	balances.SetHeader([]string{"Account", "Sub-fund", "Balance"})
	balances.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
	for _, name := range led.Names() {
		account := led.Account(name)
		for key, balance := range account.SubFunds() {
			balances.Append([]string{name, key, ledger.FormatAmount(balance)})
		}
	}
	balances.Render()

	fmt.Fprintln(w, "=== Allocations ===")
	allocations := tablewriter.NewWriter(w)
	allocations.SetHeader([]string{"Year", "Account", "Sub-fund", "Start", "Admitted", "Realized", "Spent", "Skipped"})
	for _, a := range log.Allocations {
		allocations.Append([]string{
			fmt.Sprint(a.Year), a.Account, a.SubFund,
			fmt.Sprintf("%.2f", a.StartBalance),
			fmt.Sprint(a.Admitted), fmt.Sprint(a.Realized),
			fmt.Sprintf("%.2f", a.Spent), a.Reason,
		})
	}
	allocations.Render()

	summary := devlog.Summarize(log)
	fmt.Fprintln(w, "=== Build-out ===")
	buildout := tablewriter.NewWriter(w)
	buildout.SetHeader([]string{"Source", "Buildings", "Units", "Deed-restricted"})
	sources := maps.Keys(summary.BySource)
	slices.Sort(sources)
	for _, source := range sources {
		buildings, err := inv.BySource(source)
		if err != nil {
			return errors.Wrapf(err, "listing %s buildings", source)
		}
		units, restricted := 0, 0
		for _, b := range buildings {
			units += b.ResidentialUnits
			restricted += b.DeedRestrictedUnits
		}
		buildout.Append([]string{source, fmt.Sprint(len(buildings)), fmt.Sprint(units), fmt.Sprint(restricted)})
	}
	buildout.SetFooter([]string{"Total", fmt.Sprint(inv.Len()), "", ""})
	buildout.Render()

	fmt.Fprintf(w, "Residential units   : %d\n", summary.ResidentialUnits)
	fmt.Fprintf(w, "Deed-restricted     : %d\n", summary.DeedRestrictedUnits)
	fmt.Fprintf(w, "Non-residential sqft: %.0f\n", summary.NonResidentialSqft)
	fmt.Fprintf(w, "Subsidy disbursed   : %.2f\n", summary.TotalSpent)
	return nil
}

// writeMetrics prints every registered metric in the Prometheus text format.
func writeMetrics(w io.Writer, reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return errors.Wrap(err, "gathering metrics")
	}
	fmt.Fprintln(w, "=== Metrics ===")
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return errors.Wrap(err, "writing metrics")
		}
	}
	return nil
}
