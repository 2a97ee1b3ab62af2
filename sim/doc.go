// Package sim provides the year-by-year development and subsidy pipeline.
//
// # Reading Guide
//
// Start with these three files to understand one simulated year:
//   - context.go: YearContext, the state a year's steps share (parcels, inventory, ledger, demand, RNG)
//   - year.go: RunYear, the fixed step order for one year
//   - allocator.go: subsidy allocation per program and sub-fund
//
// # Pipeline
//
// RunYear executes, in order:
//   - funding.go: deposit each program's yearly funding into its account
//   - modifier.go: fees, inclusionary zoning, surcharges, land value tax and
//     jurisdiction formulas applied to candidate profit (inclusionary.go holds
//     the affordability math)
//   - feasibility.go: per-program receiving filter and per-unit subsidy
//   - allocator.go and deedrestrict.go: greedy, budget-bounded subsidy
//     allocation with deed restriction of subsidized units
//   - lottery.go: weighted selection of market-rate developments against the
//     remaining demand
//   - funding.go: surcharge collection from the year's new buildings
//   - reconcile.go: job-space top-up and retail insertion
//
// # Architecture
//
// The sim package owns the pipeline; state and configuration live in
// sub-packages:
//   - sim/policy/: YAML policy settings and their validation
//   - sim/formula/: compiled configuration expressions over parcel attributes
//   - sim/ledger/: accounts, sub-funds and transactions in decimal dollars
//   - sim/inventory/: the building inventory
//   - sim/placement/: the default demand-capped Placer
//   - sim/devlog/: per-year development and allocation records
//
// # Key Interfaces
//
//   - Placer: realizes approved candidates as buildings; the allocator only
//     charges for what the placer reports as built
//
// Every stochastic step draws from its own PartitionedRNG stream, so runs with
// the same seed and inputs produce identical inventories and ledgers.
package sim
