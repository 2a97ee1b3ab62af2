package sim

import (
	"github.com/pkg/errors"

	"github.com/regionsim/regionsim/sim/devlog"
	"github.com/regionsim/regionsim/sim/formula"
	"github.com/regionsim/regionsim/sim/inventory"
	"github.com/regionsim/regionsim/sim/ledger"
	"github.com/regionsim/regionsim/sim/policy"
)

// PlacementRequest is a synthetic feasibility table handed to the Placer.
type PlacementRequest struct {
	Year       int
	Source     string // tag stamped on every realized building
	PolicyName string // subsidy program name, empty for market-rate build-out
	SubFund    string
	Subsidized bool
	Candidates Table
}

// Placer instantiates buildings from an approved candidate list.
//
// Implementations insert every realized building into ctx.Inventory and
// return them. Each returned building must correspond to exactly one
// candidate in req.Candidates (matched by parcel id and form). A placer may
// realize fewer buildings than it was offered; demand is the usual limit.
type Placer interface {
	Place(ctx *YearContext, req PlacementRequest) ([]*inventory.Building, error)
}

// YearContext owns every piece of state one simulated year reads or writes.
// It is passed explicitly into each pipeline stage. Single writer: stages run
// one at a time on the calling goroutine.
type YearContext struct {
	Year      int
	Scenario  string
	Settings  *policy.Settings
	Parcels   ParcelSet
	Inventory *inventory.Inventory
	Ledger    *ledger.Ledger
	Placer    Placer
	Demand    *Demand
	Log       *devlog.Log
	RNG       *PartitionedRNG
	Metrics   *Metrics // optional

	formulas *formula.Cache
}

// NewYearContext validates the required collaborators and returns a context
// ready for RunYear. Scenario defaults to settings.Scenario when empty.
func NewYearContext(year int, settings *policy.Settings, parcels ParcelSet, inv *inventory.Inventory,
	led *ledger.Ledger, placer Placer, demand *Demand, rng *PartitionedRNG) (*YearContext, error) {
	switch {
	case settings == nil:
		return nil, errors.New("year context: nil settings")
	case inv == nil:
		return nil, errors.New("year context: nil inventory")
	case led == nil:
		return nil, errors.New("year context: nil ledger")
	case placer == nil:
		return nil, errors.New("year context: nil placer")
	case rng == nil:
		return nil, errors.New("year context: nil rng")
	}
	if parcels == nil {
		parcels = ParcelSet{}
	}
	if demand == nil {
		demand = &Demand{}
	}
	return &YearContext{
		Year:      year,
		Scenario:  settings.Scenario,
		Settings:  settings,
		Parcels:   parcels,
		Inventory: inv,
		Ledger:    led,
		Placer:    placer,
		Demand:    demand,
		Log:       devlog.New(),
		RNG:       rng,
		formulas:  formula.NewCache(),
	}, nil
}

// NextYear returns a context for the following year that shares the
// long-lived state (inventory, ledger, log, RNG, metrics, compiled formulas).
// Demand is replaced by the caller's next-year totals.
func (ctx *YearContext) NextYear(demand *Demand) *YearContext {
	next := *ctx
	next.Year++
	if demand != nil {
		next.Demand = demand
	}
	return &next
}

// formula compiles src through the context cache, wrapping failures as a
// ConfigError for the given step.
func (ctx *YearContext) formula(step, name, src string, kind formula.Kind) (*formula.Formula, error) {
	if ctx.formulas == nil {
		ctx.formulas = formula.NewCache()
	}
	f, err := ctx.formulas.Get(src, kind)
	if err != nil {
		return nil, configError(step, name, err)
	}
	return f, nil
}

// parcel looks up a candidate's parcel. A candidate whose parcel is unknown
// is a data defect in the caller's tables.
func (ctx *YearContext) parcel(id int64) (*Parcel, error) {
	p, ok := ctx.Parcels[id]
	if !ok {
		return nil, errors.Errorf("candidate references unknown parcel %d", id)
	}
	return p, nil
}
