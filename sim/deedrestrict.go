package sim

import (
	"math"

	"github.com/regionsim/regionsim/sim/inventory"
)

// DeedRestrictionTracker converts disbursed subsidy into deed-restricted
// units. Fractional units carry forward to the next building of the same
// sub-fund pass; call Reset at the start of every pass.
type DeedRestrictionTracker struct {
	carry float64
}

// Reset clears the fractional carry.
func (t *DeedRestrictionTracker) Reset() { t.carry = 0 }

// Carry returns the fractional remainder waiting for the next building.
func (t *DeedRestrictionTracker) Carry() float64 { return t.carry }

// Apply sets b.DeedRestrictedUnits from the subsidy it absorbed and returns
// the new count. A building that realized a profit absorbed no subsidy. The subsidy buys units at the building's average revenue
// per unit; inclusionary units already required are added on top and the
// total never exceeds the building's residential units.
func (t *DeedRestrictionTracker) Apply(b *inventory.Building) int {
	raw := t.carry
	if b.ResidentialUnits > 0 && b.BuildingRevenue > 0 && b.RealizedProfit < 0 {
		revenuePerUnit := b.BuildingRevenue / float64(b.ResidentialUnits)
		raw += -b.RealizedProfit / revenuePerUnit
	}
	whole := math.Floor(raw)
	t.carry = raw - whole

	units := int(whole) + b.InclusionaryUnits
	units = min(units, b.ResidentialUnits)
	b.DeedRestrictedUnits = max(units, 0)
	return b.DeedRestrictedUnits
}
