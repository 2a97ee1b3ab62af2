package sim

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/regionsim/regionsim/sim/inventory"
)

// ConfigError is a configuration defect: a malformed formula or filter, or a
// required setting with no default. It aborts the step that hit it.
type ConfigError struct {
	Step string // pipeline step, e.g. "jurisdiction-formula"
	Name string // policy or program name, if any
	Err  error
}

func (err *ConfigError) Error() string {
	if err.Name != "" {
		return fmt.Sprintf("configuration error in %s %q: %v", err.Step, err.Name, err.Err)
	}
	return fmt.Sprintf("configuration error in %s: %v", err.Step, err.Err)
}

func (err *ConfigError) Unwrap() error { return err.Err }

var errSubFundRule = errors.New("sub_fund needs exactly one of key or formula")

func configError(step, name string, err error) error {
	return errors.WithStack(&ConfigError{Step: step, Name: name, Err: err})
}

// InvariantError is a checked invariant violation. The run must stop.
type InvariantError struct {
	BuildingID uint64
	Detail     string
}

func (err *InvariantError) Error() string {
	if err.BuildingID != 0 {
		return fmt.Sprintf("invariant violated for building %d: %s", err.BuildingID, err.Detail)
	}
	return fmt.Sprintf("invariant violated: %s", err.Detail)
}

func invariantError(buildingID uint64, format string, args ...any) error {
	return errors.WithStack(&InvariantError{BuildingID: buildingID, Detail: fmt.Sprintf(format, args...)})
}

// checkDeedRestrictions turns an inventory violation into an InvariantError.
func checkDeedRestrictions(inv *inventory.Inventory) error {
	err := inv.CheckDeedRestrictions()
	if err == nil {
		return nil
	}
	var violation *inventory.ErrDeedRestriction
	if errors.As(err, &violation) {
		return invariantError(violation.BuildingID, "%d deed-restricted units exceed %d residential units",
			violation.DeedRestricted, violation.Residential)
	}
	return err
}

// IsFatal reports whether err is a configuration or invariant defect that
// must abort the run.
func IsFatal(err error) bool {
	var cfg *ConfigError
	var inv *InvariantError
	return errors.As(err, &cfg) || errors.As(err, &inv)
}
