// Package formula compiles the configuration-driven expressions used by policy
// settings (receiving-zone filters, sub-fund partition rules, jurisdiction
// profitability adjustments, land-value-tax metrics).
//
// Expressions are compiled once against the typed Env below and then run per
// parcel. Only the Env fields and expr builtins are reachable, so a formula
// cannot execute arbitrary code.
package formula

import (
	"fmt"
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"
)

// Env is the attribute accessor formulas are evaluated against.
type Env struct {
	ParcelID           int64              `expr:"parcel_id"`
	Jurisdiction       string             `expr:"jurisdiction"`
	ZoneID             string             `expr:"zone_id"`
	Category           string             `expr:"category"`
	AverageSqftPerUnit float64            `expr:"ave_sqft_per_unit"`
	ResidentialUnits   int                `expr:"residential_units"`
	NonResidentialSqft float64            `expr:"non_residential_sqft"`
	BuildingSqft       float64            `expr:"building_sqft"`
	ParcelSqft         float64            `expr:"parcel_sqft"`
	LandValue          float64            `expr:"land_value"`
	RetailAllowed      bool               `expr:"retail_allowed"`
	Attrs              map[string]float64 `expr:"attrs"`
	Tags               map[string]string  `expr:"tags"`
}

// Kind selects the result type a formula is compiled for.
type Kind int

const (
	// Predicate formulas must evaluate to a boolean.
	Predicate Kind = iota
	// Value formulas evaluate to a number; booleans count as 0 or 1.
	Value
	// Key formulas evaluate to anything printable and are used as sub-fund keys.
	Key
)

func (k Kind) String() string {
	switch k {
	case Predicate:
		return "predicate"
	case Value:
		return "value"
	case Key:
		return "key"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Formula is a compiled expression.
type Formula struct {
	src     string
	kind    Kind
	program *vm.Program
}

// Compile parses and type-checks src against Env.
func Compile(src string, kind Kind) (*Formula, error) {
	if src == "" {
		return nil, errors.Errorf("empty %s formula", kind)
	}
	opts := []expr.Option{expr.Env(Env{})}
	if kind == Predicate {
		opts = append(opts, expr.AsBool())
	}
	program, err := expr.Compile(src, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "compiling %s formula %q", kind, src)
	}
	return &Formula{src: src, kind: kind, program: program}, nil
}

// String returns the source text.
func (f *Formula) String() string { return f.src }

// Kind returns the result kind the formula was compiled for.
func (f *Formula) Kind() Kind { return f.kind }

func (f *Formula) run(env Env) (any, error) {
	out, err := expr.Run(f.program, env)
	if err != nil {
		return nil, errors.Wrapf(err, "evaluating %q for parcel %d", f.src, env.ParcelID)
	}
	return out, nil
}

// Test evaluates a predicate formula.
func (f *Formula) Test(env Env) (bool, error) {
	out, err := f.run(env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, errors.Errorf("formula %q returned %T, want bool", f.src, out)
	}
	return b, nil
}

// Value evaluates a numeric formula. Booleans are 0 or 1; NaN and Inf are rejected.
func (f *Formula) Value(env Env) (float64, error) {
	out, err := f.run(env)
	if err != nil {
		return 0, err
	}
	var v float64
	switch x := out.(type) {
	case bool:
		if x {
			v = 1
		}
	case int:
		v = float64(x)
	case int64:
		v = float64(x)
	case float64:
		v = x
	default:
		return 0, errors.Errorf("formula %q returned %T, want a number or bool", f.src, out)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.Errorf("formula %q returned non-finite %v for parcel %d", f.src, v, env.ParcelID)
	}
	return v, nil
}

// Key evaluates a formula and renders the result as a string key.
func (f *Formula) Key(env Env) (string, error) {
	out, err := f.run(env)
	if err != nil {
		return "", err
	}
	if out == nil {
		return "", errors.Errorf("formula %q returned nil for parcel %d", f.src, env.ParcelID)
	}
	return fmt.Sprint(out), nil
}

// Cache memoises compiled formulas by (kind, source). Not thread-safe.
type Cache struct {
	compiled map[Kind]map[string]*Formula
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{compiled: make(map[Kind]map[string]*Formula)}
}

// Get returns the compiled formula for src, compiling it on first use.
func (c *Cache) Get(src string, kind Kind) (*Formula, error) {
	byKind, ok := c.compiled[kind]
	if !ok {
		byKind = make(map[string]*Formula)
		c.compiled[kind] = byKind
	}
	if f, ok := byKind[src]; ok {
		return f, nil
	}
	f, err := Compile(src, kind)
	if err != nil {
		return nil, err
	}
	byKind[src] = f
	return f, nil
}
