package cmd

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/regionsim/regionsim/sim"
	"github.com/regionsim/regionsim/sim/inventory"
	"github.com/regionsim/regionsim/sim/ledger"
	"github.com/regionsim/regionsim/sim/placement"
	"github.com/regionsim/regionsim/sim/policy"
)

// envPrefix lets every run flag be set from the environment,
// e.g. REGIONSIM_SEED=7 or REGIONSIM_START_YEAR=2030.
const envPrefix = "REGIONSIM"

// runConfig is the resolved configuration of one `regionsim run`.
type runConfig struct {
	SettingsPath   string
	ParcelsPath    string
	CandidatesPath string
	DemandPath     string
	Scenario       string // overrides settings.scenario when set
	Seed           int64
	StartYear      int
	Years          int
	TargetUnits    float64 // overrides the demand file when positive
	TargetSqft     float64 // overrides the demand file when positive
	FailureRate    float64
	PrintMetrics   bool
	LogLevel       string
}

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "regionsim",
	Short: "Year-by-year regional development and subsidy simulator",
}

// runCmd executes the simulation using parameters from CLI flags and environment
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the development simulation",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadRunConfig()

		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", cfg.LogLevel)
		}
		logrus.SetLevel(level)
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			logrus.Debugf("--%s=%s", f.Name, viper.GetString(f.Name))
		})

		if err := runSimulation(cfg, os.Stdout); err != nil {
			if sim.IsFatal(err) {
				logrus.Fatalf("Simulation aborted: %+v", err)
			}
			logrus.Fatalf("Simulation failed: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

func loadRunConfig() runConfig {
	return runConfig{
		SettingsPath:   viper.GetString("settings"),
		ParcelsPath:    viper.GetString("parcels"),
		CandidatesPath: viper.GetString("candidates"),
		DemandPath:     viper.GetString("demand"),
		Scenario:       viper.GetString("scenario"),
		Seed:           viper.GetInt64("seed"),
		StartYear:      viper.GetInt("start-year"),
		Years:          viper.GetInt("years"),
		TargetUnits:    viper.GetFloat64("target-units"),
		TargetSqft:     viper.GetFloat64("target-sqft"),
		FailureRate:    viper.GetFloat64("failure-rate"),
		PrintMetrics:   viper.GetBool("metrics"),
		LogLevel:       viper.GetString("log"),
	}
}

// runSimulation loads the inputs, runs cfg.Years simulated years and writes
// the report to out.
func runSimulation(cfg runConfig, out io.Writer) error {
	for flag, path := range map[string]string{"settings": cfg.SettingsPath, "parcels": cfg.ParcelsPath, "candidates": cfg.CandidatesPath} {
		if path == "" {
			return errors.Errorf("--%s is required", flag)
		}
	}
	if cfg.Years < 1 {
		return errors.Errorf("--years must be at least 1, got %d", cfg.Years)
	}

	settings, err := policy.Load(cfg.SettingsPath)
	if err != nil {
		return err
	}
	if cfg.Scenario != "" {
		settings.Scenario = cfg.Scenario
	}
	if err := settings.Validate(); err != nil {
		return &sim.ConfigError{Step: "settings", Name: cfg.SettingsPath, Err: err}
	}

	parcels, err := LoadParcels(cfg.ParcelsPath)
	if err != nil {
		return err
	}
	candidates, err := LoadCandidates(cfg.CandidatesPath)
	if err != nil {
		return err
	}
	demand := &DemandFile{}
	if cfg.DemandPath != "" {
		if demand, err = LoadDemand(cfg.DemandPath); err != nil {
			return err
		}
	}
	if cfg.TargetUnits > 0 {
		demand.ResidentialUnits = cfg.TargetUnits
	}
	if cfg.TargetSqft > 0 {
		demand.NonResidentialSqft = cfg.TargetSqft
	}

	inv, err := inventory.New()
	if err != nil {
		return err
	}
	led := ledger.New()
	reg := prometheus.NewRegistry()
	metrics, err := sim.NewMetrics(reg)
	if err != nil {
		return err
	}
	ctx, err := sim.NewYearContext(cfg.StartYear, settings, sim.NewParcelSet(parcels), inv, led,
		&placement.DemandCapped{FailureRate: cfg.FailureRate}, demand.ForYear(),
		sim.NewPartitionedRNG(sim.NewSimulationKey(cfg.Seed)))
	if err != nil {
		return err
	}
	ctx.Metrics = metrics

	logrus.Infof("Starting simulation: %d parcels, %d candidates, scenario=%q, years %d-%d, seed=%d",
		len(parcels), len(candidates), settings.Scenario, cfg.StartYear, cfg.StartYear+cfg.Years-1, cfg.Seed)
	for y := 0; y < cfg.Years; y++ {
		if y > 0 {
			ctx = ctx.NextYear(demand.ForYear())
		}
		start := time.Now()
		result, err := sim.RunYear(ctx, candidates)
		if err != nil {
			return errors.WithMessagef(err, "year %d", ctx.Year)
		}
		logrus.Infof("Year %d done in %v: %d market-rate buildings, $%s funded",
			ctx.Year, time.Since(start), len(result.MarketBuildings), ledger.FormatAmount(result.Funded))
	}

	if err := writeReport(out, led, inv, ctx.Log); err != nil {
		return err
	}
	if cfg.PrintMetrics {
		return writeMetrics(out, reg)
	}
	return nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags, their environment bindings and subcommands
func init() {
	runCmd.Flags().String("settings", "", "Policy settings YAML")
	runCmd.Flags().String("parcels", "", "Parcel table CSV")
	runCmd.Flags().String("candidates", "", "Pro-forma feasibility table CSV")
	runCmd.Flags().String("demand", "", "Yearly demand YAML (totals, need and underserved ratios, incomes)")
	runCmd.Flags().String("scenario", "", "Scenario name (overrides the settings file)")
	runCmd.Flags().Int64("seed", 42, "Seed for the lottery, placement and reconciliation streams")
	runCmd.Flags().Int("start-year", 2025, "First simulated year")
	runCmd.Flags().Int("years", 1, "Number of simulated years")
	runCmd.Flags().Float64("target-units", 0, "Yearly residential-unit demand (overrides the demand file)")
	runCmd.Flags().Float64("target-sqft", 0, "Yearly non-residential sqft demand (overrides the demand file)")
	runCmd.Flags().Float64("failure-rate", 0, "Probability a placed candidate is not built")
	runCmd.Flags().Bool("metrics", false, "Print Prometheus metrics after the report")
	runCmd.Flags().String("log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(runCmd.Flags()); err != nil {
		panic(err)
	}

	// Attach `run` as a subcommand to `root`
	rootCmd.AddCommand(runCmd)
}
