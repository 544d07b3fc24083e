package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"mixpower/app"
	"mixpower/domain/power"
	"mixpower/internal/config"
	"mixpower/internal/container"
	builder "mixpower/internal/design"
	"mixpower/internal/report"
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "mixpower",
		Short: "Simulation-based power analysis for crossed mixed-effects designs",
	}

	rootCmd.AddCommand(
		newDesignCmd(),
		newPowerCmd(),
		newSweepCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newContainer(ctx context.Context) (*container.Container, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	c, err := container.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func newDesignCmd() *cobra.Command {
	var seed int64
	var out string

	cmd := &cobra.Command{
		Use:   "design [run-file]",
		Short: "Build the design table of a run file and write it as CSV",
		Long: `Build the fully crossed subject x item design table described by a run file.

Example: mixpower design run.yaml --out design.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rf, err := config.LoadRunFile(args[0])
			if err != nil {
				return err
			}
			spec, err := rf.Spec()
			if err != nil {
				return err
			}
			c, err := newContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Shutdown(cmd.Context())

			if !cmd.Flags().Changed("seed") {
				seed = rf.Simulation.Seed
			}
			table, err := builder.NewBuilder(c.RNG, c.Logger).Build(spec, seed)
			if err != nil {
				return err
			}

			w := os.Stdout
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			cw := csv.NewWriter(w)
			cw.Write(table.ColumnNames())
			for i := 0; i < table.Rows(); i++ {
				cw.Write(table.Record(i))
			}
			cw.Flush()
			if err := cw.Error(); err != nil {
				return err
			}
			c.Logger.Info("design table: %d rows, %d subjects, %d items", table.Rows(), table.Subjects, table.Items)
			return nil
		},
	}

	cmd.Flags().Int64Var(&seed, "seed", 0, "Seed for sampled covariates (default: simulation.seed)")
	cmd.Flags().StringVar(&out, "out", "", "Output CSV path (default: stdout)")
	return cmd
}

// runFlags override run-file values when set.
type runFlags struct {
	nsims   int
	seed    int64
	workers int
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.nsims, "nsims", 0, "Override simulation.nsims")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "Override simulation.seed")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "Trial workers (default: MIXPOWER_WORKERS)")
}

func loadRequest(cmd *cobra.Command, path string, flags runFlags, c *container.Container) (*config.RunFile, app.PowerRequest, error) {
	rf, err := config.LoadRunFile(path)
	if err != nil {
		return nil, app.PowerRequest{}, err
	}
	spec, err := rf.Spec()
	if err != nil {
		return nil, app.PowerRequest{}, err
	}
	contrasts, err := rf.Contrasts()
	if err != nil {
		return nil, app.PowerRequest{}, err
	}
	simCfg := rf.SimulationConfig(c.Config.Sim.Workers)
	if cmd.Flags().Changed("nsims") {
		simCfg.NSims = flags.nsims
	}
	if cmd.Flags().Changed("seed") {
		simCfg.Seed = flags.seed
	}
	if cmd.Flags().Changed("workers") {
		simCfg.Workers = flags.workers
	}
	return rf, app.PowerRequest{Design: spec, Formula: rf.Model.Formula, Contrasts: contrasts, Config: simCfg}, nil
}

func newPowerCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "power [run-file]",
		Short: "Estimate power for every fixed-effect coefficient",
		Long: `Fit the reference model, run nsims resample-and-refit trials and report power.

Example: mixpower power run.yaml --nsims 1000 --seed 12345`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Shutdown(cmd.Context())

			rf, req, err := loadRequest(cmd, args[0], flags, c)
			if err != nil {
				return err
			}
			run, err := c.Service.RunPower(cmd.Context(), req)
			if err != nil {
				return err
			}

			fmt.Print(report.Markdown("Power analysis", []*power.Run{run}))
			return writeOutputs(c, rf.Output, run.Records(""), []*power.Run{run})
		},
	}
	flags.register(cmd)
	return cmd
}

func newSweepCmd() *cobra.Command {
	var flags runFlags
	var concurrency int

	cmd := &cobra.Command{
		Use:   "sweep [run-file]",
		Short: "Estimate power over the subject_n x item_n grid of the run file",
		Long: `Run the power pipeline at every sweep point. Each point is seeded independently
from simulation.seed and the point index.

Example: mixpower sweep run.yaml --concurrency 2`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Shutdown(cmd.Context())

			rf, req, err := loadRequest(cmd, args[0], flags, c)
			if err != nil {
				return err
			}
			if rf.Sweep == nil {
				return fmt.Errorf("run file %s has no sweep section", args[0])
			}
			if !cmd.Flags().Changed("concurrency") {
				concurrency = rf.Sweep.Concurrency
				if concurrency <= 0 {
					concurrency = c.Config.Sim.SweepConcurrency
				}
			}

			outcome, err := c.Service.RunSweep(cmd.Context(), app.SweepRequest{
				PowerRequest: req,
				SubjectNs:    rf.Sweep.SubjectN,
				ItemNs:       rf.Sweep.ItemN,
				Concurrency:  concurrency,
			})
			if err != nil {
				return err
			}

			runs := make([]*power.Run, len(outcome.Results))
			for i, r := range outcome.Results {
				runs[i] = r.Run
			}
			fmt.Print(report.Markdown("Power sweep "+outcome.ID.String(), runs))
			return writeOutputs(c, rf.Output, outcome.Records(), runs)
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&concurrency, "concurrency", 1, "Sweep points run at the same time")
	return cmd
}

// writeOutputs writes the configured files. Relative paths land in MIXPOWER_OUTPUT_DIR.
func writeOutputs(c *container.Container, out config.OutputSection, records []power.PowerRecord, runs []*power.Run) error {
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(c.Config.Paths.OutputDir, p)
	}
	for _, p := range []string{out.XLSX, out.CSV} {
		if p == "" {
			continue
		}
		if err := c.Writer.WriteRecords(resolve(p), records); err != nil {
			return err
		}
		c.Logger.Info("wrote %s (%d rows)", resolve(p), len(records))
	}
	if out.Report != "" {
		if err := report.WriteFile(resolve(out.Report), "Power analysis", runs); err != nil {
			return err
		}
		c.Logger.Info("wrote %s", resolve(out.Report))
	}
	return nil
}
