package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"lmmpower/app"
	"lmmpower/domain/core"
	"lmmpower/domain/power"
	"lmmpower/internal/config"
	"lmmpower/internal/container"
	"lmmpower/internal/report"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "lmmpower",
		Short:         "Simulation-based power analysis for linear mixed models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newIntervalCmd(),
		newRunCmd(),
		newHistoryCmd(),
		newShowCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "❌", err)
		os.Exit(1)
	}
}

func newIntervalCmd() *cobra.Command {
	var (
		p         float64
		n         int
		tolerance float64
	)

	cmd := &cobra.Command{
		Use:   "interval",
		Short: "Confidence interval for an estimated power",
		Long: `Bound a detection proportion p observed over n replicates.

Proportions within the tolerance (default 1/n) of 0 or 1 use the rule of
three; everything else uses the arcsine-square-root approximation.

Example: lmmpower interval --p 0.82 --n 500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				iv  power.Interval
				err error
			)
			if cmd.Flags().Changed("tolerance") {
				iv, err = power.EstimateIntervalWithTolerance(p, n, tolerance)
			} else {
				iv, err = power.EstimateInterval(p, n)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%g, %g]\n", iv.Lower, iv.Upper)
			return nil
		},
	}

	cmd.Flags().Float64Var(&p, "p", 0, "Observed proportion in [0, 1]")
	cmd.Flags().IntVar(&n, "n", 0, "Number of replicates")
	cmd.Flags().Float64Var(&tolerance, "tolerance", 0, "Distance from 0 or 1 treated as a boundary proportion")
	cmd.MarkFlagRequired("p")
	cmd.MarkFlagRequired("n")
	return cmd
}

func newRunCmd() *cobra.Command {
	var (
		configPath string
		format     string
		out        string
		workers    int
		method     string
		replicates int
		seed       int64
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a power analysis described by a YAML or JSON file",
		Long: `Simulate and refit replicates of the analysis described in the file and
print the power of every fixed-effect coefficient.

Example: lmmpower run --config analysis.yaml --workers 8 --format markdown`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := config.LoadAnalysis(configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("method") {
				m, err := power.ParseMethod(method)
				if err != nil {
					return err
				}
				req.Method = m
			}
			if cmd.Flags().Changed("replicates") {
				req.Replicates = replicates
			}
			if cmd.Flags().Changed("seed") {
				req.Seed = seed
			}
			req.Workers = workers

			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			return runAnalysis(cmd.Context(), req, f, out, quiet)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Analysis file (.yaml, .yml or .json)")
	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table|json|csv|markdown|html|xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the report to a file instead of stdout")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "Concurrent replicates (default LMMPOWER_WORKERS or one per CPU)")
	cmd.Flags().StringVar(&method, "method", "", "Replicate method: parametric|resample")
	cmd.Flags().IntVar(&replicates, "replicates", 0, "Override the number of replicates")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Override the random seed")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print progress")
	cmd.MarkFlagRequired("config")
	return cmd
}

func runAnalysis(ctx context.Context, req app.PowerRequest, format report.Format, out string, quiet bool) error {
	c, err := newContainer(ctx)
	if err != nil {
		return err
	}
	defer c.Shutdown(context.Background())

	progress := func(app.ProgressEvent) {}
	if !quiet {
		progress = printProgress(os.Stderr)
	}
	svc := c.NewService(progress)

	res, err := svc.Run(ctx, req)
	if err != nil {
		return err
	}
	return writeReport(report.FromResult(res), format, out)
}

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List stored analyses, newest first",
		Long: `List analyses persisted in DATABASE_URL.

Example: DATABASE_URL=lmmpower.db lmmpower history --limit 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Shutdown(context.Background())
			if c.Store == nil {
				return fmt.Errorf("DATABASE_URL is required for history")
			}

			analyses, err := c.Service.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(analyses) == 0 {
				fmt.Fprintln(w, "No stored analyses")
				return nil
			}
			for _, a := range analyses {
				singular := 0
				if a.Table != nil {
					singular = a.Table.SingularCount
				}
				fmt.Fprintf(w, "%s  %s  %s  %-10s %5d reps  %3d singular  %s\n",
					a.ID, a.Fingerprint.Short(), a.CreatedAt.Local().Format(time.DateTime), a.Method, a.Replicates, singular, a.Formula)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of analyses")
	return cmd
}

func newShowCmd() *cobra.Command {
	var (
		format string
		out    string
	)

	cmd := &cobra.Command{
		Use:   "show [analysis-id]",
		Short: "Print a stored analysis",
		Long: `Render the power table of a stored analysis.

Example: lmmpower show 01927c4e-2f0a-7c1e-9d4b-3a6f1c2b8e90 --format html -o power.html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := core.ParseRunID(args[0])
			if err != nil {
				return err
			}
			f, err := report.ParseFormat(format)
			if err != nil {
				return err
			}

			c, err := newContainer(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Shutdown(context.Background())
			if c.Store == nil {
				return fmt.Errorf("DATABASE_URL is required to show stored analyses")
			}

			a, err := c.Service.Analysis(cmd.Context(), id)
			if err != nil {
				return err
			}
			return writeReport(report.FromAnalysis(a), f, out)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "table", "Output format: table|json|csv|markdown|html|xlsx")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Write the report to a file instead of stdout")
	return cmd
}

func newContainer(ctx context.Context) (*container.Container, error) {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return container.New(ctx, cfg)
}

func writeReport(r report.Report, format report.Format, out string) error {
	if out == "" {
		if format == report.FormatXLSX {
			return fmt.Errorf("xlsx reports need --out")
		}
		return report.Write(os.Stdout, r, format)
	}

	file, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	if err := report.Write(file, r, format); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "✅ Report written to %s\n", out)
	return nil
}

// printProgress renders replicate progress on a single terminal line
func printProgress(w io.Writer) app.ProgressFunc {
	return func(ev app.ProgressEvent) {
		switch ev.Stage {
		case app.StageStarted:
			fmt.Fprintf(w, "🔬 Run %s: %d replicates\n", ev.RunID, ev.Total)
		case app.StageReplicates:
			fmt.Fprintf(w, "\r   %d/%d replicates (%.0f%%)", ev.Completed, ev.Total, 100*ev.Fraction())
		case app.StageFinished:
			fmt.Fprintln(w)
		case app.StageCached:
			fmt.Fprintf(w, "♻️  Served from cache (run %s)\n", ev.Message)
		}
	}
}
