package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sbdcnet/attendance-reconciler/internal/batch"
	"github.com/sbdcnet/attendance-reconciler/internal/config"
	"github.com/sbdcnet/attendance-reconciler/internal/geo"
	"github.com/sbdcnet/attendance-reconciler/internal/kpi"
	"github.com/sbdcnet/attendance-reconciler/internal/overwrite"
	"github.com/sbdcnet/attendance-reconciler/internal/pkg/logger"
	"github.com/sbdcnet/attendance-reconciler/internal/report"
	"github.com/sbdcnet/attendance-reconciler/internal/table"
)

var (
	configPath string
	cfg        *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Webinar attendance reconciliation engine",
		Long:  `Links webinar attendance exports to the client roster and maintains the cumulative people and attendance master tables.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
			logger.SetRedactEmails(cfg.Logging.RedactEmails)
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createCollisionsCmd())
	rootCmd.AddCommand(createApplyCmd())
	rootCmd.AddCommand(createKPIsCmd())
	rootCmd.AddCommand(createReportCmd())
	rootCmd.AddCommand(createCacheCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// createRunCmd creates the batch ingestion command.
func createRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [export files...]",
		Short: "Ingest attendance exports into the master tables",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := batch.NewRunner(cfg, nil)
			if err != nil {
				return err
			}
			results, err := runner.Run(args)
			if err != nil {
				return err
			}
			failed := 0
			for _, res := range results {
				if res.Err != nil {
					failed++
					fmt.Printf("FAILED %s: %v\n", res.File, res.Err)
				} else {
					fmt.Printf("ok %s (run %s)\n", res.File, res.Summary.RunID)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(results))
			}
			return nil
		},
	}
}

// createCollisionsCmd re-detects name collisions against the current people
// master and refreshes the overwrite file.
func createCollisionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collisions",
		Short: "Detect name collisions and refresh the overwrite file",
		RunE: func(cmd *cobra.Command, args []string) error {
			people, err := table.ReadCSVFile(cfg.Paths.PeopleMaster)
			if err != nil {
				return fmt.Errorf("load people master: %w", err)
			}
			ow, err := table.LoadOrEmpty(cfg.Paths.OverwriteFile)
			if err != nil {
				return fmt.Errorf("load overwrite file: %w", err)
			}

			names, collisions, err := overwrite.FindNameCollisions(people, collisionOptions())
			if err != nil {
				return err
			}
			updated := overwrite.Update(ow, collisions)
			if err := updated.WriteCSVFile(cfg.Paths.OverwriteFile); err != nil {
				return fmt.Errorf("write overwrite file: %w", err)
			}

			pending := overwrite.Unreviewed(updated, false)
			fmt.Printf("collision groups: %d (%d rows), awaiting review: %d\n",
				len(names), collisions.Len(), pending.Len())
			return nil
		},
	}
}

// createApplyCmd applies approved overwrite directives and writes the final
// tables.
func createApplyCmd() *cobra.Command {
	var skipApproval bool
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply approved overwrite directives to produce the final tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			people, err := table.ReadCSVFile(cfg.Paths.PeopleMaster)
			if err != nil {
				return fmt.Errorf("load people master: %w", err)
			}
			attendance, err := table.ReadCSVFile(cfg.Paths.AttendanceMaster)
			if err != nil {
				return fmt.Errorf("load attendance master: %w", err)
			}
			ow, err := table.ReadCSVFile(cfg.Paths.OverwriteFile)
			if err != nil {
				return fmt.Errorf("load overwrite file: %w", err)
			}

			if pending := overwrite.Unreviewed(ow, false); pending.Len() > 0 {
				logger.Warn("overwrite rows not yet reviewed", "count", pending.Len())
			}

			opts := overwrite.DefaultApplyOptions()
			opts.RequireApproved = !skipApproval

			peopleFinal, peopleRes, err := overwrite.ApplyPeople(people, ow, opts)
			if err != nil {
				return err
			}
			attendanceFinal, attRes, err := overwrite.ApplyAttendance(attendance, ow, opts)
			if err != nil {
				return err
			}

			if err := peopleFinal.WriteCSVFile(cfg.Paths.PeopleFinal); err != nil {
				return fmt.Errorf("write people final: %w", err)
			}
			if err := attendanceFinal.WriteCSVFile(cfg.Paths.AttendanceFinal); err != nil {
				return fmt.Errorf("write attendance final: %w", err)
			}

			// Residual ambiguity check on the final table
			residual, _, err := overwrite.FindNameCollisions(peopleFinal, collisionOptions())
			if err != nil {
				return err
			}

			fmt.Printf("people: removed %d, added %d, final %d rows\n",
				peopleRes.RemovedRows, peopleRes.AddedRows, peopleRes.FinalRows)
			fmt.Printf("attendance: removed %d, final %d rows\n",
				attRes.RemovedRows, attRes.FinalRows)
			if len(residual) > 0 {
				fmt.Printf("warning: %d name collisions remain after apply\n", len(residual))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipApproval, "skip-approval", false, "apply directives regardless of review_status")
	return cmd
}

// createKPIsCmd computes the per-webinar KPI table.
func createKPIsCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "kpis",
		Short: "Compute per-webinar KPIs from the attendance master",
		RunE: func(cmd *cobra.Command, args []string) error {
			attendance, err := table.ReadCSVFile(cfg.Paths.AttendanceMaster)
			if err != nil {
				return fmt.Errorf("load attendance master: %w", err)
			}
			people, err := table.LoadOrEmpty(cfg.Paths.PeopleMaster)
			if err != nil {
				return fmt.Errorf("load people master: %w", err)
			}

			kpis, err := kpi.Generate(attendance, people, kpi.DefaultOptions())
			if err != nil {
				return err
			}
			if err := kpi.ToTable(kpis).WriteCSVFile(outPath); err != nil {
				return fmt.Errorf("write kpis: %w", err)
			}
			fmt.Printf("wrote %d webinar KPI rows to %s\n", len(kpis), outPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "outputs/webinar_kpis.csv", "output path")
	return cmd
}

// createReportCmd writes the per-center attendee reports.
func createReportCmd() *cobra.Command {
	var (
		outDir string
		prefix string
		dates  []string
		start  string
		end    string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Write per-center attendee reports from the master tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			attendance, err := table.ReadCSVFile(cfg.Paths.AttendanceMaster)
			if err != nil {
				return fmt.Errorf("load attendance master: %w", err)
			}
			people, err := table.ReadCSVFile(cfg.Paths.PeopleMaster)
			if err != nil {
				return fmt.Errorf("load people master: %w", err)
			}

			opts := report.DefaultOptions()
			opts.IncludeDates = dates
			opts.RangeStart = start
			opts.RangeEnd = end

			paths, err := report.Build(attendance, people, outDir, prefix, opts)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Printf("wrote %s\n", p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", "outputs/center_reports", "output directory")
	cmd.Flags().StringVar(&prefix, "prefix", "attendees", "output file prefix")
	cmd.Flags().StringSliceVar(&dates, "dates", nil, "exact webinar dates to include (YYYY-MM-DD)")
	cmd.Flags().StringVar(&start, "start", "", "start of the date window (inclusive)")
	cmd.Flags().StringVar(&end, "end", "", "end of the date window (inclusive)")
	return cmd
}

// createCacheCmd rebuilds the zip to center cache from the reference data.
func createCacheCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cache",
		Short: "Rebuild the zip to center assignment cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := table.LoadOrEmpty(cfg.Paths.ZipCenterCache)
			if err != nil {
				return fmt.Errorf("load zip cache: %w", err)
			}
			ct, err := table.ReadCSVFile(cfg.Paths.CentersFile)
			if err != nil {
				return fmt.Errorf("load centers: %w", err)
			}
			centers, err := geo.LoadCenters(ct)
			if err != nil {
				return err
			}
			zt, err := table.ReadCSVFile(cfg.Paths.ZipReferenceFile)
			if err != nil {
				return fmt.Errorf("load zip reference: %w", err)
			}
			geocoder, err := geo.LoadZipReference(zt)
			if err != nil {
				return err
			}

			zips := make([]string, 0, cache.Len())
			for i := 0; i < cache.Len(); i++ {
				zips = append(zips, cache.Get(i, "zip_clean"))
			}
			rebuilt := geo.MergeCache(cache, geo.AssignCenters(zips, geocoder, centers))
			if err := rebuilt.WriteCSVFile(cfg.Paths.ZipCenterCache); err != nil {
				return fmt.Errorf("write zip cache: %w", err)
			}
			fmt.Printf("cache rebuilt: %d zips\n", rebuilt.Len())
			return nil
		},
	}
}

func collisionOptions() overwrite.CollisionOptions {
	opts := overwrite.CollisionOptions{
		MinDistinctEmails: cfg.Collisions.MinDistinctEmails,
		MinCount:          cfg.Collisions.MinCount,
	}
	if cfg.Collisions.Policy == "repeat_count" {
		opts.Policy = overwrite.PolicyRepeatCount
	}
	return opts
}
