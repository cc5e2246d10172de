package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/sales-etl/internal/batch"
	"github.com/dvloznov/sales-etl/internal/blobstore"
	"github.com/dvloznov/sales-etl/internal/logger"
	"github.com/dvloznov/sales-etl/internal/pipeline"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	cfgFile string
	verbose bool
	timeout time.Duration
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "sales-etl",
		Short: "Validate and enrich daily sales batches",
		Long: `sales-etl moves a daily sales batch through the data lake zones:

  raw-zone/<date>.csv        -> validate  -> processed-zone/<date>.csv
  processed-zone/<date>.csv  -> transform -> processed-zone/<date>.csv (enriched)
                                          -> aggregates-zone/<date>_regions.csv

Settings come from --config and SALES_ETL_* environment variables.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "Path to a YAML configuration file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Minute, "Abort the command after this long")

	root.AddCommand(
		newValidateCmd(opts),
		newTransformCmd(opts),
		newRunCmd(opts),
		newHistoryCmd(opts),
		newUploadCmd(opts),
	)
	return root
}

// withApp builds the app, attaches its logger to a context bounded by the
// timeout flag and runs fn. Metrics are pushed whatever fn returns.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	a, err := newApp(ctx, opts.cfgFile, opts.verbose, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx = logger.WithContext(ctx, a.log)
	err = fn(ctx, a)
	a.pushMetrics(ctx)
	if err != nil {
		a.log.Error().Err(err).Msg("Command failed")
	}
	return err
}

func addDateFlag(cmd *cobra.Command, date *string) {
	cmd.Flags().StringVar(date, "date", "", "Batch date (YYYY-MM-DD), default today in UTC")
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Clean raw-zone/<date>.csv into processed-zone/<date>.csv",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := pipeline.ParseBatchDate(date)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				m, err := a.driver.RunValidation(ctx, d)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Validation completed: %d of %d records valid (%.2f%% rejected).\n",
					m.ValidRecords, m.TotalRecords, m.RejectionRatePercent)
				return nil
			})
		},
	}
	addDateFlag(cmd, &date)
	return cmd
}

func newTransformCmd(opts *rootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Enrich processed-zone/<date>.csv with derived business columns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := pipeline.ParseBatchDate(date)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				m, err := a.driver.RunTransformation(ctx, d)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Transformation completed: %d records, %d columns added, total revenue %.2f.\n",
					m.RecordsProcessed, m.ColumnsAdded, m.TotalRevenue)
				return nil
			})
		},
	}
	addDateFlag(cmd, &date)
	return cmd
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run validation and transformation for one batch date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := pipeline.ParseBatchDate(date)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if _, err := a.driver.Run(ctx, d); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Pipeline completed successfully.")
				return nil
			})
		},
	}
	addDateFlag(cmd, &date)
	return cmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		date  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded stage runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				var filter civil.Date
				if date != "" {
					d, err := pipeline.ParseBatchDate(date)
					if err != nil {
						return err
					}
					filter = d
				}
				runs, err := a.recorder.List(ctx, filter, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs recorded.")
					return nil
				}
				for _, r := range runs {
					fmt.Fprintf(out, "%s  %-14s  %s  %-7s  %s  %s\n",
						r.RunID, r.Stage, r.BatchDate, r.Status,
						r.StartedAt.Format(time.RFC3339), r.ErrorMessage)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "Only list runs for this batch date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list (0 for all)")
	return cmd
}

func newUploadCmd(opts *rootOptions) *cobra.Command {
	var (
		date     string
		filePath string
		sheet    string
	)
	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Copy a local CSV or xlsx export into raw-zone/<date>.csv",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := pipeline.ParseBatchDate(date)
			if err != nil {
				return err
			}
			data, err := readRawBatch(filePath, sheet)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				key := blobstore.Key(blobstore.RawZone, d.String())
				log := logger.FromContext(ctx)
				log.Info().
					Str("file", filePath).
					Str("key", key).
					Msg("Uploading raw batch")
				if err := a.store.Put(ctx, key, data); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %s to %s\n", filePath, key)
				return nil
			})
		},
	}
	addDateFlag(cmd, &date)
	cmd.Flags().StringVar(&filePath, "file", "", "Path to the local CSV or xlsx file (required)")
	cmd.Flags().StringVar(&sheet, "sheet", "", "Sheet to read from an xlsx file (default: first sheet)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// readRawBatch loads a raw batch from disk as CSV bytes. Workbooks are
// converted; CSV files are checked and passed through unchanged.
func readRawBatch(filePath, sheet string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file %q: %w", filePath, err)
	}
	if !strings.EqualFold(filepath.Ext(filePath), ".xlsx") {
		if _, err := batch.DecodeTable(data); err != nil {
			return nil, fmt.Errorf("file %q: %w", filePath, err)
		}
		return data, nil
	}

	tbl, err := batch.DecodeXLSX(data, sheet)
	if err != nil {
		return nil, fmt.Errorf("file %q: %w", filePath, err)
	}
	return batch.EncodeTable(tbl)
}
