package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/convpipe/internal/config"
	"github.com/JonMunkholm/convpipe/internal/core"
	"github.com/JonMunkholm/convpipe/internal/logging"
)

var errRowsFailed = errors.New("some rows could not be stored")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errRowsFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		envFile string
		dryRun  bool
		samples int
	)
	cmd := &cobra.Command{
		Use:           "ingest <path.csv>",
		Short:         "Enrich a CSV of conversion rows and store them in PostgreSQL",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if envFile != "" {
				if err := godotenv.Overload(envFile); err != nil {
					return fmt.Errorf("load %s: %w", envFile, err)
				}
			} else {
				_ = godotenv.Overload()
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logging.Setup(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())

			svc := core.NewServiceFromConfig(cfg)
			if dryRun {
				return runPreview(cmd, svc, args[0], samples)
			}
			return runIngest(cmd, svc, cfg.Database.EnsureSchema, args[0])
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", "", "load environment from this file instead of ./.env")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and enrich the file, print a JSON preview and store nothing")
	cmd.Flags().IntVar(&samples, "samples", core.DefaultPreviewSamples, "enriched rows to include in a --dry-run preview")
	return cmd
}

func runIngest(cmd *cobra.Command, svc *core.Service, ensureSchema bool, path string) error {
	ctx := cmd.Context()

	if ensureSchema {
		if err := svc.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %s (%w)", core.MapError(err).Message, err)
		}
	}

	result, _, err := svc.ProcessCSV(ctx, path)
	if err != nil {
		msg := core.MapError(err)
		return fmt.Errorf("%s: %s (%w)", msg.Code, msg.Message, err)
	}

	for _, f := range result.Failures {
		slog.Error("row not stored", "batch_id", result.BatchID, "row", f.Row, "line", f.Line, "code", f.Code, "error", f.Error)
	}
	if !result.OK() {
		fmt.Fprintf(cmd.OutOrStdout(), "%d of %d rows could not be stored\n", result.Total-result.Inserted, result.Total)
		return errRowsFailed
	}

	fmt.Fprintln(cmd.OutOrStdout(), core.SuccessMessage)
	return nil
}

func runPreview(cmd *cobra.Command, svc *core.Service, path string, samples int) error {
	result, err := svc.Preview(cmd.Context(), path, samples)
	if err != nil {
		msg := core.MapError(err)
		return fmt.Errorf("%s: %s (%w)", msg.Code, msg.Message, err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if !result.Valid() {
		return errRowsFailed
	}
	return nil
}
