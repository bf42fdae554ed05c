package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"photo-organizer/export/internal/autotag"
	"photo-organizer/export/internal/catalog"
	"photo-organizer/export/internal/config"
	"photo-organizer/export/internal/retention"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "photo-export",
		Short:         "Photo catalog export service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (YAML)")

	loadConfig := func() (config.Config, error) {
		return config.Load(configFlag)
	}
	rootCmd.AddCommand(newServeCommand(loadConfig))
	rootCmd.AddCommand(newSweepCommand(loadConfig))
	rootCmd.AddCommand(newImportCommand(loadConfig))
	return rootCmd
}

func newServeCommand(loadConfig func() (config.Config, error)) *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the export API and/or worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, mode)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", modeAll, "run mode: all|api|worker")
	return cmd
}

func newSweepCommand(loadConfig func() (config.Config, error)) *cobra.Command {
	var maxAgeHours int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired export archives once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			maxAge := cfg.Retention()
			if maxAgeHours > 0 {
				maxAge = time.Duration(maxAgeHours) * time.Hour
			}
			res, err := retention.NewSweeper(cfg.ExportDir, logger).Sweep(maxAge)
			if err != nil {
				return err
			}
			out := map[string]any{
				"deleted":     res.Deleted,
				"freed_bytes": res.FreedBytes,
				"freed":       humanize.Bytes(uint64(res.FreedBytes)),
			}
			if err := writeCommandJSON(cmd, out); err != nil {
				return err
			}
			return res.Err()
		},
	}
	cmd.Flags().IntVar(&maxAgeHours, "max-age-hours", 0, "override the configured retention window")
	return cmd
}

func newImportCommand(loadConfig func() (config.Config, error)) *cobra.Command {
	var withAutotag bool
	cmd := &cobra.Command{
		Use:   "import DIR",
		Short: "Add the images under DIR to the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := catalog.Open(cfg.CatalogDSN)
			if err != nil {
				return err
			}
			defer store.Close()

			var classifier catalog.Classifier
			if withAutotag || cfg.AutotagEnabled {
				if cfg.AutotaggerURL == "" {
					return errors.New("autotagging requested but AUTOTAGGER_URL is not set")
				}
				classifier = autotag.NewClient(cfg.AutotaggerURL, cfg.AutotagMinConfidence, nil)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			res, err := catalog.NewImporter(store, classifier, logger).Import(ctx, args[0])
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			failures := make([]string, 0, len(res.Errors))
			for _, e := range res.Errors {
				failures = append(failures, e.Error())
			}
			if werr := writeCommandJSON(cmd, map[string]any{
				"scanned": res.Scanned,
				"added":   res.Added,
				"skipped": res.Skipped,
				"tagged":  res.Tagged,
				"errors":  failures,
			}); werr != nil {
				return werr
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&withAutotag, "autotag", false, "tag new images with the external classifier")
	return cmd
}

func writeCommandJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
