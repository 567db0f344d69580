// Package commands holds the finimport command line.
package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/finimport/internal/config"
	"github.com/JonMunkholm/finimport/internal/core"
	"github.com/JonMunkholm/finimport/internal/logging"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "finimport",
		Short:         "Import personal finance CSV and XLSX files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		newServeCmd(),
		newImportCmd(),
		newTemplateCmd(),
		newSchemasCmd(),
	)
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describeError(err))
		os.Exit(1)
	}
}

// describeError adds the coded user message when err is one the import
// engine knows.
func describeError(err error) string {
	if !core.IsUserFacing(err) {
		return err.Error()
	}
	return err.Error() + "\n  " + core.FormatUserError(err)
}

// loadConfig reads .env (overriding the environment, as in development),
// loads the config and installs a logger writing to logOut.
func loadConfig(logOut io.Writer) (*config.Config, error) {
	envErr := godotenv.Overload()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logging.New(logOut, cfg.Logging.Level, cfg.Logging.Format))

	if envErr != nil {
		slog.Debug("no .env file found, using environment variables")
	} else {
		slog.Debug("loaded .env file")
	}
	return cfg, nil
}

// serviceOptions maps the import config onto core.Options.
func serviceOptions(cfg *config.Config, rec core.Recorder) core.Options {
	var sizes map[core.EntityKind]int
	if overrides := cfg.Import.BatchSizeOverrides(); len(overrides) > 0 {
		sizes = make(map[core.EntityKind]int, len(overrides))
		for entity, n := range overrides {
			sizes[core.EntityKind(entity)] = n
		}
	}
	return core.Options{
		BatchSize:            cfg.Import.BatchSize,
		BatchSizes:           sizes,
		BatchTimeout:         cfg.Import.BatchTimeout,
		AutoCreateCategories: cfg.Import.AutoCreateCategories,
		RunTTL:               cfg.Import.RunTTL,
		MaxConcurrent:        cfg.Import.MaxConcurrent,
		MaxWait:              cfg.Import.MaxWaitTime,
		Recorder:             rec,
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
