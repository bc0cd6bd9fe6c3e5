// Package cli implements the releasepipe command line.
package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"releasepipe/internal/config"
)

// ErrRunFailed is returned by the run command when the pipeline did not
// succeed. The report has already been printed.
var ErrRunFailed = errors.New("pipeline run failed")

type app struct {
	v      *viper.Viper
	level  *slog.LevelVar
	cfg    *config.Config
	logger *slog.Logger
}

// NewRootCmd builds the command tree. level is adjusted from the loaded
// configuration so the handler installed by main follows --log-level.
func NewRootCmd(level *slog.LevelVar) *cobra.Command {
	if level == nil {
		level = new(slog.LevelVar)
	}
	a := &app{v: config.New(), level: level}

	root := &cobra.Command{
		Use:   "releasepipe",
		Short: "Release pipeline orchestrator",
		Long: `releasepipe runs the release pipeline for a source-control event:
a database-version test matrix, docs and image builds in parallel, then a
gated publish of the image to the registry.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.initConfig,
	}

	root.PersistentFlags().StringP("config", "c", "", "config file (YAML)")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = a.v.BindPFlag("log.level", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(a.newRunCmd(), a.newServeCmd(), a.newResolveCmd())
	return root
}

func (a *app) initConfig(cmd *cobra.Command, _ []string) error {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	if err := a.level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}

	a.cfg = cfg
	a.logger = slog.Default()
	return nil
}
