package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/seqd/internal/config"
	"github.com/roach88/seqd/internal/engine"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string // overrides the config file when set
	Backend    string // overrides the config file when set
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the seqd CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "seqd",
		Short: "seqd - chunk-allocated sequence dispenser",
		Long: `seqd hands out values of named integer sequences.

Sequences are declared in CUE, stored in SQLite or Pebble, and dispensed from
chunks reserved ahead of time so most values never touch the store.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "database path (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Backend, "backend", "", "storage backend: sqlite|pebble (overrides config)")

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewDefineCommand(opts))
	cmd.AddCommand(NewNextCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewDropCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewBenchCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   o.Verbose,
	}
}

// loadConfig reads the config file and applies flag overrides.
func (o *RootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return cfg, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.Database = o.Database
	}
	if o.Backend != "" {
		cfg.Backend = o.Backend
	}
	if err := cfg.Validate(); err != nil {
		return cfg, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}

// session is an open engine plus the logger it writes to.
type session struct {
	engine   *engine.Engine
	logger   *zap.Logger
	closeLog func()
	cfg      config.Config
}

func (s *session) Close() {
	if err := s.engine.Close(); err != nil {
		s.logger.Error("error closing database", zap.Error(err))
	}
	s.closeLog()
}

// openSession loads the config and opens the engine on its database.
// Callers must Close the session.
func (o *RootOptions) openSession(cmd *cobra.Command, extra ...engine.Option) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	logger, closeLog, err := config.NewLogger(cfg.Log, o.Verbose, cmd.ErrOrStderr())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build logger", err)
	}

	ctx := commandContext(cmd)
	opts := append([]engine.Option{engine.WithLogger(logger)}, extra...)
	eng, err := engine.Open(ctx, cfg, opts...)
	if err != nil {
		closeLog()
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	logger.Debug("database ready", zap.String("backend", cfg.Backend), zap.String("path", cfg.Database))
	return &session{engine: eng, logger: logger, closeLog: closeLog, cfg: cfg}, nil
}

// commandContext returns cmd's context, or a background context when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
