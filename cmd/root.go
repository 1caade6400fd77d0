// Package cmd provides the command-line interface of the rule engine.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"ruleengine/bootstrap"
	"ruleengine/config"
	"ruleengine/service"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	outputJSON bool
	configFile string
	noColor    bool
	verbose    bool
)

const defaultTimeout = 30 * time.Second

// NewRootCmd creates the root command with every subcommand attached
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ruleengine",
		Short: "Parse, evaluate and store boolean attribute rules",
		Long: `Parse, evaluate and store boolean attribute rules.

Rules compare catalog attributes against literals and join the comparisons
with AND, OR and parentheses:

  age > 30 AND (department = 'Sales' OR salary >= 50000)`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default: ./config.yaml)")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at the configured level instead of errors only")

	cmd.AddCommand(newParseCmd())
	cmd.AddCommand(newEvalCmd())
	cmd.AddCommand(newCombineCmd())
	cmd.AddCommand(newCatalogCmd())
	cmd.AddCommand(newRulesCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute runs the root command against os.Args
func Execute() error {
	return NewRootCmd().Execute()
}

// initLogger builds the CLI logger. Without --verbose only errors are logged.
func initLogger(cfg *config.Config) (*zap.SugaredLogger, func(), error) {
	level := "error"
	if verbose {
		level = cfg.Log.Level
	}
	logger, sugar, err := bootstrap.InitLogger(level)
	if err != nil {
		return nil, nil, err
	}
	return sugar, func() { _ = logger.Sync() }, nil
}

// initRuleService loads config and builds a rule service. With withStore the
// SQLite store (and redis, when enabled) are opened as well.
func initRuleService(ctx context.Context, withStore bool) (*service.RuleService, func(), error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	sugar, syncLogger, err := initLogger(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if !withStore {
		var none *bootstrap.StorageComponents
		svc, err := none.NewRuleService(cfg, sugar)
		if err != nil {
			syncLogger()
			return nil, nil, err
		}
		return svc, syncLogger, nil
	}

	components, err := bootstrap.InitStorage(ctx, cfg, sugar)
	if err != nil {
		syncLogger()
		return nil, nil, err
	}
	cleanup := func() {
		components.Close(sugar)
		syncLogger()
	}

	svc, err := components.NewRuleService(cfg, sugar)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return svc, cleanup, nil
}

// outputAsJSON writes data as indented JSON
func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
