package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/phiinfo/phi-extract/internal/config"
	"github.com/phiinfo/phi-extract/internal/detector"
	"github.com/phiinfo/phi-extract/internal/extractor"
	"github.com/phiinfo/phi-extract/internal/manifest"
)

var (
	// Version information
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	configPath string
	logFormat  string

	cfg    *config.Config
	logger *slog.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "phi-extract",
	Short: "Extract game assets from Phigros APKs without unpacking them",
	Long: `phi-extract resolves logical asset paths through the game's addressables
catalog, opens the referenced UnityFS bundles and extracts charts, music and
illustrations.

Inputs may be:
  - a local APK (zip archive)
  - an unpacked directory
  - an http(s) URL to an APK, read with Range requests

The pack command extracts every asset named by an info document into a single
deduplicated tar package.`,
	Version:           fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// An interrupt cancels the running command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: $"+config.EnvVar+")")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: json or text (overrides config)")
}

// setup loads the configuration and installs the logger
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if logFormat != "" {
		cfg.LogFormat = logFormat
	}

	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = slog.LevelDebug
	}
	logger, err = newLogger(cmd.ErrOrStderr(), cfg.LogFormat, level)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	return nil
}

func newLogger(w io.Writer, format string, level slog.Level) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "json", "":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log format must be json or text, got %q", format)
	}
}

// newOrchestrator builds an orchestrator from the loaded configuration.
// format is a name accepted by detector.ParseFormat.
func newOrchestrator(format string) (*extractor.Orchestrator, error) {
	force, err := detector.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	return extractor.NewOrchestrator(extractor.Options{
		CatalogEntry: cfg.CatalogEntry,
		BundlePrefix: cfg.BundlePrefix,
		ForceFormat:  force,
		Resolver: &manifest.Resolver{
			ChapterRoot: cfg.ChapterRoot,
			Rewrites:    cfg.Rewrites,
		},
		MaxPayload: cfg.MaxPayload,
		ReadAhead:  int(cfg.ReadAhead),
		Logger:     logger,
	}), nil
}
