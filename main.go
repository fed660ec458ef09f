package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"barcode-picker-go/internal/config"
	"barcode-picker-go/internal/ui"
)

// Version information - set by linker flags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GoVersion = "unknown"
)

var (
	configPath string
	verbose    bool
	jsonOutput bool

	cfg    *config.Config
	logger *logrus.Logger

	rootCmd = &cobra.Command{
		Use:           "barcode-picker",
		Short:         "Live barcode picker for V4L2 cameras",
		Long:          "Scans barcodes from a camera stream in a window, or from still images on the command line.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runScan,
	}

	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Open the live picker window (default)",
		Args:  cobra.NoArgs,
		RunE:  runScan,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.ini (default: ./config.ini or $BARCODE_PICKER_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON and log as JSON to stderr")
	rootCmd.PersistentPreRunE = setup

	rootCmd.AddCommand(scanCmd, imageCmd, parseCmd, camerasCmd)

	rootCmd.Version = Version
	rootCmd.SetVersionTemplate(fmt.Sprintf("Barcode Picker %s\n  Build time: %s\n  Go version: %s\n  Platform:   %s/%s\n",
		Version, BuildTime, GoVersion, runtime.GOOS, runtime.GOARCH))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.WithError(err).Error("command failed")
		} else {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// setup loads the configuration and installs the logger. Commands other than
// scan keep stdout for their results and log to stderr.
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: config load error: %v (using defaults)\n", err)
		cfg = config.DefaultConfig()
	}

	opts := config.LogOptions{Verbose: verbose, JSON: jsonOutput}
	if cmd != rootCmd && cmd != scanCmd {
		opts.Console = os.Stderr
	}
	var logCleanup func()
	logger, logCleanup, err = config.ConfigureLogging(cfg, opts)
	if err != nil {
		logger.WithError(err).Warn("log file unavailable, logging to console only")
	}
	cobra.OnFinalize(logCleanup)

	ok, warnings := cfg.Validate()
	if !ok {
		logger.Warn("config validation failed")
	}
	for _, w := range warnings {
		logger.Warn(w)
	}
	return nil
}

func runScan(*cobra.Command, []string) error {
	logger.WithFields(logrus.Fields{
		"version":    Version,
		"resolution": cfg.Resolution,
		"scan_fps":   cfg.TargetScanningFPS,
		"dynamic":    cfg.DynamicFPSEnabled,
		"style":      cfg.GuiStyle,
	}).Info("barcode picker starting")

	app, err := ui.NewApp(cfg, logger)
	if err != nil {
		return err
	}

	// Setup signal handling for clean shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig).Info("received signal, cleaning up")
		app.Cleanup()
	}()

	app.Start()
	signal.Stop(sigCh)
	app.Stop()
	return nil
}
