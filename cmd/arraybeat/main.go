// Command arraybeat polls storage array metrics and ships them to a
// time series sink. Per-array collector loops fetch historical windows
// at the finest resolution the array still retains, a bounded queue
// decouples them from the single delivery writer, and a small HTTP API
// reports collection progress.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/arraybeat/arraybeat/internal/config"
	"github.com/arraybeat/arraybeat/internal/logging"
	"github.com/arraybeat/arraybeat/internal/timestamp"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var (
		configPath      string
		showVersion     bool
		validateConfig  bool
		listCollectors  bool
		jsonLog         bool
		debug           bool
		silent          bool
		retentionPolicy string
		initialStart    string
	)

	flag.StringVar(&configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/arraybeat.toml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.BoolVar(&validateConfig, "validate-config", false, "validate the configuration and exit")
	flag.BoolVar(&listCollectors, "list-collectors", false, "print all available collectors with a short description")
	flag.BoolVar(&jsonLog, "json-log", false, "output log messages as single line JSON instead of plain text")
	flag.BoolVar(&debug, "debug", false, "switch to DEBUG log level")
	flag.BoolVar(&silent, "silent", false, "switch to WARNING log level")
	flag.StringVar(&retentionPolicy, "retention-policy", "", "existing retention policy for all InfluxDB writes, overrides the config file")
	flag.StringVar(&initialStart, "initial-start-time", "", "start time for the first collection round, as UNIX milliseconds or ISO-8601; at most one year back")
	flag.Parse()

	if showVersion {
		fmt.Printf("Arraybeat - Storage Array Metrics Collector\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	if listCollectors {
		printCollectors()
		return
	}

	if debug && silent {
		fmt.Fprintln(os.Stderr, "Error: -debug and -silent are mutually exclusive")
		os.Exit(1)
	}

	level := zapcore.InfoLevel
	switch {
	case debug:
		level = zapcore.DebugLevel
	case silent:
		level = zapcore.WarnLevel
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if validateConfig {
		fmt.Println("Config is valid")
		return
	}

	var initial time.Time
	if initialStart != "" {
		initial, err = timestamp.ParseStart(initialStart, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: -initial-start-time: %v\n", err)
			os.Exit(1)
		}
	}
	if retentionPolicy != "" {
		cfg.InfluxDB.RetentionPolicy = retentionPolicy
	}

	logger, err := logging.New(logging.Options{Level: level, JSON: jsonLog})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if !jsonLog && !silent {
		printStartupBanner(cfg)
	}

	if err := runDaemon(cfg, logger, initial); err != nil {
		logger.Error("exiting with error", zap.Error(err))
		os.Exit(1)
	}
}
