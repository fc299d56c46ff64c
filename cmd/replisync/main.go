package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/replisync/replisync/cmd"
	"github.com/replisync/replisync/pkg/buildinfo"
	"github.com/replisync/replisync/pkg/config"
	"github.com/replisync/replisync/pkg/rlog"
)

// action selects which command to execute.
type action int

const (
	actionSync action = iota // The default action is a sync pass.
	actionExport
	actionImport
	actionInit
	actionVersion
)

// init sets up a descriptive help message for the command-line flags.
func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s (version %s):\n", buildinfo.Name, buildinfo.Version)
		fmt.Fprintf(flag.CommandLine.Output(), "A bidirectional file tree synchronizer for local and S3 replicas.\n\n")
		flag.PrintDefaults()
	}
}

// flagValues are the parsed command-line flags.
type flagValues struct {
	configPath   string
	pair         string
	side         string
	exportPath   string
	importPath   string
	logLevel     string
	logLevelUsed bool
	verbose      bool
	verboseUsed  bool
	metrics      bool
	parallel     int
}

// parseFlags parses the command line and decides which action to run.
func parseFlags() (action, flagValues, error) {
	var fv flagValues
	flag.StringVar(&fv.configPath, "config", config.ConfigFileName, "Path to the configuration file.")
	flag.StringVar(&fv.pair, "pair", "", "Restrict the run to one named replica pair.")
	flag.StringVar(&fv.side, "replica", cmd.SideLocal, "Replica side for export/import: 'local' or 'remote'.")
	flag.StringVar(&fv.exportPath, "export", "", "Export the chosen replica into a snapshot archive at this path and exit.")
	flag.StringVar(&fv.importPath, "import", "", "Import a snapshot archive from this path into the chosen replica and exit.")
	flag.StringVar(&fv.logLevel, "log-level", "", "Set the logging level: 'trace', 'debug', 'info', 'warn', 'error'.")
	flag.BoolVar(&fv.verbose, "verbose", false, "Log every per-entry sync decision at info level.")
	flag.BoolVar(&fv.metrics, "metrics", false, "Enable pass counters and periodic progress logging.")
	flag.IntVar(&fv.parallel, "parallel", 1, "Number of replica pairs to synchronize concurrently.")
	initFlag := flag.Bool("init", false, "Generate a default config file and exit.")
	versionFlag := flag.Bool("version", false, "Print the application version and exit.")
	flag.Parse()

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "log-level":
			fv.logLevelUsed = true
		case "verbose":
			fv.verboseUsed = true
		}
	})

	if *versionFlag {
		return actionVersion, fv, nil
	}
	if *initFlag {
		return actionInit, fv, nil
	}
	if fv.exportPath != "" && fv.importPath != "" {
		return actionSync, fv, fmt.Errorf("-export and -import are mutually exclusive")
	}
	if fv.exportPath != "" {
		return actionExport, fv, nil
	}
	if fv.importPath != "" {
		return actionImport, fv, nil
	}
	return actionSync, fv, nil
}

// loadConfig reads the config file and applies flag overrides on top of
// the file and environment values.
func loadConfig(fv flagValues) (config.Config, error) {
	cfg, err := config.Load(fv.configPath)
	if err != nil {
		return cfg, err
	}
	if fv.logLevelUsed {
		cfg.LogLevel = fv.logLevel
	}
	if fv.verboseUsed {
		cfg.Verbose = fv.verbose
	}
	rlog.SetLevel(rlog.LevelFromString(cfg.LogLevel))
	return cfg, nil
}

func run(ctx context.Context) error {
	act, fv, err := parseFlags()
	if err != nil {
		return err
	}

	switch act {
	case actionVersion:
		return cmd.RunVersion()
	case actionInit:
		return cmd.RunInit(fv.configPath)
	}

	cfg, err := loadConfig(fv)
	if err != nil {
		return err
	}
	cfg.LogSummary()

	switch act {
	case actionExport:
		return cmd.RunExport(ctx, cfg, fv.pair, fv.side, fv.exportPath)
	case actionImport:
		return cmd.RunImport(ctx, cfg, fv.pair, fv.side, fv.importPath)
	case actionSync:
		return cmd.RunSync(ctx, cfg, cmd.SyncOptions{
			Pair:     fv.pair,
			Parallel: fv.parallel,
			Metrics:  fv.metrics,
		})
	default:
		return fmt.Errorf("internal error: unknown action %d", act)
	}
}

func main() {
	// Cancel the run context on interrupt so a pass stops between entries
	// instead of mid-copy.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rlog.Info("starting "+buildinfo.Name, "version", buildinfo.Version, "pid", os.Getpid())
	if err := run(ctx); err != nil {
		rlog.Error(buildinfo.Name+" exited with error", "error", err)
		os.Exit(1)
	}
}
