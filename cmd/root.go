// Package cmd wires up the CLI flags and dispatches to the run modes.
package cmd

import (
	"context"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"portopener/config"
	"portopener/internal/core"
	"portopener/internal/errors"
	"portopener/internal/metrics"
	"portopener/internal/transport"
	"portopener/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X portopener/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

type options struct {
	configPath  string
	dryRun      bool
	showVersion bool
	showHelp    bool
}

// Execute parses args and runs port-opener until ctx is cancelled.
func Execute(ctx context.Context, args []string) error {
	cfg, opts, fs, err := parse(args)
	if err != nil {
		return err
	}

	if opts.showHelp {
		printUsage(fs)
		return nil
	}
	if opts.showVersion {
		fmt.Printf("port-opener %s\n", version)
		return nil
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := util.NewLogger(int(util.LogNormal) + cfg.Verbose)

	if opts.dryRun {
		logger.Info("configuration valid: port=%d ipv=%d connections=%d",
			cfg.Port, cfg.IPVersion, cfg.NumConnections)
		return nil
	}

	if !cfg.ExportOnly {
		raiseFileLimit(logger, cfg.NumConnections)
	}

	// ── build components ─────────────────────────────────────────
	mode, err := core.Build(cfg, logger, metrics.New())
	if err != nil {
		return err
	}
	err = mode.Run(ctx)
	if errors.IsBindError(err) {
		return fmt.Errorf("%w\n  hint: is another process listening on port %d? (use -p to pick another)", err, cfg.Port)
	}
	return err
}

// raiseFileLimit makes room for both ends of every connection.  A limit
// that stays too low is only warned about: the run still starts and
// the server backs off on EMFILE.
func raiseFileLimit(logger *util.Logger, n int) {
	want := transport.DescriptorsFor(n)
	lim, err := transport.RaiseFileLimit(want)
	switch {
	case err != nil:
		logger.Warn("cannot raise open file limit to %d: %v", want, err)
	case lim.Soft < want:
		logger.Warn("open file limit capped at %d by the hard limit; %d connections need %d",
			lim.Soft, n, want)
	default:
		logger.Verbose("open file limit %d (hard %d)", lim.Soft, lim.Hard)
	}
}

// parse layers defaults, the optional ini file, the environment and
// explicitly set flags, in increasing order of precedence.
func parse(args []string) (*config.Config, *options, *flag.FlagSet, error) {
	def := config.Default()
	fl := *def
	opts := &options{}
	fs := flag.NewFlagSet("port-opener", flag.ContinueOnError)

	// ── connections ──────────────────────────────────────────────
	fs.IntVarP(&fl.Port, "port", "p", def.Port, "Port to listen on and connect to")
	fs.IntVarP(&fl.NumConnections, "num-connections", "n", def.NumConnections, "Number of client connections to open")
	fs.IntVar(&fl.IPVersion, "ipv", def.IPVersion, "IP version to use (4 or 6)")

	// ── pacing ───────────────────────────────────────────────────
	fs.DurationVar(&fl.MinInterval, "min-interval", def.MinInterval, "Minimum delay between pings")
	fs.DurationVar(&fl.IntervalSpread, "interval-spread", def.IntervalSpread, "Random delay added to --min-interval")
	fs.MarkHidden("min-interval")    //nolint:errcheck
	fs.MarkHidden("interval-spread") //nolint:errcheck

	// ── exporter ─────────────────────────────────────────────────
	fs.StringVar(&fl.MetricsFile, "metrics-file", def.MetricsFile, "Write connection counts to this node-exporter textfile")
	fs.DurationVar(&fl.MetricsInterval, "metrics-interval", def.MetricsInterval, "Delay between connection counts")
	fs.BoolVar(&fl.ExportOnly, "export-only", false, "Only run the connection exporter")

	// ── output ───────────────────────────────────────────────────
	fs.CountVarP(&fl.Verbose, "verbose", "v", "Increase verbosity (repeatable)")

	fs.StringVar(&opts.configPath, "config", "", "Read settings from an ini file")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Validate configuration and exit")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&opts.showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return nil, nil, fs, err
	}
	if fs.NArg() > 0 {
		return nil, nil, fs, fmt.Errorf("unexpected argument %q (use --help for usage)", fs.Arg(0))
	}

	cfg := config.Default()
	if opts.configPath != "" {
		if err := config.LoadFile(cfg, opts.configPath); err != nil {
			return nil, nil, fs, err
		}
	}
	config.LoadFromEnv(cfg)
	applyFlags(fs, cfg, &fl)

	return cfg, opts, fs, nil
}

// applyFlags copies every flag the user set explicitly onto cfg.
func applyFlags(fs *flag.FlagSet, cfg, fl *config.Config) {
	set := map[string]func(){
		"port":             func() { cfg.Port = fl.Port },
		"num-connections":  func() { cfg.NumConnections = fl.NumConnections },
		"ipv":              func() { cfg.IPVersion = fl.IPVersion },
		"min-interval":     func() { cfg.MinInterval = fl.MinInterval },
		"interval-spread":  func() { cfg.IntervalSpread = fl.IntervalSpread },
		"metrics-file":     func() { cfg.MetricsFile = fl.MetricsFile },
		"metrics-interval": func() { cfg.MetricsInterval = fl.MetricsInterval },
		"export-only":      func() { cfg.ExportOnly = fl.ExportOnly },
		"verbose":          func() { cfg.Verbose = fl.Verbose },
	}
	fs.Visit(func(f *flag.Flag) {
		if apply, ok := set[f.Name]; ok {
			apply()
		}
	})
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `port-opener – TCP connection load generator v%s

Opens a loopback listener and keeps many client connections to it
alive, each sending a ping every %s to %s.

Usage:
  port-opener [options]

Options:
`, version, config.DefaultMinInterval, config.DefaultMinInterval+config.DefaultIntervalSpread)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Environment:
  PORT_OPENER_PORT, PORT_OPENER_NUM_CONNECTIONS, PORT_OPENER_IPV,
  PORT_OPENER_VERBOSE, PORT_OPENER_METRICS_FILE,
  PORT_OPENER_METRICS_INTERVAL, PORT_OPENER_PROC_ROOT,
  PORT_OPENER_EXPORT_ONLY

Examples:
  port-opener                                 100 connections to :8500
  port-opener -p 9000 -n 2000 -v              2000 connections to :9000
  port-opener --ipv 6                         Use ::1
  port-opener --metrics-file /var/lib/node_exporter/tcp.prom
  port-opener --export-only -p 8500 --metrics-file tcp.prom
`)
}
