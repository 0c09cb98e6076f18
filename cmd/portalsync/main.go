package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fatih/color"

	"portalsync/internal/config"
	"portalsync/internal/daemon"
	"portalsync/internal/history"
	"portalsync/internal/metrics"
	"portalsync/internal/run"
	"portalsync/internal/version"
)

var CLI struct {
	Config  string           `short:"c" help:"Configuration file path" default:"portalsync.yaml"`
	Verbose bool             `short:"v" help:"Enable verbose logging"`
	Version kong.VersionFlag `help:"Show version and exit"`

	Run struct {
	} `cmd:"" help:"Execute one harvest-and-sync pipeline run"`

	Daemon struct {
	} `cmd:"" help:"Run the pipeline on the configured cron schedule"`

	History struct {
		Limit int `short:"n" help:"Number of runs to show" default:"10"`
	} `cmd:"" help:"Show recent pipeline runs"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`
}

func main() {
	kctx := kong.Parse(&CLI, kong.Vars{"version": version.String()})

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	switch kctx.Command() {
	case "run":
		cfg := mustLoadConfig()
		if err := runOnce(cfg); err != nil {
			os.Exit(1)
		}
	case "daemon":
		cfg := mustLoadConfig()
		if err := runDaemon(cfg); err != nil {
			slog.Error("Daemon failed", "error", err)
			os.Exit(1)
		}
	case "history":
		cfg := mustLoadConfig()
		if err := showHistory(cfg, CLI.History.Limit); err != nil {
			slog.Error("History failed", "error", err)
			os.Exit(1)
		}
	case "init":
		if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration written to %s\n", CLI.Config)
	}
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}

// runOnce executes a single pipeline run with the history ledger attached and
// prints a colored summary.
func runOnce(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := run.NewPipeline(cfg)
	if ledger, err := history.Open(cfg.History.Path); err == nil {
		defer ledger.Close()
		runner.WithLedger(ledger)
	} else {
		slog.Warn("Run history unavailable", "error", err)
	}

	res, err := runner.Run(ctx)
	printSummary(res)
	return err
}

func runDaemon(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recorder := metrics.NewPrometheusRecorder(nil)
	runner := run.NewPipeline(cfg).WithRecorder(recorder)
	if ledger, err := history.Open(cfg.History.Path); err == nil {
		defer ledger.Close()
		runner.WithLedger(ledger)
	} else {
		slog.Warn("Run history unavailable", "error", err)
	}

	d, err := daemon.New(cfg.Daemon, runner.Run, recorder)
	if err != nil {
		return err
	}
	return d.Start(ctx)
}

func showHistory(cfg *config.Config, limit int) error {
	ledger, err := history.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer ledger.Close()

	entries, err := ledger.Recent(limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}
	for _, e := range entries {
		state := stateColor(e.State).Sprint(e.State)
		line := fmt.Sprintf("%s  %-24s %s  artifacts=%d", e.Started.Format("2006-01-02 15:04:05"), state, e.RunID[:8], e.Artifacts)
		if len(e.Failed) > 0 {
			line += fmt.Sprintf("  failed=%v", e.Failed)
		}
		if e.Error != "" {
			line += "  error=" + e.Error
		}
		fmt.Println(line)
	}
	return nil
}

func printSummary(res *run.Result) {
	if res == nil {
		return
	}
	fmt.Println()
	fmt.Printf("Run %s finished in %s\n", res.RunID[:8], res.Finished.Sub(res.Started).Round(time.Millisecond))
	fmt.Printf("State:     %s\n", stateColor(string(res.State)).Sprint(res.State))
	fmt.Printf("Artifacts: %d\n", len(res.Artifacts))
	for _, a := range res.Artifacts {
		fmt.Printf("  %s\n", a)
	}
	if len(res.Failed) > 0 {
		color.Yellow("Failed targets: %v", res.Failed)
	}
}

func stateColor(state string) *color.Color {
	switch state {
	case string(run.StateDone):
		return color.New(color.FgGreen)
	case string(run.StateFailed):
		return color.New(color.FgRed)
	default:
		return color.New(color.FgYellow)
	}
}
