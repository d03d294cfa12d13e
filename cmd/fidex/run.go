package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/fidex"
	"github.com/hazyhaar/fidex/artifact"
	"github.com/hazyhaar/fidex/idgen"
	"github.com/hazyhaar/fidex/interact"
	"github.com/hazyhaar/fidex/internal/browser"
	"github.com/hazyhaar/fidex/internal/config"
	"github.com/hazyhaar/fidex/internal/store"
	"github.com/hazyhaar/fidex/override"
	"github.com/hazyhaar/fidex/telemetry"
)

func newRunCommand(root *rootOptions) *cobra.Command {
	var (
		capFlag int
		shuffle bool
		stdout  bool
	)
	cmd := &cobra.Command{
		Use:   "run <url>",
		Short: "Measure one page load",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("cap") {
				cfg.Interaction.Cap = capFlag
			}
			if cmd.Flags().Changed("shuffle") {
				cfg.Interaction.Shuffle = shuffle
			}
			if cmd.Flags().Changed("stdout") {
				cfg.Output.Stdout = stdout
			}
			if err := measure(cmd.Context(), root.logger, cfg, args[0]); err != nil {
				root.logger.Error("fidex: run failed", "url", args[0], "error", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&capFlag, "cap", 0, "max candidates to trigger (overrides interaction.cap)")
	cmd.Flags().BoolVar(&shuffle, "shuffle", false, "trigger candidates in random order")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "also stream stages and artifacts as JSON lines")
	return cmd
}

func measure(ctx context.Context, log *slog.Logger, cfg *config.Config, pageURL string) (err error) {
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		if serr := shutdown(context.WithoutCancel(ctx)); serr != nil {
			log.Warn("fidex: telemetry shutdown", "error", serr)
		}
	}()

	handler, err := overrideHandler(cfg, log)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Output.DB)
	if err != nil {
		return err
	}
	defer db.Close()

	runID := idgen.Run()
	dirName := idgen.Timestamped(func() string { return runID })()
	dir, err := artifact.NewDir(filepath.Join(cfg.Output.Dir, dirName))
	if err != nil {
		return err
	}
	run := &store.Run{ID: runID, URL: pageURL, Mode: runMode(cfg), Dir: dir.Path()}
	if err := db.CreateRun(ctx, run); err != nil {
		return err
	}
	log = log.With("run_id", runID)
	log.Info("fidex: run started", "dir", dir.Path(), "mode", run.Mode)

	var res *fidex.Result
	defer func() {
		bg := context.WithoutCancel(ctx)
		if res != nil {
			if cerr := db.SetCounts(bg, runID, res.Candidates, len(res.Records)); cerr != nil {
				log.Warn("fidex: record counts", "error", cerr)
			}
		}
		if ferr := db.FinishRun(bg, runID, err); ferr != nil {
			log.Warn("fidex: finish run", "error", ferr)
		}
	}()

	sinks := []artifact.Sink{dir, artifact.NewStore(db, runID)}
	if cfg.Output.Stdout {
		sinks = append(sinks, artifact.NewLines(os.Stdout))
	}
	sink := artifact.NewRouter(log, sinks...)
	defer sink.Close()

	mgr := browser.NewManager(browserConfig(cfg, log))
	b, err := mgr.Start(ctx)
	if err != nil {
		return err
	}
	defer mgr.Close()

	tab, err := browser.OpenTab(ctx, b, browser.TabOptions{NavigateTimeout: cfg.Browser.NavigateTimeout, Logger: log})
	if err != nil {
		return err
	}
	defer tab.Close()

	runner := fidex.NewRunner(sink, runnerOptions(cfg, handler, log))
	res, err = runner.Run(ctx, tab, pageURL)
	return err
}

func runMode(cfg *config.Config) string {
	if cfg.Override.Mode == config.OverrideTimeTravel || cfg.Interaction.FramePattern != "" {
		return "archive"
	}
	return "live"
}

func overrideHandler(cfg *config.Config, log *slog.Logger) (override.Handler, error) {
	switch cfg.Override.Mode {
	case config.OverrideStatic:
		rules, err := override.ReadRules(cfg.Override.RulesFile)
		if err != nil {
			return nil, err
		}
		return override.NewStatic(rules, log), nil
	case config.OverrideTimeTravel:
		return override.NewTimeTravel(override.Policy{
			Primary: cfg.Override.Primary,
			Patch:   cfg.Override.Patch,
			Subject: cfg.Override.Subject,
		}), nil
	case config.OverrideNone:
		return nil, nil
	}
	return nil, errors.New("fidex: unknown override mode " + cfg.Override.Mode)
}

func browserConfig(cfg *config.Config, log *slog.Logger) browser.Config {
	b := cfg.Browser
	return browser.Config{
		RemoteURL:    b.Remote,
		Bin:          b.Bin,
		Headful:      b.Mode == "headful",
		XvfbDisplay:  b.XvfbDisplay,
		UserDataDir:  b.UserDataDir,
		Proxy:        b.Proxy,
		ExtensionDir: b.ExtensionDir,
		WindowWidth:  b.WindowWidth,
		WindowHeight: b.WindowHeight,
		Logger:       log,
	}
}

func runnerOptions(cfg *config.Config, handler override.Handler, log *slog.Logger) fidex.Options {
	ic := cfg.Interaction
	opts := fidex.Options{
		Cap:             ic.Cap,
		Shuffle:         ic.Shuffle,
		Grouping:        !ic.DisableGrouping,
		LoadSettle:      ic.LoadSettle,
		Settle:          ic.Settle,
		ElementSettle:   ic.ElementSettle,
		AsyncStackDepth: cfg.Trace.AsyncStackDepth,
		NoisePrefixes:   cfg.Trace.NoisePrefixes,
		Override:        handler,
		Logger:          log,
	}
	if ic.Seed != 0 {
		opts.Rand = rand.New(rand.NewPCG(ic.Seed, ic.Seed))
	}
	if ic.FramePattern != "" {
		opts.Surface = fidex.FramePattern(ic.FramePattern, interact.Poll{
			Attempts: ic.ResolveAttempts,
			Interval: ic.ResolveInterval,
		}, log)
	}
	return opts
}
