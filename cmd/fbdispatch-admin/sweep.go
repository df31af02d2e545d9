package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/target/fbdispatch/internal/bootstrap"
	"github.com/target/fbdispatch/internal/data"
	"github.com/target/fbdispatch/internal/service"
	"github.com/target/fbdispatch/internal/util"
)

type sweepOptions struct {
	MaxAge  time.Duration
	Timeout time.Duration
	JSON    bool
}

func runSweep(cmdCtx *commandContext, args []string) error {
	opts, err := parseSweepFlags(args, cmdCtx.Config.Sweeper.MaxAge)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	db, redisClient, err := connectInfra(ctx, cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeInfra(db, redisClient); cerr != nil {
			cmdCtx.Logger.Warn("close infra failed", "error", cerr)
		}
	}()

	sweepCfg := cmdCtx.Config.Sweeper
	sweepCfg.MaxAge = opts.MaxAge
	runner, err := bootstrap.NewSweeperRunner(bootstrap.SweeperRunConfig{
		DB: db,
		Blobs: data.NewBlobRepo(redisClient, data.BlobRepoConfig{
			KeyPrefix: cmdCtx.Config.Blob.KeyPrefix,
			TTL:       cmdCtx.Config.Blob.TTL,
			Logger:    cmdCtx.Logger,
		}),
		Config: sweepCfg,
		Logger: cmdCtx.Logger,
	})
	if err != nil {
		return err
	}

	report, err := runner.SweepOnce(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	return printSweepReport(cmdCtx, report, opts.JSON)
}

func printSweepReport(cmdCtx *commandContext, report service.SweepReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(cmdCtx.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"finished":     report.Finished,
			"force_closed": report.ForceClosed,
			"elapsed_ms":   report.Elapsed.Milliseconds(),
		})
	}
	return writef(cmdCtx.Out, "Finished:     %d\nForce-closed: %d\nElapsed:      %s\n",
		report.Finished, report.ForceClosed, util.FormatElapsed(report.Elapsed))
}

func parseSweepFlags(args []string, defaultMaxAge time.Duration) (sweepOptions, error) {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts sweepOptions
	fs.DurationVar(&opts.MaxAge, "max-age", defaultMaxAge, "Force-close documents open longer than this")
	fs.DurationVar(&opts.Timeout, "timeout", 5*time.Minute, "Maximum duration of the pass")
	fs.BoolVar(&opts.JSON, "json", false, "Print the report as JSON")

	if err := fs.Parse(args); err != nil {
		return sweepOptions{}, err
	}
	if opts.MaxAge < time.Minute {
		return sweepOptions{}, fmt.Errorf("--max-age must be at least 1m, got %s", opts.MaxAge)
	}
	if opts.Timeout <= 0 {
		return sweepOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}
