package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	gjest "github.com/gjest/gjest"
	"github.com/gjest/gjest/exitcodes"
	"github.com/gjest/gjest/flags"
	"github.com/gjest/gjest/logging"
)

var (
	Version   = "v0.3.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "gjest"
	app.Usage = "Jest-style test orchestrator for Go projects"
	app.Description = "gjest discovers test units, schedules them across workers, " +
		"and reports results to the console and to JSON, TAP and JUnit artifacts"
	app.ArgsUsage = "[targets]"
	app.Flags = flags.Flags
	app.Action = run
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			if gjest.IsRuntimeError(err) {
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.RuntimeErr))
			} else {
				// Test failures and anything untyped exit with code 1.
				cli.HandleExitCoder(cli.Exit(err.Error(), exitcodes.TestFailure))
			}
		}
	}

	// Telemetry is opt-in: without an OTLP endpoint the pipeline stays off.
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		shutdown, err := otelconfig.ConfigureOpenTelemetry(
			otelconfig.WithServiceName(app.Name),
			otelconfig.WithServiceVersion(app.Version),
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to set up telemetry: %v\n", err)
			os.Exit(exitcodes.RuntimeErr)
		}
		defer shutdown()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitcodes.RuntimeErr)
	}
}

func run(cliCtx *cli.Context) error {
	log, err := logging.NewLogger(cliCtx.String(flags.LogLevel.Name))
	if err != nil {
		return gjest.NewRuntimeError(fmt.Errorf("failed to create logger: %w", err))
	}
	zap.ReplaceGlobals(log.Desugar())

	cfg, err := gjest.NewConfig(cliCtx, log)
	if err != nil {
		return gjest.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	// The project config file may change the log level.
	if cfg.LogLevel != cliCtx.String(flags.LogLevel.Name) {
		if log, err = logging.NewLogger(cfg.LogLevel); err != nil {
			return gjest.NewRuntimeError(fmt.Errorf("failed to create logger: %w", err))
		}
		cfg.Log = log
		zap.ReplaceGlobals(log.Desugar())
	}
	defer func() { _ = log.Sync() }()

	appCtx, cancel := context.WithCancelCause(cliCtx.Context)
	defer cancel(nil)

	app, err := gjest.New(appCtx, cfg, Version, cancel)
	if err != nil {
		return gjest.NewRuntimeError(fmt.Errorf("failed to create app: %w", err))
	}

	if err := app.Start(appCtx); err != nil {
		return err
	}

	// Run-once invocations cancel the context themselves; watch mode waits
	// here for an interrupt.
	<-appCtx.Done()

	if err := app.Stop(context.Background()); err != nil {
		log.Errorw("Failed to stop cleanly", "error", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer waitCancel()
	_ = app.WaitForShutdown(waitCtx)

	if cause := context.Cause(appCtx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}
