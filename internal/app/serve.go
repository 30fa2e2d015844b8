package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"horse.fit/flashpoint/internal/cli"
	"horse.fit/flashpoint/internal/httpapi"
	"horse.fit/flashpoint/internal/logging"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "0.0.0.0", "Host interface to bind")
	port := fs.Int("port", 8090, "HTTP port")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 5*time.Minute, "HTTP write timeout; batch submissions run synchronously")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	noSweep := fs.Bool("no-sweep", false, "Disable the scheduled escalation sweep")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *port <= 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}

	cfg, logger, err := loadRuntime(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newPipelineRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("serve setup failed")
		fmt.Fprintf(os.Stderr, "Serve setup failed: %v\n", err)
		return 1
	}
	defer rt.Close()
	rt.recorder.ObserveRegions(rt.aggregator.Snapshot())

	if !*noSweep {
		scheduler, err := rt.newScheduler()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid SWEEP_SCHEDULE: %v\n", err)
			return 1
		}
		scheduler.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
			defer cancel()
			scheduler.Stop(stopCtx)
		}()
		logger.Info().Str("schedule", cfg.SweepSchedule).Msg("escalation sweep scheduled")
	}

	srv := httpapi.NewServer(httpapi.Dependencies{
		Events:  rt.store,
		Runner:  rt.service,
		Regions: rt.aggregator,
		Metrics: rt.recorder.Handler(),
	}, logging.Component(logger, "http"), httpapi.Options{
		Host:            *host,
		Port:            *port,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
	})

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}

	return 0
}
