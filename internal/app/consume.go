package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"horse.fit/flashpoint/internal/cli"
	"horse.fit/flashpoint/internal/logging"
	"horse.fit/flashpoint/internal/model"
	"horse.fit/flashpoint/internal/pipeline"
	"horse.fit/flashpoint/internal/source"
)

func runConsume(args []string) int {
	fs := flag.NewFlagSet("consume", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	brokersRaw := fs.String("brokers", "", "Comma-separated Kafka brokers (overrides KAFKA_BROKERS)")
	topic := fs.String("topic", "", "Kafka topic (overrides KAFKA_TOPIC)")
	groupID := fs.String("group", "", "Kafka consumer group (overrides KAFKA_GROUP_ID)")
	batchSize := fs.Int("batch-size", source.DefaultKafkaBatchSize, "Articles per batch")
	flushInterval := fs.Duration("flush-interval", source.DefaultKafkaFlushInterval, "Flush a partial batch after this long")
	metricsAddr := fs.String("metrics-addr", "", "Serve /metrics on this address, e.g. :9090 (disabled when empty)")
	noSweep := fs.Bool("no-sweep", false, "Disable the scheduled escalation sweep")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *batchSize <= 0 || *flushInterval <= 0 {
		fmt.Fprintln(os.Stderr, "--batch-size and --flush-interval must be > 0")
		return 2
	}

	cfg, logger, err := loadRuntime(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	brokers := cfg.KafkaBrokerList()
	if strings.TrimSpace(*brokersRaw) != "" {
		brokers = splitCSV(*brokersRaw)
	}
	kafkaTopic := firstNonEmpty(*topic, cfg.KafkaTopic)
	kafkaGroup := firstNonEmpty(*groupID, cfg.KafkaGroupID)
	if len(brokers) == 0 {
		fmt.Fprintln(os.Stderr, "KAFKA_BROKERS or --brokers is required")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newPipelineRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("consume setup failed")
		fmt.Fprintf(os.Stderr, "Consume setup failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	consumer, err := source.NewKafkaConsumer(source.KafkaOptions{
		Brokers:       brokers,
		Topic:         kafkaTopic,
		GroupID:       kafkaGroup,
		BatchSize:     *batchSize,
		FlushInterval: *flushInterval,
	}, batchHandler(rt.service, "kafka:"+kafkaTopic), logging.Component(logger, "kafka"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create Kafka consumer: %v\n", err)
		return 1
	}

	if !*noSweep {
		scheduler, err := rt.newScheduler()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid SWEEP_SCHEDULE: %v\n", err)
			return 1
		}
		scheduler.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			scheduler.Stop(stopCtx)
		}()
	}

	if addr := strings.TrimSpace(*metricsAddr); addr != "" {
		metricsServer := &http.Server{
			Addr:              addr,
			Handler:           rt.recorder.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().
		Strs("brokers", brokers).
		Str("topic", kafkaTopic).
		Str("group", kafkaGroup).
		Msg("consuming articles")

	if err := consumer.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("consumer failed")
		fmt.Fprintf(os.Stderr, "Consumer failed: %v\n", err)
		return 1
	}
	return 0
}

type batchRunner interface {
	RunBatch(ctx context.Context, articles []model.Article, opts pipeline.RunOptions) (pipeline.BatchReport, error)
}

// batchHandler leaves a batch uncommitted when the pipeline refuses it or stops early, so the
// consumer group redelivers it. Re-delivered articles resolve as duplicates.
func batchHandler(runner batchRunner, label string) source.BatchHandler {
	return func(ctx context.Context, articles []model.Article) error {
		report, err := runner.RunBatch(ctx, articles, pipeline.RunOptions{Source: label})
		if err != nil {
			return err
		}
		if report.Cancelled {
			return fmt.Errorf("batch %s cancelled with %d articles remaining", report.RunUUID, report.Remaining)
		}
		return nil
	}
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
