package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"horse.fit/flashpoint/internal/cli"
	"horse.fit/flashpoint/internal/logging"
	"horse.fit/flashpoint/internal/pipeline"
	"horse.fit/flashpoint/internal/resolve"
	"horse.fit/flashpoint/internal/source"
)

// stringList is a repeatable string flag.
type stringList []string

func (l *stringList) String() string {
	if l == nil {
		return ""
	}
	return strings.Join(*l, ",")
}

func (l *stringList) Set(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("value must not be empty")
	}
	*l = append(*l, trimmed)
	return nil
}

func runResolve(args []string) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	var files, feeds stringList
	fs.Var(&files, "file", "Article JSON array, JSONL file or directory (repeatable)")
	fs.Var(&feeds, "feed", "RSS or Atom feed URL (repeatable)")
	feedCountry := fs.String("feed-country", "", "Country applied to feed items that carry none")
	feedMaxItems := fs.Int("feed-max-items", 200, "Maximum items read per feed")
	fetchSummaries := fs.Bool("fetch-missing-summaries", false, "Fetch the linked page for feed items without a description")
	sourceName := fs.String("source", "", "Source label recorded on the run (defaults to the inputs)")
	dryRun := fs.Bool("dry-run", false, "Classify and geocode without writing events or runs")
	formatRaw := fs.String("format", outputFormatTable, "Output format: table or json")
	showOutcomes := fs.Bool("outcomes", true, "Print one row per article in table output")
	timeout := fs.Duration("timeout", 30*time.Minute, "Overall batch timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "resolve does not accept positional args; use --file or --feed")
		return 2
	}
	if len(files) == 0 && len(feeds) == 0 {
		fmt.Fprintln(os.Stderr, "at least one --file or --feed is required")
		return 2
	}
	if *feedMaxItems <= 0 {
		fmt.Fprintln(os.Stderr, "--feed-max-items must be > 0")
		return 2
	}
	if *timeout <= 0 {
		fmt.Fprintln(os.Stderr, "--timeout must be > 0")
		return 2
	}
	format, err := parseOutputFormat(*formatRaw, outputFormatTable)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, logger, err := loadRuntime(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sources := make([]source.Source, 0, len(files)+len(feeds))
	for _, path := range files {
		sources = append(sources, source.NewFileSource(path, logging.Component(logger, "source")))
	}
	for _, feedURL := range feeds {
		sources = append(sources, source.NewFeedSource(feedURL, source.FeedOptions{
			Country:               *feedCountry,
			MaxItems:              *feedMaxItems,
			FetchMissingSummaries: *fetchSummaries,
		}, logging.Component(logger, "source")))
	}

	articles, collectErr := source.Collect(ctx, sources...)
	if collectErr != nil {
		logger.Warn().Err(collectErr).Int("articles", len(articles)).Msg("some sources failed")
		fmt.Fprintf(os.Stderr, "Warning: %v\n", collectErr)
	}
	if len(articles) == 0 {
		fmt.Fprintln(os.Stderr, "No valid articles to resolve")
		return 1
	}

	rt, err := newPipelineRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("resolve setup failed")
		fmt.Fprintf(os.Stderr, "Resolve setup failed: %v\n", err)
		return 1
	}
	defer rt.Close()

	label := strings.TrimSpace(*sourceName)
	if label == "" {
		label = sourceLabel(sources)
	}

	report, err := rt.service.RunBatch(ctx, articles, pipeline.RunOptions{Source: label, DryRun: *dryRun})
	if err != nil {
		if resolve.IsFatalConfiguration(err) {
			fmt.Fprintf(os.Stderr, "Pipeline is misconfigured: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Resolve failed: %v\n", err)
		}
		logger.Error().Err(err).Msg("resolve failed")
		return 1
	}

	if err := printReport(report, format, *showOutcomes); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to print report: %v\n", err)
		return 1
	}

	if report.Errors > 0 || report.Cancelled {
		return 1
	}
	return 0
}

func sourceLabel(sources []source.Source) string {
	names := make([]string, 0, len(sources))
	for _, src := range sources {
		names = append(names, src.Name())
	}
	return truncateForTable(strings.Join(names, ","), 200)
}

func printReport(report pipeline.BatchReport, format string, showOutcomes bool) error {
	if format == outputFormatJSON {
		return printJSON(report)
	}

	fmt.Printf(
		"run=%s processed=%d created=%d merged=%d duplicates=%d geocode_failures=%d errors=%d warnings=%d cancelled=%t remaining=%d dry_run=%t duration=%s\n",
		report.RunUUID,
		report.Processed,
		report.Created,
		report.Merged,
		report.DuplicatesSkipped,
		report.GeocodeFailures,
		report.Errors,
		report.Warnings,
		report.Cancelled,
		report.Remaining,
		report.DryRun,
		report.Duration().Round(time.Millisecond),
	)
	if report.ArchiveKey != "" {
		fmt.Printf("archived=%s\n", report.ArchiveKey)
	}
	if !showOutcomes || len(report.Outcomes) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(report.Outcomes))
	for _, o := range report.Outcomes {
		decision := string(o.Decision)
		if o.Error != "" {
			decision = "error"
		}
		geocode := o.GeocodeMethod
		if o.GeocodeFailed {
			geocode = "failed"
		}
		rows = append(rows, []string{
			strconv.Itoa(o.Index),
			decision,
			o.Signal,
			formatScore(o.Score),
			o.EventUUID,
			geocode,
			truncateForTable(o.Title, 60),
		})
	}
	return writeTable([]string{"INDEX", "DECISION", "SIGNAL", "SCORE", "EVENT", "GEOCODE", "TITLE"}, rows)
}
