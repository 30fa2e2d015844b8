package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"horse.fit/flashpoint/internal/cli"
	"horse.fit/flashpoint/internal/escalation"
	"horse.fit/flashpoint/internal/globaltime"
)

// runSweep expires events idle past ESCALATION_EXPIRY and prints the resulting regions. Region scores
// live in the serving process, so a one-shot sweep starts from the stored active maxima.
func runSweep(args []string) int {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	formatRaw := fs.String("format", outputFormatTable, "Output format: table or json")
	timeout := fs.Duration("timeout", 2*time.Minute, "Sweep timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
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

	store, pool, err := openStore(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if pool != nil {
		defer pool.Close()
	}

	aggregator := newAggregator(ctx, cfg, store, logger)
	report, err := aggregator.Sweep(ctx, globaltime.UTC())
	if err != nil {
		logger.Error().Err(err).Msg("sweep failed")
		fmt.Fprintf(os.Stderr, "Sweep failed: %v\n", err)
		return 1
	}

	regions := aggregator.Snapshot()
	if format == outputFormatJSON {
		if err := printJSON(map[string]any{
			"resolved_events": report.ResolvedEvents,
			"decayed":         report.Decayed,
			"regions":         regions,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to print regions: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Printf("sweep resolved_events=%d regions=%d decayed=%d\n", report.ResolvedEvents, report.Regions, report.Decayed)
	if err := printRegions(regions); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to print regions: %v\n", err)
		return 1
	}
	return 0
}

func runRegions(args []string) int {
	fs := flag.NewFlagSet("regions", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	formatRaw := fs.String("format", outputFormatTable, "Output format: table or json")
	minScore := fs.Float64("min-score", 0, "Hide regions scoring below this value")
	timeout := fs.Duration("timeout", 30*time.Second, "Store query timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	format, err := parseOutputFormat(*formatRaw, outputFormatTable)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if *minScore < 0 || *minScore > 10 {
		fmt.Fprintln(os.Stderr, "--min-score must be between 0 and 10")
		return 2
	}

	cfg, logger, err := loadRuntime(envLoader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, pool, err := openStore(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if pool != nil {
		defer pool.Close()
	}

	regions := filterRegions(newAggregator(ctx, cfg, store, logger).Snapshot(), *minScore)
	if format == outputFormatJSON {
		if err := printJSON(regions); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to print regions: %v\n", err)
			return 1
		}
		return 0
	}
	if err := printRegions(regions); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to print regions: %v\n", err)
		return 1
	}
	return 0
}

func filterRegions(regions []escalation.Region, minScore float64) []escalation.Region {
	out := make([]escalation.Region, 0, len(regions))
	for _, region := range regions {
		if region.Score >= minScore {
			out = append(out, region)
		}
	}
	return out
}

func printRegions(regions []escalation.Region) error {
	if len(regions) == 0 {
		fmt.Println("no active regions")
		return nil
	}
	rows := make([][]string, 0, len(regions))
	for _, region := range regions {
		rows = append(rows, []string{
			region.Key,
			formatScore(region.Score),
			formatScore(region.PeakEscalation),
			strconv.Itoa(region.ActiveEvents),
			strconv.Itoa(region.TotalSources),
			formatScore(region.MeanConfidence),
			formatUTCTimestampPtr(region.LastSweptAt),
		})
	}
	return writeTable([]string{"REGION", "SCORE", "PEAK", "EVENTS", "SOURCES", "CONFIDENCE", "SWEPT_AT"}, rows)
}
