package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"horse.fit/flashpoint/internal/cli"
	"horse.fit/flashpoint/internal/globaltime"
	"horse.fit/flashpoint/internal/model"
)

func runEvents(args []string) int {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	country := fs.String("country", "", "Only events in this country")
	status := fs.String("status", "", "Only events with this status: active or resolved")
	sinceRaw := fs.String("since", "", "Only events seen since this time (RFC3339, YYYY-MM-DD or a duration like 24h)")
	minEscalation := fs.Float64("min-escalation", 0, "Only events at or above this escalation")
	limit := fs.Int("limit", 25, "Maximum events to print")
	offset := fs.Int("offset", 0, "Events to skip")
	formatRaw := fs.String("format", outputFormatTable, "Output format: table or json")
	timeout := fs.Duration("timeout", 30*time.Second, "Store query timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	filter, err := buildEventFilter(*country, *status, *sinceRaw, *minEscalation, *limit, *offset)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
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

	events, err := store.ListEvents(ctx, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list events: %v\n", err)
		return 1
	}

	if format == outputFormatJSON {
		if err := printJSON(events); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to print events: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{
			e.UUID,
			e.Status,
			formatScore(e.Escalation),
			strconv.Itoa(e.SourceCount),
			truncateForTable(e.Country, 20),
			formatCoordinates(e.Latitude, e.Longitude),
			formatUTCTimestamp(e.LastSeenAt),
			truncateForTable(e.Title, 60),
		})
	}
	if err := writeTable([]string{"EVENT", "STATUS", "ESCALATION", "SOURCES", "COUNTRY", "COORDINATES", "LAST_SEEN", "TITLE"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to print events: %v\n", err)
		return 1
	}
	return 0
}

func buildEventFilter(country, status, sinceRaw string, minEscalation float64, limit, offset int) (model.EventFilter, error) {
	if limit < 1 || limit > 1000 {
		return model.EventFilter{}, fmt.Errorf("--limit must be between 1 and 1000")
	}
	if offset < 0 {
		return model.EventFilter{}, fmt.Errorf("--offset must be >= 0")
	}
	if minEscalation < 0 || minEscalation > 10 {
		return model.EventFilter{}, fmt.Errorf("--min-escalation must be between 0 and 10")
	}
	normalizedStatus := strings.ToLower(strings.TrimSpace(status))
	switch normalizedStatus {
	case "", model.EventStatusActive, model.EventStatusResolved:
	default:
		return model.EventFilter{}, fmt.Errorf("--status must be %s or %s", model.EventStatusActive, model.EventStatusResolved)
	}
	since, err := parseSince(sinceRaw, globaltime.UTC())
	if err != nil {
		return model.EventFilter{}, err
	}
	return model.EventFilter{
		Country:       strings.TrimSpace(country),
		Status:        normalizedStatus,
		Since:         since,
		MinEscalation: minEscalation,
		Limit:         limit,
		Offset:        offset,
	}, nil
}

func runRuns(args []string) int {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	limit := fs.Int("limit", 20, "Maximum runs to print")
	formatRaw := fs.String("format", outputFormatTable, "Output format: table or json")
	timeout := fs.Duration("timeout", 30*time.Second, "Store query timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *limit < 1 || *limit > 500 {
		fmt.Fprintln(os.Stderr, "--limit must be between 1 and 500")
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

	runs, err := store.ListRuns(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
		return 1
	}

	if format == outputFormatJSON {
		if err := printJSON(runs); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to print runs: %v\n", err)
			return 1
		}
		return 0
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.UUID,
			r.Status,
			strconv.Itoa(r.Processed),
			strconv.Itoa(r.Created),
			strconv.Itoa(r.Merged),
			strconv.Itoa(r.DuplicatesSkipped),
			strconv.Itoa(r.Errors),
			formatUTCTimestamp(r.StartedAt),
			truncateForTable(r.Source, 40),
		})
	}
	if err := writeTable([]string{"RUN", "STATUS", "PROCESSED", "CREATED", "MERGED", "DUPLICATES", "ERRORS", "STARTED_AT", "SOURCE"}, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to print runs: %v\n", err)
		return 1
	}
	return 0
}
