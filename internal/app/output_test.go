package app

import (
	"flag"
	"testing"
	"time"

	"horse.fit/flashpoint/internal/escalation"
)

func TestParseOutputFormat(t *testing.T) {
	t.Parallel()

	if got, err := parseOutputFormat(" JSON ", outputFormatTable); err != nil || got != outputFormatJSON {
		t.Fatalf("parseOutputFormat(JSON) = %q, %v", got, err)
	}
	if got, err := parseOutputFormat("", outputFormatTable); err != nil || got != outputFormatTable {
		t.Fatalf("parseOutputFormat(empty) = %q, %v", got, err)
	}
	if _, err := parseOutputFormat("yaml", outputFormatTable); err == nil {
		t.Fatalf("expected error for yaml")
	}
}

func TestParseSince(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		raw  string
		want time.Time
	}{
		{raw: "2026-03-01T06:30:00+02:00", want: time.Date(2026, 3, 1, 4, 30, 0, 0, time.UTC)},
		{raw: "2026-03-02", want: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
		{raw: "24h", want: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := parseSince(tc.raw, now)
		if err != nil || got == nil || !got.Equal(tc.want) {
			t.Fatalf("parseSince(%q) = %v, %v, want %v", tc.raw, got, err, tc.want)
		}
	}

	if got, err := parseSince("  ", now); err != nil || got != nil {
		t.Fatalf("parseSince(blank) = %v, %v", got, err)
	}
	for _, raw := range []string{"yesterday", "-2h"} {
		if _, err := parseSince(raw, now); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestTruncateForTable(t *testing.T) {
	t.Parallel()

	if got := truncateForTable("  Kharkiv  ", 20); got != "Kharkiv" {
		t.Fatalf("got %q", got)
	}
	if got := truncateForTable("Dnipropetrovsk", 8); got != "Dnipr..." {
		t.Fatalf("got %q", got)
	}
	if got := truncateForTable("Хмельницький", 5); got != "Хм..." {
		t.Fatalf("got %q", got)
	}
}

func TestBuildEventFilter(t *testing.T) {
	t.Parallel()

	filter, err := buildEventFilter(" Sudan ", "ACTIVE", "", 4, 10, 5)
	if err != nil {
		t.Fatalf("buildEventFilter() error = %v", err)
	}
	if filter.Country != "Sudan" || filter.Status != "active" || filter.MinEscalation != 4 || filter.Limit != 10 || filter.Offset != 5 || filter.Since != nil {
		t.Fatalf("unexpected filter: %+v", filter)
	}

	bad := []struct {
		name   string
		status string
		min    float64
		limit  int
		offset int
	}{
		{name: "status", status: "archived", limit: 10},
		{name: "escalation", min: 11, limit: 10},
		{name: "limit", limit: 0},
		{name: "offset", limit: 10, offset: -1},
	}
	for _, tc := range bad {
		if _, err := buildEventFilter("", tc.status, "", tc.min, tc.limit, tc.offset); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestFilterRegions(t *testing.T) {
	t.Parallel()

	regions := []escalation.Region{{Key: "sudan", Score: 8}, {Key: "yemen", Score: 2.5}, {Key: "haiti", Score: 1}}
	got := filterRegions(regions, 2.5)
	if len(got) != 2 || got[0].Key != "sudan" || got[1].Key != "yemen" {
		t.Fatalf("unexpected regions: %+v", got)
	}
}

func TestStringListFlag(t *testing.T) {
	t.Parallel()

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var feeds stringList
	fs.Var(&feeds, "feed", "")
	if err := fs.Parse([]string{"--feed", "https://a.example/rss", "--feed", " https://b.example/atom "}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(feeds) != 2 || feeds[1] != "https://b.example/atom" {
		t.Fatalf("unexpected feeds: %v", feeds)
	}
	if err := feeds.Set("  "); err == nil {
		t.Fatalf("expected error for blank value")
	}
}
