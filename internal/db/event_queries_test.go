package db

import (
	"errors"
	"testing"
	"time"

	"gorm.io/gorm/logger"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("column count mismatch")
	}
	for i, value := range r.values {
		switch d := dest[i].(type) {
		case *int64:
			*d = value.(int64)
		case *int:
			*d = value.(int)
		case *string:
			*d = value.(string)
		case *float64:
			*d = value.(float64)
		case **float64:
			*d = value.(*float64)
		case *[]byte:
			*d = value.([]byte)
		case *time.Time:
			*d = value.(time.Time)
		default:
			return errors.New("unsupported destination")
		}
	}
	return nil
}

func TestScanEventDecodesTags(t *testing.T) {
	t.Parallel()

	lat, lon := 34.4367, 35.8497
	seen := time.Date(2026, 3, 3, 8, 0, 0, 0, time.UTC)
	row := fakeRow{values: []any{
		int64(7), "6f1c2b8e-0000-4000-8000-000000000007", "Clashes in Tripoli", "summary",
		"Lebanon", "Tripoli", "", &lat, &lon, 0.8, "gazetteer_city", "abc",
		[]byte(`["clashes","militia"]`), 6.0, "en", "active", 2, int64(3),
		seen, seen, seen, seen,
	}}

	e, err := scanEvent(row)
	if err != nil {
		t.Fatalf("scanEvent() error = %v", err)
	}
	if e.ID != 7 || e.Version != 3 || e.SourceCount != 2 {
		t.Fatalf("scanEvent() = %+v", e)
	}
	if len(e.Tags) != 2 || e.Tags[0] != "clashes" {
		t.Fatalf("tags = %v", e.Tags)
	}
	if p, ok := e.Coordinates(); !ok || p.Lat != lat {
		t.Fatalf("coordinates = %+v/%v", p, ok)
	}
}

func TestScanEventRejectsCorruptTags(t *testing.T) {
	t.Parallel()

	seen := time.Now()
	row := fakeRow{values: []any{
		int64(1), "u", "t", "", "", "", "", (*float64)(nil), (*float64)(nil), 0.0, "", "sig",
		[]byte(`{not json`), 0.0, "", "active", 1, int64(1),
		seen, seen, seen, seen,
	}}
	if _, err := scanEvent(row); err == nil {
		t.Fatalf("expected tag decode error")
	}
}

func TestEncodeTagsNeverNull(t *testing.T) {
	t.Parallel()

	raw, err := encodeTags(nil)
	if err != nil {
		t.Fatalf("encodeTags() error = %v", err)
	}
	if string(raw) != "[]" {
		t.Fatalf("encodeTags(nil) = %s, want []", raw)
	}
}

func TestResolveGormLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		level string
		env   string
		want  logger.LogLevel
	}{
		{level: "debug", env: "prod", want: logger.Info},
		{level: "info", env: "prod", want: logger.Warn},
		{level: "error", env: "prod", want: logger.Error},
		{level: "silent", env: "prod", want: logger.Silent},
		{level: "bogus", env: "local", want: logger.Warn},
		{level: "bogus", env: "prod", want: logger.Error},
	}
	for _, tc := range cases {
		if got := resolveGormLogLevel(tc.level, tc.env); got != tc.want {
			t.Fatalf("resolveGormLogLevel(%q, %q) = %v, want %v", tc.level, tc.env, got, tc.want)
		}
	}
}
