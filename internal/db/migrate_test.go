package db

import (
	"strings"
	"testing"
)

func TestMigrationStepsOrder(t *testing.T) {
	t.Parallel()

	steps := migrationSteps()
	want := []string{"pre-auto-migrate", "auto-migrate models", "post-auto-migrate"}
	if len(steps) != len(want) {
		t.Fatalf("expected %d steps, got %d", len(want), len(steps))
	}
	for i, step := range steps {
		if step.name != want[i] || step.run == nil {
			t.Fatalf("step %d = %q, want %q", i, step.name, want[i])
		}
	}
}

func TestEmbeddedMigrationSQL(t *testing.T) {
	t.Parallel()

	if !strings.Contains(preAutoMigrateSQL, "CREATE SCHEMA IF NOT EXISTS resolution") {
		t.Fatalf("pre-migrate SQL must create the resolution schema")
	}
	for _, constraint := range []string{"events_escalation_range_chk", "events_coordinates_chk", "events_status_chk"} {
		if !strings.Contains(postAutoMigrateSQL, constraint) {
			t.Fatalf("post-migrate SQL is missing %s", constraint)
		}
	}
	if err := execSQL("   ")(nil); err != nil {
		t.Fatalf("blank SQL must be a no-op, got %v", err)
	}
}
