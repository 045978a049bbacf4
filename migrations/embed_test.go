package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEveryUpMigrationHasDown(t *testing.T) {
	files, err := fs.Glob(FS, "*.up.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no migrations embedded")
	}
	for _, up := range files {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(FS, down); err != nil {
			t.Errorf("%s has no matching %s", up, down)
		}
	}
}

func TestAvailabilityWindowConstraint(t *testing.T) {
	body, err := fs.ReadFile(FS, "000001_clinics.up.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(body), "CHECK (start_time < end_time)") {
		t.Error("availability_slots must reject empty or inverted windows")
	}
}
