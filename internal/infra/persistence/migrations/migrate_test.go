package migrations

import (
	"io/fs"
	"strings"
	"testing"

	dbmigrations "github.com/kalefund/missiongate/db/migrations"
)

func TestEmbeddedMigrationsPairUpAndDown(t *testing.T) {
	entries, err := fs.ReadDir(dbmigrations.Files, ".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	if len(ups) == 0 {
		t.Fatal("expected at least one up migration")
	}
	for base := range ups {
		if !downs[base] {
			t.Fatalf("migration %s has no matching down script", base)
		}
	}
	for base := range downs {
		if !ups[base] {
			t.Fatalf("migration %s has no matching up script", base)
		}
	}
}

func TestEmbeddedMigrationsCreateCoreTables(t *testing.T) {
	data, err := fs.ReadFile(dbmigrations.Files, "0001_init.up.sql")
	if err != nil {
		t.Fatalf("read init migration: %v", err)
	}
	script := string(data)
	for _, table := range []string{
		"missions",
		"mission_counter",
		"user_stakes",
		"price_samples",
		"price_history",
		"custody_accounts",
		"settings",
		"mission_events",
	} {
		if !strings.Contains(script, "CREATE TABLE "+table) {
			t.Fatalf("init migration missing table %s", table)
		}
	}
	if !strings.Contains(script, "INSERT INTO mission_counter") {
		t.Fatal("init migration must seed the mission counter")
	}
}
