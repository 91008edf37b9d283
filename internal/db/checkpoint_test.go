package db

import (
	"os"
	"regexp"
	"strings"
	"testing"
)

// The checkpoint compare-and-set writes columns the scanner never reads, so
// a drift between the DDL and the UPDATE statement only surfaces at runtime.
// Pin the table definition to every column the store touches.
func TestCheckpointMigrationDeclaresAllColumns(t *testing.T) {
	ddl, err := os.ReadFile("../../migrations/0001_init.up.sql")
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}

	block := regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS notification_checkpoints \((.*?)\);`).
		FindStringSubmatch(string(ddl))
	if block == nil {
		t.Fatal("notification_checkpoints table missing from migration")
	}

	for _, col := range []string{"name", "checked_at", "updated_at"} {
		if !strings.Contains(block[1], col) {
			t.Errorf("notification_checkpoints missing column %s", col)
		}
	}
}
