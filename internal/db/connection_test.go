package db

import (
	"context"
	"strings"
	"testing"

	"github.com/kjannette/trahn-gridsim/internal/testutil"
)

func TestMigrations_Ordered(t *testing.T) {
	files, err := Migrations()
	if err != nil {
		t.Fatalf("Migrations: %v", err)
	}
	if len(files) < 3 {
		t.Fatalf("expected at least 3 migrations, got %v", files)
	}
	for i := 1; i < len(files); i++ {
		if files[i-1] >= files[i] {
			t.Fatalf("migrations out of order: %v", files)
		}
	}
	for _, f := range files {
		data, _ := migrationsFS.ReadFile("migrations/" + f)
		if !strings.Contains(string(data), "IF NOT EXISTS") {
			t.Fatalf("%s is not idempotent", f)
		}
	}
}

func TestMigrate_Twice(t *testing.T) {
	pool := testutil.SetupPool(t)
	ctx := context.Background()

	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("first Migrate: %v", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := TestConnection(pool); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
}
