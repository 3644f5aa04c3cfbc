package config

import "testing"

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("API_PORT", "8080")
	t.Setenv("OPTIMIZER_WORKERS", "3")
	t.Setenv("DATABASE_ENABLED", "yes")
	t.Setenv("DB_USER", "sim")
	t.Setenv("DB_PASSWORD", "")
	t.Setenv("DB_HOST", "localhost")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_NAME", "trahn_gridsim")
	t.Setenv("BINANCE_RATE_LIMIT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIPort != 8080 || cfg.OptimizerWorkers != 3 {
		t.Fatalf("env overrides not applied: port=%d workers=%d", cfg.APIPort, cfg.OptimizerWorkers)
	}
	if !cfg.DatabaseEnabled {
		t.Fatal("DATABASE_ENABLED=yes should enable the database")
	}
	if cfg.BinanceRateLimit != 10 {
		t.Fatalf("unparseable float should fall back to default, got %f", cfg.BinanceRateLimit)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	if got := cfg.DSN(); got != "postgres://sim:@localhost:5432/trahn_gridsim?sslmode=disable" {
		t.Fatalf("unexpected DSN %s", got)
	}
}

func TestValidate_DatabaseNeedsUser(t *testing.T) {
	cfg := &Config{APIPort: 3001, OptimizerWorkers: 1, OptimizerTopN: 10, BinanceRateLimit: 10, DatabaseEnabled: true}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when database enabled without DB_USER")
	}
}
