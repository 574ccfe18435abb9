package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sample = `{
  "general": {"debug": true, "log_level": "debug"},
  "telemetry": {"enabled": true, "metrics_addr": ":10002"},
  "storage": {
    "postgres": {"host": "localhost", "port": "5432", "user": "quarry", "password": "s", "dbname": "quarry"},
    "redis": {"host": "localhost"}
  },
  "kernel": {"command": "pslq-kernel", "args": ["--json"]},
  "jobs": [
    {
      "name": "poly_pslq",
      "args": {
        "degree": 2, "order": 1, "bulk": 1000,
        "min_precision": 50, "min_roi": 2, "testing_precision": 15,
        "strategy": "batch",
        "filters": {
          "global": {"min_precision": 25},
          "PcfCanonical": {"count": 2, "balanced_only": false},
          "Named": {"count": 1, "addons": ["pi*e"]}
        }
      },
      "run_async": true,
      "async_cores": 4,
      "schedule": "@daily"
    }
  ]
}`

func writeSample(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write sample config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeSample(t, sample))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.General.Debug {
		t.Error("general.debug not parsed")
	}
	if cfg.Storage.Postgres.DSN() != "postgres://quarry:s@localhost:5432/quarry?sslmode=disable" {
		t.Errorf("unexpected DSN %q", cfg.Storage.Postgres.DSN())
	}
	if !cfg.Storage.Redis.Enabled() || cfg.Storage.Redis.Addr() != "localhost:6379" {
		t.Errorf("redis config wrong: %+v", cfg.Storage.Redis)
	}
	if cfg.Kernel.Command != "pslq-kernel" {
		t.Errorf("kernel.command = %q", cfg.Kernel.Command)
	}
	if len(cfg.Jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(cfg.Jobs))
	}
	job := cfg.Jobs[0]
	if job.Name != "poly_pslq" || !job.RunAsync || job.AsyncCores != 4 || job.Schedule != "@daily" {
		t.Errorf("job header wrong: %+v", job)
	}
	if job.Args.Degree != 2 || job.Args.Bulk != 1000 || job.Args.Strategy != "batch" {
		t.Errorf("job args wrong: %+v", job.Args)
	}
	if !job.Args.HasFilters() {
		t.Fatal("filters should be present")
	}
	if _, ok := job.Args.Filters["PcfCanonical"]; !ok {
		t.Error("PcfCanonical filter missing")
	}
	if g, ok := job.Args.Filters["global"]; !ok || g["min_precision"].(float64) != 25 {
		t.Errorf("global filter wrong: %v", g)
	}
}

func TestLoadRejectsMissingKernel(t *testing.T) {
	body := `{
  "storage": {"postgres": {"host": "localhost", "dbname": "quarry"}},
  "kernel": {"command": ""}
}`
	if _, err := Load(writeSample(t, body)); err == nil {
		t.Fatal("expected error for missing kernel command")
	}
}

func TestLoadRejectsBadJob(t *testing.T) {
	body := `{
  "storage": {"postgres": {"host": "localhost", "dbname": "quarry"}},
  "kernel": {"command": "k"},
  "jobs": [{"name": "", "args": {}}]
}`
	if _, err := Load(writeSample(t, body)); err == nil {
		t.Fatal("expected error for unnamed job")
	}
}
