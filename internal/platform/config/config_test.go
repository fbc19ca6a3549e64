package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, AuditSinkMemory, cfg.Audit.Sink)
	assert.Equal(t, 5*time.Second, cfg.Database.LockTimeout)
	assert.Equal(t, 10, cfg.Audit.DBMaxOpenConns)
	assert.Equal(t, 2, cfg.Audit.DBMaxIdleConns)
	assert.Equal(t, 4, cfg.Batch.Workers)
	assert.Equal(t, "fail_fast", cfg.Batch.StorageErrorPolicy)
	assert.True(t, cfg.Salary.MaxSalary.Equal(decimal.NewFromInt(1_000_000)))
	assert.True(t, cfg.Salary.MaxIncreasePercent.Equal(decimal.NewFromInt(100)))
	assert.True(t, cfg.Salary.MaxDecreasePercent.Equal(decimal.NewFromInt(50)))
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  addr: ":9090"
database:
  url: "postgres://paycore@localhost/paycore?sslmode=disable"
  lock_timeout: 2s
audit:
  sink: postgres
salary:
  max_salary: "250000.50"
batch:
  workers: 8
  storage_error_policy: isolate
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))
	t.Setenv("PAYCORE_SERVER_ADDR", ":7070")
	t.Setenv("PAYCORE_KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Addr, "env overrides file")
	assert.Equal(t, 2*time.Second, cfg.Database.LockTimeout)
	assert.Equal(t, AuditSinkPostgres, cfg.Audit.Sink)
	assert.True(t, cfg.Salary.MaxSalary.Equal(decimal.RequireFromString("250000.50")))
	assert.Equal(t, 8, cfg.Batch.Workers)
	assert.Equal(t, "isolate", cfg.Batch.StorageErrorPolicy)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadRejectsBadDecimal(t *testing.T) {
	t.Setenv("PAYCORE_SALARY_MAX_SALARY", "a lot")
	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, "salary.max_salary")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"postgres sink without url", func(c *Config) { c.Audit.Sink = AuditSinkPostgres }, "requires database.url"},
		{"redis sink without url", func(c *Config) { c.Audit.Sink = AuditSinkRedis }, "requires redis.url"},
		{"kafka sink without brokers", func(c *Config) { c.Audit.Sink = AuditSinkKafka }, "requires kafka.brokers"},
		{"unknown sink", func(c *Config) { c.Audit.Sink = "s3" }, "unknown audit.sink"},
		{"zero workers", func(c *Config) { c.Batch.Workers = 0 }, "batch.workers"},
		{"unknown policy", func(c *Config) { c.Batch.StorageErrorPolicy = "yolo" }, "storage_error_policy"},
		{"decrease above 100", func(c *Config) { c.Salary.MaxDecreasePercent = decimal.NewFromInt(150) }, "max_decrease_percent"},
		{"zero max salary", func(c *Config) { c.Salary.MaxSalary = decimal.Zero }, "max_salary"},
		{"zero lock timeout", func(c *Config) { c.Database.LockTimeout = 0 }, "lock_timeout"},
		{"sub-millisecond lock timeout", func(c *Config) { c.Database.LockTimeout = 500 * time.Microsecond }, "at least 1ms"},
		{"postgres sink without audit pool", func(c *Config) {
			c.Audit.Sink = AuditSinkPostgres
			c.Database.URL = "postgres://localhost/paycore"
			c.Audit.DBMaxOpenConns = 0
		}, "audit.db_max_open_conns"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tc.want)
		})
	}

	assert.NoError(t, valid().Validate())
}
