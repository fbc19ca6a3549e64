package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Audit sink kinds.
const (
	AuditSinkPostgres = "postgres"
	AuditSinkRedis    = "redis"
	AuditSinkKafka    = "kafka"
	AuditSinkMemory   = "memory"
)

// Config is the full service configuration.
type Config struct {
	Server   Server
	Database Database
	Audit    Audit
	Redis    RedisConfig
	Kafka    Kafka
	Salary   Salary
	Batch    Batch
	Log      Log
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

// Database configures PostgreSQL. An empty URL selects the in-memory employee store.
type Database struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LockTimeout     time.Duration
	TxTimeout       time.Duration
	MigrateOnStart  bool
	SeedDemoData    bool
}

// Audit selects and tunes the audit sink. The postgres sink opens its own
// pool on Database.URL, sized by DBMaxOpenConns and DBMaxIdleConns, so audit
// appends never wait on connections held by salary transactions.
type Audit struct {
	Sink           string
	AppendTimeout  time.Duration
	RetryElapsed   time.Duration
	DBMaxOpenConns int
	DBMaxIdleConns int
}

// RedisConfig configures the go-redis client used by the redis audit sink.
type RedisConfig struct {
	URL          string
	Stream       string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the kafka audit sink.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Salary holds the business-rule bounds.
type Salary struct {
	MaxSalary          decimal.Decimal
	MaxIncreasePercent decimal.Decimal
	MaxDecreasePercent decimal.Decimal
}

// Batch tunes batch raises.
type Batch struct {
	Workers            int
	StorageErrorPolicy string
}

// Log configures the slog handler.
type Log struct {
	Level  string
	Format string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.lock_timeout", 5*time.Second)
	v.SetDefault("database.tx_timeout", 30*time.Second)
	v.SetDefault("database.migrate_on_start", true)
	v.SetDefault("database.seed_demo_data", false)

	v.SetDefault("audit.sink", AuditSinkMemory)
	v.SetDefault("audit.append_timeout", 10*time.Second)
	v.SetDefault("audit.retry_elapsed", 3*time.Second)
	v.SetDefault("audit.db_max_open_conns", 10)
	v.SetDefault("audit.db_max_idle_conns", 2)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.stream", "paycore:audit")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "paycore.audit")

	v.SetDefault("salary.max_salary", "1000000")
	v.SetDefault("salary.max_increase_percent", "100")
	v.SetDefault("salary.max_decrease_percent", "50")

	v.SetDefault("batch.workers", 4)
	v.SetDefault("batch.storage_error_policy", "fail_fast")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads config.yaml from path when present, then applies PAYCORE_*
// environment overrides (nested keys use underscores, e.g.
// PAYCORE_DATABASE_URL). The result is validated.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.SetEnvPrefix("PAYCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	salary, err := salaryFrom(v)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: Server{
			Addr:            v.GetString("server.addr"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			RequestTimeout:  v.GetDuration("server.request_timeout"),
		},
		Database: Database{
			URL:             v.GetString("database.url"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			LockTimeout:     v.GetDuration("database.lock_timeout"),
			TxTimeout:       v.GetDuration("database.tx_timeout"),
			MigrateOnStart:  v.GetBool("database.migrate_on_start"),
			SeedDemoData:    v.GetBool("database.seed_demo_data"),
		},
		Audit: Audit{
			Sink:           strings.ToLower(v.GetString("audit.sink")),
			AppendTimeout:  v.GetDuration("audit.append_timeout"),
			RetryElapsed:   v.GetDuration("audit.retry_elapsed"),
			DBMaxOpenConns: v.GetInt("audit.db_max_open_conns"),
			DBMaxIdleConns: v.GetInt("audit.db_max_idle_conns"),
		},
		Redis: RedisConfig{
			URL:          v.GetString("redis.url"),
			Stream:       v.GetString("redis.stream"),
			PoolSize:     v.GetInt("redis.pool_size"),
			MinIdleConns: v.GetInt("redis.min_idle_conns"),
			DialTimeout:  v.GetDuration("redis.dial_timeout"),
			ReadTimeout:  v.GetDuration("redis.read_timeout"),
			WriteTimeout: v.GetDuration("redis.write_timeout"),
		},
		Kafka: Kafka{
			Brokers: brokers(v.GetStringSlice("kafka.brokers")),
			Topic:   v.GetString("kafka.topic"),
		},
		Salary: salary,
		Batch: Batch{
			Workers:            v.GetInt("batch.workers"),
			StorageErrorPolicy: v.GetString("batch.storage_error_policy"),
		},
		Log: Log{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Database.LockTimeout < time.Millisecond {
		errs = append(errs, errors.New("database.lock_timeout must be at least 1ms"))
	}
	if c.Audit.AppendTimeout <= 0 {
		errs = append(errs, errors.New("audit.append_timeout must be positive"))
	}
	if c.Audit.RetryElapsed < 0 {
		errs = append(errs, errors.New("audit.retry_elapsed must not be negative"))
	}

	switch c.Audit.Sink {
	case AuditSinkMemory:
	case AuditSinkPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("audit.sink=postgres requires database.url"))
		}
		if c.Audit.DBMaxOpenConns < 1 {
			errs = append(errs, errors.New("audit.db_max_open_conns must be at least 1"))
		}
	case AuditSinkRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("audit.sink=redis requires redis.url"))
		}
	case AuditSinkKafka:
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("audit.sink=kafka requires kafka.brokers"))
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, errors.New("kafka.topic is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown audit.sink %q", c.Audit.Sink))
	}

	if !c.Salary.MaxSalary.IsPositive() {
		errs = append(errs, errors.New("salary.max_salary must be positive"))
	}
	if !c.Salary.MaxIncreasePercent.IsPositive() {
		errs = append(errs, errors.New("salary.max_increase_percent must be positive"))
	}
	if !c.Salary.MaxDecreasePercent.IsPositive() || c.Salary.MaxDecreasePercent.GreaterThan(decimal.NewFromInt(100)) {
		errs = append(errs, errors.New("salary.max_decrease_percent must be in (0, 100]"))
	}

	if c.Batch.Workers < 1 {
		errs = append(errs, errors.New("batch.workers must be at least 1"))
	}
	switch c.Batch.StorageErrorPolicy {
	case "fail_fast", "isolate":
	default:
		errs = append(errs, fmt.Errorf("unknown batch.storage_error_policy %q", c.Batch.StorageErrorPolicy))
	}
	return errors.Join(errs...)
}

func salaryFrom(v *viper.Viper) (Salary, error) {
	parse := func(key string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(v.GetString(key))
		if err != nil {
			return decimal.Zero, fmt.Errorf("%s: %w", key, err)
		}
		return d, nil
	}
	maxSalary, err := parse("salary.max_salary")
	if err != nil {
		return Salary{}, err
	}
	maxIncrease, err := parse("salary.max_increase_percent")
	if err != nil {
		return Salary{}, err
	}
	maxDecrease, err := parse("salary.max_decrease_percent")
	if err != nil {
		return Salary{}, err
	}
	return Salary{MaxSalary: maxSalary, MaxIncreasePercent: maxIncrease, MaxDecreasePercent: maxDecrease}, nil
}

// brokers accepts both YAML lists and a comma-separated env value.
func brokers(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, b := range strings.Split(item, ",") {
			if b = strings.TrimSpace(b); b != "" {
				out = append(out, b)
			}
		}
	}
	return out
}
