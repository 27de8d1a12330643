// Package config carrega a configuração do bookingq: arquivo YAML opcional e,
// por cima dele, variáveis de ambiente.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendKafka  = "kafka"
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendNone   = "none"
)

type Config struct {
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Gateway struct {
		ListenAddr    string        `yaml:"listen_addr"`
		StatsInterval time.Duration `yaml:"stats_interval"`
		Rate          struct {
			Enabled    bool          `yaml:"enabled"`
			RPS        float64       `yaml:"rps"`
			Burst      int           `yaml:"burst"`
			KeyHeader  string        `yaml:"key_header"`
			TrustXFF   bool          `yaml:"trust_xff"`
			RetryAfter time.Duration `yaml:"retry_after"`
			AddHeaders bool          `yaml:"add_headers"`
			// SeatRPS > 0 liga o limite por assento (tripId#seatNo), somado ao por cliente.
			SeatRPS   float64 `yaml:"seat_rps"`
			SeatBurst int     `yaml:"seat_burst"`
		} `yaml:"rate"`
		Concurrency struct {
			Max            int           `yaml:"max"`
			AcquireTimeout time.Duration `yaml:"acquire_timeout"`
		} `yaml:"concurrency"`
	} `yaml:"gateway"`

	Queue struct {
		Backend           string        `yaml:"backend"`
		Name              string        `yaml:"name"`
		DedupWindow       time.Duration `yaml:"dedup_window"`
		VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
		MaxDeliveries     int           `yaml:"max_deliveries"`
		// Group é o consumer group do kafka.
		Group string `yaml:"group"`
		Kafka struct {
			Brokers string `yaml:"brokers"`
		} `yaml:"kafka"`
	} `yaml:"queue"`

	Counters struct {
		Backend    string `yaml:"backend"`
		Prefix     string `yaml:"prefix"`
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"counters"`

	Objects struct {
		Backend     string `yaml:"backend"`
		Dir         string `yaml:"dir"`
		Prefix      string `yaml:"prefix"`
		SnapshotKey string `yaml:"snapshot_key"`
	} `yaml:"objects"`

	Processor struct {
		BatchSize   int    `yaml:"batch_size"`
		Concurrency int    `yaml:"concurrency"`
		HealthAddr  string `yaml:"health_addr"`
	} `yaml:"processor"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`
}

// Default devolve uma configuração que roda tudo em memória, num processo só.
func Default() *Config {
	cfg := &Config{}
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"

	cfg.Gateway.ListenAddr = ":8080"
	cfg.Gateway.StatsInterval = 2 * time.Second
	cfg.Gateway.Rate.Enabled = false
	cfg.Gateway.Rate.RPS = 10
	cfg.Gateway.Rate.Burst = 20
	cfg.Gateway.Rate.RetryAfter = time.Second
	cfg.Gateway.Concurrency.Max = 100

	cfg.Queue.Backend = BackendMemory
	cfg.Queue.Name = "booking-requests"
	cfg.Queue.DedupWindow = 5 * time.Minute
	cfg.Queue.VisibilityTimeout = 30 * time.Second
	cfg.Queue.MaxDeliveries = 5
	cfg.Queue.Group = "booking-processor"

	cfg.Counters.Backend = BackendMemory
	cfg.Counters.Prefix = "stats"
	cfg.Counters.SQLitePath = "bookingq.db"

	cfg.Objects.Backend = BackendNone
	cfg.Objects.Prefix = "objects"
	cfg.Objects.SnapshotKey = "stats.json"

	cfg.Processor.BatchSize = 10
	cfg.Processor.Concurrency = 1

	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = ":9090"
	return cfg
}

// Load lê o YAML em path (arquivo ausente = só defaults), aplica as variáveis de
// ambiente e valida.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config YAML: %w", err)
			}
		}
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	check := func(field, v string, allowed ...string) {
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: unknown backend %q (want %s)", field, v, strings.Join(allowed, "|")))
	}

	check("queue.backend", c.Queue.Backend, BackendMemory, BackendRedis, BackendKafka)
	check("counters.backend", c.Counters.Backend, BackendMemory, BackendRedis, BackendSQLite)
	check("objects.backend", c.Objects.Backend, BackendNone, BackendMemory, BackendFile, BackendRedis)

	if c.Processor.BatchSize <= 0 {
		errs = append(errs, errors.New("processor.batch_size must be > 0"))
	}
	if c.Processor.Concurrency <= 0 {
		errs = append(errs, errors.New("processor.concurrency must be > 0"))
	}
	if c.Queue.Name == "" {
		errs = append(errs, errors.New("queue.name is required"))
	}
	if c.usesRedis() && strings.TrimSpace(c.Redis.Addr) == "" {
		errs = append(errs, errors.New("redis.addr is required when a redis backend is selected"))
	}
	if c.Queue.Backend == BackendKafka && strings.TrimSpace(c.Queue.Kafka.Brokers) == "" {
		errs = append(errs, errors.New("queue.kafka.brokers is required when queue.backend=kafka"))
	}
	if c.Objects.Backend == BackendFile && c.Objects.Dir == "" {
		errs = append(errs, errors.New("objects.dir is required when objects.backend=file"))
	}
	if c.Counters.Backend == BackendSQLite && c.Counters.SQLitePath == "" {
		errs = append(errs, errors.New("counters.sqlite_path is required when counters.backend=sqlite"))
	}
	if c.Gateway.Rate.Enabled && (c.Gateway.Rate.RPS <= 0 || c.Gateway.Rate.Burst <= 0) {
		errs = append(errs, errors.New("gateway.rate.rps and gateway.rate.burst must be > 0"))
	}
	if c.Gateway.Rate.SeatRPS < 0 || (c.Gateway.Rate.SeatRPS > 0 && c.Gateway.Rate.SeatBurst <= 0) {
		errs = append(errs, errors.New("gateway.rate.seat_rps must be >= 0 and needs seat_burst > 0"))
	}
	if c.Gateway.Concurrency.Max < 0 {
		errs = append(errs, errors.New("gateway.concurrency.max must be >= 0"))
	}
	return errors.Join(errs...)
}

func (c *Config) usesRedis() bool {
	// kafka usa a janela de dedup no redis quando há endereço, mas não exige
	return c.Queue.Backend == BackendRedis ||
		c.Counters.Backend == BackendRedis ||
		c.Objects.Backend == BackendRedis
}
