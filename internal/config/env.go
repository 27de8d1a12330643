package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnv sobrescreve campos com variáveis de ambiente, quando definidas.
// Valores inválidos são ignorados e o valor atual é mantido.
func (c *Config) ApplyEnv() {
	c.Log.Level = getenvDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getenvDefault("LOG_FORMAT", c.Log.Format)

	c.Redis.Addr = getenvDefault("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getenvDefault("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getenvIntDefault("REDIS_DB", c.Redis.DB)

	c.Gateway.ListenAddr = getenvDefault("LISTEN_ADDR", c.Gateway.ListenAddr)
	c.Gateway.Rate.Enabled = getenvBoolDefault("RATE_ENABLED", c.Gateway.Rate.Enabled)
	c.Gateway.Rate.RPS = getenvFloatDefault("RATE_RPS", c.Gateway.Rate.RPS)
	if burst, ok := getenvInt("RATE_BURST"); ok {
		c.Gateway.Rate.Burst = burst
	} else if getenvIsSet("RATE_RPS") && c.Gateway.Rate.RPS > 0 && c.Gateway.Rate.RPS < 1 {
		// com RPS abaixo de 1 um burst alto deixa passar a rajada inteira
		c.Gateway.Rate.Burst = 1
	}
	c.Gateway.Rate.KeyHeader = getenvDefault("RATE_KEY_HEADER", c.Gateway.Rate.KeyHeader)
	c.Gateway.Rate.TrustXFF = getenvBoolDefault("TRUST_XFF", c.Gateway.Rate.TrustXFF)
	c.Gateway.Rate.RetryAfter = getenvDurationDefault("RETRY_AFTER", c.Gateway.Rate.RetryAfter)
	c.Gateway.Rate.SeatRPS = getenvFloatDefault("RATE_SEAT_RPS", c.Gateway.Rate.SeatRPS)
	c.Gateway.Rate.SeatBurst = getenvIntDefault("RATE_SEAT_BURST", c.Gateway.Rate.SeatBurst)
	c.Gateway.Concurrency.Max = getenvIntDefault("CONCURRENCY_MAX", c.Gateway.Concurrency.Max)
	c.Gateway.Concurrency.AcquireTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", c.Gateway.Concurrency.AcquireTimeout)

	c.Queue.Backend = getenvDefault("QUEUE_BACKEND", c.Queue.Backend)
	c.Queue.Name = getenvDefault("QUEUE_NAME", c.Queue.Name)
	if u := os.Getenv("QUEUE_URL"); u != "" {
		c.Queue.Name = queueNameFromURL(u)
	}
	c.Queue.Group = getenvDefault("QUEUE_GROUP", c.Queue.Group)
	c.Queue.Kafka.Brokers = getenvDefault("KAFKA_BROKERS", c.Queue.Kafka.Brokers)

	c.Counters.Backend = getenvDefault("COUNTER_BACKEND", c.Counters.Backend)
	c.Counters.SQLitePath = getenvDefault("SQLITE_PATH", c.Counters.SQLitePath)

	c.Objects.Backend = getenvDefault("OBJECT_BACKEND", c.Objects.Backend)
	if bucket := os.Getenv("S3_BUCKET"); bucket != "" {
		c.Objects.Dir = bucket
		if c.Objects.Backend == BackendNone {
			c.Objects.Backend = BackendFile
		}
	}
	c.Objects.SnapshotKey = getenvDefault("S3_KEY", c.Objects.SnapshotKey)

	c.Processor.BatchSize = getenvIntDefault("BATCH_SIZE", c.Processor.BatchSize)
	c.Metrics.Addr = getenvDefault("METRICS_ADDR", c.Metrics.Addr)
}

// queueNameFromURL pega o último segmento do path (ex: .../123456/bookings.fifo).
func queueNameFromURL(u string) string {
	u = strings.TrimRight(u, "/")
	if i := strings.LastIndex(u, "/"); i >= 0 {
		return u[i+1:]
	}
	return u
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	if i, ok := getenvInt(k); ok {
		return i
	}
	return def
}

func getenvInt(k string) (int, bool) {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

func getenvIsSet(k string) bool {
	v, ok := os.LookupEnv(k)
	return ok && v != ""
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
