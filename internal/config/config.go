package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from yaml scalars like
// "30s" or "720h".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type ServerConfig struct {
	Addr          string   `yaml:"addr"`
	SubmitTimeout Duration `yaml:"submit_timeout"`
}


type RedisConfig struct {
	Addr string `yaml:"addr"`
}

type QuotaConfig struct {
	Window            Duration `yaml:"window"`
	WindowCapacity    int64    `yaml:"window_capacity"`
	BudgetCapPerCycle int64    `yaml:"budget_cap_per_cycle"`
}

type StorageConfig struct {
	OpenSearchAddrs []string `yaml:"opensearch_addrs"`
	Index           string   `yaml:"index"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RetentionConfig struct {
	Age           Duration `yaml:"age"`
	SweepInterval Duration `yaml:"sweep_interval"`
	BatchesPerSec int      `yaml:"batches_per_sec"`
}

type CorrelationConfig struct {
	MaxResults int `yaml:"max_results"`
}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	Quota       QuotaConfig       `yaml:"quota"`
	Storage     StorageConfig     `yaml:"storage"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Retention   RetentionConfig   `yaml:"retention"`
	Correlation CorrelationConfig `yaml:"correlation"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:          ":8080",
			SubmitTimeout: Duration(5 * time.Second),
		},
		Redis: RedisConfig{Addr: "localhost:6379"},
		Quota: QuotaConfig{
			Window:            Duration(time.Minute),
			WindowCapacity:    1000,
			BudgetCapPerCycle: 125000,
		},
		Storage: StorageConfig{Index: "app-logs-durable"},
		Kafka:   KafkaConfig{Topic: "logs"},
		Retention: RetentionConfig{
			Age:           Duration(30 * 24 * time.Hour),
			SweepInterval: Duration(time.Minute),
			BatchesPerSec: 5,
		},
		Correlation: CorrelationConfig{MaxResults: 500},
	}
}

// LoadConfig reads the yaml file at path over the defaults. A missing
// file is not an error; the defaults are returned as-is.
func LoadConfig(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
