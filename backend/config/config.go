package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Sync struct {
		HistoryWindow        int    `mapstructure:"historyWindow"`
		FlushIntervalSeconds int    `mapstructure:"flushIntervalSeconds"`
		MaxRetry             int    `mapstructure:"maxRetry"`
		Strategy             string `mapstructure:"strategy"` // lww | merge | manual
	} `mapstructure:"sync"`
}

// FlushInterval converts the configured seconds, zero meaning default.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Sync.FlushIntervalSeconds) * time.Second
}

// Load reads config.yaml, searching the usual start directories.
func Load() (*Config, error) {
	cfg := &Config{}
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
