package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	TCPPort     string `mapstructure:"tcp_port"`
	MetricsPort string `mapstructure:"metrics_port"`
	APIPort     string `mapstructure:"api_port"`

	GRPCServer string `mapstructure:"grpc_server"`
	RedisAddr  string `mapstructure:"redis_addr"`
	RedisDB    int    `mapstructure:"redis_db"`
	ProxyAddr  string `mapstructure:"proxy_addr"`

	NatsURL     string `mapstructure:"nats_url"`
	NatsSubject string `mapstructure:"nats_subject"`

	MQTTBroker   string `mapstructure:"mqtt_broker"`
	MQTTClientID string `mapstructure:"mqtt_client_id"`
	MQTTTopic    string `mapstructure:"mqtt_topic"`

	LogLevel  string `mapstructure:"log_level"`
	RawLogDir string `mapstructure:"raw_log_dir"`
	Timezone  string `mapstructure:"timezone"`

	ReplyBuffer       int           `mapstructure:"reply_buffer"`
	VerifyCRC         bool          `mapstructure:"verify_crc"`
	EchoReplies       bool          `mapstructure:"echo_replies"`
	CommandGrace      time.Duration `mapstructure:"command_grace"`
	CommandDailyLimit int           `mapstructure:"command_daily_limit"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	MaxFrame          int           `mapstructure:"max_frame"`
	PipelineQueue     int           `mapstructure:"pipeline_queue"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tcp_port", "8001")
	v.SetDefault("metrics_port", "9000")
	v.SetDefault("api_port", "9005")

	v.SetDefault("grpc_server", "")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_db", 0)
	v.SetDefault("proxy_addr", "")

	v.SetDefault("nats_url", "")
	v.SetDefault("nats_subject", "avl")

	v.SetDefault("mqtt_broker", "")
	v.SetDefault("mqtt_client_id", "avl-gateway")
	v.SetDefault("mqtt_topic", "devices")

	v.SetDefault("log_level", "info")
	v.SetDefault("raw_log_dir", "")
	v.SetDefault("timezone", "Local")

	v.SetDefault("reply_buffer", 64)
	v.SetDefault("verify_crc", true)
	v.SetDefault("echo_replies", false)
	v.SetDefault("command_grace", 3*time.Second)
	v.SetDefault("command_daily_limit", 0)
	v.SetDefault("write_timeout", 10*time.Second)
	v.SetDefault("idle_timeout", 10*time.Minute)
	v.SetDefault("max_frame", 64*1024)
	v.SetDefault("pipeline_queue", 1024)
}

// Load reads defaults, then the optional config file at path, then the
// environment. Environment names are the upper-cased keys (TCP_PORT, ...).
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Location resolves Timezone, falling back to the process zone.
func (c Config) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
