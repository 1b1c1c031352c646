package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppEnv  string        `mapstructure:"app_env"`
	Server  ServerConfig  `mapstructure:"server"`
	Jobs    JobsConfig    `mapstructure:"jobs"`
	Channel ChannelConfig `mapstructure:"channel"`
	Client  ClientConfig  `mapstructure:"client"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// JobsConfig controls the simulated job schedule and record retention.
type JobsConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	QueuedLogDelay  time.Duration `mapstructure:"queued_log_delay"`
	StartDelay      time.Duration `mapstructure:"start_delay"`
	TickMin         time.Duration `mapstructure:"tick_min"`
	TickMax         time.Duration `mapstructure:"tick_max"`
	RunningProgress int           `mapstructure:"running_progress"`
}

// ChannelConfig tunes the websocket event channel.
type ChannelConfig struct {
	WriteWait  time.Duration `mapstructure:"write_wait"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
}

type ClientConfig struct {
	ServerURL         string        `mapstructure:"server_url"`
	ConnectDelay      time.Duration `mapstructure:"connect_delay"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	FileOnly   bool   `mapstructure:"file_only"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultPort is used when neither the config file nor PORT set one.
const DefaultPort = 3002

// IsProduction reports whether the app runs with app_env=production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production") || strings.EqualFold(c.AppEnv, "prod")
}

// ResolveServerURL picks the base URL clients talk to. An explicit value wins,
// then the build-time override, then an environment-dependent default.
func (c *Config) ResolveServerURL(buildTime string) string {
	if c.Client.ServerURL != "" {
		return strings.TrimRight(c.Client.ServerURL, "/")
	}
	if buildTime != "" {
		return strings.TrimRight(buildTime, "/")
	}
	if c.IsProduction() {
		return fmt.Sprintf("http://127.0.0.1:%d", c.Server.Port)
	}
	return fmt.Sprintf("http://localhost:%d", DefaultPort)
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.mode", "GIN_MODE")
	v.BindEnv("app_env", "APP_ENV")
	v.BindEnv("client.server_url", "JOB_RUNNER_SERVER_URL")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.format", "LOG_FORMAT")
	v.BindEnv("log.file", "LOG_FILE")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "local")
	v.SetDefault("server.port", DefaultPort)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("jobs.ttl", "1h")
	v.SetDefault("jobs.sweep_interval", "1m")
	v.SetDefault("jobs.queued_log_delay", "1s")
	v.SetDefault("jobs.start_delay", "2s")
	v.SetDefault("jobs.tick_min", "500ms")
	v.SetDefault("jobs.tick_max", "1500ms")
	v.SetDefault("jobs.running_progress", 5)

	v.SetDefault("channel.write_wait", "10s")
	v.SetDefault("channel.pong_wait", "60s")
	v.SetDefault("channel.send_buffer", 64)

	v.SetDefault("client.server_url", "")
	v.SetDefault("client.connect_delay", "100ms")
	v.SetDefault("client.reconnect_attempts", 3)
	v.SetDefault("client.reconnect_delay", "2s")
	v.SetDefault("client.request_timeout", "5s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.file_only", false)
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.compress", true)
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Jobs.TickMin <= 0 || c.Jobs.TickMax < c.Jobs.TickMin {
		return fmt.Errorf("invalid job tick range [%s, %s]", c.Jobs.TickMin, c.Jobs.TickMax)
	}
	if c.Jobs.RunningProgress < 0 || c.Jobs.RunningProgress > 95 {
		return fmt.Errorf("jobs.running_progress must be within 0..95, got %d", c.Jobs.RunningProgress)
	}
	if c.Client.ReconnectAttempts < 0 {
		return fmt.Errorf("client.reconnect_attempts must not be negative")
	}
	return nil
}
