package config

import (
	"errors"
	"fmt"
	"os"

	"gemindex/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Worker     WorkerConfig     `yaml:"worker"`
	API        APIConfig        `yaml:"api"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Exports    ExportConfig     `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type StorageConfig struct {
	// SQLitePath is the primary backend. Empty disables the primary
	// and the file backend serves alone.
	SQLitePath string `yaml:"sqlite_path"`
	// FilePath is the local-file fallback document.
	FilePath string `yaml:"file_path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type SchedulerConfig struct {
	// Disabled suppresses the in-process timer, for deployments where
	// a dedicated worker process owns ticking.
	Disabled    bool `yaml:"disabled"`
	TickSeconds int  `yaml:"tick_seconds"`
}

type WorkerConfig struct {
	TickSeconds int `yaml:"tick_seconds"`
	MaxTasks    int `yaml:"max_tasks"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIAuthConfig struct {
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
	// CronSecret authorizes an external scheduler to force ticks via
	// header or query token, distinct from interactive API keys.
	CronSecret string `yaml:"cron_secret"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ProvidersConfig struct {
	PokemonTCGAPIKey string          `yaml:"pokemontcg_api_key"`
	TCGPlayer        TCGPlayerConfig `yaml:"tcgplayer"`
	EURToUSDRate     float64         `yaml:"eur_to_usd_rate"`
}

type TCGPlayerConfig struct {
	PublicKey  string `yaml:"public_key"`
	PrivateKey string `yaml:"private_key"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; env vars referenced in YAML may come from the
	// real environment instead.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Storage.FilePath == "" {
		return errors.New("storage file path is required")
	}
	if c.API.Enabled && len(c.API.Auth.APIKeys) == 0 && c.API.Auth.CronSecret == "" {
		return errors.New("api is enabled but no api keys or cron secret configured")
	}
	return nil
}

// DisabledJobTypes lists sync job types whose required credentials are
// absent; the document store forces them off at load time.
func (c *Config) DisabledJobTypes() []string {
	var out []string
	if c.Providers.TCGPlayer.PublicKey == "" || c.Providers.TCGPlayer.PrivateKey == "" {
		out = append(out, models.JobTypeTCGPlayerDirectSync)
	}
	return out
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "gemindex"
	}
	if c.Storage.FilePath == "" {
		c.Storage.FilePath = "data/gemindex-db.json"
	}
	if c.Scheduler.TickSeconds == 0 {
		c.Scheduler.TickSeconds = 60
	}
	if c.Worker.TickSeconds == 0 {
		c.Worker.TickSeconds = 30
	}
	if c.Worker.MaxTasks == 0 {
		c.Worker.MaxTasks = 20
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Providers.EURToUSDRate <= 0 {
		c.Providers.EURToUSDRate = 1.08
	}
}
