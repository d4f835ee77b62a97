package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	NATS        NATSConfig        `mapstructure:"nats"`
	CORS        CORSConfig        `mapstructure:"cors"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Logger      LoggerConfig      `mapstructure:"logger"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Reputation  ReputationConfig  `mapstructure:"reputation"`
	Rules       RulesConfig       `mapstructure:"rules"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Lifecycle   LifecycleConfig   `mapstructure:"lifecycle"`
	Backup      BackupConfig      `mapstructure:"backup"`
	Feeds       FeedsConfig       `mapstructure:"feeds"`
	Sources     SourcesConfig     `mapstructure:"sources"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	StreamName string `mapstructure:"stream_name"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
}

// AuthConfig holds the accepted API keys as SHA-256 hex digests.
// The raw keys are never stored server-side.
type AuthConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	APIKeyHashes []string `mapstructure:"api_key_hashes"`
}

type IngestConfig struct {
	MaxBatchSize int `mapstructure:"max_batch_size"`
}

type CorrelationConfig struct {
	ScanWindow               time.Duration `mapstructure:"scan_window"`
	TimeWindow               time.Duration `mapstructure:"time_window"`
	MinEventsForCampaign     int           `mapstructure:"min_events_for_campaign"`
	MinIPsForPatternCampaign int           `mapstructure:"min_ips_for_pattern_campaign"`
	AssignBatchSize          int           `mapstructure:"assign_batch_size"`
}

type ReputationConfig struct {
	HalfLife time.Duration     `mapstructure:"half_life"`
	Weights  ReputationWeights `mapstructure:"weights"`
}

type ReputationWeights struct {
	Volume     float64 `mapstructure:"volume"`
	Severity   float64 `mapstructure:"severity"`
	Recency    float64 `mapstructure:"recency"`
	Diversity  float64 `mapstructure:"diversity"`
	Confidence float64 `mapstructure:"confidence"`
}

type RulesConfig struct {
	AnalysisWindow time.Duration `mapstructure:"analysis_window"`
	MinOccurrences int           `mapstructure:"min_occurrences"`
	MinDistinctIPs int           `mapstructure:"min_distinct_ips"`
}

type SchedulerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	CorrelationInterval time.Duration `mapstructure:"correlation_interval"`
	ReputationInterval  time.Duration `mapstructure:"reputation_interval"`
	RuleGenInterval     time.Duration `mapstructure:"rulegen_interval"`
	LifecycleInterval   time.Duration `mapstructure:"lifecycle_interval"`
	FeedSyncInterval    time.Duration `mapstructure:"feedsync_interval"`
}

type LifecycleConfig struct {
	IoCRetentionDays    int `mapstructure:"ioc_retention_days"`
	ThreatRetentionDays int `mapstructure:"threat_retention_days"`
}

type BackupConfig struct {
	Dir        string `mapstructure:"dir"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type FeedsConfig struct {
	DefaultMinReputation float64       `mapstructure:"default_min_reputation"`
	MaxFeedSize          int           `mapstructure:"max_feed_size"`
	CacheTTL             time.Duration `mapstructure:"cache_ttl"`
}

// SourcesConfig controls the external feed connectors. Disabled by
// default so a development instance never reaches out to public feeds.
type SourcesConfig struct {
	Enabled      bool         `mapstructure:"enabled"`
	FeodoTracker SourceConfig `mapstructure:"feodotracker"`
	OpenPhish    SourceConfig `mapstructure:"openphish"`
}

type SourceConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	FeedURL string        `mapstructure:"feed_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "threatmesh")
	v.SetDefault("app.environment", "development")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "threatmesh")
	v.SetDefault("database.dbname", "threatmesh")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.key_prefix", "threatmesh:")
	v.SetDefault("nats.stream_name", "THREATMESH_INTEL")
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Accept", "Content-Type", "X-API-Key"})
	v.SetDefault("ratelimit.requests_per_minute", 120)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("ingest.max_batch_size", 500)
	v.SetDefault("correlation.scan_window", 24*time.Hour)
	v.SetDefault("correlation.time_window", time.Hour)
	v.SetDefault("correlation.min_events_for_campaign", 5)
	v.SetDefault("correlation.min_ips_for_pattern_campaign", 3)
	v.SetDefault("correlation.assign_batch_size", 200)
	v.SetDefault("reputation.half_life", 7*24*time.Hour)
	v.SetDefault("reputation.weights.volume", 0.20)
	v.SetDefault("reputation.weights.severity", 0.25)
	v.SetDefault("reputation.weights.recency", 0.25)
	v.SetDefault("reputation.weights.diversity", 0.15)
	v.SetDefault("reputation.weights.confidence", 0.15)
	v.SetDefault("rules.analysis_window", 24*time.Hour)
	v.SetDefault("rules.min_occurrences", 10)
	v.SetDefault("rules.min_distinct_ips", 3)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.correlation_interval", 5*time.Minute)
	v.SetDefault("scheduler.reputation_interval", time.Hour)
	v.SetDefault("scheduler.rulegen_interval", 6*time.Hour)
	v.SetDefault("scheduler.lifecycle_interval", 24*time.Hour)
	v.SetDefault("scheduler.feedsync_interval", 6*time.Hour)
	v.SetDefault("lifecycle.ioc_retention_days", 90)
	v.SetDefault("lifecycle.threat_retention_days", 30)
	v.SetDefault("backup.dir", "./backups")
	v.SetDefault("backup.max_backups", 7)
	v.SetDefault("feeds.default_min_reputation", 70)
	v.SetDefault("feeds.max_feed_size", 10000)
	v.SetDefault("feeds.cache_ttl", time.Minute)
	v.SetDefault("sources.enabled", false)
	v.SetDefault("sources.feodotracker.enabled", true)
	v.SetDefault("sources.feodotracker.timeout", 60*time.Second)
	v.SetDefault("sources.openphish.enabled", true)
	v.SetDefault("sources.openphish.timeout", 60*time.Second)
}

// Load reads configuration from file and environment variables.
// A missing config file is not an error: defaults plus environment
// variables are enough to run.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/threatmesh")
	}

	v.SetEnvPrefix("THREATMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads configuration with default path discovery
func LoadDefault() (*Config, error) {
	return Load("")
}
