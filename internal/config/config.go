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
	Logger      LoggerConfig      `mapstructure:"logger"`
	SearchAPI   SearchAPIConfig   `mapstructure:"search_api"`
	Search      SearchConfig      `mapstructure:"search"`
	Extraction  ExtractionConfig  `mapstructure:"extraction"`
	Scoring     ScoringConfig     `mapstructure:"scoring"`
	Resolution  ResolutionConfig  `mapstructure:"resolution"`
	Graph       GraphConfig       `mapstructure:"graph"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Neo4j       Neo4jConfig       `mapstructure:"neo4j"`
	NATS        NATSConfig        `mapstructure:"nats"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	CORS        CORSConfig        `mapstructure:"cors"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
	Debug       bool   `mapstructure:"debug"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	HTTPPort        int           `mapstructure:"http_port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
}

// SearchAPIConfig describes the external record-search index
type SearchAPIConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	Token            string        `mapstructure:"token"`
	Timeout          time.Duration `mapstructure:"timeout"`
	BreakerEnabled   bool          `mapstructure:"breaker_enabled"`
	BreakerFailures  uint32        `mapstructure:"breaker_failures"`
	BreakerOpenDelay time.Duration `mapstructure:"breaker_open_delay"`
}

// SearchConfig bounds the pagination phase
type SearchConfig struct {
	PageSize       int           `mapstructure:"page_size"`
	PageTimeout    time.Duration `mapstructure:"page_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
	MaxPages       int           `mapstructure:"max_pages"`
	MaxResults     int           `mapstructure:"max_results"`
	Concurrency    int           `mapstructure:"concurrency"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
}

type ExtractionConfig struct {
	Mode              string  `mapstructure:"mode"` // "regex" or "hybrid"
	MinAmount         float64 `mapstructure:"min_amount"`
	MaxAmountDigits   int     `mapstructure:"max_amount_digits"`
	RelationWindow    int     `mapstructure:"relation_window"`
	ContactWindow     int     `mapstructure:"contact_window"`
	InferRelationship bool    `mapstructure:"infer_relationships"`
}

type ScoringConfig struct {
	Weights    map[string]float64 `mapstructure:"weights"`
	MatchBonus float64            `mapstructure:"match_bonus"`
	NameFuzzy  float64            `mapstructure:"name_fuzzy"`
}

type ResolutionConfig struct {
	Threshold    float64 `mapstructure:"threshold"`
	MaxBlockSize int     `mapstructure:"max_block_size"`
}

type GraphConfig struct {
	ModerateAt     int `mapstructure:"moderate_at"`
	StrongAt       int `mapstructure:"strong_at"`
	MinClusterSize int `mapstructure:"min_cluster_size"`
	MaxEvidence    int `mapstructure:"max_evidence"`
}

type CorrelationConfig struct {
	FrequencyDegree    int     `mapstructure:"frequency_degree"`
	TemporalRatio      float64 `mapstructure:"temporal_ratio"`
	SpatialMinEntities int     `mapstructure:"spatial_min_entities"`
	ZScoreThreshold    float64 `mapstructure:"zscore_threshold"`
	HubMinNeighbors    int     `mapstructure:"hub_min_neighbors"`
	HubMinTypes        int     `mapstructure:"hub_min_types"`
	MinSignificance    float64 `mapstructure:"min_significance"`
	TopInsights        int     `mapstructure:"top_insights"`

	Thresholds PatternThresholds `mapstructure:"thresholds"`
}

// PatternThreshold filters the output of one pattern detector. A zero
// MinSignificance falls back to CorrelationConfig.MinSignificance.
type PatternThreshold struct {
	MinOccurrences  int     `mapstructure:"min_occurrences"`
	MinSignificance float64 `mapstructure:"min_significance"`
}

type PatternThresholds struct {
	Frequency PatternThreshold `mapstructure:"frequency"`
	Circular  PatternThreshold `mapstructure:"circular"`
	Temporal  PatternThreshold `mapstructure:"temporal"`
	Spatial   PatternThreshold `mapstructure:"spatial"`
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
	TLS       bool   `mapstructure:"tls"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Schema          string        `mapstructure:"schema"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&search_path=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode, c.Schema,
	)
}

type Neo4jConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	URI                string `mapstructure:"uri"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
	Database           string `mapstructure:"database"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MaxLifetimeMinutes int    `mapstructure:"max_lifetime_minutes"`
}

type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	StreamName    string `mapstructure:"stream_name"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
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
	RequestsPerHour   int  `mapstructure:"requests_per_hour"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Default returns the built-in configuration used when no file is present
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:        "tracelink-lab",
			Environment: "development",
			Version:     "0.1.0",
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			HTTPPort:        8090,
			GRPCPort:        9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    6 * time.Minute,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logger: LoggerConfig{
			Level:      "info",
			Format:     "console",
			TimeFormat: time.RFC3339,
		},
		SearchAPI: SearchAPIConfig{
			BaseURL:          "http://localhost:8000",
			Timeout:          30 * time.Second,
			BreakerEnabled:   true,
			BreakerFailures:  5,
			BreakerOpenDelay: 30 * time.Second,
		},
		Search: SearchConfig{
			PageSize:       100,
			PageTimeout:    15 * time.Second,
			MaxRetries:     3,
			RetryDelay:     500 * time.Millisecond,
			MaxPages:       1000,
			MaxResults:     50000,
			Concurrency:    3,
			SessionTimeout: 5 * time.Minute,
			CacheTTL:       15 * time.Minute,
		},
		Extraction: ExtractionConfig{
			Mode:              "hybrid",
			MinAmount:         100,
			MaxAmountDigits:   12,
			RelationWindow:    60,
			ContactWindow:     50,
			InferRelationship: true,
		},
		Scoring: ScoringConfig{
			Weights: map[string]float64{
				"phone":    10,
				"email":    10,
				"id":       12,
				"account":  12,
				"name":     5,
				"location": 3,
				"company":  4,
				"keyword":  2,
			},
			MatchBonus: 0.5,
			NameFuzzy:  0.8,
		},
		Resolution: ResolutionConfig{
			Threshold:    0.85,
			MaxBlockSize: 250,
		},
		Graph: GraphConfig{
			ModerateAt:     5,
			StrongAt:       10,
			MinClusterSize: 3,
			MaxEvidence:    20,
		},
		Correlation: CorrelationConfig{
			FrequencyDegree:    10,
			TemporalRatio:      2.0,
			SpatialMinEntities: 3,
			ZScoreThreshold:    2.5,
			HubMinNeighbors:    5,
			HubMinTypes:        3,
			MinSignificance:    0.3,
			TopInsights:        10,
			Thresholds: PatternThresholds{
				Frequency: PatternThreshold{MinOccurrences: 1, MinSignificance: 0.3},
				Circular:  PatternThreshold{MinOccurrences: 1, MinSignificance: 0.5},
				Temporal:  PatternThreshold{MinOccurrences: 2, MinSignificance: 0.3},
				Spatial:   PatternThreshold{MinOccurrences: 3, MinSignificance: 0.3},
			},
		},
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			KeyPrefix: "tracelink:",
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "tracelink",
			DBName:          "tracelink",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
			Schema:          "public",
		},
		Neo4j: Neo4jConfig{
			URI:                "neo4j://localhost:7687",
			Username:           "neo4j",
			Database:           "neo4j",
			MaxConnections:     20,
			MaxLifetimeMinutes: 60,
		},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			StreamName:    "TRACELINK",
			SubjectPrefix: "search.progress",
		},
		JWT: JWTConfig{
			Issuer: "tracelink-lab",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			MaxAge:         300,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			RequestsPerHour:   600,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads configuration from file and environment variables.
// A missing config file is not an error; built-in defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/tracelink-lab")
	}

	v.SetEnvPrefix("TRACELINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// viper doesn't auto-bind nested struct fields
	for _, key := range []string{
		"search_api.base_url", "search_api.token",
		"redis.enabled", "redis.host", "redis.port", "redis.password", "redis.tls",
		"database.enabled", "database.host", "database.port", "database.user",
		"database.password", "database.dbname", "database.sslmode",
		"neo4j.enabled", "neo4j.uri", "neo4j.password",
		"nats.enabled", "nats.url",
		"jwt.secret", "app.environment", "extraction.mode",
	} {
		_ = v.BindEnv(key, "TRACELINK_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads configuration with default path
func LoadDefault() (*Config, error) {
	return Load("")
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("app.name", d.App.Name)
	v.SetDefault("app.environment", d.App.Environment)
	v.SetDefault("app.version", d.App.Version)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.http_port", d.Server.HTTPPort)
	v.SetDefault("server.grpc_port", d.Server.GRPCPort)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("logger.level", d.Logger.Level)
	v.SetDefault("logger.format", d.Logger.Format)
	v.SetDefault("logger.time_format", d.Logger.TimeFormat)

	v.SetDefault("search_api.base_url", d.SearchAPI.BaseURL)
	v.SetDefault("search_api.token", d.SearchAPI.Token)
	v.SetDefault("search_api.timeout", d.SearchAPI.Timeout)
	v.SetDefault("search_api.breaker_enabled", d.SearchAPI.BreakerEnabled)
	v.SetDefault("search_api.breaker_failures", d.SearchAPI.BreakerFailures)
	v.SetDefault("search_api.breaker_open_delay", d.SearchAPI.BreakerOpenDelay)

	v.SetDefault("search.page_size", d.Search.PageSize)
	v.SetDefault("search.page_timeout", d.Search.PageTimeout)
	v.SetDefault("search.max_retries", d.Search.MaxRetries)
	v.SetDefault("search.retry_delay", d.Search.RetryDelay)
	v.SetDefault("search.max_pages", d.Search.MaxPages)
	v.SetDefault("search.max_results", d.Search.MaxResults)
	v.SetDefault("search.concurrency", d.Search.Concurrency)
	v.SetDefault("search.session_timeout", d.Search.SessionTimeout)
	v.SetDefault("search.cache_ttl", d.Search.CacheTTL)

	v.SetDefault("extraction.mode", d.Extraction.Mode)
	v.SetDefault("extraction.min_amount", d.Extraction.MinAmount)
	v.SetDefault("extraction.max_amount_digits", d.Extraction.MaxAmountDigits)
	v.SetDefault("extraction.relation_window", d.Extraction.RelationWindow)
	v.SetDefault("extraction.contact_window", d.Extraction.ContactWindow)
	v.SetDefault("extraction.infer_relationships", d.Extraction.InferRelationship)

	v.SetDefault("scoring.weights", d.Scoring.Weights)
	v.SetDefault("scoring.match_bonus", d.Scoring.MatchBonus)
	v.SetDefault("scoring.name_fuzzy", d.Scoring.NameFuzzy)

	v.SetDefault("resolution.threshold", d.Resolution.Threshold)
	v.SetDefault("resolution.max_block_size", d.Resolution.MaxBlockSize)

	v.SetDefault("graph.moderate_at", d.Graph.ModerateAt)
	v.SetDefault("graph.strong_at", d.Graph.StrongAt)
	v.SetDefault("graph.min_cluster_size", d.Graph.MinClusterSize)
	v.SetDefault("graph.max_evidence", d.Graph.MaxEvidence)

	v.SetDefault("correlation.frequency_degree", d.Correlation.FrequencyDegree)
	v.SetDefault("correlation.temporal_ratio", d.Correlation.TemporalRatio)
	v.SetDefault("correlation.spatial_min_entities", d.Correlation.SpatialMinEntities)
	v.SetDefault("correlation.zscore_threshold", d.Correlation.ZScoreThreshold)
	v.SetDefault("correlation.hub_min_neighbors", d.Correlation.HubMinNeighbors)
	v.SetDefault("correlation.hub_min_types", d.Correlation.HubMinTypes)
	v.SetDefault("correlation.min_significance", d.Correlation.MinSignificance)
	v.SetDefault("correlation.top_insights", d.Correlation.TopInsights)
	for name, th := range map[string]PatternThreshold{
		"frequency": d.Correlation.Thresholds.Frequency,
		"circular":  d.Correlation.Thresholds.Circular,
		"temporal":  d.Correlation.Thresholds.Temporal,
		"spatial":   d.Correlation.Thresholds.Spatial,
	} {
		v.SetDefault("correlation.thresholds."+name+".min_occurrences", th.MinOccurrences)
		v.SetDefault("correlation.thresholds."+name+".min_significance", th.MinSignificance)
	}

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.host", d.Redis.Host)
	v.SetDefault("redis.port", d.Redis.Port)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)

	v.SetDefault("database.enabled", d.Database.Enabled)
	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.dbname", d.Database.DBName)
	v.SetDefault("database.sslmode", d.Database.SSLMode)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.schema", d.Database.Schema)

	v.SetDefault("neo4j.enabled", d.Neo4j.Enabled)
	v.SetDefault("neo4j.uri", d.Neo4j.URI)
	v.SetDefault("neo4j.username", d.Neo4j.Username)
	v.SetDefault("neo4j.database", d.Neo4j.Database)
	v.SetDefault("neo4j.max_connections", d.Neo4j.MaxConnections)
	v.SetDefault("neo4j.max_lifetime_minutes", d.Neo4j.MaxLifetimeMinutes)

	v.SetDefault("nats.enabled", d.NATS.Enabled)
	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.stream_name", d.NATS.StreamName)
	v.SetDefault("nats.subject_prefix", d.NATS.SubjectPrefix)

	v.SetDefault("jwt.issuer", d.JWT.Issuer)

	v.SetDefault("cors.allowed_origins", d.CORS.AllowedOrigins)
	v.SetDefault("cors.allowed_methods", d.CORS.AllowedMethods)
	v.SetDefault("cors.allowed_headers", d.CORS.AllowedHeaders)
	v.SetDefault("cors.max_age", d.CORS.MaxAge)

	v.SetDefault("ratelimit.enabled", d.RateLimit.Enabled)
	v.SetDefault("ratelimit.requests_per_minute", d.RateLimit.RequestsPerMinute)
	v.SetDefault("ratelimit.requests_per_hour", d.RateLimit.RequestsPerHour)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
}
