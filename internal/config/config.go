package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Matching MatchingConfig `yaml:"matching" mapstructure:"matching"`
	Review   ReviewConfig   `yaml:"review" mapstructure:"review"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// MatchingConfig holds the duplicate-detection weights and thresholds.
// All values are tunable without code change.
type MatchingConfig struct {
	EmailWeight       float64 `yaml:"email_weight" mapstructure:"email_weight"`
	PhoneWeight       float64 `yaml:"phone_weight" mapstructure:"phone_weight"`
	NameWeight        float64 `yaml:"name_weight" mapstructure:"name_weight"`
	AddressWeight     float64 `yaml:"address_weight" mapstructure:"address_weight"`
	RecencyPenalty    float64 `yaml:"recency_penalty" mapstructure:"recency_penalty"`
	RecencyWindowDays int     `yaml:"recency_window_days" mapstructure:"recency_window_days"`

	// SimilarNameThreshold is the name similarity above which the
	// "Similar name" match reason is emitted.
	SimilarNameThreshold float64 `yaml:"similar_name_threshold" mapstructure:"similar_name_threshold"`

	AutoMergeThreshold float64 `yaml:"auto_merge_threshold" mapstructure:"auto_merge_threshold"`
	ReviewThreshold    float64 `yaml:"review_threshold" mapstructure:"review_threshold"`

	// AutoExecuteMerges makes the check path run the recommended merge
	// immediately instead of only recording the recommendation.
	AutoExecuteMerges bool `yaml:"auto_execute_merges" mapstructure:"auto_execute_merges"`
}

// ReviewConfig configures the manual review queue.
type ReviewConfig struct {
	// HighPriorityThreshold is the confidence above which review items are
	// enqueued with high priority instead of medium.
	HighPriorityThreshold float64 `yaml:"high_priority_threshold" mapstructure:"high_priority_threshold"`
	DefaultListLimit      int     `yaml:"default_list_limit" mapstructure:"default_list_limit"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DEDUPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("matching.email_weight", 0.4)
	v.SetDefault("matching.phone_weight", 0.4)
	v.SetDefault("matching.name_weight", 0.2)
	v.SetDefault("matching.address_weight", 0.1)
	v.SetDefault("matching.recency_penalty", 0.1)
	v.SetDefault("matching.recency_window_days", 7)
	v.SetDefault("matching.similar_name_threshold", 0.7)
	v.SetDefault("matching.auto_merge_threshold", 0.8)
	v.SetDefault("matching.review_threshold", 0.4)
	v.SetDefault("matching.auto_execute_merges", false)
	v.SetDefault("review.high_priority_threshold", 0.7)
	v.SetDefault("review.default_list_limit", 50)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
