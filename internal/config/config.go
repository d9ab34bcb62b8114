package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "SHELF"
	defaultHTTPAddress         = "0.0.0.0:8080"
	defaultStorageDriver       = StorageDriverFilesystem
	defaultDataDir             = "data"
	defaultDatabasePath        = "shelf.db"
	defaultLogLevel            = "info"
	defaultTokenTTLMinutes     = 60
	defaultCacheTTL            = 24 * time.Hour
	defaultCacheDepth          = 20
	defaultMinRating           = 4.0
	defaultPersonalizerBaseURL = "https://api.openai.com"
	defaultPersonalizerModel   = "gpt-4o-mini"
	defaultPersonalizerTimeout = 20 * time.Second
	defaultCatalogSample       = 200

	StorageDriverFilesystem = "filesystem"
	StorageDriverSQLite     = "sqlite"
)

// AppConfig captures runtime configuration for the API server and the maintenance commands.
type AppConfig struct {
	HTTPAddress   string
	LogLevel      string
	StorageDriver string
	DataDir       string
	DatabasePath  string
	SigningSecret string
	TokenTTL      time.Duration

	RecommendCacheTTL      time.Duration
	RecommendCacheCapacity int
	RecommendCacheDepth    int
	RecommendMinRating     float64

	PersonalizerBaseURL       string
	PersonalizerAPIKey        string
	PersonalizerModel         string
	PersonalizerTimeout       time.Duration
	PersonalizerCatalogSample int
}

// PersonalizationEnabled reports whether an API key was configured for the personalizer.
func (c AppConfig) PersonalizationEnabled() bool {
	return strings.TrimSpace(c.PersonalizerAPIKey) != ""
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("storage.driver", defaultStorageDriver)
	configViper.SetDefault("storage.data_dir", defaultDataDir)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("recommend.cache_ttl", defaultCacheTTL)
	configViper.SetDefault("recommend.cache_capacity", 0)
	configViper.SetDefault("recommend.cache_depth", defaultCacheDepth)
	configViper.SetDefault("recommend.min_rating", defaultMinRating)
	configViper.SetDefault("personalizer.base_url", defaultPersonalizerBaseURL)
	configViper.SetDefault("personalizer.api_key", "")
	configViper.SetDefault("personalizer.model", defaultPersonalizerModel)
	configViper.SetDefault("personalizer.timeout", defaultPersonalizerTimeout)
	configViper.SetDefault("personalizer.catalog_sample", defaultCatalogSample)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		LogLevel:      configViper.GetString("log.level"),
		StorageDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("storage.driver"))),
		DataDir:       configViper.GetString("storage.data_dir"),
		DatabasePath:  configViper.GetString("database.path"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:      time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,

		RecommendCacheTTL:      configViper.GetDuration("recommend.cache_ttl"),
		RecommendCacheCapacity: configViper.GetInt("recommend.cache_capacity"),
		RecommendCacheDepth:    configViper.GetInt("recommend.cache_depth"),
		RecommendMinRating:     configViper.GetFloat64("recommend.min_rating"),

		PersonalizerBaseURL:       configViper.GetString("personalizer.base_url"),
		PersonalizerAPIKey:        configViper.GetString("personalizer.api_key"),
		PersonalizerModel:         configViper.GetString("personalizer.model"),
		PersonalizerTimeout:       configViper.GetDuration("personalizer.timeout"),
		PersonalizerCatalogSample: configViper.GetInt("personalizer.catalog_sample"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadStorage parses only the storage and logging keys, for commands that never serve HTTP.
func LoadStorage(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		LogLevel:      configViper.GetString("log.level"),
		StorageDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("storage.driver"))),
		DataDir:       configViper.GetString("storage.data_dir"),
		DatabasePath:  configViper.GetString("database.path"),
	}
	if err := cfg.validateStorage(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if c.RecommendCacheTTL <= 0 {
		return fmt.Errorf("recommend.cache_ttl must be positive")
	}
	if c.RecommendCacheCapacity < 0 {
		return fmt.Errorf("recommend.cache_capacity must not be negative")
	}
	if c.RecommendCacheDepth <= 0 {
		return fmt.Errorf("recommend.cache_depth must be positive")
	}
	if c.RecommendMinRating < 1 || c.RecommendMinRating > 5 {
		return fmt.Errorf("recommend.min_rating must be between 1 and 5")
	}
	if c.PersonalizerCatalogSample <= 0 {
		return fmt.Errorf("personalizer.catalog_sample must be positive")
	}
	return nil
}

func (c AppConfig) validateStorage() error {
	switch c.StorageDriver {
	case StorageDriverFilesystem:
		if strings.TrimSpace(c.DataDir) == "" {
			return fmt.Errorf("storage.data_dir is required")
		}
	case StorageDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", StorageDriverFilesystem, StorageDriverSQLite, c.StorageDriver)
	}
	return nil
}
