package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Version is set at build time.
var Version = "dev"

// EnvPrefix prefixes environment overrides, e.g. PGREST_REST_PG_CONNSTRING.
const EnvPrefix = "PGREST"

// Config holds application-wide configuration
type Config struct {
	REST RESTConfig `mapstructure:"rest"`
	Log  LogConfig  `mapstructure:"log"`

	// File is the config file used, empty when none was found.
	File string `mapstructure:"-"`
}

type RESTConfig struct {
	PG PGConfig `mapstructure:"pg"`
	// Schemas are introspected when no resources file is given.
	Schemas []string `mapstructure:"schemas"`
	// MaxLimit caps the rows of a read. Zero disables the cap.
	MaxLimit uint64 `mapstructure:"maxLimit"`
	// DefaultCount is the count mode of reads that request none.
	DefaultCount  string `mapstructure:"defaultCount"`
	ResourcesFile string `mapstructure:"resourcesFile"`
	MetricsAddr   string `mapstructure:"metricsAddr"`
}

type PGConfig struct {
	ConnString string `mapstructure:"connString"`
	MaxConns   int32  `mapstructure:"maxConns"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func DefaultConfig() Config {
	return Config{
		REST: RESTConfig{
			Schemas:  []string{"public"},
			MaxLimit: 1000,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads config from file, .env and environment. Environment variables
// override the file.
func Load(cfgFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env: %w", err)
	}

	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("pgrest")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	// env overrides only apply to known keys
	def := DefaultConfig()
	v.SetDefault("rest.pg.connString", def.REST.PG.ConnString)
	v.SetDefault("rest.pg.maxConns", def.REST.PG.MaxConns)
	v.SetDefault("rest.schemas", def.REST.Schemas)
	v.SetDefault("rest.maxLimit", def.REST.MaxLimit)
	v.SetDefault("rest.defaultCount", def.REST.DefaultCount)
	v.SetDefault("rest.resourcesFile", def.REST.ResourcesFile)
	v.SetDefault("rest.metricsAddr", def.REST.MetricsAddr)
	v.SetDefault("log.level", def.Log.Level)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	return &cfg, nil
}
