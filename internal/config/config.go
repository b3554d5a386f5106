package config

import (
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config holds the full application configuration.
type Config struct {
	Geocode GeocodeConfig `yaml:"geocode" mapstructure:"geocode"`
	Resolve ResolveConfig `yaml:"resolve" mapstructure:"resolve"`
	Route   RouteConfig   `yaml:"route" mapstructure:"route"`
	Fetch   FetchConfig   `yaml:"fetch" mapstructure:"fetch"`
	Export  ExportConfig  `yaml:"export" mapstructure:"export"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// GeocodeConfig configures the reverse and forward geocoding providers.
type GeocodeConfig struct {
	Providers        []string `yaml:"providers" mapstructure:"providers"`
	NominatimURL     string   `yaml:"nominatim_url" mapstructure:"nominatim_url"`
	UserAgent        string   `yaml:"user_agent" mapstructure:"user_agent"`
	MinDelayMs       int      `yaml:"min_delay_ms" mapstructure:"min_delay_ms"`
	GoogleAPIKey     string   `yaml:"google_api_key" mapstructure:"google_api_key"`
	TigerDatabaseURL string   `yaml:"tiger_database_url" mapstructure:"tiger_database_url"`
	ForwardProvider  string   `yaml:"forward_provider" mapstructure:"forward_provider"`
	TimeoutSecs      int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`

	RetryAttempts       int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
	BreakerThreshold    int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// ResolveConfig configures address resolution.
type ResolveConfig struct {
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold"`
	Workers        int     `yaml:"workers" mapstructure:"workers"`
}

// RouteConfig configures stop sequencing.
type RouteConfig struct {
	Strategy      string `yaml:"strategy" mapstructure:"strategy"`
	LoopBack      bool   `yaml:"loop_back" mapstructure:"loop_back"`
	Distance      string `yaml:"distance" mapstructure:"distance"`
	MaxGraphStops int    `yaml:"max_graph_stops" mapstructure:"max_graph_stops"`
}

// FetchConfig configures downloads of remote input files (http, https, ftp).
type FetchConfig struct {
	TimeoutSecs   int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryAttempts int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// ExportConfig configures the route export file.
type ExportConfig struct {
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("SIDEWALK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key gets one so environment overrides reach Unmarshal.
	v.SetDefault("geocode.providers", []string{"nominatim"})
	v.SetDefault("geocode.nominatim_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.user_agent", "sidewalksort")
	v.SetDefault("geocode.min_delay_ms", 1000)
	v.SetDefault("geocode.google_api_key", "")
	v.SetDefault("geocode.tiger_database_url", "")
	v.SetDefault("geocode.forward_provider", "nominatim")
	v.SetDefault("geocode.timeout_secs", 30)
	v.SetDefault("geocode.retry_attempts", 3)
	v.SetDefault("geocode.breaker_threshold", 5)
	v.SetDefault("geocode.breaker_cooldown_secs", 60)
	v.SetDefault("resolve.fuzzy_threshold", 85.0)
	v.SetDefault("resolve.workers", 4)
	v.SetDefault("route.strategy", "auto")
	v.SetDefault("route.loop_back", false)
	v.SetDefault("route.distance", "planar")
	v.SetDefault("route.max_graph_stops", 99)
	v.SetDefault("fetch.timeout_secs", 60)
	v.SetDefault("fetch.retry_attempts", 3)
	v.SetDefault("export.format", "csv")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	var problems []string

	if len(c.Geocode.Providers) == 0 {
		problems = append(problems, "geocode.providers must name at least one provider")
	}
	for _, p := range c.Geocode.Providers {
		switch strings.ToLower(p) {
		case "nominatim", "google", "tiger":
		default:
			problems = append(problems, "geocode.providers: unknown provider "+p)
		}
	}
	switch c.Geocode.ForwardProvider {
	case "", "nominatim", "census", "google":
	default:
		problems = append(problems, "geocode.forward_provider must be nominatim, census or google")
	}
	if c.Geocode.MinDelayMs < 0 {
		problems = append(problems, "geocode.min_delay_ms must be >= 0")
	}
	if c.Geocode.RetryAttempts < 0 {
		problems = append(problems, "geocode.retry_attempts must be >= 0")
	}
	if c.Resolve.FuzzyThreshold <= 0 || c.Resolve.FuzzyThreshold > 100 {
		problems = append(problems, "resolve.fuzzy_threshold must be in (0, 100]")
	}
	if c.Resolve.Workers < 1 {
		problems = append(problems, "resolve.workers must be >= 1")
	}
	switch c.Route.Distance {
	case "", "planar", "haversine":
	default:
		problems = append(problems, "route.distance must be planar or haversine")
	}
	if c.Route.MaxGraphStops < 2 {
		problems = append(problems, "route.max_graph_stops must be >= 2")
	}
	switch c.Export.Format {
	case "", "csv", "xlsx":
	default:
		problems = append(problems, "export.format must be csv or xlsx")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 1 and 65535")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Dump writes the configuration as YAML. Secrets are masked.
func (c *Config) Dump(w io.Writer) error {
	masked := *c
	masked.Geocode.GoogleAPIKey = mask(c.Geocode.GoogleAPIKey)
	masked.Geocode.TigerDatabaseURL = mask(c.Geocode.TigerDatabaseURL)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&masked); err != nil {
		return eris.Wrap(err, "config: encode yaml")
	}
	return eris.Wrap(enc.Close(), "config: close yaml encoder")
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
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
