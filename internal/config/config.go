// Package config loads the server's configuration from defaults, an
// optional YAML file, EVEBOX_* environment variables, and CLI flags, in
// that precedence order (later wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the resolved, typed view of every key named in the external
// interface contract. Handlers and components read from this, never from
// the underlying viper instance directly.
type Config struct {
	HTTPHost     string
	HTTPPort     int
	TLSEnabled   bool

	DatabaseType string // "sqlite" | "elasticsearch"

	ElasticURL            string
	ElasticIndex           string
	ElasticECS             bool
	ElasticNoIndexSuffix   bool
	ElasticUsername        string
	ElasticPassword        string

	RetentionPeriodDays int

	InputPaths []string
	InputRules []string

	GeoIPEnabled  bool
	GeoIPDatabase string

	AuthRequired bool
	AuthType     string // "anonymous" | "username" | "usernamepassword"

	DataDirectory string

	ProcessorBatchSize      int
	ProcessorReportInterval string

	v *viper.Viper
}

// Load builds a Config from defaults, an optional file at configPath
// (missing file is not an error), EVEBOX_* environment variables, and the
// given flag set.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EVEBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config file %s: %w", configPath, err)
			}
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	cfg := &Config{v: v}
	cfg.reload()
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 5636)
	v.SetDefault("http.tls.enabled", false)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.elasticsearch.url", "http://127.0.0.1:9200")
	v.SetDefault("database.elasticsearch.index", "logstash")
	v.SetDefault("database.elasticsearch.ecs", false)
	v.SetDefault("database.elasticsearch.no-index-suffix", false)
	v.SetDefault("database.elasticsearch.username", "")
	v.SetDefault("database.elasticsearch.password", "")
	v.SetDefault("database.retention-period", 0)

	v.SetDefault("input.paths", []string{})
	v.SetDefault("input.rules", []string{})

	v.SetDefault("geoip.enabled", false)
	v.SetDefault("geoip.database", "")

	v.SetDefault("authentication.required", false)
	v.SetDefault("authentication.type", "anonymous")

	v.SetDefault("data-directory", "./data")

	v.SetDefault("processor.batch-size", 100)
	v.SetDefault("processor.report-interval", "60s")
}

// reload re-reads every typed field from the underlying viper instance.
// Called once at Load time and again on every file-change notification
// from Watch.
func (c *Config) reload() {
	v := c.v
	c.HTTPHost = v.GetString("http.host")
	c.HTTPPort = v.GetInt("http.port")
	c.TLSEnabled = v.GetBool("http.tls.enabled")

	c.DatabaseType = v.GetString("database.type")
	c.ElasticURL = v.GetString("database.elasticsearch.url")
	c.ElasticIndex = v.GetString("database.elasticsearch.index")
	c.ElasticECS = v.GetBool("database.elasticsearch.ecs")
	c.ElasticNoIndexSuffix = v.GetBool("database.elasticsearch.no-index-suffix")
	c.ElasticUsername = v.GetString("database.elasticsearch.username")
	c.ElasticPassword = v.GetString("database.elasticsearch.password")
	c.RetentionPeriodDays = v.GetInt("database.retention-period")

	c.InputPaths = v.GetStringSlice("input.paths")
	c.InputRules = v.GetStringSlice("input.rules")

	c.GeoIPEnabled = v.GetBool("geoip.enabled")
	c.GeoIPDatabase = v.GetString("geoip.database")

	c.AuthRequired = v.GetBool("authentication.required")
	c.AuthType = v.GetString("authentication.type")

	c.DataDirectory = v.GetString("data-directory")

	c.ProcessorBatchSize = v.GetInt("processor.batch-size")
	c.ProcessorReportInterval = v.GetString("processor.report-interval")
}

// Watch installs a file-change callback that re-reads the config and
// invokes onChange with the refreshed Config. No-op if no config file was
// loaded.
func (c *Config) Watch(onChange func(*Config)) {
	c.v.OnConfigChange(func(e fsnotify.Event) {
		c.reload()
		onChange(c)
	})
	c.v.WatchConfig()
}
