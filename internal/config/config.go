package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Job        JobConfig        `yaml:"job" mapstructure:"job"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" mapstructure:"checkpoint"`
	Extract    ExtractConfig    `yaml:"extract" mapstructure:"extract"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// JobConfig configures the extraction job controller.
type JobConfig struct {
	CheckpointEvery int           `yaml:"checkpoint_every" mapstructure:"checkpoint_every"`
	DrainInterval   time.Duration `yaml:"drain_interval" mapstructure:"drain_interval"`
	ErrorMarker     string        `yaml:"error_marker" mapstructure:"error_marker"`
	ResultField     string        `yaml:"result_field" mapstructure:"result_field"`
}

// CheckpointConfig configures where recovery artifacts are written.
type CheckpointConfig struct {
	Dir      string `yaml:"dir" mapstructure:"dir"`
	DataFile string `yaml:"data_file" mapstructure:"data_file"`
	MetaFile string `yaml:"meta_file" mapstructure:"meta_file"`
}

// ExtractConfig configures the extractor backend.
type ExtractConfig struct {
	Driver            string   `yaml:"driver" mapstructure:"driver"`
	HomeURL           string   `yaml:"home_url" mapstructure:"home_url"`
	SearchURL         string   `yaml:"search_url" mapstructure:"search_url"`
	ResultSelector    string   `yaml:"result_selector" mapstructure:"result_selector"`
	SearchInputs      []string `yaml:"search_inputs" mapstructure:"search_inputs"`
	MaxResults        int      `yaml:"max_results" mapstructure:"max_results"`
	TimeoutSecs       int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MinIntervalMS     int      `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	UserAgent         string   `yaml:"user_agent" mapstructure:"user_agent"`
	Headless          bool     `yaml:"headless" mapstructure:"headless"`
	IgnoredExtensions []string `yaml:"ignored_extensions" mapstructure:"ignored_extensions"`
	PageAttempts      int      `yaml:"page_attempts" mapstructure:"page_attempts"`
	PageBackoffMS     int      `yaml:"page_backoff_ms" mapstructure:"page_backoff_ms"`
}

// Timeout returns the per-step extraction timeout.
func (c ExtractConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// MinInterval returns the minimum spacing between two extractor calls.
func (c ExtractConfig) MinInterval() time.Duration {
	return time.Duration(c.MinIntervalMS) * time.Millisecond
}

// PageBackoff returns the delay before a failed result page is fetched again.
func (c ExtractConfig) PageBackoff() time.Duration {
	return time.Duration(c.PageBackoffMS) * time.Millisecond
}

// StoreConfig configures the job history database. An empty DatabaseURL
// disables history recording.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
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
	v.SetEnvPrefix("MAPPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("job.checkpoint_every", 10)
	v.SetDefault("job.drain_interval", 100*time.Millisecond)
	v.SetDefault("job.error_marker", "Error")
	v.SetDefault("job.result_field", "emails")
	v.SetDefault("checkpoint.dir", ".")
	v.SetDefault("checkpoint.data_file", "_recovery_data.csv")
	v.SetDefault("checkpoint.meta_file", "_recovery_meta.json")
	v.SetDefault("extract.driver", "browser")
	v.SetDefault("extract.home_url", "https://www.cde.ca.gov/")
	v.SetDefault("extract.search_url", "")
	v.SetDefault("extract.result_selector", "a.gs-title")
	v.SetDefault("extract.search_inputs", []string{"input#searchquery", "input#txtSearchTermSite"})
	v.SetDefault("extract.max_results", 3)
	v.SetDefault("extract.timeout_secs", 15)
	v.SetDefault("extract.min_interval_ms", 1000)
	v.SetDefault("extract.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	v.SetDefault("extract.headless", true)
	v.SetDefault("extract.ignored_extensions", []string{".pdf", ".doc", ".docx", ".xls", ".xlsx", ".csv", ".zip", ".ppt", ".pptx", ".xml"})
	v.SetDefault("extract.page_attempts", 1)
	v.SetDefault("extract.page_backoff_ms", 500)
	v.SetDefault("store.database_url", "mapper.db")

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

// Validate checks the settings a given command depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run":
		if c.Job.CheckpointEvery <= 0 {
			errs = append(errs, "job.checkpoint_every must be positive")
		}
		if c.Job.DrainInterval <= 0 {
			errs = append(errs, "job.drain_interval must be positive")
		}
		if c.Job.ResultField == "" {
			errs = append(errs, "job.result_field is required")
		}
		switch c.Extract.Driver {
		case "browser":
			if c.Extract.HomeURL == "" {
				errs = append(errs, "extract.home_url is required for the browser driver")
			}
		case "http":
			if !strings.Contains(c.Extract.SearchURL, "{query}") {
				errs = append(errs, "extract.search_url must contain {query} for the http driver")
			}
		case "stub":
		default:
			errs = append(errs, "extract.driver must be one of browser, http, stub")
		}
		if c.Extract.MaxResults <= 0 {
			errs = append(errs, "extract.max_results must be positive")
		}
		if c.Extract.TimeoutSecs <= 0 {
			errs = append(errs, "extract.timeout_secs must be positive")
		}
	case "checkpoint":
		if c.Checkpoint.DataFile == "" || c.Checkpoint.MetaFile == "" {
			errs = append(errs, "checkpoint.data_file and checkpoint.meta_file are required")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid for %s: %s", mode, strings.Join(errs, "; "))
	}
	return nil
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
