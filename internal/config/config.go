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
	Store   StoreConfig   `yaml:"store" mapstructure:"store"`
	Ingest  IngestConfig  `yaml:"ingest" mapstructure:"ingest"`
	Fetch   FetchConfig   `yaml:"fetch" mapstructure:"fetch"`
	Sources []SourceEntry `yaml:"sources" mapstructure:"sources"`
	Cascade CascadeConfig `yaml:"cascade" mapstructure:"cascade"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the record store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"` // "postgres" or "sqlite"
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// IngestConfig configures the admission engine.
type IngestConfig struct {
	MappingsPath string `yaml:"mappings_path" mapstructure:"mappings_path"`

	// WorstAccuracyM rejects records whose supplied (non-obscured) positional
	// accuracy exceeds this many meters.
	WorstAccuracyM float64 `yaml:"worst_accuracy_m" mapstructure:"worst_accuracy_m"`

	// MinYear treats observation years before this as unparsed.
	MinYear int `yaml:"min_year" mapstructure:"min_year"`

	// Obscuring-box convention used to estimate accuracy for records whose
	// public coordinates were intentionally degraded by the provider.
	ObscureBoxDegrees float64 `yaml:"obscure_box_degrees" mapstructure:"obscure_box_degrees"`
	MetersPerDegLat   float64 `yaml:"meters_per_deg_lat" mapstructure:"meters_per_deg_lat"`
	MetersPerDegLon   float64 `yaml:"meters_per_deg_lon" mapstructure:"meters_per_deg_lon"`

	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// FetchConfig configures feed downloads.
type FetchConfig struct {
	UserAgent  string `yaml:"user_agent" mapstructure:"user_agent"`
	MaxRetries int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// SourceEntry declares a provider and its cross-source priority.
// Lower priority values outrank higher ones in the cascade.
type SourceEntry struct {
	Name     string `yaml:"name" mapstructure:"name"`
	Priority int    `yaml:"priority" mapstructure:"priority"`
}

// CascadeConfig is the ordered list of cross-source reconciliation steps.
type CascadeConfig struct {
	Steps []CascadeStep `yaml:"steps" mapstructure:"steps"`
}

// Cascade matching rules.
const (
	RuleExact  = "exact"
	RuleSuffix = "suffix"
)

// CascadeStep names a higher-priority source, the lower-priority sources it
// suppresses, and the matching rule for the pair.
type CascadeStep struct {
	Name   string   `yaml:"name" mapstructure:"name"`
	Higher string   `yaml:"higher" mapstructure:"higher"`
	Lower  []string `yaml:"lower" mapstructure:"lower"`

	// Rule is "exact" (unique key equality) or "suffix" (split MatchField on
	// Delimiter, compare the last segment against higher-priority keys).
	Rule      string `yaml:"rule" mapstructure:"rule"`
	Delimiter string `yaml:"delimiter" mapstructure:"delimiter"`

	// MatchField selects which lower-record attribute the derived value comes
	// from: "unique_key" (default) or "uri".
	MatchField string `yaml:"match_field" mapstructure:"match_field"`

	// Optional provenance guard: only records whose institution code equals
	// GuardValue are candidates, preventing identifier collisions across
	// unrelated publishers.
	GuardValue string `yaml:"guard_value" mapstructure:"guard_value"`

	Disabled bool `yaml:"disabled" mapstructure:"disabled"`
}

// ServerConfig configures the review API server.
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
	v.SetEnvPrefix("OCC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "occurrences.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("ingest.mappings_path", "mappings.yaml")
	v.SetDefault("ingest.worst_accuracy_m", 10000)
	v.SetDefault("ingest.min_year", 1500)
	v.SetDefault("ingest.obscure_box_degrees", 0.2)
	v.SetDefault("ingest.meters_per_deg_lat", 110574)
	v.SetDefault("ingest.meters_per_deg_lon", 111320)
	v.SetDefault("ingest.temp_dir", "/tmp/occurrence-cli")
	v.SetDefault("fetch.user_agent", "occurrence-cli/1.0")
	v.SetDefault("fetch.max_retries", 3)

	// Shipped provider priority: a provider's own re-shared copy outranks its
	// public feed, which outranks the aggregators.
	v.SetDefault("sources", []map[string]any{
		{"name": "iNaturalist.ca", "priority": 1},
		{"name": "iNaturalist.org", "priority": 2},
		{"name": "GBIF", "priority": 3},
		{"name": "Canadensys", "priority": 4},
		{"name": "eBird", "priority": 5},
	})

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

	if len(cfg.Cascade.Steps) == 0 {
		cfg.Cascade.Steps = DefaultCascadeSteps()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DefaultCascadeSteps returns the shipped reconciliation sequence. Steps run
// strictly in this order; disable individual steps in config rather than
// reordering.
func DefaultCascadeSteps() []CascadeStep {
	return []CascadeStep{
		{
			Name:   "inat_ca_over_inat_org",
			Higher: "iNaturalist.ca",
			Lower:  []string{"iNaturalist.org"},
			Rule:   "exact",
		},
		{
			Name:       "inat_over_gbif",
			Higher:     "iNaturalist.org",
			Lower:      []string{"GBIF"},
			Rule:       "suffix",
			Delimiter:  "/",
			MatchField: "uri",
			GuardValue: "iNaturalist",
		},
		{
			Name:       "inat_over_canadensys",
			Higher:     "iNaturalist.org",
			Lower:      []string{"Canadensys"},
			Rule:       "suffix",
			Delimiter:  "/",
			MatchField: "uri",
			GuardValue: "iNaturalist",
		},
		{
			Name:   "gbif_over_ebird",
			Higher: "GBIF",
			Lower:  []string{"eBird"},
			Rule:   "exact",
		},
	}
}

// Validate checks invariants that would otherwise surface mid-batch.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if s.Name == "" {
			return eris.New("config: source with empty name")
		}
		if seen[s.Name] {
			return eris.Errorf("config: duplicate source %q", s.Name)
		}
		seen[s.Name] = true
	}

	for _, step := range c.Cascade.Steps {
		if step.Higher == "" || len(step.Lower) == 0 {
			return eris.Errorf("config: cascade step %q missing higher/lower sources", step.Name)
		}
		switch step.Rule {
		case RuleExact:
		case RuleSuffix:
			if step.Delimiter == "" {
				return eris.Errorf("config: cascade step %q: suffix rule requires a delimiter", step.Name)
			}
		default:
			return eris.Errorf("config: cascade step %q: unknown rule %q", step.Name, step.Rule)
		}
	}

	return nil
}

// SourcePriority returns the configured priority for a source name, or -1.
func (c *Config) SourcePriority(name string) int {
	for _, s := range c.Sources {
		if s.Name == name {
			return s.Priority
		}
	}
	return -1
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
