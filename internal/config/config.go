// Package config loads dami settings from a YAML file and DAMI_* environment
// variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"dario.cat/mergo"
	"github.com/caarlos0/env/v6"
	"github.com/ghodss/yaml"

	bq "github.com/whiro/dami/internal/bigquery"
	"github.com/whiro/dami/internal/frame"
	"github.com/whiro/dami/internal/gcs"
	"github.com/whiro/dami/internal/logger"
	"github.com/whiro/dami/internal/pipeline"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "DAMI_"

// ConfigEnvVar holds a whole YAML document and takes the place of the file.
const ConfigEnvVar = EnvPrefix + "CONFIG"

// Settings is the full configuration. Values are resolved environment first,
// then the file, then Default.
type Settings struct {
	// Env is "dev" for local runs; it switches logs to the console format.
	Env string `json:"env" env:"ENV"`

	GCPProject      string `json:"gcpProject" env:"GCP_PROJECT"`
	Bucket          string `json:"bucket" env:"GS_BUCKET"`
	CredentialsFile string `json:"credentialsFile" env:"CREDENTIALS_FILE"`

	// RunsDataset holds the import_runs table.
	RunsDataset string `json:"runsDataset" env:"RUNS_DATASET"`

	Log          LogSettings          `json:"log" envPrefix:"LOG_"`
	MoneyForward MoneyForwardSettings `json:"moneyforward" envPrefix:"MF_"`
	Server       ServerSettings       `json:"server" envPrefix:"SERVER_"`
}

type LogSettings struct {
	Level  string `json:"level" env:"LEVEL"`
	Format string `json:"format" env:"FORMAT"`
}

type MoneyForwardSettings struct {
	// Prefix is the object prefix exports are uploaded under.
	Prefix   string `json:"prefix" env:"PREFIX"`
	Suffix   string `json:"suffix" env:"SUFFIX"`
	Encoding string `json:"encoding" env:"ENCODING"`

	Dataset  string `json:"dataset" env:"DATASET"`
	Table    string `json:"table" env:"TABLE"`
	RawTable string `json:"rawTable" env:"RAW_TABLE"`

	ReplaceMode string `json:"replaceMode" env:"REPLACE_MODE"`
	LoadFormat  string `json:"loadFormat" env:"LOAD_FORMAT"`
	StagingTTL  string `json:"stagingTTL" env:"STAGING_TTL"`
}

type ServerSettings struct {
	Port      string `json:"port" env:"PORT"`
	AuthToken string `json:"authToken" env:"AUTH_TOKEN"`

	// Schedule is a cron spec for periodic imports; empty disables it.
	Schedule   string `json:"schedule" env:"SCHEDULE"`
	ScheduleTZ string `json:"scheduleTZ" env:"SCHEDULE_TZ"`

	Workers   int `json:"workers" env:"WORKERS"`
	QueueSize int `json:"queueSize" env:"QUEUE_SIZE"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		Env:         "prod",
		GCPProject:  "strange-oxide-138404",
		Bucket:      "whiro-dami-storage",
		RunsDataset: "dami",
		Log: LogSettings{
			Level:  "info",
			Format: logger.FormatJSON,
		},
		MoneyForward: MoneyForwardSettings{
			Prefix:      "mf_records/",
			Suffix:      pipeline.DefaultSuffix,
			Encoding:    "shift-jis",
			Dataset:     "moneyforward",
			Table:       "transactions",
			RawTable:    "raw_transactions",
			ReplaceMode: string(pipeline.ReplaceStaged),
			LoadFormat:  string(bq.LoadFormatParquet),
			StagingTTL:  "1h",
		},
		Server: ServerSettings{
			Port:       "8080",
			ScheduleTZ: "Asia/Tokyo",
			Workers:    5,
			QueueSize:  100,
		},
	}
}

// Load resolves settings from the environment, the YAML document in
// DAMI_CONFIG or the file at path (either may be absent), and Default.
func Load(path string) (*Settings, error) {
	fromFile, err := readFile(path)
	if err != nil {
		return nil, err
	}

	var s Settings
	if err := env.Parse(&s, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := mergo.Merge(&s, fromFile); err != nil {
		return nil, fmt.Errorf("config: merge file: %w", err)
	}
	if err := mergo.Merge(&s, Default()); err != nil {
		return nil, fmt.Errorf("config: merge defaults: %w", err)
	}

	// A dev environment without an explicit format logs to the console.
	if s.Env == "dev" && os.Getenv(EnvPrefix+"LOG_FORMAT") == "" && fromFile.Log.Format == "" {
		s.Log.Format = logger.FormatConsole
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func readFile(path string) (Settings, error) {
	var s Settings
	var raw []byte
	if doc := os.Getenv(ConfigEnvVar); doc != "" {
		raw = []byte(doc)
	} else if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return s, fmt.Errorf("config: read %s: %w", path, err)
		}
		raw = data
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("config: parse yaml: %w", err)
	}
	return s, nil
}

// Validate checks values that are parsed later.
func (s *Settings) Validate() error {
	var errs []string
	if _, err := pipeline.ParseReplaceMode(s.MoneyForward.ReplaceMode); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := frame.LookupEncoding(s.MoneyForward.Encoding); err != nil {
		errs = append(errs, err.Error())
	}
	switch s.LoadFormat() {
	case bq.LoadFormatParquet, bq.LoadFormatJSON:
	default:
		errs = append(errs, fmt.Sprintf("unknown load format %q", s.MoneyForward.LoadFormat))
	}
	if _, err := time.ParseDuration(s.MoneyForward.StagingTTL); err != nil {
		errs = append(errs, fmt.Sprintf("staging TTL: %v", err))
	}
	if _, err := gcs.ParseURI(s.ExportPrefix().URI()); err != nil {
		errs = append(errs, err.Error())
	}
	if _, err := time.LoadLocation(s.Server.ScheduleTZ); err != nil {
		errs = append(errs, fmt.Sprintf("schedule timezone: %v", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: invalid settings: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ExportPrefix is the storage location exports are read from.
func (s *Settings) ExportPrefix() gcs.Location {
	return gcs.Location{Bucket: s.Bucket, Path: s.MoneyForward.Prefix}
}

// LoggerConfig returns the logger configuration.
func (s *Settings) LoggerConfig() logger.Config {
	return logger.Config{Level: s.Log.Level, Format: s.Log.Format}
}

// LoadFormat returns the load job payload format.
func (s *Settings) LoadFormat() bq.LoadFormat {
	return bq.LoadFormat(strings.ToUpper(s.MoneyForward.LoadFormat))
}

// StagingTTL returns how long staging tables live. Validate has checked it.
func (s *Settings) StagingTTL() time.Duration {
	d, _ := time.ParseDuration(s.MoneyForward.StagingTTL)
	return d
}
