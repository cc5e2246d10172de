// Package config loads pipeline settings from a YAML file and SALES_ETL_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/dvloznov/sales-etl/internal/blobstore"
	"github.com/dvloznov/sales-etl/internal/rules"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SALES_ETL"

// Storage backends.
const (
	BackendGCS    = "gcs"
	BackendLocal  = "local"
	BackendMemory = "memory"
)

// Config represents the complete pipeline configuration
type Config struct {
	Storage  StorageConfig  `yaml:"storage" envconfig:"STORAGE"`
	BigQuery BigQueryConfig `yaml:"bigquery" envconfig:"BIGQUERY"`
	Metrics  MetricsConfig  `yaml:"metrics" envconfig:"METRICS"`
	Logging  LoggingConfig  `yaml:"logging" envconfig:"LOGGING"`
	Rules    RulesConfig    `yaml:"rules" envconfig:"RULES"`
}

// StorageConfig selects where the zone files live.
type StorageConfig struct {
	Backend string `yaml:"backend" envconfig:"BACKEND" validate:"required,oneof=gcs local memory"`
	Bucket  string `yaml:"bucket" envconfig:"BUCKET" validate:"required_if=Backend gcs"`
	Prefix  string `yaml:"prefix" envconfig:"PREFIX"`
	Dir     string `yaml:"dir" envconfig:"DIR" validate:"required_if=Backend local"`
}

// GCSLocation resolves the bucket and object prefix. Bucket may be a plain
// name or a "gs://bucket/prefix" URI; Prefix is appended to any URI prefix.
func (s StorageConfig) GCSLocation() (bucket, prefix string, err error) {
	if !strings.HasPrefix(s.Bucket, "gs://") {
		return s.Bucket, strings.Trim(s.Prefix, "/"), nil
	}
	bucket, prefix, err = blobstore.ParseGCSURI(s.Bucket)
	if err != nil {
		return "", "", err
	}
	if p := strings.Trim(s.Prefix, "/"); p != "" {
		prefix = path.Join(prefix, p)
	}
	return bucket, prefix, nil
}

// BigQueryConfig configures the run ledger. When disabled, runs are kept in
// memory for the life of the process.
type BigQueryConfig struct {
	Enabled   bool   `yaml:"enabled" envconfig:"ENABLED"`
	ProjectID string `yaml:"project_id" envconfig:"PROJECT_ID" validate:"required_if=Enabled true"`
	Dataset   string `yaml:"dataset" envconfig:"DATASET" validate:"required_if=Enabled true"`
}

// MetricsConfig configures the optional Pushgateway export.
type MetricsConfig struct {
	PushgatewayURL string `yaml:"pushgateway_url" envconfig:"PUSHGATEWAY_URL" validate:"omitempty,url"`
	Job            string `yaml:"job" envconfig:"JOB" validate:"required"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL" validate:"oneof=trace debug info warn error"`
	Format string `yaml:"format" envconfig:"FORMAT" validate:"oneof=console json"`
}

// RulesConfig overrides parts of the default rule catalog. Unset fields keep
// their defaults; ProductCategories entries are merged into the default map.
type RulesConfig struct {
	QuantityMin       *int64            `yaml:"quantity_min" envconfig:"QUANTITY_MIN"`
	QuantityMax       *int64            `yaml:"quantity_max" envconfig:"QUANTITY_MAX"`
	PriceMin          *float64          `yaml:"price_min" envconfig:"PRICE_MIN"`
	PriceMax          *float64          `yaml:"price_max" envconfig:"PRICE_MAX"`
	ValidRegions      []string          `yaml:"valid_regions" envconfig:"VALID_REGIONS"`
	ProductCategories map[string]string `yaml:"product_categories" envconfig:"PRODUCT_CATEGORIES"`
	HighValueQuantile *float64          `yaml:"high_value_quantile" envconfig:"HIGH_VALUE_QUANTILE" validate:"omitempty,gt=0,lte=1"`
}

// Default returns the configuration used when no file or environment
// overrides are present: local storage under ./data, in-memory ledger.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Backend: BackendLocal,
			Dir:     "data",
		},
		BigQuery: BigQueryConfig{
			Dataset: "sales_etl",
		},
		Metrics: MetricsConfig{
			Job: "sales_etl",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration in three layers: defaults, the YAML file at
// path (skipped when path is empty), then environment variables. The result
// is validated before it is returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("Load: reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("Load: parsing config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("Load: reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and that the rule overrides produce a
// consistent catalog.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config validation failed: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.Storage.Backend == BackendGCS {
		if _, _, err := c.Storage.GCSLocation(); err != nil {
			return fmt.Errorf("config validation failed: storage.bucket: %w", err)
		}
	}
	if _, err := c.Catalog(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// Catalog applies the rule overrides to rules.Default.
func (c *Config) Catalog() (rules.Catalog, error) {
	cat := rules.Default().Clone()
	r := c.Rules

	if r.QuantityMin != nil {
		cat.QuantityBounds.Min = *r.QuantityMin
	}
	if r.QuantityMax != nil {
		cat.QuantityBounds.Max = *r.QuantityMax
	}
	if r.PriceMin != nil {
		cat.PriceBounds.Min = *r.PriceMin
	}
	if r.PriceMax != nil {
		cat.PriceBounds.Max = *r.PriceMax
	}
	if len(r.ValidRegions) > 0 {
		cat.ValidRegions = append([]string(nil), r.ValidRegions...)
	}
	for product, category := range r.ProductCategories {
		cat.ProductCategories[product] = category
	}
	if r.HighValueQuantile != nil {
		cat.HighValueQuantile = *r.HighValueQuantile
	}

	if err := cat.Validate(); err != nil {
		return rules.Catalog{}, err
	}
	return cat, nil
}
