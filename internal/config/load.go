package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads one configuration document from path and applies its
// defaults (§4.2 retry/breaker defaults when resilience is omitted).
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Resilience == (ResilienceSpec{}) {
		cfg.Resilience = DefaultResilience()
	}
	return cfg, nil
}

// LoadAll reads a comma-separated list of document paths (§6
// "Invocation: config: one or more configuration document paths"),
// returning one Config per document.
func LoadAll(commaSeparated string) ([]Config, error) {
	var out []Config
	for _, p := range strings.Split(commaSeparated, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		cfg, err := Load(p)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("config: no configuration documents supplied")
	}
	return out, nil
}

// Overrides carries the CLI's §6 mode-flag values that take precedence
// over whatever a configuration document declares.
type Overrides struct {
	RunDate         *time.Time
	LoadPattern     LoadPattern
	ParallelWorkers int
	StorageScope    StorageScope
}

// Apply layers o onto cfg, leaving fields o doesn't set untouched,
// except that a RunDate still zero afterwards becomes the current UTC time.
func (o Overrides) Apply(cfg Config) Config {
	if o.RunDate != nil {
		cfg.RunDate = *o.RunDate
	}
	if o.LoadPattern != "" {
		cfg.LoadPattern = o.LoadPattern
	}
	if o.ParallelWorkers > 0 {
		cfg.Output.ParallelWorkers = o.ParallelWorkers
	}
	if o.StorageScope != "" {
		cfg.Storage.Scope = o.StorageScope
	}
	if cfg.RunDate.IsZero() {
		cfg.RunDate = time.Now().UTC()
	}
	return cfg
}
