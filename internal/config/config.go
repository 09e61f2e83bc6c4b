package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"psychoprep-engine/internal/domain"
)

type Config struct {
	Env    string `yaml:"env"`
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Questions struct {
		TTL string `yaml:"ttl"`
	} `yaml:"questions"`
	Engine struct {
		TickInterval   string         `yaml:"tick_interval"`
		Feedback       bool           `yaml:"feedback"`
		PersistTimeout string         `yaml:"persist_timeout"`
		Weights        []WeightConfig `yaml:"weights"`
	} `yaml:"engine"`
}

// WeightConfig is the YAML form of one named scoring weight table.
type WeightConfig struct {
	Name       string                    `yaml:"name"`
	Categories map[string]CategoryWeight `yaml:"categories"`
}

type CategoryWeight struct {
	BasePoints  float64            `yaml:"base_points"`
	Multipliers map[string]float64 `yaml:"multipliers"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// WeightTables converts the YAML weight tables into the domain form keyed by
// table name.
func (c Config) WeightTables() map[string]domain.ScoreWeightConfig {
	tables := make(map[string]domain.ScoreWeightConfig, len(c.Engine.Weights))
	for _, w := range c.Engine.Weights {
		table := domain.ScoreWeightConfig{
			Name:       w.Name,
			Categories: make(map[domain.Category]domain.CategoryWeight, len(w.Categories)),
		}
		for category, cw := range w.Categories {
			weight := domain.CategoryWeight{
				BasePoints:  cw.BasePoints,
				Multipliers: make(map[domain.Difficulty]float64, len(cw.Multipliers)),
			}
			for difficulty, mult := range cw.Multipliers {
				weight.Multipliers[domain.Difficulty(difficulty)] = mult
			}
			table.Categories[category] = weight
		}
		tables[w.Name] = table
	}
	return tables
}

// Duration parses a duration string or returns the fallback if empty or
// malformed.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
