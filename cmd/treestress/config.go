package main

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Memory   MemoryConfig   `yaml:"memory"`
	Tree     TreeConfig     `yaml:"tree"`
	Workload WorkloadConfig `yaml:"workload"`
}

type MemoryConfig struct {
	PageSize int    `yaml:"page_size"`
	MaxPages uint64 `yaml:"max_pages"` // 0 is unlimited; required with File
	File     string `yaml:"file"`      // Backs pages with an mmap'd file when set
}

type TreeConfig struct {
	Name       string `yaml:"name"`
	MaxPerPage int    `yaml:"max_per_page"` // 0 means page capacity
	InnerRows  bool   `yaml:"inner_rows"`
	Reuse      bool   `yaml:"reuse"`
}

type WorkloadConfig struct {
	Workers        int           `yaml:"workers"`
	Ops            int           `yaml:"ops"`       // Total operations across workers
	KeyRange       int64         `yaml:"key_range"` // Keys are drawn from [0, KeyRange)
	PutPercent     int           `yaml:"put_percent"`
	RemovePercent  int           `yaml:"remove_percent"` // The rest are lookups
	ScanLength     int64         `yaml:"scan_length"`    // Key span of lookups done with a cursor
	ValidateEvery  int           `yaml:"validate_every"` // Ops per worker between quiescent checks; 0 disables
	ReportInterval time.Duration `yaml:"report_interval"`
	Seed           int64         `yaml:"seed"`
}

func defaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			PageSize: 4096,
		},
		Tree: TreeConfig{
			Name:  "stress",
			Reuse: true,
		},
		Workload: WorkloadConfig{
			Workers:        8,
			Ops:            1_000_000,
			KeyRange:       100_000,
			PutPercent:     50,
			RemovePercent:  30,
			ScanLength:     64,
			ReportInterval: time.Second,
			Seed:           1,
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
	}
	applyDefaults(cfg)
	return cfg, cfg.validate()
}

func applyDefaults(cfg *Config) {
	if cfg.Memory.PageSize <= 0 {
		cfg.Memory.PageSize = 4096
	}
	if cfg.Tree.Name == "" {
		cfg.Tree.Name = "stress"
	}
	if cfg.Workload.Workers <= 0 {
		cfg.Workload.Workers = 8
	}
	if cfg.Workload.KeyRange <= 0 {
		cfg.Workload.KeyRange = 100_000
	}
	if cfg.Workload.ReportInterval <= 0 {
		cfg.Workload.ReportInterval = time.Second
	}
}

// override applies command line values over the loaded config. Zero keeps
// the config value. The result is validated again.
func (cfg *Config) override(workers, ops int) error {
	if workers > 0 {
		cfg.Workload.Workers = workers
	}
	if ops > 0 {
		cfg.Workload.Ops = ops
	}
	return cfg.validate()
}

func (cfg *Config) validate() error {
	w := cfg.Workload
	switch {
	case w.PutPercent < 0 || w.RemovePercent < 0 || w.PutPercent+w.RemovePercent > 100:
		return errors.Newf("put_percent %d and remove_percent %d must be non-negative and sum to at most 100",
			w.PutPercent, w.RemovePercent)
	case w.KeyRange < int64(w.Workers):
		return errors.Newf("key_range %d is smaller than workers %d", w.KeyRange, w.Workers)
	case cfg.Memory.File != "" && cfg.Memory.MaxPages == 0:
		return errors.New("memory.max_pages is required with memory.file")
	}
	return nil
}
