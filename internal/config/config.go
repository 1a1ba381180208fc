package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"go-callgraph-refine/refine"
)

type Config struct {
	Project struct {
		Root string `yaml:"root"`
	} `yaml:"project"`
	Analysis struct {
		ApplicationOnly bool `yaml:"application_only"`
		PruneDepth      int  `yaml:"prune_depth"`
		Refine          struct {
			Policy  string `yaml:"policy"`
			Include string `yaml:"include"` // manual policy only
			Exclude string `yaml:"exclude"`
		} `yaml:"refine"`
	} `yaml:"analysis"`
	Neo4j struct {
		URI      string `yaml:"uri"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"neo4j"`
	Snapshot struct {
		DB string `yaml:"db"` // badger directory
	} `yaml:"snapshot"`
	Metrics struct {
		Addr string `yaml:"addr"` // empty disables the metrics endpoint
	} `yaml:"metrics"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	var cfg Config
	cfg.Project.Root = "."
	cfg.Analysis.PruneDepth = 1
	cfg.Analysis.Refine.Policy = refine.PolicyTuned
	cfg.Neo4j.URI = "bolt://localhost:7687"
	cfg.Neo4j.User = "neo4j"
	cfg.Snapshot.DB = ".cgrefine"
	return &cfg
}

// LoadConfig reads the YAML file at path over the defaults and applies
// environment overrides. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	cfg := Default()

	// 2. Load YAML config
	if path != "" {
		file, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(file, cfg); err != nil {
				return nil, fmt.Errorf("parsing %s: %w", path, err)
			}
		}
	}

	// 3. Override with Environment Variables if present
	if uri := os.Getenv("CGREFINE_NEO4J_URI"); uri != "" {
		cfg.Neo4j.URI = uri
	}
	if user := os.Getenv("CGREFINE_NEO4J_USER"); user != "" {
		cfg.Neo4j.User = user
	}
	if pass := os.Getenv("CGREFINE_NEO4J_PASS"); pass != "" {
		cfg.Neo4j.Password = pass
	}
	if policy := os.Getenv("CGREFINE_REFINE_POLICY"); policy != "" {
		cfg.Analysis.Refine.Policy = policy
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if !refine.IsPolicyName(c.Analysis.Refine.Policy) {
		return fmt.Errorf("unknown refine policy %q (want one of %v)", c.Analysis.Refine.Policy, refine.PolicyNames())
	}
	if c.Analysis.PruneDepth < 0 {
		return fmt.Errorf("prune_depth must not be negative, got %d", c.Analysis.PruneDepth)
	}
	for _, expr := range []string{c.Analysis.Refine.Include, c.Analysis.Refine.Exclude} {
		if _, err := regexp.Compile(expr); err != nil {
			return fmt.Errorf("invalid refine pattern: %w", err)
		}
	}
	return nil
}
