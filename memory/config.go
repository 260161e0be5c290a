package memory

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds Manager configuration. The zero value is not usable;
// start from DefaultConfig or LoadConfig.
type Config struct {
	// TableName is the logical table this manager writes to by default
	// and reads from. Routing by metadata type can redirect individual
	// records to the knowledge/messages/facts tables.
	TableName string `yaml:"table_name"`

	// AgentID is the identity of the runtime owning this manager. It is
	// used for the ownership filter on GetMemoryByID and for scope
	// defaulting on create.
	AgentID string `yaml:"agent_id"`

	// DefaultType is assigned to records created without metadata.
	// Knowledge-table managers typically set "document", conversational
	// ones "message". Empty normalizes to "message".
	DefaultType MemoryType `yaml:"default_type"`

	// MatchThreshold is the minimum similarity for SearchMemories when
	// the caller does not set one.
	MatchThreshold float64 `yaml:"match_threshold"`

	// SearchCount is the result limit for SearchMemories when the caller
	// does not set one.
	SearchCount int `yaml:"search_count"`
}

// DefaultConfig returns a Config populated with safe defaults.
func DefaultConfig() Config {
	return Config{
		TableName:      TableMessages,
		DefaultType:    TypeMessage,
		MatchThreshold: 0.1,
		SearchCount:    10,
	}
}

// LoadConfig loads config from a YAML file; a missing file yields the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config yaml: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks configuration sanity.
func (c *Config) Validate() error {
	if c.TableName == "" {
		return errors.New("table_name must not be empty")
	}
	if !c.DefaultType.Valid() {
		return fmt.Errorf("invalid default_type %q", c.DefaultType)
	}
	if c.MatchThreshold < 0 || c.MatchThreshold > 1 {
		return errors.New("match_threshold must be within [0, 1]")
	}
	if c.SearchCount <= 0 {
		return errors.New("search_count must be > 0")
	}
	return nil
}

func (c *Config) normalize() {
	if c.DefaultType == "" {
		c.DefaultType = TypeMessage
	}
	if c.MatchThreshold == 0 {
		c.MatchThreshold = 0.1
	}
	if c.SearchCount == 0 {
		c.SearchCount = 10
	}
}
