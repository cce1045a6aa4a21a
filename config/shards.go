package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// IPShard binds outbound connections for the listed exchanges to one local IP.
type IPShard struct {
	IP        string   `yaml:"ip"`
	Exchanges []string `yaml:"exchanges"`
}

// IPShards represents the full shard configuration.
type IPShards struct {
	Shards []IPShard `yaml:"shards"`
}

// LoadIPShards loads shard configuration from the given path.
func LoadIPShards(path string) (*IPShards, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shards file: %w", err)
	}
	var cfg IPShards
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse shards file: %w", err)
	}
	seen := map[string]string{}
	for _, s := range cfg.Shards {
		for _, ex := range s.Exchanges {
			ex = strings.ToLower(ex)
			if prev, ok := seen[ex]; ok && prev != s.IP {
				return nil, fmt.Errorf("exchange %s assigned to both %s and %s", ex, prev, s.IP)
			}
			seen[ex] = s.IP
		}
	}
	return &cfg, nil
}

// Apply sets LocalIP on every exchange a shard lists, unless the exchange
// already pins one in the main config.
func (s *IPShards) Apply(cfg *Config) {
	if s == nil {
		return
	}
	for _, shard := range s.Shards {
		for _, ex := range shard.Exchanges {
			id := strings.ToLower(ex)
			ec, ok := cfg.Exchanges[id]
			if !ok || ec.LocalIP != "" {
				continue
			}
			ec.LocalIP = shard.IP
			cfg.Exchanges[id] = ec
		}
	}
}
