// Package config loads the server's YAML configuration, grounded on
// pithecene-io-quarry's quarry/cli/config package: ${VAR}/${VAR:-default}
// environment expansion applied to the raw file text before decoding, and
// strict unknown-field rejection so a typo'd key fails loudly instead of
// being silently ignored.
package config

import (
	"time"
)

// Config is the top-level shape of protokv-server.yaml.
type Config struct {
	Participant ParticipantConfig `yaml:"participant"`
	HTTP        HTTPConfig        `yaml:"http"`
	Storage     StorageConfig     `yaml:"storage"`
	Cluster     ClusterConfig     `yaml:"cluster"`
}

// ParticipantConfig identifies this process within the cluster.
type ParticipantConfig struct {
	ID       string `yaml:"id"`
	Database string `yaml:"database,omitempty"`
}

// HTTPConfig configures the gin server.
type HTTPConfig struct {
	ListenAddr            string `yaml:"listen_addr"`
	DevCORS               bool   `yaml:"dev_cors,omitempty"`
	MaxConcurrentRequests int    `yaml:"max_concurrent_requests,omitempty"`
}

// StorageConfig selects and configures the durable-value backend.
type StorageConfig struct {
	Backend string      `yaml:"backend"` // "memory" or "redis"
	Redis   RedisConfig `yaml:"redis,omitempty"`
}

// RedisConfig configures storage.RedisBackend.
type RedisConfig struct {
	Addr      string   `yaml:"addr"`
	DB        int      `yaml:"db,omitempty"`
	KeyPrefix string   `yaml:"key_prefix,omitempty"`
	OpTimeout Duration `yaml:"op_timeout,omitempty"`
}

// ClusterConfig lists every member's address for cluster.StaticDirectory.
type ClusterConfig struct {
	Members []MemberConfig `yaml:"members"`
}

// MemberConfig is one entry of ClusterConfig.Members.
type MemberConfig struct {
	ParticipantID string `yaml:"participant_id"`
	BaseURL       string `yaml:"base_url"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "3s"),
// grounded on the teacher pack's quarry/cli/config.Duration.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "3s" or "500ms".
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}
