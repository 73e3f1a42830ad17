package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// AnomalyPolicy is the TOML shape of the auto-lock policy:
//
//	threshold = 5
//
//	[weights]
//	multi_ip = 3
//	ua_mismatch = 3
//	focus_lost = 1
type AnomalyPolicy struct {
	Threshold int            `toml:"threshold"`
	Weights   map[string]int `toml:"weights"`
}

// LoadAnomalyPolicy returns the policy from path, or one built from the
// env threshold when path is empty.
func LoadAnomalyPolicy(path string, threshold int) (*AnomalyPolicy, error) {
	if path == "" {
		return &AnomalyPolicy{Threshold: threshold}, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParseAnomalyPolicy(raw)
}

// ParseAnomalyPolicy decodes a TOML policy document.
func ParseAnomalyPolicy(raw []byte) (*AnomalyPolicy, error) {
	var p AnomalyPolicy
	if err := toml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if p.Threshold < 0 {
		return nil, fmt.Errorf("policy threshold must be >= 0, got %d", p.Threshold)
	}
	for k, w := range p.Weights {
		if w < 0 {
			return nil, fmt.Errorf("policy weight %q must be >= 0, got %d", k, w)
		}
	}
	return &p, nil
}
