package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PolicyFile is the optional YAML file named by RATE_LIMIT_POLICY_FILE:
//
//	policies:
//	  webhook:
//	    window: 1m
//	    max_requests: 200
//	  auth:
//	    message: "Slow down"
type PolicyFile struct {
	Policies map[string]PolicySettings `yaml:"policies"`
}

func LoadPolicyFile(path string) (map[string]PolicySettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var f PolicyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	for name := range f.Policies {
		switch name {
		case PolicyWebhook, PolicyAPI, PolicyAuth:
		default:
			return nil, fmt.Errorf("policy file %s: unknown policy %q", path, name)
		}
	}
	return f.Policies, nil
}

// ApplyPolicyOverrides replaces only the fields an override sets.
func (c *Config) ApplyPolicyOverrides(overrides map[string]PolicySettings) {
	for name, o := range overrides {
		s := c.RateLimits[name]
		if o.Window != 0 {
			s.Window = o.Window
		}
		if o.MaxRequests != 0 {
			s.MaxRequests = o.MaxRequests
		}
		if o.Message != "" {
			s.Message = o.Message
		}
		c.RateLimits[name] = s
	}
}
