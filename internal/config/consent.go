package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"appforge/internal/tools"
)

// FilePolicies is the durable consent policy store: a small YAML map from
// tool name to policy under the project's .appforge directory. It backs the
// "accept-always" and persistent "decline" consent decisions.
type FilePolicies struct {
	mu   sync.Mutex
	path string
	m    map[string]tools.Policy
}

// OpenPolicies loads (or initializes) the consent overrides for a project.
func OpenPolicies(projectRoot string) (*FilePolicies, error) {
	p := &FilePolicies{
		path: filepath.Join(projectRoot, ".appforge", "consent.yaml"),
		m:    make(map[string]tools.Policy),
	}
	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read consent overrides: %w", err)
	}
	if err := yaml.Unmarshal(data, &p.m); err != nil {
		return nil, fmt.Errorf("parse consent overrides: %w", err)
	}
	return p, nil
}

// Effective returns the stored policy for a tool, or "".
func (p *FilePolicies) Effective(tool string) tools.Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m[tool]
}

// SetPolicy persists an override.
func (p *FilePolicies) SetPolicy(tool string, policy tools.Policy) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[tool] = policy

	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("create settings directory: %w", err)
	}
	data, err := yaml.Marshal(p.m)
	if err != nil {
		return fmt.Errorf("encode consent overrides: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("write consent overrides: %w", err)
	}
	return nil
}
