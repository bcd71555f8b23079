// Package config loads the YAML server configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/helmgate/helmgate/internal/domain"
)

// Duration wraps time.Duration so YAML values can be written as "30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// EnvironmentConfig declares one tier.
type EnvironmentConfig struct {
	Tier               string  `yaml:"tier"`
	InitialPoolSize    int     `yaml:"initial_pool_size"`
	MinHealthyFraction float64 `yaml:"min_healthy_fraction"`
}

// ProbeConfig parameterizes health probing rounds.
type ProbeConfig struct {
	Path                 string   `yaml:"path"`
	ExpectedCode         int      `yaml:"expected_code"`
	Interval             Duration `yaml:"interval"`
	Timeout              Duration `yaml:"timeout"`
	ConsecutiveSuccesses int      `yaml:"consecutive_successes"`
}

// Spec converts to the domain probe spec.
func (p ProbeConfig) Spec() domain.ProbeSpec {
	return domain.ProbeSpec{
		Path:                 p.Path,
		ExpectedCode:         p.ExpectedCode,
		Interval:             p.Interval.Std(),
		Timeout:              p.Timeout.Std(),
		ConsecutiveSuccesses: p.ConsecutiveSuccesses,
	}
}

// PolicyConfig declares one severity's escalation policy.
type PolicyConfig struct {
	Severity           string   `yaml:"severity"`
	InitialDelay       Duration `yaml:"initial_delay"`
	EscalationInterval Duration `yaml:"escalation_interval"`
	MaxEscalations     int      `yaml:"max_escalations"`
	Channels           []string `yaml:"channels"`
}

// NotifyConfig parameterizes notification retries.
type NotifyConfig struct {
	Attempts int      `yaml:"attempts"`
	Backoff  Duration `yaml:"backoff"`
}

// AcceptanceConfig parameterizes the promotion acceptance suite.
type AcceptanceConfig struct {
	LoadRequests     int      `yaml:"load_requests"`
	LatencyThreshold Duration `yaml:"latency_threshold"`
	RestrictedPath   string   `yaml:"restricted_path"`
}

// Config is the root configuration.
type Config struct {
	DatabasePath    string              `yaml:"database_path"`
	WorkflowEngine  string              `yaml:"workflow_engine"`
	LeaseTTL        Duration            `yaml:"lease_ttl"`
	CheckpointGrace Duration            `yaml:"checkpoint_grace"`
	Probe           ProbeConfig         `yaml:"probe"`
	Environments    []EnvironmentConfig `yaml:"environments"`
	Policies        []PolicyConfig      `yaml:"escalation_policies"`
	Notify          NotifyConfig        `yaml:"notify"`
	Acceptance      AcceptanceConfig    `yaml:"acceptance"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		DatabasePath:    "helmgate.db",
		WorkflowEngine:  "sync",
		LeaseTTL:        Duration(30 * time.Minute),
		CheckpointGrace: Duration(time.Hour),
		Probe: ProbeConfig{
			Path:                 "/health",
			ExpectedCode:         200,
			Interval:             Duration(2 * time.Second),
			Timeout:              Duration(2 * time.Minute),
			ConsecutiveSuccesses: 2,
		},
		Environments: []EnvironmentConfig{
			{Tier: "dev", InitialPoolSize: 2, MinHealthyFraction: 0.5},
			{Tier: "staging", InitialPoolSize: 2, MinHealthyFraction: 0.5},
			{Tier: "prod", InitialPoolSize: 4, MinHealthyFraction: 0.75},
		},
		Policies: []PolicyConfig{
			{Severity: "critical", InitialDelay: Duration(5 * time.Minute), EscalationInterval: Duration(15 * time.Minute), MaxEscalations: 3, Channels: []string{"oncall-primary", "oncall-secondary"}},
			{Severity: "warning", InitialDelay: Duration(30 * time.Minute), EscalationInterval: Duration(time.Hour), MaxEscalations: 2, Channels: []string{"team-alerts"}},
			{Severity: "info", InitialDelay: Duration(4 * time.Hour), EscalationInterval: Duration(24 * time.Hour), MaxEscalations: 1, Channels: []string{"team-alerts"}},
		},
		Notify: NotifyConfig{Attempts: 3, Backoff: Duration(2 * time.Second)},
		Acceptance: AcceptanceConfig{
			LoadRequests:     20,
			LatencyThreshold: Duration(time.Second),
			RestrictedPath:   "/internal/admin",
		},
	}
}

// Load reads a config file and applies defaults for omitted fields.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.WorkflowEngine {
	case "sync", "durable":
	default:
		return fmt.Errorf("%w: workflow_engine must be sync or durable, got %q", domain.ErrInvalidArgument, c.WorkflowEngine)
	}
	if c.LeaseTTL <= 0 {
		return fmt.Errorf("%w: lease_ttl must be positive", domain.ErrInvalidArgument)
	}
	seen := make(map[string]bool)
	for _, env := range c.Environments {
		if _, err := domain.ParseTier(env.Tier); err != nil {
			return err
		}
		if seen[env.Tier] {
			return fmt.Errorf("%w: duplicate environment %q", domain.ErrInvalidArgument, env.Tier)
		}
		seen[env.Tier] = true
		if env.MinHealthyFraction <= 0 || env.MinHealthyFraction > 1 {
			return fmt.Errorf("%w: environment %q min_healthy_fraction %v outside (0, 1]",
				domain.ErrInvalidArgument, env.Tier, env.MinHealthyFraction)
		}
		if env.InitialPoolSize < 1 {
			return fmt.Errorf("%w: environment %q initial_pool_size must be at least 1",
				domain.ErrInvalidArgument, env.Tier)
		}
	}
	for _, p := range c.Policies {
		switch domain.Severity(p.Severity) {
		case domain.SeverityCritical, domain.SeverityWarning, domain.SeverityInfo:
		default:
			return fmt.Errorf("%w: unknown policy severity %q", domain.ErrInvalidArgument, p.Severity)
		}
		if p.MaxEscalations < 1 {
			return fmt.Errorf("%w: policy %q max_escalations must be at least 1", domain.ErrInvalidArgument, p.Severity)
		}
		if len(p.Channels) == 0 {
			return fmt.Errorf("%w: policy %q has no channels", domain.ErrInvalidArgument, p.Severity)
		}
	}
	return nil
}

// EscalationPolicies converts configured policies for the engine.
func (c Config) EscalationPolicies() map[domain.Severity]domain.EscalationPolicy {
	out := make(map[domain.Severity]domain.EscalationPolicy, len(c.Policies))
	for _, p := range c.Policies {
		channels := make([]domain.ChannelRef, len(p.Channels))
		for i, ch := range p.Channels {
			channels[i] = domain.ChannelRef(ch)
		}
		out[domain.Severity(p.Severity)] = domain.EscalationPolicy{
			Severity:           domain.Severity(p.Severity),
			InitialDelay:       p.InitialDelay.Std(),
			EscalationInterval: p.EscalationInterval.Std(),
			MaxEscalations:     p.MaxEscalations,
			Channels:           channels,
		}
	}
	return out
}
