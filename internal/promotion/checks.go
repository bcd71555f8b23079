package promotion

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/helmgate/helmgate/internal/domain"
)

// AcceptanceCheck is one gate criterion evaluated against the source
// tier before promotion.
type AcceptanceCheck interface {
	Name() string
	Run(ctx context.Context, env domain.Environment) error
}

// SuiteOptions tunes the standard acceptance suite. Zero values fall
// back to the suite defaults.
type SuiteOptions struct {
	LoadRequests     int
	LatencyThreshold time.Duration
	RestrictedPath   string
}

// DefaultChecks is the standard acceptance suite the CLI wires in:
// health, baseline read, load probe, latency, restricted path.
func DefaultChecks(prober domain.HealthProber, spec domain.ProbeSpec, opts SuiteOptions) []AcceptanceCheck {
	if opts.LoadRequests <= 0 {
		opts.LoadRequests = 20
	}
	if opts.LatencyThreshold <= 0 {
		opts.LatencyThreshold = time.Second
	}
	if opts.RestrictedPath == "" {
		opts.RestrictedPath = "/internal/admin"
	}
	client := &http.Client{Timeout: 5 * time.Second}
	return []AcceptanceCheck{
		&HealthCheck{Prober: prober, Spec: spec},
		&BaselineReadCheck{Client: client, Path: spec.Path, ExpectedCode: spec.ExpectedCode},
		&LoadProbeCheck{Client: client, Path: spec.Path, ExpectedCode: spec.ExpectedCode, Requests: opts.LoadRequests},
		&LatencyCheck{Client: client, Path: spec.Path, Samples: 5, Threshold: opts.LatencyThreshold},
		&RestrictedPathCheck{Client: client, Path: opts.RestrictedPath},
	}
}

// HealthCheck re-probes the source pool until it converges.
type HealthCheck struct {
	Prober domain.HealthProber
	Spec   domain.ProbeSpec
}

func (c *HealthCheck) Name() string { return "health" }

func (c *HealthCheck) Run(ctx context.Context, env domain.Environment) error {
	report := c.Prober.Probe(ctx, env.Instances, c.Spec)
	if sick := report.Unhealthy(); len(sick) > 0 {
		return fmt.Errorf("%d of %d instances unhealthy", len(sick), len(report.Results))
	}
	return nil
}

// BaselineReadCheck issues one read against each instance.
type BaselineReadCheck struct {
	Client       *http.Client
	Path         string
	ExpectedCode int
}

func (c *BaselineReadCheck) Name() string { return "baseline-read" }

func (c *BaselineReadCheck) Run(ctx context.Context, env domain.Environment) error {
	for _, ref := range env.Instances {
		code, err := get(ctx, c.Client, ref.Address, c.Path)
		if err != nil {
			return fmt.Errorf("instance %s: %w", ref.ID, err)
		}
		if code != c.ExpectedCode {
			return fmt.Errorf("instance %s: status %d, want %d", ref.ID, code, c.ExpectedCode)
		}
	}
	return nil
}

// LoadProbeCheck round-robins a burst of requests over the pool and
// requires every one to succeed.
type LoadProbeCheck struct {
	Client       *http.Client
	Path         string
	ExpectedCode int
	Requests     int
}

func (c *LoadProbeCheck) Name() string { return "load-probe" }

func (c *LoadProbeCheck) Run(ctx context.Context, env domain.Environment) error {
	if len(env.Instances) == 0 {
		return fmt.Errorf("empty pool")
	}
	for i := range c.Requests {
		ref := env.Instances[i%len(env.Instances)]
		code, err := get(ctx, c.Client, ref.Address, c.Path)
		if err != nil {
			return fmt.Errorf("request %d to %s: %w", i+1, ref.ID, err)
		}
		if code != c.ExpectedCode {
			return fmt.Errorf("request %d to %s: status %d, want %d", i+1, ref.ID, code, c.ExpectedCode)
		}
	}
	return nil
}

// LatencyCheck samples response times and rejects when any sample
// exceeds the threshold.
type LatencyCheck struct {
	Client    *http.Client
	Path      string
	Samples   int
	Threshold time.Duration
}

func (c *LatencyCheck) Name() string { return "latency" }

func (c *LatencyCheck) Run(ctx context.Context, env domain.Environment) error {
	for _, ref := range env.Instances {
		for i := range c.Samples {
			start := time.Now()
			if _, err := get(ctx, c.Client, ref.Address, c.Path); err != nil {
				return fmt.Errorf("sample %d on %s: %w", i+1, ref.ID, err)
			}
			if elapsed := time.Since(start); elapsed > c.Threshold {
				return fmt.Errorf("sample %d on %s took %s, threshold %s", i+1, ref.ID, elapsed, c.Threshold)
			}
		}
	}
	return nil
}

// RestrictedPathCheck verifies internal paths do not answer 200.
type RestrictedPathCheck struct {
	Client *http.Client
	Path   string
}

func (c *RestrictedPathCheck) Name() string { return "restricted-path" }

func (c *RestrictedPathCheck) Run(ctx context.Context, env domain.Environment) error {
	for _, ref := range env.Instances {
		code, err := get(ctx, c.Client, ref.Address, c.Path)
		if err != nil {
			// Unreachable restricted paths are acceptable.
			continue
		}
		if code == http.StatusOK {
			return fmt.Errorf("instance %s serves %s publicly", ref.ID, c.Path)
		}
	}
	return nil
}

func get(ctx context.Context, client *http.Client, addr, path string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
