// Package probe implements the HTTP health prober: a fan-out/fan-in poll
// of every instance in a pool until each converges or the round times out.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/helmgate/helmgate/internal/domain"
)

// Prober implements [domain.HealthProber] over HTTP.
type Prober struct {
	Client *http.Client
	Clock  domain.Clock
	Logger *slog.Logger
}

func (p *Prober) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

func (p *Prober) clock() domain.Clock {
	if p.Clock != nil {
		return p.Clock
	}
	return domain.SystemClock()
}

func (p *Prober) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Probe polls every instance concurrently at spec.Interval until it
// reports spec.ExpectedCode for spec.ConsecutiveSuccesses consecutive
// attempts or the overall timeout fires. The report always contains one
// entry per input instance, in input order: timeouts yield partial
// results, never dropped instances.
func (p *Prober) Probe(ctx context.Context, refs []domain.InstanceRef, spec domain.ProbeSpec) domain.HealthReport {
	if spec.ConsecutiveSuccesses <= 0 {
		spec.ConsecutiveSuccesses = 2
	}
	if spec.Interval <= 0 {
		spec.Interval = 100 * time.Millisecond
	}
	if spec.Timeout <= 0 {
		spec.Timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	results := make([]domain.InstanceHealth, len(refs))
	var wg sync.WaitGroup
	for i, ref := range refs {
		wg.Add(1)
		go func(i int, ref domain.InstanceRef) {
			defer wg.Done()
			results[i] = p.probeOne(ctx, ref, spec)
		}(i, ref)
	}
	wg.Wait()

	return domain.HealthReport{Results: results}
}

func (p *Prober) probeOne(ctx context.Context, ref domain.InstanceRef, spec domain.ProbeSpec) domain.InstanceHealth {
	result := domain.InstanceHealth{Instance: ref, State: domain.HealthUnknown}
	url := fmt.Sprintf("http://%s%s", ref.Address, spec.Path)

	streak := 0
	for {
		result.Attempts++
		code, err := p.attempt(ctx, url)
		switch {
		case err != nil:
			streak = 0
			result.LastErr = err.Error()
		case code != spec.ExpectedCode:
			streak = 0
			result.LastErr = fmt.Sprintf("status %d, want %d", code, spec.ExpectedCode)
		default:
			streak++
			result.LastErr = ""
			if streak >= spec.ConsecutiveSuccesses {
				result.State = domain.HealthHealthy
				return result
			}
		}

		select {
		case <-ctx.Done():
			result.State = domain.HealthUnhealthy
			if result.LastErr == "" {
				result.LastErr = ctx.Err().Error()
			}
			p.logger().Debug("probe gave up", "instance", ref.ID, "attempts", result.Attempts, "err", result.LastErr)
			return result
		case <-p.clock().After(spec.Interval):
		}
	}
}

func (p *Prober) attempt(ctx context.Context, url string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client().Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}

var _ domain.HealthProber = (*Prober)(nil)
