package promotion_test

import (
	"context"
	"testing"
	"time"

	"github.com/helmgate/helmgate/internal/domain"
	"github.com/helmgate/helmgate/internal/promotion"
)

type stubProber struct{}

func (stubProber) Probe(ctx context.Context, refs []domain.InstanceRef, spec domain.ProbeSpec) domain.HealthReport {
	return domain.HealthReport{}
}

func TestDefaultChecks_Suite(t *testing.T) {
	spec := domain.ProbeSpec{Path: "/health", ExpectedCode: 200}
	checks := promotion.DefaultChecks(stubProber{}, spec, promotion.SuiteOptions{})

	want := []string{"health", "baseline-read", "load-probe", "latency", "restricted-path"}
	if len(checks) != len(want) {
		t.Fatalf("suite has %d checks, want %d", len(checks), len(want))
	}
	for i, name := range want {
		if checks[i].Name() != name {
			t.Errorf("check %d = %q, want %q", i, checks[i].Name(), name)
		}
	}

	load := checks[2].(*promotion.LoadProbeCheck)
	if load.Requests != 20 {
		t.Errorf("default load requests = %d, want 20", load.Requests)
	}
	latency := checks[3].(*promotion.LatencyCheck)
	if latency.Threshold != time.Second {
		t.Errorf("default latency threshold = %s, want 1s", latency.Threshold)
	}
	restricted := checks[4].(*promotion.RestrictedPathCheck)
	if restricted.Path != "/internal/admin" {
		t.Errorf("default restricted path = %q, want /internal/admin", restricted.Path)
	}
}

func TestDefaultChecks_Options(t *testing.T) {
	spec := domain.ProbeSpec{Path: "/health", ExpectedCode: 200}
	checks := promotion.DefaultChecks(stubProber{}, spec, promotion.SuiteOptions{
		LoadRequests:     50,
		LatencyThreshold: 250 * time.Millisecond,
		RestrictedPath:   "/admin/debug",
	})

	if load := checks[2].(*promotion.LoadProbeCheck); load.Requests != 50 {
		t.Errorf("load requests = %d, want 50", load.Requests)
	}
	if latency := checks[3].(*promotion.LatencyCheck); latency.Threshold != 250*time.Millisecond {
		t.Errorf("latency threshold = %s, want 250ms", latency.Threshold)
	}
	if restricted := checks[4].(*promotion.RestrictedPathCheck); restricted.Path != "/admin/debug" {
		t.Errorf("restricted path = %q, want /admin/debug", restricted.Path)
	}
}
