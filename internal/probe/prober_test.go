package probe_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/helmgate/helmgate/internal/domain"
	"github.com/helmgate/helmgate/internal/probe"
)

func testSpec() domain.ProbeSpec {
	return domain.ProbeSpec{
		Path:                 "/health",
		ExpectedCode:         200,
		Interval:             5 * time.Millisecond,
		Timeout:              300 * time.Millisecond,
		ConsecutiveSuccesses: 2,
	}
}

func addrOf(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestProbe_HealthyInstanceConverges(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := &probe.Prober{}
	report := p.Probe(context.Background(), []domain.InstanceRef{
		{ID: "i-1", Address: addrOf(t, srv)},
	}, testSpec())

	if !report.AllHealthy() {
		t.Fatalf("report = %+v, want healthy", report.Results)
	}
	if got := report.Results[0].Attempts; got < 2 {
		t.Errorf("Attempts = %d, want at least ConsecutiveSuccesses", got)
	}
}

func TestProbe_StreakResetsOnFailure(t *testing.T) {
	// ok, fail, ok, ok: the failure resets the streak, so convergence
	// needs four attempts.
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := &probe.Prober{}
	report := p.Probe(context.Background(), []domain.InstanceRef{
		{ID: "i-1", Address: addrOf(t, srv)},
	}, testSpec())

	if !report.AllHealthy() {
		t.Fatalf("report = %+v, want healthy", report.Results)
	}
	if got := report.Results[0].Attempts; got != 4 {
		t.Errorf("Attempts = %d, want 4", got)
	}
}

func TestProbe_TimeoutMarksUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	downAddr := addrOf(t, down)
	down.Close()

	p := &probe.Prober{}
	report := p.Probe(context.Background(), []domain.InstanceRef{
		{ID: "i-sick", Address: addrOf(t, srv)},
		{ID: "i-gone", Address: downAddr},
	}, testSpec())

	if report.AllHealthy() {
		t.Fatal("report healthy, want both unhealthy")
	}
	if got := len(report.Results); got != 2 {
		t.Fatalf("results = %d, want one per probed instance", got)
	}
	for _, res := range report.Results {
		if res.State != domain.HealthUnhealthy {
			t.Errorf("%s: State = %q, want unhealthy", res.Instance.ID, res.State)
		}
		if res.LastErr == "" {
			t.Errorf("%s: LastErr empty", res.Instance.ID)
		}
	}
}

func TestProbe_MixedPoolReportsEachInstance(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	sick := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer sick.Close()

	p := &probe.Prober{}
	report := p.Probe(context.Background(), []domain.InstanceRef{
		{ID: "i-1", Address: addrOf(t, healthy)},
		{ID: "i-2", Address: addrOf(t, sick)},
	}, testSpec())

	if report.AllHealthy() {
		t.Fatal("mixed pool reported healthy")
	}
	sickOnes := report.Unhealthy()
	if len(sickOnes) != 1 || sickOnes[0].Instance.ID != "i-2" {
		t.Fatalf("Unhealthy = %+v, want only i-2", sickOnes)
	}
	if report.Results[0].Instance.ID != "i-1" {
		t.Errorf("results out of input order: %+v", report.Results)
	}
}

func TestProbe_EmptyPool(t *testing.T) {
	p := &probe.Prober{}
	report := p.Probe(context.Background(), nil, testSpec())
	if !report.AllHealthy() {
		t.Error("empty report not vacuously healthy")
	}
	if len(report.Results) != 0 {
		t.Errorf("results = %d, want 0", len(report.Results))
	}
}

func TestProbe_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &probe.Prober{}
	report := p.Probe(ctx, []domain.InstanceRef{
		{ID: "i-1", Address: addrOf(t, srv)},
	}, testSpec())

	if report.AllHealthy() {
		t.Fatal("cancelled probe reported healthy")
	}
	if len(report.Results) != 1 {
		t.Fatalf("results = %d, want partial result for probed instance", len(report.Results))
	}
}
