package localfleet

import (
	"context"
	"fmt"
	"sync"

	"github.com/helmgate/helmgate/internal/domain"
)

// Artifacts implements [domain.ArtifactSource] over a local catalog. In
// the default lenient mode any version resolves to a local locator;
// Strict restricts resolution to published versions.
type Artifacts struct {
	Strict bool

	mu       sync.Mutex
	locators map[string]string
}

// Publish makes a version resolvable.
func (a *Artifacts) Publish(version, locator string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.locators == nil {
		a.locators = make(map[string]string)
	}
	a.locators[version] = locator
}

func (a *Artifacts) Resolve(ctx context.Context, version string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	loc, ok := a.locators[version]
	if !ok {
		if a.Strict {
			return "", fmt.Errorf("artifact for version %q: %w", version, domain.ErrNotFound)
		}
		return "local://" + version, nil
	}
	return loc, nil
}

// DataStore implements [domain.DataStoreDiagnostics] with a settable
// per-tier status.
type DataStore struct {
	mu       sync.Mutex
	statuses map[domain.Tier]domain.DataStoreStatus
}

// SetStatus overrides the reported status for a tier.
func (d *DataStore) SetStatus(tier domain.Tier, st domain.DataStoreStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.statuses == nil {
		d.statuses = make(map[domain.Tier]domain.DataStoreStatus)
	}
	d.statuses[tier] = st
}

func (d *DataStore) Status(ctx context.Context, tier domain.Tier) (domain.DataStoreStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st, ok := d.statuses[tier]; ok {
		return st, nil
	}
	return domain.DataStoreStatus{Reachable: true, Detail: "ok"}, nil
}

// Provisioner implements [domain.Provisioner] with settable declared and
// observed resource lists per tier.
type Provisioner struct {
	mu       sync.Mutex
	declared map[domain.Tier][]string
	observed map[domain.Tier][]string
}

// Declare sets a tier's declared resources.
func (p *Provisioner) Declare(tier domain.Tier, resources []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.declared == nil {
		p.declared = make(map[domain.Tier][]string)
	}
	p.declared[tier] = append([]string(nil), resources...)
}

// Observe sets a tier's observed resources.
func (p *Provisioner) Observe(tier domain.Tier, resources []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.observed == nil {
		p.observed = make(map[domain.Tier][]string)
	}
	p.observed[tier] = append([]string(nil), resources...)
}

func (p *Provisioner) DeclaredResources(ctx context.Context, tier domain.Tier) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.declared[tier]...), nil
}

func (p *Provisioner) ObservedResources(ctx context.Context, tier domain.Tier) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.observed[tier]...), nil
}

var (
	_ domain.ArtifactSource       = (*Artifacts)(nil)
	_ domain.DataStoreDiagnostics = (*DataStore)(nil)
	_ domain.Provisioner          = (*Provisioner)(nil)
)
