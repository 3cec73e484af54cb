package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"gitlab.bluewillows.net/root/zonesync/internal/config"
	"gitlab.bluewillows.net/root/zonesync/pkg/provider"
)

// testMockProvider is an in-memory provider.Provider. It holds one zone per
// fqdn and records every Apply call.
type testMockProvider struct {
	name string

	mu          sync.Mutex
	zones       map[string]*provider.Zone
	applied     []*provider.Plan
	populateErr error
	applyErr    error
	skipTypes   map[provider.RecordType]bool
}

func newTestMockProvider(name string) *testMockProvider {
	return &testMockProvider{
		name:      name,
		zones:     make(map[string]*provider.Zone),
		skipTypes: make(map[provider.RecordType]bool),
	}
}

func (m *testMockProvider) Name() string { return m.name }
func (m *testMockProvider) Type() string { return "mock" }

func (m *testMockProvider) Ping(_ context.Context) error { return nil }

func (m *testMockProvider) SupportsType(t provider.RecordType) bool {
	return !m.skipTypes[t]
}

func (m *testMockProvider) Populate(_ context.Context, zone *provider.Zone, _, lenient bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.populateErr != nil {
		return false, m.populateErr
	}
	existing, ok := m.zones[zone.Name]
	if !ok {
		return false, nil
	}
	for _, r := range existing.Records() {
		if err := zone.AddRecord(r, lenient); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (m *testMockProvider) Apply(_ context.Context, plan *provider.Plan) (*provider.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.applied = append(m.applied, plan)
	result := provider.NewResult(plan.Desired.Name, false)
	defer result.Complete()

	if m.applyErr != nil {
		result.AddAction(provider.Action{Type: provider.ActionCreate, Status: provider.StatusFailed, Provider: m.name, Error: m.applyErr.Error()})
		return result, m.applyErr
	}

	zone, ok := m.zones[plan.Desired.Name]
	if !ok {
		zone = provider.NewZone(plan.Desired.Name)
		m.zones[zone.Name] = zone
		result.ZoneCreated = true
	}

	next := provider.NewZone(zone.Name)
	for _, r := range zone.Records() {
		_ = next.AddRecord(r, true)
	}
	for _, c := range plan.Changes {
		r := c.Record()
		switch c.Kind {
		case provider.ChangeDelete, provider.ChangeUpdate:
			rebuilt := provider.NewZone(zone.Name)
			for _, e := range next.Records() {
				if e.Name == r.Name && e.Type == r.Type {
					continue
				}
				_ = rebuilt.AddRecord(e, true)
			}
			next = rebuilt
		}
		if c.Kind != provider.ChangeDelete {
			_ = next.AddRecord(*c.New, true)
		}

		actionType := provider.ActionType(c.Kind)
		result.AddAction(provider.Action{Type: actionType, Status: provider.StatusSuccess, Provider: m.name, Name: r.Fqdn(zone.Name), RecordType: string(r.Type)})
	}
	result.Changes = len(plan.Changes)
	m.zones[zone.Name] = next
	return result, nil
}

func (m *testMockProvider) setZone(t *testing.T, name string, records ...provider.Record) {
	t.Helper()
	zone := provider.NewZone(name)
	for _, r := range records {
		if err := zone.AddRecord(r, false); err != nil {
			t.Fatalf("adding record: %v", err)
		}
	}
	m.mu.Lock()
	m.zones[zone.Name] = zone
	m.mu.Unlock()
}

func (m *testMockProvider) zone(name string) *provider.Zone {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.zones[name]
}

func (m *testMockProvider) applyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.applied)
}

// testRegistry builds a registry holding the given mock providers.
func testRegistry(t *testing.T, mocks ...*testMockProvider) *provider.Registry {
	t.Helper()
	reg := provider.NewRegistry(testLogger())
	byName := make(map[string]*testMockProvider, len(mocks))
	for _, m := range mocks {
		byName[m.name] = m
	}
	reg.RegisterFactory("mock", func(name string, _ map[string]string, _ *slog.Logger) (provider.Provider, error) {
		m, ok := byName[name]
		if !ok {
			return nil, errors.New("no mock named " + name)
		}
		return m, nil
	})
	for _, m := range mocks {
		if err := reg.CreateInstance(m.name, "mock", nil); err != nil {
			t.Fatalf("creating instance %s: %v", m.name, err)
		}
	}
	return reg
}

// writeZoneFile writes a YAML zone file and returns its zone config.
func writeZoneFile(t *testing.T, name, content string, targets ...string) *config.ZoneConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), name+"yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing zone file: %v", err)
	}
	return &config.ZoneConfig{Name: name, File: path, Targets: targets}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
