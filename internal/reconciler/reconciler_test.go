package reconciler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"gitlab.bluewillows.net/root/zonesync/internal/config"
	"gitlab.bluewillows.net/root/zonesync/internal/metrics"
	"gitlab.bluewillows.net/root/zonesync/pkg/provider"
)

const desiredYAML = `
'':
  type: A
  ttl: 300
  value: 192.0.2.1
www:
  type: CNAME
  ttl: 300
  value: example.com.
`

func TestSync_CreatesMissingZone(t *testing.T) {
	mock := newTestMockProvider("primary")
	zc := writeZoneFile(t, "example.com.", desiredYAML)
	r := New(testRegistry(t, mock), []*config.ZoneConfig{zc}, WithLogger(testLogger()))

	result, err := r.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HasErrors() {
		t.Fatalf("unexpected failures: %v", result.Err())
	}
	if len(result.Targets) != 1 {
		t.Fatalf("expected 1 target, got %d", len(result.Targets))
	}

	tr := result.Targets[0]
	if tr.Plan.Exists {
		t.Error("expected plan to report missing zone")
	}
	if creates, _, _ := result.Counts(); creates != 2 {
		t.Errorf("expected 2 creates, got %d", creates)
	}
	if tr.Apply == nil || !tr.Apply.ZoneCreated {
		t.Error("expected zone created by apply")
	}
	if got := mock.zone("example.com."); got == nil || got.Len() != 2 {
		t.Errorf("expected provider zone with 2 records, got %v", got)
	}
}

func TestSync_UpdatesAndDeletes(t *testing.T) {
	mock := newTestMockProvider("primary")
	mock.setZone(t, "example.com.",
		provider.Record{Name: "", Type: provider.RecordTypeA, TTL: 300, Values: []string{"192.0.2.99"}},
		provider.Record{Name: "www", Type: provider.RecordTypeCNAME, TTL: 300, Values: []string{"example.com."}},
		provider.Record{Name: "old", Type: provider.RecordTypeA, TTL: 300, Values: []string{"192.0.2.7"}},
	)
	zc := writeZoneFile(t, "example.com.", desiredYAML)
	r := New(testRegistry(t, mock), []*config.ZoneConfig{zc}, WithLogger(testLogger()))

	result, err := r.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	creates, updates, deletes := result.Counts()
	if creates != 0 || updates != 1 || deletes != 1 {
		t.Errorf("expected 0/1/1 changes, got %d/%d/%d", creates, updates, deletes)
	}

	zone := mock.zone("example.com.")
	if a, _ := zone.Get("", provider.RecordTypeA); a.Value() != "192.0.2.1" {
		t.Errorf("expected apex A updated, got %v", a)
	}
	if _, ok := zone.Get("old", provider.RecordTypeA); ok {
		t.Error("expected stale record deleted")
	}
}

func TestSync_NoChangesSkipsApply(t *testing.T) {
	mock := newTestMockProvider("primary")
	mock.setZone(t, "example.com.",
		provider.Record{Name: "", Type: provider.RecordTypeA, TTL: 300, Values: []string{"192.0.2.1"}},
		provider.Record{Name: "www", Type: provider.RecordTypeCNAME, TTL: 300, Values: []string{"example.com."}},
	)
	zc := writeZoneFile(t, "example.com.", desiredYAML)
	r := New(testRegistry(t, mock), []*config.ZoneConfig{zc}, WithLogger(testLogger()))

	result, err := r.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.HasChanges() {
		t.Error("expected no changes")
	}
	if mock.applyCount() != 0 {
		t.Errorf("expected no apply calls, got %d", mock.applyCount())
	}
}

func TestSync_DryRun(t *testing.T) {
	mock := newTestMockProvider("primary")
	zc := writeZoneFile(t, "example.com.", desiredYAML)
	r := New(testRegistry(t, mock), []*config.ZoneConfig{zc},
		WithLogger(testLogger()),
		WithConfig(Config{DryRun: true}),
	)

	result, err := r.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.DryRun || !result.HasChanges() {
		t.Errorf("expected dry-run result with changes, got %+v", result)
	}
	if mock.applyCount() != 0 {
		t.Error("expected dry run not to apply")
	}
	if result.Targets[0].Apply != nil {
		t.Error("expected no apply result in dry run")
	}
	if !strings.Contains(result.Summary(), "dry-run") {
		t.Errorf("expected dry-run in summary:\n%s", result.Summary())
	}
}

func TestSync_UnsupportedTypesDropped(t *testing.T) {
	mock := newTestMockProvider("primary")
	mock.skipTypes[provider.RecordTypeCNAME] = true
	zc := writeZoneFile(t, "example.com.", desiredYAML)
	r := New(testRegistry(t, mock), []*config.ZoneConfig{zc}, WithLogger(testLogger()))

	result, err := r.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creates, _, _ := result.Counts(); creates != 1 {
		t.Errorf("expected only the A record planned, got %d creates", creates)
	}
}

func TestSync_Targets(t *testing.T) {
	primary := newTestMockProvider("primary")
	secondary := newTestMockProvider("secondary")
	reg := testRegistry(t, primary, secondary)

	all := writeZoneFile(t, "example.com.", desiredYAML)
	only := writeZoneFile(t, "example.org.", "'':\n  type: A\n  value: 192.0.2.1\n", "secondary")

	r := New(reg, []*config.ZoneConfig{all, only}, WithLogger(testLogger()))
	result, err := r.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Targets) != 3 {
		t.Fatalf("expected 3 targets, got %d", len(result.Targets))
	}
	if primary.zone("example.org.") != nil {
		t.Error("expected example.org. not pushed to primary")
	}
	if secondary.zone("example.org.") == nil || secondary.zone("example.com.") == nil {
		t.Error("expected both zones on secondary")
	}

	// Restrict the run to one provider.
	filtered := New(reg, []*config.ZoneConfig{all}, WithLogger(testLogger()),
		WithConfig(Config{DryRun: true, Targets: []string{"secondary"}}))
	result, err = filtered.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Targets) != 1 || result.Targets[0].Provider != "secondary" {
		t.Errorf("expected only secondary, got %+v", result.Targets)
	}
}

func TestSync_SelectZones(t *testing.T) {
	mock := newTestMockProvider("primary")
	com := writeZoneFile(t, "example.com.", desiredYAML)
	org := writeZoneFile(t, "example.org.", desiredYAML)
	r := New(testRegistry(t, mock), []*config.ZoneConfig{com, org}, WithLogger(testLogger()))

	result, err := r.Sync(context.Background(), "EXAMPLE.org")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Targets) != 1 || result.Targets[0].Zone != "example.org." {
		t.Errorf("expected only example.org., got %+v", result.Targets)
	}

	if _, err := r.Sync(context.Background(), "example.net"); err == nil {
		t.Error("expected error for unconfigured zone")
	}
}

func TestSync_FailuresAreIsolated(t *testing.T) {
	broken := newTestMockProvider("broken")
	broken.populateErr = provider.ErrUnauthorized
	healthy := newTestMockProvider("healthy")
	zc := writeZoneFile(t, "example.com.", desiredYAML)
	r := New(testRegistry(t, broken, healthy), []*config.ZoneConfig{zc}, WithLogger(testLogger()))

	before := testutil.ToFloat64(metrics.SyncsTotal.WithLabelValues("example.com.", "error"))

	result, err := r.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.HasErrors() {
		t.Fatal("expected errors")
	}
	if !errors.Is(result.Err(), provider.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized in joined error, got %v", result.Err())
	}
	if healthy.zone("example.com.") == nil {
		t.Error("expected healthy provider to be synced")
	}

	after := testutil.ToFloat64(metrics.SyncsTotal.WithLabelValues("example.com.", "error"))
	if after != before+1 {
		t.Errorf("expected error sync counted, got %v -> %v", before, after)
	}
}

func TestSync_ApplyError(t *testing.T) {
	mock := newTestMockProvider("primary")
	mock.applyErr = provider.ErrServer
	zc := writeZoneFile(t, "example.com.", desiredYAML)
	r := New(testRegistry(t, mock), []*config.ZoneConfig{zc}, WithLogger(testLogger()))

	result, err := r.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tr := result.Targets[0]
	if !errors.Is(tr.Err, provider.ErrServer) {
		t.Errorf("expected ErrServer, got %v", tr.Err)
	}
	if tr.Apply == nil || tr.Apply.FailedCount() != 1 {
		t.Error("expected partial apply result kept")
	}
	if !strings.Contains(result.Summary(), "error") {
		t.Errorf("expected error in summary:\n%s", result.Summary())
	}
}

func TestSync_ZoneFileError(t *testing.T) {
	mock := newTestMockProvider("primary")
	zc := &config.ZoneConfig{Name: "example.com.", File: "/nonexistent/example.com.yaml"}
	r := New(testRegistry(t, mock), []*config.ZoneConfig{zc}, WithLogger(testLogger()))

	result, err := r.Sync(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Targets) != 1 || result.Targets[0].Err == nil {
		t.Errorf("expected load failure recorded per target, got %+v", result.Targets)
	}
}

func TestSync_ZoneLoader(t *testing.T) {
	mock := newTestMockProvider("primary")
	zc := &config.ZoneConfig{Name: "example.com.", File: "ignored"}

	loader := func(_, zoneName string, _ bool) (*provider.Zone, error) {
		zone := provider.NewZone(zoneName)
		err := zone.AddRecord(provider.Record{Type: provider.RecordTypeA, TTL: 60, Values: []string{"192.0.2.5"}}, false)
		return zone, err
	}
	r := New(testRegistry(t, mock), []*config.ZoneConfig{zc}, WithLogger(testLogger()), WithZoneLoader(loader))

	if _, err := r.Sync(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a, ok := mock.zone("example.com.").Get("", provider.RecordTypeA); !ok || a.Value() != "192.0.2.5" {
		t.Errorf("expected loader records applied, got %v", a)
	}
}

func TestSync_Cancelled(t *testing.T) {
	mock := newTestMockProvider("primary")
	zc := writeZoneFile(t, "example.com.", desiredYAML)
	r := New(testRegistry(t, mock), []*config.ZoneConfig{zc}, WithLogger(testLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Sync(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestSync_ChangesPlannedMetric(t *testing.T) {
	mock := newTestMockProvider("metrics-probe")
	zc := writeZoneFile(t, "example.com.", desiredYAML)
	r := New(testRegistry(t, mock), []*config.ZoneConfig{zc}, WithLogger(testLogger()),
		WithConfig(Config{DryRun: true}))

	if _, err := r.Sync(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := testutil.ToFloat64(metrics.ChangesPlanned.WithLabelValues("metrics-probe", "create")); got != 2 {
		t.Errorf("expected 2 planned creates, got %v", got)
	}
}

func TestDump(t *testing.T) {
	mock := newTestMockProvider("primary")
	mock.setZone(t, "example.com.",
		provider.Record{Name: "www", Type: provider.RecordTypeA, TTL: 300, Values: []string{"192.0.2.1"}},
	)
	r := New(testRegistry(t, mock), nil, WithLogger(testLogger()))

	zone, err := r.Dump(context.Background(), "primary", "example.com", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if zone.Len() != 1 {
		t.Errorf("expected 1 record, got %d", zone.Len())
	}

	if _, err := r.Dump(context.Background(), "primary", "example.org", false); !errors.Is(err, provider.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := r.Dump(context.Background(), "missing", "example.com", false); err == nil {
		t.Error("expected error for unknown provider")
	}
}

// cachingMockProvider counts cache resets.
type cachingMockProvider struct {
	*testMockProvider
	resets int
}

func (c *cachingMockProvider) ResetCache() { c.resets++ }

func TestSync_ResetsProviderCaches(t *testing.T) {
	mock := &cachingMockProvider{testMockProvider: newTestMockProvider("primary")}
	reg := provider.NewRegistry(testLogger())
	reg.RegisterFactory("mock", func(string, map[string]string, *slog.Logger) (provider.Provider, error) {
		return mock, nil
	})
	if err := reg.CreateInstance("primary", "mock", nil); err != nil {
		t.Fatal(err)
	}

	zc := writeZoneFile(t, "example.com.", desiredYAML)
	r := New(reg, []*config.ZoneConfig{zc}, WithLogger(testLogger()))

	for i := 1; i <= 2; i++ {
		if _, err := r.Sync(context.Background()); err != nil {
			t.Fatalf("sync %d: %v", i, err)
		}
		if mock.resets != i {
			t.Errorf("after sync %d: expected %d cache resets, got %d", i, i, mock.resets)
		}
	}
}
