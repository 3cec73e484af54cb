package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"gitlab.bluewillows.net/root/zonesync/internal/reconciler"
)

func setupApp(t *testing.T, path string) *app {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	a := newApp(io.Discard, io.Discard)
	a.configPath = path
	a.logLevel = "error"
	if err := a.setup(); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return a
}

func newTestLoop(a *app) *syncLoop {
	rec := reconciler.New(a.registry, a.cfg.Zones, reconciler.WithLogger(a.logger))
	return newSyncLoop(rec, a.logger, nil)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSyncLoop_Queue(t *testing.T) {
	l := newSyncLoop(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	if _, ok := l.take(); ok {
		t.Error("expected nothing queued initially")
	}

	l.TriggerZones()
	if _, ok := l.take(); ok {
		t.Error("empty TriggerZones should queue nothing")
	}

	l.TriggerZones("b.example.", "a.example.")
	l.TriggerZones("a.example.")
	zones, ok := l.take()
	if !ok || !slices.Equal(zones, []string{"a.example.", "b.example."}) {
		t.Errorf("take() = %v, %v", zones, ok)
	}

	if !l.Trigger() {
		t.Error("first Trigger should queue")
	}
	if l.Trigger() {
		t.Error("second Trigger should report already queued")
	}
	l.TriggerZones("a.example.")
	zones, ok = l.take()
	if !ok || zones != nil {
		t.Errorf("full sync should absorb zone requests, got %v, %v", zones, ok)
	}
	if _, ok := l.take(); ok {
		t.Error("expected queue drained")
	}
	if !l.Trigger() {
		t.Error("Trigger should queue again after take")
	}
}

func TestSyncLoop_Status(t *testing.T) {
	fake, server := newFakeSelectel(t)
	a := setupApp(t, writeTestConfig(t, server.URL, "selectel"))
	l := newTestLoop(a)

	l.sync(context.Background(), nil)

	st := l.Status().(syncStatus)
	if st.Syncs != 1 || st.LastSync == nil || st.Running {
		t.Errorf("unexpected status: %+v", st)
	}
	if st.Error != "" {
		t.Errorf("unexpected error: %s", st.Error)
	}
	if len(st.Targets) != 1 {
		t.Fatalf("expected 1 target, got %d", len(st.Targets))
	}
	if tg := st.Targets[0]; tg.Zone != "example.com." || tg.Provider != "selectel" || tg.Changes != 2 {
		t.Errorf("unexpected target status: %+v", tg)
	}
	if degraded, _ := l.Degraded(context.Background()); degraded {
		t.Error("expected not degraded after a clean sync")
	}
	if got := fake.rrsetCount("example.com."); got != 2 {
		t.Errorf("expected 2 rrsets, got %d", got)
	}
}

func TestSyncLoop_Degraded(t *testing.T) {
	_, server := newFakeSelectel(t)
	a := setupApp(t, writeTestConfig(t, server.URL, "selectel"))
	server.Close()
	l := newTestLoop(a)

	l.sync(context.Background(), nil)

	degraded, msg := l.Degraded(context.Background())
	if !degraded || msg == "" {
		t.Errorf("expected degraded with a message, got %v %q", degraded, msg)
	}
	st := l.Status().(syncStatus)
	if len(st.Targets) != 1 || st.Targets[0].Error == "" {
		t.Errorf("expected failed target in status: %+v", st)
	}
}

func TestSyncLoop_Run(t *testing.T) {
	_, server := newFakeSelectel(t)
	a := setupApp(t, writeTestConfig(t, server.URL, "selectel"))
	l := newTestLoop(a)

	syncs := func() int { return l.Status().(syncStatus).Syncs }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, 0)
		close(done)
	}()

	waitFor(t, "initial sync", func() bool { return syncs() == 1 })

	l.TriggerZones("example.com.")
	waitFor(t, "zone sync", func() bool { return syncs() == 2 })

	l.Trigger()
	waitFor(t, "full sync", func() bool { return syncs() == 3 })

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestServe_ZoneFileChange(t *testing.T) {
	fake, server := newFakeSelectel(t)
	path := writeTestConfig(t, server.URL, "selectel")
	zoneFile := filepath.Join(filepath.Dir(path), "zones", "example.com.yaml")

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var stdout, stderr bytes.Buffer
	a := newApp(&stdout, &stderr)
	root := newRootCommand(a)
	root.SetArgs([]string{"serve", "-c", path,
		"--listen", "127.0.0.1:0",
		"--interval", "0",
		"--poll-interval", "20ms",
		"--log-level", "error",
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- root.ExecuteContext(ctx) }()

	waitFor(t, "initial sync", func() bool { return fake.rrsetCount("example.com.") == 2 })

	updated := testZoneYAML + `
mail:
  type: A
  ttl: 300
  value: 192.0.2.25
`
	if err := os.WriteFile(zoneFile, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(zoneFile, later, later); err != nil {
		t.Fatal(err)
	}

	waitFor(t, "resync after zone file change", func() bool { return fake.rrsetCount("example.com.") == 3 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

func TestServe_Locked(t *testing.T) {
	_, server := newFakeSelectel(t)
	path := writeTestConfig(t, server.URL, "selectel")
	a := setupApp(t, path)
	a.cfg.Global.ListenAddr = "127.0.0.1:0"

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil || !locked {
		t.Fatalf("taking lock: %v", err)
	}
	defer lock.Unlock()

	if err := a.serve(context.Background(), false); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
}

func TestServe_ListenError(t *testing.T) {
	_, server := newFakeSelectel(t)
	a := setupApp(t, writeTestConfig(t, server.URL, "selectel"))
	a.cfg.Global.ListenAddr = "not-an-address"

	if err := a.serve(context.Background(), true); err == nil {
		t.Error("expected error for an invalid listen address")
	}
}
