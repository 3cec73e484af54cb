package main

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"gitlab.bluewillows.net/root/zonesync/internal/health"
	"gitlab.bluewillows.net/root/zonesync/internal/reconciler"
	"gitlab.bluewillows.net/root/zonesync/internal/watcher"
)

func newServeCommand(a *app) *cobra.Command {
	var (
		listen   string
		interval time.Duration
		poll     time.Duration
		dryRun   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Keep providers in sync with the zone files",
		Long: `Run continuously: sync every zone at startup and on every interval, and
resync a zone shortly after its file changes. Health checks, metrics, the
last sync status and a manual trigger are served over HTTP.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.setup(); err != nil {
				return err
			}
			g := a.cfg.Global
			if cmd.Flags().Changed("listen") {
				g.ListenAddr = listen
			}
			if cmd.Flags().Changed("interval") {
				g.SyncInterval = interval
			}
			if cmd.Flags().Changed("poll-interval") {
				g.PollInterval = poll
			}
			return a.serve(cmd.Context(), dryRun)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Address for health, metrics and trigger endpoints (default from config, :8080)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Periodic full sync interval; 0 disables it (default from config, 5m)")
	cmd.Flags().DurationVar(&poll, "poll-interval", 0, "Zone file polling interval; 0 disables it (default from config, 5s)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan and log changes without applying them")
	return cmd
}

// serve runs until ctx is cancelled. The sync lock is held for the whole
// lifetime of the process unless running dry.
func (a *app) serve(ctx context.Context, dryRun bool) error {
	g := a.cfg.Global
	logger := a.logger

	if !dryRun {
		lock := flock.New(a.lockPath())
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquiring lock %s: %w", lock.Path(), err)
		}
		if !locked {
			return fmt.Errorf("%w (lock %s)", ErrLocked, lock.Path())
		}
		defer lock.Unlock()
	}

	rec := reconciler.New(a.registry, a.cfg.Zones,
		reconciler.WithLogger(logger),
		reconciler.WithConfig(reconciler.Config{DryRun: dryRun}),
	)
	loop := newSyncLoop(rec, logger, a.writeMetrics)

	healthServer := health.New(g.ListenAddr,
		health.WithLogger(logger),
		health.WithStatus(loop.Status),
		health.WithTrigger(loop.Trigger),
	)
	for _, p := range a.registry.All() {
		healthServer.RegisterChecker("provider:"+p.Name(), p.Ping)
	}
	healthServer.RegisterDegradedChecker("sync", loop.Degraded)

	if err := healthServer.Start(); err != nil {
		return fmt.Errorf("starting health server: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("health server shutdown error", slog.String("error", err.Error()))
		}
	}()

	if g.PollInterval > 0 && len(a.cfg.Zones) > 0 {
		zonesByFile := make(map[string][]string)
		files := make([]string, 0, len(a.cfg.Zones))
		for _, z := range a.cfg.Zones {
			zonesByFile[z.File] = append(zonesByFile[z.File], z.Name)
			files = append(files, z.File)
		}

		fileWatcher := watcher.New(files,
			func(paths []string) {
				var zones []string
				for _, p := range paths {
					zones = append(zones, zonesByFile[p]...)
				}
				loop.TriggerZones(zones...)
			},
			watcher.WithLogger(logger),
			watcher.WithConfig(watcher.Config{PollInterval: g.PollInterval}),
		)
		if err := fileWatcher.Start(ctx); err != nil {
			return fmt.Errorf("starting zone file watcher: %w", err)
		}
		defer fileWatcher.Stop()
	}

	logger.Info("zonesync serving",
		slog.String("addr", healthServer.Addr()),
		slog.Int("providers", a.registry.Count()),
		slog.Int("zones", len(a.cfg.Zones)),
		slog.Duration("interval", g.SyncInterval),
		slog.Duration("poll_interval", g.PollInterval),
		slog.Bool("dry_run", dryRun),
	)

	loop.Run(ctx, g.SyncInterval)

	logger.Info("zonesync shutdown complete")
	return nil
}

// syncLoop serializes syncs requested by the ticker, the zone file watcher
// and the HTTP trigger, and remembers the outcome of the last one.
type syncLoop struct {
	rec       *reconciler.Reconciler
	logger    *slog.Logger
	afterSync func()
	wake      chan struct{}

	mu         sync.Mutex
	pendingAll bool
	pending    map[string]struct{}
	status     syncStatus
}

// syncStatus is the /status document.
type syncStatus struct {
	Syncs    int            `json:"syncs"`
	Running  bool           `json:"running"`
	LastSync *time.Time     `json:"last_sync,omitempty"`
	Duration string         `json:"duration,omitempty"`
	DryRun   bool           `json:"dry_run"`
	Error    string         `json:"error,omitempty"`
	Targets  []targetStatus `json:"targets,omitempty"`
}

type targetStatus struct {
	Zone     string `json:"zone"`
	Provider string `json:"provider"`
	Changes  int    `json:"changes"`
	Created  int    `json:"created"`
	Updated  int    `json:"updated"`
	Deleted  int    `json:"deleted"`
	Failed   int    `json:"failed"`
	Error    string `json:"error,omitempty"`
}

func newSyncLoop(rec *reconciler.Reconciler, logger *slog.Logger, afterSync func()) *syncLoop {
	return &syncLoop{
		rec:       rec,
		logger:    logger,
		afterSync: afterSync,
		wake:      make(chan struct{}, 1),
		pending:   make(map[string]struct{}),
	}
}

// Trigger queues a full sync. It returns false if one is already queued.
func (l *syncLoop) Trigger() bool {
	l.mu.Lock()
	if l.pendingAll {
		l.mu.Unlock()
		return false
	}
	l.pendingAll = true
	l.mu.Unlock()
	l.signal()
	return true
}

// TriggerZones queues a sync of the named zones.
func (l *syncLoop) TriggerZones(zones ...string) {
	if len(zones) == 0 {
		return
	}
	l.mu.Lock()
	for _, z := range zones {
		l.pending[z] = struct{}{}
	}
	l.mu.Unlock()
	l.signal()
}

func (l *syncLoop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// take returns the queued work. A nil slice with ok means every zone.
func (l *syncLoop) take() (zones []string, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pendingAll {
		l.pendingAll = false
		clear(l.pending)
		return nil, true
	}
	if len(l.pending) == 0 {
		return nil, false
	}
	for z := range l.pending {
		zones = append(zones, z)
	}
	clear(l.pending)
	slices.Sort(zones)
	return zones, true
}

// Run syncs all zones, then serves queued and periodic syncs until ctx is
// cancelled. interval 0 disables periodic syncs.
func (l *syncLoop) Run(ctx context.Context, interval time.Duration) {
	l.logger.Info("running initial sync")
	l.sync(ctx, nil)

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			l.logger.Debug("periodic sync triggered", slog.Duration("interval", interval))
			l.sync(ctx, nil)
		case <-l.wake:
			if zones, ok := l.take(); ok {
				l.sync(ctx, zones)
			}
		}
	}
}

func (l *syncLoop) sync(ctx context.Context, zones []string) {
	l.mu.Lock()
	l.status.Running = true
	l.mu.Unlock()

	result, err := l.rec.Sync(ctx, zones...)
	if l.afterSync != nil {
		l.afterSync()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.status.Running = false
	l.status.Syncs++

	if err != nil {
		l.status.Error = err.Error()
		l.status.Targets = nil
		l.logger.Error("sync failed", slog.String("error", err.Error()))
		return
	}

	now := result.EndTime
	l.status.LastSync = &now
	l.status.Duration = result.Duration().Round(time.Millisecond).String()
	l.status.DryRun = result.DryRun
	l.status.Error = ""
	if rerr := result.Err(); rerr != nil {
		l.status.Error = rerr.Error()
	}
	l.status.Targets = make([]targetStatus, 0, len(result.Targets))
	for _, t := range result.Targets {
		l.status.Targets = append(l.status.Targets, newTargetStatus(t))
	}

	l.logger.Debug("sync status updated",
		slog.Int("syncs", l.status.Syncs),
		slog.Any("zones", zones),
		slog.Bool("errors", result.HasErrors()),
	)
}

func newTargetStatus(t reconciler.TargetResult) targetStatus {
	ts := targetStatus{Zone: t.Zone, Provider: t.Provider}
	if t.Plan != nil {
		ts.Changes = len(t.Plan.Changes)
	}
	if t.Apply != nil {
		ts.Created = t.Apply.CreatedCount()
		ts.Updated = t.Apply.UpdatedCount()
		ts.Deleted = t.Apply.DeletedCount()
		ts.Failed = t.Apply.FailedCount()
	}
	if t.Err != nil {
		ts.Error = t.Err.Error()
	}
	return ts
}

// Status returns a copy of the last sync status.
func (l *syncLoop) Status() any {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.status
	st.Targets = slices.Clone(l.status.Targets)
	return st
}

// Degraded reports the last sync's failure, if any.
func (l *syncLoop) Degraded(context.Context) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.status.Error != "" {
		return true, l.status.Error
	}
	return false, ""
}
