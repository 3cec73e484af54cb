// Package reconciler syncs desired zones from zone files to DNS providers.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/miekg/dns"

	"gitlab.bluewillows.net/root/zonesync/internal/config"
	"gitlab.bluewillows.net/root/zonesync/internal/metrics"
	"gitlab.bluewillows.net/root/zonesync/internal/zonefile"
	"gitlab.bluewillows.net/root/zonesync/pkg/provider"
)

// Config holds reconciler configuration options.
type Config struct {
	// DryRun if true, plans changes without applying them.
	DryRun bool

	// Targets restricts the run to these provider instance names. Empty means
	// every target configured for a zone.
	Targets []string
}

// ZoneLoader reads the desired state of a zone.
type ZoneLoader func(path, zoneName string, lenient bool) (*provider.Zone, error)

// Reconciler plans and applies the difference between zone files and
// provider state.
type Reconciler struct {
	providers *provider.Registry
	zones     []*config.ZoneConfig
	config    Config
	loader    ZoneLoader
	logger    *slog.Logger
}

// Option is a functional option for configuring the Reconciler.
type Option func(*Reconciler)

// WithLogger sets a custom logger for the reconciler.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithConfig sets the reconciler configuration.
func WithConfig(cfg Config) Option {
	return func(r *Reconciler) {
		r.config = cfg
	}
}

// WithZoneLoader replaces the zone file reader.
func WithZoneLoader(loader ZoneLoader) Option {
	return func(r *Reconciler) {
		r.loader = loader
	}
}

// New creates a new Reconciler for the given zones. Providers are looked up
// by instance name in the registry.
func New(providers *provider.Registry, zones []*config.ZoneConfig, opts ...Option) *Reconciler {
	r := &Reconciler{
		providers: providers,
		zones:     zones,
		loader:    zonefile.Load,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Sync plans every selected zone against each of its targets and, unless
// configured for a dry run, applies the plans. An empty zoneNames selects all
// zones.
//
// Failures of one target do not stop the others; they are reported in the
// result. The returned error is only set for invalid arguments or when ctx is
// cancelled.
func (r *Reconciler) Sync(ctx context.Context, zoneNames ...string) (*Result, error) {
	zones, err := r.selectZones(zoneNames)
	if err != nil {
		return nil, err
	}

	r.logger.Info("starting sync",
		slog.Bool("dry_run", r.config.DryRun),
		slog.Int("zones", len(zones)),
	)

	r.resetCaches()

	result := NewResult(r.config.DryRun)
	defer func() {
		result.Complete()
		metrics.SyncDuration.Observe(result.Duration().Seconds())
	}()

	for _, zc := range zones {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		r.syncZone(ctx, zc, result)
	}

	creates, updates, deletes := result.Counts()
	r.logger.Info("sync complete",
		slog.Bool("dry_run", r.config.DryRun),
		slog.Int("creates", creates),
		slog.Int("updates", updates),
		slog.Int("deletes", deletes),
		slog.Bool("errors", result.HasErrors()),
		slog.Duration("duration", result.Duration()),
	)

	return result, nil
}

// resetCaches makes every provider reload its cached state, so zones created or
// removed outside zonesync since the last sync are seen.
func (r *Reconciler) resetCaches() {
	for _, p := range r.providers.All() {
		if c, ok := p.(provider.CacheResetter); ok {
			c.ResetCache()
		}
	}
}

// Dump returns the records a provider currently holds for zoneName.
// It fails with provider.ErrNotFound when the zone does not exist there.
func (r *Reconciler) Dump(ctx context.Context, providerName, zoneName string, lenient bool) (*provider.Zone, error) {
	p, ok := r.providers.Get(providerName)
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", providerName)
	}

	zone := provider.NewZone(zoneName)
	exists, err := p.Populate(ctx, zone, false, lenient)
	if err != nil {
		return nil, provider.WrapError(p.Name(), "populate", err)
	}
	if !exists {
		return nil, fmt.Errorf("zone %s on %s: %w", zone.Name, p.Name(), provider.ErrNotFound)
	}
	return zone, nil
}

func (r *Reconciler) selectZones(names []string) ([]*config.ZoneConfig, error) {
	if len(names) == 0 {
		return r.zones, nil
	}

	selected := make([]*config.ZoneConfig, 0, len(names))
	for _, name := range names {
		fqdn := dns.Fqdn(strings.ToLower(name))
		idx := slices.IndexFunc(r.zones, func(z *config.ZoneConfig) bool { return z.Name == fqdn })
		if idx < 0 {
			return nil, fmt.Errorf("zone %s is not configured", fqdn)
		}
		selected = append(selected, r.zones[idx])
	}
	return selected, nil
}

// syncZone loads the desired zone once and processes every target.
func (r *Reconciler) syncZone(ctx context.Context, zc *config.ZoneConfig, result *Result) {
	logger := r.logger.With(slog.String("zone", zc.Name))

	targets := r.targetsFor(zc)

	desired, err := r.loader(zc.File, zc.Name, zc.Lenient)
	if err != nil {
		logger.Error("failed to load zone file",
			slog.String("file", zc.File),
			slog.String("error", err.Error()),
		)
		for _, name := range targets {
			result.AddTarget(TargetResult{Zone: zc.Name, Provider: name, Err: err})
		}
		metrics.SyncsTotal.WithLabelValues(zc.Name, "error").Inc()
		return
	}

	logger.Debug("loaded desired zone",
		slog.String("file", zc.File),
		slog.Int("records", desired.Len()),
	)

	failed := false
	for _, name := range targets {
		tr := r.syncTarget(ctx, logger, desired, name)
		if tr.Failed() {
			failed = true
		}
		result.AddTarget(tr)
	}

	status := "success"
	if failed {
		status = "error"
	}
	metrics.SyncsTotal.WithLabelValues(zc.Name, status).Inc()
}

// targetsFor returns the provider names a zone is synced to, honoring the
// configured target filter.
func (r *Reconciler) targetsFor(zc *config.ZoneConfig) []string {
	var names []string
	if len(zc.Targets) > 0 {
		names = slices.Clone(zc.Targets)
	} else {
		for _, p := range r.providers.All() {
			names = append(names, p.Name())
		}
	}

	if len(r.config.Targets) == 0 {
		return names
	}
	return slices.DeleteFunc(names, func(n string) bool {
		return !slices.Contains(r.config.Targets, n)
	})
}

func (r *Reconciler) syncTarget(ctx context.Context, logger *slog.Logger, desired *provider.Zone, name string) TargetResult {
	tr := TargetResult{Zone: desired.Name, Provider: name}
	logger = logger.With(slog.String("provider", name))

	p, ok := r.providers.Get(name)
	if !ok {
		tr.Err = fmt.Errorf("unknown provider %q", name)
		logger.Error("target provider not registered")
		return tr
	}

	plan, err := provider.BuildPlan(ctx, p, desired)
	if err != nil {
		tr.Err = err
		logger.Error("failed to plan", slog.String("error", err.Error()))
		return tr
	}
	tr.Plan = plan

	for _, c := range plan.Changes {
		metrics.ChangesPlanned.WithLabelValues(name, string(c.Kind)).Inc()
		logger.Info("planned change", slog.String("change", c.String()))
	}

	creates, updates, deletes := plan.Counts()
	logger.Info("plan complete",
		slog.Bool("zone_exists", plan.Exists),
		slog.Int("creates", creates),
		slog.Int("updates", updates),
		slog.Int("deletes", deletes),
	)

	if r.config.DryRun || !plan.HasChanges() {
		return tr
	}

	applied, err := p.Apply(ctx, plan)
	tr.Apply = applied
	if err != nil {
		tr.Err = err
		logger.Error("failed to apply plan", slog.String("error", err.Error()))
		return tr
	}

	logger.Info("plan applied",
		slog.Int("created", applied.CreatedCount()),
		slog.Int("updated", applied.UpdatedCount()),
		slog.Int("deleted", applied.DeletedCount()),
		slog.Int("failed", applied.FailedCount()),
		slog.Bool("zone_created", applied.ZoneCreated),
	)
	return tr
}
