package selectel

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/miekg/dns"

	"gitlab.bluewillows.net/root/zonesync/internal/metrics"
	"gitlab.bluewillows.net/root/zonesync/pkg/provider"
)

// TypeName is the provider type used in configuration.
const TypeName = "selectel"

// Provider implements provider.Provider for Selectel DNS.
type Provider struct {
	name          string
	updateInPlace bool
	client        *Client
	logger        *slog.Logger

	// zones maps zone fqdn to the API zone; loaded on first use and dropped by
	// ResetCache at the start of every sync.
	mu          sync.Mutex
	zones       map[string]Zone
	zonesLoaded bool
}

// ProviderOption is a functional option for configuring the Provider.
type ProviderOption func(*Provider)

// WithProviderLogger sets a custom logger for the provider.
func WithProviderLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClient replaces the API client (useful for testing).
func WithClient(client *Client) ProviderOption {
	return func(p *Provider) {
		p.client = client
	}
}

// New creates a new Selectel provider instance.
func New(name string, config *Config, opts ...ProviderOption) (*Provider, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Provider{
		name:          name,
		updateInPlace: config.UpdateInPlace,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("provider", name))

	if p.client == nil {
		p.client = NewClient(config.Token,
			WithAPIEndpoint(config.Endpoint),
			WithTimeout(config.Timeout),
			WithTLSSkipVerify(config.TLSSkipVerify),
			WithLogger(p.logger),
		)
	}

	return p, nil
}

// NewFromMap creates a new Selectel provider from a configuration map.
// This is used by the provider registry Factory pattern.
func NewFromMap(name string, config map[string]string, opts ...ProviderOption) (*Provider, error) {
	cfg, err := LoadConfigFromMap(name, config)
	if err != nil {
		return nil, err
	}
	return New(name, cfg, opts...)
}

// Factory returns a provider.Factory function for use with the provider registry.
func Factory() provider.Factory {
	return func(name string, config map[string]string, logger *slog.Logger) (provider.Provider, error) {
		return NewFromMap(name, config, WithProviderLogger(logger))
	}
}

// Name returns the provider instance name.
func (p *Provider) Name() string {
	return p.name
}

// Type returns "selectel".
func (p *Provider) Type() string {
	return TypeName
}

// Ping checks connectivity to the Selectel API.
func (p *Provider) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// SupportsType reports whether Selectel can store records of type t.
func (p *Provider) SupportsType(t provider.RecordType) bool {
	return slices.Contains(SupportedTypes, t)
}

// ResetCache drops the zone registry; it is reloaded on next use.
func (p *Provider) ResetCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.zones = nil
	p.zonesLoaded = false
}

// RefreshZones reloads the zone registry from the API.
func (p *Provider) RefreshZones(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadZonesLocked(ctx)
}

func (p *Provider) loadZonesLocked(ctx context.Context) error {
	list, err := p.client.ListZones(ctx)
	if err != nil {
		return err
	}

	zones := make(map[string]Zone, len(list))
	for _, z := range list {
		zones[zoneKey(z.Name)] = z
	}
	p.zones = zones
	p.zonesLoaded = true

	p.logger.Debug("loaded zone registry", slog.Int("zones", len(zones)))
	return nil
}

// lookupZone returns the API zone for name, loading the registry on first use.
func (p *Provider) lookupZone(ctx context.Context, name string) (Zone, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.zonesLoaded {
		if err := p.loadZonesLocked(ctx); err != nil {
			return Zone{}, false, err
		}
	}

	z, ok := p.zones[zoneKey(name)]
	return z, ok, nil
}

// createZone creates name at the API and registers it.
func (p *Provider) createZone(ctx context.Context, name string) (Zone, error) {
	created, err := p.client.CreateZone(ctx, name)
	if err != nil {
		return Zone{}, err
	}
	if created.Name == "" {
		created.Name = name
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.zones == nil {
		p.zones = make(map[string]Zone)
	}
	p.zones[zoneKey(name)] = *created
	return *created, nil
}

func zoneKey(name string) string {
	return dns.Fqdn(strings.ToLower(name))
}

// Populate adds the records Selectel holds for zone.Name to zone.
// It returns false when the zone does not exist at Selectel.
func (p *Provider) Populate(ctx context.Context, zone *provider.Zone, target, lenient bool) (bool, error) {
	p.logger.Debug("populate",
		slog.String("zone", zone.Name),
		slog.Bool("target", target),
		slog.Bool("lenient", lenient),
	)

	apiZone, ok, err := p.lookupZone(ctx, zone.Name)
	if err != nil {
		return false, fmt.Errorf("looking up zone %s: %w", zone.Name, err)
	}
	if !ok {
		p.logger.Info("populate: zone does not exist", slog.String("zone", zone.Name))
		return false, nil
	}

	rrsets, err := p.client.ListRRSets(ctx, apiZone.UUID)
	if err != nil && !provider.IsNotFound(err) {
		return false, err
	}

	before := zone.Len()
	for _, rrset := range rrsets {
		t, err := provider.ParseRecordType(rrset.Type)
		if err != nil || !p.SupportsType(t) {
			p.logger.Debug("populate: skipping unsupported rrset",
				slog.String("name", rrset.Name),
				slog.String("type", rrset.Type),
			)
			continue
		}

		record, err := FromRRSet(zone, rrset)
		if err != nil {
			if !lenient {
				return true, fmt.Errorf("mapping rrset %s %s: %w", rrset.Name, rrset.Type, err)
			}
			p.logger.Warn("populate: skipping unreadable rrset",
				slog.String("name", rrset.Name),
				slog.String("type", rrset.Type),
				slog.String("error", err.Error()),
			)
			continue
		}

		if err := record.Validate(zone.Name); err != nil {
			if !lenient {
				return true, err
			}
			p.logger.Warn("populate: keeping invalid record",
				slog.String("record", record.String()),
				slog.String("error", err.Error()),
			)
		}

		if err := zone.AddRecord(record, lenient); err != nil {
			if provider.IsConflict(err) {
				// Only the first rrset per (name, type) is kept.
				p.logger.Debug("populate: duplicate rrset ignored",
					slog.String("name", rrset.Name),
					slog.String("type", rrset.Type),
				)
				continue
			}
			return true, err
		}
	}

	found := zone.Len() - before
	metrics.RecordsPopulated.WithLabelValues(p.name, zone.Name).Set(float64(found))
	p.logger.Info("populate: found records",
		slog.String("zone", zone.Name),
		slog.Int("count", found),
	)
	return true, nil
}

// IncludeChange drops updates that only differ because the desired TTL is below MinTTL.
func (p *Provider) IncludeChange(change provider.Change) bool {
	if change.Kind != provider.ChangeUpdate || change.Existing == nil || change.New == nil {
		return true
	}

	clamped := change.New.WithTTL(max(MinTTL, change.New.TTL))
	if provider.RecordEquals(*change.Existing, clamped) {
		p.logger.Debug("include change: update is a no-op after ttl clamp",
			slog.String("existing", change.Existing.String()),
			slog.String("new", change.New.String()),
		)
		return false
	}
	return true
}

// Apply executes the plan against Selectel. Delete failures are recorded and skipped;
// any other failure stops the apply and is returned along with the partial result.
func (p *Provider) Apply(ctx context.Context, plan *provider.Plan) (*provider.Result, error) {
	result := provider.NewResult(plan.Desired.Name, false)
	result.Changes = len(plan.Changes)
	defer result.Complete()

	p.logger.Debug("apply",
		slog.String("zone", plan.Desired.Name),
		slog.Int("changes", len(plan.Changes)),
	)

	s, err := p.newSession(ctx, plan.Desired.Name, result)
	if err != nil {
		return result, err
	}

	for _, change := range plan.Changes {
		var err error
		switch change.Kind {
		case provider.ChangeCreate:
			err = s.create(ctx, *change.New)
		case provider.ChangeUpdate:
			err = s.update(ctx, *change.Existing, *change.New)
		case provider.ChangeDelete:
			err = s.delete(ctx, *change.Existing)
		default:
			err = fmt.Errorf("unknown change kind %q", change.Kind)
		}
		if err != nil {
			return result, provider.WrapError(p.name, "apply", err)
		}
	}

	return result, nil
}
