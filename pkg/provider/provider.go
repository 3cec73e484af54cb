// Package provider defines the zone and record model and the interface that all DNS
// providers must implement.
package provider

import "context"

// Provider defines the interface for DNS providers.
// The lifecycle mirrors a DNS-as-code host: Populate reads the current state into a
// zone, BuildPlan diffs it against the desired zone, and Apply executes the plan.
type Provider interface {
	// Name returns the provider instance name (e.g., "selectel-prod").
	Name() string

	// Type returns the provider type (e.g., "selectel").
	Type() string

	// Ping checks connectivity and credentials.
	Ping(ctx context.Context) error

	// SupportsType reports whether the provider can manage records of type t.
	SupportsType(t RecordType) bool

	// Populate adds the provider's records for zone.Name to zone.
	// It returns false when the zone does not exist at the provider.
	// target is true when the zone is being populated as a sync target; lenient
	// accepts records that fail validation.
	Populate(ctx context.Context, zone *Zone, target, lenient bool) (bool, error)

	// Apply executes the plan's changes and reports what was done.
	Apply(ctx context.Context, plan *Plan) (*Result, error)
}

// ChangeFilter is implemented by providers that drop changes which are differences
// only in the model, e.g. a TTL below the provider's minimum.
type ChangeFilter interface {
	IncludeChange(change Change) bool
}

// CacheResetter is implemented by providers that cache provider-side state, such
// as the list of zones, between calls. ResetCache drops it so the next call
// reloads from the provider.
type CacheResetter interface {
	ResetCache()
}
