package provider

import (
	"context"
	"fmt"
)

// ChangeKind is the kind of change a plan makes to one record.
type ChangeKind string

const (
	// ChangeCreate adds a record that does not exist yet.
	ChangeCreate ChangeKind = "create"
	// ChangeUpdate replaces an existing record whose values or TTL differ.
	ChangeUpdate ChangeKind = "update"
	// ChangeDelete removes a record that is no longer desired.
	ChangeDelete ChangeKind = "delete"
)

// Change is a single planned modification.
// Create carries only New, Delete only Existing, Update both.
type Change struct {
	Kind     ChangeKind
	Existing *Record
	New      *Record
}

// Record returns the record the change is about: New when set, otherwise Existing.
func (c Change) Record() Record {
	if c.New != nil {
		return *c.New
	}
	return *c.Existing
}

// String returns a human-readable representation of the change.
func (c Change) String() string {
	switch c.Kind {
	case ChangeUpdate:
		return fmt.Sprintf("update %s -> %s", c.Existing, c.New)
	case ChangeDelete:
		return fmt.Sprintf("delete %s", c.Existing)
	default:
		return fmt.Sprintf("create %s", c.New)
	}
}

// Plan is the set of changes that turn the existing zone into the desired one.
type Plan struct {
	Existing *Zone
	Desired  *Zone
	// Exists is false when the zone is not present at the provider yet.
	Exists  bool
	Changes []Change
}

// HasChanges returns true if the plan would modify anything.
func (p *Plan) HasChanges() bool {
	return p != nil && len(p.Changes) > 0
}

// Counts returns the number of creates, updates and deletes in the plan.
func (p *Plan) Counts() (creates, updates, deletes int) {
	for _, c := range p.Changes {
		switch c.Kind {
		case ChangeCreate:
			creates++
		case ChangeUpdate:
			updates++
		case ChangeDelete:
			deletes++
		}
	}
	return creates, updates, deletes
}

// Diff compares existing and desired zones and returns the changes between them.
//
// Records are matched by name and type:
//   - in desired but not existing → create
//   - in both but not equal → update
//   - in existing but not desired → delete
//
// Changes are ordered deterministically: creates and updates in desired record order,
// then deletes in existing record order.
func Diff(existing, desired *Zone) []Change {
	var changes []Change

	for _, d := range desired.Records() {
		d := d
		if existing == nil {
			changes = append(changes, Change{Kind: ChangeCreate, New: &d})
			continue
		}
		e, ok := existing.Get(d.Name, d.Type)
		if !ok {
			changes = append(changes, Change{Kind: ChangeCreate, New: &d})
			continue
		}
		if !RecordEquals(e, d) {
			changes = append(changes, Change{Kind: ChangeUpdate, Existing: &e, New: &d})
		}
	}

	if existing == nil {
		return changes
	}
	for _, e := range existing.Records() {
		e := e
		if _, ok := desired.Get(e.Name, e.Type); !ok {
			changes = append(changes, Change{Kind: ChangeDelete, Existing: &e})
		}
	}

	return changes
}

// BuildPlan populates the provider's current view of desired.Name and diffs it
// against desired. The target is populated leniently so that a record the provider
// holds but cannot be read cleanly does not block the rest of the zone. Changes for
// types the provider does not support are dropped, and providers implementing
// ChangeFilter may veto individual changes.
func BuildPlan(ctx context.Context, p Provider, desired *Zone) (*Plan, error) {
	existing := NewZone(desired.Name)
	exists, err := p.Populate(ctx, existing, true, true)
	if err != nil {
		return nil, WrapError(p.Name(), "populate", err)
	}

	filter, hasFilter := p.(ChangeFilter)

	plan := &Plan{
		Existing: existing,
		Desired:  desired,
		Exists:   exists,
	}
	for _, c := range Diff(existing, desired) {
		if !p.SupportsType(c.Record().Type) {
			continue
		}
		if hasFilter && !filter.IncludeChange(c) {
			continue
		}
		plan.Changes = append(plan.Changes, c)
	}

	return plan, nil
}
