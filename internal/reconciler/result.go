package reconciler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gitlab.bluewillows.net/root/zonesync/pkg/provider"
)

// TargetResult is the outcome of syncing one zone to one provider.
type TargetResult struct {
	// Zone is the zone fqdn.
	Zone string

	// Provider is the provider instance name.
	Provider string

	// Plan is the computed plan, nil if planning failed.
	Plan *provider.Plan

	// Apply is the provider's apply result, nil in dry-run or when there was
	// nothing to do.
	Apply *provider.Result

	// Err is the error that stopped this target, if any.
	Err error
}

// Failed returns true if the target failed or any of its actions did.
func (t TargetResult) Failed() bool {
	return t.Err != nil || (t.Apply != nil && t.Apply.HasErrors())
}

// Result holds the complete result of a sync run.
type Result struct {
	// StartTime is when the run started.
	StartTime time.Time

	// EndTime is when the run completed.
	EndTime time.Time

	// Targets holds one entry per (zone, provider) pair processed.
	Targets []TargetResult

	// DryRun indicates if this was a dry-run (no changes applied).
	DryRun bool
}

// NewResult creates a new Result with the start time set to now.
func NewResult(dryRun bool) *Result {
	return &Result{
		StartTime: time.Now(),
		DryRun:    dryRun,
	}
}

// Complete marks the result as complete with the end time set to now.
func (r *Result) Complete() {
	r.EndTime = time.Now()
}

// Duration returns the total run duration.
func (r *Result) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

// AddTarget adds a target outcome to the result.
func (r *Result) AddTarget(t TargetResult) {
	r.Targets = append(r.Targets, t)
}

// Counts returns the planned creates, updates and deletes across all targets.
func (r *Result) Counts() (creates, updates, deletes int) {
	for _, t := range r.Targets {
		if t.Plan == nil {
			continue
		}
		c, u, d := t.Plan.Counts()
		creates += c
		updates += u
		deletes += d
	}
	return creates, updates, deletes
}

// HasChanges returns true if any target planned a change.
func (r *Result) HasChanges() bool {
	for _, t := range r.Targets {
		if t.Plan.HasChanges() {
			return true
		}
	}
	return false
}

// HasErrors returns true if any target failed.
func (r *Result) HasErrors() bool {
	for _, t := range r.Targets {
		if t.Failed() {
			return true
		}
	}
	return false
}

// Err joins the errors of all failed targets.
func (r *Result) Err() error {
	var errs []error
	for _, t := range r.Targets {
		switch {
		case t.Err != nil:
			errs = append(errs, fmt.Errorf("%s on %s: %w", t.Zone, t.Provider, t.Err))
		case t.Apply != nil && t.Apply.HasErrors():
			errs = append(errs, fmt.Errorf("%s on %s: %d action(s) failed", t.Zone, t.Provider, t.Apply.FailedCount()))
		}
	}
	return errors.Join(errs...)
}

// Summary returns a human-readable summary of the run.
func (r *Result) Summary() string {
	var sb strings.Builder

	mode := "applied"
	if r.DryRun {
		mode = "dry-run"
	}

	creates, updates, deletes := r.Counts()
	fmt.Fprintf(&sb, "Sync complete (%s) in %s\n", mode, r.Duration().Round(time.Millisecond))
	fmt.Fprintf(&sb, "  Targets: %d\n", len(r.Targets))
	fmt.Fprintf(&sb, "  Creates: %d\n", creates)
	fmt.Fprintf(&sb, "  Updates: %d\n", updates)
	fmt.Fprintf(&sb, "  Deletes: %d\n", deletes)

	for _, t := range r.Targets {
		switch {
		case t.Err != nil:
			fmt.Fprintf(&sb, "  %s -> %s: error: %v\n", t.Zone, t.Provider, t.Err)
		case t.Apply != nil:
			fmt.Fprintf(&sb, "  %s -> %s: created=%d updated=%d deleted=%d failed=%d\n",
				t.Zone, t.Provider, t.Apply.CreatedCount(), t.Apply.UpdatedCount(),
				t.Apply.DeletedCount(), t.Apply.FailedCount())
			for _, a := range t.Apply.Failed() {
				fmt.Fprintf(&sb, "    - %s\n", a.String())
			}
		}
	}

	return sb.String()
}
