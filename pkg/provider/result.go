package provider

import (
	"fmt"
	"strings"
	"time"
)

// ActionType represents the type of apply action.
type ActionType string

const (
	// ActionCreate indicates a record set will be/was created.
	ActionCreate ActionType = "create"
	// ActionUpdate indicates a record set will be/was updated in place.
	ActionUpdate ActionType = "update"
	// ActionDelete indicates a record set will be/was deleted.
	ActionDelete ActionType = "delete"
	// ActionSkip indicates nothing was done for a change.
	ActionSkip ActionType = "skip"
)

// ActionStatus represents the outcome of an action.
type ActionStatus string

const (
	// StatusPending indicates the action has not been executed yet.
	StatusPending ActionStatus = "pending"
	// StatusSuccess indicates the action completed successfully.
	StatusSuccess ActionStatus = "success"
	// StatusFailed indicates the action failed.
	StatusFailed ActionStatus = "failed"
	// StatusSkipped indicates the action was skipped (dry-run or nothing to do).
	StatusSkipped ActionStatus = "skipped"
)

// Action represents a single API-level operation performed while applying a plan.
type Action struct {
	// Type is the action type.
	Type ActionType

	// Status is the outcome of the action.
	Status ActionStatus

	// Provider is the provider instance name.
	Provider string

	// Name is the fqdn of the record set.
	Name string

	// RecordType is the DNS record type.
	RecordType string

	// Content is the record set's values, comma separated.
	Content string

	// Error contains the error message if Status is StatusFailed.
	Error string

	// DryRun indicates this action was not actually executed.
	DryRun bool
}

// String returns a human-readable representation of the action.
func (a Action) String() string {
	status := string(a.Status)
	if a.DryRun && a.Status == StatusSuccess {
		status = "dry-run"
	}

	if a.Error != "" {
		return fmt.Sprintf("[%s] %s %s %s [%s] (%s): %s",
			status, a.Type, a.Name, a.RecordType, a.Content, a.Provider, a.Error)
	}

	return fmt.Sprintf("[%s] %s %s %s [%s] (%s)",
		status, a.Type, a.Name, a.RecordType, a.Content, a.Provider)
}

// Result holds the outcome of applying one plan.
type Result struct {
	// Zone is the fqdn of the zone the plan was applied to.
	Zone string

	// StartTime is when apply started.
	StartTime time.Time

	// EndTime is when apply completed.
	EndTime time.Time

	// ZoneCreated is true when the zone had to be created at the provider.
	ZoneCreated bool

	// Changes is the number of plan changes processed.
	Changes int

	// Actions contains all API actions taken (or planned in dry-run).
	Actions []Action

	// DryRun indicates no changes were applied.
	DryRun bool
}

// NewResult creates a new Result with the start time set to now.
func NewResult(zone string, dryRun bool) *Result {
	return &Result{
		Zone:      zone,
		StartTime: time.Now(),
		Actions:   make([]Action, 0),
		DryRun:    dryRun,
	}
}

// Complete marks the result as complete with the end time set to now.
func (r *Result) Complete() {
	r.EndTime = time.Now()
}

// Duration returns the total apply duration.
func (r *Result) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return time.Since(r.StartTime)
	}
	return r.EndTime.Sub(r.StartTime)
}

// AddAction adds an action to the result.
func (r *Result) AddAction(action Action) {
	action.DryRun = r.DryRun
	r.Actions = append(r.Actions, action)
}

// Created returns all successful create actions.
func (r *Result) Created() []Action {
	return r.filterActions(ActionCreate, StatusSuccess)
}

// Updated returns all successful update actions.
func (r *Result) Updated() []Action {
	return r.filterActions(ActionUpdate, StatusSuccess)
}

// Deleted returns all successful delete actions.
func (r *Result) Deleted() []Action {
	return r.filterActions(ActionDelete, StatusSuccess)
}

// Failed returns all failed actions.
func (r *Result) Failed() []Action {
	var failed []Action
	for _, a := range r.Actions {
		if a.Status == StatusFailed {
			failed = append(failed, a)
		}
	}
	return failed
}

// Skipped returns all skipped actions.
func (r *Result) Skipped() []Action {
	var skipped []Action
	for _, a := range r.Actions {
		if a.Status == StatusSkipped || a.Type == ActionSkip {
			skipped = append(skipped, a)
		}
	}
	return skipped
}

func (r *Result) filterActions(actionType ActionType, status ActionStatus) []Action {
	var filtered []Action
	for _, a := range r.Actions {
		if a.Type == actionType && a.Status == status {
			filtered = append(filtered, a)
		}
	}
	return filtered
}

// CreatedCount returns the number of record sets created.
func (r *Result) CreatedCount() int {
	return len(r.Created())
}

// UpdatedCount returns the number of record sets updated in place.
func (r *Result) UpdatedCount() int {
	return len(r.Updated())
}

// DeletedCount returns the number of record sets deleted.
func (r *Result) DeletedCount() int {
	return len(r.Deleted())
}

// FailedCount returns the number of failed actions.
func (r *Result) FailedCount() int {
	return len(r.Failed())
}

// HasErrors returns true if any actions failed.
func (r *Result) HasErrors() bool {
	return r.FailedCount() > 0
}

// Summary returns a human-readable summary of the apply run.
func (r *Result) Summary() string {
	var sb strings.Builder

	mode := "applied"
	if r.DryRun {
		mode = "dry-run"
	}

	fmt.Fprintf(&sb, "Zone %s (%s) in %s\n", r.Zone, mode, r.Duration().Round(time.Millisecond))
	if r.ZoneCreated {
		fmt.Fprintf(&sb, "  Zone created\n")
	}
	fmt.Fprintf(&sb, "  Changes: %d\n", r.Changes)
	fmt.Fprintf(&sb, "  Record sets created: %d\n", r.CreatedCount())
	fmt.Fprintf(&sb, "  Record sets updated: %d\n", r.UpdatedCount())
	fmt.Fprintf(&sb, "  Record sets deleted: %d\n", r.DeletedCount())
	fmt.Fprintf(&sb, "  Skipped: %d\n", len(r.Skipped()))

	if r.HasErrors() {
		fmt.Fprintf(&sb, "  Failed: %d\n", r.FailedCount())
		for _, a := range r.Failed() {
			fmt.Fprintf(&sb, "    - %s\n", a.String())
		}
	}

	return sb.String()
}
