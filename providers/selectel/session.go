package selectel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"gitlab.bluewillows.net/root/zonesync/internal/metrics"
	"gitlab.bluewillows.net/root/zonesync/pkg/provider"
)

// applySession carries the state of one Apply: the resolved zone id and a single
// snapshot of the zone's rrsets, kept current as rrsets are created and deleted.
type applySession struct {
	p        *Provider
	zoneName string
	zoneID   string
	rrsets   []RRSet
	listed   bool
	result   *provider.Result
}

func (p *Provider) newSession(ctx context.Context, zoneName string, result *provider.Result) (*applySession, error) {
	s := &applySession{
		p:        p,
		zoneName: zoneName,
		result:   result,
	}

	z, ok, err := p.lookupZone(ctx, zoneName)
	if err != nil {
		return nil, err
	}
	if ok {
		s.zoneID = z.UUID
	}
	return s, nil
}

// ensureZone creates the zone on first use if it does not exist yet.
func (s *applySession) ensureZone(ctx context.Context) error {
	if s.zoneID != "" {
		return nil
	}

	z, err := s.p.createZone(ctx, s.zoneName)
	if provider.IsConflict(err) {
		// Created elsewhere since the registry was loaded.
		z, err = s.existingZone(ctx)
		if err != nil {
			return err
		}
		s.zoneID = z.UUID
		s.p.logger.Info("zone already exists",
			slog.String("zone", s.zoneName),
			slog.String("zone_id", z.UUID),
		)
		return nil
	}
	if err != nil {
		return err
	}
	s.zoneID = z.UUID
	s.listed = true
	s.result.ZoneCreated = true

	s.p.logger.Info("created missing zone",
		slog.String("zone", s.zoneName),
		slog.String("zone_id", z.UUID),
	)
	return nil
}

// existingZone reloads the zone registry and returns the session's zone.
func (s *applySession) existingZone(ctx context.Context) (Zone, error) {
	if err := s.p.RefreshZones(ctx); err != nil {
		return Zone{}, err
	}
	z, ok, err := s.p.lookupZone(ctx, s.zoneName)
	if err != nil {
		return Zone{}, err
	}
	if !ok {
		return Zone{}, fmt.Errorf("zone %s: create reported a conflict but the zone is not listed: %w", s.zoneName, provider.ErrConflict)
	}
	return z, nil
}

// snapshot lists the zone's rrsets once per session.
func (s *applySession) snapshot(ctx context.Context) error {
	if s.listed || s.zoneID == "" {
		return nil
	}

	rrsets, err := s.p.client.ListRRSets(ctx, s.zoneID)
	if err != nil && !provider.IsNotFound(err) {
		return err
	}
	s.rrsets = rrsets
	s.listed = true
	return nil
}

// matching returns the snapshot rrsets with r's type and fqdn.
func (s *applySession) matching(r provider.Record) []RRSet {
	fqdn := zoneKey(r.Fqdn(s.zoneName))
	var out []RRSet
	for _, rrset := range s.rrsets {
		if rrset.Type == string(r.Type) && zoneKey(rrset.Name) == fqdn {
			out = append(out, rrset)
		}
	}
	return out
}

func (s *applySession) forget(id string) {
	for i, rrset := range s.rrsets {
		if rrset.UUID == id {
			s.rrsets = append(s.rrsets[:i], s.rrsets[i+1:]...)
			return
		}
	}
}

func (s *applySession) record(a provider.Action) {
	a.Provider = s.p.name
	s.result.AddAction(a)
	metrics.ActionsTotal.WithLabelValues(s.p.name, string(a.Type), string(a.Status)).Inc()
}

func newAction(t provider.ActionType, rrset RRSet) provider.Action {
	contents := make([]string, 0, len(rrset.Records))
	for _, rec := range rrset.Records {
		contents = append(contents, rec.Content)
	}
	return provider.Action{
		Type:       t,
		Status:     provider.StatusPending,
		Name:       rrset.Name,
		RecordType: rrset.Type,
		Content:    strings.Join(contents, ", "),
	}
}

// fail records a as failed and returns err.
func (s *applySession) fail(a provider.Action, err error) error {
	s.recordFailure(a, err)
	return err
}

func (s *applySession) recordFailure(a provider.Action, err error) {
	a.Status = provider.StatusFailed
	a.Error = err.Error()
	s.record(a)
}

// create maps r to an rrset and creates it, creating the zone first if needed.
func (s *applySession) create(ctx context.Context, r provider.Record) error {
	rrset, err := ToRRSet(s.zoneName, r)
	if err != nil {
		return s.fail(provider.Action{
			Type:       provider.ActionCreate,
			Name:       r.Fqdn(s.zoneName),
			RecordType: string(r.Type),
		}, err)
	}
	action := newAction(provider.ActionCreate, rrset)

	if err := s.ensureZone(ctx); err != nil {
		return s.fail(action, err)
	}

	created, err := s.p.client.CreateRRSet(ctx, s.zoneID, rrset)
	if err != nil {
		return s.fail(action, err)
	}
	if s.listed {
		if created.UUID == "" {
			created = &rrset
		}
		s.rrsets = append(s.rrsets, *created)
	}

	action.Status = provider.StatusSuccess
	s.record(action)
	return nil
}

// update replaces existing with r. With in-place updates enabled and exactly one
// matching rrset the rrset is patched; otherwise it is deleted and recreated.
func (s *applySession) update(ctx context.Context, existing, r provider.Record) error {
	if s.p.updateInPlace && s.zoneID != "" {
		if err := s.snapshot(ctx); err != nil {
			return err
		}
		if matches := s.matching(existing); len(matches) == 1 {
			return s.patch(ctx, matches[0], r)
		}
	}

	if err := s.delete(ctx, existing); err != nil {
		return err
	}
	return s.create(ctx, r)
}

func (s *applySession) patch(ctx context.Context, current RRSet, r provider.Record) error {
	rrset, err := ToRRSet(s.zoneName, r)
	if err != nil {
		return err
	}
	action := newAction(provider.ActionUpdate, rrset)

	if err := s.p.client.UpdateRRSet(ctx, s.zoneID, current.UUID, rrset); err != nil {
		return s.fail(action, err)
	}

	for i := range s.rrsets {
		if s.rrsets[i].UUID == current.UUID {
			s.rrsets[i].TTL = rrset.TTL
			s.rrsets[i].Records = rrset.Records
		}
	}

	action.Status = provider.StatusSuccess
	s.record(action)
	return nil
}

// delete removes every rrset matching r's type and fqdn. Individual delete failures
// are logged and recorded but do not stop the apply.
func (s *applySession) delete(ctx context.Context, r provider.Record) error {
	logger := s.p.logger.With(
		slog.String("zone", s.zoneName),
		slog.String("name", r.Fqdn(s.zoneName)),
		slog.String("type", string(r.Type)),
	)

	if s.zoneID == "" {
		logger.Warn("delete: zone does not exist")
		s.record(provider.Action{
			Type:       provider.ActionDelete,
			Status:     provider.StatusSkipped,
			Name:       r.Fqdn(s.zoneName),
			RecordType: string(r.Type),
		})
		return nil
	}

	if err := s.snapshot(ctx); err != nil {
		return err
	}

	matches := s.matching(r)
	if len(matches) == 0 {
		logger.Debug("delete: no matching rrset")
		s.record(provider.Action{
			Type:       provider.ActionDelete,
			Status:     provider.StatusSkipped,
			Name:       r.Fqdn(s.zoneName),
			RecordType: string(r.Type),
		})
		return nil
	}

	deleted, skipped := 0, 0
	for _, rrset := range matches {
		action := newAction(provider.ActionDelete, rrset)
		if err := s.p.client.DeleteRRSet(ctx, s.zoneID, rrset.UUID); err != nil {
			skipped++
			logger.Warn("failed to delete rrset",
				slog.String("rrset_id", rrset.UUID),
				slog.String("error", err.Error()),
			)
			s.recordFailure(action, err)
			continue
		}
		deleted++
		s.forget(rrset.UUID)
		action.Status = provider.StatusSuccess
		s.record(action)
	}

	logger.Debug("delete: done",
		slog.Int("deleted", deleted),
		slog.Int("skipped", skipped),
	)
	return nil
}
