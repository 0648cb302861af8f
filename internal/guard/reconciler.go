package guard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mind-engage/examguard/internal/timewindow"
)

// Reconciler applies a bulk extension to every student of one activity. It
// must run inside a single transaction; it does not check authorization.
type Reconciler struct {
	overrides OverrideStore
	ledger    ExtensionLedger
	roster    Roster
	settings  timewindow.Settings
	now       timewindow.Clock
}

func NewReconciler(o OverrideStore, l ExtensionLedger, r Roster, s timewindow.Settings, now timewindow.Clock) *Reconciler {
	if now == nil {
		now = timewindow.System
	}
	return &Reconciler{overrides: o, ledger: l, roster: r, settings: s, now: now}
}

type bucket struct {
	eff   EffectiveSettings
	users []string
	done  bool
}

type personalOutcome int

const (
	personalUnchanged personalOutcome = iota
	personalSkipped
	personalUpdated
	personalRestored
)

// Apply brings every active student of the activity to exactly `minutes` of
// extension over their pre-extension timing.
func (r *Reconciler) Apply(ctx context.Context, ad ActivityAdapter, minutes int, by string) (ApplyResult, error) {
	act := ad.Activity()
	res := ApplyResult{ActivityID: act.ID, Minutes: minutes}
	if minutes < 0 || minutes > MaxExtensionMinutes {
		return res, ErrInvalidExtension
	}
	now := r.now()

	all, err := r.overrides.ListOverrides(ctx, act.ID)
	if err != nil {
		return res, storeErr("list overrides", err)
	}
	userOv := map[string]Override{}
	groupOv := map[string]Override{}
	for _, o := range all {
		switch o.Scope.Kind {
		case ScopeUser:
			userOv[o.Scope.ID] = o
		case ScopeGroup:
			groupOv[o.Scope.ID] = o
		}
	}

	users, err := r.roster.GradeableEnrolledUsers(ctx, act.ID, ad.ParticipateCapability())
	if err != nil {
		return res, storeErr("roster", err)
	}

	found, err := r.overrides.FindGroupsByNamePrefix(ctx, act.CourseID, SyntheticPrefix(act.ID))
	if err != nil {
		return res, storeErr("find synthetic groups", err)
	}
	synth, err := findSynthetic(found, act.ID)
	if err != nil {
		return res, err
	}
	synthIDs := make(map[string]bool, len(synth))
	for _, sg := range synth {
		synthIDs[sg.ID] = true
	}

	// students without a personal override may currently be running on a
	// previous synthetic extension
	prevMinutes, err := r.ledger.LatestExtension(ctx, act.ID)
	if err != nil {
		return res, storeErr("latest extension", err)
	}
	prevExt := time.Duration(prevMinutes) * time.Minute

	var order []bucketKey
	buckets := map[bucketKey]*bucket{}
	for _, uid := range users {
		gids, err := r.roster.UserGroups(ctx, act.CourseID, uid)
		if err != nil {
			return res, storeErr("user groups", err)
		}
		var ugo []Override
		for _, gid := range gids {
			if synthIDs[gid] {
				continue
			}
			if o, ok := groupOv[gid]; ok {
				ugo = append(ugo, o)
			}
		}

		if po, ok := userOv[uid]; ok {
			out, err := r.applyPersonal(ctx, ad, po, ugo, minutes, now, by)
			if err != nil {
				return res, err
			}
			switch out {
			case personalUpdated:
				res.PersonalUpdated++
			case personalRestored:
				res.PersonalRestored++
			case personalSkipped:
				res.Skipped++
			}
			continue
		}

		eff := ad.EffectiveSettings(nil, ugo)
		checkClose := eff.Close
		if !checkClose.IsZero() {
			checkClose = checkClose.Add(prevExt)
		}
		if !timewindow.Contains(eff.Open, checkClose, r.settings.Buffer, now) {
			res.Skipped++
			continue
		}
		k := keyOf(eff)
		b, ok := buckets[k]
		if !ok {
			b = &bucket{eff: eff}
			buckets[k] = b
			order = append(order, k)
		}
		b.users = append(b.users, uid)
	}

	ext := time.Duration(minutes) * time.Minute
	maxSeq := 0
	for _, sg := range synth {
		ov, has := groupOv[sg.ID]
		if has && r.expired(ad, ov, now) {
			maxSeq = max(maxSeq, sg.Seq)
			continue
		}
		if has && minutes > 0 && sg.Minutes == minutes {
			b, err := r.matchBucket(ctx, ad, sg, ov, order, buckets, ext)
			if err != nil {
				return res, err
			}
			if b != nil {
				b.done = true
				maxSeq = max(maxSeq, sg.Seq)
				res.GroupsKept++
				continue
			}
		}
		if has {
			if err := r.overrides.DeleteOverride(ctx, ov.ID); err != nil {
				return res, storeErr("delete override", err)
			}
			if err := r.ledger.DeleteAudit(ctx, act.ID, ov.ID); err != nil {
				return res, storeErr("delete audit", err)
			}
		}
		if err := r.overrides.DeleteGroup(ctx, sg.ID); err != nil {
			return res, storeErr("delete group", err)
		}
		res.GroupsDeleted++
	}

	if minutes > 0 {
		seq := maxSeq
		for _, k := range order {
			b := buckets[k]
			if b.done {
				continue
			}
			seq++
			if err := r.createSynthetic(ctx, ad, b, minutes, seq, now, by); err != nil {
				return res, err
			}
			res.GroupsCreated++
		}
	}

	rec := ExtensionRecord{ActivityID: act.ID, Minutes: minutes, AppliedAt: now, AppliedBy: by}
	if err := r.ledger.RecordExtension(ctx, rec); err != nil {
		return res, storeErr("record extension", err)
	}
	return res, nil
}

// expired reports whether a synthetic override's window has already closed.
func (r *Reconciler) expired(ad ActivityAdapter, ov Override, now time.Time) bool {
	closeAt := ad.BaseWindow().Close
	if ov.Fields.Close != nil {
		closeAt = *ov.Fields.Close
	}
	return !closeAt.IsZero() && closeAt.Before(now)
}

// matchBucket finds a pending bucket an existing synthetic group already
// realises exactly, so it can be kept instead of recreated.
func (r *Reconciler) matchBucket(ctx context.Context, ad ActivityAdapter, sg syntheticGroup, ov Override, order []bucketKey, buckets map[bucketKey]*bucket, ext time.Duration) (*bucket, error) {
	members, err := r.overrides.ListGroupMembers(ctx, sg.ID)
	if err != nil {
		return nil, storeErr("list group members", err)
	}
	sort.Strings(members)
	for _, k := range order {
		b := buckets[k]
		if b.done || !sameMembers(members, b.users) {
			continue
		}
		if syntheticPayload(ad, b.eff, ext).Equal(ov.Fields) {
			return b, nil
		}
	}
	return nil, nil
}

func sameMembers(sorted, users []string) bool {
	if len(sorted) != len(users) {
		return false
	}
	u := append([]string(nil), users...)
	sort.Strings(u)
	for i := range u {
		if u[i] != sorted[i] {
			return false
		}
	}
	return true
}

// syntheticPayload is the override a bucket's group carries: its settings
// plus the extension. Open is only written when it differs from the base.
func syntheticPayload(ad ActivityAdapter, eff EffectiveSettings, ext time.Duration) Fields {
	next := Extend(eff, ext)
	f := Fields{Close: TimePtr(next.Close)}
	if eff.Duration > 0 {
		f.Duration = DurationPtr(next.Duration)
	}
	if base := ad.BaseWindow(); !eff.Open.Equal(base.Open) {
		f.Open = TimePtr(eff.Open)
	}
	return f
}

func (r *Reconciler) createSynthetic(ctx context.Context, ad ActivityAdapter, b *bucket, minutes, seq int, now time.Time, by string) error {
	act := ad.Activity()
	gid, err := r.overrides.CreateGroup(ctx, act.CourseID, SyntheticName(act.ID, minutes, seq))
	if err != nil {
		return storeErr("create group", err)
	}
	for _, uid := range b.users {
		if err := r.overrides.AddMember(ctx, gid, uid); err != nil {
			return storeErr("add member", err)
		}
	}
	ext := time.Duration(minutes) * time.Minute
	oid, err := ad.CreateOverride(ctx, GroupScope(gid), syntheticPayload(ad, b.eff, ext))
	if err != nil {
		return storeErr("create override", err)
	}
	a := Audit{ActivityID: act.ID, OverrideID: oid, ExtensionMinutes: minutes, ModifiedBy: by, ModifiedAt: now}
	if err := r.ledger.UpsertAudit(ctx, a); err != nil {
		return storeErr("upsert audit", err)
	}
	return nil
}

func (r *Reconciler) applyPersonal(ctx context.Context, ad ActivityAdapter, po Override, groups []Override, minutes int, now time.Time, by string) (personalOutcome, error) {
	act := ad.Activity()
	audit, err := r.ledger.GetAudit(ctx, act.ID, po.ID)
	if err != nil {
		return 0, storeErr("get audit", err)
	}

	// revocation restores regardless of the window
	if minutes == 0 {
		if audit == nil {
			return personalUnchanged, nil
		}
		if audit.Original == nil {
			return 0, &InconsistentStateError{
				ActivityID: act.ID,
				Reason:     fmt.Sprintf("audit for override %s has no original snapshot", po.ID),
			}
		}
		if !po.Fields.Equal(*audit.Original) {
			if _, err := r.overrides.SaveOverride(ctx, act.ID, po.Scope, audit.Original.Clone()); err != nil {
				return 0, storeErr("restore override", err)
			}
		}
		if err := r.ledger.DeleteAudit(ctx, act.ID, po.ID); err != nil {
			return 0, storeErr("delete audit", err)
		}
		return personalRestored, nil
	}

	eff := ad.EffectiveSettings(&po, groups)
	if !timewindow.Contains(eff.Open, eff.Close, r.settings.Buffer, now) {
		return personalSkipped, nil
	}
	prev := 0
	if audit != nil {
		prev = audit.ExtensionMinutes
	}
	if prev == minutes {
		return personalUnchanged, nil
	}

	next := Extend(eff, time.Duration(minutes-prev)*time.Minute)
	f := po.Fields.Clone()
	if !eff.Close.IsZero() {
		f.Close = TimePtr(next.Close)
	}
	if eff.Duration > 0 {
		f.Duration = DurationPtr(next.Duration)
	}
	if !f.Equal(po.Fields) {
		if _, err := ad.CreateOverride(ctx, po.Scope, f); err != nil {
			return 0, storeErr("update override", err)
		}
	}

	a := Audit{ActivityID: act.ID, OverrideID: po.ID, ExtensionMinutes: minutes, ModifiedBy: by, ModifiedAt: now}
	if audit == nil {
		orig := po.Fields.Clone()
		a.Original = &orig
	} else {
		a.Original = audit.Original
	}
	if err := r.ledger.UpsertAudit(ctx, a); err != nil {
		return 0, storeErr("upsert audit", err)
	}
	return personalUpdated, nil
}
