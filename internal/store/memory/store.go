package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mind-engage/examguard/internal/guard"
)

type auditKey struct{ activityID, overrideID string }

type roleKey struct{ courseID, userID, role string }

type overrideRec struct {
	guard.Override
	seq int64
}

type groupRec struct {
	guard.Group
	seq int64
}

type state struct {
	seq        int64
	activities map[string]guard.Activity
	enrolments map[string][]guard.Enrolment // course -> enrolments in insertion order
	groups     map[string]groupRec
	members    map[string]map[string]bool // group -> users
	overrides  map[string]overrideRec
	history    []guard.ExtensionRecord
	audits     map[auditKey]guard.Audit
	markers    map[string]bool
	roles      map[roleKey]bool
}

func newState() *state {
	return &state{
		activities: map[string]guard.Activity{},
		enrolments: map[string][]guard.Enrolment{},
		groups:     map[string]groupRec{},
		members:    map[string]map[string]bool{},
		overrides:  map[string]overrideRec{},
		audits:     map[auditKey]guard.Audit{},
		markers:    map[string]bool{},
		roles:      map[roleKey]bool{},
	}
}

func (s *state) clone() *state {
	c := newState()
	c.seq = s.seq
	for k, v := range s.activities {
		c.activities[k] = v
	}
	for k, v := range s.enrolments {
		c.enrolments[k] = append([]guard.Enrolment(nil), v...)
	}
	for k, v := range s.groups {
		c.groups[k] = v
	}
	for k, v := range s.members {
		m := make(map[string]bool, len(v))
		for u := range v {
			m[u] = true
		}
		c.members[k] = m
	}
	for k, v := range s.overrides {
		v.Fields = v.Fields.Clone()
		c.overrides[k] = v
	}
	c.history = append([]guard.ExtensionRecord(nil), s.history...)
	for k, v := range s.audits {
		c.audits[k] = cloneAudit(v)
	}
	for k, v := range s.markers {
		c.markers[k] = v
	}
	for k, v := range s.roles {
		c.roles[k] = v
	}
	return c
}

func cloneAudit(a guard.Audit) guard.Audit {
	if a.Original != nil {
		o := a.Original.Clone()
		a.Original = &o
	}
	return a
}

// Store keeps everything in memory. Transactions hold the store lock for
// their whole duration and restore a snapshot when fn fails.
type Store struct {
	mu     sync.Mutex
	st     *state
	writes int
}

func New() *Store { return &Store{st: newState()} }

// Writes counts mutations of overrides, groups, memberships and audit rows.
func (s *Store) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func (s *Store) Repos() guard.Repos { return (&repo{s: s}).bundle() }

func (s *Store) InTx(ctx context.Context, fn func(guard.Repos) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, writes := s.st.clone(), s.writes
	defer func() {
		if p := recover(); p != nil {
			s.st, s.writes = snap, writes
			panic(p)
		}
		if err != nil {
			s.st, s.writes = snap, writes
		}
	}()
	if err = ctx.Err(); err != nil {
		return err
	}
	return fn((&repo{s: s, tx: true}).bundle())
}

// repo implements every guard port over the store state. Inside a
// transaction the store lock is already held.
type repo struct {
	s  *Store
	tx bool
}

func (r *repo) bundle() guard.Repos {
	return guard.Repos{Overrides: r, Ledger: r, Activities: r, Enrolments: r, Guard: r}
}

func (r *repo) lock() func() {
	if r.tx {
		return func() {}
	}
	r.s.mu.Lock()
	return r.s.mu.Unlock
}

func (r *repo) next() int64 {
	r.s.st.seq++
	return r.s.st.seq
}

// ---- activities ----

func (r *repo) GetActivity(ctx context.Context, id string) (guard.Activity, error) {
	defer r.lock()()
	a, ok := r.s.st.activities[id]
	if !ok {
		return guard.Activity{}, guard.ErrActivityNotFound
	}
	return a, nil
}

func (r *repo) ListCourseActivities(ctx context.Context, courseID string) ([]guard.Activity, error) {
	defer r.lock()()
	var out []guard.Activity
	for _, a := range r.s.st.activities {
		if a.CourseID == courseID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *repo) SaveActivity(ctx context.Context, a guard.Activity) error {
	defer r.lock()()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	r.s.st.activities[a.ID] = a
	return nil
}

// ---- enrolments ----

func (r *repo) CourseEnrolments(ctx context.Context, courseID string) ([]guard.Enrolment, error) {
	defer r.lock()()
	return append([]guard.Enrolment(nil), r.s.st.enrolments[courseID]...), nil
}

func (r *repo) Enrol(ctx context.Context, courseID, userID, role string) error {
	defer r.lock()()
	ens := r.s.st.enrolments[courseID]
	for i, e := range ens {
		if e.UserID == userID {
			ens[i].Role = role
			return nil
		}
	}
	r.s.st.enrolments[courseID] = append(ens, guard.Enrolment{UserID: userID, Role: role})
	return nil
}

func (r *repo) UserGroups(ctx context.Context, courseID, userID string) ([]string, error) {
	defer r.lock()()
	var recs []groupRec
	for id, g := range r.s.st.groups {
		if g.CourseID == courseID && r.s.st.members[id][userID] {
			recs = append(recs, g)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	out := make([]string, len(recs))
	for i, g := range recs {
		out[i] = g.ID
	}
	return out, nil
}

// ---- overrides & groups ----

func (r *repo) ListOverrides(ctx context.Context, activityID string) ([]guard.Override, error) {
	defer r.lock()()
	var recs []overrideRec
	for _, o := range r.s.st.overrides {
		if o.ActivityID == activityID {
			recs = append(recs, o)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	out := make([]guard.Override, len(recs))
	for i, o := range recs {
		out[i] = o.Override
		out[i].Fields = o.Fields.Clone()
	}
	return out, nil
}

func (r *repo) find(activityID string, scope guard.Scope) (overrideRec, bool) {
	for _, o := range r.s.st.overrides {
		if o.ActivityID == activityID && o.Scope == scope {
			return o, true
		}
	}
	return overrideRec{}, false
}

func (r *repo) GetOverride(ctx context.Context, activityID string, scope guard.Scope) (*guard.Override, error) {
	defer r.lock()()
	o, ok := r.find(activityID, scope)
	if !ok {
		return nil, nil
	}
	out := o.Override
	out.Fields = o.Fields.Clone()
	return &out, nil
}

func (r *repo) SaveOverride(ctx context.Context, activityID string, scope guard.Scope, f guard.Fields) (string, error) {
	defer r.lock()()
	r.s.writes++
	if o, ok := r.find(activityID, scope); ok {
		o.Fields = f.Clone()
		r.s.st.overrides[o.ID] = o
		return o.ID, nil
	}
	o := overrideRec{
		Override: guard.Override{ID: uuid.NewString(), ActivityID: activityID, Scope: scope, Fields: f.Clone()},
		seq:      r.next(),
	}
	r.s.st.overrides[o.ID] = o
	return o.ID, nil
}

func (r *repo) DeleteOverride(ctx context.Context, overrideID string) error {
	defer r.lock()()
	r.s.writes++
	delete(r.s.st.overrides, overrideID)
	return nil
}

func (r *repo) CreateGroup(ctx context.Context, courseID, name string) (string, error) {
	defer r.lock()()
	r.s.writes++
	g := groupRec{Group: guard.Group{ID: uuid.NewString(), CourseID: courseID, Name: name}, seq: r.next()}
	r.s.st.groups[g.ID] = g
	return g.ID, nil
}

func (r *repo) DeleteGroup(ctx context.Context, groupID string) error {
	defer r.lock()()
	r.s.writes++
	delete(r.s.st.groups, groupID)
	delete(r.s.st.members, groupID)
	for id, o := range r.s.st.overrides {
		if o.Scope == guard.GroupScope(groupID) {
			delete(r.s.st.overrides, id)
		}
	}
	return nil
}

func (r *repo) AddMember(ctx context.Context, groupID, userID string) error {
	defer r.lock()()
	r.s.writes++
	m, ok := r.s.st.members[groupID]
	if !ok {
		m = map[string]bool{}
		r.s.st.members[groupID] = m
	}
	m[userID] = true
	return nil
}

func (r *repo) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	defer r.lock()()
	var out []string
	for u := range r.s.st.members[groupID] {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

func (r *repo) FindGroupsByNamePrefix(ctx context.Context, courseID, prefix string) ([]guard.Group, error) {
	defer r.lock()()
	var recs []groupRec
	for _, g := range r.s.st.groups {
		if g.CourseID == courseID && strings.HasPrefix(g.Name, prefix) {
			recs = append(recs, g)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].seq < recs[j].seq })
	out := make([]guard.Group, len(recs))
	for i, g := range recs {
		out[i] = g.Group
	}
	return out, nil
}

// ---- ledger ----

func (r *repo) LatestExtension(ctx context.Context, activityID string) (int, error) {
	defer r.lock()()
	h := r.s.st.history
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].ActivityID == activityID {
			return h[i].Minutes, nil
		}
	}
	return 0, nil
}

func (r *repo) RecordExtension(ctx context.Context, rec guard.ExtensionRecord) error {
	defer r.lock()()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	r.s.st.history = append(r.s.st.history, rec)
	return nil
}

// History returns the extension records of an activity, oldest first.
func (s *Store) History(activityID string) []guard.ExtensionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []guard.ExtensionRecord
	for _, h := range s.st.history {
		if h.ActivityID == activityID {
			out = append(out, h)
		}
	}
	return out
}

func (r *repo) GetAudit(ctx context.Context, activityID, overrideID string) (*guard.Audit, error) {
	defer r.lock()()
	a, ok := r.s.st.audits[auditKey{activityID, overrideID}]
	if !ok {
		return nil, nil
	}
	a = cloneAudit(a)
	return &a, nil
}

func (r *repo) UpsertAudit(ctx context.Context, a guard.Audit) error {
	defer r.lock()()
	r.s.writes++
	r.s.st.audits[auditKey{a.ActivityID, a.OverrideID}] = cloneAudit(a)
	return nil
}

func (r *repo) DeleteAudit(ctx context.Context, activityID, overrideID string) error {
	defer r.lock()()
	r.s.writes++
	delete(r.s.st.audits, auditKey{activityID, overrideID})
	return nil
}

// ---- course guard ----

func (r *repo) GuardMarked(ctx context.Context, courseID string) (bool, error) {
	defer r.lock()()
	return r.s.st.markers[courseID], nil
}

func (r *repo) MarkGuard(ctx context.Context, courseID string) error {
	defer r.lock()()
	r.s.st.markers[courseID] = true
	return nil
}

func (r *repo) ClearGuard(ctx context.Context, courseID string) error {
	defer r.lock()()
	delete(r.s.st.markers, courseID)
	return nil
}

func (r *repo) AssignRole(ctx context.Context, courseID, userID, role string) error {
	defer r.lock()()
	r.s.st.roles[roleKey{courseID, userID, role}] = true
	return nil
}

func (r *repo) UnassignRole(ctx context.Context, courseID, userID, role string) error {
	defer r.lock()()
	delete(r.s.st.roles, roleKey{courseID, userID, role})
	return nil
}

func (r *repo) RoleHolders(ctx context.Context, courseID, role string) ([]string, error) {
	defer r.lock()()
	var out []string
	for k := range r.s.st.roles {
		if k.courseID == courseID && k.role == role {
			out = append(out, k.userID)
		}
	}
	sort.Strings(out)
	return out, nil
}
