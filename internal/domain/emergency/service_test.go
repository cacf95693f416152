package emergency

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"patient-passport-access/internal/domain/accessgrants"
	"patient-passport-access/internal/domain/audit"
	"patient-passport-access/internal/ports/auth"
	"patient-passport-access/internal/ports/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------------
// Fakes
// -------------------------

type testRepo struct {
	mu    sync.Mutex
	items []Override
	err   error
}

func (r *testRepo) Create(_ context.Context, o Override) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.items = append(r.items, o)
	return nil
}

func (r *testRepo) ListByDoctor(_ context.Context, doctorID string, offset, limit int) ([]Override, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []Override
	for _, o := range r.items {
		if o.DoctorID == doctorID {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].AccessTime.After(all[j].AccessTime) })
	total := len(all)
	if offset >= total {
		return []Override{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *testRepo) ListByPatient(_ context.Context, patientID string) ([]Override, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Override
	for _, o := range r.items {
		if o.PatientID == patientID {
			out = append(out, o)
		}
	}
	return out, nil
}

type fakeGrants struct {
	issued []accessgrants.IssueInput
	err    error
}

func (g *fakeGrants) Issue(_ context.Context, in accessgrants.IssueInput) (accessgrants.Grant, error) {
	if g.err != nil {
		return accessgrants.Grant{}, g.err
	}
	g.issued = append(g.issued, in)
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	return accessgrants.Grant{
		ID:         "grant-em",
		GranteeID:  in.GranteeID,
		PatientID:  in.PatientID,
		GrantedVia: in.Via,
		Scopes:     accessgrants.AllScopes(),
		SourceID:   in.SourceID,
		GrantedAt:  now,
		ExpiresAt:  now.Add(in.TTL),
	}, nil
}

type directory map[string]string

func (d directory) UserOf(_ context.Context, patientID string) (string, error) {
	u, ok := d[patientID]
	if !ok {
		return "", errors.New("patient not found")
	}
	return u, nil
}

type auditRepo struct {
	mu      sync.Mutex
	entries []audit.Entry
	err     error
}

func (r *auditRepo) Append(_ context.Context, e audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *auditRepo) Query(_ context.Context, f audit.Filter, offset, limit int) ([]audit.Entry, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Entry
	for _, e := range r.entries {
		if f.PatientID != "" && e.PatientID != f.PatientID {
			continue
		}
		if f.AccessType != "" && e.AccessType != f.AccessType {
			continue
		}
		out = append(out, e)
	}
	return out, len(out), nil
}

type captureNotifier struct {
	sent []notify.Notification
	err  error
}

func (c *captureNotifier) Notify(_ context.Context, n notify.Notification) error {
	c.sent = append(c.sent, n)
	return c.err
}

type fixture struct {
	svc      *Service
	repo     *testRepo
	grants   *fakeGrants
	audits   *auditRepo
	notifier *captureNotifier
	now      time.Time
}

func newFixture() *fixture {
	f := &fixture{
		repo:     &testRepo{},
		grants:   &fakeGrants{},
		audits:   &auditRepo{},
		notifier: &captureNotifier{},
		now:      time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.repo, Deps{
		Grants:   f.grants,
		Audits:   audit.NewService(f.audits, nil, nil),
		Patients: directory{"pat-1": "user-pat-1"},
		Notifier: f.notifier,
	}, Options{GrantTTL: time.Hour, MinJustification: 20})
	f.svc.now = func() time.Time { return f.now }
	return f
}

var doctor = auth.Caller{UserID: "doc-1", Role: auth.RoleDoctor, IPAddress: "10.1.1.1", UserAgent: "ward-tablet"}

const justification = "Patient unconscious, need allergy info immediately"

// -------------------------
// Tests
// -------------------------

func TestGrantEmergencyAccess_RecordsOverrideGrantAndAudit(t *testing.T) {
	f := newFixture()

	res, err := f.svc.GrantEmergencyAccess(context.Background(), doctor, Input{
		PatientID:     "pat-1",
		Justification: "  " + justification + "  ",
	})
	require.NoError(t, err)

	assert.Equal(t, justification, res.Override.Justification)
	assert.Equal(t, "10.1.1.1", res.Override.IPAddress)
	assert.Equal(t, "ward-tablet", res.Override.UserAgent)
	assert.Equal(t, f.now, res.Override.AccessTime)
	require.Len(t, f.repo.items, 1)

	assert.Equal(t, accessgrants.ViaEmergency, res.Grant.GrantedVia)
	require.Len(t, f.grants.issued, 1)
	assert.Equal(t, res.Override.ID, f.grants.issued[0].SourceID)
	assert.Equal(t, time.Hour, f.grants.issued[0].TTL)

	require.Len(t, f.audits.entries, 1)
	e := f.audits.entries[0]
	assert.Equal(t, audit.AccessEmergency, e.AccessType)
	assert.Equal(t, audit.ActionView, e.Action)
	assert.Equal(t, "pat-1", e.PatientID)
	assert.True(t, strings.Contains(e.Details, res.Override.ID))

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, notify.KindEmergencyAccess, f.notifier.sent[0].Kind)
	assert.Equal(t, "user-pat-1", f.notifier.sent[0].RecipientID)
}

func TestGrantEmergencyAccess_AuditFailureGrantsNothing(t *testing.T) {
	f := newFixture()
	f.audits.err = errors.New("audit store down")

	_, err := f.svc.GrantEmergencyAccess(context.Background(), doctor, Input{PatientID: "pat-1", Justification: justification})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Empty(t, f.repo.items)
	assert.Empty(t, f.grants.issued)
	assert.Empty(t, f.notifier.sent)
}

func TestGrantEmergencyAccess_OverrideStoreFailure(t *testing.T) {
	f := newFixture()
	f.repo.err = errors.New("insert failed")

	_, err := f.svc.GrantEmergencyAccess(context.Background(), doctor, Input{PatientID: "pat-1", Justification: justification})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Empty(t, f.grants.issued)

	// queda el intento y la falla
	require.Len(t, f.audits.entries, 2)
	assert.Equal(t, audit.OutcomeFailure, f.audits.entries[1].Outcome)
}

func TestGrantEmergencyAccess_NotifierFailureIsIgnored(t *testing.T) {
	f := newFixture()
	f.notifier.err = errors.New("broker down")

	_, err := f.svc.GrantEmergencyAccess(context.Background(), doctor, Input{PatientID: "pat-1", Justification: justification})
	require.NoError(t, err)
}

func TestGrantEmergencyAccess_Validation(t *testing.T) {
	cases := []struct {
		name   string
		caller auth.Caller
		in     Input
		want   error
	}{
		{"patient role", auth.Caller{UserID: "user-pat-1", Role: auth.RolePatient}, Input{PatientID: "pat-1", Justification: justification}, ErrForbidden},
		{"admin role", auth.Caller{UserID: "adm", Role: auth.RoleAdmin}, Input{PatientID: "pat-1", Justification: justification}, ErrForbidden},
		{"missing patient", doctor, Input{Justification: justification}, ErrInvalidInput},
		{"short justification", doctor, Input{PatientID: "pat-1", Justification: "   need data now    "}, ErrInvalidInput},
		{"long justification", doctor, Input{PatientID: "pat-1", Justification: strings.Repeat("x", MaxJustificationLength+1)}, ErrInvalidInput},
		{"unknown patient", doctor, Input{PatientID: "ghost", Justification: justification}, ErrNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			_, err := f.svc.GrantEmergencyAccess(context.Background(), tc.caller, tc.in)
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, f.audits.entries)
			assert.Empty(t, f.repo.items)
		})
	}
}

func TestHistory_PaginatesNewestFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.svc.GrantEmergencyAccess(ctx, doctor, Input{PatientID: "pat-1", Justification: justification})
		require.NoError(t, err)
		f.now = f.now.Add(time.Minute)
	}

	h, err := f.svc.History(ctx, doctor, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, h.Total)
	require.Len(t, h.Items, 2)
	assert.True(t, h.Items[0].AccessTime.After(h.Items[1].AccessTime))

	h, err = f.svc.History(ctx, doctor, 2, 2)
	require.NoError(t, err)
	assert.Len(t, h.Items, 1)

	_, err = f.svc.History(ctx, auth.Caller{UserID: "user-pat-1", Role: auth.RolePatient}, 1, 10)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestPatientTrail_OwnerOrAdmin(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.svc.GrantEmergencyAccess(ctx, doctor, Input{PatientID: "pat-1", Justification: justification})
	require.NoError(t, err)

	trail, err := f.svc.PatientTrail(ctx, auth.Caller{UserID: "user-pat-1", Role: auth.RolePatient}, "pat-1", 1, 20)
	require.NoError(t, err)
	assert.Len(t, trail.Overrides, 1)
	assert.Equal(t, 1, trail.Logs.Total)

	_, err = f.svc.PatientTrail(ctx, auth.Caller{UserID: "adm", Role: auth.RoleAdmin}, "pat-1", 1, 20)
	require.NoError(t, err)

	_, err = f.svc.PatientTrail(ctx, doctor, "pat-1", 1, 20)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.PatientTrail(ctx, doctor, "ghost", 1, 20)
	assert.ErrorIs(t, err, ErrNotFound)
}
