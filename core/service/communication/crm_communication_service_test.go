package communication

import (
	"context"
	"strings"
	"testing"
	"time"

	"crm_server/adapter/out/memory"
	"crm_server/core/domain"
	"crm_server/core/port/in"
	"crm_server/pkg/apperr"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc     *Service
	store   *memory.Store
	company *domain.Company
	contact *domain.Contact
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	ctx := context.Background()

	company := &domain.Company{Name: "Acme", Status: domain.CompanyProspect}
	require.NoError(t, store.Companies().Create(ctx, company))
	contact := &domain.Contact{CompanyID: company.ID, Email: "alice@acme.com", Status: domain.ContactLead}
	require.NoError(t, store.Contacts().Create(ctx, contact))

	fx := &fixture{
		svc:     NewService(store.Communications(), store.Contacts(), store.Companies()),
		store:   store,
		company: company,
		contact: contact,
		now:     time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
	}
	fx.svc.now = func() time.Time { return fx.now }
	return fx
}

func actor(t *testing.T, role domain.Role) *domain.ActingUser {
	t.Helper()
	u, err := domain.NewActingUser(uuid.New(), "user@mycorp.com", "", nil, role)
	require.NoError(t, err)
	return u
}

func TestCreateManualCommunication(t *testing.T) {
	fx := newFixture(t)
	user := actor(t, domain.RoleConsultant)

	comm, err := fx.svc.CreateCommunication(context.Background(), user, &in.CreateCommunicationRequest{
		Type:      domain.CommunicationPhone,
		Subject:   "Intro call",
		ContactID: &fx.contact.ID,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(comm.ProviderMessageID, ManualIDPrefix))
	assert.Equal(t, domain.SourceManual, comm.Source)
	assert.Equal(t, domain.CommunicationCompleted, comm.Status)
	assert.Equal(t, fx.now, *comm.CompletedAt)
	assert.Equal(t, fx.company.ID, *comm.CompanyID)
	assert.Equal(t, user.ID, comm.CreatedBy)

	future := fx.now.Add(24 * time.Hour)
	scheduled, err := fx.svc.CreateCommunication(context.Background(), user, &in.CreateCommunicationRequest{
		Type:        domain.CommunicationMeeting,
		Subject:     "Demo",
		ScheduledAt: &future,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.CommunicationScheduled, scheduled.Status)
	assert.Nil(t, scheduled.CompletedAt)
}

func TestCreateManualCommunicationErrors(t *testing.T) {
	fx := newFixture(t)
	user := actor(t, domain.RoleConsultant)
	missing := int64(999)
	dupID := "AAMk-1"

	_, err := fx.svc.CreateCommunication(context.Background(), user, &in.CreateCommunicationRequest{
		Type: domain.CommunicationEmail, Subject: "logged", ProviderMessageID: &dupID,
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		req    *in.CreateCommunicationRequest
		status int
	}{
		{"bad type", &in.CreateCommunicationRequest{Type: "fax", Subject: "x"}, 400},
		{"no subject", &in.CreateCommunicationRequest{Type: domain.CommunicationNote}, 400},
		{"unknown contact", &in.CreateCommunicationRequest{Type: domain.CommunicationNote, Subject: "x", ContactID: &missing}, 404},
		{"unknown company", &in.CreateCommunicationRequest{Type: domain.CommunicationNote, Subject: "x", CompanyID: &missing}, 404},
		{"duplicate provider id", &in.CreateCommunicationRequest{Type: domain.CommunicationEmail, Subject: "x", ProviderMessageID: &dupID}, 409},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.CreateCommunication(context.Background(), user, tt.req)
			require.Error(t, err)
			assert.Equal(t, tt.status, apperr.GetHTTPStatus(err))
		})
	}
}

func TestCommunicationStatusTransitions(t *testing.T) {
	fx := newFixture(t)
	consultant := actor(t, domain.RoleConsultant)
	admin := actor(t, domain.RoleDeptAdmin)
	future := fx.now.Add(time.Hour)

	comm, err := fx.svc.CreateCommunication(context.Background(), consultant, &in.CreateCommunicationRequest{
		Type: domain.CommunicationMeeting, Subject: "Review", ScheduledAt: &future,
	})
	require.NoError(t, err)

	_, err = fx.svc.UpdateCommunicationStatus(context.Background(), consultant, comm.ID, domain.CommunicationCompleted)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	done, err := fx.svc.UpdateCommunicationStatus(context.Background(), admin, comm.ID, domain.CommunicationCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.CommunicationCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	_, err = fx.svc.UpdateCommunicationStatus(context.Background(), admin, comm.ID, domain.CommunicationCancelled)
	assert.ErrorIs(t, err, apperr.ErrConflict)

	stored, err := fx.svc.GetCommunication(context.Background(), consultant, comm.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommunicationCompleted, stored.Status)
}

func TestAssignCommunication(t *testing.T) {
	fx := newFixture(t)
	consultant := actor(t, domain.RoleConsultant)
	admin := actor(t, domain.RoleDeptAdmin)

	comm, err := fx.svc.CreateCommunication(context.Background(), consultant, &in.CreateCommunicationRequest{
		Type: domain.CommunicationNote, Subject: "note",
	})
	require.NoError(t, err)

	_, err = fx.svc.AssignCommunication(context.Background(), consultant, comm.ID, &admin.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	assigned, err := fx.svc.AssignCommunication(context.Background(), admin, comm.ID, &admin.ID)
	require.NoError(t, err)
	assert.Equal(t, admin.ID, *assigned.AssignedUserID)

	_, err = fx.svc.AssignCommunication(context.Background(), admin, 12345, nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
