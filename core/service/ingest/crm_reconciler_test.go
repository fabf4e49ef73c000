package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"crm_server/adapter/out/memory"
	"crm_server/core/domain"
	"crm_server/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconcileCreatesCompanyContactAndCommunication(t *testing.T) {
	store := memory.NewStore()
	r := newReconciler(store)
	user := newUser(t)
	ctx := context.Background()

	item := inbound("m-1", "alice@sales.example.com")
	item.From.Name = "Alice Smith"
	item.ThreadID = "t-9"

	res, err := r.Reconcile(ctx, item, user)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, res.Outcome)
	assert.True(t, res.Created)
	assert.Equal(t, 1, res.CompaniesCreated)
	assert.Equal(t, 1, res.ContactsCreated)
	require.NotNil(t, res.CompanyID)
	require.NotNil(t, res.ContactID)

	company, err := store.Companies().GetByID(ctx, *res.CompanyID)
	require.NoError(t, err)
	assert.Equal(t, "Example", company.Name)
	assert.Equal(t, "sales.example.com", *company.Domain)
	assert.Equal(t, domain.CompanyProspect, company.Status)
	assert.Equal(t, domain.LeadSourceEmailSync, company.LeadSource)

	contact, err := store.Contacts().GetByID(ctx, *res.ContactID)
	require.NoError(t, err)
	assert.Equal(t, "alice@sales.example.com", contact.Email)
	assert.Equal(t, "Alice", contact.FirstName)
	assert.Equal(t, "Smith", contact.LastName)
	assert.Equal(t, domain.ContactLead, contact.Status)
	assert.Equal(t, company.ID, contact.CompanyID)

	comm, err := store.Communications().GetByID(ctx, res.CommunicationID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommunicationEmail, comm.Type)
	assert.Equal(t, domain.DirectionInbound, comm.Direction)
	assert.Equal(t, domain.CommunicationCompleted, comm.Status)
	assert.Equal(t, testStart, *comm.CompletedAt)
	assert.Equal(t, "t-9", *comm.ThreadID)
	assert.Equal(t, user.ID, comm.CreatedBy)
	assert.Equal(t, domain.SourceEmailSync, comm.Source)
	assert.Contains(t, comm.Content, "Alice Smith <alice@sales.example.com>")
}

func TestReconcileIsIdempotent(t *testing.T) {
	store := memory.NewStore()
	r := newReconciler(store)
	user := newUser(t)
	item := inbound("m-1", "alice@acme.com")

	first, err := r.Reconcile(context.Background(), item, user)
	require.NoError(t, err)
	second, err := r.Reconcile(context.Background(), item, user)
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, domain.OutcomeDuplicateSkipped, second.Outcome)
	assert.Equal(t, first.CommunicationID, second.CommunicationID)
	assert.Equal(t, 0, second.CompaniesCreated)
	assert.Equal(t, 0, second.ContactsCreated)

	companies, contacts, comms := store.Counts()
	assert.Equal(t, []int{1, 1, 1}, []int{companies, contacts, comms})
}

func TestReconcileSharesCompanyAcrossContacts(t *testing.T) {
	store := memory.NewStore()
	r := newReconciler(store)
	user := newUser(t)

	_, err := r.Reconcile(context.Background(), inbound("m-1", "alice@acme.com"), user)
	require.NoError(t, err)
	res, err := r.Reconcile(context.Background(), inbound("m-2", "bob@acme.com"), user)
	require.NoError(t, err)
	// Different subdomain, same derived name.
	_, err = r.Reconcile(context.Background(), inbound("m-3", "carol@eu.acme.com"), user)
	require.NoError(t, err)

	assert.Equal(t, 0, res.CompaniesCreated)
	assert.Equal(t, 1, res.ContactsCreated)
	companies, contacts, _ := store.Counts()
	assert.Equal(t, 1, companies)
	assert.Equal(t, 3, contacts)
}

func TestReconcileConcurrentItemsNeverDuplicateCompanies(t *testing.T) {
	store := memory.NewStore()
	r := newReconciler(store)
	user := newUser(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item := inbound(fmt.Sprintf("m-%d", i%5), fmt.Sprintf("person%d@globex.com", i%7))
			_, err := r.Reconcile(context.Background(), item, user)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	companies, contacts, comms := store.Counts()
	assert.Equal(t, 1, companies)
	assert.LessOrEqual(t, contacts, 7)
	assert.Equal(t, 5, comms)
}

func TestReconcilePersonalAddressCreatesNoCompany(t *testing.T) {
	store := memory.NewStore()
	r := newReconciler(store)

	res, err := r.Reconcile(context.Background(), inbound("m-1", "friend@gmail.com"), newUser(t))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCreated, res.Outcome)
	assert.Nil(t, res.CompanyID)
	assert.Nil(t, res.ContactID)

	comm, err := store.Communications().GetByID(context.Background(), res.CommunicationID)
	require.NoError(t, err)
	assert.Equal(t, []string{"friend@gmail.com"}, comm.Participants)

	companies, contacts, _ := store.Counts()
	assert.Zero(t, companies)
	assert.Zero(t, contacts)
}

func TestReconcileIgnoresInternalAndSelfOnlyItems(t *testing.T) {
	store := memory.NewStore()
	r := newReconciler(store)
	user := newUser(t)

	tests := []struct {
		name string
		item *domain.EmailItem
	}{
		{"internal only", inbound("m-1", "colleague@mycorp.com", "rep@mycorp.com", "boss@MyCorp.com")},
		{"self only", inbound("m-2", "rep@mycorp.com", "REP@mycorp.com")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := r.Reconcile(context.Background(), tt.item, user)
			require.NoError(t, err)
			assert.Equal(t, domain.OutcomeIgnored, res.Outcome)
			assert.False(t, res.Created)
		})
	}

	companies, contacts, comms := store.Counts()
	assert.Equal(t, []int{0, 0, 0}, []int{companies, contacts, comms})
}

func TestReconcileDirection(t *testing.T) {
	store := memory.NewStore()
	r := newReconciler(store)
	user := newUser(t)

	out := inbound("m-out", "Rep@MyCorp.com", "buyer@initech.com", "friend@gmail.com")
	res, err := r.Reconcile(context.Background(), out, user)
	require.NoError(t, err)

	comm, err := store.Communications().GetByID(context.Background(), res.CommunicationID)
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionOutbound, comm.Direction)
	assert.Equal(t, []string{"friend@gmail.com"}, comm.Participants)

	contact, err := store.Contacts().GetByID(context.Background(), *res.ContactID)
	require.NoError(t, err)
	assert.Equal(t, "buyer@initech.com", contact.Email)
}

func TestReconcileMeeting(t *testing.T) {
	store := memory.NewStore()
	r := newReconciler(store)

	m := &domain.MeetingItem{
		EventID:     "ev-1",
		Subject:     "Kickoff",
		Organizer:   domain.Participant{Name: "Dana", Email: "dana@umbrella.com"},
		Attendees:   []domain.Participant{{Email: "rep@mycorp.com"}},
		Start:       testStart,
		End:         testStart.Add(45 * time.Minute),
		IsCancelled: true,
	}
	res, err := r.Reconcile(context.Background(), m, newUser(t))
	require.NoError(t, err)

	comm, err := store.Communications().GetByID(context.Background(), res.CommunicationID)
	require.NoError(t, err)
	assert.Equal(t, domain.CommunicationMeeting, comm.Type)
	assert.Equal(t, domain.CommunicationCancelled, comm.Status)
	assert.Nil(t, comm.CompletedAt)
	assert.Equal(t, testStart, *comm.ScheduledAt)
	assert.Contains(t, comm.Content, "45m0s")
}

func TestReconcileRejectsMalformedItems(t *testing.T) {
	store := memory.NewStore()
	r := newReconciler(store)

	item := inbound("m-1", "alice@acme.com", "not an address")
	_, err := r.Reconcile(context.Background(), item, newUser(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrMalformedItem)
	assert.Equal(t, 422, apperr.GetHTTPStatus(err))

	companies, _, _ := store.Counts()
	assert.Zero(t, companies)
}

func TestReconcileReportsPartialCreation(t *testing.T) {
	store := memory.NewStore()
	r := newReconciler(store)
	store.SetFailures(nil, nil, errors.New("disk full"))

	res, err := r.Reconcile(context.Background(), inbound("m-1", "alice@acme.com"), newUser(t))
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.CompaniesCreated)
	assert.Equal(t, 1, res.ContactsCreated)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "created 1 companies and 1 contacts")
}

func TestReconcileMeetingStatusFollowsStartTime(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		start     time.Time
		want      domain.CommunicationStatus
		completed bool
	}{
		{"past", now.Add(-2 * time.Hour), domain.CommunicationCompleted, true},
		{"upcoming", now.Add(48 * time.Hour), domain.CommunicationScheduled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore()
			r := newReconciler(store)
			r.now = func() time.Time { return now }

			m := &domain.MeetingItem{
				EventID:   "ev-" + tt.name,
				Subject:   "Review",
				Organizer: domain.Participant{Email: "rep@mycorp.com"},
				Attendees: []domain.Participant{{Email: "dana@umbrella.com"}},
				Start:     tt.start,
				End:       tt.start.Add(time.Hour),
			}
			res, err := r.Reconcile(context.Background(), m, newUser(t))
			require.NoError(t, err)

			comm, err := store.Communications().GetByID(context.Background(), res.CommunicationID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, comm.Status)
			assert.Equal(t, tt.start, *comm.ScheduledAt)
			if tt.completed {
				require.NotNil(t, comm.CompletedAt)
				assert.Equal(t, tt.start, *comm.CompletedAt)
			} else {
				assert.Nil(t, comm.CompletedAt)
			}
		})
	}
}

func TestReconcileKeepsExistingContactCompany(t *testing.T) {
	store := memory.NewStore()
	r := newReconciler(store)
	ctx := context.Background()
	user := newUser(t)

	globex := &domain.Company{Name: "Globex", Status: domain.CompanyActive, LeadSource: domain.LeadSourceManual, CreatedBy: user.ID}
	require.NoError(t, store.Companies().Create(ctx, globex))
	alice := &domain.Contact{Email: "alice@acme.com", FirstName: "Alice", CompanyID: globex.ID,
		Status: domain.ContactCustomer, LeadSource: domain.LeadSourceManual, CreatedBy: user.ID}
	require.NoError(t, store.Contacts().Create(ctx, alice))

	res, err := r.Reconcile(ctx, inbound("m-1", "alice@acme.com"), user)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ContactsCreated)
	require.NotNil(t, res.CompanyID)
	assert.Equal(t, globex.ID, *res.CompanyID)

	comm, err := store.Communications().GetByID(ctx, res.CommunicationID)
	require.NoError(t, err)
	assert.Equal(t, globex.ID, *comm.CompanyID)
	assert.Equal(t, alice.ID, *comm.ContactID)
}
