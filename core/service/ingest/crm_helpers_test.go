package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"crm_server/adapter/out/memory"
	"crm_server/core/domain"
	"crm_server/core/port/out"
	"crm_server/core/service/classification"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClient struct {
	mu         sync.Mutex
	emails     []*domain.EmailItem
	meetings   []*domain.MeetingItem
	emailErrs  []error // returned, in order, before emails
	meetingErr error
	calls      int
	lastQuery  out.MetadataQuery
}

func (c *fakeClient) Provider() domain.MailProvider { return domain.ProviderOutlook }

func (c *fakeClient) ListEmailMetadata(_ context.Context, q out.MetadataQuery) ([]*domain.EmailItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastQuery = q
	if len(c.emailErrs) > 0 {
		err := c.emailErrs[0]
		c.emailErrs = c.emailErrs[1:]
		return nil, err
	}
	return c.emails, nil
}

func (c *fakeClient) ListMeetingMetadata(_ context.Context, q out.MetadataQuery) ([]*domain.MeetingItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastQuery = q
	if c.meetingErr != nil {
		return nil, c.meetingErr
	}
	return c.meetings, nil
}

type fakeConnector struct {
	client *fakeClient
	err    error
	calls  int
}

func (f *fakeConnector) Connect(context.Context, *domain.ActingUser) (out.MailboxClient, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

func newUser(t *testing.T, scopes ...string) *domain.ActingUser {
	t.Helper()
	u, err := domain.NewActingUser(uuid.New(), "rep@mycorp.com", "", scopes, domain.RoleConsultant)
	require.NoError(t, err)
	return u
}

func newReconciler(store *memory.Store) *Reconciler {
	return NewReconciler(
		classification.NewClassifier([]string{"mycorp.com"}),
		store.Companies(), store.Contacts(), store.Communications(),
	)
}

func inbound(id, from string, to ...string) *domain.EmailItem {
	if len(to) == 0 {
		to = []string{"rep@mycorp.com"}
	}
	e := &domain.EmailItem{
		MessageID: id,
		Subject:   "Re: proposal " + id,
		From:      domain.Participant{Email: from},
		SentAt:    testStart,
	}
	for _, addr := range to {
		e.To = append(e.To, domain.Participant{Email: addr})
	}
	return e
}
