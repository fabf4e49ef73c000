package ingest

import (
	"context"
	"errors"
	"testing"

	"crm_server/adapter/out/memory"
	"crm_server/core/domain"
	"crm_server/core/service/classification"
	"crm_server/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "hook-secret"

func newWebhook(store *memory.Store, withDedupe bool) *WebhookIngress {
	var keys *memory.Keys
	cfg := WebhookConfig{Secret: testSecret}
	classifier := classification.NewClassifier([]string{"mycorp.com"})
	if withDedupe {
		keys = memory.NewKeys()
		return NewWebhookIngress(cfg, classifier, newReconciler(store), keys)
	}
	return NewWebhookIngress(cfg, classifier, newReconciler(store), nil)
}

const externalPayload = `{
	"messageId": "AAMk-1",
	"from": {"name": "Alice Smith", "email": "alice@acme.com"},
	"to": [{"name": "Rep", "email": "rep@mycorp.com"}],
	"cc": [],
	"subject": "Pricing",
	"date": "2026-03-02T09:00:00Z",
	"threadId": "conv-1",
	"importance": "high",
	"attachments": [{"name": "quote.pdf"}]
}`

func TestWebhookRejectsBadToken(t *testing.T) {
	w := newWebhook(memory.NewStore(), true)
	for _, token := range []string{"", "wrong", "Bearer wrong", "Bearer "} {
		_, err := w.HandleIncomingMessage(context.Background(), []byte(externalPayload), token)
		assert.ErrorIs(t, err, apperr.ErrUnauthorized, "token %q", token)
	}
}

func TestWebhookRejectsBadPayload(t *testing.T) {
	w := newWebhook(memory.NewStore(), true)
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", `{"messageId":`},
		{"missing id", `{"from":{"email":"a@acme.com"}}`},
		{"missing sender", `{"messageId":"x"}`},
		{"missing date", `{"messageId":"x","from":{"email":"a@acme.com"},"to":[{"email":"b@initech.com"}]}`},
		{"blank date", `{"messageId":"x","from":{"email":"a@acme.com"},"date":"  "}`},
		{"bad date", `{"messageId":"x","from":{"email":"a@acme.com"},"date":"yesterday"}`},
		{"bad recipient", `{"messageId":"x","from":{"email":"a@acme.com"},"to":[{"email":"nobody"}],"date":"2026-03-02T09:00:00Z"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := w.HandleIncomingMessage(context.Background(), []byte(tt.payload), "Bearer "+testSecret)
			require.Error(t, err)
			assert.Equal(t, 400, apperr.GetHTTPStatus(err))
		})
	}
}

func TestWebhookProcessesExternalMessage(t *testing.T) {
	store := memory.NewStore()
	w := newWebhook(store, true)

	res, err := w.HandleIncomingMessage(context.Background(), []byte(externalPayload), "Bearer "+testSecret)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.True(t, res.Processed)
	assert.Equal(t, domain.WebhookProcessed, res.Status)
	require.NotNil(t, res.CommunicationID)

	comm, err := store.Communications().GetByID(context.Background(), *res.CommunicationID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceWebhook, comm.Source)
	assert.Equal(t, domain.DirectionInbound, comm.Direction)
	assert.Equal(t, SystemActorID, comm.CreatedBy)
	assert.Nil(t, comm.AssignedUserID)
	assert.Contains(t, comm.Content, "Has attachments")

	// Redis-style short circuit
	res, err = w.HandleIncomingMessage(context.Background(), []byte(externalPayload), testSecret)
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookDuplicate, res.Status)
	assert.False(t, res.Processed)
}

func TestWebhookDuplicateWithoutDedupeStore(t *testing.T) {
	store := memory.NewStore()
	w := newWebhook(store, false)

	first, err := w.HandleIncomingMessage(context.Background(), []byte(externalPayload), testSecret)
	require.NoError(t, err)
	second, err := w.HandleIncomingMessage(context.Background(), []byte(externalPayload), testSecret)
	require.NoError(t, err)

	assert.Equal(t, domain.WebhookDuplicate, second.Status)
	assert.Equal(t, *first.CommunicationID, *second.CommunicationID)
	_, _, comms := store.Counts()
	assert.Equal(t, 1, comms)
}

func TestWebhookIgnoresInternalOnlyMessages(t *testing.T) {
	store := memory.NewStore()
	w := newWebhook(store, true)
	payload := `{"messageId":"int-1","from":{"email":"a@mycorp.com"},"to":[{"email":"b@MYCORP.com"}],"date":"Mon, 02 Mar 2026 09:00:00 +0000"}`

	res, err := w.HandleIncomingMessage(context.Background(), []byte(payload), testSecret)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, domain.WebhookIgnored, res.Status)
	assert.False(t, res.Processed)

	companies, contacts, comms := store.Counts()
	assert.Equal(t, []int{0, 0, 0}, []int{companies, contacts, comms})
}

func TestWebhookOutboundFromInternalSender(t *testing.T) {
	store := memory.NewStore()
	w := newWebhook(store, true)
	payload := `{"messageId":"out-1","from":{"email":"rep@mycorp.com"},"to":[{"email":"buyer@initech.com"}],"subject":"Follow up","date":"2026-03-02T09:00:00Z"}`

	res, err := w.HandleIncomingMessage(context.Background(), []byte(payload), testSecret)
	require.NoError(t, err)
	comm, err := store.Communications().GetByID(context.Background(), *res.CommunicationID)
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionOutbound, comm.Direction)
}

func TestWebhookSwallowsReconcileErrors(t *testing.T) {
	store := memory.NewStore()
	store.SetFailures(errors.New("db down"), nil, nil)
	w := newWebhook(store, true)

	res, err := w.HandleIncomingMessage(context.Background(), []byte(externalPayload), testSecret)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.False(t, res.Processed)
	assert.Equal(t, domain.WebhookErrorLogged, res.Status)

	// the dedupe key was released so a redelivery is processed
	store.SetFailures(nil, nil, nil)
	res, err = w.HandleIncomingMessage(context.Background(), []byte(externalPayload), testSecret)
	require.NoError(t, err)
	assert.Equal(t, domain.WebhookProcessed, res.Status)
}
