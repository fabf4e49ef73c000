// Package ingest turns mailbox metadata into CRM records: fetching, webhook
// intake, reconciliation and the batch sync that ties them together.
package ingest

import (
	"context"
	"errors"
	"time"

	"crm_server/core/domain"
	"crm_server/core/port/out"
	"crm_server/pkg/apperr"
	"crm_server/pkg/resilience"
)

const (
	DefaultFetchTop    = 50
	DefaultMaxFetchTop = 500
	DefaultDaysBack    = 30
)

// FetchOptions bounds one metadata fetch. Zero values take the defaults.
type FetchOptions struct {
	Top     int
	Since   time.Time
	OrderBy string
	Filter  string
}

type FetcherConfig struct {
	MaxTop      int
	DefaultDays int
	Timeout     time.Duration
	ConnectURL  string
}

// Fetcher reads email and meeting metadata from the acting user's mailbox.
type Fetcher struct {
	connector out.MailboxConnector
	guards    *resilience.Guards
	cfg       FetcherConfig
	now       func() time.Time
}

// NewFetcher wires the connector with per-provider guards. Nil guards disable
// retries and breakers.
func NewFetcher(connector out.MailboxConnector, guards *resilience.Guards, cfg FetcherConfig) *Fetcher {
	if cfg.MaxTop <= 0 {
		cfg.MaxTop = DefaultMaxFetchTop
	}
	if cfg.DefaultDays <= 0 {
		cfg.DefaultDays = DefaultDaysBack
	}
	return &Fetcher{
		connector: connector,
		guards:    guards,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (f *Fetcher) HasEmailPermissions(user *domain.ActingUser) bool {
	return user != nil && user.HasAnyScope(domain.EmailReadScopes...)
}

func (f *Fetcher) HasMeetingPermissions(user *domain.ActingUser) bool {
	return user != nil && user.HasAnyScope(domain.MeetingReadScopes...)
}

// FetchEmailMetadata fails with PermissionDenied before any provider call when
// the user lacks a mail read scope.
func (f *Fetcher) FetchEmailMetadata(ctx context.Context, user *domain.ActingUser, opts FetchOptions) ([]*domain.EmailItem, error) {
	if !f.HasEmailPermissions(user) {
		return nil, apperr.PermissionDenied("Mail.Read", f.cfg.ConnectURL)
	}
	client, err := f.connect(ctx, user, "Mail.Read")
	if err != nil {
		return nil, err
	}

	q := f.query(opts)
	var items []*domain.EmailItem
	err = f.call(ctx, client.Provider(), func(ctx context.Context) error {
		var err error
		items, err = client.ListEmailMetadata(ctx, q)
		return err
	})
	if err != nil {
		return nil, f.fetchError(string(client.Provider()), "Mail.Read", err)
	}
	return items, nil
}

func (f *Fetcher) FetchMeetingMetadata(ctx context.Context, user *domain.ActingUser, opts FetchOptions) ([]*domain.MeetingItem, error) {
	if !f.HasMeetingPermissions(user) {
		return nil, apperr.PermissionDenied("Calendars.Read", f.cfg.ConnectURL)
	}
	client, err := f.connect(ctx, user, "Calendars.Read")
	if err != nil {
		return nil, err
	}

	q := f.query(opts)
	var items []*domain.MeetingItem
	err = f.call(ctx, client.Provider(), func(ctx context.Context) error {
		var err error
		items, err = client.ListMeetingMetadata(ctx, q)
		return err
	})
	if err != nil {
		return nil, f.fetchError(string(client.Provider()), "Calendars.Read", err)
	}
	return items, nil
}

func (f *Fetcher) connect(ctx context.Context, user *domain.ActingUser, scope string) (out.MailboxClient, error) {
	client, err := f.connector.Connect(ctx, user)
	switch {
	case errors.Is(err, out.ErrNoConnection):
		return nil, apperr.PermissionDenied(scope, f.cfg.ConnectURL)
	case err != nil:
		return nil, apperr.FetchFailed("mailbox", err)
	}
	return client, nil
}

// query clamps Top to [1, MaxTop] and always sets a Since lower bound.
func (f *Fetcher) query(opts FetchOptions) out.MetadataQuery {
	top := opts.Top
	if top <= 0 {
		top = DefaultFetchTop
	}
	if top > f.cfg.MaxTop {
		top = f.cfg.MaxTop
	}
	since := opts.Since
	if since.IsZero() {
		since = f.now().AddDate(0, 0, -f.cfg.DefaultDays)
	}
	return out.MetadataQuery{
		Top:     top,
		Since:   since.UTC(),
		OrderBy: opts.OrderBy,
		Filter:  opts.Filter,
	}
}

func (f *Fetcher) call(ctx context.Context, provider domain.MailProvider, fn func(ctx context.Context) error) error {
	attempt := func(parent context.Context) error {
		if f.cfg.Timeout <= 0 {
			return fn(parent)
		}
		ctx, cancel := context.WithTimeout(parent, f.cfg.Timeout)
		defer cancel()
		err := fn(ctx)
		// A per-attempt timeout is transient as long as the caller is still waiting.
		if err != nil && parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return out.NewProviderError("mailbox", out.ProviderErrNetwork, "request timed out", err, true)
		}
		return err
	}
	guard := f.guards.For(string(provider))
	if guard == nil {
		return attempt(ctx)
	}
	return guard.Do(ctx, attempt)
}

// fetchError keeps auth failures apart from transport failures.
func (f *Fetcher) fetchError(provider, scope string, err error) error {
	var perr *out.ProviderError
	if errors.As(err, &perr) && perr.Code == out.ProviderErrAuth {
		return apperr.PermissionDenied(scope, f.cfg.ConnectURL).WithError(err)
	}
	return apperr.FetchFailed(provider, err)
}
