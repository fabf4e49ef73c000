package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"crm_server/core/domain"
	"crm_server/core/port/out"
	"crm_server/pkg/logger"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
	"golang.org/x/sync/singleflight"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// OAuthApp identifies one registered OAuth application.
type OAuthApp struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	TenantID     string // Microsoft only; "common" for multi-tenant
}

// ConnectorConfig configures NewConnector.
type ConnectorConfig struct {
	Google       OAuthApp
	Microsoft    OAuthApp
	GraphBaseURL string
	// HTTPClient carries provider and token refresh traffic. Defaults to a
	// client with a 30s timeout.
	HTTPClient    *http.Client
	GoogleOptions []option.ClientOption
}

// Connector opens mailbox clients from the user's stored OAuth grant.
type Connector struct {
	repo         out.ConnectionRepository
	google       *oauth2.Config
	microsoft    *oauth2.Config
	graphBaseURL string
	httpClient   *http.Client
	googleOpts   []option.ClientOption
	lookups      singleflight.Group
}

var _ out.MailboxConnector = (*Connector)(nil)

func NewConnector(repo out.ConnectionRepository, cfg ConnectorConfig) *Connector {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Connector{
		repo:         repo,
		google:       googleOAuthConfig(cfg.Google),
		microsoft:    microsoftOAuthConfig(cfg.Microsoft),
		graphBaseURL: cfg.GraphBaseURL,
		httpClient:   httpClient,
		googleOpts:   cfg.GoogleOptions,
	}
}

func googleOAuthConfig(app OAuthApp) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		RedirectURL:  app.RedirectURL,
		Scopes: []string{
			gmail.GmailReadonlyScope,
			calendar.CalendarEventsReadonlyScope,
		},
		Endpoint: google.Endpoint,
	}
}

func microsoftOAuthConfig(app OAuthApp) *oauth2.Config {
	tenantID := app.TenantID
	if tenantID == "" {
		tenantID = "common"
	}
	return &oauth2.Config{
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		RedirectURL:  app.RedirectURL,
		Scopes: []string{
			"https://graph.microsoft.com/Mail.ReadBasic",
			"https://graph.microsoft.com/Calendars.ReadBasic",
			"offline_access",
		},
		Endpoint: microsoft.AzureADEndpoint(tenantID),
	}
}

// Connect loads the user's active grant and returns a client whose HTTP
// transport refreshes and persists tokens as needed.
func (c *Connector) Connect(ctx context.Context, user *domain.ActingUser) (out.MailboxClient, error) {
	// The lookup is shared by concurrent callers; one caller giving up must
	// not fail the others.
	lookupCtx := context.WithoutCancel(ctx)
	v, err, _ := c.lookups.Do(user.ID.String(), func() (any, error) {
		return c.repo.GetActiveByUser(lookupCtx, user.ID)
	})
	if err != nil {
		return nil, fmt.Errorf("load mailbox connection: %w", err)
	}
	conn, _ := v.(*domain.MailboxConnection)
	if conn == nil || !conn.IsConnected {
		return nil, out.ErrNoConnection
	}

	var cfg *oauth2.Config
	switch conn.Provider {
	case domain.ProviderGoogle:
		cfg = c.google
	case domain.ProviderOutlook:
		cfg = c.microsoft
	default:
		return nil, fmt.Errorf("unsupported mailbox provider %q", conn.Provider)
	}

	token := &oauth2.Token{
		AccessToken:  conn.AccessToken,
		RefreshToken: conn.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       conn.ExpiresAt,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	src := oauth2.ReuseTokenSource(token, &persistingSource{
		ctx:      ctx,
		base:     cfg.TokenSource(ctx, token),
		repo:     c.repo,
		conn:     conn,
		provider: string(conn.Provider),
		last:     token.AccessToken,
	})
	httpClient := oauth2.NewClient(ctx, src)

	if conn.Provider == domain.ProviderGoogle {
		return NewGoogleClient(ctx, httpClient, c.googleOpts...)
	}
	return NewOutlookClient(httpClient, c.graphBaseURL), nil
}

// persistingSource refreshes through base and writes every new access token
// back to the connection row. A revoked refresh token disconnects the grant.
// oauth2.ReuseTokenSource serializes calls.
type persistingSource struct {
	ctx      context.Context
	base     oauth2.TokenSource
	repo     out.ConnectionRepository
	conn     *domain.MailboxConnection
	provider string
	last     string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, s.refreshError(err)
	}
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := s.repo.UpdateTokens(s.ctx, s.conn.ID, tok.AccessToken, tok.RefreshToken, tok.Expiry); err != nil {
			logger.WithError(err).WithField("connection_id", s.conn.ID).Warn("persist refreshed token")
		}
	}
	return tok, nil
}

func (s *persistingSource) refreshError(err error) error {
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		return out.NewProviderError(s.provider, out.ProviderErrNetwork, "token refresh failed", err, true)
	}
	if rerr.ErrorCode == "invalid_grant" || rerr.ErrorCode == "unauthorized_client" {
		if derr := s.repo.Disconnect(s.ctx, s.conn.ID); derr != nil {
			logger.WithError(derr).WithField("connection_id", s.conn.ID).Warn("disconnect revoked grant")
		}
		return out.NewProviderError(s.provider, out.ProviderErrAuth, "mailbox authorization revoked", err, false)
	}
	status := 0
	if rerr.Response != nil {
		status = rerr.Response.StatusCode
	}
	perr := out.ProviderErrorFromStatus(s.provider, status, rerr.ErrorDescription)
	perr.Err = err
	return perr
}
