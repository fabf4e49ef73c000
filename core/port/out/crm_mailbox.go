package out

import (
	"context"
	"errors"
	"strconv"
	"time"

	"crm_server/core/domain"
)

// ErrNoConnection means the user has no connected mailbox.
var ErrNoConnection = errors.New("no mailbox connection")

// MetadataQuery bounds one provider listing. Providers render Since and Filter
// into their own query language. OrderBy is passed through verbatim; empty
// selects the provider default.
type MetadataQuery struct {
	Top     int
	Since   time.Time
	OrderBy string
	Filter  string
}

// MailboxClient lists metadata for one connected mailbox. Implementations
// never request message bodies or event descriptions.
type MailboxClient interface {
	Provider() domain.MailProvider
	ListEmailMetadata(ctx context.Context, q MetadataQuery) ([]*domain.EmailItem, error)
	ListMeetingMetadata(ctx context.Context, q MetadataQuery) ([]*domain.MeetingItem, error)
}

// MailboxConnector opens a client for the user's connected mailbox.
type MailboxConnector interface {
	Connect(ctx context.Context, user *domain.ActingUser) (MailboxClient, error)
}

type ProviderErrorCode string

const (
	ProviderErrAuth      ProviderErrorCode = "auth_error"
	ProviderErrRateLimit ProviderErrorCode = "rate_limit"
	ProviderErrNotFound  ProviderErrorCode = "not_found"
	ProviderErrNetwork   ProviderErrorCode = "network_error"
	ProviderErrServer    ProviderErrorCode = "server_error"
	ProviderErrDecode    ProviderErrorCode = "decode_error"
)

// ProviderError is returned by mailbox clients.
type ProviderError struct {
	Provider  string
	Code      ProviderErrorCode
	Message   string
	Err       error
	Transient bool
}

func (e *ProviderError) Error() string {
	msg := e.Provider + ": " + e.Message
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable lets the retry policy skip permanent failures.
func (e *ProviderError) Retryable() bool {
	return e.Transient
}

func NewProviderError(provider string, code ProviderErrorCode, message string, err error, transient bool) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Err:       err,
		Transient: transient,
	}
}

// ProviderErrorFromStatus maps an HTTP status from a provider API.
func ProviderErrorFromStatus(provider string, status int, body string) *ProviderError {
	switch {
	case status == 401 || status == 403:
		return NewProviderError(provider, ProviderErrAuth, "access denied", nil, false)
	case status == 404:
		return NewProviderError(provider, ProviderErrNotFound, "not found", nil, false)
	case status == 429:
		return NewProviderError(provider, ProviderErrRateLimit, "too many requests", nil, true)
	case status >= 500:
		return NewProviderError(provider, ProviderErrServer, "HTTP "+strconv.Itoa(status)+": "+truncate(body, 200), nil, true)
	default:
		return NewProviderError(provider, ProviderErrServer, "HTTP "+strconv.Itoa(status)+": "+truncate(body, 200), nil, false)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
