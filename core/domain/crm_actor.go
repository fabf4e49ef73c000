package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

type Role string

const (
	RoleConsultant Role = "consultant"
	RoleDeptAdmin  Role = "dept_admin"
	RoleSysAdmin   Role = "sys_admin"
)

func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}

var ErrInvalidActor = errors.New("invalid acting user")

const graphScopePrefix = "https://graph.microsoft.com/"

// Mailbox read scopes, normalized (see normalizeScope).
var (
	EmailReadScopes = []string{
		"mail.read",
		"mail.readbasic",
		"mail.readwrite",
		"https://www.googleapis.com/auth/gmail.readonly",
		"https://www.googleapis.com/auth/gmail.metadata",
		"https://www.googleapis.com/auth/gmail.modify",
		"https://mail.google.com/",
	}
	MeetingReadScopes = []string{
		"calendars.read",
		"calendars.readbasic",
		"calendars.readwrite",
		"https://www.googleapis.com/auth/calendar.readonly",
		"https://www.googleapis.com/auth/calendar.events.readonly",
		"https://www.googleapis.com/auth/calendar",
	}
)

func normalizeScope(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, graphScopePrefix)
}

// ActingUser is the authenticated identity every core operation receives
// explicitly. Build it with NewActingUser.
type ActingUser struct {
	ID             uuid.UUID
	Email          string
	MailboxAddress string
	Role           Role
	scopes         map[string]struct{}
	rawScopes      []string
}

// NewActingUser validates and normalizes the identity supplied by the auth layer.
// mailbox defaults to email when empty.
func NewActingUser(id uuid.UUID, email, mailbox string, scopes []string, role Role) (*ActingUser, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: missing id", ErrInvalidActor)
	}
	email = NormalizeEmail(email)
	if email != "" && !ValidAddress(email) {
		return nil, fmt.Errorf("%w: bad email %q", ErrInvalidActor, email)
	}
	mailbox = NormalizeEmail(mailbox)
	if mailbox == "" {
		mailbox = email
	}
	if mailbox != "" && !ValidAddress(mailbox) {
		return nil, fmt.Errorf("%w: bad mailbox %q", ErrInvalidActor, mailbox)
	}
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidActor, role)
	}

	u := &ActingUser{
		ID:             id,
		Email:          email,
		MailboxAddress: mailbox,
		Role:           role,
		scopes:         make(map[string]struct{}, len(scopes)),
	}
	for _, s := range scopes {
		if strings.TrimSpace(s) == "" {
			continue
		}
		n := normalizeScope(s)
		if _, dup := u.scopes[n]; dup {
			continue
		}
		u.scopes[n] = struct{}{}
		u.rawScopes = append(u.rawScopes, strings.TrimSpace(s))
	}
	sort.Strings(u.rawScopes)
	return u, nil
}

// HasAnyScope reports whether the user was granted at least one of scopes.
func (u *ActingUser) HasAnyScope(scopes ...string) bool {
	for _, s := range scopes {
		if _, ok := u.scopes[normalizeScope(s)]; ok {
			return true
		}
	}
	return false
}

// Scopes returns the granted scopes as supplied, sorted.
func (u *ActingUser) Scopes() []string {
	out := make([]string, len(u.rawScopes))
	copy(out, u.rawScopes)
	return out
}

// IsMailbox reports whether addr is the user's own mailbox address.
func (u *ActingUser) IsMailbox(addr string) bool {
	return u.MailboxAddress != "" && NormalizeEmail(addr) == u.MailboxAddress
}

// Can reports whether the user's role grants p.
func (u *ActingUser) Can(p Permission) bool {
	return RoleHasPermission(u.Role, p)
}
