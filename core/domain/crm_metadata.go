package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

type ItemKind string

const (
	ItemEmail   ItemKind = "email"
	ItemMeeting ItemKind = "meeting"
)

// Participant is one name/address pair from message or event metadata.
type Participant struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ValidAddress reports whether s is a bare, syntactically valid address.
func ValidAddress(s string) bool {
	if s == "" || strings.Count(s, "@") != 1 {
		return false
	}
	local, host, _ := strings.Cut(s, "@")
	if local == "" || host == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return strings.EqualFold(addr.Address, s)
}

// Item is the metadata of one mailbox object fed to reconciliation.
// EmailItem and MeetingItem are the only implementations.
type Item interface {
	Kind() ItemKind
	// Key is the provider message or event id.
	Key() string
	// Originator is the sender or organizer.
	Originator() Participant
	// Participants returns the originator followed by recipients or attendees.
	Participants() []Participant
	OccurredAt() time.Time
	Title() string
	Validate() error
}

// EmailItem is envelope metadata of one message. It never carries a body.
type EmailItem struct {
	MessageID      string        `json:"messageId"`
	ThreadID       string        `json:"threadId,omitempty"`
	Subject        string        `json:"subject"`
	From           Participant   `json:"from"`
	To             []Participant `json:"to"`
	Cc             []Participant `json:"cc,omitempty"`
	SentAt         time.Time     `json:"date"`
	HasAttachments bool          `json:"hasAttachments"`
	Importance     string        `json:"importance,omitempty"`
	Provider       string        `json:"provider,omitempty"`
}

func (e *EmailItem) Kind() ItemKind          { return ItemEmail }
func (e *EmailItem) Key() string             { return e.MessageID }
func (e *EmailItem) Originator() Participant { return e.From }
func (e *EmailItem) OccurredAt() time.Time   { return e.SentAt }
func (e *EmailItem) Title() string           { return e.Subject }

func (e *EmailItem) Participants() []Participant {
	out := make([]Participant, 0, 1+len(e.To)+len(e.Cc))
	out = append(out, e.From)
	out = append(out, e.To...)
	return append(out, e.Cc...)
}

func (e *EmailItem) Validate() error {
	if strings.TrimSpace(e.MessageID) == "" {
		return fmt.Errorf("missing message id")
	}
	if e.SentAt.IsZero() {
		return fmt.Errorf("missing date")
	}
	return validateParticipants(e.Participants())
}

// MeetingItem is calendar event metadata. It never carries the description.
type MeetingItem struct {
	EventID     string        `json:"eventId"`
	ICalUID     string        `json:"iCalUId,omitempty"`
	Subject     string        `json:"subject"`
	Organizer   Participant   `json:"organizer"`
	Attendees   []Participant `json:"attendees"`
	Start       time.Time     `json:"start"`
	End         time.Time     `json:"end"`
	IsCancelled bool          `json:"isCancelled"`
	IsOnline    bool          `json:"isOnline"`
	Importance  string        `json:"importance,omitempty"`
	Provider    string        `json:"provider,omitempty"`
}

func (m *MeetingItem) Kind() ItemKind          { return ItemMeeting }
func (m *MeetingItem) Key() string             { return m.EventID }
func (m *MeetingItem) Originator() Participant { return m.Organizer }
func (m *MeetingItem) OccurredAt() time.Time   { return m.Start }
func (m *MeetingItem) Title() string           { return m.Subject }

func (m *MeetingItem) Participants() []Participant {
	out := make([]Participant, 0, 1+len(m.Attendees))
	out = append(out, m.Organizer)
	return append(out, m.Attendees...)
}

func (m *MeetingItem) Validate() error {
	if strings.TrimSpace(m.EventID) == "" {
		return fmt.Errorf("missing event id")
	}
	if m.Start.IsZero() {
		return fmt.Errorf("missing start time")
	}
	if !m.End.IsZero() && m.End.Before(m.Start) {
		return fmt.Errorf("end %s before start %s", m.End.Format(time.RFC3339), m.Start.Format(time.RFC3339))
	}
	return validateParticipants(m.Participants())
}

func validateParticipants(ps []Participant) error {
	for i, p := range ps {
		addr := NormalizeEmail(p.Email)
		if !ValidAddress(addr) {
			if i == 0 {
				return fmt.Errorf("invalid originator address %q", p.Email)
			}
			return fmt.Errorf("invalid participant address %q", p.Email)
		}
	}
	return nil
}
