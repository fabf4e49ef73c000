package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"crm_server/core/domain"
	"crm_server/core/port/out"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Gmail headers requested with format=metadata. Nothing else of the message is fetched.
var gmailMetadataHeaders = []string{"From", "To", "Cc", "Subject", "Date", "Importance", "X-Priority"}

const calendarEventFields = "nextPageToken,items(id,iCalUID,summary,status,organizer(email,displayName)," +
	"attendees(email,displayName,resource),start,end,hangoutLink,conferenceData/entryPoints/uri)"

// GoogleClient reads Gmail and Google Calendar metadata.
type GoogleClient struct {
	gmail    *gmail.Service
	calendar *calendar.Service
}

var _ out.MailboxClient = (*GoogleClient)(nil)

// NewGoogleClient builds both API services on an authorized HTTP client.
// Extra options (endpoints in tests) are appended.
func NewGoogleClient(ctx context.Context, httpClient *http.Client, opts ...option.ClientOption) (*GoogleClient, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	gm, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gmail service: %w", err)
	}
	cal, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return &GoogleClient{gmail: gm, calendar: cal}, nil
}

func (c *GoogleClient) Provider() domain.MailProvider { return domain.ProviderGoogle }

func (c *GoogleClient) ListEmailMetadata(ctx context.Context, q out.MetadataQuery) ([]*domain.EmailItem, error) {
	query := fmt.Sprintf("after:%d", q.Since.Unix())
	if f := strings.TrimSpace(q.Filter); f != "" {
		query += " " + f
	}

	var ids []string
	pageToken := ""
	for len(ids) < q.Top {
		call := c.gmail.Users.Messages.List("me").Q(query).MaxResults(int64(q.Top - len(ids))).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, googleError(err)
		}
		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	if len(ids) > q.Top {
		ids = ids[:q.Top]
	}

	items := make([]*domain.EmailItem, 0, len(ids))
	for _, id := range ids {
		msg, err := c.gmail.Users.Messages.Get("me", id).
			Format("metadata").
			MetadataHeaders(gmailMetadataHeaders...).
			Context(ctx).
			Do()
		if err != nil {
			var gerr *googleapi.Error
			if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
				continue // deleted between list and get
			}
			return nil, googleError(err)
		}
		items = append(items, gmailItem(msg))
	}
	return items, nil
}

func (c *GoogleClient) ListMeetingMetadata(ctx context.Context, q out.MetadataQuery) ([]*domain.MeetingItem, error) {
	var items []*domain.MeetingItem
	pageToken := ""
	for len(items) < q.Top {
		call := c.calendar.Events.List("primary").
			TimeMin(q.Since.UTC().Format(time.RFC3339)).
			SingleEvents(true).
			ShowDeleted(true).
			OrderBy(orderBy(q.OrderBy, "startTime")).
			MaxResults(int64(q.Top - len(items))).
			Fields(googleapi.Field(calendarEventFields)).
			Context(ctx)
		if f := strings.TrimSpace(q.Filter); f != "" {
			call = call.Q(f)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, googleError(err)
		}
		for _, ev := range resp.Items {
			item, err := calendarItem(ev)
			if err != nil {
				return nil, out.NewProviderError(string(domain.ProviderGoogle), out.ProviderErrDecode, "unexpected event", err, false)
			}
			items = append(items, item)
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	if len(items) > q.Top {
		items = items[:q.Top]
	}
	return items, nil
}

func gmailItem(msg *gmail.Message) *domain.EmailItem {
	item := &domain.EmailItem{
		MessageID: msg.Id,
		ThreadID:  msg.ThreadId,
		Provider:  string(domain.ProviderGoogle),
	}
	if msg.InternalDate > 0 {
		item.SentAt = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		return item
	}
	item.HasAttachments = strings.EqualFold(msg.Payload.MimeType, "multipart/mixed")

	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "from":
			if ps := parseAddressList(h.Value); len(ps) > 0 {
				item.From = ps[0]
			}
		case "to":
			item.To = append(item.To, parseAddressList(h.Value)...)
		case "cc":
			item.Cc = append(item.Cc, parseAddressList(h.Value)...)
		case "subject":
			item.Subject = h.Value
		case "date":
			if item.SentAt.IsZero() {
				if t, err := mail.ParseDate(h.Value); err == nil {
					item.SentAt = t.UTC()
				}
			}
		case "importance":
			item.Importance = strings.ToLower(strings.TrimSpace(h.Value))
		case "x-priority":
			if item.Importance == "" && strings.HasPrefix(strings.TrimSpace(h.Value), "1") {
				item.Importance = "high"
			}
		}
	}
	return item
}

// parseAddressList accepts RFC 5322 lists and falls back to parsing each
// comma-separated entry so one malformed address does not drop the rest.
func parseAddressList(value string) []domain.Participant {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if list, err := mail.ParseAddressList(value); err == nil {
		out := make([]domain.Participant, 0, len(list))
		for _, a := range list {
			out = append(out, domain.Participant{Name: a.Name, Email: a.Address})
		}
		return out
	}
	var out []domain.Participant
	for _, part := range strings.Split(value, ",") {
		if a, err := mail.ParseAddress(strings.TrimSpace(part)); err == nil {
			out = append(out, domain.Participant{Name: a.Name, Email: a.Address})
		}
	}
	return out
}

func calendarItem(ev *calendar.Event) (*domain.MeetingItem, error) {
	item := &domain.MeetingItem{
		EventID:     ev.Id,
		ICalUID:     ev.ICalUID,
		Subject:     ev.Summary,
		IsCancelled: ev.Status == "cancelled",
		IsOnline:    ev.HangoutLink != "" || (ev.ConferenceData != nil && len(ev.ConferenceData.EntryPoints) > 0),
		Provider:    string(domain.ProviderGoogle),
	}
	if ev.Organizer != nil {
		item.Organizer = domain.Participant{Name: ev.Organizer.DisplayName, Email: ev.Organizer.Email}
	}
	for _, a := range ev.Attendees {
		if a == nil || a.Resource || a.Email == "" {
			continue
		}
		item.Attendees = append(item.Attendees, domain.Participant{Name: a.DisplayName, Email: a.Email})
	}

	var err error
	if item.Start, err = eventTime(ev.Start); err != nil {
		return nil, fmt.Errorf("event %s start: %w", ev.Id, err)
	}
	if item.End, err = eventTime(ev.End); err != nil {
		return nil, fmt.Errorf("event %s end: %w", ev.Id, err)
	}
	return item, nil
}

// eventTime reads timed events and all-day dates.
func eventTime(dt *calendar.EventDateTime) (time.Time, error) {
	if dt == nil {
		return time.Time{}, nil
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	}
	if dt.Date != "" {
		return time.Parse("2006-01-02", dt.Date)
	}
	return time.Time{}, nil
}

func googleError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		perr := out.ProviderErrorFromStatus(string(domain.ProviderGoogle), gerr.Code, gerr.Message)
		perr.Err = err
		return perr
	}
	return transportError(string(domain.ProviderGoogle), err)
}
