// Package provider implements mailbox clients for Microsoft Graph and Google
// APIs plus the connector that opens them from stored OAuth grants.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crm_server/core/domain"
	"crm_server/core/port/out"

	"github.com/goccy/go-json"
)

const DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// Metadata-only field lists. body, bodyPreview and event bodies are never selected.
const (
	graphMailSelect  = "id,conversationId,subject,from,toRecipients,ccRecipients,receivedDateTime,sentDateTime,hasAttachments,importance"
	graphEventSelect = "id,iCalUId,subject,organizer,attendees,start,end,isCancelled,isOnlineMeeting,importance"
)

const graphDateTimeLayout = "2006-01-02T15:04:05.9999999"

// OutlookClient reads metadata through Graph REST with an authorized client.
type OutlookClient struct {
	http    *http.Client
	baseURL string
}

var _ out.MailboxClient = (*OutlookClient)(nil)

func NewOutlookClient(httpClient *http.Client, baseURL string) *OutlookClient {
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	return &OutlookClient{http: httpClient, baseURL: strings.TrimRight(baseURL, "/")}
}

func (c *OutlookClient) Provider() domain.MailProvider { return domain.ProviderOutlook }

type graphAddress struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

func (a graphAddress) participant() domain.Participant {
	return domain.Participant{Name: a.EmailAddress.Name, Email: a.EmailAddress.Address}
}

func participants(in []graphAddress) []domain.Participant {
	out := make([]domain.Participant, 0, len(in))
	for _, a := range in {
		if a.EmailAddress.Address == "" {
			continue
		}
		out = append(out, a.participant())
	}
	return out
}

type graphMailMeta struct {
	ID               string         `json:"id"`
	ConversationID   string         `json:"conversationId"`
	Subject          string         `json:"subject"`
	From             graphAddress   `json:"from"`
	ToRecipients     []graphAddress `json:"toRecipients"`
	CcRecipients     []graphAddress `json:"ccRecipients"`
	ReceivedDateTime time.Time      `json:"receivedDateTime"`
	SentDateTime     time.Time      `json:"sentDateTime"`
	HasAttachments   bool           `json:"hasAttachments"`
	Importance       string         `json:"importance"`
}

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

// parse reads Graph's zone-less timestamp. Requests ask for UTC via the
// Prefer header, so other zones only appear when a tenant ignores it.
func (d graphDateTime) parse() (time.Time, error) {
	if d.DateTime == "" {
		return time.Time{}, nil
	}
	loc := time.UTC
	if d.TimeZone != "" && !strings.EqualFold(d.TimeZone, "UTC") {
		if l, err := time.LoadLocation(d.TimeZone); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation(graphDateTimeLayout, d.DateTime, loc)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

type graphEventMeta struct {
	ID        string       `json:"id"`
	ICalUID   string       `json:"iCalUId"`
	Subject   string       `json:"subject"`
	Organizer graphAddress `json:"organizer"`
	Attendees []struct {
		graphAddress
		Type string `json:"type"`
	} `json:"attendees"`
	Start           graphDateTime `json:"start"`
	End             graphDateTime `json:"end"`
	IsCancelled     bool          `json:"isCancelled"`
	IsOnlineMeeting bool          `json:"isOnlineMeeting"`
	Importance      string        `json:"importance"`
}

func (c *OutlookClient) ListEmailMetadata(ctx context.Context, q out.MetadataQuery) ([]*domain.EmailItem, error) {
	params := url.Values{}
	params.Set("$top", strconv.Itoa(q.Top))
	params.Set("$select", graphMailSelect)
	params.Set("$orderby", orderBy(q.OrderBy, "receivedDateTime desc"))
	params.Set("$filter", graphFilter(fmt.Sprintf("receivedDateTime ge %s", q.Since.UTC().Format(time.RFC3339)), q.Filter))

	var items []*domain.EmailItem
	err := c.paginate(ctx, c.baseURL+"/me/messages?"+params.Encode(), q.Top, func(raw json.RawMessage) error {
		var page []graphMailMeta
		if err := json.Unmarshal(raw, &page); err != nil {
			return err
		}
		for _, m := range page {
			sent := m.SentDateTime
			if sent.IsZero() {
				sent = m.ReceivedDateTime
			}
			items = append(items, &domain.EmailItem{
				MessageID:      m.ID,
				ThreadID:       m.ConversationID,
				Subject:        m.Subject,
				From:           m.From.participant(),
				To:             participants(m.ToRecipients),
				Cc:             participants(m.CcRecipients),
				SentAt:         sent.UTC(),
				HasAttachments: m.HasAttachments,
				Importance:     m.Importance,
				Provider:       string(domain.ProviderOutlook),
			})
		}
		return nil
	}, func() int { return len(items) })
	if err != nil {
		return nil, err
	}
	if len(items) > q.Top {
		items = items[:q.Top]
	}
	return items, nil
}

func (c *OutlookClient) ListMeetingMetadata(ctx context.Context, q out.MetadataQuery) ([]*domain.MeetingItem, error) {
	params := url.Values{}
	params.Set("$top", strconv.Itoa(q.Top))
	params.Set("$select", graphEventSelect)
	params.Set("$orderby", orderBy(q.OrderBy, "start/dateTime desc"))
	params.Set("$filter", graphFilter(fmt.Sprintf("start/dateTime ge '%s'", q.Since.UTC().Format(graphDateTimeLayout)), q.Filter))

	var items []*domain.MeetingItem
	err := c.paginate(ctx, c.baseURL+"/me/events?"+params.Encode(), q.Top, func(raw json.RawMessage) error {
		var page []graphEventMeta
		if err := json.Unmarshal(raw, &page); err != nil {
			return err
		}
		for _, e := range page {
			start, err := e.Start.parse()
			if err != nil {
				return fmt.Errorf("event %s start: %w", e.ID, err)
			}
			end, err := e.End.parse()
			if err != nil {
				return fmt.Errorf("event %s end: %w", e.ID, err)
			}
			attendees := make([]domain.Participant, 0, len(e.Attendees))
			for _, a := range e.Attendees {
				if a.EmailAddress.Address == "" {
					continue
				}
				attendees = append(attendees, a.participant())
			}
			items = append(items, &domain.MeetingItem{
				EventID:     e.ID,
				ICalUID:     e.ICalUID,
				Subject:     e.Subject,
				Organizer:   e.Organizer.participant(),
				Attendees:   attendees,
				Start:       start,
				End:         end,
				IsCancelled: e.IsCancelled,
				IsOnline:    e.IsOnlineMeeting,
				Importance:  e.Importance,
				Provider:    string(domain.ProviderOutlook),
			})
		}
		return nil
	}, func() int { return len(items) })
	if err != nil {
		return nil, err
	}
	if len(items) > q.Top {
		items = items[:q.Top]
	}
	return items, nil
}

// paginate follows @odata.nextLink until collected() reaches top.
func (c *OutlookClient) paginate(ctx context.Context, next string, top int, decode func(json.RawMessage) error, collected func() int) error {
	for next != "" && collected() < top {
		var page struct {
			Value    json.RawMessage `json:"value"`
			NextLink string          `json:"@odata.nextLink"`
		}
		if err := c.get(ctx, next, &page); err != nil {
			return err
		}
		if len(page.Value) > 0 {
			if err := decode(page.Value); err != nil {
				return out.NewProviderError(string(domain.ProviderOutlook), out.ProviderErrDecode, "unexpected response", err, false)
			}
		}
		next = page.NextLink
	}
	return nil
}

func (c *OutlookClient) get(ctx context.Context, rawURL string, result any) error {
	provider := string(domain.ProviderOutlook)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return out.NewProviderError(provider, out.ProviderErrNetwork, "build request", err, false)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return out.ProviderErrorFromStatus(provider, resp.StatusCode, string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return out.NewProviderError(provider, out.ProviderErrDecode, "decode response", err, false)
	}
	return nil
}

// transportError keeps provider errors raised by the token source and treats
// everything else as a transient network failure.
func transportError(provider string, err error) error {
	var perr *out.ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return out.NewProviderError(provider, out.ProviderErrNetwork, "request failed", err, true)
}

func orderBy(requested, fallback string) string {
	if strings.TrimSpace(requested) != "" {
		return requested
	}
	return fallback
}

func graphFilter(base, extra string) string {
	if strings.TrimSpace(extra) == "" {
		return base
	}
	return base + " and (" + extra + ")"
}
