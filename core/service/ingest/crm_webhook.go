package ingest

import (
	"context"
	"crypto/subtle"
	"net/mail"
	"strings"
	"time"

	"crm_server/core/domain"
	"crm_server/core/port/out"
	"crm_server/core/service/classification"
	"crm_server/pkg/apperr"
	"crm_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const defaultDedupeTTL = 5 * time.Minute

// SystemActorID is used as created_by for pushed messages when no actor is configured.
var SystemActorID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("crm_server/webhook"))

type WebhookConfig struct {
	Secret    string
	ActorID   uuid.UUID // recorded as created_by for pushed messages
	DedupeTTL time.Duration
}

// WebhookIngress accepts single pushed messages from a mailbox provider.
type WebhookIngress struct {
	cfg        WebhookConfig
	classifier *classification.Classifier
	reconciler *Reconciler
	dedupe     out.KeyClaimer
	log        *logger.Logger
}

// NewWebhookIngress wires the ingress. dedupe may be nil; the communication
// upsert still prevents duplicate rows.
func NewWebhookIngress(cfg WebhookConfig, classifier *classification.Classifier, reconciler *Reconciler, dedupe out.KeyClaimer) *WebhookIngress {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = defaultDedupeTTL
	}
	if cfg.ActorID == uuid.Nil {
		cfg.ActorID = SystemActorID
	}
	return &WebhookIngress{
		cfg:        cfg,
		classifier: classifier,
		reconciler: reconciler,
		dedupe:     dedupe,
		log:        logger.WithField("component", "webhook"),
	}
}

type webhookPayload struct {
	MessageID   string               `json:"messageId"`
	ThreadID    string               `json:"threadId"`
	From        *domain.Participant  `json:"from"`
	To          []domain.Participant `json:"to"`
	Cc          []domain.Participant `json:"cc"`
	Subject     string               `json:"subject"`
	Date        string               `json:"date"`
	Importance  string               `json:"importance"`
	Attachments []json.RawMessage    `json:"attachments"`
	Mailbox     string               `json:"mailbox"`
}

// HandleIncomingMessage authenticates, parses and reconciles one pushed
// message. Only authentication and parse failures are returned as errors;
// reconciliation failures are logged and reported as error_logged so the
// provider does not retry forever.
func (w *WebhookIngress) HandleIncomingMessage(ctx context.Context, payload []byte, authToken string) (*domain.WebhookOutcome, error) {
	if !w.authorized(authToken) {
		return nil, apperr.Unauthorized("invalid webhook token")
	}

	var p webhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, apperr.BadRequest("invalid webhook payload").WithError(err)
	}
	item, err := p.toItem()
	if err != nil {
		return nil, err
	}

	log := w.log.WithContext(ctx).WithField("message_id", item.MessageID)

	if w.internalOnly(item) {
		log.Debug("internal-only message ignored")
		return &domain.WebhookOutcome{Accepted: true, Status: domain.WebhookIgnored, Reason: "internal-only message"}, nil
	}

	key := "webhook:" + item.MessageID
	if w.dedupe != nil {
		claimed, err := w.dedupe.Claim(ctx, key, w.cfg.DedupeTTL)
		switch {
		case err != nil:
			log.WithError(err).Warn("webhook dedupe unavailable")
		case !claimed:
			return &domain.WebhookOutcome{Accepted: true, Status: domain.WebhookDuplicate, Reason: "already received"}, nil
		}
	}

	actor, err := w.actor(p.Mailbox, item)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}

	res, err := w.reconciler.reconcile(ctx, item, actor, domain.SourceWebhook)
	if err != nil {
		log.WithError(err).Error("webhook reconcile failed")
		if w.dedupe != nil {
			if rerr := w.dedupe.Release(context.WithoutCancel(ctx), key); rerr != nil {
				log.WithError(rerr).Warn("failed to release webhook dedupe key")
			}
		}
		return &domain.WebhookOutcome{Accepted: true, Status: domain.WebhookErrorLogged, Reason: err.Error()}, nil
	}

	switch res.Outcome {
	case domain.OutcomeIgnored:
		return &domain.WebhookOutcome{Accepted: true, Status: domain.WebhookIgnored, Reason: "no external participants"}, nil
	case domain.OutcomeDuplicateSkipped:
		id := res.CommunicationID
		return &domain.WebhookOutcome{Accepted: true, Status: domain.WebhookDuplicate, Processed: true, CommunicationID: &id}, nil
	default:
		id := res.CommunicationID
		log.WithField("communication_id", id).Info("webhook message recorded")
		return &domain.WebhookOutcome{Accepted: true, Status: domain.WebhookProcessed, Processed: true, CommunicationID: &id}, nil
	}
}

func (w *WebhookIngress) authorized(authToken string) bool {
	token := strings.TrimSpace(authToken)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if w.cfg.Secret == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(w.cfg.Secret)) == 1
}

func (w *WebhookIngress) internalOnly(item *domain.EmailItem) bool {
	for _, p := range item.Participants() {
		if w.classifier.Classify(p.Email).Class != domain.ClassInternal {
			return false
		}
	}
	return true
}

// actor is the system identity for a pushed message. Its mailbox is the
// payload's mailbox, or the sender when the sender is internal, so direction
// resolves the same way it does for a user sync.
func (w *WebhookIngress) actor(mailbox string, item *domain.EmailItem) (*domain.ActingUser, error) {
	mailbox = domain.NormalizeEmail(mailbox)
	if mailbox == "" || !domain.ValidAddress(mailbox) {
		mailbox = ""
		if w.classifier.Classify(item.From.Email).Class == domain.ClassInternal {
			mailbox = domain.NormalizeEmail(item.From.Email)
		}
	}
	return domain.NewActingUser(w.cfg.ActorID, "", mailbox, nil, domain.RoleSysAdmin)
}

func (p *webhookPayload) toItem() (*domain.EmailItem, error) {
	if strings.TrimSpace(p.MessageID) == "" {
		return nil, apperr.MissingField("messageId")
	}
	if p.From == nil || strings.TrimSpace(p.From.Email) == "" {
		return nil, apperr.MissingField("from")
	}
	// Same rule as a fetched item: no timestamp, no record.
	if strings.TrimSpace(p.Date) == "" {
		return nil, apperr.MissingField("date")
	}
	sent, err := parseDate(strings.TrimSpace(p.Date))
	if err != nil {
		return nil, apperr.InvalidInput("date", err.Error())
	}

	item := &domain.EmailItem{
		MessageID:      strings.TrimSpace(p.MessageID),
		ThreadID:       p.ThreadID,
		Subject:        p.Subject,
		From:           *p.From,
		To:             p.To,
		Cc:             p.Cc,
		SentAt:         sent,
		HasAttachments: len(p.Attachments) > 0,
		Importance:     p.Importance,
		Provider:       "webhook",
	}
	if err := item.Validate(); err != nil {
		return nil, apperr.BadRequest("invalid webhook payload: " + err.Error())
	}
	return item, nil
}

// parseDate accepts RFC 3339 and RFC 5322 dates.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return mail.ParseDate(s)
}
