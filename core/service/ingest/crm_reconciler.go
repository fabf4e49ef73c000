package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crm_server/core/domain"
	"crm_server/core/port/out"
	"crm_server/core/service/classification"
	"crm_server/pkg/apperr"
	"crm_server/pkg/logger"
)

// Reconciler maps one metadata item onto Company, Contact and Communication
// records. Every write is an atomic upsert so concurrent and repeated calls
// converge on the same rows.
type Reconciler struct {
	classifier *classification.Classifier
	companies  out.CompanyRepository
	contacts   out.ContactRepository
	comms      out.CommunicationRepository
	log        *logger.Logger
	now        func() time.Time
}

func NewReconciler(
	classifier *classification.Classifier,
	companies out.CompanyRepository,
	contacts out.ContactRepository,
	comms out.CommunicationRepository,
) *Reconciler {
	return &Reconciler{
		classifier: classifier,
		companies:  companies,
		contacts:   contacts,
		comms:      comms,
		log:        logger.WithField("component", "reconciler"),
		now:        time.Now,
	}
}

type counterparty struct {
	domain.Participant
	class domain.Classification
}

// Reconcile records item on behalf of user as an email-sync communication.
// When some entities were created before a later write failed, both the
// partial result (with warnings) and the error are returned.
func (r *Reconciler) Reconcile(ctx context.Context, item domain.Item, user *domain.ActingUser) (*domain.ReconcileResult, error) {
	return r.reconcile(ctx, item, user, domain.SourceEmailSync)
}

func (r *Reconciler) reconcile(ctx context.Context, item domain.Item, user *domain.ActingUser, source domain.CommunicationSource) (*domain.ReconcileResult, error) {
	if user == nil {
		return nil, apperr.Unauthorized("acting user required")
	}
	if item == nil {
		return nil, apperr.MalformedItem("", "empty item")
	}
	if err := item.Validate(); err != nil {
		return nil, apperr.MalformedItem(item.Key(), err.Error())
	}

	parties := r.counterparties(item, user)
	if len(parties) == 0 {
		return &domain.ReconcileResult{Outcome: domain.OutcomeIgnored}, nil
	}
	external := false
	for _, p := range parties {
		if p.class.Class != domain.ClassInternal {
			external = true
			break
		}
	}
	if !external {
		return &domain.ReconcileResult{Outcome: domain.OutcomeIgnored}, nil
	}

	result := &domain.ReconcileResult{}
	var (
		primaryCompany *int64
		primaryContact *int64
		freeText       []string
	)

	companyByDomain := make(map[string]*domain.Company)
	for _, p := range parties {
		if p.class.Class != domain.ClassBusiness {
			freeText = append(freeText, p.class.Email)
			continue
		}

		company, ok := companyByDomain[p.class.Domain]
		if !ok {
			var created bool
			var err error
			company, created, err = r.resolveCompany(ctx, p.class, user)
			if err != nil {
				return r.partial(result, item, fmt.Errorf("company for %s: %w", p.class.Domain, err))
			}
			companyByDomain[p.class.Domain] = company
			if created {
				result.CompaniesCreated++
			}
		}

		contact, created, err := r.resolveContact(ctx, p, company.ID, user, source)
		if err != nil {
			return r.partial(result, item, fmt.Errorf("contact %s: %w", p.class.Email, err))
		}
		if created {
			result.ContactsCreated++
		}

		if primaryContact == nil {
			// An existing contact keeps its own company.
			companyID, contactID := company.ID, contact.ID
			if contact.CompanyID != 0 {
				companyID = contact.CompanyID
			}
			primaryCompany, primaryContact = &companyID, &contactID
		} else {
			freeText = append(freeText, p.class.Email)
		}
	}

	comm := r.buildCommunication(item, user, source)
	comm.CompanyID = primaryCompany
	comm.ContactID = primaryContact
	comm.Participants = freeText

	created, err := r.comms.UpsertByProviderMessageID(ctx, comm)
	if err != nil {
		return r.partial(result, item, fmt.Errorf("communication: %w", err))
	}

	result.CompanyID = primaryCompany
	result.ContactID = primaryContact
	result.CommunicationID = comm.ID
	result.Created = created
	if created {
		result.Outcome = domain.OutcomeCreated
	} else {
		result.Outcome = domain.OutcomeDuplicateSkipped
	}
	return result, nil
}

// counterparties drops the user's own mailbox and repeated addresses, keeping
// item order so the originator comes first.
func (r *Reconciler) counterparties(item domain.Item, user *domain.ActingUser) []counterparty {
	seen := make(map[string]int)
	var parties []counterparty
	for _, p := range item.Participants() {
		addr := domain.NormalizeEmail(p.Email)
		if user.IsMailbox(addr) {
			continue
		}
		if i, dup := seen[addr]; dup {
			if parties[i].Name == "" {
				parties[i].Name = strings.TrimSpace(p.Name)
			}
			continue
		}
		seen[addr] = len(parties)
		parties = append(parties, counterparty{
			Participant: domain.Participant{Name: strings.TrimSpace(p.Name), Email: addr},
			class:       r.classifier.Classify(addr),
		})
	}
	return parties
}

// resolveCompany looks the company up by domain, then upserts by derived name.
// Losing a race on the domain index falls back to the winner's row.
func (r *Reconciler) resolveCompany(ctx context.Context, cls domain.Classification, user *domain.ActingUser) (*domain.Company, bool, error) {
	existing, err := r.companies.FindByDomain(ctx, cls.Domain)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	host := cls.Domain
	company := &domain.Company{
		Name:       cls.CompanyNameHint,
		Domain:     &host,
		LeadSource: domain.LeadSourceEmailSync,
		Status:     domain.CompanyProspect,
		CreatedBy:  user.ID,
	}
	created, err := r.companies.UpsertByName(ctx, company)
	if errors.Is(err, out.ErrDuplicate) {
		existing, err = r.companies.FindByDomain(ctx, cls.Domain)
		if err == nil && existing == nil {
			err = fmt.Errorf("domain %s conflicted but is not stored", cls.Domain)
		}
		return existing, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return company, created, nil
}

func (r *Reconciler) resolveContact(ctx context.Context, p counterparty, companyID int64, user *domain.ActingUser, source domain.CommunicationSource) (*domain.Contact, bool, error) {
	first, last := domain.SplitDisplayName(p.Name, p.class.Email)
	contact := &domain.Contact{
		CompanyID:  companyID,
		Email:      p.class.Email,
		FirstName:  first,
		LastName:   last,
		LeadSource: domain.LeadSourceEmailSync,
		Status:     domain.ContactLead,
		CreatedBy:  user.ID,
	}
	if source != domain.SourceWebhook {
		owner := user.ID
		contact.AssignedUserID = &owner
	}
	created, err := r.contacts.UpsertByEmail(ctx, contact)
	if err != nil {
		return nil, false, err
	}
	return contact, created, nil
}

func (r *Reconciler) buildCommunication(item domain.Item, user *domain.ActingUser, source domain.CommunicationSource) *domain.Communication {
	occurred := item.OccurredAt().UTC()
	direction := domain.DirectionInbound
	if user.IsMailbox(item.Originator().Email) {
		direction = domain.DirectionOutbound
	}

	comm := &domain.Communication{
		ProviderMessageID: item.Key(),
		Subject:           strings.TrimSpace(item.Title()),
		Direction:         direction,
		Status:            domain.CommunicationCompleted,
		CompletedAt:       &occurred,
		Source:            source,
		CreatedBy:         user.ID,
	}
	if source != domain.SourceWebhook {
		owner := user.ID
		comm.AssignedUserID = &owner
	}

	switch it := item.(type) {
	case *domain.EmailItem:
		comm.Type = domain.CommunicationEmail
		comm.Content = emailSummary(it)
		if it.ThreadID != "" {
			thread := it.ThreadID
			comm.ThreadID = &thread
		}
	case *domain.MeetingItem:
		comm.Type = domain.CommunicationMeeting
		comm.Content = meetingSummary(it)
		comm.ScheduledAt = &occurred
		switch {
		case it.IsCancelled:
			comm.Status = domain.CommunicationCancelled
			comm.CompletedAt = nil
		case occurred.After(r.now()):
			comm.Status = domain.CommunicationScheduled
			comm.CompletedAt = nil
		}
	}
	if comm.Subject == "" {
		comm.Subject = "(no subject)"
	}
	return comm
}

func (r *Reconciler) partial(result *domain.ReconcileResult, item domain.Item, err error) (*domain.ReconcileResult, error) {
	if result.CompaniesCreated > 0 || result.ContactsCreated > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"item %s: created %d companies and %d contacts before failing",
			item.Key(), result.CompaniesCreated, result.ContactsCreated))
		r.log.WithError(err).Warn("partial reconcile of %s", item.Key())
		return result, apperr.DatabaseError("reconcile", err)
	}
	return nil, apperr.DatabaseError("reconcile", err)
}

func emailSummary(e *domain.EmailItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Email from %s", addressList([]domain.Participant{e.From}))
	if len(e.To) > 0 {
		fmt.Fprintf(&b, " to %s", addressList(e.To))
	}
	if len(e.Cc) > 0 {
		fmt.Fprintf(&b, ", cc %s", addressList(e.Cc))
	}
	fmt.Fprintf(&b, " on %s.", e.SentAt.UTC().Format(time.RFC1123))
	if e.HasAttachments {
		b.WriteString(" Has attachments.")
	}
	if e.Importance != "" && !strings.EqualFold(e.Importance, "normal") {
		fmt.Fprintf(&b, " Importance: %s.", strings.ToLower(e.Importance))
	}
	return b.String()
}

func meetingSummary(m *domain.MeetingItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Meeting organized by %s", addressList([]domain.Participant{m.Organizer}))
	if len(m.Attendees) > 0 {
		fmt.Fprintf(&b, " with %s", addressList(m.Attendees))
	}
	fmt.Fprintf(&b, " starting %s", m.Start.UTC().Format(time.RFC1123))
	if !m.End.IsZero() {
		fmt.Fprintf(&b, " (%s)", m.End.Sub(m.Start).Round(time.Minute))
	}
	b.WriteString(".")
	if m.IsOnline {
		b.WriteString(" Online meeting.")
	}
	if m.IsCancelled {
		b.WriteString(" Cancelled.")
	}
	return b.String()
}

func addressList(ps []domain.Participant) string {
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		addr := domain.NormalizeEmail(p.Email)
		if name := strings.TrimSpace(p.Name); name != "" && !strings.EqualFold(name, addr) {
			parts = append(parts, fmt.Sprintf("%s <%s>", name, addr))
		} else {
			parts = append(parts, addr)
		}
	}
	return strings.Join(parts, ", ")
}
