package communication

import (
	"context"
	"fmt"
	"strings"
	"time"

	"crm_server/core/domain"
	"crm_server/core/port/in"
	"crm_server/core/port/out"
	"crm_server/core/service/common"
	"crm_server/pkg/apperr"

	"github.com/google/uuid"
)

// ManualIDPrefix marks provider ids generated for manually logged entries.
const ManualIDPrefix = "manual-"

type Service struct {
	commRepo    out.CommunicationRepository
	contactRepo out.ContactRepository
	companyRepo out.CompanyRepository
	now         func() time.Time
}

var _ in.CommunicationService = (*Service)(nil)

func NewService(commRepo out.CommunicationRepository, contactRepo out.ContactRepository, companyRepo out.CompanyRepository) *Service {
	return &Service{
		commRepo:    commRepo,
		contactRepo: contactRepo,
		companyRepo: companyRepo,
		now:         time.Now,
	}
}

func (s *Service) ListCommunications(ctx context.Context, user *domain.ActingUser, filter *domain.CommunicationFilter) ([]*domain.Communication, int, error) {
	if err := common.Authorize(user, domain.PermCommunicationRead); err != nil {
		return nil, 0, err
	}
	comms, total, err := s.commRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, common.StoreError("list communications", "communication", err)
	}
	return comms, total, nil
}

func (s *Service) GetCommunication(ctx context.Context, user *domain.ActingUser, id int64) (*domain.Communication, error) {
	if err := common.Authorize(user, domain.PermCommunicationRead); err != nil {
		return nil, err
	}
	comm, err := s.commRepo.GetByID(ctx, id)
	if err != nil {
		return nil, common.StoreError("get communication", "communication", err)
	}
	return comm, nil
}

// CreateCommunication logs a manual entry. Without an explicit status it is
// scheduled when ScheduledAt lies ahead and completed otherwise.
func (s *Service) CreateCommunication(ctx context.Context, user *domain.ActingUser, req *in.CreateCommunicationRequest) (*domain.Communication, error) {
	if err := common.Authorize(user, domain.PermCommunicationCreate); err != nil {
		return nil, err
	}
	if !req.Type.Valid() {
		return nil, apperr.InvalidInput("type", "must be email, phone, meeting, note or task")
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return nil, apperr.MissingField("subject")
	}

	now := s.now().UTC()
	comm := &domain.Communication{
		ProviderMessageID: ManualIDPrefix + uuid.NewString(),
		Type:              req.Type,
		Subject:           subject,
		Content:           req.Content,
		Direction:         domain.DirectionOutbound,
		ProjectTag:        req.ProjectTag,
		Participants:      req.Participants,
		Source:            domain.SourceManual,
		CreatedBy:         user.ID,
		AssignedUserID:    &user.ID,
		ScheduledAt:       req.ScheduledAt,
	}
	if req.ProviderMessageID != nil && strings.TrimSpace(*req.ProviderMessageID) != "" {
		comm.ProviderMessageID = strings.TrimSpace(*req.ProviderMessageID)
	}
	if req.Direction != nil {
		if !req.Direction.Valid() {
			return nil, apperr.InvalidInput("direction", "must be inbound or outbound")
		}
		comm.Direction = *req.Direction
	}

	switch {
	case req.Status != nil:
		if !req.Status.Valid() {
			return nil, apperr.InvalidInput("status", "unknown communication status")
		}
		comm.Status = *req.Status
	case req.ScheduledAt != nil && req.ScheduledAt.After(now):
		comm.Status = domain.CommunicationScheduled
	default:
		comm.Status = domain.CommunicationCompleted
	}
	if comm.Status == domain.CommunicationCompleted {
		comm.CompletedAt = &now
	}

	if err := s.linkRecords(ctx, comm, req.ContactID, req.CompanyID); err != nil {
		return nil, err
	}

	if err := s.commRepo.Create(ctx, comm); err != nil {
		return nil, common.StoreError("create communication", "communication", err)
	}
	return comm, nil
}

// linkRecords verifies referenced records exist. A contact without an explicit
// company links its own company.
func (s *Service) linkRecords(ctx context.Context, comm *domain.Communication, contactID, companyID *int64) error {
	if contactID != nil {
		contact, err := s.contactRepo.GetByID(ctx, *contactID)
		if err != nil {
			return common.StoreError("get contact", "contact", err)
		}
		id := contact.ID
		comm.ContactID = &id
		if companyID == nil {
			company := contact.CompanyID
			comm.CompanyID = &company
		}
	}
	if companyID != nil {
		company, err := s.companyRepo.GetByID(ctx, *companyID)
		if err != nil {
			return common.StoreError("get company", "company", err)
		}
		id := company.ID
		comm.CompanyID = &id
	}
	return nil
}

// UpdateCommunicationStatus allows scheduled -> completed|cancelled only.
func (s *Service) UpdateCommunicationStatus(ctx context.Context, user *domain.ActingUser, id int64, status domain.CommunicationStatus) (*domain.Communication, error) {
	if err := common.Authorize(user, domain.PermCommunicationUpdate); err != nil {
		return nil, err
	}
	if !status.Valid() {
		return nil, apperr.InvalidInput("status", "unknown communication status")
	}
	comm, err := s.commRepo.GetByID(ctx, id)
	if err != nil {
		return nil, common.StoreError("get communication", "communication", err)
	}
	if !comm.Status.CanTransitionTo(status) {
		return nil, apperr.Conflict(fmt.Sprintf("cannot move communication from %s to %s", comm.Status, status)).
			WithDetail("from", string(comm.Status)).
			WithDetail("to", string(status))
	}

	var completedAt *time.Time
	if status == domain.CommunicationCompleted {
		now := s.now().UTC()
		completedAt = &now
	}
	if err := s.commRepo.UpdateStatus(ctx, id, status, completedAt); err != nil {
		return nil, common.StoreError("update communication", "communication", err)
	}
	comm.Status = status
	comm.CompletedAt = completedAt
	return comm, nil
}

func (s *Service) AssignCommunication(ctx context.Context, user *domain.ActingUser, id int64, assignee *uuid.UUID) (*domain.Communication, error) {
	if err := common.Authorize(user, domain.PermCommunicationAssign); err != nil {
		return nil, err
	}
	if assignee != nil && *assignee == uuid.Nil {
		assignee = nil
	}
	if err := s.commRepo.Assign(ctx, id, assignee); err != nil {
		return nil, common.StoreError("assign communication", "communication", err)
	}
	return s.commRepo.GetByID(ctx, id)
}
