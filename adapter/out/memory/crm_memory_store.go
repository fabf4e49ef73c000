// Package memory holds in-memory repositories with the same uniqueness rules
// as the Postgres schema. Service and handler tests run against them.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"crm_server/core/domain"
	"crm_server/core/port/out"

	"github.com/google/uuid"
)

// Store backs all three record repositories with one lock.
type Store struct {
	mu     sync.Mutex
	nextID int64

	companies map[int64]*domain.Company
	contacts  map[int64]*domain.Contact
	comms     map[int64]*domain.Communication

	// forced write failures, see SetFailures
	failCompany error
	failContact error
	failComm    error
}

func NewStore() *Store {
	return &Store{
		companies: make(map[int64]*domain.Company),
		contacts:  make(map[int64]*domain.Contact),
		comms:     make(map[int64]*domain.Communication),
	}
}

func (s *Store) Companies() *Companies           { return &Companies{s} }
func (s *Store) Contacts() *Contacts             { return &Contacts{s} }
func (s *Store) Communications() *Communications { return &Communications{s} }

// SetFailures makes subsequent writes of each kind fail with the given error; nil clears.
func (s *Store) SetFailures(company, contact, comm error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCompany, s.failContact, s.failComm = company, contact, comm
}

// Counts returns the number of companies, contacts and communications.
func (s *Store) Counts() (companies, contacts, comms int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.companies), len(s.contacts), len(s.comms)
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// =============================================================================
// Companies
// =============================================================================

type Companies struct{ s *Store }

var _ out.CompanyRepository = (*Companies)(nil)

func (r *Companies) GetByID(_ context.Context, id int64) (*domain.Company, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.companies[id]
	if !ok {
		return nil, out.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *Companies) FindByName(_ context.Context, name string) (*domain.Company, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c := r.byName(name); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r *Companies) FindByDomain(_ context.Context, host string) (*domain.Company, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c := r.byDomain(host); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r *Companies) byName(name string) *domain.Company {
	for _, c := range r.s.companies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (r *Companies) byDomain(host string) *domain.Company {
	for _, c := range r.s.companies {
		if c.Domain != nil && strings.EqualFold(*c.Domain, host) {
			return c
		}
	}
	return nil
}

func (r *Companies) UpsertByName(_ context.Context, c *domain.Company) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failCompany != nil {
		return false, r.s.failCompany
	}
	if existing := r.byName(c.Name); existing != nil {
		*c = *existing
		return false, nil
	}
	if c.Domain != nil && r.byDomain(*c.Domain) != nil {
		return false, out.ErrDuplicate
	}
	r.insert(c)
	return true, nil
}

func (r *Companies) Create(_ context.Context, c *domain.Company) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failCompany != nil {
		return r.s.failCompany
	}
	if r.byName(c.Name) != nil || (c.Domain != nil && r.byDomain(*c.Domain) != nil) {
		return out.ErrDuplicate
	}
	r.insert(c)
	return nil
}

func (r *Companies) insert(c *domain.Company) {
	now := time.Now().UTC()
	c.ID = r.s.id()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	r.s.companies[c.ID] = &cp
}

func (r *Companies) Update(_ context.Context, c *domain.Company) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.companies[c.ID]; !ok {
		return out.ErrNotFound
	}
	for id, other := range r.s.companies {
		if id == c.ID {
			continue
		}
		if other.Name == c.Name || (c.Domain != nil && other.Domain != nil && strings.EqualFold(*other.Domain, *c.Domain)) {
			return out.ErrDuplicate
		}
	}
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	r.s.companies[c.ID] = &cp
	return nil
}

func (r *Companies) List(_ context.Context, f *domain.CompanyFilter) ([]*domain.Company, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var res []*domain.Company
	for _, c := range r.s.companies {
		if f != nil {
			if f.Status != nil && c.Status != *f.Status {
				continue
			}
			if f.Search != nil && !strings.Contains(strings.ToLower(c.Name), strings.ToLower(*f.Search)) {
				continue
			}
			if f.Department != nil && (c.AssignedDepartment == nil || *c.AssignedDepartment != *f.Department) {
				continue
			}
		}
		cp := *c
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	total := len(res)
	if f == nil {
		return res, total, nil
	}
	return page(res, f.Limit, f.Offset), total, nil
}

// =============================================================================
// Contacts
// =============================================================================

type Contacts struct{ s *Store }

var _ out.ContactRepository = (*Contacts)(nil)

func (r *Contacts) GetByID(_ context.Context, id int64) (*domain.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contacts[id]
	if !ok {
		return nil, out.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *Contacts) FindByEmail(_ context.Context, email string) (*domain.Contact, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c := r.byEmail(email); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r *Contacts) byEmail(email string) *domain.Contact {
	email = domain.NormalizeEmail(email)
	for _, c := range r.s.contacts {
		if c.Email == email {
			return c
		}
	}
	return nil
}

func (r *Contacts) UpsertByEmail(_ context.Context, c *domain.Contact) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failContact != nil {
		return false, r.s.failContact
	}
	if existing := r.byEmail(c.Email); existing != nil {
		*c = *existing
		return false, nil
	}
	r.insert(c)
	return true, nil
}

func (r *Contacts) Create(_ context.Context, c *domain.Contact) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failContact != nil {
		return r.s.failContact
	}
	if r.byEmail(c.Email) != nil {
		return out.ErrDuplicate
	}
	r.insert(c)
	return nil
}

func (r *Contacts) insert(c *domain.Contact) {
	now := time.Now().UTC()
	c.Email = domain.NormalizeEmail(c.Email)
	c.ID = r.s.id()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	r.s.contacts[c.ID] = &cp
}

func (r *Contacts) Update(_ context.Context, c *domain.Contact) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.contacts[c.ID]; !ok {
		return out.ErrNotFound
	}
	if other := r.byEmail(c.Email); other != nil && other.ID != c.ID {
		return out.ErrDuplicate
	}
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	r.s.contacts[c.ID] = &cp
	return nil
}

func (r *Contacts) List(_ context.Context, f *domain.ContactFilter) ([]*domain.Contact, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var res []*domain.Contact
	for _, c := range r.s.contacts {
		if f != nil {
			if f.CompanyID != nil && c.CompanyID != *f.CompanyID {
				continue
			}
			if f.Status != nil && c.Status != *f.Status {
				continue
			}
			if f.AssignedUserID != nil && (c.AssignedUserID == nil || *c.AssignedUserID != *f.AssignedUserID) {
				continue
			}
			if f.Search != nil {
				q := strings.ToLower(*f.Search)
				if !strings.Contains(c.Email, q) && !strings.Contains(strings.ToLower(c.FirstName+" "+c.LastName), q) {
					continue
				}
			}
		}
		cp := *c
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	total := len(res)
	if f == nil {
		return res, total, nil
	}
	return page(res, f.Limit, f.Offset), total, nil
}

// =============================================================================
// Communications
// =============================================================================

type Communications struct{ s *Store }

var _ out.CommunicationRepository = (*Communications)(nil)

func (r *Communications) GetByID(_ context.Context, id int64) (*domain.Communication, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.comms[id]
	if !ok {
		return nil, out.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *Communications) FindByProviderMessageID(_ context.Context, providerMessageID string) (*domain.Communication, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c := r.byProviderID(providerMessageID); c != nil {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r *Communications) byProviderID(id string) *domain.Communication {
	for _, c := range r.s.comms {
		if c.ProviderMessageID == id {
			return c
		}
	}
	return nil
}

func (r *Communications) UpsertByProviderMessageID(_ context.Context, c *domain.Communication) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failComm != nil {
		return false, r.s.failComm
	}
	if existing := r.byProviderID(c.ProviderMessageID); existing != nil {
		*c = *existing
		return false, nil
	}
	r.insert(c)
	return true, nil
}

func (r *Communications) Create(_ context.Context, c *domain.Communication) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.failComm != nil {
		return r.s.failComm
	}
	if r.byProviderID(c.ProviderMessageID) != nil {
		return out.ErrDuplicate
	}
	r.insert(c)
	return nil
}

func (r *Communications) insert(c *domain.Communication) {
	now := time.Now().UTC()
	c.ID = r.s.id()
	c.CreatedAt, c.UpdatedAt = now, now
	cp := *c
	r.s.comms[c.ID] = &cp
}

func (r *Communications) UpdateStatus(_ context.Context, id int64, status domain.CommunicationStatus, completedAt *time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.comms[id]
	if !ok {
		return out.ErrNotFound
	}
	c.Status = status
	c.CompletedAt = completedAt
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *Communications) Assign(_ context.Context, id int64, userID *uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.comms[id]
	if !ok {
		return out.ErrNotFound
	}
	c.AssignedUserID = userID
	c.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *Communications) List(_ context.Context, f *domain.CommunicationFilter) ([]*domain.Communication, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var res []*domain.Communication
	for _, c := range r.s.comms {
		if f != nil {
			if f.ContactID != nil && (c.ContactID == nil || *c.ContactID != *f.ContactID) {
				continue
			}
			if f.CompanyID != nil && (c.CompanyID == nil || *c.CompanyID != *f.CompanyID) {
				continue
			}
			if f.Type != nil && c.Type != *f.Type {
				continue
			}
			if f.Status != nil && c.Status != *f.Status {
				continue
			}
		}
		cp := *c
		res = append(res, &cp)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	total := len(res)
	if f == nil {
		return res, total, nil
	}
	return page(res, f.Limit, f.Offset), total, nil
}

// =============================================================================
// Keys and sync runs
// =============================================================================

// Keys implements out.KeyClaimer without expiry enforcement beyond a deadline check.
type Keys struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

var _ out.KeyClaimer = (*Keys)(nil)

func NewKeys() *Keys {
	return &Keys{keys: make(map[string]time.Time), now: time.Now}
}

func (k *Keys) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if exp, ok := k.keys[key]; ok && k.now().Before(exp) {
		return false, nil
	}
	k.keys[key] = k.now().Add(ttl)
	return true, nil
}

func (k *Keys) Release(_ context.Context, key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, key)
	return nil
}

// SyncRuns implements out.SyncRunRepository, newest first.
type SyncRuns struct {
	mu   sync.Mutex
	runs []*domain.SyncRun
}

var _ out.SyncRunRepository = (*SyncRuns)(nil)

func (r *SyncRuns) Save(_ context.Context, run *domain.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *run
	r.runs = append(r.runs, &cp)
	return nil
}

func (r *SyncRuns) ListByUser(_ context.Context, userID uuid.UUID, limit int) ([]*domain.SyncRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := []*domain.SyncRun{}
	for i := len(r.runs) - 1; i >= 0 && (limit <= 0 || len(res) < limit); i-- {
		if r.runs[i].UserID == userID {
			cp := *r.runs[i]
			res = append(res, &cp)
		}
	}
	return res, nil
}
