package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"crm_server/core/domain"
	"crm_server/core/port/out"
	"crm_server/pkg/apperr"
	"crm_server/pkg/logger"

	"github.com/go-pkgz/pool"
	"github.com/google/uuid"
)

type OrchestratorConfig struct {
	// Concurrency is the number of reconcile workers per category; 1 is sequential.
	Concurrency  int
	DefaultLimit int
	DefaultDays  int
	LockTTL      time.Duration
}

// Orchestrator runs a full sync for one user: fetch both categories and
// reconcile every item, isolating per-item failures.
type Orchestrator struct {
	fetcher    *Fetcher
	reconciler *Reconciler
	runs       out.SyncRunRepository
	locks      out.KeyClaimer
	cfg        OrchestratorConfig
	now        func() time.Time
	log        *logger.Logger
}

// NewOrchestrator wires the sync. runs and locks may be nil.
func NewOrchestrator(fetcher *Fetcher, reconciler *Reconciler, runs out.SyncRunRepository, locks out.KeyClaimer, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultFetchTop
	}
	if cfg.DefaultDays <= 0 {
		cfg.DefaultDays = DefaultDaysBack
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Orchestrator{
		fetcher:    fetcher,
		reconciler: reconciler,
		runs:       runs,
		locks:      locks,
		cfg:        cfg,
		now:        time.Now,
		log:        logger.WithField("component", "sync"),
	}
}

// RunSync returns a summary even when categories or items fail; only a
// missing permission for every requested category or a concurrent run for
// the same user aborts.
func (o *Orchestrator) RunSync(ctx context.Context, opts domain.SyncOptions, user *domain.ActingUser) (*domain.SyncSummary, error) {
	if user == nil {
		return nil, apperr.Unauthorized("acting user required")
	}
	if !user.Can(domain.PermSyncRun) {
		return nil, apperr.Forbidden("role cannot run a sync")
	}
	if opts.Limit <= 0 {
		opts.Limit = o.cfg.DefaultLimit
	}
	if opts.DaysBack <= 0 {
		opts.DaysBack = o.cfg.DefaultDays
	}

	canEmails := opts.SyncEmails && o.fetcher.HasEmailPermissions(user)
	canMeetings := opts.SyncMeetings && o.fetcher.HasMeetingPermissions(user)
	if (opts.SyncEmails || opts.SyncMeetings) && !canEmails && !canMeetings {
		scope := "Mail.Read"
		if !opts.SyncEmails {
			scope = "Calendars.Read"
		}
		return nil, apperr.PermissionDenied(scope, o.fetcher.cfg.ConnectURL)
	}

	release, err := o.lock(ctx, user)
	if err != nil {
		return nil, err
	}
	defer release()

	started := o.now()
	since := started.AddDate(0, 0, -opts.DaysBack)
	summary := &domain.SyncSummary{Errors: []string{}}
	log := o.log.WithContext(ctx).WithField("user_id", user.ID.String())

	if opts.SyncEmails {
		if !canEmails {
			summary.Errors = append(summary.Errors, "emails: mailbox permission Mail.Read not granted")
		} else if items, err := o.fetcher.FetchEmailMetadata(ctx, user, FetchOptions{Top: opts.Limit, Since: since}); err != nil {
			summary.Errors = append(summary.Errors, "emails: "+err.Error())
		} else {
			batch := make([]domain.Item, len(items))
			for i, it := range items {
				batch[i] = it
			}
			records, errs, warnings := o.reconcileBatch(ctx, "email", batch, user)
			summary.Emails = domain.CategorySummary{Processed: len(items), Records: records}
			summary.Errors = append(summary.Errors, errs...)
			summary.Warnings = append(summary.Warnings, warnings...)
		}
	}

	if opts.SyncMeetings {
		if !canMeetings {
			summary.Errors = append(summary.Errors, "meetings: calendar permission Calendars.Read not granted")
		} else if items, err := o.fetcher.FetchMeetingMetadata(ctx, user, FetchOptions{Top: opts.Limit, Since: since}); err != nil {
			summary.Errors = append(summary.Errors, "meetings: "+err.Error())
		} else {
			batch := make([]domain.Item, len(items))
			for i, it := range items {
				batch[i] = it
			}
			records, errs, warnings := o.reconcileBatch(ctx, "meeting", batch, user)
			summary.Meetings = domain.CategorySummary{Processed: len(items), Records: records}
			summary.Errors = append(summary.Errors, errs...)
			summary.Warnings = append(summary.Warnings, warnings...)
		}
	}

	log.WithFields(map[string]any{
		"emails_processed":   summary.Emails.Processed,
		"emails_records":     summary.Emails.Records,
		"meetings_processed": summary.Meetings.Processed,
		"meetings_records":   summary.Meetings.Records,
		"errors":             len(summary.Errors),
	}).WithDuration(o.now().Sub(started)).Info("sync finished")

	o.record(ctx, user, opts, summary, started)
	return summary, nil
}

// lock claims the per-user sync key. A store outage does not block syncing;
// the upserts keep concurrent runs safe.
func (o *Orchestrator) lock(ctx context.Context, user *domain.ActingUser) (func(), error) {
	noop := func() {}
	if o.locks == nil {
		return noop, nil
	}
	key := "sync-lock:" + user.ID.String()
	ok, err := o.locks.Claim(ctx, key, o.cfg.LockTTL)
	if err != nil {
		o.log.WithError(err).Warn("sync lock unavailable for %s", user.ID)
		return noop, nil
	}
	if !ok {
		return nil, apperr.Conflict("a sync is already running for this user")
	}
	return func() {
		if err := o.locks.Release(context.WithoutCancel(ctx), key); err != nil {
			o.log.WithError(err).Warn("failed to release sync lock for %s", user.ID)
		}
	}, nil
}

type itemJob struct {
	index int // 1-based position in the fetched batch
	item  domain.Item
}

type itemError struct {
	index int
	msg   string
}

// batchWorker implements pool.Worker for one category of one run.
type batchWorker struct {
	reconciler *Reconciler
	user       *domain.ActingUser
	label      string
	records    atomic.Int64

	mu       sync.Mutex
	errs     []itemError
	warnings []itemError
}

// Do never returns an error so one bad item cannot stop the group.
func (w *batchWorker) Do(ctx context.Context, job itemJob) error {
	res, err := w.reconciler.Reconcile(ctx, job.item, w.user)
	if res != nil && res.Created {
		w.records.Add(1)
	}
	if res != nil && len(res.Warnings) > 0 {
		w.mu.Lock()
		for _, msg := range res.Warnings {
			w.warnings = append(w.warnings, itemError{index: job.index, msg: w.label + ": " + msg})
		}
		w.mu.Unlock()
	}
	if err != nil {
		w.fail(job, err)
	}
	return nil
}

func (w *batchWorker) fail(job itemJob, err error) {
	w.note(job.index, fmt.Sprintf("%s %d (%s): %v", w.label, job.index, job.item.Key(), err))
}

func (w *batchWorker) note(index int, msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errs = append(w.errs, itemError{index: index, msg: msg})
}

func (o *Orchestrator) reconcileBatch(ctx context.Context, label string, items []domain.Item, user *domain.ActingUser) (records int, errs, warnings []string) {
	w := &batchWorker{reconciler: o.reconciler, user: user, label: label}
	if len(items) == 0 {
		return 0, nil, nil
	}

	if o.cfg.Concurrency == 1 || len(items) == 1 {
		for i, it := range items {
			_ = w.Do(ctx, itemJob{index: i + 1, item: it})
		}
	} else {
		size := min(o.cfg.Concurrency, len(items))
		group := pool.New[itemJob](size, w).WithContinueOnError()
		if err := group.Go(ctx); err != nil {
			return 0, []string{fmt.Sprintf("%s: worker pool: %v", label, err)}, nil
		}
		for i, it := range items {
			group.Submit(itemJob{index: i + 1, item: it})
		}
		if err := group.Close(ctx); err != nil {
			w.note(len(items)+1, fmt.Sprintf("%s: batch interrupted: %v", label, err))
		}
	}

	return int(w.records.Load()), byIndex(w.errs), byIndex(w.warnings)
}

func byIndex(notes []itemError) []string {
	if len(notes) == 0 {
		return nil
	}
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].index < notes[j].index })
	msgs := make([]string, len(notes))
	for i, n := range notes {
		msgs[i] = n.msg
	}
	return msgs
}

func (o *Orchestrator) record(ctx context.Context, user *domain.ActingUser, opts domain.SyncOptions, summary *domain.SyncSummary, started time.Time) {
	if o.runs == nil {
		return
	}
	run := &domain.SyncRun{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		Trigger:    domain.TriggerManual,
		Options:    opts,
		Summary:    *summary,
		StartedAt:  started.UTC(),
		FinishedAt: o.now().UTC(),
	}
	if err := o.runs.Save(context.WithoutCancel(ctx), run); err != nil {
		o.log.WithError(err).Warn("failed to record sync run for %s", user.ID)
	}
}

// History lists the user's recent runs. Admins holding sync:history_all may
// read another user's history.
func (o *Orchestrator) History(ctx context.Context, user *domain.ActingUser, target uuid.UUID, limit int) ([]*domain.SyncRun, error) {
	if user == nil {
		return nil, apperr.Unauthorized("acting user required")
	}
	if target == uuid.Nil {
		target = user.ID
	}
	if target != user.ID && !user.Can(domain.PermSyncHistoryAll) {
		return nil, apperr.Forbidden("cannot read another user's sync history")
	}
	if o.runs == nil {
		return []*domain.SyncRun{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	runs, err := o.runs.ListByUser(ctx, target, limit)
	if err != nil {
		return nil, apperr.DatabaseError("list sync runs", err)
	}
	return runs, nil
}

func (o *Orchestrator) HasEmailPermissions(user *domain.ActingUser) bool {
	return o.fetcher.HasEmailPermissions(user)
}

func (o *Orchestrator) HasMeetingPermissions(user *domain.ActingUser) bool {
	return o.fetcher.HasMeetingPermissions(user)
}
