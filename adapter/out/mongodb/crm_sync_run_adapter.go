package mongodb

import (
	"context"
	"fmt"
	"time"

	"crm_server/core/domain"
	"crm_server/core/port/out"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionSyncRuns = "sync_runs"

// SyncRunAdapter implements out.SyncRunRepository. Runs expire after the
// retention window through a TTL index on expires_at.
type SyncRunAdapter struct {
	collection *mongo.Collection
	retention  time.Duration
}

var _ out.SyncRunRepository = (*SyncRunAdapter)(nil)

func NewSyncRunAdapter(db *mongo.Database, retention time.Duration) *SyncRunAdapter {
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &SyncRunAdapter{
		collection: db.Collection(collectionSyncRuns),
		retention:  retention,
	}
}

// EnsureIndexes creates the history and TTL indexes.
func (a *SyncRunAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "run_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "started_at", Value: -1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	}
	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

type categoryDocument struct {
	Processed int `bson:"processed"`
	Records   int `bson:"records"`
}

type syncRunDocument struct {
	RunID        string           `bson:"run_id"`
	UserID       string           `bson:"user_id"`
	Trigger      string           `bson:"trigger"`
	SyncEmails   bool             `bson:"sync_emails"`
	SyncMeetings bool             `bson:"sync_meetings"`
	Limit        int              `bson:"limit"`
	DaysBack     int              `bson:"days_back"`
	Emails       categoryDocument `bson:"emails"`
	Meetings     categoryDocument `bson:"meetings"`
	Errors       []string         `bson:"errors"`
	Warnings     []string         `bson:"warnings,omitempty"`
	StartedAt    time.Time        `bson:"started_at"`
	FinishedAt   time.Time        `bson:"finished_at"`
	ExpiresAt    time.Time        `bson:"expires_at"`
}

func (a *SyncRunAdapter) Save(ctx context.Context, run *domain.SyncRun) error {
	doc := toSyncRunDocument(run, a.retention)
	opts := options.Replace().SetUpsert(true)
	if _, err := a.collection.ReplaceOne(ctx, bson.M{"run_id": doc.RunID}, doc, opts); err != nil {
		return fmt.Errorf("failed to save sync run: %w", err)
	}
	return nil
}

// ListByUser returns the newest runs first.
func (a *SyncRunAdapter) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*domain.SyncRun, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := a.collection.Find(ctx, bson.M{"user_id": userID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []syncRunDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode sync runs: %w", err)
	}

	runs := make([]*domain.SyncRun, 0, len(docs))
	for i := range docs {
		run, err := docs[i].toEntity()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func toSyncRunDocument(run *domain.SyncRun, retention time.Duration) *syncRunDocument {
	errs := run.Summary.Errors
	if errs == nil {
		errs = []string{}
	}
	return &syncRunDocument{
		RunID:        run.ID,
		UserID:       run.UserID.String(),
		Trigger:      string(run.Trigger),
		SyncEmails:   run.Options.SyncEmails,
		SyncMeetings: run.Options.SyncMeetings,
		Limit:        run.Options.Limit,
		DaysBack:     run.Options.DaysBack,
		Emails:       categoryDocument(run.Summary.Emails),
		Meetings:     categoryDocument(run.Summary.Meetings),
		Errors:       errs,
		Warnings:     run.Summary.Warnings,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		ExpiresAt:    run.FinishedAt.Add(retention),
	}
}

func (d *syncRunDocument) toEntity() (*domain.SyncRun, error) {
	userID, err := uuid.Parse(d.UserID)
	if err != nil {
		return nil, fmt.Errorf("sync run %s: bad user id: %w", d.RunID, err)
	}
	errs := d.Errors
	if errs == nil {
		errs = []string{}
	}
	return &domain.SyncRun{
		ID:      d.RunID,
		UserID:  userID,
		Trigger: domain.SyncTrigger(d.Trigger),
		Options: domain.SyncOptions{
			SyncEmails:   d.SyncEmails,
			SyncMeetings: d.SyncMeetings,
			Limit:        d.Limit,
			DaysBack:     d.DaysBack,
		},
		Summary: domain.SyncSummary{
			Emails:   domain.CategorySummary(d.Emails),
			Meetings: domain.CategorySummary(d.Meetings),
			Errors:   errs,
			Warnings: d.Warnings,
		},
		StartedAt:  d.StartedAt.UTC(),
		FinishedAt: d.FinishedAt.UTC(),
	}, nil
}
