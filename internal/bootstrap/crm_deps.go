package bootstrap

import (
	"context"
	"fmt"
	"time"

	"crm_server/adapter/out/mongodb"
	"crm_server/adapter/out/persistence"
	"crm_server/adapter/out/provider"
	"crm_server/config"
	"crm_server/core/port/in"
	"crm_server/core/port/out"
	"crm_server/core/service/classification"
	"crm_server/core/service/communication"
	"crm_server/core/service/contact"
	"crm_server/core/service/ingest"
	"crm_server/infra/database"
	"crm_server/pkg/cache"
	"crm_server/pkg/crypto"
	"crm_server/pkg/httputil"
	"crm_server/pkg/logger"
	"crm_server/pkg/resilience"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/mongo"
)

// Dependencies holds the stores and services the API is built from. The
// service fields are interfaces so routes can be assembled over other stores.
type Dependencies struct {
	Config  *config.Config
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Repositories
	CompanyRepo    out.CompanyRepository
	ContactRepo    out.ContactRepository
	CommRepo       out.CommunicationRepository
	ConnectionRepo out.ConnectionRepository
	SyncRunRepo    out.SyncRunRepository
	Keys           out.KeyClaimer

	// Services
	CompanyService       in.CompanyService
	ContactService       in.ContactService
	CommunicationService in.CommunicationService
	SyncService          in.SyncService
	WebhookService       in.WebhookService
}

// NewDependencies connects to every configured store and wires the services.
// Redis and MongoDB are optional: without them locks and dedupe are skipped
// and sync history is not kept.
func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.SQLDB = db
	cleanups = append(cleanups, func() { db.Close() })
	logger.Info("PostgreSQL connected")

	if cfg.RedisURL != "" {
		rdb, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, sync locks and webhook dedupe disabled")
		} else {
			deps.Redis = rdb
			cleanups = append(cleanups, func() { rdb.Close() })
			logger.Info("Redis connected")
		}
	}

	if cfg.MongoDBURL != "" {
		client, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
		if err != nil {
			logger.WithError(err).Warn("MongoDB unavailable, sync history disabled")
		} else {
			deps.MongoDB = client
			cleanups = append(cleanups, func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = client.Disconnect(ctx)
			})
			runs := mongodb.NewSyncRunAdapter(client.Database(cfg.MongoDBName), time.Duration(cfg.SyncHistoryDays)*24*time.Hour)
			if err := runs.EnsureIndexes(ctx); err != nil {
				logger.WithError(err).Warn("failed to ensure sync_runs indexes")
			}
			deps.SyncRunRepo = runs
			logger.Info("MongoDB connected")
		}
	}

	cipher, err := crypto.NewTokenCipher([]byte(cfg.EncryptionKey))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("token cipher: %w", err)
	}

	deps.CompanyRepo = persistence.NewCompanyAdapter(db)
	deps.ContactRepo = persistence.NewContactAdapter(db)
	deps.CommRepo = persistence.NewCommunicationAdapter(db)
	deps.ConnectionRepo = persistence.NewConnectionAdapter(db, cipher)
	deps.Keys = cache.NewRedisCache(deps.Redis, "crm:")

	connector := provider.NewConnector(deps.ConnectionRepo, provider.ConnectorConfig{
		Google: provider.OAuthApp{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
		},
		Microsoft: provider.OAuthApp{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			RedirectURL:  cfg.MicrosoftRedirectURL,
			TenantID:     cfg.MicrosoftTenantID,
		},
		GraphBaseURL: cfg.GraphBaseURL,
		HTTPClient:   httputil.NewClient(httputil.DefaultClientConfig()),
	})

	if err := wireServices(deps, connector); err != nil {
		cleanup()
		return nil, nil, err
	}
	return deps, cleanup, nil
}

// wireServices builds the core services over the repositories already set on deps.
func wireServices(deps *Dependencies, connector out.MailboxConnector) error {
	cfg := deps.Config

	policy := resilience.DefaultRetryPolicy()
	if cfg.FetchMaxRetries > 0 {
		policy.MaxAttempts = cfg.FetchMaxRetries
	}
	if cfg.FetchRetryBaseMS > 0 {
		policy.BaseDelay = time.Duration(cfg.FetchRetryBaseMS) * time.Millisecond
	}
	guards := resilience.NewGuards(policy, func(name string) *gobreaker.CircuitBreaker {
		return resilience.NewBreaker(resilience.DefaultBreakerConfig("mailbox-" + name))
	})

	classifier := classification.NewClassifier(cfg.InternalDomains)
	fetcher := ingest.NewFetcher(connector, guards, ingest.FetcherConfig{
		MaxTop:      cfg.FetchMaxLimit,
		DefaultDays: cfg.SyncDefaultDays,
		Timeout:     cfg.FetchTimeout,
		ConnectURL:  cfg.ConnectURL,
	})
	reconciler := ingest.NewReconciler(classifier, deps.CompanyRepo, deps.ContactRepo, deps.CommRepo)

	deps.SyncService = ingest.NewOrchestrator(fetcher, reconciler, deps.SyncRunRepo, deps.Keys, ingest.OrchestratorConfig{
		Concurrency:  cfg.SyncConcurrency,
		DefaultLimit: cfg.SyncDefaultLimit,
		DefaultDays:  cfg.SyncDefaultDays,
		LockTTL:      cfg.SyncLockTTL,
	})

	var actorID uuid.UUID
	if cfg.WebhookActorID != "" {
		id, err := uuid.Parse(cfg.WebhookActorID)
		if err != nil {
			return fmt.Errorf("WEBHOOK_ACTOR_ID: %w", err)
		}
		actorID = id
	}
	deps.WebhookService = ingest.NewWebhookIngress(ingest.WebhookConfig{
		Secret:    cfg.WebhookSecret,
		ActorID:   actorID,
		DedupeTTL: cfg.IdempotencyTTL,
	}, classifier, reconciler, deps.Keys)

	crm := contact.NewService(deps.CompanyRepo, deps.ContactRepo)
	deps.CompanyService = crm
	deps.ContactService = crm
	deps.CommunicationService = communication.NewService(deps.CommRepo, deps.ContactRepo, deps.CompanyRepo)
	return nil
}
