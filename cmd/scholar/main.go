package main

import (
	"context"
	"fmt"
	"net/http"
	"time"
	_ "time/tzdata"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/bigkaiyoh/TGF-Scholar/internal/adapter/assistant"
	"github.com/bigkaiyoh/TGF-Scholar/internal/adapter/blob"
	cacheadapter "github.com/bigkaiyoh/TGF-Scholar/internal/adapter/cache"
	"github.com/bigkaiyoh/TGF-Scholar/internal/adapter/mail"
	"github.com/bigkaiyoh/TGF-Scholar/internal/bootstrap"
	"github.com/bigkaiyoh/TGF-Scholar/internal/config"
	httptransport "github.com/bigkaiyoh/TGF-Scholar/internal/http"
	"github.com/bigkaiyoh/TGF-Scholar/internal/http/handler"
	httpmiddleware "github.com/bigkaiyoh/TGF-Scholar/internal/http/middleware"
	"github.com/bigkaiyoh/TGF-Scholar/internal/org"
	"github.com/bigkaiyoh/TGF-Scholar/internal/repository"
	"github.com/bigkaiyoh/TGF-Scholar/internal/server"
	"github.com/bigkaiyoh/TGF-Scholar/internal/service"
	"github.com/bigkaiyoh/TGF-Scholar/internal/session"
	"github.com/bigkaiyoh/TGF-Scholar/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newStore,
			newUserRepository,
			newSubmissionRepository,
			newKeyRepository,
			newRedisClient,
			newOrganizationRepository,
			newSessionStore,
			org.NewResolver,
			session.NewKeyManager,
			newSessionIssuer,
			newAssistantClient,
			newScanArchive,
			newMailer,
			newClock,
			newAccountService,
			newSubmissionService,
			service.NewDashboardService,
			newAssistantService,
			handler.NewAccountHandler,
			newSubmissionHandler,
			handler.NewDashboardHandler,
			newHandlers,
			newAuthMiddleware,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(
			useTelemetry,
			bootstrap.EnsureSchema,
			bootstrap.EnsureSigningKey,
			bootstrap.EnsureOrganization,
			startHTTPServer,
		),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newStore(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (repository.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, err := mongo.Connect(options.Client().
			ApplyURI(cfg.MongoURI).
			SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)))
		if err != nil {
			return repository.Store{}, fmt.Errorf("connect mongo: %w", err)
		}
		if err := client.Ping(ctx, readpref.Primary()); err != nil {
			_ = client.Disconnect(context.Background())
			return repository.Store{}, fmt.Errorf("ping mongo: %w", err)
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return client.Disconnect(ctx)
			},
		})
		logger.Info("store connected", zap.String("driver", cfg.StoreDriver), zap.String("database", cfg.MongoDatabase))
		return repository.NewMongoStore(client.Database(cfg.MongoDatabase)), nil
	default:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return repository.Store{}, fmt.Errorf("connect database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return repository.Store{}, fmt.Errorf("ping database: %w", err)
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				pool.Close()
				return nil
			},
		})
		logger.Info("store connected", zap.String("driver", cfg.StoreDriver))
		return repository.NewPostgresStore(pool), nil
	}
}

func newUserRepository(store repository.Store) repository.UserRepository {
	return store.Users
}

func newSubmissionRepository(store repository.Store) repository.SubmissionRepository {
	return store.Submissions
}

func newKeyRepository(store repository.Store) repository.KeyRepository {
	return store.Keys
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newOrganizationRepository(store repository.Store, client redis.UniversalClient, cfg config.Config, logger *zap.Logger) repository.OrganizationRepository {
	if cfg.OrgCacheTTL <= 0 {
		return store.Organizations
	}
	return cacheadapter.NewCachedOrganizationRepository(store.Organizations, client, cfg.OrgCacheTTL, logger)
}

func newSessionStore(client redis.UniversalClient) *cacheadapter.RedisSessionStore {
	return cacheadapter.NewRedisSessionStore(client)
}

func newSessionIssuer(keys *session.KeyManager, cfg config.Config) *session.Issuer {
	return session.NewIssuer(keys, cfg.SessionTTL, cfg.SessionIssuer, nil)
}

func newAssistantClient(cfg config.Config, logger *zap.Logger) *assistant.Client {
	return assistant.NewClient(&http.Client{Timeout: cfg.Assistant.Timeout + 30*time.Second}, assistant.Options{
		APIKey:       cfg.Assistant.APIKey,
		BaseURL:      cfg.Assistant.BaseURL,
		PollInterval: cfg.Assistant.PollInterval,
		Timeout:      cfg.Assistant.Timeout,
		Model:        cfg.Assistant.TranscriptionModel,
		MaxTokens:    cfg.Assistant.TranscriptionTokens,
	}, logger)
}

func newScanArchive(cfg config.Config) (*blob.S3Archive, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return blob.NewS3Archive(ctx, blob.Options{
		Bucket:    cfg.ScanBucket,
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
	})
}

func newMailer(cfg config.Config, logger *zap.Logger) *mail.SendGridNotifier {
	return mail.NewSendGridNotifier(mail.Options{
		APIKey:    cfg.SendGridAPIKey,
		FromName:  cfg.MailFromName,
		FromEmail: cfg.MailFromEmail,
	}, logger)
}

func newClock() service.Clock {
	return time.Now
}

func newAccountService(users repository.UserRepository, resolver *org.Resolver, issuer *session.Issuer, sessions *cacheadapter.RedisSessionStore, mailer *mail.SendGridNotifier, clock service.Clock, logger *zap.Logger) *service.AccountService {
	return service.NewAccountService(users, resolver, issuer, sessions, mailer, clock, logger)
}

func newSubmissionService(users repository.UserRepository, submissions repository.SubmissionRepository, client *assistant.Client, archive *blob.S3Archive, node *snowflake.Node, cfg config.Config, clock service.Clock, logger *zap.Logger) *service.SubmissionService {
	return service.NewSubmissionService(users, submissions, service.SubmissionOptions{
		Feedback:    client,
		Transcriber: client,
		Archive:     archive,
		IDs:         node,
		AssistantID: cfg.Assistant.FeedbackAssistantID,
	}, clock, logger)
}

func newAssistantService(users repository.UserRepository, client *assistant.Client, cfg config.Config, clock service.Clock, logger *zap.Logger) *service.AssistantService {
	return service.NewAssistantService(users, client, map[service.Persona]string{
		service.PersonaVocabulary: cfg.Assistant.VocabularyAssistantID,
		service.PersonaCounselor:  cfg.Assistant.CounselorAssistantID,
	}, clock, logger)
}

func newSubmissionHandler(submissions *service.SubmissionService, assistants *service.AssistantService, cfg config.Config) *handler.SubmissionHandler {
	return handler.NewSubmissionHandler(submissions, assistants, cfg.UploadMaxBytes)
}

func newHandlers(accounts *handler.AccountHandler, submissions *handler.SubmissionHandler, dashboard *handler.DashboardHandler) httptransport.Handlers {
	return httptransport.Handlers{Accounts: accounts, Submissions: submissions, Dashboard: dashboard}
}

func newAuthMiddleware(issuer *session.Issuer, sessions *cacheadapter.RedisSessionStore, logger *zap.Logger) *httpmiddleware.Auth {
	return &httpmiddleware.Auth{Issuer: issuer, Revocations: sessions, Logger: logger}
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, logger *zap.Logger) {
	addr := srv.Options.Addr
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			logger.Info("http server started", zap.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
