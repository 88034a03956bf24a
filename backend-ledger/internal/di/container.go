package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/address"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/domain"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/handler"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/publisher"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/repository"
	"github.com/prohmpiriya/ticket-ledger/backend-ledger/internal/service"
	"github.com/prohmpiriya/ticket-ledger/pkg/config"
	"github.com/prohmpiriya/ticket-ledger/pkg/database"
	"github.com/prohmpiriya/ticket-ledger/pkg/logger"
	"github.com/prohmpiriya/ticket-ledger/pkg/middleware"
)

// Container holds all dependencies for the ledger service
type Container struct {
	Config *config.Config

	// Infrastructure
	DB    *database.PostgresDB
	Redis *redis.Client

	// Repositories
	AccountRepo repository.AccountRepository

	// Messaging
	Publisher publisher.ReceiptPublisher

	// Middleware
	AuditLogger     *middleware.AuditLogger
	SignerLimiter   middleware.Limiter
	OperatorLimiter middleware.Limiter

	// Services
	LedgerService service.LedgerService

	// Handlers
	LedgerHandler *handler.LedgerHandler

	closers []func(ctx context.Context) error
}

// NewContainer builds every dependency from cfg. On error, anything already opened is closed.
func NewContainer(ctx context.Context, cfg *config.Config) (_ *Container, err error) {
	c := &Container{Config: cfg}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
		}
	}()

	if err = c.initStorage(ctx); err != nil {
		return nil, err
	}
	if err = c.initPublisher(); err != nil {
		return nil, err
	}
	c.initMiddleware()

	programID, err := domain.ParseAddress(cfg.Ledger.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("invalid program id: %w", err)
	}

	c.LedgerService, err = service.NewLedgerService(
		ctx,
		c.AccountRepo,
		address.NewDeriver(programID),
		c.Publisher,
		service.Config{
			RentLamportsPerByteYear: cfg.Ledger.RentLamportsPerByteYear,
			AllowHolderRefund:       cfg.Ledger.AllowHolderRefund,
			MaxInstructions:         cfg.Ledger.MaxInstructions,
			MaxAirdropLamports:      cfg.Ledger.MaxAirdropLamports,
			JournalPageSize:         cfg.Ledger.JournalPageSize,
		},
		service.WithLogger(logger.Get().WithService("ledger-service")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger service: %w", err)
	}

	c.LedgerHandler = handler.NewLedgerHandler(c.LedgerService, c.SignerLimiter)
	return c, nil
}

func (c *Container) initStorage(ctx context.Context) error {
	cfg := c.Config

	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		db, err := database.NewPostgres(ctx, &database.PostgresConfig{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			Database:        cfg.Database.DBName,
			SSLMode:         cfg.Database.SSLMode,
			MaxConns:        int32(cfg.Database.MaxOpenConns),
			MinConns:        int32(cfg.Database.MaxIdleConns),
			MaxConnLifetime: cfg.Database.ConnMaxLifetime,
			MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
			ConnectTimeout:  10 * time.Second,
			MaxRetries:      3,
			RetryInterval:   2 * time.Second,
		})
		if err != nil {
			return err
		}
		c.DB = db
		c.addCloser(func(context.Context) error { db.Close(); return nil })

		repo := repository.NewPostgresRepository(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		if cfg.Audit.Enabled {
			if err := db.Exec(ctx, middleware.AuditTableSchema); err != nil {
				return fmt.Errorf("failed to create audit table: %w", err)
			}
		}
		c.AccountRepo = repo
	case config.StorageSQLite:
		repo, err := repository.OpenSQLite(ctx, cfg.Storage.SQLitePath)
		if err != nil {
			return err
		}
		c.AccountRepo = repo
		c.addCloser(func(context.Context) error { return repo.Close() })
	default:
		c.AccountRepo = repository.NewMemoryRepository()
	}

	if cfg.Cache.Enabled || cfg.RateLimit.Backend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr(),
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr(), err)
		}
		c.Redis = client
		c.addCloser(func(context.Context) error { return client.Close() })
	}

	if cfg.Cache.Enabled {
		c.AccountRepo = repository.NewCachedRepository(c.AccountRepo, c.Redis, cfg.Cache.TTL, cfg.Cache.KeyPrefix)
	}

	logger.Info("Account store ready",
		zap.String("driver", cfg.Storage.Driver),
		zap.Bool("cache", cfg.Cache.Enabled),
	)
	return nil
}

func (c *Container) initPublisher() error {
	cfg := c.Config.Kafka
	if !cfg.ReceiptsOn {
		c.Publisher = publisher.NewNoopPublisher()
		return nil
	}

	pub, err := publisher.NewKafkaPublisher(publisher.KafkaConfig{
		Brokers:       cfg.Brokers,
		ClientID:      cfg.ClientID,
		Topic:         cfg.ReceiptTopic,
		BufferSize:    cfg.BufferSize,
		FlushInterval: cfg.FlushInterval,
	})
	if err != nil {
		return err
	}
	c.Publisher = pub
	c.addCloser(pub.Close)
	logger.Info("Receipt publisher ready", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.ReceiptTopic))
	return nil
}

func (c *Container) initMiddleware() {
	cfg := c.Config

	if cfg.Audit.Enabled {
		var sink middleware.AuditSink = middleware.NewLogAuditSink(logger.Get().WithService("audit"))
		if c.DB != nil {
			sink = middleware.NewPostgresAuditSink(c.DB.Pool())
		}
		auditCfg := middleware.DefaultAuditConfig(sink)
		auditCfg.BufferSize = cfg.Audit.BufferSize
		auditCfg.FlushInterval = cfg.Audit.FlushInterval
		c.AuditLogger = middleware.NewAuditLogger(auditCfg)
		c.addCloser(func(context.Context) error { return c.AuditLogger.Close() })
	}

	if !cfg.RateLimit.Enabled {
		return
	}
	c.SignerLimiter = c.newLimiter("signer:")
	c.OperatorLimiter = c.newLimiter("operator:")
}

func (c *Container) newLimiter(scope string) middleware.Limiter {
	rl := c.rateLimitConfig()
	rl.KeyPrefix += scope
	if c.Redis != nil && c.Config.RateLimit.Backend == "redis" {
		return middleware.NewRedisRateLimiter(c.Redis, rl)
	}
	local := middleware.NewLocalRateLimiter(rl)
	c.addCloser(func(context.Context) error { local.Stop(); return nil })
	return local
}

func (c *Container) rateLimitConfig() middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if c.Config.RateLimit.RequestsPerSecond > 0 {
		rl.RequestsPerSecond = c.Config.RateLimit.RequestsPerSecond
	}
	if c.Config.RateLimit.Burst > 0 {
		rl.Burst = c.Config.RateLimit.Burst
	}
	return rl
}

// Router builds the gin engine serving the ledger API
func (c *Container) Router() *gin.Engine {
	if c.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	handler.RegisterRoutes(r, c.LedgerHandler, handler.RouterConfig{
		JWT: &middleware.JWTConfig{
			Secret: c.Config.JWT.Secret,
			Issuer: c.Config.JWT.Issuer,
		},
		OperatorLimiter:   c.OperatorLimiter,
		OperatorRateLimit: c.rateLimitConfig(),
		Audit:             c.AuditLogger,
		CORSOrigins:       c.Config.Server.AllowedOrigins,
	})
	return r
}

func (c *Container) addCloser(fn func(ctx context.Context) error) {
	c.closers = append(c.closers, fn)
}

// Close releases resources in reverse order of acquisition.
// The publisher is drained before the store closes.
func (c *Container) Close(ctx context.Context) error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
