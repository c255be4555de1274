package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"triagechat/internal/ai"
	"triagechat/internal/app"
	"triagechat/internal/cache"
	"triagechat/internal/config"
	"triagechat/internal/lock"
	"triagechat/internal/model"
	"triagechat/internal/observability"
	"triagechat/internal/pkg/logger"
	mysqlClient "triagechat/internal/platform/mysql"
	rabbitmqClient "triagechat/internal/platform/rabbitmq"
	redisClient "triagechat/internal/platform/redis"
	"triagechat/internal/repository"
	"triagechat/internal/triage"
	"triagechat/internal/worker"
)

type App struct {
	Config      *config.Config
	Log         *logger.Logger
	MySQL       *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	AuditWorker *worker.TurnAuditWorker

	Auth  *app.AuthService
	Chats *app.ChatService
	Turns *app.TurnOrchestrator

	shutdownTracing func(context.Context) error
	StartedAt       time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	log, err := logger.New(logger.Options{
		Mode:     cfg.Log.Mode,
		Level:    cfg.Log.Level,
		Redact:   cfg.Log.Redact,
		HashSalt: cfg.Log.HashSalt,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger failed: %w", err)
	}

	a := &App{Config: cfg, Log: log, StartedAt: time.Now()}
	a.shutdownTracing = observability.Init(ctx, log, observability.Config{
		Enabled:     cfg.OTel.Enabled,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Env,
		Version:     cfg.App.Version,
		Endpoint:    cfg.OTel.Endpoint,
		Insecure:    cfg.OTel.Insecure,
		SampleRatio: cfg.OTel.SampleRatio,
	})

	if err := a.connect(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) connect(ctx context.Context) error {
	cfg := a.Config

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN(), mysqlClient.PoolConfig{
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		ConnMaxLifetime: time.Duration(cfg.MySQL.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		return err
	}
	a.MySQL = mysqlDB
	if err := mysqlDB.AutoMigrate(&model.User{}, &model.Chat{}, &model.Message{}, &model.TurnAudit{}); err != nil {
		return fmt.Errorf("auto migrate tables failed: %w", err)
	}

	redisCli, err := redisClient.New(ctx, redisClient.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return err
	}
	a.Redis = redisCli

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.App.Name)
	if err != nil {
		return err
	}
	a.MQConn = mqConn
	return nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.Config

	userRepo := repository.NewUserRepository(a.MySQL)
	chatRepo := repository.NewChatRepository(a.MySQL)
	messageRepo := repository.NewMessageRepository(a.MySQL)
	auditRepo := repository.NewTurnAuditRepository(a.MySQL)
	txRunner := repository.NewTxRunner(a.MySQL)

	auditWorker := worker.NewTurnAuditWorker(a.MQConn, auditRepo, cfg.RabbitMQ.AuditQueue, a.Log)
	if err := auditWorker.Start(ctx); err != nil {
		return fmt.Errorf("start audit worker failed: %w", err)
	}
	a.AuditWorker = auditWorker

	generator, err := newGenerator(cfg)
	if err != nil {
		return err
	}

	historyCache := cache.NewHistoryCache(
		a.Redis,
		time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
		time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
	)

	a.Auth = app.NewAuthService(userRepo, cfg.Auth.JWTSecret, time.Duration(cfg.Auth.JWTExpireMinute)*time.Minute)
	a.Chats = app.NewChatService(chatRepo, messageRepo, auditRepo, txRunner, historyCache, a.Log)
	a.Turns = app.NewTurnOrchestrator(app.TurnDeps{
		Chats:    chatRepo,
		Messages: messageRepo,
		Tx:       txRunner,
		Triager: triage.NewClient(triage.Config{
			BaseURL: cfg.Triage.BaseURL,
			APIKey:  cfg.Triage.APIKey,
			Timeout: cfg.TriageTimeout(),
		}),
		Generator:    generator,
		Locker:       lock.NewChatLocker(a.Redis, cfg.LockTTL()),
		Publisher:    rabbitmqClient.NewAuditPublisher(a.MQConn, cfg.RabbitMQ.AuditQueue),
		HistoryCache: historyCache,
	}, app.TurnConfig{
		ContextWindow:     cfg.Turn.ContextWindow,
		TriageTimeout:     cfg.TriageTimeout(),
		GenerationTimeout: cfg.GenerationTimeout(),
	}, a.Log)
	return nil
}

func newGenerator(cfg *config.Config) (app.Generator, error) {
	chatCfg := ai.ChatConfig{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Model:   cfg.LLM.Model,
	}
	if cfg.LLM.Provider == "langchain" {
		gen, err := ai.NewLangchainGenerator(chatCfg)
		if err != nil {
			return nil, err
		}
		return gen, nil
	}
	return ai.NewTranscriptGenerator(ai.NewOpenAICompatibleClient(cfg.GenerationTimeout()), chatCfg), nil
}

func (a *App) Close() error {
	var closeErr error
	if a.AuditWorker != nil {
		a.AuditWorker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	}
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = errors.Join(closeErr, err)
			}
		}
	}
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil {
			closeErr = errors.Join(closeErr, err)
		}
	}
	if a.Log != nil {
		a.Log.Sync()
	}
	return closeErr
}
