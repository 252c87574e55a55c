package app

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	platformlogging "github.com/SignumGusik/KPO/platform/logging"
	platformobservability "github.com/SignumGusik/KPO/platform/observability"
	"github.com/SignumGusik/KPO/platform/outbox"
	"github.com/SignumGusik/KPO/platform/rabbitmq"
	platformshutdown "github.com/SignumGusik/KPO/platform/shutdown"
	httpapi "github.com/SignumGusik/KPO/services/order/internal/api/http"
	"github.com/SignumGusik/KPO/services/order/internal/config"
	"github.com/SignumGusik/KPO/services/order/internal/event/rabbit"
	"github.com/SignumGusik/KPO/services/order/internal/repository/postgres"
	"github.com/SignumGusik/KPO/services/order/internal/service"
	"github.com/SignumGusik/KPO/services/order/internal/ws"
	"github.com/SignumGusik/KPO/services/order/migrations"
)

// App содержит все зависимости для запуска и корректного shutdown Order Service
type App struct {
	logger      *zap.Logger
	httpServer  *http.Server
	relay       *outbox.Relay
	consumer    *rabbitmq.Consumer
	shutdownMgr *platformshutdown.Manager
	bgCancel    context.CancelFunc
	bgWg        *sync.WaitGroup
	wg          sync.WaitGroup
}

// Build создаёт и настраивает все зависимости Order Service
func Build(cfg config.Config) (*App, error) {
	const op = "app.Build"

	// Создаём logger
	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: "order",
		Env:         string(cfg.AppEnv),
		Level:       os.Getenv("LOG_LEVEL"),
		Format:      os.Getenv("LOG_FORMAT"),
	})
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("op", op))
	logger.Info("Building Order service", zap.String("http_addr", cfg.HTTPAddr))

	// OpenTelemetry
	otelCfg := platformobservability.Config{
		Enabled:               cfg.OTelEnabled,
		OTLPEndpoint:          cfg.OTelEndpoint,
		SamplingRatio:         cfg.OTelSamplingRatio,
		ServiceName:           "order",
		DeploymentEnvironment: string(cfg.AppEnv),
	}
	otelShutdown, err := platformobservability.Init(context.Background(), otelCfg)
	if err != nil {
		return nil, err
	}

	// Применяем миграции (встроены в бинарник)
	logger.Info("Applying database migrations")
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return nil, err
	}
	db, err := goose.OpenDBWithDriver("pgx", cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := goose.Up(db, "."); err != nil {
		db.Close()
		return nil, err
	}
	db.Close()
	logger.Info("Database migrations applied successfully")

	// Подключаемся к PostgreSQL
	logger.Info("Connecting to PostgreSQL")
	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	// Проверяем подключение к PostgreSQL
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("PostgreSQL connection established")

	// Функция readiness для health check
	readiness := func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return pool.Ping(ctx) == nil
	}
	logger.Info("Readiness check enabled")

	// Создаём PostgreSQL репозиторий (он же outbox.Store)
	orderRepo := postgres.NewRepository(pool)

	// WebSocket hub для live-обновлений статусов
	hub := ws.NewHub(logger)

	// Создаем service слой с зависимостями
	orderService := service.NewOrderService(logger, orderRepo, hub)

	// RabbitMQ: publisher для outbox релея и consumer результатов оплаты
	mqCfg, err := rabbitmq.LoadEnv()
	if err != nil {
		pool.Close()
		return nil, err
	}
	mqCfg.URL = cfg.RabbitMQURL

	publisher := rabbitmq.NewPublisher(logger, mqCfg)
	relay := outbox.NewRelay(logger, orderRepo, publisher, cfg.OutboxBatchSize, cfg.OutboxInterval)
	consumer := rabbit.NewPaymentResultConsumer(logger, mqCfg, orderService)

	// Создаем HTTP handler
	handler := httpapi.NewHandler(logger, orderService)
	wsHandler := ws.NewHandler(logger, hub)

	// Настраиваем роутер
	router := httpapi.NewRouter(handler, wsHandler, readiness, logger)

	// Создаём HTTP сервер
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Контекст фоновых циклов (релей + consumer)
	bgCtx, bgCancel := context.WithCancel(context.Background())
	bgWg := &sync.WaitGroup{}

	// Создаём shutdown manager
	shutdownMgr := platformshutdown.New(cfg.ShutdownTimeout, logger)

	// Регистрируем shutdown функции в обратном порядке выполнения
	shutdownMgr.Add("otel", otelShutdown)
	shutdownMgr.Add("postgres_pool", platformshutdown.ClosePool(pool))
	shutdownMgr.Add("rabbitmq_publisher", func(ctx context.Context) error {
		return publisher.Close()
	})
	shutdownMgr.Add("background_loops", platformshutdown.StopLoops(bgCancel, bgWg))
	shutdownMgr.Add("http_server", platformshutdown.ShutdownHTTPServer(httpServer))

	app := &App{
		logger:      logger,
		httpServer:  httpServer,
		relay:       relay,
		consumer:    consumer,
		shutdownMgr: shutdownMgr,
		bgCancel:    bgCancel,
		bgWg:        bgWg,
	}
	app.startBackground(bgCtx)
	return app, nil
}

// startBackground запускает outbox релей и consumer результатов оплаты
func (a *App) startBackground(ctx context.Context) {
	a.bgWg.Add(1)
	go func() {
		defer a.bgWg.Done()
		if err := a.relay.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("Outbox relay stopped with error", zap.Error(err))
		}
	}()

	a.bgWg.Add(1)
	go func() {
		defer a.bgWg.Done()
		if err := a.consumer.Run(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("Payment result consumer stopped with error", zap.Error(err))
		}
	}()
}

// Run запускает сервис и блокируется до получения сигнала shutdown
func (a *App) Run() error {
	defer platformlogging.Sync(a.logger)

	a.logger.Info("Starting Order service", zap.String("addr", a.httpServer.Addr))
	a.logger.Info("Health check available", zap.String("url", "http://"+a.httpServer.Addr+"/health"))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Ожидаем сигнал и выполняем shutdown
	a.shutdownMgr.Wait()

	a.wg.Wait()
	a.logger.Info("Order service stopped")
	return nil
}
