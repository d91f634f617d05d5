package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zenlist/notifier/internal/api"
	"github.com/zenlist/notifier/internal/config"
	"github.com/zenlist/notifier/internal/email"
	"github.com/zenlist/notifier/internal/notification"
	"github.com/zenlist/notifier/internal/realtime"
	"github.com/zenlist/notifier/internal/sweep"
	"github.com/zenlist/notifier/internal/webpush"
	"github.com/zenlist/notifier/pkg/database"
	"github.com/zenlist/notifier/pkg/messaging"
	"github.com/zenlist/notifier/pkg/observability"
)

// app owns every long-lived service object. newApp builds them in dependency order and
// shutdown releases them in reverse.
type app struct {
	cfg    *config.Config
	logger *observability.Logger

	db     *sql.DB
	redis  *redis.Client
	rabbit *messaging.RabbitMQClient
	kafka  *messaging.KafkaConsumer

	hub        *realtime.Hub
	runner     *notification.Runner
	dispatcher *notification.Dispatcher
	worker     *notification.Worker
	scheduler  *sweep.Scheduler
	server     *http.Server

	// memTodos is set in memory mode, where todo events are the only source of todos.
	memTodos *sweep.MemoryTodoSource

	stopTracer func(context.Context) error
}

func newApp(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	stop, err := observability.InitTracer(ctx, observability.Config{
		ServiceName:    cfg.Service.Name,
		ServiceVersion: cfg.Service.Version,
		Endpoint:       cfg.Tracing.Endpoint,
		Environment:    cfg.Service.Environment,
		SampleRatio:    cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		logger.Warn("failed to init tracer", "error", err)
		stop = func(context.Context) error { return nil }
	}
	a.stopTracer = stop

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	var (
		store notification.Store
		subs  notification.SubscriptionStore
		todos sweep.TodoSource
	)
	if cfg.Database.DSN != "" {
		db, err := database.Connect(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.db = db
		if cfg.Database.Migrate {
			version, err := database.Migrate(db)
			if err != nil {
				return nil, fmt.Errorf("migrate database: %w", err)
			}
			logger.Info("schema migrated", "version", version)
		}
		store = notification.NewRepository(db)
		subs = notification.NewSubscriptionRepository(db)
		todos = sweep.NewPostgresTodoSource(db)
	} else {
		logger.Warn("database.dsn not set, notifications are kept in memory")
		store = notification.NewMemoryStore(nil)
		subs = notification.NewMemorySubscriptionStore(nil)
		a.memTodos = sweep.NewMemoryTodoSource()
		todos = a.memTodos
	}

	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis connection failed", "addr", cfg.Redis.Addr, "error", err)
		}
	}

	if cfg.RabbitMQ.URL != "" {
		rc := messaging.DefaultConfig()
		rc.URL = cfg.RabbitMQ.URL
		rc.Prefetch = cfg.RabbitMQ.Prefetch
		rc.Logger = logger.Logger
		client, err := messaging.NewRabbitMQClient(rc)
		if err != nil {
			logger.Warn("failed to connect to RabbitMQ, queue intake disabled", "error", err)
		} else {
			a.rabbit = client
		}
	}

	auth := api.Auth{
		JWTSecret:        cfg.Auth.JWTSecret,
		ServiceKeySecret: cfg.Auth.ServiceKeySecret,
		ServiceKeyHashes: cfg.Auth.ServiceKeyHashes,
	}
	a.hub = realtime.NewHub(realtime.Options{
		AllowedOrigins: cfg.Auth.AllowedOrigins,
		Authenticate:   auth.WebSocket(),
	}, logger.With("component", "realtime"))

	channels := notification.Channels{Realtime: a.hub}
	var pushSender *webpush.Sender
	if cfg.Push.PublicKey != "" {
		pushSender, err = webpush.New(webpush.Config{
			PublicKey:  cfg.Push.PublicKey,
			PrivateKey: cfg.Push.PrivateKey,
			Subject:    cfg.Push.Subject,
			TTL:        cfg.Push.TTL,
		}, logger.With("component", "webpush"))
		if err != nil {
			return nil, fmt.Errorf("web push: %w", err)
		}
		channels.Push = pushSender
	} else {
		logger.Warn("VAPID keys not set, push channel disabled")
	}

	// New logs a broken transport and falls back to a sender that skips.
	mail, _ := email.New(ctx, email.Config{
		Provider:     cfg.Email.Provider,
		From:         cfg.Email.From,
		RedirectTo:   cfg.Email.RedirectTo,
		ResendAPIKey: cfg.Email.ResendAPIKey,
		SMTP:         email.SMTPConfig(cfg.Email.SMTP),
	}, logger.With("component", "email"))
	if mail.Enabled() {
		channels.Email = mail
	}

	assets := notification.Assets{
		AppURL:   cfg.Assets.AppURL,
		IconURL:  cfg.Assets.IconURL,
		BadgeURL: cfg.Assets.BadgeURL,
	}
	a.runner = notification.NewRunner(logger.With("component", "tasks"), cfg.Dispatch.MaxInFlight, cfg.Dispatch.TaskTimeout)
	a.dispatcher = notification.NewDispatcher(store, subs, channels, logger.Logger,
		notification.WithRouter(notification.NewRouter(nil, assets, loc)),
		notification.WithPolicy(notification.Policy{
			RepeatCompletions: cfg.Dispatch.RepeatCompletions,
			ChannelTimeout:    cfg.Dispatch.ChannelTimeout,
		}),
		notification.WithRunner(a.runner),
	)

	var idem notification.IdempotencyStore
	if a.redis != nil {
		idem = a.redis
	}
	var workerOpts []notification.WorkerOption
	if a.memTodos != nil {
		workerOpts = append(workerOpts, notification.WithTodoObserver(a.memTodos.Apply))
	}
	a.worker = notification.NewWorker(a.dispatcher, idem, logger.With("component", "worker"), workerOpts...)

	opts := []sweep.Option{sweep.WithSubscriptions(subs)}
	if a.redis != nil {
		opts = append(opts, sweep.WithLocker(sweep.NewRedisLocker(a.redis)))
	}
	a.scheduler = sweep.New(todos, store, a.dispatcher, sweep.Config{
		Interval:            cfg.Sweep.Interval,
		CleanupHour:         cfg.Sweep.CleanupHour,
		Retention:           cfg.Sweep.Retention,
		SubscriptionMaxIdle: cfg.Sweep.SubscriptionMaxIdle,
		Location:            loc,
	}, logger.With("component", "sweep"), opts...)

	var push notification.PushDeliverer
	var vapidKey string
	if pushSender != nil {
		push = pushSender
		vapidKey = pushSender.PublicKey()
	}
	inbox := notification.NewInbox(store, subs, push, a.runner, assets, logger.Logger)

	srv := api.NewServer(api.Options{
		Inbox:          inbox,
		Dispatcher:     a.dispatcher,
		WebSocket:      a.hub,
		VAPIDPublicKey: vapidKey,
		Auth:           auth,
		Checks:         a.checks(),
		Version:        cfg.Service.Version,
	}, logger.With("component", "api"))
	a.server = &http.Server{
		Addr:              cfg.Service.HTTPAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func (a *app) checks() map[string]api.HealthCheck {
	checks := map[string]api.HealthCheck{}
	if a.db != nil {
		checks["database"] = a.db.PingContext
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	if a.rabbit != nil {
		checks["rabbitmq"] = func(context.Context) error {
			if !a.rabbit.IsHealthy() {
				return messaging.ErrNotConnected
			}
			return nil
		}
	}
	return checks
}

// run starts the consumers, the sweep and the HTTP server and blocks until ctx is done
// or the server fails.
func (a *app) run(ctx context.Context) error {
	if a.rabbit != nil {
		queue := a.cfg.RabbitMQ.Queue
		if _, err := a.rabbit.DeclareQueueWithDLQ(queue); err != nil {
			a.logger.Warn("failed to declare queue", "queue", queue, "error", err)
		}
		go func() {
			if err := a.rabbit.ConsumeWithContext(ctx, queue, a.worker.ProcessTask); err != nil {
				a.logger.Error("queue consumer stopped", "queue", queue, "error", err)
			}
		}()
		a.logger.Info("consuming dispatch queue", "queue", queue)
	}

	if len(a.cfg.Kafka.Brokers) > 0 {
		a.kafka = messaging.NewKafkaConsumer(a.cfg.Kafka.Brokers, a.cfg.Kafka.Topic, a.cfg.Kafka.Group, a.logger.Logger)
		go a.kafka.Consume(ctx, a.worker.ProcessTodoEvent)
		a.logger.Info("consuming todo events", "topic", a.cfg.Kafka.Topic)
	}

	switch {
	case !a.cfg.Sweep.Enabled:
	case a.memTodos != nil && a.kafka == nil:
		a.logger.Warn("sweep scheduler not started: memory mode without kafka has no todo source")
	default:
		a.scheduler.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("notifications service starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

// shutdown stops intake first, then drains in-flight deliveries, then closes connections.
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	if err := a.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sweep: %w", err))
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("kafka: %w", err))
		}
	}
	if a.rabbit != nil {
		a.rabbit.Close()
	}
	if err := a.runner.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.hub.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("realtime: %w", err))
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if err := a.stopTracer(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer: %w", err))
	}
	return errors.Join(errs...)
}
